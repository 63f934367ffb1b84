//go:build integration

package s3

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/marmos91/agentfs/pkg/store/block"
	"github.com/marmos91/agentfs/pkg/store/block/blocktest"
)

// createTestClient creates an S3 client for testing.
// Uses LOCALSTACK_ENDPOINT environment variable if set,
// otherwise defaults to localhost:4566.
func createTestClient(t *testing.T) *s3.Client {
	t.Helper()

	endpoint := os.Getenv("LOCALSTACK_ENDPOINT")
	if endpoint == "" {
		endpoint = "http://localhost:4566"
	}

	cfg, err := awsConfig.LoadDefaultConfig(context.Background(),
		awsConfig.WithRegion("us-east-1"),
		awsConfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			"test", "test", "",
		)),
	)
	if err != nil {
		t.Fatalf("Failed to load AWS config: %v", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = &endpoint
		o.UsePathStyle = true
	})
}

// createTestBucket creates a bucket and registers its cleanup.
func createTestBucket(t *testing.T, client *s3.Client) string {
	t.Helper()

	ctx := context.Background()
	name := "agentfs-" + strings.ToLower(strings.NewReplacer("/", "-", "_", "-").Replace(t.Name()))
	if len(name) > 63 {
		name = name[:63]
	}

	if _, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(name)}); err != nil {
		t.Fatalf("Failed to create bucket: %v", err)
	}

	t.Cleanup(func() {
		listResp, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{Bucket: aws.String(name)})
		if err == nil && listResp != nil {
			for _, obj := range listResp.Contents {
				_, _ = client.DeleteObject(ctx, &s3.DeleteObjectInput{
					Bucket: aws.String(name),
					Key:    obj.Key,
				})
			}
		}
		_, _ = client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(name)})
	})
	return name
}

func TestConformance(t *testing.T) {
	client := createTestClient(t)
	blocktest.RunConformanceSuite(t, func(t *testing.T) block.Store {
		bucket := createTestBucket(t, client)
		s := New(client, Config{Bucket: bucket, KeyPrefix: "agentfs/"})
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestStore_KeyPrefix(t *testing.T) {
	ctx := context.Background()
	client := createTestClient(t)
	bucket := createTestBucket(t, client)

	s := New(client, Config{Bucket: bucket, KeyPrefix: "prefix/"})
	defer s.Close()

	if err := s.Put(ctx, "streams/a", []byte("data")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// The raw object carries the prefix.
	if _, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String("prefix/streams/a"),
	}); err != nil {
		t.Fatalf("HeadObject with prefix failed: %v", err)
	}

	keys, err := s.List(ctx, "streams/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(keys) != 1 || keys[0] != "streams/a" {
		t.Errorf("List returned %v, want [streams/a]", keys)
	}
}
