package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/marmos91/agentfs/pkg/store/block"
	"github.com/marmos91/agentfs/pkg/store/block/blocktest"
)

func TestConformance(t *testing.T) {
	blocktest.RunConformanceSuite(t, func(t *testing.T) block.Store {
		s := New()
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestStore_Counters(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()

	_ = s.Put(ctx, "a", []byte("12345"))
	_ = s.Put(ctx, "b", []byte("123"))

	if got := s.ObjectCount(); got != 2 {
		t.Errorf("ObjectCount() = %d, want 2", got)
	}
	if got := s.TotalSize(); got != 8 {
		t.Errorf("TotalSize() = %d, want 8", got)
	}
}

func TestStore_Closed(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.Close()

	if err := s.Put(ctx, "a", nil); !errors.Is(err, block.ErrStoreClosed) {
		t.Errorf("Put after Close returned %v, want %v", err, block.ErrStoreClosed)
	}
	if _, err := s.Get(ctx, "a"); !errors.Is(err, block.ErrStoreClosed) {
		t.Errorf("Get after Close returned %v, want %v", err, block.ErrStoreClosed)
	}
	if err := s.HealthCheck(ctx); !errors.Is(err, block.ErrStoreClosed) {
		t.Errorf("HealthCheck after Close returned %v, want %v", err, block.ErrStoreClosed)
	}
}
