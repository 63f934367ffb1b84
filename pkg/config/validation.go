package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	fserrors "github.com/marmos91/agentfs/pkg/vfs/errors"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Struct tags always compile, so registration cannot fail.
		_ = validate.RegisterValidation("filemode", func(fl validator.FieldLevel) bool {
			_, err := ParseMode(fl.Field().String())
			return err == nil
		})
	})
	return validate
}

// ParseMode parses an octal permission string ("0755", "1777") into mode
// bits, rejecting anything outside 07777.
func ParseMode(s string) (uint32, error) {
	m, err := strconv.ParseUint(strings.TrimPrefix(s, "0o"), 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid mode %q: %w", s, err)
	}
	if m > 0o7777 {
		return 0, fmt.Errorf("invalid mode %q: only permission bits are allowed", s)
	}
	return uint32(m), nil
}

// Validate checks struct tags and the cross-field rules tags cannot
// express.
func Validate(cfg *Config) error {
	if err := getValidator().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return formatValidationErrors(verrs)
		}
		return err
	}

	if err := validateStorage(&cfg.Storage); err != nil {
		return err
	}
	for i, r := range cfg.Faults.Rules {
		if _, ok := fserrors.ParseCode(r.Error); !ok {
			return fmt.Errorf("faults.rules[%d].error: unknown error kind %q", i, r.Error)
		}
	}
	return nil
}

func validateStorage(cfg *StorageConfig) error {
	switch cfg.Type {
	case "hostfs":
		if cfg.HostFS.Path == "" {
			return errors.New("storage.hostfs.path is required for the hostfs backend")
		}
	case "badger":
		if cfg.Badger.Path == "" && !cfg.Badger.InMemory {
			return errors.New("storage.badger.path is required unless in_memory is set")
		}
		if cfg.Badger.ChunkSize > 64*1024*1024 {
			return fmt.Errorf("storage.badger.chunk_size %s exceeds 64Mi", cfg.Badger.ChunkSize)
		}
	case "tiered":
		switch cfg.Tiered.Spill.Type {
		case "fs":
			if cfg.Tiered.Spill.FS.Path == "" {
				return errors.New("storage.tiered.spill.fs.path is required for the fs spill store")
			}
		case "s3":
			if cfg.Tiered.Spill.S3.Bucket == "" {
				return errors.New("storage.tiered.spill.s3.bucket is required for the s3 spill store")
			}
		}
	}
	return nil
}

// formatValidationErrors names each failing field by its config path and
// the violated tag, e.g. "Logging.Level (oneof=...)".
func formatValidationErrors(verrs validator.ValidationErrors) error {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s (got %v)", field, fe.Tag(), fe.Value()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
