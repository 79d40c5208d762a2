package config

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks struct tags first, then the rules tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

func validateCustomRules(cfg *Config) error {
	seen := make(map[string]bool)
	for i, mount := range cfg.FileShareMounts {
		clean := filepath.Clean(mount)
		if seen[clean] {
			return fmt.Errorf("file_share_mounts[%d]: duplicate mount %q", i, mount)
		}
		seen[clean] = true
	}

	if !cfg.StaticMode() && cfg.Confluence.URL == "" {
		return errors.New("confluence: url is required when file_share_mounts is empty")
	}
	if cfg.Confluence.URL != "" && cfg.Confluence.Token == "" {
		return errors.New("confluence: token is required when url is set")
	}
	return nil
}

func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
