package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate enforces struct tag rules plus the rules tags cannot express.
func (c Config) Validate() error {
	c.Fetch.StrictHostKeyChecking = strings.ToLower(c.Fetch.StrictHostKeyChecking)
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(c)
}

func validateCustomRules(c Config) error {
	for i, cred := range c.Credentials {
		if _, err := regexp.Compile(cred.Pattern); err != nil {
			return fmt.Errorf("credentials[%d]: pattern %q does not compile: %w", i, cred.Pattern, err)
		}
		if cred.PrivateKey != "" && cred.PrivateKeyFile != "" {
			return fmt.Errorf("credentials[%d]: set private_key or private_key_file, not both", i)
		}
	}
	for mimeType := range c.Limits.MIME {
		if !strings.Contains(mimeType, "/") {
			return fmt.Errorf("limits.mime: %q is not a media type", mimeType)
		}
	}
	if c.StrictHostKeys() && c.Fetch.KnownHostsFile == "" {
		return fmt.Errorf("fetch.known_hosts_file must be set when strict_host_key_checking is yes")
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
	return fmt.Errorf("validate config: %w", err)
}
