package config

import "errors"

// Error definitions for the config package.
var (
	ErrInvalidYAML = errors.New("config: invalid YAML")
	ErrValidation  = errors.New("config: validation failed")
)
