package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.yaml.in/yaml/v3"
)

//go:embed schema.json
var schemaJSON string

var compileSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	return jsonschema.CompileString("blurb.schema.json", schemaJSON)
})

// LoadAndValidate reads the YAML file at path, validates it against the
// embedded schema and applies it on top of Default. Secret fields may refer
// to environment variables as ${NAME}.
func LoadAndValidate(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse is LoadAndValidate for an in-memory document.
func Parse(data []byte) (*Config, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	schema, err := compileSchema()
	if err != nil {
		return nil, fmt.Errorf("config: failed to compile schema: %w", err)
	}

	// An empty document decodes to nil and is the default config.
	if raw != nil {
		if err := schema.Validate(raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal into Config struct: %w", err)
	}
	cfg.expandSecrets()
	return cfg, nil
}

func (c *Config) expandSecrets() {
	for _, s := range []*string{
		&c.Backend.HuggingFace.Token,
		&c.Backend.OpenAI.APIKey,
		&c.Backend.AMQP.URL,
		&c.Cache.Redis.Password,
	} {
		*s = expandEnv(*s)
	}
}

// expandEnv replaces a value of the exact form ${NAME} with the variable's
// value. Other values are returned untouched so literal dollar signs survive.
func expandEnv(s string) string {
	if !strings.HasPrefix(s, "${") || !strings.HasSuffix(s, "}") {
		return s
	}
	return os.Getenv(strings.TrimSuffix(strings.TrimPrefix(s, "${"), "}"))
}
