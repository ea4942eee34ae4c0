package config

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/a8m/envsubst"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
)

// Read reads a config from the given file. Environment variables referenced as ${VAR} are
// substituted before parsing.
func Read(filePath string) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	return FromReader(filePath, bytes.NewReader(buf))
}

// FromReader reads a config from the given reader and specifies
// where, if applicable, the file the reader originated from. Fields absent from the input keep
// their Default values; unknown fields are rejected.
func FromReader(originalPath string, r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "cannot read config")
	}
	raw, err = envsubst.Bytes(raw)
	if err != nil {
		return nil, errors.Wrap(err, "cannot substitute environment variables")
	}

	cfg := Default()
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, errors.Wrap(err, "cannot unmarshal config")
	}
	cfg.ConfigFilePath = originalPath

	if err := cfg.Validate(""); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromAttributes builds a config from loosely typed key/value attributes, such as flags collected
// by the CLI. Values are weakly typed, so "0.02" decodes into a float field.
func FromAttributes(attributes map[string]interface{}) (*Config, error) {
	cfg := Default()
	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           cfg,
		Metadata:         &md,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(attributes); err != nil {
		return nil, errors.Wrap(err, "cannot decode attributes")
	}
	if err := cfg.Validate(""); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Merge returns a copy of c with the given attributes applied on top.
func (c *Config) Merge(attributes map[string]interface{}) (*Config, error) {
	merged := *c
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &merged,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(attributes); err != nil {
		return nil, errors.Wrap(err, "cannot decode attributes")
	}
	if err := merged.Validate(""); err != nil {
		return nil, err
	}
	return &merged, nil
}
