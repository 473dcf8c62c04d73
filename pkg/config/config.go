package config

import (
	"bytes"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:([^}]*))?\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// Load reads the YAML config file at path and decodes it into conf.
//
// If expandEnv is true, references to ${VAR} or $VAR in the file are
// replaced with the corresponding environment variable before parsing.
// References to undefined variables are replaced with an empty string,
// unless a default is given using the form ${VAR:default}.
func Load(path string, conf interface{}, expandEnv bool) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %s: %w", path, err)
	}

	if expandEnv {
		buf = []byte(expandEnvWithDefault(string(buf)))
	}

	dec := yaml.NewDecoder(bytes.NewReader(buf))
	dec.KnownFields(true)

	if err := dec.Decode(conf); err != nil {
		return fmt.Errorf("parse config: %s: %w", path, err)
	}

	return nil
}

func expandEnvWithDefault(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name := groups[1]
		def := groups[3]
		if name == "" {
			name = groups[4]
		}
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return def
	})
}
