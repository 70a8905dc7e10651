package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadEnvFile reads a YAML map of environment overrides, e.g.:
//
//	TEST_DATA_DIR: /srv/fixtures
//	LOG_LEVEL: debug
//
// Entries from the -env flag take precedence over file entries;
// MergeEnv applies that precedence.
func LoadEnvFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read env file %s: %w", path, err)
	}

	env := make(map[string]string)
	if err := yaml.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parse env file %s: %w", path, err)
	}

	return env, nil
}

// MergeEnv combines env-file entries with explicit KEY=VALUE flag entries.
// Flag entries win on conflict. Malformed flag entries are skipped; Validate
// rejects them before this runs.
func MergeEnv(fromFile map[string]string, flagEntries []string) map[string]string {
	merged := make(map[string]string, len(fromFile)+len(flagEntries))
	for k, v := range fromFile {
		merged[k] = v
	}
	for _, kv := range flagEntries {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				merged[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return merged
}
