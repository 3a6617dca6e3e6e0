package config

import (
	"fmt"
)

// KeyInfo is one row of `whatson config show`.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

// ShowAll lists every non-secret setting with its effective value.
func ShowAll(cfg Config) []KeyInfo {
	var out []KeyInfo
	for _, s := range settings {
		if !s.secret {
			out = append(out, KeyInfo{Key: s.key, EnvVar: s.env(), Value: s.value(cfg)})
		}
	}
	return out
}

// SetKey validates value for key and persists it to the config file.
func SetKey(key, value string) error {
	return setKeyWith(newFileBackend(FilePath()), key, value)
}

func setKeyWith(b ConfigBackend, key, value string) error {
	s, ok := lookupSetting(key)
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}
	if s.secret {
		return fmt.Errorf("%s is a secret; set it with the %s environment variable", key, s.env())
	}
	// Parse into a scratch config so bad input never reaches the file.
	scratch := defaults()
	if err := s.assign(&scratch, value); err != nil {
		return err
	}
	return b.Set(key, value)
}

// ValidKeys lists the settings `whatson config set` accepts.
func ValidKeys() []string {
	var keys []string
	for _, s := range settings {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	return keys
}
