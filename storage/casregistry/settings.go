package casregistry

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Settings holds backend options keyed like their flags.
type Settings map[string]string

func (s Settings) String(key string) string { return strings.TrimSpace(s[key]) }

// Duration parses key; an empty value is zero.
func (s Settings) Duration(key string) (time.Duration, error) {
	v := s.String(key)
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("--%s: %w", key, err)
	}
	return d, nil
}

// Int parses key; an empty value is zero.
func (s Settings) Int(key string) (int, error) {
	v := s.String(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("--%s: %w", key, err)
	}
	return n, nil
}

// Merge returns s overlaid with over.
func (s Settings) Merge(over Settings) Settings {
	out := make(Settings, len(s)+len(over))
	for k, v := range s {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

func (s Settings) withDefaults(defs []Setting) Settings {
	out := s.Merge(nil)
	for _, d := range defs {
		if _, ok := out[d.Key]; !ok && d.Default != "" {
			out[d.Key] = d.Default
		}
	}
	return out
}
