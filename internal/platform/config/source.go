package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// source answers lookups from the explicit env map, then the process environment, then the
// dotenv file. Values that fail to parse are remembered so Load can report them.
type source struct {
	layers    []map[string]string
	system    bool
	malformed []string
}

func newSource(o loaderOptions) (*source, error) {
	dotenv, err := readDotEnv(o.envFile)
	if err != nil {
		return nil, err
	}
	return &source{layers: []map[string]string{o.envMap, dotenv}, system: o.useSystemEnv}, nil
}

func (s *source) lookup(key string) (string, bool) {
	if value, ok := s.layers[0][key]; ok {
		return value, true
	}
	if s.system {
		if value, ok := os.LookupEnv(key); ok {
			return value, true
		}
	}
	value, ok := s.layers[1][key]
	return value, ok
}

func (s *source) raw(key string) string {
	value, _ := s.lookup(key)
	return strings.TrimSpace(value)
}

func (s *source) str(key, fallback string) string {
	if value := s.raw(key); value != "" {
		return value
	}
	return fallback
}

func (s *source) lower(key, fallback string) string {
	return strings.ToLower(s.str(key, fallback))
}

func (s *source) duration(key string, fallback time.Duration) time.Duration {
	value := s.raw(key)
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		s.malformed = append(s.malformed, key)
		return fallback
	}
	return d
}

func (s *source) integer(key string, fallback int) int {
	value := s.raw(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		s.malformed = append(s.malformed, key)
		return fallback
	}
	return n
}

func (s *source) boolean(key string, fallback bool) bool {
	value := s.raw(key)
	if value == "" {
		return fallback
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		s.malformed = append(s.malformed, key)
		return fallback
	}
	return b
}

// snapshot flattens the layers with the same precedence as lookup.
func (s *source) snapshot() map[string]string {
	out := maps.Clone(s.layers[1])
	if out == nil {
		out = make(map[string]string)
	}
	if s.system {
		for _, entry := range os.Environ() {
			if key, value, ok := strings.Cut(entry, "="); ok && strings.TrimSpace(key) != "" {
				out[key] = value
			}
		}
	}
	maps.Copy(out, s.layers[0])
	return out
}

// readDotEnv parses path with godotenv. A blank path or missing file yields no values.
func readDotEnv(path string) (map[string]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return values, nil
}
