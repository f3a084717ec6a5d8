package secrets

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// EnvLoader returns a Loader that reads the specified environment variables.
// Missing variables are silently omitted from the result map.
func EnvLoader(keys ...string) Loader {
	return func() (map[string]string, error) {
		vals := make(map[string]string, len(keys))
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				vals[k] = v
			}
		}
		return vals, nil
	}
}

// FileLoader returns a Loader that reads one file per key from dir, the
// layout used by mounted container secrets. A missing directory or file is
// not an error. Trailing newlines are trimmed.
func FileLoader(dir string, keys ...string) Loader {
	return func() (map[string]string, error) {
		vals := make(map[string]string, len(keys))
		if dir == "" {
			return vals, nil
		}
		for _, k := range keys {
			data, err := os.ReadFile(filepath.Join(dir, k))
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("read secret %s: %w", k, err)
			}
			if v := strings.TrimRight(string(data), "\r\n"); v != "" {
				vals[k] = v
			}
		}
		return vals, nil
	}
}

// Chain merges loaders in order; later loaders override earlier ones.
func Chain(loaders ...Loader) Loader {
	return func() (map[string]string, error) {
		vals := make(map[string]string)
		for _, l := range loaders {
			m, err := l()
			if err != nil {
				return nil, err
			}
			for k, v := range m {
				vals[k] = v
			}
		}
		return vals, nil
	}
}
