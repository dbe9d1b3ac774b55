package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// EnvSource reads the process environment, optionally preceded by dotenv
// files. A double underscore in a variable name separates key segments
// (Kafka__Brokers becomes Kafka.Brokers).
type EnvSource struct {
	// Prefix restricts the layer to variables starting with it; the prefix
	// is stripped from the key.
	Prefix string
	// DotenvFiles are read in order before the environment; missing files
	// are skipped. The process environment is not modified.
	DotenvFiles []string

	environ func() []string
}

// Name implements Source.
func (e *EnvSource) Name() string { return "env" }

// Load implements Source.
func (e *EnvSource) Load(_ context.Context) (map[string]string, error) {
	out := make(map[string]string)

	for _, file := range e.DotenvFiles {
		values, err := godotenv.Read(file)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("read dotenv %s: %w", file, err)
		}
		for k, v := range values {
			e.add(out, k, v)
		}
	}

	environ := e.environ
	if environ == nil {
		environ = os.Environ
	}
	for _, kv := range environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		e.add(out, k, v)
	}
	return out, nil
}

func (e *EnvSource) add(out map[string]string, name, value string) {
	if e.Prefix != "" {
		if !strings.HasPrefix(name, e.Prefix) {
			return
		}
		name = strings.TrimPrefix(name, e.Prefix)
	}
	if name == "" {
		return
	}
	out[strings.ReplaceAll(name, "__", ".")] = value
}
