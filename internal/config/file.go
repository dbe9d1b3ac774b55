package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// FileSource reads a YAML or JSON settings file. Nested mappings are
// flattened into dotted keys and sequence elements are indexed ("a.0").
type FileSource struct {
	Path string
	// Optional treats a missing file as an empty layer.
	Optional bool
}

// Name implements Source.
func (f *FileSource) Name() string { return "file:" + f.Path }

// Load implements Source.
func (f *FileSource) Load(_ context.Context) (map[string]string, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if f.Optional && errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("read file: %w", err)
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", f.Path, err)
	}

	out := make(map[string]string)
	if doc == nil {
		return out, nil
	}
	switch doc.(type) {
	case map[string]any, map[any]any:
	default:
		return nil, fmt.Errorf("parse %s: top level must be a mapping", f.Path)
	}
	flatten("", doc, out)
	return out, nil
}

func flatten(prefix string, v any, out map[string]string) {
	switch val := v.(type) {
	case map[string]any:
		for k, child := range val {
			flatten(join(prefix, k), child, out)
		}
	case map[any]any:
		// yaml.v3 uses this shape when any key in the mapping is not a string.
		for k, child := range val {
			flatten(join(prefix, fmt.Sprint(k)), child, out)
		}
	case []any:
		for i, child := range val {
			flatten(join(prefix, strconv.Itoa(i)), child, out)
		}
	case nil:
		out[prefix] = ""
	default:
		out[prefix] = fmt.Sprint(val)
	}
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
