package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// includeKey names files merged underneath the including file. Later
// includes override earlier ones; the including file overrides all.
const includeKey = "$include"

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// readLayered reads path, resolves includes and ${VAR} references, and
// returns the merged document as JSON.
func readLayered(path string) ([]byte, error) {
	r := layerReader{open: map[string]bool{}}
	doc, err := r.read(path)
	if err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

type layerReader struct {
	// open holds the files on the current include chain.
	open map[string]bool
}

func (r *layerReader) read(path string) (map[string]any, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if r.open[abs] {
		return nil, fmt.Errorf("config include cycle detected at %s", abs)
	}
	r.open[abs] = true
	defer delete(r.open, abs)

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	doc := map[string]any{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = map[string]any{}
	}

	includes, err := includeList(doc[includeKey])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", abs, err)
	}
	delete(doc, includeKey)

	base := map[string]any{}
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(abs), inc)
		}
		layer, err := r.read(inc)
		if err != nil {
			return nil, err
		}
		overlay(base, layer)
	}
	overlay(base, expandEnv(doc).(map[string]any))
	return base, nil
}

func includeList(v any) ([]string, error) {
	var raw []any
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		raw = []any{t}
	case []any:
		raw = t
	default:
		return nil, errors.New("$include must be a string or array of strings")
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, errors.New("$include entries must be strings")
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

// overlay merges src into dst. Objects merge key by key; any other value
// in src replaces the one in dst.
func overlay(dst, src map[string]any) {
	for k, v := range src {
		child, ok := v.(map[string]any)
		if !ok {
			dst[k] = v
			continue
		}
		target, ok := dst[k].(map[string]any)
		if !ok {
			target = map[string]any{}
			dst[k] = target
		}
		overlay(target, child)
	}
}

// expandEnv replaces ${VAR} in every string value. Unset variables are
// left as written.
func expandEnv(v any) any {
	switch t := v.(type) {
	case string:
		return envRef.ReplaceAllStringFunc(t, func(ref string) string {
			if val, ok := os.LookupEnv(ref[2 : len(ref)-1]); ok {
				return val
			}
			return ref
		})
	case map[string]any:
		for k, item := range t {
			t[k] = expandEnv(item)
		}
	case []any:
		for i, item := range t {
			t[i] = expandEnv(item)
		}
	}
	return v
}
