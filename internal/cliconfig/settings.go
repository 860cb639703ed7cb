package cliconfig

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/KafClaw/wagate/internal/config"
)

// ErrPathNotFound is returned by Get and Unset for paths with no value.
var ErrPathNotFound = errors.New("config path not found")

// segment is one step of a settings path: an object key or an array index.
type segment struct {
	key   string
	index int
	isIdx bool
}

// Get returns the effective value at path (e.g. "gateway.allowedKeys[0]"),
// after defaults and environment overrides are applied.
func Get(path string) (any, error) {
	segs, err := parseSettingsPath(path)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	tree, err := toTree(cfg)
	if err != nil {
		return nil, err
	}
	v, ok := lookup(tree, segs)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPathNotFound, path)
	}
	return v, nil
}

// Set writes raw (JSON, or a bare string) at path in the config file. The
// edited file must still decode into the config schema.
func Set(path, raw string) error {
	segs, err := parseSettingsPath(path)
	if err != nil {
		return err
	}
	tree, cfgPath, err := readConfigTree()
	if err != nil {
		return err
	}
	updated, ok := assign(tree, segs, decodeRaw(raw)).(map[string]any)
	if !ok {
		return fmt.Errorf("config root must be an object")
	}
	return writeConfigTree(cfgPath, updated)
}

// Unset removes the value at path from the config file.
func Unset(path string) error {
	segs, err := parseSettingsPath(path)
	if err != nil {
		return err
	}
	tree, cfgPath, err := readConfigTree()
	if err != nil {
		return err
	}
	updated, removed := remove(tree, segs)
	if !removed {
		return fmt.Errorf("%w: %s", ErrPathNotFound, path)
	}
	return writeConfigTree(cfgPath, updated.(map[string]any))
}

func toTree(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func readConfigTree() (map[string]any, string, error) {
	cfgPath, err := config.ConfigPath()
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(cfgPath)
	switch {
	case os.IsNotExist(err):
		return map[string]any{}, cfgPath, nil
	case err != nil:
		return nil, "", err
	}
	var tree map[string]any
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, "", fmt.Errorf("parse %s: %w", cfgPath, err)
	}
	if tree == nil {
		tree = map[string]any{}
	}
	return tree, cfgPath, nil
}

func writeConfigTree(cfgPath string, tree map[string]any) error {
	data, err := json.MarshalIndent(tree, "", "  ")
	if err != nil {
		return err
	}
	if err := validateTree(data); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(cfgPath), 0o700); err != nil {
		return err
	}
	return os.WriteFile(cfgPath, data, 0o600)
}

// validateTree rejects unknown keys and values of the wrong type. The
// include directive is handled by the loader and skipped here.
func validateTree(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	delete(fields, "$include")
	stripped, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(stripped))
	dec.DisallowUnknownFields()
	var cfg config.Config
	if err := dec.Decode(&cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func parseSettingsPath(path string) ([]segment, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, fmt.Errorf("path is empty")
	}
	var segs []segment
	for _, part := range strings.Split(p, ".") {
		name, rest, _ := strings.Cut(part, "[")
		if name = strings.TrimSpace(name); name != "" {
			segs = append(segs, segment{key: name})
		}
		if rest == "" {
			continue
		}
		for _, idx := range strings.Split("["+rest, "[")[1:] {
			raw, tail, ok := strings.Cut(idx, "]")
			if !ok || strings.TrimSpace(tail) != "" {
				return nil, fmt.Errorf("invalid path %q: malformed index", path)
			}
			n, err := strconv.Atoi(strings.TrimSpace(raw))
			if err != nil || n < 0 {
				return nil, fmt.Errorf("invalid path %q: bad index %q", path, raw)
			}
			segs = append(segs, segment{index: n, isIdx: true})
		}
	}
	if len(segs) == 0 {
		return nil, fmt.Errorf("path is empty")
	}
	return segs, nil
}

func decodeRaw(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

func lookup(node any, segs []segment) (any, bool) {
	for _, s := range segs {
		if s.isIdx {
			arr, ok := node.([]any)
			if !ok || s.index >= len(arr) {
				return nil, false
			}
			node = arr[s.index]
			continue
		}
		obj, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		if node, ok = obj[s.key]; !ok {
			return nil, false
		}
	}
	return node, true
}

// assign returns node with value placed at segs, creating intermediate
// objects and growing arrays as needed.
func assign(node any, segs []segment, value any) any {
	if len(segs) == 0 {
		return value
	}
	s := segs[0]
	if s.isIdx {
		arr, _ := node.([]any)
		for len(arr) <= s.index {
			arr = append(arr, nil)
		}
		arr[s.index] = assign(arr[s.index], segs[1:], value)
		return arr
	}
	obj, ok := node.(map[string]any)
	if !ok {
		obj = map[string]any{}
	}
	obj[s.key] = assign(obj[s.key], segs[1:], value)
	return obj
}

func remove(node any, segs []segment) (any, bool) {
	s := segs[0]
	last := len(segs) == 1
	if s.isIdx {
		arr, ok := node.([]any)
		if !ok || s.index >= len(arr) {
			return node, false
		}
		if last {
			return append(arr[:s.index], arr[s.index+1:]...), true
		}
		child, ok := remove(arr[s.index], segs[1:])
		if ok {
			arr[s.index] = child
		}
		return arr, ok
	}
	obj, ok := node.(map[string]any)
	if !ok {
		return node, false
	}
	cur, ok := obj[s.key]
	if !ok {
		return node, false
	}
	if last {
		delete(obj, s.key)
		return obj, true
	}
	child, ok := remove(cur, segs[1:])
	if ok {
		obj[s.key] = child
	}
	return obj, ok
}
