package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// GetByPath retrieves a config value by dot-notation path (e.g. "webhook.url").
func GetByPath(cfg *Config, path string) (any, error) {
	m, err := toMap(cfg)
	if err != nil {
		return nil, err
	}

	var current any = m
	for _, key := range strings.Split(path, ".") {
		v, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("cannot traverse into %T at %s", current, key)
		}
		val, ok := v[key]
		if !ok {
			return nil, fmt.Errorf("key not found: %s", path)
		}
		current = val
	}
	return current, nil
}

// SetByPath sets a leaf value by dot-notation path. Only keys that already
// exist in the config can be set.
func SetByPath(cfg *Config, path string, value any) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}
	m, err := toMap(cfg)
	if err != nil {
		return err
	}

	parts := strings.Split(path, ".")
	parent := m
	for _, key := range parts[:len(parts)-1] {
		child, ok := parent[key]
		if !ok {
			return fmt.Errorf("key not found: %s", path)
		}
		childMap, ok := child.(map[string]any)
		if !ok {
			return fmt.Errorf("cannot traverse into %T at %s", child, key)
		}
		parent = childMap
	}

	lastKey := parts[len(parts)-1]
	existing, ok := parent[lastKey]
	if !ok {
		// omitempty fields are absent from the map while unset
		if _, known := optionalKeys[path]; !known {
			return fmt.Errorf("key not found: %s", path)
		}
	}
	if _, isSection := existing.(map[string]any); isSection {
		return fmt.Errorf("%s is a section, not a value", path)
	}

	parent[lastKey] = parseValue(value)

	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	var updated Config
	if err := json.Unmarshal(data, &updated); err != nil {
		return fmt.Errorf("cannot set %s: %w", path, err)
	}
	*cfg = updated
	return nil
}

var optionalKeys = map[string]struct{}{
	"general.logFile":   {},
	"server.staticDir":  {},
	"client.scriptPath": {},
}

// parseValue tries to convert string values to appropriate Go types.
func parseValue(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}

	switch s {
	case "true":
		return true
	case "false":
		return false
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}

	return s
}

// Sanitize returns a copy of the config with the webhook token masked.
// The webhook path acts as a shared secret, so only its scheme and host are shown.
func Sanitize(cfg *Config) *Config {
	cp := *cfg
	cp.Webhook.URL = maskURL(cfg.Webhook.URL)
	return &cp
}

func maskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return maskString(raw)
	}
	if u.Path == "" || u.Path == "/" {
		return raw
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	last := segments[len(segments)-1]
	segments[len(segments)-1] = maskString(last)
	return u.Scheme + "://" + u.Host + "/" + strings.Join(segments, "/")
}

// maskString shows first 4 and last 4 chars, masks the rest.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths returns all settable config paths with their current values.
func ListPaths(cfg *Config) map[string]any {
	m, err := toMap(cfg)
	if err != nil {
		return nil
	}
	result := make(map[string]any)
	flattenMap("", m, result)
	return result
}

// SortedPaths returns the keys of ListPaths in lexical order.
func SortedPaths(paths map[string]any) []string {
	keys := make([]string, 0, len(paths))
	for k := range paths {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func flattenMap(prefix string, m map[string]any, result map[string]any) {
	for k, v := range m {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			flattenMap(path, val, result)
		default:
			result[path] = val
		}
	}
}
