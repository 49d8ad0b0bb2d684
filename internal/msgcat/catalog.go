// Package msgcat renders the human-readable text cubectl prints. Templates
// come from an embedded YAML file and may be overridden from a directory.
package msgcat

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/template"

	yaml "gopkg.in/yaml.v3"
)

//go:embed messages.en.yaml
var defaultFiles embed.FS

// Catalog maps flattened dot keys ("round.detail") to template text.
type Catalog struct {
	mu    sync.RWMutex
	data  map[string]string
	cache map[string]*template.Template
}

var funcs = template.FuncMap{
	"join": strings.Join,
	"ms":   FormatMs,
}

// FormatMs renders milliseconds as seconds with three decimals.
func FormatMs(ms int64) string {
	return fmt.Sprintf("%d.%03ds", ms/1000, ms%1000)
}

// New loads the embedded defaults, then every *.yaml/*.yml in overrideDir.
func New(overrideDir string) (*Catalog, error) {
	c := &Catalog{data: make(map[string]string), cache: make(map[string]*template.Template)}

	raw, err := fs.ReadFile(defaultFiles, "messages.en.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded messages: %w", err)
	}
	flat, err := parseYAMLToFlat(raw)
	if err != nil {
		return nil, fmt.Errorf("parse embedded messages: %w", err)
	}
	c.data = flat

	if strings.TrimSpace(overrideDir) != "" {
		if err := c.applyDir(overrideDir); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Catalog) applyDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read template dir: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	seen := make(map[string]string) // key -> filename
	for _, name := range files {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		flat, err := parseYAMLToFlat(b)
		if err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		for k := range flat {
			if prev, ok := seen[k]; ok {
				return fmt.Errorf("duplicate override key %q in %s and %s", k, prev, name)
			}
			seen[k] = name
		}
		c.mu.Lock()
		for k, v := range flat {
			c.data[k] = v
			delete(c.cache, k)
		}
		c.mu.Unlock()
	}
	return nil
}

func parseYAMLToFlat(b []byte) (map[string]string, error) {
	var m map[string]any
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	flat := make(map[string]string)
	if err := flattenStrings(m, "", flat); err != nil {
		return nil, err
	}
	return flat, nil
}

func flattenStrings(src any, prefix string, out map[string]string) error {
	switch v := src.(type) {
	case map[string]any:
		for k, vv := range v {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if err := flattenStrings(vv, key, out); err != nil {
				return err
			}
		}
		return nil
	case string:
		if prefix == "" {
			return errors.New("string value without key prefix")
		}
		out[prefix] = v
		return nil
	case nil:
		return nil
	default:
		return fmt.Errorf("unsupported value at %s: %T", prefix, v)
	}
}

// Render executes the template stored under key. Missing keys and missing
// fields are errors.
func (c *Catalog) Render(key string, data any) (string, error) {
	key = strings.TrimSpace(key)
	c.mu.RLock()
	t, cached := c.cache[key]
	text, ok := c.data[key]
	c.mu.RUnlock()
	if !cached {
		if !ok || strings.TrimSpace(text) == "" {
			return "", fmt.Errorf("template not found: %s", key)
		}
		parsed, err := template.New(key).Funcs(funcs).Option("missingkey=error").Parse(text)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.cache[key] = parsed
		c.mu.Unlock()
		t = parsed
	}
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}
