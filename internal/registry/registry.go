// Package registry holds the crew definitions the service can run: the
// built-in crews plus YAML files from the crews directory.
package registry

import (
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

type Registry struct {
	dir  string
	mu   sync.RWMutex
	defs map[string]*Definition
}

// Changes lists the crews affected by a reload, each sorted.
type Changes struct {
	Added   []string `json:"added,omitempty"`
	Removed []string `json:"removed,omitempty"`
	Changed []string `json:"changed,omitempty"`
}

func (c Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Changed) == 0
}

// New loads the built-in crews and the definitions in dir. An empty dir or
// a missing directory leaves only the built-ins.
func New(dir string) (*Registry, error) {
	r := &Registry{dir: dir}
	defs, err := r.load()
	if err != nil {
		return nil, err
	}
	r.defs = defs
	return r, nil
}

func (r *Registry) Dir() string {
	return r.dir
}

func (r *Registry) load() (map[string]*Definition, error) {
	defs := make(map[string]*Definition)

	entries, err := fs.Glob(builtinFS, "builtin/*.yaml")
	if err != nil {
		return nil, err
	}
	for _, name := range entries {
		data, err := builtinFS.ReadFile(name)
		if err != nil {
			return nil, err
		}
		def, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("builtin %s: %w", name, err)
		}
		def.Source = "builtin"
		defs[def.Name] = def
	}

	if r.dir == "" {
		return defs, nil
	}
	files, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return defs, nil
		}
		return nil, fmt.Errorf("read crews dir: %w", err)
	}
	fromDir := make(map[string]string)
	for _, f := range files {
		if f.IsDir() || !isDefinitionFile(f.Name()) {
			continue
		}
		path := filepath.Join(r.dir, f.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		def, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if prev, dup := fromDir[def.Name]; dup {
			return nil, fmt.Errorf("%s: crew %q already defined in %s", path, def.Name, prev)
		}
		if b, ok := defs[def.Name]; ok && b.Source == "builtin" {
			slog.Info("crew definition overrides builtin", "crew", def.Name, "file", path)
		}
		def.Source = path
		fromDir[def.Name] = path
		defs[def.Name] = def
	}
	return defs, nil
}

func isDefinitionFile(name string) bool {
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}

// Reload re-reads the crews directory. On error the current definitions
// stay in place.
func (r *Registry) Reload() (Changes, error) {
	defs, err := r.load()
	if err != nil {
		return Changes{}, err
	}

	r.mu.Lock()
	old := r.defs
	r.defs = defs
	r.mu.Unlock()

	var ch Changes
	for name, def := range defs {
		prev, ok := old[name]
		switch {
		case !ok:
			ch.Added = append(ch.Added, name)
		case !reflect.DeepEqual(prev, def):
			ch.Changed = append(ch.Changed, name)
		}
	}
	for name := range old {
		if _, ok := defs[name]; !ok {
			ch.Removed = append(ch.Removed, name)
		}
	}
	sort.Strings(ch.Added)
	sort.Strings(ch.Removed)
	sort.Strings(ch.Changed)
	return ch, nil
}

func (r *Registry) Get(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

// List returns the definitions sorted by name.
func (r *Registry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Definition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Descriptions maps crew names to their descriptions, for routing.
func (r *Registry) Descriptions() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.defs))
	for name, def := range r.defs {
		out[name] = def.Description
	}
	return out
}
