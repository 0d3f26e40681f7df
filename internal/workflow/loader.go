// Package workflow loads engine job-graph templates and parameterizes them
// per request.
package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"renderbot/internal/infra"
)

// Info describes one indexed template.
type Info struct {
	Name string
	Kind string
	Path string
}

// Loader indexes *.json graph templates in a directory and hands out
// independent copies so injection never mutates the template.
type Loader struct {
	dir    string
	logger infra.Logger

	mu    sync.Mutex
	index map[string]Info
	cache map[string][]byte
}

// NewLoader scans dir for templates. A missing directory is tolerated; loads
// then fail per name.
func NewLoader(dir string, logger infra.Logger) *Loader {
	l := &Loader{
		dir:    dir,
		logger: logger,
		index:  map[string]Info{},
		cache:  map[string][]byte{},
	}
	l.scan()
	return l
}

func (l *Loader) scan() {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		l.logger.Warn().Err(err).Str("dir", l.dir).Msg("workflow: templates dir not readable")
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".json")
		l.index[name] = Info{
			Name: name,
			Kind: guessKind(name),
			Path: filepath.Join(l.dir, entry.Name()),
		}
		l.logger.Debug().Str("workflow", name).Msg("workflow: indexed")
	}
}

func guessKind(name string) string {
	switch {
	case strings.HasPrefix(name, "image_"):
		return "image"
	case strings.HasPrefix(name, "video_"):
		return "video"
	case strings.HasPrefix(name, "flux_"):
		return "flux"
	}
	return "unknown"
}

// Available lists the indexed templates, sorted by name.
func (l *Loader) Available() []Info {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Info, 0, len(l.index))
	for _, info := range l.index {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Exists reports whether a template is indexed under name.
func (l *Loader) Exists(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.index[name]
	return ok
}

// Load parses the named template and returns a fresh graph. The raw file is
// cached; each call re-decodes so callers get an isolated deep copy.
func (l *Loader) Load(name string) (Graph, error) {
	l.mu.Lock()
	info, ok := l.index[name]
	raw, cached := l.cache[name]
	l.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("workflow: template %q not found in %s", name, l.dir)
	}
	if !cached {
		var err error
		raw, err = os.ReadFile(info.Path)
		if err != nil {
			return nil, fmt.Errorf("workflow: read template %q: %w", name, err)
		}
		l.mu.Lock()
		l.cache[name] = raw
		l.mu.Unlock()
	}

	var g Graph
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("workflow: parse template %q: %w", name, err)
	}
	if len(g) == 0 {
		return nil, fmt.Errorf("workflow: template %q has no nodes", name)
	}
	return g, nil
}
