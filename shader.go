package gpucompute

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/gogpu/gpucompute/internal/shaderc"
)

// ShaderDefiner is implemented by data types that parameterize their
// shader with defs. Defs select #ifdef blocks and fill #{NAME} placeholders.
type ShaderDefiner interface {
	ShaderDefs() map[string]string
}

type shaderSource struct {
	src     string
	loaded  bool
	version uint64
}

// ShaderLibrary holds WGSL sources by path and tracks their changes.
//
// Sources can include each other with #import "path". A source can be
// reserved before it is loaded, so pipelines referencing it wait instead
// of failing.
//
// ShaderLibrary is safe for concurrent use.
type ShaderLibrary struct {
	mu       sync.Mutex
	sources  map[string]*shaderSource
	modified map[string]bool
}

// NewShaderLibrary returns an empty library.
func NewShaderLibrary() *ShaderLibrary {
	return &ShaderLibrary{
		sources:  make(map[string]*shaderSource),
		modified: make(map[string]bool),
	}
}

// Reserve marks path as loading. Pipelines built from it stay pending
// until Load.
func (l *ShaderLibrary) Reserve(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.sources[path]; !ok {
		l.sources[path] = &shaderSource{}
	}
}

// Load stores the source of path. Replacing a loaded source with different
// text records a modification that the engine turns into ShaderModified
// notifications on its next tick.
func (l *ShaderLibrary) Load(path, src string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.sources[path]
	if !ok {
		s = &shaderSource{}
		l.sources[path] = s
	}
	if s.loaded && s.src == src {
		return
	}
	if s.loaded {
		l.modified[path] = true
		Logger().Info("gpucompute: shader modified", "path", path)
	}
	s.src = src
	s.loaded = true
	s.version++
}

// LoadFS loads every file of fsys matching one of patterns (fs.Glob syntax).
// Without patterns, "*.wgsl" is used. Paths are the fsys-relative names.
func (l *ShaderLibrary) LoadFS(fsys fs.FS, patterns ...string) error {
	if len(patterns) == 0 {
		patterns = []string{"*.wgsl"}
	}
	for _, pattern := range patterns {
		matches, err := fs.Glob(fsys, pattern)
		if err != nil {
			return fmt.Errorf("gpucompute: shader glob %q: %w", pattern, err)
		}
		for _, name := range matches {
			data, err := fs.ReadFile(fsys, name)
			if err != nil {
				return fmt.Errorf("gpucompute: read shader: %w", err)
			}
			l.Load(name, string(data))
		}
	}
	return nil
}

// Remove forgets path. Pipelines built from it return to pending on the
// next tick and stay there until it is loaded again.
func (l *ShaderLibrary) Remove(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.sources[path]; ok {
		delete(l.sources, path)
		l.modified[path] = true
	}
}

// Loaded reports whether path has a loaded source.
func (l *ShaderLibrary) Loaded(path string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.sources[path]
	return ok && s.loaded
}

// Resolve expands the imports and defs of path.
//
// A root that is not loaded yet returns ErrShaderNotLoaded, an import that
// is not loaded yet returns ErrImportUnresolved; both clear up once the
// source arrives. Cycles and malformed directives return ErrShaderInvalid.
func (l *ShaderLibrary) Resolve(path string, defs map[string]string) (*shaderc.Preprocessed, error) {
	lookup := func(p string) (string, error) {
		l.mu.Lock()
		s, ok := l.sources[p]
		l.mu.Unlock()
		if ok && s.loaded {
			return s.src, nil
		}
		if p == path {
			return "", fmt.Errorf("%w: %s", ErrShaderNotLoaded, p)
		}
		return "", fmt.Errorf("%w: %s", ErrImportUnresolved, p)
	}

	out, err := shaderc.Preprocess(path, defs, lookup)
	switch {
	case err == nil:
		return out, nil
	case isMalformed(err):
		return nil, fmt.Errorf("%w: %s: %w", ErrShaderInvalid, path, err)
	case errors.Is(err, ErrShaderNotLoaded), errors.Is(err, ErrImportUnresolved):
		return nil, err
	default:
		return nil, fmt.Errorf("gpucompute: resolve %s: %w", path, err)
	}
}

// drainModified returns and clears the paths modified since the last call.
func (l *ShaderLibrary) drainModified() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.modified) == 0 {
		return nil
	}
	paths := slices.Sorted(maps.Keys(l.modified))
	clear(l.modified)
	return paths
}

// defsKey returns a canonical string for a set of shader defs.
func defsKey(defs map[string]string) string {
	if len(defs) == 0 {
		return ""
	}
	var b strings.Builder
	for _, k := range slices.Sorted(maps.Keys(defs)) {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(defs[k])
		b.WriteByte(';')
	}
	return b.String()
}
