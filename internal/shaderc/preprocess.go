package shaderc

import (
	"errors"
	"fmt"
	"strings"
)

// ErrImportCycle is returned when shader imports form a cycle.
var ErrImportCycle = errors.New("shaderc: import cycle")

// Lookup returns the source registered under path.
type Lookup func(path string) (string, error)

// Preprocessed is the output of Preprocess.
type Preprocessed struct {
	// Source is the expanded WGSL.
	Source string

	// Imports lists every path inlined into Source, in first-use order.
	// The root path is not included.
	Imports []string
}

// Preprocess looks up root and expands its directives:
//
//	#import "path"        inline another source once
//	#ifdef NAME / #ifndef NAME / #else / #endif
//	#{NAME}               substitute the value of a shader def
//
// Errors from lookup are returned wrapped. Unbalanced conditionals and
// undefined substitutions wrap ErrMalformed.
func Preprocess(root string, defs map[string]string, lookup Lookup) (*Preprocessed, error) {
	src, err := lookup(root)
	if err != nil {
		return nil, err
	}
	p := &preprocessor{
		defs:     defs,
		lookup:   lookup,
		included: map[string]bool{root: true},
	}
	var out strings.Builder
	if err := p.expand(&out, src, []string{root}); err != nil {
		return nil, err
	}
	return &Preprocessed{Source: out.String(), Imports: p.imports}, nil
}

type preprocessor struct {
	defs     map[string]string
	lookup   Lookup
	included map[string]bool
	imports  []string
}

func (p *preprocessor) expand(out *strings.Builder, src string, stack []string) error {
	// active[i] is whether the i-th nested block emits lines.
	var active []bool
	emitting := func() bool {
		for _, a := range active {
			if !a {
				return false
			}
		}
		return true
	}

	for n, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)
		directive, arg, _ := strings.Cut(trimmed, " ")
		arg = strings.TrimSpace(arg)

		switch directive {
		case "#ifdef", "#ifndef":
			if arg == "" {
				return fmt.Errorf("%w: line %d: %s without a name", ErrMalformed, n+1, directive)
			}
			_, defined := p.defs[arg]
			active = append(active, defined == (directive == "#ifdef"))
			continue
		case "#else":
			if len(active) == 0 {
				return fmt.Errorf("%w: line %d: #else without #ifdef", ErrMalformed, n+1)
			}
			active[len(active)-1] = !active[len(active)-1]
			continue
		case "#endif":
			if len(active) == 0 {
				return fmt.Errorf("%w: line %d: #endif without #ifdef", ErrMalformed, n+1)
			}
			active = active[:len(active)-1]
			continue
		}

		if !emitting() {
			continue
		}

		if directive == "#import" {
			path := strings.Trim(arg, `"`)
			if path == "" {
				return fmt.Errorf("%w: line %d: #import without a path", ErrMalformed, n+1)
			}
			if err := p.include(out, path, stack); err != nil {
				return err
			}
			continue
		}

		expanded, err := p.substitute(line)
		if err != nil {
			return fmt.Errorf("line %d: %w", n+1, err)
		}
		out.WriteString(expanded)
		out.WriteByte('\n')
	}

	if len(active) != 0 {
		return fmt.Errorf("%w: unterminated #ifdef", ErrMalformed)
	}
	return nil
}

func (p *preprocessor) include(out *strings.Builder, path string, stack []string) error {
	for _, s := range stack {
		if s == path {
			return fmt.Errorf("%w: %s -> %s", ErrImportCycle, strings.Join(stack, " -> "), path)
		}
	}
	if p.included[path] {
		return nil
	}
	src, err := p.lookup(path)
	if err != nil {
		return fmt.Errorf("import %q: %w", path, err)
	}
	p.included[path] = true
	p.imports = append(p.imports, path)
	return p.expand(out, src, append(stack, path))
}

func (p *preprocessor) substitute(line string) (string, error) {
	if !strings.Contains(line, "#{") {
		return line, nil
	}
	var b strings.Builder
	rest := line
	for {
		start := strings.Index(rest, "#{")
		if start < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		end := strings.IndexByte(rest[start:], '}')
		if end < 0 {
			return "", fmt.Errorf("%w: unterminated #{", ErrMalformed)
		}
		name := rest[start+2 : start+end]
		value, ok := p.defs[name]
		if !ok {
			return "", fmt.Errorf("%w: undefined shader def %q", ErrMalformed, name)
		}
		b.WriteString(rest[:start])
		b.WriteString(value)
		rest = rest[start+end+1:]
	}
}
