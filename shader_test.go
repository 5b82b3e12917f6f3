package gpucompute

import (
	"errors"
	"strings"
	"testing"
	"testing/fstest"
)

func TestShaderLibrary_Resolve(t *testing.T) {
	l := NewShaderLibrary()

	if _, err := l.Resolve("main.wgsl", nil); !errors.Is(err, ErrShaderNotLoaded) {
		t.Errorf("Resolve(unknown) = %v, want ErrShaderNotLoaded", err)
	}

	l.Reserve("main.wgsl")
	if l.Loaded("main.wgsl") {
		t.Error("reserved shader reported as loaded")
	}
	if _, err := l.Resolve("main.wgsl", nil); !errors.Is(err, ErrShaderNotLoaded) {
		t.Errorf("Resolve(reserved) = %v, want ErrShaderNotLoaded", err)
	}

	l.Load("main.wgsl", "#import \"common.wgsl\"\nconst N: u32 = #{N}u;")
	if _, err := l.Resolve("main.wgsl", map[string]string{"N": "4"}); !errors.Is(err, ErrImportUnresolved) {
		t.Errorf("Resolve(missing import) = %v, want ErrImportUnresolved", err)
	}
	if !IsRecoverable(ErrImportUnresolved) || !IsRecoverable(ErrShaderNotLoaded) {
		t.Error("loading errors should be recoverable")
	}

	l.Load("common.wgsl", "const C: u32 = 1u;")
	out, err := l.Resolve("main.wgsl", map[string]string{"N": "4"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !strings.Contains(out.Source, "const C") || !strings.Contains(out.Source, "N: u32 = 4u") {
		t.Errorf("Source = %q", out.Source)
	}
	if len(out.Imports) != 1 || out.Imports[0] != "common.wgsl" {
		t.Errorf("Imports = %v", out.Imports)
	}

	if _, err := l.Resolve("main.wgsl", nil); !errors.Is(err, ErrShaderInvalid) {
		t.Errorf("Resolve(undefined def) = %v, want ErrShaderInvalid", err)
	}
}

func TestShaderLibrary_ImportCycle(t *testing.T) {
	l := NewShaderLibrary()
	l.Load("a.wgsl", "#import \"b.wgsl\"")
	l.Load("b.wgsl", "#import \"a.wgsl\"")
	_, err := l.Resolve("a.wgsl", nil)
	if !errors.Is(err, ErrShaderInvalid) {
		t.Errorf("Resolve() = %v, want ErrShaderInvalid", err)
	}
	if IsRecoverable(err) {
		t.Error("an import cycle is not recoverable")
	}
}

func TestShaderLibrary_Modified(t *testing.T) {
	l := NewShaderLibrary()
	l.Load("a.wgsl", "fn a() {}")
	if got := l.drainModified(); got != nil {
		t.Errorf("first load marked modified: %v", got)
	}

	l.Load("a.wgsl", "fn a() {}")
	if got := l.drainModified(); got != nil {
		t.Errorf("identical load marked modified: %v", got)
	}

	l.Load("b.wgsl", "fn b() {}")
	l.Load("b.wgsl", "fn b() { }")
	l.Load("a.wgsl", "fn a() { }")
	got := l.drainModified()
	if strings.Join(got, ",") != "a.wgsl,b.wgsl" {
		t.Errorf("drainModified() = %v, want [a.wgsl b.wgsl]", got)
	}
	if l.drainModified() != nil {
		t.Error("drainModified should clear")
	}

	l.Remove("a.wgsl")
	if l.Loaded("a.wgsl") {
		t.Error("removed shader still loaded")
	}
	if got := l.drainModified(); len(got) != 1 || got[0] != "a.wgsl" {
		t.Errorf("drainModified() after Remove = %v", got)
	}
}

func TestShaderLibrary_LoadFS(t *testing.T) {
	fsys := fstest.MapFS{
		"scale.wgsl":       {Data: []byte(scaleWGSL)},
		"fill.wgsl":        {Data: []byte(fillWGSL)},
		"README.md":        {Data: []byte("docs")},
		"lib/common.wgsl":  {Data: []byte("const C: u32 = 1u;")},
		"lib/ignored.glsl": {Data: []byte("void main() {}")},
	}

	l := NewShaderLibrary()
	if err := l.LoadFS(fsys); err != nil {
		t.Fatalf("LoadFS() error = %v", err)
	}
	if !l.Loaded("scale.wgsl") || !l.Loaded("fill.wgsl") {
		t.Error("top-level shaders not loaded")
	}
	if l.Loaded("README.md") || l.Loaded("lib/common.wgsl") {
		t.Error("default pattern loaded unexpected files")
	}

	if err := l.LoadFS(fsys, "lib/*.wgsl"); err != nil {
		t.Fatalf("LoadFS(lib) error = %v", err)
	}
	if !l.Loaded("lib/common.wgsl") || l.Loaded("lib/ignored.glsl") {
		t.Error("pattern not applied")
	}

	if err := l.LoadFS(fsys, "[bad"); err == nil {
		t.Error("LoadFS() with a bad pattern should fail")
	}
}

func TestDefsKey(t *testing.T) {
	a := defsKey(map[string]string{"B": "2", "A": "1"})
	b := defsKey(map[string]string{"A": "1", "B": "2"})
	if a != b || a != "A=1;B=2;" {
		t.Errorf("defsKey = %q / %q", a, b)
	}
	if defsKey(nil) != "" {
		t.Error("defsKey(nil) should be empty")
	}
}
