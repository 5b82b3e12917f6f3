// Package shaderc analyzes and compiles WGSL compute shaders with gogpu/naga.
package shaderc

import (
	"errors"
	"fmt"

	"github.com/gogpu/naga"
	"github.com/gogpu/naga/ir"
	"github.com/gogpu/naga/spirv"
)

// ErrMalformed is returned when a shader fails to parse, lower, validate or
// generate code. It is terminal: retrying the same source cannot succeed.
var ErrMalformed = errors.New("shaderc: malformed shader")

// Space classifies the address space of a bound global variable.
type Space uint8

const (
	// SpaceOther is any space the engine does not bind.
	SpaceOther Space = iota
	// SpaceUniform is var<uniform>.
	SpaceUniform
	// SpaceStorage is var<storage>.
	SpaceStorage
	// SpaceHandle holds textures and samplers.
	SpaceHandle
)

// String returns the WGSL spelling of the space.
func (s Space) String() string {
	switch s {
	case SpaceUniform:
		return "uniform"
	case SpaceStorage:
		return "storage"
	case SpaceHandle:
		return "handle"
	default:
		return fmt.Sprintf("Space(%d)", uint8(s))
	}
}

// EntryPoint is a compute entry point declared by a shader.
type EntryPoint struct {
	Name      string
	Workgroup [3]uint32
}

// Binding is a global resource declared with @group/@binding.
type Binding struct {
	Name    string
	Group   uint32
	Binding uint32
	Space   Space
}

// Module is the analysis result of one preprocessed WGSL source.
type Module struct {
	// Entries lists compute entry points in declaration order.
	Entries []EntryPoint

	// Bindings lists every bound global variable.
	Bindings []Binding

	// SPIRV is the compiled module as little-endian words.
	SPIRV []uint32
}

// ComputeEntry returns the compute entry point named name.
func (m *Module) ComputeEntry(name string) (EntryPoint, bool) {
	for _, e := range m.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return EntryPoint{}, false
}

// GroupBindings returns the bindings declared in the given group.
func (m *Module) GroupBindings(group uint32) []Binding {
	var out []Binding
	for _, b := range m.Bindings {
		if b.Group == group {
			out = append(out, b)
		}
	}
	return out
}

// Analyze parses, lowers and validates src, reflects its compute entry
// points and bindings, and compiles it to SPIR-V.
// Every failure wraps ErrMalformed.
func Analyze(src string) (*Module, error) {
	ast, err := naga.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	module, err := naga.LowerWithSource(ast, src)
	if err != nil {
		return nil, fmt.Errorf("%w: lower: %w", ErrMalformed, err)
	}

	validationErrors, err := naga.Validate(module)
	if err != nil {
		return nil, fmt.Errorf("%w: validate: %w", ErrMalformed, err)
	}
	if len(validationErrors) > 0 {
		return nil, fmt.Errorf("%w: validate: %w", ErrMalformed, &validationErrors[0])
	}

	spirvBytes, err := naga.GenerateSPIRV(module, spirv.Options{Version: spirv.Version1_3})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	m := &Module{SPIRV: words(spirvBytes)}
	for i := range module.EntryPoints {
		ep := &module.EntryPoints[i]
		if ep.Stage != ir.StageCompute {
			continue
		}
		m.Entries = append(m.Entries, EntryPoint{Name: ep.Name, Workgroup: ep.Workgroup})
	}
	for i := range module.GlobalVariables {
		gv := &module.GlobalVariables[i]
		if gv.Binding == nil {
			continue
		}
		m.Bindings = append(m.Bindings, Binding{
			Name:    gv.Name,
			Group:   gv.Binding.Group,
			Binding: gv.Binding.Binding,
			Space:   spaceOf(gv.Space),
		})
	}
	return m, nil
}

func spaceOf(s ir.AddressSpace) Space {
	switch s {
	case ir.SpaceUniform:
		return SpaceUniform
	case ir.SpaceStorage:
		return SpaceStorage
	case ir.SpaceHandle:
		return SpaceHandle
	default:
		return SpaceOther
	}
}

// words converts SPIR-V bytes to a uint32 slice.
// SPIR-V is little-endian 32-bit words.
func words(b []byte) []uint32 {
	out := make([]uint32, len(b)/4)
	for i := range out {
		out[i] = uint32(b[i*4]) |
			uint32(b[i*4+1])<<8 |
			uint32(b[i*4+2])<<16 |
			uint32(b[i*4+3])<<24
	}
	return out
}
