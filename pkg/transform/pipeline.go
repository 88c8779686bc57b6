// Package transform implements the fixed pass pipeline that lowers a closed
// ir.Module toward a specific backend: parameter materialization, constant
// folding, inlining, address-space inference, scalar replacement of
// aggregates, dead-code elimination, loop canonicalization, and control-flow
// simplification. Every pass preserves semantic equivalence and the module
// is re-verified after each one runs.
package transform

import (
	"fmt"

	"github.com/orneryd/hxc/pkg/ir"
)

// Pass is one step of the pipeline. It mutates fn in place and returns an
// error (always a *ir.CompilationError) if it cannot complete.
type Pass interface {
	Name() string
	Run(fn *ir.Function, m *ir.Module) error
}

// Config tunes the pipeline behavior that the fixed pass ordering leaves
// open: the inliner's cost model. It has no setting to skip a pass; every
// target runs every pass.
type Config struct {
	// InlineSizeThreshold: inline a callee whose value count is <= this.
	InlineSizeThreshold int
	// InlineHotSites marks call sites the front end flagged as hot,
	// identified by the Value.Attrs["hot"] == "true" marker.
	InlineHotSites bool
}

// DefaultConfig mirrors the thresholds used throughout testing: small enough that leaf helper functions inline, large enough
// that nothing pathological happens on hand-written kernels.
func DefaultConfig() Config {
	return Config{InlineSizeThreshold: 32, InlineHotSites: true}
}

// Pipeline runs the fixed, ordered sequence of passes against a module,
// re-verifying after every pass.
type Pipeline struct {
	cfg   Config
	passes []Pass
}

// NewPipeline builds the standard pass pipeline in the required order.
func NewPipeline(cfg Config) *Pipeline {
	return &Pipeline{
		cfg: cfg,
		passes: []Pass{
			&ParamMaterialization{},
			&ConstantFolding{},
			&Inlining{Config: cfg},
			&AddrSpaceInference{},
			&ScalarReplacement{},
			&DeadCodeElimination{},
			&LoopCanonicalization{},
			&CFGSimplification{},
		},
	}
}

// ID returns a short identifier for this pipeline's pass ordering, included
// in kernel cache fingerprints so that a pipeline change invalidates the
// cache rather than silently serving stale artifacts.
func (p *Pipeline) ID() string {
	id := "pipeline:"
	for _, pass := range p.passes {
		id += pass.Name() + ";"
	}
	return id
}

// Run executes every pass against every function in m, verifying after each
// pass. The first failure aborts the whole pipeline and is returned with the
// pass name attached.
func (p *Pipeline) Run(m *ir.Module) error {
	for _, pass := range p.passes {
		for _, fn := range m.Functions {
			if err := pass.Run(fn, m); err != nil {
				return fmt.Errorf("pass %s: %w", pass.Name(), err)
			}
		}
		if err := ir.Verify(m); err != nil {
			return fmt.Errorf("pass %s: post-pass verification: %w", pass.Name(), err)
		}
	}
	return nil
}
