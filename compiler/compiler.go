// Package compiler turns YAML model descriptions into edgeinfer model blobs.
//
// This package implements the compiler behind edgec. It converts a
// human-readable description of tensors and operators into the binary
// format model.Load reads.
//
// Compilation pipeline:
//  1. Parse the YAML description
//  2. Validate names, types, operator kinds and references, and detect cycles
//  3. Reorder operators topologically when they are listed out of order
//  4. Emit the binary model and verify that it loads
//
// Constant data can be written inline as values or hex, or generated from a
// fill value or a seeded random range, so reproducible test models need no
// side files.
package compiler

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/sbl8/edgeinfer/core"
	"github.com/sbl8/edgeinfer/model"
)

// CompileOptions configures the compilation process
type CompileOptions struct {
	Reorder  bool         // topologically sort operators listed out of order
	Validate bool         // check references and detect cycles
	Logger   *slog.Logger // progress output; nil is silent
}

// DefaultOptions provides the options edgec uses.
func DefaultOptions() CompileOptions {
	return CompileOptions{Reorder: true, Validate: true}
}

// Compile turns a YAML description file into a binary model file.
func Compile(src, out string) error {
	return CompileWithOptions(src, out, DefaultOptions())
}

// CompileWithOptions compiles src into out.
func CompileWithOptions(src, out string, opts CompileOptions) error {
	logger := opts.logger()
	logger.Debug("compiling", "src", src, "out", out)

	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("failed to read source: %w", err)
	}
	blob, err := CompileBytes(data, opts)
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, blob, 0o644); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	logger.Info("compiled", "out", out, "bytes", len(blob))
	return nil
}

// CompileBytes compiles a YAML description held in memory.
func CompileBytes(src []byte, opts CompileOptions) ([]byte, error) {
	d, err := Parse(src)
	if err != nil {
		return nil, err
	}
	return Build(d, opts)
}

// Build emits the binary model for d. With Reorder set, d's operators are
// sorted in place.
func Build(d *Description, opts CompileOptions) ([]byte, error) {
	logger := opts.logger()
	logger.Debug("parsed", "tensors", len(d.Tensors), "operators", len(d.Operators))

	if opts.Validate {
		if err := validateDescription(d); err != nil {
			return nil, fmt.Errorf("validation error: %w", err)
		}
		logger.Debug("validation passed")
	}
	if opts.Reorder {
		if moved := orderOperators(d); moved {
			logger.Debug("operators reordered")
		}
	}

	blob, err := emit(d)
	if err != nil {
		return nil, fmt.Errorf("emit error: %w", err)
	}
	if _, err := model.Load(blob); err != nil {
		return nil, fmt.Errorf("verification error: %w", err)
	}
	return blob, nil
}

func (o CompileOptions) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.New(slog.DiscardHandler)
}

// isOmitted reports whether an operator input name stands for an omitted
// optional operand.
func isOmitted(name string) bool { return name == "" || name == "-" }

// validateDescription checks for common description issues
func validateDescription(d *Description) error {
	if len(d.Operators) == 0 {
		return errors.New("empty model")
	}

	tensors := make(map[string]*TensorDesc, len(d.Tensors))
	for i := range d.Tensors {
		t := &d.Tensors[i]
		if isOmitted(t.Name) {
			return fmt.Errorf("tensor %d has no name", i)
		}
		if _, dup := tensors[t.Name]; dup {
			return fmt.Errorf("duplicate tensor %q", t.Name)
		}
		if _, err := core.ParseElemType(t.Type); err != nil {
			return fmt.Errorf("tensor %q: %w", t.Name, err)
		}
		tensors[t.Name] = t
	}

	producer := make(map[string]int)
	for i, op := range d.Operators {
		if _, err := model.ParseOpKind(op.Op); err != nil {
			return fmt.Errorf("operator %d: %w", i, err)
		}
		if _, err := op.Options.options(); err != nil {
			return fmt.Errorf("operator %d (%s): %w", i, op.Op, err)
		}
		for _, name := range op.Inputs {
			if !isOmitted(name) && tensors[name] == nil {
				return fmt.Errorf("operator %d (%s) reads undefined tensor %q", i, op.Op, name)
			}
		}
		if len(op.Outputs) == 0 {
			return fmt.Errorf("operator %d (%s) has no outputs", i, op.Op)
		}
		for _, name := range op.Outputs {
			t := tensors[name]
			if t == nil {
				return fmt.Errorf("operator %d (%s) writes undefined tensor %q", i, op.Op, name)
			}
			if t.Data != nil {
				return fmt.Errorf("operator %d (%s) writes constant tensor %q", i, op.Op, name)
			}
			if j, ok := producer[name]; ok {
				return fmt.Errorf("tensor %q written by operators %d and %d", name, j, i)
			}
			producer[name] = i
		}
	}

	for _, group := range []struct {
		what  string
		names []string
	}{{"input", d.Inputs}, {"output", d.Outputs}} {
		if len(group.names) == 0 {
			return fmt.Errorf("no graph %ss", group.what)
		}
		for _, name := range group.names {
			if tensors[name] == nil {
				return fmt.Errorf("graph %s %q is undefined", group.what, name)
			}
		}
	}

	return detectCycles(d)
}

// operatorGraph links each operator to the operators that read its outputs.
func operatorGraph(d *Description) (adj [][]int, inDegree []int) {
	producer := make(map[string]int)
	for i, op := range d.Operators {
		for _, name := range op.Outputs {
			producer[name] = i
		}
	}
	adj = make([][]int, len(d.Operators))
	inDegree = make([]int, len(d.Operators))
	for i, op := range d.Operators {
		for _, name := range op.Inputs {
			if j, ok := producer[name]; ok && !isOmitted(name) {
				adj[j] = append(adj[j], i)
				inDegree[i]++
			}
		}
	}
	return adj, inDegree
}

// topoOrder runs Kahn's algorithm, always taking the lowest ready index so
// a description that is already ordered keeps its order.
func topoOrder(d *Description) []int {
	adj, inDegree := operatorGraph(d)
	ready := make([]bool, len(inDegree))
	for i, deg := range inDegree {
		ready[i] = deg == 0
	}

	order := make([]int, 0, len(inDegree))
	done := make([]bool, len(inDegree))
	for len(order) < len(inDegree) {
		next := -1
		for i := range ready {
			if ready[i] && !done[i] {
				next = i
				break
			}
		}
		if next < 0 {
			break
		}
		done[next] = true
		order = append(order, next)
		for _, n := range adj[next] {
			inDegree[n]--
			if inDegree[n] == 0 {
				ready[n] = true
			}
		}
	}
	return order
}

// detectCycles reports an error when the operators cannot be ordered.
func detectCycles(d *Description) error {
	if len(topoOrder(d)) != len(d.Operators) {
		return errors.New("cycle detected in graph")
	}
	return nil
}

// orderOperators sorts the operators topologically and reports whether any
// moved. A cyclic description is left unchanged.
func orderOperators(d *Description) bool {
	order := topoOrder(d)
	if len(order) != len(d.Operators) {
		return false
	}
	moved := false
	ops := make([]OpDesc, len(order))
	for i, j := range order {
		ops[i] = d.Operators[j]
		moved = moved || i != j
	}
	d.Operators = ops
	return moved
}

// emit writes d through model.Builder.
func emit(d *Description) ([]byte, error) {
	b := model.NewBuilder().SetDescription(d.Description)
	if d.Version != 0 {
		b.SetVersion(d.Version)
	}

	index := make(map[string]int, len(d.Tensors))
	for _, t := range d.Tensors {
		typ, err := core.ParseElemType(t.Type)
		if err != nil {
			return nil, fmt.Errorf("tensor %q: %w", t.Name, err)
		}
		var data []byte
		if t.Data != nil {
			if data, err = t.Data.encode(typ, core.ElementCount(t.Shape)); err != nil {
				return nil, fmt.Errorf("tensor %q: %w", t.Name, err)
			}
		}
		index[t.Name] = b.AddTensor(t.Name, typ, t.Shape, t.Quant.quantization(), data)
	}

	lookup := func(names []string, optional bool) ([]int, error) {
		idx := make([]int, len(names))
		for i, name := range names {
			if optional && isOmitted(name) {
				idx[i] = model.OptionalInput
				continue
			}
			j, ok := index[name]
			if !ok {
				return nil, fmt.Errorf("undefined tensor %q", name)
			}
			idx[i] = j
		}
		return idx, nil
	}

	for i, op := range d.Operators {
		kind, err := model.ParseOpKind(op.Op)
		if err != nil {
			return nil, fmt.Errorf("operator %d: %w", i, err)
		}
		opts, err := op.Options.options()
		if err != nil {
			return nil, fmt.Errorf("operator %d (%s): %w", i, kind, err)
		}
		in, err := lookup(op.Inputs, true)
		if err != nil {
			return nil, fmt.Errorf("operator %d (%s): %w", i, kind, err)
		}
		out, err := lookup(op.Outputs, false)
		if err != nil {
			return nil, fmt.Errorf("operator %d (%s): %w", i, kind, err)
		}
		b.AddOperator(kind, in, out, opts)
	}

	in, err := lookup(d.Inputs, false)
	if err != nil {
		return nil, fmt.Errorf("graph inputs: %w", err)
	}
	out, err := lookup(d.Outputs, false)
	if err != nil {
		return nil, fmt.Errorf("graph outputs: %w", err)
	}
	b.SetInputs(in...).SetOutputs(out...)
	return b.Bytes()
}
