package ir

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyAcceptsWellFormedFunction(t *testing.T) {
	m := NewModule()
	fn := buildSimpleFunction(m)
	m.AddFunction(fn)

	err := Verify(m)
	assert.NoError(t, err)
}

func TestVerifyRejectsEmptyBlock(t *testing.T) {
	m := NewModule()
	fn := &Function{Name: "empty"}
	fn.Blocks = append(fn.Blocks, &BasicBlock{Name: "entry"})
	m.AddFunction(fn)

	err := Verify(m)
	require.Error(t, err)
	var cerr *CompilationError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, VerificationFailed, cerr.Kind)
}

func TestVerifyRejectsMissingTerminator(t *testing.T) {
	m := NewModule()
	i32 := m.Types.Int(32)
	fn := &Function{Name: "no_ret", ReturnType: i32}
	entry := &BasicBlock{Name: "entry"}
	fn.Blocks = append(fn.Blocks, entry)
	entry.Append(&Value{ID: fn.NewValueID(), Op: OpConstant, Type: i32, Const: Const{Int: 1}})
	m.AddFunction(fn)

	err := Verify(m)
	require.Error(t, err)
}

func TestVerifyRejectsUseBeforeDef(t *testing.T) {
	m := NewModule()
	i32 := m.Types.Int(32)
	fn := &Function{Name: "bad_order", ReturnType: i32}
	entry := &BasicBlock{Name: "entry"}
	fn.Blocks = append(fn.Blocks, entry)

	phantomID := fn.NewValueID()
	sum := &Value{ID: fn.NewValueID(), Op: OpAdd, Type: i32, Operands: []ValueID{phantomID, phantomID}}
	entry.Append(sum)
	entry.Append(&Value{ID: fn.NewValueID(), Op: OpReturn, Type: i32, Operands: []ValueID{sum.ID}})
	m.AddFunction(fn)

	err := Verify(m)
	require.Error(t, err)
	var cerr *CompilationError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, VerificationFailed, cerr.Kind)
}

func TestVerifyRejectsWrongOperandArity(t *testing.T) {
	m := NewModule()
	i32 := m.Types.Int(32)
	fn := &Function{Name: "bad_arity", ReturnType: i32}
	entry := &BasicBlock{Name: "entry"}
	fn.Blocks = append(fn.Blocks, entry)

	one := &Value{ID: fn.NewValueID(), Op: OpConstant, Type: i32, Const: Const{Int: 1}}
	entry.Append(one)
	// OpAdd requires exactly 2 operands.
	bad := &Value{ID: fn.NewValueID(), Op: OpAdd, Type: i32, Operands: []ValueID{one.ID}}
	entry.Append(bad)
	entry.Append(&Value{ID: fn.NewValueID(), Op: OpReturn, Type: i32, Operands: []ValueID{bad.ID}})
	m.AddFunction(fn)

	err := Verify(m)
	require.Error(t, err)
}

func TestVerifyRejectsPhiArityMismatch(t *testing.T) {
	m := NewModule()
	i32 := m.Types.Int(32)
	fn := &Function{Name: "bad_phi", ReturnType: i32}

	entry := &BasicBlock{Name: "entry"}
	left := &BasicBlock{Name: "left"}
	right := &BasicBlock{Name: "right"}
	join := &BasicBlock{Name: "join"}
	fn.Blocks = append(fn.Blocks, entry, left, right, join)
	entry.Succs = []*BasicBlock{left, right}
	left.Preds = []*BasicBlock{entry}
	left.Succs = []*BasicBlock{join}
	right.Preds = []*BasicBlock{entry}
	right.Succs = []*BasicBlock{join}
	join.Preds = []*BasicBlock{left, right}

	cond := &Value{ID: fn.NewValueID(), Op: OpConstant, Type: i32, Const: Const{Int: 1}}
	entry.Append(cond)
	entry.Append(&Value{ID: fn.NewValueID(), Op: OpCondBr, Operands: []ValueID{cond.ID}})

	lv := &Value{ID: fn.NewValueID(), Op: OpConstant, Type: i32, Const: Const{Int: 1}}
	left.Append(lv)
	left.Append(&Value{ID: fn.NewValueID(), Op: OpBr})

	rv := &Value{ID: fn.NewValueID(), Op: OpConstant, Type: i32, Const: Const{Int: 2}}
	right.Append(rv)
	right.Append(&Value{ID: fn.NewValueID(), Op: OpBr})

	// Phi names only one incoming value for a two-predecessor join.
	phi := &Value{ID: fn.NewValueID(), Op: OpPhi, Type: i32, Operands: []ValueID{lv.ID}}
	join.Append(phi)
	join.Append(&Value{ID: fn.NewValueID(), Op: OpReturn, Operands: []ValueID{phi.ID}})

	m.AddFunction(fn)
	err := Verify(m)
	require.Error(t, err)
}

func TestVerifyRejectsEntryPointWithoutFunction(t *testing.T) {
	m := NewModule()
	fn := buildSimpleFunction(m)
	m.AddFunction(fn)
	m.Entries = append(m.Entries, EntryPoint{Name: "dangling"})

	err := Verify(m)
	require.Error(t, err)
}
