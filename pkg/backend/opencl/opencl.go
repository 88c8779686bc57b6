// Package opencl emits OpenCL C kernel source from the verified IR.
// Like pkg/backend/ptx, this package ships the text emitter only: no cgo
// bridge to a real OpenCL runtime, following the stub-driver precedent set
// by the wider example pack's opencl/cuda packages, which report
// unavailability rather than faking device execution in a build with no
// vendor runtime present.
package opencl

import (
	"fmt"
	"strings"

	"github.com/orneryd/hxc/pkg/device"
	"github.com/orneryd/hxc/pkg/ir"
)

func init() {
	device.Register(device.BackendOpenCL, &Driver{})
}

// EmitModule lowers every entry point in m to an OpenCL C __kernel
// function.
func EmitModule(m *ir.Module) (string, error) {
	var b strings.Builder
	for _, ep := range m.Entries {
		if err := emitEntry(&b, ep); err != nil {
			return "", err
		}
	}
	return b.String(), nil
}

func emitEntry(b *strings.Builder, ep ir.EntryPoint) error {
	b.WriteString("__kernel void ")
	b.WriteString(ep.Name)
	b.WriteString("(")
	for i, p := range ep.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(b, "%s %s", openclQualifiedType(p.Type), p.Name)
	}
	b.WriteString(") {\n")
	if ep.StaticSharedBytes > 0 {
		fmt.Fprintf(b, "\t__local uchar smem[%d];\n", ep.StaticSharedBytes)
	}

	regs := make(map[ir.ValueID]string)
	next := 0
	nameFor := func(id ir.ValueID) string {
		if n, ok := regs[id]; ok {
			return n
		}
		n := fmt.Sprintf("v%d", next)
		next++
		regs[id] = n
		return n
	}

	for _, bl := range ep.Function.Blocks {
		fmt.Fprintf(b, "bl_%s:;\n", bl.Name)
		for _, v := range bl.Values {
			emitValue(b, v, nameFor, bl)
		}
	}
	b.WriteString("}\n\n")
	return nil
}

func openclQualifiedType(ty ir.Type) string {
	base := openclScalarType(ty)
	if !ty.IsPointer() {
		return base
	}
	qualifier := map[ir.AddressSpace]string{
		ir.AddrGlobal:      "__global",
		ir.AddrSharedGroup:  "__local",
		ir.AddrConstant:    "__constant",
		ir.AddrLocalThread: "__private",
	}[ty.Space()]
	if qualifier == "" {
		qualifier = "__global"
	}
	return fmt.Sprintf("%s %s*", qualifier, openclScalarType(ty.Elem()))
}

func openclScalarType(ty ir.Type) string {
	switch ty.Kind() {
	case ir.KindFloat:
		if ty.BitWidth() == 64 {
			return "double"
		}
		return "float"
	case ir.KindInt:
		switch ty.BitWidth() {
		case 8:
			return "char"
		case 16:
			return "short"
		case 64:
			return "long"
		default:
			return "int"
		}
	case ir.KindBFloat16:
		return "ushort" // OpenCL C has no native bf16; carried as raw bits
	default:
		return "void"
	}
}

func emitValue(b *strings.Builder, v *ir.Value, nameFor func(ir.ValueID) string, bl *ir.BasicBlock) {
	switch v.Op {
	case ir.OpParam:
		return
	case ir.OpConstant:
		name := nameFor(v.ID)
		if v.Type.Kind() == ir.KindFloat {
			fmt.Fprintf(b, "\t%s %s = %g;\n", openclScalarType(v.Type), name, v.Const.Float)
		} else {
			fmt.Fprintf(b, "\t%s %s = %d;\n", openclScalarType(v.Type), name, v.Const.Int)
		}
	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv:
		if len(v.Operands) != 2 {
			return
		}
		op := map[ir.Opcode]string{ir.OpAdd: "+", ir.OpSub: "-", ir.OpMul: "*", ir.OpDiv: "/"}[v.Op]
		fmt.Fprintf(b, "\t%s %s = %s %s %s;\n", openclScalarType(v.Type), nameFor(v.ID), nameFor(v.Operands[0]), op, nameFor(v.Operands[1]))
	case ir.OpLoad:
		fmt.Fprintf(b, "\t%s %s = *%s;\n", openclScalarType(v.Type), nameFor(v.ID), nameFor(v.Operands[0]))
	case ir.OpStore:
		if len(v.Operands) == 2 {
			fmt.Fprintf(b, "\t*%s = %s;\n", nameFor(v.Operands[0]), nameFor(v.Operands[1]))
		}
	case ir.OpBarrier:
		b.WriteString("\tbarrier(CLK_LOCAL_MEM_FENCE);\n")
	case ir.OpShuffle:
		fmt.Fprintf(b, "\t%s %s = sub_group_shuffle_xor(%s, 1);\n", openclScalarType(v.Type), nameFor(v.ID), nameFor(v.Operands[0]))
	case ir.OpVote:
		if len(v.Operands) == 1 {
			fmt.Fprintf(b, "\t%s %s = sub_group_any(%s);\n", openclScalarType(v.Type), nameFor(v.ID), nameFor(v.Operands[0]))
		}
	case ir.OpAtomicCAS:
		if len(v.Operands) == 3 {
			fmt.Fprintf(b, "\t%s %s = atomic_cmpxchg(%s, %s, %s);\n",
				openclScalarType(v.Type), nameFor(v.ID), nameFor(v.Operands[0]), nameFor(v.Operands[1]), nameFor(v.Operands[2]))
		}
	case ir.OpAtomicAdd:
		if len(v.Operands) == 2 {
			fmt.Fprintf(b, "\t%s %s = atomic_add(%s, %s);\n",
				openclScalarType(v.Type), nameFor(v.ID), nameFor(v.Operands[0]), nameFor(v.Operands[1]))
		}
	case ir.OpAtomicExchange:
		if len(v.Operands) == 2 {
			fmt.Fprintf(b, "\t%s %s = atomic_xchg(%s, %s);\n",
				openclScalarType(v.Type), nameFor(v.ID), nameFor(v.Operands[0]), nameFor(v.Operands[1]))
		}
	case ir.OpBr:
		if len(bl.Succs) == 1 {
			fmt.Fprintf(b, "\tgoto bl_%s;\n", bl.Succs[0].Name)
		}
	case ir.OpCondBr:
		if len(v.Operands) == 1 && len(bl.Succs) == 2 {
			fmt.Fprintf(b, "\tif (%s) { goto bl_%s; } else { goto bl_%s; }\n",
				nameFor(v.Operands[0]), bl.Succs[0].Name, bl.Succs[1].Name)
		}
	case ir.OpReturn:
		b.WriteString("\treturn;\n")
	}
}
