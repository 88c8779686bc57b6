// Package ptx emits NVIDIA PTX assembly text from the verified IR, keyed to
// a declared compute capability. It implements the same Driver boundary as
// every other backend, but LoadModule/Launch are stubs here: without a CUDA
// toolchain reachable at build time there is no device to run the emitted
// text on, so this package's testable surface is the emitted PTX text
// itself (see EmitModule), matching how the CUDA stub driver in the wider
// pack reports unavailability rather than faking execution.
package ptx

import (
	"fmt"
	"strings"

	"github.com/orneryd/hxc/pkg/device"
	"github.com/orneryd/hxc/pkg/ir"
)

func init() {
	device.Register(device.BackendPTX, &Driver{})
}

// wmmaShapes is the validated set of tensor-core fragment shapes this
// backend will emit WMMA instructions for; any other declared shape falls
// back to scalar multiply-add.
var wmmaShapes = map[[3]int]bool{
	{16, 16, 16}: true,
	{16, 16, 8}:  true,
	{32, 8, 16}:  true,
	{8, 32, 16}:  true,
}

// EmitModule lowers every entry point in m to a PTX .entry function,
// targeting caps.ComputeCapability (e.g. "sm_80"). caps also gates the
// tensor-core tie-break: a WMMA candidate whose declared precision tier
// caps cannot satisfy falls back to scalar multiply-add, per spec §4.2.
func EmitModule(m *ir.Module, caps device.CapabilityDescriptor) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, ".version 8.3\n.target %s\n.address_size 64\n\n", caps.ComputeCapability)

	for _, ep := range m.Entries {
		if err := emitEntry(&b, ep, caps); err != nil {
			return "", err
		}
	}
	return b.String(), nil
}

func emitEntry(b *strings.Builder, ep ir.EntryPoint, caps device.CapabilityDescriptor) error {
	fmt.Fprintf(b, ".visible .entry %s(\n", ep.Name)
	for i, p := range ep.Params {
		sep := ","
		if i == len(ep.Params)-1 {
			sep = ""
		}
		fmt.Fprintf(b, "\t.param .u64 %s%s\n", p.Name, sep)
	}
	b.WriteString(")\n{\n")

	if ep.StaticSharedBytes > 0 {
		fmt.Fprintf(b, "\t.shared .align 4 .b8 smem[%d];\n", ep.StaticSharedBytes)
	}

	regs := newRegisterAllocator()
	for _, bl := range ep.Function.Blocks {
		fmt.Fprintf(b, "%s:\n", bl.Name)
		for _, v := range bl.Values {
			emitValue(b, v, regs, ep, bl, caps)
		}
	}
	b.WriteString("\tret;\n}\n\n")
	return nil
}

type registerAllocator struct {
	next map[string]int
	reg  map[ir.ValueID]string
}

func newRegisterAllocator() *registerAllocator {
	return &registerAllocator{next: make(map[string]int), reg: make(map[ir.ValueID]string)}
}

func (r *registerAllocator) alloc(id ir.ValueID, class string) string {
	n := r.next[class]
	r.next[class] = n + 1
	name := fmt.Sprintf("%%%s%d", class, n)
	r.reg[id] = name
	return name
}

func (r *registerAllocator) of(id ir.ValueID) string {
	if n, ok := r.reg[id]; ok {
		return n
	}
	return "%unknown"
}

// allocPred allocates a predicate register, PTX's dedicated 1-bit register
// class used by setp/@-guarded branches; it is never reused for arithmetic
// results, so it gets its own class key distinct from regClass's output.
func (r *registerAllocator) allocPred(id ir.ValueID) string {
	return r.alloc(id, "p")
}

func regClass(ty ir.Type) string {
	switch ty.Kind() {
	case ir.KindFloat:
		if ty.BitWidth() == 64 {
			return "fd"
		}
		return "f"
	case ir.KindPointer:
		return "rd"
	default:
		if ty.BitWidth() == 64 {
			return "rd"
		}
		return "r"
	}
}

func addressSpaceSuffix(space ir.AddressSpace) string {
	switch space {
	case ir.AddrGlobal:
		return "global"
	case ir.AddrSharedGroup:
		return "shared"
	case ir.AddrConstant:
		return "const"
	case ir.AddrLocalThread:
		return "local"
	default:
		return "generic"
	}
}

func emitValue(b *strings.Builder, v *ir.Value, regs *registerAllocator, ep ir.EntryPoint, bl *ir.BasicBlock, caps device.CapabilityDescriptor) {
	// ptrSpace names the address space of the pointer operand id; v.Type is
	// the loaded or atomically updated scalar and carries no space.
	ptrSpace := func(id ir.ValueID) string {
		for _, p := range ep.Function.Params {
			if p.ID == id {
				return addressSpaceSuffix(p.Type.Space())
			}
		}
		if pv := ep.Function.ValueByID(id); pv != nil {
			return addressSpaceSuffix(pv.Type.Space())
		}
		return addressSpaceSuffix(ir.AddrGeneric)
	}
	switch v.Op {
	case ir.OpParam:
		return
	case ir.OpConstant:
		class := regClass(v.Type)
		dst := regs.alloc(v.ID, class)
		if v.Type.Kind() == ir.KindFloat {
			fmt.Fprintf(b, "\tmov.f%d %s, 0f%x;\n", v.Type.BitWidth(), dst, v.Const.Float)
		} else {
			fmt.Fprintf(b, "\tmov.u%d %s, %d;\n", v.Type.BitWidth(), dst, v.Const.Int)
		}
	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv:
		emitArith(b, v, regs)
	case ir.OpLoad:
		dst := regs.alloc(v.ID, regClass(v.Type))
		space := ptrSpace(v.Operands[0])
		fmt.Fprintf(b, "\tld.%s.b%d %s, [%s];\n", space, v.Type.BitWidth(), dst, regs.of(v.Operands[0]))
	case ir.OpStore:
		if len(v.Operands) == 2 {
			fmt.Fprintf(b, "\tst.global.b32 [%s], %s;\n", regs.of(v.Operands[0]), regs.of(v.Operands[1]))
		}
	case ir.OpBarrier:
		b.WriteString("\tbar.sync 0;\n")
	case ir.OpShuffle:
		dst := regs.alloc(v.ID, "r")
		fmt.Fprintf(b, "\tshfl.sync.bfly.b32 %s, %s, 0, 0x1f, 0xffffffff;\n", dst, regs.of(v.Operands[0]))
	case ir.OpVote:
		if len(v.Operands) == 1 {
			pred := regs.allocPred(v.ID)
			dst := regs.alloc(v.ID, "r")
			fmt.Fprintf(b, "\tsetp.ne.s32 %s, %s, 0;\n", pred, regs.of(v.Operands[0]))
			fmt.Fprintf(b, "\tvote.sync.any.pred %s, %s, 0xffffffff;\n", pred, pred)
			fmt.Fprintf(b, "\tselp.s32 %s, 1, 0, %s;\n", dst, pred)
		}
	case ir.OpAtomicCAS:
		if len(v.Operands) == 3 {
			dst := regs.alloc(v.ID, regClass(v.Type))
			space := ptrSpace(v.Operands[0])
			fmt.Fprintf(b, "\tatom.%s.cas.b%d %s, [%s], %s, %s;\n",
				space, v.Type.BitWidth(), dst, regs.of(v.Operands[0]), regs.of(v.Operands[1]), regs.of(v.Operands[2]))
		}
	case ir.OpAtomicAdd:
		if len(v.Operands) == 2 {
			dst := regs.alloc(v.ID, regClass(v.Type))
			space := ptrSpace(v.Operands[0])
			suffix := fmt.Sprintf("u%d", v.Type.BitWidth())
			if v.Type.Kind() == ir.KindFloat {
				suffix = fmt.Sprintf("f%d", v.Type.BitWidth())
			}
			fmt.Fprintf(b, "\tatom.%s.add.%s %s, [%s], %s;\n",
				space, suffix, dst, regs.of(v.Operands[0]), regs.of(v.Operands[1]))
		}
	case ir.OpAtomicExchange:
		if len(v.Operands) == 2 {
			dst := regs.alloc(v.ID, regClass(v.Type))
			space := ptrSpace(v.Operands[0])
			fmt.Fprintf(b, "\tatom.%s.exch.b%d %s, [%s], %s;\n",
				space, v.Type.BitWidth(), dst, regs.of(v.Operands[0]), regs.of(v.Operands[1]))
		}
	case ir.OpTensorMMA:
		emitTensorMMA(b, v, regs, ep, caps)
	case ir.OpBr:
		if len(bl.Succs) == 1 {
			fmt.Fprintf(b, "\tbra.uni %s;\n", bl.Succs[0].Name)
		}
	case ir.OpCondBr:
		if len(v.Operands) == 1 && len(bl.Succs) == 2 {
			pred := regs.allocPred(v.ID)
			fmt.Fprintf(b, "\tsetp.ne.s32 %s, %s, 0;\n", pred, regs.of(v.Operands[0]))
			fmt.Fprintf(b, "\t@%s bra %s;\n", pred, bl.Succs[0].Name)
			fmt.Fprintf(b, "\tbra.uni %s;\n", bl.Succs[1].Name)
		}
	case ir.OpReturn:
		// terminator handled by caller's trailing "ret;"
	}
}

func emitArith(b *strings.Builder, v *ir.Value, regs *registerAllocator) {
	if len(v.Operands) != 2 {
		return
	}
	dst := regs.alloc(v.ID, regClass(v.Type))
	op := map[ir.Opcode]string{ir.OpAdd: "add", ir.OpSub: "sub", ir.OpMul: "mul.lo", ir.OpDiv: "div"}[v.Op]
	suffix := "s32"
	if v.Type.Kind() == ir.KindFloat {
		suffix = fmt.Sprintf("f%d", v.Type.BitWidth())
	}
	fmt.Fprintf(b, "\t%s.%s %s, %s, %s;\n", op, suffix, dst, regs.of(v.Operands[0]), regs.of(v.Operands[1]))
}

// emitTensorMMA emits a WMMA fragment when the entry's declared shape is in
// the validated set AND caps reports a supported precision tier >= the
// declared one (the smallest such tier is used, per spec §4.2's tie-break);
// otherwise it falls back to a scalar multiply-add with a one-time
// diagnostic comment naming which gate failed.
func emitTensorMMA(b *strings.Builder, v *ir.Value, regs *registerAllocator, ep ir.EntryPoint, caps device.CapabilityDescriptor) {
	dst := regs.alloc(v.ID, "f")
	attr := ep.TensorCoreAttr
	shapeOK := attr != nil && wmmaShapes[[3]int{attr.M, attr.N, attr.K}]

	var tier ir.PrecisionTier
	precisionOK := false
	if shapeOK {
		selected, ok := caps.SelectPrecisionTier(int(attr.PrecisionTier))
		tier, precisionOK = ir.PrecisionTier(selected), ok
	}

	if !shapeOK || !precisionOK {
		reason := "shape unsupported"
		if shapeOK {
			reason = "device does not support the requested precision tier"
		}
		diag := fmt.Sprintf("\t// tensor-core %s, falling back to scalar multiply-add\n", reason)
		if !strings.Contains(b.String(), diag) {
			b.WriteString(diag)
		}
		if len(v.Operands) >= 2 {
			fmt.Fprintf(b, "\tfma.rn.f32 %s, %s, %s, %s;\n", dst, regs.of(v.Operands[0]), regs.of(v.Operands[1]), dst)
		}
		return
	}
	fmt.Fprintf(b, "\twmma.mma.sync.aligned.row.row.m%dn%dk%d.%s %s, %s, %s, %s;\n",
		attr.M, attr.N, attr.K, tier, dst, regs.of(v.Operands[0]), regs.of(v.Operands[1]), dst)
}
