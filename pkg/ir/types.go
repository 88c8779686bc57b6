// Package ir defines the device-independent intermediate representation
// shared by every backend: the type system, value/instruction graph, and the
// module container that holds them.
//
// Types are interned inside a single Module: two Type handles compare equal
// iff they describe the same type. Callers never construct a Type directly;
// they ask a Module's TypeTable for one.
package ir

import "fmt"

// Kind discriminates the primitive and composite type families a Value can
// carry.
type Kind int

const (
	KindInvalid Kind = iota
	KindInt
	KindFloat
	KindBFloat16
	KindPointer
	KindArray
	KindStruct
	KindVector
	KindOpaqueHandle
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBFloat16:
		return "bf16"
	case KindPointer:
		return "ptr"
	case KindArray:
		return "array"
	case KindStruct:
		return "struct"
	case KindVector:
		return "vector"
	case KindOpaqueHandle:
		return "handle"
	default:
		return "invalid"
	}
}

// AddressSpace is the memory region a pointer type refers to. Every pointer
// value carries one; passes may refine Generic to a concrete space but never
// the reverse: once a pointer is known to live in global or shared memory it
// never reverts to generic (see transform.AddrSpaceInference).
type AddressSpace int

const (
	AddrGeneric AddressSpace = iota
	AddrGlobal
	AddrSharedGroup
	AddrConstant
	AddrLocalThread
)

func (a AddressSpace) String() string {
	switch a {
	case AddrGlobal:
		return "global"
	case AddrSharedGroup:
		return "shared"
	case AddrConstant:
		return "constant"
	case AddrLocalThread:
		return "local"
	default:
		return "generic"
	}
}

// Type is an interned, identity-comparable handle into a Module's type
// table. Two Types are the same type iff they are `==`.
type Type struct {
	id    int
	table *TypeTable
}

func (t Type) String() string {
	if t.table == nil {
		return "<nil type>"
	}
	return t.table.desc(t).string()
}

// typeDesc is the structural description backing an interned Type. Only
// TypeTable constructs these; equality of the *canonical* pointer, not of
// field values, is what interning guarantees.
type typeDesc struct {
	kind Kind

	// KindInt / KindFloat
	bitWidth int

	// KindPointer
	elem  Type
	space AddressSpace

	// KindArray / KindVector
	length int

	// KindStruct
	fields []Type

	// KindOpaqueHandle
	handleName string
}

func (d *typeDesc) string() string {
	switch d.kind {
	case KindInt:
		return fmt.Sprintf("i%d", d.bitWidth)
	case KindFloat:
		return fmt.Sprintf("f%d", d.bitWidth)
	case KindBFloat16:
		return "bf16"
	case KindPointer:
		return fmt.Sprintf("ptr<%s,%s>", d.elem, d.space)
	case KindArray:
		return fmt.Sprintf("[%d x %s]", d.length, d.elem)
	case KindVector:
		return fmt.Sprintf("<%d x %s>", d.length, d.elem)
	case KindStruct:
		return fmt.Sprintf("struct%v", d.fields)
	case KindOpaqueHandle:
		return fmt.Sprintf("handle<%s>", d.handleName)
	default:
		return "invalid"
	}
}

// SizeBytes returns the in-memory size of the type for layout purposes, or 0
// for opaque handles (which have no host-visible representation).
func (d *typeDesc) sizeBytes() int {
	switch d.kind {
	case KindInt, KindFloat:
		return d.bitWidth / 8
	case KindBFloat16:
		return 2
	case KindPointer:
		return 8
	case KindArray, KindVector:
		return d.length * d.elem.table.desc(d.elem).sizeBytes()
	case KindStruct:
		total := 0
		for _, f := range d.fields {
			total += f.table.desc(f).sizeBytes()
		}
		return total
	default:
		return 0
	}
}

// TypeTable interns every Type reachable from one Module. Equality of Type
// values returned from the same table is pointer-cheap identity comparison;
// values from distinct tables are never equal even if structurally
// identical.
type TypeTable struct {
	descs []*typeDesc
	cache map[string]Type
}

// NewTypeTable creates an empty, ready-to-use type table.
func NewTypeTable() *TypeTable {
	return &TypeTable{cache: make(map[string]Type)}
}

func (t *TypeTable) intern(key string, d *typeDesc) Type {
	if ty, ok := t.cache[key]; ok {
		return ty
	}
	id := len(t.descs)
	t.descs = append(t.descs, d)
	ty := Type{id: id, table: t}
	t.cache[key] = ty
	return ty
}

func (t *TypeTable) desc(ty Type) *typeDesc {
	return t.descs[ty.id]
}

// Int interns an integer type of the given bit width. Valid widths are
// {8,16,32,64}; callers outside this package should only ever reach these
// through the exported helpers below.
func (t *TypeTable) Int(bitWidth int) Type {
	key := fmt.Sprintf("i%d", bitWidth)
	return t.intern(key, &typeDesc{kind: KindInt, bitWidth: bitWidth})
}

// Float interns a floating point type of the given bit width. Valid widths
// are {16,32,64}.
func (t *TypeTable) Float(bitWidth int) Type {
	key := fmt.Sprintf("f%d", bitWidth)
	return t.intern(key, &typeDesc{kind: KindFloat, bitWidth: bitWidth})
}

// BFloat16 interns the brain-float-16 type.
func (t *TypeTable) BFloat16() Type {
	return t.intern("bf16", &typeDesc{kind: KindBFloat16, bitWidth: 16})
}

// Pointer interns a pointer-to-elem type carrying the given address space.
func (t *TypeTable) Pointer(elem Type, space AddressSpace) Type {
	key := fmt.Sprintf("ptr<%d,%d>", elem.id, space)
	return t.intern(key, &typeDesc{kind: KindPointer, elem: elem, space: space})
}

// Array interns a fixed-length array-of-elem type.
func (t *TypeTable) Array(elem Type, length int) Type {
	key := fmt.Sprintf("arr<%d,%d>", elem.id, length)
	return t.intern(key, &typeDesc{kind: KindArray, elem: elem, length: length})
}

// Vector interns a fixed-width SIMD vector-of-elem type.
func (t *TypeTable) Vector(elem Type, lanes int) Type {
	key := fmt.Sprintf("vec<%d,%d>", elem.id, lanes)
	return t.intern(key, &typeDesc{kind: KindVector, elem: elem, length: lanes})
}

// Struct interns a struct type from its ordered field types.
func (t *TypeTable) Struct(fields ...Type) Type {
	key := "struct<"
	for _, f := range fields {
		key += fmt.Sprintf("%d,", f.id)
	}
	key += ">"
	return t.intern(key, &typeDesc{kind: KindStruct, fields: append([]Type(nil), fields...)})
}

// OpaqueHandle interns a named opaque device handle type (e.g. a texture or
// sampler handle that has no host-visible layout).
func (t *TypeTable) OpaqueHandle(name string) Type {
	key := "handle<" + name + ">"
	return t.intern(key, &typeDesc{kind: KindOpaqueHandle, handleName: name})
}

// Kind reports the structural kind of ty.
func (ty Type) Kind() Kind { return ty.table.desc(ty).kind }

// BitWidth reports the bit width of an int/float type; 0 otherwise.
func (ty Type) BitWidth() int { return ty.table.desc(ty).bitWidth }

// Elem reports the pointee/element type of a pointer, array, or vector type.
func (ty Type) Elem() Type { return ty.table.desc(ty).elem }

// Space reports the address space of a pointer type.
func (ty Type) Space() AddressSpace { return ty.table.desc(ty).space }

// Length reports the element count of an array or vector type.
func (ty Type) Length() int { return ty.table.desc(ty).length }

// Fields reports the ordered field types of a struct type.
func (ty Type) Fields() []Type { return ty.table.desc(ty).fields }

// IsPointer reports whether ty is a pointer type.
func (ty Type) IsPointer() bool { return ty.Kind() == KindPointer }

// SizeBytes returns the type's in-memory footprint, used for alignment and
// shared-memory sizing.
func (ty Type) SizeBytes() int { return ty.table.desc(ty).sizeBytes() }

// WithSpace returns a pointer type identical to ty but carrying a new
// address space. Used by transform.AddrSpaceInference to refine `generic`
// pointers to a concrete space without touching anything else about the
// type.
func (ty Type) WithSpace(space AddressSpace) Type {
	if ty.Kind() != KindPointer {
		panic("ir: WithSpace on non-pointer type")
	}
	return ty.table.Pointer(ty.Elem(), space)
}
