package ir

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
)

// ContentHash returns a deterministic 64-bit digest of the module's
// structural content: every function's blocks, values, operands, and types,
// plus global constants and entry-point signatures. Two modules built to
// describe the same kernel twice produce the same hash, which is what lets
// a kernel cache recognize a repeat compile; structurally distinct modules
// are overwhelmingly likely to differ.
//
// A query cache keyed on short query strings can afford FNV-1a. Modules are
// graphs of thousands of values, so ContentHash uses xxhash for its higher
// throughput on long byte streams, walking a canonical serialization of the
// IR graph instead of a source string.
func (m *Module) ContentHash() uint64 {
	h := xxhash.New()
	var buf [8]byte

	writeU64 := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}
	writeStr := func(s string) {
		writeU64(uint64(len(s)))
		h.Write([]byte(s))
	}
	writeType := func(ty Type) {
		writeStr(ty.String())
	}

	writeU64(uint64(len(m.Globals)))
	for _, g := range m.Globals {
		writeStr(g.Name)
		writeType(g.Type)
		writeU64(uint64(g.Const.Int))
		writeU64(math.Float64bits(g.Const.Float))
	}

	writeU64(uint64(len(m.Functions)))
	for _, fn := range m.Functions {
		writeStr(fn.Name)
		writeType(fn.ReturnType)
		writeU64(uint64(len(fn.ParamTypes)))
		for _, pt := range fn.ParamTypes {
			writeType(pt)
		}
		writeU64(uint64(len(fn.Blocks)))
		for _, b := range fn.Blocks {
			writeStr(b.Name)
			writeU64(uint64(len(b.Values)))
			for _, v := range b.Values {
				writeU64(uint64(v.ID))
				writeU64(uint64(v.Op))
				writeType(v.Type)
				writeU64(uint64(v.Const.Int))
				writeU64(math.Float64bits(v.Const.Float))
				writeU64(uint64(len(v.Operands)))
				for _, op := range v.Operands {
					writeU64(uint64(op))
				}
			}
		}
	}

	writeU64(uint64(len(m.Entries)))
	for _, ep := range m.Entries {
		writeStr(ep.Name)
		writeU64(uint64(ep.Dim))
		writeU64(uint64(ep.StaticSharedBytes))
		writeU64(uint64(len(ep.Params)))
		for _, p := range ep.Params {
			writeStr(p.Name)
			writeType(p.Type)
			writeU64(uint64(p.SizeBytes))
			writeU64(uint64(p.AlignTo))
		}
		if a := ep.TensorCoreAttr; a != nil {
			writeU64(1)
			writeU64(uint64(a.M))
			writeU64(uint64(a.N))
			writeU64(uint64(a.K))
			writeU64(uint64(a.PrecisionTier))
		} else {
			writeU64(0)
		}
	}

	return h.Sum64()
}
