package jit

// CipMapEntry pairs a native code offset with the p-code cip it
// originated from. The runtime uses this to recover the source-level
// instruction when a trap fires at a given native pc.
type CipMapEntry struct {
	NativePC int
	Cip      int
}

// cipMapBuilder accumulates entries in native-pc order. Every append site
// in the compiler runs strictly forward through the assembler buffer, so
// the invariant "strictly monotonic in native pc" (spec §3, §8 invariant
// 2) holds by construction — Add panics if it ever doesn't, which would
// indicate a compiler bug rather than bad input.
type cipMapBuilder struct {
	entries []CipMapEntry
}

func (b *cipMapBuilder) Add(nativePC, cip int) {
	if n := len(b.entries); n > 0 && b.entries[n-1].NativePC >= nativePC {
		panic("jit: cip map entries out of order")
	}
	b.entries = append(b.entries, CipMapEntry{NativePC: nativePC, Cip: cip})
}

func (b *cipMapBuilder) Entries() []CipMapEntry {
	out := make([]CipMapEntry, len(b.entries))
	copy(out, b.entries)
	return out
}

// LookupCip returns the cip covering nativePC: the entry with the
// largest NativePC <= nativePC, or false if nativePC precedes the first
// entry.
func LookupCip(entries []CipMapEntry, nativePC int) (int, bool) {
	best := -1
	for i, e := range entries {
		if e.NativePC <= nativePC {
			best = i
		} else {
			break
		}
	}
	if best < 0 {
		return 0, false
	}
	return entries[best].Cip, true
}
