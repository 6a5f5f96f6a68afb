// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package circuit

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"slices"
)

// Record is the raw storage form of one gate.
//
// Records are what a serialized circuit decodes into. They are NOT
// validated: an edge may point outside the arena or disagree with the
// use list of its target. The verifier's data-integrity check is the
// component responsible for catching that.
type Record struct {
	Op       OpCode
	Type     ValueType
	BitField uint64
	Ins      []GateRef

	// Uses, when non-nil, is taken verbatim. When nil the use lists are
	// derived from the inputs of every record.
	Uses []Use
}

// Records returns the raw storage of c, one record per arena slot.
func Records(c *Circuit) []Record {
	recs := make([]Record, len(c.gates))
	for i, g := range c.gates {
		recs[i] = Record{
			Op:       g.op,
			Type:     g.typ,
			BitField: g.bitField,
			Ins:      slices.Clone(g.ins),
			Uses:     slices.Clone(g.uses),
		}
	}
	return recs
}

// FromRecords rebuilds a circuit from raw storage without validating it.
//
// The first gate of each root opcode becomes that root. Derived use lists
// only include in-range input edges.
func FromRecords(recs []Record) *Circuit {
	c := &Circuit{
		gates: make([]gate, len(recs)),
		roots: make(map[OpCode]GateRef, len(rootOrder)),
	}
	derive := true
	for _, r := range recs {
		if r.Uses != nil {
			derive = false
			break
		}
	}
	for i, r := range recs {
		c.gates[i] = gate{
			op:       r.Op,
			typ:      r.Type,
			bitField: r.BitField,
			ins:      slices.Clone(r.Ins),
		}
		if !derive {
			c.gates[i].uses = slices.Clone(r.Uses)
		}
		if slices.Contains(rootOrder, r.Op) {
			if _, seen := c.roots[r.Op]; !seen {
				c.roots[r.Op] = GateRef(i)
			}
		}
	}
	if derive {
		for i, r := range recs {
			for idx, in := range r.Ins {
				if c.Valid(in) {
					c.gates[in].uses = append(c.gates[in].uses, Use{User: GateRef(i), Index: idx})
				}
			}
		}
	}
	return c
}

// Fingerprint returns a stable hex digest of the circuit's gates and inputs.
//
// Use lists are not hashed; they are derived data. Two circuits with the
// same fingerprint schedule identically.
func Fingerprint(c *Circuit) string {
	h := sha256.New()
	var buf [8]byte
	put := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}
	put(uint64(len(c.gates)))
	for _, g := range c.gates {
		put(uint64(g.op))
		put(uint64(g.typ))
		put(g.bitField)
		put(uint64(len(g.ins)))
		for _, in := range g.ins {
			put(uint64(uint32(in)))
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
