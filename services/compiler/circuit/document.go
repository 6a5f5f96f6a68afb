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
	"fmt"
	"math"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// MaxDocumentSize bounds circuit files read from disk (8MB).
const MaxDocumentSize = 8 * 1024 * 1024

// documentValidate validates the structure of decoded documents.
var documentValidate = validator.New()

// Document is the YAML form of a circuit.
//
// Example:
//
//	name: add_args
//	gates:
//	  - {id: 0, op: CIRCUIT_ROOT}
//	  - {id: 1, op: STATE_ENTRY, in: [0]}
//	  ...
//	  - {id: 6, op: ARG, type: i64, bitfield: 0, in: [5]}
type Document struct {
	Name  string     `yaml:"name" validate:"required,max=256"`
	Gates []GateSpec `yaml:"gates" validate:"required,min=1,dive"`
}

// GateSpec is one gate of a Document. IDs must be dense and in order.
type GateSpec struct {
	ID       int    `yaml:"id" validate:"gte=0"`
	Op       string `yaml:"op" validate:"required"`
	Type     string `yaml:"type,omitempty" validate:"omitempty,oneof=novalue i1 i32 i64 f64 tagged"`
	BitField uint64 `yaml:"bitfield,omitempty"`
	In       []int  `yaml:"in,omitempty,flow"`
}

// ParseDocument decodes and structurally validates a YAML circuit.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if err := documentValidate.Struct(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	for i, g := range doc.Gates {
		if g.ID != i {
			return nil, fmt.Errorf("%w: gate at position %d has id %d", ErrInvalidDocument, i, g.ID)
		}
	}
	return &doc, nil
}

// LoadFile reads and parses a circuit document from disk.
func LoadFile(path string) (*Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() > MaxDocumentSize {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrFileTooLarge, path, info.Size())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

// Build converts the document into raw records and then a circuit.
//
// Opcode and type names are resolved here. Edge targets are not validated,
// so a document may describe a corrupted circuit on purpose.
func (d *Document) Build() (*Circuit, error) {
	recs := make([]Record, len(d.Gates))
	for i, g := range d.Gates {
		op, err := ParseOpCode(g.Op)
		if err != nil {
			return nil, fmt.Errorf("gate %d: %w", g.ID, err)
		}
		typ, err := ParseValueType(g.Type)
		if err != nil {
			return nil, fmt.Errorf("gate %d: %w", g.ID, err)
		}
		ins := make([]GateRef, len(g.In))
		for j, in := range g.In {
			ins[j] = clampRef(in)
		}
		recs[i] = Record{Op: op, Type: typ, BitField: g.BitField, Ins: ins}
	}
	return FromRecords(recs), nil
}

// clampRef converts a document edge target to a GateRef. Targets outside
// the GateRef range saturate instead of wrapping, so they stay outside the
// arena and the verifier reports them.
func clampRef(in int) GateRef {
	switch {
	case in > math.MaxInt32:
		return math.MaxInt32
	case in < math.MinInt32:
		return math.MinInt32
	}
	return GateRef(in)
}

// NewDocument describes c as a document.
func NewDocument(name string, c *Circuit) *Document {
	doc := &Document{Name: name, Gates: make([]GateSpec, c.Len())}
	for i, g := range c.gates {
		spec := GateSpec{ID: i, Op: g.op.String(), BitField: g.bitField}
		if g.typ != NoValue {
			spec.Type = g.typ.String()
		}
		if len(g.ins) > 0 {
			spec.In = make([]int, len(g.ins))
			for j, in := range g.ins {
				spec.In[j] = int(in)
			}
		}
		doc.Gates[i] = spec
	}
	return doc
}

// Marshal encodes the document as YAML.
func (d *Document) Marshal() ([]byte, error) {
	return yaml.Marshal(d)
}
