// Package linker resolves a module's symbolic node-kind and field
// references against a concrete grammar: the string-indexed NodeTypes,
// NodeFields, and Trivia sections are rewritten in place with
// the grammar's numeric ids, the header's linked flag is set, and the CRC
// is recomputed. Unknown names are reported as UnknownKind / UnknownField
// and leave no output module.
package linker

import (
	"encoding/binary"
	"fmt"

	"github.com/plotnik-lang/plotnik-sub003/internal/bytecode"
	"github.com/plotnik-lang/plotnik-sub003/internal/diag"
	"github.com/plotnik-lang/plotnik-sub003/internal/grammar"
)

// Link returns a linked copy of the module encoded in raw. raw itself is
// never mutated. Any unresolved name is reported into sink and Link returns
// an error after checking every reference, so the sink carries the full
// list rather than just the first failure.
func Link(raw []byte, p grammar.Provider, sink *diag.Sink) ([]byte, error) {
	m, err := bytecode.Decode(raw)
	if err != nil {
		return nil, err
	}
	if m.Linked {
		return nil, fmt.Errorf("linker: module is already linked")
	}

	out := make([]byte, len(raw))
	copy(out, raw)

	failed := false
	for i, sym := range m.NodeTypes {
		name := m.String(uint16(sym))
		id, ok := p.KindID(name)
		if !ok {
			failed = true
			sink.Report(diag.Diagnostic{
				Kind:    diag.UnknownKind,
				Message: fmt.Sprintf("grammar %s has no node kind %q", p.Name(), name),
			})
			continue
		}
		binary.LittleEndian.PutUint32(out[m.NodeTypesOff+4*i:], uint32(id))
	}
	for i, sym := range m.NodeFields {
		name := m.String(uint16(sym))
		id, ok := p.FieldID(name)
		if !ok {
			failed = true
			sink.Report(diag.Diagnostic{
				Kind:    diag.UnknownField,
				Message: fmt.Sprintf("grammar %s has no field %q", p.Name(), name),
			})
			continue
		}
		binary.LittleEndian.PutUint32(out[m.NodeFieldsOff+4*i:], uint32(id))
	}
	for i, sym := range m.Trivia {
		name := m.String(sym)
		id, ok := p.KindID(name)
		if !ok {
			// A trivia kind the grammar does not declare is dropped rather
			// than fatal: it can never occur in a tree from this grammar.
			binary.LittleEndian.PutUint16(out[m.TriviaOff+2*i:], 0xFFFF)
			continue
		}
		binary.LittleEndian.PutUint16(out[m.TriviaOff+2*i:], id)
	}

	if failed {
		return nil, fmt.Errorf("linker: unresolved symbols against grammar %s", p.Name())
	}

	bytecode.SetLinked(out)
	bytecode.Reseal(out)
	return out, nil
}
