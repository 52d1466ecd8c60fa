package bytecode

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/plotnik-lang/plotnik-sub003/internal/ir"
	"github.com/plotnik-lang/plotnik-sub003/internal/regexdfa"
)

// Step is one decoded instruction. TypeIdx/FieldIdx index the NodeTypes and
// NodeFields tables (-1 when absent); Succs, Target, and Return are step
// ids.
type Step struct {
	ID       uint16
	Op       Opcode
	Nav      ir.Nav
	Wildcard bool
	TypeIdx  int
	FieldIdx int
	RegexID  int
	NegIdx   []int
	Pre      []ir.Effect
	Post     []ir.Effect
	Succs    []uint16
	Target   uint16
	Return   uint16
}

// TypeDef is one decoded TypeDefs entry.
type TypeDef struct {
	Data  uint16
	Count uint8
	Kind  ir.TypeKind
}

// TypeMember is one decoded TypeMembers pool entry.
type TypeMember struct {
	Name uint16 // string id
	Type ir.TypeId
}

// TypeName is one decoded TypeNames entry.
type TypeName struct {
	Name uint16 // string id
	Type ir.TypeId
}

// Entrypoint is one decoded per-definition entry record.
type Entrypoint struct {
	Step uint16
	Name uint16 // string id
	Type ir.TypeId
}

// Module is the parsed, read-only view over an encoded bytecode stream:
// borrowed bytes plus parsed tables; engines take it by reference.
type Module struct {
	Raw    []byte
	Linked bool

	Strings     []string
	Regexes     []*regexdfa.DFA // index 0 is nil (reserved "no regex")
	RegexNames  []uint16        // string id per regex, 0 for the reserved slot
	NodeTypes   []uint32        // string ids (unlinked) or grammar ids (linked)
	NodeFields  []uint32
	Trivia      []uint16
	TypeDefs    []TypeDef
	TypeMembers []TypeMember
	TypeNames   []TypeName
	Entrypoints []Entrypoint

	Steps     map[uint16]*Step
	StepOrder []uint16

	// Byte offsets of the sections the linker rewrites in place.
	NodeTypesOff  int
	NodeFieldsOff int
	TriviaOff     int
}

// Decode parses and validates raw. The CRC, magic, version, and declared
// total size are all checked before any section is trusted.
func Decode(raw []byte) (*Module, error) {
	if len(raw) < HeaderSize {
		return nil, fmt.Errorf("bytecode: %d bytes is too short for a header", len(raw))
	}
	if string(raw[0:4]) != Magic {
		return nil, fmt.Errorf("bytecode: bad magic %q", raw[0:4])
	}
	if v := binary.LittleEndian.Uint32(raw[4:]); v != Version {
		return nil, fmt.Errorf("bytecode: unsupported version %d", v)
	}
	if total := binary.LittleEndian.Uint32(raw[12:]); int(total) != len(raw) {
		return nil, fmt.Errorf("bytecode: declared size %d, got %d bytes", total, len(raw))
	}
	if sum := binary.LittleEndian.Uint32(raw[8:]); sum != crc32.ChecksumIEEE(raw[HeaderSize:]) {
		return nil, fmt.Errorf("bytecode: checksum mismatch")
	}

	stringBlobSize := int(binary.LittleEndian.Uint32(raw[16:]))
	regexBlobSize := int(binary.LittleEndian.Uint32(raw[20:]))
	var counts [numCounts]int
	for i := range counts {
		counts[i] = int(binary.LittleEndian.Uint16(raw[24+2*i:]))
	}

	m := &Module{Raw: raw, Linked: raw[44]&FlagLinked != 0}

	off := HeaderSize
	section := func(size int) ([]byte, error) {
		off = align64(off)
		if off+size > len(raw) {
			return nil, fmt.Errorf("bytecode: truncated at offset %d", off)
		}
		b := raw[off: off+size]
		off += size
		return b, nil
	}

	stringBlob, err := section(stringBlobSize)
	if err != nil {
		return nil, err
	}
	regexBlob, err := section(regexBlobSize)
	if err != nil {
		return nil, err
	}
	stringTable, err := section(4 * (counts[countStrings] + 1))
	if err != nil {
		return nil, err
	}
	regexTable, err := section(8 * (counts[countRegexes] + 1))
	if err != nil {
		return nil, err
	}
	m.NodeTypesOff = align64(off)
	nodeTypes, err := section(4 * counts[countNodeTypes])
	if err != nil {
		return nil, err
	}
	m.NodeFieldsOff = align64(off)
	nodeFields, err := section(4 * counts[countNodeFields])
	if err != nil {
		return nil, err
	}
	m.TriviaOff = align64(off)
	trivia, err := section(2 * counts[countTrivia])
	if err != nil {
		return nil, err
	}
	typeDefs, err := section(4 * counts[countTypeDefs])
	if err != nil {
		return nil, err
	}
	typeMembers, err := section(4 * counts[countTypeMembers])
	if err != nil {
		return nil, err
	}
	typeNames, err := section(4 * counts[countTypeNames])
	if err != nil {
		return nil, err
	}
	entrypoints, err := section(8 * counts[countEntrypoints])
	if err != nil {
		return nil, err
	}
	transitions, err := section(StepSize * counts[countSteps])
	if err != nil {
		return nil, err
	}

	// Strings.
	m.Strings = make([]string, counts[countStrings])
	for i := range m.Strings {
		lo := binary.LittleEndian.Uint32(stringTable[4*i:])
		hi := binary.LittleEndian.Uint32(stringTable[4*i+4:])
		if lo > hi || int(hi) > len(stringBlob) {
			return nil, fmt.Errorf("bytecode: string %d has invalid offsets [%d,%d)", i, lo, hi)
		}
		m.Strings[i] = string(stringBlob[lo:hi])
	}

	// Regexes.
	m.Regexes = make([]*regexdfa.DFA, counts[countRegexes])
	m.RegexNames = make([]uint16, counts[countRegexes])
	for i := 0; i < counts[countRegexes]; i++ {
		m.RegexNames[i] = binary.LittleEndian.Uint16(regexTable[8*i:])
		lo := binary.LittleEndian.Uint32(regexTable[8*i+4:])
		hi := binary.LittleEndian.Uint32(regexTable[8*i+12:])
		if lo == hi {
			continue
		}
		if lo > hi || int(hi) > len(regexBlob) {
			return nil, fmt.Errorf("bytecode: regex %d has invalid offsets [%d,%d)", i, lo, hi)
		}
		dfa, err := regexdfa.Unmarshal(regexBlob[lo:hi])
		if err != nil {
			return nil, fmt.Errorf("bytecode: regex %d: %w", i, err)
		}
		m.Regexes[i] = dfa
	}

	for i := 0; i < counts[countNodeTypes]; i++ {
		m.NodeTypes = append(m.NodeTypes, binary.LittleEndian.Uint32(nodeTypes[4*i:]))
	}
	for i := 0; i < counts[countNodeFields]; i++ {
		m.NodeFields = append(m.NodeFields, binary.LittleEndian.Uint32(nodeFields[4*i:]))
	}
	for i := 0; i < counts[countTrivia]; i++ {
		m.Trivia = append(m.Trivia, binary.LittleEndian.Uint16(trivia[2*i:]))
	}
	for i := 0; i < counts[countTypeDefs]; i++ {
		m.TypeDefs = append(m.TypeDefs, TypeDef{
			Data:  binary.LittleEndian.Uint16(typeDefs[4*i:]),
			Count: typeDefs[4*i+2],
			Kind:  ir.TypeKind(typeDefs[4*i+3]),
		})
	}
	for i := 0; i < counts[countTypeMembers]; i++ {
		m.TypeMembers = append(m.TypeMembers, TypeMember{
			Name: binary.LittleEndian.Uint16(typeMembers[4*i:]),
			Type: ir.TypeId(binary.LittleEndian.Uint16(typeMembers[4*i+2:])),
		})
	}
	for i := 0; i < counts[countTypeNames]; i++ {
		m.TypeNames = append(m.TypeNames, TypeName{
			Name: binary.LittleEndian.Uint16(typeNames[4*i:]),
			Type: ir.TypeId(binary.LittleEndian.Uint16(typeNames[4*i+2:])),
		})
	}
	for i := 0; i < counts[countEntrypoints]; i++ {
		m.Entrypoints = append(m.Entrypoints, Entrypoint{
			Step: binary.LittleEndian.Uint16(entrypoints[8*i:]),
			Name: binary.LittleEndian.Uint16(entrypoints[8*i+2:]),
			Type: ir.TypeId(binary.LittleEndian.Uint16(entrypoints[8*i+4:])),
		})
	}

	if err := m.decodeSteps(transitions); err != nil {
		return nil, err
	}
	return m, nil
}

func unpackEffect(v uint16) ir.Effect {
	eff := ir.Effect{Op: ir.EffectOp(v >> 12)}
	payload := int(v & 0xFFF)
	switch eff.Op {
	case ir.Set:
		eff.Member = payload
	case ir.EnumTag:
		eff.Member = payload // resolved to a tag string by the caller
	case ir.RegexEff:
		eff.Regex = payload
	}
	return eff
}

func (m *Module) decodeSteps(b []byte) error {
	m.Steps = make(map[uint16]*Step)
	for off := 0; off < len(b); {
		op := Opcode(b[off])
		if op == OpPad {
			off += StepSize
			continue
		}
		size := sizeOf(op)
		if op > OpReturn || off+size > len(b) {
			return fmt.Errorf("bytecode: invalid instruction at step %d", off/StepSize)
		}
		s := &Step{ID: uint16(off / StepSize), Op: op, TypeIdx: -1, FieldIdx: -1}

		switch op {
		case OpReturn:
			// no payload

		case OpCall:
			s.Nav = ir.Nav{Kind: ir.NavKind(b[off+1])}
			if f := binary.LittleEndian.Uint16(b[off+2:]); f != noSlot {
				s.FieldIdx = int(f)
			}
			s.Target = binary.LittleEndian.Uint16(b[off+4:])
			s.Return = binary.LittleEndian.Uint16(b[off+6:])

		case OpMatch8:
			b1 := b[off+1]
			s.Nav = ir.Nav{Kind: ir.NavKind(b1 & 0x0F), N: b[off+2], Floor: b[off+3]}
			s.Wildcard = b1&flagWildcard != 0
			if b1&flagHasType != 0 {
				s.TypeIdx = int(binary.LittleEndian.Uint16(b[off+4:]))
			}
			s.Succs = []uint16{binary.LittleEndian.Uint16(b[off+6:])}

		default: // extended match
			b1 := b[off+1]
			s.Nav = ir.Nav{Kind: ir.NavKind(b1 & 0x0F), N: b[off+2], Floor: b[off+3]}
			s.Wildcard = b1&flagWildcard != 0
			nNeg := int(b[off+4] & 0x0F)
			nPre := int(b[off+4] >> 4)
			nPost := int(b[off+5] & 0x0F)
			nSucc := int(b[off+6])

			slot := off + StepSize
			take := func() uint16 {
				v := binary.LittleEndian.Uint16(b[slot:])
				slot += 2
				return v
			}
			needed := nNeg + nPre + nPost + nSucc
			if b1&flagHasType != 0 {
				needed++
			}
			if b1&flagHasField != 0 {
				needed++
			}
			if b1&flagHasRegex != 0 {
				needed++
			}
			if needed > slotsOf(op) {
				return fmt.Errorf("bytecode: instruction at step %d overflows its %s class", s.ID, op)
			}
			if b1&flagHasType != 0 {
				s.TypeIdx = int(take())
			}
			if b1&flagHasField != 0 {
				s.FieldIdx = int(take())
			}
			if b1&flagHasRegex != 0 {
				s.RegexID = int(take())
			}
			for i := 0; i < nNeg; i++ {
				s.NegIdx = append(s.NegIdx, int(take()))
			}
			for i := 0; i < nPre; i++ {
				s.Pre = append(s.Pre, unpackEffect(take()))
			}
			for i := 0; i < nPost; i++ {
				s.Post = append(s.Post, unpackEffect(take()))
			}
			for i := 0; i < nSucc; i++ {
				s.Succs = append(s.Succs, take())
			}
		}

		m.Steps[s.ID] = s
		m.StepOrder = append(m.StepOrder, s.ID)
		off += size
	}
	return nil
}

// Reseal recomputes raw's post-header CRC after an in-place rewrite (the
// linker's section patching).
func Reseal(raw []byte) {
	binary.LittleEndian.PutUint32(raw[8:], crc32.ChecksumIEEE(raw[HeaderSize:]))
}

// SetLinked sets the header's linked flag. Callers must Reseal afterwards.
func SetLinked(raw []byte) {
	raw[44] |= FlagLinked
}

// String resolves a string id, returning "" for an out-of-range id.
func (m *Module) String(id uint16) string {
	if int(id) >= len(m.Strings) {
		return ""
	}
	return m.Strings[id]
}

// EntrypointByName returns the entrypoint whose definition name is name.
func (m *Module) EntrypointByName(name string) (Entrypoint, bool) {
	for _, ep := range m.Entrypoints {
		if m.String(ep.Name) == name {
			return ep, true
		}
	}
	return Entrypoint{}, false
}

// Types rebuilds the structural type context from the TypeDefs/TypeMembers
// sections. TypeId i corresponds to entry i.
func (m *Module) Types() (*ir.TypeContext, error) {
	tc := ir.NewTypeContext()
	for i, td := range m.TypeDefs {
		if i == 0 {
			continue // Void is pre-registered
		}
		id := tc.Reserve()
		shape := ir.Shape{Kind: td.Kind}
		switch td.Kind {
		case ir.Optional, ir.ArrayStar, ir.ArrayPlus, ir.Alias:
			shape.Inner = ir.TypeId(td.Data)
		case ir.Struct, ir.Enum:
			start, n := int(td.Data), int(td.Count)
			if start+n > len(m.TypeMembers) {
				return nil, fmt.Errorf("bytecode: type %d members [%d,%d) out of pool range", i, start, start+n)
			}
			for _, tm := range m.TypeMembers[start: start+n] {
				shape.Members = append(shape.Members, ir.Member{Name: m.String(tm.Name), Type: tm.Type})
			}
		}
		tc.Seal(id, shape)
	}
	for _, tn := range m.TypeNames {
		tc.RegisterName(m.String(tn.Name), tn.Type)
	}
	return tc, nil
}
