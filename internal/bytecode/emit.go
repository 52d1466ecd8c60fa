package bytecode

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"sort"

	"github.com/plotnik-lang/plotnik-sub003/internal/ir"
	"github.com/plotnik-lang/plotnik-sub003/internal/regexdfa"
	"github.com/plotnik-lang/plotnik-sub003/internal/source"
)

// Input is everything the emitter needs: the optimized instruction graph,
// per-definition entry metadata, the shared type context and interner, the
// regex pattern list (index 0 reserved), and the trivia node-kind names.
type Input struct {
	Graph       *ir.Graph
	Entrypoints []ir.Label
	EntryNames  []string
	EntryTypes  []ir.TypeId
	TC          *ir.TypeContext
	Interner    *source.Interner
	Regexes     []string
	Trivia      []string
}

type emitter struct {
	in *Input

	nodeTypes  []source.Symbol
	typeIdx    map[source.Symbol]int
	nodeFields []source.Symbol
	fieldIdx   map[source.Symbol]int

	order  []ir.Label
	opOf   map[ir.Label]Opcode
	stepOf map[ir.Label]uint16
	steps  int // total 8-byte slots, padding included
}

// Emit lays out in as a complete module byte stream, CRC included.
func Emit(in *Input) ([]byte, error) {
	e := &emitter{
		in:       in,
		typeIdx:  make(map[source.Symbol]int),
		fieldIdx: make(map[source.Symbol]int),
		opOf:     make(map[ir.Label]Opcode),
		stepOf:   make(map[ir.Label]uint16),
	}
	e.collectSymbols()
	if err := e.layout(); err != nil {
		return nil, err
	}

	regexBlob, regexTable, err := e.buildRegexes()
	if err != nil {
		return nil, err
	}

	// The interner is final after collectSymbols: every string the sections
	// below reference has been issued its symbol.
	strs := in.Interner.All()
	var stringBlob []byte
	stringOffsets := make([]uint32, len(strs)+1)
	for i, s := range strs {
		stringOffsets[i] = uint32(len(stringBlob))
		stringBlob = append(stringBlob, s...)
	}
	stringOffsets[len(strs)] = uint32(len(stringBlob))

	transitions, err := e.encodeInstructions()
	if err != nil {
		return nil, err
	}

	typeDefs, typeMembers, err := e.buildTypes()
	if err != nil {
		return nil, err
	}
	typeNames := e.buildTypeNames()
	entrypoints, err := e.buildEntrypoints()
	if err != nil {
		return nil, err
	}
	trivia, err := e.buildTrivia()
	if err != nil {
		return nil, err
	}

	counts := [numCounts]int{
		countStrings:     len(strs),
		countRegexes:     len(in.Regexes),
		countNodeTypes:   len(e.nodeTypes),
		countNodeFields:  len(e.nodeFields),
		countTrivia:      len(trivia) / 2,
		countTypeDefs:    in.TC.Len(),
		countTypeMembers: len(typeMembers) / 4,
		countTypeNames:   len(typeNames) / 4,
		countEntrypoints: len(in.Entrypoints),
		countSteps:       e.steps,
	}
	for i, c := range counts {
		if c > 0xFFFF {
			return nil, fmt.Errorf("bytecode: section %d count %d overflows u16", i, c)
		}
	}

	stringTable := make([]byte, 0, 4*len(stringOffsets))
	for _, off := range stringOffsets {
		stringTable = binary.LittleEndian.AppendUint32(stringTable, off)
	}

	nodeTypesSec := make([]byte, 0, 4*len(e.nodeTypes))
	for _, sym := range e.nodeTypes {
		nodeTypesSec = binary.LittleEndian.AppendUint32(nodeTypesSec, uint32(sym))
	}
	nodeFieldsSec := make([]byte, 0, 4*len(e.nodeFields))
	for _, sym := range e.nodeFields {
		nodeFieldsSec = binary.LittleEndian.AppendUint32(nodeFieldsSec, uint32(sym))
	}

	sections := [][]byte{
		stringBlob, regexBlob, stringTable, regexTable,
		nodeTypesSec, nodeFieldsSec, trivia,
		typeDefs, typeMembers, typeNames, entrypoints, transitions,
	}
	total := HeaderSize
	for _, s := range sections {
		total = align64(total) // header is already 64; keeps each section aligned
		total += len(s)
	}
	total = align64(total)

	out := make([]byte, 0, total)
	out = append(out, make([]byte, HeaderSize)...)
	for _, s := range sections {
		for len(out)%LineSize != 0 {
			out = append(out, 0)
		}
		out = append(out, s...)
	}
	for len(out)%LineSize != 0 {
		out = append(out, 0)
	}

	// Header.
	copy(out[0:4], Magic)
	binary.LittleEndian.PutUint32(out[4:], Version)
	binary.LittleEndian.PutUint32(out[12:], uint32(len(out)))
	binary.LittleEndian.PutUint32(out[16:], uint32(len(stringBlob)))
	binary.LittleEndian.PutUint32(out[20:], uint32(len(regexBlob)))
	for i, c := range counts {
		binary.LittleEndian.PutUint16(out[24+2*i:], uint16(c))
	}
	binary.LittleEndian.PutUint32(out[8:], crc32.ChecksumIEEE(out[HeaderSize:]))
	return out, nil
}

// collectSymbols interns every string the module references and builds the
// node-type and node-field tables in first-use order over the graph's
// allocation order, which is deterministic.
func (e *emitter) collectSymbols() {
	in := e.in
	for _, l := range in.Graph.Labels() {
		instr := in.Graph.Get(l)
		if instr.Op != ir.OpMatch {
			continue
		}
		if instr.NodeType >= 0 {
			e.typeTableIdx(source.Symbol(instr.NodeType))
		}
		if instr.NodeField >= 0 {
			e.fieldTableIdx(source.Symbol(instr.NodeField))
		}
		for _, f := range instr.NegFields {
			e.fieldTableIdx(source.Symbol(f))
		}
		for _, eff := range instr.PreEffects {
			if eff.Op == ir.EnumTag {
				in.Interner.Intern(eff.Tag)
			}
		}
		for _, eff := range instr.PostEffects {
			if eff.Op == ir.EnumTag {
				in.Interner.Intern(eff.Tag)
			}
		}
	}
	for _, name := range in.EntryNames {
		in.Interner.Intern(name)
	}
	for _, s := range in.TC.All() {
		for _, m := range s.Members {
			in.Interner.Intern(m.Name)
		}
	}
	for name := range in.TC.Names() {
		in.Interner.Intern(name)
	}
	for _, t := range in.Trivia {
		in.Interner.Intern(t)
	}
	for i, p := range in.Regexes {
		if i == 0 {
			continue
		}
		in.Interner.Intern(p)
	}
}

func (e *emitter) typeTableIdx(sym source.Symbol) int {
	if i, ok := e.typeIdx[sym]; ok {
		return i
	}
	i := len(e.nodeTypes)
	e.nodeTypes = append(e.nodeTypes, sym)
	e.typeIdx[sym] = i
	return i
}

func (e *emitter) fieldTableIdx(sym source.Symbol) int {
	if i, ok := e.fieldIdx[sym]; ok {
		return i
	}
	i := len(e.nodeFields)
	e.nodeFields = append(e.nodeFields, sym)
	e.fieldIdx[sym] = i
	return i
}

// instrClass picks the instruction's size class from its payload.
func (e *emitter) instrClass(instr *ir.Instr) Opcode {
	switch instr.Op {
	case ir.OpCall, ir.OpTrampoline:
		return OpCall
	case ir.OpReturn:
		return OpReturn
	}
	compact := instr.NodeField < 0 && instr.RegexID <= 0 &&
		len(instr.NegFields) == 0 &&
		len(instr.PreEffects) == 0 && len(instr.PostEffects) == 0 &&
		len(instr.Successors) == 1
	if compact {
		return OpMatch8
	}
	slots := len(instr.NegFields) + len(instr.PreEffects) + len(instr.PostEffects) + len(instr.Successors)
	if instr.NodeType >= 0 {
		slots++
	}
	if instr.NodeField >= 0 {
		slots++
	}
	if instr.RegexID > 0 {
		slots++
	}
	return classFor(slots)
}

// layout orders instructions (entrypoint chains first, then the remaining
// chains longest-first) and assigns step ids, inserting padding steps so no
// instruction of 16 bytes or more straddles a 64-byte line.
func (e *emitter) layout() error {
	g := e.in.Graph
	placed := make(map[ir.Label]bool)

	chainNext := func(instr *ir.Instr) (ir.Label, bool) {
		var cands []ir.Label
		switch instr.Op {
		case ir.OpMatch:
			cands = instr.Successors
		case ir.OpCall, ir.OpTrampoline:
			cands = []ir.Label{instr.Target, instr.ReturnAddr}
		}
		for _, c := range cands {
			if !placed[c] && g.Get(c) != nil {
				return c, true
			}
		}
		return 0, false
	}

	place := func(start ir.Label) {
		for l := start;; {
			if placed[l] || g.Get(l) == nil {
				return
			}
			placed[l] = true
			e.order = append(e.order, l)
			next, ok := chainNext(g.Get(l))
			if !ok {
				return
			}
			l = next
		}
	}

	for _, entry := range e.in.Entrypoints {
		place(entry)
	}

	// Remaining instructions: measure the chain each would start, then place
	// the longest chains first for locality.
	var rest []ir.Label
	for _, l := range g.Labels() {
		if !placed[l] {
			rest = append(rest, l)
		}
	}
	chainLen := func(start ir.Label) int {
		seen := map[ir.Label]bool{}
		n := 0
		for l := start; !placed[l] && !seen[l] && g.Get(l) != nil; {
			seen[l] = true
			n++
			next, ok := chainNext(g.Get(l))
			if !ok {
				break
			}
			if placed[next] || seen[next] {
				break
			}
			l = next
		}
		return n
	}
	sort.SliceStable(rest, func(i, j int) bool { return chainLen(rest[i]) > chainLen(rest[j]) })
	for _, l := range rest {
		place(l)
	}

	offset := 0
	for _, l := range e.order {
		op := e.instrClass(g.Get(l))
		e.opOf[l] = op
		size := sizeOf(op)
		if size >= 16 && offset%LineSize+size > LineSize {
			offset = align64(offset)
		}
		step := offset / StepSize
		if step > 0xFFFF {
			return fmt.Errorf("bytecode: transitions section exceeds the u16 step-id space")
		}
		e.stepOf[l] = uint16(step)
		offset += size
	}
	e.steps = offset / StepSize
	return nil
}

func packEffect(eff ir.Effect, interner *source.Interner) (uint16, error) {
	payload := 0
	switch eff.Op {
	case ir.Set:
		payload = eff.Member
	case ir.EnumTag:
		payload = int(interner.Intern(eff.Tag))
	case ir.RegexEff:
		payload = eff.Regex
	}
	if payload < 0 || payload > 0xFFF {
		return 0, fmt.Errorf("bytecode: effect payload %d overflows the 12-bit field", payload)
	}
	return uint16(eff.Op)<<12 | uint16(payload), nil
}

func (e *emitter) encodeInstructions() ([]byte, error) {
	g := e.in.Graph
	out := make([]byte, e.steps*StepSize)

	putU16 := func(off int, v uint16) {
		binary.LittleEndian.PutUint16(out[off:], v)
	}

	for _, l := range e.order {
		instr := g.Get(l)
		op := e.opOf[l]
		off := int(e.stepOf[l]) * StepSize

		switch op {
		case OpReturn:
			out[off] = byte(OpReturn)

		case OpCall:
			out[off] = byte(OpCall)
			out[off+1] = byte(instr.Nav.Kind)
			field := uint16(noSlot)
			if instr.NodeField >= 0 {
				field = uint16(e.fieldTableIdx(source.Symbol(instr.NodeField)))
			}
			putU16(off+2, field)
			putU16(off+4, e.stepOf[instr.Target])
			putU16(off+6, e.stepOf[instr.ReturnAddr])

		case OpMatch8:
			out[off] = byte(OpMatch8)
			b1 := byte(instr.Nav.Kind)
			if instr.Wildcard {
				b1 |= flagWildcard
			}
			if instr.NodeType >= 0 {
				b1 |= flagHasType
			}
			out[off+1] = b1
			out[off+2] = instr.Nav.N
			out[off+3] = instr.Nav.Floor
			if instr.NodeType >= 0 {
				putU16(off+4, uint16(e.typeTableIdx(source.Symbol(instr.NodeType))))
			}
			putU16(off+6, e.stepOf[instr.Successors[0]])

		default: // extended match
			out[off] = byte(op)
			b1 := byte(instr.Nav.Kind)
			if instr.Wildcard {
				b1 |= flagWildcard
			}
			if instr.NodeType >= 0 {
				b1 |= flagHasType
			}
			if instr.NodeField >= 0 {
				b1 |= flagHasField
			}
			if instr.RegexID > 0 {
				b1 |= flagHasRegex
			}
			out[off+1] = b1
			out[off+2] = instr.Nav.N
			out[off+3] = instr.Nav.Floor
			out[off+4] = byte(len(instr.NegFields)) | byte(len(instr.PreEffects))<<4
			out[off+5] = byte(len(instr.PostEffects))
			out[off+6] = byte(len(instr.Successors))

			slot := off + StepSize
			put := func(v uint16) {
				putU16(slot, v)
				slot += 2
			}
			if instr.NodeType >= 0 {
				put(uint16(e.typeTableIdx(source.Symbol(instr.NodeType))))
			}
			if instr.NodeField >= 0 {
				put(uint16(e.fieldTableIdx(source.Symbol(instr.NodeField))))
			}
			if instr.RegexID > 0 {
				put(uint16(instr.RegexID))
			}
			for _, f := range instr.NegFields {
				put(uint16(e.fieldTableIdx(source.Symbol(f))))
			}
			for _, eff := range instr.PreEffects {
				v, err := packEffect(eff, e.in.Interner)
				if err != nil {
					return nil, err
				}
				put(v)
			}
			for _, eff := range instr.PostEffects {
				v, err := packEffect(eff, e.in.Interner)
				if err != nil {
					return nil, err
				}
				put(v)
			}
			for _, s := range instr.Successors {
				put(e.stepOf[s])
			}
			if slot > off+sizeOf(op) {
				return nil, fmt.Errorf("bytecode: instruction at step %d overflows its %s class", e.stepOf[l], op)
			}
		}
	}
	return out, nil
}

func (e *emitter) buildRegexes() (blob, table []byte, err error) {
	in := e.in
	offsets := make([]uint32, len(in.Regexes)+1)
	for i, pattern := range in.Regexes {
		offsets[i] = uint32(len(blob))
		if i == 0 {
			continue // reserved "no regex" entry has an empty image
		}
		dfa, cerr := regexdfa.Compile(pattern)
		if cerr != nil {
			return nil, nil, fmt.Errorf("bytecode: regex %d: %w", i, cerr)
		}
		blob = append(blob, dfa.Marshal()...)
	}
	offsets[len(in.Regexes)] = uint32(len(blob))

	for i := range offsets {
		sym := uint16(0)
		if i > 0 && i < len(in.Regexes) {
			sym = uint16(in.Interner.Intern(in.Regexes[i]))
		}
		table = binary.LittleEndian.AppendUint16(table, sym)
		table = binary.LittleEndian.AppendUint16(table, 0)
		table = binary.LittleEndian.AppendUint32(table, offsets[i])
	}
	return blob, table, nil
}

func (e *emitter) buildTypes() (defs, members []byte, err error) {
	tc := e.in.TC
	for id := 0; id < tc.Len(); id++ {
		s := tc.Shape(ir.TypeId(id))
		var data uint16
		var count uint8
		switch s.Kind {
		case ir.Optional, ir.ArrayStar, ir.ArrayPlus, ir.Alias:
			data = uint16(s.Inner)
		case ir.Struct, ir.Enum:
			if len(s.Members) > 0xFF {
				return nil, nil, fmt.Errorf("bytecode: type %d has %d members", id, len(s.Members))
			}
			data = uint16(len(members) / 4)
			count = uint8(len(s.Members))
			for _, m := range s.Members {
				members = binary.LittleEndian.AppendUint16(members, uint16(e.in.Interner.Intern(m.Name)))
				members = binary.LittleEndian.AppendUint16(members, uint16(m.Type))
			}
		}
		defs = binary.LittleEndian.AppendUint16(defs, data)
		defs = append(defs, count, byte(s.Kind))
	}
	return defs, members, nil
}

func (e *emitter) buildTypeNames() []byte {
	names := e.in.TC.Names()
	keys := make([]string, 0, len(names))
	for k := range names {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var out []byte
	for _, k := range keys {
		out = binary.LittleEndian.AppendUint16(out, uint16(e.in.Interner.Intern(k)))
		out = binary.LittleEndian.AppendUint16(out, uint16(names[k]))
	}
	return out
}

func (e *emitter) buildEntrypoints() ([]byte, error) {
	in := e.in
	if len(in.EntryNames) != len(in.Entrypoints) || len(in.EntryTypes) != len(in.Entrypoints) {
		return nil, fmt.Errorf("bytecode: entrypoint metadata length mismatch")
	}
	var out []byte
	for i, l := range in.Entrypoints {
		out = binary.LittleEndian.AppendUint16(out, e.stepOf[l])
		out = binary.LittleEndian.AppendUint16(out, uint16(in.Interner.Intern(in.EntryNames[i])))
		out = binary.LittleEndian.AppendUint16(out, uint16(in.EntryTypes[i]))
		out = binary.LittleEndian.AppendUint16(out, 0)
	}
	return out, nil
}

func (e *emitter) buildTrivia() ([]byte, error) {
	var out []byte
	for _, t := range e.in.Trivia {
		sym := e.in.Interner.Intern(t)
		if sym > 0xFFFF {
			return nil, fmt.Errorf("bytecode: trivia symbol %d overflows u16", sym)
		}
		out = binary.LittleEndian.AppendUint16(out, uint16(sym))
	}
	return out, nil
}
