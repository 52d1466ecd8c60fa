// Package engine executes a bytecode module against a source tree: a
// cursor-driven, backtracking state machine that walks the tree
// per navigation commands and skip policies, applying capture effects to
// assemble the output value.
package engine

import (
	"errors"
	"fmt"

	"github.com/plotnik-lang/plotnik-sub003/internal/bytecode"
	"github.com/plotnik-lang/plotnik-sub003/internal/grammar"
	"github.com/plotnik-lang/plotnik-sub003/internal/ir"
	"github.com/plotnik-lang/plotnik-sub003/internal/values"
)

// ErrFuelExhausted aborts an execution whose fuel counter ran out.
var ErrFuelExhausted = errors.New("engine: execution fuel exhausted")

// DefaultFuel is the per-execution fuel budget when the caller supplies
// none. Each instruction and each cursor movement costs one unit.
const DefaultFuel = 1 << 20

// Options tunes one execution.
type Options struct {
	// Fuel caps instruction + cursor-move count; 0 means DefaultFuel.
	Fuel int
	// RawWildcard widens "_" to also match anonymous nodes (the CLI's
	// --raw flag).
	RawWildcard bool
	// Trace, when set, receives one event per executed instruction.
	Trace func(TraceEvent)
}

// TraceEvent describes one executed instruction for the trace subcommand.
type TraceEvent struct {
	Step   uint16
	Op     string
	Cursor int32
	Note   string
}

// Result is one successful match: the descendant index the pattern was
// anchored at and the assembled value.
type Result struct {
	Start int32
	Value values.Value
}

// Engine binds a decoded module to one source tree. The module and tree are
// read-only by reference for the engine's lifetime; all mutable state lives
// in the per-attempt machine.
type Engine struct {
	mod  *bytecode.Module
	tree *grammar.Tree
	opts Options

	kindOf  []uint32 // NodeTypes table resolved to tree kind ids
	fieldOf []uint16 // NodeFields table resolved to tree field ids
	trivia  map[uint16]bool
	tc      *ir.TypeContext
}

const unresolved = 0xFFFFFFFF

// New resolves mod's node-kind, field, and trivia tables against tree's
// provider. A linked module's ids are used as-is; an unlinked module
// resolves by name at this point, the slower path that keeps a module
// for grammar-less checking.
func New(mod *bytecode.Module, tree *grammar.Tree, opts Options) (*Engine, error) {
	e := &Engine{mod: mod, tree: tree, opts: opts, trivia: make(map[uint16]bool)}
	p := tree.Provider
	for _, v := range mod.NodeTypes {
		if mod.Linked {
			e.kindOf = append(e.kindOf, v)
			continue
		}
		if id, ok := p.KindID(mod.String(uint16(v))); ok {
			e.kindOf = append(e.kindOf, uint32(id))
		} else {
			e.kindOf = append(e.kindOf, unresolved)
		}
	}
	for _, v := range mod.NodeFields {
		if mod.Linked {
			e.fieldOf = append(e.fieldOf, uint16(v))
			continue
		}
		if id, ok := p.FieldID(mod.String(uint16(v))); ok {
			e.fieldOf = append(e.fieldOf, id)
		} else {
			e.fieldOf = append(e.fieldOf, 0xFFFF)
		}
	}
	for _, v := range mod.Trivia {
		if mod.Linked {
			e.trivia[v] = true
			continue
		}
		if id, ok := p.KindID(mod.String(v)); ok {
			e.trivia[id] = true
		}
	}
	tc, err := mod.Types()
	if err != nil {
		return nil, err
	}
	e.tc = tc
	return e, nil
}

// First anchors ep at every node in pre-order and returns the first
// successful match, or nil if no position accepts.
func (e *Engine) First(ep bytecode.Entrypoint) (*Result, error) {
	fuel := e.fuelBudget()
	for start := int32(0); start < int32(e.tree.Len()); start++ {
		v, ok, err := e.attempt(ep, start, &fuel)
		if err != nil {
			return nil, err
		}
		if ok {
			return &Result{Start: start, Value: v}, nil
		}
	}
	return nil, nil
}

// All returns every accepting anchor position in pre-order.
func (e *Engine) All(ep bytecode.Entrypoint) ([]Result, error) {
	fuel := e.fuelBudget()
	var out []Result
	for start := int32(0); start < int32(e.tree.Len()); start++ {
		v, ok, err := e.attempt(ep, start, &fuel)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, Result{Start: start, Value: v})
		}
	}
	return out, nil
}

func (e *Engine) fuelBudget() int {
	if e.opts.Fuel > 0 {
		return e.opts.Fuel
	}
	return DefaultFuel
}

func (e *Engine) attempt(ep bytecode.Entrypoint, start int32, fuel *int) (values.Value, bool, error) {
	m := &machine{
		eng:  e,
		cur:  grammar.NewCursor(e.tree),
		fuel: fuel,
		base: e.tree.Nodes[start].Depth,
	}
	m.cur.GotoDescendant(start)
	v, ok, err := m.run(ep.Step)
	if err != nil {
		return nil, false, err
	}
	if ok {
		verifyResult(v, ep.Type, e.tc)
	}
	return v, ok, err
}

// machine is the mutable state of one anchored attempt.
type machine struct {
	eng  *Engine
	cur  *grammar.Cursor
	fuel *int
	base int32 // cursor depth the current frame was entered at

	frames  []callFrame
	vstack  []vframe
	pending []values.Value
	cps     []choicepoint
}

type callFrame struct {
	ret  uint16
	base int32
}

type vfKind int

const (
	vfStruct vfKind = iota
	vfArray
	vfEnum
)

type vframe struct {
	kind    vfKind
	tag     string
	members []values.Member
	elems   []values.Value
}

// snapshot is a full copy of the value-side state plus the cursor position;
// backtracking restores it wholesale. Values themselves are immutable, so
// element-shallow copies suffice.
type snapshot struct {
	cursor  int32
	base    int32
	frames  []callFrame
	vstack  []vframe
	pending []values.Value
}

type skipPolicy int

const (
	polNone skipPolicy = iota // no candidate search (epsilon, up)
	polExact
	polTrivia
	polAny
)

type choicepoint struct {
	snap snapshot
	step uint16
	// Remaining successor alternatives (branch choicepoint)...
	alts []uint16
	idx  int
	// ...or a sibling-search resume (search choicepoint).
	search    bool
	policy    skipPolicy
	candidate int32
}

func (m *machine) snapshotState() snapshot {
	s := snapshot{
		cursor:  m.cur.DescendantIndex(),
		base:    m.base,
		frames:  append([]callFrame(nil), m.frames...),
		vstack:  make([]vframe, len(m.vstack)),
		pending: append([]values.Value(nil), m.pending...),
	}
	for i, f := range m.vstack {
		s.vstack[i] = vframe{
			kind:    f.kind,
			tag:     f.tag,
			members: append([]values.Member(nil), f.members...),
			elems:   append([]values.Value(nil), f.elems...),
		}
	}
	return s
}

func (m *machine) restore(s snapshot) {
	m.cur.GotoDescendant(s.cursor)
	m.base = s.base
	m.frames = append(m.frames[:0:0], s.frames...)
	m.pending = append(m.pending[:0:0], s.pending...)
	m.vstack = make([]vframe, len(s.vstack))
	for i, f := range s.vstack {
		m.vstack[i] = vframe{
			kind:    f.kind,
			tag:     f.tag,
			members: append([]values.Member(nil), f.members...),
			elems:   append([]values.Value(nil), f.elems...),
		}
	}
}

func (m *machine) charge() error {
	*m.fuel--
	if *m.fuel < 0 {
		return ErrFuelExhausted
	}
	return nil
}

// run executes from entry until acceptance or exhaustion of choicepoints.
func (m *machine) run(entry uint16) (values.Value, bool, error) {
	pc := entry
	for {
		if err := m.charge(); err != nil {
			return nil, false, err
		}
		st := m.eng.mod.Steps[pc]
		if st == nil {
			return nil, false, fmt.Errorf("engine: jump to undefined step %d", pc)
		}
		m.trace(st, "")

		if st.Op == bytecode.OpReturn {
			if len(m.frames) == 0 {
				return m.acceptValue(), true, nil
			}
			fr := m.frames[len(m.frames)-1]
			m.frames = m.frames[:len(m.frames)-1]
			m.base = fr.base
			pc = fr.ret
			continue
		}

		next, ok, err := m.execStep(st, true, polNone)
		if err != nil {
			return nil, false, err
		}
		if ok {
			pc = next
			continue
		}

		next, ok, err = m.backtrack()
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil // attempt fails
		}
		pc = next
	}
}

// backtrack pops choicepoints until one yields a runnable continuation.
func (m *machine) backtrack() (uint16, bool, error) {
	for len(m.cps) > 0 {
		cp := &m.cps[len(m.cps)-1]

		if cp.search {
			c := *cp
			m.cps = m.cps[:len(m.cps)-1]
			m.restore(c.snap)
			m.cur.GotoDescendant(c.candidate)
			st := m.eng.mod.Steps[c.step]
			m.trace(st, "retry")
			next, ok, err := m.execStep(st, false, c.policy)
			if err != nil {
				return 0, false, err
			}
			if ok {
				return next, true, nil
			}
			continue
		}

		m.restore(cp.snap)
		next := cp.alts[cp.idx]
		cp.idx++
		if cp.idx >= len(cp.alts) {
			m.cps = m.cps[:len(m.cps)-1]
		}
		return next, true, nil
	}
	return 0, false, nil
}

// execStep runs one Match or Call instruction. With doNav set it first
// applies the instruction's navigation; a search-choicepoint retry enters
// with doNav=false and the cursor already on the candidate.
func (m *machine) execStep(st *bytecode.Step, doNav bool, policy skipPolicy) (uint16, bool, error) {
	if st.Op == bytecode.OpCall {
		if doNav {
			var ok bool
			var err error
			ok, policy, err = m.navigate(st.Nav)
			if err != nil {
				return 0, false, err
			}
			if !ok {
				return 0, false, nil
			}
		}
		// A field constraint on a ref filters the candidate before the
		// callee runs; the kind test itself happens inside the callee.
		for st.FieldIdx >= 0 && m.cur.Node().Field != m.eng.fieldOf[st.FieldIdx] {
			ok, err := m.advance(policy)
			if err != nil {
				return 0, false, err
			}
			if !ok {
				return 0, false, nil
			}
		}
		m.pushSearchCP(st, policy)
		m.frames = append(m.frames, callFrame{ret: st.Return, base: m.base})
		m.base = m.cur.Depth()
		return st.Target, true, nil
	}

	hasTest := st.TypeIdx >= 0 || st.Wildcard || st.FieldIdx >= 0 ||
		st.RegexID > 0 || len(st.NegIdx) > 0

	if doNav {
		var ok bool
		var err error
		ok, policy, err = m.navigate(st.Nav)
		if err != nil {
			return 0, false, err
		}
		if !ok {
			return 0, false, nil
		}
	}

	if !hasTest || st.Nav.Kind == ir.NavEpsilon {
		m.applyEffects(st)
		return m.chooseSuccessor(st)
	}

	for {
		if m.testNode(st) {
			m.pushSearchCP(st, policy)
			m.applyEffects(st)
			return m.chooseSuccessor(st)
		}
		ok, err := m.advance(policy)
		if err != nil {
			return 0, false, err
		}
		if !ok {
			return 0, false, nil
		}
	}
}

// pushSearchCP records a resume point at the next candidate sibling, if the
// skip policy lets the search move past the current node.
func (m *machine) pushSearchCP(st *bytecode.Step, policy skipPolicy) {
	if !m.canSkipCurrent(policy) {
		return
	}
	next := m.cur.Node().NextSibling
	if next < 0 {
		return
	}
	m.cps = append(m.cps, choicepoint{
		snap:      m.snapshotState(),
		step:      st.ID,
		search:    true,
		policy:    policy,
		candidate: next,
	})
}

func (m *machine) canSkipCurrent(policy skipPolicy) bool {
	switch policy {
	case polAny:
		return true
	case polTrivia:
		return m.eng.trivia[m.cur.Node().Kind]
	default:
		return false
	}
}

// advance moves the search to the next sibling when the policy allows
// skipping the current node.
func (m *machine) advance(policy skipPolicy) (bool, error) {
	if !m.canSkipCurrent(policy) {
		return false, nil
	}
	if err := m.charge(); err != nil {
		return false, err
	}
	return m.cur.GotoNextSibling(), nil
}

func (m *machine) chooseSuccessor(st *bytecode.Step) (uint16, bool, error) {
	if len(st.Succs) == 0 {
		return 0, false, fmt.Errorf("engine: match at step %d has no successors", st.ID)
	}
	if len(st.Succs) > 1 {
		m.cps = append(m.cps, choicepoint{
			snap: m.snapshotState(),
			step: st.ID,
			alts: st.Succs[1:],
		})
	}
	return st.Succs[0], true, nil
}

// navigate applies nav to the cursor, returning whether it succeeded and
// which skip policy governs the subsequent candidate search.
func (m *machine) navigate(nav ir.Nav) (bool, skipPolicy, error) {
	move := func(ok bool) (bool, error) {
		if err := m.charge(); err != nil {
			return false, err
		}
		return ok, nil
	}
	switch nav.Kind {
	case ir.NavEpsilon:
		return true, polNone, nil
	case ir.NavStay:
		return true, polAny, nil
	case ir.NavStayExact:
		return true, polExact, nil
	case ir.NavDown, ir.NavDownSkip, ir.NavDownExact:
		ok, err := move(m.cur.GotoFirstChild())
		return ok, downPolicy(nav.Kind), err
	case ir.NavNext, ir.NavNextSkip, ir.NavNextExact:
		ok, err := move(m.cur.GotoNextSibling())
		return ok, nextPolicy(nav.Kind), err
	case ir.NavUp, ir.NavUpSkipTrivia, ir.NavUpExact:
		return m.navigateUp(nav)
	}
	return false, polNone, fmt.Errorf("engine: invalid navigation kind %d", nav.Kind)
}

func downPolicy(k ir.NavKind) skipPolicy {
	switch k {
	case ir.NavDownSkip:
		return polTrivia
	case ir.NavDownExact:
		return polExact
	default:
		return polAny
	}
}

func nextPolicy(k ir.NavKind) skipPolicy {
	switch k {
	case ir.NavNextSkip:
		return polTrivia
	case ir.NavNextExact:
		return polExact
	default:
		return polAny
	}
}

// navigateUp ascends nav.N parents, clamped so the cursor never rises above
// the current frame's base depth plus the instruction's floor. A clamp to
// zero ascent is the zero-iteration quantifier path: the cursor never
// descended, so there is nothing to exit.
func (m *machine) navigateUp(nav ir.Nav) (bool, skipPolicy, error) {
	target := m.cur.Depth() - int32(nav.N)
	if floor := m.base + int32(nav.Floor); target < floor {
		target = floor
	}
	if target >= m.cur.Depth() {
		return true, polNone, nil
	}
	switch nav.Kind {
	case ir.NavUpExact:
		if m.cur.HasLaterSibling(false) {
			return false, polNone, nil
		}
	case ir.NavUpSkipTrivia:
		if m.cur.HasLaterSibling(true) {
			return false, polNone, nil
		}
	}
	for m.cur.Depth() > target {
		if err := m.charge(); err != nil {
			return false, polNone, err
		}
		if !m.cur.GotoParent() {
			return false, polNone, nil
		}
	}
	return true, polNone, nil
}

// testNode checks the current node against the instruction's constraints:
// field, kind (or wildcard), negated fields, and regex predicate.
func (m *machine) testNode(st *bytecode.Step) bool {
	node := m.cur.Node()
	if st.FieldIdx >= 0 && node.Field != m.eng.fieldOf[st.FieldIdx] {
		return false
	}
	if st.Wildcard {
		if !node.Named && !m.eng.opts.RawWildcard {
			return false
		}
	} else if st.TypeIdx >= 0 {
		if m.eng.kindOf[st.TypeIdx] == unresolved || uint32(node.Kind) != m.eng.kindOf[st.TypeIdx] {
			return false
		}
	}
	for _, negIdx := range st.NegIdx {
		fid := m.eng.fieldOf[negIdx]
		for ch := node.FirstChild; ch >= 0; ch = m.eng.tree.Nodes[ch].NextSibling {
			if m.eng.tree.Nodes[ch].Field == fid {
				return false
			}
		}
	}
	if st.RegexID > 0 {
		dfa := m.eng.mod.Regexes[st.RegexID]
		if dfa == nil || !dfa.Run(m.eng.tree.Text(m.cur.DescendantIndex())) {
			return false
		}
	}
	return true
}

func (m *machine) applyEffects(st *bytecode.Step) {
	for _, eff := range st.Pre {
		m.applyEffect(eff)
	}
	for _, eff := range st.Post {
		m.applyEffect(eff)
	}
}

func (m *machine) applyEffect(eff ir.Effect) {
	switch eff.Op {
	case ir.Obj:
		m.vstack = append(m.vstack, vframe{kind: vfStruct})
	case ir.EndObj:
		f := m.popFrame(vfStruct)
		m.pending = append(m.pending, values.Object(f.members))
	case ir.EnumTag:
		m.vstack = append(m.vstack, vframe{kind: vfEnum, tag: m.eng.mod.String(uint16(eff.Member))})
	case ir.EndEnum:
		f := m.popFrame(vfEnum)
		m.pending = append(m.pending, values.Tagged{Tag: f.tag, Data: m.popPending()})
	case ir.NodeEff:
		m.pending = append(m.pending, m.nodeValue())
	case ir.TextEff:
		m.pending = append(m.pending, values.String(m.eng.tree.Text(m.cur.DescendantIndex())))
	case ir.Set:
		v := m.popPending()
		name := m.eng.mod.String(uint16(eff.Member))
		for i := len(m.vstack) - 1; i >= 0; i-- {
			if m.vstack[i].kind == vfStruct {
				m.vstack[i].members = append(m.vstack[i].members, values.Member{Name: name, V: v})
				return
			}
		}
		panic(fmt.Sprintf("engine: Set(%s) with no open struct scope", name))
	case ir.NullEff:
		m.pending = append(m.pending, values.Null{})
	case ir.Push:
		v := m.popPending()
		for i := len(m.vstack) - 1; i >= 0; i-- {
			if m.vstack[i].kind == vfArray {
				m.vstack[i].elems = append(m.vstack[i].elems, v)
				return
			}
		}
		panic("engine: Push with no open array builder")
	case ir.StartArr:
		m.vstack = append(m.vstack, vframe{kind: vfArray})
	case ir.EndArr:
		f := m.popFrame(vfArray)
		arr := f.elems
		if arr == nil {
			arr = values.Array{}
		}
		m.pending = append(m.pending, values.Array(arr))
	case ir.RegexEff:
		// predicate gating happens in testNode, not as an effect
	}
}

func (m *machine) popFrame(kind vfKind) vframe {
	if len(m.vstack) == 0 || m.vstack[len(m.vstack)-1].kind != kind {
		panic(fmt.Sprintf("engine: scope close mismatch (want kind %d)", kind))
	}
	f := m.vstack[len(m.vstack)-1]
	m.vstack = m.vstack[:len(m.vstack)-1]
	return f
}

func (m *machine) popPending() values.Value {
	if len(m.pending) == 0 {
		panic("engine: value consumed with empty pending stack")
	}
	v := m.pending[len(m.pending)-1]
	m.pending = m.pending[:len(m.pending)-1]
	return v
}

func (m *machine) nodeValue() values.Node {
	idx := m.cur.DescendantIndex()
	n := m.cur.Node()
	return values.Node{
		Kind:  m.eng.tree.Provider.KindName(n.Kind),
		Text:  string(m.eng.tree.Text(idx)),
		Start: n.StartByte,
		End:   n.EndByte,
	}
}

func (m *machine) acceptValue() values.Value {
	if len(m.pending) == 0 {
		return values.Null{}
	}
	return m.pending[len(m.pending)-1]
}

func (m *machine) trace(st *bytecode.Step, note string) {
	if m.eng.opts.Trace == nil {
		return
	}
	m.eng.opts.Trace(TraceEvent{
		Step:   st.ID,
		Op:     st.Op.String(),
		Cursor: m.cur.DescendantIndex(),
		Note:   note,
	})
}
