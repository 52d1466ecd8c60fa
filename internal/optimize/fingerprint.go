package optimize

import (
	"encoding/binary"
	"hash/fnv"

	"github.com/plotnik-lang/plotnik-sub003/internal/ir"
)

// Fingerprint hashes a canonical, deterministic traversal of g reachable
// from entrypoints with FNV-1a. It is used to assert that EliminateEpsilons preserves
// observable structure: the fingerprint of the graph before and after
// running only EliminateEpsilons should match once labels are canonically
// renumbered by visit order, since every eliminated instruction was a pure
// routing step.
func Fingerprint(g *ir.Graph, entrypoints []ir.Label) uint64 {
	h := fnv.New64a()
	visited := make(map[ir.Label]uint32)
	var order []ir.Label

	var visit func(l ir.Label)
	visit = func(l ir.Label) {
		if _, ok := visited[l]; ok {
			return
		}
		visited[l] = uint32(len(order))
		order = append(order, l)
		instr := g.Get(l)
		if instr == nil {
			return
		}
		for _, s := range successorsOf(instr) {
			visit(s)
		}
	}
	for _, e := range entrypoints {
		visit(e)
	}

	var buf [8]byte
	writeU32 := func(v uint32) {
		binary.LittleEndian.PutUint32(buf[:4], v)
		h.Write(buf[:4])
	}
	writeInt := func(v int) { writeU32(uint32(int64(v))) }

	for _, l := range order {
		instr := g.Get(l)
		if instr == nil {
			h.Write([]byte{0xFF})
			continue
		}
		h.Write([]byte{byte(instr.Op)})
		writeInt(int(instr.Nav.Kind))
		writeInt(int(instr.Nav.N))
		writeInt(int(instr.Nav.Floor))
		writeInt(instr.NodeType)
		writeInt(instr.NodeField)
		writeInt(instr.RegexID)
		if instr.Wildcard {
			h.Write([]byte{1})
		} else {
			h.Write([]byte{0})
		}
		writeInt(len(instr.NegFields))
		for _, f := range instr.NegFields {
			writeInt(f)
		}
		writeEffects := func(effs []ir.Effect) {
			writeInt(len(effs))
			for _, e := range effs {
				writeInt(int(e.Op))
				writeInt(e.Member)
				writeInt(e.Regex)
				h.Write([]byte(e.Tag))
			}
		}
		writeEffects(instr.PreEffects)
		writeEffects(instr.PostEffects)
		writeInt(len(instr.Successors))
		for _, s := range instr.Successors {
			writeU32(visited[s])
		}
		if instr.Op == ir.OpCall || instr.Op == ir.OpTrampoline {
			writeU32(visited[instr.Target])
			writeU32(visited[instr.ReturnAddr])
		}
	}
	return h.Sum64()
}
