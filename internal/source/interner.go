package source

// Symbol is a stable handle for an interned string. Symbols are issued in
// insertion order starting at 0, which is what lets the emitter lay out the
// string blob deterministically.
type Symbol uint32

// Interner is an insertion-ordered string<->Symbol table. It is the single
// source of truth for every string that ends up in a bytecode module's
// StringBlob: node-kind names, field names, capture member names, type
// names, and definition names all share one Interner per compilation.
type Interner struct {
	strings []string
	index   map[string]Symbol
}

// NewInterner returns an empty Interner.
func NewInterner() *Interner {
	return &Interner{index: make(map[string]Symbol)}
}

// Intern returns the Symbol for s, inserting it if this is the first time s
// has been seen.
func (in *Interner) Intern(s string) Symbol {
	if sym, ok := in.index[s]; ok {
		return sym
	}
	sym := Symbol(len(in.strings))
	in.strings = append(in.strings, s)
	in.index[s] = sym
	return sym
}

// Lookup returns the Symbol for s without inserting it.
func (in *Interner) Lookup(s string) (Symbol, bool) {
	sym, ok := in.index[s]
	return sym, ok
}

// String recovers the text for sym. Panics if sym was never issued by this
// Interner.
func (in *Interner) String(sym Symbol) string {
	return in.strings[sym]
}

// Len returns the number of distinct interned strings.
func (in *Interner) Len() int {
	return len(in.strings)
}

// All returns every interned string in insertion order. Callers must not
// mutate the returned slice.
func (in *Interner) All() []string {
	return in.strings
}
