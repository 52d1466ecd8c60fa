package grammar

import (
	"context"
	"fmt"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
)

// SitterLang adapts a go-tree-sitter grammar to the Provider contract. Kind
// ids are the grammar's own symbol values; field ids are assigned by this
// adapter in first-use order, since the Go bindings expose field names on
// nodes and cursors but not the grammar's field-id table.
type SitterLang struct {
	name    string
	version string
	lang    *sitter.Language
	trivia  []string

	once   sync.Once
	kindID map[string]uint16

	mu      sync.Mutex
	fields  []string // fields[0] reserved for NoField
	fieldID map[string]uint16
}

// NewSitterLang wraps lang under the given registry name. trivia lists the
// node-kind names navigation may skip.
func NewSitterLang(name, version string, lang *sitter.Language, trivia []string) *SitterLang {
	return &SitterLang{
		name:    name,
		version: version,
		lang:    lang,
		trivia:  trivia,
		fields:  []string{""},
		fieldID: make(map[string]uint16),
	}
}

func (l *SitterLang) Name() string    { return l.name }
func (l *SitterLang) Version() string { return l.version }

func (l *SitterLang) kinds() map[string]uint16 {
	l.once.Do(func() {
		n := l.lang.SymbolCount()
		l.kindID = make(map[string]uint16, n)
		for i := uint32(0); i < n; i++ {
			name := l.lang.SymbolName(sitter.Symbol(i))
			if _, ok := l.kindID[name]; !ok {
				l.kindID[name] = uint16(i)
			}
		}
	})
	return l.kindID
}

func (l *SitterLang) KindID(name string) (uint16, bool) {
	id, ok := l.kinds()[name]
	return id, ok
}

func (l *SitterLang) KindName(id uint16) string {
	return l.lang.SymbolName(sitter.Symbol(id))
}

// FieldID returns a stable id for name, registering it on first use. The
// binding-level field table is open-world: an id is always issued, and a
// field name the parsed tree never produces simply never matches.
func (l *SitterLang) FieldID(name string) (uint16, bool) {
	if name == "" {
		return NoField, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if id, ok := l.fieldID[name]; ok {
		return id, true
	}
	id := uint16(len(l.fields))
	l.fields = append(l.fields, name)
	l.fieldID[name] = id
	return id, true
}

func (l *SitterLang) FieldName(id uint16) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if int(id) >= len(l.fields) {
		return ""
	}
	return l.fields[id]
}

func (l *SitterLang) TriviaKinds() []string { return l.trivia }

// Parse parses src with the wrapped grammar and flattens the resulting
// syntax tree into a pre-order snapshot.
func (l *SitterLang) Parse(ctx context.Context, src []byte) (*Tree, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(l.lang)
	st, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("grammar: parsing %s source: %w", l.name, err)
	}
	root := st.RootNode()
	if root == nil {
		return nil, fmt.Errorf("grammar: %s parser produced no tree", l.name)
	}

	t := &Tree{Provider: l, Src: src}
	cur := sitter.NewTreeCursor(root)
	defer cur.Close()

	// Pre-order walk; parent/sibling links mirror the builder in static.go.
	var stack []int32
	var lastChild []int32
	depth := int32(0)
	for {
		node := cur.CurrentNode()
		fieldID := NoField
		if fn := cur.CurrentFieldName(); fn != "" {
			fieldID, _ = l.FieldID(fn)
		}
		idx := int32(len(t.Nodes))
		fn := Node{
			Kind: uint16(node.Symbol()), Field: fieldID, Named: node.IsNamed(),
			StartByte: node.StartByte(), EndByte: node.EndByte(),
			Parent: -1, FirstChild: -1, NextSibling: -1, Depth: depth,
		}
		if len(stack) > 0 {
			parent := stack[len(stack)-1]
			fn.Parent = parent
			if prev := lastChild[len(lastChild)-1]; prev >= 0 {
				t.Nodes[prev].NextSibling = idx
			} else {
				t.Nodes[parent].FirstChild = idx
			}
			lastChild[len(lastChild)-1] = idx
		}
		t.Nodes = append(t.Nodes, fn)

		if cur.GoToFirstChild() {
			stack = append(stack, idx)
			lastChild = append(lastChild, -1)
			depth++
			continue
		}
		for {
			if cur.GoToNextSibling() {
				break
			}
			if !cur.GoToParent() {
				goto done
			}
			stack = stack[:len(stack)-1]
			lastChild = lastChild[:len(lastChild)-1]
			depth--
		}
	}
done:
	var triviaIDs []uint16
	for _, name := range l.trivia {
		if id, ok := l.KindID(name); ok {
			triviaIDs = append(triviaIDs, id)
		}
	}
	t.SetTrivia(triviaIDs)
	return t, nil
}
