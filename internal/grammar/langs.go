package grammar

import (
	"fmt"
	"sort"
	"sync"

	"github.com/smacker/go-tree-sitter/bash"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/ruby"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// The static language catalog. Every supported grammar ships in the binary;
// there is no plugin loading.
var (
	catalogOnce sync.Once
	catalog     map[string]Provider
)

func languages() map[string]Provider {
	catalogOnce.Do(func() {
		catalog = make(map[string]Provider)
		register := func(name string, p Provider) { catalog[name] = p }

		register("bash", NewSitterLang("bash", "ts-1", bash.GetLanguage(), []string{"comment"}))
		register("c", NewSitterLang("c", "ts-1", c.GetLanguage(), []string{"comment"}))
		register("cpp", NewSitterLang("cpp", "ts-1", cpp.GetLanguage(), []string{"comment"}))
		register("go", NewSitterLang("go", "ts-1", golang.GetLanguage(), []string{"comment"}))
		register("java", NewSitterLang("java", "ts-1", java.GetLanguage(), []string{"line_comment", "block_comment"}))
		register("javascript", NewSitterLang("javascript", "ts-1", javascript.GetLanguage(), []string{"comment"}))
		register("python", NewSitterLang("python", "ts-1", python.GetLanguage(), []string{"comment"}))
		register("ruby", NewSitterLang("ruby", "ts-1", ruby.GetLanguage(), []string{"comment"}))
		register("rust", NewSitterLang("rust", "ts-1", rust.GetLanguage(), []string{"line_comment", "block_comment"}))
		register("typescript", NewSitterLang("typescript", "ts-1", typescript.GetLanguage(), []string{"comment"}))

		// Common aliases, matching what users type after -l.
		catalog["js"] = catalog["javascript"]
		catalog["py"] = catalog["python"]
		catalog["ts"] = catalog["typescript"]
		catalog["golang"] = catalog["go"]
	})
	return catalog
}

// Lookup returns the provider registered under name.
func Lookup(name string) (Provider, error) {
	if p, ok := languages()[name]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("grammar: unsupported language %q (see 'plotnik langs')", name)
}

// Names returns every registered language name (aliases included), sorted.
func Names() []string {
	var out []string
	for name := range languages() {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
