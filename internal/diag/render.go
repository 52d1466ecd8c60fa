package diag

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/plotnik-lang/plotnik-sub003/internal/source"
)

// ColorMode controls whether Render emits ANSI escapes, matching the CLI's
// --color=WHEN flag.
type ColorMode int

const (
	ColorAuto ColorMode = iota
	ColorAlways
	ColorNever
)

// Render writes a caret-pointed source view for each diagnostic in diags to
// w, grouped by file and sorted by byte offset (diags should already come
// from Sink.All()).
func Render(w io.Writer, srcs *source.Map, diags []Diagnostic, mode ColorMode) {
	useColor := mode == ColorAlways
	errColor := color.New(color.FgRed, color.Bold)
	locColor := color.New(color.FgCyan)
	caretColor := color.New(color.FgRed, color.Bold)
	if !useColor {
		color.NoColor = true
	}
	_ = errColor
	_ = locColor
	_ = caretColor

	for _, d := range diags {
		entry := srcs.Get(source.ID(d.Primary.File))
		line, col, lineText := locate(entry.Text, int(d.Primary.StartByte))

		name := entry.Path
		if name == "" {
			name = fmt.Sprintf("<%s>", entry.Kind)
		}

		header := fmt.Sprintf("%s:%d:%d", name, line, col)
		if useColor {
			fmt.Fprintf(w, "%s %s\n", errColor.Sprint("error["+string(d.Kind)+"]:"), d.Message)
			fmt.Fprintf(w, "  %s %s\n", locColor.Sprint("-->"), header)
		} else {
			fmt.Fprintf(w, "error[%s]: %s\n", d.Kind, d.Message)
			fmt.Fprintf(w, "  --> %s\n", header)
		}
		fmt.Fprintf(w, "   |\n")
		fmt.Fprintf(w, "%3d| %s\n", line, lineText)
		caretLine := strings.Repeat(" ", col-1)
		width := int(d.Primary.EndByte) - int(d.Primary.StartByte)
		if width < 1 {
			width = 1
		}
		caret := strings.Repeat("^", width)
		if useColor {
			fmt.Fprintf(w, "   | %s%s\n", caretLine, caretColor.Sprint(caret))
		} else {
			fmt.Fprintf(w, "   | %s%s\n", caretLine, caret)
		}
		for _, rel := range d.Related {
			relEntry := srcs.Get(source.ID(rel.Range.File))
			rline, rcol, _ := locate(relEntry.Text, int(rel.Range.StartByte))
			fmt.Fprintf(w, "   = note: %s (%s:%d:%d)\n", rel.Message, relEntry.Path, rline, rcol)
		}
		if d.Fix != nil {
			fmt.Fprintf(w, "   = help: %s\n", d.Fix.Description)
		}
	}
}

// locate converts a byte offset into a 1-based (line, column) and returns
// the full text of that line.
func locate(text string, offset int) (line, col int, lineText string) {
	line = 1
	lineStart := 0
	for i := 0; i < offset && i < len(text); i++ {
		if text[i] == '\n' {
			line++
			lineStart = i + 1
		}
	}
	lineEnd := len(text)
	if idx := strings.IndexByte(text[lineStart:], '\n'); idx >= 0 {
		lineEnd = lineStart + idx
	}
	col = offset - lineStart + 1
	return line, col, text[lineStart:lineEnd]
}
