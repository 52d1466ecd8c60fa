package main

import (
	"github.com/spf13/cobra"

	"github.com/plotnik-lang/plotnik-sub003/internal/config"
)

// flags carries every CLI flag. All flags are registered on the root so
// that a flag a given subcommand does not use is accepted and ignored.
type flags struct {
	query        string
	source       string
	lang         string
	color        string
	raw          bool
	spans        bool
	strict       bool
	format       string
	verboseNodes bool
	noNodeType   bool
	noExport     bool
	voidType     string
	output       string
	compact      bool
	check        bool
	entry        string
	verbosity    int
	noResult     bool
	fuel         int
	cacheDSN     string
}

func newRootCmd() *cobra.Command {
	cfg := config.LoadConfig()
	fl := &flags{}

	root := &cobra.Command{
		Use:           "plotnik",
		Short:         "Declarative queries over tree-sitter syntax trees",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&fl.query, "query", "q", "", "query text (instead of query files)")
	pf.StringVarP(&fl.source, "source", "s", "", "source text to match against (or a path to a source file)")
	pf.StringVarP(&fl.lang, "lang", "l", "", "source language name")
	pf.StringVar(&fl.color, "color", cfg.Color, "colorize diagnostics: auto|always|never")
	pf.BoolVar(&fl.raw, "raw", false, "widen wildcard matching to anonymous nodes")
	pf.BoolVar(&fl.spans, "spans", false, "include byte spans on node values")
	pf.BoolVar(&fl.strict, "strict", true, "require linking against the grammar to succeed")
	pf.StringVar(&fl.format, "format", "json", "result output format")
	pf.BoolVar(&fl.verboseNodes, "verbose-nodes", false, "render full node records")
	pf.BoolVar(&fl.noNodeType, "no-node-type", false, "omit node kinds from rendered values")
	pf.BoolVar(&fl.noExport, "no-export", false, "accepted for compatibility; ignored here")
	pf.StringVar(&fl.voidType, "void-type", "", "accepted for compatibility; ignored here")
	pf.StringVarP(&fl.output, "output", "o", "", "write bytecode or results to FILE instead of stdout")
	pf.BoolVar(&fl.compact, "compact", false, "compact JSON output")
	pf.BoolVar(&fl.check, "check", false, "decode the emitted module and verify the round trip")
	pf.StringVar(&fl.entry, "entry", "", "definition name to execute (default: the unnamed or first definition)")
	pf.CountVarP(&fl.verbosity, "verbose", "v", "increase verbosity (-v, -vv)")
	pf.BoolVar(&fl.noResult, "no-result", false, "suppress result output (exit status only)")
	pf.IntVar(&fl.fuel, "fuel", cfg.Fuel, "execution fuel budget")
	pf.StringVar(&fl.cacheDSN, "cache", cfg.CacheDSN, "compiled-module cache DSN (SQLite path)")

	r := &runner{cfg: cfg, fl: fl}
	root.AddCommand(
		newTreeCmd(r),
		newCheckCmd(r),
		newDumpCmd(r),
		newInferCmd(r),
		newExecCmd(r),
		newTraceCmd(r),
		newLangsCmd(r),
	)
	return root
}
