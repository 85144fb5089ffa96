// Command wisp runs the Scheme interpreter defined in internal/eval
// over one or more source files, then falls to an interactive REPL on
// standard input once every file has been consumed (spec ยง6).
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/wisp-lang/wisp/internal/interp"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [file ...]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	in, err := interp.Boot(os.Stdout, os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	for _, path := range flag.Args() {
		if err := runFile(in, path); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	in.RunStream(os.Stdin)
}

func runFile(in *interp.Interpreter, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	in.RunStream(f)
	return nil
}
