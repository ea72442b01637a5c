package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/hardwarebob/reftar"
)

var debug = flag.Bool("debug", false, "enable debug mode: format error messages with additional detail")

func funcmain() error {
	flag.Parse()

	type cmd struct {
		fn func(ctx context.Context, args []string) error
	}
	verbs := map[string]cmd{
		"create":  {cmdcreate},
		"extract": {cmdextract},
		"list":    {cmdlist},
		"info":    {cmdinfo},
	}

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintf(os.Stderr, "reftar [-flags] <command> [-flags] <args>\n")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "\tcreate  - build an archive from one or more paths\n")
		fmt.Fprintf(os.Stderr, "\textract - recreate an archive's entries under a directory\n")
		fmt.Fprintf(os.Stderr, "\tlist    - print an archive's entries without extracting\n")
		fmt.Fprintf(os.Stderr, "\tinfo    - print an archive's header\n")
		os.Exit(2)
	}
	verb, args := args[0], args[1:]

	ctx, canc := reftar.InterruptibleContext()
	defer canc()

	v, ok := verbs[verb]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n", verb)
		fmt.Fprintf(os.Stderr, "syntax: reftar <command> [options]\n")
		os.Exit(2)
	}
	if err := v.fn(ctx, args); err != nil {
		if *debug {
			return fmt.Errorf("%s: %+v", verb, err)
		}
		return fmt.Errorf("%s: %v", verb, err)
	}
	return reftar.RunAtExit()
}

func main() {
	if err := funcmain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
