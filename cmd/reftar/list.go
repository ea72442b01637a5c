package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/hardwarebob/reftar"
)

const listHelp = `reftar list [-l] archive.reftar

Print an archive's entries without extracting anything.

Example:
  % reftar list project.reftar
`

func cmdlist(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("list", flag.ExitOnError)
	long := fset.Bool("l", false, "print mode, owner, size and extent counts alongside each path")
	fset.Usage = usage(fset, listHelp)
	fset.Parse(args)

	in := fset.Args()
	if len(in) != 1 {
		return fmt.Errorf("exactly one archive path is required")
	}

	f, err := os.Open(in[0])
	if err != nil {
		return err
	}
	defer f.Close()

	iter := reftar.List(f)
	for {
		entry, ok, err := iter()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if !*long {
			fmt.Println(entry.Path)
			continue
		}
		line := fmt.Sprintf("%04o %s/%s %10d %s (data=%d ref=%d sparse=%d)",
			entry.Mode&0o7777, entry.Username, entry.Groupname, entry.FileSize, entry.Path,
			entry.DataExtents, entry.ReferenceExtents, entry.SparseExtents)
		if len(entry.ReferenceSources) > 0 {
			sources := make([]string, len(entry.ReferenceSources))
			for i, s := range entry.ReferenceSources {
				sources[i] = fmt.Sprintf("%d", s)
			}
			line += fmt.Sprintf(" source_extent_start=[%s]", strings.Join(sources, ","))
		}
		fmt.Println(line)
	}
	return nil
}
