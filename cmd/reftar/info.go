package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/hardwarebob/reftar"
)

const infoHelp = `reftar info archive.reftar

Print an archive's header (format version, block size) without scanning
any entries.

Example:
  % reftar info project.reftar
`

func cmdinfo(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("info", flag.ExitOnError)
	fset.Usage = usage(fset, infoHelp)
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

	info, err := reftar.Info(f)
	if err != nil {
		return err
	}
	fmt.Printf("version: %d\nblock size: %d\n", info.Version, info.BlockSize)
	return nil
}
