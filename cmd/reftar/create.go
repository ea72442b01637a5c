package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/hardwarebob/reftar"
)

const createHelp = `reftar create -o out.reftar [-block-size bytes] [-sparse zero|seek] [-v] path...

Build an archive of one or more files or directories, preserving physical
block sharing between them so that extract can restore it on a
copy-on-write filesystem.

Example:
  % reftar create -o project.reftar ./project
`

func cmdcreate(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("create", flag.ExitOnError)
	out := fset.String("o", "", "path to write the archive to (required)")
	blockSize := fset.Uint("block-size", reftar.DefaultBlockSize, "archive block size in bytes")
	sparse := fset.String("sparse", "zero", "sparse-region detection policy: zero or seek")
	verbose := fset.Bool("v", false, "print warnings to stderr")
	fset.Usage = usage(fset, createHelp)
	fset.Parse(args)

	if *out == "" {
		return fmt.Errorf("-o is required")
	}
	inputs := fset.Args()
	if len(inputs) == 0 {
		return fmt.Errorf("at least one path to archive is required")
	}

	var policy reftar.SparsePolicy
	switch *sparse {
	case "zero":
		policy = reftar.SparsePolicyZero
	case "seek":
		policy = reftar.SparsePolicySeek
	default:
		return fmt.Errorf("unknown -sparse policy %q, want zero or seek", *sparse)
	}

	f, err := os.Create(*out)
	if err != nil {
		return err
	}
	defer f.Close()

	result, err := reftar.Create(ctx, f, inputs, reftar.CreateOptions{
		BlockSize:    uint32(*blockSize),
		SparsePolicy: policy,
		Verbose:      verboseSink(*verbose),
	})
	if err != nil {
		f.Close()
		os.Remove(*out)
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	fmt.Printf("wrote %s: %d files, %d data extents, %d references, %d sparse, %d hardlinks\n",
		*out, result.Files, result.DataExtents, result.ReferenceExtents, result.SparseExtents, result.HardlinksDetected)
	return nil
}
