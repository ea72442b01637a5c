// Package reftar implements a block-aligned archive format that preserves
// physical block sharing between files on copy-on-write filesystems: the
// Creator dedups fixed-size blocks within and across input files and the
// Extractor restores sharing on extraction by cloning extents (FICLONERANGE)
// between already-written output files, falling back to a byte copy on
// filesystems or cross-filesystem pairs that cannot share extents.
package reftar

import (
	"context"
	"io"

	"github.com/hardwarebob/reftar/internal/creator"
	"github.com/hardwarebob/reftar/internal/extractor"
)

// Create streams an archive of inputs to archiveOut.
func Create(ctx context.Context, archiveOut io.Writer, inputs []string, opts CreateOptions) (Result, error) {
	blockSize := opts.BlockSize
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}
	c := creator.New(creator.Options{
		BlockSize:    blockSize,
		SparsePolicy: opts.SparsePolicy,
		Verbose:      opts.Verbose,
	})
	stats, err := c.Create(ctx, archiveOut, inputs)
	return Result{
		Files:             stats.Files,
		BytesWritten:      stats.BytesWritten,
		DataExtents:       stats.DataExtents,
		ReferenceExtents:  stats.ReferenceExtents,
		SparseExtents:     stats.SparseExtents,
		HardlinksDetected: stats.HardlinksDetected,
	}, err
}

// Extract reads a complete archive from archiveIn and recreates its entries
// under outputRoot.
func Extract(ctx context.Context, archiveIn io.Reader, outputRoot string, opts ExtractOptions) (Result, error) {
	e := extractor.New(extractor.Options{
		Dir:        outputRoot,
		Ranger:     opts.CloneRanger,
		NoMetadata: opts.NoMetadata,
		Verbose:    opts.Verbose,
	})
	stats, err := e.Extract(ctx, archiveIn)
	return Result{
		Files:          stats.Files,
		BytesWritten:   stats.BytesWritten,
		ClonedExtents:  stats.ClonedExtents,
		CopiedExtents:  stats.CopiedExtents,
		MetadataErrors: stats.MetadataErrors,
	}, err
}
