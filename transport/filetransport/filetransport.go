// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package filetransport implements the host side of an upload as a
// plain byte stream into a local file. It is the reference transport
// for tooling that replays captured images off-device. The stream is
// compressed according to the destination's filename: ".gz" selects
// gzip and ".zst" selects zstd; anything else is written verbatim.
package filetransport

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/DataDog/zstd"
	"github.com/grailbio/base/log"
	"github.com/grailbio/coredump/image"
	"github.com/grailbio/coredump/upload"
	"github.com/klauspost/compress/gzip"
)

// nopWriteCloser adds a noop Closer to io.Writer.
type nopWriteCloser struct{ io.Writer }

func (w *nopWriteCloser) Close() error { return nil }

// File streams one upload into the file at Path. Its lifetime maps
// onto the engine's callbacks: Start creates the file, Write appends
// the wire bytes, End closes it. A failed upload leaves a partial
// file behind; callers that care should remove it when the upload
// returns an error.
type File struct {
	// Path is the destination. Its suffix selects the compression.
	Path string

	f *os.File
	w io.WriteCloser
	n int64
}

// New returns a File writing to path.
func New(path string) *File {
	return &File{Path: path}
}

// Callbacks returns the callback record to hand to the engine.
func (t *File) Callbacks() upload.Callbacks {
	return upload.Callbacks{
		Start:    t.start,
		Write:    t.write,
		Progress: t.progress,
		End:      t.end,
	}
}

func (t *File) start(ctx context.Context) error {
	f, err := os.Create(t.Path)
	if err != nil {
		return err
	}
	t.f = f
	switch {
	case strings.HasSuffix(t.Path, ".gz"):
		t.w = gzip.NewWriter(f)
	case strings.HasSuffix(t.Path, ".zst"):
		t.w = zstd.NewWriter(f)
	default:
		t.w = &nopWriteCloser{f}
	}
	return nil
}

func (t *File) write(ctx context.Context, p []byte) error {
	n, err := t.w.Write(p)
	t.n += int64(n)
	return err
}

func (t *File) progress(ctx context.Context, d image.Descriptor, i int64, sent int) error {
	log.Debug.Printf("filetransport: %s: chunk %d/%d, %d/%d bytes",
		t.Path, i+1, d.ChunkCount, t.n, d.WireSize())
	return nil
}

func (t *File) end(ctx context.Context) error {
	err := t.w.Close()
	if cerr := t.f.Close(); err == nil {
		err = cerr
	}
	t.f, t.w = nil, nil
	return err
}
