// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package image locates the on-flash coredump image and derives its
// chunk geometry. A Descriptor fixes how the image is cut into
// chunks for streaming, including the encoded sizes when per-chunk
// Base64 is requested, and is consumed read-only by the uploader.
package image

import (
	"context"
	"fmt"

	"github.com/grailbio/coredump/chunkenc"
	"github.com/grailbio/coredump/errors"
	"github.com/grailbio/coredump/platform"
)

// DefaultChunkSize is the raw chunk size used when the caller does
// not request one. 768 is 3*256, so it needs no adjustment when
// Base64 is enabled.
const DefaultChunkSize = 768

// Descriptor describes the image and its chunk geometry. It is
// immutable once produced; all sizes are in bytes.
type Descriptor struct {
	// Addr is the byte offset of the image in the coredump partition.
	Addr int64
	// Size is the raw image length; always > 0.
	Size int64
	// ChunkSize is the raw size of every chunk except possibly the
	// last. When Base64 is set it is a multiple of 3.
	ChunkSize int64
	// ChunkCount is ceil(Size/ChunkSize); always >= 1.
	ChunkCount int64
	// LastChunkSize is the raw size of the final chunk, in
	// (0, ChunkSize].
	LastChunkSize int64
	// Base64 tells whether chunks are Base64-encoded before being
	// handed to the host.
	Base64 bool
	// B64ChunkSize, B64LastChunkSize, and B64Size are the encoded
	// counterparts of ChunkSize, LastChunkSize, and Size. They are
	// populated only when Base64 is set. B64Size is the per-chunk
	// sum, which is what the receiver observes; it is not the
	// encoding of Size as one block.
	B64ChunkSize     int64
	B64LastChunkSize int64
	B64Size          int64
}

// Describe derives the chunk geometry for an image at loc. A
// chunkSize of 0 selects DefaultChunkSize. When useBase64 is set, a
// chunkSize that is not a multiple of 3 is rounded down to one
// (minimum 3) so that every chunk but the last encodes without
// padding. Describe is pure: identical arguments yield identical
// descriptors.
func Describe(loc platform.Location, chunkSize int64, useBase64 bool) (Descriptor, error) {
	if loc.Size == 0 {
		return Descriptor{}, errors.E(errors.NoImage, "describing image")
	}
	if loc.Size < 0 || loc.Addr < 0 || chunkSize < 0 {
		return Descriptor{}, errors.E(errors.Invalid, errors.Fatal,
			fmt.Sprintf("describing image: addr=%d size=%d chunk=%d", loc.Addr, loc.Size, chunkSize))
	}
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	if useBase64 {
		chunkSize -= chunkSize % 3
		if chunkSize == 0 {
			chunkSize = 3
		}
	}
	d := Descriptor{
		Addr:       loc.Addr,
		Size:       loc.Size,
		ChunkSize:  chunkSize,
		ChunkCount: (loc.Size + chunkSize - 1) / chunkSize,
		Base64:     useBase64,
	}
	d.LastChunkSize = loc.Size % chunkSize
	if d.LastChunkSize == 0 {
		d.LastChunkSize = chunkSize
	}
	if useBase64 {
		d.B64ChunkSize = chunkenc.EncodedLen(chunkSize)
		d.B64LastChunkSize = chunkenc.EncodedLen(d.LastChunkSize)
		d.B64Size = d.B64ChunkSize*(d.ChunkCount-1) + d.B64LastChunkSize
	}
	return d, nil
}

// Locate queries the platform for the image location and derives its
// geometry with Describe. It fails with kind NoImage when no image
// is present and with kind Platform when the query itself fails.
func Locate(ctx context.Context, p platform.Platform, chunkSize int64, useBase64 bool) (Descriptor, error) {
	loc, err := p.LocateImage(ctx)
	if err != nil {
		return Descriptor{}, errors.E(errors.Platform, "locating image", err)
	}
	return Describe(loc, chunkSize, useBase64)
}

// Validate checks the descriptor's internal consistency. The
// uploader validates caller-built descriptors before streaming.
func (d Descriptor) Validate() error {
	switch {
	case d.Size <= 0,
		d.ChunkSize <= 0,
		d.ChunkCount < 1,
		d.LastChunkSize <= 0,
		d.LastChunkSize > d.ChunkSize,
		d.ChunkSize*(d.ChunkCount-1)+d.LastChunkSize != d.Size:
		return errors.E(errors.Invalid, errors.Fatal, fmt.Sprintf("inconsistent descriptor: %+v", d))
	}
	if d.Base64 {
		switch {
		case d.ChunkSize%3 != 0,
			d.B64ChunkSize != chunkenc.EncodedLen(d.ChunkSize),
			d.B64LastChunkSize != chunkenc.EncodedLen(d.LastChunkSize),
			d.B64Size != d.B64ChunkSize*(d.ChunkCount-1)+d.B64LastChunkSize:
			return errors.E(errors.Invalid, errors.Fatal, fmt.Sprintf("inconsistent base64 geometry: %+v", d))
		}
	}
	return nil
}

// ChunkLen returns the raw length of chunk i.
func (d Descriptor) ChunkLen(i int64) int64 {
	if i == d.ChunkCount-1 {
		return d.LastChunkSize
	}
	return d.ChunkSize
}

// WireLen returns the number of bytes chunk i occupies on the wire:
// its encoded length when Base64 is set, its raw length otherwise.
func (d Descriptor) WireLen(i int64) int64 {
	if !d.Base64 {
		return d.ChunkLen(i)
	}
	if i == d.ChunkCount-1 {
		return d.B64LastChunkSize
	}
	return d.B64ChunkSize
}

// WireSize returns the total number of bytes the host's write
// callback will observe over the whole upload.
func (d Descriptor) WireSize() int64 {
	if d.Base64 {
		return d.B64Size
	}
	return d.Size
}

// Offset returns the partition offset of chunk i.
func (d Descriptor) Offset(i int64) int64 {
	return d.Addr + i*d.ChunkSize
}
