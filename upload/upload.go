// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package upload streams a previously captured coredump image to a
// host-supplied transport and retires the on-flash image only after
// the whole transfer succeeded. The engine owns no socket: the host
// provides a small record of callbacks and chooses the wire
// protocol. Uploads run to completion on the caller's task; the
// callbacks execute synchronously on that same task.
package upload

import (
	"context"
	"fmt"

	"github.com/grailbio/base/log"
	"github.com/grailbio/coredump/chunkenc"
	"github.com/grailbio/coredump/errors"
	"github.com/grailbio/coredump/image"
	"github.com/grailbio/coredump/platform"
)

// Needed reports whether the given reset cause indicates that the
// platform captured a coredump worth uploading. Unknown causes
// report true: a silently corrupted reason is cheaper to re-upload
// than to suppress. Needed is pure and safe to call before any
// peripheral bring-up.
func Needed(c platform.Cause) bool {
	switch c {
	case platform.Panic,
		platform.InterruptWatchdog,
		platform.TaskWatchdog,
		platform.GenericWatchdog,
		platform.Unknown:
		return true
	}
	return false
}

// Callbacks is the transport surface supplied by the host. Write is
// required; the rest may be nil. All callbacks run synchronously on
// the uploading task and receive the upload's context verbatim;
// any per-session host state is carried in their closures. A non-nil
// return from any callback aborts the upload and preserves the
// image.
type Callbacks struct {
	// Start is invoked once, before the first chunk. If it fails,
	// the upload aborts immediately: no chunks are streamed and End
	// is not invoked. Hosts relying on End for cleanup must make
	// Start infallible.
	Start func(ctx context.Context) error
	// Write is invoked once per chunk, in ascending offset order,
	// with the exact bytes to put on the wire. Required.
	Write func(ctx context.Context, p []byte) error
	// Progress is invoked after each successful Write with the same
	// chunk's index and wire-side length. Returning an error cancels
	// the upload cooperatively; hosts implement transport timeouts
	// here.
	Progress func(ctx context.Context, d image.Descriptor, index int64, sent int) error
	// End is invoked once after streaming, whether or not the
	// stream succeeded, unless Start is set and failed. Its error
	// is surfaced only when the session was otherwise clean.
	End func(ctx context.Context) error
}

// Upload locates the coredump image with the default chunk geometry
// (768-byte raw chunks, no Base64) and streams it through c. On
// success the image has been erased; on any error it is preserved
// for the next boot.
func Upload(ctx context.Context, p platform.Platform, c Callbacks) error {
	d, err := image.Locate(ctx, p, 0, false)
	if err != nil {
		return err
	}
	return UploadImage(ctx, p, c, d)
}

// UploadImage streams the image described by d through c. The
// descriptor is typically produced by image.Locate; caller-built
// descriptors are validated first. The concatenation of the bytes
// passed to c.Write equals the raw image when d.Base64 is unset, and
// the concatenation of d.ChunkCount independently encoded, padded
// Base64 blocks when it is set.
func UploadImage(ctx context.Context, p platform.Platform, c Callbacks, d image.Descriptor) error {
	if c.Write == nil {
		return errors.E(errors.Invalid, errors.Fatal, "upload: missing write callback")
	}
	if err := d.Validate(); err != nil {
		return err
	}
	s, err := newSession(d)
	if err != nil {
		return err
	}
	defer s.release()
	return s.run(ctx, p, c, d)
}

// session holds the two scratch buffers for one upload. Both are
// sized once, before the first callback, and suffice for the whole
// stream.
type session struct {
	read []byte // one raw chunk
	enc  []byte // one encoded chunk, when Base64 is on
}

func newSession(d image.Descriptor) (*session, error) {
	if int64(int(d.ChunkSize)) != d.ChunkSize || (d.Base64 && int64(int(d.B64ChunkSize+1)) != d.B64ChunkSize+1) {
		return nil, errors.E(errors.OOM, errors.Fatal,
			fmt.Sprintf("upload: chunk size %d not allocatable", d.ChunkSize))
	}
	s := &session{read: make([]byte, d.ChunkSize)}
	if d.Base64 {
		s.enc = make([]byte, d.B64ChunkSize+1)
	}
	return s, nil
}

func (s *session) release() {
	s.read, s.enc = nil, nil
}

func (s *session) run(ctx context.Context, p platform.Platform, c Callbacks, d image.Descriptor) error {
	if c.Start != nil {
		if err := c.Start(ctx); err != nil {
			return errors.E(errors.StartFailed, "upload: start callback", err)
		}
	}
	log.Printf("upload: image at %#x: %d bytes in %d chunks of %d (base64=%v)",
		d.Addr, d.Size, d.ChunkCount, d.ChunkSize, d.Base64)

	uploadErr := s.stream(ctx, p, c, d)

	// End runs whenever Start succeeded, even on a failing stream,
	// so the host can tear down its transport. An earlier error
	// always wins over an End error.
	if c.End != nil {
		if err := c.End(ctx); err != nil {
			if uploadErr == nil {
				uploadErr = errors.E(errors.EndFailed, "upload: end callback", err)
			} else {
				log.Error.Printf("upload: end callback failed after %v: %v", uploadErr, err)
			}
		}
	}
	if uploadErr != nil {
		log.Printf("upload: aborted, image preserved: %v", uploadErr)
		return uploadErr
	}

	// Commit. The image is retired only now, after the host saw
	// every byte. A failed erase leaves a delivered image in place;
	// the next boot will send it again.
	if err := p.EraseImage(ctx); err != nil {
		return errors.E(errors.EraseFailed, errors.Temporary, "upload: image delivered but not retired", err)
	}
	log.Printf("upload: done, image erased")
	return nil
}

// stream runs the chunk loop. The first fault in an iteration wins:
// a read error preempts encode and write, a write error preempts
// progress.
func (s *session) stream(ctx context.Context, p platform.Platform, c Callbacks, d image.Descriptor) error {
	for i := int64(0); i < d.ChunkCount; i++ {
		if err := ctx.Err(); err != nil {
			return errors.E(errors.Canceled, fmt.Sprintf("upload: before chunk %d", i), err)
		}
		buf := s.read[:d.ChunkLen(i)]
		if err := p.ReadImage(ctx, buf, d.Offset(i)); err != nil {
			return errors.E(errors.Platform, fmt.Sprintf("upload: reading chunk %d", i), err)
		}
		out := buf
		if d.Base64 {
			n, err := chunkenc.Encode(s.enc, buf)
			if err != nil {
				return errors.E(fmt.Sprintf("upload: encoding chunk %d", i), err)
			}
			out = s.enc[:n]
		}
		if err := c.Write(ctx, out); err != nil {
			return errors.E(errors.WriteFailed, fmt.Sprintf("upload: writing chunk %d", i), err)
		}
		if c.Progress != nil {
			if err := c.Progress(ctx, d, i, len(out)); err != nil {
				return errors.E(errors.Canceled, fmt.Sprintf("upload: canceled at chunk %d", i), err)
			}
		}
		log.Debug.Printf("upload: chunk %d/%d: %d bytes sent", i+1, d.ChunkCount, len(out))
	}
	return nil
}
