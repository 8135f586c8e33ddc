// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package platformtest provides an in-memory platform.Platform for
// tests and for replaying captured images off-device. Faults are
// injected through the Err hook, keyed by the capability name.
package platformtest

import (
	"context"
	"fmt"

	"github.com/grailbio/coredump/platform"
)

// Fake is an in-memory platform holding one coredump image. The
// zero value holds no image; New seeds one.
type Fake struct {
	// Cause is returned by ResetCause.
	Cause platform.Cause
	// Addr is the partition offset at which the image claims to live.
	Addr int64
	// Image holds the image bytes. Erasing clears it.
	Image []byte

	// Err, if non-nil, is consulted before every capability call
	// with the capability name ("LocateImage", "ReadImage",
	// "EraseImage") and, for reads, the requested offset. A non-nil
	// return is surfaced to the caller and the call has no effect.
	Err func(api string, off int64) error

	// Reads counts ReadImage calls, successful or not.
	Reads int
	// Erased tells whether EraseImage succeeded at least once.
	Erased bool
}

// New returns a Fake reporting the given reset cause and holding
// image at partition offset addr. The image slice is not copied.
func New(cause platform.Cause, addr int64, image []byte) *Fake {
	return &Fake{Cause: cause, Addr: addr, Image: image}
}

// ResetCause implements platform.Platform.
func (f *Fake) ResetCause() platform.Cause { return f.Cause }

// LocateImage implements platform.Platform.
func (f *Fake) LocateImage(ctx context.Context) (platform.Location, error) {
	if f.Err != nil {
		if err := f.Err("LocateImage", 0); err != nil {
			return platform.Location{}, err
		}
	}
	return platform.Location{Addr: f.Addr, Size: int64(len(f.Image))}, nil
}

// ReadImage implements platform.Platform.
func (f *Fake) ReadImage(ctx context.Context, dst []byte, off int64) error {
	f.Reads++
	if f.Err != nil {
		if err := f.Err("ReadImage", off); err != nil {
			return err
		}
	}
	begin := off - f.Addr
	if begin < 0 || begin+int64(len(dst)) > int64(len(f.Image)) {
		return fmt.Errorf("read [%d, %d) outside image [%d, %d)",
			off, off+int64(len(dst)), f.Addr, f.Addr+int64(len(f.Image)))
	}
	copy(dst, f.Image[begin:])
	return nil
}

// EraseImage implements platform.Platform.
func (f *Fake) EraseImage(ctx context.Context) error {
	if f.Err != nil {
		if err := f.Err("EraseImage", 0); err != nil {
			return err
		}
	}
	f.Image = nil
	f.Erased = true
	return nil
}
