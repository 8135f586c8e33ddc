// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package errors_test

import (
	"context"
	goerrors "errors"
	"fmt"
	"os"
	"testing"

	"github.com/grailbio/coredump/errors"
)

func TestError(t *testing.T) {
	cause := goerrors.New("connection reset by peer")
	e1 := errors.E(errors.WriteFailed, "publishing chunk", cause)
	if got, want := e1.Error(), "publishing chunk: write callback failed: connection reset by peer"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if !errors.Is(errors.WriteFailed, e1) {
		t.Errorf("error %v should be WriteFailed", e1)
	}
	e2 := errors.E(context.Canceled)
	if !errors.Is(errors.Canceled, e2) {
		t.Errorf("error %v should be Canceled", e2)
	}
}

func TestErrorChaining(t *testing.T) {
	err := goerrors.New("flash region locked")
	err = errors.E("erasing image", err)
	err = errors.E(errors.EraseFailed, errors.Temporary, "image delivered but not retired", err)
	want := "image delivered but not retired: image erase failed (temporary):\n\terasing image: flash region locked"
	if got := err.Error(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if !errors.Is(errors.EraseFailed, err) {
		t.Errorf("error %v should be EraseFailed", err)
	}
}

func TestKindInheritance(t *testing.T) {
	inner := errors.E(errors.Platform, "reading chunk 3")
	outer := errors.E("uploading image", inner)
	if !errors.Is(errors.Platform, outer) {
		t.Errorf("error %v should inherit kind Platform", outer)
	}
}

func TestIsTemporary(t *testing.T) {
	for _, c := range []struct {
		err       error
		temporary bool
	}{
		{errors.E(errors.EraseFailed, errors.Temporary, "commit failed"), true},
		{errors.E(errors.Retriable, "image preserved"), true},
		{errors.E(errors.Invalid, errors.Fatal, "missing write callback"), false},
		{errors.E("no idea"), false},
		{goerrors.New("no idea"), false},
	} {
		if got, want := errors.IsTemporary(c.err), c.temporary; got != want {
			t.Errorf("error %v: got %v, want %v", c.err, got, want)
		}
	}
}

func TestStdInterop(t *testing.T) {
	err := errors.E(errors.NoImage, "locating image")
	if !goerrors.Is(err, os.ErrNotExist) {
		t.Errorf("error %v should match os.ErrNotExist", err)
	}
	err = errors.E(errors.Canceled, "progress refused")
	if !goerrors.Is(err, context.Canceled) {
		t.Errorf("error %v should match context.Canceled", err)
	}
}

func TestMatch(t *testing.T) {
	cause := fmt.Errorf("broker unavailable")
	err := errors.E(errors.StartFailed, "opening session", cause)
	if !errors.Match(errors.E(errors.StartFailed, "opening session", cause), err) {
		t.Errorf("error %v should match itself", err)
	}
	if errors.Match(errors.E(errors.EndFailed), err) {
		t.Errorf("error %v should not match EndFailed", err)
	}
}

func TestVisit(t *testing.T) {
	inner := goerrors.New("inner")
	err := errors.E(errors.WriteFailed, "outer", inner)
	var n int
	errors.Visit(err, func(error) { n++ })
	if got, want := n, 2; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
