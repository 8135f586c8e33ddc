// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package image_test

import (
	"context"
	"testing"

	"github.com/go-test/deep"
	fuzz "github.com/google/gofuzz"
	"github.com/grailbio/coredump/errors"
	"github.com/grailbio/coredump/image"
	"github.com/grailbio/coredump/platform"
	"github.com/grailbio/coredump/platform/platformtest"
)

func describe(t *testing.T, size, chunk int64, b64 bool) image.Descriptor {
	t.Helper()
	d, err := image.Describe(platform.Location{Addr: 0x10000, Size: size}, chunk, b64)
	if err != nil {
		t.Fatalf("Describe(%d, %d, %v): %v", size, chunk, b64, err)
	}
	if err := d.Validate(); err != nil {
		t.Fatalf("Describe(%d, %d, %v): %v", size, chunk, b64, err)
	}
	return d
}

func TestDescribe(t *testing.T) {
	for _, c := range []struct {
		size, chunk               int64
		b64                       bool
		wantChunk, wantCount      int64
		wantLast                  int64
		wantB64Chunk, wantB64Last int64
		wantB64Size               int64
	}{
		{size: 1000, chunk: 300, wantChunk: 300, wantCount: 4, wantLast: 100},
		{size: 1000, chunk: 300, b64: true, wantChunk: 300, wantCount: 4, wantLast: 100,
			wantB64Chunk: 400, wantB64Last: 136, wantB64Size: 1336},
		{size: 5, chunk: 0, wantChunk: 768, wantCount: 1, wantLast: 5},
		{size: 1, chunk: 300, wantChunk: 300, wantCount: 1, wantLast: 1},
		{size: 300, chunk: 300, wantChunk: 300, wantCount: 1, wantLast: 300},
		{size: 301, chunk: 300, wantChunk: 300, wantCount: 2, wantLast: 1},
		{size: 10, chunk: 2, b64: true, wantChunk: 3, wantCount: 4, wantLast: 1,
			wantB64Chunk: 4, wantB64Last: 4, wantB64Size: 16},
		{size: 10, chunk: 1, b64: true, wantChunk: 3, wantCount: 4, wantLast: 1,
			wantB64Chunk: 4, wantB64Last: 4, wantB64Size: 16},
		{size: 10, chunk: 0, b64: true, wantChunk: 768, wantCount: 1, wantLast: 10,
			wantB64Chunk: 1024, wantB64Last: 16, wantB64Size: 16},
	} {
		d := describe(t, c.size, c.chunk, c.b64)
		if got, want := d.ChunkSize, c.wantChunk; got != want {
			t.Errorf("%+v: chunk size %d, want %d", c, got, want)
		}
		if got, want := d.ChunkCount, c.wantCount; got != want {
			t.Errorf("%+v: chunk count %d, want %d", c, got, want)
		}
		if got, want := d.LastChunkSize, c.wantLast; got != want {
			t.Errorf("%+v: last chunk size %d, want %d", c, got, want)
		}
		if !c.b64 {
			continue
		}
		if got, want := d.B64ChunkSize, c.wantB64Chunk; got != want {
			t.Errorf("%+v: b64 chunk size %d, want %d", c, got, want)
		}
		if got, want := d.B64LastChunkSize, c.wantB64Last; got != want {
			t.Errorf("%+v: b64 last chunk size %d, want %d", c, got, want)
		}
		if got, want := d.B64Size, c.wantB64Size; got != want {
			t.Errorf("%+v: b64 size %d, want %d", c, got, want)
		}
	}
}

func TestDescribeErrors(t *testing.T) {
	if _, err := image.Describe(platform.Location{Size: 0}, 0, false); !errors.Is(errors.NoImage, err) {
		t.Errorf("got %v, want NoImage", err)
	}
	if _, err := image.Describe(platform.Location{Size: 10}, -1, false); !errors.Is(errors.Invalid, err) {
		t.Errorf("got %v, want Invalid", err)
	}
	if _, err := image.Describe(platform.Location{Addr: -1, Size: 10}, 0, false); !errors.Is(errors.Invalid, err) {
		t.Errorf("got %v, want Invalid", err)
	}
}

// Geometry invariants must hold for arbitrary sizes.
func TestDescribeFuzz(t *testing.T) {
	f := fuzz.New().NilChance(0)
	var seed struct{ Size, Chunk uint32 }
	for i := 0; i < 2000; i++ {
		f.Fuzz(&seed)
		size := int64(seed.Size%(1<<20)) + 1
		chunk := int64(seed.Chunk % 4096)
		for _, b64 := range []bool{false, true} {
			d, err := image.Describe(platform.Location{Size: size}, chunk, b64)
			if err != nil {
				t.Fatalf("size=%d chunk=%d b64=%v: %v", size, chunk, b64, err)
			}
			if err := d.Validate(); err != nil {
				t.Fatalf("size=%d chunk=%d b64=%v: %v", size, chunk, b64, err)
			}
			if d.ChunkCount == 1 && d.LastChunkSize != d.Size {
				t.Fatalf("size=%d chunk=%d: single chunk of %d", size, chunk, d.LastChunkSize)
			}
			var wire int64
			for j := int64(0); j < d.ChunkCount; j++ {
				wire += d.WireLen(j)
			}
			if got, want := wire, d.WireSize(); got != want {
				t.Fatalf("size=%d chunk=%d b64=%v: wire sum %d, want %d", size, chunk, b64, got, want)
			}
		}
	}
}

func TestDescribePure(t *testing.T) {
	loc := platform.Location{Addr: 0x20000, Size: 12345}
	d1, err := image.Describe(loc, 300, true)
	if err != nil {
		t.Fatal(err)
	}
	d2, err := image.Describe(loc, 300, true)
	if err != nil {
		t.Fatal(err)
	}
	if diff := deep.Equal(d1, d2); diff != nil {
		t.Errorf("descriptors differ: %v", diff)
	}
}

func TestLocate(t *testing.T) {
	ctx := context.Background()
	p := platformtest.New(platform.Panic, 0x110000, make([]byte, 1000))
	d, err := image.Locate(ctx, p, 300, false)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := d.Addr, int64(0x110000); got != want {
		t.Errorf("got %#x, want %#x", got, want)
	}
	if got, want := d.ChunkCount, int64(4); got != want {
		t.Errorf("got %d, want %d", got, want)
	}

	p = platformtest.New(platform.Panic, 0, nil)
	if _, err := image.Locate(ctx, p, 0, false); !errors.Is(errors.NoImage, err) {
		t.Errorf("got %v, want NoImage", err)
	}

	p = platformtest.New(platform.Panic, 0, make([]byte, 10))
	p.Err = func(api string, off int64) error {
		if api == "LocateImage" {
			return errors.New("esp_core_dump_image_get failed")
		}
		return nil
	}
	if _, err := image.Locate(ctx, p, 0, false); !errors.Is(errors.Platform, err) {
		t.Errorf("got %v, want Platform", err)
	}
}
