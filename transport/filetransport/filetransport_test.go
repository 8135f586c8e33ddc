// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package filetransport_test

import (
	"bytes"
	"context"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/DataDog/zstd"
	"github.com/grailbio/coredump/platform"
	"github.com/grailbio/coredump/platform/platformtest"
	"github.com/grailbio/coredump/transport/filetransport"
	"github.com/grailbio/coredump/upload"
	"github.com/grailbio/testutil"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testImage(n int) []byte {
	p := make([]byte, n)
	rand.New(rand.NewSource(int64(n))).Read(p)
	return p
}

func TestFileRaw(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "filetransport")
	defer cleanup()

	img := testImage(2000)
	p := platformtest.New(platform.Panic, 0, img)
	path := filepath.Join(tempDir, "core.bin")
	require.NoError(t, upload.Upload(context.Background(), p, filetransport.New(path).Callbacks()))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(got, img))
	assert.True(t, p.Erased)
}

func TestFileGzip(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "filetransport")
	defer cleanup()

	img := testImage(5000)
	p := platformtest.New(platform.Panic, 0, img)
	path := filepath.Join(tempDir, "core.bin.gz")
	require.NoError(t, upload.Upload(context.Background(), p, filetransport.New(path).Callbacks()))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	got, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(got, img))
}

func TestFileZstd(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "filetransport")
	defer cleanup()

	img := testImage(5000)
	p := platformtest.New(platform.Panic, 0, img)
	path := filepath.Join(tempDir, "core.bin.zst")
	require.NoError(t, upload.Upload(context.Background(), p, filetransport.New(path).Callbacks()))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	got, err := zstd.Decompress(nil, raw)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(got, img))
}

func TestFileStartError(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "filetransport")
	defer cleanup()

	p := platformtest.New(platform.Panic, 0, testImage(10))
	path := filepath.Join(tempDir, "no", "such", "dir", "core.bin")
	err := upload.Upload(context.Background(), p, filetransport.New(path).Callbacks())
	assert.Error(t, err)
	assert.False(t, p.Erased)
}
