// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package chunkenc implements the per-chunk Base64 transform used by
// the upload engine. Each chunk is encoded independently and padded
// per RFC 4648, so the concatenation of encoded chunks is not itself
// a valid encoding of the whole image; receivers must decode chunk by
// chunk and concatenate the decoded bytes.
package chunkenc

import (
	"encoding/base64"
	"fmt"

	"github.com/grailbio/coredump/errors"
)

// EncodedLen returns the exact length, 4*ceil(n/3), of the Base64
// encoding of n source bytes.
func EncodedLen(n int64) int64 {
	return 4 * ((n + 2) / 3)
}

// Encode writes the padded RFC 4648 encoding of src into dst and
// returns the number of bytes written. It fails if dst cannot hold
// the encoding.
func Encode(dst, src []byte) (int, error) {
	n := base64.StdEncoding.EncodedLen(len(src))
	if len(dst) < n {
		return 0, errors.E(errors.EncodeFailed, errors.Fatal,
			fmt.Sprintf("destination holds %d bytes, need %d", len(dst), n))
	}
	base64.StdEncoding.Encode(dst, src)
	return n, nil
}
