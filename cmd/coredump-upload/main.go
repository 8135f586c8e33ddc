// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Command coredump-upload replays a captured coredump image through
// the upload engine against one of the reference transports. It
// stands in for the device-side boot hook: the reset-cause gate, the
// locate step, and the upload itself are the same calls firmware
// makes, with an in-memory platform backed by the image file.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/grailbio/coredump/image"
	"github.com/grailbio/coredump/platform"
	"github.com/grailbio/coredump/platform/platformtest"
	"github.com/grailbio/coredump/transport/filetransport"
	"github.com/grailbio/coredump/transport/httptransport"
	"github.com/grailbio/coredump/transport/s3transport"
	"github.com/grailbio/coredump/upload"
)

func main() {
	var (
		imagePath = flag.String("image", "", "file holding the captured coredump image (required)")
		addr      = flag.Int64("addr", 0x110000, "partition offset the image claims to live at")
		cause     = flag.String("cause", "panic", "reset cause to simulate (panic, poweron, task-watchdog, ...)")
		chunk     = flag.Int64("chunk", 0, "raw chunk size; 0 selects the default")
		useB64    = flag.Bool("base64", false, "base64-encode each chunk")
		out       = flag.String("out", "", "write the stream to this file (.gz and .zst compress)")
		url       = flag.String("url", "", "POST the stream to this URL")
		s3prefix  = flag.String("s3", "", "put chunks under this s3://bucket/prefix")
	)
	log.AddFlags()
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `usage: coredump-upload -image FILE [-out FILE | -url URL | -s3 s3://BUCKET/PREFIX]

Coredump-upload replays a captured image through the upload engine.
With no destination the raw stream is written to stdout.
`)
		flag.PrintDefaults()
		os.Exit(2)
	}
	flag.Parse()
	if *imagePath == "" {
		flag.Usage()
	}

	c, err := platform.ParseCause(*cause)
	must.Nil(err, "parsing -cause")
	img, err := os.ReadFile(*imagePath)
	must.Nil(err, "reading -image")

	ctx := context.Background()
	plat := platformtest.New(c, *addr, img)
	if !upload.Needed(plat.ResetCause()) {
		log.Printf("reset cause %v: nothing to upload", c)
		return
	}
	desc, err := image.Locate(ctx, plat, *chunk, *useB64)
	must.Nil(err, "locating image")

	var cb upload.Callbacks
	switch {
	case *out != "":
		cb = filetransport.New(*out).Callbacks()
	case *url != "":
		cb = httptransport.New(nil, *url, desc).Callbacks()
	case *s3prefix != "":
		bucket, prefix, err := splitS3(*s3prefix)
		must.Nil(err, "parsing -s3")
		client := s3.New(session.Must(session.NewSession()))
		cb = s3transport.New(client, bucket, prefix, desc).Callbacks()
	default:
		cb = upload.Callbacks{
			Write: func(_ context.Context, p []byte) error {
				_, err := os.Stdout.Write(p)
				return err
			},
		}
	}
	if err := upload.UploadImage(ctx, plat, cb, desc); err != nil {
		log.Fatal(err)
	}
	log.Printf("uploaded %d bytes in %d chunks", desc.WireSize(), desc.ChunkCount)
}

// splitS3 returns the bucket and key prefix for the given S3 url.
func splitS3(rawurl string) (string, string, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return "", "", fmt.Errorf("cannot determine bucket and prefix from %s: %v", rawurl, err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("%s is not an s3://bucket/prefix url", rawurl)
	}
	bucket := u.Host
	prefix := strings.TrimPrefix(rawurl, "s3://"+bucket+"/")
	if prefix == rawurl || prefix == "" {
		return "", "", fmt.Errorf("%s has no key prefix", rawurl)
	}
	return bucket, prefix, nil
}
