// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package httptransport implements the host side of an upload as a
// single streaming HTTP POST. The engine's chunks are fed through a
// pipe into the request body, so the whole image crosses the wire in
// one request whose Content-Length is announced up front from the
// descriptor. The response is checked only at End.
package httptransport

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/grailbio/coredump/errors"
	"github.com/grailbio/coredump/image"
	"github.com/grailbio/coredump/upload"
)

// Poster streams one upload to URL. A Poster is single-use: the
// request lives from Start to End.
type Poster struct {
	// Client issues the request. If nil, http.DefaultClient.
	Client *http.Client
	// URL is the collector endpoint.
	URL string

	desc image.Descriptor
	pw   *io.PipeWriter
	done chan error
}

// New returns a Poster delivering the image described by d to url.
func New(client *http.Client, url string, d image.Descriptor) *Poster {
	if client == nil {
		client = http.DefaultClient
	}
	return &Poster{Client: client, URL: url, desc: d}
}

// Callbacks returns the callback record to hand to the engine.
func (p *Poster) Callbacks() upload.Callbacks {
	return upload.Callbacks{Start: p.start, Write: p.write, End: p.end}
}

func (p *Poster) start(ctx context.Context) error {
	pr, pw := io.Pipe()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, pr)
	if err != nil {
		pw.Close()
		return err
	}
	req.ContentLength = p.desc.WireSize()
	req.Header.Set("Content-Type", "application/octet-stream")
	if p.desc.Base64 {
		req.Header.Set("Coredump-Encoding", "base64")
		req.Header.Set("Coredump-Chunk-Size", fmt.Sprint(p.desc.B64ChunkSize))
	} else {
		req.Header.Set("Coredump-Encoding", "raw")
		req.Header.Set("Coredump-Chunk-Size", fmt.Sprint(p.desc.ChunkSize))
	}
	p.pw = pw
	p.done = make(chan error, 1)
	go func() {
		resp, err := p.Client.Do(req)
		if err != nil {
			// Unblock a writer stuck on the pipe.
			pr.CloseWithError(err)
			p.done <- err
			return
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode/100 != 2 {
			err = errors.E(fmt.Sprintf("httptransport: %s: %s", p.URL, resp.Status))
		}
		p.done <- err
	}()
	return nil
}

func (p *Poster) write(ctx context.Context, b []byte) error {
	_, err := p.pw.Write(b)
	return err
}

func (p *Poster) end(ctx context.Context) error {
	p.pw.Close()
	return <-p.done
}
