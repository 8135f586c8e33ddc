// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package s3transport implements the host side of an upload as a set
// of S3 objects: one object per chunk under a session prefix, plus a
// JSON manifest written at End that lets the collector reassemble
// and validate the image. Individual puts are retried with a backoff
// policy; the engine itself never retries. A put that fails with a
// retryable error is reported only after its retry budget is spent;
// any other error is reported at once.
package s3transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/retry"
	"github.com/grailbio/coredump/image"
	"github.com/grailbio/coredump/upload"
)

const defaultMaxRetries = 3

// DefaultRetryPolicy is the put retry policy used by New.
var DefaultRetryPolicy = retry.MaxRetries(retry.Jitter(retry.Backoff(500*time.Millisecond, 10*time.Second, 2), 0.25), defaultMaxRetries)

// Manifest is the reassembly record written under
// <prefix>/manifest.json after the last chunk.
type Manifest struct {
	Size          int64 `json:"size"`
	ChunkSize     int64 `json:"chunk_size"`
	ChunkCount    int64 `json:"chunk_count"`
	LastChunkSize int64 `json:"last_chunk_size"`
	Base64        bool  `json:"base64"`
	WireSize      int64 `json:"wire_size"`
}

// Uploader delivers one upload to s3://bucket/prefix. An Uploader is
// single-use.
type Uploader struct {
	client  s3iface.S3API
	retrier retry.Policy

	// Bucket and Prefix name the destination. Chunk i becomes
	// <prefix>/chunk-<i>, zero-padded so keys list in stream order.
	Bucket, Prefix string

	desc image.Descriptor
	next int64
}

// New returns an Uploader delivering the image described by d to
// s3://bucket/prefix using client.
func New(client s3iface.S3API, bucket, prefix string, d image.Descriptor) *Uploader {
	return &Uploader{
		client:  client,
		retrier: DefaultRetryPolicy,
		Bucket:  bucket,
		Prefix:  prefix,
		desc:    d,
	}
}

// Callbacks returns the callback record to hand to the engine. There
// is no Start: S3 needs no per-session setup.
func (u *Uploader) Callbacks() upload.Callbacks {
	return upload.Callbacks{Write: u.write, Progress: u.progress, End: u.end}
}

func (u *Uploader) write(ctx context.Context, p []byte) error {
	key := fmt.Sprintf("%s/chunk-%06d", u.Prefix, u.next)
	if err := u.put(ctx, key, p); err != nil {
		return err
	}
	u.next++
	return nil
}

func (u *Uploader) progress(ctx context.Context, d image.Descriptor, i int64, sent int) error {
	log.Debug.Printf("s3transport: s3://%s/%s: chunk %d/%d (%d bytes)", u.Bucket, u.Prefix, i+1, d.ChunkCount, sent)
	return nil
}

func (u *Uploader) end(ctx context.Context) error {
	if u.next < u.desc.ChunkCount {
		// The stream aborted; leave the partial prefix without a
		// manifest so the collector never reassembles it.
		return nil
	}
	m, err := json.Marshal(Manifest{
		Size:          u.desc.Size,
		ChunkSize:     u.desc.ChunkSize,
		ChunkCount:    u.desc.ChunkCount,
		LastChunkSize: u.desc.LastChunkSize,
		Base64:        u.desc.Base64,
		WireSize:      u.desc.WireSize(),
	})
	if err != nil {
		return err
	}
	return u.put(ctx, u.Prefix+"/manifest.json", m)
}

func (u *Uploader) put(ctx context.Context, key string, body []byte) error {
	var err error
	for retries := 0; ; retries++ {
		_, err = u.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(u.Bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(body),
			ContentLength: aws.Int64(int64(len(body))),
		})
		if err == nil || !retryable(err) {
			return err
		}
		if werr := retry.Wait(ctx, u.retrier, retries); werr != nil {
			return err
		}
		log.Debug.Printf("s3transport: retrying put s3://%s/%s: %v", u.Bucket, key, err)
	}
}

// retryable tells whether an AWS error is worth another try:
// throttles, transport-level request errors, and S3 internal errors.
// AWS recommends retrying InternalErrors:
// https://aws.amazon.com/premiumsupport/knowledge-center/http-5xx-errors-s3/
func retryable(err error) bool {
	if request.IsErrorThrottle(err) || request.IsErrorRetryable(err) {
		return true
	}
	aerr, ok := err.(awserr.Error)
	if !ok {
		return false
	}
	switch aerr.Code() {
	case "RequestTimeout", request.ErrCodeRequestError, request.ErrCodeSerialization, "InternalError", "SlowDown":
		return true
	}
	return false
}
