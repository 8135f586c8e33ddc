// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package platform defines the small capability surface the upload
// engine needs from the device runtime: the cause of the last reset,
// and primitives to locate, read, and erase the coredump image held
// in its flash partition. Hosts provide an implementation for their
// hardware; platformtest provides an in-memory one.
package platform

import (
	"context"
	"fmt"
	"strings"
)

// Cause identifies the reason for the device's last reset.
type Cause int

const (
	// Unknown indicates the platform could not identify the reset
	// cause. Treated as abnormal: a corrupted reason is cheaper to
	// re-upload than to suppress.
	Unknown Cause = iota
	// PowerOn indicates a normal power-on reset.
	PowerOn
	// SoftwareReset indicates an explicit software-requested reset.
	SoftwareReset
	// DeepSleepWake indicates a wakeup from deep sleep.
	DeepSleepWake
	// Brownout indicates a brownout reset. No image is written for
	// these.
	Brownout
	// Panic indicates a panic or CPU exception.
	Panic
	// InterruptWatchdog indicates an interrupt watchdog reset.
	InterruptWatchdog
	// TaskWatchdog indicates a task watchdog reset.
	TaskWatchdog
	// GenericWatchdog indicates a reset by some other watchdog.
	GenericWatchdog
	// Other indicates a well-identified cause not listed here.
	Other
)

var causes = map[Cause]string{
	Unknown:           "unknown",
	PowerOn:           "poweron",
	SoftwareReset:     "software",
	DeepSleepWake:     "deepsleep",
	Brownout:          "brownout",
	Panic:             "panic",
	InterruptWatchdog: "int-watchdog",
	TaskWatchdog:      "task-watchdog",
	GenericWatchdog:   "watchdog",
	Other:             "other",
}

// String returns a short name for the cause c.
func (c Cause) String() string {
	if s, ok := causes[c]; ok {
		return s
	}
	return fmt.Sprintf("cause(%d)", int(c))
}

// ParseCause returns the cause named by s, as produced by
// Cause.String. Parsing is case-insensitive.
func ParseCause(s string) (Cause, error) {
	for c, name := range causes {
		if strings.EqualFold(s, name) {
			return c, nil
		}
	}
	return Unknown, fmt.Errorf("platform: unknown reset cause %q", s)
}

// Location describes where the coredump image lives: a byte offset
// into the coredump partition and the image's length in bytes.
type Location struct {
	Addr int64
	Size int64
}

// Platform is the device capability set consumed by the engine.
// Implementations need not be safe for concurrent use; the engine
// invokes them from a single task.
type Platform interface {
	// ResetCause returns the cause of the last reset. It must be
	// safe to call before any peripheral bring-up.
	ResetCause() Cause

	// LocateImage returns the flash location of the coredump image.
	// A Location with Size 0 means no image is present.
	LocateImage(ctx context.Context) (Location, error)

	// ReadImage reads exactly len(dst) bytes of the image starting
	// at byte offset off into the partition, or fails. Short reads
	// are errors.
	ReadImage(ctx context.Context, dst []byte, off int64) error

	// EraseImage retires the image so that a subsequent LocateImage
	// reports no image.
	EraseImage(ctx context.Context) error
}
