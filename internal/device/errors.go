// SPDX-FileCopyrightText: 2025 The codegreen Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"errors"
	"fmt"
	"io/fs"
)

// Sentinel errors classifying hardware access failures. Callers match them
// with errors.Is.
var (
	// ErrDeviceNotFound indicates the backing hardware interface is absent.
	// The device should be treated as permanently unavailable for this run.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrPermissionDenied indicates the interface exists but the process
	// lacks the privilege to access it. Recoverable by reconfiguration,
	// never retried automatically.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrSensor indicates the interface was opened but a read returned
	// malformed or truncated data. Safe to retry on the next poll.
	ErrSensor = errors.New("sensor read failed")
)

// classifyPathError maps a filesystem error on a device path onto the
// sentinel taxonomy, preserving the original error text.
func classifyPathError(op, path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %s %s: %v", ErrDeviceNotFound, op, path, err)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %s %s: %v", ErrPermissionDenied, op, path, err)
	default:
		return fmt.Errorf("%w: %s %s: %v", ErrSensor, op, path, err)
	}
}
