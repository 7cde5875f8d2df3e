// SPDX-FileCopyrightText: 2025 The codegreen Authors
// SPDX-License-Identifier: Apache-2.0

// Package service defines the lifecycle contracts shared by the process's
// long-lived components and runs them as one group.
package service

import "context"

// Service is anything with a name that takes part in the process lifecycle
type Service interface {
	Name() string
}

// Initializer is a service that needs setup before the group runs
type Initializer interface {
	Service
	Init() error
}

// Runner is a service that runs in the background. Run blocks until the
// context is cancelled or the service fails.
type Runner interface {
	Service
	Run(ctx context.Context) error
}

// Shutdowner is a service holding resources that need releasing
type Shutdowner interface {
	Service
	Shutdown() error
}
