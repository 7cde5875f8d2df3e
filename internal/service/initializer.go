// SPDX-FileCopyrightText: 2025 The codegreen Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"fmt"
	"log/slog"
	"os"
)

// Init initializes every service implementing Initializer, in order. On
// the first failure it unwinds: services initialized so far that implement
// Shutdowner are shut down, then the failure is returned.
func Init(logger *slog.Logger, services []Service) error {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	initialized := make([]Service, 0, len(services))
	var initErr error

	for _, s := range services {
		srv, ok := s.(Initializer)
		if !ok {
			continue
		}

		logger.Info("Initializing service", "service", s.Name())
		if err := srv.Init(); err != nil {
			initErr = fmt.Errorf("failed to initialize service %s: %w", s.Name(), err)
			break
		}
		initialized = append(initialized, s)
	}

	if initErr == nil {
		return nil
	}

	logger.Info("Unwinding initialized services")
	for _, s := range initialized {
		srv, ok := s.(Shutdowner)
		if !ok {
			continue
		}
		if err := srv.Shutdown(); err != nil {
			logger.Error("failed to shutdown service", "service", s.Name(), "error", err)
		}
	}
	return initErr
}
