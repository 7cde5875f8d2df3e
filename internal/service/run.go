// SPDX-FileCopyrightText: 2025 The codegreen Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"log/slog"
	"os"

	"github.com/oklog/run"
)

// Run executes every service implementing Runner as one oklog/run group:
// the first one to return stops all the others, and services implementing
// Shutdowner are shut down on the way out.
func Run(outer context.Context, logger *slog.Logger, services []Service) error {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	ctx, cancel := context.WithCancel(outer)
	defer cancel()

	var g run.Group
	for _, s := range services {
		s := s
		r, ok := s.(Runner)
		if !ok {
			continue
		}

		g.Add(
			func() error {
				logger.Info("Running service", "service", s.Name())
				return r.Run(ctx)
			},
			func(err error) {
				cancel()
				if err != nil {
					logger.Warn("service terminated", "service", s.Name(), "reason", err)
				}

				shutdowner, ok := s.(Shutdowner)
				if !ok {
					return
				}
				logger.Info("shutting down", "service", s.Name())
				if shutdownErr := shutdowner.Shutdown(); shutdownErr != nil {
					logger.Warn("service shutdown failed", "service", s.Name(), "error", shutdownErr)
				}
			},
		)
	}

	return g.Run()
}
