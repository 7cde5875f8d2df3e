// SPDX-FileCopyrightText: 2025 The codegreen Authors
// SPDX-License-Identifier: Apache-2.0

package service

import "context"

// mockService implements Service only
type mockService struct {
	name string
}

func (m *mockService) Name() string {
	return m.name
}

// mockInitializer implements Initializer
type mockInitializer struct {
	mockService
	initFn    func() error
	initCount int
}

func (m *mockInitializer) Init() error {
	m.initCount++
	if m.initFn != nil {
		return m.initFn()
	}
	return nil
}

// mockShutdowner adds Shutdown to any embedder
type mockShutdowner struct {
	shutdownFn    func() error
	shutdownCount int
}

func (m *mockShutdowner) Shutdown() error {
	m.shutdownCount++
	if m.shutdownFn != nil {
		return m.shutdownFn()
	}
	return nil
}

// mockInitShutdownService implements Initializer and Shutdowner
type mockInitShutdownService struct {
	mockInitializer
	mockShutdowner
}

// mockRunner implements Runner
type mockRunner struct {
	mockService
	runFn    func(ctx context.Context) error
	runCount int
}

func (m *mockRunner) Run(ctx context.Context) error {
	m.runCount++
	if m.runFn != nil {
		return m.runFn(ctx)
	}
	return nil
}

// mockRunShutdownService implements Runner and Shutdowner
type mockRunShutdownService struct {
	mockRunner
	mockShutdowner
}
