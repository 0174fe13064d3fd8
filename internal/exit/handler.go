/*
SPDX-FileCopyrightText: Red Hat

SPDX-License-Identifier: Apache-2.0
*/

/*
Copyright 2024 Red Hat Inc.

Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in
compliance with the License. You may obtain a copy of the License at

  http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software distributed under the License is
distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
implied. See the License for the specific language governing permissions and limitations under the
License.
*/

package exit

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"
)

// HandlerBuilder contains the data and logic needed to build an exit handler.
type HandlerBuilder struct {
	logger  *slog.Logger
	signals []os.Signal
}

// Handler knows how to wait for exit signals and how to run shutdown actions, such as stopping a
// node's Scrub Manager worker or flushing its Container Manager, before exiting.
type Handler struct {
	logger  *slog.Logger
	signals []os.Signal
	actions []func(ctx context.Context) error
}

// NewHandler creates a builder that can then be used to configure and create an exit handler.
func NewHandler() *HandlerBuilder {
	return &HandlerBuilder{
		signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
}

// SetLogger sets the logger that the handler will use to write to the log. This is mandatory.
func (b *HandlerBuilder) SetLogger(logger *slog.Logger) *HandlerBuilder {
	b.logger = logger
	return b
}

// AddSignals adds exit signals. SIGINT and SIGTERM are included by default.
func (b *HandlerBuilder) AddSignals(values ...os.Signal) *HandlerBuilder {
	b.signals = append(b.signals, values...)
	return b
}

// Build uses the data stored in the builder to create and configure a new exit handler.
func (b *HandlerBuilder) Build() (*Handler, error) {
	if b.logger == nil {
		return nil, errors.New("logger is mandatory")
	}
	if len(b.signals) == 0 {
		return nil, errors.New("at least one signal is required")
	}
	return &Handler{
		logger:  b.logger,
		signals: slices.Clone(b.signals),
	}, nil
}

// AddAction adds an action that will be executed prior to exiting, in the order added.
func (h *Handler) AddAction(value func(ctx context.Context) error) {
	h.actions = append(h.actions, value)
}

// Wait waits for an exit signal. When it is received it runs all registered exit actions and then
// exits the process. A second signal received while actions are still running exits immediately.
func (h *Handler) Wait(ctx context.Context) error {
	c := make(chan os.Signal, 2)
	signal.Notify(c, h.signals...)

	h.logger.InfoContext(ctx, "waiting for exit signals")
	s := <-c
	go func() {
		h.logger.InfoContext(ctx, "received exit signal", slog.String("signal", s.String()))
		for _, action := range h.actions {
			if err := action(ctx); err != nil {
				h.logger.ErrorContext(ctx, "exit action failed", slog.String("error", err.Error()))
			}
		}
		os.Exit(0)
	}()

	s = <-c
	h.logger.InfoContext(ctx, "received signal while actions were running", slog.String("signal", s.String()))
	os.Exit(1)

	return nil
}
