/*
SPDX-FileCopyrightText: Red Hat

SPDX-License-Identifier: Apache-2.0
*/

package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/openshift-kni/vdisk-registry/internal/exit"
)

// Tool contains the data and logic needed to run the vdiskd binary. Don't create instances of this
// directly, use the NewTool function instead.
type Tool struct {
	logger *slog.Logger
	args   []string
	in     io.Reader
	out    io.Writer
	err    io.Writer
}

// ToolBuilder contains the data and logic needed to create a Tool. Don't create instances of this
// directly, use the NewTool function instead.
type ToolBuilder struct {
	logger *slog.Logger
	args   []string
	in     io.Reader
	out    io.Writer
	err    io.Writer
}

// NewTool creates a builder that can then be used to configure and create a Tool.
func NewTool() *ToolBuilder {
	return &ToolBuilder{}
}

// SetLogger sets the logger. This is mandatory.
func (b *ToolBuilder) SetLogger(value *slog.Logger) *ToolBuilder {
	b.logger = value
	return b
}

// AddArgs adds command line arguments, starting with the name of the binary. This is mandatory.
func (b *ToolBuilder) AddArgs(values ...string) *ToolBuilder {
	b.args = append(b.args, values...)
	return b
}

// SetIn sets the standard input stream. This is mandatory.
func (b *ToolBuilder) SetIn(value io.Reader) *ToolBuilder {
	b.in = value
	return b
}

// SetOut sets the standard output stream. This is mandatory.
func (b *ToolBuilder) SetOut(value io.Writer) *ToolBuilder {
	b.out = value
	return b
}

// SetErr sets the standard error stream. This is mandatory.
func (b *ToolBuilder) SetErr(value io.Writer) *ToolBuilder {
	b.err = value
	return b
}

// Build uses the data stored in the builder to create a new Tool.
func (b *ToolBuilder) Build() (result *Tool, err error) {
	if len(b.args) == 0 {
		return nil, fmt.Errorf("binary name is required")
	}
	if b.in == nil {
		return nil, fmt.Errorf("standard input stream is mandatory")
	}
	if b.out == nil {
		return nil, fmt.Errorf("standard output stream is mandatory")
	}
	if b.err == nil {
		return nil, fmt.Errorf("standard error stream is mandatory")
	}
	return &Tool{
		logger: b.logger,
		args:   b.args,
		in:     b.in,
		out:    b.out,
		err:    b.err,
	}, nil
}

// Run parses and executes the command named by the tool's arguments against root, returning the
// exit code the process should terminate with.
func (t *Tool) Run(ctx context.Context, root *cobra.Command) int {
	root.SetArgs(t.args[1:])
	root.SetIn(t.in)
	root.SetOut(t.out)
	root.SetErr(t.err)

	ctx = LoggerIntoContext(ctx, t.logger)
	ctx = ToolIntoContext(ctx, t)
	root.SetContext(ctx)

	if err := root.ExecuteContext(ctx); err != nil {
		// A command that already logged its own failure and wants to pick its own process exit
		// code returns exit.Error directly instead of a generic error; honor that code here
		// rather than logging again and always exiting 1.
		var exitErr exit.Error
		if errors.As(err, &exitErr) {
			return exitErr.Code()
		}
		t.logger.ErrorContext(ctx, "command failed", "error", err)
		return 1
	}
	return 0
}

// Logger returns the tool's logger.
func (t *Tool) Logger() *slog.Logger {
	return t.logger
}
