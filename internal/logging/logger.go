/*
SPDX-FileCopyrightText: Red Hat

SPDX-License-Identifier: Apache-2.0
*/

/*
Copyright 2023 Red Hat Inc.

Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in
compliance with the License. You may obtain a copy of the License at

  http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software distributed under the License is
distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
implied. See the License for the specific language governing permissions and limitations under the
License.
*/

package logging

import (
	"io"
	"log/slog"
	"maps"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// LoggerBuilder contains the data and logic needed to create a logger for a registry node. Don't
// create instances of this directly, use the NewLogger function instead.
type LoggerBuilder struct {
	writer io.Writer
	out    io.Writer
	err    io.Writer
	level  string
	file   string
	fields map[string]any
}

// NewLogger creates a builder that can then be used to configure and create a logger.
func NewLogger() *LoggerBuilder {
	return &LoggerBuilder{}
}

// SetWriter sets the writer that the logger will write to. This is optional, and if not specified
// the logger will write to the standard output stream of the process.
func (b *LoggerBuilder) SetWriter(value io.Writer) *LoggerBuilder {
	b.writer = value
	return b
}

// SetOut sets the standard output stream. Only used when the log file is 'stdout'.
func (b *LoggerBuilder) SetOut(value io.Writer) *LoggerBuilder {
	b.out = value
	return b
}

// SetErr sets the standard error stream. Only used when the log file is 'stderr'.
func (b *LoggerBuilder) SetErr(value io.Writer) *LoggerBuilder {
	b.err = value
	return b
}

// AddField adds a field that will be added to all log messages emitted by the built logger. The
// value '%p' is replaced by the process identifier; any other value is added unchanged.
func (b *LoggerBuilder) AddField(name string, value any) *LoggerBuilder {
	if b.fields == nil {
		b.fields = map[string]any{}
	}
	b.fields[name] = value
	return b
}

// AddFields adds a set of fields. See AddField for the meaning of values.
func (b *LoggerBuilder) AddFields(values map[string]any) *LoggerBuilder {
	if b.fields == nil {
		b.fields = maps.Clone(values)
	} else {
		maps.Copy(b.fields, values)
	}
	return b
}

// SetLevel sets the log level.
func (b *LoggerBuilder) SetLevel(value string) *LoggerBuilder {
	b.level = value
	return b
}

// SetFile sets the file the logger will write to, or 'stdout'/'stderr'.
func (b *LoggerBuilder) SetFile(value string) *LoggerBuilder {
	b.file = value
	return b
}

// SetFlags configures the builder from a parsed flag set created with AddFlags.
func (b *LoggerBuilder) SetFlags(flags *pflag.FlagSet) *LoggerBuilder {
	if flags == nil {
		return b
	}
	if flags.Changed(levelFlagName) {
		if value, err := flags.GetString(levelFlagName); err == nil {
			b.SetLevel(value)
		}
	}
	if flags.Changed(fileFlagName) {
		if value, err := flags.GetString(fileFlagName); err == nil {
			b.SetFile(value)
		}
	}
	if flags.Changed(fieldFlagName) {
		if values, err := flags.GetStringArray(fieldFlagName); err == nil {
			b.AddFields(b.parseFieldItems(values))
		}
	}
	if flags.Changed(fieldsFlagName) {
		if values, err := flags.GetStringSlice(fieldsFlagName); err == nil {
			b.AddFields(b.parseFieldItems(values))
		}
	}
	return b
}

func (b *LoggerBuilder) parseFieldItems(items []string) map[string]any {
	fields := map[string]any{}
	for _, item := range items {
		name, value := b.parseFieldItem(item)
		fields[name] = value
	}
	return fields
}

func (b *LoggerBuilder) parseFieldItem(item string) (name string, value any) {
	if item == pidLogFieldValue {
		return pidLogFieldName, pidLogFieldValue
	}
	if equals := strings.Index(item, "="); equals != -1 {
		return strings.TrimSpace(item[0:equals]), item[equals+1:]
	}
	return strings.TrimSpace(item), ""
}

// Build uses the data stored in the builder to create a new logger.
func (b *LoggerBuilder) Build() (result *slog.Logger, err error) {
	writer := b.writer
	if writer == nil {
		writer, err = b.openWriter()
		if err != nil {
			return nil, err
		}
	}

	level := slog.LevelInfo
	if b.level != "" {
		if err = level.UnmarshalText([]byte(b.level)); err != nil {
			return nil, err
		}
	}

	options := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceTime,
	}
	handler := NewLoggingContextHandler(slog.NewJSONHandler(writer, options), level)

	fields, err := b.customFields()
	if err != nil {
		return nil, err
	}

	return slog.New(handler).With(fields...), nil
}

func (b *LoggerBuilder) openWriter() (io.Writer, error) {
	switch b.file {
	case "", "stdout":
		if b.out != nil {
			return b.out, nil
		}
		return os.Stdout, nil
	case "stderr":
		if b.err != nil {
			return b.err, nil
		}
		return os.Stderr, nil
	default:
		return os.OpenFile(b.file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0660)
	}
}

func (b *LoggerBuilder) customFields() ([]any, error) {
	names := make([]string, 0, len(b.fields))
	for name := range b.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	fields := make([]any, 2*len(names))
	for i, name := range names {
		value := b.fields[name]
		if value == pidLogFieldValue {
			value = os.Getpid()
		}
		fields[2*i] = name
		fields[2*i+1] = value
	}
	return fields, nil
}

func replaceTime(groups []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindTime {
		a = slog.String(a.Key, a.Value.Time().UTC().Format(time.RFC3339))
	}
	return a
}

// Values of log fields with special meanings.
const (
	pidLogFieldName  = "pid"
	pidLogFieldValue = "%p"
)
