/*
SPDX-FileCopyrightText: Red Hat

SPDX-License-Identifier: Apache-2.0
*/

/*
Copyright (c) 2023 Red Hat, Inc.

Licensed under the Apache License, Version 2.0 (the "License"); you may not use
this file except in compliance with the License. You may obtain a copy of the
License at

  http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software distributed
under the License is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR
CONDITIONS OF ANY KIND, either express or implied. See the License for the
specific language governing permissions and limitations under the License.
*/

package main

import (
	"context"
	"os"

	"github.com/openshift-kni/vdisk-registry/internal"
	"github.com/openshift-kni/vdisk-registry/internal/cmd"
	"github.com/openshift-kni/vdisk-registry/internal/logging"
)

func main() {
	logger, err := logging.NewLogger().
		SetOut(os.Stdout).
		SetErr(os.Stderr).
		Build()
	if err != nil {
		os.Stderr.WriteString("failed to create logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	tool, err := internal.NewTool().
		SetLogger(logger).
		AddArgs(os.Args...).
		SetIn(os.Stdin).
		SetOut(os.Stdout).
		SetErr(os.Stderr).
		Build()
	if err != nil {
		logger.Error("failed to create tool", "error", err)
		os.Exit(1)
	}

	os.Exit(tool.Run(context.Background(), cmd.Root()))
}
