// Copyright 2022 The jobflow Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

// @title       jobflow
// @version     1.0
// @description jobflow apis swagger doc

// @BasePath /

// @securityDefinitions.apikey APIKey
// @in                         header
// @name                       X-API-KEY

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"jobflow.io/jobflow/cmd/apps"
	"jobflow.io/jobflow/pkg/version"
)

const ErrExitCode = 1

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Println(err.Error())
		os.Exit(ErrExitCode)
	}
}

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "jobflow",
		Short:   "jobflow job orchestration service",
		Version: version.Get().String(),
	}
	cmd.AddCommand(
		apps.NewVersionCmd(),
		apps.NewServiceCmd(),
		apps.NewMigrateCmd(),
	)
	return cmd
}
