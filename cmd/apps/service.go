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

package apps

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"jobflow.io/jobflow/pkg/service"
	"jobflow.io/jobflow/pkg/service/options"
	"jobflow.io/jobflow/pkg/utils/config"
	"jobflow.io/jobflow/pkg/version"
)

func NewServiceCmd() *cobra.Command {
	options := options.DefaultOptions()
	cmd := &cobra.Command{
		Use:          "service",
		Short:        "run service",
		SilenceUsage: true,
		Version:      version.Get().String(),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.Parse(cmd.Flags()); err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return service.Run(ctx, options)
		},
	}
	cmd.AddCommand(newGenServiceCfgCmd())
	options.RegistFlags("", cmd.Flags())
	return cmd
}

func newGenServiceCfgCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gencfg",
		Short: "generate config template",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return config.GenerateConfig(cmd.OutOrStdout(), options.DefaultOptions())
		},
	}
}

func NewMigrateCmd() *cobra.Command {
	options := options.DefaultOptions()
	cmd := &cobra.Command{
		Use:          "migrate",
		Short:        "create or update the database tables (uses the service config)",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.Parse(cmd.Flags()); err != nil {
				return err
			}
			return service.Migrate(cmd.Context(), options)
		},
	}
	options.RegistFlags("", cmd.Flags())
	return cmd
}
