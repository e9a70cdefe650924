/*
Copyright 2025 WattVault Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wattvault/wattvault"
	"github.com/wattvault/wattvault/config"
	"github.com/wattvault/wattvault/database"
	"github.com/wattvault/wattvault/internal/notification"
)

// WattVaultCLI wraps the root cobra command.
type WattVaultCLI struct {
	cmd *cobra.Command
}

// vaultInstance holds the runtime service and its configuration, shared by
// all subcommands.
type vaultInstance struct {
	vault *wattvault.Wattvault
	cnf   *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and builds the service before any command
// runs.
func preRun(app *vaultInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig(*configFile)
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		vault, err := setupVault(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.vault = vault
		app.cnf = cnf
		return nil
	}
}

func setupVault(cfg *config.Configuration) (*wattvault.Wattvault, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	vault, err := wattvault.NewWattvault(db)
	if err != nil {
		return nil, fmt.Errorf("error creating wattvault: %v", err)
	}
	return vault, nil
}

// NewCLI assembles the root command with the server, worker and migration
// subcommands.
func NewCLI() *WattVaultCLI {
	var configFile string
	v := &vaultInstance{}

	var rootCmd = &cobra.Command{
		Use:   "wattvault",
		Short: "Multi-asset ledger and wallet service",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./wattvault.json", "Configuration file for wattvault")
	rootCmd.PersistentPreRunE = preRun(v, &configFile)

	rootCmd.AddCommand(serverCommands(v))
	rootCmd.AddCommand(workerCommands(v))
	rootCmd.AddCommand(migrateCommands(v))

	return &WattVaultCLI{cmd: rootCmd}
}

func (w WattVaultCLI) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
