/*
Copyright 2025 Tally Authors.

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

	"github.com/tallyops/tally"
	"github.com/tallyops/tally/config"
	"github.com/tallyops/tally/database"
	"github.com/tallyops/tally/internal/notification"
)

// Tally represents the CLI application, encapsulating the root Cobra command.
type Tally struct {
	cmd *cobra.Command
}

// tallyInstance holds the service instance and its configuration for
// use by the subcommands.
type tallyInstance struct {
	tally *tally.Tally
	cnf   *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and initializes the service before
// any command runs.
func preRun(app *tallyInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("tally.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newTally, err := setupTally(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.tally = newTally
		app.cnf = cnf

		return nil
	}
}

func setupTally(cfg *config.Configuration) (*tally.Tally, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newTally, err := tally.NewTally(db)
	if err != nil {
		return nil, fmt.Errorf("error creating tally: %v", err)
	}
	return newTally, nil
}

// NewCLI creates the command-line interface for the Tally server.
func NewCLI() *Tally {
	var configFile string
	b := &tallyInstance{}

	var rootCmd = &cobra.Command{
		Use:   "tally",
		Short: "Open source reconciliation server",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./tally.json", "Configuration file for the tally server")

	rootCmd.PersistentPreRunE = preRun(b)

	rootCmd.AddCommand(serverCommands(b))
	rootCmd.AddCommand(migrateCommands(b))
	rootCmd.AddCommand(backupCommands(b))

	return &Tally{cmd: rootCmd}
}

func (w Tally) executeCLI() {
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
