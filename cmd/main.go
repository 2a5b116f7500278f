/*
Copyright 2025 Rentora Authors.

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

	"github.com/rentora/billing"
	"github.com/rentora/billing/config"
	"github.com/rentora/billing/store"
)

// CLI wraps the root Cobra command.
type CLI struct {
	cmd *cobra.Command
}

// billingInstance holds the service and its configuration for commands to
// share once preRun has initialized them.
type billingInstance struct {
	billing *billing.Billing
	cnf     *config.Configuration
}

// recoverPanic logs any panic during execution and exits non-zero.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads configuration and builds the billing service before any
// command executes.
func preRun(app *billingInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("billing.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		svc, err := setupBilling(cnf)
		if err != nil {
			log.Fatal(err)
		}

		app.billing = svc
		app.cnf = cnf

		return nil
	}
}

// setupBilling wires the event store, payment gateway and notifier into a
// billing service.
func setupBilling(cfg *config.Configuration) (*billing.Billing, error) {
	ds := store.NewMemoryStore()
	gateway := billing.NewHTTPGateway(cfg.Gateway)
	notifier := billing.NewWebhookNotifier(cfg.Notification)

	svc := billing.NewBilling(cfg, ds, gateway, notifier)
	if svc == nil {
		return nil, fmt.Errorf("error creating billing service")
	}
	return svc, nil
}

// NewCLI creates the command-line interface for the billing service.
func NewCLI() *CLI {
	var configFile string
	b := &billingInstance{}

	var rootCmd = &cobra.Command{
		Use:   "billing",
		Short: "Billing event reliability pipeline",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./billing.json", "Configuration file for the billing service")

	rootCmd.PersistentPreRunE = preRun(b)

	rootCmd.AddCommand(serverCommands(b))

	return &CLI{cmd: rootCmd}
}

// executeCLI runs the root command.
func (w CLI) executeCLI() {
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
