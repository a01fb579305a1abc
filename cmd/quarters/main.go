package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "quarters",
	Short: "Quarters — multi-tenant SaaS backend",
	Long:  "Quarters is the backend for a multi-tenant SaaS product: accounts and sessions, organizations with join codes and email invitations, Stripe subscriptions with trials, notifications, and image storage.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: configs/quarters.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
