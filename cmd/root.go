package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/salon-face/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "salonface",
	Short: "Face-code enrollment and verification for salon staff",
	Long: `salonface derives deterministic face codes from captured images, stores
employee enrollments and verifies new captures against them over HTTP and gRPC.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	config.LoadDotEnv()
}
