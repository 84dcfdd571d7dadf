package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
)

// Version can be set during build with -ldflags
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "ghauth",
	Short: "GitHub sign-in service",
	Long: `ghauth serves the GitHub OAuth login flow: /auth/start, /auth/callback,
/auth/logout and /auth/error. Settings are read from the environment; see
'ghauth serve --help'.`,
	SilenceUsage: true,
}

func main() {
	rootCmd.Version = version
	rootCmd.AddCommand(newServeCmd())
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
