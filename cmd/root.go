package cmd

import "github.com/spf13/cobra"

var rootCmd = &cobra.Command{
	Use:           "fub-assistant",
	Short:         "Follow Up Boss embedded lead assistant",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}
