package main

import (
	"github.com/spf13/cobra"
)

const defaultConfigPath = "./schedkit.yaml"

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:   "schedkitd",
		Short: "schedkitd runs configured commands on cron and interval schedules",
		Long: `schedkitd is an in-process job scheduler daemon. Jobs come from the
config file (json, yaml or toml) and are reloaded when the file changes.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", defaultConfigPath, "path to config file (.json, .yaml, .yml, .toml)")

	root.AddCommand(
		newRunCmd(&cfgPath),
		newValidateCmd(&cfgPath),
		newExecCmd(&cfgPath),
		newVersionCmd(),
	)
	return root
}
