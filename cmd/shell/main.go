package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"jaycmd/internal/config"
	"jaycmd/internal/logging"
	"jaycmd/internal/shell"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "jaycmd",
	Short:         "A small interactive shell with job control",
	Long:          `jaycmd runs pipelines with redirections in the foreground or background and keeps a table of background and stopped jobs.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}

		log, err := logging.New(cfg.Log)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		log.Debug("configuration loaded", zap.String("path", cfgPath), zap.Int("max_jobs", cfg.MaxJobs))

		return shell.New(cfg, log, os.Stdin, os.Stdout, os.Stderr).Run(context.Background())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to a YAML configuration file")
}

func main() {
	cobra.CheckErr(rootCmd.Execute())
}
