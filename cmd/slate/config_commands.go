package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"slate/internal/config"
)

func newConfigCommand() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the slate configuration file",
	}
	configCmd.AddCommand(newConfigInitCommand())
	configCmd.AddCommand(newConfigValidateCommand())
	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var (
		path      string
		overwrite bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a sample configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(path)
			if target == "" {
				defaultPath, err := config.DefaultConfigPath()
				if err != nil {
					return err
				}
				target = defaultPath
			}
			expanded, err := config.ExpandPath(target)
			if err != nil {
				return err
			}
			if _, err := os.Stat(expanded); err == nil && !overwrite {
				return fmt.Errorf("%s already exists, pass --overwrite to replace it", expanded)
			}
			if err := config.CreateSample(expanded); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote sample configuration to %s\n", expanded)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "Destination path (defaults to ~/.config/slate/config.toml)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing file")
	cmd.Annotations = map[string]string{"skipConfigLoad": "true"}
	return cmd
}

func newConfigValidateCommand() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Parse and validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, resolvedPath, exists, err := config.Load(path)

			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)
			fmt.Fprintln(stdout, renderStatusLine("Path", statusInfo, resolvedPath, colorize))
			fmt.Fprintln(stdout, renderStatusLine("Exists", boolKind(exists), yesNo(exists), colorize))
			if err != nil {
				fmt.Fprintln(stdout, renderStatusLine("Valid", statusWarn, err.Error(), colorize))
				return fmt.Errorf("configuration is invalid")
			}
			fmt.Fprintln(stdout, renderStatusLine("Valid", statusOK, "yes", colorize))
			fmt.Fprintln(stdout, renderStatusLine("Rules dir", statusInfo, cfg.Paths.RulesDir, colorize))
			fmt.Fprintln(stdout, renderStatusLine("Log dir", statusInfo, cfg.Paths.LogDir, colorize))
			fmt.Fprintln(stdout, renderStatusLine("Socket", statusInfo, cfg.SocketPath(), colorize))
			fmt.Fprintln(stdout, renderStatusLine("Log file", statusInfo, cfg.LogPath(), colorize))
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "Configuration file to validate (defaults to the standard lookup)")
	cmd.Annotations = map[string]string{"skipConfigLoad": "true"}
	return cmd
}
