package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/wavemigrate/wavemigrate/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	})

	return cmd
}

func runConfigShow(_ *cobra.Command, _ []string) error {
	if resolvedCfg == nil {
		return errors.New("no configuration loaded")
	}

	path := resolvedCfgPath
	if _, err := os.Stat(path); err != nil {
		path = ""
	}

	return config.RenderEffective(resolvedCfg, path, os.Stdout)
}
