package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mindtastic/roster/config"
)

func (a *application) newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and create configuration files",
	}
	cmd.AddCommand(a.newConfigShowCommand(), a.newConfigInitCommand())
	return cmd
}

func (a *application) newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "show",
		Short:       "Print the effective configuration",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipRegistry: "true"},
		RunE: func(_ *cobra.Command, _ []string) error {
			return config.Write(a.out, a.cfg)
		},
	}
}

func (a *application) newConfigInitCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the effective configuration to a file",
		Long: `Write the effective configuration, defaults included, to path
(roster.toml when omitted). An existing file is kept unless --force is given.`,
		Args:        cobra.MaximumNArgs(1),
		Annotations: map[string]string{skipRegistry: "true"},
		RunE: func(_ *cobra.Command, args []string) error {
			path := "roster.toml"
			if len(args) == 1 {
				path = args[0]
			}

			flag := os.O_WRONLY | os.O_CREATE | os.O_EXCL
			if force {
				flag = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
			}
			f, err := os.OpenFile(path, flag, 0644)
			if err != nil {
				if os.IsExist(err) {
					return fmt.Errorf("%s already exists (use --force to overwrite)", path)
				}
				return err
			}
			if err := config.Write(f, a.cfg); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			a.success("configuration written to %s", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}
