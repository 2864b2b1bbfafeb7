package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danmuck/beatsd/internal/config"
)

func configCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Generate or validate beatsd.toml",
	}

	var (
		output string
		force  bool
	)
	template := &cobra.Command{
		Use:   "template",
		Short: "Write a config template with every default spelled out",
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" || output == "-" {
				body, err := config.Template()
				if err != nil {
					return err
				}
				_, err = fmt.Fprint(cmd.OutOrStdout(), body)
				return err
			}
			if err := config.WriteTemplate(output, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote config template to %s\n", output)
			return nil
		},
	}
	template.Flags().StringVarP(&output, "output", "o", "", "output path, - for stdout")
	template.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(opts.configPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "validated config at %s\n", opts.configPath)
			return nil
		},
	}

	cmd.AddCommand(template, validate)
	return cmd
}
