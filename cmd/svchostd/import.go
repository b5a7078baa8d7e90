package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nupi-ai/svchost/internal/config"
	configstore "github.com/nupi-ai/svchost/internal/config/store"
)

func newImportCommand(global *globalFlags) *cobra.Command {
	var model string
	cmd := &cobra.Command{
		Use:   "import <settings.toml>",
		Short: "Validate a TOML settings file and save it to the instance store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := config.LoadFile(args[0])
			if err != nil {
				return err
			}

			store, err := configstore.Open(configstore.Options{InstanceName: global.instance})
			if err != nil {
				return fmt.Errorf("open settings store: %w", err)
			}
			defer store.Close()

			if err := store.SaveModel(cmd.Context(), model, m); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d service(s) and %d client(s) into model %q\n", len(m.Services), len(m.Clients), model)
			return nil
		},
	}
	cmd.Flags().StringVar(&model, "model", configstore.DefaultModel, "model name to store the settings under")
	return cmd
}

func newModelsCommand(global *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List stored settings models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := configstore.Open(configstore.Options{InstanceName: global.instance})
			if err != nil {
				return fmt.Errorf("open settings store: %w", err)
			}
			defer store.Close()

			names, err := store.ListModels(cmd.Context())
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a stored settings model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := configstore.Open(configstore.Options{InstanceName: global.instance})
			if err != nil {
				return fmt.Errorf("open settings store: %w", err)
			}
			defer store.Close()
			return store.DeleteModel(cmd.Context(), args[0])
		},
	}
	cmd.AddCommand(deleteCmd)
	return cmd
}
