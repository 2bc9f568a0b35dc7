package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"sifter/internal/api"
	"sifter/internal/settings"
)

func newSettingsCommand(ctx *commandContext) *cobra.Command {
	var workflowName string

	settingsCmd := &cobra.Command{
		Use:   "settings",
		Short: "Manage workflow settings such as the evaluation instructions",
	}
	settingsCmd.PersistentFlags().StringVarP(&workflowName, "workflow", "w", "", "Workflow name (defaults to workflow.name)")

	resolve := func() string {
		if name := strings.TrimSpace(workflowName); name != "" {
			return name
		}
		cfg, err := ctx.ensureConfig()
		if err != nil || cfg == nil {
			return ""
		}
		return cfg.Workflow.Name
	}

	settingsCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List active settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app) error {
				name := resolve()
				list, err := a.settings.All(cmd.Context(), name)
				if err != nil {
					return err
				}
				if ctx.jsonFlag {
					out := api.SettingListResponse{Workflow: name, Settings: make([]api.Setting, 0, len(list))}
					for _, item := range list {
						out.Settings = append(out.Settings, api.FromSetting(item))
					}
					return writeJSON(cmd, out)
				}
				if len(list) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "No settings for workflow %q\n", name)
					return nil
				}
				rows := make([][]string, 0, len(list))
				for _, item := range list {
					rows = append(rows, []string{item.Key, abbreviate(item.Value, 60), item.Description})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]column{
					{title: "Key"},
					{title: "Value"},
					{title: "Description", maxWidth: 40},
				}, rows))
				return nil
			})
		},
	})

	settingsCmd.AddCommand(&cobra.Command{
		Use:   "get <key>",
		Short: "Print a setting value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app) error {
				name := resolve()
				value, found, err := a.settings.Lookup(cmd.Context(), name, args[0])
				if err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("setting %q not found in workflow %q", args[0], name)
				}
				if ctx.jsonFlag {
					return writeJSON(cmd, api.Setting{Workflow: name, Key: args[0], Value: value})
				}
				fmt.Fprintln(cmd.OutOrStdout(), value)
				return nil
			})
		},
	})

	settingsCmd.AddCommand(newSettingsSetCommand(ctx, resolve))

	settingsCmd.AddCommand(&cobra.Command{
		Use:   "delete <key>",
		Short: "Delete a setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app) error {
				name := resolve()
				deleted, err := a.settings.Delete(cmd.Context(), name, args[0])
				if err != nil {
					return err
				}
				if !deleted {
					return fmt.Errorf("setting %q not found in workflow %q", args[0], name)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
				return nil
			})
		},
	})

	return settingsCmd
}

func newSettingsSetCommand(ctx *commandContext, resolve func() string) *cobra.Command {
	var description, fromFile string

	cmd := &cobra.Command{
		Use:   "set <key> [value]",
		Short: "Store a setting value",
		Example: "  sifter settings set " + settings.KeyAgentInstructions + " --file prompt.txt\n" +
			"  sifter settings set " + settings.KeyAgentInstructions + " \"Keep terms about {niche}\"",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var value string
			switch {
			case fromFile != "" && len(args) == 2:
				return errors.New("pass a value or --file, not both")
			case fromFile != "":
				data, err := os.ReadFile(fromFile)
				if err != nil {
					return fmt.Errorf("read %s: %w", fromFile, err)
				}
				value = string(data)
			case len(args) == 2:
				value = args[1]
			}
			if strings.TrimSpace(value) == "" {
				return errors.New("value is required")
			}
			return ctx.withApp(cmd, func(a *app) error {
				if err := a.settings.Set(cmd.Context(), resolve(), args[0], value, description); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Saved %s\n", args[0])
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&description, "description", "d", "", "Description stored with the value")
	cmd.Flags().StringVarP(&fromFile, "file", "f", "", "Read the value from a file")
	return cmd
}

func abbreviate(value string, limit int) string {
	value = strings.Join(strings.Fields(value), " ")
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-3]) + "..."
}
