package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/rpcdispatch"
	"github.com/felixgeelhaar/rpcdispatch/registry"
)

var methodsCmd = &cobra.Command{
	Use:   "methods",
	Short: "List the registered methods",
	RunE: func(cmd *cobra.Command, args []string) error {
		desc := registerCalculator(rpcdispatch.NopLogger{}).Describe()
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), append(desc.Methods, desc.Notifications...))
		}
		printMethodsTable(cmd.OutOrStdout(), desc)
		return nil
	},
}

var describeCmd = &cobra.Command{
	Use:   "describe",
	Short: "Print the API description as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printJSON(cmd.OutOrStdout(), registerCalculator(rpcdispatch.NopLogger{}).Describe())
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), cfg)
		}
		w := cmd.OutOrStdout()
		successColor.Fprintln(w, "✓ Configuration is valid")
		keyColor.Fprint(w, "Effective: ")
		fmt.Fprintln(w, cfg.String())
		return nil
	},
}

func printMethodsTable(w io.Writer, desc registry.APIDescription) {
	keyColor.Fprint(w, "Consumer: ")
	fmt.Fprintln(w, desc.Consumer)

	table := tablewriter.NewWriter(w)
	table.Header("Name", "Kind", "Signature", "Timeout", "Transports", "Description")

	rows := append(desc.Methods, desc.Notifications...)
	for _, m := range rows {
		kind := "call"
		if m.Notification {
			kind = "notification"
		}
		timeout := "default"
		if m.Timeout != nil {
			timeout = fmt.Sprintf("%gs", *m.Timeout)
		}
		table.Append(m.Name, kind, m.Signature, timeout, strings.Join(m.Transports, ","), m.Description)
	}
	table.Render()
}
