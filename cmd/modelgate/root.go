package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"modelgate/internal/backend"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "modelgate",
		Short:         "Multi-tenant gateway for local inference backends",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newBackendsCmd(), newVersionCmd())
	return root
}

func newBackendsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List the backend types this binary can serve",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat := backend.NewCatalog(backend.Deps{Logger: zerolog.Nop()})
			backend.RegisterBuiltins(cat)
			out := cmd.OutOrStdout()
			for _, f := range cat.List() {
				caps := make([]string, len(f.DefaultCapabilities))
				for i, c := range f.DefaultCapabilities {
					caps[i] = string(c)
				}
				sort.Strings(caps)
				note := ""
				if f.Type == "llamacpp" && !backend.LlamaBuilt() {
					note = " (unavailable in this build)"
				}
				fmt.Fprintf(out, "%-10s %s [%s]%s\n", f.Type, f.Description, strings.Join(caps, ","), note)
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "modelgate", version)
		},
	}
}

// splitCSV splits a comma-separated flag value, dropping empty items.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
