package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"genrelay/internal/infra/logger"
	"genrelay/internal/usecase/dispatch"
)

func newChainCmd(g *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "chain",
		Short: "Show the preference chain the current config and environment produce",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			table, err := loadTable(cfg.Catalog)
			if err != nil {
				return err
			}
			chain, err := dispatch.BuildChain(table, newFactory(cfg, logger.Discard()), chainConfig(cfg.Dispatch), logger.Discard())
			if err != nil {
				return err
			}
			return printChain(cmd.OutOrStdout(), chain, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func printChain(w io.Writer, chain *dispatch.Chain, asJSON bool) error {
	entries := chainEntries(chain)
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"chain": entries})
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "POS\tPROVIDER\tMODEL\tKIND\tTASKS\tORIGIN")
	for _, e := range entries {
		tasks := make([]string, len(e.Tasks))
		for i, t := range e.Tasks {
			tasks[i] = string(t)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			e.Position, e.Provider, e.Model, e.Kind, strings.Join(tasks, ","), e.Origin)
	}
	return tw.Flush()
}
