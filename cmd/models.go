package cmd

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newModelsCmd() *cobra.Command {
	var filter string
	var limit int

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List models from the pricing catalog",
		Example: `  loadout models -f claude
  loadout models --limit 0`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModels(filter, limit)
		},
	}

	cmd.Flags().StringVarP(&filter, "filter", "f", "", "substring filter on model ids")
	cmd.Flags().IntVar(&limit, "limit", 40, "max rows to print (0=all)")

	return cmd
}

func runModels(filter string, limit int) error {
	cfg := initConfig()
	svc := catalogService(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	catalog, err := svc.Catalog(ctx)
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(catalog))
	needle := strings.ToLower(filter)
	for id := range catalog {
		if needle != "" && !strings.Contains(strings.ToLower(id), needle) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	total := len(ids)
	if total == 0 {
		fmt.Println("No models matched.")
		return nil
	}
	if limit > 0 && total > limit {
		ids = ids[:limit]
	}

	rows := make([][]string, 0, len(ids))
	for _, id := range ids {
		p := catalog[id]
		rows = append(rows, []string{
			truncateModelID(id),
			formatPerMillion(p.Input),
			formatPerMillion(p.Output),
		})
	}

	fmt.Print(renderTable(table{
		Title:   fmt.Sprintf("%d models", total),
		Headers: []string{"Model", "In $/MTok", "Out $/MTok"},
		Rows:    rows,
	}))
	if limit > 0 && total > limit {
		fmt.Printf("…and %d more (use --limit 0 for all)\n", total-limit)
	}
	return nil
}
