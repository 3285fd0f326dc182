package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newUsageCmd() *cobra.Command {
	var days int
	var recent int

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show recorded spend from the usage ledger",
		Example: `  loadout usage
  loadout usage --days 7 --recent 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUsage(days, recent)
		},
	}

	cmd.Flags().IntVar(&days, "days", 30, "how many days of daily totals to show")
	cmd.Flags().IntVar(&recent, "recent", 0, "also list the N most recent steps")

	return cmd
}

func runUsage(days, recent int) error {
	cfg := initConfig()

	led, err := openLedger(cfg)
	if err != nil {
		return err
	}
	if led == nil {
		return fmt.Errorf("the usage ledger is disabled in config (ledger.disabled)")
	}
	defer led.Close()

	models, err := led.TotalsByModel()
	if err != nil {
		return err
	}
	if len(models) == 0 {
		fmt.Println("No recorded usage yet. Runs record their steps automatically.")
		return nil
	}

	var (
		rows       [][]string
		totalCost  float64
		totalSteps int
	)
	for _, m := range models {
		name := m.Model
		if name == "" {
			name = "(unknown)"
		}
		rows = append(rows, []string{
			truncateModelID(name),
			strconv.Itoa(m.Steps),
			formatTokens(m.InputTokens),
			formatTokens(m.OutputTokens),
			formatCost(m.CostUSD),
		})
		totalCost += m.CostUSD
		totalSteps += m.Steps
	}
	rows = append(rows, []string{"---"})
	rows = append(rows, []string{"total", strconv.Itoa(totalSteps), "", "", formatCost(totalCost)})

	fmt.Print(renderTable(table{
		Title:   "Spend by model",
		Headers: []string{"Model", "Steps", "In", "Out", "Cost"},
		Rows:    rows,
	}))

	dayTotals, err := led.TotalsByDay(days)
	if err != nil {
		return err
	}
	if len(dayTotals) > 0 {
		dayRows := make([][]string, 0, len(dayTotals))
		for _, d := range dayTotals {
			dayRows = append(dayRows, []string{d.Day, strconv.Itoa(d.Steps), formatCost(d.CostUSD)})
		}
		fmt.Println()
		fmt.Print(renderTable(table{
			Title:   fmt.Sprintf("Last %d days", len(dayTotals)),
			Headers: []string{"Day", "Steps", "Cost"},
			Rows:    dayRows,
		}))
	}

	if recent > 0 {
		steps, err := led.Recent(recent)
		if err != nil {
			return err
		}
		stepRows := make([][]string, 0, len(steps))
		for _, s := range steps {
			cost := formatCost(s.CostUSD)
			if s.Unpriced {
				cost = "unpriced"
			}
			stepRows = append(stepRows, []string{
				s.Timestamp.Local().Format("01-02 15:04"),
				truncateModelID(s.Model),
				formatTokens(s.InputTokens),
				formatTokens(s.OutputTokens),
				cost,
			})
		}
		fmt.Println()
		fmt.Print(renderTable(table{
			Title:   "Recent steps",
			Headers: []string{"When", "Model", "In", "Out", "Cost"},
			Rows:    stepRows,
		}))
	}

	return nil
}
