package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/loadout-ai/loadout/internal/provider"
	"github.com/loadout-ai/loadout/internal/session"
	"github.com/spf13/cobra"
)

func newPruneCmd() *cobra.Command {
	var target, minSavings, protect int

	cmd := &cobra.Command{
		Use:   "prune [history.json]",
		Short: "Compact an exported message history",
		Long: "Reads a JSON array of messages from a file (or stdin), replaces\n" +
			"oversized tool payloads in older messages with compact markers, and\n" +
			"writes the compacted history to stdout.",
		Example: `  loadout prune --target-tokens 8000 history.json
  cat history.json | loadout prune --target-tokens 8000 > compact.json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return runPrune(path, target, minSavings, protect)
		},
	}

	cmd.Flags().IntVar(&target, "target-tokens", 0, "target history size (default prune.target_tokens from config)")
	cmd.Flags().IntVar(&minSavings, "min-savings", 0, "skip pruning when savings fall under this")
	cmd.Flags().IntVar(&protect, "protect", 0, "trailing user messages to keep untouched")

	return cmd
}

func runPrune(path string, target, minSavings, protect int) error {
	cfg := initConfig()
	if target <= 0 {
		target = cfg.Prune.TargetTokens
	}
	if target <= 0 {
		return fmt.Errorf("a prune target is required: --target-tokens or prune.target_tokens in config")
	}
	if minSavings <= 0 {
		minSavings = cfg.Prune.MinSavingsTokens
	}
	if protect <= 0 {
		protect = cfg.Prune.ProtectLastUserMessages
	}

	var (
		data []byte
		err  error
	)
	if path == "" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}

	var messages []provider.Message
	if err := json.Unmarshal(data, &messages); err != nil {
		return fmt.Errorf("parse history (expected a JSON array of messages): %w", err)
	}

	before := session.EstimateMessagesTokens(messages)
	pruned := session.PruneByTokens(messages, session.PruneConfig{
		TargetTokens:             target,
		MinSavingsTokens:         minSavings,
		ProtectLastNUserMessages: protect,
	})
	after := session.EstimateMessagesTokens(pruned)

	out, err := json.MarshalIndent(pruned, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	fmt.Println(string(out))
	fmt.Fprintf(os.Stderr, "[prune] ~%d → ~%d tokens across %d messages\n", before, after, len(pruned))
	return nil
}
