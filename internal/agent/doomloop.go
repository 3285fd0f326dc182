package agent

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"

	"github.com/loadout-ai/loadout/internal/provider"
)

type doomLoopAction int

const (
	doomLoopNone doomLoopAction = iota
	doomLoopWarn
	doomLoopStop
)

const (
	// Identical tool batches, regardless of outcome.
	doomLoopWarnThreshold = 3
	doomLoopStopThreshold = 5

	// Tool batches where every result is an error.
	failureLoopWarnThreshold = 2
	failureLoopStopThreshold = 4
)

// doomLoopDetector catches the model issuing the exact same tool batch
// over and over. Any change in the batch resets the streak.
type doomLoopDetector struct {
	lastSig string
	streak  int
}

func (d *doomLoopDetector) check(calls []provider.ToolCall) doomLoopAction {
	sig := batchSignature(calls)
	if sig == "" {
		d.lastSig = ""
		d.streak = 0
		return doomLoopNone
	}
	if sig == d.lastSig {
		d.streak++
	} else {
		d.lastSig = sig
		d.streak = 1
	}

	switch {
	case d.streak >= doomLoopStopThreshold:
		return doomLoopStop
	case d.streak >= doomLoopWarnThreshold:
		return doomLoopWarn
	default:
		return doomLoopNone
	}
}

// failureLoopDetector tracks repeated tool batches that fail completely.
// It trips earlier than doomLoopDetector: a batch that keeps failing
// wholesale will not start succeeding on its own.
type failureLoopDetector struct {
	lastSig string
	streak  int
}

// check returns an action only when all tool results in this batch are errors.
func (d *failureLoopDetector) check(calls []provider.ToolCall, results []provider.Part) doomLoopAction {
	if !allToolResultsFailed(results) {
		d.lastSig = ""
		d.streak = 0
		return doomLoopNone
	}

	sig := batchSignature(calls)
	if sig == "" {
		return doomLoopNone
	}
	if sig == d.lastSig {
		d.streak++
	} else {
		d.lastSig = sig
		d.streak = 1
	}

	switch {
	case d.streak >= failureLoopStopThreshold:
		return doomLoopStop
	case d.streak >= failureLoopWarnThreshold:
		return doomLoopWarn
	default:
		return doomLoopNone
	}
}

func allToolResultsFailed(results []provider.Part) bool {
	total := 0
	failed := 0
	for _, p := range results {
		if p.Type != provider.PartTypeToolResult {
			continue
		}
		total++
		if p.IsError {
			failed++
		}
	}
	return total > 0 && total == failed
}

// batchSignature hashes a tool batch into an order-independent identity.
func batchSignature(calls []provider.ToolCall) string {
	if len(calls) == 0 {
		return ""
	}
	parts := make([]string, len(calls))
	for i, c := range calls {
		parts[i] = c.Name + ":" + string(c.Input)
	}
	sort.Strings(parts)
	h := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return fmt.Sprintf("%x", h)
}
