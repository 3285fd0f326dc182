package agent

import (
	"encoding/json"
	"testing"

	"github.com/loadout-ai/loadout/internal/provider"
)

func readCall(id, path string) provider.ToolCall {
	return provider.ToolCall{
		ID:    id,
		Name:  "read_file",
		Input: json.RawMessage(`{"file_path":"` + path + `"}`),
	}
}

func resultPart(callID string, isError bool) provider.Part {
	return provider.Part{
		Type:       provider.PartTypeToolResult,
		ToolCallID: callID,
		ToolResult: json.RawMessage(`{"content":"x"}`),
		IsError:    isError,
	}
}

func TestDoomLoopDetector_WarnAndStop(t *testing.T) {
	d := &doomLoopDetector{}
	calls := []provider.ToolCall{readCall("t1", "a.go")}

	if got := d.check(calls); got != doomLoopNone {
		t.Fatalf("first batch should be none, got %d", got)
	}
	if got := d.check(calls); got != doomLoopNone {
		t.Fatalf("second identical batch should still be none, got %d", got)
	}
	if got := d.check(calls); got != doomLoopWarn {
		t.Fatalf("third identical batch should warn, got %d", got)
	}
	d.check(calls) // fourth
	if got := d.check(calls); got != doomLoopStop {
		t.Fatalf("fifth identical batch should stop, got %d", got)
	}
}

func TestDoomLoopDetector_ResetOnDifferentBatch(t *testing.T) {
	d := &doomLoopDetector{}
	a := []provider.ToolCall{readCall("t1", "a.go")}
	b := []provider.ToolCall{readCall("t2", "b.go")}

	d.check(a)
	d.check(a)
	if got := d.check(b); got != doomLoopNone {
		t.Fatalf("different batch should reset the streak, got %d", got)
	}
	d.check(b)
	if got := d.check(b); got != doomLoopWarn {
		t.Fatalf("third identical batch after reset should warn, got %d", got)
	}
}

func TestDoomLoopDetector_OrderIndependentSignature(t *testing.T) {
	d := &doomLoopDetector{}
	forward := []provider.ToolCall{readCall("t1", "a.go"), readCall("t2", "b.go")}
	reversed := []provider.ToolCall{readCall("t3", "b.go"), readCall("t4", "a.go")}

	d.check(forward)
	d.check(reversed)
	if got := d.check(forward); got != doomLoopWarn {
		t.Fatalf("reordered batch should count as the same signature, got %d", got)
	}
}

func TestDoomLoopDetector_EmptyBatch(t *testing.T) {
	d := &doomLoopDetector{}
	if got := d.check(nil); got != doomLoopNone {
		t.Fatalf("empty batch should be none, got %d", got)
	}
}

func TestFailureLoopDetector_WarnAndStop(t *testing.T) {
	d := &failureLoopDetector{}
	calls := []provider.ToolCall{readCall("t1", "a.go")}
	results := []provider.Part{resultPart("t1", true)}

	if got := d.check(calls, results); got != doomLoopNone {
		t.Fatalf("first failure should not warn, got %d", got)
	}
	if got := d.check(calls, results); got != doomLoopWarn {
		t.Fatalf("second repeated failure should warn, got %d", got)
	}
	d.check(calls, results) // third
	if got := d.check(calls, results); got != doomLoopStop {
		t.Fatalf("fourth repeated failure should stop, got %d", got)
	}
}

func TestFailureLoopDetector_ResetOnSuccess(t *testing.T) {
	d := &failureLoopDetector{}
	calls := []provider.ToolCall{readCall("t1", "a.go")}
	fail := []provider.Part{resultPart("t1", true)}
	ok := []provider.Part{resultPart("t1", false)}

	d.check(calls, fail)
	if got := d.check(calls, ok); got != doomLoopNone {
		t.Fatalf("success should reset detector, got %d", got)
	}
	if got := d.check(calls, fail); got != doomLoopNone {
		t.Fatalf("after reset, first failure should be none, got %d", got)
	}
}

func TestFailureLoopDetector_PartialFailureDoesNotCount(t *testing.T) {
	d := &failureLoopDetector{}
	calls := []provider.ToolCall{readCall("t1", "a.go"), readCall("t2", "b.go")}
	mixed := []provider.Part{resultPart("t1", true), resultPart("t2", false)}

	d.check(calls, mixed)
	if got := d.check(calls, mixed); got != doomLoopNone {
		t.Fatalf("batches with any success never count as failures, got %d", got)
	}
}

func TestAllToolResultsFailed_IgnoresTextParts(t *testing.T) {
	parts := []provider.Part{
		{Type: provider.PartTypeText, Text: "note"},
		resultPart("t1", true),
	}
	if !allToolResultsFailed(parts) {
		t.Error("text parts must not count toward the failure ratio")
	}
	if allToolResultsFailed([]provider.Part{{Type: provider.PartTypeText, Text: "only text"}}) {
		t.Error("a batch with no tool results is not a failed batch")
	}
}
