package tools

import (
	"context"
	"testing"
)

func TestBroadcastSchema(t *testing.T) {
	schema := Broadcast(nil).Parameters()
	if schema.Type != "object" {
		t.Fatalf("expected object schema, got %q", schema.Type)
	}
	text, ok := schema.Properties.Get("text")
	if !ok {
		t.Fatalf("expected text property")
	}
	if text.Type != "string" || text.Description == "" {
		t.Fatalf("unexpected text property: %+v", text)
	}
	if len(schema.Required) != 1 || schema.Required[0] != "text" {
		t.Fatalf("expected text to be required, got %v", schema.Required)
	}
}

func TestExecuteDecodesArguments(t *testing.T) {
	var got string
	tool := DetectedLanguage(func(_ context.Context, args DetectedLanguageArgs) error {
		got = args.Language
		return nil
	})

	if err := tool.Execute(context.Background(), map[string]any{"language": "Dutch"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Dutch" {
		t.Fatalf("expected Dutch, got %q", got)
	}

	if err := tool.Execute(context.Background(), map[string]any{"language": 42}); err == nil {
		t.Fatalf("expected error for mistyped argument")
	}
}

func TestSetEnabledKeepsSetOrder(t *testing.T) {
	set := Declarations()
	enabled := set.Enabled([]string{ReportDetectedLanguage, BroadcastToWebsocket, "unknown"})
	if len(enabled) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(enabled))
	}
	if enabled[0].Name() != BroadcastToWebsocket || enabled[1].Name() != ReportDetectedLanguage {
		t.Fatalf("unexpected order: %s, %s", enabled[0].Name(), enabled[1].Name())
	}
	if _, ok := set.Get("unknown"); ok {
		t.Fatalf("expected unknown tool to be missing")
	}
}
