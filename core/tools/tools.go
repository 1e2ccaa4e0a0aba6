// Package tools declares the functions the engine may call and decodes their
// arguments.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/invopop/jsonschema"
)

const (
	BroadcastToWebsocket   = "broadcast_to_websocket"
	ReportDetectedLanguage = "report_detected_language"
)

// Tool is a function the engine can invoke.
type Tool interface {
	Name() string
	Description() string
	Parameters() *jsonschema.Schema
	Execute(ctx context.Context, args map[string]any) error
}

type tool[T any] struct {
	name        string
	description string
	parameters  *jsonschema.Schema
	execute     func(context.Context, T) error
}

// New declares a tool whose parameters are reflected from T. Field
// descriptions come from `jsonschema:"description=..."` tags.
func New[T any](name, description string, execute func(context.Context, T) error) Tool {
	reflector := jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true, Anonymous: true}
	return &tool[T]{
		name:        name,
		description: description,
		parameters:  reflector.ReflectFromType(reflect.TypeFor[T]()),
		execute:     execute,
	}
}

func (t *tool[T]) Name() string                   { return t.name }
func (t *tool[T]) Description() string            { return t.description }
func (t *tool[T]) Parameters() *jsonschema.Schema { return t.parameters }

func (t *tool[T]) Execute(ctx context.Context, args map[string]any) error {
	params, err := Decode[T](args)
	if err != nil {
		return fmt.Errorf("invalid arguments for %q: %w", t.name, err)
	}
	if t.execute == nil {
		return nil
	}
	return t.execute(ctx, params)
}

// Decode converts an engine argument bag into T.
func Decode[T any](args map[string]any) (T, error) {
	var out T
	data, err := json.Marshal(args)
	if err != nil {
		return out, fmt.Errorf("failed to encode arguments: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("failed to decode arguments: %w", err)
	}
	return out, nil
}

type BroadcastArgs struct {
	Text string `json:"text" jsonschema:"description=The text to broadcast to every participant in the meeting."`
}

type DetectedLanguageArgs struct {
	Language string `json:"language" jsonschema:"description=The name of the language the speaker is using."`
}

// Broadcast declares broadcast_to_websocket.
func Broadcast(execute func(context.Context, BroadcastArgs) error) Tool {
	return New(BroadcastToWebsocket,
		"Broadcast translated or transcribed text to every participant in the meeting in real time.",
		execute)
}

// DetectedLanguage declares report_detected_language.
func DetectedLanguage(execute func(context.Context, DetectedLanguageArgs) error) Tool {
	return New(ReportDetectedLanguage,
		"Report the language detected in the speaker's audio.",
		execute)
}

// Set is a named collection of tools.
type Set struct {
	tools []Tool
}

func NewSet(tools ...Tool) *Set {
	return &Set{tools: tools}
}

// Get returns the tool with the given name.
func (s *Set) Get(name string) (Tool, bool) {
	if s == nil {
		return nil, false
	}
	for _, t := range s.tools {
		if t.Name() == name {
			return t, true
		}
	}
	return nil, false
}

// Enabled returns the tools whose names are listed, in set order.
func (s *Set) Enabled(names []string) []Tool {
	if s == nil {
		return nil
	}
	var out []Tool
	for _, t := range s.tools {
		for _, name := range names {
			if t.Name() == name {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

// Declarations returns the tool declarations the engine is configured with.
// Declarations have no handlers attached.
func Declarations() *Set {
	return NewSet(Broadcast(nil), DetectedLanguage(nil))
}
