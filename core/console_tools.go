package orchestration

import (
	"context"

	"github.com/koscakluka/ema-live/core/events"
	"github.com/koscakluka/ema-live/core/session"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// dispatchTools runs each invocation and acknowledges it. The
// acknowledgement is sent even when the tool is unknown or fails.
func (c *Console) dispatchTools(ctx context.Context, invocations []events.ToolInvocation) {
	for _, inv := range invocations {
		c.executeTool(ctx, inv)
		if err := c.session.RespondToTool(inv.ID, session.OK()); err != nil {
			logger.Warn("failed to acknowledge tool call", "tool", inv.Name, "id", inv.ID, "error", err)
		}
	}
}

func (c *Console) executeTool(ctx context.Context, inv events.ToolInvocation) {
	ctx, span := tracer.Start(ctx, "execute tool", trace.WithAttributes(
		attribute.String("tool.name", inv.Name),
		attribute.String("tool.id", inv.ID),
	))
	defer span.End()

	t, ok := c.tools.Get(inv.Name)
	if !ok {
		span.SetStatus(codes.Error, "unknown tool")
		logger.Warn("engine called unknown tool", "tool", inv.Name, "id", inv.ID)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, c.toolTimeout)
	defer cancel()
	if err := t.Execute(ctx, inv.Args); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tool failed")
		logger.Warn("tool failed", "tool", inv.Name, "id", inv.ID, "error", err)
	}
}
