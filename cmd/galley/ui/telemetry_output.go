package ui

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"galley/internal/telemetry"
)

// TelemetryOutput renders sync spans as one line per step transition.
type TelemetryOutput struct {
	provider *sdktrace.TracerProvider
}

func NewTelemetryOutput(w io.Writer) *TelemetryOutput {
	lines := &stepLines{w: w, ops: make(map[trace.SpanID]operation)}
	return &TelemetryOutput{provider: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(lines))}
}

func (o *TelemetryOutput) Tracer() trace.Tracer {
	return o.provider.Tracer(telemetry.InstrumentationName)
}

func (o *TelemetryOutput) Close() {
	_ = o.provider.Shutdown(context.Background())
}

type operation struct {
	node string
	plan telemetry.Plan
}

// stepLines is a span processor. Root spans carry the plan; their children
// are the steps.
type stepLines struct {
	mu  sync.Mutex
	w   io.Writer
	ops map[trace.SpanID]operation
}

func (p *stepLines) OnStart(_ context.Context, span sdktrace.ReadWriteSpan) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !span.Parent().IsValid() {
		op := operation{node: attributeValue(span.Attributes(), telemetry.NodeKey)}
		if raw := attributeValue(span.Attributes(), telemetry.PlanJSONKey); raw != "" {
			_ = json.Unmarshal([]byte(raw), &op.plan)
		}
		p.ops[span.SpanContext().SpanID()] = op
		return
	}
	op, ok := p.ops[span.Parent().SpanID()]
	if !ok {
		return
	}
	fmt.Fprintln(p.w, formatStepLine(op, span.Name(), "[->]", ""))
}

func (p *stepLines) OnEnd(span sdktrace.ReadOnlySpan) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !span.Parent().IsValid() {
		delete(p.ops, span.SpanContext().SpanID())
		return
	}
	op, ok := p.ops[span.Parent().SpanID()]
	if !ok {
		return
	}
	status := span.Status()
	if status.Code == codes.Error {
		fmt.Fprintln(p.w, formatStepLine(op, span.Name(), "[x]", status.Description))
		return
	}
	fmt.Fprintln(p.w, formatStepLine(op, span.Name(), "[ok]", ""))
}

func (p *stepLines) Shutdown(context.Context) error   { return nil }
func (p *stepLines) ForceFlush(context.Context) error { return nil }

func formatStepLine(op operation, stepID, prefix, msg string) string {
	title := op.plan.Title(stepID)
	counter := ""
	for i, s := range op.plan.Steps {
		if s.ID == stepID {
			counter = fmt.Sprintf("%d/%d ", i+1, len(op.plan.Steps))
			break
		}
	}
	line := fmt.Sprintf("  %s %s%s", prefix, counter, title)
	if op.node != "" {
		line = fmt.Sprintf("  %s %s: %s%s", prefix, op.node, counter, title)
	}
	if msg = strings.TrimSpace(msg); msg != "" {
		line += " (" + msg + ")"
	}
	return line
}

func attributeValue(attrs []attribute.KeyValue, key string) string {
	for _, attr := range attrs {
		if string(attr.Key) == key {
			return attr.Value.AsString()
		}
	}
	return ""
}
