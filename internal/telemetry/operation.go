// Package telemetry records each sync as an otel span tree: one operation
// span carrying the planned steps, and one child span per executed step.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	InstrumentationName = "galley"

	PlanEventName = "galley.plan"
	PlanJSONKey   = "galley.plan.json"
	NodeKey       = "galley.node"
	TargetKey     = "galley.target"
	TitleKey      = "galley.step.title"
	CookbooksKey  = "galley.cookbooks"
)

type Step struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type Plan struct {
	Steps []Step `json:"steps"`
}

// Title returns the title of step id, or id itself.
func (p Plan) Title(id string) string {
	for _, s := range p.Steps {
		if s.ID == id {
			return s.Title
		}
	}
	return id
}

// Tracer returns the process-wide tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// Operation is a running plan.
type Operation struct {
	ctx    context.Context
	tracer trace.Tracer
	span   trace.Span
	plan   Plan
}

// Start opens the operation span and records the plan on it.
func Start(ctx context.Context, tracer trace.Tracer, name string, plan Plan, attrs ...attribute.KeyValue) (*Operation, error) {
	if tracer == nil {
		return nil, fmt.Errorf("start %s: tracer is required", name)
	}
	if err := plan.validate(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return nil, fmt.Errorf("start %s: marshal plan: %w", name, err)
	}

	attrs = append(attrs, attribute.String(PlanJSONKey, string(planJSON)))
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	span.AddEvent(PlanEventName, trace.WithAttributes(attribute.String(PlanJSONKey, string(planJSON))))
	return &Operation{ctx: ctx, tracer: tracer, span: span, plan: plan}, nil
}

func (o *Operation) Context() context.Context {
	if o == nil {
		return context.Background()
	}
	return o.ctx
}

// Step runs fn inside a child span named id. A failing fn marks the span
// with an error status.
func (o *Operation) Step(id string, fn func(context.Context) error) error {
	if o == nil {
		return fn(context.Background())
	}
	ctx, span := o.tracer.Start(o.ctx, id, trace.WithAttributes(attribute.String(TitleKey, o.plan.Title(id))))
	defer span.End()

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, strings.TrimSpace(err.Error()))
		return err
	}
	return nil
}

// Annotate adds attributes to the operation span.
func (o *Operation) Annotate(attrs ...attribute.KeyValue) {
	if o == nil {
		return
	}
	o.span.SetAttributes(attrs...)
}

func (o *Operation) End(err error) {
	if o == nil {
		return
	}
	if err != nil {
		o.span.RecordError(err)
		o.span.SetStatus(codes.Error, strings.TrimSpace(err.Error()))
	}
	o.span.End()
}

func (p Plan) validate() error {
	seen := make(map[string]struct{}, len(p.Steps))
	for i, s := range p.Steps {
		id := strings.TrimSpace(s.ID)
		if id == "" {
			return fmt.Errorf("step %d has empty id", i)
		}
		if _, ok := seen[id]; ok {
			return fmt.Errorf("duplicate step id %q", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}
