// Package functions maps the tool names offered to the model onto handlers
// that run against the tenant's catalog, orders, leads and documents.
//
// Handlers never fail across the dispatch boundary. Every outcome, including
// a missing argument or a broken business rule, becomes the text the model
// reads as the function result so it can answer the customer.
package functions

import (
	"context"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/capitalize-ai/commerce-agent/internal/apperror"
	"github.com/capitalize-ai/commerce-agent/pkg/logger"
	"github.com/capitalize-ai/commerce-agent/pkg/metrics"
)

// NotFound is returned for a function name with no registered handler.
const NotFound = "function call not found"

// Call is one function invocation requested by the model.
type Call struct {
	TenantID       string
	ConversationID string
	Phone          string
	Name           string
	Args           Args
	// Location is the tenant timezone used to render dates.
	Location *time.Location
}

// Handler executes a call and returns the text relayed to the model. A
// returned apperror.DomainError is relayed verbatim; any other error is logged
// and replaced by the definition's FailureMessage.
type Handler func(ctx context.Context, call Call) (string, error)

// Definition registers a handler under a function name together with the
// notifications a call raises.
type Definition struct {
	Name           string
	Handler        Handler
	FailureMessage string

	// Quiet calls are persisted without their arguments.
	Quiet        bool
	HumanHandoff bool
	Lead         bool
	Order        bool
}

// Flags are the notifications raised by a call.
type Flags struct {
	HumanHandoff bool
	Lead         bool
	Order        bool
}

// Or merges two sets of flags.
func (f Flags) Or(o Flags) Flags {
	return Flags{
		HumanHandoff: f.HumanHandoff || o.HumanHandoff,
		Lead:         f.Lead || o.Lead,
		Order:        f.Order || o.Order,
	}
}

// Outcome is the result of dispatching a call.
type Outcome struct {
	Content string
	Flags   Flags
	Quiet   bool
	Found   bool
}

// Registry holds the handlers by name.
type Registry struct {
	defs   map[string]Definition
	logger *logger.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		defs:   make(map[string]Definition),
		logger: log,
	}
}

// Register adds or replaces a definition.
func (r *Registry) Register(defs ...Definition) {
	for _, d := range defs {
		if d.FailureMessage == "" {
			d.FailureMessage = "Error al ejecutar la función " + d.Name
		}
		r.defs[d.Name] = d
	}
}

// Names returns the registered function names sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.defs[name]
	return ok
}

// IsQuiet reports whether calls to name are persisted without arguments.
func (r *Registry) IsQuiet(name string) bool {
	return r.defs[name].Quiet
}

// TriggersHumanHandoff reports whether name asks for a human agent.
func (r *Registry) TriggersHumanHandoff(name string) bool {
	return r.defs[name].HumanHandoff
}

// TriggersLead reports whether name captures a lead.
func (r *Registry) TriggersLead(name string) bool {
	return r.defs[name].Lead
}

// TriggersOrder reports whether name confirms an order.
func (r *Registry) TriggersOrder(name string) bool {
	return r.defs[name].Order
}

// Dispatch runs the handler registered for call.Name.
func (r *Registry) Dispatch(ctx context.Context, call Call) Outcome {
	ctx, span := otel.Tracer("functions").Start(ctx, "functions.dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("function.name", call.Name),
		attribute.String("tenant.id", call.TenantID),
	)

	def, ok := r.defs[call.Name]
	if !ok {
		metrics.RecordToolCall(call.Name, "not_found")
		r.logger.Warn("unknown function requested",
			zap.String("tenant_id", call.TenantID),
			zap.String("function", call.Name),
		)
		return Outcome{Content: NotFound}
	}
	if call.Args == nil {
		call.Args = Args{}
	}
	if call.Location == nil {
		call.Location = time.UTC
	}

	out := Outcome{
		Found: true,
		Quiet: r.IsQuiet(call.Name),
		Flags: Flags{
			HumanHandoff: r.TriggersHumanHandoff(call.Name),
			Lead:         r.TriggersLead(call.Name),
			Order:        r.TriggersOrder(call.Name),
		},
	}

	content, err := def.Handler(ctx, call)
	switch {
	case err == nil:
		out.Content = content
		metrics.RecordToolCall(call.Name, "ok")
	default:
		if msg, ok := apperror.Message(err); ok {
			out.Content = msg
			metrics.RecordToolCall(call.Name, "rejected")
			r.logger.Info("function rejected",
				zap.String("tenant_id", call.TenantID),
				zap.String("function", call.Name),
				zap.String("reason", msg),
			)
			break
		}
		out.Content = def.FailureMessage
		metrics.RecordToolCall(call.Name, "error")
		span.RecordError(err)
		r.logger.Error("function failed",
			zap.String("tenant_id", call.TenantID),
			zap.String("function", call.Name),
			zap.Error(err),
		)
	}
	return out
}
