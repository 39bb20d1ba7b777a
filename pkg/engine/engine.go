package engine

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/aaghdai/nominal/pkg/log"
	"github.com/aaghdai/nominal/pkg/rule"
)

// Built-in variables, available to every filename pattern.
const (
	VarRuleID     = "rule_id"
	VarDocumentID = "document_id"
)

// Document is a unit of text to classify.
type Document struct {
	ID   string
	Text string
}

// Result is the outcome of classifying a [Document] that matched a form
// rule.
type Result struct {
	// Global holds the document's global variables: every value extracted by
	// global rules, plus the matched rule's declared globals.
	Global rule.Variables `json:"global"`
	// Local holds the matched rule's remaining variables.
	Local       rule.Variables `json:"local"`
	RuleID      string         `json:"ruleId"`
	DocumentID  string         `json:"documentId"`
	Description string         `json:"description,omitempty"`
}

// Variables returns every variable of the result in a single set, including
// [VarRuleID] and [VarDocumentID]. Local values take precedence over global
// values of the same name.
func (r *Result) Variables() rule.Variables {
	out := rule.Variables{
		VarRuleID:     r.RuleID,
		VarDocumentID: r.DocumentID,
	}
	maps.Copy(out, r.Global)
	maps.Copy(out, r.Local)

	return out
}

// EvaluationError is a rule that failed during evaluation. The rule is
// treated as not matching.
type EvaluationError struct {
	Err    error
	RuleID string
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluate rule %q: %v", e.RuleID, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// Diagnostics are the non-fatal problems found while processing documents.
type Diagnostics struct {
	Actions    []*rule.ActionError
	Evaluation []*EvaluationError
	Conflicts  []Conflict
}

// Empty reports whether there are no diagnostics.
func (d Diagnostics) Empty() bool {
	return len(d.Actions) == 0 && len(d.Evaluation) == 0 && len(d.Conflicts) == 0
}

// Append adds the diagnostics of o to d.
func (d *Diagnostics) Append(o Diagnostics) {
	d.Actions = append(d.Actions, o.Actions...)
	d.Evaluation = append(d.Evaluation, o.Evaluation...)
	d.Conflicts = append(d.Conflicts, o.Conflicts...)
}

// Log writes every diagnostic to the logger in ctx.
func (d Diagnostics) Log(ctx context.Context) {
	logger := log.WithContext(ctx)

	for _, e := range d.Actions {
		logger.DebugContext(ctx, "action failed",
			slog.String("rule", e.RuleID),
			slog.Int("action", e.Index),
			slog.String("variable", e.Variable),
			slog.Any("error", e.Err),
		)
	}

	for _, e := range d.Evaluation {
		logger.WarnContext(ctx, "rule evaluation failed",
			slog.String("rule", e.RuleID),
			slog.Any("error", e.Err),
		)
	}

	for _, c := range d.Conflicts {
		logger.WarnContext(ctx, "global variable conflict",
			slog.String("variable", c.Name),
			slog.String("kept", c.Existing),
			slog.String("ignored", c.Incoming),
			slog.String("document", c.DocumentID),
		)
	}
}

// Processor classifies documents against a [RuleSet]. It is safe for
// concurrent use.
type Processor struct {
	rules  *RuleSet
	names  rule.NameValidator
	tracer trace.Tracer
}

// ProcessorOpt configures a [Processor].
type ProcessorOpt func(*Processor)

// WithNameValidator sets the validator used by validated name extraction.
func WithNameValidator(v rule.NameValidator) ProcessorOpt {
	return func(p *Processor) {
		p.names = v
	}
}

// NewProcessor creates a [Processor] for rs.
func NewProcessor(rs *RuleSet, opts ...ProcessorOpt) *Processor {
	p := &Processor{
		rules:  rs,
		tracer: otel.Tracer("engine"),
	}
	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Rules returns the processor's rule set.
func (p *Processor) Rules() *RuleSet {
	return p.rules
}

// DeclaredVariables returns the sorted names of every variable declared by
// any rule, plus [VarRuleID] and [VarDocumentID].
func (p *Processor) DeclaredVariables() []string {
	set := map[string]struct{}{
		VarRuleID:     {},
		VarDocumentID: {},
	}

	for _, r := range p.rules.Rules() {
		for _, name := range r.Variables() {
			set[name] = struct{}{}
		}
	}

	return slices.Sorted(maps.Keys(set))
}

// Process classifies doc. It returns nil when no form rule matches.
func (p *Processor) Process(ctx context.Context, doc Document) (*Result, Diagnostics) {
	_, res, diags := p.process(ctx, doc)

	return res, diags
}

// process returns the document's extracted global variables along with the
// result, so that unmatched documents can still report them.
func (p *Processor) process(ctx context.Context, doc Document) (rule.Variables, *Result, Diagnostics) {
	ctx, span := p.tracer.Start(ctx, "process", trace.WithAttributes(
		attribute.String("document.id", doc.ID),
		attribute.Int("document.length", len(doc.Text)),
	))
	defer span.End()

	var diags Diagnostics

	globals := rule.Variables{}

	for _, r := range p.rules.Global {
		m := p.apply(r, doc.Text, &diags)
		if m == nil {
			continue
		}

		fill(globals, m.Variables)
	}

	for _, r := range p.rules.Forms {
		m := p.apply(r, doc.Text, &diags)
		if m == nil {
			continue
		}

		global, local := r.Partition(m.Variables)
		fill(globals, global)

		span.SetAttributes(attribute.Bool("matched", true), attribute.String("rule.id", r.ID))

		log.WithContext(ctx).DebugContext(ctx, "document matched",
			slog.String("document", doc.ID),
			slog.String("rule", r.ID),
			slog.Int("global", len(globals)),
			slog.Int("local", len(local)),
		)

		return globals, &Result{
			RuleID:      r.ID,
			DocumentID:  doc.ID,
			Description: r.Description,
			Global:      globals,
			Local:       local,
		}, diags
	}

	span.SetAttributes(attribute.Bool("matched", false))

	return globals, nil, diags
}

// apply applies r, recording failures in diags. A panic during evaluation is
// recorded as an [*EvaluationError] and the rule does not match.
func (p *Processor) apply(r *rule.Rule, text string, diags *Diagnostics) (m *rule.Match) {
	defer func() {
		if v := recover(); v != nil {
			diags.Evaluation = append(diags.Evaluation, &EvaluationError{
				RuleID: r.ID,
				Err:    fmt.Errorf("panic: %v", v),
			})
			m = nil
		}
	}()

	m = r.Apply(text, rule.WithNameValidator(p.names))
	if m != nil {
		diags.Actions = append(diags.Actions, m.Errors...)
	}

	return m
}

// fill copies the non-empty values of src into dst, keeping any value dst
// already has.
func fill(dst, src rule.Variables) {
	for k, v := range src {
		if v == "" {
			continue
		}

		if _, ok := dst[k]; !ok {
			dst[k] = v
		}
	}
}
