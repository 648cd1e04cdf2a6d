// Package oracle is the boundary to the external clinical-reasoning service.
// It shapes bounded requests, enforces a timeout and validates every response
// against the schema it asked for. All failures surface as *Failure.
package oracle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robbie-med/rhenal/internal/domain/lab"
	"github.com/robbie-med/rhenal/internal/infra/ai"
	"github.com/robbie-med/rhenal/internal/platform/logger"
	"github.com/robbie-med/rhenal/internal/platform/metrics"
)

// DefaultCallCost is charged when a provider reports no cost of its own.
const DefaultCallCost = 0.01

// Options tunes the client.
type Options struct {
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
	Model       string
}

// Client calls an LLM provider with schema-identified requests.
type Client struct {
	provider ai.LLMProvider
	opts     Options
	log      *logger.Logger
	metrics  *metrics.Collector
}

// NewClient wires a provider. A zero timeout defaults to 20s.
func NewClient(provider ai.LLMProvider, opts Options, log *logger.Logger, m *metrics.Collector) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1024
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Client{provider: provider, opts: opts, log: log, metrics: m}
}

// Timeout is the per-call bound.
func (c *Client) Timeout() time.Duration { return c.opts.Timeout }

// ProviderName names the backing provider.
func (c *Client) ProviderName() string { return c.provider.Name() }

// complete runs one bounded round trip and returns the raw content.
func (c *Client) complete(ctx context.Context, schema Schema, instruction string, payload any, jsonMode bool) (string, Meta, error) {
	msgs, err := buildMessages(schema, instruction, payload)
	if err != nil {
		return "", Meta{}, malformed(schema, err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req := ai.CompletionRequest{
		Messages:    msgs,
		MaxTokens:   c.opts.MaxTokens,
		Temperature: c.opts.Temperature,
		Model:       c.opts.Model,
		Schema:      string(schema),
	}
	if jsonMode {
		req.ResponseFormat = "json"
	}

	start := time.Now()
	resp, err := c.provider.Complete(ctx, req)
	latency := time.Since(start)
	if err == nil && ctx.Err() != nil {
		// A provider that ignores ctx must not smuggle a late answer through.
		err = ctx.Err()
	}
	if err != nil {
		f := classify(schema, err)
		c.observe(schema, string(f.Reason), latency, 0)
		c.log.Warn("oracle call failed",
			logger.String("schema", string(schema)),
			logger.String("reason", string(f.Reason)),
			logger.Duration("latency", latency),
			logger.Err(err))
		return "", Meta{Latency: latency}, f
	}
	cost := resp.CostUSD
	if cost <= 0 {
		cost = DefaultCallCost
	}
	c.observe(schema, "ok", latency, cost)
	return resp.Content, Meta{CostUSD: cost, Latency: latency}, nil
}

func (c *Client) observe(schema Schema, outcome string, latency time.Duration, cost float64) {
	if c.metrics != nil {
		c.metrics.RecordOracleCall(string(schema), outcome, latency, cost)
	}
}

func (c *Client) reject(f *Failure) *Failure {
	if c.metrics != nil {
		c.metrics.RecordOracleCall(string(f.Schema), string(f.Reason), 0, 0)
	}
	c.log.Warn("oracle response rejected",
		logger.String("schema", string(f.Schema)),
		logger.String("reason", string(f.Reason)),
		logger.Err(f.Err))
	return f
}

// GenerateCase creates a new patient.
func (c *Client) GenerateCase(ctx context.Context, req CaseRequest) (*CaseResult, error) {
	instr := formats[SchemaCaseGeneration]
	if req.ScenarioHint != "" {
		instr = "Scenario: " + req.ScenarioHint + "\n\n" + instr
	}
	content, meta, err := c.complete(ctx, SchemaCaseGeneration, instr, req, true)
	if err != nil {
		return nil, err
	}
	var w caseWire
	if f := decode(SchemaCaseGeneration, content, &w); f != nil {
		return nil, c.reject(f)
	}
	res, err := w.convert()
	if err != nil {
		return nil, c.reject(mismatch(SchemaCaseGeneration, "%v", err))
	}
	res.Meta = meta
	return res, nil
}

// UpdateVitals projects the next vitals sample.
func (c *Client) UpdateVitals(ctx context.Context, vc VitalsContext) (*VitalsUpdate, error) {
	vc.bound()
	content, meta, err := c.complete(ctx, SchemaVitalsUpdate, formats[SchemaVitalsUpdate], vc, true)
	if err != nil {
		return nil, err
	}
	var w vitalsUpdateWire
	if f := decode(SchemaVitalsUpdate, content, &w); f != nil {
		return nil, c.reject(f)
	}
	v, err := w.vitalsWire.toVitals()
	if err != nil {
		return nil, c.reject(mismatch(SchemaVitalsUpdate, "%v", err))
	}
	return &VitalsUpdate{Vitals: v, Assessment: w.Assessment, Meta: meta}, nil
}

// InterventionEffect projects the effect of a medication or procedure.
func (c *Client) InterventionEffect(ctx context.Context, ec EffectContext) (*InterventionEffect, error) {
	content, meta, err := c.complete(ctx, SchemaInterventionEffect, formats[SchemaInterventionEffect], ec, true)
	if err != nil {
		return nil, err
	}
	var w effectWire
	if f := decode(SchemaInterventionEffect, content, &w); f != nil {
		return nil, c.reject(f)
	}
	res, err := w.convert()
	if err != nil {
		return nil, c.reject(mismatch(SchemaInterventionEffect, "%v", err))
	}
	res.Meta = meta
	return res, nil
}

// LabResult projects a laboratory result for the ordered test.
func (c *Client) LabResult(ctx context.Context, lc LabContext) (*LabResult, error) {
	lc.bound()
	content, meta, err := c.complete(ctx, SchemaLabResult, formats[SchemaLabResult], lc, true)
	if err != nil {
		return nil, err
	}
	var w labWire
	if f := decode(SchemaLabResult, content, &w); f != nil {
		return nil, c.reject(f)
	}
	if w.Category != "" && lab.Category(w.Category) != lc.Category && lab.Category(w.Category).Valid() {
		c.log.Debug("oracle echoed a different lab category",
			logger.String("ordered", string(lc.Category)),
			logger.String("echoed", w.Category))
	}
	res, err := w.convert(lc.Test, lc.Category)
	if err != nil {
		return nil, c.reject(mismatch(SchemaLabResult, "%v", err))
	}
	res.Meta = meta
	return res, nil
}

// DiagnosticResult projects a report for an imaging or procedure order.
func (c *Client) DiagnosticResult(ctx context.Context, dc DiagnosticContext) (*DiagnosticResult, error) {
	content, meta, err := c.complete(ctx, SchemaDiagnosticResult, formats[SchemaDiagnosticResult], dc, true)
	if err != nil {
		return nil, err
	}
	var w diagnosticWire
	if f := decode(SchemaDiagnosticResult, content, &w); f != nil {
		return nil, c.reject(f)
	}
	res, err := w.convert(dc.Test)
	if err != nil {
		return nil, c.reject(mismatch(SchemaDiagnosticResult, "%v", err))
	}
	res.Meta = meta
	return res, nil
}

// AssessFluid reviews the appropriateness of a started infusion.
func (c *Client) AssessFluid(ctx context.Context, fc FluidContext) (*FluidAssessment, error) {
	content, meta, err := c.complete(ctx, SchemaFluidAssessment, formats[SchemaFluidAssessment], fc, true)
	if err != nil {
		return nil, err
	}
	var a FluidAssessment
	if f := decode(SchemaFluidAssessment, content, &a); f != nil {
		return nil, c.reject(f)
	}
	a.Appropriateness = Appropriateness(strings.ToLower(strings.TrimSpace(string(a.Appropriateness))))
	if err := a.validate(); err != nil {
		return nil, c.reject(mismatch(SchemaFluidAssessment, "%v", err))
	}
	a.Meta = meta
	return &a, nil
}

// UrineStudies projects a urine chemistry panel.
func (c *Client) UrineStudies(ctx context.Context, uc UrineContext) (*UrineStudies, error) {
	uc.bound()
	content, meta, err := c.complete(ctx, SchemaUrineStudies, formats[SchemaUrineStudies], uc, true)
	if err != nil {
		return nil, err
	}
	var w urineWire
	if f := decode(SchemaUrineStudies, content, &w); f != nil {
		return nil, c.reject(f)
	}
	res, err := w.convert()
	if err != nil {
		return nil, c.reject(mismatch(SchemaUrineStudies, "%v", err))
	}
	res.Meta = meta
	return res, nil
}

// Consult sends a conversation turn and parses the trailing feedback tag.
// A missing or malformed tag is not a failure; an empty reply is.
func (c *Client) Consult(ctx context.Context, cc ConsultContext) (*TaggedReply, error) {
	cc.bound()
	content, meta, err := c.complete(ctx, SchemaFreeText, consultInstruction(cc.Channel), cc, false)
	if err != nil {
		return nil, err
	}
	reply := ParseTagged(content)
	if reply.Text == "" {
		return nil, c.reject(mismatch(SchemaFreeText, "empty reply"))
	}
	if !reply.Tagged {
		c.log.Debug("consult reply without valid tag, defaulting to neutral",
			logger.String("channel", string(cc.Channel)))
	}
	reply.Meta = meta
	return &reply, nil
}

// String is used in logs.
func (c *Client) String() string {
	return fmt.Sprintf("oracle(%s, timeout=%s)", c.provider.Name(), c.opts.Timeout)
}
