package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// ContextMarker precedes the JSON context block in the final user message.
// The scripted provider reads it back to shape plausible replies.
const ContextMarker = "Context (JSON):\n"

// ScriptedReply is a canned response queued for a schema.
type ScriptedReply struct {
	Content string
	Err     error
	Delay   time.Duration
}

// ScriptedProvider is an offline LLMProvider. Queued replies are served first,
// per schema; otherwise it synthesizes a well-formed answer from the context.
type ScriptedProvider struct {
	mu     sync.Mutex
	rng    *rand.Rand
	queues map[string][]ScriptedReply
	calls  map[string]int
	usage  usage
}

// NewScriptedProvider creates an offline provider with a fixed seed.
func NewScriptedProvider(seed int64) *ScriptedProvider {
	return &ScriptedProvider{
		rng:    rand.New(rand.NewSource(seed)),
		queues: make(map[string][]ScriptedReply),
		calls:  make(map[string]int),
	}
}

// Push queues a reply for the given schema.
func (p *ScriptedProvider) Push(schema string, r ScriptedReply) {
	p.mu.Lock()
	p.queues[schema] = append(p.queues[schema], r)
	p.mu.Unlock()
}

// Calls reports how many requests a schema has received.
func (p *ScriptedProvider) Calls(schema string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[schema]
}

// Name returns the provider name.
func (p *ScriptedProvider) Name() string { return "Scripted" }

// IsAvailable is always true.
func (p *ScriptedProvider) IsAvailable() bool { return true }

// GetUsageStats returns current usage statistics.
func (p *ScriptedProvider) GetUsageStats() UsageStats { return p.usage.snapshot(nil) }

// ResetUsage resets all usage counters.
func (p *ScriptedProvider) ResetUsage() { p.usage.reset() }

// Complete serves a queued reply or synthesizes one.
func (p *ScriptedProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	p.mu.Lock()
	p.calls[req.Schema]++
	var queued *ScriptedReply
	if q := p.queues[req.Schema]; len(q) > 0 {
		queued = &q[0]
		p.queues[req.Schema] = q[1:]
	}
	p.mu.Unlock()

	if queued != nil {
		if queued.Delay > 0 {
			select {
			case <-time.After(queued.Delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if queued.Err != nil {
			return nil, queued.Err
		}
		p.usage.record(0, 0)
		return &CompletionResponse{Content: queued.Content, Model: "scripted"}, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	content, err := p.synthesize(req)
	if err != nil {
		return nil, err
	}
	p.usage.record(0, 0)
	return &CompletionResponse{Content: content, Model: "scripted", FinishReason: "stop"}, nil
}

func extractContext(req CompletionRequest) map[string]any {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		m := req.Messages[i]
		idx := strings.LastIndex(m.Content, ContextMarker)
		if idx < 0 {
			continue
		}
		var out map[string]any
		if json.Unmarshal([]byte(m.Content[idx+len(ContextMarker):]), &out) == nil {
			return out
		}
	}
	return map[string]any{}
}

func num(m map[string]any, key string, def float64) float64 {
	if v, ok := m[key].(float64); ok {
		return v
	}
	return def
}

func str(m map[string]any, key, def string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return def
}

func (p *ScriptedProvider) jitter(v, frac float64) float64 {
	p.mu.Lock()
	f := p.rng.Float64()
	p.mu.Unlock()
	return v * (1 + frac*(2*f-1))
}

func (p *ScriptedProvider) vitalsFrom(ctx map[string]any) map[string]any {
	cur, _ := ctx["current_vitals"].(map[string]any)
	if cur == nil {
		cur = map[string]any{}
	}
	return map[string]any{
		"hr":   int(p.jitter(num(cur, "hr", 88), 0.04)),
		"sbp":  int(p.jitter(num(cur, "sbp", 132), 0.04)),
		"dbp":  int(p.jitter(num(cur, "dbp", 78), 0.04)),
		"rr":   int(p.jitter(num(cur, "rr", 18), 0.04)),
		"temp": float64(int(p.jitter(num(cur, "temp", 37.1), 0.01)*10)) / 10,
		"spo2": min(100, int(p.jitter(num(cur, "spo2", 96), 0.01))),
	}
}

func (p *ScriptedProvider) synthesize(req CompletionRequest) (string, error) {
	ctx := extractContext(req)
	var v any
	switch req.Schema {
	case "case-generation":
		v = map[string]any{
			"demographics": map[string]any{
				"name": "Walter Ames", "age": 67, "gender": "male", "weight": 82, "height": 176,
			},
			"location":           "Medical ward, bed 12",
			"clinicalContext":    "Acute kidney injury after three days of vomiting and poor oral intake",
			"history":            "Hypertension, type 2 diabetes on metformin and lisinopril",
			"comorbidities":      []string{"Hypertension", "Type 2 diabetes"},
			"allergies":          []string{"Sulfa"},
			"baselineCreatinine": 1.1,
			"vitals":             map[string]any{"hr": 104, "sbp": 98, "dbp": 60, "rr": 20, "temp": 37.3, "spo2": 96},
			"labs": map[string]any{
				"basic": map[string]any{
					"Sodium":    map[string]any{"value": 133, "units": "mEq/L", "referenceRange": "135-145"},
					"Potassium": map[string]any{"value": 5.4, "units": "mEq/L", "referenceRange": "3.5-5.0"},
				},
				"renal": map[string]any{
					"Creatinine": map[string]any{"value": 2.9, "units": "mg/dL", "referenceRange": "0.6-1.2"},
					"BUN":        map[string]any{"value": 58, "units": "mg/dL", "referenceRange": "7-20"},
				},
			},
		}
	case "vitals-update":
		out := p.vitalsFrom(ctx)
		out["assessment"] = "Hemodynamically stable, no acute change."
		v = out
	case "intervention-effect":
		v = map[string]any{
			"clinicalEffects": fmt.Sprintf("%s administered without immediate adverse effect.", str(ctx, "intervention", "Intervention")),
			"timeToEffect":    15,
			"vitals":          p.vitalsFrom(ctx),
		}
	case "lab-result":
		v = map[string]any{
			"name":           str(ctx, "test", "Lab"),
			"category":       str(ctx, "category", "basic"),
			"value":          float64(int(p.jitter(4, 0.5)*10)) / 10,
			"units":          "mg/dL",
			"referenceRange": "1.0-5.0",
			"interpretation": "Within expected range for clinical picture.",
			"timeToResult":   30,
			"isCritical":     false,
			"relatedValues":  map[string]any{},
		}
	case "diagnostic-result":
		name := str(ctx, "test", "Study")
		v = map[string]any{
			"name":           name,
			"results":        map[string]any{"impression": "No acute abnormality."},
			"interpretation": "Unremarkable study.",
			"timeToResult":   60,
			"keyFindings":    []string{"No hydronephrosis"},
		}
	case "fluid-assessment":
		v = map[string]any{
			"appropriateness": "appropriate",
			"rationale":       "Isotonic volume repletion is reasonable given prerenal physiology.",
			"expectedEffects": map[string]any{
				"volumeStatus":  "Gradual improvement in intravascular volume",
				"electrolytes":  "Minimal change",
				"renalFunction": "Expected improvement if prerenal",
			},
			"recommendations": "",
		}
	case "urine-studies":
		v = map[string]any{
			"urineSpecificGravity": 1.024, "urineOsmolality": 540, "urineNa": 14,
			"urineK": 40, "urineCl": 20, "urineCr": 120, "urineProtein": 10, "feNa": 0.6,
			"interpretation": "FENa below 1% consistent with prerenal azotemia.",
		}
	case "free-text":
		return "Thanks for the update. Keep monitoring urine output closely.|NEUTRAL", nil
	default:
		return "", fmt.Errorf("scripted provider: unknown schema %q", req.Schema)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

var _ LLMProvider = (*ScriptedProvider)(nil)
