package oracle

import (
	"github.com/robbie-med/rhenal/internal/domain/chat"
	"github.com/robbie-med/rhenal/internal/domain/lab"
	"github.com/robbie-med/rhenal/internal/domain/patient"
)

// Context bounds. Callers may pass more; the client truncates.
const (
	MaxCategoryHistory = 3
	MaxRecentLabs      = 5
	MaxRecentMessages  = 3
	MaxInterventions   = 10
)

// PatientSummary is the patient view sent with every request.
type PatientSummary struct {
	Age             int      `json:"age"`
	Gender          string   `json:"gender"`
	WeightKg        float64  `json:"weight_kg,omitempty"`
	Location        string   `json:"location,omitempty"`
	ClinicalContext string   `json:"clinical_context"`
	Comorbidities   []string `json:"comorbidities,omitempty"`
	Allergies       []string `json:"allergies,omitempty"`
}

// SummarizePatient projects a patient for request payloads.
func SummarizePatient(p *patient.Patient) PatientSummary {
	if p == nil {
		return PatientSummary{}
	}
	return PatientSummary{
		Age:             p.Demographics.Age,
		Gender:          string(p.Demographics.Gender),
		WeightKg:        p.Demographics.WeightKg,
		Location:        p.Location,
		ClinicalContext: p.ClinicalContext,
		Comorbidities:   p.Comorbidities,
		Allergies:       p.Allergies,
	}
}

// InterventionSummary is an active intervention with elapsed time.
type InterventionSummary struct {
	Name           string  `json:"name"`
	Type           string  `json:"type"`
	Dosage         string  `json:"dosage,omitempty"`
	Route          string  `json:"route,omitempty"`
	ElapsedMinutes float64 `json:"elapsed_minutes"`
}

// IOSummary is trailing intake/output for the request window.
type IOSummary struct {
	WindowHours float64 `json:"window_hours"`
	Input       float64 `json:"input_ml"`
	Output      float64 `json:"output_ml"`
	Urine       float64 `json:"urine_ml"`
	Net         float64 `json:"net_ml"`
	Cumulative  float64 `json:"cumulative_ml"`
}

// LabSummary is a compact lab history point.
type LabSummary struct {
	Name       string       `json:"name"`
	Category   lab.Category `json:"category"`
	Value      string       `json:"value"`
	Units      string       `json:"units,omitempty"`
	Timestamp  string       `json:"timestamp"`
	IsCritical bool         `json:"is_critical,omitempty"`
}

// CaseRequest seeds case generation.
type CaseRequest struct {
	ScenarioHint string `json:"scenario_hint,omitempty"`
}

// VitalsContext is the bounded context for a vitals projection.
type VitalsContext struct {
	Patient             PatientSummary        `json:"patient"`
	CurrentVitals       patient.Vitals        `json:"current_vitals"`
	ActiveInterventions []InterventionSummary `json:"active_interventions"`
	IO                  IOSummary             `json:"io"`
	RecentLabs          []LabSummary          `json:"recent_labs"`
	MinutesSinceLast    float64               `json:"minutes_since_last"`
}

func (c *VitalsContext) bound() {
	c.ActiveInterventions = lastN(c.ActiveInterventions, MaxInterventions)
	c.RecentLabs = lastN(c.RecentLabs, MaxRecentLabs)
}

// EffectContext is the bounded context for a medication or procedure.
type EffectContext struct {
	Patient       PatientSummary `json:"patient"`
	Intervention  string         `json:"intervention"`
	Type          string         `json:"type"`
	Dosage        string         `json:"dosage,omitempty"`
	Route         string         `json:"route,omitempty"`
	CurrentVitals patient.Vitals `json:"current_vitals"`
}

// LabContext is the bounded context for a lab order.
type LabContext struct {
	Patient       PatientSummary        `json:"patient"`
	Test          string                `json:"test"`
	Category      lab.Category          `json:"category"`
	CurrentVitals patient.Vitals        `json:"current_vitals"`
	History       []LabSummary          `json:"history"`
	IO            *IOSummary            `json:"io,omitempty"`
	RecentFluids  []InterventionSummary `json:"recent_fluids,omitempty"`
}

func (c *LabContext) bound() {
	c.History = lastN(c.History, MaxCategoryHistory)
	c.RecentFluids = lastN(c.RecentFluids, MaxInterventions)
}

// DiagnosticContext is the bounded context for an imaging or procedure order.
type DiagnosticContext struct {
	Patient  PatientSummary `json:"patient"`
	Test     string         `json:"test"`
	Category lab.Category   `json:"category"`
}

// FluidContext is the context for an infusion appropriateness review.
type FluidContext struct {
	Patient       PatientSummary `json:"patient"`
	Fluid         string         `json:"fluid"`
	RateMLPerHour float64        `json:"rate_ml_per_hour"`
	CurrentVitals patient.Vitals `json:"current_vitals"`
	IO            IOSummary      `json:"io"`
}

// UrineContext is the context for a urine chemistry panel.
type UrineContext struct {
	Patient       PatientSummary `json:"patient"`
	UrineOutput8h float64        `json:"urine_output_8h_ml"`
	SerumLabs     []LabSummary   `json:"serum_labs"`
}

func (c *UrineContext) bound() {
	c.SerumLabs = lastN(c.SerumLabs, MaxRecentLabs)
}

// ConsultContext is the bounded context for a conversation turn.
type ConsultContext struct {
	Patient             PatientSummary        `json:"patient"`
	Channel             chat.Channel          `json:"channel"`
	Message             string                `json:"message"`
	RecentMessages      []chat.Message        `json:"recent_messages"`
	ResolvedResults     []LabSummary          `json:"resolved_results"`
	PendingResults      []string              `json:"pending_results"`
	ActiveInterventions []InterventionSummary `json:"active_interventions"`
	CurrentVitals       patient.Vitals        `json:"current_vitals"`
}

func (c *ConsultContext) bound() {
	c.RecentMessages = lastN(c.RecentMessages, MaxRecentMessages)
	c.ResolvedResults = lastN(c.ResolvedResults, MaxRecentLabs)
	c.ActiveInterventions = lastN(c.ActiveInterventions, MaxInterventions)
}

func lastN[T any](s []T, n int) []T {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
