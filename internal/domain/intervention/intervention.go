// Package intervention defines medications, fluids and procedures applied to the patient.
// This package is PURE and must NOT import any infrastructure packages.
package intervention

import (
	"fmt"
	"math"
	"time"
)

// Type classifies an intervention.
type Type string

const (
	TypeMedication Type = "medication"
	TypeFluid      Type = "fluid"
	TypeProcedure  Type = "procedure"
)

// Valid reports whether t is a known type.
func (t Type) Valid() bool {
	return t == TypeMedication || t == TypeFluid || t == TypeProcedure
}

// Spec is a request to start an intervention.
type Spec struct {
	Name     string        `json:"name"`
	Type     Type          `json:"type"`
	Dosage   string        `json:"dosage,omitempty"`
	Route    string        `json:"route,omitempty"`
	Rate     float64       `json:"rate,omitempty"`     // mL/hr for continuous infusions
	Duration time.Duration `json:"duration,omitempty"` // 0 = until stopped
	FluidID  string        `json:"fluidId,omitempty"`
}

// Continuous reports whether the spec generates periodic volume.
func (s Spec) Continuous() bool { return s.Type == TypeFluid && s.Rate > 0 }

// Validate rejects specs that cannot be started.
func (s Spec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("intervention name is required")
	}
	if !s.Type.Valid() {
		return fmt.Errorf("unknown intervention type %q", s.Type)
	}
	if math.IsNaN(s.Rate) || math.IsInf(s.Rate, 0) {
		return fmt.Errorf("rate must be a finite number, got %v", s.Rate)
	}
	if s.Type == TypeFluid && s.Rate <= 0 {
		return fmt.Errorf("infusion rate must be positive, got %v", s.Rate)
	}
	if s.Rate < 0 {
		return fmt.Errorf("rate must not be negative, got %v", s.Rate)
	}
	if s.Duration < 0 {
		return fmt.Errorf("duration must not be negative, got %v", s.Duration)
	}
	return nil
}

// Intervention is one started intervention. Once Active is false it never becomes true again.
type Intervention struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Type       Type       `json:"type"`
	Dosage     string     `json:"dosage"`
	Route      string     `json:"route"`
	Rate       float64    `json:"rate,omitempty"`
	StartTime  time.Time  `json:"startTime"`
	EndTime    *time.Time `json:"endTime,omitempty"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	Active     bool       `json:"isActive"`
	LastRecord time.Time  `json:"-"` // last infusion volume flush
	Effects    string     `json:"clinicalEffects,omitempty"`
}

// New builds an active intervention from spec at time now.
func New(id string, s Spec, now time.Time) *Intervention {
	iv := &Intervention{
		ID:         id,
		Name:       s.Name,
		Type:       s.Type,
		Dosage:     s.Dosage,
		Route:      s.Route,
		Rate:       s.Rate,
		StartTime:  now,
		Active:     true,
		LastRecord: now,
	}
	if iv.Type == TypeFluid {
		if iv.Route == "" {
			iv.Route = "IV"
		}
		if iv.Dosage == "" {
			iv.Dosage = fmt.Sprintf("%g mL/hr", s.Rate)
		}
	}
	if s.Duration > 0 {
		exp := now.Add(s.Duration)
		iv.ExpiresAt = &exp
	}
	return iv
}

// Deactivate marks the intervention inactive at t. It reports false if already inactive.
func (iv *Intervention) Deactivate(t time.Time) bool {
	if !iv.Active {
		return false
	}
	iv.Active = false
	iv.EndTime = &t
	return true
}

// Elapsed is the running time at now.
func (iv *Intervention) Elapsed(now time.Time) time.Duration {
	end := now
	if iv.EndTime != nil {
		end = *iv.EndTime
	}
	return end.Sub(iv.StartTime)
}

// Clone copies the intervention including time pointers.
func (iv *Intervention) Clone() *Intervention {
	c := *iv
	if iv.EndTime != nil {
		t := *iv.EndTime
		c.EndTime = &t
	}
	if iv.ExpiresAt != nil {
		t := *iv.ExpiresAt
		c.ExpiresAt = &t
	}
	return &c
}
