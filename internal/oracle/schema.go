package oracle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/robbie-med/rhenal/internal/domain/lab"
	"github.com/robbie-med/rhenal/internal/domain/patient"
)

// Schema identifies the response shape requested from the oracle.
type Schema string

const (
	SchemaCaseGeneration     Schema = "case-generation"
	SchemaVitalsUpdate       Schema = "vitals-update"
	SchemaInterventionEffect Schema = "intervention-effect"
	SchemaLabResult          Schema = "lab-result"
	SchemaDiagnosticResult   Schema = "diagnostic-result"
	SchemaFluidAssessment    Schema = "fluid-assessment"
	SchemaUrineStudies       Schema = "urine-studies"
	SchemaFreeText           Schema = "free-text"
)

// Meta carries per-call accounting.
type Meta struct {
	CostUSD float64
	Latency time.Duration
}

// flexText accepts a JSON string or an array of strings.
type flexText string

func (f *flexText) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '[' {
		var parts []string
		if err := json.Unmarshal(b, &parts); err != nil {
			return err
		}
		*f = flexText(strings.Join(parts, "; "))
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*f = flexText(s)
	return nil
}

func minutes(f float64) time.Duration {
	return time.Duration(f * float64(time.Minute))
}

type vitalsWire struct {
	HR   *float64 `json:"hr"`
	SBP  *float64 `json:"sbp"`
	DBP  *float64 `json:"dbp"`
	RR   *float64 `json:"rr"`
	Temp *float64 `json:"temp"`
	SpO2 *float64 `json:"spo2"`
}

func (w *vitalsWire) toVitals() (patient.Vitals, error) {
	if w == nil {
		return patient.Vitals{}, fmt.Errorf("vitals missing")
	}
	fields := []struct {
		name string
		v    *float64
	}{{"hr", w.HR}, {"sbp", w.SBP}, {"dbp", w.DBP}, {"rr", w.RR}, {"temp", w.Temp}, {"spo2", w.SpO2}}
	for _, f := range fields {
		if f.v == nil {
			return patient.Vitals{}, fmt.Errorf("vitals.%s missing", f.name)
		}
		if *f.v < 0 || math.IsNaN(*f.v) {
			return patient.Vitals{}, fmt.Errorf("vitals.%s negative", f.name)
		}
	}
	if *w.SpO2 > 100 {
		return patient.Vitals{}, fmt.Errorf("vitals.spo2 above 100")
	}
	if *w.SBP < *w.DBP {
		return patient.Vitals{}, fmt.Errorf("vitals.sbp below dbp")
	}
	return patient.Vitals{
		HR:   int(math.Round(*w.HR)),
		SBP:  int(math.Round(*w.SBP)),
		DBP:  int(math.Round(*w.DBP)),
		RR:   int(math.Round(*w.RR)),
		Temp: math.Round(*w.Temp*10) / 10,
		SpO2: int(math.Round(*w.SpO2)),
	}, nil
}

// CaseResult is a generated patient with initial vitals and labs.
type CaseResult struct {
	Patient patient.Patient
	Vitals  patient.Vitals
	Labs    map[lab.Category]map[string]lab.Related
	Meta    Meta
}

type caseWire struct {
	Demographics *struct {
		Name   string   `json:"name"`
		Age    *float64 `json:"age"`
		Gender string   `json:"gender"`
		Weight *float64 `json:"weight"`
		Height *float64 `json:"height"`
	} `json:"demographics"`
	Location           string                            `json:"location"`
	ClinicalContext    string                            `json:"clinicalContext"`
	History            flexText                          `json:"history"`
	Comorbidities      []string                          `json:"comorbidities"`
	Allergies          []string                          `json:"allergies"`
	BaselineCreatinine *float64                          `json:"baselineCreatinine"`
	Vitals             *vitalsWire                       `json:"vitals"`
	Labs               map[string]map[string]lab.Related `json:"labs"`
}

func (w *caseWire) convert() (*CaseResult, error) {
	if w.Demographics == nil || strings.TrimSpace(w.Demographics.Name) == "" {
		return nil, fmt.Errorf("demographics.name missing")
	}
	if w.Demographics.Age == nil || *w.Demographics.Age < 0 {
		return nil, fmt.Errorf("demographics.age missing")
	}
	if strings.TrimSpace(w.ClinicalContext) == "" {
		return nil, fmt.Errorf("clinicalContext missing")
	}
	v, err := w.Vitals.toVitals()
	if err != nil {
		return nil, err
	}
	res := &CaseResult{
		Patient: patient.Patient{
			Demographics: patient.Demographics{
				Name:   w.Demographics.Name,
				Age:    int(*w.Demographics.Age),
				Gender: patient.Gender(w.Demographics.Gender),
			},
			Location:        w.Location,
			ClinicalContext: w.ClinicalContext,
			History:         string(w.History),
			Comorbidities:   w.Comorbidities,
			Allergies:       w.Allergies,
		},
		Vitals: v,
		Labs:   make(map[lab.Category]map[string]lab.Related),
	}
	if w.Demographics.Weight != nil && *w.Demographics.Weight > 0 {
		res.Patient.Demographics.WeightKg = *w.Demographics.Weight
	}
	if w.Demographics.Height != nil && *w.Demographics.Height > 0 {
		res.Patient.Demographics.HeightCm = *w.Demographics.Height
	}
	if w.BaselineCreatinine != nil {
		res.Patient.BaselineCreatinine = *w.BaselineCreatinine
	}
	for cat, tests := range w.Labs {
		c := lab.Category(cat)
		if !c.Valid() {
			continue
		}
		res.Labs[c] = tests
	}
	return res, nil
}

// VitalsUpdate is a projected vitals sample.
type VitalsUpdate struct {
	Vitals     patient.Vitals
	Assessment string
	Meta       Meta
}

type vitalsUpdateWire struct {
	vitalsWire
	Assessment string `json:"assessment"`
}

// InterventionEffect describes the projected effect of a medication or procedure.
type InterventionEffect struct {
	ClinicalEffects string
	TimeToEffect    time.Duration
	Vitals          *patient.Vitals
	Meta            Meta
}

type effectWire struct {
	ClinicalEffects string      `json:"clinicalEffects"`
	TimeToEffect    *float64    `json:"timeToEffect"`
	Vitals          *vitalsWire `json:"vitals"`
}

func (w *effectWire) convert() (*InterventionEffect, error) {
	if strings.TrimSpace(w.ClinicalEffects) == "" {
		return nil, fmt.Errorf("clinicalEffects missing")
	}
	if w.TimeToEffect == nil || *w.TimeToEffect < 0 {
		return nil, fmt.Errorf("timeToEffect missing or negative")
	}
	out := &InterventionEffect{ClinicalEffects: w.ClinicalEffects, TimeToEffect: minutes(*w.TimeToEffect)}
	if w.Vitals != nil {
		v, err := w.Vitals.toVitals()
		if err != nil {
			return nil, err
		}
		out.Vitals = &v
	}
	return out, nil
}

// LabResult is one projected laboratory result.
type LabResult struct {
	Name           string
	Category       lab.Category
	Value          lab.Value
	Units          string
	ReferenceRange string
	Interpretation string
	TimeToResult   time.Duration
	IsCritical     bool
	RelatedValues  map[string]lab.Related
	Meta           Meta
}

type labWire struct {
	Name           string                 `json:"name"`
	Category       string                 `json:"category"`
	Value          *lab.Value             `json:"value"`
	Units          string                 `json:"units"`
	ReferenceRange string                 `json:"referenceRange"`
	Interpretation string                 `json:"interpretation"`
	TimeToResult   *float64               `json:"timeToResult"`
	IsCritical     bool                   `json:"isCritical"`
	RelatedValues  map[string]lab.Related `json:"relatedValues"`
}

func (w *labWire) convert(name string, cat lab.Category) (*LabResult, error) {
	if w.Value == nil {
		return nil, fmt.Errorf("value missing")
	}
	if w.TimeToResult == nil || *w.TimeToResult < 0 {
		return nil, fmt.Errorf("timeToResult missing or negative")
	}
	// The order's identity wins over what the oracle echoes back.
	return &LabResult{
		Name:           name,
		Category:       cat,
		Value:          *w.Value,
		Units:          w.Units,
		ReferenceRange: w.ReferenceRange,
		Interpretation: w.Interpretation,
		TimeToResult:   minutes(*w.TimeToResult),
		IsCritical:     w.IsCritical,
		RelatedValues:  w.RelatedValues,
	}, nil
}

// DiagnosticResult is a projected imaging or procedure report.
type DiagnosticResult struct {
	Name           string
	Results        map[string]string
	Interpretation string
	TimeToResult   time.Duration
	KeyFindings    []string
	Meta           Meta
}

type diagnosticWire struct {
	Name           string         `json:"name"`
	Results        map[string]any `json:"results"`
	Interpretation string         `json:"interpretation"`
	TimeToResult   *float64       `json:"timeToResult"`
	KeyFindings    []string       `json:"keyFindings"`
}

func (w *diagnosticWire) convert(name string) (*DiagnosticResult, error) {
	if strings.TrimSpace(w.Interpretation) == "" {
		return nil, fmt.Errorf("interpretation missing")
	}
	if w.TimeToResult == nil || *w.TimeToResult < 0 {
		return nil, fmt.Errorf("timeToResult missing or negative")
	}
	out := &DiagnosticResult{
		Name:           name,
		Results:        make(map[string]string, len(w.Results)),
		Interpretation: w.Interpretation,
		TimeToResult:   minutes(*w.TimeToResult),
		KeyFindings:    w.KeyFindings,
	}
	for k, v := range w.Results {
		if s, ok := v.(string); ok {
			out.Results[k] = s
			continue
		}
		b, _ := json.Marshal(v)
		out.Results[k] = string(b)
	}
	return out, nil
}

// Appropriateness grades a fluid choice.
type Appropriateness string

const (
	Appropriate   Appropriateness = "appropriate"
	Concerning    Appropriateness = "concerning"
	Inappropriate Appropriateness = "inappropriate"
)

// FluidAssessment is the oracle's review of a started infusion.
type FluidAssessment struct {
	Appropriateness Appropriateness `json:"appropriateness"`
	Rationale       string          `json:"rationale"`
	ExpectedEffects struct {
		VolumeStatus  string `json:"volumeStatus"`
		Electrolytes  string `json:"electrolytes"`
		RenalFunction string `json:"renalFunction"`
	} `json:"expectedEffects"`
	Recommendations string `json:"recommendations"`
	Meta            Meta   `json:"-"`
}

func (a *FluidAssessment) validate() error {
	switch a.Appropriateness {
	case Appropriate, Concerning, Inappropriate:
	default:
		return fmt.Errorf("appropriateness %q not recognised", a.Appropriateness)
	}
	if strings.TrimSpace(a.Rationale) == "" {
		return fmt.Errorf("rationale missing")
	}
	return nil
}

// UrineStudies is a projected urine chemistry panel.
type UrineStudies struct {
	SpecificGravity float64
	Osmolality      float64
	Sodium          float64
	Potassium       float64
	Chloride        float64
	Creatinine      float64
	Protein         float64
	FeNa            float64
	Interpretation  string
	Meta            Meta
}

type urineWire struct {
	SpecificGravity *float64 `json:"urineSpecificGravity"`
	Osmolality      *float64 `json:"urineOsmolality"`
	Sodium          *float64 `json:"urineNa"`
	Potassium       *float64 `json:"urineK"`
	Chloride        *float64 `json:"urineCl"`
	Creatinine      *float64 `json:"urineCr"`
	Protein         *float64 `json:"urineProtein"`
	FeNa            *float64 `json:"feNa"`
	Interpretation  string   `json:"interpretation"`
}

func (w *urineWire) convert() (*UrineStudies, error) {
	fields := []struct {
		name string
		v    *float64
	}{
		{"urineSpecificGravity", w.SpecificGravity}, {"urineOsmolality", w.Osmolality},
		{"urineNa", w.Sodium}, {"urineK", w.Potassium}, {"urineCl", w.Chloride},
		{"urineCr", w.Creatinine}, {"urineProtein", w.Protein}, {"feNa", w.FeNa},
	}
	for _, f := range fields {
		if f.v == nil {
			return nil, fmt.Errorf("%s missing", f.name)
		}
	}
	return &UrineStudies{
		SpecificGravity: *w.SpecificGravity,
		Osmolality:      *w.Osmolality,
		Sodium:          *w.Sodium,
		Potassium:       *w.Potassium,
		Chloride:        *w.Chloride,
		Creatinine:      *w.Creatinine,
		Protein:         *w.Protein,
		FeNa:            *w.FeNa,
		Interpretation:  w.Interpretation,
	}, nil
}

// Readings returns the panel as named urinalysis entries with reference ranges.
func (u *UrineStudies) Readings() []UrineReading {
	return []UrineReading{
		{"urineSpecificGravity", u.SpecificGravity, "", "1.005-1.030"},
		{"urineOsmolality", u.Osmolality, "mOsm/kg", "300-900"},
		{"urineNa", u.Sodium, "mEq/L", "varies"},
		{"urineK", u.Potassium, "mEq/L", "varies"},
		{"urineCr", u.Creatinine, "mg/dL", "varies"},
		{"urineProtein", u.Protein, "mg/dL", "<20"},
		{"feNa", u.FeNa, "%", "<1% (prerenal), >2% (intrinsic)"},
	}
}

// UrineReading is one named value of a urine panel.
type UrineReading struct {
	Name           string
	Value          float64
	Units          string
	ReferenceRange string
}

// stripFences removes a surrounding markdown code fence, which models add despite instructions.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

// decode parses content into v, reporting a malformed payload on failure.
func decode(schema Schema, content string, v any) *Failure {
	body := stripFences(content)
	if body == "" {
		return malformed(schema, fmt.Errorf("empty response"))
	}
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return malformed(schema, err)
	}
	return nil
}
