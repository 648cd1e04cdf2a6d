package oracle

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robbie-med/rhenal/internal/domain/chat"
	"github.com/robbie-med/rhenal/internal/domain/lab"
	"github.com/robbie-med/rhenal/internal/domain/patient"
	"github.com/robbie-med/rhenal/internal/infra/ai"
	"github.com/robbie-med/rhenal/internal/platform/logger"
	"github.com/robbie-med/rhenal/internal/platform/metrics"
)

func newTestClient(p *ai.ScriptedProvider, timeout time.Duration) *Client {
	return NewClient(p, Options{Timeout: timeout}, logger.NewNop(), metrics.NewCollector())
}

func failureReason(t *testing.T, err error) Reason {
	t.Helper()
	var f *Failure
	require.True(t, errors.As(err, &f), "expected *Failure, got %T: %v", err, err)
	return f.Reason
}

func TestGenerateCase(t *testing.T) {
	p := ai.NewScriptedProvider(1)
	p.Push(string(SchemaCaseGeneration), ai.ScriptedReply{Content: "```json\n" + `{
		"demographics":{"name":"Ana Ruiz","age":58,"gender":"female","weight":64},
		"location":"ED","clinicalContext":"Rhabdomyolysis","history":["CKD 3a","HTN"],
		"vitals":{"hr":80,"sbp":120,"dbp":80,"rr":16,"temp":37.2,"spo2":97},
		"labs":{"renal":{"Creatinine":{"value":2.1,"units":"mg/dL","referenceRange":"0.6-1.2"}},"bogus":{}}
	}` + "\n```"})
	c := newTestClient(p, time.Second)

	res, err := c.GenerateCase(context.Background(), CaseRequest{ScenarioHint: "rhabdo"})
	require.NoError(t, err)
	assert.Equal(t, "Ana Ruiz", res.Patient.Demographics.Name)
	assert.Equal(t, 64.0, res.Patient.Demographics.WeightKg)
	assert.Equal(t, "CKD 3a; HTN", res.Patient.History)
	assert.Equal(t, 93, res.Vitals.MAP())
	assert.Contains(t, res.Labs, lab.CategoryRenal)
	assert.NotContains(t, res.Labs, lab.Category("bogus"))
	assert.Equal(t, DefaultCallCost, res.Meta.CostUSD)
}

func TestGenerateCaseSchemaMismatch(t *testing.T) {
	p := ai.NewScriptedProvider(1)
	p.Push(string(SchemaCaseGeneration), ai.ScriptedReply{Content: `{"demographics":{"name":"X","age":40},"clinicalContext":"AKI","vitals":{"hr":80}}`})
	c := newTestClient(p, time.Second)

	_, err := c.GenerateCase(context.Background(), CaseRequest{})
	assert.Equal(t, ReasonSchema, failureReason(t, err))
	assert.True(t, IsFailure(err))
}

func TestUpdateVitalsFailureModes(t *testing.T) {
	cases := []struct {
		name  string
		reply ai.ScriptedReply
		want  Reason
	}{
		{"malformed", ai.ScriptedReply{Content: "the patient looks fine"}, ReasonMalformed},
		{"empty", ai.ScriptedReply{Content: "  "}, ReasonMalformed},
		{"missing field", ai.ScriptedReply{Content: `{"hr":80,"sbp":120,"dbp":80,"rr":16,"temp":37}`}, ReasonSchema},
		{"spo2 over 100", ai.ScriptedReply{Content: `{"hr":80,"sbp":120,"dbp":80,"rr":16,"temp":37,"spo2":101}`}, ReasonSchema},
		{"negative", ai.ScriptedReply{Content: `{"hr":-1,"sbp":120,"dbp":80,"rr":16,"temp":37,"spo2":99}`}, ReasonSchema},
		{"transport", ai.ScriptedReply{Err: errors.New("connection refused")}, ReasonTransport},
		{"timeout", ai.ScriptedReply{Content: "{}", Delay: time.Second}, ReasonTimeout},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := ai.NewScriptedProvider(1)
			p.Push(string(SchemaVitalsUpdate), tc.reply)
			c := newTestClient(p, 20*time.Millisecond)
			_, err := c.UpdateVitals(context.Background(), VitalsContext{})
			assert.Equal(t, tc.want, failureReason(t, err))
		})
	}
}

func TestUpdateVitalsRounds(t *testing.T) {
	p := ai.NewScriptedProvider(1)
	p.Push(string(SchemaVitalsUpdate), ai.ScriptedReply{Content: `{"hr":91.6,"sbp":131,"dbp":70,"rr":18,"temp":37.84,"spo2":95,"assessment":"tachycardic"}`})
	c := newTestClient(p, time.Second)

	res, err := c.UpdateVitals(context.Background(), VitalsContext{})
	require.NoError(t, err)
	assert.Equal(t, patient.Vitals{HR: 92, SBP: 131, DBP: 70, RR: 18, Temp: 37.8, SpO2: 95}, res.Vitals)
	assert.Equal(t, "tachycardic", res.Assessment)
}

func TestLabResultUsesOrderIdentity(t *testing.T) {
	p := ai.NewScriptedProvider(1)
	p.Push(string(SchemaLabResult), ai.ScriptedReply{Content: `{"name":"K","category":"renal","value":"hemolyzed","units":"","referenceRange":"","timeToResult":15,"isCritical":true,
		"relatedValues":{"Sodium":{"value":131,"units":"mEq/L","referenceRange":"135-145"}}}`})
	c := newTestClient(p, time.Second)

	res, err := c.LabResult(context.Background(), LabContext{Test: "Potassium", Category: lab.CategoryBasic})
	require.NoError(t, err)
	assert.Equal(t, "Potassium", res.Name)
	assert.Equal(t, lab.CategoryBasic, res.Category)
	assert.True(t, res.Value.IsText)
	assert.Equal(t, 15*time.Minute, res.TimeToResult)
	assert.True(t, res.IsCritical)
	assert.Equal(t, 131.0, res.RelatedValues["Sodium"].Value.Num)
}

func TestLabResultRequiresValueAndTime(t *testing.T) {
	p := ai.NewScriptedProvider(1)
	p.Push(string(SchemaLabResult), ai.ScriptedReply{Content: `{"name":"K","units":"mEq/L","timeToResult":15}`})
	p.Push(string(SchemaLabResult), ai.ScriptedReply{Content: `{"name":"K","value":4.1}`})
	c := newTestClient(p, time.Second)

	_, err := c.LabResult(context.Background(), LabContext{Test: "Potassium", Category: lab.CategoryBasic})
	assert.Equal(t, ReasonSchema, failureReason(t, err))
	_, err = c.LabResult(context.Background(), LabContext{Test: "Potassium", Category: lab.CategoryBasic})
	assert.Equal(t, ReasonSchema, failureReason(t, err))
}

func TestLabContextIsBounded(t *testing.T) {
	lc := LabContext{History: make([]LabSummary, 7)}
	for i := range lc.History {
		lc.History[i].Name = string(rune('a' + i))
	}
	lc.bound()
	require.Len(t, lc.History, MaxCategoryHistory)
	assert.Equal(t, "g", lc.History[2].Name)
}

func TestDiagnosticAndFluidAndUrine(t *testing.T) {
	p := ai.NewScriptedProvider(1)
	p.Push(string(SchemaDiagnosticResult), ai.ScriptedReply{Content: `{"name":"US","results":{"kidneys":"normal size","size_cm":11},"interpretation":"No obstruction","timeToResult":45,"keyFindings":["No hydronephrosis"]}`})
	p.Push(string(SchemaFluidAssessment), ai.ScriptedReply{Content: `{"appropriateness":"Concerning","rationale":"Volume overloaded","expectedEffects":{}}`})
	p.Push(string(SchemaFluidAssessment), ai.ScriptedReply{Content: `{"appropriateness":"maybe","rationale":"?"}`})
	p.Push(string(SchemaUrineStudies), ai.ScriptedReply{Content: `{"urineSpecificGravity":1.02,"urineOsmolality":500,"urineNa":12,"urineK":30,"urineCl":15,"urineCr":100,"urineProtein":5,"feNa":0.4,"interpretation":"prerenal"}`})
	c := newTestClient(p, time.Second)
	ctx := context.Background()

	d, err := c.DiagnosticResult(ctx, DiagnosticContext{Test: "Renal Ultrasound", Category: lab.CategoryImaging})
	require.NoError(t, err)
	assert.Equal(t, "Renal Ultrasound", d.Name)
	assert.Equal(t, "11", d.Results["size_cm"])
	assert.Equal(t, 45*time.Minute, d.TimeToResult)

	a, err := c.AssessFluid(ctx, FluidContext{Fluid: "NS", RateMLPerHour: 125})
	require.NoError(t, err)
	assert.Equal(t, Concerning, a.Appropriateness)

	_, err = c.AssessFluid(ctx, FluidContext{})
	assert.Equal(t, ReasonSchema, failureReason(t, err))

	u, err := c.UrineStudies(ctx, UrineContext{UrineOutput8h: 200})
	require.NoError(t, err)
	assert.Equal(t, 0.4, u.FeNa)
	assert.Len(t, u.Readings(), 7)
}

func TestInterventionEffect(t *testing.T) {
	p := ai.NewScriptedProvider(1)
	p.Push(string(SchemaInterventionEffect), ai.ScriptedReply{Content: `{"clinicalEffects":"BP improves","timeToEffect":0,"vitals":{"hr":90,"sbp":110,"dbp":70,"rr":16,"temp":37,"spo2":98}}`})
	p.Push(string(SchemaInterventionEffect), ai.ScriptedReply{Content: `{"clinicalEffects":"none"}`})
	c := newTestClient(p, time.Second)

	e, err := c.InterventionEffect(context.Background(), EffectContext{Intervention: "Furosemide"})
	require.NoError(t, err)
	assert.Zero(t, e.TimeToEffect)
	require.NotNil(t, e.Vitals)
	assert.Equal(t, 83, e.Vitals.MAP())

	_, err = c.InterventionEffect(context.Background(), EffectContext{})
	assert.Equal(t, ReasonSchema, failureReason(t, err))
}

func TestConsultParsesTag(t *testing.T) {
	p := ai.NewScriptedProvider(1)
	p.Push(string(SchemaFreeText), ai.ScriptedReply{Content: "Good thinking on the bladder scan.|COMPLIMENT\n"})
	p.Push(string(SchemaFreeText), ai.ScriptedReply{Content: "Hmm, I am not sure."})
	p.Push(string(SchemaFreeText), ai.ScriptedReply{Content: "|CRITICISM"})
	c := newTestClient(p, time.Second)
	cc := ConsultContext{Channel: chat.ChannelAttending, Message: "Ordering a bladder scan"}

	r, err := c.Consult(context.Background(), cc)
	require.NoError(t, err)
	assert.Equal(t, "Good thinking on the bladder scan.", r.Text)
	assert.Equal(t, chat.FeedbackCompliment, r.Feedback)

	r, err = c.Consult(context.Background(), cc)
	require.NoError(t, err)
	assert.Equal(t, chat.FeedbackNeutral, r.Feedback)
	assert.False(t, r.Tagged)

	_, err = c.Consult(context.Background(), cc)
	assert.Equal(t, ReasonSchema, failureReason(t, err))
}

func TestParseTagged(t *testing.T) {
	cases := []struct {
		in       string
		text     string
		feedback chat.Feedback
		tagged   bool
	}{
		{"Nice.|COMPLIMENT", "Nice.", chat.FeedbackCompliment, true},
		{"Wrong fluid. |CRITICISM  ", "Wrong fluid.", chat.FeedbackCriticism, true},
		{"Okay|NEUTRAL", "Okay", chat.FeedbackNeutral, true},
		{"No tag here", "No tag here", chat.FeedbackNeutral, false},
		{"Lowercase|compliment", "Lowercase|compliment", chat.FeedbackNeutral, false},
		{"Tag mid|COMPLIMENT then prose", "Tag mid|COMPLIMENT then prose", chat.FeedbackNeutral, false},
		{"a|b|CRITICISM", "a|b", chat.FeedbackCriticism, true},
	}
	for _, tc := range cases {
		r := ParseTagged(tc.in)
		assert.Equal(t, tc.text, r.Text, tc.in)
		assert.Equal(t, tc.feedback, r.Feedback, tc.in)
		assert.Equal(t, tc.tagged, r.Tagged, tc.in)
	}
}

func TestRequestCarriesContextMarker(t *testing.T) {
	msgs, err := buildMessages(SchemaLabResult, formats[SchemaLabResult], LabContext{Test: "BUN"})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].Role)
	assert.True(t, strings.Contains(msgs[1].Content, ai.ContextMarker+"{"))
	assert.Contains(t, msgs[1].Content, `"test": "BUN"`)
}
