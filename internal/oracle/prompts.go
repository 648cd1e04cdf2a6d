package oracle

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/robbie-med/rhenal/internal/domain/chat"
	"github.com/robbie-med/rhenal/internal/infra/ai"
)

// SystemPrompt frames every request.
const SystemPrompt = `You are the clinical simulation engine for a nephrology teaching game.
You produce realistic, internally consistent patient data and clinical text.
When a JSON format is requested, respond with exactly one JSON object and nothing else.`

// formats describes the response shape expected for each schema.
var formats = map[Schema]string{
	SchemaCaseGeneration: `Generate a new nephrology patient. Respond with JSON:
{"demographics":{"name":string,"age":number,"gender":string,"weight":number,"height":number},
 "location":string,"clinicalContext":string,"history":string,"comorbidities":[string],
 "allergies":[string],"baselineCreatinine":number,
 "vitals":{"hr":number,"sbp":number,"dbp":number,"rr":number,"temp":number,"spo2":number},
 "labs":{"basic":{NAME:{"value":number,"units":string,"referenceRange":string}},
         "renal":{NAME:{"value":number,"units":string,"referenceRange":string}}}}`,

	SchemaVitalsUpdate: `Project the patient's vital signs now, given the context. Respond with JSON:
{"hr":number,"sbp":number,"dbp":number,"rr":number,"temp":number,"spo2":number,"assessment":string}`,

	SchemaInterventionEffect: `Describe the effect of the intervention. Respond with JSON:
{"clinicalEffects":string,"timeToEffect":number (minutes),
 "vitals":{"hr":number,"sbp":number,"dbp":number,"rr":number,"temp":number,"spo2":number}}`,

	SchemaLabResult: `Provide a realistic result for the ordered test, consistent with prior values. Respond with JSON:
{"name":string,"category":string,"value":number or string,"units":string,"referenceRange":string,
 "interpretation":string,"timeToResult":number (minutes),"isCritical":boolean,
 "relatedValues":{NAME:{"value":number or string,"units":string,"referenceRange":string}}}`,

	SchemaDiagnosticResult: `Provide a report for the ordered study. Respond with JSON:
{"name":string,"results":{FIELD:string},"interpretation":string,"timeToResult":number (minutes),"keyFindings":[string]}`,

	SchemaFluidAssessment: `Assess whether this IV fluid is appropriate. Respond with JSON:
{"appropriateness":"appropriate"|"concerning"|"inappropriate","rationale":string,
 "expectedEffects":{"volumeStatus":string,"electrolytes":string,"renalFunction":string},"recommendations":string}`,

	SchemaUrineStudies: `Provide urine chemistry consistent with the patient. Respond with JSON:
{"urineSpecificGravity":number,"urineOsmolality":number,"urineNa":number,"urineK":number,
 "urineCl":number,"urineCr":number,"urineProtein":number,"feNa":number,"interpretation":string}`,
}

func consultInstruction(ch chat.Channel) string {
	role := "the bedside nurse"
	if ch == chat.ChannelAttending {
		role = "the attending nephrologist supervising the trainee"
	}
	return fmt.Sprintf(`Reply in character as %s, in two or three sentences.
End the reply with %s followed by exactly one of COMPLIMENT, CRITICISM or NEUTRAL,
judging the trainee's latest message. Example: "Good call on the fluids.%sCOMPLIMENT"`,
		role, TagDelimiter, TagDelimiter)
}

// buildMessages renders the system prompt, the schema instruction and the JSON context.
func buildMessages(schema Schema, instruction string, payload any) ([]ai.Message, error) {
	body, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal %s context: %w", schema, err)
	}
	var sb strings.Builder
	sb.WriteString(instruction)
	sb.WriteString("\n\n")
	sb.WriteString(ai.ContextMarker)
	sb.Write(body)
	return []ai.Message{
		{Role: "system", Content: SystemPrompt},
		{Role: "user", Content: sb.String()},
	}, nil
}
