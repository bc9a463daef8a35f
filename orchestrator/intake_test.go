package orchestrator

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClinicalIntakeRecord_Validate(t *testing.T) {
	long := strings.Repeat("x", maxIntakeFieldLength+1)
	symptoms := make([]string, maxSymptoms+1)
	for i := range symptoms {
		symptoms[i] = "fatigue"
	}
	tests := []struct {
		name    string
		record  ClinicalIntakeRecord
		wantErr string
	}{
		{"minimal", ClinicalIntakeRecord{MainConcern: "stress"}, ""},
		{"blank concern", ClinicalIntakeRecord{MainConcern: "  "}, "mainConcern is required"},
		{"future version", ClinicalIntakeRecord{SchemaVersion: 2, MainConcern: "stress"}, "unsupported schema version"},
		{"long field", ClinicalIntakeRecord{MainConcern: "stress", Medications: long}, "medications exceeds"},
		{"too many symptoms", ClinicalIntakeRecord{MainConcern: "stress", CurrentSymptoms: symptoms}, "at most"},
		{"long symptom", ClinicalIntakeRecord{MainConcern: "stress", CurrentSymptoms: []string{strings.Repeat("y", maxSymptomLength+1)}}, "symptom 1 exceeds"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.record.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestClinicalIntakeRecord_ValidateReportsEveryField(t *testing.T) {
	err := ClinicalIntakeRecord{
		MainConcern:     " ",
		Stressors:       strings.Repeat("s", maxIntakeFieldLength+1),
		CurrentSymptoms: []string{"insomnia", "", strings.Repeat("y", maxSymptomLength+1)},
	}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "intake: mainConcern is required")
	assert.Contains(t, err.Error(), "intake: stressors exceeds 2000 characters")
	// Blank symptoms are dropped before numbering.
	assert.Contains(t, err.Error(), "intake: symptom 2 exceeds 120 characters")
}

func TestClinicalIntakeRecord_NormalizedIsStable(t *testing.T) {
	r := ClinicalIntakeRecord{
		MainConcern:       " stress ",
		CurrentSymptoms:   []string{" insomnia", "", "fatigue "},
		PreferredApproach: "unsure",
	}
	n := r.Normalized()
	assert.Equal(t, IntakeSchemaVersion, n.SchemaVersion)
	assert.Equal(t, "stress", n.MainConcern)
	assert.Equal(t, []string{"insomnia", "fatigue"}, n.CurrentSymptoms)
	assert.Equal(t, " stress ", r.MainConcern, "original is not modified")

	a, err := json.Marshal(n)
	require.NoError(t, err)
	b, err := json.Marshal(n.Normalized())
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Contains(t, string(a), `"schemaVersion":1`)
	assert.NotContains(t, string(a), "therapyGoals")
}
