package orchestrator

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// IntakeSchemaVersion is the current ClinicalIntakeRecord layout.
const IntakeSchemaVersion = 1

// Limits carried by the validate tags on ClinicalIntakeRecord.
const (
	maxIntakeFieldLength = 2000
	maxSymptoms          = 32
	maxSymptomLength     = 120
)

// ClinicalIntakeRecord is the patient's intake form. It is stored in the
// content store and referenced from the booking by digest only.
type ClinicalIntakeRecord struct {
	SchemaVersion            int      `json:"schemaVersion" validate:"eq=1"`
	MainConcern              string   `json:"mainConcern" validate:"required,max=2000"`
	TherapyGoals             string   `json:"therapyGoals,omitempty" validate:"max=2000"`
	CurrentSymptoms          []string `json:"currentSymptoms,omitempty" validate:"max=32,dive,max=120"`
	SymptomDuration          string   `json:"symptomDuration,omitempty" validate:"max=2000"`
	PrevTherapy              string   `json:"prevTherapy,omitempty" validate:"max=2000"`
	Medications              string   `json:"medications,omitempty" validate:"max=2000"`
	EmergencyContact         string   `json:"emergencyContact,omitempty" validate:"max=2000"`
	PreferredApproach        string   `json:"preferredApproach,omitempty" validate:"max=2000"`
	ConsentToNotes           bool     `json:"consentToNotes"`
	CopingStrategies         string   `json:"copingStrategies,omitempty" validate:"max=2000"`
	MentalHealthHistory      string   `json:"mentalHealthHistory,omitempty" validate:"max=2000"`
	PhysicalHealthConditions string   `json:"physicalHealthConditions,omitempty" validate:"max=2000"`
	SleepQuality             string   `json:"sleepQuality,omitempty" validate:"max=2000"`
	DietaryHabits            string   `json:"dietaryHabits,omitempty" validate:"max=2000"`
	ExerciseRoutine          string   `json:"exerciseRoutine,omitempty" validate:"max=2000"`
	SubstanceUse             string   `json:"substanceUse,omitempty" validate:"max=2000"`
	Stressors                string   `json:"stressors,omitempty" validate:"max=2000"`
	SupportSystem            string   `json:"supportSystem,omitempty" validate:"max=2000"`
	CommunicationPreference  string   `json:"communicationPreference,omitempty" validate:"max=2000"`
}

// Normalized returns a copy with whitespace trimmed, empty symptoms dropped
// and the schema version filled in.
func (r ClinicalIntakeRecord) Normalized() ClinicalIntakeRecord {
	out := r
	if out.SchemaVersion == 0 {
		out.SchemaVersion = IntakeSchemaVersion
	}
	for _, f := range out.textFields() {
		*f.value = strings.TrimSpace(*f.value)
	}
	var symptoms []string
	for _, s := range r.CurrentSymptoms {
		if s = strings.TrimSpace(s); s != "" {
			symptoms = append(symptoms, s)
		}
	}
	out.CurrentSymptoms = symptoms
	return out
}

// Validate checks the record after normalization and reports every
// violated rule.
func (r ClinicalIntakeRecord) Validate() error {
	err := intakeValidator.Struct(r.Normalized())
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	errs := make([]error, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		errs = append(errs, intakeError(fe))
	}
	return errors.Join(errs...)
}

var intakeValidator = newIntakeValidator()

func newIntakeValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func intakeError(fe validator.FieldError) error {
	field := fe.Field()
	switch {
	case field == "schemaVersion":
		return fmt.Errorf("intake: unsupported schema version %v", fe.Value())
	case fe.Tag() == "required":
		return fmt.Errorf("intake: %s is required", field)
	case field == "currentSymptoms":
		return fmt.Errorf("intake: at most %s symptoms are allowed", fe.Param())
	case strings.HasPrefix(field, "currentSymptoms["):
		idx, _ := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(field, "currentSymptoms["), "]"))
		return fmt.Errorf("intake: symptom %d exceeds %s characters", idx+1, fe.Param())
	case fe.Tag() == "max":
		return fmt.Errorf("intake: %s exceeds %s characters", field, fe.Param())
	}
	return fmt.Errorf("intake: %s failed %s", field, fe.Tag())
}

type textField struct {
	name  string
	value *string
}

func (r *ClinicalIntakeRecord) textFields() []textField {
	return []textField{
		{"mainConcern", &r.MainConcern},
		{"therapyGoals", &r.TherapyGoals},
		{"symptomDuration", &r.SymptomDuration},
		{"prevTherapy", &r.PrevTherapy},
		{"medications", &r.Medications},
		{"emergencyContact", &r.EmergencyContact},
		{"preferredApproach", &r.PreferredApproach},
		{"copingStrategies", &r.CopingStrategies},
		{"mentalHealthHistory", &r.MentalHealthHistory},
		{"physicalHealthConditions", &r.PhysicalHealthConditions},
		{"sleepQuality", &r.SleepQuality},
		{"dietaryHabits", &r.DietaryHabits},
		{"exerciseRoutine", &r.ExerciseRoutine},
		{"substanceUse", &r.SubstanceUse},
		{"stressors", &r.Stressors},
		{"supportSystem", &r.SupportSystem},
		{"communicationPreference", &r.CommunicationPreference},
	}
}
