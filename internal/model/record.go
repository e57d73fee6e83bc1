package model

import "time"

// Severity is the constrained severity of a diagnosis.
type Severity string

const (
	SeverityMild        Severity = "Mild"
	SeverityModerate    Severity = "Moderate"
	SeveritySevere      Severity = "Severe"
	SeverityUnspecified Severity = "Unspecified"
)

// Severities lists the values a source row may carry. Unspecified is only
// assigned when the cell is blank.
var Severities = []Severity{SeverityMild, SeverityModerate, SeveritySevere}

// SystemType is the traditional-medicine system a diagnosis was made under.
type SystemType string

const (
	SystemAyurveda    SystemType = "Ayurveda"
	SystemSiddha      SystemType = "Siddha"
	SystemUnani       SystemType = "Unani"
	SystemHomeopathy  SystemType = "Homeopathy"
	SystemTCM         SystemType = "Traditional Chinese Medicine"
	SystemNaturopathy SystemType = "Naturopathy"
	SystemYoga        SystemType = "Yoga"
	SystemOther       SystemType = "Other"
)

// Candidate is a row that passed every validation rule but has not yet been
// resolved against the mapping table.
type Candidate struct {
	PatientID      string     `json:"patient_id"`
	TM2Code        string     `json:"tm2_code"`
	ConditionName  string     `json:"condition_name"`
	SystemType     SystemType `json:"system_type"`
	Severity       Severity   `json:"severity"`
	DiagnosisDate  time.Time  `json:"diagnosis_date"`
	PractitionerID string     `json:"practitioner_id"`
}

// CodeMapping is the canonical ICD-11 TM2 descriptor for one code.
type CodeMapping struct {
	Code             string            `yaml:"code" json:"code"`
	Title            string            `yaml:"title" json:"title"`
	Category         string            `yaml:"category,omitempty" json:"category,omitempty"`
	FoundationURI    string            `yaml:"foundation_uri,omitempty" json:"foundation_uri,omitempty"`
	ConceptUUID      string            `yaml:"concept_uuid,omitempty" json:"concept_uuid,omitempty"`
	Description      string            `yaml:"description,omitempty" json:"description,omitempty"`
	TraditionalNames map[string]string `yaml:"traditional_names,omitempty" json:"traditional_names,omitempty"`
}

// CopyValues returns the mapping's values in MappingColumns() order.
func (m *CodeMapping) CopyValues() []any {
	names := m.TraditionalNames
	if names == nil {
		names = map[string]string{}
	}
	return []any{
		m.Code,
		m.Title,
		nilIfEmpty(m.Category),
		nilIfEmpty(m.FoundationURI),
		nilIfEmpty(m.ConceptUUID),
		nilIfEmpty(m.Description),
		names,
	}
}

// MappingColumns returns the ordered column names for COPY into ref.tm2_mappings.
func MappingColumns() []string {
	return []string{
		"code",
		"title",
		"category",
		"foundation_uri",
		"concept_uuid",
		"description",
		"traditional_names",
	}
}

// NormalizedRecord is a validated candidate annotated with its mapping.
// Only the mapping resolver constructs one.
type NormalizedRecord struct {
	Candidate
	Mapping CodeMapping `json:"mapping"`
}

// DiagnosisDay returns the diagnosis date in ISO 8601 calendar form.
func (r *NormalizedRecord) DiagnosisDay() string {
	return r.DiagnosisDate.Format(time.DateOnly)
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
