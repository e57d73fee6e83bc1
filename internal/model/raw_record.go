package model

import "strings"

// RawRecord mirrors one tabular input row before validation. Every field is
// the untrimmed cell text; readers for CSV, Parquet and XLSX all produce this
// shape so the pipeline never sees the source format.
type RawRecord struct {
	PatientID      string `parquet:"patient_id" json:"patient_id"`
	TM2Code        string `parquet:"tm2_code" json:"tm2_code"`
	ConditionName  string `parquet:"condition_name" json:"condition_name"`
	SystemType     string `parquet:"system_type" json:"system_type"`
	Severity       string `parquet:"severity" json:"severity"`
	DiagnosisDate  string `parquet:"diagnosis_date" json:"diagnosis_date"`
	PractitionerID string `parquet:"practitioner_id" json:"practitioner_id"`
}

// Column names of the fixed input schema, in canonical order.
const (
	ColPatientID      = "patient_id"
	ColTM2Code        = "tm2_code"
	ColConditionName  = "condition_name"
	ColSystemType     = "system_type"
	ColSeverity       = "severity"
	ColDiagnosisDate  = "diagnosis_date"
	ColPractitionerID = "practitioner_id"
)

// Columns returns the input column names in canonical order.
func Columns() []string {
	return []string{
		ColPatientID,
		ColTM2Code,
		ColConditionName,
		ColSystemType,
		ColSeverity,
		ColDiagnosisDate,
		ColPractitionerID,
	}
}

// Set assigns the cell for the named column. Unknown columns are ignored.
func (r *RawRecord) Set(column, value string) {
	switch column {
	case ColPatientID:
		r.PatientID = value
	case ColTM2Code:
		r.TM2Code = value
	case ColConditionName:
		r.ConditionName = value
	case ColSystemType:
		r.SystemType = value
	case ColSeverity:
		r.Severity = value
	case ColDiagnosisDate:
		r.DiagnosisDate = value
	case ColPractitionerID:
		r.PractitionerID = value
	}
}

// Values returns the cells in Columns() order.
func (r *RawRecord) Values() []string {
	return []string{
		r.PatientID,
		r.TM2Code,
		r.ConditionName,
		r.SystemType,
		r.Severity,
		r.DiagnosisDate,
		r.PractitionerID,
	}
}

// IsEmpty reports whether every cell is blank after trimming.
func (r *RawRecord) IsEmpty() bool {
	for _, v := range r.Values() {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
