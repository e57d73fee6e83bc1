package validate

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gyeh/tm2ingest/internal/model"
)

var processingDay = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func newTestValidator() *Validator {
	return New(WithClock(func() time.Time { return processingDay }))
}

func validRow() *model.RawRecord {
	return &model.RawRecord{
		PatientID:      "PAT001",
		TM2Code:        "TM2.A01.01",
		ConditionName:  "Chronic Insomnia",
		SystemType:     "Ayurveda",
		Severity:       "Moderate",
		DiagnosisDate:  "2024-01-15",
		PractitionerID: "DOC001",
	}
}

func TestValidate_ValidRow(t *testing.T) {
	c, err := newTestValidator().Validate(validRow())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if c.PatientID != "PAT001" || c.TM2Code != "TM2.A01.01" || c.PractitionerID != "DOC001" {
		t.Errorf("identifiers: got %+v", c)
	}
	if c.Severity != model.SeverityModerate {
		t.Errorf("severity: got %q, want Moderate", c.Severity)
	}
	if c.SystemType != model.SystemAyurveda {
		t.Errorf("system type: got %q, want Ayurveda", c.SystemType)
	}
	want := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	if !c.DiagnosisDate.Equal(want) {
		t.Errorf("date: got %v, want %v", c.DiagnosisDate, want)
	}
}

func TestValidate_NormalizesIdentifiersAndCode(t *testing.T) {
	row := validRow()
	row.PatientID = "  pat001 "
	row.TM2Code = " tm2.a01.01"
	row.PractitionerID = "doc001"
	row.ConditionName = "  Chronic   Insomnia "
	c, err := newTestValidator().Validate(row)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if c.PatientID != "PAT001" || c.TM2Code != "TM2.A01.01" || c.PractitionerID != "DOC001" {
		t.Errorf("got %+v", c)
	}
	if c.ConditionName != "Chronic Insomnia" {
		t.Errorf("condition: got %q", c.ConditionName)
	}
}

func TestValidate_BlankOptionalFields(t *testing.T) {
	row := validRow()
	row.Severity = "  "
	row.SystemType = ""
	c, err := newTestValidator().Validate(row)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if c.Severity != model.SeverityUnspecified {
		t.Errorf("severity: got %q, want Unspecified", c.Severity)
	}
	if c.SystemType != model.SystemOther {
		t.Errorf("system type: got %q, want Other", c.SystemType)
	}
}

func TestValidate_SeverityCaseInsensitive(t *testing.T) {
	row := validRow()
	row.Severity = "sEVERE"
	c, err := newTestValidator().Validate(row)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if c.Severity != model.SeveritySevere {
		t.Errorf("got %q, want Severe", c.Severity)
	}
}

func TestValidate_DateToday(t *testing.T) {
	row := validRow()
	row.DiagnosisDate = "2024-06-01"
	if _, err := newTestValidator().Validate(row); err != nil {
		t.Fatalf("date equal to processing day must pass: %v", err)
	}
}

func TestValidate_DateTodayInProcessingZone(t *testing.T) {
	// 00:30 on June 2 in UTC+9 is still June 1 in UTC.
	tokyo := time.FixedZone("UTC+9", 9*60*60)
	v := New(WithClock(func() time.Time { return time.Date(2024, 6, 2, 0, 30, 0, 0, tokyo) }))
	row := validRow()
	row.DiagnosisDate = "2024-06-02"
	if _, err := v.Validate(row); err != nil {
		t.Fatalf("local processing day must pass: %v", err)
	}
	row.DiagnosisDate = "2024-06-03"
	var ve *ValidationError
	if _, err := v.Validate(row); !errors.As(err, &ve) || ve.Rule != RuleNotFutureDiagnosisDate {
		t.Fatalf("next local day: got %v", err)
	}
}

// Every rule in Rules() has a row that trips it and nothing earlier.
func TestValidate_EachRule(t *testing.T) {
	cases := map[string]func(r *model.RawRecord){
		RuleRequiredPatientID:      func(r *model.RawRecord) { r.PatientID = " " },
		RuleRequiredTM2Code:        func(r *model.RawRecord) { r.TM2Code = "" },
		RuleRequiredConditionName:  func(r *model.RawRecord) { r.ConditionName = "\t" },
		RuleRequiredDiagnosisDate:  func(r *model.RawRecord) { r.DiagnosisDate = "" },
		RuleRequiredPractitionerID: func(r *model.RawRecord) { r.PractitionerID = "" },
		RuleFormatPatientID:        func(r *model.RawRecord) { r.PatientID = "PAT 001" },
		RuleFormatPractitionerID:   func(r *model.RawRecord) { r.PractitionerID = strings.Repeat("D", 51) },
		RuleLengthConditionName:    func(r *model.RawRecord) { r.ConditionName = strings.Repeat("x", 201) },
		RulePatternTM2Code:         func(r *model.RawRecord) { r.TM2Code = "ICD.A01" },
		RuleDateDiagnosisDate:      func(r *model.RawRecord) { r.DiagnosisDate = "15th of Jan" },
		RuleNotFutureDiagnosisDate: func(r *model.RawRecord) { r.DiagnosisDate = "2024-06-02" },
		RuleEnumSeverity:           func(r *model.RawRecord) { r.Severity = "Critical" },
	}

	v := newTestValidator()
	if got, want := len(v.Rules()), len(cases); got != want {
		t.Fatalf("rule count: got %d, want %d", got, want)
	}
	for _, name := range v.Rules() {
		mutate, ok := cases[name]
		if !ok {
			t.Errorf("rule %s has no test case", name)
			continue
		}
		t.Run(name, func(t *testing.T) {
			row := validRow()
			mutate(row)
			_, err := v.Validate(row)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("got %v, want *ValidationError", err)
			}
			if ve.Rule != name {
				t.Errorf("rule: got %s, want %s", ve.Rule, name)
			}
			if !strings.HasSuffix(name, ":"+ve.Field) {
				t.Errorf("field %q does not match rule %s", ve.Field, name)
			}
			if ve.Reason == "" {
				t.Error("empty reason")
			}
		})
	}
}

func TestValidate_FirstFailureWins(t *testing.T) {
	row := validRow()
	row.TM2Code = ""
	row.PractitionerID = ""
	row.Severity = "Critical"
	_, err := newTestValidator().Validate(row)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("got %v, want *ValidationError", err)
	}
	if ve.Field != model.ColTM2Code {
		t.Errorf("field: got %s, want %s", ve.Field, model.ColTM2Code)
	}
	if !strings.Contains(ve.Error(), "tm2_code") {
		t.Errorf("error text %q should name the field", ve.Error())
	}
}

func TestValidate_TM2Patterns(t *testing.T) {
	v := newTestValidator()
	for _, code := range []string{"TM2.A01.01", "TM2.ZZ.99", "tm2.b02.03.1", "TM2.SA1.2"} {
		row := validRow()
		row.TM2Code = code
		if _, err := v.Validate(row); err != nil {
			t.Errorf("%q: unexpected error %v", code, err)
		}
	}
	for _, code := range []string{"TM2", "TM2.A01", "TM2..01", "TM3.A01.01", "TM2.01.01"} {
		row := validRow()
		row.TM2Code = code
		if _, err := v.Validate(row); err == nil {
			t.Errorf("%q: expected pattern error", code)
		}
	}
}

func TestValidate_DoesNotMutateInput(t *testing.T) {
	row := validRow()
	row.PatientID = " pat001 "
	before := *row
	if _, err := newTestValidator().Validate(row); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if *row != before {
		t.Errorf("input changed: got %+v, want %+v", *row, before)
	}
}
