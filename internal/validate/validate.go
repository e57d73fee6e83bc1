// Package validate checks one raw input row against the fixed TM2 record
// schema and builds a typed candidate from it.
//
// Rules run in a fixed order and the first failing rule short-circuits the
// rest. Rules() enumerates every rule name so tests can cover each one.
package validate

import (
	"fmt"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/gyeh/tm2ingest/internal/model"
	"github.com/gyeh/tm2ingest/internal/normalize"
)

// Rule names, in evaluation order.
const (
	RuleRequiredPatientID      = "required:patient_id"
	RuleRequiredTM2Code        = "required:tm2_code"
	RuleRequiredConditionName  = "required:condition_name"
	RuleRequiredDiagnosisDate  = "required:diagnosis_date"
	RuleRequiredPractitionerID = "required:practitioner_id"
	RuleFormatPatientID        = "format:patient_id"
	RuleFormatPractitionerID   = "format:practitioner_id"
	RuleLengthConditionName    = "length:condition_name"
	RulePatternTM2Code         = "pattern:tm2_code"
	RuleDateDiagnosisDate      = "date:diagnosis_date"
	RuleNotFutureDiagnosisDate = "not_future:diagnosis_date"
	RuleEnumSeverity           = "enum:severity"
)

const (
	maxIdentifierLen    = 50
	maxConditionNameLen = 200
)

// tm2Pattern is the module prefix followed by an alphanumeric block and one
// or more numeric hierarchy levels, e.g. TM2.A01.01 or TM2.ZZ.99.
var tm2Pattern = regexp.MustCompile(`^TM2\.[A-Z]+[0-9]*(\.[0-9]+)+$`)

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidationError reports the first rule a row failed.
type ValidationError struct {
	Field  string
	Rule   string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

type rule struct {
	name  string
	field string
	check func(v *Validator, raw *model.RawRecord, c *model.Candidate) (reason string)
}

// Validator applies the record rules. It is safe for concurrent use.
type Validator struct {
	now   func() time.Time
	field *validator.Validate
	rules []rule
}

// Option configures a Validator.
type Option func(*Validator)

// WithClock sets the processing clock used for the not-in-the-future rule.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

// New builds a Validator with the standard rule set.
func New(opts ...Option) *Validator {
	fv := validator.New()
	_ = fv.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
		return identifierPattern.MatchString(fl.Field().String())
	})
	_ = fv.RegisterValidation("tm2code", func(fl validator.FieldLevel) bool {
		return tm2Pattern.MatchString(fl.Field().String())
	})

	v := &Validator{now: time.Now, field: fv, rules: standardRules()}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Rules returns every rule name in evaluation order.
func (v *Validator) Rules() []string {
	names := make([]string, len(v.rules))
	for i, r := range v.rules {
		names[i] = r.name
	}
	return names
}

// Validate checks raw and returns a candidate, or a *ValidationError for the
// first rule that fails. Blank optional cells are never errors.
func (v *Validator) Validate(raw *model.RawRecord) (*model.Candidate, error) {
	c := &model.Candidate{
		PatientID:      normalize.NormalizeIdentifier(raw.PatientID),
		TM2Code:        normalize.NormalizeCode(raw.TM2Code),
		ConditionName:  normalize.CleanText(raw.ConditionName),
		SystemType:     normalize.SystemTypeOf(raw.SystemType),
		PractitionerID: normalize.NormalizeIdentifier(raw.PractitionerID),
	}
	for _, r := range v.rules {
		if reason := r.check(v, raw, c); reason != "" {
			return nil, &ValidationError{
				Field:  r.field,
				Rule:   r.name,
				Value:  cell(raw, r.field),
				Reason: reason,
			}
		}
	}
	return c, nil
}

func standardRules() []rule {
	return []rule{
		required(RuleRequiredPatientID, model.ColPatientID),
		required(RuleRequiredTM2Code, model.ColTM2Code),
		required(RuleRequiredConditionName, model.ColConditionName),
		required(RuleRequiredDiagnosisDate, model.ColDiagnosisDate),
		required(RuleRequiredPractitionerID, model.ColPractitionerID),
		{
			name:  RuleFormatPatientID,
			field: model.ColPatientID,
			check: func(v *Validator, _ *model.RawRecord, c *model.Candidate) string {
				return v.fieldReason(c.PatientID, fmt.Sprintf("max=%d,identifier", maxIdentifierLen))
			},
		},
		{
			name:  RuleFormatPractitionerID,
			field: model.ColPractitionerID,
			check: func(v *Validator, _ *model.RawRecord, c *model.Candidate) string {
				return v.fieldReason(c.PractitionerID, fmt.Sprintf("max=%d,identifier", maxIdentifierLen))
			},
		},
		{
			name:  RuleLengthConditionName,
			field: model.ColConditionName,
			check: func(v *Validator, _ *model.RawRecord, c *model.Candidate) string {
				return v.fieldReason(c.ConditionName, fmt.Sprintf("max=%d", maxConditionNameLen))
			},
		},
		{
			name:  RulePatternTM2Code,
			field: model.ColTM2Code,
			check: func(v *Validator, _ *model.RawRecord, c *model.Candidate) string {
				return v.fieldReason(c.TM2Code, "tm2code")
			},
		},
		{
			name:  RuleDateDiagnosisDate,
			field: model.ColDiagnosisDate,
			check: func(_ *Validator, raw *model.RawRecord, c *model.Candidate) string {
				d, ok := normalize.ParseDate(raw.DiagnosisDate)
				if !ok {
					return "not a calendar date (use YYYY-MM-DD or similar)"
				}
				c.DiagnosisDate = d
				return ""
			},
		},
		{
			name:  RuleNotFutureDiagnosisDate,
			field: model.ColDiagnosisDate,
			check: func(v *Validator, _ *model.RawRecord, c *model.Candidate) string {
				today := normalize.Day(v.now())
				if c.DiagnosisDate.After(today) {
					return fmt.Sprintf("date %s is in the future", normalize.ISODate(c.DiagnosisDate))
				}
				return ""
			},
		},
		{
			name:  RuleEnumSeverity,
			field: model.ColSeverity,
			check: func(_ *Validator, raw *model.RawRecord, c *model.Candidate) string {
				sv, ok := normalize.ParseSeverity(raw.Severity)
				if !ok {
					return "must be one of Mild, Moderate, Severe"
				}
				c.Severity = sv
				return ""
			},
		},
	}
}

func required(name, column string) rule {
	return rule{
		name:  name,
		field: column,
		check: func(_ *Validator, raw *model.RawRecord, _ *model.Candidate) string {
			if normalize.CleanText(cell(raw, column)) == "" {
				return "required field is empty"
			}
			return ""
		},
	}
}

// fieldReason runs a go-playground tag set against one value and turns the
// first failing tag into a readable reason.
func (v *Validator) fieldReason(value, tags string) string {
	err := v.field.Var(value, tags)
	if err == nil {
		return ""
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "identifier":
		return "must contain only letters, digits, hyphens and underscores"
	case "tm2code":
		return fmt.Sprintf("%q does not match the TM2 code pattern (e.g. TM2.A01.01)", value)
	default:
		return fmt.Sprintf("failed %s check", fe.Tag())
	}
}

func cell(raw *model.RawRecord, column string) string {
	switch column {
	case model.ColPatientID:
		return raw.PatientID
	case model.ColTM2Code:
		return raw.TM2Code
	case model.ColConditionName:
		return raw.ConditionName
	case model.ColSystemType:
		return raw.SystemType
	case model.ColSeverity:
		return raw.Severity
	case model.ColDiagnosisDate:
		return raw.DiagnosisDate
	case model.ColPractitionerID:
		return raw.PractitionerID
	}
	return ""
}
