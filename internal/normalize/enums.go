package normalize

import (
	"strings"

	"github.com/gyeh/tm2ingest/internal/model"
)

var systemAliases = map[string]model.SystemType{
	"ayurveda":                     model.SystemAyurveda,
	"ayurved":                      model.SystemAyurveda,
	"siddha":                       model.SystemSiddha,
	"siddh":                        model.SystemSiddha,
	"unani":                        model.SystemUnani,
	"yunani":                       model.SystemUnani,
	"homeopathy":                   model.SystemHomeopathy,
	"homoeopathy":                  model.SystemHomeopathy,
	"homeo":                        model.SystemHomeopathy,
	"tcm":                          model.SystemTCM,
	"traditional chinese medicine": model.SystemTCM,
	"chinese medicine":             model.SystemTCM,
	"naturopathy":                  model.SystemNaturopathy,
	"naturo":                       model.SystemNaturopathy,
	"yoga":                         model.SystemYoga,
}

// SystemTypeOf maps a free-text system name to its enumerated value.
// Unrecognized or blank input is Other.
func SystemTypeOf(s string) model.SystemType {
	if st, ok := systemAliases[NormalizeName(s)]; ok {
		return st
	}
	return model.SystemOther
}

// ParseSeverity matches s case-insensitively against the enumerated
// severities. Blank input is Unspecified; anything else is rejected.
func ParseSeverity(s string) (model.Severity, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return model.SeverityUnspecified, true
	}
	for _, sv := range model.Severities {
		if strings.EqualFold(s, string(sv)) {
			return sv, true
		}
	}
	return "", false
}
