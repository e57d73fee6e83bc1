package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/gyeh/tm2ingest/internal/model"
)

// FileHash computes the hex-encoded SHA-256 of the file at path.
func FileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file for hash: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash file: %w", err)
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// DeriveKey fingerprints the logical identity of a record: patient, TM2 code,
// diagnosis date and practitioner. Records that differ only in whitespace,
// case or date layout in the source get the same key.
func DeriveKey(rec *model.NormalizedRecord) model.Key {
	return KeyOf(rec.PatientID, rec.TM2Code, rec.DiagnosisDate, rec.PractitionerID)
}

// KeyOf computes the idempotency key from the four fingerprinted fields.
// Each field is trimmed and lowercased, the date is rendered as YYYY-MM-DD,
// and fields are separated by NUL so no concatenation can collide.
func KeyOf(patientID, code string, date time.Time, practitionerID string) model.Key {
	h := sha256.New()
	for _, v := range []string{
		patientID,
		code,
		ISODate(Day(date)),
		practitionerID,
	} {
		h.Write([]byte(strings.ToLower(strings.TrimSpace(v))))
		h.Write([]byte{0})
	}
	return model.Key(hex.EncodeToString(h.Sum(nil)))
}
