// mkfixture writes a deterministic set of TM2 demo inputs: the same records
// as CSV, Parquet and XLSX, plus the mapping table YAML they resolve against.
// A few rows are deliberately broken so every rejection path shows up.
// Usage: go run ./cmd/mkfixture --out testdata --rows 200
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	goparquet "github.com/parquet-go/parquet-go"
	"github.com/xuri/excelize/v2"

	"github.com/gyeh/tm2ingest/internal/mapping"
	"github.com/gyeh/tm2ingest/internal/model"
)

var catalog = []model.CodeMapping{
	{Code: "TM2.A01.01", Title: "Vata disorder of sleep", Category: "Ayurveda disorders", ConceptUUID: "1f3c2a6e-0a01-4c1b-9a01-000000000001",
		TraditionalNames: map[string]string{"ayurveda": "Anidra"}},
	{Code: "TM2.A02.03", Title: "Pitta disorder of digestion", Category: "Ayurveda disorders",
		TraditionalNames: map[string]string{"ayurveda": "Amlapitta"}},
	{Code: "TM2.B02.03", Title: "Qi stagnation pattern", Category: "TCM patterns", ConceptUUID: "1f3c2a6e-0a01-4c1b-9a01-000000000002",
		TraditionalNames: map[string]string{"tcm": "Qi Zhi"}},
	{Code: "TM2.B05.11", Title: "Liver yang rising pattern", Category: "TCM patterns"},
	{Code: "TM2.C01.02", Title: "Disorder of humoral balance", Category: "Unani disorders",
		TraditionalNames: map[string]string{"unani": "Su-e-Mizaj"}},
	{Code: "TM2.SA1.2", Title: "Siddha vatham disorder", Category: "Siddha disorders"},
}

var (
	conditions = []string{"Chronic Insomnia", "Acid Dyspepsia", "Tension Headache", "Joint Pain", "Fatigue"}
	systems    = []string{"Ayurveda", "Siddha", "Unani", "Traditional Chinese Medicine", "Homeopathy", ""}
	severities = []string{"Mild", "Moderate", "Severe", ""}
	dateForms  = []string{time.DateOnly, "01/02/2006", "02 Jan 2006"}
)

func main() {
	out := flag.String("out", "testdata", "output directory")
	rows := flag.Int("rows", 200, "data rows to generate")
	seed := flag.Uint64("seed", 11, "random seed")
	flag.Parse()

	if err := os.MkdirAll(*out, 0o755); err != nil {
		fail("create output dir", err)
	}

	records := generate(*rows, rand.New(rand.NewPCG(*seed, *seed)))

	steps := []struct {
		name  string
		write func(string, []model.RawRecord) error
	}{
		{"records.csv", writeCSV},
		{"records.parquet", writeParquet},
		{"records.xlsx", writeXLSX},
	}
	for _, s := range steps {
		path := filepath.Join(*out, s.name)
		if err := s.write(path, records); err != nil {
			fail("write "+s.name, err)
		}
		fmt.Printf("Wrote %d rows to %s\n", len(records), path)
	}

	path := filepath.Join(*out, "mappings.yaml")
	f, err := os.Create(path)
	if err != nil {
		fail("create mappings", err)
	}
	if err := mapping.Encode(f, catalog); err != nil {
		fail("write mappings", err)
	}
	if err := f.Close(); err != nil {
		fail("close mappings", err)
	}
	fmt.Printf("Wrote %d mappings to %s\n", len(catalog), path)
}

// generate builds n rows. Roughly one row in twenty is broken in one of a
// handful of ways, and every tenth valid row repeats an earlier one with
// different formatting.
func generate(n int, rng *rand.Rand) []model.RawRecord {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]model.RawRecord, 0, n)
	for i := 0; i < n; i++ {
		if i > 0 && i%10 == 0 {
			dup := out[rng.IntN(len(out))]
			dup.PatientID = " " + dup.PatientID
			dup.ConditionName = "  " + dup.ConditionName
			out = append(out, dup)
			continue
		}
		m := catalog[rng.IntN(len(catalog))]
		r := model.RawRecord{
			PatientID:      fmt.Sprintf("PAT%05d", rng.IntN(n)+1),
			TM2Code:        m.Code,
			ConditionName:  conditions[rng.IntN(len(conditions))],
			SystemType:     systems[rng.IntN(len(systems))],
			Severity:       severities[rng.IntN(len(severities))],
			DiagnosisDate:  base.AddDate(0, 0, rng.IntN(300)).Format(dateForms[rng.IntN(len(dateForms))]),
			PractitionerID: fmt.Sprintf("DOC%03d", rng.IntN(20)+1),
		}
		if rng.IntN(20) == 0 {
			breakRow(&r, rng)
		}
		out = append(out, r)
	}
	if n > 2 {
		out[n/2] = model.RawRecord{}
	}
	return out
}

func breakRow(r *model.RawRecord, rng *rand.Rand) {
	switch rng.IntN(5) {
	case 0:
		r.TM2Code = "TM2.ZZ.99"
	case 1:
		r.PractitionerID = ""
	case 2:
		r.Severity = "Critical"
	case 3:
		r.DiagnosisDate = time.Now().AddDate(1, 0, 0).Format(time.DateOnly)
	default:
		r.TM2Code = "ICD10-F51"
	}
}

func writeCSV(path string, records []model.RawRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write(model.Columns()); err != nil {
		f.Close()
		return err
	}
	for i := range records {
		if err := w.Write(records[i].Values()); err != nil {
			f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeParquet(path string, records []model.RawRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	writer := goparquet.NewGenericWriter[model.RawRecord](f)
	if _, err := writer.Write(records); err != nil {
		f.Close()
		return err
	}
	if err := writer.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeXLSX(path string, records []model.RawRecord) error {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)

	write := func(row int, values []string) error {
		cells := make([]any, len(values))
		for i, v := range values {
			cells[i] = v
		}
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return err
		}
		return f.SetSheetRow(sheet, cell, &cells)
	}
	if err := write(1, model.Columns()); err != nil {
		return err
	}
	for i := range records {
		if err := write(i+2, records[i].Values()); err != nil {
			return err
		}
	}
	return f.SaveAs(path)
}

func fail(what string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", what, err)
	os.Exit(1)
}
