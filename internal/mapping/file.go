package mapping

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gyeh/tm2ingest/internal/model"
)

// fileFormat is the on-disk layout of a mapping file:
//
//	mappings:
//	  - code: TM2.A01.01
//	    title: Disorder of vata pattern
type fileFormat struct {
	Mappings []model.CodeMapping `yaml:"mappings"`
}

// LoadFile reads a YAML mapping file and builds a Table from it.
func LoadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mapping file: %w", err)
	}
	defer f.Close()

	entries, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("mapping file %s: %w", path, err)
	}
	return NewTable(entries)
}

// Decode parses mapping entries from YAML.
func Decode(r io.Reader) ([]model.CodeMapping, error) {
	var ff fileFormat
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&ff); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("empty mapping file")
		}
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return ff.Mappings, nil
}

// Encode writes entries in the format Decode reads.
func Encode(w io.Writer, entries []model.CodeMapping) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(fileFormat{Mappings: entries}); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}
