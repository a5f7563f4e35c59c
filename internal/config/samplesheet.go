package config

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// sheetColumns maps sample sheet headers to fields
var sheetColumns = map[string]func(*SampleConfig, string){
	"sample_name": func(s *SampleConfig, v string) { s.SampleName = v },
	"group_name":  func(s *SampleConfig, v string) { s.GroupName = v },
	"input_1":     func(s *SampleConfig, v string) { s.Input1 = v },
	"input_2":     func(s *SampleConfig, v string) { s.Input2 = v },
	"output_dir":  func(s *SampleConfig, v string) { s.OutputDir = v },
	"log_dir":     func(s *SampleConfig, v string) { s.LogDir = v },
	"report_dir":  func(s *SampleConfig, v string) { s.ReportDir = v },
}

// LoadSampleSheet reads samples from a YAML list or a delimited table with a
// header row. The format follows the extension: .yaml/.yml, .csv, anything
// else is tab separated.
func LoadSampleSheet(path string) ([]SampleConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: samples file %s", ErrNotFound, path)
		}
		return nil, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return parseYAMLSheet(f, path)
	case ".csv":
		return parseTableSheet(f, ',', path)
	case ".xls", ".xlsx":
		return nil, fmt.Errorf("%w: %s: spreadsheets are not supported, export as TSV or CSV", ErrInvalid, path)
	default:
		return parseTableSheet(f, '\t', path)
	}
}

func parseYAMLSheet(r io.Reader, path string) ([]SampleConfig, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var samples []SampleConfig
	if err := dec.Decode(&samples); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, path, err)
	}
	return samples, nil
}

func parseTableSheet(r io.Reader, sep rune, path string) ([]SampleConfig, error) {
	reader := csv.NewReader(r)
	reader.Comma = sep
	reader.Comment = '#'

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, path, err)
	}

	setters := make([]func(*SampleConfig, string), len(header))
	for i, col := range header {
		col = strings.TrimSpace(col)
		set, ok := sheetColumns[col]
		if !ok {
			return nil, fmt.Errorf("%w: %s: unknown column %q", ErrInvalid, path, col)
		}
		setters[i] = set
	}

	var samples []SampleConfig
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, path, err)
		}
		var s SampleConfig
		for i, v := range record {
			setters[i](&s, strings.TrimSpace(v))
		}
		samples = append(samples, s)
	}
	return samples, nil
}
