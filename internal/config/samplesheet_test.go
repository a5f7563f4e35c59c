package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeSheet(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadSampleSheet(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name:    "tsv",
			file:    "samples.tsv",
			content: "sample_name\tgroup_name\tinput_1\n# comment\nS1\tctrl\t\nS2\ttreated\traw/S2.fq.gz\n",
		},
		{
			name:    "csv",
			file:    "samples.csv",
			content: "sample_name,group_name,input_1\nS1,ctrl,\nS2,treated,raw/S2.fq.gz\n",
		},
		{
			name:    "txt defaults to tab",
			file:    "samples.txt",
			content: "sample_name\tgroup_name\tinput_1\nS1\tctrl\t\nS2\ttreated\traw/S2.fq.gz\n",
		},
		{
			name: "yaml",
			file: "samples.yaml",
			content: `- sample_name: S1
  group_name: ctrl
- sample_name: S2
  group_name: treated
  input_1: raw/S2.fq.gz
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			samples, err := LoadSampleSheet(writeSheet(t, tt.file, tt.content))
			if err != nil {
				t.Fatal(err)
			}
			if len(samples) != 2 {
				t.Fatalf("len = %d, want 2", len(samples))
			}
			if samples[0].SampleName != "S1" || samples[0].GroupName != "ctrl" {
				t.Errorf("samples[0] = %+v", samples[0])
			}
			if samples[0].Input1 != "" {
				t.Errorf("empty cell should stay unset, got %q", samples[0].Input1)
			}
			if samples[1].Input1 != "raw/S2.fq.gz" {
				t.Errorf("samples[1].Input1 = %q", samples[1].Input1)
			}
		})
	}
}

func TestLoadSampleSheet_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		want    error
	}{
		{"unknown column", "s.tsv", "sample_name\tcolour\nS1\tred\n", ErrInvalid},
		{"unknown yaml key", "s.yml", "- sample_name: S1\n  colour: red\n", ErrInvalid},
		{"ragged row", "s.csv", "sample_name,group_name\nS1\n", ErrInvalid},
		{"spreadsheet", "s.xlsx", "binary", ErrInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadSampleSheet(writeSheet(t, tt.file, tt.content))
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := LoadSampleSheet(filepath.Join(t.TempDir(), "none.tsv")); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing file: error = %v, want ErrNotFound", err)
	}
}
