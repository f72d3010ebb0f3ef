package taskstore

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ExportFormat selects the table encoding.
type ExportFormat string

const (
	ExportCSV  ExportFormat = "csv"
	ExportJSON ExportFormat = "json"
	ExportYAML ExportFormat = "yaml"
)

// ExportFormats lists the supported formats.
var ExportFormats = []string{string(ExportCSV), string(ExportJSON), string(ExportYAML)}

// Row is the persisted task table projection.
type Row struct {
	ID           string `json:"id" yaml:"id"`
	DisplayName  string `json:"displayName" yaml:"displayName"`
	Status       Status `json:"status" yaml:"status"`
	ArtifactPath string `json:"artifactPath" yaml:"artifactPath"`
	ErrorDetail  string `json:"errorDetail" yaml:"errorDetail"`
	LastUpdated  string `json:"lastUpdated" yaml:"lastUpdated"`
}

var csvHeader = []string{"id", "displayName", "status", "artifactPath", "errorDetail", "lastUpdated"}

// RowOf projects t onto the table columns.
func RowOf(t Task) Row {
	return Row{
		ID:           t.ID,
		DisplayName:  t.DisplayName,
		Status:       t.Status,
		ArtifactPath: t.ArtifactPath,
		ErrorDetail:  t.ErrorDetail,
		LastUpdated:  t.LastUpdated.Format(time.RFC3339Nano),
	}
}

// ParseExportFormat validates a format string.
func ParseExportFormat(value string) (ExportFormat, error) {
	switch f := ExportFormat(strings.ToLower(strings.TrimSpace(value))); f {
	case ExportCSV, ExportJSON, ExportYAML:
		return f, nil
	default:
		return "", fmt.Errorf("invalid export format %q (allowed: %s)", value, strings.Join(ExportFormats, ", "))
	}
}

// Export writes tasks as a table in the requested format.
func Export(w io.Writer, tasks []Task, format ExportFormat) error {
	rows := make([]Row, 0, len(tasks))
	for _, t := range tasks {
		rows = append(rows, RowOf(t))
	}

	switch format {
	case ExportCSV:
		cw := csv.NewWriter(w)
		if err := cw.Write(csvHeader); err != nil {
			return err
		}
		for _, r := range rows {
			record := []string{r.ID, r.DisplayName, string(r.Status), r.ArtifactPath, r.ErrorDetail, r.LastUpdated}
			if err := cw.Write(record); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	case ExportJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	case ExportYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rows); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("invalid export format %q", format)
	}
}
