// Package publish writes the forecast table to its consumers: the artifact
// file and the optional FTP and Kafka sinks.
package publish

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/lox/surfcast/internal/models"
)

// Header is the artifact's column order.
var Header = []string{"validdate", "model", "criterion", "mean", "std", "error"}

// TimeFormat is how valid dates appear in the artifact, in local time.
const TimeFormat = "2006-01-02 15:04:05"

// Sink receives every successfully persisted forecast table.
type Sink interface {
	Name() string
	Publish(ctx context.Context, records []models.ForecastRecord) error
}

// EncodeCSV writes records as the artifact table with valid dates in loc.
// Missing values are empty cells.
func EncodeCSV(w io.Writer, records []models.ForecastRecord, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, r := range records {
		if err := cw.Write([]string{
			r.ValidDate.In(loc).Format(TimeFormat),
			r.Model,
			r.Criterion,
			formatValue(r.Mean),
			formatValue(r.Std),
			formatValue(r.Error),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatValue(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// CSVWriter overwrites the artifact file. Readers see either the previous or
// the new file, never a partial one.
type CSVWriter struct {
	path string
	loc  *time.Location
}

func NewCSVWriter(path string, loc *time.Location) *CSVWriter {
	return &CSVWriter{path: path, loc: loc}
}

func (w *CSVWriter) Path() string { return w.path }

func (w *CSVWriter) Write(records []models.ForecastRecord) error {
	var buf bytes.Buffer
	if err := EncodeCSV(&buf, records, w.loc); err != nil {
		return fmt.Errorf("encode forecast: %w", err)
	}

	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(w.path)+".*")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp artifact: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod temp artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), w.path); err != nil {
		return fmt.Errorf("replace artifact: %w", err)
	}
	return nil
}
