package reporting

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rollcall/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Report is the document written by JSONReporter.
type Report struct {
	GeneratedAt time.Time                `json:"generated_at"`
	Summary     *schemas.Summary         `json:"summary,omitempty"`
	Outcomes    []schemas.SessionOutcome `json:"outcomes"`
}

// JSONReporter buffers outcomes in memory and writes a single JSON document on Close.
// It is thread safe.
type JSONReporter struct {
	writer io.WriteCloser
	logger *zap.Logger

	// mu protects report and closed.
	mu     sync.Mutex
	report Report
	closed bool
}

// NewJSONReporter takes ownership of writer.
func NewJSONReporter(writer io.WriteCloser, logger *zap.Logger) *JSONReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JSONReporter{
		writer: writer,
		logger: logger.Named("reporting"),
		report: Report{Outcomes: []schemas.SessionOutcome{}},
	}
}

// RecordOutcome appends an outcome to the report.
func (r *JSONReporter) RecordOutcome(_ context.Context, outcome schemas.SessionOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("report already closed")
	}
	if outcome.Warnings != nil {
		outcome.Warnings = append([]string(nil), outcome.Warnings...)
	}
	r.report.Outcomes = append(r.report.Outcomes, outcome)
	return nil
}

// RecordSummary stores the run summary. A later summary replaces an earlier one.
func (r *JSONReporter) RecordSummary(_ context.Context, summary schemas.Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("report already closed")
	}
	r.report.Summary = &summary
	return nil
}

// Close writes the report, ordered by credential index, and closes the writer. Calling it twice is a no-op.
func (r *JSONReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	// Parallel workers finish out of order.
	sort.SliceStable(r.report.Outcomes, func(i, j int) bool {
		return r.report.Outcomes[i].Index < r.report.Outcomes[j].Index
	})
	r.report.GeneratedAt = time.Now().UTC()

	encoder := json.NewEncoder(r.writer)
	encoder.SetIndent("", "  ")
	encodeErr := encoder.Encode(r.report)
	// Always attempt to close the writer, regardless of encoding success.
	closeErr := r.writer.Close()

	if encodeErr != nil {
		r.logger.Error("Failed to encode run report.", zap.Error(encodeErr))
		return fmt.Errorf("failed to encode report: %w", encodeErr)
	}
	if closeErr != nil {
		r.logger.Error("Failed to close report writer.", zap.Error(closeErr))
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}

	r.logger.Info("Run report written.", zap.Int("outcomes", len(r.report.Outcomes)))
	return nil
}
