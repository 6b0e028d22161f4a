package reporting

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rollcall/api/schemas"
)

// Reporter collects run outcomes and writes them out when closed.
type Reporter interface {
	RecordOutcome(ctx context.Context, outcome schemas.SessionOutcome) error
	RecordSummary(ctx context.Context, summary schemas.Summary) error
	// Close finalizes the report and closes any underlying resources (e.g., file handles).
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a JSON reporter writing to outputPath. "stdout" or "-" write to standard output.
func New(outputPath string, logger *zap.Logger) (Reporter, error) {
	var writer io.WriteCloser
	switch outputPath {
	case "":
		return nil, fmt.Errorf("report path must not be empty")
	case "stdout", "-":
		// Wrap Stdout so Close() is a no-op.
		writer = &nopWriteCloser{os.Stdout}
	default:
		path, err := homedir.Expand(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to expand report path %s: %w", outputPath, err)
		}
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", path, err)
		}
		writer = f
	}
	return NewJSONReporter(writer, logger), nil
}
