package credentials

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// Column aliases accepted in a batch header, compared case-insensitively.
var (
	identifierColumns = []string{"username", "user", "identifier", "login", "email", "nim", "nidn"}
	secretColumns     = []string{"password", "secret", "pass"}
	metadataColumns   = []string{"hari", "day", "metadata", "tag"}
)

// columns maps the fields of a credential to their index in a row; -1 means absent.
type columns struct {
	identifier, secret, metadata int
}

// positional is used when the first record is not a recognizable header.
var positional = columns{identifier: 0, secret: 1, metadata: 2}

// Loader reads credential tables from CSV or XLSX files.
type Loader struct {
	logger *zap.Logger
}

// NewLoader creates a loader that reports skipped rows to logger.
func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{logger: logger.Named("credentials")}
}

// Load reads the table at path. The format is chosen by extension: .xlsx is read as a workbook
// (first sheet), anything else as CSV.
func (l *Loader) Load(path string) ([]Credential, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand path %q: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(expanded)) {
	case ".xlsx", ".xlsm":
		return l.loadWorkbook(expanded)
	default:
		f, err := os.Open(expanded)
		if err != nil {
			return nil, fmt.Errorf("failed to open batch file: %w", err)
		}
		defer f.Close()
		return l.ReadCSV(f)
	}
}

// ReadCSV parses a CSV stream. Records that cannot be parsed are logged and skipped.
func (l *Loader) ReadCSV(r io.Reader) ([]Credential, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var (
		records [][]string
		lines   []int
	)
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			l.logger.Warn("Skipping malformed batch row.", zap.Int("line", parseErr.Line), zap.Error(parseErr.Err))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read batch file: %w", err)
		}
		line, _ := reader.FieldPos(0)
		records = append(records, rec)
		lines = append(lines, line)
	}
	return l.parse(records, lines), nil
}

func (l *Loader) loadWorkbook(path string) ([]Credential, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook %s has no sheets", path)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheets[0], err)
	}
	return l.ParseRecords(rows), nil
}

// ParseRecords turns raw table records into credentials. Entirely blank records are dropped. Records
// with a blank identifier or secret are kept so the caller can report them as skipped.
func (l *Loader) ParseRecords(records [][]string) []Credential {
	return l.parse(records, nil)
}

// parse is ParseRecords with optional source line numbers; without them a record's row is its
// 1-based position.
func (l *Loader) parse(records [][]string, lines []int) []Credential {
	cols := positional
	start := 0
	for i, rec := range records {
		if isBlank(rec) {
			continue
		}
		if hc, ok := headerColumns(rec); ok {
			cols = hc
			start = i + 1
		} else {
			start = i
		}
		break
	}

	var out []Credential
	for i := start; i < len(records); i++ {
		rec := records[i]
		if isBlank(rec) {
			continue
		}
		c := Credential{
			Identifier: cell(rec, cols.identifier),
			Secret:     NewSecret(cell(rec, cols.secret)),
			Metadata:   cell(rec, cols.metadata),
			Row:        rowNumber(i, lines),
		}
		if err := c.Validate(); err != nil {
			l.logger.Warn("Batch row has missing fields and will be skipped.", zap.Int("row", c.Row), zap.Error(err))
		}
		out = append(out, c)
	}
	return out
}

func rowNumber(i int, lines []int) int {
	if i < len(lines) {
		return lines[i]
	}
	return i + 1
}

func headerColumns(rec []string) (columns, bool) {
	cols := columns{identifier: -1, secret: -1, metadata: -1}
	for i, raw := range rec {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(raw, "\ufeff")))
		switch {
		case cols.identifier < 0 && contains(identifierColumns, name):
			cols.identifier = i
		case cols.secret < 0 && contains(secretColumns, name):
			cols.secret = i
		case cols.metadata < 0 && contains(metadataColumns, name):
			cols.metadata = i
		}
	}
	if cols.identifier < 0 || cols.secret < 0 {
		return positional, false
	}
	return cols, true
}

func cell(rec []string, idx int) string {
	if idx < 0 || idx >= len(rec) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(rec[idx], "\ufeff"))
}

func isBlank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
