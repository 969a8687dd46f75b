package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/fraudsight/fraudsight/internal/transaction"
)

// labelColumn is the training-set ground-truth column. It is tolerated as a
// trailing CSV column and dropped: the stream scores transactions, it does
// not replay labels.
const labelColumn = "Class"

// LoadCSV reads a transaction dataset from a headered CSV file. The header
// must carry the canonical 30 columns in canonical order, optionally
// followed by the label column. Empty cells and "NaN" become the null
// marker.
func LoadCSV(path string) ([]transaction.Transaction, error) {
	f, err := os.Open(path) // #nosec G304 -- path from operator config, not user input
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.ReuseRecord = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read dataset header: %w", err)
	}
	if err := checkHeader(header); err != nil {
		return nil, err
	}

	var rows []transaction.Transaction
	line := 1
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("dataset line %d: %w", line, err)
		}

		var tx transaction.Transaction
		for i := 0; i < transaction.FieldCount; i++ {
			tx[i], err = parseCell(record[i])
			if err != nil {
				return nil, fmt.Errorf("dataset line %d column %s: %w", line, transaction.Columns[i], err)
			}
		}
		rows = append(rows, tx)
	}

	if len(rows) == 0 {
		return nil, ErrEmpty
	}
	return rows, nil
}

func checkHeader(header []string) error {
	want := transaction.FieldCount
	switch len(header) {
	case want:
	case want + 1:
		if !strings.EqualFold(strings.TrimSpace(header[want]), labelColumn) {
			return fmt.Errorf("dataset has %d columns but last is %q, not %q", len(header), header[want], labelColumn)
		}
	default:
		return fmt.Errorf("dataset has %d columns, want %d (plus optional %s)", len(header), want, labelColumn)
	}

	for i := 0; i < want; i++ {
		if !strings.EqualFold(strings.TrimSpace(header[i]), transaction.Columns[i]) {
			return fmt.Errorf("dataset column %d is %q, want %q", i, header[i], transaction.Columns[i])
		}
	}
	return nil
}

func parseCell(cell string) (float64, error) {
	cell = strings.TrimSpace(cell)
	if cell == "" || strings.EqualFold(cell, "nan") || strings.EqualFold(cell, "null") {
		return math.NaN(), nil
	}
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", cell, err)
	}
	return v, nil
}
