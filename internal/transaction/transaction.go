// Package transaction defines the canonical credit-card transaction record.
//
// Every scoring path in the system (the websocket stream and the single-shot
// endpoint) speaks this exact 30-column schema. Column order is a contract
// with the frozen model artifacts: reordering silently corrupts predictions,
// so the order is enforced here, at the framing boundary, and nowhere else.
package transaction

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// FieldCount is the number of columns in the canonical schema.
const FieldCount = 30

// Columns is the canonical column order: one time offset, 28 anonymized
// principal components, one monetary amount. Matches the training data.
var Columns = [FieldCount]string{
	"Time",
	"V1", "V2", "V3", "V4", "V5", "V6", "V7", "V8", "V9", "V10",
	"V11", "V12", "V13", "V14", "V15", "V16", "V17", "V18", "V19", "V20",
	"V21", "V22", "V23", "V24", "V25", "V26", "V27", "V28",
	"Amount",
}

// ErrBadShape indicates a payload that does not match the canonical schema.
var ErrBadShape = errors.New("transaction must have exactly 30 values")

// Transaction is one fixed-schema record in canonical column order.
// A missing value is carried as NaN and serialized as JSON null.
type Transaction [FieldCount]float64

// FromSlice builds a Transaction from values in canonical order.
// The only accepted shape is exactly FieldCount numbers.
func FromSlice(values []float64) (Transaction, error) {
	var tx Transaction
	if len(values) != FieldCount {
		return tx, fmt.Errorf("%w, got %d", ErrBadShape, len(values))
	}
	copy(tx[:], values)
	return tx, nil
}

// Time returns the time-offset column.
func (tx Transaction) Time() float64 { return tx[0] }

// Amount returns the monetary amount column.
func (tx Transaction) Amount() float64 { return tx[FieldCount-1] }

// Values returns a copy of the record as a slice in canonical order.
func (tx Transaction) Values() []float64 {
	out := make([]float64, FieldCount)
	copy(out, tx[:])
	return out
}

// HasMissing reports whether any column carries the null marker.
func (tx Transaction) HasMissing() bool {
	for _, v := range tx {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}

// MarshalJSON emits a JSON object with keys in canonical column order.
// NaN becomes null; Go's encoding/json would otherwise reject it.
func (tx Transaction) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(FieldCount * 16)
	buf.WriteByte('{')
	for i, name := range Columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('"')
		buf.WriteString(name)
		buf.WriteString(`":`)
		v := tx[i]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			buf.WriteString("null")
		} else {
			buf.Write(strconv.AppendFloat(nil, v, 'g', -1, 64))
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
