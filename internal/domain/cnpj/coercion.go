package cnpj

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

const sourceDateLayout = "20060102"

// NormalizeDate turns an 8-digit YYYYMMDD value into YYYY-MM-DD. Anything
// else, including 00000000, becomes the empty string.
func NormalizeDate(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) != len(sourceDateLayout) {
		return ""
	}
	t, err := time.Parse(sourceDateLayout, raw)
	if err != nil {
		return ""
	}
	return t.Format(time.DateOnly)
}

// NormalizeDecimal converts a comma-decimal amount to a dot-decimal string
// with two places, rounding half away from zero. When a comma is present dots
// are thousands separators. Anything other than plain digits with an optional
// fraction yields "0.00".
func NormalizeDecimal(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, ",") {
		raw = strings.ReplaceAll(raw, ".", "")
		raw = strings.Replace(raw, ",", ".", 1)
	}
	if !isPlainDecimal(raw) {
		return "0.00"
	}
	value, ok := new(big.Rat).SetString(raw)
	if !ok {
		return "0.00"
	}
	return value.FloatString(2)
}

// isPlainDecimal accepts digits with at most one dot that has digits on both
// sides.
func isPlainDecimal(s string) bool {
	intPart, frac, hasDot := strings.Cut(s, ".")
	if intPart == "" || (hasDot && frac == "") {
		return false
	}
	for _, part := range []string{intPart, frac} {
		for i := 0; i < len(part); i++ {
			if part[i] < '0' || part[i] > '9' {
				return false
			}
		}
	}
	return true
}

// CleanValue removes NUL bytes, which PostgreSQL text columns reject.
func CleanValue(raw string) string {
	if strings.IndexByte(raw, 0) < 0 {
		return raw
	}
	return strings.ReplaceAll(raw, "\x00", "")
}

// CoerceRow applies the per-column coercions of a table to one CSV record.
// The record is modified in place.
func CoerceRow(table Table, record []string) ([]string, error) {
	if len(record) != len(table.Columns) {
		return nil, fmt.Errorf("%w: %s expects %d fields, got %d", ErrMalformedRow, table.Name, len(table.Columns), len(record))
	}
	for i, col := range table.Columns {
		value := CleanValue(record[i])
		switch col.Kind {
		case KindDate:
			value = NormalizeDate(value)
		case KindDecimal:
			value = NormalizeDecimal(value)
		}
		record[i] = value
	}
	return record, nil
}
