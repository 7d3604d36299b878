// Package codec encodes and decodes ledger records in the shared CSV format.
//
// A partition file starts with HeaderV1 and holds one record per line.
// Fields are comma separated; a field containing a comma, double quote or
// line break is wrapped in double quotes with inner quotes doubled.
//
// Decoding is tolerant at the row level: a malformed row is reported as a
// *RowError and skipped, the rest of the file still decodes.
package codec

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pocketledger/ledgersync/internal/ledger/schema"
	"github.com/shopspring/decimal"
)

// Columns lists the v1 columns in file order.
var Columns = []string{
	"id",
	"date",
	"amount",
	"type",
	"category",
	"payer",
	"participants",
	"note",
	"merchant",
	"source",
	"created_at",
	"modified_at",
	"currency",
}

// HeaderV1 is the exact first line of a native partition file.
var HeaderV1 = strings.Join(Columns, ",")

var (
	// ErrNotNativeFormat is returned when a file's first non-empty line is
	// not a known header. Such files belong to the external importer.
	ErrNotNativeFormat = errors.New("not a native ledger file")

	// ErrColumnCount is returned for rows with the wrong number of fields.
	ErrColumnCount = errors.New("wrong column count")

	// ErrInvalidDate is returned for rows whose date is not YYYY-MM-DD.
	ErrInvalidDate = errors.New("invalid date")

	// ErrInvalidAmount is returned for rows whose amount is not a decimal.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrLineTooLong is returned for rows longer than MaxLineLength.
	ErrLineTooLong = errors.New("line too long")
)

// Schema describes a recognised header.
type Schema struct {
	Version int
	Columns []string
}

// DecodeHeader recognises a header line. ok is false for anything that is not
// exactly a known header.
func DecodeHeader(line string) (Schema, bool) {
	line = strings.TrimSuffix(line, "\r")
	if line == HeaderV1 {
		return Schema{Version: 1, Columns: Columns}, true
	}
	return Schema{}, false
}

// EncodeRecord renders r as a single line without a trailing newline.
func EncodeRecord(r schema.Record) string {
	fields := []string{
		r.ID,
		r.Date,
		r.Amount,
		r.Type,
		r.Category,
		r.Payer,
		r.Participants,
		r.Note,
		r.Merchant,
		r.Source,
		r.CreatedAt,
		r.ModifiedAt,
		r.Currency,
	}

	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(quoteField(f))
	}
	return b.String()
}

// DecodeRecord parses one line. The date and amount are validated; other
// fields are taken verbatim.
func DecodeRecord(line string) (schema.Record, error) {
	fields := SplitFields(strings.TrimSuffix(line, "\r"))
	if len(fields) != len(Columns) {
		return schema.Record{}, fmt.Errorf("%w: got %d, want %d", ErrColumnCount, len(fields), len(Columns))
	}

	r := schema.Record{
		ID:           fields[0],
		Date:         fields[1],
		Amount:       fields[2],
		Type:         fields[3],
		Category:     fields[4],
		Payer:        fields[5],
		Participants: fields[6],
		Note:         fields[7],
		Merchant:     fields[8],
		Source:       fields[9],
		CreatedAt:    fields[10],
		ModifiedAt:   fields[11],
		Currency:     fields[12],
	}

	if _, err := time.Parse(schema.DateLayout, r.Date); err != nil {
		return schema.Record{}, fmt.Errorf("%w %q", ErrInvalidDate, r.Date)
	}
	if _, err := decimal.NewFromString(r.Amount); err != nil {
		return schema.Record{}, fmt.Errorf("%w %q", ErrInvalidAmount, r.Amount)
	}

	return r, nil
}

// SplitFields splits a line on commas outside double quotes.
//
// Each double quote toggles the in-quote state; a doubled quote inside a
// quoted field yields one literal quote. Leading, trailing and empty fields
// are preserved and nothing is trimmed.
func SplitFields(line string) []string {
	var (
		fields  []string
		current strings.Builder
		quoted  bool
	)

	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '"':
			if quoted && i+1 < len(line) && line[i+1] == '"' {
				current.WriteByte('"')
				i++
				continue
			}
			quoted = !quoted
		case c == ',' && !quoted:
			fields = append(fields, current.String())
			current.Reset()
		default:
			current.WriteByte(c)
		}
	}
	fields = append(fields, current.String())

	return fields
}

// quoteField wraps f in double quotes when it holds a separator, a quote or a
// line break.
func quoteField(f string) string {
	if !strings.ContainsAny(f, ",\"\r\n") {
		return f
	}
	return `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
}
