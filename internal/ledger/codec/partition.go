package codec

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/pocketledger/ledgersync/internal/ledger/schema"
)

// RowError describes a row that was skipped while decoding a partition.
type RowError struct {
	Line int // 1-based line number in the file
	Err  error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// Decoded is the result of decoding a whole partition file.
type Decoded struct {
	Schema  Schema
	Records []schema.Record
	Skipped []*RowError
}

// MaxLineLength bounds a single row. Longer rows are skipped.
const MaxLineLength = 1024 * 1024

// DecodePartition decodes a partition file.
//
// The first non-empty line must be a known header, otherwise
// ErrNotNativeFormat is returned. Blank lines are ignored. Rows that fail to
// decode, including rows longer than MaxLineLength, are collected in Skipped
// and do not fail the file.
func DecodePartition(data []byte) (*Decoded, error) {
	reader := bufio.NewReader(bytes.NewReader(data))

	var (
		out       Decoded
		lineNum   int
		sawHeader bool
	)

	for {
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to read partition: %w", err)
		}
		if line == "" && err != nil {
			break
		}
		lineNum++
		line = strings.TrimSuffix(line, "\n")

		switch {
		case line == "" || line == "\r":
		case len(line) > MaxLineLength:
			if !sawHeader {
				return nil, ErrNotNativeFormat
			}
			out.Skipped = append(out.Skipped, &RowError{
				Line: lineNum,
				Err:  fmt.Errorf("%w: %d bytes", ErrLineTooLong, len(line)),
			})
		case !sawHeader:
			s, ok := DecodeHeader(line)
			if !ok {
				return nil, ErrNotNativeFormat
			}
			out.Schema = s
			sawHeader = true
		default:
			if r, rowErr := DecodeRecord(line); rowErr != nil {
				out.Skipped = append(out.Skipped, &RowError{Line: lineNum, Err: rowErr})
			} else {
				out.Records = append(out.Records, r)
			}
		}

		if err != nil {
			break
		}
	}

	// An empty file has no header yet; treat it as an empty native partition
	// so a freshly created file does not get handed to the importer.
	if !sawHeader {
		out.Schema = Schema{Version: 1, Columns: Columns}
	}

	return &out, nil
}

// EncodePartition renders a full partition file: the header followed by one
// line per record, in the given order, each terminated by a newline.
func EncodePartition(records []schema.Record) []byte {
	var buf bytes.Buffer
	buf.WriteString(HeaderV1)
	buf.WriteByte('\n')
	for _, r := range records {
		buf.WriteString(EncodeRecord(r))
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// EncodeLine renders a single record line terminated by a newline, ready to
// be appended to an existing partition.
func EncodeLine(r schema.Record) []byte {
	return []byte(EncodeRecord(r) + "\n")
}
