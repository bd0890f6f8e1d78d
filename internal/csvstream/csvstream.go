// Package csvstream turns frames into the CSV payloads fed to COPY.
//
// encoding/csv cannot tell NULL from the empty string, which Postgres CSV
// COPY distinguishes (unquoted empty = NULL, "" = empty text), so fields are
// written here directly.
package csvstream

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"bulkload/internal/frame"
)

// Options controls encoding.
type Options struct {
	// Header writes the column names as the first line.
	Header bool
	// Comma is the field delimiter; zero means ','.
	Comma rune
}

func (o Options) comma() rune {
	if o.Comma == 0 {
		return ','
	}
	return o.Comma
}

// Encode writes f as CSV to w.
func Encode(w io.Writer, f *frame.Frame, opts Options) error {
	bw := bufio.NewWriterSize(w, 64<<10)
	comma := opts.comma()

	if opts.Header {
		for i, c := range f.Columns {
			if i > 0 {
				bw.WriteRune(comma)
			}
			writeQuotedIfNeeded(bw, c, comma, false)
		}
		bw.WriteByte('\n')
	}

	for n, row := range f.Rows {
		if len(row) != len(f.Columns) {
			return fmt.Errorf("csvstream: row %d has %d values, want %d", n, len(row), len(f.Columns))
		}
		for i, v := range row {
			if i > 0 {
				bw.WriteRune(comma)
			}
			if err := writeValue(bw, v, comma); err != nil {
				return fmt.Errorf("csvstream: row %d column %s: %w", n, f.Columns[i], err)
			}
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// NewReader encodes f into memory and returns a reader positioned at the
// start of the payload together with its size in bytes.
func NewReader(f *frame.Frame, opts Options) (io.Reader, int, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, f, opts); err != nil {
		return nil, 0, err
	}
	return bytes.NewReader(buf.Bytes()), buf.Len(), nil
}

func writeValue(w *bufio.Writer, v any, comma rune) error {
	s, null, err := Render(v)
	if err != nil {
		return err
	}
	if null {
		return nil
	}
	writeQuotedIfNeeded(w, s, comma, true)
	return nil
}

// Render converts a value to its CSV text. null reports a SQL NULL.
func Render(v any) (s string, null bool, err error) {
	switch t := v.(type) {
	case nil:
		return "", true, nil
	case string:
		return t, false, nil
	case []byte:
		return `\x` + hex.EncodeToString(t), false, nil
	case bool:
		return strconv.FormatBool(t), false, nil
	case int:
		return strconv.FormatInt(int64(t), 10), false, nil
	case int8:
		return strconv.FormatInt(int64(t), 10), false, nil
	case int16:
		return strconv.FormatInt(int64(t), 10), false, nil
	case int32:
		return strconv.FormatInt(int64(t), 10), false, nil
	case int64:
		return strconv.FormatInt(t, 10), false, nil
	case uint:
		return strconv.FormatUint(uint64(t), 10), false, nil
	case uint8:
		return strconv.FormatUint(uint64(t), 10), false, nil
	case uint16:
		return strconv.FormatUint(uint64(t), 10), false, nil
	case uint32:
		return strconv.FormatUint(uint64(t), 10), false, nil
	case uint64:
		return strconv.FormatUint(t, 10), false, nil
	case float32:
		return formatFloat(float64(t), 32)
	case float64:
		return formatFloat(t, 64)
	case time.Time:
		return t.Format(time.RFC3339Nano), false, nil
	case *time.Time:
		if t == nil {
			return "", true, nil
		}
		return t.Format(time.RFC3339Nano), false, nil
	case *string:
		if t == nil {
			return "", true, nil
		}
		return *t, false, nil
	case fmt.Stringer:
		return t.String(), false, nil
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return "", false, err
		}
		return string(b), false, nil
	default:
		return fmt.Sprint(t), false, nil
	}
}

func formatFloat(f float64, bits int) (string, bool, error) {
	switch {
	case math.IsNaN(f):
		return "", true, nil
	case math.IsInf(f, 1):
		return "Infinity", false, nil
	case math.IsInf(f, -1):
		return "-Infinity", false, nil
	}
	return strconv.FormatFloat(f, 'g', -1, bits), false, nil
}

// writeQuotedIfNeeded writes s, quoting it when it contains the delimiter,
// a quote, CR/LF, or leading/trailing space. forceEmpty quotes "" so it is
// not read back as NULL.
func writeQuotedIfNeeded(w *bufio.Writer, s string, comma rune, forceEmpty bool) {
	if !needsQuotes(s, comma, forceEmpty) {
		w.WriteString(s)
		return
	}
	w.WriteByte('"')
	for {
		i := strings.IndexByte(s, '"')
		if i < 0 {
			w.WriteString(s)
			break
		}
		w.WriteString(s[:i+1])
		w.WriteByte('"')
		s = s[i+1:]
	}
	w.WriteByte('"')
}

func needsQuotes(s string, comma rune, forceEmpty bool) bool {
	if s == "" {
		return forceEmpty
	}
	if s == `\.` {
		return true
	}
	if strings.ContainsRune(s, comma) || strings.ContainsAny(s, "\"\r\n") {
		return true
	}
	return s[0] == ' ' || s[0] == '\t' || s[len(s)-1] == ' ' || s[len(s)-1] == '\t'
}
