package hooks

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"bulkload/internal/config"
	"bulkload/internal/frame"
)

// NewNormalizeText builds the normalize_text hook. Options:
//
//	form:        NFC (default), NFD, NFKC or NFKD
//	trim:        trim surrounding white space (default false)
//	strip_marks: drop combining marks, e.g. "Plzeň" -> "Plzen" (default false)
//	columns:     restrict to these columns (default: every string value)
func NewNormalizeText(opts config.Options) (Hook, error) {
	var form norm.Form
	switch strings.ToUpper(opts.String("form", "NFC")) {
	case "NFC":
		form = norm.NFC
	case "NFD":
		form = norm.NFD
	case "NFKC":
		form = norm.NFKC
	case "NFKD":
		form = norm.NFKD
	default:
		return nil, fmt.Errorf("unknown normalization form %q", opts.String("form", ""))
	}
	trim := opts.Bool("trim", false)
	strip := opts.Bool("strip_marks", false)

	var only map[string]bool
	if cols := opts.StringSlice("columns"); len(cols) > 0 {
		only = make(map[string]bool, len(cols))
		for _, c := range cols {
			only[c] = true
		}
	}

	newT := func() transform.Transformer {
		if strip {
			return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), form)
		}
		return form
	}

	return func(_ context.Context, f *frame.Frame, _ *Context, _ config.Options) (*frame.Frame, error) {
		t := newT()
		for ci, name := range f.Columns {
			if only != nil && !only[name] {
				continue
			}
			for _, row := range f.Rows {
				s, ok := row[ci].(string)
				if !ok {
					continue
				}
				out, _, err := transform.String(t, s)
				if err != nil {
					return nil, fmt.Errorf("column %s: %w", name, err)
				}
				if trim {
					out = strings.TrimSpace(out)
				}
				row[ci] = out
			}
		}
		return f, nil
	}, nil
}
