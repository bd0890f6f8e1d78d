// Package parquet registers the "parquet" archive kind. The archive path is a
// directory; every *.parquet file under it is one key, named by its slash path
// relative to the directory with the extension removed. Key attributes are
// stored as file key/value metadata holding JSON objects.
package parquet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/format"

	"bulkload/internal/archive"
	"bulkload/internal/archive/sqlarchive"
	"bulkload/internal/frame"
)

const ext = ".parquet"

// readBatch is the number of rows pulled from the reader per call.
const readBatch = 1024

func init() {
	archive.Register("parquet", Open)
}

// Archive is a directory of parquet files. Every call opens its own file
// handle, so one Archive is safe for concurrent use.
type Archive struct {
	root  string
	keys  []string
	files map[string]string
}

var _ archive.Archive = (*Archive)(nil)

// Open walks dir and indexes its parquet files.
func Open(_ context.Context, dir string) (archive.Archive, error) {
	st, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("parquet: %w", err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("parquet: %s is not a directory", dir)
	}

	a := &Archive{root: dir, files: map[string]string{}}
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(p), ext) {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		key := strings.TrimSuffix(filepath.ToSlash(rel), filepath.Ext(rel))
		a.files[key] = p
		a.keys = append(a.keys, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("parquet: walk %s: %w", dir, err)
	}
	sort.Strings(a.keys)
	return a, nil
}

// Keys implements archive.Archive.
func (a *Archive) Keys(context.Context) ([]string, error) {
	return append([]string(nil), a.keys...), nil
}

func (a *Archive) open(key string) (*os.File, *parquet.File, error) {
	p, ok := a.files[key]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", archive.ErrUnknownKey, key)
	}
	osf, err := os.Open(p)
	if err != nil {
		return nil, nil, fmt.Errorf("parquet: %w", err)
	}
	st, err := osf.Stat()
	if err != nil {
		osf.Close()
		return nil, nil, fmt.Errorf("parquet: %w", err)
	}
	pf, err := parquet.OpenFile(osf, st.Size())
	if err != nil {
		osf.Close()
		return nil, nil, fmt.Errorf("parquet: open %s: %w", key, err)
	}
	return osf, pf, nil
}

// NumRows implements archive.Archive.
func (a *Archive) NumRows(_ context.Context, key string) (int64, error) {
	osf, pf, err := a.open(key)
	if err != nil {
		return 0, err
	}
	defer osf.Close()
	return pf.NumRows(), nil
}

// Read implements archive.Archive.
func (a *Archive) Read(ctx context.Context, key string) (*frame.Frame, error) {
	return a.read(ctx, key, 0, -1)
}

// ReadRange implements archive.Archive.
func (a *Archive) ReadRange(ctx context.Context, key string, start, stop int64) (*frame.Frame, error) {
	if err := archive.CheckRange(start, stop); err != nil {
		return nil, err
	}
	return a.read(ctx, key, start, stop)
}

// Attr implements archive.Archive.
func (a *Archive) Attr(_ context.Context, key, name string) (map[string]any, error) {
	osf, pf, err := a.open(key)
	if err != nil {
		return nil, err
	}
	defer osf.Close()

	raw, ok := pf.Lookup(name)
	if !ok {
		return nil, archive.ErrNoAttr
	}
	return sqlarchive.DecodeAttr(raw, true)
}

// Close implements archive.Archive.
func (a *Archive) Close() error { return nil }

// read loads rows [start, stop); stop < 0 means through the end.
func (a *Archive) read(ctx context.Context, key string, start, stop int64) (*frame.Frame, error) {
	osf, pf, err := a.open(key)
	if err != nil {
		return nil, err
	}
	defer osf.Close()

	sch := pf.Schema()
	cols := sch.Columns()
	names := make([]string, len(cols))
	decoders := make([]decoder, len(cols))
	for i, path := range cols {
		names[i] = strings.Join(path, ".")
		decoders[i] = decodeValue
		if leaf, ok := sch.Lookup(path...); ok {
			decoders[i] = decoderFor(leaf.Node.Type().LogicalType())
		}
	}
	f := frame.New(names)

	total := pf.NumRows()
	if stop < 0 || stop > total {
		stop = total
	}
	if start >= stop {
		return f, nil
	}

	r := parquet.NewReader(pf)
	defer r.Close()
	if err := r.SeekToRow(start); err != nil {
		return nil, fmt.Errorf("parquet: seek %s to %d: %w", key, start, err)
	}

	want := stop - start
	buf := make([]parquet.Row, readBatch)
	for want > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n := int64(len(buf))
		if n > want {
			n = want
		}
		got, err := r.ReadRows(buf[:n])
		for _, row := range buf[:got] {
			f.Rows = append(f.Rows, decodeRow(row, decoders))
		}
		want -= int64(got)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parquet: read %s: %w", key, err)
		}
		if got == 0 {
			break
		}
	}
	return f, nil
}

// decodeRow folds the leaf values of a row into one Go value per column.
// Repeated leaves become []any.
func decodeRow(row parquet.Row, decoders []decoder) []any {
	width := len(decoders)
	out := make([]any, width)
	seen := make([]int, width)
	for _, v := range row {
		c := v.Column()
		if c < 0 || c >= width {
			continue
		}
		gv := decoders[c](v)
		switch seen[c] {
		case 0:
			out[c] = gv
		case 1:
			out[c] = []any{out[c], gv}
		default:
			out[c] = append(out[c].([]any), gv)
		}
		seen[c]++
	}
	return out
}

type decoder func(parquet.Value) any

// decoderFor returns the decoder for a column's logical type. Timestamps
// become time.Time; dates, times, decimals and UUIDs become the text Postgres
// accepts for them.
func decoderFor(lt *format.LogicalType) decoder {
	switch {
	case lt == nil:
		return decodeValue
	case lt.Timestamp != nil:
		u := lt.Timestamp.Unit
		return nullable(func(v parquet.Value) any {
			switch n := v.Int64(); {
			case u.Nanos != nil:
				return time.Unix(0, n).UTC()
			case u.Micros != nil:
				return time.UnixMicro(n).UTC()
			default:
				return time.UnixMilli(n).UTC()
			}
		})
	case lt.Date != nil:
		return nullable(func(v parquet.Value) any {
			return time.Unix(int64(v.Int32())*86400, 0).UTC().Format(time.DateOnly)
		})
	case lt.Time != nil:
		unit := unitOf(lt.Time.Unit)
		return nullable(func(v parquet.Value) any {
			n := v.Int64()
			if v.Kind() == parquet.Int32 {
				n = int64(v.Int32())
			}
			return time.Unix(0, n*int64(unit)).UTC().Format("15:04:05.999999")
		})
	case lt.Decimal != nil:
		scale := lt.Decimal.Scale
		return nullable(func(v parquet.Value) any {
			var n *big.Int
			switch v.Kind() {
			case parquet.Int32:
				n = big.NewInt(int64(v.Int32()))
			case parquet.Int64:
				n = big.NewInt(v.Int64())
			default:
				n = signedBigEndian(v.ByteArray())
			}
			return archive.FormatDecimal(n, scale)
		})
	case lt.UUID != nil:
		return nullable(func(v parquet.Value) any {
			id, err := uuid.FromBytes(v.ByteArray())
			if err != nil {
				return decodeValue(v)
			}
			return id.String()
		})
	}
	return decodeValue
}

func nullable(fn decoder) decoder {
	return func(v parquet.Value) any {
		if v.IsNull() {
			return nil
		}
		return fn(v)
	}
}

func unitOf(u format.TimeUnit) time.Duration {
	switch {
	case u.Nanos != nil:
		return time.Nanosecond
	case u.Micros != nil:
		return time.Microsecond
	default:
		return time.Millisecond
	}
}

// signedBigEndian decodes a two's complement big-endian integer.
func signedBigEndian(b []byte) *big.Int {
	n := new(big.Int).SetBytes(b)
	if len(b) > 0 && b[0]&0x80 != 0 {
		n.Sub(n, new(big.Int).Lsh(big.NewInt(1), uint(len(b))*8))
	}
	return n
}

func decodeValue(v parquet.Value) any {
	if v.IsNull() {
		return nil
	}
	switch v.Kind() {
	case parquet.Boolean:
		return v.Boolean()
	case parquet.Int32:
		return int64(v.Int32())
	case parquet.Int64:
		return v.Int64()
	case parquet.Float:
		return float64(v.Float())
	case parquet.Double:
		return v.Double()
	case parquet.ByteArray, parquet.FixedLenByteArray:
		b := v.ByteArray()
		if utf8.Valid(b) {
			return string(b)
		}
		return append([]byte(nil), b...)
	default:
		return v.String()
	}
}
