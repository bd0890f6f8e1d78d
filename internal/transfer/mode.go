package transfer

import (
	"fmt"
	"strings"
)

// Mode is how a job moves rows from the archive to the destination.
type Mode int

const (
	// Direct reads each key whole and sends it as a single CSV payload.
	Direct Mode = iota
	// SubChunked reads each key whole and sends it in CSVChunkSize payloads.
	SubChunked
	// Streaming reads each key in SourceChunkSize windows and sends each
	// window in CSVChunkSize payloads.
	Streaming
)

func (m Mode) String() string {
	switch m {
	case Direct:
		return "direct"
	case SubChunked:
		return "subchunked"
	case Streaming:
		return "streaming"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode accepts the names printed by String, case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "direct":
		return Direct, nil
	case "subchunked":
		return SubChunked, nil
	case "streaming":
		return Streaming, nil
	}
	return 0, fmt.Errorf("transfer: unknown mode %q", s)
}

// SelectMode picks the mode for a table whose largest key has rows rows.
func SelectMode(rows, csvChunk, sourceChunk int64) Mode {
	switch {
	case sourceChunk > 0 && rows > sourceChunk:
		return Streaming
	case csvChunk <= 0 || rows <= csvChunk:
		return Direct
	default:
		return SubChunked
	}
}

// Window is the half-open row range [Start, Stop).
type Window struct {
	Start, Stop int64
}

// Len is Stop-Start.
func (w Window) Len() int64 { return w.Stop - w.Start }

// Windows splits total rows into ceil(total/size) consecutive windows; the
// last one is truncated. A non-positive size yields a single window.
func Windows(total, size int64) []Window {
	if total <= 0 {
		return nil
	}
	if size <= 0 || size >= total {
		return []Window{{0, total}}
	}
	out := make([]Window, 0, (total+size-1)/size)
	for start := int64(0); start < total; start += size {
		stop := start + size
		if stop > total {
			stop = total
		}
		out = append(out, Window{start, stop})
	}
	return out
}
