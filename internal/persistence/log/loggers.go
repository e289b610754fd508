// Package log appends compressed JSONL audit trails next to a save: one
// stream for tick batches, one for offline grants. Entries are diagnostic;
// the snapshot store remains the source of truth.
package log

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// segmentWriter appends JSON lines to zstd-compressed daily segments
// (<prefix>-YYYY-MM-DD.jsonl.zst). Rotation happens lazily on write.
type segmentWriter struct {
	dir    string
	prefix string

	mu     sync.Mutex
	curDay string
	f      *os.File
	enc    *zstd.Encoder
	buf    *bufio.Writer
}

func newSegmentWriter(dir, prefix string) *segmentWriter {
	return &segmentWriter{dir: dir, prefix: prefix}
}

func (w *segmentWriter) write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	day := time.Now().UTC().Format("2006-01-02")
	if day != w.curDay {
		if err := w.rotateLocked(day); err != nil {
			return err
		}
	}
	if _, err := w.buf.Write(b); err != nil {
		return err
	}
	if err := w.buf.WriteByte('\n'); err != nil {
		return err
	}
	return w.buf.Flush()
}

func (w *segmentWriter) rotateLocked(day string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(w.dir, w.prefix+"-"+day+".jsonl.zst")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.buf = bufio.NewWriterSize(enc, 64*1024)
	w.curDay = day
	return nil
}

func (w *segmentWriter) close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *segmentWriter) closeLocked() error {
	if w.buf != nil {
		_ = w.buf.Flush()
		w.buf = nil
	}
	var err error
	if w.enc != nil {
		err = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	return err
}

// TickEntry is one record per processed tick batch.
type TickEntry struct {
	AtMs    int64              `json:"at_ms"`
	DeltaMs int64              `json:"delta_ms"`
	Rates   map[string]float64 `json:"rates,omitempty"`
}

// GrantEntry records an authoritative offline grant.
type GrantEntry struct {
	GrantID     string             `json:"grant_id"`
	SaveID      string             `json:"save_id"`
	AtMs        int64              `json:"at_ms"`
	ElapsedMs   int64              `json:"elapsed_ms"`
	EffectiveMs int64              `json:"effective_ms"`
	Efficiency  float64            `json:"efficiency"`
	Gained      map[string]float64 `json:"gained"`
}

type TickLogger struct{ w *segmentWriter }

func NewTickLogger(saveDir string) *TickLogger {
	return &TickLogger{w: newSegmentWriter(filepath.Join(saveDir, "ticks"), "ticks")}
}

func (l *TickLogger) WriteTick(v TickEntry) error { return l.w.write(v) }
func (l *TickLogger) Close() error                { return l.w.close() }

type GrantLogger struct{ w *segmentWriter }

func NewGrantLogger(saveDir string) *GrantLogger {
	return &GrantLogger{w: newSegmentWriter(filepath.Join(saveDir, "grants"), "grants")}
}

func (l *GrantLogger) WriteGrant(v GrantEntry) error { return l.w.write(v) }
func (l *GrantLogger) Close() error                  { return l.w.close() }
