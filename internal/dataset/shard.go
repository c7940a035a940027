package dataset

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Manifest describes a sealed shard. It is written atomically next to the
// shard file, so a shard with a manifest present is complete and a shard
// without one is an unsealed leftover from a crashed session.
type Manifest struct {
	SchemaVersion   string    `json:"schema_version"`
	Shard           string    `json:"shard"`
	RecordCount     int       `json:"record_count"`
	TotalDurationMs int64     `json:"total_duration_ms"`
	Checksum        string    `json:"checksum"`
	CreatedAt       time.Time `json:"created_at"`
}

// WriterConfig controls shard rotation.
type WriterConfig struct {
	// Dir is the corpus directory. Created if missing.
	Dir string

	// Prefix names shard files: <prefix>-000001.jsonl.
	Prefix string

	// MaxRecords seals a shard after this many records. Zero disables the
	// record threshold.
	MaxRecords int

	// MaxDuration seals a shard once its accumulated audio reaches this
	// total. Zero disables the duration threshold.
	MaxDuration time.Duration
}

// Validate reports configuration errors.
func (c WriterConfig) Validate() error {
	var errs []error
	if c.Dir == "" {
		errs = append(errs, errors.New("dataset: Dir is required"))
	}
	if c.Prefix == "" {
		errs = append(errs, errors.New("dataset: Prefix is required"))
	}
	if c.MaxRecords < 0 {
		errs = append(errs, errors.New("dataset: MaxRecords must be >= 0"))
	}
	if c.MaxDuration < 0 {
		errs = append(errs, errors.New("dataset: MaxDuration must be >= 0"))
	}
	if c.MaxRecords == 0 && c.MaxDuration == 0 {
		errs = append(errs, errors.New("dataset: at least one rotation threshold is required"))
	}
	return errors.Join(errs...)
}

// Writer appends records to JSONL shards, rotating and sealing them as the
// configured thresholds are reached. Append-only: a sealed shard is never
// reopened.
//
// Writer is not safe for concurrent use; the dataset pipeline owns exactly
// one.
type Writer struct {
	cfg WriterConfig

	seq     int
	file    shardFile
	buf     *bufio.Writer
	count   int
	totalMs int64

	sealed []Manifest

	// openShard is replaced in tests to inject write failures.
	openShard func(path string) (shardFile, error)
}

// shardFile is the slice of *os.File the Writer needs.
type shardFile interface {
	io.Writer
	Name() string
	Sync() error
	Close() error
}

func openShardFile(path string) (shardFile, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
}

// NewWriter creates the corpus directory if needed and returns a Writer
// ready to append. The first shard file is created lazily on first Append.
func NewWriter(cfg WriterConfig) (*Writer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("dataset: create corpus dir: %w", err)
	}
	return &Writer{cfg: cfg, openShard: openShardFile}, nil
}

// Append validates the record's alignment and writes it as one JSONL line.
// A record that fails validation is rejected before any bytes reach the
// shard, so a shard never contains a misaligned record. When a threshold is
// reached the current shard is sealed and the next Append opens a new one.
//
// A write failure abandons the current shard: the file is closed and renamed
// with a .corrupt suffix, no manifest is written for it, and the next Append
// starts a fresh shard. Records already in the abandoned shard are lost.
func (w *Writer) Append(rec *Record) error {
	if rec == nil {
		return errors.New("dataset: nil record")
	}
	if err := rec.CheckAlignment(); err != nil {
		return err
	}
	if w.file == nil {
		if err := w.open(); err != nil {
			return err
		}
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("dataset: marshal record %s: %w", rec.ID, err)
	}
	if _, err := w.buf.Write(line); err != nil {
		w.abandon()
		return fmt.Errorf("dataset: append record %s: %w", rec.ID, err)
	}
	if err := w.buf.WriteByte('\n'); err != nil {
		w.abandon()
		return fmt.Errorf("dataset: append record %s: %w", rec.ID, err)
	}
	w.count++
	w.totalMs += rec.DurationMs

	if w.full() {
		return w.seal()
	}
	return nil
}

func (w *Writer) full() bool {
	if w.cfg.MaxRecords > 0 && w.count >= w.cfg.MaxRecords {
		return true
	}
	if w.cfg.MaxDuration > 0 && time.Duration(w.totalMs)*time.Millisecond >= w.cfg.MaxDuration {
		return true
	}
	return false
}

func (w *Writer) open() error {
	w.seq++
	path := w.shardPath(w.seq)
	f, err := w.openShard(path)
	if err != nil {
		return fmt.Errorf("dataset: open shard: %w", err)
	}
	w.file = f
	w.buf = bufio.NewWriter(f)
	w.count = 0
	w.totalMs = 0
	return nil
}

func (w *Writer) shardPath(seq int) string {
	return filepath.Join(w.cfg.Dir, fmt.Sprintf("%s-%06d.jsonl", w.cfg.Prefix, seq))
}

// seal flushes and fsyncs the current shard, then writes its manifest via a
// temp file and an atomic rename. Once the manifest is visible the shard is
// immutable.
func (w *Writer) seal() error {
	if w.file == nil {
		return nil
	}
	if err := w.buf.Flush(); err != nil {
		w.abandon()
		return fmt.Errorf("dataset: flush shard: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		w.abandon()
		return fmt.Errorf("dataset: sync shard: %w", err)
	}
	path := w.file.Name()
	if err := w.file.Close(); err != nil {
		w.abandon()
		return fmt.Errorf("dataset: close shard: %w", err)
	}
	sum, err := fileChecksum(path)
	if err != nil {
		return err
	}
	m := Manifest{
		SchemaVersion:   SchemaVersion,
		Shard:           filepath.Base(path),
		RecordCount:     w.count,
		TotalDurationMs: w.totalMs,
		Checksum:        sum,
		CreatedAt:       time.Now().UTC(),
	}
	if err := writeManifest(ManifestPath(path), m); err != nil {
		return err
	}
	w.sealed = append(w.sealed, m)
	w.file = nil
	w.buf = nil
	w.count = 0
	w.totalMs = 0
	return nil
}

// abandon closes the current shard after a write failure and renames it with
// a .corrupt suffix so recovery tooling does not mistake it for an unsealed
// leftover. No manifest is written for it. Close and rename errors are
// ignored: the shard is already lost and the Writer must come back usable.
func (w *Writer) abandon() {
	if w.file == nil {
		return
	}
	path := w.file.Name()
	w.file.Close()
	os.Rename(path, path+".corrupt")
	w.file = nil
	w.buf = nil
	w.count = 0
	w.totalMs = 0
}

// Close seals the in-progress shard, if any. Sealed manifests written over
// the Writer's lifetime are returned for session reporting.
func (w *Writer) Close() ([]Manifest, error) {
	if err := w.seal(); err != nil {
		return w.sealed, err
	}
	return w.sealed, nil
}

// Sealed returns the manifests of shards sealed so far.
func (w *Writer) Sealed() []Manifest {
	out := make([]Manifest, len(w.sealed))
	copy(out, w.sealed)
	return out
}

// ManifestPath returns the manifest path for a shard file path.
func ManifestPath(shardPath string) string {
	base := shardPath[:len(shardPath)-len(filepath.Ext(shardPath))]
	return base + ".manifest.json"
}

func writeManifest(path string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("dataset: marshal manifest: %w", err)
	}
	data = append(data, '\n')
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("dataset: write manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("dataset: publish manifest: %w", err)
	}
	return nil
}

// ReadManifest parses a manifest file and rejects unknown schema versions.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("dataset: parse manifest: %w", err)
	}
	if m.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("dataset: unsupported schema version %q", m.SchemaVersion)
	}
	return &m, nil
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("dataset: checksum shard: %w", err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("dataset: checksum shard: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
