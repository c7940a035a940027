package dataset

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Severity classifies validation findings. Error findings make a record
// ineligible for training and removable by Repair; warnings flag records
// worth a human look but keep them in the shard.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Finding is one validation issue, tied to a record line when record-scoped
// or to the shard as a whole when Line is zero.
type Finding struct {
	// Line is the 1-based JSONL line number, or 0 for shard-level findings.
	Line int

	// RecordID is the offending record's ID, when parseable.
	RecordID string

	Severity Severity
	Code     string
	Message  string
}

func (f Finding) String() string {
	if f.Line == 0 {
		return fmt.Sprintf("[%s] %s: %s", f.Severity, f.Code, f.Message)
	}
	return fmt.Sprintf("[%s] line %d (%s) %s: %s", f.Severity, f.Line, f.RecordID, f.Code, f.Message)
}

// Finding codes.
const (
	CodeUnparseable    = "unparseable"
	CodeMisaligned     = "misaligned"
	CodeEmptyText      = "empty_text"
	CodeDurationBounds = "duration_bounds"
	CodeTimingGap      = "timing_gap"
	CodeImplausible    = "implausible_rate"
	CodeCountMismatch  = "manifest_count"
	CodeDurationDrift  = "manifest_duration"
	CodeChecksum       = "manifest_checksum"
	CodeNoManifest     = "manifest_missing"
)

// ValidatorConfig bounds the per-record checks. Duration bounds and timing
// gaps are errors (the record is malformed); transcripts outside the
// chars-per-second band are flagged as warnings: likely garbage from the
// transcription adapter, but not provably broken.
type ValidatorConfig struct {
	// MinDuration and MaxDuration bound each record's audio duration. A zero
	// MaxDuration disables the upper check.
	MinDuration time.Duration
	MaxDuration time.Duration

	// GapTolerance is the largest stretch of audio the transcript's token
	// timings may leave uncovered. Zero disables the check. Records without
	// timings are never flagged: not every transcription backend reports them.
	GapTolerance time.Duration

	MinCharsPerSecond float64
	MaxCharsPerSecond float64
}

// DefaultValidatorConfig covers normal speech with generous margins.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MinDuration:       100 * time.Millisecond,
		MaxDuration:       60 * time.Second,
		GapTolerance:      time.Second,
		MinCharsPerSecond: 0.5,
		MaxCharsPerSecond: 40,
	}
}

// Validator checks shard files against the record invariants and their
// manifests. It never modifies a shard; Repair writes a new file.
type Validator struct {
	cfg ValidatorConfig
}

// NewValidator returns a Validator with the given plausibility bounds.
func NewValidator(cfg ValidatorConfig) *Validator {
	return &Validator{cfg: cfg}
}

// Validate scans a shard and returns all findings. A nil finding slice means
// the shard is clean. Reading errors on the file itself are returned as
// errors, not findings.
func (v *Validator) Validate(shardPath string) ([]Finding, error) {
	records, findings, err := v.scan(shardPath)
	if err != nil {
		return nil, err
	}
	findings = append(findings, v.checkManifest(shardPath, records)...)
	return findings, nil
}

type scannedRecord struct {
	line int
	rec  *Record
	raw  []byte
	bad  bool
}

func (v *Validator) scan(shardPath string) ([]scannedRecord, []Finding, error) {
	f, err := os.Open(shardPath)
	if err != nil {
		return nil, nil, fmt.Errorf("dataset: open shard: %w", err)
	}
	defer f.Close()

	var (
		records  []scannedRecord
		findings []Finding
	)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := append([]byte(nil), sc.Bytes()...)
		if len(strings.TrimSpace(string(raw))) == 0 {
			continue
		}
		sr := scannedRecord{line: line, raw: raw}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			sr.bad = true
			findings = append(findings, Finding{
				Line: line, Severity: SeverityError, Code: CodeUnparseable,
				Message: err.Error(),
			})
			records = append(records, sr)
			continue
		}
		sr.rec = &rec
		recFindings := v.checkRecord(line, &rec)
		for _, rf := range recFindings {
			if rf.Severity == SeverityError {
				sr.bad = true
			}
		}
		findings = append(findings, recFindings...)
		records = append(records, sr)
	}
	if err := sc.Err(); err != nil {
		return nil, nil, fmt.Errorf("dataset: scan shard: %w", err)
	}
	return records, findings, nil
}

func (v *Validator) checkRecord(line int, rec *Record) []Finding {
	var findings []Finding
	if err := rec.CheckAlignment(); err != nil {
		findings = append(findings, Finding{
			Line: line, RecordID: rec.ID, Severity: SeverityError,
			Code: CodeMisaligned, Message: err.Error(),
		})
		return findings
	}
	if strings.TrimSpace(rec.Text) == "" {
		findings = append(findings, Finding{
			Line: line, RecordID: rec.ID, Severity: SeverityError,
			Code: CodeEmptyText, Message: "record has no transcript text",
		})
		return findings
	}
	if d := rec.Duration(); d < v.cfg.MinDuration || (v.cfg.MaxDuration > 0 && d > v.cfg.MaxDuration) {
		findings = append(findings, Finding{
			Line: line, RecordID: rec.ID, Severity: SeverityError,
			Code: CodeDurationBounds,
			Message: fmt.Sprintf("duration %v outside [%v, %v]",
				d, v.cfg.MinDuration, v.cfg.MaxDuration),
		})
	}
	if gf := v.checkTimingCoverage(line, rec); gf != nil {
		findings = append(findings, *gf)
	}
	if rec.DurationMs > 0 {
		cps := float64(len([]rune(rec.Text))) / (float64(rec.DurationMs) / 1000)
		if cps < v.cfg.MinCharsPerSecond || cps > v.cfg.MaxCharsPerSecond {
			findings = append(findings, Finding{
				Line: line, RecordID: rec.ID, Severity: SeverityWarning,
				Code: CodeImplausible,
				Message: fmt.Sprintf("%.1f chars/s outside [%.1f, %.1f]",
					cps, v.cfg.MinCharsPerSecond, v.cfg.MaxCharsPerSecond),
			})
		}
	}
	return findings
}

// checkTimingCoverage walks the token timings and reports the first stretch
// of audio they leave uncovered beyond the tolerance: before the first token,
// between tokens, or after the last one.
func (v *Validator) checkTimingCoverage(line int, rec *Record) *Finding {
	if v.cfg.GapTolerance <= 0 || len(rec.Tokens) == 0 {
		return nil
	}
	tolMs := v.cfg.GapTolerance.Milliseconds()
	gap := func(fromMs, toMs int64) *Finding {
		return &Finding{
			Line: line, RecordID: rec.ID, Severity: SeverityError,
			Code: CodeTimingGap,
			Message: fmt.Sprintf("token timings leave %d ms–%d ms uncovered (tolerance %v)",
				fromMs, toMs, v.cfg.GapTolerance),
		}
	}
	var coveredMs int64
	for _, tok := range rec.Tokens {
		if tok.StartMs-coveredMs > tolMs {
			return gap(coveredMs, tok.StartMs)
		}
		if tok.EndMs > coveredMs {
			coveredMs = tok.EndMs
		}
	}
	if rec.DurationMs-coveredMs > tolMs {
		return gap(coveredMs, rec.DurationMs)
	}
	return nil
}

func (v *Validator) checkManifest(shardPath string, records []scannedRecord) []Finding {
	mPath := ManifestPath(shardPath)
	m, err := ReadManifest(mPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Finding{{Severity: SeverityWarning, Code: CodeNoManifest,
				Message: "shard is unsealed: no manifest present"}}
		}
		return []Finding{{Severity: SeverityError, Code: CodeNoManifest, Message: err.Error()}}
	}
	var findings []Finding
	if m.RecordCount != len(records) {
		findings = append(findings, Finding{
			Severity: SeverityError, Code: CodeCountMismatch,
			Message: fmt.Sprintf("manifest says %d records, shard has %d", m.RecordCount, len(records)),
		})
	}
	var totalMs int64
	for _, sr := range records {
		if sr.rec != nil {
			totalMs += sr.rec.DurationMs
		}
	}
	if m.TotalDurationMs != totalMs {
		findings = append(findings, Finding{
			Severity: SeverityError, Code: CodeDurationDrift,
			Message: fmt.Sprintf("manifest says %d ms total, shard sums to %d ms", m.TotalDurationMs, totalMs),
		})
	}
	sum, err := fileChecksum(shardPath)
	if err != nil {
		findings = append(findings, Finding{Severity: SeverityError, Code: CodeChecksum, Message: err.Error()})
	} else if sum != m.Checksum {
		findings = append(findings, Finding{
			Severity: SeverityError, Code: CodeChecksum,
			Message: "shard contents do not match manifest checksum",
		})
	}
	return findings
}

// Repair writes a new shard next to the original containing every record
// except those with error-severity findings, then seals it with a fresh
// manifest. The original shard is left untouched. It returns the repaired
// shard path and the number of records removed.
func (v *Validator) Repair(shardPath string) (string, int, error) {
	records, _, err := v.scan(shardPath)
	if err != nil {
		return "", 0, err
	}

	ext := filepath.Ext(shardPath)
	outPath := shardPath[:len(shardPath)-len(ext)] + ".repaired" + ext
	out, err := os.OpenFile(outPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return "", 0, fmt.Errorf("dataset: open repaired shard: %w", err)
	}
	buf := bufio.NewWriter(out)

	var (
		removed int
		kept    int
		totalMs int64
	)
	for _, sr := range records {
		if sr.bad {
			removed++
			continue
		}
		if _, err := buf.Write(sr.raw); err != nil {
			out.Close()
			return "", 0, fmt.Errorf("dataset: write repaired shard: %w", err)
		}
		if err := buf.WriteByte('\n'); err != nil {
			out.Close()
			return "", 0, fmt.Errorf("dataset: write repaired shard: %w", err)
		}
		kept++
		totalMs += sr.rec.DurationMs
	}
	if err := buf.Flush(); err != nil {
		out.Close()
		return "", 0, fmt.Errorf("dataset: flush repaired shard: %w", err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return "", 0, fmt.Errorf("dataset: sync repaired shard: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", 0, fmt.Errorf("dataset: close repaired shard: %w", err)
	}

	sum, err := fileChecksum(outPath)
	if err != nil {
		return "", 0, err
	}
	m := Manifest{
		SchemaVersion:   SchemaVersion,
		Shard:           filepath.Base(outPath),
		RecordCount:     kept,
		TotalDurationMs: totalMs,
		Checksum:        sum,
		CreatedAt:       time.Now().UTC(),
	}
	if err := writeManifest(ManifestPath(outPath), m); err != nil {
		return "", 0, err
	}
	return outPath, removed, nil
}
