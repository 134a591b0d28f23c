package statistics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Statistics contains all counters for a conversion and compression run.
type Statistics struct {
	RawFound     int64
	RawConverted int64
	RawFailed    int64

	PNGFound        int64
	PNGCompressed   int64
	TargetsMet      int64
	TargetsMissed   int64
	CompressFailed  int64
	AttemptsTotal   int64
	BytesBefore     int64
	BytesAfter      int64
	MetadataCopied  int64
	MetadataFailed  int64
	ObjectsUploaded int64
	ObjectsSkipped  int64

	StartTime      time.Time
	EndTime        time.Time
	Duration       time.Duration
	FilesPerSecond float64

	Errors []StatError

	mutex sync.RWMutex
}

// StatError represents an error that occurred during processing.
type StatError struct {
	FilePath  string
	Operation string
	Error     string
	Timestamp time.Time
}

// NewStatistics returns a new Statistics instance.
func NewStatistics() *Statistics {
	return &Statistics{
		StartTime: time.Now(),
		Errors:    make([]StatError, 0),
	}
}

// AddRawFound adds n discovered RAW files.
func (s *Statistics) AddRawFound(n int) {
	atomic.AddInt64(&s.RawFound, int64(n))
}

// AddPNGFound adds n PNGs queued for compression.
func (s *Statistics) AddPNGFound(n int) {
	atomic.AddInt64(&s.PNGFound, int64(n))
}

// RecordConversion counts one converted or failed RAW file.
func (s *Statistics) RecordConversion(path string, err error) {
	if err != nil {
		atomic.AddInt64(&s.RawFailed, 1)
		s.AddError(path, "convert", err.Error())
		return
	}
	atomic.AddInt64(&s.RawConverted, 1)
}

// RecordCompression counts one finished compression task. before is the
// source size, after the final artifact size.
func (s *Statistics) RecordCompression(path string, before, after int64, attempts int, metTarget bool, err error) {
	atomic.AddInt64(&s.AttemptsTotal, int64(attempts))
	if err != nil {
		atomic.AddInt64(&s.CompressFailed, 1)
		s.AddError(path, "compress", err.Error())
		return
	}
	atomic.AddInt64(&s.PNGCompressed, 1)
	atomic.AddInt64(&s.BytesBefore, before)
	atomic.AddInt64(&s.BytesAfter, after)
	if metTarget {
		atomic.AddInt64(&s.TargetsMet, 1)
	} else {
		atomic.AddInt64(&s.TargetsMissed, 1)
	}
}

// RecordMetadata counts one metadata copy onto an artifact.
func (s *Statistics) RecordMetadata(path string, err error) {
	if err != nil {
		atomic.AddInt64(&s.MetadataFailed, 1)
		s.AddError(path, "metadata", err.Error())
		return
	}
	atomic.AddInt64(&s.MetadataCopied, 1)
}

// RecordUpload counts one published or skipped object.
func (s *Statistics) RecordUpload(path string, skipped bool, err error) {
	switch {
	case err != nil:
		s.AddError(path, "publish", err.Error())
	case skipped:
		atomic.AddInt64(&s.ObjectsSkipped, 1)
	default:
		atomic.AddInt64(&s.ObjectsUploaded, 1)
	}
}

// Finalize calculates duration and throughput.
func (s *Statistics) Finalize() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)

	processed := atomic.LoadInt64(&s.RawConverted) + atomic.LoadInt64(&s.RawFailed) +
		atomic.LoadInt64(&s.PNGCompressed) + atomic.LoadInt64(&s.CompressFailed)
	if s.Duration.Seconds() > 0 {
		s.FilesPerSecond = float64(processed) / s.Duration.Seconds()
	}
}

// AddError records an error that occurred during processing.
func (s *Statistics) AddError(filePath, operation, errorMsg string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.Errors = append(s.Errors, StatError{
		FilePath:  filePath,
		Operation: operation,
		Error:     errorMsg,
		Timestamp: time.Now(),
	})
}

// Snapshot is a point-in-time copy of the counters, safe to serialise.
type Snapshot struct {
	RawFound        int64   `json:"raw_found"`
	RawConverted    int64   `json:"raw_converted"`
	RawFailed       int64   `json:"raw_failed"`
	PNGFound        int64   `json:"png_found"`
	PNGCompressed   int64   `json:"png_compressed"`
	TargetsMet      int64   `json:"targets_met"`
	TargetsMissed   int64   `json:"targets_missed"`
	CompressFailed  int64   `json:"compress_failed"`
	AttemptsTotal   int64   `json:"attempts_total"`
	BytesBefore     int64   `json:"bytes_before"`
	BytesAfter      int64   `json:"bytes_after"`
	MetadataCopied  int64   `json:"metadata_copied"`
	MetadataFailed  int64   `json:"metadata_failed"`
	ObjectsUploaded int64   `json:"objects_uploaded"`
	ObjectsSkipped  int64   `json:"objects_skipped"`
	Errors          int     `json:"errors"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Snapshot returns the current counters.
func (s *Statistics) Snapshot() Snapshot {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	duration := s.Duration
	if s.EndTime.IsZero() {
		duration = time.Since(s.StartTime)
	}
	return Snapshot{
		RawFound:        atomic.LoadInt64(&s.RawFound),
		RawConverted:    atomic.LoadInt64(&s.RawConverted),
		RawFailed:       atomic.LoadInt64(&s.RawFailed),
		PNGFound:        atomic.LoadInt64(&s.PNGFound),
		PNGCompressed:   atomic.LoadInt64(&s.PNGCompressed),
		TargetsMet:      atomic.LoadInt64(&s.TargetsMet),
		TargetsMissed:   atomic.LoadInt64(&s.TargetsMissed),
		CompressFailed:  atomic.LoadInt64(&s.CompressFailed),
		AttemptsTotal:   atomic.LoadInt64(&s.AttemptsTotal),
		BytesBefore:     atomic.LoadInt64(&s.BytesBefore),
		BytesAfter:      atomic.LoadInt64(&s.BytesAfter),
		MetadataCopied:  atomic.LoadInt64(&s.MetadataCopied),
		MetadataFailed:  atomic.LoadInt64(&s.MetadataFailed),
		ObjectsUploaded: atomic.LoadInt64(&s.ObjectsUploaded),
		ObjectsSkipped:  atomic.LoadInt64(&s.ObjectsSkipped),
		Errors:          len(s.Errors),
		DurationSeconds: duration.Seconds(),
	}
}

// GetSummary returns a formatted summary of all statistics.
func (s *Statistics) GetSummary() string {
	snap := s.Snapshot()

	saved := 0.0
	if snap.BytesBefore > 0 {
		saved = 100 * (1 - float64(snap.BytesAfter)/float64(snap.BytesBefore))
	}
	avgAttempts := 0.0
	if done := snap.PNGCompressed + snap.CompressFailed; done > 0 {
		avgAttempts = float64(snap.AttemptsTotal) / float64(done)
	}

	s.mutex.RLock()
	perSecond := s.FilesPerSecond
	s.mutex.RUnlock()

	return fmt.Sprintf(`rawpress Statistics Summary:

Conversion:
		RAW Found: %d
		Converted: %d
		Failed: %d

Compression:
		PNGs Found: %d
		Compressed: %d
		Target Met: %d
		Target Missed: %d
		Failed: %d
		Attempts: %d (%.1f per image)

Size:
		Before: %s
		After: %s
		Saved: %.1f%%

Metadata:
		Copied: %d
		Failed: %d

Publish:
		Uploaded: %d
		Unchanged: %d

Performance:
		Duration: %v
		Files/Second: %.2f`,
		snap.RawFound,
		snap.RawConverted,
		snap.RawFailed,
		snap.PNGFound,
		snap.PNGCompressed,
		snap.TargetsMet,
		snap.TargetsMissed,
		snap.CompressFailed,
		snap.AttemptsTotal, avgAttempts,
		FormatBytes(snap.BytesBefore),
		FormatBytes(snap.BytesAfter),
		saved,
		snap.MetadataCopied,
		snap.MetadataFailed,
		snap.ObjectsUploaded,
		snap.ObjectsSkipped,
		time.Duration(snap.DurationSeconds*float64(time.Second)).Round(time.Millisecond),
		perSecond)
}

// GetErrorSummary returns a summary of errors that occurred during processing.
func (s *Statistics) GetErrorSummary() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.Errors) == 0 {
		return "No errors occurred during processing"
	}

	result := fmt.Sprintf("Errors (%d total):\n", len(s.Errors))
	for i, err := range s.Errors {
		if i >= 10 {
			result += fmt.Sprintf("  ... and %d more errors\n", len(s.Errors)-10)
			break
		}
		result += fmt.Sprintf("  [%s] %s: %s - %s\n",
			err.Timestamp.Format("15:04:05"),
			err.Operation,
			err.FilePath,
			err.Error)
	}
	return result
}

// FormatBytes returns a human-readable string for a byte count.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
