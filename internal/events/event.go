// Package events defines the typed event stream emitted by the crawl core.
// The core publishes onto a Hub; log, progress, and metrics sinks subscribe
// independently so the core stays decoupled from any delivery mechanism.
package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Level mirrors log severities carried on crawl events.
type Level string

// Supported event levels.
const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARNING"
	LevelError Level = "ERROR"
)

// Stage denotes which crawl milestone an Event represents.
type Stage string

// Supported crawl stages.
const (
	StageRunStart    Stage = "RUN_START"
	StageListPage    Stage = "LIST_PAGE"
	StageFilter      Stage = "FILTER"
	StageDetail      Stage = "DETAIL"
	StageRecordSaved Stage = "RECORD_SAVED"
	StageRecordSkip  Stage = "RECORD_SKIPPED"
	StageRunDone     Stage = "RUN_DONE"
	StageRunError    Stage = "RUN_ERROR"
	StageSession     Stage = "SESSION"
	// StageSessionAcquired marks the outcome of one browser acquisition:
	// LevelInfo on success, LevelError on failure.
	StageSessionAcquired Stage = "SESSION_ACQUIRED"
)

// Event captures one notable step of a crawl run. Percent is negative when
// the event carries no progress information.
type Event struct {
	RunID   uuid.UUID
	TS      time.Time
	Level   Level
	Stage   Stage
	ForumID string
	Message string
	Percent float64
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Level {
	case LevelInfo, LevelWarn, LevelError:
	default:
		return fmt.Errorf("unknown level %q", e.Level)
	}
	switch e.Stage {
	case StageRunStart, StageListPage, StageFilter, StageDetail,
		StageRecordSaved, StageRecordSkip, StageRunDone, StageRunError,
		StageSession, StageSessionAcquired:
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Percent > 100 {
		return errors.New("percent must be <= 100")
	}
	return nil
}

// HasProgress reports whether the event carries a progress fraction.
func (e Event) HasProgress() bool {
	return e.Percent >= 0
}
