package experiment

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrPersistence matches every *PersistenceError.
var ErrPersistence = errors.New("persistence failed")

// Snapshot is everything exported for one session.
type Snapshot struct {
	SessionID string
	// Sequence counts the exports of the session, starting at 1. A session
	// is exported again after a dev jump or reassign brings it back to end.
	Sequence    int
	Group       Group
	Variation   Variation
	CreatedAt   time.Time
	CompletedAt time.Time
	Responses   []ResponseRecord
	Events      []EventLogRecord
}

// Handles name the two exported tables.
type Handles struct {
	Results string `json:"results"`
	Log     string `json:"log"`
}

// ExportNames returns the timestamp-qualified names for a snapshot, e.g.
// results_20240501T101500Z_1a2b3c4d.csv. Repeated exports of the same
// session get a _<sequence> suffix.
func ExportNames(snap Snapshot) Handles {
	stamp := snap.CompletedAt.UTC().Format("20060102T150405Z")
	id := snap.SessionID
	if len(id) > 8 {
		id = id[:8]
	}
	if snap.Sequence > 1 {
		id = fmt.Sprintf("%s_%d", id, snap.Sequence)
	}
	return Handles{
		Results: fmt.Sprintf("results_%s_%s.csv", stamp, id),
		Log:     fmt.Sprintf("log_%s_%s.csv", stamp, id),
	}
}

// Sink persists a snapshot somewhere.
type Sink interface {
	Name() string
	Save(ctx context.Context, snap Snapshot) (Handles, error)
}

type PersistenceError struct {
	SessionID string
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("export session %s: %v", e.SessionID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// Exporter writes snapshots to every configured sink.
type Exporter struct {
	sinks []Sink
}

func NewExporter(sinks ...Sink) *Exporter {
	return &Exporter{sinks: sinks}
}

// Export saves snap to all sinks. The handles of the first sink that
// succeeds are returned; failures of the others are joined into a
// *PersistenceError.
func (e *Exporter) Export(ctx context.Context, snap Snapshot) (Handles, error) {
	var (
		handles Handles
		found   bool
		errs    []error
	)
	for _, sink := range e.sinks {
		h, err := sink.Save(ctx, snap)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
			continue
		}
		if !found {
			handles, found = h, true
		}
	}
	if len(errs) > 0 {
		return handles, &PersistenceError{SessionID: snap.SessionID, Err: errors.Join(errs...)}
	}
	return handles, nil
}
