// Package eventsink persists EventRecords handed off by the Recorder once a
// clip stops. The Postgres-backed sink fails open to a local spool file when
// the database is unreachable.
package eventsink

import (
	"context"

	"github.com/edgevision/aibox/internal/model"
)

// EventSink is the persistence collaborator referenced by spec.md §4.8 and
// §6. InsertEvent must not block the Recorder goroutine for long; a caller
// that cannot make progress should spool and return true.
type EventSink interface {
	InsertEvent(ctx context.Context, rec model.EventRecord) bool
}
