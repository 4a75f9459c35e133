package eventsink

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/edgevision/aibox/internal/model"
)

func TestInsertEventSucceedsOnDBWrite(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO event_records").WillReturnResult(sqlmock.NewResult(1, 1))

	sink := NewWithDB(db, t.TempDir())
	ok := sink.InsertEvent(context.Background(), model.EventRecord{
		CameraID: "cam1", Type: "intrusion", Path: "/tmp/clip.mp4", TimestampUTC: time.Now(),
	})
	require.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertEventSpoolsOnDBFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO event_records").WillReturnError(errors.New("connection refused"))

	dir := t.TempDir()
	sink := NewWithDB(db, dir)
	ok := sink.InsertEvent(context.Background(), model.EventRecord{
		CameraID: "cam1", Type: "intrusion", Path: "/tmp/clip.mp4", TimestampUTC: time.Now(),
	})
	require.True(t, ok, "spooling should still report success so the clip file is never deleted")

	data, err := os.ReadFile(dir + "/events.log")
	require.NoError(t, err)
	require.Contains(t, string(data), "cam1")
}
