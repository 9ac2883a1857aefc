package activity

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPGStoreAppendReturnsAssignedID(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	st := NewPGStore(db, 100)

	mock.ExpectQuery("INSERT INTO activity_log").
		WithArgs("s-1", sqlmock.AnyArg(), "step", "detail", "info", nil).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectExec("DELETE FROM activity_log").
		WithArgs("s-1", 100).
		WillReturnResult(sqlmock.NewResult(0, 0))

	e, err := st.Append(context.Background(), Entry{
		SessionID: "s-1",
		Action:    "step",
		Details:   "detail",
		Level:     LevelInfo,
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if e.ID != 7 {
		t.Fatalf("expected assigned id 7, got %d", e.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGStoreClearReportsDeletedCount(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	st := NewPGStore(db, 100)

	mock.ExpectExec("DELETE FROM activity_log WHERE session_id").
		WithArgs("s-1").
		WillReturnResult(sqlmock.NewResult(0, 4))

	deleted, err := st.Clear(context.Background(), "s-1")
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if deleted != 4 {
		t.Fatalf("expected 4 deleted, got %d", deleted)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}
