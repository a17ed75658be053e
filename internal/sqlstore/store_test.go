package sqlstore

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ambiyansyah-risyal/opsclient/internal/backend"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "postgres")), mock
}

func TestSelectWithFiltersAndCount(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT "id", "total" FROM "orders" WHERE "status" = $1 AND "total" > $2 ORDER BY "created_at" DESC LIMIT 2 OFFSET 4`).
		WithArgs("paid", "100").
		WillReturnRows(sqlmock.NewRows([]string{"id", "total"}).
			AddRow(int64(1), []byte("120.00")).
			AddRow(int64(2), []byte("300.50")))
	mock.ExpectQuery(`SELECT COUNT(*) FROM "orders" WHERE "status" = $1 AND "total" > $2`).
		WithArgs("paid", "100").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(42)))

	res, err := store.Select(context.Background(), backend.Query{
		Resource: "orders",
		Columns:  "id,total",
		Filters:  map[string]string{"status": "paid", "total": "gt.100"},
		Order:    "created_at.desc",
		Limit:    2,
		Offset:   4,
		Count:    true,
	})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if res.Total != 42 {
		t.Errorf("Total = %d, want 42", res.Total)
	}
	if want := `[{"id":1,"total":"120.00"},{"id":2,"total":"300.50"}]`; string(res.Rows) != want {
		t.Errorf("Rows = %s, want %s", res.Rows, want)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSelectByIDAndIsNull(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT * FROM "orders" WHERE "deleted_at" IS NULL AND "id" = $1`).
		WithArgs("7").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	res, err := store.Select(context.Background(), backend.Query{
		Resource: "orders",
		ID:       "7",
		Filters:  map[string]string{"deleted_at": "is.null"},
	})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if string(res.Rows) != "[]" {
		t.Errorf("Rows = %s, want []", res.Rows)
	}
	if res.Total != -1 {
		t.Errorf("Total = %d, want -1", res.Total)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestInsertReturnsRow(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`INSERT INTO "activity_logs" ("action", "meta") VALUES ($1, $2) RETURNING *`).
		WithArgs("login", `{"ip":"10.0.0.1"}`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "action"}).AddRow("a1", "login"))

	res, err := store.Insert(context.Background(), "activity_logs", map[string]any{
		"action": "login",
		"meta":   map[string]any{"ip": "10.0.0.1"},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if res.Status != http.StatusCreated {
		t.Errorf("Status = %d, want 201", res.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateMissingRowIsNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`UPDATE "orders" SET "status" = $1 WHERE "id" = $2 RETURNING *`).
		WithArgs("void", "9").
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}))

	_, err := store.Update(context.Background(), "orders", "9", map[string]any{"id": "ignored", "status": "void"})
	var se *backend.StatusError
	if !errors.As(err, &se) || se.Status != http.StatusNotFound {
		t.Fatalf("expected 404 StatusError, got %v", err)
	}
}

func TestDeleteTranslatesConstraintViolation(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`DELETE FROM "orders" WHERE "id" = $1 RETURNING *`).
		WithArgs("1").
		WillReturnError(&pq.Error{Code: "23503", Message: "update or delete violates foreign key constraint"})

	_, err := store.Delete(context.Background(), "orders", "1")
	var se *backend.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.Status != http.StatusConflict {
		t.Errorf("Status = %d, want 409", se.Status)
	}
	if se.Code != "23503" {
		t.Errorf("Code = %q, want 23503", se.Code)
	}
}

func TestTranslateErrorClasses(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{"23505", http.StatusConflict},
		{"22P02", http.StatusBadRequest},
		{"42P01", http.StatusBadRequest},
		{"08006", http.StatusServiceUnavailable},
		{"57014", http.StatusServiceUnavailable},
		{"XX000", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		err := translateError(&pq.Error{Code: pq.ErrorCode(tt.code)})
		var se *backend.StatusError
		if !errors.As(err, &se) || se.Status != tt.want {
			t.Errorf("code %s: got %v, want status %d", tt.code, err, tt.want)
		}
	}

	plain := errors.New("connection reset")
	if got := translateError(plain); got != plain {
		t.Errorf("non-driver error should pass through, got %v", got)
	}
}

func TestInsertRejectsNonObject(t *testing.T) {
	store, _ := newMockStore(t)

	_, err := store.Insert(context.Background(), "orders", []int{1, 2})
	var se *backend.StatusError
	if !errors.As(err, &se) || se.Status != http.StatusBadRequest {
		t.Fatalf("expected 400 StatusError, got %v", err)
	}
}
