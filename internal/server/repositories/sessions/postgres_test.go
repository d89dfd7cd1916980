package sessions

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/linqyard/linqyard/internal/common"
	"github.com/linqyard/linqyard/internal/server/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

const sessionColumns = `(?s)id,\s*user_id,\s*auth_method,\s*ip_address,\s*user_agent,\s*created_at,\s*last_seen_at,\s*revoked_at`

func TestCreate_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^\s*INSERT\s+INTO\s+sessions\b.*RETURNING\s+created_at,\s*last_seen_at\s*$`

	now := time.Now()
	mock.ExpectQuery(q).
		WithArgs(sqlmock.AnyArg(), "u1", models.AuthMethodPassword, "203.0.113.7", "curl/8").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "last_seen_at"}).AddRow(now, now))

	s, err := repo.Create(context.Background(), &models.Session{
		UserID: "u1", AuthMethod: models.AuthMethodPassword,
		IPAddress: "203.0.113.7", UserAgent: "curl/8",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.ID == "" || !s.CreatedAt.Equal(now) {
		t.Fatalf("unexpected session: %+v", s)
	}
}

func TestRevoke_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^\s*UPDATE\s+sessions\s+SET\s+revoked_at\s*=\s*now\(\)\s+WHERE\s+id\s*=\s*\$1\s+AND\s+revoked_at\s+IS\s+NULL\s*$`

	mock.ExpectExec(q).
		WithArgs("s1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Revoke(context.Background(), "s1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRevoke_AlreadyRevoked(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^\s*UPDATE\s+sessions\s+SET\s+revoked_at\s*=\s*now\(\)`).
		WithArgs("s1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	revoked := time.Now().Add(-time.Minute)
	rows := sqlmock.NewRows([]string{"id", "user_id", "auth_method", "ip_address", "user_agent",
		"created_at", "last_seen_at", "revoked_at"}).
		AddRow("s1", "u1", models.AuthMethodPassword, "", "", time.Now(), time.Now(), revoked)

	mock.ExpectQuery(`(?s)^\s*SELECT\s+` + sessionColumns + `\s+FROM\s+sessions\s+WHERE\s+id\s*=\s*\$1\s*$`).
		WithArgs("s1").
		WillReturnRows(rows)

	err := repo.Revoke(context.Background(), "s1")
	if !errors.Is(err, common.ErrSessionRevoked) {
		t.Fatalf("want common.ErrSessionRevoked, got %v", err)
	}
}

func TestRevoke_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^\s*UPDATE\s+sessions\s+SET\s+revoked_at\s*=\s*now\(\)`).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	mock.ExpectQuery(`(?s)^\s*SELECT\s+` + sessionColumns + `\s+FROM\s+sessions\s+WHERE\s+id\s*=\s*\$1\s*$`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	err := repo.Revoke(context.Background(), "missing")
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want common.ErrorNotFound, got %v", err)
	}
}

func TestRevokeAllForUser_CountsRows(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^\s*UPDATE\s+sessions\s+SET\s+revoked_at\s*=\s*now\(\)\s+WHERE\s+user_id\s*=\s*\$1\s+AND\s+revoked_at\s+IS\s+NULL\s+AND\s+\(\$2\s*=\s*''\s+OR\s+id\s*<>\s*\$2::uuid\)\s*$`

	mock.ExpectExec(q).
		WithArgs("u1", "keep").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.RevokeAllForUser(context.Background(), "u1", "keep")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Fatalf("want 3 revoked, got %d", n)
	}
}

func TestListActive_OrdersByLastSeen(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^\s*SELECT\s+` + sessionColumns + `.*WHERE\s+user_id\s*=\s*\$1\s+AND\s+revoked_at\s+IS\s+NULL\s+ORDER\s+BY\s+last_seen_at\s+DESC\s*$`

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "user_id", "auth_method", "ip_address", "user_agent",
		"created_at", "last_seen_at", "revoked_at"}).
		AddRow("s2", "u1", models.AuthMethodGoogle, "", "", now, now, nil).
		AddRow("s1", "u1", models.AuthMethodPassword, "", "", now.Add(-time.Hour), now.Add(-time.Hour), nil)

	mock.ExpectQuery(q).
		WithArgs("u1").
		WillReturnRows(rows)

	got, err := repo.ListActive(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0].ID != "s2" || got[1].ID != "s1" {
		t.Fatalf("unexpected sessions: %+v", got)
	}
}

func TestTouch_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^\s*UPDATE\s+sessions\s+SET\s+last_seen_at\s*=\s*now\(\)`).
		WithArgs("s1").
		WillReturnError(errors.New("db down"))

	err := repo.Touch(context.Background(), "s1")
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}
