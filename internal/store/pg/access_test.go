package pg

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"authgate.org/internal/access"
)

func roleRows(rows ...[]driver.Value) *sqlmock.Rows {
	r := sqlmock.NewRows([]string{"id", "slug", "name", "active", "created_at"})
	for _, row := range rows {
		r.AddRow(row...)
	}
	return r
}

func TestFindRoleBySlug(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery("select id, slug, name, active, created_at from roles").
		WithArgs("member").
		WillReturnRows(roleRows([]driver.Value{"role-a", "member", "Member", true, now}))

	r, err := store.FindRoleBySlug(context.Background(), "member")
	if err != nil {
		t.Fatalf("FindRoleBySlug: %v", err)
	}
	if r.ID != "role-a" || r.Slug != "member" {
		t.Fatalf("unexpected role: %+v", r)
	}
	expectMet(t, mock)
}

func TestDefaultRole(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery("from roles where is_default").
		WillReturnRows(roleRows([]driver.Value{"role-a", "member", "Member", true, now}))

	r, err := store.DefaultRole(context.Background())
	if err != nil {
		t.Fatalf("DefaultRole: %v", err)
	}
	if r.Slug != "member" {
		t.Fatalf("unexpected default role: %+v", r)
	}

	mock.ExpectQuery("from roles where is_default").
		WillReturnError(sql.ErrNoRows)

	if _, err := store.DefaultRole(context.Background()); !errors.Is(err, access.ErrNotFound) {
		t.Fatalf("expected access.ErrNotFound, got %v", err)
	}
	expectMet(t, mock)
}

func TestRolesByIDsPreservesOrder(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery("from roles where id = any").
		WithArgs("role-b,role-a").
		WillReturnRows(roleRows(
			[]driver.Value{"role-a", "member", "Member", true, now},
			[]driver.Value{"role-b", "admin", "Admin", true, now},
		))

	roles, err := store.RolesByIDs(context.Background(), []string{"role-b", "role-a"})
	if err != nil {
		t.Fatalf("RolesByIDs: %v", err)
	}
	if len(roles) != 2 || roles[0].ID != "role-b" || roles[1].ID != "role-a" {
		t.Fatalf("input order was not preserved: %+v", roles)
	}

	if roles, err := store.RolesByIDs(context.Background(), nil); err != nil || roles != nil {
		t.Fatalf("empty input should short-circuit, got %v, %v", roles, err)
	}
	expectMet(t, mock)
}

func TestFindOperation(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery("from operations where method").
		WithArgs("POST", "/auth/logout").
		WillReturnRows(sqlmock.NewRows([]string{"id", "method", "path", "active", "created_at"}).
			AddRow("op-1", "POST", "/auth/logout", true, now))

	op, err := store.FindOperation(context.Background(), "POST", "/auth/logout")
	if err != nil {
		t.Fatalf("FindOperation: %v", err)
	}
	if op.ID != "op-1" || !op.Active {
		t.Fatalf("unexpected operation: %+v", op)
	}

	mock.ExpectQuery("from operations where method").
		WithArgs("GET", "/nope").
		WillReturnError(sql.ErrNoRows)

	if _, err := store.FindOperation(context.Background(), "GET", "/nope"); !errors.Is(err, access.ErrNotFound) {
		t.Fatalf("expected access.ErrNotFound, got %v", err)
	}
	expectMet(t, mock)
}

func TestGrantExists(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select exists").
		WithArgs("role-a", "op-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := store.GrantExists(context.Background(), "role-a", "op-1")
	if err != nil {
		t.Fatalf("GrantExists: %v", err)
	}
	if !ok {
		t.Fatalf("expected grant to exist")
	}
	expectMet(t, mock)
}
