package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsConflict(t *testing.T) {
	for _, code := range []string{"40001", "40P01"} {
		err := fmt.Errorf("commit: %w", &pgconn.PgError{Code: code})
		if !IsConflict(err) {
			t.Errorf("expected %s to be a conflict", code)
		}
	}
	if IsConflict(&pgconn.PgError{Code: "23505"}) {
		t.Error("unique violation is not a transaction conflict")
	}
	if IsConflict(nil) {
		t.Error("nil is not a conflict")
	}
}

func TestUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "beds_bed_number_key"})
	name, ok := UniqueViolation(err)
	if !ok {
		t.Fatal("expected unique violation")
	}
	if name != "beds_bed_number_key" {
		t.Errorf("unexpected constraint %q", name)
	}
	if _, ok := UniqueViolation(&pgconn.PgError{Code: "23503"}); ok {
		t.Error("foreign key violation reported as unique")
	}
}

func TestIsForeignKeyViolation(t *testing.T) {
	if !IsForeignKeyViolation(&pgconn.PgError{Code: "23503"}) {
		t.Error("expected foreign key violation")
	}
}

func TestIsNoRows(t *testing.T) {
	if !IsNoRows(fmt.Errorf("get bed: %w", pgx.ErrNoRows)) {
		t.Error("expected wrapped ErrNoRows to match")
	}
}

func TestTxFromContext_Empty(t *testing.T) {
	if TxFromContext(context.Background()) != nil {
		t.Error("expected no transaction on a bare context")
	}
}
