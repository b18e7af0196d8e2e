package postgres

import (
	"errors"
	"testing"

	"qms/window-queue/internal/store"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestMapPgError(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		conflict bool
	}{
		{name: "serialization", err: &pgconn.PgError{Code: "40001"}, conflict: true},
		{name: "deadlock", err: &pgconn.PgError{Code: "40P01"}, conflict: true},
		{name: "unique", err: &pgconn.PgError{Code: "23505"}, conflict: true},
		{name: "syntax", err: &pgconn.PgError{Code: "42601"}, conflict: false},
		{name: "plain", err: errors.New("boom"), conflict: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := mapPgError(tc.err)
			if errors.Is(got, store.ErrConcurrencyConflict) != tc.conflict {
				t.Fatalf("mapPgError(%v) = %v", tc.err, got)
			}
		})
	}
}
