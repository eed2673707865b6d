package store

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func getTestDatabaseURL(t *testing.T) string {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("GAVEL_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("GAVEL_TEST_DATABASE_URL is not set")
	}
	return dsn
}

// TestSingleActiveVersionEnforcedByIndex verifies the partial unique index
// rejects a second active version for the same proposal.
func TestSingleActiveVersionEnforcedByIndex(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	db, err := Open(ctx, getTestDatabaseURL(t))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer db.Close()

	if err := ApplyMigrations(ctx, db, "../../db/migrations"); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO meetings (id, club_year, status) VALUES ('mtg-idx-test', 2026, 'live')
		ON CONFLICT (id) DO NOTHING
	`)
	if err != nil {
		t.Fatalf("insert meeting: %v", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO proposals (id, meeting_id, title, status)
		VALUES ('prop-idx-test', 'mtg-idx-test', 'Index test proposal', 'open')
		ON CONFLICT (id) DO NOTHING
	`)
	if err != nil {
		t.Fatalf("insert proposal: %v", err)
	}
	t.Cleanup(func() {
		_, _ = db.ExecContext(context.Background(), `DELETE FROM meetings WHERE id = 'mtg-idx-test'`)
	})

	_, err = db.ExecContext(ctx, `
		INSERT INTO proposal_versions (id, proposal_id, version_number, full_text, is_active)
		VALUES ('ver-idx-1', 'prop-idx-test', 1, 'first text', TRUE)
	`)
	if err != nil {
		t.Fatalf("insert first active version: %v", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO proposal_versions (id, proposal_id, version_number, full_text, is_active)
		VALUES ('ver-idx-2', 'prop-idx-test', 2, 'second text', TRUE)
	`)
	if err == nil {
		t.Fatal("expected second active version to be rejected")
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		t.Fatalf("expected PostgreSQL error, got: %v", err)
	}
	if pgErr.SQLState() != "23505" {
		t.Fatalf("expected unique violation 23505, got %s", pgErr.SQLState())
	}

	// An inactive second version is fine.
	_, err = db.ExecContext(ctx, `
		INSERT INTO proposal_versions (id, proposal_id, version_number, full_text, is_active)
		VALUES ('ver-idx-3', 'prop-idx-test', 2, 'second text', FALSE)
	`)
	if err != nil {
		t.Fatalf("insert inactive version: %v", err)
	}
}

// TestPromoteAmendmentStacksNextActiveVersion drives the promotion
// transaction end to end: the old active version retires, the amendment text
// becomes the next sequential active version, and a promoted amendment cannot
// be promoted twice.
func TestPromoteAmendmentStacksNextActiveVersion(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	db, err := Open(ctx, getTestDatabaseURL(t))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer db.Close()

	if err := ApplyMigrations(ctx, db, "../../db/migrations"); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	setup := []string{
		`INSERT INTO meetings (id, club_year, status) VALUES ('mtg-promo-test', 2026, 'live') ON CONFLICT (id) DO NOTHING`,
		`INSERT INTO proposals (id, meeting_id, title, status) VALUES ('prop-promo-test', 'mtg-promo-test', 'Promotion test', 'open') ON CONFLICT (id) DO NOTHING`,
		`INSERT INTO proposal_versions (id, proposal_id, version_number, full_text, is_active) VALUES ('ver-promo-1', 'prop-promo-test', 1, 'text A', TRUE) ON CONFLICT (id) DO NOTHING`,
		`INSERT INTO amendments (id, proposal_id, proposed_text, submitted_by_team, status) VALUES ('amd-promo-1', 'prop-promo-test', 'text B', 'Ice Box Icons', 'pending') ON CONFLICT (id) DO NOTHING`,
		`INSERT INTO amendments (id, proposal_id, proposed_text, submitted_by_team, status) VALUES ('amd-promo-2', 'prop-promo-test', 'text C', 'Taco Corp', 'pending') ON CONFLICT (id) DO NOTHING`,
	}
	for _, stmt := range setup {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("setup: %v", err)
		}
	}
	t.Cleanup(func() {
		_, _ = db.ExecContext(context.Background(), `DELETE FROM meetings WHERE id = 'mtg-promo-test'`)
	})

	pg := NewPostgresStore(db)

	promoted, err := pg.PromoteAmendment(ctx, "amd-promo-1", "own-commissioner")
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if promoted.VersionNumber != 2 || !promoted.IsActive || promoted.FullText != "text B" {
		t.Fatalf("expected active version 2 with amendment text, got %+v", promoted)
	}

	active, err := pg.GetActiveVersion(ctx, "prop-promo-test")
	if err != nil {
		t.Fatalf("get active version: %v", err)
	}
	if active.ID != promoted.ID {
		t.Fatalf("expected promoted version to be the active one, got %s", active.ID)
	}

	var v1Active bool
	if err := db.QueryRowContext(ctx, `SELECT is_active FROM proposal_versions WHERE id='ver-promo-1'`).Scan(&v1Active); err != nil {
		t.Fatalf("read version 1: %v", err)
	}
	if v1Active {
		t.Fatal("version 1 must retire when version 2 is promoted")
	}

	if _, err := pg.PromoteAmendment(ctx, "amd-promo-1", "own-commissioner"); !errors.Is(err, ErrAmendmentNotPending) {
		t.Fatalf("expected ErrAmendmentNotPending on re-promote, got %v", err)
	}

	// Next promotion stacks sequentially on the new maximum.
	next, err := pg.PromoteAmendment(ctx, "amd-promo-2", "own-commissioner")
	if err != nil {
		t.Fatalf("second promote: %v", err)
	}
	if next.VersionNumber != 3 || next.FullText != "text C" {
		t.Fatalf("expected version 3 with second amendment text, got %+v", next)
	}
}

// TestVoteUpsertReplacesBallot verifies the (version, owner) primary key
// makes a re-cast replace the earlier choice instead of adding a row.
func TestVoteUpsertReplacesBallot(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	db, err := Open(ctx, getTestDatabaseURL(t))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer db.Close()

	if err := ApplyMigrations(ctx, db, "../../db/migrations"); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	setup := []string{
		`INSERT INTO meetings (id, club_year, status) VALUES ('mtg-vote-test', 2026, 'live') ON CONFLICT (id) DO NOTHING`,
		`INSERT INTO proposals (id, meeting_id, title, status) VALUES ('prop-vote-test', 'mtg-vote-test', 'Vote test', 'open') ON CONFLICT (id) DO NOTHING`,
		`INSERT INTO proposal_versions (id, proposal_id, version_number, full_text, is_active) VALUES ('ver-vote-test', 'prop-vote-test', 1, 'text', TRUE) ON CONFLICT (id) DO NOTHING`,
		`INSERT INTO owners (id, display_name, team_name, passcode_hash) VALUES ('own-vote-test', 'Vote Tester', 'Vote Test Team', 'x') ON CONFLICT (id) DO NOTHING`,
	}
	for _, stmt := range setup {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("setup: %v", err)
		}
	}
	t.Cleanup(func() {
		_, _ = db.ExecContext(context.Background(), `DELETE FROM meetings WHERE id = 'mtg-vote-test'`)
		_, _ = db.ExecContext(context.Background(), `DELETE FROM owners WHERE id = 'own-vote-test'`)
	})

	pg := NewPostgresStore(db)
	if err := pg.UpsertVote(ctx, "ver-vote-test", "own-vote-test", "Vote Test Team", "yes"); err != nil {
		t.Fatalf("first cast: %v", err)
	}
	if err := pg.UpsertVote(ctx, "ver-vote-test", "own-vote-test", "Vote Test Team", "no"); err != nil {
		t.Fatalf("re-cast: %v", err)
	}

	count, err := pg.CountVotes(ctx, "ver-vote-test")
	if err != nil {
		t.Fatalf("count votes: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected single ballot after re-cast, got %d", count)
	}

	choice, err := pg.GetVote(ctx, "ver-vote-test", "own-vote-test")
	if err != nil {
		t.Fatalf("get vote: %v", err)
	}
	if choice != "no" {
		t.Fatalf("expected replaced choice no, got %q", choice)
	}
}
