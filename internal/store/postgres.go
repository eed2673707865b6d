package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gavel/api/internal/util"
)

var (
	// ErrActiveVersionMissing means a proposal has versions but none is
	// flagged active. That state is invalid and must be surfaced, not
	// repaired silently.
	ErrActiveVersionMissing = errors.New("proposal has versions but no active version")
	// ErrActiveVersionAmbiguous means more than one version is flagged
	// active, violating the single-active-version invariant.
	ErrActiveVersionAmbiguous = errors.New("proposal has multiple active versions")
	// ErrAmendmentNotPending means a promote/reject targeted an amendment
	// already in a terminal state.
	ErrAmendmentNotPending = errors.New("amendment is not pending")
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- Owners ----

func (s *PostgresStore) GetOwnerByTeamName(ctx context.Context, teamName string) (Owner, error) {
	var owner Owner
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, team_name, role, passcode_hash, created_at
		FROM owners
		WHERE team_name=$1
	`, teamName).Scan(&owner.ID, &owner.DisplayName, &owner.TeamName, &owner.Role, &owner.PasscodeHash, &owner.CreatedAt)
	if err != nil {
		return Owner{}, err
	}
	return owner, nil
}

func (s *PostgresStore) GetOwnerByID(ctx context.Context, ownerID string) (Owner, error) {
	var owner Owner
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, team_name, role, passcode_hash, created_at
		FROM owners
		WHERE id=$1
	`, ownerID).Scan(&owner.ID, &owner.DisplayName, &owner.TeamName, &owner.Role, &owner.PasscodeHash, &owner.CreatedAt)
	if err != nil {
		return Owner{}, err
	}
	return owner, nil
}

func (s *PostgresStore) CountOwners(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM owners`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count owners: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) InsertOwner(ctx context.Context, owner Owner) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO owners (id, display_name, team_name, role, passcode_hash)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (team_name) DO NOTHING
	`, owner.ID, owner.DisplayName, owner.TeamName, owner.Role, owner.PasscodeHash)
	if err != nil {
		return fmt.Errorf("insert owner: %w", err)
	}
	return nil
}

// ---- Session tokens (Postgres fallback when Redis is not configured) ----

func (s *PostgresStore) SaveSession(ctx context.Context, tokenHash, ownerID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_tokens (token_hash, owner_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET owner_id=EXCLUDED.owner_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, ownerID, expiresAt)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupSession(ctx context.Context, tokenHash string) (Owner, error) {
	const query = `
		SELECT o.id, o.display_name, o.team_name, o.role, o.passcode_hash, o.created_at
		FROM session_tokens st
		JOIN owners o ON o.id = st.owner_id
		WHERE st.token_hash = $1
			AND st.revoked_at IS NULL
			AND st.expires_at > NOW()
	`
	var owner Owner
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(
		&owner.ID, &owner.DisplayName, &owner.TeamName, &owner.Role, &owner.PasscodeHash, &owner.CreatedAt,
	)
	if err != nil {
		return Owner{}, err
	}
	return owner, nil
}

func (s *PostgresStore) RevokeSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE session_tokens SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// ---- Meetings ----

func (s *PostgresStore) GetLiveMeeting(ctx context.Context) (*Meeting, error) {
	var meeting Meeting
	err := s.db.QueryRowContext(ctx, `
		SELECT id, club_year, status, locked, created_at, finalized_at
		FROM meetings
		WHERE status='live'
		ORDER BY created_at DESC
		LIMIT 1
	`).Scan(&meeting.ID, &meeting.ClubYear, &meeting.Status, &meeting.Locked, &meeting.CreatedAt, &meeting.FinalizedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get live meeting: %w", err)
	}
	return &meeting, nil
}

func (s *PostgresStore) GetMeeting(ctx context.Context, meetingID string) (Meeting, error) {
	var meeting Meeting
	err := s.db.QueryRowContext(ctx, `
		SELECT id, club_year, status, locked, created_at, finalized_at
		FROM meetings
		WHERE id=$1
	`, meetingID).Scan(&meeting.ID, &meeting.ClubYear, &meeting.Status, &meeting.Locked, &meeting.CreatedAt, &meeting.FinalizedAt)
	if err != nil {
		return Meeting{}, err
	}
	return meeting, nil
}

func (s *PostgresStore) InsertMeeting(ctx context.Context, meeting Meeting) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO meetings (id, club_year, status, locked)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, meeting.ID, meeting.ClubYear, meeting.Status, meeting.Locked)
	if err != nil {
		return fmt.Errorf("insert meeting: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetMeetingLock(ctx context.Context, meetingID string, locked bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE meetings SET locked=$2 WHERE id=$1`, meetingID, locked)
	if err != nil {
		return fmt.Errorf("set meeting lock: %w", err)
	}
	return nil
}

// ---- Proposals ----

func (s *PostgresStore) ListProposals(ctx context.Context, meetingID string) ([]Proposal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, meeting_id, title, COALESCE(summary, ''), effective_date, status, created_at
		FROM proposals
		WHERE meeting_id=$1
		ORDER BY created_at ASC
	`, meetingID)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	defer rows.Close()

	items := make([]Proposal, 0)
	for rows.Next() {
		var item Proposal
		if err := rows.Scan(&item.ID, &item.MeetingID, &item.Title, &item.Summary, &item.EffectiveDate, &item.Status, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proposals: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetProposal(ctx context.Context, proposalID string) (Proposal, error) {
	var item Proposal
	err := s.db.QueryRowContext(ctx, `
		SELECT id, meeting_id, title, COALESCE(summary, ''), effective_date, status, created_at
		FROM proposals
		WHERE id=$1
	`, proposalID).Scan(&item.ID, &item.MeetingID, &item.Title, &item.Summary, &item.EffectiveDate, &item.Status, &item.CreatedAt)
	if err != nil {
		return Proposal{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertProposal(ctx context.Context, proposal Proposal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO proposals (id, meeting_id, title, summary, effective_date, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, proposal.ID, proposal.MeetingID, proposal.Title, proposal.Summary, proposal.EffectiveDate, proposal.Status)
	if err != nil {
		return fmt.Errorf("insert proposal: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateProposalStatus(ctx context.Context, proposalID, status string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE proposals SET status=$2 WHERE id=$1`, proposalID, status)
	if err != nil {
		return fmt.Errorf("update proposal status: %w", err)
	}
	return nil
}

// ---- Proposal versions ----

func (s *PostgresStore) ListVersions(ctx context.Context, proposalID string) ([]ProposalVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, proposal_id, version_number, full_text, COALESCE(rationale, ''), COALESCE(created_by, ''), is_active, created_at
		FROM proposal_versions
		WHERE proposal_id=$1
		ORDER BY version_number DESC
	`, proposalID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	items := make([]ProposalVersion, 0)
	for rows.Next() {
		var item ProposalVersion
		if err := rows.Scan(&item.ID, &item.ProposalID, &item.VersionNumber, &item.FullText, &item.Rationale, &item.CreatedBy, &item.IsActive, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return items, nil
}

// GetActiveVersion returns the single active version for a proposal.
// Zero active rows alongside existing versions, or more than one active row,
// are invariant violations reported as errors rather than guessed around.
func (s *PostgresStore) GetActiveVersion(ctx context.Context, proposalID string) (ProposalVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, proposal_id, version_number, full_text, COALESCE(rationale, ''), COALESCE(created_by, ''), is_active, created_at
		FROM proposal_versions
		WHERE proposal_id=$1 AND is_active
	`, proposalID)
	if err != nil {
		return ProposalVersion{}, fmt.Errorf("get active version: %w", err)
	}
	defer rows.Close()

	var active []ProposalVersion
	for rows.Next() {
		var item ProposalVersion
		if err := rows.Scan(&item.ID, &item.ProposalID, &item.VersionNumber, &item.FullText, &item.Rationale, &item.CreatedBy, &item.IsActive, &item.CreatedAt); err != nil {
			return ProposalVersion{}, fmt.Errorf("scan active version: %w", err)
		}
		active = append(active, item)
	}
	if err := rows.Err(); err != nil {
		return ProposalVersion{}, fmt.Errorf("iterate active versions: %w", err)
	}

	switch len(active) {
	case 1:
		return active[0], nil
	case 0:
		var total int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM proposal_versions WHERE proposal_id=$1`, proposalID).Scan(&total); err != nil {
			return ProposalVersion{}, fmt.Errorf("count versions: %w", err)
		}
		if total > 0 {
			return ProposalVersion{}, ErrActiveVersionMissing
		}
		return ProposalVersion{}, sql.ErrNoRows
	default:
		return ProposalVersion{}, ErrActiveVersionAmbiguous
	}
}

func (s *PostgresStore) GetVersion(ctx context.Context, versionID string) (ProposalVersion, error) {
	var item ProposalVersion
	err := s.db.QueryRowContext(ctx, `
		SELECT id, proposal_id, version_number, full_text, COALESCE(rationale, ''), COALESCE(created_by, ''), is_active, created_at
		FROM proposal_versions
		WHERE id=$1
	`, versionID).Scan(&item.ID, &item.ProposalID, &item.VersionNumber, &item.FullText, &item.Rationale, &item.CreatedBy, &item.IsActive, &item.CreatedAt)
	if err != nil {
		return ProposalVersion{}, err
	}
	return item, nil
}

// GetVersionContext resolves a version through its proposal to the owning
// meeting in one query. sql.ErrNoRows when any link is missing.
func (s *PostgresStore) GetVersionContext(ctx context.Context, versionID string) (VersionContext, error) {
	const query = `
		SELECT v.id, v.proposal_id, v.version_number, v.full_text, COALESCE(v.rationale, ''), COALESCE(v.created_by, ''), v.is_active, v.created_at,
			p.id, p.meeting_id, p.title, COALESCE(p.summary, ''), p.effective_date, p.status, p.created_at,
			m.id, m.club_year, m.status, m.locked, m.created_at, m.finalized_at
		FROM proposal_versions v
		JOIN proposals p ON p.id = v.proposal_id
		JOIN meetings m ON m.id = p.meeting_id
		WHERE v.id=$1
	`
	var vc VersionContext
	err := s.db.QueryRowContext(ctx, query, versionID).Scan(
		&vc.Version.ID, &vc.Version.ProposalID, &vc.Version.VersionNumber, &vc.Version.FullText, &vc.Version.Rationale, &vc.Version.CreatedBy, &vc.Version.IsActive, &vc.Version.CreatedAt,
		&vc.Proposal.ID, &vc.Proposal.MeetingID, &vc.Proposal.Title, &vc.Proposal.Summary, &vc.Proposal.EffectiveDate, &vc.Proposal.Status, &vc.Proposal.CreatedAt,
		&vc.Meeting.ID, &vc.Meeting.ClubYear, &vc.Meeting.Status, &vc.Meeting.Locked, &vc.Meeting.CreatedAt, &vc.Meeting.FinalizedAt,
	)
	if err != nil {
		return VersionContext{}, err
	}
	return vc, nil
}

func (s *PostgresStore) InsertVersion(ctx context.Context, version ProposalVersion) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO proposal_versions (id, proposal_id, version_number, full_text, rationale, created_by, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, version.ID, version.ProposalID, version.VersionNumber, version.FullText, version.Rationale, version.CreatedBy, version.IsActive)
	if err != nil {
		return fmt.Errorf("insert version: %w", err)
	}
	return nil
}

// UpdateActiveVersionText edits the active version's text in place. This is
// the pre-voting convenience path; it never bumps the version number.
func (s *PostgresStore) UpdateActiveVersionText(ctx context.Context, proposalID, text string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE proposal_versions
		SET full_text=$2
		WHERE proposal_id=$1 AND is_active
	`, proposalID, text)
	if err != nil {
		return false, fmt.Errorf("update active version text: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update active version rows: %w", err)
	}
	return affected > 0, nil
}

// ---- Amendments ----

func (s *PostgresStore) InsertAmendment(ctx context.Context, amendment Amendment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO amendments (id, proposal_id, proposed_text, rationale, submitted_by_team, status)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, amendment.ID, amendment.ProposalID, amendment.ProposedText, amendment.Rationale, amendment.SubmittedByTeam, amendment.Status)
	if err != nil {
		return fmt.Errorf("insert amendment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAmendments(ctx context.Context, proposalID string) ([]Amendment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, proposal_id, proposed_text, COALESCE(rationale, ''), submitted_by_team, status, created_at
		FROM amendments
		WHERE proposal_id=$1
		ORDER BY created_at ASC
	`, proposalID)
	if err != nil {
		return nil, fmt.Errorf("list amendments: %w", err)
	}
	defer rows.Close()

	items := make([]Amendment, 0)
	for rows.Next() {
		var item Amendment
		if err := rows.Scan(&item.ID, &item.ProposalID, &item.ProposedText, &item.Rationale, &item.SubmittedByTeam, &item.Status, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan amendment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate amendments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetAmendment(ctx context.Context, amendmentID string) (Amendment, error) {
	var item Amendment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, proposal_id, proposed_text, COALESCE(rationale, ''), submitted_by_team, status, created_at
		FROM amendments
		WHERE id=$1
	`, amendmentID).Scan(&item.ID, &item.ProposalID, &item.ProposedText, &item.Rationale, &item.SubmittedByTeam, &item.Status, &item.CreatedAt)
	if err != nil {
		return Amendment{}, err
	}
	return item, nil
}

func (s *PostgresStore) RejectAmendment(ctx context.Context, amendmentID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE amendments SET status='rejected' WHERE id=$1 AND status='pending'
	`, amendmentID)
	if err != nil {
		return false, fmt.Errorf("reject amendment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reject amendment rows: %w", err)
	}
	return affected > 0, nil
}

// PromoteAmendment marks the amendment promoted, retires the proposal's
// current active version, and inserts the amendment text as the next
// sequential version — all in one transaction so a partial failure can never
// leave the proposal without an active version.
func (s *PostgresStore) PromoteAmendment(ctx context.Context, amendmentID, actorOwnerID string) (ProposalVersion, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ProposalVersion{}, fmt.Errorf("begin promote tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var amendment Amendment
	err = tx.QueryRowContext(ctx, `
		SELECT id, proposal_id, proposed_text, COALESCE(rationale, ''), status
		FROM amendments
		WHERE id=$1
		FOR UPDATE
	`, amendmentID).Scan(&amendment.ID, &amendment.ProposalID, &amendment.ProposedText, &amendment.Rationale, &amendment.Status)
	if err != nil {
		return ProposalVersion{}, err
	}
	if amendment.Status != "pending" {
		return ProposalVersion{}, ErrAmendmentNotPending
	}

	if _, err := tx.ExecContext(ctx, `UPDATE amendments SET status='promoted' WHERE id=$1`, amendmentID); err != nil {
		return ProposalVersion{}, fmt.Errorf("mark amendment promoted: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE proposal_versions SET is_active=FALSE WHERE proposal_id=$1 AND is_active
	`, amendment.ProposalID); err != nil {
		return ProposalVersion{}, fmt.Errorf("retire active version: %w", err)
	}

	var maxVersion int
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version_number), 0) FROM proposal_versions WHERE proposal_id=$1
	`, amendment.ProposalID).Scan(&maxVersion); err != nil {
		return ProposalVersion{}, fmt.Errorf("max version number: %w", err)
	}

	next := ProposalVersion{
		ID:            util.NewID("ver"),
		ProposalID:    amendment.ProposalID,
		VersionNumber: maxVersion + 1,
		FullText:      amendment.ProposedText,
		Rationale:     amendment.Rationale,
		CreatedBy:     actorOwnerID,
		IsActive:      true,
	}
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO proposal_versions (id, proposal_id, version_number, full_text, rationale, created_by, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE)
		RETURNING created_at
	`, next.ID, next.ProposalID, next.VersionNumber, next.FullText, next.Rationale, next.CreatedBy).Scan(&next.CreatedAt); err != nil {
		return ProposalVersion{}, fmt.Errorf("insert promoted version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return ProposalVersion{}, fmt.Errorf("commit promote tx: %w", err)
	}
	return next, nil
}

// ---- Vote sessions ----

// OpenVoteSession upserts the session row for a version with all counts and
// outcome fields reset. Reopening is the documented no-op transition.
func (s *PostgresStore) OpenVoteSession(ctx context.Context, versionID, proposalID, meetingID, openedByTeam string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vote_sessions (proposal_version_id, proposal_id, meeting_id, status, opened_at, opened_by_team,
			closed_at, closed_by_team, tallied_at, tallied_by_team, yes_count, no_count, abstain_count, total_count, passed)
		VALUES ($1, $2, $3, 'open', NOW(), $4, NULL, NULL, NULL, NULL, 0, 0, 0, 0, NULL)
		ON CONFLICT (proposal_version_id) DO UPDATE SET
			status='open', opened_at=NOW(), opened_by_team=EXCLUDED.opened_by_team,
			closed_at=NULL, closed_by_team=NULL, tallied_at=NULL, tallied_by_team=NULL,
			yes_count=0, no_count=0, abstain_count=0, total_count=0, passed=NULL
	`, versionID, proposalID, meetingID, openedByTeam)
	if err != nil {
		return fmt.Errorf("open vote session: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetVoteSession(ctx context.Context, versionID string) (*VoteSession, error) {
	var session VoteSession
	var closedBy, talliedBy sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT proposal_version_id, proposal_id, meeting_id, status, opened_at, opened_by_team,
			closed_at, closed_by_team, tallied_at, tallied_by_team,
			yes_count, no_count, abstain_count, total_count, passed
		FROM vote_sessions
		WHERE proposal_version_id=$1
	`, versionID).Scan(
		&session.ProposalVersionID, &session.ProposalID, &session.MeetingID, &session.Status,
		&session.OpenedAt, &session.OpenedByTeam,
		&session.ClosedAt, &closedBy, &session.TalliedAt, &talliedBy,
		&session.YesCount, &session.NoCount, &session.AbstainCount, &session.TotalCount, &session.Passed,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get vote session: %w", err)
	}
	session.ClosedByTeam = closedBy.String
	session.TalliedByTeam = talliedBy.String
	return &session, nil
}

// CloseVoteSession transitions open → closed. The status predicate makes the
// write a compare-and-swap; false means the session was not open.
func (s *PostgresStore) CloseVoteSession(ctx context.Context, versionID, closedByTeam string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE vote_sessions
		SET status='closed', closed_at=NOW(), closed_by_team=$2
		WHERE proposal_version_id=$1 AND status='open'
	`, versionID, closedByTeam)
	if err != nil {
		return false, fmt.Errorf("close vote session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("close vote session rows: %w", err)
	}
	return affected > 0, nil
}

// TallyVoteSession writes the computed counts and verdict, guarded by
// status='closed' so only one of two racing tally requests lands.
func (s *PostgresStore) TallyVoteSession(ctx context.Context, versionID, talliedByTeam string, yes, no, abstain, total int, passed bool) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE vote_sessions
		SET status='tallied', tallied_at=NOW(), tallied_by_team=$2,
			yes_count=$3, no_count=$4, abstain_count=$5, total_count=$6, passed=$7
		WHERE proposal_version_id=$1 AND status='closed'
	`, versionID, talliedByTeam, yes, no, abstain, total, passed)
	if err != nil {
		return false, fmt.Errorf("tally vote session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("tally vote session rows: %w", err)
	}
	return affected > 0, nil
}

// ---- Votes ----

func (s *PostgresStore) UpsertVote(ctx context.Context, versionID, ownerID, teamName, choice string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO votes (proposal_version_id, owner_id, team_name, choice)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (proposal_version_id, owner_id)
		DO UPDATE SET choice=EXCLUDED.choice, team_name=EXCLUDED.team_name, updated_at=NOW()
	`, versionID, ownerID, teamName, choice)
	if err != nil {
		return fmt.Errorf("upsert vote: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetVote(ctx context.Context, versionID, ownerID string) (string, error) {
	var choice string
	err := s.db.QueryRowContext(ctx, `
		SELECT choice FROM votes WHERE proposal_version_id=$1 AND owner_id=$2
	`, versionID, ownerID).Scan(&choice)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get vote: %w", err)
	}
	return choice, nil
}

func (s *PostgresStore) CountVotes(ctx context.Context, versionID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM votes WHERE proposal_version_id=$1`, versionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count votes: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ListVoteChoices(ctx context.Context, versionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT choice FROM votes WHERE proposal_version_id=$1`, versionID)
	if err != nil {
		return nil, fmt.Errorf("list vote choices: %w", err)
	}
	defer rows.Close()

	choices := make([]string, 0)
	for rows.Next() {
		var choice string
		if err := rows.Scan(&choice); err != nil {
			return nil, fmt.Errorf("scan vote choice: %w", err)
		}
		choices = append(choices, choice)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vote choices: %w", err)
	}
	return choices, nil
}

func (s *PostgresStore) ListRollCall(ctx context.Context, versionID string) ([]Vote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT proposal_version_id, owner_id, team_name, choice, created_at, updated_at
		FROM votes
		WHERE proposal_version_id=$1
		ORDER BY team_name ASC
	`, versionID)
	if err != nil {
		return nil, fmt.Errorf("list roll call: %w", err)
	}
	defer rows.Close()

	items := make([]Vote, 0)
	for rows.Next() {
		var item Vote
		if err := rows.Scan(&item.ProposalVersionID, &item.OwnerID, &item.TeamName, &item.Choice, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan roll call vote: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roll call: %w", err)
	}
	return items, nil
}

// ---- Audit trail ----

// InsertAuditEvent appends one event row. Callers treat failures as
// best-effort; this method still reports them so they can be logged.
func (s *PostgresStore) InsertAuditEvent(ctx context.Context, event AuditEvent) error {
	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_events (meeting_id, proposal_id, event_type, payload_json)
		VALUES ($1, $2, $3, $4::jsonb)
	`, event.MeetingID, event.ProposalID, event.EventType, string(encoded))
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}
