package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"gavel/api/internal/auth"
	"gavel/api/internal/authpw"
	"gavel/api/internal/config"
	"gavel/api/internal/metrics"
	"gavel/api/internal/rbac"
	"gavel/api/internal/search"
	"gavel/api/internal/session"
	"gavel/api/internal/store"
	"gavel/api/internal/tally"
	"gavel/api/internal/util"
)

type Session struct {
	Token       string
	OwnerID     string
	TeamName    string
	DisplayName string
	Role        string
	JTI         string
	ExpiresAt   time.Time
}

// Vote session statuses. "not_open" is the state of a version with no
// session row; it never appears in storage.
const (
	VotingNotOpen = "not_open"
	VotingOpen    = "open"
	VotingClosed  = "closed"
	VotingTallied = "tallied"
)

const (
	AmendmentPending  = "pending"
	AmendmentPromoted = "promoted"
	AmendmentRejected = "rejected"
)

type dataStore interface {
	GetOwnerByTeamName(context.Context, string) (store.Owner, error)
	GetOwnerByID(context.Context, string) (store.Owner, error)
	CountOwners(context.Context) (int, error)
	InsertOwner(context.Context, store.Owner) error
	SaveSession(context.Context, string, string, time.Time) error
	LookupSession(context.Context, string) (store.Owner, error)
	RevokeSession(context.Context, string) error
	GetLiveMeeting(context.Context) (*store.Meeting, error)
	GetMeeting(context.Context, string) (store.Meeting, error)
	InsertMeeting(context.Context, store.Meeting) error
	SetMeetingLock(context.Context, string, bool) error
	ListProposals(context.Context, string) ([]store.Proposal, error)
	GetProposal(context.Context, string) (store.Proposal, error)
	InsertProposal(context.Context, store.Proposal) error
	UpdateProposalStatus(context.Context, string, string) error
	ListVersions(context.Context, string) ([]store.ProposalVersion, error)
	GetActiveVersion(context.Context, string) (store.ProposalVersion, error)
	GetVersionContext(context.Context, string) (store.VersionContext, error)
	InsertVersion(context.Context, store.ProposalVersion) error
	UpdateActiveVersionText(context.Context, string, string) (bool, error)
	InsertAmendment(context.Context, store.Amendment) error
	ListAmendments(context.Context, string) ([]store.Amendment, error)
	GetAmendment(context.Context, string) (store.Amendment, error)
	RejectAmendment(context.Context, string) (bool, error)
	PromoteAmendment(context.Context, string, string) (store.ProposalVersion, error)
	OpenVoteSession(context.Context, string, string, string, string) error
	GetVoteSession(context.Context, string) (*store.VoteSession, error)
	CloseVoteSession(context.Context, string, string) (bool, error)
	TallyVoteSession(context.Context, string, string, int, int, int, int, bool) (bool, error)
	UpsertVote(context.Context, string, string, string, string) error
	GetVote(context.Context, string, string) (string, error)
	CountVotes(context.Context, string) (int, error)
	ListVoteChoices(context.Context, string) ([]string, error)
	ListRollCall(context.Context, string) ([]store.Vote, error)
	InsertAuditEvent(context.Context, store.AuditEvent) error
	Ping(ctx context.Context) error
}

// tokenCache is the fast path for session tokens; when nil the service uses
// the Postgres session rows instead.
type tokenCache interface {
	SaveSession(ctx context.Context, tokenHash string, owner store.Owner, expiresAt time.Time) error
	LookupSession(ctx context.Context, tokenHash string) (store.Owner, error)
	RevokeSession(ctx context.Context, tokenHash string) error
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  tokenCache
	passcodes *authpw.Service
	search    *search.Service
}

func New(cfg config.Config, dataStore *store.PostgresStore, searchService *search.Service) *Service {
	return &Service{
		cfg:       cfg,
		store:     dataStore,
		passcodes: authpw.NewService(dataStore),
		search:    searchService,
	}
}

// NewWithSessionStore is New plus a Redis-backed session token cache.
func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, sessions tokenCache, searchService *search.Service) *Service {
	service := New(cfg, dataStore, searchService)
	service.sessions = sessions
	return service
}

var seedTeams = []struct {
	Team  string
	Owner string
}{
	{"Mud Dogs", "Bobby B."},
	{"Ice Box Icons", "Vicki V."},
	{"Cheese Curd Crushers", "Gil G."},
	{"Hail Mary Hooligans", "Terry T."},
	{"Red Zone Regulars", "Pat P."},
	{"Waiver Wire Wizards", "Dana D."},
	{"Garbage Time Giants", "Lee L."},
	{"Taco Corp", "Ruxin R."},
	{"Fourth And Long", "Andre A."},
	{"Bench Warmers", "Kevin K."},
	{"Punt Intended", "Jenny J."},
	{"Flag Day Flyers", "Sasha S."},
}

// Bootstrap seeds the league roster, a live meeting, and a sample proposal
// when the database is empty. The first seeded team owner doubles as the
// commissioner.
func (s *Service) Bootstrap(ctx context.Context) error {
	count, err := s.store.CountOwners(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		if s.search != nil {
			s.search.ReindexAllFromPG(ctx)
		}
		return nil
	}

	hash, err := authpw.HashPasscode(s.cfg.SeedPasscode)
	if err != nil {
		return err
	}

	for i, seed := range seedTeams {
		role := string(rbac.RoleOwner)
		if i == 0 {
			role = string(rbac.RoleCommissioner)
		}
		if err := s.store.InsertOwner(ctx, store.Owner{
			ID:           util.NewID("own"),
			DisplayName:  seed.Owner,
			TeamName:     seed.Team,
			Role:         role,
			PasscodeHash: hash,
		}); err != nil {
			return err
		}
	}

	meeting := store.Meeting{
		ID:       util.NewID("mtg"),
		ClubYear: time.Now().Year(),
		Status:   "live",
	}
	if err := s.store.InsertMeeting(ctx, meeting); err != nil {
		return err
	}

	proposal := store.Proposal{
		ID:        util.NewID("prop"),
		MeetingID: meeting.ID,
		Title:     "Raise the waiver budget to $200",
		Summary:   "Annual FAAB budget increase so late-season pickups stay competitive.",
		Status:    "open",
	}
	if err := s.store.InsertProposal(ctx, proposal); err != nil {
		return err
	}

	if err := s.store.InsertVersion(ctx, store.ProposalVersion{
		ID:            util.NewID("ver"),
		ProposalID:    proposal.ID,
		VersionNumber: 1,
		FullText:      "Each team's free agent acquisition budget increases from $100 to $200, effective the season after adoption. Unspent budget does not carry over.",
		Rationale:     "Initial draft",
		CreatedBy:     seedTeams[0].Owner,
		IsActive:      true,
	}); err != nil {
		return err
	}

	if s.search != nil {
		s.search.ReindexAllFromPG(ctx)
	}
	return nil
}

// ---- Sessions ----

func (s *Service) Login(ctx context.Context, teamName, passcode string) (Session, error) {
	owner, err := s.passcodes.SignIn(ctx, authpw.SignInRequest{TeamName: teamName, Passcode: passcode})
	if err != nil {
		return Session{}, err
	}

	now := time.Now()
	expiresAt := now.Add(s.cfg.SessionTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:  owner.ID,
		Team: owner.TeamName,
		Role: owner.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	tokenHash := auth.HashToken(token)
	if s.sessions != nil {
		err = s.sessions.SaveSession(ctx, tokenHash, owner, expiresAt)
	} else {
		err = s.store.SaveSession(ctx, tokenHash, owner.ID, expiresAt)
	}
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:       token,
		OwnerID:     owner.ID,
		TeamName:    owner.TeamName,
		DisplayName: owner.DisplayName,
		Role:        owner.Role,
		JTI:         jti,
		ExpiresAt:   expiresAt,
	}, nil
}

// SessionFromToken validates a bearer token and confirms the session has not
// been revoked. The stored role wins over the one baked into the token.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}

	tokenHash := auth.HashToken(token)
	var owner store.Owner
	if s.sessions != nil {
		owner, err = s.sessions.LookupSession(ctx, tokenHash)
	} else {
		owner, err = s.store.LookupSession(ctx, tokenHash)
	}
	if err != nil {
		// A missing or expired row means the token is no longer good; any
		// other failure is the backend's problem, not the caller's.
		if errors.Is(err, sql.ErrNoRows) || errors.Is(err, session.ErrSessionNotFound) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, fmt.Errorf("session lookup: %w", err)
	}

	displayName := owner.DisplayName
	if displayName == "" {
		if full, err := s.store.GetOwnerByID(ctx, owner.ID); err == nil {
			displayName = full.DisplayName
			owner.Role = full.Role
		}
	}

	return Session{
		Token:       token,
		OwnerID:     owner.ID,
		TeamName:    owner.TeamName,
		DisplayName: displayName,
		Role:        owner.Role,
		JTI:         claims.JTI,
		ExpiresAt:   time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, token string) error {
	tokenHash := auth.HashToken(token)
	if s.sessions != nil {
		return s.sessions.RevokeSession(ctx, tokenHash)
	}
	return s.store.RevokeSession(ctx, tokenHash)
}

// ---- Meetings ----

func (s *Service) CurrentMeeting(ctx context.Context) (store.Meeting, error) {
	meeting, err := s.store.GetLiveMeeting(ctx)
	if err != nil {
		return store.Meeting{}, err
	}
	if meeting == nil {
		return store.Meeting{}, errNotFound("No live meeting")
	}
	return *meeting, nil
}

// SetMeetingLock toggles the lock on the live meeting and records the change
// in the audit trail.
func (s *Service) SetMeetingLock(ctx context.Context, session Session, locked bool) (store.Meeting, error) {
	if !rbac.Can(rbac.Normalize(session.Role), rbac.ActionAdminister) {
		return store.Meeting{}, errForbidden()
	}

	meeting, err := s.CurrentMeeting(ctx)
	if err != nil {
		return store.Meeting{}, err
	}

	if err := s.store.SetMeetingLock(ctx, meeting.ID, locked); err != nil {
		return store.Meeting{}, err
	}
	meeting.Locked = locked

	event := "meeting_unlocked"
	if locked {
		event = "meeting_locked"
	}
	s.audit(ctx, meeting.ID, nil, event, map[string]any{"by": session.TeamName})

	return meeting, nil
}

// ---- Proposals ----

func (s *Service) ListProposals(ctx context.Context, meetingID string) ([]store.Proposal, error) {
	if meetingID == "" {
		meeting, err := s.CurrentMeeting(ctx)
		if err != nil {
			return nil, err
		}
		meetingID = meeting.ID
	}
	return s.store.ListProposals(ctx, meetingID)
}

type ProposalDetail struct {
	Proposal store.Proposal
	Versions []store.ProposalVersion
}

func (s *Service) GetProposalDetail(ctx context.Context, proposalID string) (ProposalDetail, error) {
	proposal, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return ProposalDetail{}, err
	}
	versions, err := s.store.ListVersions(ctx, proposalID)
	if err != nil {
		return ProposalDetail{}, err
	}
	return ProposalDetail{Proposal: proposal, Versions: versions}, nil
}

func (s *Service) ActiveVersion(ctx context.Context, proposalID string) (store.ProposalVersion, error) {
	if _, err := s.store.GetProposal(ctx, proposalID); err != nil {
		return store.ProposalVersion{}, err
	}
	return s.store.GetActiveVersion(ctx, proposalID)
}

// EditActiveVersionText rewrites the active version's text in place. Allowed
// only before any vote session exists for that version and while the meeting
// is unlocked; once balloting has started the text is frozen and changes go
// through amendments.
func (s *Service) EditActiveVersionText(ctx context.Context, session Session, proposalID, text string) (store.ProposalVersion, error) {
	if !rbac.Can(rbac.Normalize(session.Role), rbac.ActionAdminister) {
		return store.ProposalVersion{}, errForbidden()
	}
	if strings.TrimSpace(text) == "" {
		return store.ProposalVersion{}, errValidation("fullText is required")
	}

	proposal, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return store.ProposalVersion{}, err
	}
	meeting, err := s.store.GetMeeting(ctx, proposal.MeetingID)
	if err != nil {
		return store.ProposalVersion{}, err
	}
	if meeting.Locked {
		return store.ProposalVersion{}, errConflict("Meeting is locked", nil)
	}

	active, err := s.store.GetActiveVersion(ctx, proposalID)
	if err != nil {
		return store.ProposalVersion{}, err
	}
	voteSession, err := s.store.GetVoteSession(ctx, active.ID)
	if err != nil {
		return store.ProposalVersion{}, err
	}
	if voteSession != nil {
		return store.ProposalVersion{}, errConflict("Voting has started for the active version; submit an amendment instead", nil)
	}

	updated, err := s.store.UpdateActiveVersionText(ctx, proposalID, text)
	if err != nil {
		return store.ProposalVersion{}, err
	}
	if !updated {
		return store.ProposalVersion{}, errNotFound("Active version not found")
	}
	active.FullText = text

	s.indexProposal(ctx, proposal, text)
	return active, nil
}

// ---- Amendments ----

func (s *Service) ListAmendments(ctx context.Context, proposalID string) ([]store.Amendment, error) {
	if proposalID == "" {
		return nil, errValidation("proposalId is required")
	}
	if _, err := s.store.GetProposal(ctx, proposalID); err != nil {
		return nil, err
	}
	return s.store.ListAmendments(ctx, proposalID)
}

func (s *Service) SubmitAmendment(ctx context.Context, session Session, proposalID, proposedText, rationale string) (store.Amendment, error) {
	if !rbac.Can(rbac.Normalize(session.Role), rbac.ActionAmend) {
		return store.Amendment{}, errForbidden()
	}
	if proposalID == "" {
		return store.Amendment{}, errValidation("proposalId is required")
	}
	if strings.TrimSpace(proposedText) == "" {
		return store.Amendment{}, errValidation("proposedText is required")
	}

	proposal, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return store.Amendment{}, err
	}
	if proposal.Status == "passed" || proposal.Status == "failed" {
		return store.Amendment{}, errConflict("Proposal has already "+proposal.Status, nil)
	}
	meeting, err := s.store.GetMeeting(ctx, proposal.MeetingID)
	if err != nil {
		return store.Amendment{}, err
	}
	if meeting.Locked {
		return store.Amendment{}, errConflict("Meeting is locked", nil)
	}

	amendment := store.Amendment{
		ID:              util.NewID("amd"),
		ProposalID:      proposalID,
		ProposedText:    proposedText,
		Rationale:       strings.TrimSpace(rationale),
		SubmittedByTeam: session.TeamName,
		Status:          AmendmentPending,
	}
	if err := s.store.InsertAmendment(ctx, amendment); err != nil {
		return store.Amendment{}, err
	}

	if s.search != nil {
		s.search.IndexAmendment(search.AmendmentRecord{
			ID:           amendment.ID,
			ProposedText: amendment.ProposedText,
			Rationale:    amendment.Rationale,
			ProposalID:   proposalID,
			MeetingID:    proposal.MeetingID,
			Status:       amendment.Status,
		})
	}
	return amendment, nil
}

// PromoteAmendment turns a pending amendment into the proposal's next active
// version. Blocked while the current active version has an open vote session;
// the session must be closed or tallied first so ballots always bind to the
// text they were cast against.
func (s *Service) PromoteAmendment(ctx context.Context, session Session, amendmentID string) (store.ProposalVersion, error) {
	if !rbac.Can(rbac.Normalize(session.Role), rbac.ActionAdminister) {
		return store.ProposalVersion{}, errForbidden()
	}

	amendment, err := s.store.GetAmendment(ctx, amendmentID)
	if err != nil {
		return store.ProposalVersion{}, err
	}
	if amendment.Status != AmendmentPending {
		return store.ProposalVersion{}, errConflict("Amendment has already been "+amendment.Status, nil)
	}

	proposal, err := s.store.GetProposal(ctx, amendment.ProposalID)
	if err != nil {
		return store.ProposalVersion{}, err
	}
	meeting, err := s.store.GetMeeting(ctx, proposal.MeetingID)
	if err != nil {
		return store.ProposalVersion{}, err
	}
	if meeting.Locked {
		return store.ProposalVersion{}, errConflict("Meeting is locked", nil)
	}

	active, err := s.store.GetActiveVersion(ctx, amendment.ProposalID)
	if err != nil {
		return store.ProposalVersion{}, err
	}
	voteSession, err := s.store.GetVoteSession(ctx, active.ID)
	if err != nil {
		return store.ProposalVersion{}, err
	}
	if voteSession != nil && voteSession.Status == VotingOpen {
		return store.ProposalVersion{}, errConflict("Close voting on the current version before promoting an amendment", nil)
	}

	version, err := s.store.PromoteAmendment(ctx, amendmentID, session.OwnerID)
	if err != nil {
		return store.ProposalVersion{}, err
	}

	s.audit(ctx, proposal.MeetingID, &proposal.ID, "amendment_promoted", map[string]any{
		"amendmentId":   amendmentID,
		"versionId":     version.ID,
		"versionNumber": version.VersionNumber,
		"by":            session.TeamName,
	})
	s.indexProposal(ctx, proposal, version.FullText)

	return version, nil
}

func (s *Service) RejectAmendment(ctx context.Context, session Session, amendmentID string) (store.Amendment, error) {
	if !rbac.Can(rbac.Normalize(session.Role), rbac.ActionAdminister) {
		return store.Amendment{}, errForbidden()
	}

	amendment, err := s.store.GetAmendment(ctx, amendmentID)
	if err != nil {
		return store.Amendment{}, err
	}

	rejected, err := s.store.RejectAmendment(ctx, amendmentID)
	if err != nil {
		return store.Amendment{}, err
	}
	if !rejected {
		return store.Amendment{}, errConflict("Amendment has already been "+amendment.Status, nil)
	}
	amendment.Status = AmendmentRejected

	proposal, err := s.store.GetProposal(ctx, amendment.ProposalID)
	if err == nil {
		s.audit(ctx, proposal.MeetingID, &proposal.ID, "amendment_rejected", map[string]any{
			"amendmentId": amendmentID,
			"by":          session.TeamName,
		})
	}
	return amendment, nil
}

// ---- Voting ----

// OpenVoting opens (or reopens) balloting on a proposal version. Only the
// active version qualifies; reopening wipes the previous session's counts
// but leaves the vote ledger intact.
func (s *Service) OpenVoting(ctx context.Context, session Session, versionID string) (*store.VoteSession, error) {
	if !rbac.Can(rbac.Normalize(session.Role), rbac.ActionAdminister) {
		return nil, errForbidden()
	}
	if versionID == "" {
		return nil, errValidation("proposalVersionId is required")
	}

	vc, err := s.store.GetVersionContext(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if vc.Meeting.Locked {
		return nil, errConflict("Meeting is locked", nil)
	}
	if !vc.Version.IsActive {
		return nil, errConflict("Voting can only be opened on the active version", nil)
	}

	if err := s.store.OpenVoteSession(ctx, versionID, vc.Proposal.ID, vc.Meeting.ID, session.TeamName); err != nil {
		return nil, err
	}

	s.audit(ctx, vc.Meeting.ID, &vc.Proposal.ID, "voting_opened", map[string]any{
		"proposalVersionId": versionID,
		"versionNumber":     vc.Version.VersionNumber,
		"by":                session.TeamName,
	})

	return s.store.GetVoteSession(ctx, versionID)
}

// CloseVoting transitions an open session to closed. With the quorum rule
// enabled, closing is refused until every owner has a ballot on record.
func (s *Service) CloseVoting(ctx context.Context, session Session, versionID string) (*store.VoteSession, error) {
	if !rbac.Can(rbac.Normalize(session.Role), rbac.ActionAdminister) {
		return nil, errForbidden()
	}
	if versionID == "" {
		return nil, errValidation("proposalVersionId is required")
	}

	vc, err := s.store.GetVersionContext(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if vc.Meeting.Locked {
		return nil, errConflict("Meeting is locked", nil)
	}

	if s.cfg.QuorumRequired {
		submitted, err := s.store.CountVotes(ctx, versionID)
		if err != nil {
			return nil, err
		}
		if submitted < s.cfg.VoteTotalOwners {
			outstanding := s.cfg.VoteTotalOwners - submitted
			return nil, errConflict("Quorum not reached", map[string]any{
				"submitted":   submitted,
				"outstanding": outstanding,
			})
		}
	}

	closed, err := s.store.CloseVoteSession(ctx, versionID, session.TeamName)
	if err != nil {
		return nil, err
	}
	if !closed {
		return nil, errConflict("Voting is not open", nil)
	}

	s.audit(ctx, vc.Meeting.ID, &vc.Proposal.ID, "voting_closed", map[string]any{
		"proposalVersionId": versionID,
		"by":                session.TeamName,
	})

	return s.store.GetVoteSession(ctx, versionID)
}

// TallyVoting counts the ledger for a closed session, records the verdict,
// and moves the proposal to passed or failed. The final write is conditional
// on the session still being closed, so a second tally of the same session
// conflicts instead of double-counting.
func (s *Service) TallyVoting(ctx context.Context, session Session, versionID string) (*store.VoteSession, error) {
	if !rbac.Can(rbac.Normalize(session.Role), rbac.ActionAdminister) {
		return nil, errForbidden()
	}
	if versionID == "" {
		return nil, errValidation("proposalVersionId is required")
	}

	vc, err := s.store.GetVersionContext(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if vc.Meeting.Locked {
		return nil, errConflict("Meeting is locked", nil)
	}

	voteSession, err := s.store.GetVoteSession(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if voteSession == nil || voteSession.Status != VotingClosed {
		return nil, errConflict("Voting must be closed before tallying", nil)
	}

	choices, err := s.store.ListVoteChoices(ctx, versionID)
	if err != nil {
		return nil, err
	}
	totals := tally.Count(choices)
	passed := tally.Passed(totals, s.cfg.VoteThreshold)

	tallied, err := s.store.TallyVoteSession(ctx, versionID, session.TeamName,
		totals.Yes, totals.No, totals.Abstain, totals.Total, passed)
	if err != nil {
		return nil, err
	}
	if !tallied {
		return nil, errConflict("Session has already been tallied", nil)
	}

	outcome := "failed"
	if passed {
		outcome = "passed"
	}
	if err := s.store.UpdateProposalStatus(ctx, vc.Proposal.ID, outcome); err != nil {
		return nil, err
	}
	metrics.TalliesTotal.WithLabelValues(outcome).Inc()

	s.audit(ctx, vc.Meeting.ID, &vc.Proposal.ID, "voting_tallied", map[string]any{
		"proposalVersionId": versionID,
		"yes":               totals.Yes,
		"no":                totals.No,
		"abstain":           totals.Abstain,
		"total":             totals.Total,
		"passed":            passed,
		"threshold":         s.cfg.VoteThreshold,
		"by":                session.TeamName,
	})
	s.indexProposal(ctx, store.Proposal{
		ID: vc.Proposal.ID, MeetingID: vc.Meeting.ID,
		Title: vc.Proposal.Title, Summary: vc.Proposal.Summary, Status: outcome,
	}, vc.Version.FullText)

	return s.store.GetVoteSession(ctx, versionID)
}

// CastVote records or revises a ballot while the session is open. The upsert
// key is (version, owner), so re-submitting replaces the earlier choice.
// A meeting lock does not block casting; the open session is the gate.
func (s *Service) CastVote(ctx context.Context, session Session, versionID, rawChoice string) (string, error) {
	if !rbac.Can(rbac.Normalize(session.Role), rbac.ActionVote) {
		return "", errForbidden()
	}
	if versionID == "" {
		return "", errValidation("proposalVersionId is required")
	}
	choice, ok := tally.NormalizeChoice(rawChoice)
	if !ok {
		return "", errValidation("choice must be yes, no, or abstain")
	}

	if _, err := s.store.GetVersionContext(ctx, versionID); err != nil {
		return "", err
	}
	voteSession, err := s.store.GetVoteSession(ctx, versionID)
	if err != nil {
		return "", err
	}
	if voteSession == nil || voteSession.Status != VotingOpen {
		return "", errConflict("Voting is not open", nil)
	}

	if err := s.store.UpsertVote(ctx, versionID, session.OwnerID, session.TeamName, choice); err != nil {
		return "", err
	}
	metrics.VotesCastTotal.Inc()

	return choice, nil
}

// VotingState is the poll-friendly view of a session. Counts and the verdict
// are withheld until the session is tallied.
type VotingState struct {
	ProposalVersionID string        `json:"proposalVersionId"`
	Status            string        `json:"status"`
	OpenedAt          *time.Time    `json:"openedAt,omitempty"`
	ClosedAt          *time.Time    `json:"closedAt,omitempty"`
	TalliedAt         *time.Time    `json:"talliedAt,omitempty"`
	Totals            *tally.Totals `json:"totals,omitempty"`
	Passed            *bool         `json:"passed,omitempty"`
}

func (s *Service) VotingState(ctx context.Context, versionID string) (VotingState, error) {
	if versionID == "" {
		return VotingState{}, errValidation("proposalVersionId is required")
	}
	if _, err := s.store.GetVersionContext(ctx, versionID); err != nil {
		return VotingState{}, err
	}

	voteSession, err := s.store.GetVoteSession(ctx, versionID)
	if err != nil {
		return VotingState{}, err
	}
	if voteSession == nil {
		return VotingState{ProposalVersionID: versionID, Status: VotingNotOpen}, nil
	}

	state := VotingState{
		ProposalVersionID: versionID,
		Status:            voteSession.Status,
		OpenedAt:          voteSession.OpenedAt,
		ClosedAt:          voteSession.ClosedAt,
	}
	if voteSession.Status == VotingTallied {
		state.TalliedAt = voteSession.TalliedAt
		state.Totals = &tally.Totals{
			Yes:     voteSession.YesCount,
			No:      voteSession.NoCount,
			Abstain: voteSession.AbstainCount,
			Total:   voteSession.TotalCount,
		}
		state.Passed = voteSession.Passed
	}
	return state, nil
}

type RollCallEntry struct {
	OwnerID  string `json:"ownerId"`
	TeamName string `json:"teamName"`
	Choice   string `json:"choice"`
}

// VoteView is what a caller sees of the ledger: always their own ballot and
// the submitted count, plus the full roll call once the session is tallied.
type VoteView struct {
	ProposalVersionID string          `json:"proposalVersionId"`
	Status            string          `json:"status"`
	SubmittedCount    int             `json:"submittedCount"`
	MyVote            string          `json:"myVote,omitempty"`
	RollCall          []RollCallEntry `json:"rollCall,omitempty"`
	Totals            *tally.Totals   `json:"totals,omitempty"`
	Passed            *bool           `json:"passed,omitempty"`
}

func (s *Service) Votes(ctx context.Context, session Session, versionID string) (VoteView, error) {
	if versionID == "" {
		return VoteView{}, errValidation("proposalVersionId is required")
	}
	if _, err := s.store.GetVersionContext(ctx, versionID); err != nil {
		return VoteView{}, err
	}

	status := VotingNotOpen
	voteSession, err := s.store.GetVoteSession(ctx, versionID)
	if err != nil {
		return VoteView{}, err
	}
	if voteSession != nil {
		status = voteSession.Status
	}

	submitted, err := s.store.CountVotes(ctx, versionID)
	if err != nil {
		return VoteView{}, err
	}
	myVote, err := s.store.GetVote(ctx, versionID, session.OwnerID)
	if err != nil {
		return VoteView{}, err
	}

	view := VoteView{
		ProposalVersionID: versionID,
		Status:            status,
		SubmittedCount:    submitted,
		MyVote:            myVote,
	}

	if status == VotingTallied {
		votes, err := s.store.ListRollCall(ctx, versionID)
		if err != nil {
			return VoteView{}, err
		}
		rollCall := make([]RollCallEntry, 0, len(votes))
		for _, vote := range votes {
			rollCall = append(rollCall, RollCallEntry{OwnerID: vote.OwnerID, TeamName: vote.TeamName, Choice: vote.Choice})
		}
		view.RollCall = rollCall
		view.Totals = &tally.Totals{
			Yes:     voteSession.YesCount,
			No:      voteSession.NoCount,
			Abstain: voteSession.AbstainCount,
			Total:   voteSession.TotalCount,
		}
		view.Passed = voteSession.Passed
	}
	return view, nil
}

// ---- Search ----

func (s *Service) Search(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

// ---- Helpers ----

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// audit appends one trail event. Failures are logged and swallowed; the
// operation that triggered the event has already committed.
func (s *Service) audit(ctx context.Context, meetingID string, proposalID *string, eventType string, payload map[string]any) {
	err := s.store.InsertAuditEvent(ctx, store.AuditEvent{
		MeetingID:  meetingID,
		ProposalID: proposalID,
		EventType:  eventType,
		Payload:    payload,
	})
	if err != nil {
		log.Warn().Err(err).Str("event", eventType).Msg("audit write failed")
	}
}

func (s *Service) indexProposal(ctx context.Context, proposal store.Proposal, fullText string) {
	if s.search == nil {
		return
	}
	s.search.IndexProposal(search.ProposalRecord{
		ID:        proposal.ID,
		Title:     proposal.Title,
		Summary:   proposal.Summary,
		FullText:  fullText,
		MeetingID: proposal.MeetingID,
		Status:    proposal.Status,
	})
}
