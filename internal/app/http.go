package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"gavel/api/internal/auth"
	"gavel/api/internal/authpw"
	"gavel/api/internal/metrics"
	"gavel/api/internal/search"
	"gavel/api/internal/store"
	"gavel/api/internal/util"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	// Session routes (no token required)
	if r.Method == http.MethodPost && r.URL.Path == "/api/session/login" {
		var body struct {
			TeamName string `json:"teamName"`
			Passcode string `json:"passcode"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Login(r.Context(), body.TeamName, body.Passcode)
		if err != nil {
			if errors.Is(err, authpw.ErrBadCredentials) {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid team name or passcode", nil)
				return
			}
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token":     session.Token,
			"teamName":  session.TeamName,
			"ownerName": session.DisplayName,
			"role":      session.Role,
			"expiresAt": session.ExpiresAt.UTC().Format(time.RFC3339),
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "teamName": nil})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "teamName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"teamName":      session.TeamName,
			"ownerName":     session.DisplayName,
			"role":          session.Role,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		if token := bearerToken(r); token != "" {
			_ = s.service.Logout(r.Context(), token)
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	// Everything below requires a session
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch parts[1] {
	case "meetings":
		s.handleMeetings(w, r, session, parts)
		return
	case "proposals":
		s.handleProposals(w, r, session, parts)
		return
	case "amendments":
		s.handleAmendments(w, r, session, parts)
		return
	case "voting":
		s.handleVoting(w, r, session, parts)
		return
	case "votes":
		s.handleVotes(w, r, session)
		return
	case "search":
		if r.Method == http.MethodGet && len(parts) == 2 {
			s.handleSearch(w, r)
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleMeetings(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if r.Method == http.MethodGet && len(parts) == 3 && parts[2] == "current" {
		meeting, err := s.service.CurrentMeeting(r.Context())
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, meetingPayload(meeting))
		return
	}

	if r.Method == http.MethodPost && len(parts) == 3 && parts[2] == "lock" {
		var body struct {
			Locked bool `json:"locked"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		meeting, err := s.service.SetMeetingLock(r.Context(), session, body.Locked)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, meetingPayload(meeting))
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleProposals(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if r.Method == http.MethodGet && len(parts) == 2 {
		proposals, err := s.service.ListProposals(r.Context(), r.URL.Query().Get("meetingId"))
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		payload := make([]map[string]any, 0, len(proposals))
		for _, proposal := range proposals {
			payload = append(payload, proposalPayload(proposal))
		}
		writeJSON(w, http.StatusOK, map[string]any{"proposals": payload})
		return
	}

	if r.Method == http.MethodGet && len(parts) == 3 {
		detail, err := s.service.GetProposalDetail(r.Context(), parts[2])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		versions := make([]map[string]any, 0, len(detail.Versions))
		for _, version := range detail.Versions {
			versions = append(versions, versionPayload(version))
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"proposal": proposalPayload(detail.Proposal),
			"versions": versions,
		})
		return
	}

	if len(parts) == 4 && parts[3] == "active-version" {
		proposalID := parts[2]

		if r.Method == http.MethodGet {
			version, err := s.service.ActiveVersion(r.Context(), proposalID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, versionPayload(version))
			return
		}

		if r.Method == http.MethodPatch {
			var body struct {
				FullText string `json:"fullText"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			version, err := s.service.EditActiveVersionText(r.Context(), session, proposalID, body.FullText)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, versionPayload(version))
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleAmendments(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if r.Method == http.MethodGet && len(parts) == 2 {
		amendments, err := s.service.ListAmendments(r.Context(), r.URL.Query().Get("proposalId"))
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		payload := make([]map[string]any, 0, len(amendments))
		for _, amendment := range amendments {
			payload = append(payload, amendmentPayload(amendment))
		}
		writeJSON(w, http.StatusOK, map[string]any{"amendments": payload})
		return
	}

	if r.Method == http.MethodPost && len(parts) == 2 {
		var body struct {
			ProposalID   string `json:"proposalId"`
			ProposedText string `json:"proposedText"`
			Rationale    string `json:"rationale"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		amendment, err := s.service.SubmitAmendment(r.Context(), session, body.ProposalID, body.ProposedText, body.Rationale)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, amendmentPayload(amendment))
		return
	}

	if r.Method == http.MethodPost && len(parts) == 4 && parts[3] == "promote" {
		version, err := s.service.PromoteAmendment(r.Context(), session, parts[2])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, versionPayload(version))
		return
	}

	if r.Method == http.MethodPost && len(parts) == 4 && parts[3] == "reject" {
		amendment, err := s.service.RejectAmendment(r.Context(), session, parts[2])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, amendmentPayload(amendment))
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleVoting(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) != 3 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	if r.Method == http.MethodGet && parts[2] == "state" {
		state, err := s.service.VotingState(r.Context(), r.URL.Query().Get("proposalVersionId"))
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, state)
		return
	}

	if r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	var body struct {
		ProposalVersionID string `json:"proposalVersionId"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	var voteSession *store.VoteSession
	var err error
	switch parts[2] {
	case "open":
		voteSession, err = s.service.OpenVoting(r.Context(), session, body.ProposalVersionID)
	case "close":
		voteSession, err = s.service.CloseVoting(r.Context(), session, body.ProposalVersionID)
	case "tally":
		voteSession, err = s.service.TallyVoting(r.Context(), session, body.ProposalVersionID)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, voteSessionPayload(voteSession))
	return
}

func (s *HTTPServer) handleVotes(w http.ResponseWriter, r *http.Request, session Session) {
	if r.Method == http.MethodPost {
		var body struct {
			ProposalVersionID string `json:"proposalVersionId"`
			Choice            string `json:"choice"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		choice, err := s.service.CastVote(r.Context(), session, body.ProposalVersionID, body.Choice)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "myVote": choice})
		return
	}

	if r.Method == http.MethodGet {
		view, err := s.service.Votes(r.Context(), session, r.URL.Query().Get("proposalVersionId"))
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, view)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))

	response := s.service.Search(search.Query{
		Text:            query.Get("q"),
		FilterType:      search.ResultType(query.Get("type")),
		FilterMeetingID: query.Get("meetingId"),
		Limit:           limit,
		Offset:          offset,
	})
	writeJSON(w, http.StatusOK, response)
}

// ---- payloads ----

func meetingPayload(meeting store.Meeting) map[string]any {
	return map[string]any{
		"id":       meeting.ID,
		"clubYear": meeting.ClubYear,
		"status":   meeting.Status,
		"locked":   meeting.Locked,
	}
}

func proposalPayload(proposal store.Proposal) map[string]any {
	payload := map[string]any{
		"id":        proposal.ID,
		"meetingId": proposal.MeetingID,
		"title":     proposal.Title,
		"summary":   proposal.Summary,
		"status":    proposal.Status,
		"createdAt": proposal.CreatedAt.UTC().Format(time.RFC3339),
	}
	if proposal.EffectiveDate != nil {
		payload["effectiveDate"] = proposal.EffectiveDate.UTC().Format("2006-01-02")
	}
	return payload
}

func versionPayload(version store.ProposalVersion) map[string]any {
	return map[string]any{
		"id":            version.ID,
		"proposalId":    version.ProposalID,
		"versionNumber": version.VersionNumber,
		"fullText":      version.FullText,
		"rationale":     version.Rationale,
		"isActive":      version.IsActive,
		"createdAt":     version.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func amendmentPayload(amendment store.Amendment) map[string]any {
	return map[string]any{
		"id":              amendment.ID,
		"proposalId":      amendment.ProposalID,
		"proposedText":    amendment.ProposedText,
		"rationale":       amendment.Rationale,
		"submittedByTeam": amendment.SubmittedByTeam,
		"status":          amendment.Status,
		"createdAt":       amendment.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func voteSessionPayload(voteSession *store.VoteSession) map[string]any {
	if voteSession == nil {
		return map[string]any{"status": VotingNotOpen}
	}
	payload := map[string]any{
		"proposalVersionId": voteSession.ProposalVersionID,
		"proposalId":        voteSession.ProposalID,
		"status":            voteSession.Status,
		"openedAt":          voteSession.OpenedAt,
		"closedAt":          voteSession.ClosedAt,
	}
	if voteSession.Status == VotingTallied {
		payload["talliedAt"] = voteSession.TalliedAt
		payload["yes"] = voteSession.YesCount
		payload["no"] = voteSession.NoCount
		payload["abstain"] = voteSession.AbstainCount
		payload["total"] = voteSession.TotalCount
		payload["passed"] = voteSession.Passed
	}
	return payload
}

// ---- plumbing ----

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.ShortID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		elapsed := time.Since(started)
		route := routeClass(r.URL.Path)
		metrics.ObserveRequest(r.Method, route, writer.status, elapsed.Seconds())
		log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Dur("duration", elapsed).
			Msg("request")
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// routeClass collapses a path to its first two segments so metric label
// cardinality stays bounded regardless of entity ids.
func routeClass(path string) string {
	parts := splitPath(path)
	if len(parts) == 0 {
		return "/"
	}
	if len(parts) == 1 {
		return "/" + parts[0]
	}
	return "/" + parts[0] + "/" + parts[1]
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	if errors.Is(err, store.ErrActiveVersionMissing) || errors.Is(err, store.ErrActiveVersionAmbiguous) {
		return http.StatusInternalServerError, "STORE_ERROR", err.Error(), nil
	}
	if errors.Is(err, store.ErrAmendmentNotPending) {
		return http.StatusConflict, "CONFLICT", "Amendment is not pending", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
