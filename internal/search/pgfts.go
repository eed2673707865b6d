package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
// It builds tsvectors on the fly rather than keeping stored columns; the
// tables involved are small enough that stored vectors would be overkill.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across proposals (with their active
// version text) and amendments, using plainto_tsquery and ts_rank, with
// ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultProposal {
		propVec := fmt.Sprintf(
			"to_tsvector('english', pr.title || ' ' || coalesce(pr.summary, '') || ' ' || coalesce(av.full_text, ''))")
		propWhere := propVec + " @@ " + tsQuery
		if q.FilterMeetingID != "" {
			propWhere += fmt.Sprintf(" AND pr.meeting_id = $%d", argN)
			args = append(args, q.FilterMeetingID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'proposal'::text AS type, pr.id, pr.title,
				ts_headline('english', coalesce(pr.summary, '') || ' ' || coalesce(av.full_text, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				pr.id AS proposal_id, pr.meeting_id, pr.status,
				ts_rank(%s, %s) AS rank
			FROM proposals pr
			LEFT JOIN proposal_versions av ON av.proposal_id = pr.id AND av.is_active
			WHERE %s`, tsQuery, propVec, tsQuery, propWhere))
	}

	if q.FilterType == "" || q.FilterType == ResultAmendment {
		amdVec := "to_tsvector('english', a.proposed_text || ' ' || coalesce(a.rationale, ''))"
		amdWhere := amdVec + " @@ " + tsQuery
		if q.FilterMeetingID != "" {
			amdWhere += fmt.Sprintf(" AND pr.meeting_id = $%d", argN)
			args = append(args, q.FilterMeetingID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'amendment'::text AS type, a.id, coalesce(a.rationale, '') AS title,
				ts_headline('english', a.proposed_text, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				a.proposal_id, pr.meeting_id, a.status,
				ts_rank(%s, %s) AS rank
			FROM amendments a
			JOIN proposals pr ON pr.id = a.proposal_id
			WHERE %s`, tsQuery, amdVec, tsQuery, amdWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, proposal_id, meeting_id, status
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.ProposalID, &r.MeetingID, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ProposalRecord, []AmendmentRecord, error) {
	propRows, err := p.db.QueryContext(ctx, `
		SELECT pr.id, pr.title, coalesce(pr.summary, ''), coalesce(av.full_text, ''), pr.meeting_id, pr.status
		FROM proposals pr
		LEFT JOIN proposal_versions av ON av.proposal_id = pr.id AND av.is_active
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load proposals: %w", err)
	}
	defer propRows.Close()

	proposals := make([]ProposalRecord, 0)
	for propRows.Next() {
		var rec ProposalRecord
		if err := propRows.Scan(&rec.ID, &rec.Title, &rec.Summary, &rec.FullText, &rec.MeetingID, &rec.Status); err != nil {
			return nil, nil, fmt.Errorf("scan proposal: %w", err)
		}
		proposals = append(proposals, rec)
	}
	if err := propRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate proposals: %w", err)
	}

	amdRows, err := p.db.QueryContext(ctx, `
		SELECT a.id, a.proposed_text, coalesce(a.rationale, ''), a.proposal_id, pr.meeting_id, a.status
		FROM amendments a
		JOIN proposals pr ON pr.id = a.proposal_id
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load amendments: %w", err)
	}
	defer amdRows.Close()

	amendments := make([]AmendmentRecord, 0)
	for amdRows.Next() {
		var rec AmendmentRecord
		if err := amdRows.Scan(&rec.ID, &rec.ProposedText, &rec.Rationale, &rec.ProposalID, &rec.MeetingID, &rec.Status); err != nil {
			return nil, nil, fmt.Errorf("scan amendment: %w", err)
		}
		amendments = append(amendments, rec)
	}
	if err := amdRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate amendments: %w", err)
	}

	return proposals, amendments, nil
}
