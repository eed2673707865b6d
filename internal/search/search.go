package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultProposal  ResultType = "proposal"
	ResultAmendment ResultType = "amendment"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type       ResultType `json:"type"`
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Snippet    string     `json:"snippet"`
	ProposalID string     `json:"proposalId"`
	MeetingID  string     `json:"meetingId"`
	Status     string     `json:"status,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text            string
	FilterType      ResultType // empty = all types
	FilterMeetingID string
	Limit           int
	Offset          int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexProposal(p ProposalRecord) error
	IndexAmendment(a AmendmentRecord) error
	DeleteProposal(id string) error
	DeleteAmendment(id string) error
}

// ProposalRecord is the data we index for a proposal, including the text of
// its active version.
type ProposalRecord struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Summary   string `json:"summary"`
	FullText  string `json:"fullText"`
	MeetingID string `json:"meetingId"`
	Status    string `json:"status"`
}

// AmendmentRecord is the data we index for an amendment.
type AmendmentRecord struct {
	ID           string `json:"id"`
	ProposedText string `json:"proposedText"`
	Rationale    string `json:"rationale"`
	ProposalID   string `json:"proposalId"`
	MeetingID    string `json:"meetingId"`
	Status       string `json:"status"`
}
