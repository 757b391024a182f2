package index

type Posting struct {
	DocID     string `json:"id"`
	Frequency int    `json:"f"`
	Positions []int  `json:"p,omitempty"`
}

type PostingList []Posting

// TermEntry is one term's postings within a field, as written to a segment.
type TermEntry struct {
	Field    string
	Term     string
	Postings PostingList
}

// Snapshot is a point-in-time copy of a memory index.
type Snapshot struct {
	Entries   []TermEntry
	FieldDocs map[string]int
	DocIDs    []string
}
