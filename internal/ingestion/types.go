// Package ingestion defines the concept records read from MRCONSO and the
// Kafka event schema that carries them to the indexer.
package ingestion

import "time"

// Concept statuses stored in the catalogue.
const (
	StatusPending = "PENDING"
	StatusIndexed = "INDEXED"
	StatusFailed  = "FAILED"
)

// Source names a Concept exposes to the index schema.
const (
	SourceAUI = "aui"
	SourceCUI = "cui"
	SourceSUI = "sui"
	SourceStr = "str"
)

// Concept is one atom row of MRCONSO. AUI is unique and used as the
// document ID.
type Concept struct {
	AUI       string `json:"aui"`
	CUI       string `json:"cui"`
	SUI       string `json:"sui"`
	String    string `json:"str"`
	Language  string `json:"lat"`
	Source    string `json:"sab"`
	TermType  string `json:"tty"`
	Preferred bool   `json:"ispref"`
}

// SourceFields returns the values index fields may be derived from, keyed
// by source name.
func (c Concept) SourceFields() map[string]string {
	return map[string]string{
		SourceAUI: c.AUI,
		SourceCUI: c.CUI,
		SourceSUI: c.SUI,
		SourceStr: c.String,
	}
}

// ConceptEvent is the Kafka payload produced for every imported concept.
type ConceptEvent struct {
	Concept    Concept   `json:"concept"`
	ShardID    int       `json:"shard_id"`
	ImportedAt time.Time `json:"imported_at"`
}
