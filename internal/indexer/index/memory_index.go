package index

import (
	"fmt"
	"sort"
	"sync"

	"github.com/conceptrank/conceptrank/internal/indexer/tokenizer"
	apperrors "github.com/conceptrank/conceptrank/pkg/errors"
)

// MemoryIndex is a mutable multi-field inverted index. Fields are declared
// up front; lookups on undeclared fields fail with ErrUnknownField.
type MemoryIndex struct {
	mu        sync.RWMutex
	fields    map[string]map[string]map[string]*Posting
	fieldDocs map[string]int
	docIDs    map[string]struct{}
	size      int64
}

func NewMemoryIndex(fields ...string) *MemoryIndex {
	m := &MemoryIndex{}
	m.init(fields)
	return m
}

func (m *MemoryIndex) init(fields []string) {
	m.fields = make(map[string]map[string]map[string]*Posting, len(fields))
	m.fieldDocs = make(map[string]int, len(fields))
	for _, f := range fields {
		m.fields[f] = make(map[string]map[string]*Posting)
		m.fieldDocs[f] = 0
	}
	m.docIDs = make(map[string]struct{})
	m.size = 0
}

// AddDocument indexes the analyzed tokens of each field. A field with no
// tokens does not count the document for that field.
func (m *MemoryIndex) AddDocument(docID string, fieldTokens map[string][]tokenizer.Token) error {
	perField := make(map[string]map[string]*Posting, len(fieldTokens))
	for field, tokens := range fieldTokens {
		termData := make(map[string]*Posting)
		for _, token := range tokens {
			p, exists := termData[token.Term]
			if !exists {
				p = &Posting{
					DocID:     docID,
					Positions: make([]int, 0, 4),
				}
				termData[token.Term] = p
			}
			p.Frequency++
			p.Positions = append(p.Positions, token.Position)
		}
		perField[field] = termData
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for field := range perField {
		if _, ok := m.fields[field]; !ok {
			return fmt.Errorf("%w: %q", apperrors.ErrUnknownField, field)
		}
	}
	if _, exists := m.docIDs[docID]; exists {
		return fmt.Errorf("%w: %s", apperrors.ErrDocumentExists, docID)
	}
	for field, termData := range perField {
		terms := m.fields[field]
		for term, posting := range termData {
			if _, exists := terms[term]; !exists {
				terms[term] = make(map[string]*Posting)
			}
			terms[term][docID] = posting
			m.size += int64(len(field) + len(term) + len(docID) + len(posting.Positions)*8 + 64)
		}
		if len(termData) > 0 {
			m.fieldDocs[field]++
		}
	}
	m.docIDs[docID] = struct{}{}
	return nil
}

func (m *MemoryIndex) Search(field, term string) PostingList {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs, exists := m.fields[field][term]
	if !exists {
		return nil
	}
	result := make(PostingList, 0, len(docs))
	for _, posting := range docs {
		result = append(result, *posting)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].DocID < result[j].DocID
	})
	return result
}

func (m *MemoryIndex) DocumentCount(field string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.fieldDocs[field]
	if !ok {
		return 0, fmt.Errorf("%w: %q", apperrors.ErrUnknownField, field)
	}
	return int64(n), nil
}

func (m *MemoryIndex) DocumentFrequency(field, term string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	terms, ok := m.fields[field]
	if !ok {
		return 0, fmt.Errorf("%w: %q", apperrors.ErrUnknownField, field)
	}
	return int64(len(terms[term])), nil
}

// Candidates adds to into the IDs of documents whose field contains any of
// the terms.
func (m *MemoryIndex) Candidates(field string, terms []string, into map[string]struct{}) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, term := range terms {
		for docID := range m.fields[field][term] {
			into[docID] = struct{}{}
		}
	}
}

func (m *MemoryIndex) Contains(docID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.docIDs[docID]
	return ok
}

// Snapshot copies the index contents, sorted by field then term.
func (m *MemoryIndex) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]TermEntry, 0)
	for field, terms := range m.fields {
		for term, docs := range terms {
			postings := make(PostingList, 0, len(docs))
			for _, posting := range docs {
				postings = append(postings, *posting)
			}
			sort.Slice(postings, func(i, j int) bool {
				return postings[i].DocID < postings[j].DocID
			})
			entries = append(entries, TermEntry{
				Field:    field,
				Term:     term,
				Postings: postings,
			})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Field != entries[j].Field {
			return entries[i].Field < entries[j].Field
		}
		return entries[i].Term < entries[j].Term
	})
	fieldDocs := make(map[string]int, len(m.fieldDocs))
	for f, n := range m.fieldDocs {
		fieldDocs[f] = n
	}
	docIDs := make([]string, 0, len(m.docIDs))
	for id := range m.docIDs {
		docIDs = append(docIDs, id)
	}
	sort.Strings(docIDs)
	return Snapshot{Entries: entries, FieldDocs: fieldDocs, DocIDs: docIDs}
}

func (m *MemoryIndex) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

func (m *MemoryIndex) DocCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docIDs)
}

// Reset drops all documents and keeps the declared fields.
func (m *MemoryIndex) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	fields := make([]string, 0, len(m.fields))
	for f := range m.fields {
		fields = append(fields, f)
	}
	m.init(fields)
}
