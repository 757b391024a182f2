package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/conceptrank/conceptrank/internal/indexer/index"
	"github.com/conceptrank/conceptrank/internal/indexer/segment"
	"github.com/conceptrank/conceptrank/internal/indexer/tokenizer"
	"github.com/conceptrank/conceptrank/pkg/config"
	apperrors "github.com/conceptrank/conceptrank/pkg/errors"
)

// Document is a concept as handed to the engine. Fields holds raw source
// values keyed by source name; the schema decides which index fields are
// derived from each.
type Document struct {
	ID     string
	Fields map[string]string
}

// Engine owns one in-memory index plus the immutable segments flushed from
// it. Statistics are summed over both, so an Engine is a complete
// TermStatisticsProvider for its shard.
type Engine struct {
	mu          sync.RWMutex
	memIndex    *index.MemoryIndex
	writer      *segment.Writer
	readers     []*segment.Reader
	loaded      map[string]struct{}
	segmentDocs map[string]struct{}
	schema      map[string]config.FieldConfig
	cfg         config.IndexerConfig
	logger      *slog.Logger
}

func NewEngine(cfg config.IndexerConfig) (*Engine, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating index data directory: %w", err)
	}
	schema := make(map[string]config.FieldConfig, len(cfg.Fields))
	for _, f := range cfg.Fields {
		schema[f.Name] = f
	}
	e := &Engine{
		memIndex:    index.NewMemoryIndex(cfg.FieldNames()...),
		writer:      segment.NewWriter(cfg.DataDir),
		loaded:      make(map[string]struct{}),
		segmentDocs: make(map[string]struct{}),
		schema:      schema,
		cfg:         cfg,
		logger:      slog.Default().With("component", "indexer", "data_dir", cfg.DataDir),
	}
	if _, err := e.ReloadSegments(); err != nil {
		return nil, fmt.Errorf("loading existing segments: %w", err)
	}
	return e, nil
}

// IndexDocument analyzes every schema field from the document's source
// values and adds the result to the memory index. IDs already present in the
// engine are rejected with ErrDocumentExists.
func (e *Engine) IndexDocument(doc Document) error {
	fieldTokens := make(map[string][]tokenizer.Token, len(e.schema))
	var tokenCount int
	for name, f := range e.schema {
		tokens, err := tokenizer.Analyze(f.Analyzer, f.NgramSize, doc.Fields[f.Source])
		if err != nil {
			return fmt.Errorf("analyzing field %s: %w", name, err)
		}
		fieldTokens[name] = tokens
		tokenCount += len(tokens)
	}

	e.mu.RLock()
	_, flushed := e.segmentDocs[doc.ID]
	var err error
	if flushed {
		err = fmt.Errorf("%w: %s", apperrors.ErrDocumentExists, doc.ID)
	} else {
		err = e.memIndex.AddDocument(doc.ID, fieldTokens)
	}
	e.mu.RUnlock()
	if err != nil {
		return err
	}

	e.logger.Debug("document indexed in memory",
		"doc_id", doc.ID,
		"token_count", tokenCount,
		"mem_size", e.memIndex.Size(),
	)
	if e.cfg.SegmentMaxSize > 0 && e.memIndex.Size() >= e.cfg.SegmentMaxSize {
		e.logger.Info("memory index reached max size, flushing to disk",
			"size", e.memIndex.Size(),
			"threshold", e.cfg.SegmentMaxSize,
		)
		if err := e.Flush(); err != nil {
			return fmt.Errorf("flushing memory index: %w", err)
		}
	}
	return nil
}

// Flush writes the memory index to a new segment and resets it. Lookups are
// blocked for the duration so statistics never miss or double count.
func (e *Engine) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	snapshot := e.memIndex.Snapshot()
	if len(snapshot.DocIDs) == 0 {
		return nil
	}
	segmentName, err := e.writer.Write(snapshot)
	if err != nil {
		return fmt.Errorf("writing segment: %w", err)
	}
	reader, err := segment.OpenReader(filepath.Join(e.cfg.DataDir, segmentName))
	if err != nil {
		return fmt.Errorf("opening new segment for reading: %w", err)
	}
	e.readers = append(e.readers, reader)
	e.loaded[segmentName] = struct{}{}
	for _, id := range snapshot.DocIDs {
		e.segmentDocs[id] = struct{}{}
	}
	e.memIndex.Reset()
	e.logger.Info("segment flushed",
		"segment", segmentName,
		"terms", reader.Terms(),
		"docs", reader.DocCount(),
		"active_segments", len(e.readers),
	)
	return nil
}

// ReloadSegments opens segment files in the data directory that this engine
// has not loaded yet, e.g. those written by an indexer process. It returns
// the number of segments added.
func (e *Engine) ReloadSegments() (int, error) {
	entries, err := os.ReadDir(e.cfg.DataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading data directory: %w", err)
	}
	segFiles := make([]string, 0)
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), segment.FileExt) {
			segFiles = append(segFiles, entry.Name())
		}
	}
	sort.Strings(segFiles)

	e.mu.Lock()
	defer e.mu.Unlock()
	added := 0
	for _, name := range segFiles {
		if _, ok := e.loaded[name]; ok {
			continue
		}
		reader, err := segment.OpenReader(filepath.Join(e.cfg.DataDir, name))
		if err != nil {
			e.logger.Error("failed to open segment, skipping",
				"segment", name,
				"error", err,
			)
			continue
		}
		e.readers = append(e.readers, reader)
		e.loaded[name] = struct{}{}
		for _, id := range reader.DocIDs() {
			e.segmentDocs[id] = struct{}{}
		}
		added++
		e.logger.Info("loaded segment",
			"segment", name,
			"terms", reader.Terms(),
			"docs", reader.DocCount(),
		)
	}
	return added, nil
}

func (e *Engine) checkField(field string) error {
	if _, ok := e.schema[field]; !ok {
		return fmt.Errorf("%w: %q", apperrors.ErrUnknownField, field)
	}
	return nil
}

// DocumentCount returns the number of documents with at least one term in
// field, across the memory index and all segments.
func (e *Engine) DocumentCount(field string) (int64, error) {
	if err := e.checkField(field); err != nil {
		return 0, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	total, err := e.memIndex.DocumentCount(field)
	if err != nil {
		return 0, err
	}
	for _, r := range e.readers {
		if !r.HasField(field) {
			continue
		}
		n, err := r.DocumentCount(field)
		if err != nil {
			return 0, fmt.Errorf("segment %s: %w", r.Path(), err)
		}
		total += n
	}
	return total, nil
}

// DocumentFrequency returns the number of documents whose field contains
// term. Document IDs are unique per engine, so per-segment counts add up.
func (e *Engine) DocumentFrequency(field, term string) (int64, error) {
	if err := e.checkField(field); err != nil {
		return 0, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	total, err := e.memIndex.DocumentFrequency(field, term)
	if err != nil {
		return 0, err
	}
	for _, r := range e.readers {
		if !r.HasField(field) {
			continue
		}
		df, err := r.DocumentFrequency(field, term)
		if err != nil {
			return 0, fmt.Errorf("segment %s: %w", r.Path(), err)
		}
		total += df
	}
	return total, nil
}

// Candidates returns the IDs of documents whose field contains any of terms.
func (e *Engine) Candidates(field string, terms []string) (map[string]struct{}, error) {
	if err := e.checkField(field); err != nil {
		return nil, err
	}
	result := make(map[string]struct{})
	if len(terms) == 0 {
		return result, nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	e.memIndex.Candidates(field, terms, result)
	for _, r := range e.readers {
		if !r.HasField(field) {
			continue
		}
		if err := r.Candidates(field, terms, result); err != nil {
			return nil, fmt.Errorf("segment %s: %w", r.Path(), err)
		}
	}
	return result, nil
}

// TotalDocs returns the number of documents in the engine.
func (e *Engine) TotalDocs() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return int64(e.memIndex.DocCount() + len(e.segmentDocs))
}

func (e *Engine) SegmentCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.readers)
}

// StartFlushLoop flushes the memory index every FlushInterval and once more
// when ctx is cancelled.
func (e *Engine) StartFlushLoop(ctx context.Context) {
	e.runEvery(ctx, e.cfg.FlushInterval, func() {
		if e.memIndex.DocCount() > 0 {
			if err := e.Flush(); err != nil {
				e.logger.Error("periodic flush failed", "error", err)
			}
		}
	}, func() {
		e.logger.Info("flush loop stopping, performing final flush")
		if err := e.Flush(); err != nil {
			e.logger.Error("final flush failed", "error", err)
		}
	})
}

func (e *Engine) runEvery(ctx context.Context, interval time.Duration, tick func(), stop func()) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				if stop != nil {
					stop()
				}
				return
			case <-ticker.C:
				tick()
			}
		}
	}()
}

func (e *Engine) Close() error {
	if err := e.Flush(); err != nil {
		e.logger.Error("final flush on close failed", "error", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, reader := range e.readers {
		if err := reader.Close(); err != nil {
			e.logger.Error("closing segment reader", "error", err)
		}
	}
	e.readers = nil
	e.loaded = make(map[string]struct{})
	return nil
}
