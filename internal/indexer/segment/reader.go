package segment

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"sort"

	"github.com/conceptrank/conceptrank/internal/indexer/index"
	apperrors "github.com/conceptrank/conceptrank/pkg/errors"
)

// Reader serves lookups from an immutable segment file. The dictionary and
// field table are held in memory; postings are read on demand.
type Reader struct {
	file     *os.File
	filePath string
	header   SegmentHeader
	dict     []DictEntry
	meta     Meta
}

func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening segment file: %w", err)
	}
	r, err := load(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("segment %s: %w", path, err)
	}
	r.filePath = path
	return r, nil
}

func load(f *os.File) (*Reader, error) {
	buf := make([]byte, HeaderSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	h := decodeHeader(buf)
	switch {
	case h.Magic != MagicBytes:
		return nil, fmt.Errorf("not a segment file: magic %x", h.Magic)
	case h.Version != FormatVersion:
		return nil, fmt.Errorf("unsupported segment version %d", h.Version)
	}

	footer := make([]byte, FooterSize)
	if _, err := f.ReadAt(footer, h.MetaOffset+h.MetaSize); err != nil {
		return nil, fmt.Errorf("reading footer: %w", err)
	}
	r := &Reader{file: f, header: h}
	if err := readBlock(f, h.DictOffset, h.DictSize, binary.LittleEndian.Uint32(footer[0:4]), &r.dict); err != nil {
		return nil, fmt.Errorf("dictionary: %w", err)
	}
	if err := readBlock(f, h.MetaOffset, h.MetaSize, binary.LittleEndian.Uint32(footer[4:8]), &r.meta); err != nil {
		return nil, fmt.Errorf("meta: %w", err)
	}
	if len(r.meta.DocIDs) != int(h.DocCount) {
		return nil, fmt.Errorf("meta lists %d documents, header %d", len(r.meta.DocIDs), h.DocCount)
	}
	return r, nil
}

// readBlock reads a compressed JSON block, checks it against sum and
// decodes it into v.
func readBlock(f *os.File, off, size int64, sum uint32, v any) error {
	block := make([]byte, size)
	if _, err := f.ReadAt(block, off); err != nil {
		return fmt.Errorf("reading: %w", err)
	}
	if crc32.ChecksumIEEE(block) != sum {
		return errors.New("checksum mismatch")
	}
	return decompressJSON(block, v)
}

func (r *Reader) lookup(field, term string) (DictEntry, bool) {
	idx := sort.Search(len(r.dict), func(i int) bool {
		e := r.dict[i]
		if e.Field != field {
			return e.Field >= field
		}
		return e.Term >= term
	})
	if idx >= len(r.dict) || r.dict[idx].Field != field || r.dict[idx].Term != term {
		return DictEntry{}, false
	}
	return r.dict[idx], true
}

func (r *Reader) Search(field, term string) (index.PostingList, error) {
	entry, ok := r.lookup(field, term)
	if !ok {
		return nil, nil
	}
	postingsBytes := make([]byte, entry.PostLen)
	if _, err := r.file.ReadAt(postingsBytes, r.header.PostOffset+entry.PostOffset); err != nil {
		return nil, fmt.Errorf("reading postings: %w", err)
	}
	postings, err := decodePostings(postingsBytes, r.meta.DocIDs)
	if err != nil {
		return nil, fmt.Errorf("%s/%q: %w", field, term, err)
	}
	return postings, nil
}

// DocumentCount returns the number of documents in this segment that have
// at least one term in field.
func (r *Reader) DocumentCount(field string) (int64, error) {
	n, ok := r.meta.FieldDocs[field]
	if !ok {
		return 0, fmt.Errorf("%w: %q", apperrors.ErrUnknownField, field)
	}
	return int64(n), nil
}

// DocumentFrequency is answered from the dictionary without reading postings.
func (r *Reader) DocumentFrequency(field, term string) (int64, error) {
	if _, ok := r.meta.FieldDocs[field]; !ok {
		return 0, fmt.Errorf("%w: %q", apperrors.ErrUnknownField, field)
	}
	entry, ok := r.lookup(field, term)
	if !ok {
		return 0, nil
	}
	return int64(entry.DocFreq), nil
}

func (r *Reader) HasField(field string) bool {
	_, ok := r.meta.FieldDocs[field]
	return ok
}

// Candidates adds to into the IDs of documents whose field contains any of
// the terms.
func (r *Reader) Candidates(field string, terms []string, into map[string]struct{}) error {
	for _, term := range terms {
		postings, err := r.Search(field, term)
		if err != nil {
			return fmt.Errorf("term %q: %w", term, err)
		}
		for _, p := range postings {
			into[p.DocID] = struct{}{}
		}
	}
	return nil
}

func (r *Reader) DocIDs() []string {
	return r.meta.DocIDs
}

func (r *Reader) Terms() int {
	return len(r.dict)
}

func (r *Reader) DocCount() uint32 {
	return r.header.DocCount
}

func (r *Reader) Path() string {
	return r.filePath
}

func (r *Reader) Close() error {
	return r.file.Close()
}
