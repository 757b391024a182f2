package segment

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"time"

	"github.com/conceptrank/conceptrank/internal/indexer/index"
)

// On-disk layout of a .crsg file:
//
//	header (64) | postings | zstd(dict JSON) | zstd(meta JSON) | footer (32)
//
// The footer holds CRC32s of the two compressed blocks and the doc count.
const (
	MagicBytes    uint32 = 0x43525347
	FormatVersion uint32 = 3
	HeaderSize    int    = 64
	FooterSize    int    = 32
	FileExt              = ".crsg"
)

// SegmentHeader is the fixed header at offset 0. Offsets are absolute.
type SegmentHeader struct {
	Magic      uint32
	Version    uint32
	TermCount  uint32
	DocCount   uint32
	DictOffset int64
	DictSize   int64
	PostOffset int64
	PostSize   int64
	MetaOffset int64
	MetaSize   int64
}

// DictEntry locates one field/term postings list. PostOffset is relative
// to the start of the postings section.
type DictEntry struct {
	Field      string `json:"f"`
	Term       string `json:"t"`
	PostOffset int64  `json:"o"`
	PostLen    int    `json:"l"`
	DocFreq    int    `json:"d"`
}

// Meta holds the per-field document counts and the sorted IDs stored in a
// segment. Postings refer to documents by their index in DocIDs.
type Meta struct {
	FieldDocs map[string]int `json:"fields"`
	DocIDs    []string       `json:"docs"`
}

// Writer turns memory index snapshots into segment files in dataDir.
type Writer struct {
	dataDir string
}

func NewWriter(dataDir string) *Writer {
	return &Writer{dataDir: dataDir}
}

// Write stores snap as a new segment and returns its file name. The file
// is built under a .tmp name and renamed into place once synced.
func (w *Writer) Write(snap index.Snapshot) (string, error) {
	if len(snap.DocIDs) == 0 {
		return "", errors.New("cannot write empty segment")
	}
	if err := os.MkdirAll(w.dataDir, 0o755); err != nil {
		return "", fmt.Errorf("creating segment directory: %w", err)
	}
	name := fmt.Sprintf("seg_%020d%s", time.Now().UnixNano(), FileExt)
	final := filepath.Join(w.dataDir, name)
	tmp := final + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("creating temp segment file: %w", err)
	}
	defer os.Remove(tmp)
	defer f.Close()

	header, err := writeBody(f, snap)
	if err != nil {
		return "", err
	}
	if _, err := f.WriteAt(encodeHeader(header), 0); err != nil {
		return "", fmt.Errorf("writing header: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("syncing segment file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing segment file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return "", fmt.Errorf("renaming segment file: %w", err)
	}
	return name, nil
}

// writeBody writes everything after a zeroed header and returns the header
// describing it.
func writeBody(f *os.File, snap index.Snapshot) (SegmentHeader, error) {
	h := SegmentHeader{
		Magic:      MagicBytes,
		Version:    FormatVersion,
		TermCount:  uint32(len(snap.Entries)),
		DocCount:   uint32(len(snap.DocIDs)),
		PostOffset: int64(HeaderSize),
	}
	bw := bufio.NewWriterSize(f, 64<<10)
	if _, err := bw.Write(make([]byte, HeaderSize)); err != nil {
		return h, fmt.Errorf("reserving header: %w", err)
	}

	ordinal := make(map[string]uint64, len(snap.DocIDs))
	for i, id := range snap.DocIDs {
		ordinal[id] = uint64(i)
	}
	dict := make([]DictEntry, 0, len(snap.Entries))
	var buf []byte
	for _, e := range snap.Entries {
		var err error
		if buf, err = appendPostings(buf[:0], e.Postings, ordinal); err != nil {
			return h, fmt.Errorf("encoding postings for %s/%q: %w", e.Field, e.Term, err)
		}
		if _, err := bw.Write(buf); err != nil {
			return h, fmt.Errorf("writing postings: %w", err)
		}
		dict = append(dict, DictEntry{
			Field:      e.Field,
			Term:       e.Term,
			PostOffset: h.PostSize,
			PostLen:    len(buf),
			DocFreq:    len(e.Postings),
		})
		h.PostSize += int64(len(buf))
	}

	dictBlock, err := compressJSON(dict)
	if err != nil {
		return h, fmt.Errorf("encoding dictionary: %w", err)
	}
	metaBlock, err := compressJSON(Meta{FieldDocs: snap.FieldDocs, DocIDs: snap.DocIDs})
	if err != nil {
		return h, fmt.Errorf("encoding segment meta: %w", err)
	}
	h.DictOffset = h.PostOffset + h.PostSize
	h.DictSize = int64(len(dictBlock))
	h.MetaOffset = h.DictOffset + h.DictSize
	h.MetaSize = int64(len(metaBlock))

	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], crc32.ChecksumIEEE(dictBlock))
	binary.LittleEndian.PutUint32(footer[4:8], crc32.ChecksumIEEE(metaBlock))
	binary.LittleEndian.PutUint32(footer[8:12], h.DocCount)
	for _, b := range [][]byte{dictBlock, metaBlock, footer} {
		if _, err := bw.Write(b); err != nil {
			return h, fmt.Errorf("writing segment tail: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return h, fmt.Errorf("flushing segment: %w", err)
	}
	return h, nil
}

func compressJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return blockEncoder.EncodeAll(raw, nil), nil
}

func decompressJSON(block []byte, v any) error {
	raw, err := blockDecoder.DecodeAll(block, nil)
	if err != nil {
		return fmt.Errorf("decompressing: %w", err)
	}
	return json.Unmarshal(raw, v)
}

func encodeHeader(h SegmentHeader) []byte {
	b := make([]byte, 0, HeaderSize)
	for _, v := range []uint32{h.Magic, h.Version, h.TermCount, h.DocCount} {
		b = binary.LittleEndian.AppendUint32(b, v)
	}
	for _, v := range []int64{h.DictOffset, h.DictSize, h.PostOffset, h.PostSize, h.MetaOffset, h.MetaSize} {
		b = binary.LittleEndian.AppendUint64(b, uint64(v))
	}
	return b
}

func decodeHeader(b []byte) SegmentHeader {
	u32 := func(i int) uint32 { return binary.LittleEndian.Uint32(b[4*i:]) }
	i64 := func(i int) int64 { return int64(binary.LittleEndian.Uint64(b[16+8*i:])) }
	return SegmentHeader{
		Magic:      u32(0),
		Version:    u32(1),
		TermCount:  u32(2),
		DocCount:   u32(3),
		DictOffset: i64(0),
		DictSize:   i64(1),
		PostOffset: i64(2),
		PostSize:   i64(3),
		MetaOffset: i64(4),
		MetaSize:   i64(5),
	}
}
