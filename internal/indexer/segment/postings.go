package segment

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/conceptrank/conceptrank/internal/indexer/index"
)

var errCorrupt = errors.New("corrupt postings")

// The dictionary and meta blocks are zstd frames. Both coders are safe for
// concurrent EncodeAll/DecodeAll calls.
var (
	blockEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	blockDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
)

// appendPostings encodes list after dst. Documents are written as deltas of
// their ordinal in the segment's sorted DocIDs, so list must be in DocID
// order. Positions are delta-encoded signed varints.
//
//	count | { docDelta freq npos { posDelta } }
func appendPostings(dst []byte, list index.PostingList, ordinal map[string]uint64) ([]byte, error) {
	dst = binary.AppendUvarint(dst, uint64(len(list)))
	var prev uint64
	for i, p := range list {
		ord, ok := ordinal[p.DocID]
		if !ok {
			return nil, fmt.Errorf("posting for unknown document %q", p.DocID)
		}
		if i > 0 && ord <= prev {
			return nil, fmt.Errorf("postings out of order at %q", p.DocID)
		}
		dst = binary.AppendUvarint(dst, ord-prev)
		prev = ord
		dst = binary.AppendUvarint(dst, uint64(p.Frequency))
		dst = binary.AppendUvarint(dst, uint64(len(p.Positions)))
		last := 0
		for _, pos := range p.Positions {
			dst = binary.AppendVarint(dst, int64(pos-last))
			last = pos
		}
	}
	return dst, nil
}

func decodePostings(b []byte, docIDs []string) (index.PostingList, error) {
	d := varintReader{buf: b}
	n := d.uvarint()
	if d.err != nil || n > uint64(len(b)) {
		return nil, errCorrupt
	}
	list := make(index.PostingList, 0, n)
	var ord uint64
	for i := uint64(0); i < n; i++ {
		ord += d.uvarint()
		freq := d.uvarint()
		npos := d.uvarint()
		if d.err != nil || ord >= uint64(len(docIDs)) || npos > uint64(len(d.buf)) {
			return nil, errCorrupt
		}
		p := index.Posting{DocID: docIDs[ord], Frequency: int(freq)}
		if npos > 0 {
			p.Positions = make([]int, npos)
			last := 0
			for j := range p.Positions {
				last += int(d.varint())
				p.Positions[j] = last
			}
		}
		list = append(list, p)
	}
	if d.err != nil || len(d.buf) != 0 {
		return nil, errCorrupt
	}
	return list, nil
}

type varintReader struct {
	buf []byte
	err error
}

func (r *varintReader) uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, k := binary.Uvarint(r.buf)
	if k <= 0 {
		r.err = errCorrupt
		return 0
	}
	r.buf = r.buf[k:]
	return v
}

func (r *varintReader) varint() int64 {
	if r.err != nil {
		return 0
	}
	v, k := binary.Varint(r.buf)
	if k <= 0 {
		r.err = errCorrupt
		return 0
	}
	r.buf = r.buf[k:]
	return v
}
