package rankcache

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/echoface/rankcache/docindex"
)

func encodeInt(v uint64) []byte {
	return protowire.AppendVarint(nil, v)
}

func decodeInt(data []byte) (uint64, error) {
	v, n := protowire.ConsumeVarint(data)
	if n < 0 || n != len(data) {
		return 0, fmt.Errorf("malformed varint %x: %w", data, ErrConsistency)
	}
	return v, nil
}

// encodeDocIDs hit chunk layout: count followed by the docids, all varints
func encodeDocIDs(ids []docindex.DocID) []byte {
	buf := make([]byte, 0, len(ids)*3+2)
	buf = protowire.AppendVarint(buf, uint64(len(ids)))
	for _, id := range ids {
		buf = protowire.AppendVarint(buf, uint64(id))
	}
	return buf
}

func decodeDocIDs(data []byte) (docindex.DocIDList, error) {
	cnt, n := protowire.ConsumeVarint(data)
	if n < 0 {
		return nil, fmt.Errorf("malformed hit chunk header: %w", ErrConsistency)
	}
	data = data[n:]
	ids := make(docindex.DocIDList, 0, len(data))
	for len(data) > 0 {
		v, n := protowire.ConsumeVarint(data)
		if n < 0 {
			return nil, fmt.Errorf("malformed hit chunk body: %w", ErrConsistency)
		}
		ids = append(ids, docindex.DocID(v))
		data = data[n:]
	}
	if uint64(len(ids)) != cnt {
		return nil, fmt.Errorf("hit chunk count %d, decoded %d: %w", cnt, len(ids), ErrConsistency)
	}
	return ids, nil
}
