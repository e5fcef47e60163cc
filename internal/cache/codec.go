package cache

import (
	"encoding/binary"
	"math"
	"time"
)

// entryHeader lengths: created-at unix nano (int64), ttl nanoseconds
// (int64), version tag length (uint32), version tag bytes, payload bytes.
// A fixed-width header keeps Redis values binary-safe without needing a
// JSON envelope for every cache tier -- JSON already carries the payload
// itself for the query/feature namespaces.
func encodeEntry(e Entry) []byte {
	tag := []byte(e.VersionTag)
	buf := make([]byte, 8+8+4+len(tag)+len(e.Payload))
	binary.LittleEndian.PutUint64(buf[0:8], uint64(e.CreatedAt.UnixNano()))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(e.TTL))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(len(tag)))
	copy(buf[20:20+len(tag)], tag)
	copy(buf[20+len(tag):], e.Payload)
	return buf
}

func decodeEntry(buf []byte) (Entry, bool) {
	if len(buf) < 20 {
		return Entry{}, false
	}
	createdAt := time.Unix(0, int64(binary.LittleEndian.Uint64(buf[0:8])))
	ttl := time.Duration(binary.LittleEndian.Uint64(buf[8:16]))
	tagLen := int(binary.LittleEndian.Uint32(buf[16:20]))
	if 20+tagLen > len(buf) {
		return Entry{}, false
	}
	tag := string(buf[20 : 20+tagLen])
	payload := append([]byte(nil), buf[20+tagLen:]...)
	return Entry{Payload: payload, CreatedAt: createdAt, TTL: ttl, VersionTag: tag}, true
}

// EncodeVector packs a []float32 embedding into a compact fixed-width
// binary form for the embed:* cache namespace.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], math.Float32bits(x))
	}
	return buf
}

// DecodeVector unpacks a vector encoded by EncodeVector. Returns false if
// buf's length isn't a multiple of 4 bytes.
func DecodeVector(buf []byte) ([]float32, bool) {
	if len(buf)%4 != 0 {
		return nil, false
	}
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4 : i*4+4]))
	}
	return out, true
}
