// Package block defines the on-disk/on-archive byte layout of a compressed
// run of points from one series, and the Codec-backed Encode/Decode pair
// that produces and consumes it. The header layout is fixed by the block
// file format contract; the body is produced by internal/codec.
package block

import (
	"encoding/binary"
	"fmt"

	"github.com/bobrenjc93/count/internal/codec"
	"github.com/bobrenjc93/count/internal/types"
)

const (
	// Magic identifies the block format: "TSB\0".
	Magic = uint32(0x54534200)

	// CodecVersion is the current codec version.
	CodecVersion = uint16(1)

	// HeaderSize is the fixed header: magic(4) + codec_version(2) +
	// flags(2) + point_count(8) + start_ts(8) + end_ts(8) +
	// timestamp_stream_length(4).
	HeaderSize = 36
)

// Block is an immutable, self-describing compressed run of points from one
// series.
type Block struct {
	CodecVersion uint16
	PointCount   uint64
	StartTS      int64
	EndTS        int64
	Raw          []byte
}

// Encode compresses points (sorted ascending by timestamp, len >= 1) into a
// self-describing block. It is the sole producer of the bit-exact layout
// described by the block file format contract; all integers are written
// little-endian.
func Encode(points []types.Point) (*Block, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("block: cannot encode zero points")
	}

	tsStream, valStream, err := codec.EncodeStreams(points)
	if err != nil {
		return nil, fmt.Errorf("block: encoding streams: %w", err)
	}

	startTS := points[0].Timestamp
	endTS := points[len(points)-1].Timestamp

	buf := make([]byte, HeaderSize+len(tsStream)+len(valStream))
	binary.LittleEndian.PutUint32(buf[0:4], Magic)
	binary.LittleEndian.PutUint16(buf[4:6], CodecVersion)
	binary.LittleEndian.PutUint16(buf[6:8], 0) // flags, reserved
	binary.LittleEndian.PutUint64(buf[8:16], uint64(len(points)))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(startTS))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(endTS))
	binary.LittleEndian.PutUint32(buf[32:36], uint32(len(tsStream)))
	copy(buf[HeaderSize:], tsStream)
	copy(buf[HeaderSize+len(tsStream):], valStream)

	return &Block{
		CodecVersion: CodecVersion,
		PointCount:   uint64(len(points)),
		StartTS:      startTS,
		EndTS:        endTS,
		Raw:          buf,
	}, nil
}

// Decode parses a raw block byte slice and validates its header. The
// returned Block's Raw field aliases the input slice.
func Decode(raw []byte) (*Block, error) {
	if len(raw) < HeaderSize {
		return nil, fmt.Errorf("block: truncated header (%d bytes): %w", len(raw), types.ErrCorruptBlock)
	}

	magic := binary.LittleEndian.Uint32(raw[0:4])
	if magic != Magic {
		return nil, fmt.Errorf("block: bad magic 0x%08x: %w", magic, types.ErrCorruptBlock)
	}

	version := binary.LittleEndian.Uint16(raw[4:6])
	if version != CodecVersion {
		return nil, fmt.Errorf("block: unsupported codec version %d: %w", version, types.ErrCorruptBlock)
	}

	pointCount := binary.LittleEndian.Uint64(raw[8:16])
	startTS := int64(binary.LittleEndian.Uint64(raw[16:24]))
	endTS := int64(binary.LittleEndian.Uint64(raw[24:32]))
	tsLen := binary.LittleEndian.Uint32(raw[32:36])

	if pointCount == 0 {
		return nil, fmt.Errorf("block: point_count is zero: %w", types.ErrCorruptBlock)
	}
	if startTS > endTS {
		return nil, fmt.Errorf("block: start_ts %d > end_ts %d: %w", startTS, endTS, types.ErrCorruptBlock)
	}
	if HeaderSize+int(tsLen) > len(raw) {
		return nil, fmt.Errorf("block: timestamp stream length %d exceeds block size: %w", tsLen, types.ErrCorruptBlock)
	}

	return &Block{
		CodecVersion: version,
		PointCount:   pointCount,
		StartTS:      startTS,
		EndTS:        endTS,
		Raw:          raw,
	}, nil
}

// Points decodes and returns the block's full point sequence.
func (b *Block) Points() ([]types.Point, error) {
	tsLen := binary.LittleEndian.Uint32(b.Raw[32:36])
	tsStream := b.Raw[HeaderSize : HeaderSize+int(tsLen)]
	valStream := b.Raw[HeaderSize+int(tsLen):]

	points, err := codec.DecodeStreams(tsStream, valStream, int(b.PointCount))
	if err != nil {
		return nil, fmt.Errorf("block: decoding points: %w", err)
	}
	return points, nil
}

// PointsInRange decodes the block and filters to points within [tLo, tHi].
// Callers should first check that the block's [StartTS, EndTS] intersects
// the requested range before calling this, to avoid needless decoding.
func (b *Block) PointsInRange(tLo, tHi int64) ([]types.Point, error) {
	points, err := b.Points()
	if err != nil {
		return nil, err
	}
	out := points[:0:0]
	for _, p := range points {
		if p.Timestamp >= tLo && p.Timestamp <= tHi {
			out = append(out, p)
		}
	}
	return out, nil
}

// Intersects reports whether [StartTS, EndTS] overlaps [tLo, tHi].
func (b *Block) Intersects(tLo, tHi int64) bool {
	return b.StartTS <= tHi && b.EndTS >= tLo
}
