// Package codec implements the Gorilla-style compression scheme: timestamps
// via delta-of-delta, values via XOR with a remembered leading/trailing
// zero window. It is a pure, I/O-free transform between an ordered sequence
// of points and the two byte streams that make up a block's body, grounded
// on the classic tsz encoder/iterator found in m3db's encoding package.
package codec

import (
	"fmt"

	"github.com/bobrenjc93/count/internal/bitstream"
	"github.com/bobrenjc93/count/internal/types"
)

// EncodeStreams compresses points (which must already be sorted by
// timestamp; callers ensure this) into separate timestamp and value
// byte streams. points must be non-empty.
func EncodeStreams(points []types.Point) (timestampStream, valueStream []byte, err error) {
	if len(points) == 0 {
		return nil, nil, fmt.Errorf("codec: cannot encode zero points")
	}

	tw := bitstream.NewWriter()
	vw := bitstream.NewWriter()
	te := newTimestampEncoder(tw)
	ve := newValueEncoder(vw)

	for _, p := range points {
		te.encode(p.Timestamp)
		ve.encode(p.Value)
	}

	return tw.Bytes(), vw.Bytes(), nil
}

// DecodeStreams reconstructs pointCount points from the timestamp and
// value streams produced by EncodeStreams.
func DecodeStreams(timestampStream, valueStream []byte, pointCount int) ([]types.Point, error) {
	if pointCount <= 0 {
		return nil, fmt.Errorf("codec: pointCount must be >= 1: %w", types.ErrCorruptBlock)
	}

	tr := bitstream.NewReader(timestampStream)
	vr := bitstream.NewReader(valueStream)
	td := newTimestampDecoder(tr)
	vd := newValueDecoder(vr)

	points := make([]types.Point, pointCount)
	for i := 0; i < pointCount; i++ {
		ts, err := td.decode()
		if err != nil {
			return nil, fmt.Errorf("codec: decoding timestamp %d/%d: %w", i, pointCount, types.ErrCorruptBlock)
		}
		v, err := vd.decode()
		if err != nil {
			return nil, fmt.Errorf("codec: decoding value %d/%d: %w", i, pointCount, types.ErrCorruptBlock)
		}
		points[i] = types.Point{Timestamp: ts, Value: v}
	}
	return points, nil
}
