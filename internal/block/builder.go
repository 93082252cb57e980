package block

import (
	"fmt"

	"github.com/bobrenjc93/count/internal/types"
)

// BuildBlocks groups a contiguous, timestamp-sorted run of points into one
// or more encoded blocks, splitting whenever the accumulated count would
// exceed maxPoints. Points must already be sorted ascending by timestamp;
// callers (the flush path) are responsible for that.
func BuildBlocks(points []types.Point, maxPoints int) ([]*Block, error) {
	if len(points) == 0 {
		return nil, nil
	}
	if maxPoints <= 0 {
		maxPoints = len(points)
	}

	var blocks []*Block
	for start := 0; start < len(points); start += maxPoints {
		end := start + maxPoints
		if end > len(points) {
			end = len(points)
		}
		blk, err := Encode(points[start:end])
		if err != nil {
			return nil, fmt.Errorf("block: building chunk [%d:%d]: %w", start, end, err)
		}
		blocks = append(blocks, blk)
	}
	return blocks, nil
}
