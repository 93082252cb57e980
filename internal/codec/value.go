package codec

import (
	"math"

	"github.com/bobrenjc93/count/internal/bitstream"
)

// valueEncoder writes the XOR value stream: the first value as a raw
// 64-bit IEEE-754 pattern, and every subsequent value as an XOR against
// its predecessor, windowed by leading/trailing zero runs exactly as
// m3db's tsz encoder does.
type valueEncoder struct {
	w *bitstream.Writer

	count          int
	prevBits       uint64
	prevLeading    int
	prevTrailing   int
	havePrevWindow bool
}

func newValueEncoder(w *bitstream.Writer) *valueEncoder {
	return &valueEncoder{w: w}
}

func (e *valueEncoder) encode(v float64) {
	bits := math.Float64bits(v)
	if e.count == 0 {
		e.w.WriteBits(bits, 64)
		e.prevBits = bits
		e.count++
		return
	}

	xor := e.prevBits ^ bits
	if xor == 0 {
		e.w.WriteBit(0)
		e.prevBits = bits
		e.count++
		return
	}
	e.w.WriteBit(1)

	leading, trailing := leadingAndTrailingZeros(xor)
	if e.havePrevWindow && leading >= e.prevLeading && trailing >= e.prevTrailing {
		e.w.WriteBit(0)
		meaningful := 64 - e.prevLeading - e.prevTrailing
		e.w.WriteBits(xor>>uint(e.prevTrailing), meaningful)
	} else {
		e.w.WriteBit(1)
		// The leading-zero count is capped to what 5 bits can hold;
		// a cap only ever widens the meaningful-bit window with
		// extra (true) zero bits, never loses information.
		encLeading := leading
		if encLeading > 31 {
			encLeading = 31
		}
		meaningful := 64 - encLeading - trailing
		e.w.WriteBits(uint64(encLeading), 5)
		e.w.WriteBits(uint64(meaningful-1), 6)
		e.w.WriteBits(xor>>uint(trailing), meaningful)
		e.prevLeading = encLeading
		e.prevTrailing = trailing
		e.havePrevWindow = true
	}

	e.prevBits = bits
	e.count++
}

// leadingAndTrailingZeros returns the count of leading and trailing zero
// bits in v. For v == 0 it returns (64, 0), matching m3db's convention
// since that case is never reached for a nonzero XOR.
func leadingAndTrailingZeros(v uint64) (int, int) {
	if v == 0 {
		return 64, 0
	}
	leading := 0
	for mask := uint64(1) << 63; mask&v == 0; mask >>= 1 {
		leading++
	}
	trailing := 0
	for mask := uint64(1); mask&v == 0; mask <<= 1 {
		trailing++
	}
	return leading, trailing
}

// valueDecoder mirrors valueEncoder.
type valueDecoder struct {
	r *bitstream.Reader

	count        int
	prevBits     uint64
	prevLeading  int
	prevTrailing int
}

func newValueDecoder(r *bitstream.Reader) *valueDecoder {
	return &valueDecoder{r: r}
}

func (d *valueDecoder) decode() (float64, error) {
	if d.count == 0 {
		v, err := d.r.ReadBits(64)
		if err != nil {
			return 0, err
		}
		d.prevBits = v
		d.count++
		return math.Float64frombits(v), nil
	}

	zeroBit, err := d.r.ReadBit()
	if err != nil {
		return 0, err
	}
	if zeroBit == 0 {
		d.count++
		return math.Float64frombits(d.prevBits), nil
	}

	containedBit, err := d.r.ReadBit()
	if err != nil {
		return 0, err
	}

	var xor uint64
	if containedBit == 0 {
		meaningful := 64 - d.prevLeading - d.prevTrailing
		bits, err := d.r.ReadBits(meaningful)
		if err != nil {
			return 0, err
		}
		xor = bits << uint(d.prevTrailing)
	} else {
		leadingBits, err := d.r.ReadBits(5)
		if err != nil {
			return 0, err
		}
		meaningfulMinus1, err := d.r.ReadBits(6)
		if err != nil {
			return 0, err
		}
		leading := int(leadingBits)
		meaningful := int(meaningfulMinus1) + 1
		trailing := 64 - leading - meaningful
		bits, err := d.r.ReadBits(meaningful)
		if err != nil {
			return 0, err
		}
		xor = bits << uint(trailing)
		d.prevLeading = leading
		d.prevTrailing = trailing
	}

	d.prevBits ^= xor
	d.count++
	return math.Float64frombits(d.prevBits), nil
}
