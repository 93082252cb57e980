package codec

import "github.com/bobrenjc93/count/internal/bitstream"

// timestampEncoder writes the delta-of-delta timestamp stream described in
// the codec design: the first timestamp is a raw 64-bit value, the first
// delta is written with the same prefix-coded tiers as the delta-of-deltas
// (not as a zig-zag varint), and every subsequent delta-of-delta is
// prefix-coded into one of five tiers by magnitude (zero, then 7-, 9-,
// 12- and 64-bit signed payloads). The scheme mirrors the classic Gorilla
// paper encoding also found in m3db's tsz encoder.
type timestampEncoder struct {
	w *bitstream.Writer

	count int
	prevT int64
	prevD int64
}

func newTimestampEncoder(w *bitstream.Writer) *timestampEncoder {
	return &timestampEncoder{w: w}
}

func (e *timestampEncoder) encode(ts int64) {
	switch e.count {
	case 0:
		e.w.WriteBits(uint64(ts), 64)
	case 1:
		delta := ts - e.prevT
		e.prevD = delta
		writeDoD(e.w, delta)
	default:
		delta := ts - e.prevT
		dod := delta - e.prevD
		writeDoD(e.w, dod)
		e.prevD = delta
	}
	e.prevT = ts
	e.count++
}

// dodTier describes one prefix-coded magnitude bucket for delta-of-delta
// values: opcode/opcodeBits select the bucket, valueBits is the width of
// the signed payload that follows.
type dodTier struct {
	opcode     uint64
	opcodeBits int
	valueBits  int
	min, max   int64
}

var dodTiers = []dodTier{
	{opcode: 0b10, opcodeBits: 2, valueBits: 7, min: -64, max: 63},
	{opcode: 0b110, opcodeBits: 3, valueBits: 9, min: -256, max: 255},
	{opcode: 0b1110, opcodeBits: 4, valueBits: 12, min: -2048, max: 2047},
}

// wideValueBits is 64 rather than the spec's baseline 32 so that any
// delta-of-delta value representable by an int64 millisecond timestamp
// round-trips losslessly, per the codec contract's explicit allowance.
const (
	wideOpcode     = 0b1111
	wideOpcodeBits = 4
	wideValueBits  = 64
)

func writeDoD(w *bitstream.Writer, dod int64) {
	if dod == 0 {
		w.WriteBit(0)
		return
	}
	for _, tier := range dodTiers {
		if dod >= tier.min && dod <= tier.max {
			w.WriteBits(tier.opcode, tier.opcodeBits)
			w.WriteBits(uint64(dod)&mask(tier.valueBits), tier.valueBits)
			return
		}
	}
	w.WriteBits(wideOpcode, wideOpcodeBits)
	w.WriteBits(uint64(dod)&mask(wideValueBits), wideValueBits)
}

func mask(bits int) uint64 {
	if bits >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(bits)) - 1
}

// timestampDecoder is the mirror image of timestampEncoder.
type timestampDecoder struct {
	r *bitstream.Reader

	count int
	prevT int64
	prevD int64
}

func newTimestampDecoder(r *bitstream.Reader) *timestampDecoder {
	return &timestampDecoder{r: r}
}

func (d *timestampDecoder) decode() (int64, error) {
	switch d.count {
	case 0:
		v, err := d.r.ReadBits(64)
		if err != nil {
			return 0, err
		}
		d.prevT = int64(v)
	case 1:
		delta, err := readDoD(d.r)
		if err != nil {
			return 0, err
		}
		d.prevD = delta
		d.prevT += delta
	default:
		dod, err := readDoD(d.r)
		if err != nil {
			return 0, err
		}
		d.prevD += dod
		d.prevT += d.prevD
	}
	d.count++
	return d.prevT, nil
}

func readDoD(r *bitstream.Reader) (int64, error) {
	first, err := r.ReadBit()
	if err != nil {
		return 0, err
	}
	if first == 0 {
		return 0, nil
	}
	opcode := first
	for i, tier := range dodTiers {
		nextBit, err := r.ReadBit()
		if err != nil {
			return 0, err
		}
		opcode = (opcode << 1) | nextBit
		if opcode == tier.opcode {
			v, err := r.ReadBits(tier.valueBits)
			if err != nil {
				return 0, err
			}
			return signExtend(v, tier.valueBits), nil
		}
		_ = i
	}
	v, err := r.ReadBits(wideValueBits)
	if err != nil {
		return 0, err
	}
	return signExtend(v, wideValueBits), nil
}

// signExtend interprets the low numBits of v as a two's-complement signed
// integer and sign-extends it to a full int64.
func signExtend(v uint64, numBits int) int64 {
	shift := 64 - numBits
	return int64(v<<uint(shift)) >> uint(shift)
}
