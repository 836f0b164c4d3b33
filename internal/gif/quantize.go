package gif

import (
	"image/color"
	"sort"
)

const (
	bucketBits  = 5
	bucketCount = 1 << (3 * bucketBits)
)

// Quantizer accumulates a colour histogram over any number of RGBA buffers
// and reduces it to a palette with median cut. Colours are bucketed at 5 bits
// per channel; each bucket keeps the exact channel sums so palette entries are
// true means, not bucket centres.
type Quantizer struct {
	counts [bucketCount]uint32
	sums   [bucketCount][3]uint64
	pixels uint64
}

func NewQuantizer() *Quantizer {
	return &Quantizer{}
}

func bucketOf(r, g, b byte) int {
	return int(r>>3)<<10 | int(g>>3)<<5 | int(b>>3)
}

// Add folds an RGBA buffer into the histogram. Alpha is ignored; video frames
// are opaque.
func (q *Quantizer) Add(pix []byte) {
	for i := 0; i+3 < len(pix); i += 4 {
		r, g, b := pix[i], pix[i+1], pix[i+2]
		k := bucketOf(r, g, b)
		q.counts[k]++
		q.sums[k][0] += uint64(r)
		q.sums[k][1] += uint64(g)
		q.sums[k][2] += uint64(b)
	}
	q.pixels += uint64(len(pix) / 4)
}

func (q *Quantizer) Reset() {
	q.counts = [bucketCount]uint32{}
	q.sums = [bucketCount][3]uint64{}
	q.pixels = 0
}

func (q *Quantizer) Pixels() uint64 {
	return q.pixels
}

type cutBox struct {
	keys  []int
	count uint64
}

func channel(key, c int) int {
	return (key >> (uint(2-c) * bucketBits)) & (1<<bucketBits - 1)
}

// widest returns the channel with the largest spread in the box and that spread.
func (b *cutBox) widest() (int, int) {
	best, bestRange := 0, -1
	for c := 0; c < 3; c++ {
		lo, hi := 1<<bucketBits, -1
		for _, k := range b.keys {
			v := channel(k, c)
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		if hi-lo > bestRange {
			best, bestRange = c, hi-lo
		}
	}
	return best, bestRange
}

// Palette reduces the histogram to at most n colours. An empty histogram
// yields a single black entry.
func (q *Quantizer) Palette(n int) color.Palette {
	if n < 1 {
		n = 1
	}
	if n > 256 {
		n = 256
	}

	root := &cutBox{}
	for k, c := range q.counts {
		if c > 0 {
			root.keys = append(root.keys, k)
			root.count += uint64(c)
		}
	}
	if len(root.keys) == 0 {
		return color.Palette{color.RGBA{A: 0xff}}
	}

	boxes := []*cutBox{root}
	for len(boxes) < n {
		split, axis := -1, 0
		var bestScore uint64
		for i, b := range boxes {
			if len(b.keys) < 2 {
				continue
			}
			c, spread := b.widest()
			score := b.count * uint64(spread+1)
			if split == -1 || score > bestScore {
				split, axis, bestScore = i, c, score
			}
		}
		if split == -1 {
			break
		}
		lo, hi := q.cut(boxes[split], axis)
		boxes[split] = lo
		boxes = append(boxes, hi)
	}

	pal := make(color.Palette, 0, len(boxes))
	for _, b := range boxes {
		pal = append(pal, q.mean(b))
	}
	return pal
}

// cut splits a box at the population median along axis. Both halves keep at
// least one bucket.
func (q *Quantizer) cut(b *cutBox, axis int) (*cutBox, *cutBox) {
	sort.Slice(b.keys, func(i, j int) bool {
		vi, vj := channel(b.keys[i], axis), channel(b.keys[j], axis)
		if vi != vj {
			return vi < vj
		}
		return b.keys[i] < b.keys[j]
	})

	half := b.count / 2
	var acc uint64
	at := 1
	for i, k := range b.keys {
		acc += uint64(q.counts[k])
		if acc >= half {
			at = i + 1
			break
		}
	}
	if at >= len(b.keys) {
		at = len(b.keys) - 1
	}

	lo := &cutBox{keys: b.keys[:at:at]}
	hi := &cutBox{keys: b.keys[at:]}
	for _, k := range lo.keys {
		lo.count += uint64(q.counts[k])
	}
	hi.count = b.count - lo.count
	return lo, hi
}

func (q *Quantizer) mean(b *cutBox) color.RGBA {
	var r, g, bl, n uint64
	for _, k := range b.keys {
		r += q.sums[k][0]
		g += q.sums[k][1]
		bl += q.sums[k][2]
		n += uint64(q.counts[k])
	}
	if n == 0 {
		return color.RGBA{A: 0xff}
	}
	return color.RGBA{
		R: uint8((r + n/2) / n),
		G: uint8((g + n/2) / n),
		B: uint8((bl + n/2) / n),
		A: 0xff,
	}
}
