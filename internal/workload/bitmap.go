package workload

import "math/bits"

type bitmap struct {
	words []uint64
	n     int
}

func newBitmap(n int) bitmap {
	return bitmap{words: make([]uint64, (n+63)/64), n: n}
}

func (b bitmap) Len() int { return b.n }

func (b bitmap) Set(i int) { b.words[i/64] |= 1 << (i % 64) }

func (b bitmap) Test(i int) bool { return b.words[i/64]&(1<<(i%64)) != 0 }

func (b bitmap) Count() int {
	n := 0
	for _, w := range b.words {
		n += bits.OnesCount64(w)
	}
	return n
}
