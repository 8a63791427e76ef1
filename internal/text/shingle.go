package text

import (
	"hash/fnv"
	"sort"
)

// Shingles hashes every overlapping k-rune window of s. The result is sorted
// and unique. Text shorter than k yields a single shingle of the whole text.
func Shingles(s string, k int) []uint64 {
	if s == "" {
		return nil
	}
	if k <= 0 {
		k = 1
	}
	runes := []rune(s)
	if len(runes) <= k {
		return []uint64{hash64(string(runes))}
	}

	set := make(map[uint64]struct{}, len(runes)-k+1)
	for i := 0; i+k <= len(runes); i++ {
		set[hash64(string(runes[i:i+k]))] = struct{}{}
	}
	out := make([]uint64, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Fingerprint hashes a sorted shingle set. Equal sets give equal fingerprints.
func Fingerprint(shingles []uint64) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, s := range shingles {
		for i := 0; i < 8; i++ {
			buf[i] = byte(s >> (8 * i))
		}
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}

// Jaccard computes |a∩b| / |a∪b| for two sorted unique sets
func Jaccard(a, b []uint64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	i, j, inter := 0, 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			inter++
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func hash64(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
