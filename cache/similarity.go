package cache

import (
	"sort"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const (
	shingleSize = 4
	sketchSize  = 128
)

// Sketch returns a bottom-k MinHash sketch of the word 4-shingles of text:
// the sketchSize smallest distinct shingle hashes, ascending.
func Sketch(text string) []uint64 {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		return nil
	}

	seen := make(map[uint64]struct{})
	if len(words) < shingleSize {
		seen[xxhash.Sum64String(strings.Join(words, " "))] = struct{}{}
	}
	for i := 0; i+shingleSize <= len(words); i++ {
		seen[xxhash.Sum64String(strings.Join(words[i:i+shingleSize], " "))] = struct{}{}
	}

	hashes := make([]uint64, 0, len(seen))
	for h := range seen {
		hashes = append(hashes, h)
	}
	sort.Slice(hashes, func(i, j int) bool { return hashes[i] < hashes[j] })
	if len(hashes) > sketchSize {
		hashes = hashes[:sketchSize]
	}
	return hashes
}

// Similarity estimates the Jaccard similarity of the shingle sets behind two
// sketches. Two empty sketches are identical.
func Similarity(a, b []uint64) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	k := min(sketchSize, max(len(a), len(b)))
	inA := make(map[uint64]struct{}, len(a))
	for _, h := range a {
		inA[h] = struct{}{}
	}
	inB := make(map[uint64]struct{}, len(b))
	for _, h := range b {
		inB[h] = struct{}{}
	}

	// bottom-k of the union, walked as a merge of two sorted lists
	union, shared := 0, 0
	i, j := 0, 0
	for union < k && (i < len(a) || j < len(b)) {
		var h uint64
		switch {
		case j >= len(b) || (i < len(a) && a[i] < b[j]):
			h = a[i]
			i++
		case i >= len(a) || b[j] < a[i]:
			h = b[j]
			j++
		default:
			h = a[i]
			i++
			j++
		}
		union++
		_, okA := inA[h]
		_, okB := inB[h]
		if okA && okB {
			shared++
		}
	}
	return float64(shared) / float64(union)
}
