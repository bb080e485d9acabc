package classify

import (
	"strings"
	"unicode"
)

// Similarity scores how well OCR text matches a reference string, from 0.0
// (no match) to 1.0 (identical after normalisation). It blends longest common
// subsequence, character overlap and trigram containment, which tolerates the
// dropped, doubled and confused characters typical of OCR output.
func Similarity(detected, reference string) float64 {
	d := normalizeText(detected)
	r := normalizeText(reference)
	if r == "" || d == "" {
		return 0.0
	}
	if d == r {
		return 1.0
	}

	lcsScore := float64(longestCommonSubsequence(d, r)) / float64(max(len(d), len(r)))
	overlap := characterOverlap(d, r)

	trigram := 0.0
	if len(r) >= 3 {
		matches, total := 0, 0
		for i := 0; i <= len(r)-3; i++ {
			total++
			if strings.Contains(d, r[i:i+3]) {
				matches++
			}
		}
		trigram = float64(matches) / float64(total)
	}

	return 0.45*lcsScore + 0.30*overlap + 0.25*trigram
}

// BestWordSimilarity returns the best Similarity between reference and any
// single word of text, so a keyword can match inside a longer consensus.
func BestWordSimilarity(text, reference string) float64 {
	best := 0.0
	for _, w := range strings.Fields(text) {
		if s := Similarity(w, reference); s > best {
			best = s
		}
	}
	return best
}

// normalizeText upper-cases and keeps only letters and digits.
func normalizeText(s string) string {
	s = strings.ToUpper(s)
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// longestCommonSubsequence works on bytes; inputs are normalised first.
func longestCommonSubsequence(a, b string) int {
	m, n := len(a), len(b)
	if m == 0 || n == 0 {
		return 0
	}

	prev := make([]int, n+1)
	curr := make([]int, n+1)
	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
			} else {
				curr[j] = max(prev[j], curr[j-1])
			}
		}
		prev, curr = curr, prev
	}
	return prev[n]
}

// characterOverlap is the fraction of reference characters present in detected.
func characterOverlap(detected, reference string) float64 {
	if len(reference) == 0 {
		return 0.0
	}
	counts := make(map[rune]int)
	for _, r := range detected {
		counts[r]++
	}
	matched, total := 0, 0
	for _, r := range reference {
		total++
		if counts[r] > 0 {
			counts[r]--
			matched++
		}
	}
	return float64(matched) / float64(total)
}
