package resolve

import "strings"

// similarity returns a string similarity score in [0, 1] built from
// normalized Levenshtein distance, with a floor for substring containment so
// partial company-name queries still score usefully.
func similarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	score := 1 - float64(levenshtein(a, b))/float64(max(len(a), len(b)))
	if strings.Contains(b, a) || strings.Contains(a, b) {
		contained := float64(min(len(a), len(b))) / float64(max(len(a), len(b)))
		// Containment floor: "apple" inside "apple inc" should score high.
		if floor := 0.5 + contained/2; floor > score {
			score = floor
		}
	}
	if score < 0 {
		score = 0
	}
	return score
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}
