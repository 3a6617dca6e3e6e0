package intent

import (
	"sort"
	"strings"
)

// hint maps a word or phrase onto a category. Genre hints stay in the
// free-text query so that they also match event tags and titles.
type hint struct {
	category string
	keep     bool
}

var (
	categoryHints = map[string]hint{}
	// fuzzyWords are the single-word hints eligible for edit-distance matching, sorted.
	fuzzyWords []string
)

func init() {
	add := func(category string, keep bool, words ...string) {
		for _, w := range words {
			categoryHints[w] = hint{category: category, keep: keep}
		}
	}

	add("concerts", false, "concert", "concerts", "music", "live music", "gig", "gigs", "band", "bands")
	add("concerts", true, "jazz", "blues", "rock", "punk", "metal", "folk", "indie", "country", "bluegrass",
		"hip hop", "hip-hop", "rap", "symphony", "orchestra", "classical", "acoustic", "singer-songwriter")
	add("sports", false, "sport", "sports", "game", "games", "match", "matches")
	add("sports", true, "football", "basketball", "baseball", "hockey", "soccer", "tennis", "golf", "wrestling", "boxing", "rodeo")
	add("family", false, "family", "families", "kids", "kid", "children", "child", "kid-friendly", "kid friendly",
		"family-friendly", "family friendly", "all ages", "all-ages")
	add("comedy", false, "comedy", "comedian", "comedians", "stand-up", "standup", "stand up", "funny")
	add("comedy", true, "improv")
	add("nightlife", false, "nightlife", "club", "clubs", "party", "parties", "bar", "bars", "night out")
	add("nightlife", true, "dj", "karaoke", "drag", "trivia")
	add("food", false, "food", "foodie", "eat", "eats", "drink", "drinks", "dining", "restaurant", "restaurants")
	add("food", true, "beer", "wine", "cocktail", "cocktails", "brunch", "tasting", "bbq", "barbecue")
	add("theater", false, "theater", "theatre", "play", "plays", "stage")
	add("theater", true, "musical", "musicals", "broadway", "ballet", "opera")
	add("festivals", false, "festival", "festivals", "fest", "fair", "fairs", "carnival")
	add("festivals", true, "parade")
	add("arts", false, "art", "arts", "gallery", "galleries", "exhibit", "exhibition", "museum", "museums")
	add("arts", true, "film", "films", "movie", "movies", "poetry", "craft", "crafts", "photography")
	add("community", false, "community", "volunteer", "volunteering", "meetup", "meetups", "charity", "fundraiser")
	add("community", true, "market", "farmers market", "workshop", "workshops", "class", "classes", "lecture", "talk")

	for _, c := range categoryOrder {
		if _, ok := categoryHints[c]; !ok {
			categoryHints[c] = hint{category: c}
		}
	}
	for w := range categoryHints {
		if !strings.Contains(w, " ") && len([]rune(w)) >= minFuzzyRunes {
			fuzzyWords = append(fuzzyWords, w)
		}
	}
	sort.Strings(fuzzyWords)
}

const minFuzzyRunes = 6

// categoryOrder breaks ties when one query hints at several categories.
var categoryOrder = []string{"family", "comedy", "theater", "festivals", "sports", "food", "arts", "nightlife", "community", "concerts"}

// matchCategory scans tokens for category hints. Two-word phrases are tried
// before single words. Only when nothing matches exactly does a word get a
// second chance at edit distance one, so "concrts" still maps to concerts.
// It returns the chosen category and the token indexes to remove from the
// query.
func matchCategory(tokens []string) (string, map[int]bool) {
	hits := exactHits(tokens)
	if len(hits) == 0 {
		hits = fuzzyHits(tokens)
	}
	if len(hits) == 0 {
		return "", nil
	}

	best := hits[0]
	for _, h := range hits[1:] {
		if rank(h.category) < rank(best.category) {
			best = h
		}
	}

	drop := make(map[int]bool)
	for _, h := range hits {
		if h.keep && h.category == best.category {
			continue
		}
		// Hints for other categories are dropped too; they narrowed
		// nothing and would only over-constrain the text match.
		for _, i := range h.idx {
			drop[i] = true
		}
	}
	return best.category, drop
}

type hintHit struct {
	category string
	idx      []int
	keep     bool
}

func exactHits(tokens []string) []hintHit {
	var hits []hintHit
	used := make(map[int]bool)
	for i := 0; i+1 < len(tokens); i++ {
		if h, ok := categoryHints[tokens[i]+" "+tokens[i+1]]; ok {
			hits = append(hits, hintHit{h.category, []int{i, i + 1}, h.keep})
			used[i], used[i+1] = true, true
		}
	}
	for i, tok := range tokens {
		if used[i] {
			continue
		}
		if h, ok := categoryHints[tok]; ok {
			hits = append(hits, hintHit{h.category, []int{i}, h.keep})
		}
	}
	return hits
}

func fuzzyHits(tokens []string) []hintHit {
	var hits []hintHit
	for i, tok := range tokens {
		if h, ok := fuzzyHint(tok); ok {
			hits = append(hits, hintHit{h.category, []int{i}, h.keep})
		}
	}
	return hits
}

// fuzzyHint accepts one dropped or extra letter in a long word. Substituted
// letters are refused: they turn too many real words into hints
// ("watches" and "matches", "glasses" and "classes").
func fuzzyHint(tok string) (hint, bool) {
	n := len([]rune(tok))
	if n < minFuzzyRunes {
		return hint{}, false
	}
	for _, word := range fuzzyWords {
		m := len([]rune(word))
		if (m == n+1 || m == n-1) && levenshteinDistance(tok, word) == 1 {
			return categoryHints[word], true
		}
	}
	return hint{}, false
}

func rank(category string) int {
	for i, c := range categoryOrder {
		if c == category {
			return i
		}
	}
	return len(categoryOrder)
}

// levenshteinDistance counts the single-rune edits needed to turn a into b.
func levenshteinDistance(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

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
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}
