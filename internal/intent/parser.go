// Package intent turns a free-text event query into a structured search
// filter. Parsing is rule based and deterministic: every relative date is
// resolved against a caller-supplied reference time.
package intent

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/kalambet/whatson/internal/search"
)

var (
	priceCeiling = regexp.MustCompile(`\b(?:under|below|less\s+than|cheaper\s+than|max(?:imum)?|up\s+to|at\s+most|no\s+more\s+than)\s*\$\s*(\d+(?:\.\d+)?)|\b(?:under|below|less\s+than|cheaper\s+than|up\s+to|at\s+most|no\s+more\s+than)\s+(\d+(?:\.\d+)?)\s*(?:dollars|bucks|usd)?\b|\$\s*(\d+(?:\.\d+)?)\s*(?:or\s+less|or\s+under|and\s+under|max)\b`)
	freePrice    = regexp.MustCompile(`\bfree\b`)
	outdoorOn    = regexp.MustCompile(`\b(?:outdoors?|outside|open[\s-]air)\b`)
	outdoorOff   = regexp.MustCompile(`\bindoors?\b`)

	// placePrefix finds capitalised place names in the original text:
	// "at <Venue>" and "in|near|around <Area>".
	placePrefix = regexp.MustCompile(`\b((?i:at|in|near|around))\s+((?:[A-Z][\w'&.-]*)(?:\s+(?:[A-Z][\w'&.-]*|of|the|and))*)`)
)

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "any": true, "some": true, "me": true, "i": true, "i'm": true, "im": true,
	"is": true, "are": true, "there": true, "what": true, "what's": true, "whats": true, "where": true,
	"event": true, "events": true, "thing": true, "things": true, "something": true, "stuff": true,
	"to": true, "do": true, "go": true, "going": true, "on": true, "happening": true, "find": true,
	"show": true, "list": true, "want": true, "looking": true, "for": true, "in": true, "at": true,
	"near": true, "around": true, "with": true, "and": true, "or": true, "please": true, "can": true,
	"you": true, "good": true, "fun": true, "cool": true, "nearby": true, "of": true, "this": true, "next": true,
	"that": true, "we": true, "my": true, "get": true, "tickets": true, "ticket": true,
}

// Parse derives a search intent from query, resolving relative dates
// against now in now's location. Empty or unrecognised input is not an
// error: the intent keeps the raw text and whatever words were left over as
// the free-text query, with every other field unset.
func Parse(query string, now time.Time) search.Intent {
	in := search.Intent{Raw: query}
	text := strings.TrimSpace(query)
	if text == "" {
		return in
	}

	text = extractPlaces(text, &in)
	s := strings.ToLower(text)

	in.Start, in.End, s = resolveDates(s, now)

	if loc := priceCeiling.FindStringSubmatchIndex(s); loc != nil {
		for g := 1; g <= 3; g++ {
			if loc[2*g] >= 0 {
				if v, err := strconv.ParseFloat(s[loc[2*g]:loc[2*g+1]], 64); err == nil {
					in.PriceMax = &v
				}
				break
			}
		}
		s = blank(s, loc[0], loc[1])
	} else if loc := freePrice.FindStringIndex(s); loc != nil {
		zero := 0.0
		in.PriceMax = &zero
		s = blank(s, loc[0], loc[1])
	}

	if loc := outdoorOn.FindStringIndex(s); loc != nil {
		v := true
		in.Outdoor = &v
		s = blank(s, loc[0], loc[1])
	} else if loc := outdoorOff.FindStringIndex(s); loc != nil {
		v := false
		in.Outdoor = &v
		s = blank(s, loc[0], loc[1])
	}

	tokens := tokenize(s)
	var content []string
	for _, tok := range tokens {
		if !stopwords[tok] {
			content = append(content, tok)
		}
	}
	category, drop := matchCategory(content)
	in.Category = category

	var rest []string
	for i, tok := range content {
		if !drop[i] {
			rest = append(rest, tok)
		}
	}
	in.Query = strings.Join(rest, " ")
	return in
}

// extractPlaces pulls a venue ("at X") and an area ("in X") out of the
// original-case text and returns the text with them removed. Capitalised
// month and weekday names are left for the date rules.
func extractPlaces(text string, in *search.Intent) string {
	matches := placePrefix.FindAllStringSubmatchIndex(text, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		m := matches[i]
		name := strings.TrimRight(text[m[4]:m[5]], " .")
		name = trimTrailingJoiners(name)
		first := strings.ToLower(strings.Fields(name)[0])
		if _, ok := months[first]; ok {
			continue
		}
		if _, ok := weekdays[first]; ok {
			continue
		}
		if _, ok := categoryHints[first]; ok {
			continue
		}
		switch strings.ToLower(text[m[2]:m[3]]) {
		case "at":
			if in.Venue == "" {
				in.Venue = name
			}
		default:
			if in.Location == "" {
				in.Location = name
			}
		}
		text = text[:m[0]] + strings.Repeat(" ", m[1]-m[0]) + text[m[1]:]
	}
	return text
}

func trimTrailingJoiners(name string) string {
	words := strings.Fields(name)
	for len(words) > 1 {
		switch words[len(words)-1] {
		case "of", "the", "and":
			words = words[:len(words)-1]
			continue
		}
		break
	}
	return strings.Join(words, " ")
}

func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '\'')
	})
}
