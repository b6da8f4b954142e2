// Package geoindex resolves free-form geography strings against the postal
// demographics index and loads that index from Census ZCTA shapefiles.
package geoindex

import (
	"regexp"
	"strings"
)

// Scope kinds, from narrowest to widest.
const (
	ScopePostal   = "postal"
	ScopeCity     = "city"
	ScopeStates   = "states"
	ScopeNational = "national"
)

// Scope is a parsed geography string.
type Scope struct {
	Kind       string
	PostalCode string
	City       string
	State      string
	States     []string
}

// Wide reports whether the scope spans enough postal codes that candidate
// expansion should narrow by density before scoring.
func (s Scope) Wide() bool {
	return s.Kind == ScopeStates || s.Kind == ScopeNational
}

var (
	postalRe = regexp.MustCompile(`^\d{5}$`)
	stateRe  = regexp.MustCompile(`^[A-Za-z]{2}$`)
)

// ParseScope classifies a geography string. Accepted forms:
//   - "78701"            single postal code
//   - "Austin, TX"       city within a state
//   - "TX" or "TX, OK"   one or more two-letter states
//   - "US" / "national"  the whole country
func ParseScope(geography string) Scope {
	g := strings.TrimSpace(geography)

	if postalRe.MatchString(g) {
		return Scope{Kind: ScopePostal, PostalCode: g}
	}

	lower := strings.ToLower(g)
	if lower == "us" || lower == "usa" || lower == "national" || lower == "united states" {
		return Scope{Kind: ScopeNational}
	}

	parts := strings.Split(g, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	allStates := len(parts) > 0
	for _, p := range parts {
		if !stateRe.MatchString(p) {
			allStates = false
			break
		}
	}
	if allStates {
		states := make([]string, len(parts))
		for i, p := range parts {
			states[i] = strings.ToUpper(p)
		}
		return Scope{Kind: ScopeStates, States: states}
	}

	if len(parts) == 2 && stateRe.MatchString(parts[1]) {
		return Scope{Kind: ScopeCity, City: parts[0], State: strings.ToUpper(parts[1])}
	}

	// Anything else is treated as a city name without a state qualifier.
	return Scope{Kind: ScopeCity, City: g}
}
