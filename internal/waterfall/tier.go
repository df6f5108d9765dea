// Package waterfall resolves a lead's CPF through an ordered cascade of
// lookup tiers, cheapest first, stopping at the first accepted candidate.
package waterfall

import "context"

// Query carries the lead fields a tier may search on. Phone is already
// normalized (digits only, national prefix stripped) by the time a tier
// sees it.
type Query struct {
	Phone string
	Email string
	Name  string
}

// Empty reports whether the query has nothing to search on.
func (q Query) Empty() bool {
	return q.Phone == "" && q.Email == "" && q.Name == ""
}

// Candidate is a possible identity match returned by a single tier.
type Candidate struct {
	Identifier string  // CPF, digits only
	Name       string  // name as known to the tier, may be empty
	Confidence float64 // tier's own confidence in the match, 0..1
}

// Tier is one lookup provider in the waterfall. Lookup returns (nil, nil)
// for a clean "no candidate"; an error means the tier itself failed and the
// cascade moves on.
type Tier interface {
	Name() string
	Lookup(ctx context.Context, q Query) (*Candidate, error)
}

// Match is the accepted outcome of a waterfall resolution.
type Match struct {
	Identifier  string
	Source      string // tier name that produced the match
	MatchedName string
	Confidence  float64
}
