// Package names scores strings as likely person names, using reference sets
// of known first and last names.
package names

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	firstNameScore  = 0.5
	lastNameScore   = 0.5
	middleNameScore = 0.1
)

// Result is the outcome of validating a candidate name.
type Result struct {
	Raw        string  `json:"raw"`
	FirstName  string  `json:"firstName,omitempty"`
	LastName   string  `json:"lastName,omitempty"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
	HasMiddle  bool    `json:"hasMiddle"`
}

// Valid reports whether the candidate is more likely than not a person name.
func (r Result) Valid() bool {
	return r.Confidence > 0.5
}

// Validator scores candidate names against a [Dictionary].
// It is safe for concurrent use.
type Validator struct {
	dict func() *Dictionary
}

// NewValidator creates a [Validator] backed by d.
func NewValidator(d *Dictionary) *Validator {
	return &Validator{dict: func() *Dictionary { return d }}
}

// NewLazyValidator creates a [Validator] that loads its dictionary from src
// on first use.
func NewLazyValidator(src Source) *Validator {
	l := NewLazy(src)

	return &Validator{dict: l.Dictionary}
}

// Validate scores candidate.
//
// The candidate is split on whitespace. Candidates with fewer than two
// tokens score 0. The first token scores 0.5 when it is a known first name
// and the last token scores 0.5 when it is a known last name. A three token
// candidate scores another 0.1 when its middle token is an initial ("M" or
// "M.") or a known first name. The total never exceeds 1.
//
// Every candidate scores 0 when either name list is empty.
func (v *Validator) Validate(candidate string) Result {
	res := Result{Raw: candidate}

	parts := strings.Fields(candidate)
	if len(parts) < 2 {
		res.Reason = "name must have at least 2 parts (first and last)"
		return res
	}

	d := v.dict()

	res.FirstName = parts[0]
	res.LastName = parts[len(parts)-1]

	if !d.Complete() {
		res.Reason = "name dictionary unavailable"
		return res
	}

	reasons := make([]string, 0, 3)

	if d.IsFirstName(res.FirstName) {
		res.Confidence += firstNameScore
		reasons = append(reasons, "first name recognized")
	} else {
		reasons = append(reasons, "first name not in database")
	}

	if d.IsLastName(res.LastName) {
		res.Confidence += lastNameScore
		reasons = append(reasons, "last name recognized")
	} else {
		reasons = append(reasons, "last name not in database")
	}

	if len(parts) == 3 {
		middle := parts[1]

		switch {
		case isInitial(middle):
			res.HasMiddle = true
			res.Confidence += middleNameScore
			reasons = append(reasons, "has middle initial")
		case d.IsFirstName(middle):
			res.HasMiddle = true
			res.Confidence += middleNameScore
			reasons = append(reasons, "has middle name")
		}
	}

	res.Confidence = min(res.Confidence, 1.0)
	res.Reason = strings.Join(reasons, "; ")

	return res
}

// isInitial reports whether s is a single letter, optionally followed by
// a period.
func isInitial(s string) bool {
	s = strings.TrimSuffix(s, ".")
	if utf8.RuneCountInString(s) != 1 {
		return false
	}

	r, _ := utf8.DecodeRuneInString(s)

	return unicode.IsLetter(r)
}
