// Package filter implements the addfilter collaborator: a small, cloneable
// predicate chain over outbound senblks. The filter compiler itself (parsing
// a filter expression language) is out of scope per spec.md §1; this package
// only needs to support "clone existing filters when duplicating an
// interface" (spec.md §4.H, §6 addfilter).
package filter

import "github.com/nmeabus/nmeabus/senblk"

// Predicate reports whether a senblk passes the filter.
type Predicate func(*senblk.Senblk) bool

// Chain is an ordered list of predicates, all of which must pass.
type Chain struct {
	preds []Predicate
}

// New builds a Chain from zero or more predicates.
func New(preds ...Predicate) *Chain {
	return &Chain{preds: preds}
}

// Allow reports whether s passes every predicate in the chain. A nil chain
// allows everything, matching "no filter configured".
func (c *Chain) Allow(s *senblk.Senblk) bool {
	if c == nil {
		return true
	}
	for _, p := range c.preds {
		if !p(s) {
			return false
		}
	}
	return true
}

// Clone returns a copy with its own predicate slice holding the same
// predicates (predicates are stateless functions, so this is the addfilter
// "ref-count a filter" behaviour without needing actual refcounting).
func (c *Chain) Clone() *Chain {
	if c == nil {
		return nil
	}
	cp := make([]Predicate, len(c.preds))
	copy(cp, c.preds)
	return &Chain{preds: cp}
}
