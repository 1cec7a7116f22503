// Package classifier maps failures to categories using kind-based rules.
//
// A rule either names an exception.Kind or carries a predicate. Predicate rules are
// evaluated first, in declaration order. Kind rules are resolved against the failure's
// kind hierarchy: an exact match wins, otherwise the most specific registered ancestor.
package classifier

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

const module = "classifier"

// Rule associates a failure kind, or a predicate, with a category.
type Rule[C comparable] struct {
	Kind     exception.Kind
	Match    func(error) bool
	Category C
}

// For builds a kind rule.
func For[C comparable](kind exception.Kind, category C) Rule[C] {
	return Rule[C]{Kind: kind, Category: category}
}

// When builds a predicate rule.
func When[C comparable](match func(error) bool, category C) Rule[C] {
	return Rule[C]{Match: match, Category: category}
}

// Classifier resolves a failure to a category.
type Classifier[C comparable] struct {
	hierarchy  *exception.Hierarchy
	def        C
	predicates []Rule[C]
	kinds      map[exception.Kind]C
	order      map[exception.Kind]int
}

// New builds a classifier over exception.DefaultHierarchy.
func New[C comparable](def C, rules ...Rule[C]) (*Classifier[C], error) {
	return NewWithHierarchy(exception.DefaultHierarchy, def, rules...)
}

// MustNew is New that panics on a configuration error.
func MustNew[C comparable](def C, rules ...Rule[C]) *Classifier[C] {
	c, err := New(def, rules...)
	if err != nil {
		panic(err)
	}
	return c
}

// NewWithHierarchy builds a classifier over h. It fails when a rule names an
// unregistered kind, when a kind is given two categories, or when some registered
// kind would resolve to two equally specific rules with different categories.
func NewWithHierarchy[C comparable](h *exception.Hierarchy, def C, rules ...Rule[C]) (*Classifier[C], error) {
	c := &Classifier[C]{
		hierarchy: h,
		def:       def,
		kinds:     make(map[exception.Kind]C),
		order:     make(map[exception.Kind]int),
	}
	for i, r := range rules {
		if r.Match != nil {
			c.predicates = append(c.predicates, r)
			continue
		}
		if !h.IsRegistered(r.Kind) {
			return nil, exception.NewBatchErrorf(exception.KindConfiguration, module, "rule %d: '%s' is not a registered failure kind", i, r.Kind)
		}
		if prev, ok := c.kinds[r.Kind]; ok && prev != r.Category {
			return nil, exception.NewBatchErrorf(exception.KindConfiguration, module, "kind '%s' is mapped to both %v and %v", r.Kind, prev, r.Category)
		}
		c.kinds[r.Kind] = r.Category
		if _, ok := c.order[r.Kind]; !ok {
			c.order[r.Kind] = i
		}
	}
	for _, k := range h.Kinds() {
		if _, ambiguous := c.resolve(k); ambiguous != nil {
			return nil, exception.NewBatchErrorf(exception.KindConfiguration, module,
				"kind '%s' resolves ambiguously to rules %s", k, joinKinds(ambiguous))
		}
	}
	return c, nil
}

// Default returns the category used for nil and unmatched failures.
func (c *Classifier[C]) Default() C {
	return c.def
}

// Classify returns the category for err.
func (c *Classifier[C]) Classify(err error) C {
	if err == nil {
		return c.def
	}
	for _, r := range c.predicates {
		if r.Match(err) {
			return r.Category
		}
	}
	if len(c.kinds) == 0 {
		return c.def
	}
	match, ambiguous := c.resolve(exception.KindOf(err))
	if ambiguous != nil {
		// Only reachable when kinds were registered after construction.
		logger.Warnf("Failure kind '%s' matches rules %s equally; using the first declared.", exception.KindOf(err), joinKinds(ambiguous))
		return c.kinds[ambiguous[0]]
	}
	if match == "" {
		return c.def
	}
	return c.kinds[match]
}

// resolve finds the most specific rule kind covering kind. When two or more
// candidates are equally specific and disagree on the category, they are
// returned in declaration order as ambiguous.
func (c *Classifier[C]) resolve(kind exception.Kind) (exception.Kind, []exception.Kind) {
	if _, ok := c.kinds[kind]; ok {
		return kind, nil
	}
	dist := c.hierarchy.Distances(kind)

	var candidates []exception.Kind
	for k := range dist {
		if _, ok := c.kinds[k]; ok {
			candidates = append(candidates, k)
		}
	}
	if len(candidates) == 0 {
		return "", nil
	}

	// Drop candidates that are ancestors of another candidate.
	var specific []exception.Kind
	for _, a := range candidates {
		covered := false
		for _, b := range candidates {
			if a != b && c.hierarchy.IsA(b, a) {
				covered = true
				break
			}
		}
		if !covered {
			specific = append(specific, a)
		}
	}
	sort.Slice(specific, func(i, j int) bool {
		di, dj := dist[specific[i]], dist[specific[j]]
		if di != dj {
			return di < dj
		}
		return c.order[specific[i]] < c.order[specific[j]]
	})

	best := specific[0]
	var tied []exception.Kind
	for _, k := range specific[1:] {
		if dist[k] == dist[best] && c.kinds[k] != c.kinds[best] {
			tied = append(tied, k)
		}
	}
	if len(tied) > 0 {
		return "", append([]exception.Kind{best}, tied...)
	}
	return best, nil
}

func joinKinds(kinds []exception.Kind) string {
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = fmt.Sprintf("'%s'", k)
	}
	return strings.Join(parts, ", ")
}

// ParseKinds converts configured kind names to kinds, rejecting unregistered names.
func ParseKinds(names []string) ([]exception.Kind, error) {
	kinds := make([]exception.Kind, 0, len(names))
	for _, n := range names {
		k := exception.Kind(strings.TrimSpace(n))
		if !exception.DefaultHierarchy.IsRegistered(k) {
			return nil, exception.NewBatchErrorf(exception.KindConfiguration, module, "'%s' is not a registered failure kind", n)
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

// Binary builds a boolean classifier: kinds in include map to true, kinds in
// exclude map to false, everything else to def.
func Binary(def bool, include, exclude []exception.Kind) (*Classifier[bool], error) {
	rules := make([]Rule[bool], 0, len(include)+len(exclude))
	for _, k := range include {
		rules = append(rules, For(k, true))
	}
	for _, k := range exclude {
		rules = append(rules, For(k, false))
	}
	return New(def, rules...)
}
