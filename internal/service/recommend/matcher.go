package recommend

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/rufuslabs/rufus/backend/internal/model/catalog"
)

const (
	// Tags are a stronger relevance signal than free text.
	tagWeight  = 3
	textWeight = 1

	// DefaultLimit caps the result set when the caller passes no limit.
	DefaultLimit = 3
)

// Result is the transient outcome of one matching request. Fallback marks
// results produced by the no-match sampling path.
type Result struct {
	Message  string            `json:"message"`
	Products []catalog.Product `json:"products"`
	Fallback bool              `json:"-"`
}

// Matcher ranks catalog products against a free-text query. It is pure
// in-memory computation and never calls the external model.
type Matcher struct {
	store *catalog.Store
	limit int
}

// NewMatcher binds a matcher to the loaded catalog.
func NewMatcher(store *catalog.Store, limit int) *Matcher {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Matcher{store: store, limit: limit}
}

type scored struct {
	product    catalog.Product
	score      int
	matchedTag string
}

// Match scores every product against the query and returns at most the
// configured number of products, ordered by descending score with load
// order breaking ties. A query matching nothing falls back to a
// reproducible sample of the catalog head so the agent always has
// something to suggest.
func (m *Matcher) Match(query string) Result {
	products := m.store.All()
	if len(products) == 0 {
		return Result{
			Message:  "Rufus: I'm sorry, but our product catalog seems to be empty at the moment.",
			Products: []catalog.Product{},
		}
	}

	tokens := tokenize(query)

	candidates := make([]scored, 0, len(products))
	for _, p := range products {
		s := scoreProduct(p, tokens)
		if s.score == 0 {
			continue
		}
		candidates = append(candidates, s)
	}

	if len(candidates) == 0 {
		sample := products
		if len(sample) > m.limit {
			sample = sample[:m.limit]
		}
		return Result{
			Message: fmt.Sprintf(
				"Rufus: I couldn't find an exact match for %q, but here are some suggestions you might like.", query),
			Products: sample,
			Fallback: true,
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	if len(candidates) > m.limit {
		candidates = candidates[:m.limit]
	}

	matched := make([]catalog.Product, 0, len(candidates))
	for _, c := range candidates {
		matched = append(matched, c.product)
	}

	message := fmt.Sprintf("Rufus: Okay, for your query %q, I've looked through our products. Here are some recommendations:", query)
	if top := candidates[0]; top.matchedTag != "" {
		message = fmt.Sprintf("Rufus: Okay, for your query %q, I found a match on %q. Here are some recommendations:", query, top.matchedTag)
	}

	return Result{Message: message, Products: matched}
}

// scoreProduct counts how many query tokens appear in the product's tags
// and free text. Each token contributes at most once per bucket.
func scoreProduct(p catalog.Product, tokens []string) scored {
	result := scored{product: p}

	text := strings.ToLower(p.Name + " " + p.Description)
	for _, token := range tokens {
		for _, tag := range p.Tags {
			if strings.Contains(strings.ToLower(tag), token) {
				result.score += tagWeight
				if result.matchedTag == "" {
					result.matchedTag = tag
				}
				break
			}
		}
		if strings.Contains(text, token) {
			result.score += textWeight
		}
	}

	return result
}

// tokenize lowercases the query and splits it on whitespace and
// punctuation, dropping duplicate tokens while keeping first-seen order.
func tokenize(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(strings.TrimSpace(query)), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]struct{}, len(fields))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		tokens = append(tokens, f)
	}
	return tokens
}
