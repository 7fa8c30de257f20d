package retriever

import (
	"context"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/sahilm/fuzzy"

	"tabula/dataset"
)

const defaultTopK = 10

// queryStopwords are skipped when tokenizing a question. Fuzzy matching
// short function words against column values produces only noise.
var queryStopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "of": {}, "in": {}, "on": {},
	"for": {}, "and": {}, "or": {}, "to": {}, "is": {}, "are": {},
	"what": {}, "which": {}, "how": {}, "with": {}, "by": {},
}

// LexicalRetriever ranks indexed dataset columns against a query with
// fuzzy matching. It needs no embedding model, which keeps retrieval
// usable offline; callers wanting semantic recall can plug any other
// Retriever into the agent instead.
type LexicalRetriever struct {
	mu   sync.RWMutex
	docs []ColumnDoc
	topK int
}

// NewLexicalRetriever returns a retriever keeping the topK best columns
// per query. topK <= 0 selects the default of 10.
func NewLexicalRetriever(topK int) *LexicalRetriever {
	if topK <= 0 {
		topK = defaultTopK
	}
	return &LexicalRetriever{topK: topK}
}

// AddTable indexes the columns of a locally read table under fileName.
// Re-adding the same file replaces its previous columns, so a dataset
// that changed on disk can be indexed again.
func (r *LexicalRetriever) AddTable(fileName string, t *dataset.Table) {
	stats := t.ColumnStats()
	fresh := make([]ColumnDoc, 0, len(stats))
	for _, s := range stats {
		fresh = append(fresh, ColumnDoc{
			FileName: fileName,
			Column:   s.Name,
			Dtype:    s.Kind.String(),
			Values:   s.Distinct,
			NUnique:  s.NUnique,
		})
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	kept := make([]ColumnDoc, 0, len(r.docs)+len(fresh))
	for _, doc := range r.docs {
		if doc.FileName != fileName {
			kept = append(kept, doc)
		}
	}
	r.docs = append(kept, fresh...)
}

// Retrieve scores every indexed column against the query terms and
// returns the topK matches, best first. A query with no usable terms or
// no matching columns yields no docs and no error.
func (r *LexicalRetriever) Retrieve(ctx context.Context, query string) ([]ColumnDoc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	terms := queryTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	r.mu.RLock()
	docs := r.docs
	r.mu.RUnlock()
	if len(docs) == 0 {
		return nil, nil
	}

	targets := make([]string, len(docs))
	for i, doc := range docs {
		targets[i] = doc.Column + " " + strings.Join(doc.Values, " ")
	}

	scores := make(map[int]int)
	for _, term := range terms {
		for _, match := range fuzzy.Find(term, targets) {
			scores[match.Index] += match.Score
		}
	}
	if len(scores) == 0 {
		return nil, nil
	}

	ranked := make([]int, 0, len(scores))
	for i := range scores {
		ranked = append(ranked, i)
	}
	sort.Slice(ranked, func(a, b int) bool {
		if scores[ranked[a]] != scores[ranked[b]] {
			return scores[ranked[a]] > scores[ranked[b]]
		}
		return ranked[a] < ranked[b]
	})
	if len(ranked) > r.topK {
		ranked = ranked[:r.topK]
	}

	out := make([]ColumnDoc, len(ranked))
	for i, idx := range ranked {
		out[i] = docs[idx]
	}
	return out, nil
}

// queryTerms splits a question into match terms, dropping stopwords and
// single runes.
func queryTerms(query string) []string {
	fields := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < 2 {
			continue
		}
		if _, skip := queryStopwords[strings.ToLower(f)]; skip {
			continue
		}
		terms = append(terms, f)
	}
	return terms
}

var _ Retriever = (*LexicalRetriever)(nil)
