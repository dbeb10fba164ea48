package query

import (
	"errors"
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	bq "github.com/blevesearch/bleve/v2/search/query"

	"github.com/AvraamMavridis/lore/internal/domain"
)

// MaxBatchSize is the maximum number of documents per indexing batch.
const MaxBatchSize = 100

// ErrEmptyQuery is returned by RankedSearch for a blank query.
var ErrEmptyQuery = errors.New("query must not be empty")

// Hit is one ranked search match.
type Hit struct {
	Entry *domain.Entry `json:"entry" yaml:"entry"`
	Score float64       `json:"score" yaml:"score"`
}

// RankedResult is a relevance-ordered list of matches.
type RankedResult struct {
	Hits    []Hit  `json:"hits" yaml:"hits"`
	Total   uint64 `json:"total" yaml:"total"`
	Skipped int    `json:"skipped" yaml:"skipped"`
}

// CreateIndexMapping returns the search mapping for entry documents.
func CreateIndexMapping() mapping.IndexMapping {
	docMapping := bleve.NewDocumentMapping()

	for _, field := range []string{domain.DocFieldIntent, domain.DocFieldReasoning, domain.DocFieldTags, domain.DocFieldAlternatives} {
		text := bleve.NewTextFieldMapping()
		text.Analyzer = standard.Name
		text.IncludeTermVectors = true
		docMapping.AddFieldMappingsAt(field, text)
	}

	for _, field := range []string{domain.DocFieldAgent, domain.DocFieldFiles} {
		kw := bleve.NewTextFieldMapping()
		kw.Analyzer = keyword.Name
		docMapping.AddFieldMappingsAt(field, kw)
	}

	idField := bleve.NewTextFieldMapping()
	idField.Index = false
	idField.Store = true
	docMapping.AddFieldMappingsAt(domain.DocFieldID, idField)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = standard.Name
	return indexMapping
}

// RankedSearch scores every readable entry against query with a full-text
// index built in memory for this call. Intent matches weigh most, then
// tags, then reasoning and rejected alternatives.
func (q *Engine) RankedSearch(query string, limit int) (result *RankedResult, err error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	all, err := q.collect()
	if err != nil {
		return nil, err
	}
	result = &RankedResult{Hits: []Hit{}, Skipped: all.Skipped}
	if len(all.Entries) == 0 {
		return result, nil
	}

	idx, err := bleve.NewMemOnly(CreateIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create search index: %w", err)
	}
	defer func() {
		if cerr := idx.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	byID := make(map[string]*domain.Entry, len(all.Entries))
	batch := idx.NewBatch()
	for _, e := range all.Entries {
		byID[e.ID] = e
		if err := batch.Index(e.ID, e.Document()); err != nil {
			return nil, fmt.Errorf("failed to index entry %s: %w", e.ID, err)
		}
		if batch.Size() >= MaxBatchSize {
			if err := idx.Batch(batch); err != nil {
				return nil, fmt.Errorf("batch index failed: %w", err)
			}
			batch = idx.NewBatch()
		}
	}
	if batch.Size() > 0 {
		if err := idx.Batch(batch); err != nil {
			return nil, fmt.Errorf("final batch index failed: %w", err)
		}
	}

	size := limit
	if size <= 0 {
		size = len(all.Entries)
	}
	req := bleve.NewSearchRequestOptions(buildQuery(query), size, 0, false)
	res, err := idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	result.Total = res.Total
	for _, h := range res.Hits {
		if e, ok := byID[h.ID]; ok {
			result.Hits = append(result.Hits, Hit{Entry: e, Score: h.Score})
		}
	}
	return result, nil
}

func buildQuery(text string) bq.Query {
	field := func(name string, boost float64) bq.Query {
		m := bleve.NewMatchQuery(text)
		m.SetField(name)
		m.SetBoost(boost)
		return m
	}
	prefix := bleve.NewPrefixQuery(strings.ToLower(text))
	prefix.SetField(domain.DocFieldIntent)

	return bleve.NewDisjunctionQuery(
		field(domain.DocFieldIntent, 3.0),
		field(domain.DocFieldTags, 2.0),
		field(domain.DocFieldReasoning, 1.0),
		field(domain.DocFieldAlternatives, 1.0),
		prefix,
	)
}
