package search

import (
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	bleveQuery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/pders01/apodtok/internal/apod"
)

type bleveEngine struct {
	idx   bleve.Index
	local *Engine
}

// NewBleveEngine creates an in-memory index. Items only live for the
// session; nothing is written to disk.
func NewBleveEngine() (Index, error) {
	idx, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, err
	}
	return &bleveEngine{idx: idx, local: NewEngine()}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	im.DefaultAnalyzer = standard.Name

	dm := bleve.NewDocumentMapping()

	title := bleve.NewTextFieldMapping()
	title.Analyzer = standard.Name
	title.Store = true
	title.IncludeTermVectors = true

	explanation := bleve.NewTextFieldMapping()
	explanation.Analyzer = standard.Name
	explanation.Store = false

	copyright := bleve.NewTextFieldMapping()
	copyright.Analyzer = standard.Name
	copyright.Store = true

	// stored verbatim to rebuild results
	verbatim := func() *mapping.FieldMapping {
		fm := bleve.NewTextFieldMapping()
		fm.Analyzer = keyword.Name
		fm.Store = true
		fm.Index = false
		return fm
	}

	dm.AddFieldMappingsAt("title", title)
	dm.AddFieldMappingsAt("explanation", explanation)
	dm.AddFieldMappingsAt("copyright", copyright)
	dm.AddFieldMappingsAt("date", verbatim())
	dm.AddFieldMappingsAt("media_type", verbatim())
	dm.AddFieldMappingsAt("url", verbatim())
	dm.AddFieldMappingsAt("hdurl", verbatim())

	im.DefaultMapping = dm
	return im
}

func (b *bleveEngine) Index(items []apod.Item) error {
	batch := b.idx.NewBatch()
	for _, item := range items {
		if err := batch.Index(item.Key(), map[string]any{
			"title":       item.Title,
			"explanation": item.Explanation,
			"copyright":   item.Copyright,
			"date":        item.Date.String(),
			"media_type":  string(item.MediaType),
			"url":         item.URL,
			"hdurl":       item.HDURL,
		}); err != nil {
			return err
		}
	}
	if err := b.idx.Batch(batch); err != nil {
		return err
	}
	// keeps full explanations for snippets
	return b.local.Index(items)
}

func (b *bleveEngine) Search(query string, limit int) ([]*Result, error) {
	if len(strings.TrimSpace(query)) < 2 {
		return []*Result{}, nil
	}
	if limit <= 0 {
		limit = 20
	}

	tokens := tokenize(query)
	var qs []bleveQuery.Query
	for _, tok := range tokens {
		qs = append(qs, fieldQueries(tok, "title", 4.0)...)
		qs = append(qs, fieldQueries(tok, "explanation", 2.0)...)
		qs = append(qs, fieldQueries(tok, "copyright", 1.0)...)
	}
	if len(qs) == 0 {
		return []*Result{}, nil
	}

	q := bleve.NewDisjunctionQuery(qs...)
	srch := bleve.NewSearchRequestOptions(q, limit, 0, false)
	srch.Fields = []string{"title", "copyright", "date", "media_type", "url", "hdurl"}
	res, err := b.idx.Search(srch)
	if err != nil {
		return nil, err
	}

	out := make([]*Result, 0, len(res.Hits))
	for _, h := range res.Hits {
		item, ok := b.itemFor(h.ID, h.Fields)
		if !ok {
			continue
		}
		r := &Result{Item: item, Score: h.Score}
		if local, _ := b.local.SearchInItem(item, query); len(local) > 0 {
			r.Matches = local[0].Matches
		}
		out = append(out, r)
	}
	return out, nil
}

// fieldQueries builds a match and a prefix query for one token, the
// prefix slightly below the match.
func fieldQueries(tok, field string, boost float64) []bleveQuery.Query {
	m := bleve.NewMatchQuery(tok)
	m.SetField(field)
	m.SetBoost(boost)

	p := bleve.NewPrefixQuery(strings.ToLower(tok))
	p.SetField(field)
	p.SetBoost(boost * 0.85)

	return []bleveQuery.Query{m, p}
}

func (b *bleveEngine) itemFor(id string, fields map[string]interface{}) (apod.Item, bool) {
	b.local.mu.RLock()
	item, ok := b.local.items[id]
	b.local.mu.RUnlock()
	if ok {
		return item, true
	}

	str := func(k string) string {
		s, _ := fields[k].(string)
		return s
	}
	date, err := apod.ParseDate(str("date"))
	if err != nil {
		return apod.Item{}, false
	}
	return apod.Item{
		Title:     str("title"),
		Date:      date,
		MediaType: apod.MediaType(str("media_type")),
		URL:       str("url"),
		HDURL:     str("hdurl"),
		Copyright: str("copyright"),
	}, true
}

func (b *bleveEngine) SearchInItem(item apod.Item, query string) ([]*Result, error) {
	return b.local.SearchInItem(item, query)
}

// DocCount reports total documents in the index.
func (b *bleveEngine) DocCount() (int, error) {
	n, err := b.idx.DocCount()
	return int(n), err
}
