package search

import (
	"context"
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
)

// keywordIndex wraps the embedded BM25 index colocated with the vector
// store under the workspace storage root.
type keywordIndex struct {
	index bleve.Index
}

// keywordDoc is the shape indexed for keyword search. Text and display
// fields are stored so hits can be returned without a second lookup.
type keywordDoc struct {
	SourceType string `json:"sourceType"`
	SourceID   string `json:"sourceId"`
	ChunkOrd   int    `json:"chunkOrd"`
	Title      string `json:"title"`
	URL        string `json:"url"`
	Text       string `json:"text"`
}

// keywordHit is one keyword search result.
type keywordHit struct {
	ID    string
	Doc   keywordDoc
	Score float64
}

// openKeywordIndex opens an existing bleve index or creates a new one.
// An empty path opens an in-memory index (tests).
func openKeywordIndex(path string) (*keywordIndex, error) {
	if path == "" {
		idx, err := bleve.NewMemOnly(createRecordMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory keyword index: %w", err)
		}
		return &keywordIndex{index: idx}, nil
	}

	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(path, createRecordMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open keyword index: %w", err)
	}
	return &keywordIndex{index: idx}, nil
}

// createRecordMapping creates the index mapping for chunk records.
func createRecordMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()

	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = "en"

	keywordFieldMapping := bleve.NewKeywordFieldMapping()

	docMapping := bleve.NewDocumentMapping()

	docMapping.AddFieldMappingsAt("title", textFieldMapping)
	docMapping.AddFieldMappingsAt("text", textFieldMapping)

	docMapping.AddFieldMappingsAt("sourceType", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("sourceId", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("url", keywordFieldMapping)

	indexMapping.AddDocumentMapping("_default", docMapping)

	return indexMapping
}

// indexBatch adds or updates documents in one batch.
func (k *keywordIndex) indexBatch(docs map[string]keywordDoc) error {
	batch := k.index.NewBatch()
	for id, doc := range docs {
		if err := batch.Index(id, doc); err != nil {
			return fmt.Errorf("failed to add record to batch: %w", err)
		}
	}
	return k.index.Batch(batch)
}

// deleteBatch removes documents in one batch.
func (k *keywordIndex) deleteBatch(ids []string) error {
	batch := k.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	return k.index.Batch(batch)
}

// idsBySource returns every document id for one source.
func (k *keywordIndex) idsBySource(sourceType, sourceID string) ([]string, error) {
	return k.matchingIDs(sourceFilter(sourceType, sourceID))
}

// allIDs returns every document id in the index.
func (k *keywordIndex) allIDs() ([]string, error) {
	return k.matchingIDs(bleve.NewMatchAllQuery())
}

// idsBySourceType returns every document id for one source type.
func (k *keywordIndex) idsBySourceType(sourceType string) ([]string, error) {
	typeQuery := bleve.NewTermQuery(sourceType)
	typeQuery.SetField("sourceType")
	return k.matchingIDs(typeQuery)
}

func (k *keywordIndex) matchingIDs(q query.Query) ([]string, error) {
	req := bleve.NewSearchRequest(q)
	req.Size = 10000
	req.Fields = []string{}

	res, err := k.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("id scan failed: %w", err)
	}

	ids := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

// search runs a BM25 match query over title and text, returning the top
// limit hits with their stored fields.
func (k *keywordIndex) search(ctx context.Context, queryText string, limit int) ([]keywordHit, error) {
	titleQuery := bleve.NewMatchQuery(queryText)
	titleQuery.SetField("title")

	textQuery := bleve.NewMatchQuery(queryText)
	textQuery.SetField("text")

	req := bleve.NewSearchRequest(bleve.NewDisjunctionQuery(titleQuery, textQuery))
	req.Size = limit
	req.Fields = []string{"sourceType", "sourceId", "chunkOrd", "title", "url", "text"}

	res, err := k.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}

	hits := make([]keywordHit, 0, len(res.Hits))
	for _, hit := range res.Hits {
		doc := keywordDoc{}
		if v, ok := hit.Fields["sourceType"].(string); ok {
			doc.SourceType = v
		}
		if v, ok := hit.Fields["sourceId"].(string); ok {
			doc.SourceID = v
		}
		if v, ok := hit.Fields["chunkOrd"].(float64); ok {
			doc.ChunkOrd = int(v)
		}
		if v, ok := hit.Fields["title"].(string); ok {
			doc.Title = v
		}
		if v, ok := hit.Fields["url"].(string); ok {
			doc.URL = v
		}
		if v, ok := hit.Fields["text"].(string); ok {
			doc.Text = v
		}
		hits = append(hits, keywordHit{ID: hit.ID, Doc: doc, Score: hit.Score})
	}
	return hits, nil
}

// count returns the number of indexed documents.
func (k *keywordIndex) count() (uint64, error) {
	return k.index.DocCount()
}

// close closes the underlying index.
func (k *keywordIndex) close() error {
	return k.index.Close()
}

// sourceFilter builds the deletion predicate sourceType = ? AND sourceId = ?.
func sourceFilter(sourceType, sourceID string) query.Query {
	typeQuery := bleve.NewTermQuery(sourceType)
	typeQuery.SetField("sourceType")

	idQuery := bleve.NewTermQuery(sourceID)
	idQuery.SetField("sourceId")

	return bleve.NewConjunctionQuery(typeQuery, idQuery)
}
