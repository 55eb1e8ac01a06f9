package docstore

import (
	"fmt"
	"strconv"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/sha1n/mcp-frcdocs-server/internal/domain"
)

// Bleve field names of the metadata filter index.
const (
	fieldVersion  = "version"
	fieldLanguage = "language"
)

// filterDoc is the indexed projection of a chunk. Document IDs are the chunk
// positions in the snapshot, so hits map straight back to chunks.
type filterDoc struct {
	Version  string `json:"version"`
	Language string `json:"language"`
}

const indexBatchSize = 1000

// createFilterMapping creates the Bleve mapping for chunk metadata.
// Both fields are keywords so filters match whole values only.
func createFilterMapping() mapping.IndexMapping {
	docMapping := bleve.NewDocumentMapping()

	versionField := bleve.NewTextFieldMapping()
	versionField.Analyzer = keyword.Name
	versionField.Store = false
	docMapping.AddFieldMappingsAt(fieldVersion, versionField)

	languageField := bleve.NewTextFieldMapping()
	languageField.Analyzer = keyword.Name
	languageField.Store = false
	docMapping.AddFieldMappingsAt(fieldLanguage, languageField)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = keyword.Name

	return indexMapping
}

// buildFilterIndex indexes the metadata of chunks in memory.
func buildFilterIndex(chunks []domain.DocumentChunk) (bleve.Index, error) {
	index, err := bleve.NewMemOnly(createFilterMapping())
	if err != nil {
		return nil, fmt.Errorf("creating filter index: %w", err)
	}

	batch := index.NewBatch()
	for i, c := range chunks {
		if err := batch.Index(strconv.Itoa(i), filterDoc{Version: c.Version, Language: c.Language}); err != nil {
			_ = index.Close()
			return nil, fmt.Errorf("indexing chunk %q: %w", c.ID, err)
		}
		if batch.Size() >= indexBatchSize {
			if err := index.Batch(batch); err != nil {
				_ = index.Close()
				return nil, fmt.Errorf("batch index failed: %w", err)
			}
			batch = index.NewBatch()
		}
	}
	if batch.Size() > 0 {
		if err := index.Batch(batch); err != nil {
			_ = index.Close()
			return nil, fmt.Errorf("final batch index failed: %w", err)
		}
	}

	return index, nil
}

// filterQuery builds a conjunction of term queries for the non-empty filter fields.
func filterQuery(f domain.Filter) query.Query {
	if f.IsEmpty() {
		return bleve.NewMatchAllQuery()
	}

	var must []query.Query
	if f.Version != "" {
		q := bleve.NewTermQuery(f.Version)
		q.SetField(fieldVersion)
		must = append(must, q)
	}
	if f.Language != "" {
		q := bleve.NewTermQuery(f.Language)
		q.SetField(fieldLanguage)
		must = append(must, q)
	}
	return bleve.NewConjunctionQuery(must...)
}

// matchingPositions returns the positions of the chunks passing the filter.
func matchingPositions(index bleve.Index, f domain.Filter, total int) ([]int, error) {
	if total == 0 {
		return nil, nil
	}

	req := bleve.NewSearchRequestOptions(filterQuery(f), total, 0, false)
	res, err := index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("filter search: %w", err)
	}

	positions := make([]int, 0, len(res.Hits))
	for _, hit := range res.Hits {
		pos, err := strconv.Atoi(hit.ID)
		if err != nil || pos < 0 || pos >= total {
			return nil, fmt.Errorf("filter index returned unknown document %q", hit.ID)
		}
		positions = append(positions, pos)
	}
	return positions, nil
}
