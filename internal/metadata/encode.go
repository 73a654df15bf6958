package metadata

import (
	"strings"

	"github.com/derWhity/nereid/internal/query"
)

// Paths of the frontend's filter fields inside the documents of the metadata cache
var fieldPaths = map[string]string{
	"id":        "id",
	"chainId":   "chainId",
	"type":      "service.attributes.main.type",
	"name":      "service.attributes.main.name",
	"author":    "service.attributes.main.author",
	"tags":      "service.attributes.additionalInformation.tags",
	"datatoken": "dataToken",
	"owner":     "publicKey.owner",
	"price":     "price.value",
	"created":   "created",
}

// Sort fields of the search query mapped to the document fields
var sortPaths = map[query.SortField]string{
	query.SortCreated:   "created",
	query.SortPrice:     "price.value",
	query.SortName:      "service.attributes.main.name",
	query.SortRelevance: "_score",
}

func fieldPath(field string) string {
	if p, ok := fieldPaths[field]; ok {
		return p
	}
	return field
}

// EncodeQuery translates the search query into the Elasticsearch query DSL understood by the metadata cache
func EncodeQuery(q query.SearchQuery) map[string]interface{} {
	chainIDs := make([]interface{}, len(q.ChainIDs))
	for i, id := range q.ChainIDs {
		chainIDs[i] = id
	}
	filters := []interface{}{
		map[string]interface{}{"terms": map[string]interface{}{"chainId": chainIDs}},
	}
	for _, f := range q.Filters {
		filters = append(filters, encodeFilter(f))
	}
	if !q.IncludePurgatory {
		filters = append(filters, map[string]interface{}{
			"term": map[string]interface{}{"purgatory.state": false},
		})
	}
	boolQuery := map[string]interface{}{"filter": filters}
	if text := strings.TrimSpace(q.Text); text != "" {
		boolQuery["must"] = []interface{}{
			map[string]interface{}{
				"query_string": map[string]interface{}{
					"query":            text,
					"fields":           []string{"id", "service.attributes.main.name^10", "service.attributes.main.author", "service.attributes.additionalInformation.description", "service.attributes.additionalInformation.tags"},
					"default_operator": "AND",
				},
			},
		}
	}
	return map[string]interface{}{
		"from":  q.Pagination.From(),
		"size":  q.Pagination.Size,
		"query": map[string]interface{}{"bool": boolQuery},
		"sort": map[string]interface{}{
			sortPaths[q.Sort.Field]: string(q.Sort.Direction),
		},
	}
}

func encodeFilter(f query.FilterTerm) map[string]interface{} {
	path := fieldPath(f.Field)
	switch f.Operator {
	case query.OpTerm:
		return map[string]interface{}{"term": map[string]interface{}{path: f.Values[0]}}
	case query.OpRangeGTE:
		return map[string]interface{}{"range": map[string]interface{}{path: map[string]interface{}{"gte": f.Values[0]}}}
	case query.OpRangeLTE:
		return map[string]interface{}{"range": map[string]interface{}{path: map[string]interface{}{"lte": f.Values[0]}}}
	default:
		return map[string]interface{}{"terms": map[string]interface{}{path: f.Values}}
	}
}
