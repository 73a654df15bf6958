// Package query builds the search queries sent to the metadata cache from the filter and sort state of the frontend
package query

import (
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

// SortField is a field search results can be sorted by
type SortField string

// Direction is the direction of a sort
type Direction string

// Operator defines how the values of a filter term are matched
type Operator string

const (
	// SortCreated sorts by publishing date
	SortCreated SortField = "created"
	// SortPrice sorts by the price value of the asset
	SortPrice SortField = "price"
	// SortName sorts by the asset's name
	SortName SortField = "name"
	// SortRelevance sorts by search score
	SortRelevance SortField = "relevance"

	// Ascending sort direction
	Ascending Direction = "asc"
	// Descending sort direction
	Descending Direction = "desc"

	// OpTerms matches if the field equals any of the values
	OpTerms Operator = "terms"
	// OpTerm matches if the field equals the first value
	OpTerm Operator = "term"
	// OpRangeGTE matches if the field is greater than or equal to the first value
	OpRangeGTE Operator = "range_gte"
	// OpRangeLTE matches if the field is less than or equal to the first value
	OpRangeLTE Operator = "range_lte"

	// DefaultPageSize is used when no page size is given
	DefaultPageSize = 9
)

var validate = validator.New()

// Pagination selects the page of results to return
type Pagination struct {
	// Number of results per page
	Size int `json:"size" validate:"gt=0"`
	// Index of the page to return, starting at 0
	Page int `json:"page" validate:"gte=0"`
}

// From returns the offset of the first result of the page
func (p Pagination) From() int {
	return p.Page * p.Size
}

// Sort defines the order of the results
type Sort struct {
	Field     SortField `json:"field" validate:"oneof=created price name relevance"`
	Direction Direction `json:"direction" validate:"oneof=asc desc"`
}

// FilterTerm restricts the results to assets whose field matches the values
type FilterTerm struct {
	Field    string   `json:"field" validate:"required"`
	Operator Operator `json:"operator" validate:"oneof=terms term range_gte range_lte"`
	Values   []string `json:"values"`
}

// Terms creates a filter matching any of the given values
func Terms(field string, values ...string) FilterTerm {
	return FilterTerm{Field: field, Operator: OpTerms, Values: values}
}

// Term creates a filter matching exactly the given value
func Term(field, value string) FilterTerm {
	return FilterTerm{Field: field, Operator: OpTerm, Values: []string{value}}
}

// SearchQuery is a fully specified search. It is built fresh for every request and must not be changed afterwards
type SearchQuery struct {
	// The chains to search on. An empty list selects nothing
	ChainIDs []int `json:"chainIds"`
	// Free text to search for
	Text string `json:"text,omitempty"`
	// Additional filters - all of them need to match
	Filters []FilterTerm `json:"filters,omitempty"`
	// Order of the results
	Sort Sort `json:"sort"`
	// Page of the results
	Pagination Pagination `json:"pagination"`
	// Also return assets that have been flagged by the purgatory
	IncludePurgatory bool `json:"includePurgatory,omitempty"`
}

// HasChains checks whether the query selects at least one chain
func (q SearchQuery) HasChains() bool {
	return len(q.ChainIDs) > 0
}

// BaseQueryParams are the parameters a section starts its query with
type BaseQueryParams struct {
	ChainIDs         []int
	Text             string
	Filters          []FilterTerm
	Sort             Sort
	Pagination       Pagination
	IncludePurgatory bool
}

// Override replaces one top-level field of the base parameters
type Override func(*BaseQueryParams)

// WithChainIDs replaces the selected chains
func WithChainIDs(ids ...int) Override {
	return func(p *BaseQueryParams) {
		p.ChainIDs = ids
	}
}

// WithText replaces the free text search
func WithText(text string) Override {
	return func(p *BaseQueryParams) {
		p.Text = text
	}
}

// WithFilters replaces the filter list
func WithFilters(filters ...FilterTerm) Override {
	return func(p *BaseQueryParams) {
		p.Filters = filters
	}
}

// WithSort replaces the sort order
func WithSort(field SortField, dir Direction) Override {
	return func(p *BaseQueryParams) {
		p.Sort = Sort{Field: field, Direction: dir}
	}
}

// WithPagination replaces the page selection
func WithPagination(size, page int) Override {
	return func(p *BaseQueryParams) {
		p.Pagination = Pagination{Size: size, Page: page}
	}
}

// WithPageSize replaces the page selection with the first page of the given size
func WithPageSize(size int) Override {
	return WithPagination(size, 0)
}

// WithPage selects another page while keeping the page size of the base parameters
func WithPage(page int) Override {
	return func(p *BaseQueryParams) {
		p.Pagination.Page = page
	}
}

// WithPurgatory replaces the purgatory flag
func WithPurgatory(include bool) Override {
	return func(p *BaseQueryParams) {
		p.IncludePurgatory = include
	}
}

// Partial is a set of optional top-level parameters. Every non-nil field replaces the one of the base parameters
type Partial struct {
	ChainIDs         *[]int
	Text             *string
	Filters          *[]FilterTerm
	Sort             *Sort
	Pagination       *Pagination
	IncludePurgatory *bool
}

// Overrides converts the partial parameters into the list of overrides it stands for
func (p Partial) Overrides() []Override {
	var ret []Override
	if p.ChainIDs != nil {
		ret = append(ret, WithChainIDs(*p.ChainIDs...))
	}
	if p.Text != nil {
		ret = append(ret, WithText(*p.Text))
	}
	if p.Filters != nil {
		ret = append(ret, WithFilters(*p.Filters...))
	}
	if p.Sort != nil {
		ret = append(ret, WithSort(p.Sort.Field, p.Sort.Direction))
	}
	if p.Pagination != nil {
		ret = append(ret, WithPagination(p.Pagination.Size, p.Pagination.Page))
	}
	if p.IncludePurgatory != nil {
		ret = append(ret, WithPurgatory(*p.IncludePurgatory))
	}
	return ret
}

// Merge builds a query from the base parameters and the partial parameters given
func Merge(base BaseQueryParams, partial Partial) (SearchQuery, error) {
	return Build(base, partial.Overrides()...)
}

// Build creates the search query from the base parameters with the overrides applied in order.
// The result shares no memory with the inputs
func Build(base BaseQueryParams, overrides ...Override) (SearchQuery, error) {
	params := base
	for _, o := range overrides {
		o(&params)
	}
	if params.Pagination.Size == 0 {
		params.Pagination.Size = DefaultPageSize
	}
	if params.Sort.Field == "" {
		params.Sort.Field = SortCreated
	}
	if params.Sort.Direction == "" {
		params.Sort.Direction = Descending
	}
	q := SearchQuery{
		ChainIDs:         normalizeChainIDs(params.ChainIDs),
		Text:             params.Text,
		Filters:          copyFilters(params.Filters),
		Sort:             params.Sort,
		Pagination:       params.Pagination,
		IncludePurgatory: params.IncludePurgatory,
	}
	if err := validate.Struct(&q.Pagination); err != nil {
		return SearchQuery{}, errors.Wrap(err, "Build: invalid pagination")
	}
	if err := validate.Struct(&q.Sort); err != nil {
		return SearchQuery{}, errors.Wrap(err, "Build: invalid sort")
	}
	for i := range q.Filters {
		if err := validate.Struct(&q.Filters[i]); err != nil {
			return SearchQuery{}, errors.Wrapf(err, "Build: invalid filter on '%s'", q.Filters[i].Field)
		}
	}
	return q, nil
}

// MustBuild is like Build but panics if the parameters are invalid
func MustBuild(base BaseQueryParams, overrides ...Override) SearchQuery {
	q, err := Build(base, overrides...)
	if err != nil {
		panic(err)
	}
	return q
}

// Chain IDs are a set - remove duplicates and sort them so equal sets give equal queries
func normalizeChainIDs(ids []int) []int {
	seen := make(map[int]bool, len(ids))
	ret := make([]int, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			ret = append(ret, id)
		}
	}
	sort.Ints(ret)
	return ret
}

// Filters without values are left out instead of matching nothing
func copyFilters(filters []FilterTerm) []FilterTerm {
	var ret []FilterTerm
	for _, f := range filters {
		if len(f.Values) == 0 {
			continue
		}
		values := make([]string, len(f.Values))
		copy(values, f.Values)
		ret = append(ret, FilterTerm{Field: f.Field, Operator: f.Operator, Values: values})
	}
	return ret
}
