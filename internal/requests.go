package internal

// -- Request data -----------------------------------------------------------------------------------------------------

// SectionRequest is a request for one or more result sections
type SectionRequest struct {
	// Load the sections again even if nothing has changed
	Refresh bool
}

// SearchRequest describes a search made on the search page
type SearchRequest struct {
	SectionRequest
	// The string to search for
	Text string
	// Field to sort by - created, price, name or relevance
	Sort string
	// Sort direction - asc or desc
	SortOrder string
	// Only return assets of this type - dataset or algorithm
	Type string
	// The page to return, starting at 1
	Page int
	// Number of assets per page
	Size int
}

// A request replacing the chain selection
type chainsRequest struct {
	ChainIDs []int `json:"chainIds"`
}

// A request adding a bookmark
type bookmarkRequest struct {
	DID string `json:"did"`
}

type reorderRequest struct {
	// The bookmark to move in order
	DID string
	// The other bookmark the first one will be placed before
	OtherDID string
}
