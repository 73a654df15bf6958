package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// AssetTypeDataset marks an asset that provides data
	AssetTypeDataset = "dataset"
	// AssetTypeAlgorithm marks an asset that provides an algorithm to run on datasets
	AssetTypeAlgorithm = "algorithm"

	// PriceTypeFixed is a price set by a fixed-rate exchange
	PriceTypeFixed = "fixed"
	// PriceTypePool is the spot price of a liquidity pool
	PriceTypePool = "pool"
	// PriceTypeFree marks an asset whose datatokens are handed out by a dispenser
	PriceTypeFree = "free"
)

// Datatoken holds the token an asset is accessed with
type Datatoken struct {
	// Address of the token contract
	Address string `json:"address"`
	// Full name of the token
	Name string `json:"name"`
	// Ticker symbol of the token
	Symbol string `json:"symbol"`
}

// Price is the best price found for the datatoken of an asset
type Price struct {
	// The price in units of the base token
	Value decimal.Decimal `json:"value"`
	// Where the price comes from - see the PriceType* constants
	Type string `json:"type"`
	// ID of the exchange, pool or dispenser offering the price
	Address string `json:"address,omitempty"`
	// Symbol of the token the price is given in
	Token string `json:"token,omitempty"`
}

// AssetRecord is an asset as shown in a result list
type AssetRecord struct {
	// The decentralized identifier of the asset - unique across all chains
	DID string `json:"id"`
	// Display name of the asset
	Name string `json:"name"`
	// Dataset or algorithm - see the AssetType* constants
	Type string `json:"type"`
	// Who published the asset
	Author string `json:"author,omitempty"`
	// The chain the asset has been published on
	ChainID int `json:"chainId"`
	// When the asset has been published
	Created time.Time `json:"created"`
	// The datatoken used to access the asset
	Datatoken Datatoken `json:"datatoken"`
	// The price of the asset. Nil as long as no price is known - this is not the same as a price of zero
	Price *Price `json:"price,omitempty"`
}

// TokenRef identifies a datatoken on a specific chain
type TokenRef struct {
	ChainID int
	Address string
}

// Token returns the reference to the datatoken of the asset. Addresses are compared in lower case
func (a *AssetRecord) Token() TokenRef {
	return TokenRef{ChainID: a.ChainID, Address: strings.ToLower(a.Datatoken.Address)}
}

// PagedResult is one page of assets returned by the search backend together with the pagination metadata
type PagedResult struct {
	Items        []AssetRecord `json:"results"`
	Page         int           `json:"page"`
	TotalPages   int           `json:"totalPages"`
	TotalResults int           `json:"totalResults"`
}

// EmptyPagedResult returns the result used when there is nothing to search for
func EmptyPagedResult() *PagedResult {
	return &PagedResult{Items: []AssetRecord{}}
}

// DIDs returns the identifiers of all items in their order
func (r *PagedResult) DIDs() []string {
	ret := make([]string, len(r.Items))
	for i, item := range r.Items {
		ret[i] = item.DID
	}
	return ret
}
