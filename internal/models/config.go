package models

import (
	"path"
	"time"

	"github.com/kardianos/osext"
)

// AppConfig is the application's main configuration structure
type AppConfig struct {
	// The directory where Nereid stores all of its data - defaults to the /data subdirectory of the folder, the
	// Nereid executable resides in
	DataDir string `json:"dataDir" validate:"required"`
	// The IP address to listen at - including the port number
	ListenAddress string `json:"listenAddress" validate:"required"`
	// Base URI of the metadata cache the asset searches are sent to
	MetadataCacheURI string `json:"metadataCacheUri" validate:"required,url"`
	// The price subgraph to query per chain ID
	Subgraphs map[int]string `json:"subgraphs" validate:"dive,url"`
	// The chains selected for visitors that did not choose any themselves
	DefaultChainIDs []int `json:"defaultChainIds"`
	// The categories shown on the home page - if empty, a "Recently Published" section is shown instead
	Featured []FeaturedCategory `json:"featured" validate:"dive"`
	// The number of assets requested for a home page section
	PageSize int `json:"pageSize" validate:"gt=0"`
	// The maximum number of assets shown in a section that pins assets to its front
	DisplayCap int `json:"displayCap" validate:"gte=0"`
	// The sort order used for the home page sections
	DefaultSort SortConfig `json:"defaultSort"`
	// How long a request waits for its sections to settle
	RequestTimeout Duration `json:"requestTimeout"`
	// Time of inactivity after which the sections of a visitor are torn down
	VisitorExpiry Duration `json:"visitorExpiry"`
	// If set, a section that fails to load keeps showing its last result next to the error
	KeepResultOnError bool `json:"keepResultOnError"`
	// Origins the browser frontend is served from
	AllowedOrigins []string `json:"allowedOrigins"`
}

// FeaturedCategory is a named list of assets shown as a section on the home page
type FeaturedCategory struct {
	Title  string   `json:"title" validate:"required"`
	Assets []string `json:"assets"`
}

// SortConfig configures the sorting of a section's query
type SortConfig struct {
	Field     string `json:"field" validate:"oneof=created price name relevance"`
	Direction string `json:"direction" validate:"oneof=asc desc"`
}

// HasFeaturedAssets checks if any of the configured featured categories lists assets
func (c *AppConfig) HasFeaturedAssets() bool {
	for _, cat := range c.Featured {
		if len(cat.Assets) > 0 {
			return true
		}
	}
	return false
}

// GetDefaultConfig returns the default configuration values for the application
func GetDefaultConfig() (*AppConfig, error) {
	execDir, err := osext.ExecutableFolder()
	if err != nil {
		return nil, err
	}
	return &AppConfig{
		DataDir:          path.Join(execDir, "data"),
		ListenAddress:    ":3000",
		MetadataCacheURI: "https://aquarius.oceanprotocol.com",
		Subgraphs:        map[int]string{},
		DefaultChainIDs:  []int{1, 137, 56},
		Featured:         []FeaturedCategory{},
		PageSize:         9,
		DisplayCap:       9,
		DefaultSort: SortConfig{
			Field:     "created",
			Direction: "asc",
		},
		RequestTimeout: Duration(10 * time.Second),
		VisitorExpiry:  Duration(30 * time.Minute),
		AllowedOrigins: []string{"*"},
	}, nil
}
