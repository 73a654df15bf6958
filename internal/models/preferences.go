package models

import "time"

// Preferences are the choices a visitor has made in the frontend
type Preferences struct {
	// The ID the visitor is known by
	VisitorID string `db:"id" json:"visitorId"`
	// The chains the visitor wants to see assets from. An empty list means "nothing selected"
	ChainIDs []int `json:"chainIds"`
	// The DIDs of the bookmarked assets in the order the visitor has given them
	Bookmarks []string `json:"bookmarks"`
	// Creation timestamp of the preferences
	CreatedAt time.Time `db:"createdAt" json:"createdAt"`
	// Timestamp of the last change
	UpdatedAt time.Time `db:"updatedAt" json:"updatedAt"`
}

// Bookmark is a single bookmarked asset of a visitor
type Bookmark struct {
	VisitorID string    `db:"visitorId" json:"-"`
	DID       string    `db:"did" json:"did"`
	Position  uint      `db:"position" json:"-"`
	CreatedAt time.Time `db:"createdAt" json:"createdAt"`
}

// IsBookmarked checks if the given DID is on the visitor's bookmark list
func (p *Preferences) IsBookmarked(did string) bool {
	for _, b := range p.Bookmarks {
		if b == did {
			return true
		}
	}
	return false
}
