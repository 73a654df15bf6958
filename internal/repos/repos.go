// Package repos contains the repository interfaces needed in Nereid
// It exists to prevent circular dependencies between nereid and the repo implementations
package repos

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/derWhity/nereid/internal/models"
)

var (
	// ErrEntityNotExisting is fired by a repository when an entity that is updated or deleted does not exist
	ErrEntityNotExisting = fmt.Errorf("cannot update: Entity does not exist")
)

// PreferenceRepo stores the preferences of visitors - their chain selection and their bookmarks
type PreferenceRepo interface {
	// Create registers a new visitor with the given preferences
	Create(p *models.Preferences) error
	// GetByID returns the preferences of the visitor with the given ID including the bookmarks in their order
	GetByID(visitorID string) (*models.Preferences, error)
	// Touch records that the visitor has just been seen
	Touch(visitorID string) error
	// SetChains replaces the chain selection of the visitor
	SetChains(visitorID string, chainIDs []int) error
	// AddBookmark appends the asset to the visitor's bookmarks. Adding a bookmark twice keeps its position
	AddBookmark(visitorID string, did string) error
	// RemoveBookmark removes the asset from the visitor's bookmarks
	RemoveBookmark(visitorID string, did string) error
	// PlaceBookmarkBefore reorders the bookmarks so that the given one is placed before the other one
	// If the other bookmark is not found, the bookmark will be placed at the end of the list
	PlaceBookmarkBefore(visitorID string, did string, otherDID string) error
	// Delete removes the visitor and all their bookmarks
	Delete(visitorID string) error
}

// -- Helpers for SQLX repos -------------------------------------------------------------------------------------------

// DoRollback rolls back a transaction and catches any error resulting from it while appending the original error
func DoRollback(tx *sqlx.Tx, originalError error) error {
	if err := tx.Rollback(); err != nil {
		return fmt.Errorf("doRollback: Transaction rollback failed: %v; Recent error: %v", err, originalError)
	}
	return originalError
}
