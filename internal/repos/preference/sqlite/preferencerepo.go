// Package sqlite contains a repository for visitor preferences that stores its data inside a SQLite database
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/derWhity/nereid/internal/log"
	"github.com/derWhity/nereid/internal/models"
	"github.com/derWhity/nereid/internal/repos"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	visitorFields  = `id, chainIds, createdAt, updatedAt`
	bookmarkFields = `visitorId, did, position, createdAt`
)

// visitorRow is a visitor as stored in the database - the chain selection is kept as JSON array
type visitorRow struct {
	ID        string    `db:"id"`
	ChainIDs  string    `db:"chainIds"`
	CreatedAt time.Time `db:"createdAt"`
	UpdatedAt time.Time `db:"updatedAt"`
}

// PreferenceRepo is a preference repository that stores its data inside a SQLite database
type PreferenceRepo struct {
	db     *sqlx.DB
	logger *logrus.Entry
}

// New creates a new PreferenceRepo instance with the given DB and logger instances
func New(db *sqlx.DB, logger *logrus.Entry) repos.PreferenceRepo {
	return &PreferenceRepo{db, logger}
}

func encodeChains(chainIDs []int) (string, error) {
	if chainIDs == nil {
		chainIDs = []int{}
	}
	data, err := json.Marshal(chainIDs)
	return string(data), err
}

// -- Methods ----------------------------------------------------------------------------------------------------------

// Create registers a new visitor with the given preferences. Bookmarks passed in are stored in their order
func (r *PreferenceRepo) Create(p *models.Preferences) error {
	r.logger.WithField(log.FldVisitor, p.VisitorID).Debug("Adding new visitor")
	chains, err := encodeChains(p.ChainIDs)
	if err != nil {
		return errors.Wrap(err, "Create: Failed to encode chain selection")
	}
	tx, err := r.db.Beginx()
	if err != nil {
		return errors.Wrap(err, "Create: Failed to start transaction")
	}
	query := fmt.Sprintf(
		"INSERT INTO Visitors(%s, lastSeenAt) VALUES(?, ?, datetime('now'), datetime('now'), datetime('now'))",
		visitorFields,
	)
	if _, err = tx.Exec(query, p.VisitorID, chains); err != nil {
		return repos.DoRollback(tx, errors.Wrap(err, "Create: Failed to insert visitor"))
	}
	query = fmt.Sprintf("INSERT INTO Bookmarks(%s) VALUES(?, ?, ?, datetime('now'))", bookmarkFields)
	for i, did := range p.Bookmarks {
		if _, err = tx.Exec(query, p.VisitorID, did, i+1); err != nil {
			return repos.DoRollback(tx, errors.Wrapf(err, "Create: Failed to insert bookmark '%s'", did))
		}
	}
	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "Create: Failed to commit transaction")
	}
	// Setting the dates like this should be enough for now
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	return nil
}

// GetByID returns the preferences of the visitor with the given ID
func (r *PreferenceRepo) GetByID(visitorID string) (*models.Preferences, error) {
	query := fmt.Sprintf("SELECT %s FROM Visitors WHERE id = ?", visitorFields)
	var row visitorRow
	if err := r.db.Get(&row, query, visitorID); err != nil {
		if err == sql.ErrNoRows {
			return nil, repos.ErrEntityNotExisting
		}
		return nil, errors.Wrap(err, "GetByID: Failed to load visitor")
	}
	p := models.Preferences{
		VisitorID: row.ID,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
		Bookmarks: []string{},
	}
	if err := json.Unmarshal([]byte(row.ChainIDs), &p.ChainIDs); err != nil {
		return nil, errors.Wrap(err, "GetByID: Stored chain selection is invalid")
	}
	if p.ChainIDs == nil {
		p.ChainIDs = []int{}
	}
	query = "SELECT did FROM Bookmarks WHERE visitorId = ? ORDER BY position, createdAt"
	if err := r.db.Select(&p.Bookmarks, query, visitorID); err != nil {
		return nil, errors.Wrap(err, "GetByID: Failed to load bookmarks")
	}
	return &p, nil
}

// Touch records that the visitor has just been seen
func (r *PreferenceRepo) Touch(visitorID string) error {
	res, err := r.db.Exec("UPDATE Visitors SET lastSeenAt = datetime('now') WHERE id = ?", visitorID)
	if err != nil {
		return errors.Wrap(err, "Touch: Failed to update visitor")
	}
	return rowsAffected(res)
}

// SetChains replaces the chain selection of the visitor
func (r *PreferenceRepo) SetChains(visitorID string, chainIDs []int) error {
	r.logger.WithFields(logrus.Fields{log.FldVisitor: visitorID, log.FldChains: chainIDs}).Debug("Changing chain selection")
	chains, err := encodeChains(chainIDs)
	if err != nil {
		return errors.Wrap(err, "SetChains: Failed to encode chain selection")
	}
	res, err := r.db.Exec("UPDATE Visitors SET chainIds = ?, updatedAt = datetime('now') WHERE id = ?", chains, visitorID)
	if err != nil {
		return errors.Wrap(err, "SetChains: Failed to update visitor")
	}
	return rowsAffected(res)
}

// AddBookmark appends the asset to the end of the visitor's bookmarks
func (r *PreferenceRepo) AddBookmark(visitorID string, did string) error {
	r.logger.WithFields(logrus.Fields{log.FldVisitor: visitorID, log.FldDID: did}).Debug("Adding bookmark")
	if _, err := r.GetByID(visitorID); err != nil {
		return err
	}
	query := fmt.Sprintf(
		`INSERT OR IGNORE INTO Bookmarks(%s)
			SELECT ?, ?, ifnull(MAX(position), 0) + 1, datetime('now') FROM Bookmarks WHERE visitorId = ?`,
		bookmarkFields,
	)
	if _, err := r.db.Exec(query, visitorID, did, visitorID); err != nil {
		return errors.Wrap(err, "AddBookmark: Failed to insert bookmark")
	}
	return r.touchUpdated(visitorID)
}

// RemoveBookmark removes the asset from the visitor's bookmarks
func (r *PreferenceRepo) RemoveBookmark(visitorID string, did string) error {
	r.logger.WithFields(logrus.Fields{log.FldVisitor: visitorID, log.FldDID: did}).Debug("Removing bookmark")
	res, err := r.db.Exec("DELETE FROM Bookmarks WHERE visitorId = ? AND did = ?", visitorID, did)
	if err != nil {
		return errors.Wrap(err, "RemoveBookmark: Failed to delete bookmark")
	}
	if err = rowsAffected(res); err != nil {
		return err
	}
	return r.touchUpdated(visitorID)
}

// PlaceBookmarkBefore takes the bookmark with the given DID and moves it to just before the other bookmark provided.
// If otherDID is empty or not bookmarked by the visitor, the bookmark will be placed at the end of the list
func (r *PreferenceRepo) PlaceBookmarkBefore(visitorID string, did string, otherDID string) error {
	tx, err := r.db.Beginx()
	if err != nil {
		return errors.Wrap(err, "PlaceBookmarkBefore: Unable to start transaction")
	}
	var rest []string
	query := "SELECT did FROM Bookmarks WHERE visitorId = ? ORDER BY position, createdAt"
	if err = tx.Select(&rest, query, visitorID); err != nil {
		return repos.DoRollback(tx, errors.Wrap(err, "PlaceBookmarkBefore: Failed to load bookmarks"))
	}
	// Do some reordering
	found, moved := false, false
	newOrder := make([]string, 0, len(rest))
	for _, d := range rest {
		if d == did {
			moved = true
			continue
		}
		if d == otherDID && otherDID != "" {
			found = true
			newOrder = append(newOrder, did)
		}
		newOrder = append(newOrder, d)
	}
	if !moved {
		return repos.DoRollback(tx, repos.ErrEntityNotExisting)
	}
	if did == otherDID {
		return tx.Rollback()
	}
	// Place at the end?
	if !found {
		newOrder = append(newOrder, did)
	}
	for i, d := range newOrder {
		query := "UPDATE Bookmarks SET position = ? WHERE visitorId = ? AND did = ?"
		if _, err := tx.Exec(query, i+1, visitorID, d); err != nil {
			return repos.DoRollback(tx, errors.Wrap(err, "PlaceBookmarkBefore: Failed to write new bookmark position"))
		}
	}
	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "PlaceBookmarkBefore: Failed to commit transaction")
	}
	return r.touchUpdated(visitorID)
}

// Delete removes the visitor and all their bookmarks
func (r *PreferenceRepo) Delete(visitorID string) error {
	r.logger.WithField(log.FldVisitor, visitorID).Debug("Deleting visitor")
	tx, err := r.db.Beginx()
	if err != nil {
		return errors.Wrap(err, "Delete: Failed to start transaction")
	}
	res, err := tx.Exec("DELETE FROM Visitors WHERE id = ?", visitorID)
	if err != nil {
		return repos.DoRollback(tx, err)
	}
	if err = rowsAffected(res); err != nil {
		return repos.DoRollback(tx, err)
	}
	if _, err = tx.Exec("DELETE FROM Bookmarks WHERE visitorId = ?", visitorID); err != nil {
		return repos.DoRollback(tx, errors.Wrap(err, "Delete: Failed to remove bookmarks"))
	}
	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "Delete: Failed to commit transaction")
	}
	return nil
}

func (r *PreferenceRepo) touchUpdated(visitorID string) error {
	if _, err := r.db.Exec("UPDATE Visitors SET updatedAt = datetime('now') WHERE id = ?", visitorID); err != nil {
		return errors.Wrap(err, "Failed to update visitor timestamp")
	}
	return nil
}

// rowsAffected maps a statement that has not changed anything to ErrEntityNotExisting
func rowsAffected(res sql.Result) error {
	num, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if num == 0 {
		return repos.ErrEntityNotExisting
	}
	return nil
}
