package internal

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/derWhity/nereid/internal/ctxhelper"
	"github.com/derWhity/nereid/internal/log"
	"github.com/derWhity/nereid/internal/models"
	"github.com/derWhity/nereid/internal/repos"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"
)

// PreferenceService provides service functions for the choices a visitor makes - the chains to show assets from and
// the bookmarked assets
type PreferenceService interface {
	// CreateVisitor registers a new visitor using the default chain selection
	CreateVisitor(ctx context.Context) (*models.Preferences, error)
	// DeleteVisitor removes the current visitor along with all their preferences
	DeleteVisitor(ctx context.Context) error
	// Touch checks that the visitor exists and records the visit
	Touch(ctx context.Context, visitorID string) error
	// Get returns the preferences of the current visitor
	Get(ctx context.Context) (*models.Preferences, error)
	// SetChains replaces the chain selection of the current visitor
	SetChains(ctx context.Context, chainIDs []int) (*models.Preferences, error)
	// AddBookmark adds an asset to the end of the current visitor's bookmarks
	AddBookmark(ctx context.Context, did string) (*models.Preferences, error)
	// RemoveBookmark removes an asset from the current visitor's bookmarks
	RemoveBookmark(ctx context.Context, did string) (*models.Preferences, error)
	// PlaceBookmarkBefore moves a bookmark right before another one - or to the end if the other one is not bookmarked
	PlaceBookmarkBefore(ctx context.Context, did string, otherDID string) (*models.Preferences, error)
}

// -- PreferenceService implementation ---------------------------------------------------------------------------------

type preferenceService struct {
	logger *logrus.Entry
	repo   repos.PreferenceRepo
	config ConfigService
}

// NewPreferenceService creates a new PreferenceService instance
func NewPreferenceService(repo repos.PreferenceRepo, cs ConfigService, logger *logrus.Entry) PreferenceService {
	return &preferenceService{logger, repo, cs}
}

func repoError(err error, message string) error {
	return MakeErrorWithData(http.StatusInternalServerError, ErrCodeRepoError, message, err)
}

func visitorOf(ctx context.Context) (string, error) {
	id := ctxhelper.Visitor(ctx)
	if id == "" {
		return "", ErrVisitorRequired
	}
	return id, nil
}

// CreateVisitor registers a new visitor using the default chain selection
func (s *preferenceService) CreateVisitor(ctx context.Context) (*models.Preferences, error) {
	conf := s.config.GetConfig(ctx)
	p := &models.Preferences{
		VisitorID: uuid.New().String(),
		ChainIDs:  append([]int{}, conf.DefaultChainIDs...),
		Bookmarks: []string{},
	}
	if err := s.repo.Create(p); err != nil {
		return nil, repoError(err, "Failed to register visitor")
	}
	ctxhelper.LoggerOr(ctx, s.logger).WithField(log.FldVisitor, p.VisitorID).Info("New visitor registered")
	return p, nil
}

// DeleteVisitor removes the current visitor along with all their preferences
func (s *preferenceService) DeleteVisitor(ctx context.Context) error {
	visitorID, err := visitorOf(ctx)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(visitorID); err != nil {
		if err == repos.ErrEntityNotExisting {
			return ErrVisitorRequired
		}
		return repoError(err, "Failed to delete visitor")
	}
	ctxhelper.LoggerOr(ctx, s.logger).WithField(log.FldVisitor, visitorID).Info("Visitor removed")
	return nil
}

// Touch checks that the visitor exists and records the visit
func (s *preferenceService) Touch(ctx context.Context, visitorID string) error {
	if err := s.repo.Touch(visitorID); err != nil {
		if err == repos.ErrEntityNotExisting {
			return ErrVisitorRequired
		}
		return repoError(err, "Failed to load visitor")
	}
	return nil
}

// Get returns the preferences of the current visitor
func (s *preferenceService) Get(ctx context.Context) (*models.Preferences, error) {
	visitorID, err := visitorOf(ctx)
	if err != nil {
		return nil, err
	}
	p, err := s.repo.GetByID(visitorID)
	if err != nil {
		if err == repos.ErrEntityNotExisting {
			return nil, ErrVisitorRequired
		}
		return nil, repoError(err, "Failed to load preferences")
	}
	return p, nil
}

// SetChains replaces the chain selection of the current visitor. An empty selection is allowed - it shows nothing
func (s *preferenceService) SetChains(ctx context.Context, chainIDs []int) (*models.Preferences, error) {
	visitorID, err := visitorOf(ctx)
	if err != nil {
		return nil, err
	}
	if err := validate.Var(chainIDs, "dive,gt=0"); err != nil {
		return nil, MakeErrorWithData(
			http.StatusBadRequest,
			ErrCodeIllegalValue,
			"Chain IDs must be positive numbers",
			map[string]string{"field": "chainIds"},
		)
	}
	if err := s.repo.SetChains(visitorID, chainIDs); err != nil {
		if err == repos.ErrEntityNotExisting {
			return nil, ErrVisitorRequired
		}
		return nil, repoError(err, "Failed to store chain selection")
	}
	return s.Get(ctx)
}

// normalizeDID trims and checks the given asset identifier
func normalizeDID(did string) (string, error) {
	did = strings.TrimSpace(did)
	if err := validate.Var(did, "required,startswith=did:"); err != nil {
		return "", MakeErrorWithData(
			http.StatusBadRequest,
			ErrCodeIllegalValue,
			fmt.Sprintf("'%s' is no valid asset identifier", did),
			map[string]string{"field": "did"},
		)
	}
	return did, nil
}

// AddBookmark adds an asset to the end of the current visitor's bookmarks
func (s *preferenceService) AddBookmark(ctx context.Context, did string) (*models.Preferences, error) {
	visitorID, err := visitorOf(ctx)
	if err != nil {
		return nil, err
	}
	if did, err = normalizeDID(did); err != nil {
		return nil, err
	}
	if err := s.repo.AddBookmark(visitorID, did); err != nil {
		if err == repos.ErrEntityNotExisting {
			return nil, ErrVisitorRequired
		}
		return nil, repoError(err, "Failed to add bookmark")
	}
	return s.Get(ctx)
}

// RemoveBookmark removes an asset from the current visitor's bookmarks
func (s *preferenceService) RemoveBookmark(ctx context.Context, did string) (*models.Preferences, error) {
	visitorID, err := visitorOf(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.repo.RemoveBookmark(visitorID, did); err != nil {
		if err == repos.ErrEntityNotExisting {
			return nil, bookmarkNotFound(did)
		}
		return nil, repoError(err, "Failed to remove bookmark")
	}
	return s.Get(ctx)
}

// PlaceBookmarkBefore moves a bookmark right before another one
func (s *preferenceService) PlaceBookmarkBefore(ctx context.Context, did string, otherDID string) (*models.Preferences, error) {
	visitorID, err := visitorOf(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.repo.PlaceBookmarkBefore(visitorID, did, otherDID); err != nil {
		if err == repos.ErrEntityNotExisting {
			return nil, bookmarkNotFound(did)
		}
		return nil, repoError(err, "Failed to reorder bookmarks")
	}
	return s.Get(ctx)
}

func bookmarkNotFound(did string) error {
	return MakeError(http.StatusNotFound, ErrCodeBookmarkNotFound, fmt.Sprintf("Asset '%s' is not bookmarked", did))
}
