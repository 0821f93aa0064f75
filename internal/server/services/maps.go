package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/dmitrijs2005/bhopmaps/internal/common"
	"github.com/dmitrijs2005/bhopmaps/internal/dbx"
	"github.com/dmitrijs2005/bhopmaps/internal/logging"
	"github.com/dmitrijs2005/bhopmaps/internal/server/config"
	"github.com/dmitrijs2005/bhopmaps/internal/server/metrics"
	"github.com/dmitrijs2005/bhopmaps/internal/server/models"
	"github.com/dmitrijs2005/bhopmaps/internal/server/objectstore"
	"github.com/dmitrijs2005/bhopmaps/internal/server/repositories/repomanager"
)

const (
	minMapNameLength = 5
	maxMapNameLength = 100
	// DefaultGameType is used when an upload names none.
	DefaultGameType = "bhop"
)

// GameTypes lists the accepted map categories.
var GameTypes = []string{"bhop", "surf", "kz", "deathrun", "climb"}

var thumbnailExtensions = []string{".png", ".jpg", ".jpeg", ".webp", ".gif"}

// OrphanScheduler takes object keys that no metadata record points to.
type OrphanScheduler interface {
	Schedule(ctx context.Context, keys ...string)
}

// UploadInput is one map upload. Data is the map package; ThumbnailData, when
// present, is stored as a public image and wins over the Thumbnail URL.
type UploadInput struct {
	MapName       string
	Description   string
	GameType      string
	Data          []byte
	Thumbnail     string
	ThumbnailData []byte
	ThumbnailName string
}

// ProfileUpdate names the editable profile fields; empty fields are kept.
type ProfileUpdate struct {
	UserName string
	Avatar   string
}

// MapService keeps map metadata and stored objects consistent across
// upload, download, delete and author renames.
type MapService struct {
	db             *sql.DB
	repomanager    repomanager.RepositoryManager
	users          *UserService
	gate           *OwnershipGate
	store          objectstore.Store
	janitor        OrphanScheduler
	maxDescription int
	maxUploadSize  int64
	logger         logging.Logger
}

func NewMapService(db *sql.DB, m repomanager.RepositoryManager, users *UserService, gate *OwnershipGate,
	store objectstore.Store, janitor OrphanScheduler, cfg *config.Config, logger logging.Logger) *MapService {
	return &MapService{
		db:             db,
		repomanager:    m,
		users:          users,
		gate:           gate,
		store:          store,
		janitor:        janitor,
		maxDescription: cfg.MaxDescriptionLength,
		maxUploadSize:  cfg.MaxUploadSize,
		logger:         logger.With("module", "maps"),
	}
}

// MapIDFromKey strips the storage prefix and suffix from an object key.
func MapIDFromKey(key string) string {
	return strings.TrimSuffix(strings.TrimPrefix(key, common.MapKeyPrefix), common.MapPackageExtension)
}

func (s *MapService) validateUpload(in *UploadInput) error {
	in.MapName = strings.TrimSpace(in.MapName)
	n := utf8.RuneCountInString(in.MapName)
	if n < minMapNameLength {
		return fmt.Errorf("%w: map name must be at least %d characters", common.ErrValidation, minMapNameLength)
	}
	if n > maxMapNameLength {
		return fmt.Errorf("%w: map name must be at most %d characters", common.ErrValidation, maxMapNameLength)
	}
	if s.maxDescription > 0 && utf8.RuneCountInString(in.Description) > s.maxDescription {
		return fmt.Errorf("%w: description must be at most %d characters", common.ErrValidation, s.maxDescription)
	}
	if len(in.Data) == 0 {
		return fmt.Errorf("%w: map file is empty", common.ErrValidation)
	}
	if s.maxUploadSize > 0 && int64(len(in.Data)) > s.maxUploadSize {
		return fmt.Errorf("%w: map file exceeds %d bytes", common.ErrValidation, s.maxUploadSize)
	}

	in.GameType = strings.ToLower(strings.TrimSpace(in.GameType))
	if in.GameType == "" {
		in.GameType = DefaultGameType
	}
	if !slices.Contains(GameTypes, in.GameType) {
		return fmt.Errorf("%w: unknown game type %q", common.ErrValidation, in.GameType)
	}

	if len(in.ThumbnailData) > 0 {
		ext := strings.ToLower(path.Ext(in.ThumbnailName))
		if !slices.Contains(thumbnailExtensions, ext) {
			return fmt.Errorf("%w: unsupported thumbnail type %q", common.ErrValidation, ext)
		}
	}
	return nil
}

// Upload stores the package, then the thumbnail, then the metadata record.
// Objects written before a later step fails are handed to the janitor, so a
// failed upload leaves no record and no object behind.
func (s *MapService) Upload(ctx context.Context, token string, in UploadInput) (*models.Map, error) {
	if err := s.validateUpload(&in); err != nil {
		metrics.MapUploadsTotal.WithLabelValues("validation").Inc()
		return nil, err
	}

	userID, err := s.users.VerifySession(token)
	if err != nil {
		return nil, err
	}
	user, err := s.users.sessionUser(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}

	// Once bytes start moving the upload runs to completion even if the
	// client goes away.
	ctx = context.WithoutCancel(ctx)

	key, err := s.store.PutObject(ctx, in.Data, common.MapPackageExtension)
	if err != nil {
		metrics.MapUploadsTotal.WithLabelValues("store").Inc()
		return nil, err
	}
	written := []string{key}
	id := MapIDFromKey(key)

	thumbnail := strings.TrimSpace(in.Thumbnail)
	if len(in.ThumbnailData) > 0 {
		imageName := id + strings.ToLower(path.Ext(in.ThumbnailName))
		thumbnail, err = s.store.PutPublicImage(ctx, imageName, in.ThumbnailData)
		if err != nil {
			metrics.MapUploadsTotal.WithLabelValues("store").Inc()
			s.janitor.Schedule(ctx, written...)
			return nil, err
		}
		written = append(written, common.ImageKeyPrefix+imageName)
	}

	repo := s.repomanager.Maps(s.db)
	m, err := repo.Create(ctx, &models.Map{
		ID:          id,
		ObjectKey:   key,
		Author:      user.UserName,
		AuthorID:    user.ID,
		MapName:     in.MapName,
		Description: in.Description,
		Thumbnail:   thumbnail,
		GameType:    in.GameType,
		SourceURL:   s.store.PublicURL(key),
	})
	if err != nil {
		if errors.Is(err, common.ErrConflict) || errors.Is(err, common.ErrValidation) {
			metrics.MapUploadsTotal.WithLabelValues("metadata").Inc()
			s.logger.Error(ctx, "map metadata rejected, scheduling orphans", "keys", written, "error", err)
			s.janitor.Schedule(ctx, written...)
			return nil, fmt.Errorf("error creating map: %w", err)
		}

		// Any other failure may have hit after the insert committed.
		stored, lookupErr := repo.GetByID(ctx, id)
		switch {
		case lookupErr == nil:
			s.logger.Warn(ctx, "map metadata write reported an error but the record exists", "map_id", id, "error", err)
			m = stored
		case errors.Is(lookupErr, common.ErrorNotFound):
			metrics.MapUploadsTotal.WithLabelValues("metadata").Inc()
			s.logger.Error(ctx, "map metadata write failed, scheduling orphans", "keys", written, "error", err)
			s.janitor.Schedule(ctx, written...)
			return nil, fmt.Errorf("error creating map: %w", err)
		default:
			// Outcome unknown; the objects stay for the repair pass.
			metrics.MapUploadsTotal.WithLabelValues("metadata").Inc()
			s.logger.Error(ctx, "map metadata outcome unknown, keeping objects", "keys", written,
				"error", err, "lookup_error", lookupErr)
			return nil, fmt.Errorf("error creating map: %w", err)
		}
	}

	metrics.MapUploadsTotal.WithLabelValues("ok").Inc()
	s.logger.Info(ctx, "map uploaded", "map_id", m.ID, "author_id", m.AuthorID, "size", len(in.Data))
	return m, nil
}

// Download issues a signed link for the map package and counts the download.
// A failed increment is logged; the link is still returned with the
// pre-increment record.
func (s *MapService) Download(ctx context.Context, id string) (string, *models.Map, error) {
	repo := s.repomanager.Maps(s.db)

	m, err := repo.GetByID(ctx, id)
	if err != nil {
		return "", nil, err
	}

	url, err := s.store.SignedDownloadURL(context.WithoutCancel(ctx), m.ObjectKey, 0)
	if err != nil {
		return "", nil, err
	}
	metrics.MapDownloadsTotal.Inc()

	updated, err := repo.IncrementDownloads(ctx, id)
	if err != nil {
		s.logger.Warn(ctx, "download counter not incremented", "map_id", id, "error", err)
		return url, m, nil
	}
	return url, updated, nil
}

func (s *MapService) Get(ctx context.Context, id string) (*models.Map, error) {
	return s.repomanager.Maps(s.db).GetByID(ctx, id)
}

// ListAll returns every map, newest first.
func (s *MapService) ListAll(ctx context.Context) ([]*models.Map, error) {
	return s.repomanager.Maps(s.db).ListAll(ctx)
}

// ListByAuthor returns the maps of authorID, newest first.
func (s *MapService) ListByAuthor(ctx context.Context, authorID string) ([]*models.Map, error) {
	return s.repomanager.Maps(s.db).ListByAuthor(ctx, authorID)
}

// Delete removes a map owned by the session user: object first, then record.
func (s *MapService) Delete(ctx context.Context, token, id string) error {
	userID, m, err := s.gate.Authorize(ctx, token, id)
	if err != nil {
		return err
	}

	if err := s.deleteMap(ctx, m); err != nil {
		return err
	}
	s.logger.Info(ctx, "map deleted", "map_id", id, "user_id", userID)
	return nil
}

// deleteMap deletes the stored package and then the record. A package that is
// already gone does not block removal of the record. The thumbnail, if it was
// uploaded here, is cleaned up through the janitor afterwards.
func (s *MapService) deleteMap(ctx context.Context, m *models.Map) error {
	storeCtx := context.WithoutCancel(ctx)

	if err := s.store.DeleteObject(storeCtx, m.ObjectKey); err != nil {
		if !errors.Is(err, common.ErrObjectNotFound) {
			return err
		}
		s.logger.Warn(ctx, "map object already missing", "map_id", m.ID, "key", m.ObjectKey)
	}

	if err := s.repomanager.Maps(s.db).Delete(storeCtx, m.ID); err != nil {
		return err
	}

	if key, ok := s.imageKey(m.Thumbnail); ok {
		s.janitor.Schedule(storeCtx, key)
	}
	return nil
}

func (s *MapService) imageKey(thumbnail string) (string, bool) {
	base := s.store.PublicURL("")
	if thumbnail == "" || !strings.HasPrefix(thumbnail, base) {
		return "", false
	}
	key := strings.TrimPrefix(thumbnail, base)
	return key, strings.HasPrefix(key, common.ImageKeyPrefix)
}

// UpdateProfile edits the session user's name and avatar. A rename rewrites
// the author of every map the user owns in the same transaction, so either
// all of them carry the new name or nothing changed.
func (s *MapService) UpdateProfile(ctx context.Context, token string, in ProfileUpdate) (*models.User, error) {
	userID, err := s.users.VerifySession(token)
	if err != nil {
		return nil, err
	}
	current, err := s.users.sessionUser(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}

	name := current.UserName
	if in.UserName != "" {
		name = NormalizeUsername(in.UserName)
		if err := validateUsername(name); err != nil {
			return nil, err
		}
	}
	avatar := current.Avatar
	if strings.TrimSpace(in.Avatar) != "" {
		avatar = strings.TrimSpace(in.Avatar)
	}

	var updated *models.User
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		updated, err = s.repomanager.Users(tx).UpdateProfile(ctx, userID, name, avatar)
		if err != nil {
			return err
		}
		if name == current.UserName {
			return nil
		}

		mapsRepo := s.repomanager.Maps(tx)
		owned, err := mapsRepo.ListByAuthor(ctx, userID)
		if err != nil {
			return err
		}
		for _, m := range owned {
			if err := s.gate.Check(userID, m); err != nil {
				return err
			}
		}

		n, err := mapsRepo.UpdateAuthor(ctx, userID, name)
		if err != nil {
			return err
		}
		if n < int64(len(owned)) {
			return fmt.Errorf("author rename reached %d of %d maps", n, len(owned))
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, common.ErrConflict) {
			return nil, fmt.Errorf("%w: username %q is taken", common.ErrConflict, name)
		}
		return nil, err
	}

	s.logger.Info(ctx, "profile updated", "user_id", userID, "username", name)
	return updated.Public(), nil
}

// DeleteAccount removes every map of the session user and then the user.
// The first failing map stops the cascade and the user is kept.
func (s *MapService) DeleteAccount(ctx context.Context, token string) error {
	userID, err := s.users.VerifySession(token)
	if err != nil {
		return err
	}
	if _, err := s.users.sessionUser(ctx, s.db, userID); err != nil {
		return err
	}

	owned, err := s.repomanager.Maps(s.db).ListByAuthor(ctx, userID)
	if err != nil {
		return err
	}

	for i, m := range owned {
		if err := s.gate.Check(userID, m); err != nil {
			return fmt.Errorf("account deletion stopped after %d of %d maps: %w", i, len(owned), err)
		}
		if err := s.deleteMap(ctx, m); err != nil {
			return fmt.Errorf("account deletion stopped after %d of %d maps: %w", i, len(owned), err)
		}
	}

	if err := s.repomanager.Users(s.db).Delete(context.WithoutCancel(ctx), userID); err != nil {
		return fmt.Errorf("error deleting user: %w", err)
	}

	s.logger.Info(ctx, "account deleted", "user_id", userID, "maps", len(owned))
	return nil
}
