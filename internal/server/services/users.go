package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/dmitrijs2005/bhopmaps/internal/common"
	"github.com/dmitrijs2005/bhopmaps/internal/dbx"
	"github.com/dmitrijs2005/bhopmaps/internal/logging"
	"github.com/dmitrijs2005/bhopmaps/internal/server/auth"
	"github.com/dmitrijs2005/bhopmaps/internal/server/config"
	"github.com/dmitrijs2005/bhopmaps/internal/server/models"
	"github.com/dmitrijs2005/bhopmaps/internal/server/repositories/repomanager"
)

const (
	userIDLength      = 8
	minUsernameLength = 3
	maxUsernameLength = 32
	minPasswordLength = 8
	// bcrypt ignores input past 72 bytes; longer passwords are refused.
	maxPasswordBytes = 72
)

var newUserID = func() (string, error) {
	return gonanoid.New(userIDLength)
}

// UserService registers users and issues and verifies their sessions.
type UserService struct {
	db            *sql.DB
	repomanager   repomanager.RepositoryManager
	jwtSecret     []byte
	sessionTTL    time.Duration
	bcryptCost    int
	defaultAvatar string
	logger        logging.Logger
}

func NewUserService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config, logger logging.Logger) *UserService {
	avatar := cfg.DefaultAvatar
	if avatar == "" {
		avatar = config.DefaultAvatar
	}
	return &UserService{
		db:            db,
		repomanager:   m,
		jwtSecret:     []byte(cfg.SecretKey),
		sessionTTL:    cfg.SessionTTL,
		bcryptCost:    cfg.BcryptCost,
		defaultAvatar: avatar,
		logger:        logger.With("module", "users"),
	}
}

// NormalizeUsername trims and lowercases name; usernames are case-insensitive.
func NormalizeUsername(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func validateUsername(name string) error {
	n := utf8.RuneCountInString(name)
	if n < minUsernameLength || n > maxUsernameLength {
		return fmt.Errorf("%w: username must be %d to %d characters", common.ErrValidation, minUsernameLength, maxUsernameLength)
	}
	if strings.ContainsAny(name, " \t\r\n/") {
		return fmt.Errorf("%w: username must not contain spaces or slashes", common.ErrValidation)
	}
	return nil
}

func validatePassword(password string) error {
	if utf8.RuneCountInString(password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", common.ErrValidation, minPasswordLength)
	}
	if len(password) > maxPasswordBytes {
		return fmt.Errorf("%w: password must be at most %d bytes", common.ErrValidation, maxPasswordBytes)
	}
	return nil
}

// Register creates a user with a lowercased name and a bcrypt hash of
// password. The returned user carries no hash.
func (s *UserService) Register(ctx context.Context, username, password, avatar string) (*models.User, error) {
	name := NormalizeUsername(username)
	if err := validateUsername(name); err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, err
	}

	id, err := newUserID()
	if err != nil {
		return nil, fmt.Errorf("generate user id: %w", err)
	}

	if strings.TrimSpace(avatar) == "" {
		avatar = s.defaultAvatar
	}

	user, err := s.repomanager.Users(s.db).Create(ctx, &models.User{
		ID:           id,
		UserName:     name,
		PasswordHash: hash,
		Avatar:       avatar,
	})
	if err != nil {
		if errors.Is(err, common.ErrConflict) {
			return nil, fmt.Errorf("%w: username %q is taken", common.ErrConflict, name)
		}
		return nil, fmt.Errorf("error creating user: %w", err)
	}

	s.logger.Info(ctx, "user registered", "user_id", user.ID, "username", user.UserName)
	return user.Public(), nil
}

// Authenticate checks the credentials. Unknown users and wrong passwords
// both yield common.ErrInvalidCredentials.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	user, err := s.repomanager.Users(s.db).GetByUsername(ctx, NormalizeUsername(username))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			auth.CompareDummy(password)
			return nil, common.ErrInvalidCredentials
		}
		return nil, err
	}

	if err := auth.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, err
	}
	return user.Public(), nil
}

// IssueSession signs a session token for userID.
func (s *UserService) IssueSession(userID string) (string, error) {
	return auth.GenerateToken(userID, s.jwtSecret, s.sessionTTL)
}

// VerifySession returns the user id carried by token.
func (s *UserService) VerifySession(token string) (string, error) {
	return auth.GetUserIDFromToken(token, s.jwtSecret)
}

// Login authenticates and issues a session token.
func (s *UserService) Login(ctx context.Context, username, password string) (string, *models.User, error) {
	user, err := s.Authenticate(ctx, username, password)
	if err != nil {
		return "", nil, err
	}

	token, err := s.IssueSession(user.ID)
	if err != nil {
		return "", nil, fmt.Errorf("issue session: %w", err)
	}
	return token, user, nil
}

// CurrentUser resolves the owner of token. A token whose user no longer
// exists is an invalid session.
func (s *UserService) CurrentUser(ctx context.Context, token string) (*models.User, error) {
	userID, err := s.VerifySession(token)
	if err != nil {
		return nil, err
	}
	return s.sessionUser(ctx, s.db, userID)
}

func (s *UserService) sessionUser(ctx context.Context, db dbx.DBTX, userID string) (*models.User, error) {
	user, err := s.repomanager.Users(db).GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, fmt.Errorf("%w: user no longer exists", common.ErrInvalidSession)
		}
		return nil, err
	}
	return user.Public(), nil
}

// GetByUsername returns the public profile of name.
func (s *UserService) GetByUsername(ctx context.Context, name string) (*models.User, error) {
	user, err := s.repomanager.Users(s.db).GetByUsername(ctx, NormalizeUsername(name))
	if err != nil {
		return nil, err
	}
	return user.Public(), nil
}
