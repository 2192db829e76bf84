// Package users owns the users file: account records, login passwords and
// the labeled API passwords used for Basic auth. Every mutation rewrites
// the whole file under the service's write lock.
package users

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nugetd/nugetd/internal/models"
	apperrors "github.com/nugetd/nugetd/pkg/errors"
)

const (
	maxAPIPasswords   = 10
	maxLabelLength    = 50
	minPasswordLength = 4
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,50}$`)

// fakeSalt keeps credential checks for unknown usernames doing the same
// hashing work as real ones.
const fakeSalt = "0123456789abcdef0123456789abcdef"

// Options configures the user service.
type Options struct {
	Path                 string
	Scorer               Scorer
	MinScore             int
	DisableStrengthCheck bool
	Logger               *logrus.Logger
}

// Service manages user records. The file is loaded once at startup and
// held in memory; credential checks never touch the disk.
type Service struct {
	mu    sync.RWMutex
	path  string
	users []*models.User

	scorer        Scorer
	minScore      int
	strengthCheck bool
	logger        *logrus.Logger
	now           func() time.Time
}

// NewService creates the service and loads the users file. A missing file
// means zero users, not an error.
func NewService(opts Options) (*Service, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("users file path is required")
	}
	if opts.Scorer == nil {
		opts.Scorer = NewScorer()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	s := &Service{
		path:          opts.Path,
		scorer:        opts.Scorer,
		minScore:      opts.MinScore,
		strengthCheck: !opts.DisableStrengthCheck,
		logger:        opts.Logger,
		now:           time.Now,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.users = nil
			return nil
		}
		return fmt.Errorf("read users file: %w", err)
	}
	var users []*models.User
	if err := json.Unmarshal(data, &users); err != nil {
		return fmt.Errorf("parse users file: %w", err)
	}
	s.users = users
	return nil
}

// Count returns the number of users.
func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

// ListUsers returns the sanitized records in file order.
func (s *Service) ListUsers() []models.UserInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]models.UserInfo, 0, len(s.users))
	for _, u := range s.users {
		infos = append(infos, u.Info())
	}
	return infos
}

// GetUser returns a copy of the named user.
func (s *Service) GetUser(username string) (*models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u := s.find(username)
	if u == nil {
		return nil, false
	}
	cp := *u
	return &cp, true
}

// CreateUser validates and persists a new user. The returned string is the
// plaintext of the generated "default" API password; it is shown exactly
// once and never retrievable again.
func (s *Service) CreateUser(username, password string, role models.Role) (models.UserInfo, string, error) {
	if !usernamePattern.MatchString(username) {
		return models.UserInfo{}, "", apperrors.NewAppError(apperrors.CodeBadRequest,
			"username must be 1-50 characters of letters, digits, dot, underscore or dash", nil)
	}
	if !role.Valid() {
		return models.UserInfo{}, "", apperrors.NewAppErrorf(apperrors.CodeBadRequest, nil, "invalid role %q", role)
	}
	if err := s.checkPassword(password); err != nil {
		return models.UserInfo{}, "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.find(username) != nil {
		return models.UserInfo{}, "", apperrors.NewAppErrorf(apperrors.CodeConflict, nil, "user %s already exists", username)
	}

	salt, err := newSalt()
	if err != nil {
		return models.UserInfo{}, "", apperrors.NewAppError(apperrors.CodeInternalError, "failed to create user", err)
	}
	apiValue, err := newAPIPasswordValue()
	if err != nil {
		return models.UserInfo{}, "", apperrors.NewAppError(apperrors.CodeInternalError, "failed to create user", err)
	}
	apiSalt, err := newSalt()
	if err != nil {
		return models.UserInfo{}, "", apperrors.NewAppError(apperrors.CodeInternalError, "failed to create user", err)
	}

	now := s.now().UTC()
	user := &models.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hashSecret(salt, password),
		Salt:         salt,
		Role:         role,
		APIPasswords: []models.APIPassword{{
			Label:        "default",
			PasswordHash: hashSecret(apiSalt, apiValue),
			Salt:         apiSalt,
			CreatedAt:    now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.users = append(s.users, user)
	if err := s.persistLocked(); err != nil {
		s.users = s.users[:len(s.users)-1]
		return models.UserInfo{}, "", err
	}

	s.logger.WithFields(logrus.Fields{
		"user": username,
		"role": role,
	}).Info("User created")

	return user.Info(), apiValue, nil
}

// DeleteUser removes a user and rewrites the file.
func (s *Service) DeleteUser(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, u := range s.users {
		if u.Username == username {
			idx = i
			break
		}
	}
	if idx < 0 {
		return apperrors.NewAppErrorf(apperrors.CodeNotFound, nil, "user %s not found", username)
	}

	prev := s.users
	next := make([]*models.User, 0, len(prev)-1)
	next = append(next, prev[:idx]...)
	next = append(next, prev[idx+1:]...)
	s.users = next
	if err := s.persistLocked(); err != nil {
		s.users = prev
		return err
	}

	s.logger.WithField("user", username).Info("User deleted")
	return nil
}

// AddAPIPassword creates a new labeled credential for the user and returns
// its one-time plaintext. Labels are unique per user; at most 10
// credentials may exist at a time.
func (s *Service) AddAPIPassword(username, label string) (string, error) {
	if label == "" || len(label) > maxLabelLength {
		return "", apperrors.NewAppErrorf(apperrors.CodeBadRequest, nil,
			"label must be 1-%d characters", maxLabelLength)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user := s.find(username)
	if user == nil {
		return "", apperrors.NewAppErrorf(apperrors.CodeNotFound, nil, "user %s not found", username)
	}

	current := user.EffectiveAPIPasswords()
	if len(current) >= maxAPIPasswords {
		return "", apperrors.NewAppErrorf(apperrors.CodeBadRequest, nil,
			"maximum of %d api passwords reached", maxAPIPasswords)
	}
	for _, p := range current {
		if p.Label == label {
			return "", apperrors.NewAppErrorf(apperrors.CodeBadRequest, nil,
				"api password label %q already exists", label)
		}
	}

	value, err := newAPIPasswordValue()
	if err != nil {
		return "", apperrors.NewAppError(apperrors.CodeInternalError, "failed to create api password", err)
	}
	salt, err := newSalt()
	if err != nil {
		return "", apperrors.NewAppError(apperrors.CodeInternalError, "failed to create api password", err)
	}

	// First mutation materializes a legacy record's migrated view.
	prevList, prevUpdated := user.APIPasswords, user.UpdatedAt
	now := s.now().UTC()
	user.APIPasswords = append(append([]models.APIPassword(nil), current...), models.APIPassword{
		Label:        label,
		PasswordHash: hashSecret(salt, value),
		Salt:         salt,
		CreatedAt:    now,
	})
	user.UpdatedAt = now

	if err := s.persistLocked(); err != nil {
		user.APIPasswords, user.UpdatedAt = prevList, prevUpdated
		return "", err
	}

	s.logger.WithFields(logrus.Fields{
		"user":  username,
		"label": label,
	}).Info("API password added")

	return value, nil
}

// ListAPIPasswords returns labels and creation times, newest first.
func (s *Service) ListAPIPasswords(username string) ([]models.APIPasswordInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user := s.find(username)
	if user == nil {
		return nil, apperrors.NewAppErrorf(apperrors.CodeNotFound, nil, "user %s not found", username)
	}

	list := user.EffectiveAPIPasswords()
	infos := make([]models.APIPasswordInfo, 0, len(list))
	for _, p := range list {
		infos = append(infos, models.APIPasswordInfo{Label: p.Label, CreatedAt: p.CreatedAt})
	}
	sort.SliceStable(infos, func(i, j int) bool {
		return infos[i].CreatedAt.After(infos[j].CreatedAt)
	})
	return infos, nil
}

// DeleteAPIPassword removes the credential with the given label. A missing
// label reports removed=false without an error; the last remaining
// credential cannot be deleted.
func (s *Service) DeleteAPIPassword(username, label string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user := s.find(username)
	if user == nil {
		return false, apperrors.NewAppErrorf(apperrors.CodeNotFound, nil, "user %s not found", username)
	}

	current := user.EffectiveAPIPasswords()
	idx := -1
	for i, p := range current {
		if p.Label == label {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, nil
	}
	if len(current) == 1 {
		return false, apperrors.NewAppError(apperrors.CodeBadRequest,
			"cannot delete the last api password", nil)
	}

	prevList, prevUpdated := user.APIPasswords, user.UpdatedAt
	next := make([]models.APIPassword, 0, len(current)-1)
	next = append(next, current[:idx]...)
	next = append(next, current[idx+1:]...)
	user.APIPasswords = next
	user.UpdatedAt = s.now().UTC()

	if err := s.persistLocked(); err != nil {
		user.APIPasswords, user.UpdatedAt = prevList, prevUpdated
		return false, err
	}

	s.logger.WithFields(logrus.Fields{
		"user":  username,
		"label": label,
	}).Info("API password deleted")

	return true, nil
}

// ValidateAPIPassword checks candidate against every current API password
// of the user, including a legacy record's migrated credential. No match is
// not an error.
func (s *Service) ValidateAPIPassword(username, candidate string) (*models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user := s.find(username)
	if user == nil {
		// Burn comparable time for unknown usernames.
		verifySecret(fakeSalt, candidate, "")
		return nil, false
	}
	for _, p := range user.EffectiveAPIPasswords() {
		if verifySecret(p.Salt, candidate, p.PasswordHash) {
			cp := *user
			return &cp, true
		}
	}
	return nil, false
}

// ValidateLoginPassword checks the interactive login password.
func (s *Service) ValidateLoginPassword(username, password string) (*models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user := s.find(username)
	if user == nil {
		verifySecret(fakeSalt, password, "")
		return nil, false
	}
	if !verifySecret(user.Salt, password, user.PasswordHash) {
		return nil, false
	}
	cp := *user
	return &cp, true
}

// ChangePassword sets a new login password for target. Self-service
// requires the current password; an admin actor may reset anyone.
func (s *Service) ChangePassword(actorUsername string, actorRole models.Role, target, currentPassword, newPassword string) error {
	if err := s.checkPassword(newPassword); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user := s.find(target)
	if user == nil {
		return apperrors.NewAppErrorf(apperrors.CodeNotFound, nil, "user %s not found", target)
	}

	if actorUsername == target {
		if !verifySecret(user.Salt, currentPassword, user.PasswordHash) {
			return apperrors.NewAppError(apperrors.CodeUnauthenticated, "invalid credentials", nil)
		}
	} else if actorRole != models.RoleAdmin {
		return apperrors.NewAppError(apperrors.CodeForbidden, "admin role required to change another user's password", nil)
	}

	salt, err := newSalt()
	if err != nil {
		return apperrors.NewAppError(apperrors.CodeInternalError, "failed to change password", err)
	}

	prevHash, prevSalt, prevUpdated := user.PasswordHash, user.Salt, user.UpdatedAt
	user.PasswordHash = hashSecret(salt, newPassword)
	user.Salt = salt
	user.UpdatedAt = s.now().UTC()

	if err := s.persistLocked(); err != nil {
		user.PasswordHash, user.Salt, user.UpdatedAt = prevHash, prevSalt, prevUpdated
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"user":  target,
		"actor": actorUsername,
	}).Info("Password changed")

	return nil
}

func (s *Service) checkPassword(password string) error {
	if len(password) < minPasswordLength {
		return apperrors.NewAppErrorf(apperrors.CodeBadRequest, nil,
			"password must be at least %d characters", minPasswordLength)
	}
	if s.strengthCheck {
		if score := s.scorer.Score(password); score < s.minScore {
			return apperrors.NewAppErrorf(apperrors.CodeBadRequest, nil,
				"password is too weak (score %d, minimum %d)", score, s.minScore)
		}
	}
	return nil
}

// find returns the live record for username. Callers must hold the lock.
func (s *Service) find(username string) *models.User {
	for _, u := range s.users {
		if u.Username == username {
			return u
		}
	}
	return nil
}

// persistLocked rewrites the users file atomically. Callers must hold the
// write lock.
func (s *Service) persistLocked() error {
	list := s.users
	if list == nil {
		list = []*models.User{}
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return apperrors.NewAppError(apperrors.CodeInternalError, "failed to encode users file", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperrors.NewAppError(apperrors.CodeInternalError, "failed to write users file", err)
	}
	tmp, err := os.CreateTemp(dir, ".users-*.json")
	if err != nil {
		return apperrors.NewAppError(apperrors.CodeInternalError, "failed to write users file", err)
	}
	tmpName := tmp.Name()
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		os.Remove(tmpName)
		return apperrors.NewAppError(apperrors.CodeInternalError, "failed to write users file", werr)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return apperrors.NewAppError(apperrors.CodeInternalError, "failed to write users file", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return apperrors.NewAppError(apperrors.CodeInternalError, "failed to write users file", err)
	}
	return nil
}
