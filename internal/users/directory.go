package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ErrProfileNotFound indicates the identifier resolves to no directory entry.
var ErrProfileNotFound = errors.New("users: profile not found")

// DirectoryConfig describes the dependencies of the user directory.
type DirectoryConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Directory serves read access to user profiles and refreshes them from
// authenticated session claims.
type Directory struct {
	db  *gorm.DB
	now func() time.Time
}

// NewDirectory constructs the directory service.
func NewDirectory(cfg DirectoryConfig) (*Directory, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Directory{db: cfg.Database, now: clock}, nil
}

// Get returns the profile for the given identifier.
func (d *Directory) Get(ctx context.Context, userID string) (*AppUser, error) {
	id := normalize(userID)
	if id == "" {
		return nil, ErrProfileNotFound
	}
	var profile AppUser
	err := d.db.WithContext(ctx).Where("user_id = ?", id).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// List returns every directory profile.
func (d *Directory) List(ctx context.Context) ([]AppUser, error) {
	var profiles []AppUser
	if err := d.db.WithContext(ctx).Order("display_name ASC, user_id ASC").Find(&profiles).Error; err != nil {
		return nil, err
	}
	return profiles, nil
}

// ProfileClaims carries the identity fields extracted from a validated
// session.
type ProfileClaims struct {
	UserID      string
	Email       string
	DisplayName string
	AvatarURL   string
	Role        string
}

// Ensure records the profile on first sight and refreshes changed fields on
// subsequent sessions.
func (d *Directory) Ensure(ctx context.Context, claims ProfileClaims) (*AppUser, error) {
	id := normalize(claims.UserID)
	if id == "" {
		return nil, ErrProfileNotFound
	}

	var profile AppUser
	err := d.db.WithContext(ctx).Where("user_id = ?", id).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		profile = AppUser{
			UserID:      id,
			DisplayName: normalize(claims.DisplayName),
			Email:       normalize(claims.Email),
			AvatarURL:   normalize(claims.AvatarURL),
			Role:        normalize(claims.Role),
			LastSeenAt:  d.now(),
		}
		if err := d.db.WithContext(ctx).Create(&profile).Error; err != nil {
			return nil, err
		}
		return &profile, nil
	}
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{"last_seen_at": d.now()}
	if email := normalize(claims.Email); email != "" && email != profile.Email {
		updates["email"] = email
		profile.Email = email
	}
	if display := normalize(claims.DisplayName); display != "" && display != profile.DisplayName {
		updates["display_name"] = display
		profile.DisplayName = display
	}
	if avatar := normalize(claims.AvatarURL); avatar != "" && avatar != profile.AvatarURL {
		updates["avatar_url"] = avatar
		profile.AvatarURL = avatar
	}
	if role := normalize(claims.Role); role != "" && role != profile.Role {
		updates["role"] = role
		profile.Role = role
	}
	if err := d.db.WithContext(ctx).Model(&AppUser{}).Where("user_id = ?", id).Updates(updates).Error; err != nil {
		return nil, err
	}
	return &profile, nil
}
