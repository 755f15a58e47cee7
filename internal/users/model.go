package users

import (
	"strings"
	"time"
)

// AppUser is a directory profile. The collaboration core treats the
// directory as read-only; profiles are refreshed from session claims by the
// application shell.
type AppUser struct {
	UserID      string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	DisplayName string    `gorm:"column:display_name;size:320"`
	Email       string    `gorm:"column:email;size:320"`
	AvatarURL   string    `gorm:"column:avatar_url;size:512"`
	Role        string    `gorm:"column:role;size:64"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at;autoUpdateTime"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing directory profiles.
func (AppUser) TableName() string {
	return "app_users"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
