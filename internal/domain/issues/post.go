package issues

import (
	"fmt"
	"time"
	"unicode/utf8"

	"familybook/internal/apperr"
	"familybook/internal/domain/users"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	MaxImages       = 4
	MaxContentRunes = 100
)

type Post struct {
	ID        string                      `gorm:"type:uuid;primaryKey"`
	IssueID   string                      `gorm:"type:uuid;not null;index"`
	Issue     *Issue                      `gorm:"foreignKey:IssueID"`
	AuthorID  string                      `gorm:"type:uuid;not null;index"`
	Author    *users.User                 `gorm:"foreignKey:AuthorID"`
	Content   string                      `gorm:"type:text"`
	ImageURLs datatypes.JSONSlice[string] `gorm:"column:image_urls"`
	ImageKeys datatypes.JSONSlice[string] `gorm:"column:image_keys"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (p *Post) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// ValidatePost checks the shape of a post body before any state is read.
func ValidatePost(content string, imageURLs, imageKeys []string) error {
	if n := utf8.RuneCountInString(content); n > MaxContentRunes {
		return apperr.Validation("content_too_long", fmt.Sprintf("content is %d characters, at most %d allowed", n, MaxContentRunes))
	}
	if len(imageURLs) > MaxImages {
		return apperr.Validation("too_many_images", fmt.Sprintf("at most %d images per post", MaxImages))
	}
	if len(imageKeys) > 0 && len(imageKeys) != len(imageURLs) {
		return apperr.Validation("image_keys_mismatch", "image keys must match image urls")
	}
	if content == "" && len(imageURLs) == 0 {
		return apperr.Validation("empty_post", "a post needs content or at least one image")
	}
	return nil
}
