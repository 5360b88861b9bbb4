package models

import (
	"encoding/json"
	"time"
)

type Game struct {
	ID              string      `json:"id" gorm:"primaryKey;size:191"`
	Title           string      `json:"title" gorm:"not null;size:255;index"`
	Description     string      `json:"description" gorm:"type:text"`
	Developer       string      `json:"developer" gorm:"size:255"`
	Publisher       string      `json:"publisher" gorm:"size:255"`
	Price           float64     `json:"price" gorm:"not null;default:0"`
	DiscountPercent int         `json:"discount_percent" gorm:"not null;default:0"`
	DiscountEndsAt  *time.Time  `json:"discount_ends_at"`
	CoverImage      *string     `json:"cover_image" gorm:"size:500"`
	Screenshots     StringSlice `json:"screenshots"`
	Categories      StringSlice `json:"categories"`
	Rating          float64     `json:"rating" gorm:"not null;default:0"`
	RatingCount     int         `json:"rating_count" gorm:"not null;default:0"`
	Popularity      int         `json:"popularity" gorm:"not null;default:0;index"`
	ReleaseDate     *time.Time  `json:"release_date"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// DiscountActive reports whether a discount applies at now
func (g *Game) DiscountActive(now time.Time) bool {
	if g.DiscountPercent <= 0 {
		return false
	}
	return g.DiscountEndsAt == nil || now.Before(*g.DiscountEndsAt)
}

// CurrentPrice applies an active discount, rounded to cents
func (g *Game) CurrentPrice(now time.Time) float64 {
	if !g.DiscountActive(now) {
		return g.Price
	}
	cents := int64(g.Price*100+0.5) * int64(100-g.DiscountPercent) / 100
	return float64(cents) / 100
}

// MarshalJSON adds current_price
func (g Game) MarshalJSON() ([]byte, error) {
	type plain Game
	return json.Marshal(struct {
		plain
		CurrentPrice float64 `json:"current_price"`
	}{plain(g), g.CurrentPrice(time.Now())})
}

// LibraryEntry is a game in a user's library
type LibraryEntry struct {
	ID              uint       `json:"id" gorm:"primaryKey"`
	UserID          string     `json:"user_id" gorm:"not null;size:191;uniqueIndex:uk_user_game"`
	GameID          string     `json:"game_id" gorm:"not null;size:191;uniqueIndex:uk_user_game;index"`
	UserRating      *int       `json:"user_rating"`
	UserReview      string     `json:"user_review" gorm:"type:text"`
	PlayTimeMinutes int        `json:"play_time_minutes" gorm:"not null;default:0"`
	PurchasedAt     time.Time  `json:"purchased_at"`
	LastPlayedAt    *time.Time `json:"last_played_at"`

	Game *Game `json:"game,omitempty" gorm:"foreignKey:GameID"`
}

func (LibraryEntry) TableName() string {
	return "user_games"
}

const (
	MinGameRating = 0
	MaxGameRating = 5
)
