package models

import (
	"time"
)

type Post struct {
	ID            string      `json:"id" gorm:"primaryKey;size:191"`
	UserID        string      `json:"user_id" gorm:"not null;size:191;index"`
	Title         string      `json:"title" gorm:"not null;size:255"`
	Content       string      `json:"content" gorm:"type:text"`
	Tags          StringSlice `json:"tags"`
	ImageUrls     StringSlice `json:"image_urls"`
	LikesCount    int         `json:"likes_count" gorm:"default:0"`
	CommentsCount int         `json:"comments_count" gorm:"default:0"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`

	User *User `json:"user,omitempty" gorm:"foreignKey:UserID"`
}

type PostLike struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	PostID    string    `json:"post_id" gorm:"not null;size:191;uniqueIndex:uk_post_like"`
	UserID    string    `json:"user_id" gorm:"not null;size:191;uniqueIndex:uk_post_like"`
	CreatedAt time.Time `json:"created_at"`
}

// FeedResponse represents a page of posts
type FeedResponse struct {
	Posts      []Post `json:"posts"`
	Page       int    `json:"page"`
	Limit      int    `json:"limit"`
	Total      int64  `json:"total"`
	HasMore    bool   `json:"has_more"`
	TotalPages int    `json:"total_pages"`
}
