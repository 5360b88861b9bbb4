// File: /controllers/post_controller.go
package controllers

import (
	"errors"
	"fmt"
	"math"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"gameverse-api/database"
	"gameverse-api/logger"
	"gameverse-api/middleware"
	"gameverse-api/models"
	"gameverse-api/services"
	"gameverse-api/utils"
)

type PostController struct {
	db       *gorm.DB
	notifier services.Notifier
}

func NewPostController(db *gorm.DB, notifier services.Notifier) *PostController {
	return &PostController{
		db:       db,
		notifier: notifier,
	}
}

type CreatePostRequest struct {
	Title     string   `json:"title" binding:"required,max=255"`
	Content   string   `json:"content"`
	Tags      []string `json:"tags"`
	ImageUrls []string `json:"image_urls"`
}

func (pc *PostController) GetPosts(c *gin.Context) {
	page, limit := utils.Pagination(c)
	query := pc.db.WithContext(c.Request.Context()).Model(&models.Post{})
	if authorID := c.Query("user_id"); authorID != "" {
		query = query.Where("user_id = ?", authorID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		utils.SendServiceError(c, err)
		return
	}

	posts := []models.Post{}
	if err := query.Preload("User").
		Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&posts).Error; err != nil {
		utils.SendServiceError(c, err)
		return
	}

	totalPages := int(math.Ceil(float64(total) / float64(limit)))
	c.JSON(http.StatusOK, models.FeedResponse{
		Posts:      posts,
		Page:       page,
		Limit:      limit,
		Total:      total,
		HasMore:    page < totalPages,
		TotalPages: totalPages,
	})
}

func (pc *PostController) CreatePost(c *gin.Context) {
	var req CreatePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendValidationError(c, err.Error())
		return
	}

	post := models.Post{
		ID:        uuid.New().String(),
		UserID:    middleware.GetUserID(c),
		Title:     req.Title,
		Content:   req.Content,
		Tags:      models.StringSlice(req.Tags),
		ImageUrls: models.StringSlice(req.ImageUrls),
	}
	if err := pc.db.WithContext(c.Request.Context()).Create(&post).Error; err != nil {
		utils.SendServiceError(c, err)
		return
	}

	utils.SendCreated(c, "Post created", post)
}

func (pc *PostController) GetPost(c *gin.Context) {
	post, ok := pc.loadPost(c, c.Param("id"))
	if !ok {
		return
	}
	c.JSON(http.StatusOK, post)
}

func (pc *PostController) DeletePost(c *gin.Context) {
	post, ok := pc.loadPost(c, c.Param("id"))
	if !ok {
		return
	}
	if post.UserID != middleware.GetUserID(c) && !middleware.IsAdmin(c) {
		utils.SendServiceError(c, fmt.Errorf("%w: only the author can delete this post", services.ErrForbidden))
		return
	}

	err := pc.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("post_id = ?", post.ID).Delete(&models.PostLike{}).Error; err != nil {
			return err
		}
		if err := tx.Where("post_id = ?", post.ID).Delete(&models.Comment{}).Error; err != nil {
			return err
		}
		return tx.Delete(post).Error
	})
	if err != nil {
		utils.SendServiceError(c, err)
		return
	}
	utils.SendSuccess(c, "Post deleted successfully", nil)
}

func (pc *PostController) LikePost(c *gin.Context) {
	userID := middleware.GetUserID(c)
	post, ok := pc.loadPost(c, c.Param("id"))
	if !ok {
		return
	}

	ctx := c.Request.Context()
	err := pc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&models.PostLike{PostID: post.ID, UserID: userID}).Error; err != nil {
			return err
		}
		return tx.Model(&models.Post{}).Where("id = ?", post.ID).
			UpdateColumn("likes_count", gorm.Expr("likes_count + ?", 1)).Error
	})
	if database.IsDuplicateKey(err) {
		utils.SendServiceError(c, fmt.Errorf("%w: post already liked", services.ErrConflict))
		return
	}
	if err != nil {
		utils.SendServiceError(c, err)
		return
	}

	if post.UserID != userID {
		pc.notify(c, services.NotifyRequest{
			UserID:     post.UserID,
			Type:       models.NotificationTypePostLike,
			Title:      "Someone liked your post",
			Content:    fmt.Sprintf("Your post %q got a new like.", post.Title),
			TargetType: models.TargetTypePost,
			TargetID:   post.ID,
			Payload:    map[string]interface{}{"actor_id": userID},
		})
	}
	utils.SendSuccess(c, "Post liked successfully", nil)
}

func (pc *PostController) UnlikePost(c *gin.Context) {
	userID := middleware.GetUserID(c)
	postID := c.Param("id")

	err := pc.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("post_id = ? AND user_id = ?", postID, userID).Delete(&models.PostLike{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: like not found", services.ErrNotFound)
		}
		return tx.Model(&models.Post{}).Where("id = ? AND likes_count > 0", postID).
			UpdateColumn("likes_count", gorm.Expr("likes_count - ?", 1)).Error
	})
	if err != nil {
		utils.SendServiceError(c, err)
		return
	}
	utils.SendSuccess(c, "Post unliked successfully", nil)
}

func (pc *PostController) loadPost(c *gin.Context, postID string) (*models.Post, bool) {
	var post models.Post
	err := pc.db.WithContext(c.Request.Context()).Preload("User").First(&post, "id = ?", postID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		utils.SendServiceError(c, fmt.Errorf("%w: post %s", services.ErrNotFound, postID))
		return nil, false
	}
	if err != nil {
		utils.SendServiceError(c, err)
		return nil, false
	}
	return &post, true
}

// notify never fails the request; the action already happened
func (pc *PostController) notify(c *gin.Context, req services.NotifyRequest) {
	if pc.notifier == nil {
		return
	}
	if _, err := pc.notifier.NotifyOne(c.Request.Context(), req); err != nil {
		logger.WithContext(c.Request.Context(), logger.Get()).Warn("failed to create notification",
			zap.String("type", string(req.Type)),
			zap.String("user_id", req.UserID),
			zap.Error(err),
		)
	}
}
