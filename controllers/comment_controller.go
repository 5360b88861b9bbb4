package controllers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"gameverse-api/middleware"
	"gameverse-api/models"
	"gameverse-api/services"
	"gameverse-api/utils"
)

type CommentController struct {
	db    *gorm.DB
	posts *PostController
}

func NewCommentController(db *gorm.DB, posts *PostController) *CommentController {
	return &CommentController{
		db:    db,
		posts: posts,
	}
}

type CreateCommentRequest struct {
	Body     string  `json:"body" binding:"required"`
	ParentID *string `json:"parent_id"`
}

func (cc *CommentController) CreateComment(c *gin.Context) {
	userID := middleware.GetUserID(c)

	var req CreateCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendValidationError(c, err.Error())
		return
	}

	post, ok := cc.posts.loadPost(c, c.Param("id"))
	if !ok {
		return
	}

	ctx := c.Request.Context()
	var parent *models.Comment
	if req.ParentID != nil {
		var found models.Comment
		err := cc.db.WithContext(ctx).First(&found, "id = ? AND post_id = ?", *req.ParentID, post.ID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.SendServiceError(c, fmt.Errorf("%w: parent comment %s", services.ErrNotFound, *req.ParentID))
			return
		}
		if err != nil {
			utils.SendServiceError(c, err)
			return
		}
		parent = &found
	}

	comment := models.Comment{
		ID:       uuid.New().String(),
		PostID:   post.ID,
		UserID:   userID,
		ParentID: req.ParentID,
		Body:     req.Body,
	}
	err := cc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&comment).Error; err != nil {
			return err
		}
		return tx.Model(&models.Post{}).Where("id = ?", post.ID).
			UpdateColumn("comments_count", gorm.Expr("comments_count + ?", 1)).Error
	})
	if err != nil {
		utils.SendServiceError(c, err)
		return
	}

	// No notification for replying to yourself
	recipients := map[string]bool{}
	if post.UserID != userID {
		recipients[post.UserID] = true
	}
	if parent != nil && parent.UserID != userID {
		recipients[parent.UserID] = true
	}
	for recipient := range recipients {
		cc.posts.notify(c, services.NotifyRequest{
			UserID:     recipient,
			Type:       models.NotificationTypePostReply,
			Title:      "New reply",
			Content:    fmt.Sprintf("Someone replied in %q.", post.Title),
			TargetType: models.TargetTypePost,
			TargetID:   post.ID,
			Payload:    map[string]interface{}{"actor_id": userID, "comment_id": comment.ID},
		})
	}

	utils.SendCreated(c, "Comment created", comment)
}

func (cc *CommentController) GetComments(c *gin.Context) {
	comments := []models.Comment{}
	if err := cc.db.WithContext(c.Request.Context()).
		Preload("User").
		Where("post_id = ?", c.Param("id")).
		Order("created_at ASC").
		Find(&comments).Error; err != nil {
		utils.SendServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, comments)
}
