// File: /controllers/user_controller.go
package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"gameverse-api/logger"
	"gameverse-api/middleware"
	"gameverse-api/repositories"
	"gameverse-api/services"
	"gameverse-api/utils"
)

type UserController struct {
	users *repositories.UserRepository
}

func NewUserController(users *repositories.UserRepository) *UserController {
	return &UserController{users: users}
}

type UpdateProfileRequest struct {
	Name   *string `json:"name" binding:"omitempty,min=1,max=255"`
	Avatar *string `json:"avatar" binding:"omitempty,max=500"`
	Bio    *string `json:"bio" binding:"omitempty,max=500"`
}

// UpdateSettingsRequest changes only the fields that are present
type UpdateSettingsRequest struct {
	SystemEnabled    *bool   `json:"system_enabled"`
	GameEnabled      *bool   `json:"game_enabled"`
	EventEnabled     *bool   `json:"event_enabled"`
	CommunityEnabled *bool   `json:"community_enabled"`
	EmailEnabled     *bool   `json:"email_enabled"`
	PushWindowStart  *string `json:"push_window_start"`
	PushWindowEnd    *string `json:"push_window_end"`
}

func (uc *UserController) GetProfile(c *gin.Context) {
	user, err := uc.users.FindByID(c.Request.Context(), middleware.GetUserID(c))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		utils.SendServiceError(c, services.ErrNotFound)
		return
	}
	if err != nil {
		utils.SendServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (uc *UserController) UpdateProfile(c *gin.Context) {
	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendValidationError(c, err.Error())
		return
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Avatar != nil {
		updates["avatar"] = *req.Avatar
	}
	if req.Bio != nil {
		updates["bio"] = *req.Bio
	}
	if len(updates) == 0 {
		utils.SendValidationError(c, "Nothing to update")
		return
	}

	if err := uc.users.Update(c.Request.Context(), middleware.GetUserID(c), updates); err != nil {
		utils.SendServiceError(c, err)
		return
	}
	utils.SendSuccess(c, "Profile updated successfully", nil)
}

func (uc *UserController) GetNotificationSettings(c *gin.Context) {
	settings, err := uc.users.GetSettings(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		utils.SendServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (uc *UserController) UpdateNotificationSettings(c *gin.Context) {
	var req UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendValidationError(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	userID := middleware.GetUserID(c)
	settings, err := uc.users.GetSettings(ctx, userID)
	if err != nil {
		utils.SendServiceError(c, err)
		return
	}

	setBool(&settings.SystemEnabled, req.SystemEnabled)
	setBool(&settings.GameEnabled, req.GameEnabled)
	setBool(&settings.EventEnabled, req.EventEnabled)
	setBool(&settings.CommunityEnabled, req.CommunityEnabled)
	setBool(&settings.EmailEnabled, req.EmailEnabled)
	if req.PushWindowStart != nil {
		settings.PushWindowStart = *req.PushWindowStart
	}
	if req.PushWindowEnd != nil {
		settings.PushWindowEnd = *req.PushWindowEnd
	}

	if err := settings.Validate(); err != nil {
		utils.SendValidationError(c, err.Error())
		return
	}
	if err := uc.users.SaveSettings(ctx, &settings); err != nil {
		utils.SendServiceError(c, err)
		return
	}

	logger.WithContext(ctx, logger.Get()).Info("notification settings updated", zap.String("user_id", userID))
	utils.SendSuccess(c, "Notification settings updated", settings)
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
