package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"gameverse-api/logger"
	"gameverse-api/middleware"
	"gameverse-api/models"
	"gameverse-api/repositories"
	"gameverse-api/services"
	"gameverse-api/utils"
)

type AdminController struct {
	users         *repositories.UserRepository
	events        *services.EventService
	registrations *services.RegistrationService
	notifier      services.Notifier
}

func NewAdminController(
	users *repositories.UserRepository,
	events *services.EventService,
	registrations *services.RegistrationService,
	notifier services.Notifier,
) *AdminController {
	return &AdminController{
		users:         users,
		events:        events,
		registrations: registrations,
		notifier:      notifier,
	}
}

// BroadcastRequest targets every user when UserIDs is empty
type BroadcastRequest struct {
	Type       models.NotificationType `json:"type"`
	Title      string                  `json:"title" binding:"required,max=255"`
	Content    string                  `json:"content"`
	TargetType models.TargetType       `json:"target_type"`
	TargetID   string                  `json:"target_id"`
	UserIDs    []string                `json:"user_ids"`
}

type BroadcastFailure struct {
	UserID string `json:"user_id"`
	Error  string `json:"error"`
}

type StatusRequest struct {
	Status models.EventStatus `json:"status" binding:"required"`
}

func (ac *AdminController) Broadcast(c *gin.Context) {
	var req BroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendValidationError(c, err.Error())
		return
	}
	if req.Type == "" {
		req.Type = models.NotificationTypeSystem
	}
	if !req.Type.Valid() {
		utils.SendValidationError(c, "Unknown notification type")
		return
	}

	ctx := c.Request.Context()
	recipients := req.UserIDs
	if len(recipients) == 0 {
		all, err := ac.users.AllIDs(ctx)
		if err != nil {
			utils.SendServiceError(c, err)
			return
		}
		recipients = all
	}

	report := ac.notifier.NotifyMany(ctx, recipients, services.NotifyRequest{
		Type:       req.Type,
		Title:      req.Title,
		Content:    req.Content,
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
	})

	failures := make([]BroadcastFailure, 0, len(report.Failures))
	for _, f := range report.Failures {
		failures = append(failures, BroadcastFailure{UserID: f.UserID, Error: f.Err.Error()})
	}
	logger.WithContext(ctx, logger.Get()).Info("broadcast sent",
		zap.String("admin_id", middleware.GetUserID(c)),
		zap.String("type", string(req.Type)),
		zap.Int("created", len(report.Created)),
		zap.Int("failed", len(failures)),
	)

	c.JSON(http.StatusOK, gin.H{
		"created":  len(report.Created),
		"failures": failures,
	})
}

func (ac *AdminController) CancelEvent(c *gin.Context) {
	event, err := ac.registrations.CancelEvent(c.Request.Context(), c.Param("id"))
	if err != nil {
		utils.SendServiceError(c, err)
		return
	}
	utils.SendSuccess(c, "Event cancelled", event)
}

func (ac *AdminController) UpdateEventStatus(c *gin.Context) {
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendValidationError(c, err.Error())
		return
	}

	event, err := ac.events.TransitionStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		utils.SendServiceError(c, err)
		return
	}
	utils.SendSuccess(c, "Event status updated", event)
}
