// File: /controllers/notification_controller.go
package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"gameverse-api/middleware"
	"gameverse-api/models"
	"gameverse-api/services"
	"gameverse-api/utils"
)

type NotificationController struct {
	notifications *services.NotificationService
}

func NewNotificationController(notifications *services.NotificationService) *NotificationController {
	return &NotificationController{notifications: notifications}
}

// GetNotifications gets paginated notifications for the current user
func (nc *NotificationController) GetNotifications(c *gin.Context) {
	page, limit := utils.Pagination(c)
	notificationType := models.NotificationType(c.Query("type")) // Optional filter by type
	unreadOnly := c.Query("unread") == "true"

	result, err := nc.notifications.List(c.Request.Context(), middleware.GetUserID(c), notificationType, unreadOnly, page, limit)
	if err != nil {
		utils.SendServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (nc *NotificationController) GetUnreadCounts(c *gin.Context) {
	counts, err := nc.notifications.UnreadCounts(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		utils.SendServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, counts)
}

func (nc *NotificationController) MarkAsRead(c *gin.Context) {
	if err := nc.notifications.MarkRead(c.Request.Context(), middleware.GetUserID(c), c.Param("id")); err != nil {
		utils.SendServiceError(c, err)
		return
	}
	utils.SendSuccess(c, "Notification marked as read", nil)
}

func (nc *NotificationController) MarkAllAsRead(c *gin.Context) {
	marked, err := nc.notifications.MarkAllRead(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		utils.SendServiceError(c, err)
		return
	}
	utils.SendSuccess(c, "All notifications marked as read", gin.H{"updated": marked})
}

func (nc *NotificationController) DeleteNotification(c *gin.Context) {
	if err := nc.notifications.Delete(c.Request.Context(), middleware.GetUserID(c), c.Param("id")); err != nil {
		utils.SendServiceError(c, err)
		return
	}
	utils.SendSuccess(c, "Notification deleted", nil)
}
