// File: /controllers/event_controller.go
package controllers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"gameverse-api/middleware"
	"gameverse-api/models"
	"gameverse-api/repositories"
	"gameverse-api/services"
	"gameverse-api/utils"
)

type EventController struct {
	events        *services.EventService
	registrations *services.RegistrationService
}

func NewEventController(events *services.EventService, registrations *services.RegistrationService) *EventController {
	return &EventController{events: events, registrations: registrations}
}

type CreateEventRequest struct {
	Title           string           `json:"title" binding:"required,max=255"`
	Description     string           `json:"description"`
	Type            models.EventType `json:"type"`
	StartTime       time.Time        `json:"start_time" binding:"required"`
	EndTime         time.Time        `json:"end_time" binding:"required"`
	MaxParticipants *int             `json:"max_participants"`
	Location        string           `json:"location" binding:"max=500"`
	IsOnline        bool             `json:"is_online"`
	CoverImage      *string          `json:"cover_image"`
	Images          []string         `json:"images"`
}

type UpdateEventRequest struct {
	Title           *string    `json:"title"`
	Description     *string    `json:"description"`
	StartTime       *time.Time `json:"start_time"`
	EndTime         *time.Time `json:"end_time"`
	MaxParticipants *int       `json:"max_participants"`
	Location        *string    `json:"location"`
	IsOnline        *bool      `json:"is_online"`
	CoverImage      *string    `json:"cover_image"`
	Images          []string   `json:"images"`
}

type RegisterEventRequest struct {
	ContactInfo string `json:"contact_info" binding:"max=255"`
	Remark      string `json:"remark" binding:"max=500"`
}

type CheckInRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// GetEvents lists events, optionally filtered by status, type, organizer or text
func (ec *EventController) GetEvents(c *gin.Context) {
	page, limit := utils.Pagination(c)
	result, err := ec.events.List(c.Request.Context(), repositories.EventFilter{
		Status:      models.EventStatus(c.Query("status")),
		Type:        models.EventType(c.Query("type")),
		OrganizerID: c.Query("organizer_id"),
		Search:      c.Query("search"),
		Page:        page,
		Limit:       limit,
	})
	if err != nil {
		utils.SendServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (ec *EventController) GetEvent(c *gin.Context) {
	event, err := ec.events.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		utils.SendServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, event)
}

func (ec *EventController) CreateEvent(c *gin.Context) {
	var req CreateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendValidationError(c, err.Error())
		return
	}

	event, err := ec.events.CreateEvent(c.Request.Context(), middleware.GetUserID(c), services.EventInput{
		Title:           req.Title,
		Description:     req.Description,
		Type:            req.Type,
		StartTime:       req.StartTime,
		EndTime:         req.EndTime,
		MaxParticipants: req.MaxParticipants,
		Location:        req.Location,
		IsOnline:        req.IsOnline,
		CoverImage:      req.CoverImage,
		Images:          req.Images,
	})
	if err != nil {
		utils.SendServiceError(c, err)
		return
	}
	utils.SendCreated(c, "Event created", event)
}

func (ec *EventController) UpdateEvent(c *gin.Context) {
	var req UpdateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendValidationError(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	event, err := ec.events.EnsureCanManage(ctx, c.Param("id"), middleware.GetUserID(c), middleware.IsAdmin(c))
	if err != nil {
		utils.SendServiceError(c, err)
		return
	}

	updated, err := ec.registrations.UpdateEvent(ctx, event.ID, services.EventUpdate{
		Title:           req.Title,
		Description:     req.Description,
		StartTime:       req.StartTime,
		EndTime:         req.EndTime,
		MaxParticipants: req.MaxParticipants,
		Location:        req.Location,
		IsOnline:        req.IsOnline,
		CoverImage:      req.CoverImage,
		Images:          req.Images,
	})
	if err != nil {
		utils.SendServiceError(c, err)
		return
	}
	utils.SendSuccess(c, "Event updated", updated)
}

// CancelEvent cancels the event and every active registration on it
func (ec *EventController) CancelEvent(c *gin.Context) {
	ctx := c.Request.Context()
	event, err := ec.events.EnsureCanManage(ctx, c.Param("id"), middleware.GetUserID(c), middleware.IsAdmin(c))
	if err != nil {
		utils.SendServiceError(c, err)
		return
	}

	cancelled, err := ec.registrations.CancelEvent(ctx, event.ID)
	if err != nil {
		utils.SendServiceError(c, err)
		return
	}
	utils.SendSuccess(c, "Event cancelled", cancelled)
}

func (ec *EventController) Register(c *gin.Context) {
	var req RegisterEventRequest
	// body is optional, chunked bodies carry no content length
	if c.Request.Body != nil && c.Request.Body != http.NoBody {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			utils.SendValidationError(c, err.Error())
			return
		}
	}

	reg, err := ec.registrations.Register(c.Request.Context(), c.Param("id"), middleware.GetUserID(c), services.RegisterInput{
		ContactInfo: req.ContactInfo,
		Remark:      req.Remark,
	})
	if err != nil {
		utils.SendServiceError(c, err)
		return
	}
	utils.SendCreated(c, "Registered for event", reg)
}

func (ec *EventController) CancelRegistration(c *gin.Context) {
	if err := ec.registrations.Cancel(c.Request.Context(), c.Param("id"), middleware.GetUserID(c)); err != nil {
		utils.SendServiceError(c, err)
		return
	}
	utils.SendSuccess(c, "Registration cancelled", nil)
}

func (ec *EventController) GetMyRegistration(c *gin.Context) {
	reg, err := ec.registrations.FindActive(c.Request.Context(), c.Param("id"), middleware.GetUserID(c))
	if err != nil {
		utils.SendServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, reg)
}

// GetTicketQRCode renders the caller's check-in ticket
func (ec *EventController) GetTicketQRCode(c *gin.Context) {
	reg, err := ec.registrations.FindActive(c.Request.Context(), c.Param("id"), middleware.GetUserID(c))
	if err != nil {
		utils.SendServiceError(c, err)
		return
	}

	png, err := services.TicketQRCode(reg)
	if err != nil {
		utils.SendServiceError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

func (ec *EventController) GetMyRegistrations(c *gin.Context) {
	page, limit := utils.Pagination(c)
	regs, total, err := ec.registrations.ListForUser(c.Request.Context(), middleware.GetUserID(c), page, limit)
	if err != nil {
		utils.SendServiceError(c, err)
		return
	}
	utils.SendPaginated(c, regs, page, limit, total)
}

// GetRegistrations is the organizer's attendee list
func (ec *EventController) GetRegistrations(c *gin.Context) {
	ctx := c.Request.Context()
	event, err := ec.events.EnsureCanManage(ctx, c.Param("id"), middleware.GetUserID(c), middleware.IsAdmin(c))
	if err != nil {
		utils.SendServiceError(c, err)
		return
	}

	regs, err := ec.registrations.ListForEvent(ctx, event.ID)
	if err != nil {
		utils.SendServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"registrations": regs, "count": len(regs)})
}

func (ec *EventController) CheckIn(c *gin.Context) {
	var req CheckInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendValidationError(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	event, err := ec.events.EnsureCanManage(ctx, c.Param("id"), middleware.GetUserID(c), middleware.IsAdmin(c))
	if err != nil {
		utils.SendServiceError(c, err)
		return
	}

	reg, err := ec.registrations.CheckIn(ctx, event.ID, req.UserID)
	if err != nil {
		utils.SendServiceError(c, err)
		return
	}
	utils.SendSuccess(c, "Checked in", reg)
}
