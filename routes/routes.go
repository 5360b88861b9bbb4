// File: /routes/routes.go
package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"gameverse-api/config"
	"gameverse-api/controllers"
	"gameverse-api/middleware"
	"gameverse-api/models"
	"gameverse-api/realtime"
	"gameverse-api/repositories"
	"gameverse-api/services"
)

// Dependencies are the wired services the HTTP layer sits on
type Dependencies struct {
	DB            *gorm.DB
	Tokens        *services.TokenService
	Auth          *services.AuthService
	Users         *repositories.UserRepository
	Events        *services.EventService
	Registrations *services.RegistrationService
	Notifications *services.NotificationService
	Games         *services.GameService
	Hub           *realtime.Hub
	// Done stops the rate limiter's cleanup loop
	Done <-chan struct{}
}

func SetupRoutes(r *gin.Engine, cfg *config.Config, deps Dependencies) {
	// Controllers
	authController := controllers.NewAuthController(deps.Auth)
	userController := controllers.NewUserController(deps.Users)
	eventController := controllers.NewEventController(deps.Events, deps.Registrations)
	notificationController := controllers.NewNotificationController(deps.Notifications)
	postController := controllers.NewPostController(deps.DB, deps.Notifications)
	commentController := controllers.NewCommentController(deps.DB, postController)
	adminController := controllers.NewAdminController(deps.Users, deps.Events, deps.Registrations, deps.Notifications)
	gameController := controllers.NewGameController(deps.Games)

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst)
	rateLimit := middleware.RateLimit(limiter, cfg.RateLimit.RequestsPerMinute, deps.Done)

	r.GET("/ping", func(c *gin.Context) {
		status, code := "healthy", http.StatusOK
		if sqlDB, err := deps.DB.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{"message": "pong", "status": status})
	})

	if deps.Hub != nil {
		r.GET("/ws", deps.Hub.ServeWS)
	}

	// API version 1
	v1 := r.Group("/api/v1")
	v1.Use(middleware.ValidateJSON())

	// Auth routes (public)
	auth := v1.Group("/auth")
	auth.Use(rateLimit)
	{
		auth.POST("/register", authController.Register)
		auth.POST("/login", authController.Login)
	}

	// Public reads
	v1.GET("/events", eventController.GetEvents)
	v1.GET("/events/:id", eventController.GetEvent)
	v1.GET("/games", gameController.GetGames)
	v1.GET("/games/categories", gameController.GetCategories)
	v1.GET("/games/:id", gameController.GetGame)

	// Protected routes
	protected := v1.Group("/")
	protected.Use(middleware.AuthMiddleware(deps.Tokens), rateLimit)
	{
		users := protected.Group("/users")
		{
			users.GET("/me", userController.GetProfile)
			users.PUT("/me", userController.UpdateProfile)
			users.GET("/me/notification-settings", userController.GetNotificationSettings)
			users.PUT("/me/notification-settings", userController.UpdateNotificationSettings)
			users.GET("/me/registrations", eventController.GetMyRegistrations)
			users.GET("/me/games", gameController.GetMyLibrary)
		}

		games := protected.Group("/games")
		{
			games.POST("/:id/library", gameController.AddToLibrary)
			games.DELETE("/:id/library", gameController.RemoveFromLibrary)
			games.PUT("/:id/rating", gameController.RateGame)
			games.POST("/:id/playtime", gameController.RecordPlayTime)
		}

		events := protected.Group("/events")
		{
			events.POST("", eventController.CreateEvent)
			events.PUT("/:id", eventController.UpdateEvent)
			events.POST("/:id/cancel", eventController.CancelEvent)
			events.POST("/:id/register", eventController.Register)
			events.DELETE("/:id/register", eventController.CancelRegistration)
			events.GET("/:id/registration", eventController.GetMyRegistration)
			events.GET("/:id/registration/qrcode", eventController.GetTicketQRCode)
			events.GET("/:id/registrations", eventController.GetRegistrations)
			events.POST("/:id/checkin", eventController.CheckIn)
		}

		notifications := protected.Group("/notifications")
		{
			notifications.GET("", notificationController.GetNotifications)
			notifications.GET("/unread-count", notificationController.GetUnreadCounts)
			notifications.PUT("/read-all", notificationController.MarkAllAsRead)
			notifications.PUT("/:id/read", notificationController.MarkAsRead)
			notifications.DELETE("/:id", notificationController.DeleteNotification)
		}

		posts := protected.Group("/posts")
		{
			posts.GET("", postController.GetPosts)
			posts.POST("", postController.CreatePost)
			posts.GET("/:id", postController.GetPost)
			posts.DELETE("/:id", postController.DeletePost)
			posts.POST("/:id/like", postController.LikePost)
			posts.DELETE("/:id/like", postController.UnlikePost)
			posts.GET("/:id/comments", commentController.GetComments)
			posts.POST("/:id/comments", commentController.CreateComment)
		}

		admin := protected.Group("/admin")
		admin.Use(middleware.RequireRole(models.RoleAdmin))
		{
			admin.POST("/notifications/broadcast", adminController.Broadcast)
			admin.POST("/events/:id/cancel", adminController.CancelEvent)
			admin.PUT("/events/:id/status", adminController.UpdateEventStatus)
			admin.POST("/games", gameController.CreateGame)
			admin.PUT("/games/:id", gameController.UpdateGame)
			admin.DELETE("/games/:id", gameController.DeleteGame)
			admin.POST("/games/:id/discount", gameController.ApplyDiscount)
		}
	}
}
