// File: /controllers/game_controller.go
package controllers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"gameverse-api/middleware"
	"gameverse-api/repositories"
	"gameverse-api/services"
	"gameverse-api/utils"
)

type GameController struct {
	games *services.GameService
}

func NewGameController(games *services.GameService) *GameController {
	return &GameController{games: games}
}

type GameRequest struct {
	Title       string     `json:"title" binding:"required,max=255"`
	Description string     `json:"description"`
	Developer   string     `json:"developer" binding:"max=255"`
	Publisher   string     `json:"publisher" binding:"max=255"`
	Price       float64    `json:"price" binding:"gte=0"`
	CoverImage  *string    `json:"cover_image" binding:"omitempty,url"`
	Screenshots []string   `json:"screenshots"`
	Categories  []string   `json:"categories"`
	ReleaseDate *time.Time `json:"release_date"`
}

func (r GameRequest) input() services.GameInput {
	return services.GameInput{
		Title:       r.Title,
		Description: r.Description,
		Developer:   r.Developer,
		Publisher:   r.Publisher,
		Price:       r.Price,
		CoverImage:  r.CoverImage,
		Screenshots: r.Screenshots,
		Categories:  r.Categories,
		ReleaseDate: r.ReleaseDate,
	}
}

type RateGameRequest struct {
	Rating *int   `json:"rating" binding:"required"`
	Review string `json:"review" binding:"max=2000"`
}

type PlayTimeRequest struct {
	Minutes int `json:"minutes" binding:"required,gt=0"`
}

type DiscountRequest struct {
	Percent *int       `json:"percent" binding:"required"`
	EndsAt  *time.Time `json:"ends_at"`
}

// GetGames searches the catalog by title, category and minimum rating
func (gc *GameController) GetGames(c *gin.Context) {
	page, limit := utils.Pagination(c)
	filter := repositories.GameFilter{
		Search:   c.Query("search"),
		Category: c.Query("category"),
		Sort:     c.Query("sort"),
		Page:     page,
		Limit:    limit,
	}
	if raw := c.Query("min_rating"); raw != "" {
		minRating, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			utils.SendValidationError(c, "min_rating must be a number")
			return
		}
		filter.MinRating = minRating
	}

	result, err := gc.games.Search(c.Request.Context(), filter)
	if err != nil {
		utils.SendServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (gc *GameController) GetCategories(c *gin.Context) {
	categories, err := gc.games.Categories(c.Request.Context())
	if err != nil {
		utils.SendServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": categories})
}

func (gc *GameController) GetGame(c *gin.Context) {
	game, err := gc.games.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		utils.SendServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, game)
}

func (gc *GameController) CreateGame(c *gin.Context) {
	var req GameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendValidationError(c, err.Error())
		return
	}
	game, err := gc.games.CreateGame(c.Request.Context(), req.input())
	if err != nil {
		utils.SendServiceError(c, err)
		return
	}
	utils.SendCreated(c, "Game created", game)
}

func (gc *GameController) UpdateGame(c *gin.Context) {
	var req GameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendValidationError(c, err.Error())
		return
	}
	game, err := gc.games.UpdateGame(c.Request.Context(), c.Param("id"), req.input())
	if err != nil {
		utils.SendServiceError(c, err)
		return
	}
	utils.SendSuccess(c, "Game updated", game)
}

func (gc *GameController) DeleteGame(c *gin.Context) {
	if err := gc.games.DeleteGame(c.Request.Context(), c.Param("id")); err != nil {
		utils.SendServiceError(c, err)
		return
	}
	utils.SendSuccess(c, "Game deleted", nil)
}

// ApplyDiscount sets the discount and reports how many owners were notified
func (gc *GameController) ApplyDiscount(c *gin.Context) {
	var req DiscountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendValidationError(c, err.Error())
		return
	}
	game, report, err := gc.games.ApplyDiscount(c.Request.Context(), c.Param("id"), services.DiscountInput{
		Percent: *req.Percent,
		EndsAt:  req.EndsAt,
	})
	if err != nil {
		utils.SendServiceError(c, err)
		return
	}
	utils.SendSuccess(c, "Discount applied", gin.H{
		"game":     game,
		"notified": len(report.Created),
		"failed":   len(report.Failures),
	})
}

func (gc *GameController) GetMyLibrary(c *gin.Context) {
	page, limit := utils.Pagination(c)
	result, err := gc.games.Library(c.Request.Context(), middleware.GetUserID(c), page, limit)
	if err != nil {
		utils.SendServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (gc *GameController) AddToLibrary(c *gin.Context) {
	entry, err := gc.games.AddToLibrary(c.Request.Context(), middleware.GetUserID(c), c.Param("id"))
	if err != nil {
		utils.SendServiceError(c, err)
		return
	}
	utils.SendCreated(c, "Game added to library", entry)
}

func (gc *GameController) RemoveFromLibrary(c *gin.Context) {
	if err := gc.games.RemoveFromLibrary(c.Request.Context(), middleware.GetUserID(c), c.Param("id")); err != nil {
		utils.SendServiceError(c, err)
		return
	}
	utils.SendSuccess(c, "Game removed from library", nil)
}

func (gc *GameController) RateGame(c *gin.Context) {
	var req RateGameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendValidationError(c, err.Error())
		return
	}
	game, err := gc.games.Rate(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), *req.Rating, req.Review)
	if err != nil {
		utils.SendServiceError(c, err)
		return
	}
	utils.SendSuccess(c, "Rating saved", game)
}

func (gc *GameController) RecordPlayTime(c *gin.Context) {
	var req PlayTimeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendValidationError(c, err.Error())
		return
	}
	entry, err := gc.games.RecordPlayTime(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), req.Minutes)
	if err != nil {
		utils.SendServiceError(c, err)
		return
	}
	utils.SendSuccess(c, "Play time recorded", entry)
}
