package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"gameverse-api/database"
	"gameverse-api/models"
	"gameverse-api/repositories"
)

type GameInput struct {
	Title       string
	Description string
	Developer   string
	Publisher   string
	Price       float64
	CoverImage  *string
	Screenshots []string
	Categories  []string
	ReleaseDate *time.Time
}

type PaginatedGames struct {
	Games      []models.Game `json:"games"`
	Page       int           `json:"page"`
	Limit      int           `json:"limit"`
	Total      int64         `json:"total"`
	TotalPages int           `json:"total_pages"`
}

type PaginatedLibrary struct {
	Entries    []models.LibraryEntry `json:"entries"`
	Page       int                   `json:"page"`
	Limit      int                   `json:"limit"`
	Total      int64                 `json:"total"`
	TotalPages int                   `json:"total_pages"`
}

// GameService owns the catalog and user libraries. Discounts fan out a
// GAME_DISCOUNT notification to everyone holding the game.
type GameService struct {
	db       *gorm.DB
	games    *repositories.GameRepository
	users    *repositories.UserRepository
	notifier Notifier
	log      *zap.Logger
	now      func() time.Time
}

func NewGameService(
	db *gorm.DB,
	games *repositories.GameRepository,
	users *repositories.UserRepository,
	notifier Notifier,
	log *zap.Logger,
) *GameService {
	return &GameService{
		db:       db,
		games:    games,
		users:    users,
		notifier: notifier,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (in GameInput) validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if in.Price < 0 || math.IsNaN(in.Price) || math.IsInf(in.Price, 0) {
		return fmt.Errorf("%w: price must be a non-negative amount", ErrValidation)
	}
	return nil
}

func cleanCategories(categories []string) models.StringSlice {
	out := models.StringSlice{}
	seen := make(map[string]struct{}, len(categories))
	for _, c := range categories {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

func (s *GameService) CreateGame(ctx context.Context, input GameInput) (*models.Game, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}

	game := &models.Game{
		ID:          uuid.New().String(),
		Title:       strings.TrimSpace(input.Title),
		Description: input.Description,
		Developer:   input.Developer,
		Publisher:   input.Publisher,
		Price:       input.Price,
		CoverImage:  input.CoverImage,
		Screenshots: models.StringSlice(input.Screenshots),
		Categories:  cleanCategories(input.Categories),
		ReleaseDate: input.ReleaseDate,
	}
	if err := s.games.Create(ctx, game); err != nil {
		return nil, fmt.Errorf("create game: %w", err)
	}

	s.log.Info("game created", zap.String("game_id", game.ID), zap.String("title", game.Title))
	return game, nil
}

func (s *GameService) UpdateGame(ctx context.Context, gameID string, input GameInput) (*models.Game, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	if _, err := s.Get(ctx, gameID); err != nil {
		return nil, err
	}

	err := s.games.Update(ctx, gameID, map[string]interface{}{
		"title":        strings.TrimSpace(input.Title),
		"description":  input.Description,
		"developer":    input.Developer,
		"publisher":    input.Publisher,
		"price":        input.Price,
		"cover_image":  input.CoverImage,
		"screenshots":  models.StringSlice(input.Screenshots),
		"categories":   cleanCategories(input.Categories),
		"release_date": input.ReleaseDate,
	})
	if err != nil {
		return nil, fmt.Errorf("update game: %w", err)
	}
	return s.Get(ctx, gameID)
}

// DeleteGame refuses while any library still holds the game
func (s *GameService) DeleteGame(ctx context.Context, gameID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		games := s.games.WithTx(tx)
		owners, err := games.CountOwners(ctx, gameID)
		if err != nil {
			return fmt.Errorf("count owners: %w", err)
		}
		if owners > 0 {
			return fmt.Errorf("%w: game is in %d libraries", ErrConflict, owners)
		}

		deleted, err := games.Delete(ctx, gameID)
		if err != nil {
			return fmt.Errorf("delete game: %w", err)
		}
		if deleted == 0 {
			return fmt.Errorf("%w: game %s", ErrNotFound, gameID)
		}
		return nil
	})
}

func (s *GameService) Get(ctx context.Context, gameID string) (*models.Game, error) {
	game, err := s.games.FindByID(ctx, gameID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: game %s", ErrNotFound, gameID)
	}
	if err != nil {
		return nil, fmt.Errorf("load game: %w", err)
	}
	return game, nil
}

func (s *GameService) Search(ctx context.Context, filter repositories.GameFilter) (*PaginatedGames, error) {
	if filter.MinRating < models.MinGameRating || filter.MinRating > models.MaxGameRating {
		return nil, fmt.Errorf("%w: min_rating must be between %d and %d", ErrValidation, models.MinGameRating, models.MaxGameRating)
	}
	switch filter.Sort {
	case "", "popular", "rating", "newest":
	default:
		return nil, fmt.Errorf("%w: unknown sort %q", ErrValidation, filter.Sort)
	}

	games, total, err := s.games.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	if games == nil {
		games = []models.Game{}
	}
	return &PaginatedGames{
		Games:      games,
		Page:       filter.Page,
		Limit:      filter.Limit,
		Total:      total,
		TotalPages: int(math.Ceil(float64(total) / float64(filter.Limit))),
	}, nil
}

func (s *GameService) Categories(ctx context.Context) ([]string, error) {
	categories, err := s.games.Categories(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return categories, nil
}

func (s *GameService) AddToLibrary(ctx context.Context, userID, gameID string) (*models.LibraryEntry, error) {
	if _, err := s.users.FindByID(ctx, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: user %s", ErrNotFound, userID)
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	entry := &models.LibraryEntry{UserID: userID, GameID: gameID, PurchasedAt: s.now()}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		games := s.games.WithTx(tx)
		game, err := games.FindByID(ctx, gameID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: game %s", ErrNotFound, gameID)
		}
		if err != nil {
			return fmt.Errorf("load game: %w", err)
		}

		if _, err := games.FindEntry(ctx, userID, gameID); err == nil {
			return fmt.Errorf("%w: game already in library", ErrConflict)
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("load library entry: %w", err)
		}

		if err := games.AddToLibrary(ctx, entry); err != nil {
			if database.IsDuplicateKey(err) {
				return fmt.Errorf("%w: game already in library", ErrConflict)
			}
			return fmt.Errorf("add to library: %w", err)
		}
		if err := games.AdjustPopularity(ctx, gameID, 1); err != nil {
			return fmt.Errorf("bump popularity: %w", err)
		}
		entry.Game = game
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("game added to library", zap.String("game_id", gameID), zap.String("user_id", userID))
	return entry, nil
}

func (s *GameService) RemoveFromLibrary(ctx context.Context, userID, gameID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		games := s.games.WithTx(tx)
		removed, err := games.RemoveFromLibrary(ctx, userID, gameID)
		if err != nil {
			return fmt.Errorf("remove from library: %w", err)
		}
		if removed == 0 {
			return fmt.Errorf("%w: game not in library", ErrNotFound)
		}
		if err := games.AdjustPopularity(ctx, gameID, -1); err != nil {
			return fmt.Errorf("drop popularity: %w", err)
		}
		if _, _, err := games.RefreshRating(ctx, gameID); err != nil {
			return fmt.Errorf("refresh rating: %w", err)
		}
		return nil
	})
}

func (s *GameService) Library(ctx context.Context, userID string, page, limit int) (*PaginatedLibrary, error) {
	entries, total, err := s.games.Library(ctx, userID, page, limit)
	if err != nil {
		return nil, fmt.Errorf("list library: %w", err)
	}
	if entries == nil {
		entries = []models.LibraryEntry{}
	}
	return &PaginatedLibrary{
		Entries:    entries,
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: int(math.Ceil(float64(total) / float64(limit))),
	}, nil
}

// Rate stores the user's rating and recomputes the game's average in the same
// transaction. Only owners may rate.
func (s *GameService) Rate(ctx context.Context, userID, gameID string, rating int, review string) (*models.Game, error) {
	if rating < models.MinGameRating || rating > models.MaxGameRating {
		return nil, fmt.Errorf("%w: rating must be between %d and %d", ErrValidation, models.MinGameRating, models.MaxGameRating)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		games := s.games.WithTx(tx)
		entry, err := games.FindEntry(ctx, userID, gameID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: only owners can rate a game", ErrForbidden)
		}
		if err != nil {
			return fmt.Errorf("load library entry: %w", err)
		}

		if err := games.UpdateEntry(ctx, entry.ID, map[string]interface{}{
			"user_rating": rating,
			"user_review": review,
		}); err != nil {
			return fmt.Errorf("save rating: %w", err)
		}
		if _, _, err := games.RefreshRating(ctx, gameID); err != nil {
			return fmt.Errorf("refresh rating: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, gameID)
}

// RecordPlayTime adds a session to the user's play time
func (s *GameService) RecordPlayTime(ctx context.Context, userID, gameID string, minutes int) (*models.LibraryEntry, error) {
	if minutes <= 0 {
		return nil, fmt.Errorf("%w: minutes must be positive", ErrValidation)
	}

	entry, err := s.games.FindEntry(ctx, userID, gameID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: game not in library", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load library entry: %w", err)
	}

	now := s.now()
	if err := s.games.UpdateEntry(ctx, entry.ID, map[string]interface{}{
		"play_time_minutes": gorm.Expr("play_time_minutes + ?", minutes),
		"last_played_at":    now,
	}); err != nil {
		return nil, fmt.Errorf("record play time: %w", err)
	}

	entry.PlayTimeMinutes += minutes
	entry.LastPlayedAt = &now
	return entry, nil
}

type DiscountInput struct {
	Percent int
	EndsAt  *time.Time
}

// ApplyDiscount sets or clears (Percent 0) the game's discount. A new discount
// notifies every owner; the report lists who got a row.
func (s *GameService) ApplyDiscount(ctx context.Context, gameID string, input DiscountInput) (*models.Game, *FanoutReport, error) {
	if input.Percent < 0 || input.Percent > 95 {
		return nil, nil, fmt.Errorf("%w: discount must be between 0 and 95 percent", ErrValidation)
	}
	if input.EndsAt != nil && !input.EndsAt.After(s.now()) {
		return nil, nil, fmt.Errorf("%w: discount end must be in the future", ErrValidation)
	}
	if _, err := s.Get(ctx, gameID); err != nil {
		return nil, nil, err
	}

	fields := map[string]interface{}{"discount_percent": input.Percent, "discount_ends_at": input.EndsAt}
	if input.Percent == 0 {
		fields["discount_ends_at"] = nil
	}
	if err := s.games.Update(ctx, gameID, fields); err != nil {
		return nil, nil, fmt.Errorf("apply discount: %w", err)
	}
	game, err := s.Get(ctx, gameID)
	if err != nil {
		return nil, nil, err
	}

	report := &FanoutReport{}
	if input.Percent == 0 || s.notifier == nil {
		return game, report, nil
	}

	owners, err := s.games.OwnerIDs(ctx, gameID)
	if err != nil {
		return nil, nil, fmt.Errorf("load owners: %w", err)
	}
	if len(owners) == 0 {
		return game, report, nil
	}

	content := fmt.Sprintf("%s is %d%% off, now %.2f.", game.Title, input.Percent, game.CurrentPrice(s.now()))
	if input.EndsAt != nil {
		content += " Offer ends " + input.EndsAt.UTC().Format(time.RFC1123) + "."
	}
	report = s.notifier.NotifyMany(ctx, owners, NotifyRequest{
		Type:       models.NotificationTypeGameDiscount,
		Title:      "Discount on " + game.Title,
		Content:    content,
		TargetType: models.TargetTypeGame,
		TargetID:   game.ID,
		Payload:    map[string]interface{}{"discount_percent": input.Percent},
	})
	if err := report.Err(); err != nil {
		s.log.Warn("discount notification partially failed",
			zap.String("game_id", gameID),
			zap.Int("failed", len(report.Failures)),
			zap.Error(err),
		)
	}
	s.log.Info("game discount applied",
		zap.String("game_id", gameID),
		zap.Int("percent", input.Percent),
		zap.Int("notified", len(report.Created)),
	)
	return game, report, nil
}
