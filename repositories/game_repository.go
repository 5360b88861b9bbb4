package repositories

import (
	"context"
	"sort"
	"strings"

	"gorm.io/gorm"

	"gameverse-api/models"
)

type GameRepository struct {
	db *gorm.DB
}

func NewGameRepository(db *gorm.DB) *GameRepository {
	return &GameRepository{db: db}
}

// WithTx scopes the repository to a running transaction
func (r *GameRepository) WithTx(tx *gorm.DB) *GameRepository {
	return &GameRepository{db: tx}
}

type GameFilter struct {
	Search    string
	Category  string
	MinRating float64
	// Sort is "popular", "rating", "newest" or empty for title order
	Sort  string
	Page  int
	Limit int
}

func (r *GameRepository) Create(ctx context.Context, game *models.Game) error {
	return r.db.WithContext(ctx).Create(game).Error
}

func (r *GameRepository) FindByID(ctx context.Context, id string) (*models.Game, error) {
	var game models.Game
	if err := r.db.WithContext(ctx).First(&game, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &game, nil
}

func (r *GameRepository) Update(ctx context.Context, id string, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&models.Game{}).Where("id = ?", id).Updates(fields).Error
}

func (r *GameRepository) Delete(ctx context.Context, id string) (int64, error) {
	result := r.db.WithContext(ctx).Delete(&models.Game{}, "id = ?", id)
	return result.RowsAffected, result.Error
}

// categoryColumn renders the JSON categories column as text for LIKE matching
func (r *GameRepository) categoryColumn() string {
	if r.db.Dialector.Name() == "postgres" {
		return "categories::text"
	}
	return "categories"
}

func (r *GameRepository) List(ctx context.Context, filter GameFilter) ([]models.Game, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Game{})
	if filter.Search != "" {
		like := "%" + filter.Search + "%"
		query = query.Where("title LIKE ? OR description LIKE ?", like, like)
	}
	if filter.Category != "" {
		query = query.Where(r.categoryColumn()+" LIKE ?", `%"`+filter.Category+`"%`)
	}
	if filter.MinRating > 0 {
		query = query.Where("rating >= ?", filter.MinRating)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order := "title ASC"
	switch filter.Sort {
	case "popular":
		order = "popularity DESC, title ASC"
	case "rating":
		order = "rating DESC, rating_count DESC"
	case "newest":
		order = "created_at DESC"
	}

	var games []models.Game
	err := query.Order(order).
		Offset((filter.Page - 1) * filter.Limit).
		Limit(filter.Limit).
		Find(&games).Error
	return games, total, err
}

// Categories returns the distinct categories across the catalog, sorted
func (r *GameRepository) Categories(ctx context.Context) ([]string, error) {
	var columns []models.StringSlice
	if err := r.db.WithContext(ctx).Model(&models.Game{}).Pluck("categories", &columns).Error; err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	categories := []string{}
	for _, column := range columns {
		for _, category := range column {
			category = strings.TrimSpace(category)
			if category == "" {
				continue
			}
			if _, ok := seen[category]; ok {
				continue
			}
			seen[category] = struct{}{}
			categories = append(categories, category)
		}
	}
	sort.Strings(categories)
	return categories, nil
}

func (r *GameRepository) AdjustPopularity(ctx context.Context, id string, delta int) error {
	return r.db.WithContext(ctx).Model(&models.Game{}).
		Where("id = ?", id).
		UpdateColumn("popularity", gorm.Expr("popularity + ?", delta)).Error
}

// RefreshRating recomputes the average from every rated library entry
func (r *GameRepository) RefreshRating(ctx context.Context, id string) (float64, int, error) {
	var agg struct {
		Average float64
		Count   int
	}
	err := r.db.WithContext(ctx).Model(&models.LibraryEntry{}).
		Select("COALESCE(AVG(user_rating), 0) AS average, COUNT(user_rating) AS count").
		Where("game_id = ? AND user_rating IS NOT NULL", id).
		Scan(&agg).Error
	if err != nil {
		return 0, 0, err
	}

	err = r.db.WithContext(ctx).Model(&models.Game{}).Where("id = ?", id).
		UpdateColumns(map[string]interface{}{"rating": agg.Average, "rating_count": agg.Count}).Error
	return agg.Average, agg.Count, err
}

func (r *GameRepository) AddToLibrary(ctx context.Context, entry *models.LibraryEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *GameRepository) FindEntry(ctx context.Context, userID, gameID string) (*models.LibraryEntry, error) {
	var entry models.LibraryEntry
	err := r.db.WithContext(ctx).First(&entry, "user_id = ? AND game_id = ?", userID, gameID).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *GameRepository) UpdateEntry(ctx context.Context, id uint, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&models.LibraryEntry{}).Where("id = ?", id).Updates(fields).Error
}

func (r *GameRepository) RemoveFromLibrary(ctx context.Context, userID, gameID string) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("user_id = ? AND game_id = ?", userID, gameID).
		Delete(&models.LibraryEntry{})
	return result.RowsAffected, result.Error
}

func (r *GameRepository) Library(ctx context.Context, userID string, page, limit int) ([]models.LibraryEntry, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.LibraryEntry{}).Where("user_id = ?", userID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var entries []models.LibraryEntry
	err := query.Preload("Game").
		Order("purchased_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&entries).Error
	return entries, total, err
}

func (r *GameRepository) CountOwners(ctx context.Context, gameID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.LibraryEntry{}).Where("game_id = ?", gameID).Count(&count).Error
	return count, err
}

func (r *GameRepository) OwnerIDs(ctx context.Context, gameID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&models.LibraryEntry{}).
		Where("game_id = ?", gameID).
		Order("purchased_at ASC").
		Pluck("user_id", &ids).Error
	return ids, err
}
