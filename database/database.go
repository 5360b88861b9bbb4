package database

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"gameverse-api/config"
	"gameverse-api/models"
)

func Initialize(cfg config.DatabaseConfig, logLevel logger.LogLevel) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.URL)
	case "sqlite":
		dialector = sqlite.Open(cfg.URL)
	default:
		dialector = mysql.Open(cfg.URL)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                                   logger.Default.LogMode(logLevel),
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}

	if cfg.Driver == "sqlite" {
		// sqlite has a single writer; one connection also keeps :memory: databases alive
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	} else {
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	return db, nil
}

// OpenInMemory returns a migrated sqlite database for tests and local runs
func OpenInMemory() (*gorm.DB, error) {
	db, err := Initialize(config.DatabaseConfig{Driver: "sqlite", URL: ":memory:"}, logger.Silent)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db, zap.NewNop()); err != nil {
		return nil, err
	}
	return db, nil
}

func Migrate(db *gorm.DB, log *zap.Logger) error {
	err := db.AutoMigrate(
		&models.User{},
		&models.Event{},
		&models.EventRegistration{},
		&models.Notification{},
		&models.NotificationSettings{},
		&models.Post{},
		&models.PostLike{},
		&models.Comment{},
		&models.Game{},
		&models.LibraryEntry{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	addDatabaseConstraints(db, log)

	return nil
}

// addDatabaseConstraints backs the participant counter invariants with CHECK
// constraints where the dialect supports adding them after the fact.
func addDatabaseConstraints(db *gorm.DB, log *zap.Logger) {
	if db.Dialector.Name() == "sqlite" {
		return
	}

	constraints := []struct {
		name string
		sql  string
	}{
		{"ck_events_participants_nonnegative", "ALTER TABLE events ADD CONSTRAINT ck_events_participants_nonnegative CHECK (current_participants >= 0)"},
		{"ck_events_participants_capacity", "ALTER TABLE events ADD CONSTRAINT ck_events_participants_capacity CHECK (max_participants IS NULL OR current_participants <= max_participants)"},
		{"ck_events_window", "ALTER TABLE events ADD CONSTRAINT ck_events_window CHECK (end_time > start_time)"},
	}

	for _, c := range constraints {
		if db.Migrator().HasConstraint(&models.Event{}, c.name) {
			continue
		}
		if err := db.Exec(c.sql).Error; err != nil {
			// Ignore error if constraint already exists
			log.Warn("could not add constraint", zap.String("constraint", c.name), zap.Error(err))
		}
	}
}

// SeedData creates an admin account, a sample event and a few catalog games
// for development
func SeedData(db *gorm.DB, log *zap.Logger) error {
	var userCount int64
	if err := db.Model(&models.User{}).Count(&userCount).Error; err != nil {
		return err
	}
	if userCount > 0 {
		log.Info("database already has data, skipping seed")
		return nil
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte("changeme123"), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	admin := models.User{
		ID:       uuid.New().String(),
		Name:     "GameVerse Admin",
		Handle:   "admin",
		Email:    "admin@gameverse.gg",
		Password: string(hashed),
		Role:     models.RoleAdmin,
	}
	if err := db.Create(&admin).Error; err != nil {
		return fmt.Errorf("could not create admin user: %w", err)
	}

	capacity := 16
	start := time.Now().UTC().Add(72 * time.Hour).Truncate(time.Hour)
	event := models.Event{
		ID:              uuid.New().String(),
		Title:           "Community Cup: Season Opener",
		Description:     "Single elimination bracket, best of three. Bring your own controller.",
		Type:            models.EventTypeTournament,
		OrganizerID:     admin.ID,
		StartTime:       start,
		EndTime:         start.Add(4 * time.Hour),
		MaxParticipants: &capacity,
		IsOnline:        true,
		Images:          models.StringSlice{},
		Status:          models.EventStatusUpcoming,
	}
	if err := db.Create(&event).Error; err != nil {
		log.Warn("could not create sample event", zap.Error(err))
	}

	games := []models.Game{
		{ID: uuid.New().String(), Title: "Starfall Tactics", Developer: "Lumen Forge", Price: 29.99, Categories: models.StringSlice{"Strategy", "Sci-Fi"}, Screenshots: models.StringSlice{}},
		{ID: uuid.New().String(), Title: "Drift Kings", Developer: "Apex Motion", Price: 19.99, Categories: models.StringSlice{"Racing"}, Screenshots: models.StringSlice{}},
	}
	if err := db.Create(&games).Error; err != nil {
		log.Warn("could not create sample games", zap.Error(err))
	}

	log.Info("database seeded", zap.String("admin_email", admin.Email))
	return nil
}
