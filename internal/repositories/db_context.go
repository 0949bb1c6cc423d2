package repositories

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/moin0420/hybrid-app/internal/entities"
	"github.com/moin0420/hybrid-app/internal/logger"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type DbContext struct {
	DB *gorm.DB
}

// gormLogWriter sends gorm's own log lines through logrus, tagged as db errors.
type gormLogWriter struct{}

func (gormLogWriter) Printf(format string, args ...any) {
	log.WithField(logger.ErrorTypeField, logger.ErrorTypeDb).Errorf(format, args...)
}

func newGormLogger() gormlogger.Interface {
	return gormlogger.New(gormLogWriter{}, gormlogger.Config{
		SlowThreshold:             time.Second,
		LogLevel:                  gormlogger.Error,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

func NewDbContext(connectionString string) (*DbContext, error) {
	db, err := gorm.Open(sqlite.Open(connectionString), &gorm.Config{
		Logger: newGormLogger(),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// sqlite allows a single writer; one connection also keeps ":memory:" databases shared
	sqlDB.SetMaxOpenConns(1)

	return &DbContext{DB: db}, nil
}

func (c *DbContext) Migrate() error {
	if err := c.DB.AutoMigrate(entities.Requirement{}); err != nil {
		return fmt.Errorf("failed to migrate Requirement entity: %w", err)
	}
	return nil
}

func (c *DbContext) Close() error {
	db, err := c.DB.DB()
	if err != nil {
		return err
	}

	return db.Close()
}
