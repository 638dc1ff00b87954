package database

import (
	"errors"
	"time"

	"github.com/opencove/cove/internal/forum"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationNormalizeVoteTargets = "2026-07-12_normalize_vote_comment_targets"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizeVoteTargets, apply: normalizeVoteTargets},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// normalizeVoteTargets rewrites NULL comment targets left by the old schema
// to zero so the (user, post, comment) uniqueness index actually bites.
func normalizeVoteTargets(db *gorm.DB) error {
	return db.Model(&forum.Vote{}).
		Where("comment_id IS NULL").
		Update("comment_id", 0).Error
}
