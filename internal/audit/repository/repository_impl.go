package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fieldops/internal/audit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.AuditLog) error {
	if entry == nil {
		return nil
	}
	return db.WithContext(ctx).Create(entry).Error
}

// List returns up to Limit+1 rows so the caller can tell whether another
// page exists.
func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.AuditLog, error) {
	stmt := db.WithContext(ctx).Model(&domain.AuditLog{}).Scopes(
		equals("action", filter.Action),
		equals("target_type", filter.TargetType),
		equals("target_id", filter.TargetID),
		actor(filter.ActorID),
		between(filter.Since, filter.Until),
		before(filter.BeforeID),
	).Order("id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	var logs []*domain.AuditLog
	if err := stmt.Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

func equals(column, value string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if v := strings.TrimSpace(value); v != "" {
			return db.Where(column+" = ?", v)
		}
		return db
	}
}

func actor(id *snowflake.ID) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if id != nil {
			return db.Where("actor_id = ?", *id)
		}
		return db
	}
}

func between(since, until *time.Time) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if since != nil {
			db = db.Where("created_at >= ?", since.UTC())
		}
		if until != nil {
			db = db.Where("created_at <= ?", until.UTC())
		}
		return db
	}
}

func before(id snowflake.ID) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if id != 0 {
			return db.Where("id < ?", id)
		}
		return db
	}
}
