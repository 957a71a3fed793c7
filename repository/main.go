package repository

import (
	"github.com/tnqbao/gau-lipsync-orchestrator/entity"
	"gorm.io/gorm"
)

type Repository struct {
	JobRepo *JobRepository
}

func InitRepository(db *gorm.DB) *Repository {
	if db == nil {
		panic("database connection is nil")
	}
	return &Repository{
		JobRepo: NewJobRepository(db),
	}
}

// Migrate creates or updates the ledger schema.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&entity.Job{})
}
