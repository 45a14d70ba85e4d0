package app

import (
	"gorm.io/gorm"

	"github.com/edforge/edforge-backend/internal/pkg/logger"
	"github.com/edforge/edforge-backend/internal/repos"
)

type Repos struct {
	User          repos.UserRepo
	Generation    repos.GenerationRepo
	Checkpoint    repos.CheckpointRepo
	GenerationLog repos.GenerationLogRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		User:          repos.NewUserRepo(db, log),
		Generation:    repos.NewGenerationRepo(db, log),
		Checkpoint:    repos.NewCheckpointRepo(db, log),
		GenerationLog: repos.NewGenerationLogRepo(db, log),
	}
}
