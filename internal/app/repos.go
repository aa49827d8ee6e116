package app

import (
	"gorm.io/gorm"

	"github.com/lumenchat/lumen-backend/internal/data/repos"
	"github.com/lumenchat/lumen-backend/internal/platform/logger"
)

type Repos struct {
	Threads  repos.ChatThreadRepo
	Messages repos.ChatMessageRepo
	Streams  repos.StreamRepo
	Deltas   repos.StreamDeltaRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Threads:  repos.NewChatThreadRepo(db, log),
		Messages: repos.NewChatMessageRepo(db, log),
		Streams:  repos.NewStreamRepo(db, log),
		Deltas:   repos.NewStreamDeltaRepo(db, log),
	}
}
