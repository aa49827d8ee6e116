package repos

import (
	"gorm.io/gorm"

	"github.com/lumenchat/lumen-backend/internal/data/repos/chat"
	"github.com/lumenchat/lumen-backend/internal/data/repos/stream"
	"github.com/lumenchat/lumen-backend/internal/platform/logger"
)

type ChatThreadRepo = chat.ChatThreadRepo
type ChatMessageRepo = chat.ChatMessageRepo

type StreamRepo = stream.StreamRepo
type StreamDeltaRepo = stream.StreamDeltaRepo

func NewChatThreadRepo(db *gorm.DB, baseLog *logger.Logger) ChatThreadRepo {
	return chat.NewChatThreadRepo(db, baseLog)
}

func NewChatMessageRepo(db *gorm.DB, baseLog *logger.Logger) ChatMessageRepo {
	return chat.NewChatMessageRepo(db, baseLog)
}

func NewStreamRepo(db *gorm.DB, baseLog *logger.Logger) StreamRepo {
	return stream.NewStreamRepo(db, baseLog)
}

func NewStreamDeltaRepo(db *gorm.DB, baseLog *logger.Logger) StreamDeltaRepo {
	return stream.NewStreamDeltaRepo(db, baseLog)
}
