package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gorm.io/gorm"

	types "github.com/lumenchat/lumen-backend/internal/domain"
	"github.com/lumenchat/lumen-backend/internal/platform/logger"
	"github.com/lumenchat/lumen-backend/internal/platform/modelgw"
	"github.com/lumenchat/lumen-backend/internal/realtime"
	"github.com/lumenchat/lumen-backend/internal/realtime/bus"
	"github.com/lumenchat/lumen-backend/internal/services"
)

type Services struct {
	Auth     services.AuthService
	Chat     services.ChatService
	Stream   services.StreamService
	Notifier services.StreamNotifier
	Sweeper  *services.StreamSweeper

	Registry *services.StreamRegistry
	Bus      bus.Bus
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, reposet Repos, sseHub *realtime.SSEHub) (Services, error) {
	log.Info("Wiring services...")

	authService, err := services.NewAuthService(log, cfg.Auth.JWTSecretKey, cfg.Auth.AccessTokenTTL.Duration)
	if err != nil {
		return Services{}, fmt.Errorf("init auth service: %w", err)
	}

	// SSE fan-out goes through redis when configured so every instance
	// sees every event; otherwise events stay hub-local.
	var emitter services.SSEEmitter = &services.HubEmitter{Hub: sseHub}
	var sseBus bus.Bus
	if strings.TrimSpace(os.Getenv("REDIS_ADDR")) != "" {
		sseBus, err = bus.NewRedisBus(log)
		if err != nil {
			return Services{}, fmt.Errorf("init redis bus: %w", err)
		}
		emitter = &services.RedisEmitter{Bus: sseBus}
	}
	notifier := services.NewStreamNotifier(emitter)

	gw, err := modelgw.NewFromEnv(log)
	if err != nil {
		return Services{}, fmt.Errorf("init model gateway client: %w", err)
	}
	producer := &gatewayProducer{gw: gw}

	registry := services.NewStreamRegistry()
	streamService := services.NewStreamService(
		db,
		log,
		reposet.Streams,
		reposet.Deltas,
		reposet.Messages,
		producer,
		notifier,
		registry,
		services.StreamWriterConfig{
			FlushInterval: cfg.Writer.FlushInterval.Duration,
			FlushChars:    cfg.Writer.FlushChars,
			LiveBuffer:    cfg.Writer.LiveBuffer,
		},
	)

	chatService := services.NewChatService(
		db,
		log,
		reposet.Threads,
		reposet.Messages,
		reposet.Streams,
		streamService,
		notifier,
		cfg.Model,
	)

	sweeper := services.NewStreamSweeper(
		db,
		log,
		reposet.Streams,
		reposet.Deltas,
		reposet.Messages,
		notifier,
		services.StreamSweeperConfig{
			Interval:    cfg.Sweeper.Interval.Duration,
			MaxAge:      cfg.Sweeper.MaxAge.Duration,
			BatchLimit:  cfg.Sweeper.BatchLimit,
			Concurrency: cfg.Sweeper.Concurrency,
		},
	)

	return Services{
		Auth:     authService,
		Chat:     chatService,
		Stream:   streamService,
		Notifier: notifier,
		Sweeper:  sweeper,
		Registry: registry,
		Bus:      sseBus,
	}, nil
}

// gatewayProducer adapts the model gateway client to the producer seam
// the stream service drains.
type gatewayProducer struct {
	gw *modelgw.Client
}

func (p *gatewayProducer) StreamResponse(ctx context.Context, req services.ProducerRequest, onEvent func(ev types.Event) error) error {
	msgs := make([]modelgw.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, modelgw.Message{Role: m.Role, Content: m.Content})
	}
	return p.gw.StreamResponse(ctx, modelgw.Request{
		Model:    req.Model,
		Messages: msgs,
		Metadata: req.Metadata,
	}, onEvent)
}
