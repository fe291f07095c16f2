package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"gopherdm/internal/app"
	"gopherdm/internal/cache"
	"gopherdm/internal/config"
	"gopherdm/internal/pkg/content"
	"gopherdm/internal/pkg/logger"
	"gopherdm/internal/platform/database"
	rabbitmqClient "gopherdm/internal/platform/rabbitmq"
	redisClient "gopherdm/internal/platform/redis"
	"gopherdm/internal/realtime"
	"gopherdm/internal/repository"
	"gopherdm/internal/worker"
)

type App struct {
	Config *config.Config
	Log    *zap.Logger
	DB     *gorm.DB
	Redis  *redis.Client
	MQConn *amqp.Connection

	Hub            *realtime.Hub
	Upgrader       *realtime.Upgrader
	DeliveryWorker *worker.DeliveryWorker

	AuthService      *app.AuthService
	DirectoryService *app.DirectoryService
	MessageService   *app.MessageService
	HistoryService   *app.HistoryService

	deliveryPublisher *rabbitmqClient.DeliveryPublisher

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, err
	}

	return NewWithConfig(ctx, cfg, log)
}

// NewWithConfig wires every component from cfg. Anything opened before a
// failure is closed again.
func NewWithConfig(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	a := &App{
		Config:    cfg,
		Log:       logger.OrNop(log),
		StartedAt: time.Now(),
	}
	if err := a.init(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config

	db, err := database.New(ctx, database.Options{Driver: cfg.Database.Driver, DSN: cfg.DatabaseDSN()})
	if err != nil {
		return err
	}
	a.DB = db
	if err := database.Migrate(db); err != nil {
		return err
	}

	// Left as a nil interface when redis is disabled.
	var historyCache app.HistoryCache
	if cfg.Redis.Enabled {
		redisCli, err := redisClient.New(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		a.Redis = redisCli
		historyCache = cache.NewHistoryCache(
			redisCli,
			time.Duration(cfg.Redis.HistoryTTLSeconds)*time.Second,
			time.Duration(cfg.Redis.HistoryDirtyTTLSeconds)*time.Second,
		)
	}

	a.Hub = realtime.NewHub(a.Log, cfg.Realtime.SendBuffer)
	a.Upgrader = realtime.NewUpgrader(a.Hub, realtime.ClientOptions{
		WriteWait:       time.Duration(cfg.Realtime.WriteWaitSeconds) * time.Second,
		PongWait:        time.Duration(cfg.Realtime.PongWaitSeconds) * time.Second,
		MaxMessageBytes: cfg.Realtime.MaxMessageBytes,
	})

	var publisher app.Publisher = a.Hub
	if cfg.RabbitMQ.Enabled {
		mqConn, err := rabbitmqClient.Dial(ctx, cfg.RabbitMQ.URL)
		if err != nil {
			return err
		}
		a.MQConn = mqConn

		a.DeliveryWorker = worker.NewDeliveryWorker(mqConn, a.Hub, cfg.RabbitMQ.DeliveryQueue, a.Log)
		if err := a.DeliveryWorker.Start(context.WithoutCancel(ctx)); err != nil {
			return fmt.Errorf("start delivery worker failed: %w", err)
		}
		a.deliveryPublisher = rabbitmqClient.NewDeliveryPublisher(mqConn, cfg.RabbitMQ.DeliveryQueue)
		publisher = a.deliveryPublisher
	}

	userRepo := repository.NewUserRepository(db)
	messageRepo := repository.NewMessageRepository(db)

	a.AuthService = app.NewAuthService(userRepo, cfg.Auth.JWTSecret, cfg.JWTExpiration())
	a.DirectoryService = app.NewDirectoryService(userRepo)
	a.MessageService = app.NewMessageService(
		userRepo,
		messageRepo,
		publisher,
		historyCache,
		content.Limits{
			MaxContentBytes: cfg.Content.MaxContentBytes,
			MaxImageBytes:   cfg.Content.MaxImageBytes,
			MaxImagePixels:  cfg.Content.MaxImagePixels,
		},
		a.Log,
	)
	a.HistoryService = app.NewHistoryService(messageRepo, historyCache, a.Log)

	a.Log.Info("application wired",
		zap.String("database", cfg.Database.Driver),
		zap.Bool("redis", cfg.Redis.Enabled),
		zap.Bool("rabbitmq", cfg.RabbitMQ.Enabled))
	return nil
}

// Close tears components down in reverse start order.
func (a *App) Close() error {
	var errs []error
	if a.Hub != nil {
		a.Hub.Close()
	}
	if a.deliveryPublisher != nil {
		if err := a.deliveryPublisher.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.DeliveryWorker != nil {
		a.DeliveryWorker.Close()
	}
	if a.MQConn != nil && !a.MQConn.IsClosed() {
		if err := a.MQConn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.DB != nil {
		if err := database.Close(a.DB); err != nil {
			errs = append(errs, err)
		}
	}
	_ = a.Log.Sync()
	return errors.Join(errs...)
}
