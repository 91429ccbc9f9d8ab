package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/joho/godotenv"
	"github.com/oklog/ulid/v2"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"peerchat/internal/app/attachments"
	"peerchat/internal/app/commands"
	"peerchat/internal/app/dto"
	conversationsapp "peerchat/internal/app/handlers/conversations"
	messagesapp "peerchat/internal/app/handlers/messages"
	reviewsapp "peerchat/internal/app/handlers/reviews"
	"peerchat/internal/app/middleware"
	appoutbox "peerchat/internal/app/outbox"
	"peerchat/internal/app/policies"
	"peerchat/internal/app/queries"
	"peerchat/internal/app/realtime"
	"peerchat/internal/infra/broker/kafka"
	redisfeed "peerchat/internal/infra/cache/redis"
	"peerchat/internal/infra/config"
	"peerchat/internal/infra/db/mongo"
	ginserver "peerchat/internal/infra/http/gin"
	"peerchat/internal/infra/notify"
	"peerchat/internal/infra/obs"
	mongooutbox "peerchat/internal/infra/outbox"
	"peerchat/internal/infra/storage/memory"
	"peerchat/internal/infra/storage/postgres"
	"peerchat/internal/infra/storage/s3"
	"peerchat/internal/infra/storage/scylla"
)

const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(execute())
}

// execute runs the server and returns the process exit code once every closer has run.
func execute() int {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	logger := obs.NewLogger(cfg.Env, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := buildApplication(ctx, cfg, logger)
	// a partial application still owns whatever it opened before failing
	defer app.close(logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}

	if err := app.run(ctx, cfg, logger); err != nil {
		logger.Error("peerchat stopped with error", "error", err)
		return 1
	}
	logger.Info("peerchat stopped")
	return 0
}

type application struct {
	handlers ginserver.Handlers
	checks   map[string]obs.Check
	send     *messagesapp.SendMessageHandler
	worker   *notify.Worker
	relay    *kafka.Consumer
	closers  []func() error
}

func buildApplication(ctx context.Context, cfg config.Config, logger *slog.Logger) (*application, error) {
	app := &application{checks: map[string]obs.Check{}}

	messages, reads, err := app.buildStore(ctx, cfg, logger)
	if err != nil {
		return app, err
	}
	identity, outboxStore, err := app.buildDocuments(cfg, logger)
	if err != nil {
		return app, err
	}
	attachmentStore, blobs, err := app.buildAttachments(cfg, logger)
	if err != nil {
		return app, err
	}
	hub := memory.NewHub(0, logger)
	feed, publisher, err := app.buildFeed(ctx, cfg, hub, logger)
	if err != nil {
		return app, err
	}
	producer, err := app.buildProducer(cfg, logger)
	if err != nil {
		return app, err
	}

	app.worker = &notify.Worker{
		Store:       outboxStore,
		Producer:    producer,
		Logger:      logger,
		Interval:    cfg.OutboxPollInterval,
		TopicPrefix: cfg.KafkaTopicPrefix,
		Backoff:     cfg.NotifyBackoff,
	}
	app.send = &messagesapp.SendMessageHandler{
		Messages: messages,
		Attachments: &attachments.Pipeline{
			Blobs:    attachmentStore,
			Logger:   logger,
			MaxBytes: cfg.AttachmentMaxBytes,
		},
		Feed:          publisher,
		Notifier:      notify.OutboxNotifier{Store: outboxStore},
		Identity:      identity,
		Logger:        logger,
		DeepLinkBase:  cfg.DeepLinkBase,
		NotifyTimeout: cfg.NotifyTimeout,
	}

	commandBus := commands.NewInMemoryBus()
	commands.RegisterHandler[messagesapp.SendMessageCommand, dto.ChatMessage](commandBus, app.send)
	commands.RegisterHandler[conversationsapp.MarkReadCommand, dto.ReadReceipt](commandBus, &conversationsapp.MarkReadHandler{
		Messages: messages,
		Reads:    reads,
		Logger:   logger,
	})

	queryBus := queries.NewInMemoryBus()
	queries.RegisterHandler[conversationsapp.ListConversationsQuery, dto.ConversationList](queryBus, &conversationsapp.ListConversationsHandler{
		Messages: messages,
		Reads:    reads,
		Identity: identity,
		Logger:   logger,
	})
	queries.RegisterHandler[messagesapp.GetThreadQuery, dto.Thread](queryBus, &messagesapp.GetThreadHandler{
		Messages: messages,
		Identity: identity,
		Logger:   logger,
	})
	queries.RegisterHandler[reviewsapp.CanReviewQuery, dto.ReviewEligibility](queryBus, &reviewsapp.CanReviewHandler{
		Messages: messages,
		Logger:   logger,
	})

	validator := middleware.NewStructValidator()
	commandBusWithMiddleware := middleware.ChainCommands(
		commandBus,
		middleware.Logging(logger),
		middleware.Validation(validator),
		middleware.Authorization(middleware.ActorAuthorizer{}),
	)
	queryBusWithMiddleware := middleware.ChainQueries(
		queryBus,
		middleware.QueryLogging(logger),
		middleware.QueryValidation(validator),
		middleware.QueryAuthorization(middleware.ActorAuthorizer{}),
	)

	app.handlers = ginserver.Handlers{
		Chat: ginserver.ChatHandler{
			Commands:       commandBusWithMiddleware,
			Queries:        queryBusWithMiddleware,
			Logger:         logger,
			MaxUploadBytes: cfg.AttachmentMaxBytes,
		},
		Reviews: ginserver.ReviewsHandler{Queries: queryBusWithMiddleware, Logger: logger},
		Live:    ginserver.LiveHandler{Feed: feed, Logger: logger},
	}
	if blobs != nil {
		app.handlers.Blobs = ginserver.BlobHandler{Store: blobs}
	}
	return app, nil
}

func (a *application) buildStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (policies.MessageStore, policies.ReadMarkers, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		store, err := postgres.NewStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
		a.checks["postgres"] = store.Ping
		a.closers = append(a.closers, func() error { store.Close(); return nil })
		logger.Info("message store ready", "driver", cfg.StoreDriver)
		return store, store, nil
	case config.DriverScylla:
		session, err := scylla.NewSession(ctx, cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		a.checks["scylla"] = func(ctx context.Context) error {
			return session.Query("SELECT now() FROM system.local").WithContext(ctx).Exec()
		}
		a.closers = append(a.closers, func() error { session.Close(); return nil })
		store := scylla.NewStore(session, logger)
		return store, store, nil
	default:
		logger.Info("message store ready", "driver", config.DriverMemory)
		return memory.NewMessageStore(), memory.NewReadMarkers(), nil
	}
}

// buildDocuments wires the identity collaborator and the notification outbox,
// sharing one Mongo client when either uses it.
func (a *application) buildDocuments(cfg config.Config, logger *slog.Logger) (policies.IdentityResolver, appoutbox.Store, error) {
	var client *mongo.Client
	if cfg.IdentityDriver == config.DriverMongo || cfg.OutboxDriver == config.DriverMongo {
		var err error
		client, err = mongo.New(cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, nil, fmt.Errorf("mongo: %w", err)
		}
		a.checks["mongo"] = client.Ping
		a.closers = append(a.closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return client.Close(ctx)
		})
	}

	var identity policies.IdentityResolver
	if cfg.IdentityDriver == config.DriverMongo {
		identity = mongo.NewIdentityStore(client.DB)
	} else {
		profiles := memory.NewProfileStore()
		profiles.Seed(cfg.MemoryProfiles)
		identity = profiles
	}

	var store appoutbox.Store
	if cfg.OutboxDriver == config.DriverMongo {
		store = mongooutbox.NewStore(client.DB)
	} else {
		store = memory.NewOutbox()
	}
	logger.Info("identity and outbox ready", "identity", cfg.IdentityDriver, "outbox", cfg.OutboxDriver)
	return identity, store, nil
}

func (a *application) buildAttachments(cfg config.Config, logger *slog.Logger) (policies.AttachmentStore, *memory.BlobStore, error) {
	if cfg.AttachmentDriver == config.DriverS3 {
		store, err := s3.NewStore(s3.Options{
			Endpoint:      cfg.S3Endpoint,
			PublicBaseURL: cfg.S3PublicEndpoint,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			UseSSL:        cfg.S3UseSSL,
			MediaBucket:   cfg.S3MediaBucket,
			AssetsBucket:  cfg.S3AssetsBucket,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		a.checks["s3"] = store.Ping
		return store, nil, nil
	}
	blobs := memory.NewBlobStore(cfg.PublicURL + "/blobs")
	return blobs, blobs, nil
}

// buildFeed returns the feed the live endpoint subscribes to and the publisher
// the send handler writes to. With Kafka the hub stays local and a relay feeds it.
func (a *application) buildFeed(ctx context.Context, cfg config.Config, hub *memory.Hub, logger *slog.Logger) (realtime.Feed, realtime.Publisher, error) {
	switch cfg.FeedDriver {
	case config.DriverRedis:
		feed, err := redisfeed.NewFeed(ctx, &goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("redis: %w", err)
		}
		a.checks["redis"] = feed.Ping
		a.closers = append(a.closers, feed.Close)
		return feed, feed, nil
	case config.DriverKafka:
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("kafka producer: %w", err)
		}
		a.closers = append(a.closers, producer.Close)

		groupID := cfg.KafkaGroupID
		if groupID == "" {
			// every instance needs every record, so each gets its own group
			groupID = "peerchat-relay-" + ulid.Make().String()
		}
		consumerCfg := sarama.NewConfig()
		consumerCfg.Consumer.Offsets.Initial = sarama.OffsetNewest
		consumer, err := kafka.NewConsumer(cfg.KafkaBrokers, groupID, consumerCfg, kafka.Relay{Hub: hub, Logger: logger}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("kafka consumer: %w", err)
		}
		a.relay = consumer
		a.closers = append(a.closers, consumer.Close)
		return hub, kafka.FeedPublisher{Producer: producer, Topic: cfg.Topic(kafka.MessagesTopic)}, nil
	default:
		return hub, hub, nil
	}
}

func (a *application) buildProducer(cfg config.Config, logger *slog.Logger) (notify.Producer, error) {
	if cfg.NotifyDriver != config.DriverKafka {
		return notify.LogProducer{Logger: logger}, nil
	}
	producer, err := kafka.NewProducer(cfg.KafkaBrokers, nil)
	if err != nil {
		return nil, fmt.Errorf("kafka notifications producer: %w", err)
	}
	a.closers = append(a.closers, producer.Close)
	return producer, nil
}

// run serves HTTP and drives the outbox worker and the feed relay until ctx ends.
func (a *application) run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	server := ginserver.NewServer(cfg, obs.Middleware{Logger: logger}, obs.HealthHandlers{Checks: a.checks}, a.handlers)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP server starting", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
		a.send.Wait()
		return nil
	})
	g.Go(func() error {
		if err := a.worker.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("outbox worker: %w", err)
		}
		return nil
	})
	if a.relay != nil {
		g.Go(func() error {
			topic := cfg.Topic(kafka.MessagesTopic)
			logger.Info("feed relay starting", "topic", topic)
			if err := a.relay.Run(gctx, []string{topic}); err != nil {
				return fmt.Errorf("feed relay: %w", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (a *application) close(logger *slog.Logger) {
	if a == nil {
		return
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("close failed", "error", err)
		}
	}
}
