package api

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	awsCfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	redisAdapter "auctionhouse/adapters/redis"
	internalS3 "auctionhouse/adapters/s3"
	"auctionhouse/bidding"
	"auctionhouse/changefeed"
	"auctionhouse/live"
	"auctionhouse/store"
)

// ImageUploader stores item images and returns their public URL.
type ImageUploader interface {
	UploadItemImage(ctx context.Context, itemID uuid.UUID, body io.Reader) (string, error)
}

type serverOptions struct {
	logger    *slog.Logger
	now       func() time.Time
	keepAlive time.Duration
}

type ServerOption func(*serverOptions)

func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(o *serverOptions) {
		o.logger = logger
	}
}

// WithServerClock replaces time.Now for bidding and live snapshots.
func WithServerClock(now func() time.Time) ServerOption {
	return func(o *serverOptions) {
		o.now = now
	}
}

// WithKeepAlive sets how often an idle event stream gets a comment line.
func WithKeepAlive(d time.Duration) ServerOption {
	return func(o *serverOptions) {
		o.keepAlive = d
	}
}

type ServerImpl struct {
	db                     *gorm.DB
	store                  *store.Store
	coordinator            *bidding.Coordinator
	notifier               *live.Notifier
	hub                    *changefeed.Hub
	images                 ImageUploader
	htmlChecker            *bluemonday.Policy
	textChecker            *bluemonday.Policy
	publicKey              ed25519.PublicKey
	registry               *prometheus.Registry
	feedProducer           redisAdapter.IProducer[changefeed.Event]
	feedConsumer           redisAdapter.IConsumer[changefeed.Event]
	reconciliationProducer redisAdapter.IProducer[bidding.Reconciliation]
	groupConsumer          redisAdapter.IGroupConsumer[bidding.Reconciliation]
	logger                 *slog.Logger
	now                    func() time.Time
	keepAlive              time.Duration
	wg                     sync.WaitGroup
	cancelFunc             context.CancelFunc
	closers                []func() error

	config ServerConfig
}

// NewServer connects to postgres, Redis and S3 and wires the bidding
// engine on top of them.
func NewServer(config ServerConfig, opts ...ServerOption) (*ServerImpl, error) {
	const op = "NewServer"

	s3Cfg, err := awsCfg.LoadDefaultConfig(
		context.Background(),
		awsCfg.WithBaseEndpoint(config.S3.Endpoint),
		awsCfg.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(config.S3.AccessKeyID, config.S3.SecretAccessKey, "")),
		awsCfg.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to load AWS config, err=%w", op, err)
	}
	s3Operator, err := internalS3.NewS3Operator(s3.NewFromConfig(s3Cfg), config.S3.Bucket, config.S3.PublicBaseURL)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create S3 operator, err=%w", op, err)
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable&search_path=%s", config.DB.User, config.DB.Password, config.DB.Host, config.DB.Port, config.DB.Database, config.DB.Schema)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		NamingStrategy: schema.NamingStrategy{
			TablePrefix: config.DB.Schema + ".",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to connect to database, err=%w", op, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to get database handle, err=%w", op, err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	})

	impl, err := newServerImpl(config, db, redisClient, s3Operator, opts...)
	if err != nil {
		redisClient.Close()
		sqlDB.Close()
		return nil, err
	}
	impl.closers = append(impl.closers, redisClient.Close, sqlDB.Close)
	return impl, nil
}

func newServerImpl(config ServerConfig, db *gorm.DB, redisClient *redis.Client, images ImageUploader, opts ...ServerOption) (*ServerImpl, error) {
	const op = "newServerImpl"

	options := serverOptions{
		logger:    slog.Default(),
		now:       time.Now,
		keepAlive: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(&options)
	}
	logger := options.logger

	if config.Auth.PublicKey == "" {
		return nil, fmt.Errorf("[%s] %w", op, errMissingKey)
	}
	publicKey, err := ParseEd25519PublicKey(config.Auth.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to load auth key, err=%w", op, err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// every instance publishes its commits to one stream and tails it
	// back, so each hub sees the commits of all instances
	feedProducer, err := redisAdapter.NewProducer(
		redisClient,
		config.Redis.StreamKeys.ChangeFeed,
		redisAdapter.WithProducerLogger[changefeed.Event](logger),
		redisAdapter.WithProducerMaxLen[changefeed.Event](config.Redis.StreamMaxLen),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create change feed producer, err=%w", op, err)
	}
	feedConsumer, err := redisAdapter.NewConsumer(
		redisClient,
		config.Redis.StreamKeys.ChangeFeed,
		redisAdapter.WithConsumerLogger[changefeed.Event](logger),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create change feed consumer, err=%w", op, err)
	}
	hub, err := changefeed.NewHub(feedConsumer, changefeed.WithHubLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create change feed hub, err=%w", op, err)
	}

	st, err := store.New(db, store.WithLogger(logger), store.WithPublisher(feedProducer))
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create store, err=%w", op, err)
	}

	reconciliationProducer, err := redisAdapter.NewProducer(
		redisClient,
		config.Redis.StreamKeys.Reconciliation,
		redisAdapter.WithProducerLogger[bidding.Reconciliation](logger),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create reconciliation producer, err=%w", op, err)
	}
	groupConsumer, err := redisAdapter.NewGroupConsumer(
		redisClient,
		config.Redis.StreamKeys.Reconciliation,
		config.Redis.ConsumerGroup,
		config.ID,
		redisAdapter.WithGroupConsumerLogger[bidding.Reconciliation](logger),
		redisAdapter.WithGroupConsumerStrictOrdering[bidding.Reconciliation](true),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create reconciliation consumer, err=%w", op, err)
	}

	coordinatorOpts := []bidding.CoordinatorOption{
		bidding.WithCoordinatorLogger(logger),
		bidding.WithCoordinatorMetrics(bidding.NewMetrics(registry)),
		bidding.WithClock(options.now),
		bidding.WithReconciliationReporter(reconciliationProducer),
	}
	if config.Bidding.MaxCommitAttempts > 0 {
		coordinatorOpts = append(coordinatorOpts, bidding.WithMaxCommitAttempts(config.Bidding.MaxCommitAttempts))
	}
	if config.Bidding.LockItems {
		lockerOpts := []redisAdapter.ItemLockerOption{redisAdapter.WithItemLockerLogger(logger)}
		if config.Bidding.LockWait > 0 {
			lockerOpts = append(lockerOpts, redisAdapter.WithItemLockerMaxWait(config.Bidding.LockWait))
		}
		locker, err := redisAdapter.NewItemLocker(redisClient, lockerOpts...)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to create item locker, err=%w", op, err)
		}
		coordinatorOpts = append(coordinatorOpts, bidding.WithItemLocker(locker))
	}
	coordinator, err := bidding.NewCoordinator(st, coordinatorOpts...)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create coordinator, err=%w", op, err)
	}

	notifier, err := live.NewNotifier(st, hub,
		live.WithNotifierLogger(logger),
		live.WithNotifierClock(options.now),
		live.WithNotifierRegisterer(registry),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create notifier, err=%w", op, err)
	}

	return &ServerImpl{
		db:                     db,
		store:                  st,
		coordinator:            coordinator,
		notifier:               notifier,
		hub:                    hub,
		images:                 images,
		htmlChecker:            bluemonday.UGCPolicy(),
		textChecker:            bluemonday.StrictPolicy(),
		publicKey:              publicKey,
		registry:               registry,
		feedProducer:           feedProducer,
		feedConsumer:           feedConsumer,
		reconciliationProducer: reconciliationProducer,
		groupConsumer:          groupConsumer,
		logger:                 logger.With(slog.String("caller", "Server")),
		now:                    options.now,
		keepAlive:              options.keepAlive,
		config:                 config,
	}, nil
}

// Migrate creates or updates the tables of the engine.
func (impl *ServerImpl) Migrate() error {
	return store.Migrate(impl.db)
}

func (impl *ServerImpl) Start() {
	impl.feedProducer.Start()
	impl.reconciliationProducer.Start()
	impl.feedConsumer.Start()
	impl.hub.Start()
	if err := impl.groupConsumer.Start(); err != nil {
		impl.logger.Error("Fail to start reconciliation consumer", slog.Any("error", err))
	}

	// the worker applies wallet repairs the coordinator could not finish
	ctx, cancel := context.WithCancel(context.Background())
	impl.cancelFunc = cancel
	impl.logger.Info("Start reconciliation worker")
	impl.wg.Add(1)
	go func() {
		logger := impl.logger.With(slog.String("caller", "Reconciliation"))
		defer impl.wg.Done()
		defer logger.Info("Reconciliation worker stopped")
		ch := impl.groupConsumer.Subscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				logger.Debug("Receive message", slog.String("messageID", msg.ID))
				if err := impl.reconcile(ctx, logger, msg.Data); err != nil {
					logger.Error("Fail to reconcile wallet, moving to dead letter",
						slog.String("reconciliationID", msg.Data.ID.String()),
						slog.Any("error", err))
					if err := msg.Fail(ctx, err); err != nil {
						logger.Error("Fail to mark message as failed", slog.Any("error", err))
					}
					continue
				}
				if err := msg.Done(ctx); err != nil {
					logger.Error("Fail to mark message as done", slog.Any("error", err))
					if err := msg.Fail(ctx, err); err != nil {
						logger.Error("Fail to mark message as failed", slog.Any("error", err))
					}
				}
			}
		}
	}()
}

func (impl *ServerImpl) reconcile(ctx context.Context, logger *slog.Logger, r bidding.Reconciliation) error {
	applied, err := impl.store.ApplyReconciliation(ctx, r)
	if err != nil {
		if errors.Is(err, bidding.ErrConditionFailed) {
			return fmt.Errorf("held funds of user %s do not cover %s: %w", r.UserID, r.Amount, err)
		}
		return err
	}
	if !applied {
		logger.Debug("Reconciliation already applied", slog.String("reconciliationID", r.ID.String()))
		return nil
	}
	logger.Info("Wallet reconciled",
		slog.String("reconciliationID", r.ID.String()),
		slog.String("kind", string(r.Kind)),
		slog.String("userID", r.UserID.String()),
		slog.String("itemID", r.ItemID.String()),
		slog.String("amount", r.Amount.String()))
	return nil
}

func (impl *ServerImpl) Close() {
	impl.groupConsumer.Close()
	if impl.cancelFunc != nil {
		impl.cancelFunc()
	}
	impl.wg.Wait()
	impl.feedConsumer.Close()
	impl.hub.Done()
	impl.reconciliationProducer.Close()
	impl.feedProducer.Close()
	for _, closer := range impl.closers {
		if err := closer(); err != nil {
			impl.logger.Warn("Fail to close resource", slog.Any("error", err))
		}
	}
}

// RegisterHandlers mounts every route of the engine on router.
func (impl *ServerImpl) RegisterHandlers(router gin.IRouter) {
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(impl.registry, promhttp.HandlerOpts{})))
	router.GET("/auctions/:auctionID/snapshot", impl.GetAuctionSnapshot)
	router.GET("/auctions/:auctionID/events", impl.GetAuctionEvents)
	router.GET("/items/:itemID/bids", impl.GetItemBids)
	router.POST("/webhooks/payments", impl.PostPaymentWebhook)

	authed := router.Group("", impl.authenticate)
	authed.POST("/auctions", impl.PostAuctions)
	authed.POST("/items/:itemID/bids", impl.PostItemBids)
	authed.POST("/items/:itemID/image", impl.PostItemImage)
	authed.GET("/wallet", impl.GetWallet)
	authed.GET("/wallet/transactions", impl.GetWalletTransactions)
}
