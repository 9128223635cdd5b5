package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/encryptcookie"
	"github.com/gofiber/fiber/v2/middleware/favicon"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/template/html/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/ManuelReschke/VoxRelay/app/controllers"
	"github.com/ManuelReschke/VoxRelay/internal/pkg/cache"
	"github.com/ManuelReschke/VoxRelay/internal/pkg/config"
	"github.com/ManuelReschke/VoxRelay/internal/pkg/constants"
	"github.com/ManuelReschke/VoxRelay/internal/pkg/credentials"
	"github.com/ManuelReschke/VoxRelay/internal/pkg/crm"
	"github.com/ManuelReschke/VoxRelay/internal/pkg/database"
	"github.com/ManuelReschke/VoxRelay/internal/pkg/integration"
	"github.com/ManuelReschke/VoxRelay/internal/pkg/jobqueue"
	"github.com/ManuelReschke/VoxRelay/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/VoxRelay/internal/pkg/middleware"
	"github.com/ManuelReschke/VoxRelay/internal/pkg/pipeline"
	"github.com/ManuelReschke/VoxRelay/internal/pkg/router"
	"github.com/ManuelReschke/VoxRelay/internal/pkg/session"
	"github.com/ManuelReschke/VoxRelay/internal/pkg/transcribe"
	"github.com/ManuelReschke/VoxRelay/internal/pkg/webhook"
)

const shutdownTimeout = 30 * time.Second

type application struct {
	cfg   *config.Config
	app   *fiber.App
	jobs  *jobqueue.Manager
	redis *redis.Client
	db    *gorm.DB
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[Config] %v", err)
	}
	if cfg.IsDev() {
		log.SetLevel(log.LevelDebug)
	} else {
		log.SetLevel(log.LevelInfo)
	}

	a, err := newApplication(cfg)
	if err != nil {
		log.Fatalf("[Main] Startup failed: %v", err)
	}

	// refresh a credential that expired while the process was down
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := a.jobs.RunOnce(ctx, jobqueue.TaskCredentialSweep); err != nil {
		log.Warnf("[Main] Initial credential sweep failed: %v", err)
	}
	cancel()

	a.jobs.Start()

	go func() {
		if err := a.app.Listen(cfg.ListenAddr()); err != nil {
			log.Errorf("[Main] Server stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Infof("[Main] Received %s, shutting down", sig)

	a.Shutdown()
}

// newApplication wires every component from cfg. Nothing runs in the
// background until jobs are started.
func newApplication(cfg *config.Config) (*application, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, err
	}
	redisClient := cache.NewClient(cfg)
	shared := cache.New(redisClient)

	// credentials
	oauthClient := crm.NewOAuthClient(cfg)
	manager := credentials.NewManager(credentials.NewStore(db), oauthClient)

	// pipeline
	crmClient := crm.NewClient(cfg)
	fields := pipeline.NewFieldResolver(crmClient, shared)
	outcomes := counter.NewOutcomes(redisClient)
	runner := pipeline.New(
		pipeline.NewDownloader(cfg),
		transcribe.NewFFmpeg(cfg),
		transcribe.NewWhisper(cfg),
		crmClient,
		fields,
		pipeline.WithConcurrency(cfg.TranscribeConcurrency),
		pipeline.WithWriteRetries(cfg.CRMWriteRetries, 500*time.Millisecond),
		pipeline.WithCounters(outcomes),
	)

	dispatcher := webhook.NewDispatcher(manager, runner, fields)
	opts := []integration.Option{
		integration.WithDeduper(shared),
		integration.WithLocationLookup(crmClient),
		integration.WithFieldEnsurer(fields),
	}

	// background jobs
	var queue *jobqueue.Queue
	if cfg.WebhookAsync {
		queue = jobqueue.NewQueue(redisClient, cfg.JobQueueWorkers)
		opts = append(opts, integration.WithQueue(queue))
	}
	svc := integration.NewService(manager, dispatcher, opts...)

	jobs := jobqueue.NewManager(queue)
	jobs.Every(jobqueue.TaskCredentialSweep, cfg.CredentialSweepInterval, manager.Tick)
	if queue != nil {
		queue.Handle(jobqueue.JobTypeWebhookEvent, svc.HandleWebhookJob)
		log.Infof("[Main] Webhooks are processed asynchronously by %d workers", cfg.JobQueueWorkers)
	}

	verifier, err := webhook.NewVerifier(cfg.WebhookPublicKey)
	if err != nil {
		return nil, err
	}
	if verifier == nil {
		log.Warn("[Main] WEBHOOK_PUBLIC_KEY is not set, webhook signatures are not verified")
	}

	app, err := newFiberApp(cfg)
	if err != nil {
		return nil, err
	}

	sessions := session.New(session.NewSessionStore(cfg))
	var queueStats controllers.QueueStats
	if queue != nil {
		queueStats = queue
	}
	router.InstallRouter(app, router.Options{
		Main: controllers.NewMainController(svc, sessions, func(ctx context.Context) error {
			return database.Ping(ctx, db)
		}, cfg.IsDev()),
		OAuth:            controllers.NewOAuthController(svc, sessions, oauthClient),
		Webhook:          controllers.NewWebhookController(svc, controllers.DefaultWebhookTimeout),
		API:              controllers.NewAPIController(svc, queueStats, outcomes),
		Verifier:         verifier,
		OperatorUser:     cfg.MetricsUser,
		OperatorPassword: cfg.MetricsPassword,
	})

	return &application{cfg: cfg, app: app, jobs: jobs, redis: redisClient, db: db}, nil
}

func newFiberApp(cfg *config.Config) (*fiber.App, error) {
	// Define possible base paths
	basePaths := []string{
		"./",        // Current directory
		"../../",    // From cmd/voxrelay to project root
		"../../../", // Fallback
	}

	// Find the correct base path
	basePath := ""
	for _, path := range basePaths {
		if _, err := os.Stat(path + "views"); !os.IsNotExist(err) {
			basePath = path
			break
		}
	}
	if basePath == "" {
		return nil, os.ErrNotExist
	}

	app := fiber.New(fiber.Config{
		Views:     html.New(basePath+"views", ".html"),
		BodyLimit: 4 * 1024 * 1024, // 4 MiB
	})

	// no favicon, answer 204 instead of rendering a 404 page
	app.Use(favicon.New(favicon.Config{URL: "/favicon.ico"}))

	// recovery and logging
	app.Use(recover.New(), logger.New())

	if cfg.SessionSecret != "" {
		app.Use(encryptcookie.New(encryptcookie.Config{Key: session.CookieKey(cfg.SessionSecret)}))
	} else {
		log.Warn("[Main] SESSION_SECRET is not set, session and flash cookies are not encrypted")
	}

	// fiber metrics
	app.Get(constants.MetricsRoute, middleware.OptionalBasicAuth(cfg.MetricsUser, cfg.MetricsPassword), monitor.New())

	// static files
	app.Static("/", basePath+"public/assets", fiber.Static{
		CacheDuration: 15 * time.Second,
		Compress:      true,
	})

	// SWAGGER / OPENAPI
	openAPICfg := swagger.Config{
		BasePath: constants.DocsBasePath,
		FilePath: basePath + "public/docs/v1/openapi.yml",
		Path:     constants.DocsPath,
	}
	app.Use(swagger.New(openAPICfg))

	return app, nil
}

// Shutdown stops the jobs, then the server, then the connections.
func (a *application) Shutdown() {
	a.jobs.Stop()

	if err := a.app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		log.Errorf("[Main] Server shutdown: %v", err)
	}
	if err := a.redis.Close(); err != nil {
		log.Errorf("[Main] Closing cache connection: %v", err)
	}
	database.Close(a.db)
	log.Info("[Main] Bye")
}
