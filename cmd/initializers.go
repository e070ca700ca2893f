package main

import (
	"errors"
	"fmt"
	"net/http"

	"genrouter/app/handler"
	"genrouter/app/router"
	"genrouter/internal/dispatch"
	"genrouter/internal/scheduler"
	"genrouter/internal/service"
	"genrouter/pkg/config"
	"genrouter/pkg/connector"
	"genrouter/pkg/logger"
	"genrouter/pkg/notification"
	queue "genrouter/pkg/queue/asynq"
	"genrouter/pkg/secrets"
	mysqlstore "genrouter/pkg/store/mysql"
	redisstore "genrouter/pkg/store/redis"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
)

// initConfig initializes configuration
func (app *Application) initConfig() error {
	if err := config.Init(); err != nil {
		return err
	}
	app.config = config.GlobalConfig
	return nil
}

// initLogger initializes logging
func (app *Application) initLogger() error {
	if err := logger.Init(); err != nil {
		return err
	}
	app.registerCleanup(func() {
		logger.Sync()
		logger.InfoCtx(app.ctx, "Logging system has been closed")
	})
	return nil
}

// initMySQL initializes MySQL
func (app *Application) initMySQL() error {
	// clientFoundRows makes RowsAffected count matched rows, so writing a
	// value a row already holds is not mistaken for a missing row.
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC&clientFoundRows=true",
		app.config.MySQL.User,
		app.config.MySQL.Password,
		app.config.MySQL.Host,
		app.config.MySQL.Port,
		app.config.MySQL.Database,
	)

	repo, err := mysqlstore.NewRepository(dsn)
	if err != nil {
		return err
	}

	app.mysqlRepo = repo
	app.registerCleanup(func() {
		repo.Close()
		logger.InfoCtx(app.ctx, "MySQL connection has been closed")
	})

	return nil
}

// initRedis initializes Redis
func (app *Application) initRedis() error {
	client, err := redisstore.NewRedisClient(app.config)
	if err != nil {
		return err
	}

	app.redisClient = client
	app.registerCleanup(func() {
		client.Close()
		logger.InfoCtx(app.ctx, "Redis connection has been closed")
	})

	return nil
}

// initSealer initializes the credential sealer
func (app *Application) initSealer() error {
	sealer, err := secrets.NewSealer(app.config.Credentials.Key)
	if errors.Is(err, secrets.ErrNoKey) {
		// Without a stable key, sealed api keys become unreadable after a
		// restart and accounts must be re-added.
		logger.WarnCtx(app.ctx, "no credential key configured (credentials.key or CREDENTIAL_KEY), generating an ephemeral one")
		key, genErr := secrets.GenerateKey()
		if genErr != nil {
			return genErr
		}
		sealer, err = secrets.NewSealer(key)
	}
	if err != nil {
		return err
	}

	app.sealer = sealer
	return nil
}

// initQueue initializes the priority queue manager
func (app *Application) initQueue() error {
	mgr, err := queue.NewManager(app.config)
	if err != nil {
		return err
	}

	app.queueMgr = mgr
	app.registerCleanup(func() {
		mgr.Close()
		logger.InfoCtx(app.ctx, "Queue client has been closed")
	})

	return nil
}

// initServices initializes the routing and dispatch pipeline plus the
// service layer on top of it
func (app *Application) initServices() error {
	// Routing reads provider and account state straight from MySQL so
	// every decision sees the current ledger
	schedStore := scheduler.NewMySQLStore(app.mysqlRepo)
	app.taskRouter = scheduler.NewRouter(schedStore, app.config.Scheduler.RouteRetries)

	// Connector registry, one adapter per provider API family
	app.connectors = connector.NewRegistry(app.config)

	// Webhook notifier for terminal task states
	app.notifier = notification.NewWebhookNotifier()

	// Dispatcher claims queued tasks, walks routing candidates and
	// settles the token ledger
	app.dispatcher = dispatch.NewDispatcher(
		dispatch.NewMySQLStore(app.mysqlRepo, app.sealer),
		app.taskRouter,
		app.connectors,
		app.notifier,
		app.config,
	)
	app.queueMgr.RegisterHandler(queue.TypeTaskDispatch, asynq.HandlerFunc(app.dispatcher.HandleDispatch))

	// Reaper reclaims tasks and reservations abandoned by dead workers
	app.reaper = dispatch.NewReaper(dispatch.NewMySQLReaperStore(app.mysqlRepo), app.queueMgr, app.config)

	// Initialize task service
	app.taskService = service.NewTaskService(
		app.mysqlRepo.Task,
		app.mysqlRepo.Assignment,
		app.mysqlRepo.Provider,
		app.mysqlRepo.Account,
		app.queueMgr,
	)

	// Set notifier on task service (user cancellations notify too)
	app.taskService.SetNotifier(app.notifier)

	// Initialize admin service
	app.adminService = service.NewAdminService(
		app.mysqlRepo.Provider,
		app.mysqlRepo.Account,
		app.sealer,
		schedStore,
		app.dispatcher,
	)

	// Initialize reset service
	app.resetService = service.NewResetService(app.mysqlRepo.Account)

	return nil
}

// initHandlers initializes handler layer
func (app *Application) initHandlers() error {
	app.taskHandler = handler.NewTaskHandler(app.taskService)
	app.adminHandler = handler.NewAdminHandler(app.adminService, app.resetService)
	return nil
}

// initHTTPServer initializes HTTP server
func (app *Application) initHTTPServer() error {
	// Set gin mode
	if app.config.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	app.ginEngine = gin.New()

	r := router.NewRouter(app.taskHandler, app.adminHandler)
	r.Setup(app.ginEngine)

	app.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", app.config.Server.Port),
		Handler: app.ginEngine,
	}

	return nil
}
