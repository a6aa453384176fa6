package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"strategy-backtester/api"
	"strategy-backtester/internal/config"
	"strategy-backtester/internal/connector"
	"strategy-backtester/internal/infrastructure"
	"strategy-backtester/internal/notify"
	"strategy-backtester/internal/push"
	"strategy-backtester/internal/runner"
	"strategy-backtester/internal/storage"
)

// App defines the application structure and its dependencies. The
// database and NATS are optional: without them the service still runs
// backtests, it just loses persistence and result streaming.
type App struct {
	Config     *config.Config
	Logger     *zap.Logger
	DB         *pgxpool.Pool
	NC         *nats.Conn
	JS         nats.JetStreamContext
	Gateway    *push.Gateway
	Runner     *runner.Runner
	Pool       *runner.WorkerPool
	Source     connector.CandleSource
	HTTPServer *http.Server
}

const (
	backtestWorkers   = 4
	backtestQueueSize = 16
)

// NewApp creates a new application instance
func NewApp() (*App, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	infrastructure.Init()
	logger := infrastructure.Logger

	return &App{
		Config: &cfg,
		Logger: logger,
	}, nil
}

// Init initializes all application components
func (a *App) Init(ctx context.Context) error {
	// 1. Database (optional)
	if a.Config.DBDSN != "" {
		dbPool, err := pgxpool.Connect(ctx, a.Config.DBDSN)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		a.DB = dbPool

		if err := storage.InitSchema(ctx, a.DB); err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		a.Logger.Info("database initialized")
	}

	// 2. NATS (optional)
	if a.Config.NatsURL != "" {
		nc, js, err := infrastructure.InitNATS(a.Config.NatsURL, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		a.NC = nc
		a.JS = js
		a.Gateway = push.NewGateway(js, a.Logger)
	}

	// 3. Candle source
	switch a.Config.CandleSource {
	case "binance":
		a.Source = connector.NewBinanceSource(a.Logger, a.Config.BinanceAPIURL)
	default:
		a.Source = connector.NewKrakenSource(a.Logger, a.Config.KrakenAPIURL)
	}

	// 4. Backtest runner
	var publisher runner.Publisher
	if a.JS != nil {
		publisher = push.NewResultPublisher(a.JS, a.Logger)
	}
	a.Runner = runner.New(a.Source, a.Logger, publisher, notify.New(a.JS, a.Logger))

	// 5. Worker pool for multi-symbol backtests
	a.Pool = runner.NewWorkerPool(backtestWorkers, backtestQueueSize, a.Runner, a.Logger)

	return nil
}

// Run starts the worker pool and HTTP server and blocks until shutdown
func (a *App) Run(ctx context.Context) error {
	a.Pool.Start(ctx)

	a.HTTPServer = &http.Server{
		Addr:    ":" + a.Config.Port,
		Handler: a.setupRouter(),
	}

	go func() {
		a.Logger.Info("starting http server", zap.String("port", a.Config.Port))
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	return a.waitForShutdown()
}

// waitForShutdown handles graceful shutdown signals
func (a *App) waitForShutdown() error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	a.Logger.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.HTTPServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	if a.NC != nil {
		a.NC.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}

	return nil
}

// setupRouter configures the Gin router and its routes
func (a *App) setupRouter() *gin.Engine {
	r := gin.Default()

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	var store *storage.StrategyStore
	if a.DB != nil {
		store = storage.NewStrategyStore(a.DB, a.Logger)
	}

	aiProxy := api.NewAIProxy(
		a.Config.OpenAIAPIURL, a.Config.OpenAIAPIKey,
		a.Config.AnthropicAPIURL, a.Config.AnthropicAPIKey,
		a.Logger,
	)
	apiHandler := api.NewHandler(a.Runner, a.Source, store, a.Pool, a.Logger)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/evaluate", apiHandler.Evaluate)
		v1.POST("/backtest", apiHandler.RunBacktest)
		v1.GET("/klines/:pair", apiHandler.GetKlines)
		v1.POST("/strategies", apiHandler.SaveStrategy)
		v1.GET("/strategies", apiHandler.ListStrategies)
		v1.GET("/strategies/:id", apiHandler.GetStrategy)
		v1.DELETE("/strategies/:id", apiHandler.DeleteStrategy)
	}

	r.POST("/api/ai", aiProxy.Completion)

	if a.Gateway != nil {
		r.GET("/ws", func(c *gin.Context) {
			a.Gateway.ServeHTTP(c.Writer, c.Request)
		})
	}

	return r
}
