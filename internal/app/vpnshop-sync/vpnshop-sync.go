package vpnshopsync

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/streadway/amqp"

	"github.com/ruslanovk/vpnshop-sync/internal/cache"
	"github.com/ruslanovk/vpnshop-sync/internal/config"
	"github.com/ruslanovk/vpnshop-sync/internal/lib/rabbitmq"
	"github.com/ruslanovk/vpnshop-sync/internal/lib/sl"
	"github.com/ruslanovk/vpnshop-sync/internal/panel"
	"github.com/ruslanovk/vpnshop-sync/internal/pricing"
	"github.com/ruslanovk/vpnshop-sync/internal/services/billing"
	"github.com/ruslanovk/vpnshop-sync/internal/storage/repository"
	"github.com/ruslanovk/vpnshop-sync/internal/syncer"
)

// App держит собранный сервис и его ресурсы.
type App struct {
	server       *http.Server
	logger       *slog.Logger
	db           *repository.Storage
	rabbitConn   *amqp.Connection
	orchestrator *syncer.Orchestrator
}

// New собирает сервис: хранилище, кэш, брокер, клиент панели,
// оркестратор и HTTP-сервер. Брокер необязателен: пустой URL отключает
// публикацию событий.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, err
	}
	if err = repository.CheckDatabaseReady(db); err != nil {
		return nil, err
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		return nil, err
	}

	var rabbitConn *amqp.Connection
	var publisher *rabbitmq.Publisher
	if cfg.RabbitMQURL != "" {
		rabbitConn, err = rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
		if err != nil {
			return nil, err
		}
		ch, err := rabbitmq.SetupChannel(rabbitConn, rabbitmq.GetSyncQueues())
		if err != nil {
			return nil, err
		}
		publisher = rabbitmq.NewPublisher(ch)
	} else {
		logger.Warn("rabbitmq url is empty, sync events will not be published")
	}

	panelClient := panel.New(cfg.PanelConnection)
	logger.Info("panel client configured",
		slog.String("base_url", cfg.PanelConnection.BaseURL),
		sl.Secret("api_key", cfg.PanelConnection.APIKey))
	reconciler := syncer.NewReconciler(panelClient, db, publisher, cfg.PanelConnection, logger)
	orchestrator := syncer.NewOrchestrator(reconciler, cfg.SyncSchedule, logger)

	billingService := billing.NewService(db, cacheRedis, billing.Prices{
		BaseMonthlyKopeks: cfg.Pricing.BaseMonthlyKopeks,
		Addons: pricing.AddonPrices{
			PerSquadKopeks:  cfg.Pricing.PerSquadKopeks,
			PerTrafficTier:  cfg.Pricing.PerTrafficTierKopeks,
			PerDeviceKopeks: cfg.Pricing.PerDeviceKopeks,
		},
		PromoOfferPercent: cfg.Pricing.PromoOfferPercent,
	}, logger)

	router := chi.NewRouter()
	RegisterRoutes(router, logger, orchestrator, billingService)

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		server:       srv,
		logger:       logger,
		db:           db,
		rabbitConn:   rabbitConn,
		orchestrator: orchestrator,
	}, nil
}

// Run запускает расписание синхронизации и HTTP-сервер, затем ждёт
// отмены контекста и гасит всё в обратном порядке.
func (a *App) Run(ctx context.Context) error {
	if err := a.orchestrator.Start(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		a.orchestrator.Stop()
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.logger.Info("shutting down gracefully")
		a.orchestrator.Stop()
		err := a.server.Shutdown(timeoutCtx)
		if a.rabbitConn != nil {
			if cerr := a.rabbitConn.Close(); cerr != nil {
				a.logger.Warn("failed to close rabbitmq connection", sl.Err(cerr))
			}
		}
		a.db.DB.Close()
		return err
	}
}
