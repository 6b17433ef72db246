package server

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"gorm.io/gorm"

	"tlsync/config"
	"tlsync/internal/api"
	"tlsync/internal/db"
	"tlsync/internal/export"
	"tlsync/internal/health"
	"tlsync/internal/logs"
	"tlsync/internal/metrics"
	"tlsync/internal/middleware"
	"tlsync/internal/repo"
	"tlsync/internal/scheduler"
	"tlsync/internal/synclog"
	"tlsync/internal/tlink"
)

type App struct {
	cfg        *config.Config
	Router     *mux.Router
	httpServer *http.Server

	db     *gorm.DB
	sched  *scheduler.Scheduler
	ctx    context.Context
	cancel context.CancelFunc
}

func (a *App) Initialize(cfg *config.Config) {
	a.cfg = cfg

	// 1) Логи
	logs.Init(logs.Options{
		Level:  a.cfg.Logging.Level,
		Format: a.cfg.Logging.Format,
		File:   a.cfg.Logging.File,
	})

	// 2) БД
	d, err := db.Open(a.cfg.Database.Driver, a.cfg.Database.DSN)
	if err != nil {
		log.Fatalf("db open failed: %v", err)
	}
	a.db = d
	if err := db.Migrate(a.db); err != nil {
		log.Fatalf("db migrate failed: %v", err)
	}

	// 3) Роутер + middleware
	a.Router = mux.NewRouter()
	a.Router.Use(middleware.RequestID)
	a.Router.Use(middleware.Recoverer)
	a.Router.Use(middleware.LoggerMW)

	health.RegisterRoutesWithDB(a.Router, a.db)
	metrics.RegisterRoutes(a.Router)

	// 4) Конвейер синхронизации
	store := repo.NewTelemetryStore(a.db)
	journal := synclog.NewStore(a.cfg.SyncLog.Dir)

	timeout := time.Duration(a.cfg.TLink.TimeoutSeconds) * time.Second
	oauth := tlink.NewOAuthClient(tlink.OAuthConfig{
		TokenURL:      a.cfg.TLink.OAuth.TokenURL,
		ClientID:      a.cfg.TLink.OAuth.ClientID,
		ClientSecret:  a.cfg.TLink.OAuth.ClientSecret,
		Username:      a.cfg.TLink.OAuth.Username,
		Password:      a.cfg.TLink.OAuth.Password,
		Scope:         a.cfg.TLink.OAuth.Scope,
		RefreshBuffer: time.Duration(a.cfg.TLink.OAuth.RefreshBuffer) * time.Second,
	}, &http.Client{Timeout: timeout})
	client := tlink.NewClient(tlink.ClientConfig{
		BaseURL:        a.cfg.TLink.BaseURL,
		SensorDataPath: a.cfg.TLink.SensorDataPath,
		HTTPMethod:     a.cfg.TLink.HTTPMethod,
		AppID:          a.cfg.TLink.AppID,
		Timeout:        timeout,
	}, oauth, nil)

	var exporter tlink.Exporter
	if a.cfg.Export.Enabled {
		exporter = export.NewATGExporter(export.Config{
			Endpoint:   a.cfg.Export.Endpoint,
			SensorIDs:  a.cfg.Export.SensorIDs,
			ConnectTTL: time.Duration(a.cfg.Export.ConnectTTLSeconds) * time.Second,
			Timeout:    time.Duration(a.cfg.Export.TimeoutSeconds) * time.Second,
		}, store)
	}

	syncer := tlink.NewSyncer(tlink.SyncerConfig{
		AccountID: a.cfg.TLink.AccountNumber,
		PageSize:  a.cfg.TLink.SyncPageSize,
	}, client, store, journal, exporter)

	// 5) HTTP API (webhook + чтение)
	apiHTTP := api.NewHTTP(api.Options{
		WebhookSecret:   a.cfg.Webhook.Secret,
		SignatureHeader: a.cfg.Webhook.SignatureHeader,
		AccountID:       a.cfg.TLink.AccountNumber,
		DefaultPageSize: a.cfg.API.DefaultPageSize,
		MaxPageSize:     a.cfg.API.MaxPageSize,
		HistoryLimit:    a.cfg.API.HistoryLimit,
	}, store, syncer, journal)
	apiHTTP.RegisterRoutes(a.Router)

	// 6) Планировщик: периодический sync + ретенция журнала
	a.sched = scheduler.New()
	if a.cfg.TLink.SyncEnabled {
		interval := time.Duration(a.cfg.TLink.SyncIntervalSeconds) * time.Second
		if interval < 5*time.Second {
			interval = 5 * time.Second
		}
		a.sched.Add("tlink_device_sync", interval, func(ctx context.Context) {
			sum := syncer.SyncConfiguredAccounts(ctx)
			logs.Logger.WithFields(map[string]any{
				"users":    sum.Users,
				"devices":  sum.Devices,
				"readings": sum.Readings,
			}).Debug("sync pass done")
		})
	} else {
		logs.Logger.Info("tlink sync task disabled via config")
	}
	retention := a.cfg.SyncLog.RetentionDays
	a.sched.Add("sync_log_retention", 12*time.Hour, func(context.Context) {
		if removed := journal.Prune(retention); removed > 0 {
			logs.Logger.Infof("sync log retention removed %d file(s)", removed)
		}
	})

	a.Router.Walk(func(rt *mux.Route, r *mux.Router, ancestors []*mux.Route) error {
		path, _ := rt.GetPathTemplate()
		methods, _ := rt.GetMethods()
		log.Printf("route: %-6v %s", methods, path)
		return nil
	})
}

func (a *App) Run() error {
	if a.Router == nil || a.cfg == nil {
		return ErrNotInitialized
	}
	bind := net.JoinHostPort(a.cfg.Server.Address, a.cfg.Server.HTTPPort)

	a.ctx, a.cancel = context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() { <-sigs; a.cancel() }()

	a.sched.Start(a.ctx)

	a.httpServer = &http.Server{
		Addr:         bind,
		Handler:      a.Router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("HTTP listening on %s", bind)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-a.ctx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.httpServer.Shutdown(ctx)
	a.sched.Wait()
	return nil
}

var ErrNotInitialized = &initError{"server not initialized (call Initialize(cfg) first)"}

type initError struct{ s string }

func (e *initError) Error() string { return e.s }
