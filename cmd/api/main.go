package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callguard/internal/amd"
	"callguard/internal/auth"
	"callguard/internal/calls"
	"callguard/internal/config"
	"callguard/internal/httpapi"
	"callguard/internal/reporting"
	"callguard/internal/telephony"
	"callguard/pkg/logger"
	"callguard/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	store := calls.NewSQLStore(db)
	gateway := telephony.NewRestClient(cfg.Telephony.AccountSID, cfg.Telephony.AuthToken)
	slots := amd.NewRedisCallSlots(rdb, cfg.App.MaxActiveCallsPerUser)
	authenticator := auth.NewSessionAuthenticator(cfg.Session.AuthServiceURL, cfg.Session.JWTSecret)

	h := httpapi.Handlers{
		Store:            store,
		Gateway:          gateway,
		Selector:         amd.NewSelector(cfg.MLRestBase(), cfg.ML.APIKey),
		Coordinator:      amd.NewCoordinator(store, gateway, cfg.App.BaseURL, slots),
		Slots:            slots,
		Reports:          reporting.NewService(store),
		FromNumber:       cfg.Telephony.PhoneNumber,
		AppBaseURL:       cfg.App.BaseURL,
		MLStreamBase:     cfg.MLStreamBase(),
		MLAPIKey:         cfg.ML.APIKey,
		GreetingURL:      cfg.App.GreetingAudioURL,
		WebhookAuthToken: cfg.Telephony.AuthToken,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, h, db, rdb, auth.RequireSession(authenticator), auth.RequireServiceBearer(cfg.ML.APIKey))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
