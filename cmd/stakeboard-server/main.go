package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appcfg "github.com/fmoyana/stakeboard/internal/config"
	"github.com/fmoyana/stakeboard/internal/msgcat"
	"github.com/fmoyana/stakeboard/internal/obslog"
	"github.com/fmoyana/stakeboard/internal/session"
	"github.com/fmoyana/stakeboard/internal/settle"
	"github.com/fmoyana/stakeboard/internal/wallet"
	"github.com/fmoyana/stakeboard/internal/ws"
)

func main() {
	_ = godotenv.Load()

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer obslog.Sync()

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis url error: %v", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("redis ping error: %v", err)
	}

	var repo settle.Repository
	if cfg.DatabaseURL != "" {
		pg, err := settle.NewPostgresRepository(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres init error: %v", err)
		}
		defer pg.Close()
		if err := pg.EnsureSchema(context.Background()); err != nil {
			log.Fatalf("schema error: %v", err)
		}
		repo = pg
	} else {
		obslog.L().Warn("no_database_url", zap.String("mode", "in-memory ledger"))
		repo = settle.NewMemoryRepository()
	}

	settler := settle.NewEngine(repo, cfg.CommissionRate)
	mgr := session.NewManager(rdb, settler, repo, cfg.BetMin, cfg.BetMax)
	registry := session.NewRegistry()

	var gateway wallet.Gateway
	if cfg.GatewayBaseURL != "" {
		gateway = wallet.NewHTTPGateway(cfg.GatewayBaseURL, cfg.GatewayAPIKey)
	} else {
		obslog.L().Warn("no_gateway_url", zap.String("mode", "simulated gateway"))
		gateway = wallet.NewSimulatedGateway()
	}
	walletSvc := wallet.NewService(repo, gateway, wallet.Limits{
		DepositMin:  cfg.DepositMin,
		DepositMax:  cfg.DepositMax,
		WithdrawMin: cfg.WithdrawMin,
	})

	cat, err := msgcat.New(cfg.MsgOverrideDir)
	if err != nil {
		log.Fatalf("message catalog error: %v", err)
	}

	hub := ws.NewHub(mgr, registry, walletSvc, cat, cfg.AllowedOrigins)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := rdb.Ping(r.Context()).Err(); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // websocket writes manage their own deadlines
	}

	go func() {
		obslog.L().Info("server_listen", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	obslog.L().Info("server_shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	_ = rdb.Close()
}
