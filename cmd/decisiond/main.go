package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/erpai-decision-prototype/internal/agent"
	"github.com/xela07ax/erpai-decision-prototype/internal/approval"
	"github.com/xela07ax/erpai-decision-prototype/internal/audit"
	"github.com/xela07ax/erpai-decision-prototype/internal/infra"
	"github.com/xela07ax/erpai-decision-prototype/internal/infra/auth"
	"github.com/xela07ax/erpai-decision-prototype/internal/llm"
	"github.com/xela07ax/erpai-decision-prototype/internal/metrics"
	"github.com/xela07ax/erpai-decision-prototype/internal/orchestrator"
	"github.com/xela07ax/erpai-decision-prototype/internal/policy"
	"github.com/xela07ax/erpai-decision-prototype/internal/quota"
	"github.com/xela07ax/erpai-decision-prototype/internal/repository/postgres"
	"github.com/xela07ax/erpai-decision-prototype/internal/server"
	"github.com/xela07ax/erpai-decision-prototype/internal/server/handler"
	"github.com/xela07ax/erpai-decision-prototype/internal/server/service"
	"github.com/xela07ax/erpai-decision-prototype/internal/trace"
	"go.uber.org/zap"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := infra.BuildLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	// Контекст жизненного цикла фоновых горутин: cancel() останавливает слушателей
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Инфраструктура и ресурсы
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	repo, err := postgres.New(appCtx, cfg.Database)
	if err != nil {
		logger.Fatal("failed to init postgres pool", zap.Error(err))
	}
	defer repo.Close()

	// Проверяем соединение с таймаутом
	pingCtx, pingCancel := context.WithTimeout(appCtx, 5*time.Second)
	if err := repo.Ping(pingCtx); err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	pingCancel()

	// 3. Журнал решений: данные летят в базу пачками
	journal := audit.NewJournal(repo,
		cfg.Engine.JournalBufferSize,
		cfg.Engine.JournalBatchSize,
		cfg.Engine.JournalFlushInterval,
		logger)
	journal.Start()
	defer journal.Stop()

	// 4. Метрики
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		logger.Info("metrics endpoint started", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics endpoint failed", zap.Error(err))
		}
	}()

	// 5. Ядро оркестрации
	breaker := quota.NewBreaker(cfg.Quota.DefaultBackoff, rdb, logger)
	go breaker.Listen(appCtx, rdb) // Квотные сигналы соседних инстансов

	tracker := trace.NewTracker(cfg.Trace.Retention, repo, logger)

	backend := llm.NewReliabilityWrapper(llm.NewAnthropicBackend(cfg.Anthropic), cfg.Engine)
	registry := agent.BuildRegistry(backend, tracker, breaker, cfg.Anthropic.DefaultModel, logger)

	notifier := approval.NewRedisNotifier(rdb, logger)
	gate := approval.NewGate(repo, notifier, cfg.Approval.TTL, logger)

	escalation := policy.NewEscalationPolicy(cfg.Escalation, logger)

	orch := orchestrator.New(registry, gate, escalation, journal, m, logger)

	// Гейджи saturation обновляются фоном, а не в Hot Path
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-appCtx.Done():
				return
			case <-ticker.C:
				if st := breaker.Status(); st != nil && st.IsQuotaExceeded {
					m.QuotaExhausted.Set(1)
				} else {
					m.QuotaExhausted.Set(0)
				}
				m.JournalBufferFill.Set(float64(journal.BufferLen()))
			}
		}
	}()

	// 6. Control surface
	publicKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("failed to parse public key", zap.Error(err))
	}
	privateKey, err := auth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
	if err != nil {
		logger.Fatal("failed to parse private key", zap.Error(err))
	}

	authService := service.NewAuthService(repo, privateKey, publicKey, cfg.Auth.TokenTTL)

	srv := server.New(
		logger,
		authService,
		handler.NewAuthHandler(authService),
		handler.NewConversationHandler(orch),
		handler.NewApprovalHandler(orch, gate),
		handler.NewTraceHandler(tracker),
		handler.NewAgentHandler(orch),
	)

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 7. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("decision engine started", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop // Ждем сигнал
	logger.Info("decision engine stopping...")

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	logger.Info("decision engine exited properly")
}
