package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xela07ax/erpai-decision-prototype/internal/infra/auth"
	"github.com/xela07ax/erpai-decision-prototype/internal/server/handler"
	"go.uber.org/zap"
)

// Server — control surface сервиса: старт диалогов, очередь заявок,
// трейсы и статистика. Сам гейт прав не проверяет, это делает периметр.
type Server struct {
	router *chi.Mux
	logger *zap.Logger

	// Интерфейс для проверки токенов (RS256)
	// Реализуется через embedding BaseValidator в AuthService
	authValidator auth.TokenValidator

	// Обработчики бизнес-доменов
	authHandler         *handler.AuthHandler         // /auth/token
	conversationHandler *handler.ConversationHandler // /v1/conversations
	approvalHandler     *handler.ApprovalHandler     // /v1/approvals (HITL)
	traceHandler        *handler.TraceHandler        // /v1/traces, /v1/stats
	agentHandler        *handler.AgentHandler        // /v1/agents
}

func New(
	logger *zap.Logger,
	authValidator auth.TokenValidator,
	authH *handler.AuthHandler,
	convH *handler.ConversationHandler,
	approvalH *handler.ApprovalHandler,
	traceH *handler.TraceHandler,
	agentH *handler.AgentHandler,
) *Server {
	s := &Server{
		router:              chi.NewRouter(),
		logger:              logger.Named("control-api"),
		authValidator:       authValidator,
		authHandler:         authH,
		conversationHandler: convH,
		approvalHandler:     approvalH,
		traceHandler:        traceH,
		agentHandler:        agentH,
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ ---
	r.Group(func(r chi.Router) {
		// Логин должен быть доступен без токена
		r.Post("/auth/token", s.authHandler.Login)

		// Healthcheck для мониторинга
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (Требуют RS256 токен) ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))

		// Оркестрация решений
		r.Route("/v1/conversations", func(r chi.Router) {
			r.Post("/", s.conversationHandler.Start)
			r.Get("/{id}", s.conversationHandler.Get)
		})

		// Human-in-the-loop (Approvals)
		r.Route("/v1/approvals", func(r chi.Router) {
			r.Get("/", s.approvalHandler.List) // Очередь заявок оператора
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.approvalHandler.GetDetails)
				r.Post("/decide", s.approvalHandler.Decide) // Approve/Reject, будит диалог
			})
		})

		// Наблюдаемость решений
		r.Get("/v1/traces/{id}", s.traceHandler.Get)
		r.Get("/v1/stats/performance", s.traceHandler.Stats)

		// Справочник ролей
		r.Get("/v1/agents", s.agentHandler.List)
	})
}

// ServeHTTP позволяет использовать Server как стандартный http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
