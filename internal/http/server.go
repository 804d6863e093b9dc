package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"lifesync/internal/core"
	"lifesync/internal/identity"
	"lifesync/internal/log"
	"lifesync/internal/middleware/ratelimit"
	"lifesync/internal/middleware/security"
	"lifesync/internal/middleware/trace"
	"lifesync/internal/services"
)

// Server exposes the application services as a JSON API.
type Server struct {
	http.Server

	app     *services.Container
	logger  *log.Logger
	limiter *ratelimit.Limiter
	tracer  *trace.Middleware
	now     func() time.Time

	shutdownOnce sync.Once
}

// Options tunes the server. Zero values select the defaults.
type Options struct {
	WritesPerMinute int
	Now             func() time.Time
}

func NewServer(addr string, app *services.Container, opts Options, logger *log.Logger) *Server {
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	mux := http.NewServeMux()
	s := &Server{
		app:     app,
		logger:  logger.WithComponent(log.ComponentHTTP),
		limiter: ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.WritesPerMinute}),
		tracer:  trace.NewMiddleware(logger, security.ClientIP),
		now:     now,
	}

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("GET /api/auth", s.handleAuthState)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/auth/logout", s.handleLogout)

	mux.HandleFunc("GET /api/categories", handleCategories)
	mux.HandleFunc("GET /api/workout-types", handleWorkoutTypes)

	mux.HandleFunc("GET /api/expenses", s.handleListExpenses)
	mux.HandleFunc("POST /api/expenses", s.handleCreateExpense)
	mux.HandleFunc("GET /api/expenses/summary", s.handleExpenseSummary)
	mux.HandleFunc("GET /api/expenses/{id}", s.handleGetExpense)
	mux.HandleFunc("PUT /api/expenses/{id}", s.handleUpdateExpense)
	mux.HandleFunc("DELETE /api/expenses/{id}", s.handleDeleteExpense)

	mux.HandleFunc("GET /api/health/logs", s.handleListHealthLogs)
	mux.HandleFunc("POST /api/health/logs", s.handleCreateHealthLog)
	mux.HandleFunc("PUT /api/health/logs/{id}", s.handleUpdateHealthLog)
	mux.HandleFunc("DELETE /api/health/logs/{id}", s.handleDeleteHealthLog)
	mux.HandleFunc("GET /api/health/summary", s.handleHealthSummary)

	mux.HandleFunc("GET /api/workouts", s.handleListWorkouts)
	mux.HandleFunc("POST /api/workouts", s.handleCreateWorkout)
	mux.HandleFunc("DELETE /api/workouts/{id}", s.handleDeleteWorkout)

	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("PUT /api/settings/budget", s.handleSetBudget)
	mux.HandleFunc("PUT /api/settings/salary", s.handleSetSalary)
	mux.HandleFunc("PUT /api/settings/goals", s.handleSetGoals)

	mux.HandleFunc("GET /api/dashboard", s.handleDashboard)

	mux.HandleFunc("GET /api/export", s.handleDownloadExport)
	mux.HandleFunc("POST /api/export", s.handleExport)

	mux.HandleFunc("GET /api/preferences", s.handleGetPreferences)
	mux.HandleFunc("PUT /api/preferences/{key}", s.handleSetPreference)
	mux.HandleFunc("DELETE /api/preferences", s.handleClearPreferences)

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	limited := s.limiter.WritesOnly(security.ClientIP, func(w http.ResponseWriter, r *http.Request) {
		ErrorResponse(http.StatusTooManyRequests, "rate_limited", "rate limit exceeded, retry later").Write(w)
	})

	s.Server = http.Server{
		Addr:              addr,
		Handler:           s.tracer.Middleware(headers.Middleware(limited(mux))),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Shutdown stops accepting requests and releases the rate limiter.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// today is the local calendar day used as the default date of new records.
func (s *Server) today() core.Date {
	return core.DateOf(s.now())
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReady reports whether the session has settled on a principal or on
// anonymous use.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.app.Session.State() == identity.StateInitializing {
		ErrorResponse(http.StatusServiceUnavailable, CodeUnavailable, "session initializing").Write(w)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
