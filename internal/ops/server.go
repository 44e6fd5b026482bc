// Package ops: служебные эндпоинты: http health/ready и grpc health.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/goinginblind/support-ticket-bot/internal/model"
	"github.com/goinginblind/support-ticket-bot/internal/repo"
)

// Check: одна зависимость для /ready.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

type UserLookup interface {
	GetByTelegramID(ctx context.Context, telegramID int64) (*model.User, error)
}

type Server struct {
	checks []Check
	users  UserLookup
	log    *zap.SugaredLogger
}

func NewServer(users UserLookup, log *zap.SugaredLogger, checks ...Check) *Server {
	return &Server{checks: checks, users: users, log: log}
}

func (s *Server) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready пингует все зависимости, 503 если хоть одна недоступна.
func (s *Server) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	result := map[string]string{}
	for _, c := range s.checks {
		if err := c.Ping(ctx); err != nil {
			s.log.Warnw("readiness check failed", "check", c.Name, "error", err)
			result[c.Name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		result[c.Name] = "ok"
	}
	writeJSON(w, status, result)
}

func (s *Server) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["telegram_id"], 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	user, err := s.users.GetByTelegramID(r.Context(), id)
	if errors.Is(err, repo.ErrNotFound) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		s.log.Errorw("ops: get user", "telegram_id", id, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.Health).Methods("GET")
	r.HandleFunc("/ready", s.Ready).Methods("GET")
	r.HandleFunc("/users/{telegram_id:[0-9]+}", s.GetUser).Methods("GET")
	return r
}

// ListenAndServe крутит http до отмены ctx.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router(), ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Infow("ops http listening", "addr", addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
