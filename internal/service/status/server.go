package status

import (
	"EliteCompanion/internal/app/monitor"
	"EliteCompanion/internal/config"
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Controller — то, чем управляет HTTP-поверхность (монитор).
type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	TestAudio(ctx context.Context) error
	Status() monitor.Status
}

// Server отдаёт статус монитора по HTTP и websocket и принимает команды start/stop/test-audio.
type Server struct {
	cfg       config.StatusServerConfig
	ctrl      Controller
	srv       *http.Server
	logger    *zap.SugaredLogger
	running   atomic.Bool
	upgrader  websocket.Upgrader
	pushEvery time.Duration

	mu    sync.Mutex
	base  context.Context // контекст, в котором живёт запущенный через HTTP монитор
	quit  chan struct{}
	conns map[*websocket.Conn]struct{}
}

func New(cfg config.StatusServerConfig, ctrl Controller, logger *zap.SugaredLogger) *Server {
	if cfg.BindAddr == "" {
		cfg.BindAddr = "127.0.0.1:3000"
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Server{
		cfg:       cfg,
		ctrl:      ctrl,
		logger:    logger,
		pushEvery: time.Second,
		base:      context.Background(),
		quit:      make(chan struct{}),
		conns:     make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     localOrigin,
		},
	}
	s.srv = &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler — маршруты сервера; пригоден для httptest.
func (s *Server) Handler() http.Handler {
	prefix := strings.TrimRight(s.cfg.Path, "/")
	mux := http.NewServeMux()
	mux.HandleFunc(prefix+"/status", s.auth(only(http.MethodGet, s.handleStatus)))
	mux.HandleFunc(prefix+"/start", s.auth(only(http.MethodPost, sameOrigin(s.handleStart))))
	mux.HandleFunc(prefix+"/stop", s.auth(only(http.MethodPost, sameOrigin(s.handleStop))))
	mux.HandleFunc(prefix+"/test-audio", s.auth(only(http.MethodPost, sameOrigin(s.handleTestAudio))))
	mux.HandleFunc(prefix+"/ws", s.auth(only(http.MethodGet, s.handleWS)))
	return mux
}

func (s *Server) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return nil
	}
	s.mu.Lock()
	s.base = ctx
	s.mu.Unlock()

	go func() {
		s.logger.Infow("Status server listening", "addr", s.srv.Addr, "path", s.cfg.Path)
		if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) && err != nil {
			s.logger.Errorw("Status server stopped with error", "error", err)
		} else {
			s.logger.Infow("Status server stopped")
		}
	}()

	go func() {
		<-ctx.Done()
		_ = s.Stop(context.WithoutCancel(ctx))
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	s.mu.Lock()
	close(s.quit)
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeoutCause(ctx, 5*time.Second, errors.New("status server shutdown timeout"))
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warnw("graceful shutdown error", "error", err)
		return s.srv.Close()
	}
	return nil
}

func (s *Server) Addr() string { return s.cfg.BindAddr }

func only(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			http.Error(w, "method not allowed; use "+method, http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

// sameOrigin отклоняет команды со страниц чужих сайтов: браузер шлёт простой POST без preflight.
func sameOrigin(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !localOrigin(r) {
			http.Error(w, "forbidden origin", http.StatusForbidden)
			return
		}
		h(w, r)
	}
}

// localOrigin: Origin отсутствует (не браузер), совпадает с Host или указывает на loopback.
func localOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	host := u.Hostname()
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// auth проверяет токен из "Authorization: Bearer" или ?token= (браузерный websocket не умеет заголовки).
func (s *Server) auth(h http.HandlerFunc) http.HandlerFunc {
	if s.cfg.AuthToken == "" {
		return h
	}
	want := []byte(s.cfg.AuthToken)
	return func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
			got = bearer
		}
		if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	base := s.base
	s.mu.Unlock()
	if err := s.ctrl.Start(base); err != nil {
		s.logger.Warnw("Start via status server failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.logger.Infow("Monitor started via status server", "remote", r.RemoteAddr)
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Stop(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.logger.Infow("Monitor stopped via status server", "remote", r.RemoteAddr)
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleTestAudio(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.TestAudio(r.Context()); err != nil {
		s.logger.Warnw("Audio test failed", "error", err)
		writeError(w, http.StatusBadGateway, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleWS шлёт снимок статуса сразу и затем периодически, пока клиент на связи.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("Failed to upgrade connection", "error", err)
		return
	}
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	quit := s.quit
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	// Входящие сообщения не нужны, читаем только чтобы заметить закрытие
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	t := time.NewTicker(s.pushEvery)
	defer t.Stop()
	for {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(s.ctrl.Status()); err != nil {
			s.logger.Debugw("Status websocket closed", "remote", r.RemoteAddr, "error", err)
			return
		}
		select {
		case <-gone:
			return
		case <-quit:
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server stopping"), time.Now().Add(time.Second))
			return
		case <-t.C:
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = sonic.ConfigDefault.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
