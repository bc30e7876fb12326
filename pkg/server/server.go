// Package server exposes the task engine over HTTP: a health endpoint
// and a websocket endpoint carrying the JSON event protocol. Every
// websocket connection gets its own session; events never cross
// connections.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/entrhq/taskpilot/pkg/browser"
	"github.com/entrhq/taskpilot/pkg/logging"
	"github.com/entrhq/taskpilot/pkg/planner"
	"github.com/entrhq/taskpilot/pkg/session"
	"github.com/entrhq/taskpilot/pkg/types"
)

// Config holds the HTTP surface settings.
type Config struct {
	// Addr is the listen address, e.g. "localhost:8000".
	Addr string

	// AllowedOrigins restricts CORS and websocket origins; empty
	// allows all.
	AllowedOrigins []string
}

// Server ties the websocket transport to per-connection sessions.
type Server struct {
	engine   *gin.Engine
	httpSrv  *http.Server
	upgrader websocket.Upgrader

	planner     *planner.Planner
	browsers    *browser.Manager
	sessionOpts session.Options
	logger      *logging.Logger

	mu      sync.Mutex
	clients map[string]*client

	startTime time.Time
}

// New builds the server; Start makes it listen.
func New(cfg Config, pl *planner.Planner, browsers *browser.Manager, opts session.Options) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type"}
	corsConfig.AllowWebSockets = true
	engine.Use(cors.New(corsConfig))

	logger, _ := logging.NewLogger("server")

	s := &Server{
		engine:   engine,
		planner:  pl,
		browsers: browsers,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
		sessionOpts: opts,
		logger:      logger,
		clients:     make(map[string]*client),
		startTime:   time.Now(),
	}
	s.httpSrv = &http.Server{
		Addr:        cfg.Addr,
		Handler:     engine,
		ReadTimeout: 30 * time.Second,
	}

	engine.GET("/health", s.handleHealth)
	engine.GET("/ws", s.handleWebSocket)
	return s
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// Start listens until the context is canceled, then drains
// connections and shuts down.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("listening on %s", s.httpSrv.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		c.shutdown()
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	s.mu.Lock()
	connections := len(s.clients)
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"connections": connections,
		"browsers":    s.browsers.ActiveSessions(),
		"uptime":      time.Since(s.startTime).Round(time.Second).String(),
	})
}

// Handler exposes the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ActiveConnections reports the number of live websocket clients.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) handleWebSocket(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Errorf("websocket upgrade failed: %v", err)
		return
	}

	id := uuid.New().String()
	cl := newClient(id, ws)
	sess := session.New(id, cl.emit, s.planner, s.browsers, s.sessionOpts)

	s.mu.Lock()
	s.clients[id] = cl
	s.mu.Unlock()
	s.logger.Infof("client %s connected from %s", id, c.ClientIP())

	cl.emit(types.NewLogEvent("info", fmt.Sprintf("connected: session %s", id)))
	s.readLoop(cl, sess)

	cl.shutdown()
	sess.Close()
	cl.drainAndClose()

	s.mu.Lock()
	delete(s.clients, id)
	s.mu.Unlock()
	s.logger.Infof("client %s disconnected", id)
}

// readLoop dispatches inbound commands until the peer goes away. Only
// transport errors end the loop; a message that fails to decode is
// discarded and the session carries on.
func (s *Server) readLoop(cl *client, sess *session.Session) {
	for {
		_, raw, err := cl.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warnf("client %s read error: %v", cl.id, err)
			}
			return
		}

		var cmd types.Command
		if err := json.Unmarshal(raw, &cmd); err != nil {
			s.logger.Warnf("client %s sent malformed message: %v", cl.id, err)
			cl.emit(types.NewLogEvent("warning", "discarded malformed message"))
			continue
		}

		switch cmd.Type {
		case types.CommandStartTask:
			if cmd.Goal == "" {
				cl.emit(types.NewLogEvent("error", "goal must not be empty"))
				continue
			}
			if err := sess.StartTask(cmd.Goal); err != nil {
				s.logger.Warnf("client %s start rejected: %v", cl.id, err)
			}
		case types.CommandCredentialsProvided:
			sess.ProvideCredentials(cmd.Data)
		default:
			// Unknown commands are discarded without tearing down the
			// connection.
			cl.emit(types.NewLogEvent("warning", fmt.Sprintf("unknown command type: %s", cmd.Type)))
		}
	}
}
