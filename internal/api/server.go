package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/BTreeMap/OrderPipe/internal/models"
	"github.com/BTreeMap/OrderPipe/internal/store"
)

const (
	// DefaultAddr is the health server address when neither PORT nor API_ADDR is set.
	DefaultAddr = ":8080"
	// greeting is the plain-text liveness answer on GET /.
	greeting = "Hello world!"
	// readyTimeout bounds the catalog ping of /readyz.
	readyTimeout = time.Second
)

// Server is the HTTP health surface of the bot process.
type Server struct {
	httpServer *http.Server
	catalog    store.Catalog
}

// NewServer builds the gin router for catalog and listens on addr once started.
func NewServer(addr string, catalog store.Catalog) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	s := &Server{catalog: catalog}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

func (s *Server) router() *gin.Engine {
	router := gin.New()
	router.Use(gin.LoggerWithWriter(os.Stdout), gin.Recovery())

	router.GET("/", s.rootHandler)
	router.GET("/healthz", s.healthHandler)
	router.GET("/readyz", s.readyHandler)
	router.GET("/stock", s.stockHandler)
	return router
}

// ListenAndServe blocks until the server stops. A graceful Shutdown is not an error.
func (s *Server) ListenAndServe() error {
	slog.Info("Server.ListenAndServe: starting HTTP server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server.ListenAndServe: server failed", "error", err)
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Debug("Server.Shutdown: stopping HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) rootHandler(c *gin.Context) {
	c.String(http.StatusOK, greeting)
}

func (s *Server) healthHandler(c *gin.Context) {
	writeJSONResponse(c, http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) readyHandler(c *gin.Context) {
	if s.catalog == nil {
		writeJSONResponse(c, http.StatusServiceUnavailable, errorResponse{Status: "unavailable", Error: "catalog not configured"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
	defer cancel()
	if err := s.catalog.Ping(ctx); err != nil {
		slog.Warn("Server.readyHandler: catalog not reachable", "error", err)
		writeJSONResponse(c, http.StatusServiceUnavailable, errorResponse{Status: "unavailable", Error: "catalog not reachable"})
		return
	}
	writeJSONResponse(c, http.StatusOK, gin.H{"status": "ready"})
}

// stockHandler lists every product with its stock so monitoring can watch for
// sold-out items without the operator bot.
func (s *Server) stockHandler(c *gin.Context) {
	if s.catalog == nil {
		writeJSONResponse(c, http.StatusServiceUnavailable, errorResponse{Status: "unavailable", Error: "catalog not configured"})
		return
	}
	entries, err := s.catalog.ListStock(c.Request.Context())
	if err != nil {
		slog.Error("Server.stockHandler: failed to list stock", "error", err)
		writeJSONResponse(c, http.StatusInternalServerError, errorResponse{Status: "error", Error: "failed to list stock"})
		return
	}
	if entries == nil {
		entries = []models.StockEntry{}
	}
	slog.Debug("Server.stockHandler: listed stock", "count", len(entries))
	writeJSONResponse(c, http.StatusOK, entries)
}
