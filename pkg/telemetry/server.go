package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Server exposes a Hub to external consumers over HTTP and SSE. It defines
// the data boundary only; any dashboard rendering lives elsewhere.
type Server struct {
	hub    *Hub
	engine *gin.Engine
}

// NewServer creates the telemetry HTTP server around a hub.
func NewServer(hub *Hub) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Logger(), gin.Recovery())
	engine.Use(cors.Default())

	s := &Server{hub: hub, engine: engine}

	api := engine.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/telemetry/latest", s.handleLatest)
		api.GET("/telemetry/history", s.handleHistory)
		api.GET("/telemetry/image", s.handleImage)
		api.GET("/events", s.handleEvents)
	}
	return s
}

// Handler returns the HTTP handler, usable directly in tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Serve runs the server until ctx is cancelled, then shuts it down with a
// bounded grace period.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) handleStatus(c *gin.Context) {
	snap := s.hub.GetSnapshot()
	c.JSON(http.StatusOK, snap.Status)
}

func (s *Server) handleLatest(c *gin.Context) {
	rec, ok := s.hub.Latest()
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleHistory(c *gin.Context) {
	n := -1
	if raw := c.Query("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid n %q", raw)})
			return
		}
		n = parsed
	}
	c.JSON(http.StatusOK, s.hub.History(n))
}

func (s *Server) handleImage(c *gin.Context) {
	img := s.hub.Image()
	if len(img) == 0 {
		c.Status(http.StatusNotFound)
		return
	}
	c.Data(http.StatusOK, "image/jpeg", img)
}

// handleEvents streams step records as server-sent events. A consumer that
// reads slower than the loop produces simply misses records; nothing is
// queued on its behalf.
func (s *Server) handleEvents(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	id, ch := s.hub.Subscribe()
	defer s.hub.Unsubscribe(id)

	// Initial ping to establish the stream.
	c.Writer.Write([]byte(": ping\n\n"))
	c.Writer.Flush()

	for {
		select {
		case rec, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(rec)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", payload); err != nil {
				return
			}
			c.Writer.Flush()
		case <-c.Request.Context().Done():
			return
		}
	}
}
