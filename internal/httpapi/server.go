// Package httpapi is the read-only HTTP view of the queues: JSON status
// endpoints and a websocket that pushes every change.
package httpapi

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jose-valero/voice-queue-bot/internal/queue"
)

// Reader is the engine's read side.
type Reader interface {
	Status(ctx context.Context, queueID uint) (*queue.Status, error)
	Queues(ctx context.Context, guildID string) ([]*queue.Queue, error)
	Pending(queueID uint, memberID string) bool
}

type Server struct {
	reader Reader
	hub    *Hub
	router *gin.Engine
	srv    *http.Server
}

func NewServer(reader Reader) *Server {
	s := &Server{reader: reader, hub: NewHub(reader), router: gin.New()}
	s.router.Use(gin.Recovery())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	api := s.router.Group("/api")
	api.GET("/guilds/:guild/queues", s.listQueues)
	api.GET("/queues/:id", s.getQueue)
	api.GET("/queues/:id/ws", s.watchQueue)
}

// Handler exposes the routes, mostly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Hub receives engine changes for the websocket clients.
func (s *Server) Hub() *Hub { return s.hub }

// Run serves on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)
	s.srv = &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
	}()
	log.Printf("[http] listening on %s", addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) listQueues(c *gin.Context) {
	qs, err := s.reader.Queues(c.Request.Context(), c.Param("guild"))
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]queueView, 0, len(qs))
	for _, q := range qs {
		st, err := s.reader.Status(c.Request.Context(), q.ID)
		if err != nil {
			writeError(c, err)
			return
		}
		v := viewOf(*q)
		v.Size = len(st.Members)
		out = append(out, v)
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getQueue(c *gin.Context) {
	id, ok := queueIDParam(c)
	if !ok {
		return
	}
	st, err := s.reader.Status(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, statusView(st, s.reader.Pending))
}

func (s *Server) watchQueue(c *gin.Context) {
	id, ok := queueIDParam(c)
	if !ok {
		return
	}
	if _, err := s.reader.Status(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	s.hub.serve(c.Writer, c.Request, id)
}

func queueIDParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_QUEUE_ID", Message: "queue id must be a positive integer"})
		return 0, false
	}
	return uint(id), true
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, queue.ErrQueueNotFound):
		c.JSON(http.StatusNotFound, errorResponse{Code: "QUEUE_NOT_FOUND", Message: queue.UserMessage(err)})
	case errors.Is(err, queue.ErrStoreUnavailable):
		c.JSON(http.StatusServiceUnavailable, errorResponse{Code: "STORE_UNAVAILABLE", Message: queue.UserMessage(err)})
	default:
		log.Printf("[http] %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "INTERNAL", Message: queue.UserMessage(err)})
	}
}
