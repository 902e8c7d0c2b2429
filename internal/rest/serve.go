// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package rest serves background estimates over HTTP, so that invocation
// payloads can be posted to a long-running process instead of a Lambda function.
package rest

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nmiles2718/computesky/internal/invoke"
	"github.com/nmiles2718/computesky/internal/sky"
)

// Runs one estimate
type Processor interface {
	Process(ctx context.Context, payload invoke.Payload) (*sky.Result, error)
}

// Serves estimate requests. Queued requests run in the background, at most Workers at a time
type Server struct {
	proc    Processor
	logger  *slog.Logger
	limiter chan bool
	wg      sync.WaitGroup
}

// NewServer creates a server running at most workers queued estimates concurrently
func NewServer(proc Processor, workers int, logger *slog.Logger) *Server {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{proc: proc, logger: logger, limiter: make(chan bool, workers)}
}

// Router returns the HTTP handler of the server
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestID())
	api := r.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET("/ping", getPing)
			v1.POST("/sky", s.postSky)
			v1.POST("/sky/events", s.postSkyEvent)
		}
	}
	return r
}

// Serve listens on addr until ctx is cancelled, then drains queued estimates
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router(), ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.logger.Info("serving", "addr", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	return err
}

// Wait blocks until all queued estimates have completed
func (s *Server) Wait() {
	s.wg.Wait()
}

const requestIDKey = "request_id"

// Tags each request with the caller's request ID, or a fresh one
func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(invoke.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(invoke.RequestIDHeader, id)
		c.Next()
		s.logger.Debug("request", requestIDKey, id, "method", c.Request.Method,
			"path", c.Request.URL.Path, "status", c.Writer.Status())
	}
}

func getPing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "pong",
	})
}

func bindPayload(c *gin.Context) (invoke.Payload, bool) {
	var payload invoke.Payload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return payload, false
	}
	if err := payload.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return payload, false
	}
	return payload, true
}

// Runs the estimate and responds with its result
func (s *Server) postSky(c *gin.Context) {
	payload, ok := bindPayload(c)
	if !ok {
		return
	}
	res, err := s.proc.Process(c.Request.Context(), payload)
	if err != nil {
		s.logger.Error("estimate failed", requestIDKey, c.GetString(requestIDKey), "key", payload.FitsKey, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sky.NewResponse(res))
}

// Queues the estimate and responds immediately, like an asynchronous Lambda invocation
func (s *Server) postSkyEvent(c *gin.Context) {
	payload, ok := bindPayload(c)
	if !ok {
		return
	}
	id := c.GetString(requestIDKey)
	ctx := context.WithoutCancel(c.Request.Context())
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.limiter <- true
		defer func() { <-s.limiter }()
		if _, err := s.proc.Process(ctx, payload); err != nil {
			s.logger.Error("queued estimate failed", requestIDKey, id, "key", payload.FitsKey, "err", err)
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{requestIDKey: id})
}
