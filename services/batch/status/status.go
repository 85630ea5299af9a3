// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package status serves the progress of a running batch over HTTP.
package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/jinterlante1206/proverbatch/services/batch/experiment"
	"github.com/jinterlante1206/proverbatch/services/batch/telemetry"
)

const shutdownTimeout = 5 * time.Second

// Source supplies the experiment state. *experiment.State implements it.
type Source interface {
	Snapshot() experiment.Snapshot
}

// Response is the body of GET /status.
type Response struct {
	RunID           string  `json:"run_id"`
	Name            string  `json:"name"`
	Total           int     `json:"total"`
	Attempted       int     `json:"attempted"`
	Solved          int     `json:"solved"`
	SolvedPercent   string  `json:"solved_percent"`
	GroupsAttempted int     `json:"groups_attempted"`
	GroupsSolved    int     `json:"groups_solved"`
	AverageMetric   float64 `json:"average_metric"`
	Finished        bool    `json:"finished"`
}

// Server exposes /status, /healthz and /metrics.
//
// # Example
//
//	srv := status.NewServer(":8080", state, logger)
//	go srv.Serve(ctx)
type Server struct {
	addr   string
	src    Source
	router *gin.Engine
	logger *slog.Logger
}

// NewServer builds the router. Nothing listens until Serve is called.
func NewServer(addr string, src Source, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("proverbatch-status"))

	s := &Server{addr: addr, src: src, router: router, logger: logger}
	router.GET("/healthz", s.handleHealth)
	router.GET("/status", s.handleStatus)
	router.GET("/metrics", gin.WrapH(metricsHandler()))
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on the configured address until ctx is done, then shuts
// down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("status listen %s: %w", s.addr, err)
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("status server listening", slog.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("status server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("status server shutdown: %w", err)
	}
	<-errCh
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, NewResponse(s.src.Snapshot()))
}

// NewResponse summarizes snap.
func NewResponse(snap experiment.Snapshot) Response {
	attempted, solved := snap.Counts()
	groups := experiment.Groups(snap.Success)
	return Response{
		RunID:           snap.RunID,
		Name:            snap.Name,
		Total:           len(snap.Problems),
		Attempted:       attempted,
		Solved:          solved,
		SolvedPercent:   experiment.Percent(solved, attempted),
		GroupsAttempted: groups.Attempted,
		GroupsSolved:    groups.Solved,
		AverageMetric:   snap.AverageMetric(),
		Finished:        snap.Finished,
	}
}

// metricsHandler prefers the OTel Prometheus exporter's handler. Both
// serve the default registry.
func metricsHandler() http.Handler {
	if h := telemetry.MetricsHandler(); h != nil {
		return h
	}
	return promhttp.Handler()
}
