// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server exposes the persisted run audit history over HTTP.
package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianSilicon/services/silicon/history"
	"github.com/AleutianAI/AleutianSilicon/services/silicon/telemetry"
)

// ServiceVersion is the audit API version.
const ServiceVersion = "0.1.0"

// Handlers contains the HTTP handlers for the audit API.
type Handlers struct {
	store  *history.Store
	logger *slog.Logger
}

// NewHandlers creates handlers over the given audit store.
func NewHandlers(store *history.Store, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{store: store, logger: logger.With(slog.String("component", "audit_api"))}
}

// Router builds the gin engine with all routes registered.
func (h *Handlers) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", h.HandleHealth)
	if mh := telemetry.MetricsHandler(); mh != nil {
		r.GET("/metrics", gin.WrapH(mh))
	}

	v1 := r.Group("/api/v1")
	v1.GET("/runs", h.HandleListRuns)
	v1.GET("/runs/:id/attempts", h.HandleListAttempts)
	return r
}

// HealthResponse is the /healthz payload.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// HandleHealth handles GET /healthz.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: ServiceVersion,
	})
}

// HandleListRuns handles GET /api/v1/runs.
//
// Response:
//
//	200 OK: {"runs": [...run IDs...]}
func (h *Handlers) HandleListRuns(c *gin.Context) {
	runs, err := h.store.Runs(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list runs", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}
	if runs == nil {
		runs = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// HandleListAttempts handles GET /api/v1/runs/:id/attempts.
//
// Response:
//
//	200 OK: {"run_id": ..., "attempts": [...]}
//	404 Not Found: run has no persisted attempts
func (h *Handlers) HandleListAttempts(c *gin.Context) {
	runID := c.Param("id")
	records, err := h.store.List(c.Request.Context(), runID)
	if err != nil {
		if errors.Is(err, history.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		h.logger.Error("Failed to list attempts", "run_id", runID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list attempts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run_id": runID, "attempts": records})
}
