// Copyright 2025 Storyloom Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package main is the entry point for the animation backend server.
//
// The server exposes a REST API over Gin for projects, scenes, timeline
// editing with undo/redo, and video exports. It is instrumented with
// OpenTelemetry for logging, tracing and metrics, and shuts down gracefully
// on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/storyloom/storyloom/internal/core/history"
	"github.com/storyloom/storyloom/internal/core/model"
	"github.com/storyloom/storyloom/internal/core/services"
	"github.com/storyloom/storyloom/internal/telemetry"
)

func main() {
	telemetry.SetupLogging()
	slog.Info("Logging initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	config := GetConfig()

	shutdownTelemetry, err := telemetry.SetupOpenTelemetry(ctx, config)
	if err != nil {
		slog.Error("Failed to setup OpenTelemetry", "error", err)
		log.Fatal(err)
	}
	slog.Info("Tracing initialized")

	InitState(ctx)
	slog.Info("Initialized State")

	r := gin.Default()
	r.Use(otelgin.Middleware(config.Application.Name))
	r.Use(cors.Default())

	apiV1 := r.Group("/api/v1")
	{
		ProjectRouter(apiV1)
		SceneRouter(apiV1)
		ExportRouter(apiV1)
	}

	srv := &http.Server{
		Addr:         ":8080",
		Handler:      r,
		ReadTimeout:  20 * time.Second,
		WriteTimeout: 20 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("failed to listen", "error", err)
		}
	}()
	slog.Info("Server Ready on port 8080")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutdown Server ...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server Shutdown Failed", "error", err)
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Error("Telemetry Shutdown Failed", "error", err)
	}
	state.registry.Close()

	log.Println("Server exiting")
}

// writeError maps domain errors onto HTTP statuses: validation to 400,
// missing records to 404, a second live export to 409 with the live job's id,
// and everything else to 500.
func writeError(c *gin.Context, err error) {
	var validationErr *model.ValidationError
	var notFoundErr *model.NotFoundError
	var conflictErr *model.ConflictError
	var incompleteErr *model.IncompleteScenesError

	switch {
	case errors.As(err, &notFoundErr):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &conflictErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":            err.Error(),
			"active_export_id": conflictErr.ActiveExportID,
		})
	case errors.As(err, &incompleteErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":     err.Error(),
			"scene_ids": incompleteErr.SceneIDs,
		})
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, history.ErrNothingToUndo) || errors.Is(err, history.ErrNothingToRedo):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		slog.Error("request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// ProjectRouter registers project CRUD and the timeline editing endpoints.
// Timeline edits (reorder, duration, transition) are undoable; structural
// scene add/remove resets the project's history.
func ProjectRouter(r *gin.RouterGroup) {
	projects := r.Group("/projects")
	{
		projects.POST("", func(c *gin.Context) {
			var body struct {
				Name        string `json:"name"`
				Description string `json:"description"`
			}
			if err := c.ShouldBindJSON(&body); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			p, err := state.projectService.CreateProject(c, body.Name, body.Description)
			if err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusCreated, p)
		})

		projects.GET("", func(c *gin.Context) {
			out, err := state.projectService.ListProjects(c)
			if err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusOK, out)
		})

		projects.GET("/:id", func(c *gin.Context) {
			p, err := state.projectService.GetProject(c, c.Param("id"))
			if err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusOK, p)
		})

		projects.PUT("/:id", func(c *gin.Context) {
			var body struct {
				Name        string `json:"name"`
				Description string `json:"description"`
			}
			if err := c.ShouldBindJSON(&body); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			p, err := state.projectService.UpdateProject(c, c.Param("id"), body.Name, body.Description)
			if err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusOK, p)
		})

		projects.DELETE("/:id", func(c *gin.Context) {
			if err := state.projectService.DeleteProject(c, c.Param("id")); err != nil {
				writeError(c, err)
				return
			}
			c.Status(http.StatusNoContent)
		})

		TimelineRouter(projects)
		ProjectExportRouter(projects)
	}
}

// TimelineRouter registers the timeline endpoints under a project.
func TimelineRouter(projects *gin.RouterGroup) {
	timeline := projects.Group("/:id/timeline")
	{
		timeline.GET("", func(c *gin.Context) {
			t, err := state.projectService.GetTimeline(c, c.Param("id"))
			if err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusOK, t)
		})

		timeline.POST("/scenes", func(c *gin.Context) {
			var body struct {
				SceneID string `json:"scene_id"`
			}
			if err := c.ShouldBindJSON(&body); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			t, err := state.projectService.AddScene(c, c.Param("id"), body.SceneID)
			if err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusOK, t)
		})

		timeline.DELETE("/scenes/:scene_id", func(c *gin.Context) {
			t, err := state.projectService.RemoveScene(c, c.Param("id"), c.Param("scene_id"))
			if err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusOK, t)
		})

		timeline.PUT("/order", func(c *gin.Context) {
			var body struct {
				SceneIDs []string `json:"scene_ids"`
			}
			if err := c.ShouldBindJSON(&body); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			t, err := state.projectService.ReorderScenes(c, c.Param("id"), body.SceneIDs)
			if err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusOK, t)
		})

		timeline.PUT("/scenes/:scene_id/duration", func(c *gin.Context) {
			var body struct {
				Seconds float64 `json:"seconds"`
			}
			if err := c.ShouldBindJSON(&body); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			t, err := state.projectService.SetSceneDuration(c, c.Param("id"), c.Param("scene_id"), body.Seconds)
			if err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusOK, t)
		})

		timeline.PUT("/scenes/:scene_id/transition", func(c *gin.Context) {
			var body struct {
				Type     string  `json:"type"`
				Duration float64 `json:"duration"`
			}
			if err := c.ShouldBindJSON(&body); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			tr := model.Transition{Type: model.ParseTransitionType(body.Type), Duration: body.Duration}
			t, err := state.projectService.SetTransition(c, c.Param("id"), c.Param("scene_id"), tr)
			if err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusOK, t)
		})

		timeline.POST("/undo", func(c *gin.Context) {
			t, desc, err := state.projectService.Undo(c, c.Param("id"))
			if err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"timeline": t, "undone": desc})
		})

		timeline.POST("/redo", func(c *gin.Context) {
			t, desc, err := state.projectService.Redo(c, c.Param("id"))
			if err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"timeline": t, "redone": desc})
		})

		timeline.GET("/history", func(c *gin.Context) {
			h, err := state.projectService.History(c, c.Param("id"))
			if err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusOK, h)
		})
	}
}

// SceneRouter registers scene CRUD and generation endpoints.
func SceneRouter(r *gin.RouterGroup) {
	scenes := r.Group("/scenes")
	{
		scenes.POST("", func(c *gin.Context) {
			var req services.CreateSceneRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			s, err := state.sceneService.CreateScene(c, req)
			if err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusCreated, s)
		})

		scenes.GET("", func(c *gin.Context) {
			limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
			if err != nil {
				limit = 50
			}
			offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
			if err != nil {
				offset = 0
			}
			out, err := state.sceneService.ListScenes(c, limit, offset)
			if err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusOK, out)
		})

		scenes.GET("/:id", func(c *gin.Context) {
			s, err := state.sceneService.GetScene(c, c.Param("id"))
			if err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusOK, s)
		})

		scenes.DELETE("/:id", func(c *gin.Context) {
			if err := state.sceneService.DeleteScene(c, c.Param("id")); err != nil {
				writeError(c, err)
				return
			}
			c.Status(http.StatusNoContent)
		})

		scenes.POST("/:id/regenerate", func(c *gin.Context) {
			var body struct {
				EnhancePrompt bool `json:"enhance_prompt"`
			}
			// An empty body means regenerate with the stored prompt as-is.
			_ = c.ShouldBindJSON(&body)
			s, err := state.sceneService.RegenerateScene(c, c.Param("id"), body.EnhancePrompt)
			if err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusAccepted, s)
		})

		scenes.GET("/:id/video", func(c *gin.Context) {
			url, err := state.sceneService.SceneVideoURL(c, c.Param("id"))
			if err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"url": url})
		})
	}
}

// ProjectExportRouter registers export creation and listing under a project.
func ProjectExportRouter(projects *gin.RouterGroup) {
	exports := projects.Group("/:id/exports")
	{
		exports.POST("", func(c *gin.Context) {
			var req services.CreateExportRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			job, err := state.exportService.CreateExport(c, c.Param("id"), req)
			if err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusAccepted, job)
		})

		exports.GET("", func(c *gin.Context) {
			out, err := state.exportService.ListExports(c, c.Param("id"))
			if err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusOK, out)
		})
	}
}

// ExportRouter registers job status polling, download and cancellation.
func ExportRouter(r *gin.RouterGroup) {
	exports := r.Group("/exports")
	{
		exports.GET("/:id", func(c *gin.Context) {
			job, err := state.exportService.GetExportStatus(c, c.Param("id"))
			if err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusOK, job)
		})

		exports.GET("/:id/download", func(c *gin.Context) {
			job, url, err := state.exportService.DownloadURL(c, c.Param("id"))
			if err != nil {
				writeError(c, err)
				return
			}
			// The local store has no URL scheme; stream the artifact instead.
			if url == "" {
				job, rc, err := state.exportService.OpenArtifact(c, c.Param("id"))
				if err != nil {
					writeError(c, err)
					return
				}
				defer rc.Close()
				c.Header("Content-Disposition", "attachment; filename="+job.ID+"."+string(job.Format))
				c.Header("Content-Type", "video/"+string(job.Format))
				_, _ = io.Copy(c.Writer, rc)
				return
			}
			c.JSON(http.StatusOK, gin.H{"url": url, "format": job.Format})
		})

		exports.POST("/:id/cancel", func(c *gin.Context) {
			if err := state.exportService.CancelExport(c, c.Param("id")); err != nil {
				writeError(c, err)
				return
			}
			c.Status(http.StatusNoContent)
		})
	}
}
