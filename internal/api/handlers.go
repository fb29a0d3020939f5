// Package api serves a read-only view of the vault over HTTP. It never
// changes task state; approvals stay a human action on the folders.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"taskvault/internal/activity"
	"taskvault/internal/orchestrator"
	"taskvault/internal/task"
)

// SnapshotSource reports task counts per state.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (orchestrator.Snapshot, error)
}

// ActivityReader reads a day of the activity log.
type ActivityReader interface {
	Read(day time.Time) ([]activity.Entry, error)
}

type taskSummary struct {
	Name       string     `json:"name"`
	State      task.State `json:"state"`
	Size       int64      `json:"size"`
	ModifiedAt string     `json:"modified_at"`
}

type taskDetail struct {
	taskSummary
	Meta      task.Metadata `json:"meta"`
	Body      string        `json:"body"`
	Checklist []string      `json:"checklist"`
}

type healthResponse struct {
	Status string             `json:"status"`
	Counts map[task.State]int `json:"counts"`
	Total  int                `json:"total"`
}

type API struct {
	store    task.Store
	snapshot SnapshotSource
	activity ActivityReader
}

func NewAPI(store task.Store, snapshot SnapshotSource, activityLog ActivityReader) *API {
	return &API{store: store, snapshot: snapshot, activity: activityLog}
}

// RegisterRoutes registers the read-only routes on the provided gin engine
func (a *API) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.GET("/health", a.Health)
		api.GET("/tasks", a.ListTasks)
		api.GET("/tasks/:state/:name", a.GetTask)
		api.GET("/activity", a.Activity)
	}
}

// Health reports liveness together with the per-state counts
func (a *API) Health(c *gin.Context) {
	snap, err := a.snapshot.Snapshot(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("snapshot for health check failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, healthResponse{Status: "ok", Counts: snap.Counts, Total: snap.Total})
}

// ListTasks returns tasks of one state, or of every state, oldest first
func (a *API) ListTasks(c *gin.Context) {
	states := task.States
	if raw := c.Query("state"); raw != "" {
		state, err := task.ParseState(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		states = []task.State{state}
	}

	out := make([]taskSummary, 0)
	for _, state := range states {
		refs, err := a.store.List(c.Request.Context(), state)
		if err != nil {
			log.Error().Str("state", string(state)).Err(err).Msg("list tasks failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "list tasks failed"})
			return
		}
		for _, ref := range refs {
			out = append(out, toSummary(ref))
		}
	}
	c.JSON(http.StatusOK, gin.H{"tasks": out})
}

// GetTask returns one parsed task document
func (a *API) GetTask(c *gin.Context) {
	state, err := task.ParseState(c.Param("state"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	name := c.Param("name")
	ref, err := a.store.Get(c.Request.Context(), state, name)
	if err == nil {
		var loaded *task.Task
		if loaded, err = a.store.Load(c.Request.Context(), ref); err == nil {
			c.JSON(http.StatusOK, taskDetail{
				taskSummary: toSummary(loaded.Ref),
				Meta:        loaded.Meta,
				Body:        loaded.Body,
				Checklist:   loaded.Checklist(),
			})
			return
		}
	}
	if errors.Is(err, task.ErrTaskNotFound) {
		log.Warn().Str("task", name).Str("state", string(state)).Msg("task not found on get")
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	log.Error().Str("task", name).Err(err).Msg("load task failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "load task failed"})
}

// Activity returns the activity log of one day, today by default
func (a *API) Activity(c *gin.Context) {
	day := time.Now()
	if raw := c.Query("day"); raw != "" {
		parsed, err := time.ParseInLocation(activity.DayLayout, raw, time.Local)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "day must be YYYY-MM-DD"})
			return
		}
		day = parsed
	}
	entries, err := a.activity.Read(day)
	if err != nil {
		log.Error().Err(err).Msg("read activity failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read activity failed"})
		return
	}
	if entries == nil {
		entries = []activity.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"day": day.Format(activity.DayLayout), "entries": entries})
}

func toSummary(ref task.Ref) taskSummary {
	return taskSummary{
		Name:       ref.Name,
		State:      ref.State,
		Size:       ref.Size,
		ModifiedAt: ref.ModTime.UTC().Format(time.RFC3339Nano),
	}
}
