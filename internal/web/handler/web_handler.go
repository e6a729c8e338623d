package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rizkirmdhn/memzip/internal/common/config"
	"github.com/rizkirmdhn/memzip/internal/common/messaging"
	"github.com/rizkirmdhn/memzip/internal/extractor"
	"github.com/rizkirmdhn/memzip/internal/web/store"
	"github.com/rizkirmdhn/memzip/internal/web/websocket"
	"github.com/rizkirmdhn/memzip/pkg/models"
	"github.com/rizkirmdhn/memzip/pkg/utils"
	"github.com/sirupsen/logrus"
)

// exportField is the multipart field carrying the export document
const exportField = "export"

type Handler struct {
	cfg       *config.Config
	log       *logrus.Logger
	message   messaging.Client
	wsHub     *websocket.Hub
	store     *store.Store
	extractor *extractor.Extractor
}

// NewHandler creates the handler, starts the WebSocket hub and consumes job logs
func NewHandler(ctx context.Context, cfg *config.Config, log *logrus.Logger, msg messaging.Client, st *store.Store, ext *extractor.Extractor) (*Handler, error) {
	wsHub := websocket.NewHub(log)
	go wsHub.Run(ctx)

	h := &Handler{
		cfg:       cfg,
		log:       log,
		message:   msg,
		wsHub:     wsHub,
		store:     st,
		extractor: ext,
	}

	if err := messaging.DeclareTopology(msg); err != nil {
		return nil, fmt.Errorf("failed to setup messaging: %w", err)
	}

	if err := msg.Consume(cfg.RabbitMq.Queue.Log, h.handleLog); err != nil {
		return nil, fmt.Errorf("failed to consume job logs: %w", err)
	}

	return h, nil
}

// RegisterRoutes registers all the routes for the web handler
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/ws", h.WebSocketHandler())

	api := r.Group("/api")
	{
		api.GET("/config", h.ConfigHandler())
		api.POST("/preview", h.PreviewHandler())
		api.POST("/jobs", h.StartJobHandler())
		api.GET("/jobs", h.ListJobsHandler())
		api.GET("/jobs/:id", h.GetJobHandler())
		api.POST("/jobs/:id/stop", h.StopJobHandler())
		api.GET("/jobs/:id/archive", h.ArchiveHandler())
	}
}

// WebSocketHandler returns the WebSocket connection handler
func (h *Handler) WebSocketHandler() gin.HandlerFunc {
	return websocket.WebSocketHandler(h.wsHub, h.log)
}

// ConfigHandler returns the settings the panel offers to the user
func (h *Handler) ConfigHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"concurrency": gin.H{
				"default": h.cfg.Downloader.Concurrency,
				"min":     config.MinConcurrency,
				"max":     config.MaxConcurrency,
			},
		})
	}
}

// PreviewHandler extracts the records of an uploaded export without downloading anything
func (h *Handler) PreviewHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		records, _, ok := h.extractUpload(c)
		if !ok {
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"total":   len(records),
			"counts":  models.KindCounts(records),
			"records": records,
		})
	}
}

// StartJobHandler extracts the uploaded export, stores the job and asks the worker to run it
func (h *Handler) StartJobHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		concurrency := h.cfg.Downloader.Concurrency
		if raw := c.PostForm("concurrency"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err == nil {
				err = config.ValidateConcurrency(n)
			}
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid concurrency: %s", raw)})
				return
			}
			concurrency = n
		}

		records, source, ok := h.extractUpload(c)
		if !ok {
			return
		}
		if len(records) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "No downloadable memories found in the export"})
			return
		}

		counts := models.KindCounts(records)
		job := &store.Job{
			ID:     uuid.NewString(),
			Source: source,
			Status: models.JobRunning,
			Total:  len(records),
			Videos: counts[models.KindVideo],
			Images: counts[models.KindImage],
		}
		if err := h.store.Create(job); err != nil {
			h.log.WithError(err).Error("Failed to store job")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create job"})
			return
		}

		command := models.DownloadCommand{
			Action: models.StartDownloadAction,
			JobID:  job.ID,
			Data: models.JobData{
				Concurrency: concurrency,
				Records:     records,
			},
		}
		if err := h.publishCommand(command); err != nil {
			h.log.WithError(err).Error("Failed to publish start command")
			h.store.Apply(models.JobLog{JobID: job.ID, Status: models.JobFailed, Error: err.Error()})
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start job"})
			return
		}

		h.log.WithFields(logrus.Fields{
			"component":   "web_handler",
			"job_id":      job.ID,
			"records":     len(records),
			"concurrency": concurrency,
		}).Info("Job started")

		c.JSON(http.StatusAccepted, gin.H{
			"message": "Job started successfully",
			"job":     job,
		})

		h.broadcast(gin.H{"type": "status", "jobId": job.ID, "status": job.Status})
	}
}

// ListJobsHandler returns the job history
func (h *Handler) ListJobsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

		jobs, err := h.store.List(limit)
		if err != nil {
			h.log.WithError(err).Error("Failed to list jobs")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list jobs"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"jobs": jobs})
	}
}

// GetJobHandler returns the history row of a job with its latest snapshot
func (h *Handler) GetJobHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		job, ok := h.findJob(c)
		if !ok {
			return
		}

		resp := gin.H{"job": job}
		if live, ok := h.store.Live(job.ID); ok && live.Progress != nil {
			resp["progress"] = live.Progress
		}
		c.JSON(http.StatusOK, resp)
	}
}

// StopJobHandler asks the worker to cancel a job
func (h *Handler) StopJobHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		job, ok := h.findJob(c)
		if !ok {
			return
		}
		if job.Status.IsFinished() {
			c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("Job already %s", job.Status)})
			return
		}

		command := models.DownloadCommand{
			Action: models.StopDownloadAction,
			JobID:  job.ID,
		}
		if err := h.publishCommand(command); err != nil {
			h.log.WithError(err).Error("Failed to publish stop command")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to stop job"})
			return
		}

		c.JSON(http.StatusAccepted, gin.H{"message": "Stop requested"})
	}
}

// ArchiveHandler sends the finished archive of a job
func (h *Handler) ArchiveHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		job, ok := h.findJob(c)
		if !ok {
			return
		}
		if job.Status != models.JobCompleted || job.Archive == "" {
			c.JSON(http.StatusConflict, gin.H{"error": "Archive is not ready"})
			return
		}

		path := filepath.Join(h.cfg.Downloader.DownloadDir, utils.SafeBase(job.Archive, job.ID+".zip"))
		c.FileAttachment(path, attachmentName(job))
	}
}

// handleLog stores a job log and forwards it to the WebSocket clients
func (h *Handler) handleLog(message []byte, routingKey string) error {
	if routingKey != config.RoutingLogDownloader {
		return nil
	}

	var l models.JobLog
	if err := json.Unmarshal(message, &l); err != nil {
		h.log.WithError(err).Error("Dropping malformed job log")
		return nil
	}

	if _, err := h.store.Apply(l); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		h.log.WithField("job_id", l.JobID).Warn("Job log for unknown job")
	}

	h.broadcast(gin.H{
		"type":     "progress",
		"jobId":    l.JobID,
		"status":   l.Status,
		"progress": l.Progress,
		"error":    l.Error,
		"archive":  l.Archive,
	})
	return nil
}

// extractUpload reads the export of the request; it writes the error response itself
func (h *Handler) extractUpload(c *gin.Context) ([]models.Record, string, bool) {
	file, err := c.FormFile(exportField)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing export file"})
		return nil, "", false
	}

	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unreadable export file"})
		return nil, "", false
	}
	defer f.Close()

	records, err := h.extractor.Extract(c.Request.Context(), f)
	if err != nil {
		h.log.WithError(err).Error("Failed to extract export")
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Failed to read export"})
		return nil, "", false
	}

	return records, utils.SafeBase(file.Filename, "export.html"), true
}

func (h *Handler) findJob(c *gin.Context) (*store.Job, bool) {
	job, err := h.store.Get(c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		} else {
			h.log.WithError(err).Error("Failed to load job")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load job"})
		}
		return nil, false
	}
	return job, true
}

// publishCommand publishes a command to the downloader
func (h *Handler) publishCommand(command models.DownloadCommand) error {
	return h.message.PublishJSON(h.message.GetConfig().Exchange, config.RoutingCommandDownloader, command)
}

// broadcast sends a message to all WebSocket clients
func (h *Handler) broadcast(message gin.H) {
	wsMessage, err := json.Marshal(message)
	if err != nil {
		h.log.WithError(err).Error("Failed to marshal WebSocket message")
		return
	}

	h.wsHub.Broadcast(wsMessage)
}

// attachmentName is the download name of a job archive, derived from its export
func attachmentName(job *store.Job) string {
	base := strings.TrimSuffix(job.Source, filepath.Ext(job.Source))
	if base == "" {
		base = "memories"
	}
	return base + ".zip"
}
