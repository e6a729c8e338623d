package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rizkirmdhn/memzip/internal/archive"
	"github.com/rizkirmdhn/memzip/internal/common/config"
	"github.com/rizkirmdhn/memzip/internal/common/messaging"
	"github.com/rizkirmdhn/memzip/internal/downloader"
	"github.com/rizkirmdhn/memzip/pkg/models"
	"github.com/rizkirmdhn/memzip/pkg/utils"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// commandPrefetch bounds the unacknowledged commands delivered to the worker
const commandPrefetch = 10

// ErrJobExists is returned when a start command reuses the ID of a running job
var ErrJobExists = errors.New("job already running")

// job is one running archive batch
type job struct {
	cancel context.CancelFunc
	done   chan struct{}
}

type DownloaderService struct {
	config    *config.DownloaderConfig
	rabbitCfg *config.RabbitMQConfig
	log       *logrus.Logger
	message   messaging.Client
	fetcher   downloader.Fetcher

	mu   sync.Mutex
	jobs map[string]*job
	wg   sync.WaitGroup

	cron *cron.Cron
	now  func() time.Time
}

func NewDownloaderService(cfg *config.DownloaderConfig, rabbitCfg *config.RabbitMQConfig, log *logrus.Logger, message messaging.Client, fetcher downloader.Fetcher) *DownloaderService {
	return &DownloaderService{
		config:    cfg,
		rabbitCfg: rabbitCfg,
		log:       log,
		message:   message,
		fetcher:   fetcher,
		jobs:      make(map[string]*job),
		now:       time.Now,
	}
}

// Start declares the topology, consumes commands and schedules the archive sweep
func (s *DownloaderService) Start() error {
	if err := messaging.DeclareTopology(s.message); err != nil {
		return fmt.Errorf("failed to setup messaging: %w", err)
	}

	if err := s.message.SetQos(commandPrefetch); err != nil {
		return err
	}

	// Consume command messages
	if err := s.message.Consume(s.rabbitCfg.Queue.Downloader, func(msg []byte, routingKey string) error {
		s.log.WithFields(logrus.Fields{
			"component":   "downloader_service",
			"routing_key": routingKey,
		}).Debug("Received command message")
		return s.handleCommand(msg)
	}); err != nil {
		return fmt.Errorf("failed to consume command messages: %w", err)
	}

	if err := s.startJanitor(); err != nil {
		return err
	}

	s.log.WithField("component", "downloader_service").Info("Downloader service started successfully")
	return nil
}

// handleCommand handles incoming command messages. Malformed commands are dropped.
func (s *DownloaderService) handleCommand(msg []byte) error {
	var cmd models.DownloadCommand
	if err := json.Unmarshal(msg, &cmd); err != nil {
		s.log.WithFields(logrus.Fields{
			"component": "downloader_service",
			"error":     err,
		}).Error("Dropping malformed command")
		return nil
	}

	switch cmd.Action {
	case models.StartDownloadAction:
		if _, err := s.StartJob(cmd.JobID, cmd.Data); err != nil {
			s.log.WithFields(logrus.Fields{
				"component": "downloader_service",
				"job_id":    cmd.JobID,
				"error":     err,
			}).Error("Failed to start job")
			s.publishJobLog(models.JobLog{JobID: cmd.JobID, Status: models.JobFailed, Error: err.Error()})
		}

	case models.StopDownloadAction:
		if cmd.JobID == "" {
			s.StopAll()
		} else {
			s.StopJob(cmd.JobID)
		}

	default:
		s.log.WithFields(logrus.Fields{
			"component": "downloader_service",
			"action":    cmd.Action,
		}).Warn("Ignoring unknown command")
	}

	return nil
}

// StartJob starts archiving data in the background and returns the job ID
func (s *DownloaderService) StartJob(jobID string, data models.JobData) (string, error) {
	if jobID == "" {
		jobID = uuid.NewString()
	} else if _, err := uuid.Parse(jobID); err != nil {
		return jobID, fmt.Errorf("invalid job id %q: %w", jobID, err)
	}

	opts := downloader.OptionsFromConfig(s.config)
	if data.Concurrency != 0 {
		opts.Concurrency = data.Concurrency
	}

	logger := s.log.WithFields(logrus.Fields{
		"component": "downloader_service",
		"job_id":    jobID,
	})

	reporter := downloader.NewAsyncReporter(downloader.ReporterFunc(func(p models.ProgressSnapshot) {
		s.publishJobLog(models.JobLog{JobID: jobID, Status: models.JobRunning, Progress: &p})
	}))

	scheduler, err := downloader.NewScheduler(s.fetcher, reporter, opts, s.log)
	if err != nil {
		reporter.Close()
		return jobID, err
	}

	s.mu.Lock()
	if _, exists := s.jobs[jobID]; exists {
		s.mu.Unlock()
		reporter.Close()
		return jobID, fmt.Errorf("%w: %s", ErrJobExists, jobID)
	}

	path := s.ArchivePath(jobID)
	sink, err := archive.NewFileSink(path)
	if err != nil {
		s.mu.Unlock()
		reporter.Close()
		return jobID, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &job{cancel: cancel, done: make(chan struct{})}
	s.jobs[jobID] = j
	s.wg.Add(1)
	s.mu.Unlock()

	logger.WithFields(logrus.Fields{
		"records":     len(data.Records),
		"concurrency": opts.Concurrency,
		"archive":     path,
	}).Info("Starting job")

	go func() {
		defer s.wg.Done()
		defer close(j.done)
		defer cancel()

		result, err := scheduler.Run(ctx, data.Records, sink)
		reporter.Close()

		s.mu.Lock()
		delete(s.jobs, jobID)
		s.mu.Unlock()

		final := models.JobLog{JobID: jobID, Status: result.Status, Progress: &result.Progress}
		if err != nil {
			final.Error = err.Error()
		} else {
			final.Archive = filepath.Base(path)
		}
		s.publishJobLog(final)

		logger.WithFields(logrus.Fields{
			"status":    result.Status,
			"processed": result.Progress.Processed,
			"failed":    result.Progress.Failed(),
		}).Info("Job finished")
	}()

	return jobID, nil
}

// StopJob cancels a running job and waits for its sink to be aborted
func (s *DownloaderService) StopJob(jobID string) bool {
	s.mu.Lock()
	j, ok := s.jobs[jobID]
	s.mu.Unlock()

	if !ok {
		s.log.WithFields(logrus.Fields{
			"component": "downloader_service",
			"job_id":    jobID,
		}).Info("No running job to stop")
		return false
	}

	j.cancel()
	<-j.done
	return true
}

// StopAll cancels every running job
func (s *DownloaderService) StopAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.StopJob(id)
	}
}

// Running returns the IDs of the running jobs
func (s *DownloaderService) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	return ids
}

// Stop cancels every job, waits for them and stops the sweep schedule
func (s *DownloaderService) Stop() {
	s.StopAll()
	s.wg.Wait()

	if s.cron != nil {
		<-s.cron.Stop().Done()
	}

	s.log.WithField("component", "downloader_service").Info("Downloader service stopped successfully")
}

// Sweep removes finished archives older than the retention window
func (s *DownloaderService) Sweep() ([]string, error) {
	if s.config.RetentionHours <= 0 {
		return nil, nil
	}

	cutoff := s.now().Add(-time.Duration(s.config.RetentionHours) * time.Hour)
	removed, err := utils.RemoveStale(s.config.DownloadDir, cutoff)
	if len(removed) > 0 {
		s.log.WithFields(logrus.Fields{
			"component": "downloader_service",
			"removed":   len(removed),
		}).Info("Removed expired archives")
	}
	return removed, err
}

func (s *DownloaderService) startJanitor() error {
	if s.config.SweepSchedule == "" || s.config.RetentionHours <= 0 {
		return nil
	}

	c := cron.New(cron.WithLogger(cron.PrintfLogger(s.log)))
	if _, err := c.AddFunc(s.config.SweepSchedule, func() {
		if _, err := s.Sweep(); err != nil {
			s.log.WithField("component", "downloader_service").WithError(err).Warn("Archive sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.config.SweepSchedule, err)
	}

	c.Start()
	s.cron = c
	return nil
}

// ArchivePath returns where the archive of a job is written
func (s *DownloaderService) ArchivePath(jobID string) string {
	return filepath.Join(s.config.DownloadDir, jobID+".zip")
}

// publishJobLog publishes a job log message
func (s *DownloaderService) publishJobLog(log models.JobLog) {
	if err := s.message.PublishJSON(s.rabbitCfg.Exchange, config.RoutingLogDownloader, log); err != nil {
		s.log.WithFields(logrus.Fields{
			"component": "downloader_service",
			"job_id":    log.JobID,
			"error":     err,
		}).Error("Failed to publish job log")
		return
	}

	if log.Progress != nil {
		s.log.WithFields(logrus.Fields{
			"component": "downloader_service",
			"job_id":    log.JobID,
			"status":    log.Status,
			"processed": log.Progress.Processed,
			"total":     log.Progress.Total,
			"percent":   fmt.Sprintf("%.1f%%", log.Progress.Percent()),
		}).Debug("Published progress update")
	}
}
