package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"
	"github.com/rizkirmdhn/memzip/internal/common/config"
	"github.com/rizkirmdhn/memzip/internal/common/messaging"
	"github.com/rizkirmdhn/memzip/internal/extractor"
	"github.com/rizkirmdhn/memzip/internal/web/store"
	"github.com/rizkirmdhn/memzip/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exportDoc = `<html><body><table>
<tr><th>Date</th><th>Media Type</th><th>Location</th><th></th></tr>
<tr>
  <td>2025-12-09 15:59:27 UTC</td><td>Video</td><td>-</td>
  <td><a href="#" onclick="downloadMemories('https://example.com/v.mp4', this, true)">Download</a></td>
</tr>
<tr>
  <td>2025-12-10 10:00:00 UTC</td><td>Image</td><td>-</td>
  <td><a href="#" onclick="downloadMemories('https://example.com/i.jpg', this, false)">Download</a></td>
</tr>
</table></body></html>`

type publishedCommand struct {
	routingKey string
	command    models.DownloadCommand
}

type fakeClient struct {
	cfg *config.RabbitMQConfig

	mu        sync.Mutex
	consumers map[string]messaging.Handler
	commands  []publishedCommand
}

func (c *fakeClient) PublishJSON(exchange, routingKey string, data interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commands = append(c.commands, publishedCommand{routingKey, data.(models.DownloadCommand)})
	return nil
}

func (c *fakeClient) DeclareQueue(string) error { return nil }

func (c *fakeClient) BindQueue(string, string, string) error { return nil }

func (c *fakeClient) Consume(queueName string, handler messaging.Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consumers[queueName] = handler
	return nil
}

func (c *fakeClient) SetQos(int) error { return nil }

func (c *fakeClient) GetConfig() *config.RabbitMQConfig { return c.cfg }

func (c *fakeClient) Close() error { return nil }

func (c *fakeClient) sent() []publishedCommand {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]publishedCommand(nil), c.commands...)
}

// deliverLog feeds a job log to the consumer of the log queue
func (c *fakeClient) deliverLog(t *testing.T, l models.JobLog) {
	t.Helper()
	body, err := json.Marshal(l)
	require.NoError(t, err)

	c.mu.Lock()
	handler := c.consumers[c.cfg.Queue.Log]
	c.mu.Unlock()

	require.NotNil(t, handler)
	require.NoError(t, handler(body, config.RoutingLogDownloader))
}

type testEnv struct {
	router *gin.Engine
	client *fakeClient
	store  *store.Store
	cfg    *config.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logrus.New()
	log.SetOutput(io.Discard)

	dir := t.TempDir()
	cfg := &config.Config{
		RabbitMq: config.RabbitMQConfig{
			Exchange: "memzip_exchange",
			Queue:    config.QueueNames{Downloader: "downloader_queue", Log: "log_queue"},
		},
		Downloader: config.DownloaderConfig{Concurrency: 3, DownloadDir: filepath.Join(dir, "output")},
		WebPanel:   config.WebPanelConfig{HistoryDB: filepath.Join(dir, "history.db"), JobTTLMinutes: 5},
	}

	st, err := store.Open(&cfg.WebPanel, log)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	client := &fakeClient{cfg: &cfg.RabbitMq, consumers: make(map[string]messaging.Handler)}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h, err := NewHandler(ctx, cfg, log, client, st, extractor.New(extractor.NewHTMLReader(), extractor.Options{}, log))
	require.NoError(t, err)

	r := gin.New()
	h.RegisterRoutes(r)

	return &testEnv{router: r, client: client, store: st, cfg: cfg}
}

func uploadRequest(t *testing.T, path, doc string, fields map[string]string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if doc != "" {
		fw, err := mw.CreateFormFile(exportField, "memories_history.html")
		require.NoError(t, err)
		_, err = io.WriteString(fw, doc)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func (e *testEnv) serve(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func startJob(t *testing.T, env *testEnv) string {
	t.Helper()

	w := env.serve(uploadRequest(t, "/api/jobs", exportDoc, map[string]string{"concurrency": "2"}))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp struct {
		Job store.Job `json:"job"`
	}
	decode(t, w, &resp)
	return resp.Job.ID
}

func TestPreview(t *testing.T) {
	env := newTestEnv(t)

	w := env.serve(uploadRequest(t, "/api/preview", exportDoc, nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Total   int                      `json:"total"`
		Counts  map[models.MediaKind]int `json:"counts"`
		Records []models.Record          `json:"records"`
	}
	decode(t, w, &resp)

	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, 1, resp.Counts[models.KindVideo])
	assert.Equal(t, 1, resp.Counts[models.KindImage])
	require.Len(t, resp.Records, 2)
	assert.Equal(t, "Memory_2025-12-09_15-59-27.mp4", resp.Records[0].OutputName)
	assert.Empty(t, env.client.sent())
}

func TestPreview_MissingFile(t *testing.T) {
	env := newTestEnv(t)

	w := env.serve(uploadRequest(t, "/api/preview", "", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStartJob(t *testing.T) {
	env := newTestEnv(t)

	jobID := startJob(t, env)
	require.NotEmpty(t, jobID)

	sent := env.client.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, config.RoutingCommandDownloader, sent[0].routingKey)
	assert.Equal(t, models.StartDownloadAction, sent[0].command.Action)
	assert.Equal(t, jobID, sent[0].command.JobID)
	assert.Equal(t, 2, sent[0].command.Data.Concurrency)
	assert.Len(t, sent[0].command.Data.Records, 2)

	job, err := env.store.Get(jobID)
	require.NoError(t, err)
	assert.Equal(t, "memories_history.html", job.Source)
	assert.Equal(t, models.JobRunning, job.Status)
	assert.Equal(t, 1, job.Videos)
	assert.Equal(t, 1, job.Images)
}

func TestStartJob_Rejected(t *testing.T) {
	env := newTestEnv(t)

	w := env.serve(uploadRequest(t, "/api/jobs", "<table><tr><td>a</td></tr></table>", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.serve(uploadRequest(t, "/api/jobs", exportDoc, map[string]string{"concurrency": "11"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Empty(t, env.client.sent())
}

func TestJobLogUpdatesJob(t *testing.T) {
	env := newTestEnv(t)
	jobID := startJob(t, env)

	env.client.deliverLog(t, models.JobLog{
		JobID:    jobID,
		Status:   models.JobRunning,
		Progress: &models.ProgressSnapshot{Total: 2, Processed: 1, CurrentLabel: "Memory_2025-12-09_15-59-27.mp4"},
	})

	w := env.serve(httptest.NewRequest(http.MethodGet, "/api/jobs/"+jobID, nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Job      store.Job                `json:"job"`
		Progress *models.ProgressSnapshot `json:"progress"`
	}
	decode(t, w, &resp)
	assert.Equal(t, 1, resp.Job.Processed)
	require.NotNil(t, resp.Progress)
	assert.Equal(t, "Memory_2025-12-09_15-59-27.mp4", resp.Progress.CurrentLabel)

	w = env.serve(httptest.NewRequest(http.MethodGet, "/api/jobs", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Jobs []store.Job `json:"jobs"`
	}
	decode(t, w, &list)
	require.Len(t, list.Jobs, 1)
	assert.Equal(t, jobID, list.Jobs[0].ID)
}

func TestStopJob(t *testing.T) {
	env := newTestEnv(t)
	jobID := startJob(t, env)

	w := env.serve(httptest.NewRequest(http.MethodPost, "/api/jobs/"+jobID+"/stop", nil))
	require.Equal(t, http.StatusAccepted, w.Code)

	sent := env.client.sent()
	require.Len(t, sent, 2)
	assert.Equal(t, models.StopDownloadAction, sent[1].command.Action)
	assert.Equal(t, jobID, sent[1].command.JobID)

	env.client.deliverLog(t, models.JobLog{JobID: jobID, Status: models.JobCancelled, Error: "stopped by user"})

	w = env.serve(httptest.NewRequest(http.MethodPost, "/api/jobs/"+jobID+"/stop", nil))
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.serve(httptest.NewRequest(http.MethodPost, "/api/jobs/unknown/stop", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestArchive(t *testing.T) {
	env := newTestEnv(t)
	jobID := startJob(t, env)

	w := env.serve(httptest.NewRequest(http.MethodGet, "/api/jobs/"+jobID+"/archive", nil))
	assert.Equal(t, http.StatusConflict, w.Code)

	require.NoError(t, os.MkdirAll(env.cfg.Downloader.DownloadDir, 0o755))
	archivePath := filepath.Join(env.cfg.Downloader.DownloadDir, jobID+".zip")
	require.NoError(t, os.WriteFile(archivePath, []byte("PK-archive"), 0o644))

	env.client.deliverLog(t, models.JobLog{
		JobID:    jobID,
		Status:   models.JobCompleted,
		Archive:  jobID + ".zip",
		Progress: &models.ProgressSnapshot{Total: 2, Processed: 2},
	})

	w = env.serve(httptest.NewRequest(http.MethodGet, "/api/jobs/"+jobID+"/archive", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "PK-archive", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "memories_history.zip")
}

func TestWebSocketReceivesProgress(t *testing.T) {
	env := newTestEnv(t)
	jobID := startJob(t, env)

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	conn, _, err := gorillaws.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	// the hub registers the client asynchronously; keep publishing until a message arrives
	received := make(chan map[string]interface{}, 1)
	go func() {
		for {
			var msg map[string]interface{}
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg["type"] == "progress" {
				received <- msg
				return
			}
		}
	}()

	var msg map[string]interface{}
	require.Eventually(t, func() bool {
		env.client.deliverLog(t, models.JobLog{
			JobID:    jobID,
			Status:   models.JobRunning,
			Progress: &models.ProgressSnapshot{Total: 2, Processed: 1},
		})
		select {
		case msg = <-received:
			return true
		case <-time.After(20 * time.Millisecond):
			return false
		}
	}, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, "progress", msg["type"])
	assert.Equal(t, jobID, msg["jobId"])
	assert.Equal(t, string(models.JobRunning), msg["status"])
}
