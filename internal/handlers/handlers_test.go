package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ghibliflow/internal/common"
	"github.com/ternarybob/ghibliflow/internal/interfaces"
	"github.com/ternarybob/ghibliflow/internal/models"
	"github.com/ternarybob/ghibliflow/internal/queue"
	"github.com/ternarybob/ghibliflow/internal/services/browser"
	"github.com/ternarybob/ghibliflow/internal/services/prompts"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

// mockQueue implements interfaces.JobEnqueuer for testing
type mockQueue struct {
	jobs       []*models.Job
	enqueueErr error
}

func (m *mockQueue) Enqueue(job *models.Job) error {
	if m.enqueueErr != nil {
		return m.enqueueErr
	}
	if err := job.Validate(); err != nil {
		return err
	}
	m.jobs = append(m.jobs, job)
	return nil
}

func (m *mockQueue) Size() int { return len(m.jobs) }

// mockJobStorage implements interfaces.JobStorage for testing
type mockJobStorage struct {
	records   map[string]*models.JobRecord
	list      []*models.JobRecord
	err       error
	lastLimit int
}

func (m *mockJobStorage) SaveJob(ctx context.Context, record *models.JobRecord) error {
	return m.err
}

func (m *mockJobStorage) GetJob(ctx context.Context, id string) (*models.JobRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	if record, ok := m.records[id]; ok {
		return record, nil
	}
	return nil, interfaces.ErrJobNotFound
}

func (m *mockJobStorage) ListJobs(ctx context.Context, limit int) ([]*models.JobRecord, error) {
	m.lastLimit = limit
	return m.list, m.err
}

type fixedState browser.SessionState

func (s fixedState) State() browser.SessionState { return browser.SessionState(s) }

type uploadForm struct {
	filename string
	content  []byte
	fields   map[string]string
}

func newUploadRequest(t *testing.T, form uploadForm) *http.Request {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for k, v := range form.fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	if form.content != nil {
		part, err := writer.CreateFormFile("image", form.filename)
		require.NoError(t, err)
		_, err = part.Write(form.content)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/process-image", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func newTestUploadHandler(t *testing.T, q *mockQueue) (*UploadHandler, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "uploads")
	config := common.UploadsConfig{Dir: dir, MaxSizeMB: 1}
	presets := prompts.NewService(common.PromptsConfig{Ghibli: "ghibli prompt", CatHuman: "cat prompt", Irasutoya: "irasutoya prompt"})
	return NewUploadHandler(q, presets, config, arbor.NewLogger()), dir
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func uploadCount(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0
	}
	require.NoError(t, err)
	return len(entries)
}

func TestProcessImageHandler_Queued(t *testing.T) {
	q := &mockQueue{}
	handler, dir := newTestUploadHandler(t, q)

	req := newUploadRequest(t, uploadForm{
		filename: "My Cat.PNG",
		content:  append(pngHeader, bytes.Repeat([]byte{1}, 2048)...),
		fields:   map[string]string{"promptType": "cat-human", "email": "owner@example.com"},
	})
	rec := httptest.NewRecorder()
	handler.ProcessImageHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "My Cat.PNG", body["originalFilename"])
	assert.Equal(t, float64(1), body["queueSize"])

	require.Len(t, q.jobs, 1)
	job := q.jobs[0]
	assert.Equal(t, job.ID, body["jobId"])
	assert.Equal(t, "cat prompt", job.Prompt)
	assert.Equal(t, "owner@example.com", job.NotifyEmail)
	assert.Equal(t, "My Cat.PNG", job.DisplayName)
	assert.Equal(t, dir, filepath.Dir(job.InputPath))
	assert.Equal(t, ".png", filepath.Ext(job.InputPath))

	saved, err := os.ReadFile(job.InputPath)
	require.NoError(t, err)
	assert.Len(t, saved, len(pngHeader)+2048)
}

func TestProcessImageHandler_DefaultsToGhibli(t *testing.T) {
	q := &mockQueue{}
	handler, _ := newTestUploadHandler(t, q)

	rec := httptest.NewRecorder()
	handler.ProcessImageHandler(rec, newUploadRequest(t, uploadForm{filename: "a.png", content: pngHeader}))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, q.jobs, 1)
	assert.Equal(t, "ghibli prompt", q.jobs[0].Prompt)
	assert.Empty(t, q.jobs[0].NotifyEmail)
}

func TestProcessImageHandler_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		form   uploadForm
		status int
	}{
		{
			name:   "missing image",
			form:   uploadForm{fields: map[string]string{"promptType": "ghibli"}},
			status: http.StatusBadRequest,
		},
		{
			name:   "not an image",
			form:   uploadForm{filename: "notes.txt", content: []byte("plain text, not pixels")},
			status: http.StatusUnsupportedMediaType,
		},
		{
			name:   "custom without text",
			form:   uploadForm{filename: "a.png", content: pngHeader, fields: map[string]string{"promptType": "custom"}},
			status: http.StatusBadRequest,
		},
		{
			name:   "unknown prompt type",
			form:   uploadForm{filename: "a.png", content: pngHeader, fields: map[string]string{"promptType": "vangogh"}},
			status: http.StatusBadRequest,
		},
		{
			name:   "invalid email",
			form:   uploadForm{filename: "a.png", content: pngHeader, fields: map[string]string{"email": "not-an-email"}},
			status: http.StatusBadRequest,
		},
		{
			name:   "too large",
			form:   uploadForm{filename: "a.png", content: append(pngHeader, make([]byte, 2<<20)...)},
			status: http.StatusRequestEntityTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &mockQueue{}
			handler, dir := newTestUploadHandler(t, q)

			rec := httptest.NewRecorder()
			handler.ProcessImageHandler(rec, newUploadRequest(t, tt.form))

			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, false, decode(t, rec)["success"])
			assert.Empty(t, q.jobs)
			assert.Zero(t, uploadCount(t, dir))
		})
	}
}

func TestProcessImageHandler_CustomPrompt(t *testing.T) {
	q := &mockQueue{}
	handler, _ := newTestUploadHandler(t, q)

	rec := httptest.NewRecorder()
	handler.ProcessImageHandler(rec, newUploadRequest(t, uploadForm{
		filename: "a.png",
		content:  pngHeader,
		fields:   map[string]string{"promptType": "custom", "customPromptText": "  watercolor  "},
	}))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "watercolor", q.jobs[0].Prompt)
}

func TestProcessImageHandler_EnqueueFailureRemovesFile(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{name: "closed", err: queue.ErrQueueClosed, status: http.StatusServiceUnavailable},
		{name: "invalid", err: errors.New("invalid job"), status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &mockQueue{enqueueErr: tt.err}
			handler, dir := newTestUploadHandler(t, q)

			rec := httptest.NewRecorder()
			handler.ProcessImageHandler(rec, newUploadRequest(t, uploadForm{filename: "a.png", content: pngHeader}))

			assert.Equal(t, tt.status, rec.Code)
			assert.Zero(t, uploadCount(t, dir), "rejected upload must be removed")
		})
	}
}

func TestProcessImageHandler_MethodNotAllowed(t *testing.T) {
	handler, _ := newTestUploadHandler(t, &mockQueue{})

	rec := httptest.NewRecorder()
	handler.ProcessImageHandler(rec, httptest.NewRequest(http.MethodGet, "/api/process-image", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "POST", rec.Header().Get("Allow"))
}

func TestJobHandler_List(t *testing.T) {
	storage := &mockJobStorage{list: []*models.JobRecord{
		{ID: "b", Status: models.JobStatusRunning, CreatedAt: time.Now()},
		{ID: "a", Status: models.JobStatusSuccess, CreatedAt: time.Now().Add(-time.Minute)},
	}}
	handler := NewJobHandler(storage, arbor.NewLogger())

	rec := httptest.NewRecorder()
	handler.ListJobsHandler(rec, httptest.NewRequest(http.MethodGet, "/api/jobs?limit=5000", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxJobsLimit, storage.lastLimit)

	body := decode(t, rec)
	assert.Equal(t, float64(2), body["count"])
	jobs := body["jobs"].([]interface{})
	assert.Equal(t, "b", jobs[0].(map[string]interface{})["id"])

	rec = httptest.NewRecorder()
	handler.ListJobsHandler(rec, httptest.NewRequest(http.MethodGet, "/api/jobs", nil))
	assert.Equal(t, defaultJobsLimit, storage.lastLimit)
}

func TestJobHandler_Get(t *testing.T) {
	outcome := models.NotFoundOutcome("policy", "p", "")
	storage := &mockJobStorage{records: map[string]*models.JobRecord{
		"job-1": {ID: "job-1", Status: models.JobStatusNotFound, Outcome: &outcome},
	}}
	handler := NewJobHandler(storage, arbor.NewLogger())

	rec := httptest.NewRecorder()
	handler.GetJobHandler(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/job-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "not_found", body["status"])
	assert.Equal(t, "policy", body["outcome"].(map[string]interface{})["diagnostic"])

	rec = httptest.NewRecorder()
	handler.GetJobHandler(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	handler.GetJobHandler(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	storage.err = errors.New("disk gone")
	rec = httptest.NewRecorder()
	handler.GetJobHandler(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/job-1", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAPIHandler_HealthAndQueue(t *testing.T) {
	q := &mockQueue{jobs: []*models.Job{{ID: "1"}, {ID: "2"}}}
	handler := NewAPIHandler(q, fixedState(browser.SessionLive), arbor.NewLogger())

	rec := httptest.NewRecorder()
	handler.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(2), body["backlog"])
	assert.Equal(t, "live", body["browser"])

	rec = httptest.NewRecorder()
	handler.QueueHandler(rec, httptest.NewRequest(http.MethodGet, "/api/queue", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"size":2}`, rec.Body.String())

	rec = httptest.NewRecorder()
	handler.QueueHandler(rec, httptest.NewRequest(http.MethodPost, "/api/queue", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
