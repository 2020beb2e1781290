package v1

import (
	"bufio"
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"bomflow/internal/classifier"
	"bomflow/internal/config"
	"bomflow/internal/merger"
	"bomflow/internal/model"
	"bomflow/internal/pipeline"
	"bomflow/internal/store"
)

type testEnv struct {
	router  *gin.Engine
	handler *Handler
	cache   *classifier.Cache
	store   *store.Store
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()

	st, err := store.New(filepath.Join(dir, "bomflow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	rules := config.DefaultRules()
	cache := classifier.NewCache(time.Minute)
	cls := classifier.New(classifier.NewRules(rules), classifier.NewStubCompleter(), cache, classifier.Options{
		Workers:        2,
		MaxAttempts:    1,
		InitialBackoff: time.Millisecond,
		CallTimeout:    time.Second,
	}, zap.NewNop(), nil)
	coord := pipeline.NewCoordinator(cls, merger.New(merger.OptionsFromRules(rules)), pipeline.Options{
		Store:  st,
		Logger: zap.NewNop(),
	})

	h := NewHandler(Options{
		Coordinator: coord,
		Store:       st,
		Cache:       cache,
		Provider:    "stub",
		UploadDir:   filepath.Join(dir, "uploads"),
		OutputDir:   filepath.Join(dir, "outputs"),
		Logger:      zap.NewNop(),
	})
	t.Cleanup(h.Close)

	r := gin.New()
	h.RegisterRoutes(r.Group("/api"))
	return testEnv{router: r, handler: h, cache: cache, store: st}
}

func bomBytes(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	t.Cleanup(func() { _ = f.Close() })
	rows := [][]any{
		{"Part Number", "Description", "Qty", "Designator"},
		{"GRM155", "Ceramic Capacitor 100nF 50V", 2, "C1,C2"},
		{"WIDGET-9", "Widget", 1, "X1"},
		{"TP", "Test point connector", 1, "TP1"},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}

func multipartBody(t *testing.T, files map[string][]byte, names map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for field, data := range files {
		part, err := w.CreateFormFile(field, names[field])
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &body, w.FormDataContentType()
}

type sseEvent struct {
	Type    string          `json:"type"`
	Message string          `json:"message"`
	State   model.JobState  `json:"state"`
	Data    json.RawMessage `json:"data"`
}

func readEvents(t *testing.T, body string) []sseEvent {
	t.Helper()
	var out []sseEvent
	sc := bufio.NewScanner(strings.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var e sseEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &e))
		out = append(out, e)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestConvert_StreamsAndDownloadsOnce(t *testing.T) {
	env := newTestEnv(t)

	body, ctype := multipartBody(t,
		map[string][]byte{
			"bom":         bomBytes(t),
			"coordinates": []byte("RefDes,X,Y,Side,Rotation\nC1,1.5,2,Top,0\nC2,3,2,Top,90\nX1,4,4,Bottom,0\n"),
		},
		map[string]string{"bom": "board.xlsx", "coordinates": "pnp.csv"},
	)
	req := httptest.NewRequest(http.MethodPost, "/api/convert", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := readEvents(t, rec.Body.String())
	require.NotEmpty(t, events)
	assert.Equal(t, pipeline.EventStart, events[0].Type)
	last := events[len(events)-1]
	require.Equal(t, pipeline.EventDone, last.Type, "last event: %s", last.Message)

	var result ConvertResult
	require.NoError(t, json.Unmarshal(last.Data, &result))
	require.NotNil(t, result.Report)
	assert.Equal(t, 2, result.Report.ConvertedRows)
	assert.Equal(t, 1, result.Report.DroppedRows)
	assert.Equal(t, "board.xlsx", result.Report.BOMFile)
	assert.Equal(t, "board_normalized.xlsx", result.Report.OutputFile)
	require.True(t, strings.HasPrefix(result.DownloadURL, "/api/convert/download/"))

	dl := httptest.NewRecorder()
	env.router.ServeHTTP(dl, httptest.NewRequest(http.MethodGet, result.DownloadURL, nil))
	require.Equal(t, http.StatusOK, dl.Code)
	assert.Equal(t, xlsxContentType, dl.Header().Get("Content-Type"))
	assert.Contains(t, dl.Header().Get("Content-Disposition"), "board_normalized.xlsx")

	out, err := excelize.OpenReader(bytes.NewReader(dl.Body.Bytes()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = out.Close() })
	v, err := out.GetCellValue("BOM", "C5")
	require.NoError(t, err)
	assert.Equal(t, "GRM155", v)

	again := httptest.NewRecorder()
	env.router.ServeHTTP(again, httptest.NewRequest(http.MethodGet, result.DownloadURL, nil))
	assert.Equal(t, http.StatusNotFound, again.Code)

	// 任务记录
	jobs := httptest.NewRecorder()
	env.router.ServeHTTP(jobs, httptest.NewRequest(http.MethodGet, "/api/jobs", nil))
	require.Equal(t, http.StatusOK, jobs.Code)
	var list struct {
		Jobs []model.JobReport `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(jobs.Body.Bytes(), &list))
	require.Len(t, list.Jobs, 1)
	assert.Equal(t, result.Report.JobID, list.Jobs[0].JobID)
	assert.Equal(t, model.StateDone, list.Jobs[0].State)

	detail := httptest.NewRecorder()
	env.router.ServeHTTP(detail, httptest.NewRequest(http.MethodGet, "/api/jobs/"+result.Report.JobID, nil))
	require.Equal(t, http.StatusOK, detail.Code)
	var job model.JobReport
	require.NoError(t, json.Unmarshal(detail.Body.Bytes(), &job))
	require.Len(t, job.Issues, 1)
	assert.Equal(t, model.IssueDropped, job.Issues[0].Kind)

	// Widget 行经补全服务分类后写入缓存
	assert.Equal(t, 1, env.cache.Len())
	purge := httptest.NewRecorder()
	env.router.ServeHTTP(purge, httptest.NewRequest(http.MethodPost, "/api/cache/purge", nil))
	require.Equal(t, http.StatusOK, purge.Code)
	assert.JSONEq(t, `{"purged":1}`, purge.Body.String())
	assert.Zero(t, env.cache.Len())
}

func TestConvert_MissingFiles(t *testing.T) {
	env := newTestEnv(t)

	body, ctype := multipartBody(t,
		map[string][]byte{"bom": bomBytes(t)},
		map[string]string{"bom": "board.xlsx"},
	)
	req := httptest.NewRequest(http.MethodPost, "/api/convert", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"missing coordinates file"}`, rec.Body.String())
}

func TestConvert_BadSpreadsheetEndsWithError(t *testing.T) {
	env := newTestEnv(t)

	body, ctype := multipartBody(t,
		map[string][]byte{
			"bom":         []byte("not a workbook"),
			"coordinates": []byte("RefDes,X,Y\nC1,1,1\n"),
		},
		map[string]string{"bom": "board.xlsx", "coordinates": "pnp.csv"},
	)
	req := httptest.NewRequest(http.MethodPost, "/api/convert", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	events := readEvents(t, rec.Body.String())
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, pipeline.EventError, last.Type)
	assert.Equal(t, model.StateFailed, last.State)
}

func TestStatusAndJobs(t *testing.T) {
	env := newTestEnv(t)

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var status StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, "stub", status.Provider)
	assert.True(t, status.JobLog)

	missing := httptest.NewRecorder()
	env.router.ServeHTTP(missing, httptest.NewRequest(http.MethodGet, "/api/jobs/nope", nil))
	assert.Equal(t, http.StatusNotFound, missing.Code)

	bad := httptest.NewRecorder()
	env.router.ServeHTTP(bad, httptest.NewRequest(http.MethodGet, "/api/jobs?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}
