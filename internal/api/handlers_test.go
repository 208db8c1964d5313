package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/marketplace-scraper/internal/browser/browsertest"
	"github.com/maltedev/marketplace-scraper/internal/database"
	"github.com/maltedev/marketplace-scraper/internal/models"
	"github.com/maltedev/marketplace-scraper/internal/scraper"
	"github.com/maltedev/marketplace-scraper/internal/site"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const itemHTML = `<html><body>
<h1 class="x-item-title__mainTitle">Film Camera</h1>
<div class="x-price-primary">US $1,234.56</div>
<div id="qtySubTxt"><span>2 available</span></div>
</body></html>`

const (
	goodURL = "https://www.ebay.com/itm/111111111111"
	badURL  = "https://www.ebay.com/itm/222222222222"
)

type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) PublishRunCompleted(ctx context.Context, siteName string, report *models.Report, startedAt, finishedAt time.Time) (uuid.UUID, error) {
	args := m.Called(ctx, siteName, report, startedAt, finishedAt)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

type MockOutboxStats struct {
	mock.Mock
}

func (m *MockOutboxStats) Counts(ctx context.Context) (int64, int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Get(1).(int64), args.Error(2)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter(t *testing.T, launcher *browsertest.Launcher, opts Options) http.Handler {
	t.Helper()

	siteOpts := site.DefaultOptions()
	siteOpts.Settle = 0
	siteOpts.StepTimeout = 10 * time.Millisecond

	batch := scraper.NewBatch(launcher, scraper.New(discardLogger()), discardLogger())
	h := NewHandlers(batch, site.DefaultRegistry(siteOpts), opts, discardLogger())
	return NewRouter(h, []string{"*"})
}

func fixtureLauncher() *browsertest.Launcher {
	return &browsertest.Launcher{Session: browsertest.NewSession(map[string]browsertest.Fixture{
		goodURL: {HTML: itemHTML},
	})}
}

func postJSON(t *testing.T, router http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	router := newTestRouter(t, fixtureLauncher(), Options{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.ElementsMatch(t, []interface{}{"amazon", "ebay"}, body["sites"])
}

func TestHealth_DeadLetterBacklog(t *testing.T) {
	stats := new(MockOutboxStats)
	stats.On("Counts", mock.Anything).Return(int64(3), int64(500), nil)
	router := newTestRouter(t, fixtureLauncher(), Options{Stats: stats})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"dead_letter":500`)
}

func TestScrape_JSON(t *testing.T) {
	recorder := new(MockRecorder)
	runID := uuid.New()
	recorder.On("PublishRunCompleted", mock.Anything, "ebay", mock.AnythingOfType("*models.Report"), mock.Anything, mock.Anything).
		Return(runID, nil)

	router := newTestRouter(t, fixtureLauncher(), Options{Recorder: recorder})
	rec := postJSON(t, router, "/api/v1/scrape/ebay", ScrapeRequest{URLs: []string{goodURL, " ", badURL}})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, runID.String(), rec.Header().Get("X-Run-ID"))

	var report models.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 2, report.TotalURLs)
	assert.Equal(t, 1, report.SuccessfulScrapes)
	assert.Equal(t, []string{badURL}, report.FailedURLs)
	require.Len(t, report.Results, 1)
	assert.Equal(t, 1234.56, *report.Results[0].Price)

	recorder.AssertExpectations(t)
}

func TestScrape_RecorderFailureDoesNotFailRequest(t *testing.T) {
	recorder := new(MockRecorder)
	recorder.On("PublishRunCompleted", mock.Anything, "ebay", mock.Anything, mock.Anything, mock.Anything).
		Return(uuid.Nil, errors.New("db down"))

	router := newTestRouter(t, fixtureLauncher(), Options{Recorder: recorder})
	rec := postJSON(t, router, "/api/v1/scrape/ebay", ScrapeRequest{URLs: []string{goodURL}})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-Run-ID"))
}

func TestScrape_CSVUpload(t *testing.T) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "targets.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte("url\n" + goodURL + "\n" + goodURL + "\n"))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("concurrency", "2"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/scrape/ebay", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	newTestRouter(t, fixtureLauncher(), Options{}).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var report models.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 2, report.SuccessfulScrapes)
}

func TestScrape_BadRequests(t *testing.T) {
	router := newTestRouter(t, fixtureLauncher(), Options{})

	tests := []struct {
		name   string
		path   string
		body   interface{}
		status int
	}{
		{"unknown site", "/api/v1/scrape/etsy", ScrapeRequest{URLs: []string{goodURL}}, http.StatusNotFound},
		{"no urls", "/api/v1/scrape/ebay", ScrapeRequest{URLs: []string{" ", "# c"}}, http.StatusBadRequest},
		{"negative concurrency", "/api/v1/scrape/ebay", ScrapeRequest{URLs: []string{goodURL}, Concurrency: -1}, http.StatusBadRequest},
		{"not json", "/api/v1/scrape/ebay", "just a string", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, router, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestScrape_BrowserUnavailable(t *testing.T) {
	launcher := &browsertest.Launcher{Err: errors.New("no chromium")}
	router := newTestRouter(t, launcher, Options{})

	rec := postJSON(t, router, "/api/v1/scrape/ebay", ScrapeRequest{URLs: []string{goodURL}})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), scraper.ErrBrowserUnavailable.Error())
}

func TestScrapeStream(t *testing.T) {
	recorder := new(MockRecorder)
	recorder.On("PublishRunCompleted", mock.Anything, "ebay", mock.Anything, mock.Anything, mock.Anything).
		Return(uuid.New(), nil)

	router := newTestRouter(t, fixtureLauncher(), Options{Recorder: recorder})
	rec := postJSON(t, router, "/api/v1/scrape/ebay/stream", ScrapeRequest{URLs: []string{goodURL, badURL}})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	var types []string
	for _, frame := range strings.Split(strings.TrimSpace(rec.Body.String()), "\n\n") {
		require.True(t, strings.HasPrefix(frame, "data: "), frame)
		var ev models.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(frame, "data: ")), &ev))
		types = append(types, string(ev.Type))
	}
	assert.Equal(t, []string{"progress", "item_success", "progress", "item_failed", "complete"}, types)

	recorder.AssertExpectations(t)
}

func TestScrapeStream_BrowserUnavailable(t *testing.T) {
	launcher := &browsertest.Launcher{Err: errors.New("no chromium")}
	router := newTestRouter(t, launcher, Options{})

	rec := postJSON(t, router, "/api/v1/scrape/ebay/stream", ScrapeRequest{URLs: []string{goodURL}})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestScrapeStream_TimeoutStillSendsComplete(t *testing.T) {
	slowURL := "https://www.ebay.com/itm/333333333333"
	launcher := &browsertest.Launcher{Session: browsertest.NewSession(map[string]browsertest.Fixture{
		goodURL: {HTML: itemHTML},
		slowURL: {HTML: itemHTML, Delay: time.Second},
	})}
	router := newTestRouter(t, launcher, Options{BatchTimeout: 30 * time.Millisecond})

	rec := postJSON(t, router, "/api/v1/scrape/ebay/stream", ScrapeRequest{URLs: []string{goodURL, slowURL, goodURL + "?v=2"}})
	require.Equal(t, http.StatusOK, rec.Code)

	frames := strings.Split(strings.TrimSpace(rec.Body.String()), "\n\n")
	var last models.Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(frames[len(frames)-1], "data: ")), &last))
	require.Equal(t, models.EventComplete, last.Type)
	assert.Equal(t, 3, last.Report.TotalURLs)
	assert.Equal(t, 1, last.Report.SuccessfulScrapes)
	assert.Equal(t, 2, last.Report.FailedScrapes)
}

type MockRunStore struct {
	mock.Mock
}

func (m *MockRunStore) Get(ctx context.Context, id uuid.UUID) (*database.Run, error) {
	args := m.Called(ctx, id)
	if run := args.Get(0); run != nil {
		return run.(*database.Run), args.Error(1)
	}
	return nil, args.Error(1)
}

func getRun(router http.Handler, id string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+id, nil))
	return rec
}

func TestGetRun(t *testing.T) {
	run := &database.Run{ID: uuid.New(), Site: "amazon", Total: 3, Succeeded: 2, Failed: 1}
	missing := uuid.New()

	runs := new(MockRunStore)
	runs.On("Get", mock.Anything, run.ID).Return(run, nil)
	runs.On("Get", mock.Anything, missing).Return(nil, database.ErrRunNotFound)
	router := newTestRouter(t, fixtureLauncher(), Options{Runs: runs})

	rec := getRun(router, run.ID.String())
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, run.ID.String(), body["id"])
	assert.Equal(t, "amazon", body["site"])
	assert.Equal(t, float64(2), body["successfulScrapes"])

	assert.Equal(t, http.StatusNotFound, getRun(router, missing.String()).Code)
	assert.Equal(t, http.StatusBadRequest, getRun(router, "not-a-uuid").Code)

	runs.AssertExpectations(t)
}

func TestGetRun_HistoryDisabled(t *testing.T) {
	router := newTestRouter(t, fixtureLauncher(), Options{})
	assert.Equal(t, http.StatusNotFound, getRun(router, uuid.NewString()).Code)
}
