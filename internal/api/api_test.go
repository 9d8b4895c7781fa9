package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiliankoe/chartrecall/internal/config"
	"github.com/kiliankoe/chartrecall/internal/experiment"
	"github.com/kiliankoe/chartrecall/internal/stimulus"
	"github.com/kiliankoe/chartrecall/internal/store"
	staticserver "github.com/kiliankoe/chartrecall/static"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type recordingNotifier struct {
	mu    sync.Mutex
	views map[string][]experiment.View
}

func (n *recordingNotifier) Publish(sessionID string, v experiment.View) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.views == nil {
		n.views = make(map[string][]experiment.View)
	}
	n.views[sessionID] = append(n.views[sessionID], v)
}

func (n *recordingNotifier) count(sessionID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.views[sessionID])
}

func rows(n int) []stimulus.Row {
	out := make([]stimulus.Row, n)
	for i := range out {
		r := stimulus.Row{
			ChartNumber:  fmt.Sprint(i + 1),
			Condition:    "line",
			Context:      "context",
			ImageRef:     fmt.Sprintf("chart%d.png", i+1),
			ChartDataKey: i + 1,
			HasChartKey:  true,
		}
		for q := range r.Questions {
			r.Questions[q] = stimulus.Question{
				Text:    fmt.Sprintf("question %d", q+1),
				Options: [stimulus.OptionsPerQuestion]string{"a", "b", "c", "d"},
			}
		}
		out[i] = r
	}
	return out
}

type testEnv struct {
	router   *gin.Engine
	manager  *experiment.Manager
	files    *store.FileStore
	notifier *recordingNotifier
	images   string
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.SessionSecret = "test-secret"
	cfg.ImagesDir = t.TempDir()
	cfg.ResultsDir = t.TempDir()
	if mutate != nil {
		mutate(&cfg)
	}
	require.NoError(t, os.WriteFile(filepath.Join(cfg.ImagesDir, "chart1.png"), []byte("png"), 0o644))

	charts, err := stimulus.ParseChartData(strings.NewReader("ChartID,Label,ValueA,ValueB\n2,North,10,12\n2,South,7,\n"), "charts.csv")
	require.NoError(t, err)

	files := store.NewFileStore(cfg.ResultsDir)
	catalog := &stimulus.Catalog{Source: "memory", Rows: rows(2)}
	m := experiment.NewManager(experiment.ManagerOptions{
		Catalog:  func() (*stimulus.Catalog, error) { return catalog, nil },
		Assigner: experiment.NewAssigner(rand.New(rand.NewSource(7))),
		Timing:   cfg.Timing(),
		Exporter: experiment.NewExporter(files),
		Assets:   DirAssets{ImagesDir: cfg.ImagesDir, Charts: charts},
	})
	n := &recordingNotifier{}
	r := NewRouter(Deps{
		Config:   cfg,
		Manager:  m,
		Charts:   charts,
		Files:    files,
		Notifier: n,
		Static:   staticserver.Handler(),
	})
	return &testEnv{router: r, manager: m, files: files, notifier: n, images: cfg.ImagesDir}
}

func (e *testEnv) do(t *testing.T, method, path, sessionID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set(sessionHeader, sessionID)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeView(t *testing.T, w *httptest.ResponseRecorder) experiment.View {
	t.Helper()
	var v experiment.View
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (e *testEnv) start(t *testing.T, group string) experiment.View {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/session?group="+group, "", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	v := decodeView(t, w)
	assert.Equal(t, v.SessionID, w.Header().Get(sessionHeader))
	return v
}

func (e *testEnv) finish(t *testing.T, id string) experiment.View {
	t.Helper()
	w := e.do(t, http.MethodGet, "/api/session", id, nil)
	v := decodeView(t, w)
	three := 3
	for i := 0; i < 100 && !v.Completed; i++ {
		a := experiment.Action{Kind: experiment.ActionContinue}
		switch v.Stage {
		case experiment.StageG3Eval:
			a = experiment.Action{Kind: experiment.ActionRate, MemoryEstimate: &three}
		case experiment.StageQ1, experiment.StageQ2, experiment.StageG2Questions, experiment.StageG3Questions:
			a = experiment.Action{Kind: experiment.ActionAnswer, Answer: "B", Confidence: &three}
		}
		w = e.do(t, http.MethodPost, "/api/session/submit", id, a)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		v = decodeView(t, w)
	}
	require.True(t, v.Completed, "session should complete")
	return v
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t, nil)
	w := e.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestStartSessionWithGroupOverride(t *testing.T) {
	e := newTestEnv(t, nil)
	v := e.start(t, "g3")

	assert.Equal(t, experiment.GroupG3, v.Group)
	assert.Equal(t, experiment.StageWelcome, v.Stage)
	assert.Equal(t, experiment.PhaseShow, v.Phase)
	assert.Equal(t, 2, v.StimulusCount)
	assert.Equal(t, 1, e.manager.Count())
}

func TestStartSessionResumesFromCookie(t *testing.T) {
	e := newTestEnv(t, nil)

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/session", nil))
	require.Equal(t, http.StatusCreated, w.Code)
	first := decodeView(t, w)
	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies, "session cookie should be set")

	req := httptest.NewRequest(http.MethodPost, "/api/session", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w = httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, first.SessionID, decodeView(t, w).SessionID)

	req = httptest.NewRequest(http.MethodPost, "/api/session?restart=1", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w = httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.NotEqual(t, first.SessionID, decodeView(t, w).SessionID)
	assert.Equal(t, 2, e.manager.Count())
}

func TestUnknownSession(t *testing.T) {
	e := newTestEnv(t, nil)
	w := e.do(t, http.MethodGet, "/api/session", "nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "session_not_found")

	w = e.do(t, http.MethodPost, "/api/session/submit", "", experiment.Action{Kind: experiment.ActionContinue})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSubmitValidation(t *testing.T) {
	e := newTestEnv(t, nil)
	v := e.start(t, "G1")

	w := e.do(t, http.MethodPost, "/api/session/submit", v.SessionID, experiment.Action{Kind: experiment.ActionAnswer, Answer: "A"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_action")

	req := httptest.NewRequest(http.MethodPost, "/api/session/submit", strings.NewReader("{"))
	req.Header.Set(sessionHeader, v.SessionID)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_body")
}

func TestFullRunExportsFiles(t *testing.T) {
	e := newTestEnv(t, nil)
	v := e.start(t, "G2")
	end := e.finish(t, v.SessionID)

	require.NotNil(t, end.Export)
	assert.Empty(t, end.Export.Error)
	assert.True(t, strings.HasPrefix(end.Export.Results, "results_"))

	files, err := e.files.List()
	require.NoError(t, err)
	assert.Len(t, files, 2)
	assert.Positive(t, e.notifier.count(v.SessionID))

	w := e.do(t, http.MethodPost, "/api/session/submit", v.SessionID, experiment.Action{Kind: experiment.ActionContinue})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "session_ended")

	// polling a completed session must not export again
	e.do(t, http.MethodGet, "/api/session", v.SessionID, nil)
	files, err = e.files.List()
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestVisualResolution(t *testing.T) {
	e := newTestEnv(t, nil)
	v := e.start(t, "G1")

	for i := 0; i < 10 && v.Stage != experiment.StageImage; i++ {
		w := e.do(t, http.MethodPost, "/api/session/submit", v.SessionID, experiment.Action{Kind: experiment.ActionContinue})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		v = decodeView(t, w)
	}
	require.Equal(t, experiment.StageImage, v.Stage)
	require.NotNil(t, v.Visual)
	assert.Equal(t, "image", v.Visual.Kind)
	assert.Equal(t, "chart1.png", v.Visual.Ref)

	w := e.do(t, http.MethodGet, "/images/chart1.png", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestChartEndpoint(t *testing.T) {
	e := newTestEnv(t, nil)

	w := e.do(t, http.MethodGet, "/api/charts/2", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		ID      int            `json:"id"`
		Empty   bool           `json:"empty"`
		Options map[string]any `json:"options"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2, body.ID)
	assert.False(t, body.Empty)
	assert.Contains(t, body.Options, "series")

	w = e.do(t, http.MethodGet, "/api/charts/99", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"empty":true`)

	w = e.do(t, http.MethodGet, "/api/charts/abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDevRoutesDisabledByDefault(t *testing.T) {
	e := newTestEnv(t, nil)
	v := e.start(t, "G1")
	w := e.do(t, http.MethodPost, "/api/dev/group", v.SessionID, gin.H{"group": "G2"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDevRoutes(t *testing.T) {
	e := newTestEnv(t, func(c *config.Config) { c.DevMode = true })
	v := e.start(t, "G1")

	w := e.do(t, http.MethodPost, "/api/dev/group", v.SessionID, gin.H{"group": "g3"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	v = decodeView(t, w)
	assert.Equal(t, experiment.GroupG3, v.Group)
	assert.Equal(t, experiment.StageWelcome, v.Stage)

	w = e.do(t, http.MethodPost, "/api/dev/group", v.SessionID, gin.H{"group": "G9"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/api/dev/jump", v.SessionID, gin.H{"index": 1})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	v = decodeView(t, w)
	assert.Equal(t, 1, v.GraphIndex)

	w = e.do(t, http.MethodPost, "/api/dev/jump", v.SessionID, gin.H{"index": 5})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_index")

	w = e.do(t, http.MethodPost, "/api/dev/jump", v.SessionID, gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/api/dev/timing", v.SessionID, gin.H{"displaySeconds": 5, "questionSeconds": 10})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = e.do(t, http.MethodPost, "/api/dev/timing", v.SessionID, gin.H{"displaySeconds": -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_timing")
}

func TestAdminResults(t *testing.T) {
	e := newTestEnv(t, func(c *config.Config) {
		c.AdminUser = "admin"
		c.AdminPass = "secret"
	})
	v := e.start(t, "G1")
	end := e.finish(t, v.SessionID)
	require.NotNil(t, end.Export)

	w := e.do(t, http.MethodGet, "/admin/results", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	get := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.SetBasicAuth("admin", "secret")
		rec := httptest.NewRecorder()
		e.router.ServeHTTP(rec, req)
		return rec
	}

	w = get("/admin/results")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), end.Export.Results)

	w = get("/admin/results/" + end.Export.Results)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), end.Export.Results)
	assert.True(t, strings.HasPrefix(w.Body.String(), "chart_number"), w.Body.String())

	w = get("/admin/results/results_missing.csv")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = get("/admin/results/notes.txt")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminDisabledWithoutCredentials(t *testing.T) {
	e := newTestEnv(t, nil)
	w := e.do(t, http.MethodGet, "/admin/results", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRateLimit(t *testing.T) {
	r := gin.New()
	r.Use(RateLimit(time.Minute, 2))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	codes := make([]int, 3)
	for i := range codes {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		codes[i] = w.Code
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)
}

func TestDirAssets(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.png"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	d := DirAssets{ImagesDir: dir}
	assert.True(t, d.ImageExists("a.png"))
	assert.False(t, d.ImageExists("b.png"))
	assert.False(t, d.ImageExists("sub"))
	assert.False(t, d.ImageExists("../a.png"))
	assert.False(t, d.ImageExists(""))
	assert.False(t, d.ChartExists(1))
}

func TestRoutesTakePrecedenceOverPage(t *testing.T) {
	e := newTestEnv(t, nil)

	w := e.do(t, http.MethodGet, "/images/chart1.png", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "png", w.Body.String())

	for _, path := range []string{"/images/missing.png", "/api/unknown", "/admin/results"} {
		w = e.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusNotFound, w.Code, path)
		assert.Contains(t, w.Body.String(), "not_found", path)
	}

	w = e.do(t, http.MethodGet, "/api/charts/2", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"options"`)

	w = e.do(t, http.MethodGet, "/study/anything", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `<main id="app">`)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
}
