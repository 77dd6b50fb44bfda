package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/VoteDrop/internal/config"
	"github.com/dharsanguruparan/VoteDrop/internal/logging"
	"github.com/dharsanguruparan/VoteDrop/internal/model"
	"github.com/dharsanguruparan/VoteDrop/internal/pipeline"
	"github.com/dharsanguruparan/VoteDrop/internal/processing"
	"github.com/dharsanguruparan/VoteDrop/internal/results"
	"github.com/dharsanguruparan/VoteDrop/internal/signing"
	"github.com/dharsanguruparan/VoteDrop/internal/storage"
)

const cleanUpload = `[
	{"DNI":"12345678","categoria":"presidencial","partido":"azul","region":"Lima"},
	{"DNI":"87654321","categoria":"presidencial","partido":"blanco","region":"Cusco","mesa":12}
]`

const dirtyUpload = `[
	{"DNI":"123","categoria":"congreso","partido":"verde","region":"Lima"},
	{"DNI":"11112222","categoria":"congreso","partido":"nulo","region":"Lima"}
]`

// inlineDispatcher runs jobs on the request goroutine so tests can observe
// their effect right after the response.
type inlineDispatcher struct {
	runner processing.Runner
}

func (d inlineDispatcher) Dispatch(ctx context.Context, job processing.Job) error {
	return processing.Run(ctx, d.runner, job, logging.Discard())
}

type testServer struct {
	t     *testing.T
	srv   *Server
	h     http.Handler
	token string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := &config.Config{
		MaxFileSize:   1 << 20,
		AdminEmail:    "admin@votaciones.com",
		AdminPassword: "1234",
		SessionTTL:    time.Hour,
	}
	mem := storage.NewMemoryStore()
	p := pipeline.New(mem.Pending(), mem.Applied(), pipeline.Options{Logger: logging.Discard()})
	srv := New(cfg, p, inlineDispatcher{runner: p}, signing.NewSigner([]byte("test-secret")), logging.Discard())
	ts := &testServer{t: t, srv: srv, h: srv.Handler()}
	ts.token = ts.login("admin@votaciones.com", "1234")
	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	if ts.token != "" && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+ts.token)
	}
	rec := httptest.NewRecorder()
	ts.h.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) login(email, password string) string {
	body, _ := json.Marshal(loginRequest{Email: email, Password: password})
	rec := httptest.NewRecorder()
	ts.h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/login", bytes.NewReader(body)))
	if rec.Code != http.StatusOK {
		return ""
	}
	var resp loginResponse
	require.NoError(ts.t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Token
}

func (ts *testServer) upload(name, content string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(ts.t, err)
	_, _ = fw.Write([]byte(content))
	require.NoError(ts.t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/datasets", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return ts.do(req)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLogin(t *testing.T) {
	ts := newTestServer(t)
	require.NotEmpty(t, ts.token)
	assert.Empty(t, ts.login("admin@votaciones.com", "nope"))
	assert.Empty(t, ts.login("other@votaciones.com", "1234"))
	assert.NotEmpty(t, ts.login("  ADMIN@votaciones.com ", "1234"))
}

func TestAdminRoutesNeedToken(t *testing.T) {
	ts := newTestServer(t)
	for _, auth := range []string{"none", "Bearer garbage"} {
		req := httptest.NewRequest(http.MethodGet, "/datasets", nil)
		req.Header.Set("Authorization", auth)
		rec := ts.do(req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, auth)
	}
	// Results are public.
	req := httptest.NewRequest(http.MethodGet, "/results", nil)
	req.Header.Set("Authorization", "none")
	assert.Equal(t, http.StatusOK, ts.do(req).Code)
}

func TestUploadVerifyApply(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.upload("resultados.json", cleanUpload)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	ds := decode[datasetView](t, rec)
	assert.Equal(t, model.StatusPending, ds.Status)
	assert.Equal(t, 2, ds.Records)
	assert.Equal(t, []model.Action{model.ActionVerify}, ds.Actions)
	assert.Equal(t, "N/A", ds.RawData[0].Candidato)
	assert.Equal(t, "AZUL", ds.RawData[0].Partido)

	rec = ts.do(httptest.NewRequest(http.MethodPost, "/datasets/"+ds.ID+"/apply", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(httptest.NewRequest(http.MethodPost, "/datasets/"+ds.ID+"/verify", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/datasets/"+ds.ID, nil))
	ds = decode[datasetView](t, rec)
	assert.Equal(t, model.StatusVerified, ds.Status)
	assert.Contains(t, ds.Actions, model.ActionApply)
	require.Len(t, ds.Issues, 1)
	assert.Equal(t, model.LevelWarning, ds.Issues[0].Level)

	rec = ts.do(httptest.NewRequest(http.MethodPost, "/datasets/"+ds.ID+"/apply", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/datasets/"+ds.ID, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	votes := decode[[]model.AppliedVote](t, ts.do(httptest.NewRequest(http.MethodGet, "/votes", nil)))
	require.Len(t, votes, 2)
	assert.Equal(t, ds.ID, votes[0].SourceDatasetID)

	summary := decode[results.Summary](t, ts.do(httptest.NewRequest(http.MethodGet, "/results", nil)))
	assert.Equal(t, 2, summary.Total)
}

func TestErrorDatasetFlow(t *testing.T) {
	ts := newTestServer(t)
	ds := decode[datasetView](t, ts.upload("congreso.json", dirtyUpload))

	require.Equal(t, http.StatusAccepted, ts.do(httptest.NewRequest(http.MethodPost, "/datasets/"+ds.ID+"/verify", nil)).Code)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/datasets?status=error", nil))
	list := decode[[]datasetView](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, []model.Action{model.ActionDelete, model.ActionViewIssues}, list[0].Actions)

	issues := decode[[]model.DataIssue](t, ts.do(httptest.NewRequest(http.MethodGet, "/datasets/"+ds.ID+"/issues?level=ERROR", nil)))
	require.Len(t, issues, 1)
	assert.Equal(t, pipeline.IssueInvalidDNI, issues[0].Type)

	assert.Equal(t, http.StatusConflict, ts.do(httptest.NewRequest(http.MethodPost, "/datasets/"+ds.ID+"/verify", nil)).Code)
	assert.Equal(t, http.StatusConflict, ts.do(httptest.NewRequest(http.MethodPost, "/datasets/"+ds.ID+"/apply", nil)).Code)

	assert.Equal(t, http.StatusNoContent, ts.do(httptest.NewRequest(http.MethodDelete, "/datasets/"+ds.ID, nil)).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(httptest.NewRequest(http.MethodDelete, "/datasets/"+ds.ID, nil)).Code)

	votes := decode[[]model.AppliedVote](t, ts.do(httptest.NewRequest(http.MethodGet, "/votes", nil)))
	assert.Empty(t, votes)
}

func TestUploadRejectsBadInput(t *testing.T) {
	ts := newTestServer(t)
	cases := map[string]string{
		"malformed":    `{"DNI":`,
		"empty list":   `[]`,
		"not a list":   `{"DNI":"12345678"}`,
		"bad category": `[{"DNI":"12345678","categoria":"alcalde","partido":"x","region":"y"}]`,
		"missing key":  `[{"DNI":"12345678","categoria":"congreso","partido":"x"}]`,
	}
	for name, body := range cases {
		rec := ts.upload("bad.json", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
	}
	list := decode[[]datasetView](t, ts.do(httptest.NewRequest(http.MethodGet, "/datasets", nil)))
	assert.Empty(t, list)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/datasets?status=archived", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/datasets", strings.NewReader("x"))
	req.Header.Set("Content-Type", "text/plain")
	assert.Equal(t, http.StatusBadRequest, ts.do(req).Code)
}

func TestUnknownDataset(t *testing.T) {
	ts := newTestServer(t)
	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/datasets/nope", nil),
		httptest.NewRequest(http.MethodGet, "/datasets/nope/issues", nil),
		httptest.NewRequest(http.MethodPost, "/datasets/nope/verify", nil),
		httptest.NewRequest(http.MethodGet, "/datasets/nope/unknown", nil),
	} {
		assert.Equal(t, http.StatusNotFound, ts.do(req).Code, req.URL.Path)
	}
}

type fakeLinker struct {
	err  error
	last string
}

func (f *fakeLinker) PresignUploadURL(_ context.Context, datasetID, name string, expiry time.Duration) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.last = datasetID + "/" + name
	return "https://minio.local/raw/" + f.last + "?X-Amz-Expires=" + expiry.String(), nil
}

func TestDatasetSourceLink(t *testing.T) {
	ts := newTestServer(t)
	ds := decode[datasetView](t, ts.upload("lima.json", cleanUpload))

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/datasets/"+ds.ID+"/source", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not configured")

	links := &fakeLinker{}
	ts.srv.WithUploadLinks(links)
	rec = ts.do(httptest.NewRequest(http.MethodGet, "/datasets/"+ds.ID+"/source", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	link := decode[sourceLink](t, rec)
	assert.Equal(t, ds.ID+"/lima.json", links.last)
	assert.Contains(t, link.URL, "X-Amz-Expires=15m0s")
	assert.WithinDuration(t, time.Now().Add(sourceLinkTTL), link.ExpiresAt, time.Minute)

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/datasets/missing/source", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "dataset not found")

	rec = ts.do(httptest.NewRequest(http.MethodPost, "/datasets/"+ds.ID+"/source", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	links.err = errors.New("minio down")
	rec = ts.do(httptest.NewRequest(http.MethodGet, "/datasets/"+ds.ID+"/source", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
