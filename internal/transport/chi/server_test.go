package chi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	chilib "github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/kailas-cloud/coursedex/internal/domain"
	"github.com/kailas-cloud/coursedex/internal/domain/course"
	"github.com/kailas-cloud/coursedex/internal/domain/rec"
	domusage "github.com/kailas-cloud/coursedex/internal/domain/usage"
	"github.com/kailas-cloud/coursedex/internal/metrics"
	healthuc "github.com/kailas-cloud/coursedex/internal/usecase/health"
	recommenduc "github.com/kailas-cloud/coursedex/internal/usecase/recommend"
)

func TestMain(m *testing.M) {
	metrics.RegisterRetrievalMetrics()
	os.Exit(m.Run())
}

// --- Mocks ---

type mockRecommender struct {
	recs      []rec.Recommendation
	err       error
	got       *rec.Request
	filters   recommenduc.FilterOptions
	info      recommenduc.CatalogInfo
	reloadErr error
	reloads   int
}

func (m *mockRecommender) Recommend(_ context.Context, req *rec.Request) ([]rec.Recommendation, error) {
	m.got = req
	return m.recs, m.err
}

func (m *mockRecommender) Filters() (recommenduc.FilterOptions, error) {
	if m.err != nil {
		return recommenduc.FilterOptions{}, m.err
	}
	return m.filters, nil
}

func (m *mockRecommender) Info() (recommenduc.CatalogInfo, error) {
	if m.err != nil {
		return recommenduc.CatalogInfo{}, m.err
	}
	return m.info, nil
}

func (m *mockRecommender) Reload(_ context.Context) error {
	m.reloads++
	return m.reloadErr
}

type mockAdviser struct {
	recs   []rec.Recommendation
	deltas []string
	err    error // returned before onCourses fires
}

func (m *mockAdviser) Advise(
	_ context.Context, _ *rec.Request,
	onCourses func([]rec.Recommendation) error,
	onDelta func(string) error,
) error {
	if m.err != nil {
		return m.err
	}
	if err := onCourses(m.recs); err != nil {
		return err
	}
	for _, d := range m.deltas {
		if err := onDelta(d); err != nil {
			return err
		}
	}
	return nil
}

type mockUsage struct{}

func (m *mockUsage) GetReport(_ context.Context, period domusage.Period) domusage.Report {
	b := domusage.NewBudget(1000, 700, false, 0)
	return domusage.NewReport(period, 0, 0, 300, b)
}

type mockHealth struct {
	report healthuc.Report
}

func (m *mockHealth) Check(_ context.Context) healthuc.Report { return m.report }

func newTestRouter(rc Recommender, ad Adviser) *chilib.Mux {
	s := NewServer(rc, ad, &mockUsage{}, &mockHealth{
		report: healthuc.Report{Status: healthuc.Healthy, Checks: map[string]healthuc.CheckResult{"database": healthuc.CheckOK}},
	}, zap.NewNop())
	r := chilib.NewRouter()
	s.Routes(r)
	return r
}

func testCourse() *course.Course {
	return &course.Course{
		Offering:    "EN.601.226",
		Section:     "01",
		Title:       "Data Structures",
		Description: "Fundamental data structures.",
		Department:  "EN Computer Science",
		School:      "Whiting School of Engineering",
		Level:       "Lower Level Undergraduate",
		Credits:     "4.00",
		Status:      "Open",
		Seats:       "12/30",
	}
}

// --- Recommend ---

func TestRecommend_Success(t *testing.T) {
	rc := &mockRecommender{
		recs: []rec.Recommendation{rec.NewRecommendation(testCourse(), 0.91, 3.4, 0.82)},
		info: recommenduc.CatalogInfo{Version: "abc123", Courses: 1},
	}
	router := newTestRouter(rc, nil)

	body := `{"query": "data structures", "top_k": 5}`
	req := httptest.NewRequest("POST", "/api/v1/recommend", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("got %d, want %d: %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	var resp recommendResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Count != 1 || len(resp.Results) != 1 {
		t.Fatalf("expected 1 result, got count=%d len=%d", resp.Count, len(resp.Results))
	}
	got := resp.Results[0]
	if got.Offering != "EN.601.226" || got.Title != "Data Structures" {
		t.Errorf("unexpected course fields: %+v", got)
	}
	if got.CombinedScore != 0.91 || got.LexicalScore != 3.4 || got.SemanticScore != 0.82 {
		t.Errorf("unexpected scores: %+v", got)
	}
	if resp.CatalogVersion != "abc123" {
		t.Errorf("expected catalog version, got %q", resp.CatalogVersion)
	}
	if rc.got.TopK() != 5 {
		t.Errorf("expected top_k=5 passed through, got %d", rc.got.TopK())
	}
}

func TestRecommend_DefaultTopK(t *testing.T) {
	rc := &mockRecommender{}
	router := newTestRouter(rc, nil)

	req := httptest.NewRequest("POST", "/api/v1/recommend", strings.NewReader(`{"query": "math"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rr.Code, rr.Body.String())
	}
	if rc.got.TopK() != rec.DefaultTopK {
		t.Errorf("expected default top_k=%d when omitted, got %d", rec.DefaultTopK, rc.got.TopK())
	}
}

func TestRecommend_FiltersPassedThrough(t *testing.T) {
	rc := &mockRecommender{}
	router := newTestRouter(rc, nil)

	body := `{"query": "bio", "filters": {"school": "Krieger School of Arts and Sciences"}}`
	req := httptest.NewRequest("POST", "/api/v1/recommend", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rr.Code, rr.Body.String())
	}
	if rc.got.Filters()["school"] != "Krieger School of Arts and Sciences" {
		t.Errorf("filter not passed through: %v", rc.got.Filters())
	}
}

func TestRecommend_BadJSON(t *testing.T) {
	router := newTestRouter(&mockRecommender{}, nil)

	req := httptest.NewRequest("POST", "/api/v1/recommend", strings.NewReader("{not json"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("got %d, want 400", rr.Code)
	}
}

func TestRecommend_EmptyQuery(t *testing.T) {
	router := newTestRouter(&mockRecommender{}, nil)

	req := httptest.NewRequest("POST", "/api/v1/recommend", strings.NewReader(`{"query": "   "}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rr.Code)
	}
	var errResp errorResponse
	_ = json.NewDecoder(rr.Body).Decode(&errResp)
	if errResp.Code != codeEmptyQuery {
		t.Errorf("got code %q, want %q", errResp.Code, codeEmptyQuery)
	}
}

func TestRecommend_QueryTooLong(t *testing.T) {
	router := newTestRouter(&mockRecommender{}, nil)

	body := `{"query": "` + strings.Repeat("a", rec.MaxQueryLength+1) + `"}`
	req := httptest.NewRequest("POST", "/api/v1/recommend", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rr.Code)
	}
	var errResp errorResponse
	_ = json.NewDecoder(rr.Body).Decode(&errResp)
	if errResp.Code != codeQueryTooLong {
		t.Errorf("got code %q, want %q", errResp.Code, codeQueryTooLong)
	}
}

func TestRecommend_InvalidTopK(t *testing.T) {
	router := newTestRouter(&mockRecommender{}, nil)

	req := httptest.NewRequest("POST", "/api/v1/recommend", strings.NewReader(`{"query": "x", "top_k": 0}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rr.Code)
	}
	var errResp errorResponse
	_ = json.NewDecoder(rr.Body).Decode(&errResp)
	if errResp.Code != codeInvalidTopK {
		t.Errorf("got code %q, want %q", errResp.Code, codeInvalidTopK)
	}
}

func TestRecommend_InvalidFilterField(t *testing.T) {
	router := newTestRouter(&mockRecommender{}, nil)

	body := `{"query": "x", "filters": {"instructor": "Smith"}}`
	req := httptest.NewRequest("POST", "/api/v1/recommend", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rr.Code)
	}
	var errResp errorResponse
	_ = json.NewDecoder(rr.Body).Decode(&errResp)
	if errResp.Code != codeInvalidFilter {
		t.Errorf("got code %q, want %q", errResp.Code, codeInvalidFilter)
	}
	if !strings.Contains(errResp.Message, "instructor") {
		t.Errorf("message should name the offending field: %q", errResp.Message)
	}
}

func TestRecommend_IndexNotReady(t *testing.T) {
	router := newTestRouter(&mockRecommender{err: domain.ErrIndexNotReady}, nil)

	req := httptest.NewRequest("POST", "/api/v1/recommend", strings.NewReader(`{"query": "x"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("got %d, want 503", rr.Code)
	}
}

func TestRecommend_RetrievalUnavailable(t *testing.T) {
	router := newTestRouter(&mockRecommender{err: domain.ErrRetrievalUnavailable}, nil)

	req := httptest.NewRequest("POST", "/api/v1/recommend", strings.NewReader(`{"query": "x"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Errorf("got %d, want 502", rr.Code)
	}
}

func TestRecommend_QuotaExceeded(t *testing.T) {
	router := newTestRouter(&mockRecommender{err: domain.ErrEmbeddingQuotaExceeded}, nil)

	req := httptest.NewRequest("POST", "/api/v1/recommend", strings.NewReader(`{"query": "x"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusPaymentRequired {
		t.Errorf("got %d, want 402", rr.Code)
	}
}

// --- Filters ---

func TestFilters_Success(t *testing.T) {
	rc := &mockRecommender{
		filters: recommenduc.FilterOptions{
			Schools:     []string{"Whiting School of Engineering"},
			Departments: []string{"EN Computer Science"},
			Levels:      []string{"Lower Level Undergraduate"},
		},
		info: recommenduc.CatalogInfo{Version: "abc123", Courses: 42},
	}
	router := newTestRouter(rc, nil)

	req := httptest.NewRequest("GET", "/api/v1/filters", http.NoBody)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rr.Code, rr.Body.String())
	}
	var resp filtersResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Schools) != 1 || resp.Schools[0] != "Whiting School of Engineering" {
		t.Errorf("unexpected schools: %v", resp.Schools)
	}
	if resp.Courses != 42 {
		t.Errorf("expected 42 courses, got %d", resp.Courses)
	}
}

func TestFilters_NotReady(t *testing.T) {
	router := newTestRouter(&mockRecommender{err: domain.ErrIndexNotReady}, nil)

	req := httptest.NewRequest("GET", "/api/v1/filters", http.NoBody)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("got %d, want 503", rr.Code)
	}
}

// --- Reload ---

func TestReload_Success(t *testing.T) {
	rc := &mockRecommender{info: recommenduc.CatalogInfo{Version: "def456", Courses: 7, VectorDim: 1536}}
	router := newTestRouter(rc, nil)

	req := httptest.NewRequest("POST", "/api/v1/reload", http.NoBody)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rr.Code, rr.Body.String())
	}
	if rc.reloads != 1 {
		t.Errorf("expected 1 reload call, got %d", rc.reloads)
	}
	var resp reloadResponse
	_ = json.NewDecoder(rr.Body).Decode(&resp)
	if resp.Courses != 7 || resp.CatalogVersion != "def456" || resp.VectorDim != 1536 {
		t.Errorf("unexpected reload response: %+v", resp)
	}
}

func TestReload_Failure(t *testing.T) {
	rc := &mockRecommender{reloadErr: domain.ErrRetrievalUnavailable}
	router := newTestRouter(rc, nil)

	req := httptest.NewRequest("POST", "/api/v1/reload", http.NoBody)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("got %d, want 500", rr.Code)
	}
}

// --- Usage ---

func TestUsage_DefaultPeriod(t *testing.T) {
	router := newTestRouter(&mockRecommender{}, nil)

	req := httptest.NewRequest("GET", "/api/v1/usage", http.NoBody)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rr.Code, rr.Body.String())
	}
	var resp usageResponse
	_ = json.NewDecoder(rr.Body).Decode(&resp)
	if resp.Period != "month" {
		t.Errorf("expected default period month, got %q", resp.Period)
	}
	if resp.TokensUsed != 300 || resp.TokensRemaining != 700 {
		t.Errorf("unexpected usage: %+v", resp)
	}
}

func TestUsage_InvalidPeriod(t *testing.T) {
	router := newTestRouter(&mockRecommender{}, nil)

	req := httptest.NewRequest("GET", "/api/v1/usage?period=year", http.NoBody)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("got %d, want 400", rr.Code)
	}
}

// --- Health ---

func TestHealth_OK(t *testing.T) {
	router := newTestRouter(&mockRecommender{}, nil)

	req := httptest.NewRequest("GET", "/healthz", http.NoBody)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("got %d, want 200", rr.Code)
	}
}

func TestHealth_Degraded(t *testing.T) {
	s := NewServer(&mockRecommender{}, nil, &mockUsage{}, &mockHealth{
		report: healthuc.Report{Status: healthuc.Degraded, Checks: map[string]healthuc.CheckResult{"database": healthuc.CheckError}},
	}, zap.NewNop())
	r := chilib.NewRouter()
	s.Routes(r)

	req := httptest.NewRequest("GET", "/healthz", http.NoBody)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("got %d, want 503", rr.Code)
	}
}

// --- Advise ---

func TestAdvise_StreamsSSE(t *testing.T) {
	ad := &mockAdviser{
		recs:   []rec.Recommendation{rec.NewRecommendation(testCourse(), 0.9, 3.0, 0.8)},
		deltas: []string{"Take ", "Data Structures."},
	}
	router := newTestRouter(&mockRecommender{}, ad)

	req := httptest.NewRequest("POST", "/api/v1/advise", strings.NewReader(`{"query": "data structures"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("unexpected content type: %q", ct)
	}

	body := rr.Body.String()
	coursesIdx := strings.Index(body, "event: courses")
	deltaIdx := strings.Index(body, "event: delta")
	doneIdx := strings.Index(body, "event: done")
	if coursesIdx < 0 || deltaIdx < 0 || doneIdx < 0 {
		t.Fatalf("missing SSE events in stream:\n%s", body)
	}
	if !(coursesIdx < deltaIdx && deltaIdx < doneIdx) {
		t.Errorf("events out of order:\n%s", body)
	}
	if !strings.Contains(body, "EN.601.226") {
		t.Errorf("courses event should carry the course payload:\n%s", body)
	}
	if !strings.Contains(body, "Take ") {
		t.Errorf("delta events should carry the answer chunks:\n%s", body)
	}
}

func TestAdvise_RetrievalError_JSONResponse(t *testing.T) {
	ad := &mockAdviser{err: domain.ErrIndexNotReady}
	router := newTestRouter(&mockRecommender{}, ad)

	req := httptest.NewRequest("POST", "/api/v1/advise", strings.NewReader(`{"query": "anything"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("got %d, want 503", rr.Code)
	}
}

func TestAdvise_NotConfigured(t *testing.T) {
	router := newTestRouter(&mockRecommender{}, nil)

	req := httptest.NewRequest("POST", "/api/v1/advise", strings.NewReader(`{"query": "anything"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotImplemented {
		t.Errorf("got %d, want 501", rr.Code)
	}
}
