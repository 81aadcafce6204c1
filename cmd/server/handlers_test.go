package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelminds/gradeboard/internal/alert"
	"github.com/modelminds/gradeboard/internal/chat"
	"github.com/modelminds/gradeboard/internal/config"
	"github.com/modelminds/gradeboard/internal/monitoring"
	"github.com/modelminds/gradeboard/internal/session"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// sampleCSV renders n rows whose final score is an exact linear function
// of the features, so the fitted model reproduces it to rounding error.
func sampleCSV(n int) (string, []float64) {
	rng := rand.New(rand.NewSource(3))

	var b strings.Builder
	b.WriteString("Student_ID,First_Name,Email_ID,Gender,Department,Midterm_Score,Assignments_Avg,Quizzes_Avg,Project_Score,Attendance,Study_Hours_per_Week,Sleep_Hours,Final_Score\n")

	finals := make([]float64, n)
	for i := 0; i < n; i++ {
		midterm := math.Round((40+rng.Float64()*60)*100) / 100
		assignments := math.Round((40+rng.Float64()*60)*100) / 100
		quizzes := math.Round((40+rng.Float64()*60)*100) / 100
		project := math.Round((40+rng.Float64()*60)*100) / 100
		attendance := math.Round((50+rng.Float64()*50)*100) / 100
		study := math.Round((2+rng.Float64()*28)*100) / 100
		sleep := math.Round((4+rng.Float64()*6)*100) / 100

		final := 0.2*midterm + 0.2*assignments + 0.15*quizzes + 0.15*project +
			0.1*attendance + 1.0*study + 0.5*sleep
		finals[i] = final

		fmt.Fprintf(&b, "S%04d,Student%d,student%d@uni.edu,F,CS,%g,%g,%g,%g,%g,%g,%g,%g\n",
			i+1, i+1, i+1, midterm, assignments, quizzes, project, attendance, study, sleep, final)
	}
	return b.String(), finals
}

type testEnv struct {
	srv       *httptest.Server
	transport *alert.RecordingTransport
	finals    []float64
	cookie    *http.Cookie
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	csvData, finals := sampleCSV(100)
	path := filepath.Join(t.TempDir(), "students.csv")
	require.NoError(t, os.WriteFile(path, []byte(csvData), 0o644))

	cfg := config.Config{
		Port:           "0",
		DataPath:       path,
		SenderEmail:    "alerts@modelminds.edu",
		SenderPassword: "app-password",
		GroqAPIKey:     "test-key",
		ChatModel:      "llama3-8b-8192",
	}
	if mutate != nil {
		mutate(&cfg)
	}

	sessions := session.NewManager(time.Minute)
	t.Cleanup(sessions.Close)

	transport := &alert.RecordingTransport{}
	dispatcher := alert.NewDispatcher(transport, cfg.SenderEmail)
	chatClient := chat.NewClient(cfg.GroqAPIKey, cfg.ChatModel, cfg.ChatURL)

	s := newServer(cfg, sessions, dispatcher, chatClient, monitoring.NewLogger())
	srv := httptest.NewServer(s.router())
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, transport: transport, finals: finals}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if e.cookie != nil {
		req.AddCookie(e.cookie)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	for _, c := range resp.Cookies() {
		if c.Name == sessionCookie && c.Value != "" {
			e.cookie = c
		}
	}

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func (e *testEnv) startSession(t *testing.T, body any) {
	t.Helper()
	resp, _ := e.do(t, http.MethodPost, "/api/session", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func studentMetrics(midterm, assignments, quizzes, project, attendance, study, sleep float64) map[string]any {
	return map[string]any{
		"first_name":           "Maya",
		"email":                "maya@uni.edu",
		"midterm_score":        midterm,
		"assignments_avg":      assignments,
		"quizzes_avg":          quizzes,
		"project_score":        project,
		"attendance":           attendance,
		"study_hours_per_week": study,
		"sleep_hours":          sleep,
	}
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t, nil)
	resp, body := e.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestSessionLifecycle(t *testing.T) {
	e := newTestEnv(t, nil)

	resp, body := e.do(t, http.MethodPost, "/api/session", map[string]any{"role": "student"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "student", body["role"])
	assert.EqualValues(t, 100, body["rows"])
	require.NotNil(t, e.cookie)

	resp, body = e.do(t, http.MethodGet, "/api/session", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "student", body["role"])
	assert.Equal(t, true, body["established"])

	resp, _ = e.do(t, http.MethodDelete, "/api/session", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = e.do(t, http.MethodGet, "/api/session", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSessionNoCookie(t *testing.T) {
	e := newTestEnv(t, nil)
	resp, body := e.do(t, http.MethodGet, "/api/session", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", body["category"])
}

func TestSessionTeacherRequiresEmail(t *testing.T) {
	e := newTestEnv(t, nil)
	resp, body := e.do(t, http.MethodPost, "/api/session", map[string]any{"role": "teacher"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "teacher email")
}

func TestSessionInvalidRole(t *testing.T) {
	e := newTestEnv(t, nil)
	resp, _ := e.do(t, http.MethodPost, "/api/session", map[string]any{"role": "admin"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSessionUnknownStudentID(t *testing.T) {
	e := newTestEnv(t, nil)
	resp, body := e.do(t, http.MethodPost, "/api/session", map[string]any{
		"role":       "student",
		"student_id": "S9999",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body["error"], "S9999")

	// The half-created session must not survive the failed lookup.
	resp, _ = e.do(t, http.MethodGet, "/api/session", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSessionKnownStudentID(t *testing.T) {
	e := newTestEnv(t, nil)
	e.startSession(t, map[string]any{"role": "student", "student_id": "S0001"})

	resp, body := e.do(t, http.MethodGet, "/api/session", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	student, ok := body["student"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "S0001", student["student_id"])
}

func TestSessionMissingDataset(t *testing.T) {
	e := newTestEnv(t, func(cfg *config.Config) {
		cfg.DataPath = filepath.Join(t.TempDir(), "missing.csv")
	})

	resp, body := e.do(t, http.MethodPost, "/api/session", map[string]any{"role": "student"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "data_unavailable", body["category"])
}

func TestPredictStrongStudent(t *testing.T) {
	e := newTestEnv(t, nil)
	e.startSession(t, map[string]any{"role": "student"})

	// 0.2*90+0.2*85+0.15*88+0.15*92+0.1*95+1.0*20+0.5*8 = 85.5
	resp, body := e.do(t, http.MethodPost, "/api/predict",
		studentMetrics(90, 85, 88, 92, 95, 20, 8))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.InDelta(t, 85.5, body["predicted_score"].(float64), 0.01)
	assert.Equal(t, false, body["alert_sent"])
	risk := body["risk"].(map[string]any)
	assert.Equal(t, false, risk["at_risk"])
	assert.Empty(t, e.transport.Sent())
}

func TestPredictAtRiskDispatchesAlert(t *testing.T) {
	e := newTestEnv(t, nil)
	e.startSession(t, map[string]any{"role": "student"})

	// 0.2*50+0.2*40+0.15*45+0.15*50+0.1*60+1.0*5+0.5*5 = 45.75
	resp, body := e.do(t, http.MethodPost, "/api/predict",
		studentMetrics(50, 40, 45, 50, 60, 5, 5))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.InDelta(t, 45.75, body["predicted_score"].(float64), 0.01)
	assert.Equal(t, true, body["alert_sent"])

	riskBody := body["risk"].(map[string]any)
	assert.Equal(t, true, riskBody["at_risk"])
	reasons := riskBody["reasons"].([]any)
	assert.Len(t, reasons, 7)

	sent := e.transport.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "maya@uni.edu", sent[0].To)
	assert.Equal(t, alert.Subject, sent[0].Subject)
	assert.Contains(t, sent[0].Body, "Hi Maya,")
	for _, r := range reasons {
		assert.Contains(t, sent[0].Body, r.(string))
	}
}

func TestPredictAlertFailureIsNonFatal(t *testing.T) {
	e := newTestEnv(t, nil)
	e.transport.Err = fmt.Errorf("535 authentication failed")
	e.startSession(t, map[string]any{"role": "student"})

	resp, body := e.do(t, http.MethodPost, "/api/predict",
		studentMetrics(50, 40, 45, 50, 60, 5, 5))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, false, body["alert_sent"])
	assert.Contains(t, body["alert_error"], "mail delivery failed")
	assert.InDelta(t, 45.75, body["predicted_score"].(float64), 0.01)
}

func TestPredictMailNotConfigured(t *testing.T) {
	e := newTestEnv(t, func(cfg *config.Config) {
		cfg.SenderEmail = ""
		cfg.SenderPassword = ""
	})
	e.startSession(t, map[string]any{"role": "student"})

	resp, body := e.do(t, http.MethodPost, "/api/predict",
		studentMetrics(50, 40, 45, 50, 60, 5, 5))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["alert_sent"])
	assert.Contains(t, body["alert_error"], "not configured")
}

func TestPredictValidation(t *testing.T) {
	e := newTestEnv(t, nil)
	e.startSession(t, map[string]any{"role": "student"})

	resp, body := e.do(t, http.MethodPost, "/api/predict",
		studentMetrics(150, 40, 45, 50, 60, 5, 5))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation", body["category"])
	assert.Empty(t, e.transport.Sent())
}

func TestPredictRequiresStudentRole(t *testing.T) {
	e := newTestEnv(t, nil)
	e.startSession(t, map[string]any{"role": "teacher", "teacher_email": "prof@uni.edu"})

	resp, body := e.do(t, http.MethodPost, "/api/predict",
		studentMetrics(50, 40, 45, 50, 60, 5, 5))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "student role")
}

func TestStats(t *testing.T) {
	e := newTestEnv(t, nil)
	e.startSession(t, map[string]any{"role": "teacher", "teacher_email": "prof@uni.edu"})

	resp, body := e.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.InDelta(t, 1.0, body["r2"].(float64), 1e-6)
	assert.InDelta(t, 0.0, body["rmse"].(float64), 1e-3)
	assert.EqualValues(t, 100, body["rows"])
	assert.Len(t, body["preview"].([]any), 5)
}

func TestStatsRequiresTeacherRole(t *testing.T) {
	e := newTestEnv(t, nil)
	e.startSession(t, map[string]any{"role": "student"})

	resp, _ := e.do(t, http.MethodGet, "/api/stats", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetStudent(t *testing.T) {
	e := newTestEnv(t, nil)
	e.startSession(t, map[string]any{"role": "teacher", "teacher_email": "prof@uni.edu"})

	resp, body := e.do(t, http.MethodGet, "/api/students/S0042", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	student := body["student"].(map[string]any)
	assert.Equal(t, "S0042", student["student_id"])
	assert.InDelta(t, e.finals[41], body["predicted_score"].(float64), 0.01)

	resp, _ = e.do(t, http.MethodGet, "/api/students/S9999", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestInsights(t *testing.T) {
	e := newTestEnv(t, nil)
	e.startSession(t, map[string]any{"role": "student"})

	// Without a metric entry there is nothing to analyze.
	resp, _ := e.do(t, http.MethodGet, "/api/insights", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, _ = e.do(t, http.MethodPost, "/api/predict", studentMetrics(90, 85, 88, 92, 95, 20, 8))

	resp, body := e.do(t, http.MethodGet, "/api/insights", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body["band"], "Top 25%")
	assert.Contains(t, body["hints"], "You're doing well in midterms!")
	assert.Len(t, body["timeline"].([]any), 3)
}

func TestReportTop(t *testing.T) {
	e := newTestEnv(t, nil)
	e.startSession(t, map[string]any{"role": "teacher", "teacher_email": "prof@uni.edu"})

	resp, body := e.do(t, http.MethodGet, "/api/report/top", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	preds := body["predictions"].([]any)
	require.Len(t, preds, 10)

	// Descending by predicted score.
	prev := math.Inf(1)
	for _, p := range preds {
		score := p.(map[string]any)["predicted_score"].(float64)
		assert.LessOrEqual(t, score, prev)
		prev = score
	}

	resp, body = e.do(t, http.MethodGet, "/api/report/top?n=3", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["predictions"].([]any), 3)

	resp, _ = e.do(t, http.MethodGet, "/api/report/top?n=-1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReportAlert(t *testing.T) {
	e := newTestEnv(t, nil)
	e.startSession(t, map[string]any{"role": "teacher", "teacher_email": "prof@uni.edu"})

	resp, body := e.do(t, http.MethodPost, "/api/report/alert", map[string]any{"threshold": 70})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["sent"])

	wantCount := 0
	for _, f := range e.finals {
		if f < 70 {
			wantCount++
		}
	}
	assert.EqualValues(t, wantCount, body["at_risk_count"])

	sent := e.transport.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "prof@uni.edu", sent[0].To)
	assert.Contains(t, sent[0].Body, "Hello Teacher,")
	assert.Contains(t, sent[0].Body, "lower than 70")
}

func TestReportAlertInvalidThreshold(t *testing.T) {
	e := newTestEnv(t, nil)
	e.startSession(t, map[string]any{"role": "teacher", "teacher_email": "prof@uni.edu"})

	resp, body := e.do(t, http.MethodPost, "/api/report/alert", map[string]any{"threshold": 75})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation", body["category"])
	assert.Empty(t, e.transport.Sent())
}

func TestReportAlertTransportFailure(t *testing.T) {
	e := newTestEnv(t, nil)
	e.transport.Err = fmt.Errorf("connection refused")
	e.startSession(t, map[string]any{"role": "teacher", "teacher_email": "prof@uni.edu"})

	resp, body := e.do(t, http.MethodPost, "/api/report/alert", map[string]any{"threshold": 70})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "transport_unavailable", body["category"])
}

func TestUploadReplacesDataset(t *testing.T) {
	e := newTestEnv(t, nil)
	e.startSession(t, map[string]any{"role": "teacher", "teacher_email": "prof@uni.edu"})

	csvData, _ := sampleCSV(50)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "marksheet.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte(csvData))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, e.srv.URL+"/api/upload", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.AddCookie(e.cookie)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.EqualValues(t, 50, body["rows"])

	// Stats now reflect the uploaded marksheet.
	statsResp, stats := e.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, statsResp.StatusCode)
	assert.EqualValues(t, 50, stats["rows"])
}

func TestChatCompletion(t *testing.T) {
	fake := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"Try spaced repetition."}}]}`))
	}))
	defer fake.Close()

	e := newTestEnv(t, func(cfg *config.Config) {
		cfg.ChatURL = fake.URL
	})

	resp, body := e.do(t, http.MethodPost, "/api/chat", map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "study tips?"}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Try spaced repetition.", body["reply"])
}

func TestChatNotConfigured(t *testing.T) {
	e := newTestEnv(t, func(cfg *config.Config) {
		cfg.GroqAPIKey = ""
	})

	resp, body := e.do(t, http.MethodPost, "/api/chat", map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "external_api", body["category"])
}

func TestChatValidation(t *testing.T) {
	e := newTestEnv(t, nil)

	resp, _ := e.do(t, http.MethodPost, "/api/chat", map[string]any{"messages": []any{}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = e.do(t, http.MethodPost, "/api/chat", map[string]any{
		"messages": []map[string]string{{"role": "robot", "content": "hi"}},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
