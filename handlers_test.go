package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"driver_intake/internal/config"
	"driver_intake/internal/intake"
	"driver_intake/internal/registration"
	"driver_intake/internal/sheets"
)

const baseConfig = `
workbook:
  path: {{dir}}/drivers.xlsx
counter:
  path: {{dir}}/counter.txt
report:
  dir: {{dir}}/reports
timezone: UTC
`

// newTestApp writes a config into a temp dir and builds the app from it.
func newTestApp(t *testing.T, extra string) (*app, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "driver-intake.yaml")
	body := strings.ReplaceAll(baseConfig+extra, "{{dir}}", dir)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	a, err := newApp(context.Background(), cfg, path, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a, dir
}

func doJSON(t *testing.T, e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealth(t *testing.T) {
	a, _ := newTestApp(t, "")
	rec := doJSON(t, newEcho(a), http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestMessageFlow(t *testing.T) {
	a, _ := newTestApp(t, "")
	e := newEcho(a)

	rec := doJSON(t, e, http.MethodPost, "/messages",
		`{"text":"phone 11912345678, I'm called Ana, aggregate","sender":"11912345678"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	first := decode[ResultResponse](t, rec)
	assert.False(t, first.Complete)
	assert.Contains(t, first.Prompt, "city")
	assert.Contains(t, first.Prompt, "license plate")

	rec = doJSON(t, e, http.MethodGet, "/conversations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[ConversationsResponse](t, rec).Count)

	rec = doJSON(t, e, http.MethodPost, "/messages",
		`{"text":"plate ABC1D23, city Rio de Janeiro","sender":"11912345678"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	second := decode[ResultResponse](t, rec)
	assert.True(t, second.Complete)
	assert.True(t, second.Persisted)
	assert.Equal(t, sheets.SheetAggregate, second.Sheet)
	assert.Equal(t, 1, second.Count)

	rows, err := a.workbook.ReadSheet(context.Background(), sheets.SheetAggregate)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Ana", rows[0].Name)

	rec = doJSON(t, e, http.MethodGet, "/conversations", "")
	assert.Equal(t, 0, decode[ConversationsResponse](t, rec).Count)
}

func TestMessageWithoutPhoneIs422(t *testing.T) {
	a, _ := newTestApp(t, "")
	rec := doJSON(t, newEcho(a), http.MethodPost, "/messages",
		`{"text":"my name is Carlos, city São Paulo, company vehicle"}`)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.NotEmpty(t, resp.Prompt)
}

func TestMessageRequiresText(t *testing.T) {
	a, _ := newTestApp(t, "")
	rec := doJSON(t, newEcho(a), http.MethodPost, "/messages", `{"text":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStorageFailureIs503(t *testing.T) {
	a, dir := newTestApp(t, "")
	// A directory where the workbook should be makes every write fail.
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "drivers.xlsx"), 0o755))

	rec := doJSON(t, newEcho(a), http.MethodPost, "/messages",
		`{"text":"my name is Carlos, CPF 123.456.789-00, phone 11987654321, city São Paulo, TAC, course completed: yes"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	pending, err := a.processor.Pending(context.Background())
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestSubmitRegistration(t *testing.T) {
	a, _ := newTestApp(t, "")
	e := newEcho(a)

	rec := doJSON(t, e, http.MethodPost, "/registrations", `{
		"name": "João", "national_id": "987.654.321-00", "phone": "(21) 99876-5432",
		"city": "Niterói", "category": "agregado", "license_plate": "xyz9k87"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	res := decode[ResultResponse](t, rec)
	assert.True(t, res.Complete)
	assert.Equal(t, sheets.SheetAggregate, res.Sheet)
	assert.Equal(t, "XYZ9K87", res.Record.LicensePlate)

	rec = doJSON(t, e, http.MethodPost, "/registrations", `{"name":"Rui","phone":"31988887777"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestParkAndDiscardConversation(t *testing.T) {
	a, _ := newTestApp(t, "")
	e := newEcho(a)

	doJSON(t, e, http.MethodPost, "/messages", `{"text":"phone 11912345678, I'm called Ana, TAC"}`)

	rec := doJSON(t, e, http.MethodPost, "/conversations/11912345678/park", "")
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[ResultResponse](t, rec)
	assert.Equal(t, sheets.SheetIncomplete, res.Sheet)
	assert.Equal(t, registration.StatusInProgress, res.Record.Status)

	rec = doJSON(t, e, http.MethodPost, "/reports/daily", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode[ReportResponse](t, rec).Text, "- TAC: 0 complete, 1 incomplete")

	rec = doJSON(t, e, http.MethodDelete, "/conversations/11912345678", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, e, http.MethodPost, "/conversations/11912345678/park", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProgressAndReport(t *testing.T) {
	a, dir := newTestApp(t, "milestones:\n  1: \"first one!\"\n  2: \"two!\"\n")
	e := newEcho(a)

	rec := doJSON(t, e, http.MethodPost, "/registrations", `{
		"name": "Carlos", "national_id": "12345678900", "phone": "11987654321",
		"city": "São Paulo", "category": "TAC", "course_completed": "sim"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "first one!", decode[ResultResponse](t, rec).Milestone)

	rec = doJSON(t, e, http.MethodGet, "/progress", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":1`)
	assert.Contains(t, rec.Body.String(), `"next":2`)

	rec = doJSON(t, e, http.MethodPost, "/reports/daily", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[ReportResponse](t, rec)
	assert.Equal(t, 1, resp.Summary.TAC.Complete)
	assert.Contains(t, resp.Text, "- TAC: 1 complete, 0 incomplete")
	assert.Equal(t, filepath.Join(dir, "reports"), filepath.Dir(resp.Path))
	assert.FileExists(t, resp.Path)

	rec = doJSON(t, e, http.MethodPost, "/reports/daily", `{"date":"2026-10-18"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReloadRules(t *testing.T) {
	a, dir := newTestApp(t, "")
	e := newEcho(a)
	path := filepath.Join(dir, "driver-intake.yaml")

	body := strings.ReplaceAll(baseConfig, "{{dir}}", dir) + `
categories:
  - category: TAC
    priority: 1
    keywords: [frota]
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	rec := doJSON(t, e, http.MethodPost, "/admin/reload", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[ReloadResponse](t, rec).Categories)

	rec = doJSON(t, e, http.MethodGet, "/admin/rules", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rules := decode[RulesResponse](t, rec)
	require.Len(t, rules.Categories, 1)
	assert.Equal(t, []string{"frota"}, rules.Categories[0].Keywords)
	assert.Equal(t, registration.CategoryTAC, a.rules.Classify("vou dirigir a frota"))
}

func TestRedisBackends(t *testing.T) {
	mr := miniredis.RunT(t)
	t.Setenv("INTAKE_STATE_BACKEND", "redis")
	t.Setenv("INTAKE_COUNTER_BACKEND", "redis")
	t.Setenv("INTAKE_REDIS_ADDR", mr.Addr())

	a, _ := newTestApp(t, "")
	e := newEcho(a)

	doJSON(t, e, http.MethodPost, "/messages", `{"text":"phone 11912345678, I'm called Ana, aggregate"}`)
	assert.True(t, mr.Exists("intake:conversation:11912345678"))

	rec := doJSON(t, e, http.MethodPost, "/messages", `{"text":"plate ABC1D23, city Rio de Janeiro","sender":"11912345678"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[ResultResponse](t, rec).Persisted)

	count, err := mr.Get("intake:counter")
	require.NoError(t, err)
	assert.Equal(t, "1", count)
	assert.False(t, mr.Exists("intake:conversation:11912345678"))
}

func TestResultPrompt(t *testing.T) {
	assert.Equal(t, "Registration complete, thank you!", resultPrompt(intake.Result{Complete: true}))
	assert.Equal(t, "Registration complete, thank you! 🎉", resultPrompt(intake.Result{Complete: true, Milestone: "🎉"}))
	assert.Equal(t, "Thanks! Please also send: CPF, vehicle type (TAC or aggregate).",
		resultPrompt(intake.Result{Missing: []registration.Field{registration.FieldNationalID, registration.FieldCategory}}))
	assert.Empty(t, resultPrompt(intake.Result{}))
}
