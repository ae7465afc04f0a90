package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"slotbook/internal/assets"
	"slotbook/internal/config"
	"slotbook/internal/database"
	"slotbook/internal/events"
	"slotbook/internal/export"
	"slotbook/internal/models"
	"slotbook/internal/service"
	"slotbook/internal/session"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)

type testEnv struct {
	server   *httptest.Server
	db       *database.DB
	sessions *session.MemorySessionStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zerolog.New(io.Discard)

	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{}
	cfg.Server.Port = 0
	cfg.Uploads.Dir = t.TempDir()
	cfg.Exports.Path = t.TempDir()
	cfg.Session.TTLSeconds = 3600

	pipeline := assets.NewPipeline(cfg.Uploads.Dir, models.PlaceholderImage, models.MaxUploadBytes, &logger)
	sessions := session.NewMemorySessionStore(time.Hour)
	gate := NewSessionGate(sessions, &logger)
	bus := events.NewEventBus()
	sm := service.NewStateMachine(db, bus, &logger)
	svc := service.NewReservationService(db, pipeline, sm, bus, &logger)
	exporter := export.NewExporter(db, &logger)

	srv := NewHTTPServer(cfg, svc, db, sessions, gate, exporter, &logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{server: ts, db: db, sessions: sessions}
}

// adminCookie plants a user row and session, returning the cookie to
// send with privileged requests.
func (e *testEnv) adminCookie(t *testing.T) *http.Cookie {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("secret123"), bcrypt.MinCost)
	require.NoError(t, err)

	user := &models.User{UserName: fmt.Sprintf("admin-%s", t.Name()), PasswordHash: string(hash), Role: models.RoleAdmin}
	require.NoError(t, e.db.CreateUser(context.Background(), user))

	sess := &models.Session{Token: fmt.Sprintf("token-%s", t.Name()), UserID: user.ID, UserName: user.UserName, Role: models.RoleAdmin, CreatedAt: time.Now()}
	require.NoError(t, e.sessions.SetSession(context.Background(), sess))

	return &http.Cookie{Name: models.SessionCookie, Value: sess.Token}
}

func multipartBody(t *testing.T, fields map[string]string, fileField, fileName string, fileData []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileField != "" {
		fw, err := mw.CreateFormFile(fileField, fileName)
		require.NoError(t, err)
		_, err = fw.Write(fileData)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func doRequest(t *testing.T, method, url string, body io.Reader, contentType string, cookie *http.Cookie) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

func createReservation(t *testing.T, env *testEnv, cookie *http.Cookie, location string) models.Reservation {
	t.Helper()
	body, ct := multipartBody(t, map[string]string{
		"location":   location,
		"start_time": "09:00",
		"end_time":   "10:00",
	}, "", "", nil)
	resp := doRequest(t, http.MethodPost, env.server.URL+"/api/v1/reservations", body, ct, cookie)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var res models.Reservation
	decodeBody(t, resp, &res)
	return res
}

func TestCreateAndGetReservation(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.adminCookie(t)

	created := createReservation(t, env, cookie, "Зал 1")
	assert.Equal(t, "09:00:00", created.StartTime)
	assert.Equal(t, models.PlaceholderImage, created.ImageName)

	resp := doRequest(t, http.MethodGet, fmt.Sprintf("%s/api/v1/reservations/%d", env.server.URL, created.ID), nil, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var fetched models.Reservation
	decodeBody(t, resp, &fetched)
	assert.Equal(t, created.ID, fetched.ID)
	assert.Equal(t, "Зал 1", fetched.Location)
}

func TestCreateOpenWithoutSession(t *testing.T) {
	env := newTestEnv(t)

	body, ct := multipartBody(t, map[string]string{
		"location": "Hall", "start_time": "09:00", "end_time": "10:00",
	}, "", "", nil)
	resp := doRequest(t, http.MethodPost, env.server.URL+"/api/v1/reservations", body, ct, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestCreateInvalidTimeWindow(t *testing.T) {
	env := newTestEnv(t)

	body, ct := multipartBody(t, map[string]string{
		"location": "Hall", "start_time": "11:00", "end_time": "10:00",
	}, "", "", nil)
	resp := doRequest(t, http.MethodPost, env.server.URL+"/api/v1/reservations", body, ct, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateWithImageServedFromUploads(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.adminCookie(t)

	body, ct := multipartBody(t, map[string]string{
		"location": "Hall", "start_time": "09:00", "end_time": "10:00",
	}, "image", "hall.png", pngBytes)
	resp := doRequest(t, http.MethodPost, env.server.URL+"/api/v1/reservations", body, ct, cookie)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created models.Reservation
	decodeBody(t, resp, &created)
	assert.Equal(t, "hall.png", created.ImageName)

	img := doRequest(t, http.MethodGet, env.server.URL+"/uploads/"+created.ImageName, nil, "", nil)
	defer img.Body.Close()
	assert.Equal(t, http.StatusOK, img.StatusCode)
}

func TestUploadsDirListingRejected(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.adminCookie(t)

	body, ct := multipartBody(t, map[string]string{
		"location": "Hall", "start_time": "09:00", "end_time": "10:00",
	}, "image", "hall.png", pngBytes)
	resp := doRequest(t, http.MethodPost, env.server.URL+"/api/v1/reservations", body, ct, cookie)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = doRequest(t, http.MethodGet, env.server.URL+"/uploads/", nil, "", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hall.png", "stored names must not be enumerable")
}

func TestCreateRejectsNonImage(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.adminCookie(t)

	body, ct := multipartBody(t, map[string]string{
		"location": "Hall", "start_time": "09:00", "end_time": "10:00",
	}, "image", "evil.png", []byte("#!/bin/sh\nrm -rf /\n"))
	resp := doRequest(t, http.MethodPost, env.server.URL+"/api/v1/reservations", body, ct, cookie)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListPagination(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.adminCookie(t)

	for i := 0; i < 8; i++ {
		createReservation(t, env, cookie, fmt.Sprintf("Hall %d", i))
	}

	resp := doRequest(t, http.MethodGet, env.server.URL+"/api/v1/reservations?page=2", nil, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var listing struct {
		Reservations []models.Reservation `json:"reservations"`
		Total        int                  `json:"total"`
		Page         int                  `json:"page"`
		TotalPages   int                  `json:"total_pages"`
	}
	decodeBody(t, resp, &listing)
	assert.Equal(t, 8, listing.Total)
	assert.Equal(t, 2, listing.Page)
	assert.Equal(t, 2, listing.TotalPages)
	assert.Len(t, listing.Reservations, 2)
}

func TestListZeroPageSize(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.adminCookie(t)
	createReservation(t, env, cookie, "Hall")

	resp := doRequest(t, http.MethodGet, env.server.URL+"/api/v1/reservations?page_size=0", nil, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var listing struct {
		Reservations []models.Reservation `json:"reservations"`
		PageSize     int                  `json:"page_size"`
		TotalPages   int                  `json:"total_pages"`
	}
	decodeBody(t, resp, &listing)
	assert.Equal(t, models.DefaultPageSize, listing.PageSize)
	assert.Equal(t, 1, listing.TotalPages)
	assert.Len(t, listing.Reservations, 1)
}

func TestListMetadataMatchesClampedPageSize(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.adminCookie(t)
	createReservation(t, env, cookie, "Hall")

	resp := doRequest(t, http.MethodGet, env.server.URL+"/api/v1/reservations?page=-2&page_size=1000", nil, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var listing struct {
		Page       int `json:"page"`
		PageSize   int `json:"page_size"`
		TotalPages int `json:"total_pages"`
	}
	decodeBody(t, resp, &listing)
	assert.Equal(t, 1, listing.Page)
	assert.Equal(t, models.MaxPageSize, listing.PageSize)
	assert.Equal(t, 1, listing.TotalPages)
}

func TestStateTransitionRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.adminCookie(t)
	created := createReservation(t, env, cookie, "Hall")

	url := fmt.Sprintf("%s/api/v1/reservations/%d/state", env.server.URL, created.ID)

	resp := doRequest(t, http.MethodPost, url, strings.NewReader(`{"action":"reserve"}`), "application/json", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result service.TransitionResult
	decodeBody(t, resp, &result)
	assert.True(t, result.Changed)
	assert.True(t, result.Reserved)

	// Повторный reserve — no-op, но успешный.
	resp = doRequest(t, http.MethodPost, url, strings.NewReader(`{"action":"reserve"}`), "application/json", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &result)
	assert.False(t, result.Changed)
	assert.True(t, result.Reserved)
}

func TestStateInvalidAction(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.adminCookie(t)
	created := createReservation(t, env, cookie, "Hall")

	url := fmt.Sprintf("%s/api/v1/reservations/%d/state", env.server.URL, created.ID)
	resp := doRequest(t, http.MethodPost, url, strings.NewReader(`{"action":"book"}`), "application/json", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStateNotFound(t *testing.T) {
	env := newTestEnv(t)

	resp := doRequest(t, http.MethodPost, env.server.URL+"/api/v1/reservations/999/state", strings.NewReader(`{"action":"reserve"}`), "application/json", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUpdateForbiddenForUserRole(t *testing.T) {
	env := newTestEnv(t)
	admin := env.adminCookie(t)
	created := createReservation(t, env, admin, "Hall")

	sess := &models.Session{Token: "user-token", UserID: 99, UserName: "regular", Role: models.RoleUser, CreatedAt: time.Now()}
	require.NoError(t, env.sessions.SetSession(context.Background(), sess))
	userCookie := &http.Cookie{Name: models.SessionCookie, Value: sess.Token}

	body, ct := multipartBody(t, map[string]string{
		"location": "Hacked", "start_time": "09:00", "end_time": "10:00",
	}, "", "", nil)
	resp := doRequest(t, http.MethodPut, fmt.Sprintf("%s/api/v1/reservations/%d", env.server.URL, created.ID), body, ct, userCookie)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestDeleteReservation(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.adminCookie(t)
	created := createReservation(t, env, cookie, "Hall")

	resp := doRequest(t, http.MethodDelete, fmt.Sprintf("%s/api/v1/reservations/%d", env.server.URL, created.ID), nil, "", cookie)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, fmt.Sprintf("%s/api/v1/reservations/%d", env.server.URL, created.ID), nil, "", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteWithoutSessionUnauthorized(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.adminCookie(t)
	created := createReservation(t, env, cookie, "Hall")

	resp := doRequest(t, http.MethodDelete, fmt.Sprintf("%s/api/v1/reservations/%d", env.server.URL, created.ID), nil, "", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestExportRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)

	resp := doRequest(t, http.MethodGet, env.server.URL+"/api/v1/reservations/export", nil, "", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestExportReturnsWorkbook(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.adminCookie(t)
	createReservation(t, env, cookie, "Hall")

	resp := doRequest(t, http.MethodGet, env.server.URL+"/api/v1/reservations/export", nil, "", cookie)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "spreadsheetml")

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestExportSaveMode(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.adminCookie(t)
	createReservation(t, env, cookie, "Hall")

	resp := doRequest(t, http.MethodGet, env.server.URL+"/api/v1/reservations/export?save=true", nil, "", cookie)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result map[string]string
	decodeBody(t, resp, &result)
	assert.FileExists(t, result["file"])
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	resp := doRequest(t, http.MethodGet, env.server.URL+"/healthz", nil, "", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestInvalidIDPath(t *testing.T) {
	env := newTestEnv(t)

	resp := doRequest(t, http.MethodGet, env.server.URL+"/api/v1/reservations/abc", nil, "", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
