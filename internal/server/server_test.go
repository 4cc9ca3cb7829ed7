package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func doRequest(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestDefaultAddr(t *testing.T) {
	assert.Equal(t, "0.0.0.0:8000", DefaultAddr)
	assert.Equal(t, DefaultAddr, New(DefaultAddr, nil).Addr())
}

func TestHello(t *testing.T) {
	s := New(DefaultAddr, zap.NewNop())

	rec := doRequest(t, s.Handler(), http.MethodGet, HelloPath)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	assert.JSONEq(t, `{"message":"Hello!"}`, rec.Body.String())

	var g Greeting
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &g))
	assert.Equal(t, "Hello!", g.Message)
}

func TestHello_Idempotent(t *testing.T) {
	s := New(DefaultAddr, zap.NewNop())

	first := doRequest(t, s.Handler(), http.MethodGet, HelloPath).Body.String()
	for i := 0; i < 50; i++ {
		rec := doRequest(t, s.Handler(), http.MethodGet, HelloPath)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, first, rec.Body.String())
	}
}

func TestUndefinedRoutes(t *testing.T) {
	s := New(DefaultAddr, zap.NewNop())

	tests := []struct {
		name   string
		method string
		path   string
	}{
		{"unknown path", http.MethodGet, "/nope"},
		{"root", http.MethodGet, "/"},
		{"prefix only", http.MethodGet, "/say"},
		{"wrong method", http.MethodPost, HelloPath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, s.Handler(), tt.method, tt.path)
			assert.Equal(t, http.StatusNotFound, rec.Code)
		})
	}
}

func TestRun_BindFailure(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()

	s := New(occupied.Addr().String(), zap.NewNop())

	done := make(chan error, 1)
	go func() { done <- s.Run() }()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to bind")
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not fail on an occupied port")
	}
}

func TestServe_Listening(t *testing.T) {
	s := New("127.0.0.1:0", zap.NewNop())

	ln, err := s.Listen()
	require.NoError(t, err)
	defer ln.Close()

	go func() { _ = s.Serve(ln) }()

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + ln.Addr().String() + HelloPath)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"message":"Hello!"}`, string(body))
}

func TestAccessLog(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	h := New(DefaultAddr, zap.New(core)).Handler()

	doRequest(t, h, http.MethodGet, HelloPath)
	doRequest(t, h, http.MethodGet, "/nope")

	entries := logs.FilterMessage("request").All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)

	first := entries[0].ContextMap()
	assert.Equal(t, "GET", first["method"])
	assert.Equal(t, HelloPath, first["path"])
	assert.EqualValues(t, http.StatusOK, first["status"])

	assert.EqualValues(t, http.StatusNotFound, entries[1].ContextMap()["status"])
}

func TestAccessLog_QuietAtInfo(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	h := New(DefaultAddr, zap.New(core)).Handler()

	for i := 0; i < 20; i++ {
		doRequest(t, h, http.MethodGet, HelloPath)
	}
	assert.Zero(t, logs.FilterMessage("request").Len())
}

func TestAccessLog_ServerErrors(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	s := New(DefaultAddr, zap.New(core))
	s.router.GET("/boom", func(*gin.Context) { panic("boom") })

	rec := doRequest(t, s.Handler(), http.MethodGet, "/boom")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	entries := logs.FilterMessage("request").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.EqualValues(t, http.StatusInternalServerError, entries[0].ContextMap()["status"])
}

func TestAccessLog_Sampled(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	h := New(DefaultAddr, zap.New(core)).Handler()

	for i := 0; i < 50; i++ {
		doRequest(t, h, http.MethodGet, HelloPath)
	}
	assert.Equal(t, accessLogFirst, logs.FilterMessage("request").Len())
}

func TestServe_StartupMessage(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	s := New("127.0.0.1:0", zap.New(core))

	ln, err := s.Listen()
	require.NoError(t, err)
	defer ln.Close()

	go func() { _ = s.Serve(ln) }()

	port := ln.Addr().(*net.TCPAddr).Port
	want := fmt.Sprintf("Server is running on http://localhost:%d", port)
	require.Eventually(t, func() bool {
		return logs.FilterMessage(want).Len() == 1
	}, 2*time.Second, 10*time.Millisecond)
}
