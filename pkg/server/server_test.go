package server_test

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/cors"
	"github.com/stretchr/testify/assert"

	"github.com/d4l-data4life/go-chat-host/internal/testutils"
	"github.com/d4l-data4life/go-chat-host/pkg/config"
	"github.com/d4l-data4life/go-chat-host/pkg/server"
)

// Executed before test runs in this package (fails otherwise)
func TestMain(m *testing.M) {
	config.SetupEnv()
	config.SetupLogger()
	os.Exit(m.Run())
}

func TestEndpointProtection(t *testing.T) {
	tests := []struct {
		name      string
		method    string
		url       string
		protected bool
	}{
		{"Liveness", http.MethodGet, "/checks/liveness", false},
		{"Readiness", http.MethodGet, "/checks/readiness", false},
		{"Metrics", http.MethodGet, "/metrics", false},
		{"Threads", http.MethodGet, config.APIPrefixV1 + "/threads", true},
		{"Chat", http.MethodPost, config.APIPrefixV1 + "/chat", true},
		{"Server config", http.MethodGet, config.APIPrefixV1 + "/server-config", true},
		{"Login", http.MethodPost, config.APIPrefixV1 + "/auth/login", false},
		{"Me", http.MethodGet, config.APIPrefixV1 + "/auth/me", true},
		{"Shared chat", http.MethodGet, config.APIPrefixV1 + "/share/unknown", false},
		{"Internal users", http.MethodGet, config.InternalPrefix + "/users", true},
	}

	srv := testutils.GetTestMockServer(t)

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			request := httptest.NewRequest(test.method, test.url, strings.NewReader(""))
			writer := httptest.NewRecorder()
			srv.Mux().ServeHTTP(writer, request)
			assert.Equal(t, test.protected, writer.Code == http.StatusUnauthorized)
		})
	}
}

func TestMetrics(t *testing.T) {
	tests := []struct {
		name        string
		metric      string
		value       int
		metricExist bool
		valueMatch  bool
	}{
		{"Golang metrics should exist", "go_memstats_alloc_bytes_total", -1, true, false},
		{"Golang metrics should exist", "go_info", 1, true, true},
		{"Build info metric should exist", "d4l_go_chat_host_build_info", 1, true, true},
	}

	srv := testutils.GetTestMockServer(t)

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			request := httptest.NewRequest(http.MethodGet, "/metrics", strings.NewReader(""))
			writer := httptest.NewRecorder()
			srv.Mux().ServeHTTP(writer, request)

			resp := writer.Result()
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()

			assert.Equal(t, test.metricExist, strings.Contains(string(body), test.metric),
				fmt.Sprintf("Text %s should contain metric '%s'", string(body), test.metric))

			// regexp allows to ignore metric labels
			metricValueRegexp := fmt.Sprintf(`%s(\{.*\})? %d`, test.metric, test.value)
			matched, err := regexp.Match(metricValueRegexp, body)
			if err != nil {
				t.Error(err)
			}
			assert.Equal(t, test.valueMatch, matched,
				fmt.Sprintf("Text %s should contain metric '%s' with value '%d'", string(body), test.metric, test.value))
		})
	}
}

func TestCors(t *testing.T) {
	tests := []struct {
		name                  string
		reply                 *httptest.ResponseRecorder
		request               *http.Request
		requestHeader         string // one header to include in request (cannot use maps here)
		requestHeaderContent  string // header value
		expectHeaders         bool   // whether expectedHeader should be present in reply
		expectedHeader        string
		expectedHeaderContent string
	}{
		{
			name:                  "Access-Control-Allow-Origin header should be present",
			reply:                 httptest.NewRecorder(),
			request:               httptest.NewRequest("GET", "/checks/liveness", nil),
			requestHeader:         "Origin",
			requestHeaderContent:  "localhost",
			expectHeaders:         true,
			expectedHeader:        "Access-Control-Allow-Origin",
			expectedHeaderContent: "localhost",
		},
		{
			name:                  "Access-Control-Expose-Headers header should be present",
			reply:                 httptest.NewRecorder(),
			request:               httptest.NewRequest("GET", "/checks/liveness", nil),
			requestHeader:         "Origin",
			requestHeaderContent:  "localhost",
			expectHeaders:         true,
			expectedHeader:        "Access-Control-Expose-Headers",
			expectedHeaderContent: "Link, X-Vercel-AI-Data-Stream",
		},
		{
			name:                  "Access-Control-Allow-Credentials header should be present",
			reply:                 httptest.NewRecorder(),
			request:               httptest.NewRequest("GET", "/checks/liveness", nil),
			requestHeader:         "Origin",
			requestHeaderContent:  "localhost",
			expectHeaders:         true,
			expectedHeader:        "Access-Control-Allow-Credentials",
			expectedHeaderContent: "true",
		},
		{
			name:                  "Origin matches not",
			reply:                 httptest.NewRecorder(),
			request:               httptest.NewRequest("GET", "/checks/liveness", nil),
			requestHeader:         "Origin",
			requestHeaderContent:  "http://www.data4life.care",
			expectHeaders:         false,
			expectedHeader:        "Access-Control-Allow-Origin",
			expectedHeaderContent: "localhost",
		},
	}

	srv := testutils.GetTestMockServer(t)

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			test.request.Header.Set(test.requestHeader, test.requestHeaderContent)

			srv.Mux().ServeHTTP(test.reply, test.request)
			if test.expectHeaders {
				assert.Equal(t, test.expectedHeaderContent, test.reply.Header().Get(test.expectedHeader))
			} else {
				assert.Equal(t, "", test.reply.Header().Get(test.expectedHeader))
			}
		})
	}
}

func TestServerLimits(t *testing.T) {
	srv := server.NewServer("limits", cors.New(config.CorsConfig(nil)), server.Limits{
		Backlog:        -1,
		RequestTimeout: 2 * time.Second,
	})
	assert.Equal(t, 2*time.Second, srv.Timeout())

	// a zero limit still serves one request at a time
	srv.Mux().Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	writer := httptest.NewRecorder()
	srv.Mux().ServeHTTP(writer, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusNoContent, writer.Code)
}
