package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"photo-scanner/internal/logging"
	"photo-scanner/internal/metrics"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestResponseWriter(t *testing.T) {
	w := httptest.NewRecorder()
	rw := newResponseWriter(w)

	if rw.statusCode != http.StatusOK {
		t.Errorf("default status = %d, want 200", rw.statusCode)
	}

	rw.WriteHeader(http.StatusNotFound)
	rw.WriteHeader(http.StatusInternalServerError)
	if rw.statusCode != http.StatusNotFound {
		t.Errorf("status = %d, want first WriteHeader to win", rw.statusCode)
	}

	n, err := rw.Write([]byte("test data"))
	if err != nil || n != 9 {
		t.Fatalf("Write() = %d, %v", n, err)
	}
	if rw.bytesWritten != 9 {
		t.Errorf("bytesWritten = %d, want 9", rw.bytesWritten)
	}

	if newResponseWriter(rw) != rw {
		t.Error("newResponseWriter() wrapped an existing responseWriter twice")
	}
}

func TestSanitizeLogField(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{in: "plain", want: "plain"},
		{in: "a\nb\rc", want: "a b c"},
		{in: "x\x00y\x1bz", want: "xyz"},
		{in: "tab\there", want: "tab\there"},
		{in: "bell\x07", want: "bell"},
	}
	for _, tt := range tests {
		if got := sanitizeLogField(tt.in); got != tt.want {
			t.Errorf("sanitizeLogField(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestShouldSkip(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		config LoggingConfig
		want   bool
	}{
		{name: "api logged", path: "/api/scan", config: DefaultLoggingConfig(), want: false},
		{name: "metrics skipped", path: "/metrics", config: DefaultLoggingConfig(), want: true},
		{name: "health logged by default", path: "/healthz", config: DefaultLoggingConfig(), want: false},
		{name: "health skipped when disabled", path: "/healthz", config: LoggingConfig{}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shouldSkip(tt.path, tt.config); got != tt.want {
				t.Errorf("shouldSkip(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "forwarded chain", headers: map[string]string{"X-Forwarded-For": "10.0.0.1, 10.0.0.2"}, remote: "1.1.1.1:80", want: "10.0.0.1"},
		{name: "real ip", headers: map[string]string{"X-Real-IP": "10.0.0.3"}, remote: "1.1.1.1:80", want: "10.0.0.3"},
		{name: "remote addr", remote: "192.168.1.5:5555", want: "192.168.1.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := getClientIP(r); got != tt.want {
				t.Errorf("getClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/api/scan/start?reset=true", nil)
	r.RemoteAddr = "10.1.2.3:4000"
	r.Header.Set("User-Agent", "curl test")
	rw := newResponseWriter(httptest.NewRecorder())
	rw.WriteHeader(http.StatusAccepted)

	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	got := formatRequest(r, rw, 12*time.Millisecond, now)
	want := `2026-03-04 05:06:07 10.1.2.3 POST /api/scan/start reset=true 202 0 12 "curl test"`
	if got != want {
		t.Errorf("formatRequest() =\n%s\nwant\n%s", got, want)
	}
}

func TestLoggerMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logging.SetOutput(&buf)
	t.Cleanup(func() { logging.SetOutput(os.Stderr) })

	handler := Logger(DefaultLoggingConfig())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/scan", nil))
	if !strings.Contains(buf.String(), "/api/scan") || !strings.Contains(buf.String(), "418") {
		t.Errorf("access log missing request: %q", buf.String())
	}

	buf.Reset()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if buf.Len() != 0 {
		t.Errorf("skipped path was logged: %q", buf.String())
	}
}

func TestMetricsMiddlewareUsesRouteTemplate(t *testing.T) {
	r := mux.NewRouter()
	r.Use(Metrics(DefaultMetricsConfig()))
	r.HandleFunc("/api/groups/{group}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}).Methods(http.MethodGet)

	counter := metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/api/groups/{group}", "404")
	before := testutil.ToFloat64(counter)

	for _, g := range []string{"A", "B", "nope"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/groups/"+g, nil))
	}

	if got := testutil.ToFloat64(counter) - before; got != 3 {
		t.Errorf("requests counted under route template = %v, want 3", got)
	}
}

func TestRouteLabelUnmatched(t *testing.T) {
	if got := routeLabel(httptest.NewRequest(http.MethodGet, "/x", nil)); got != "unmatched" {
		t.Errorf("routeLabel() = %q, want unmatched", got)
	}
}
