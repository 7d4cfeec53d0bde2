package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// remoteAddrSeen runs one request through the middleware and reports
// the RemoteAddr the inner handler observed.
func remoteAddrSeen(t *testing.T, trusted []string, socketAddr string, headers map[string]string) string {
	t.Helper()

	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.RemoteAddr
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = socketAddr
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	TrustedRealIP(trusted)(inner).ServeHTTP(httptest.NewRecorder(), req)
	return seen
}

func TestTrustedRealIP(t *testing.T) {
	tests := []struct {
		name    string
		trusted []string
		socket  string
		headers map[string]string
		want    string
	}{
		{
			name:    "untrusted client cannot spoof",
			trusted: []string{"10.0.0.0/8"},
			socket:  "203.0.113.9:41000",
			headers: map[string]string{"X-Forwarded-For": "1.2.3.4"},
			want:    "203.0.113.9:41000",
		},
		{
			name:    "trusted proxy real ip wins",
			trusted: []string{"10.0.0.0/8"},
			socket:  "10.1.2.3:41000",
			headers: map[string]string{"X-Real-IP": "203.0.113.9", "X-Forwarded-For": "198.51.100.7"},
			want:    "203.0.113.9",
		},
		{
			name:    "trusted proxy forwarded chain takes first hop",
			trusted: []string{"10.0.0.0/8"},
			socket:  "10.1.2.3:41000",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.9, 10.1.2.3"},
			want:    "203.0.113.9",
		},
		{
			name:    "trusted proxy without headers keeps socket",
			trusted: []string{"10.0.0.0/8"},
			socket:  "10.1.2.3:41000",
			want:    "10.1.2.3:41000",
		},
		{
			name:    "bare ip entry trusts a single host",
			trusted: []string{"10.1.2.3"},
			socket:  "10.1.2.3:41000",
			headers: map[string]string{"X-Real-IP": "203.0.113.9"},
			want:    "203.0.113.9",
		},
		{
			name:    "garbage header ignored",
			trusted: []string{"10.0.0.0/8"},
			socket:  "10.1.2.3:41000",
			headers: map[string]string{"X-Real-IP": "not-an-ip"},
			want:    "10.1.2.3:41000",
		},
		{
			name:   "no trusted proxies configured",
			socket: "10.1.2.3:41000",
			headers: map[string]string{
				"X-Real-IP": "203.0.113.9",
			},
			want: "10.1.2.3:41000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := remoteAddrSeen(t, tt.trusted, tt.socket, tt.headers)
			if got != tt.want {
				t.Errorf("RemoteAddr = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseTrustedSkipsInvalid(t *testing.T) {
	nets := parseTrusted([]string{" 10.0.0.0/8 ", "", "not-a-cidr", "192.0.2.1"})
	if len(nets) != 2 {
		t.Fatalf("nets = %d, want the two valid entries", len(nets))
	}
}
