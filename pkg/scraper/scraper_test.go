package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScraperConfig(t *testing.T) {
	config := ScraperConfig{
		RateLimit:      1.0,
		IgnorePatterns: []string{"/ignore/", "private"},
		Timeout:        10 * time.Second,
	}

	s := NewWithConfig(config)
	assert.Equal(t, 10*time.Second, s.client.Timeout)
	assert.Equal(t, "recall/1.0", s.config.UserAgent)
}

func TestShouldProcessURL(t *testing.T) {
	s := NewWithConfig(ScraperConfig{
		IgnorePatterns: []string{"/ignore/", "private"},
	})

	tests := []struct {
		url      string
		expected bool
	}{
		{"https://example.com/docs/", true},
		{"http://example.com/page.html", true},
		{"https://example.com/ignore/page.html", false},
		{"https://example.com/private", false},
		{"ftp://example.com/file.txt", false},
		{"file:///etc/passwd", false},
		{"not a url", false},
		{"http://localhost:8080/admin", false},
		{"http://127.0.0.1/", false},
		{"http://10.0.0.5/internal", false},
		{"http://192.168.1.1/", false},
		{"http://169.254.169.254/latest/meta-data/", false},
		{"http://[::1]:9000/", false},
		{"http://8.8.8.8/", true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			result := s.shouldProcessURL(tt.url)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestFetchWithMockServer(t *testing.T) {
	var userAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userAgent = r.UserAgent()
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`
			<html>
				<head><title>Test Page</title></head>
				<body>
					<nav>Home | About</nav>
					<main>
						<h1>Gardening notes</h1>
						<p>Tomatoes need six hours of direct sunlight every day to produce fruit.</p>
						<p>Water them deeply at the base, preferably in the early morning.</p>
					</main>
				</body>
			</html>
		`))
	}))
	defer server.Close()

	s := NewWithConfig(ScraperConfig{RateLimit: 100, AllowPrivate: true})
	page, err := s.Fetch(context.Background(), server.URL)
	require.NoError(t, err)

	assert.Equal(t, server.URL, page.URL)
	assert.Equal(t, "Test Page", page.Title)
	assert.Contains(t, page.Text, "Tomatoes need six hours")
	assert.Equal(t, "recall/1.0", userAgent)
}

func TestFetchErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	s := NewWithConfig(ScraperConfig{RateLimit: 100, AllowPrivate: true})

	_, err := s.Fetch(context.Background(), server.URL)
	assert.Error(t, err)

	_, err = s.Fetch(context.Background(), "ftp://example.com")
	assert.ErrorIs(t, err, ErrURLNotAllowed)
}

func TestExtractMainContentFallsBackToBody(t *testing.T) {
	s := NewWithConfig(ScraperConfig{AllowPrivate: true})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><div>Only   body text. Cookie Policy</div><script>var x = 1;</script></body></html>`))
	}))
	defer server.Close()

	page, err := s.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Contains(t, page.Text, "Only")
	assert.NotContains(t, page.Text, "var x")
}

func TestFetchRefusesInternalHosts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><main>secret</main></body></html>`))
	}))
	defer server.Close()

	s := NewWithConfig(ScraperConfig{RateLimit: 100})
	_, err := s.Fetch(context.Background(), server.URL)
	assert.ErrorIs(t, err, ErrURLNotAllowed)
}

func TestPublicOnlyTransportChecksResolvedAddress(t *testing.T) {
	transport := publicOnlyTransport()

	for _, addr := range []string{"127.0.0.1:80", "10.1.2.3:443", "169.254.169.254:80"} {
		_, err := transport.DialContext(context.Background(), "tcp", addr)
		assert.ErrorIs(t, err, ErrURLNotAllowed, addr)
	}
}
