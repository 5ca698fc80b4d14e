package flaskcompat

import (
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-console/internal/backend"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-console/internal/logger"
)

const (
	defaultBaseURL        = "http://localhost:5000"
	defaultRequestTimeout = 3 * time.Second
)

type compatClient struct {
	baseURL string
	client  *http.Client
	backend *backend.Client
}

// newCompatClient targets the detection backend named by BACKEND_BASE_URL and
// skips the test when nothing answers there.
func newCompatClient(t *testing.T) *compatClient {
	t.Helper()
	baseURL := os.Getenv("BACKEND_BASE_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client := &http.Client{Timeout: defaultRequestTimeout}

	if !isReachable(client, baseURL+backend.DetectionsPath) {
		t.Skipf("detection backend not reachable at %s (set BACKEND_BASE_URL to run)", baseURL)
	}

	bc, err := backend.NewClient(baseURL, client, logger.Discard())
	if err != nil {
		t.Fatalf("backend client: %v", err)
	}
	return &compatClient{baseURL: baseURL, client: client, backend: bc}
}

func isReachable(client *http.Client, url string) bool {
	resp, err := client.Get(url)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 500
}

func (c *compatClient) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := c.client.Get(c.baseURL + path)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	_ = resp.Body.Close()
	return resp, body
}

func requireString(t *testing.T, value any, field string) string {
	t.Helper()
	str, ok := value.(string)
	if !ok {
		t.Fatalf("expected %s to be string, got %T", field, value)
	}
	return str
}
