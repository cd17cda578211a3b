//go:build e2e

package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/PratikDhanave/shotlog/internal/models"
)

// Black-box checks against a running server (for example `docker compose up`).
//
//	BASE_URL default http://localhost:8080
//	API_KEY  default dev-key

func baseURL() string {
	if v := os.Getenv("BASE_URL"); v != "" {
		return v
	}
	return "http://localhost:8080"
}

func apiKey() string {
	if v := os.Getenv("API_KEY"); v != "" {
		return v
	}
	return "dev-key"
}

// unique keeps ids from colliding with previous runs.
func unique(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

// waitReady polls /ready until the store answers.
func waitReady(t *testing.T) {
	t.Helper()

	client := &http.Client{Timeout: 2 * time.Second}
	deadline := time.Now().Add(30 * time.Second)

	for time.Now().Before(deadline) {
		resp, err := client.Get(baseURL() + "/ready")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(300 * time.Millisecond)
	}

	t.Fatalf("service not ready after 30s")
}

func httpGet(t *testing.T, path string) (int, []byte) {
	t.Helper()

	resp, err := (&http.Client{Timeout: 5 * time.Second}).Get(baseURL() + path)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	defer resp.Body.Close()

	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b
}

func postShot(t *testing.T, key string, payload any) int {
	t.Helper()

	b, _ := json.Marshal(payload)
	req, _ := http.NewRequest(http.MethodPost, baseURL()+"/api/ingest", bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}

	resp, err := (&http.Client{Timeout: 5 * time.Second}).Do(req)
	if err != nil {
		t.Fatalf("POST /api/ingest failed: %v", err)
	}
	_ = resp.Body.Close()
	return resp.StatusCode
}

func recentShots(t *testing.T) []models.Shot {
	t.Helper()
	s, b := httpGet(t, "/api/shots?limit=300")
	if s != http.StatusOK {
		t.Fatalf("GET /api/shots = %d: %s", s, b)
	}
	var body models.ShotsResponse
	if err := json.Unmarshal(b, &body); err != nil {
		t.Fatalf("invalid shots JSON: %v", err)
	}
	return body.Data
}

func TestHealth_ReturnsOK(t *testing.T) {
	s, _ := httpGet(t, "/api/health")
	if s != http.StatusOK {
		t.Fatalf("health expected 200 got %d", s)
	}
}

func TestIngest_UnauthorizedWithoutAPIKey(t *testing.T) {
	waitReady(t)
	if s := postShot(t, "", map[string]any{"shot_ms": 25000}); s != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", s)
	}
}

func TestIngest_BadRequestOnMissingDuration(t *testing.T) {
	waitReady(t)
	if s := postShot(t, apiKey(), map[string]any{"device_id": "e2e"}); s != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", s)
	}
}

func TestIngest_DuplicateStoredOnce(t *testing.T) {
	waitReady(t)

	device := unique("e2e")
	payload := map[string]any{"shot_ms": 25000, "device_id": device, "boot_id": 1, "shot_index": 1}
	for i := 0; i < 2; i++ {
		if s := postShot(t, apiKey(), payload); s != http.StatusNoContent {
			t.Fatalf("ingest %d expected 204 got %d", i, s)
		}
	}

	id := device + ":1:1"
	var found int
	for _, shot := range recentShots(t) {
		if shot.ID == id {
			found++
			if shot.DaySeq == nil || *shot.DaySeq < 1 {
				t.Errorf("stored shot has day_seq %v", shot.DaySeq)
			}
		}
	}
	if found != 1 {
		t.Fatalf("shot %s stored %d times", id, found)
	}
}
