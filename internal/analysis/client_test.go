package analysis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestAnalyzeRecordedRequestShape(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/analyze" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %s", ct)
		}
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(Result{Success: true, Analysis: "two people"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "device-1", srv.Client())
	c.SetPrompt("Count the players")

	res, err := c.AnalyzeRecorded(context.Background(), "football.mp4", 12500*time.Millisecond)
	if err != nil {
		t.Fatalf("AnalyzeRecorded: %v", err)
	}
	if !res.Success || res.Analysis != "two people" {
		t.Fatalf("result = %+v", res)
	}

	if got["timeSeconds"] != 12.5 {
		t.Fatalf("timeSeconds = %v, want 12.5", got["timeSeconds"])
	}
	if got["deviceId"] != "device-1" || got["videoFilename"] != "football.mp4" {
		t.Fatalf("request = %v", got)
	}
	if got["prompt"] != "Count the players" {
		t.Fatalf("prompt = %v", got["prompt"])
	}
}

func TestAnalyzeLiveInlinesFrame(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/analyze-stream" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(Result{Success: true, Analysis: "ok"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "device-1", srv.Client())
	if _, err := c.AnalyzeLive(context.Background(), "Street Cam", []byte{0xFF, 0xD8, 0xFF, 0xD9}); err != nil {
		t.Fatalf("AnalyzeLive: %v", err)
	}

	img, _ := got["imageData"].(string)
	if !strings.HasPrefix(img, "data:image/jpeg;base64,") {
		t.Fatalf("imageData = %q, want a data URL", img)
	}
	if got["isLiveStream"] != true || got["streamName"] != "Street Cam" {
		t.Fatalf("request = %v", got)
	}
	if got["prompt"] != DefaultPrompt {
		t.Fatalf("prompt = %v, want default", got["prompt"])
	}
}

func TestAnalyzeErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(Result{Success: false, Error: "model overloaded"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "device-1", srv.Client())
	_, err := c.AnalyzeRecorded(context.Background(), "a.mp4", time.Second)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "model overloaded") {
		t.Fatalf("err = %v, want service detail surfaced", err)
	}
}

func TestSetPromptEmptyRestoresDefault(t *testing.T) {
	c := NewClient("http://x", "d", nil)
	c.SetPrompt("custom")
	if c.Prompt() != "custom" {
		t.Fatal("prompt not applied")
	}
	c.SetPrompt("")
	if c.Prompt() != DefaultPrompt {
		t.Fatal("empty prompt must restore the default")
	}
}
