package clients

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adverant/nexus/checkscan-worker/internal/engine"
	apperrors "github.com/adverant/nexus/checkscan-worker/internal/errors"
)

func TestDetectSync(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/internal/vision/check-fields" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" || r.Header.Get("X-Request-ID") == "" {
			t.Errorf("missing headers: %v", r.Header)
		}
		var req CheckFieldsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if req.Format != "base64" || req.Image != "aW1n" || req.JobID != "job-7" {
			t.Errorf("unexpected request %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"data":{"modelUsed":"vision-x","detections":[
			{"field":"amount","text":"$10.00","confidence":0.91,"boundingBox":{"x":1,"y":2,"width":3,"height":4},"language":"en"}
		]}}`))
	}))
	defer srv.Close()

	c := NewVisionClient(VisionConfig{BaseURL: srv.URL + "/", APIKey: "secret"})
	res, err := c.Detect(engine.WithJobID(context.Background(), "job-7"), []byte("img"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ModelUsed != "vision-x" || len(res.Detections) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	d := res.Detections[0]
	if d.Field != "amount" || d.Confidence != 0.91 || d.Box.Height != 4 || d.Language != "en" {
		t.Errorf("unexpected detection %+v", d)
	}
}

func TestDetectAsyncPolling(t *testing.T) {
	var polls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/internal/vision/check-fields":
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"success":true,"data":{"taskId":"t-1"}}`))
		case "/api/tasks/t-1":
			if atomic.AddInt32(&polls, 1) < 2 {
				_, _ = w.Write([]byte(`{"success":true,"data":{"task":{"id":"t-1","status":"processing","progress":50}}}`))
				return
			}
			_, _ = w.Write([]byte(`{"success":true,"data":{"task":{"id":"t-1","status":"completed","result":{"modelUsed":"m","detections":[{"field":"payee","text":"ACME","confidence":0.8}]}}}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewVisionClient(VisionConfig{BaseURL: srv.URL, PollInterval: 5 * time.Millisecond})
	res, err := c.Detect(context.Background(), []byte("img"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Detections) != 1 || res.Detections[0].Text != "ACME" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestDetectFailures(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		_, err := NewVisionClient(VisionConfig{BaseURL: srv.URL}).Detect(context.Background(), []byte("img"))
		var se *StatusError
		if !errors.As(err, &se) || se.StatusCode != http.StatusServiceUnavailable || !se.Temporary() {
			t.Fatalf("expected temporary status error, got %v", err)
		}
	})

	t.Run("unknown task", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/api/internal/vision/check-fields" {
				w.WriteHeader(http.StatusAccepted)
				_, _ = w.Write([]byte(`{"success":true,"data":{"taskId":"gone"}}`))
				return
			}
			http.NotFound(w, r)
		}))
		defer srv.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, err := NewVisionClient(VisionConfig{BaseURL: srv.URL, PollInterval: 5 * time.Millisecond}).Detect(ctx, []byte("img"))
		var se *StatusError
		if !errors.As(err, &se) || se.StatusCode != http.StatusNotFound || se.Temporary() {
			t.Fatalf("expected non-temporary 404, got %v", err)
		}
		if ctx.Err() != nil {
			t.Fatal("poller kept retrying a missing task until the deadline")
		}
	})

	t.Run("unsuccessful envelope", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"success":false,"message":"no model available"}`))
		}))
		defer srv.Close()

		if _, err := NewVisionClient(VisionConfig{BaseURL: srv.URL}).Detect(context.Background(), []byte("img")); err == nil {
			t.Fatal("expected error for unsuccessful envelope")
		}
	})

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := NewVisionClient(VisionConfig{BaseURL: srv.URL}).Detect(ctx, []byte("img"))
		if !apperrors.IsTimeout(err) {
			t.Fatalf("expected a timeout error, got %v", err)
		}
	})
}

func TestHealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/health" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := NewVisionClient(VisionConfig{BaseURL: srv.URL}).HealthCheck(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
