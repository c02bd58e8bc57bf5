package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	apperrors "github.com/adverant/nexus/checkscan-worker/internal/errors"
	"github.com/adverant/nexus/checkscan-worker/internal/logging"
	"github.com/adverant/nexus/checkscan-worker/internal/model"
	"github.com/adverant/nexus/checkscan-worker/internal/processor"
	"github.com/adverant/nexus/checkscan-worker/internal/storage"
)

func TestCheckJobPayloadDecoding(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		want    string
		wantErr string
	}{
		{"base64", `{"checkId":"c1","fileBuffer":"aGVsbG8="}`, "hello", ""},
		{"node buffer", `{"checkId":"c1","fileBuffer":{"type":"Buffer","data":[104,105]}}`, "hi", ""},
		{"absent", `{"checkId":"c1"}`, "", ""},
		{"bad base64", `{"fileBuffer":"@@@"}`, "", "base64"},
		{"wrong type tag", `{"fileBuffer":{"type":"Blob","data":[1]}}`, "", "type"},
		{"missing data", `{"fileBuffer":{"type":"Buffer"}}`, "", "data"},
		{"byte out of range", `{"fileBuffer":{"type":"Buffer","data":[300]}}`, "", "index 0"},
		{"number", `{"fileBuffer":42}`, "", "float64"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p CheckJobPayload
			err := p.UnmarshalJSON([]byte(tt.json))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(p.FileBuffer) != tt.want {
				t.Errorf("buffer = %q, want %q", p.FileBuffer, tt.want)
			}
		})
	}
}

func TestRequeuedJobKeepsImage(t *testing.T) {
	job := RedisJobData{ID: "q1", Attempts: 1, MaxRetries: 3, Payload: CheckJobPayload{CheckID: "c1", Width: 1000, Height: 400, FileBuffer: []byte{0x89, 'P', 'N', 'G'}}}
	data, err := json.Marshal(job)
	if err != nil {
		t.Fatal(err)
	}
	var back RedisJobData
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if string(back.Payload.FileBuffer) != string(job.Payload.FileBuffer) || back.Payload.Width != 1000 || back.Attempts != 1 {
		t.Errorf("job changed across re-queue: %+v", back)
	}
}

func TestCheckJobPayloadValidate(t *testing.T) {
	p := &CheckJobPayload{FileBuffer: []byte{1}}
	if err := p.Validate(); err != nil || p.CheckID == "" {
		t.Fatalf("expected generated check ID, got %q (%v)", p.CheckID, err)
	}
	if err := (&CheckJobPayload{}).Validate(); err == nil {
		t.Error("expected error for empty buffer")
	}
	if err := (&CheckJobPayload{FileBuffer: []byte{1}, Width: -1}).Validate(); err == nil {
		t.Error("expected error for negative width")
	}

	req := (&CheckJobPayload{CheckID: "c9", FileBuffer: []byte{1}, Width: 10, Height: 4}).Request()
	if req.JobID != "c9" || req.Width != 10 || req.Height != 4 {
		t.Errorf("unexpected request %+v", req)
	}
}

type fakeProcessor struct {
	result *processor.Result
	err    error
	block  bool
	got    *processor.CheckRequest
}

func (f *fakeProcessor) ProcessCheckImage(ctx context.Context, req *processor.CheckRequest) (*processor.Result, error) {
	f.got = req
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.result, f.err
}

type fakeStore struct {
	mu       sync.Mutex
	statuses []*storage.JobUpdate
	saved    []string
	saveErr  error
}

func (s *fakeStore) UpdateJobStatus(ctx context.Context, u *storage.JobUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, u)
	return nil
}

func (s *fakeStore) SaveResult(ctx context.Context, checkID, userID string, res *processor.Result) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return "", s.saveErr
	}
	s.saved = append(s.saved, checkID)
	return "ext-" + checkID, nil
}

func (s *fakeStore) last() *storage.JobUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statuses[len(s.statuses)-1]
}

func okResult() *processor.Result {
	check := model.NewExtractedCheck(model.PlaceholderFields(model.SourceOCR), model.DefaultSummaryWeights())
	return &processor.Result{Check: check, Validation: model.ValidationResult{Errors: []string{"Payee is required"}}}
}

func TestRunnerCompletesJob(t *testing.T) {
	proc := &fakeProcessor{result: okResult()}
	store := &fakeStore{}
	r, err := NewRunner(proc, store, 0)
	if err != nil {
		t.Fatal(err)
	}

	outcome, err := r.Run(context.Background(), &CheckJobPayload{CheckID: "c1", UserID: "u1", FileBuffer: []byte{1, 2}, Width: 800, Height: 350})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.ExtractionID != "ext-c1" || outcome.Route != string(processor.RouteManualReview) || outcome.IsValid {
		t.Errorf("unexpected outcome %+v", outcome)
	}
	if proc.got.Width != 800 || proc.got.JobID != "c1" {
		t.Errorf("request not forwarded: %+v", proc.got)
	}
	if len(store.statuses) != 2 || store.statuses[0].Status != "processing" {
		t.Fatalf("expected processing then completed, got %d updates", len(store.statuses))
	}
	if done := store.last(); done.Status != "completed" || done.ExtractionID != "ext-c1" {
		t.Errorf("unexpected final update %+v", done)
	}
}

func TestRunnerMarksFailures(t *testing.T) {
	tests := []struct {
		name  string
		proc  *fakeProcessor
		store *fakeStore
		code  apperrors.ErrorCode
	}{
		{"pipeline", &fakeProcessor{err: apperrors.NewInvalidImageError("c1", errors.New("bad png"))}, &fakeStore{}, apperrors.ErrorInvalidImage},
		{"timeout", &fakeProcessor{block: true}, &fakeStore{}, apperrors.ErrorProcessingTimeout},
		{"storage", &fakeProcessor{result: okResult()}, &fakeStore{saveErr: errors.New("connection refused")}, apperrors.ErrorStorageFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewRunner(tt.proc, tt.store, 20)
			if err != nil {
				t.Fatal(err)
			}
			_, err = r.Run(context.Background(), &CheckJobPayload{CheckID: "c1", FileBuffer: []byte{1}})
			if !apperrors.HasCode(err, tt.code) {
				t.Fatalf("expected %s, got %v", tt.code, err)
			}
			failed := tt.store.last()
			if failed.Status != "failed" || failed.ErrorCode != string(tt.code) {
				t.Errorf("unexpected failure update %+v", failed)
			}
		})
	}
}

func TestHandleProcessCheckSkipsRetryForBadInput(t *testing.T) {
	r, _ := NewRunner(&fakeProcessor{result: okResult()}, &fakeStore{}, 0)
	c := &Consumer{runner: r, config: &ConsumerConfig{QueueName: "checkscan:jobs"}, logger: logging.NewLogger("test")}

	err := c.handleProcessCheck(context.Background(), asynq.NewTask(TaskProcessCheck, []byte("{")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Errorf("malformed payload should skip retry, got %v", err)
	}

	task, err := NewCheckTask(&CheckJobPayload{CheckID: "c2"})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.handleProcessCheck(context.Background(), task); !errors.Is(err, asynq.SkipRetry) {
		t.Errorf("job without image should skip retry, got %v", err)
	}

	task, _ = NewCheckTask(&CheckJobPayload{CheckID: "c3", FileBuffer: []byte{1}})
	if err := c.handleProcessCheck(context.Background(), task); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRetryDelay(t *testing.T) {
	want := []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second, 40 * time.Second, time.Minute, time.Minute}
	for n, w := range want {
		if got := retryDelay(n, nil, nil); got != w {
			t.Errorf("retryDelay(%d) = %v, want %v", n, got, w)
		}
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"invalid image", apperrors.NewInvalidImageError("c1", errors.New("bad png")), false},
		{"region layout", fmt.Errorf("run: %w", apperrors.NewRegionExtractionError("c1", errors.New("roi outside image"))), false},
		{"timeout", apperrors.NewProcessingTimeoutError("c1", time.Second, context.DeadlineExceeded), true},
		{"storage", apperrors.NewStorageFailedError("c1", errors.New("connection refused")), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retryable(tt.err); got != tt.want {
				t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
