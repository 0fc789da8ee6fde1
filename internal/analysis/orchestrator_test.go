package analysis

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hyperjump/docstat/internal/apperr"
	"github.com/hyperjump/docstat/internal/models"
	"github.com/hyperjump/docstat/internal/storage"
)

type fetchFunc func(ctx context.Context, fileID string) ([]byte, error)

func (f fetchFunc) FetchContent(ctx context.Context, fileID string) ([]byte, error) {
	return f(ctx, fileID)
}

func staticContent(files map[string][]byte) ContentFetcher {
	return fetchFunc(func(_ context.Context, fileID string) ([]byte, error) {
		data, ok := files[fileID]
		if !ok {
			return nil, apperr.New(apperr.NotFound, "file with id %s not found", fileID)
		}
		return data, nil
	})
}

func newTestStore(t *testing.T) *storage.SQLiteJobStore {
	t.Helper()
	store, err := storage.NewSQLiteJobStore(filepath.Join(t.TempDir(), "analysis.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func startOrchestrator(t *testing.T, store storage.JobStore, fetcher ContentFetcher, opts Options) *Orchestrator {
	t.Helper()
	o := New(store, fetcher, opts, nil)
	o.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := o.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	})
	return o
}

func waitTerminal(t *testing.T, o *Orchestrator, fileID string) *models.AnalysisJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := o.GetStatus(context.Background(), fileID)
		if err == nil && job.Status.Terminal() {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job for %s did not finish", fileID)
	return nil
}

func TestTrigger_CompletesExampleDocument(t *testing.T) {
	fileID := uuid.NewString()
	o := startOrchestrator(t, newTestStore(t), staticContent(map[string][]byte{
		fileID: []byte("Hello world.\n\nHello again."),
	}), Options{WordCloudSize: 2})

	status, created, err := o.Trigger(context.Background(), fileID)
	if err != nil {
		t.Fatal(err)
	}
	if !created || status != models.JobStatusPending {
		t.Errorf("Trigger = %s, %v; want Pending, true", status, created)
	}

	job := waitTerminal(t, o, fileID)
	if job.Status != models.JobStatusCompleted {
		t.Fatalf("status = %s (%s)", job.Status, job.ErrorMessage)
	}
	if job.SymbolCount != 26 || job.ParagraphCount != 2 || job.WordCount != 4 {
		t.Errorf("stats = %d/%d/%d, want 26/2/4", job.SymbolCount, job.ParagraphCount, job.WordCount)
	}
	want := models.WordCloud{{Word: "hello", Count: 2}, {Word: "world", Count: 1}}
	if len(job.WordCloud) != len(want) {
		t.Fatalf("word cloud = %+v, want %+v", job.WordCloud, want)
	}
	for i := range want {
		if job.WordCloud[i] != want[i] {
			t.Errorf("word cloud[%d] = %+v, want %+v", i, job.WordCloud[i], want[i])
		}
	}

	res, err := o.GetResult(context.Background(), fileID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != ResultCompleted || res.Job.ID != job.ID {
		t.Errorf("GetResult = %+v", res)
	}
}

func TestTrigger_Idempotent(t *testing.T) {
	fileID := uuid.NewString()
	o := startOrchestrator(t, newTestStore(t), staticContent(map[string][]byte{fileID: []byte("one two")}), Options{})
	ctx := context.Background()

	if _, _, err := o.Trigger(ctx, fileID); err != nil {
		t.Fatal(err)
	}
	first := waitTerminal(t, o, fileID)

	status, created, err := o.Trigger(ctx, fileID)
	if err != nil {
		t.Fatal(err)
	}
	if created || status != models.JobStatusCompleted {
		t.Errorf("retrigger = %s, %v; want Completed, false", status, created)
	}
	again, _ := o.GetStatus(ctx, fileID)
	if again.ID != first.ID || !again.UpdatedAt.Equal(first.UpdatedAt) {
		t.Error("retrigger modified the completed job")
	}
}

func TestTrigger_ConcurrentCreatesOneJob(t *testing.T) {
	fileID := uuid.NewString()
	var calls int
	var mu sync.Mutex
	fetcher := fetchFunc(func(context.Context, string) ([]byte, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return []byte("concurrent words here"), nil
	})
	o := startOrchestrator(t, newTestStore(t), fetcher, Options{Workers: 4})

	const n = 20
	var wg sync.WaitGroup
	var created int
	var cmu sync.Mutex
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := o.Trigger(context.Background(), fileID)
			if err != nil {
				t.Error(err)
				return
			}
			if ok {
				cmu.Lock()
				created++
				cmu.Unlock()
			}
		}()
	}
	wg.Wait()
	waitTerminal(t, o, fileID)

	if created != 1 {
		t.Errorf("created = %d, want 1", created)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("content fetched %d times, want 1", calls)
	}
}

func TestTrigger_InvalidFileID(t *testing.T) {
	o := New(newTestStore(t), staticContent(nil), Options{}, nil)
	for _, id := range []string{"", "   ", "not-a-uuid"} {
		if _, _, err := o.Trigger(context.Background(), id); !apperr.Is(err, apperr.Invalid) {
			t.Errorf("Trigger(%q) err = %v, want Invalid", id, err)
		}
	}
}

func TestProcess_Failures(t *testing.T) {
	const fetchPrefix = "failed to fetch file content: "
	long := strings.Repeat("é", 400)
	tests := []struct {
		name    string
		fetch   fetchFunc
		wantMsg string
	}{
		{
			name: "missing content",
			fetch: func(context.Context, string) ([]byte, error) {
				return nil, apperr.New(apperr.ContentMissing, "content not found in storage")
			},
			wantMsg: "file content not found: content not found in storage",
		},
		{
			name:    "unknown file",
			fetch:   staticContent(nil).(fetchFunc),
			wantMsg: "file content not found: file with id",
		},
		{
			name:    "empty content",
			fetch:   func(context.Context, string) ([]byte, error) { return []byte{}, nil },
			wantMsg: "received empty file content from storage service",
		},
		{
			name:    "long error is truncated",
			fetch:   func(context.Context, string) ([]byte, error) { return nil, errors.New(long) },
			wantMsg: fetchPrefix + strings.Repeat("é", MaxErrorMessageRunes-len(fetchPrefix)),
		},
		{
			name:    "panic",
			fetch:   func(context.Context, string) ([]byte, error) { panic("boom") },
			wantMsg: "analysis panicked: boom",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fileID := uuid.NewString()
			o := startOrchestrator(t, newTestStore(t), tt.fetch, Options{Workers: 1})
			if _, _, err := o.Trigger(context.Background(), fileID); err != nil {
				t.Fatal(err)
			}
			job := waitTerminal(t, o, fileID)
			if job.Status != models.JobStatusFailed {
				t.Fatalf("status = %s, want Failed", job.Status)
			}
			if !strings.HasPrefix(job.ErrorMessage, tt.wantMsg) {
				t.Errorf("ErrorMessage = %q, want %q", job.ErrorMessage, tt.wantMsg)
			}
			if utf8.RuneCountInString(job.ErrorMessage) > MaxErrorMessageRunes {
				t.Errorf("ErrorMessage has %d runes", utf8.RuneCountInString(job.ErrorMessage))
			}

			res, err := o.GetResult(context.Background(), fileID)
			if err != nil {
				t.Fatal(err)
			}
			if res.Kind != ResultFailed {
				t.Errorf("GetResult kind = %v, want ResultFailed", res.Kind)
			}

			// Failed jobs are not retried by a new trigger.
			status, created, err := o.Trigger(context.Background(), fileID)
			if err != nil || created || status != models.JobStatusFailed {
				t.Errorf("retrigger = %s, %v, %v; want Failed, false, nil", status, created, err)
			}
		})
	}
}

func TestProcess_Timeout(t *testing.T) {
	fileID := uuid.NewString()
	fetcher := fetchFunc(func(ctx context.Context, _ string) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	o := startOrchestrator(t, newTestStore(t), fetcher, Options{Workers: 1, JobTimeout: 50 * time.Millisecond})
	if _, _, err := o.Trigger(context.Background(), fileID); err != nil {
		t.Fatal(err)
	}
	job := waitTerminal(t, o, fileID)
	if job.Status != models.JobStatusFailed || job.ErrorMessage != "analysis timed out after 50ms" {
		t.Errorf("job = %s %q", job.Status, job.ErrorMessage)
	}
}

func TestProcess_InvalidUTF8(t *testing.T) {
	fileID := uuid.NewString()
	o := startOrchestrator(t, newTestStore(t), staticContent(map[string][]byte{
		fileID: {0xff, 'a', 'b'},
	}), Options{})
	if _, _, err := o.Trigger(context.Background(), fileID); err != nil {
		t.Fatal(err)
	}
	job := waitTerminal(t, o, fileID)
	if job.Status != models.JobStatusCompleted {
		t.Fatalf("status = %s (%s)", job.Status, job.ErrorMessage)
	}
	if job.SymbolCount != 3 || job.WordCount != 1 {
		t.Errorf("symbols = %d words = %d, want 3 and 1", job.SymbolCount, job.WordCount)
	}
}

func TestGetResultAndStatus_Unknown(t *testing.T) {
	o := New(newTestStore(t), staticContent(nil), Options{}, nil)
	res, err := o.GetResult(context.Background(), uuid.NewString())
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != ResultNotFound || res.Job != nil {
		t.Errorf("GetResult = %+v", res)
	}
	if _, err := o.GetStatus(context.Background(), uuid.NewString()); !apperr.Is(err, apperr.NotFound) {
		t.Errorf("GetStatus err = %v, want NotFound", err)
	}
}

func TestGetResult_InProgress(t *testing.T) {
	fileID := uuid.NewString()
	release := make(chan struct{})
	fetcher := fetchFunc(func(context.Context, string) ([]byte, error) {
		<-release
		return []byte("slow text"), nil
	})
	o := startOrchestrator(t, newTestStore(t), fetcher, Options{Workers: 1})
	if _, _, err := o.Trigger(context.Background(), fileID); err != nil {
		t.Fatal(err)
	}
	res, err := o.GetResult(context.Background(), fileID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != ResultInProgress || !res.Job.Status.Active() {
		t.Errorf("GetResult = %v %+v", res.Kind, res.Job)
	}
	close(release)
	if job := waitTerminal(t, o, fileID); job.Status != models.JobStatusCompleted {
		t.Errorf("status = %s", job.Status)
	}
}

func TestSweep_FailsStuckProcessingJobs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	old := time.Now().Add(-time.Hour).UTC()

	stuck := &models.AnalysisJob{ID: "stuck", FileID: uuid.NewString(), Status: models.JobStatusPending, CreatedAt: old, UpdatedAt: old}
	fresh := &models.AnalysisJob{ID: "fresh", FileID: uuid.NewString(), Status: models.JobStatusPending}
	for _, job := range []*models.AnalysisJob{stuck, fresh} {
		if _, _, err := store.CreateJobIfAbsent(ctx, job); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := store.MarkProcessing(ctx, "stuck", old); err != nil {
		t.Fatal(err)
	}
	if _, err := store.MarkProcessing(ctx, "fresh", time.Now()); err != nil {
		t.Fatal(err)
	}

	o := New(store, staticContent(nil), Options{StuckAfter: 10 * time.Minute}, nil)
	o.Sweep(ctx)

	got, err := store.GetJob(ctx, "stuck")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.JobStatusFailed || got.ErrorMessage != interruptedMessage {
		t.Errorf("stuck job = %s %q", got.Status, got.ErrorMessage)
	}
	got, err = store.GetJob(ctx, "fresh")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.JobStatusProcessing {
		t.Errorf("fresh job = %s, want Processing", got.Status)
	}
}

func TestStart_RecoversPendingJobs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	files := map[string][]byte{}
	for i := 0; i < 3; i++ {
		fileID := uuid.NewString()
		files[fileID] = []byte(fmt.Sprintf("document number %d", i))
		job := &models.AnalysisJob{ID: uuid.NewString(), FileID: fileID, Status: models.JobStatusPending}
		if _, _, err := store.CreateJobIfAbsent(ctx, job); err != nil {
			t.Fatal(err)
		}
	}

	o := startOrchestrator(t, store, staticContent(files), Options{Workers: 2})
	for fileID := range files {
		if job := waitTerminal(t, o, fileID); job.Status != models.JobStatusCompleted {
			t.Errorf("%s status = %s", fileID, job.Status)
		}
	}

	st, err := o.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Jobs[models.JobStatusCompleted] != 3 {
		t.Errorf("Stats = %+v", st)
	}
}

func TestEnqueue_FullQueueLeavesJobPending(t *testing.T) {
	store := newTestStore(t)
	o := New(store, staticContent(nil), Options{QueueSize: 1}, nil)
	ctx := context.Background()

	first, second := uuid.NewString(), uuid.NewString()
	if _, _, err := o.Trigger(ctx, first); err != nil {
		t.Fatal(err)
	}
	status, created, err := o.Trigger(ctx, second)
	if err != nil {
		t.Fatal(err)
	}
	if !created || status != models.JobStatusPending {
		t.Errorf("Trigger with full queue = %s, %v", status, created)
	}
	job, err := o.GetStatus(ctx, second)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != models.JobStatusPending {
		t.Errorf("status = %s, want Pending", job.Status)
	}
	if o.isInFlight(job.ID) {
		t.Error("job that did not fit the queue is marked in flight")
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	o := New(newTestStore(t), staticContent(nil), Options{}, nil)
	o.Start()
	ctx := context.Background()
	if err := o.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	if err := o.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
}

// recordingStore logs every status the orchestrator persists.
type recordingStore struct {
	storage.JobStore
	mu       sync.Mutex
	statuses []models.JobStatus
}

func (r *recordingStore) record(s models.JobStatus) {
	r.mu.Lock()
	r.statuses = append(r.statuses, s)
	r.mu.Unlock()
}

func (r *recordingStore) recorded() []models.JobStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.JobStatus(nil), r.statuses...)
}

func (r *recordingStore) CreateJobIfAbsent(ctx context.Context, job *models.AnalysisJob) (*models.AnalysisJob, bool, error) {
	got, created, err := r.JobStore.CreateJobIfAbsent(ctx, job)
	if err == nil && created {
		r.record(got.Status)
	}
	return got, created, err
}

func (r *recordingStore) MarkProcessing(ctx context.Context, id string, at time.Time) (bool, error) {
	ok, err := r.JobStore.MarkProcessing(ctx, id, at)
	if err == nil && ok {
		r.record(models.JobStatusProcessing)
	}
	return ok, err
}

func (r *recordingStore) CompleteJob(ctx context.Context, id string, res storage.JobResult, at time.Time) error {
	err := r.JobStore.CompleteJob(ctx, id, res, at)
	if err == nil {
		r.record(models.JobStatusCompleted)
	}
	return err
}

func (r *recordingStore) FailJob(ctx context.Context, id string, msg string, at time.Time) error {
	err := r.JobStore.FailJob(ctx, id, msg, at)
	if err == nil {
		r.record(models.JobStatusFailed)
	}
	return err
}

var statusRank = map[models.JobStatus]int{
	models.JobStatusPending:    0,
	models.JobStatusProcessing: 1,
	models.JobStatusCompleted:  2,
	models.JobStatusFailed:     2,
}

func TestStatusSequence_IsMonotonic(t *testing.T) {
	tests := []struct {
		name     string
		content  []byte
		fetchErr error
		want     models.JobStatus
	}{
		{"completed", []byte("slow steady text"), nil, models.JobStatusCompleted},
		{"failed", nil, apperr.New(apperr.ContentMissing, "content not found in storage"), models.JobStatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fileID := uuid.NewString()
			entered := make(chan struct{})
			release := make(chan struct{})
			fetcher := fetchFunc(func(context.Context, string) ([]byte, error) {
				close(entered)
				<-release
				return tt.content, tt.fetchErr
			})
			store := &recordingStore{JobStore: newTestStore(t)}
			o := startOrchestrator(t, store, fetcher, Options{Workers: 1})
			ctx := context.Background()

			if _, _, err := o.Trigger(ctx, fileID); err != nil {
				t.Fatal(err)
			}
			select {
			case <-entered:
			case <-time.After(5 * time.Second):
				t.Fatal("worker never fetched content")
			}

			job, err := o.GetStatus(ctx, fileID)
			if err != nil {
				t.Fatal(err)
			}
			if job.Status != models.JobStatusProcessing {
				t.Errorf("status while fetching = %s, want Processing", job.Status)
			}

			// Poll through the release; observed statuses never go backwards.
			observed := []models.JobStatus{job.Status}
			close(release)
			deadline := time.Now().Add(5 * time.Second)
			for time.Now().Before(deadline) {
				job, err = o.GetStatus(ctx, fileID)
				if err != nil {
					t.Fatal(err)
				}
				observed = append(observed, job.Status)
				if job.Status.Terminal() {
					break
				}
				time.Sleep(5 * time.Millisecond)
			}
			for i := 1; i < len(observed); i++ {
				if statusRank[observed[i]] < statusRank[observed[i-1]] {
					t.Fatalf("status went backwards: %v", observed)
				}
			}
			if job.Status != tt.want {
				t.Fatalf("final status = %s, want %s", job.Status, tt.want)
			}

			want := []models.JobStatus{models.JobStatusPending, models.JobStatusProcessing, tt.want}
			got := store.recorded()
			if len(got) != len(want) {
				t.Fatalf("persisted statuses = %v, want %v", got, want)
			}
			for i := range want {
				if got[i] != want[i] {
					t.Errorf("persisted statuses = %v, want %v", got, want)
					break
				}
			}

			// A terminal job is never revisited.
			if status, created, err := o.Trigger(ctx, fileID); err != nil || created || status != tt.want {
				t.Errorf("re-trigger = %s, %v, %v; want %s unchanged", status, created, err, tt.want)
			}
			o.Sweep(ctx)
			if got := store.recorded(); len(got) != len(want) {
				t.Errorf("statuses after re-trigger and sweep = %v", got)
			}
		})
	}
}
