package taskmon

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shaiso/asioctl/internal/asio"
)

// fakeAPI serves a scripted sequence of summary payloads and a map of
// per-instance results.
type fakeAPI struct {
	mu        sync.Mutex
	summaries []any // map[string]any or error per poll; last repeats
	results   map[string]any
	resultErr map[string][]error // errors to return before succeeding
	polls     int
}

func (f *fakeAPI) GetTaskInstancesSummary(ctx context.Context, taskID string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.polls
	if idx >= len(f.summaries) {
		idx = len(f.summaries) - 1
	}
	f.polls++
	switch v := f.summaries[idx].(type) {
	case error:
		return nil, v
	case map[string]any:
		return v, nil
	default:
		return map[string]any{}, nil
	}
}

func (f *fakeAPI) GetTaskInstanceResults(ctx context.Context, taskID, instanceID string) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if errs := f.resultErr[instanceID]; len(errs) > 0 {
		err := errs[0]
		f.resultErr[instanceID] = errs[1:]
		return nil, err
	}
	return f.results[instanceID], nil
}

type statusEvent struct {
	id, status string
}

type recordingReporter struct {
	mu     sync.Mutex
	events []statusEvent
}

func (r *recordingReporter) StatusChanged(id, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, statusEvent{id, status})
}

type countingWaiter struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (w *countingWaiter) Wait(ctx context.Context, d time.Duration) error {
	w.mu.Lock()
	w.waits = append(w.waits, d)
	w.mu.Unlock()
	return ctx.Err()
}

func summaryWith(instances ...map[string]any) map[string]any {
	list := make([]any, len(instances))
	for i, inst := range instances {
		list[i] = inst
	}
	return map[string]any{"Results": list, "RunningCount": float64(len(instances))}
}

func newTestMonitor(api API, reporter Reporter) *Monitor {
	return New(Config{
		API:          api,
		Reporter:     reporter,
		Waiter:       &countingWaiter{},
		PollInterval: time.Millisecond,
		Timeout:      time.Minute,
	})
}

func TestWaitReportsStatusChangesOnce(t *testing.T) {
	api := &fakeAPI{
		summaries: []any{
			summaryWith(map[string]any{"taskInstanceId": "i1", "OverallStatus": "running"}),
			summaryWith(map[string]any{"taskInstanceId": "i1", "OverallStatus": "running"}),
			summaryWith(map[string]any{"taskInstanceId": "i1", "OverallStatus": "success"}),
		},
		results: map[string]any{"i1": map[string]any{"output": "done"}},
	}
	reporter := &recordingReporter{}

	res, err := newTestMonitor(api, reporter).Wait(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Wait error: %v", err)
	}
	if res.Outcome != OutcomeDone {
		t.Fatalf("outcome = %q, want DONE", res.Outcome)
	}
	// First observation plus one transition; the repeated "running"
	// poll must not produce a duplicate event.
	want := []statusEvent{{"i1", "running"}, {"i1", "success"}}
	if len(reporter.events) != len(want) {
		t.Fatalf("events = %v, want %v", reporter.events, want)
	}
	for i, ev := range want {
		if reporter.events[i] != ev {
			t.Errorf("event %d = %v, want %v", i, reporter.events[i], ev)
		}
	}
	if len(res.Instances) != 1 || res.Instances[0].Output != "done" {
		t.Fatalf("instances = %+v", res.Instances)
	}
}

func TestWaitReportsOnlyChangedInstances(t *testing.T) {
	api := &fakeAPI{
		summaries: []any{
			summaryWith(
				map[string]any{"taskInstanceId": "i1", "OverallStatus": "Running"},
				map[string]any{"taskInstanceId": "i2", "OverallStatus": "Success"},
			),
			summaryWith(
				map[string]any{"taskInstanceId": "i1", "OverallStatus": "Succeeded"},
				map[string]any{"taskInstanceId": "i2", "OverallStatus": "Success"},
			),
		},
		results: map[string]any{},
	}
	reporter := &recordingReporter{}

	res, err := newTestMonitor(api, reporter).Wait(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Wait error: %v", err)
	}
	// Completion is declared only once i1 turns terminal too.
	if res.Outcome != OutcomeDone || api.polls != 2 {
		t.Fatalf("outcome = %q after %d polls, want DONE after 2", res.Outcome, api.polls)
	}

	counts := make(map[statusEvent]int)
	for _, ev := range reporter.events {
		counts[ev]++
	}
	want := map[statusEvent]int{
		{"i1", "Running"}:   1,
		{"i2", "Success"}:   1, // first observation only, no repeat
		{"i1", "Succeeded"}: 1,
	}
	if len(reporter.events) != 3 {
		t.Fatalf("events = %v, want exactly 3", reporter.events)
	}
	for ev, n := range want {
		if counts[ev] != n {
			t.Errorf("event %v seen %d times, want %d", ev, counts[ev], n)
		}
	}
}

func TestWaitCompletesWhenAllInstancesTerminal(t *testing.T) {
	api := &fakeAPI{
		summaries: []any{
			summaryWith(
				map[string]any{"taskInstanceId": "a", "OverallStatus": "running"},
				map[string]any{"taskInstanceId": "b", "OverallStatus": "success"},
			),
			summaryWith(
				map[string]any{"taskInstanceId": "a", "OverallStatus": "failed"},
				map[string]any{"taskInstanceId": "b", "OverallStatus": "success"},
			),
		},
		results: map[string]any{},
	}

	res, err := newTestMonitor(api, nil).Wait(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Wait error: %v", err)
	}
	if res.Outcome != OutcomeDone {
		t.Fatalf("outcome = %q, want DONE", res.Outcome)
	}
	if len(res.Instances) != 2 {
		t.Fatalf("instances = %+v, want both collected", res.Instances)
	}
}

func TestWaitUsesCountsFallback(t *testing.T) {
	// Summaries without an instance list: completion is declared once
	// the running/waiting/scheduled counters all read zero.
	api := &fakeAPI{
		summaries: []any{
			map[string]any{"RunningCount": float64(1), "WaitingCount": float64(0)},
			map[string]any{"RunningCount": float64(0), "WaitingCount": float64(0), "ScheduledCount": float64(0)},
		},
	}

	res, err := newTestMonitor(api, nil).Wait(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Wait error: %v", err)
	}
	if res.Outcome != OutcomeDone {
		t.Fatalf("outcome = %q, want DONE via counters", res.Outcome)
	}
	if len(res.Instances) != 0 {
		t.Fatalf("instances = %+v, want none", res.Instances)
	}
}

func TestWaitTimesOut(t *testing.T) {
	api := &fakeAPI{
		summaries: []any{
			summaryWith(map[string]any{"taskInstanceId": "i1", "OverallStatus": "running"}),
		},
	}
	m := New(Config{
		API:          api,
		PollInterval: time.Millisecond,
		Timeout:      30 * time.Millisecond,
	})
	// A stepping clock so the deadline is crossed deterministically.
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	m.clock = func() time.Time {
		now = now.Add(10 * time.Millisecond)
		return now
	}

	res, err := m.Wait(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Wait error: %v", err)
	}
	if res.Outcome != OutcomeTimedOut {
		t.Fatalf("outcome = %q, want TIMED_OUT", res.Outcome)
	}
	if len(res.Instances) != 0 {
		t.Fatalf("timed-out wait must not collect results: %+v", res.Instances)
	}
}

func TestWaitRetriesRateLimitedSummary(t *testing.T) {
	api := &fakeAPI{
		summaries: []any{
			&asio.RateLimitError{RetryAfter: 2 * time.Second},
			summaryWith(map[string]any{"taskInstanceId": "i1", "OverallStatus": "success"}),
		},
		results: map[string]any{},
	}
	waiter := &countingWaiter{}
	m := New(Config{API: api, Waiter: waiter, PollInterval: time.Millisecond, Timeout: time.Minute})

	res, err := m.Wait(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Wait error: %v", err)
	}
	if res.Outcome != OutcomeDone {
		t.Fatalf("outcome = %q, want DONE", res.Outcome)
	}
	if len(waiter.waits) != 1 || waiter.waits[0] != 2*time.Second {
		t.Fatalf("waits = %v, want one wait of 2s", waiter.waits)
	}
}

func TestWaitRetriesRateLimitedResultsFetch(t *testing.T) {
	api := &fakeAPI{
		summaries: []any{
			summaryWith(map[string]any{"taskInstanceId": "i1", "OverallStatus": "success"}),
		},
		results: map[string]any{"i1": map[string]any{"output": "eventually"}},
		resultErr: map[string][]error{
			"i1": {&asio.RateLimitError{RetryAfter: time.Second}},
		},
	}
	waiter := &countingWaiter{}
	m := New(Config{API: api, Waiter: waiter, PollInterval: time.Millisecond, Timeout: time.Minute})

	res, err := m.Wait(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Wait error: %v", err)
	}
	if len(res.Instances) != 1 || res.Instances[0].Output != "eventually" {
		t.Fatalf("instances = %+v", res.Instances)
	}
	if len(waiter.waits) != 1 {
		t.Fatalf("waits = %v, want exactly one", waiter.waits)
	}
}

func TestWaitSurfacesHardSummaryError(t *testing.T) {
	boom := &asio.HTTPError{StatusCode: 500, Body: "boom"}
	api := &fakeAPI{summaries: []any{error(boom)}}

	_, err := newTestMonitor(api, nil).Wait(context.Background(), "t1")
	var httpErr *asio.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("err = %v, want *asio.HTTPError", err)
	}
}

func TestWaitCancellation(t *testing.T) {
	api := &fakeAPI{
		summaries: []any{
			summaryWith(map[string]any{"taskInstanceId": "i1", "OverallStatus": "running"}),
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := New(Config{API: api, PollInterval: time.Millisecond, Timeout: time.Minute}).Wait(ctx, "t1")
	if err != nil {
		t.Fatalf("cancellation must not be an error: %v", err)
	}
	if res.Outcome != OutcomeCancelled {
		t.Fatalf("outcome = %q, want CANCELLED", res.Outcome)
	}
}

func TestCollectResultsTimings(t *testing.T) {
	submitted := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	api := &fakeAPI{
		summaries: []any{
			summaryWith(map[string]any{
				"taskInstanceId": "i1",
				"OverallStatus":  "success",
				"ExecutedOn":     "2026-03-01T10:00:10Z",
				"CompletedOn":    "2026-03-01T10:02:05Z",
			}),
		},
		results: map[string]any{"i1": map[string]any{"output": "ok"}},
	}
	m := New(Config{API: api, PollInterval: time.Millisecond, Timeout: time.Minute, SubmittedAt: submitted})

	res, err := m.Wait(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Wait error: %v", err)
	}
	inst := res.Instances[0]
	if inst.Elapsed != 125*time.Second || !inst.FromSubmission {
		t.Fatalf("elapsed = %v fromSubmission = %v, want 2m5s from submission", inst.Elapsed, inst.FromSubmission)
	}
	if got := FormatDuration(inst.Elapsed); got != "2m 5s" {
		t.Errorf("FormatDuration = %q, want %q", got, "2m 5s")
	}
	if !res.HasTotal || res.Total != 125*time.Second {
		t.Errorf("total = %v hasTotal = %v", res.Total, res.HasTotal)
	}
}

func TestCollectResultsCompletionFromEntries(t *testing.T) {
	// No completion time in the summary: it must be taken from the
	// result entries matched by instance id, not replaced with "now".
	api := &fakeAPI{
		summaries: []any{
			summaryWith(map[string]any{"taskInstanceId": "i1", "OverallStatus": "success"}),
		},
		results: map[string]any{"i1": map[string]any{
			"Result": []any{map[string]any{
				"taskInstanceId": "i1",
				"completedOn":    "2026-03-01T11:00:00Z",
				"output":         "ok",
			}},
		}},
	}
	m := New(Config{API: api, PollInterval: time.Millisecond, Timeout: time.Minute})

	res, err := m.Wait(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Wait error: %v", err)
	}
	want := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	if !res.Instances[0].CompletedAt.Equal(want) {
		t.Fatalf("completedAt = %v, want %v", res.Instances[0].CompletedAt, want)
	}
}
