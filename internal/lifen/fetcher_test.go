package lifen

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/foch-qualite/sequad/internal/shared/config"
	apperrors "github.com/foch-qualite/sequad/internal/shared/errors"
	"github.com/foch-qualite/sequad/internal/shared/retry"
	"github.com/foch-qualite/sequad/internal/shared/types"
)

type fakeVenueSource struct {
	mu sync.Mutex
	// byStart maps a chunk start date to the venues it returns.
	byStart map[string][]int64
	// failures maps a chunk start date to the errors returned first, in order.
	failures map[string][]error
	calls    []string
}

func (f *fakeVenueSource) VenueNumbers(ctx context.Context, start, end types.Date) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := start.String()
	f.calls = append(f.calls, key+".."+end.String())
	if errs := f.failures[key]; len(errs) > 0 {
		f.failures[key] = errs[1:]
		return nil, errs[0]
	}
	return f.byStart[key], nil
}

type fakeDocumentStore struct {
	mu       sync.Mutex
	batches  [][]int64
	failures []error
}

func (f *fakeDocumentStore) FindByVenues(ctx context.Context, venues []int64) ([]Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, append([]int64(nil), venues...))
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		if err != nil {
			return nil, err
		}
	}
	var docs []Document
	for _, v := range venues {
		docs = append(docs, Document{DocumentID: fmt.Sprintf("doc-%d", v), StayNumber: v, RecipientRole: RolePatient})
	}
	return docs, nil
}

func testFetcher(store DocumentStore, venues VenueSource, batchSize int) (*Fetcher, *int) {
	f := NewFetcher(store, venues, FetcherConfig{
		BatchSize:           batchSize,
		DirectThresholdDays: 20,
		MaxChunks:           60,
		Tiers:               config.DefaultChunkTiers(),
		Pause:               500 * time.Millisecond,
		Retry:               retry.NoWait(2),
	}, zerolog.Nop())
	sleeps := 0
	f.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps++
		return nil
	}
	return f, &sleeps
}

func TestByVenuesBatches(t *testing.T) {
	store := &fakeDocumentStore{}
	f, _ := testFetcher(store, &fakeVenueSource{}, 3)

	docs, summary, err := f.ByVenues(context.Background(), []int64{7, 1, 2, 0, 3, 4, -5, 5, 6, 2})
	if err != nil {
		t.Fatalf("ByVenues failed: %v", err)
	}

	expected := [][]int64{{1, 2, 3}, {4, 5, 6}, {7}}
	if !reflect.DeepEqual(store.batches, expected) {
		t.Errorf("Expected batches %v, got %v", expected, store.batches)
	}
	if len(docs) != 7 {
		t.Errorf("Expected 7 documents, got %d", len(docs))
	}
	if summary.Batches != 3 || summary.Venues != 7 {
		t.Errorf("Unexpected summary %+v", summary)
	}
}

func TestByVenuesBatchFailureFailsCall(t *testing.T) {
	store := &fakeDocumentStore{failures: []error{nil, apperrors.Wrap(errors.New("ORA-00942"), "lifen query failed")}}
	f, _ := testFetcher(store, &fakeVenueSource{}, 2)

	_, _, err := f.ByVenues(context.Background(), []int64{1, 2, 3, 4, 5})
	if err == nil {
		t.Fatal("Expected batch failure to fail the call")
	}
	if len(store.batches) != 2 {
		t.Errorf("Expected non-transient failure not to be retried, got %d calls", len(store.batches))
	}
}

func TestByVenuesRetriesTransientFailure(t *testing.T) {
	store := &fakeDocumentStore{failures: []error{apperrors.Timeout(DBTarget, context.DeadlineExceeded)}}
	f, _ := testFetcher(store, &fakeVenueSource{}, 10)

	docs, _, err := f.ByVenues(context.Background(), []int64{1, 2})
	if err != nil {
		t.Fatalf("Expected retry to succeed, got %v", err)
	}
	if len(store.batches) != 2 {
		t.Errorf("Expected 2 attempts, got %d", len(store.batches))
	}
	if len(docs) != 2 {
		t.Errorf("Expected 2 documents, got %d", len(docs))
	}
}

func TestByVenuesRetriesExhausted(t *testing.T) {
	timeout := apperrors.Timeout(DBTarget, context.DeadlineExceeded)
	store := &fakeDocumentStore{failures: []error{timeout, timeout, timeout}}
	f, _ := testFetcher(store, &fakeVenueSource{}, 10)

	_, _, err := f.ByVenues(context.Background(), []int64{1})
	if !errors.Is(err, apperrors.ErrTimeout) {
		t.Errorf("Expected timeout after retries, got %v", err)
	}
	if len(store.batches) != 2 {
		t.Errorf("Expected 2 attempts, got %d", len(store.batches))
	}
}

func TestByPeriodDirect(t *testing.T) {
	venues := &fakeVenueSource{byStart: map[string][]int64{"2024-01-01": {3, 1, 3}}}
	store := &fakeDocumentStore{}
	f, sleeps := testFetcher(store, venues, 150)

	docs, summary, err := f.ByPeriod(context.Background(), day("2024-01-01"), day("2024-01-20"))
	if err != nil {
		t.Fatalf("ByPeriod failed: %v", err)
	}
	if summary.Strategy != "direct" {
		t.Errorf("Expected direct strategy, got %s", summary.Strategy)
	}
	if !reflect.DeepEqual(venues.calls, []string{"2024-01-01..2024-01-20"}) {
		t.Errorf("Expected one venue lookup, got %v", venues.calls)
	}
	if len(docs) != 2 {
		t.Errorf("Expected 2 documents, got %d", len(docs))
	}
	if *sleeps != 0 {
		t.Errorf("Expected no pause, got %d", *sleeps)
	}
}

func TestByPeriodDirectNoVenues(t *testing.T) {
	store := &fakeDocumentStore{}
	f, _ := testFetcher(store, &fakeVenueSource{}, 150)

	docs, _, err := f.ByPeriod(context.Background(), day("2024-01-01"), day("2024-01-05"))
	if err != nil {
		t.Fatalf("ByPeriod failed: %v", err)
	}
	if docs == nil || len(docs) != 0 {
		t.Errorf("Expected empty result, got %v", docs)
	}
	if len(store.batches) != 0 {
		t.Errorf("Expected no batch query, got %d", len(store.batches))
	}
}

func TestByPeriodChunksSkipFailureAndDedup(t *testing.T) {
	// 2024-01-01..2024-01-31 splits into three 15-day chunks.
	venues := &fakeVenueSource{
		byStart: map[string][]int64{
			"2024-01-01": {1, 2},
			"2024-01-16": {3},
			"2024-01-31": {2, 4},
		},
		failures: map[string][]error{
			"2024-01-16": {apperrors.Upstream("easily", 400, "bad request", nil)},
		},
	}
	store := &fakeDocumentStore{}
	f, sleeps := testFetcher(store, venues, 150)

	docs, summary, err := f.ByPeriod(context.Background(), day("2024-01-01"), day("2024-01-31"))
	if err != nil {
		t.Fatalf("ByPeriod failed: %v", err)
	}

	if summary.Chunks != 3 || summary.FailedChunks != 1 {
		t.Errorf("Expected 3 chunks with 1 failure, got %+v", summary)
	}
	if summary.Duplicates != 1 {
		t.Errorf("Expected 1 duplicate, got %d", summary.Duplicates)
	}
	var ids []string
	for _, d := range docs {
		ids = append(ids, d.DocumentID)
	}
	expected := []string{"doc-1", "doc-2", "doc-4"}
	if !reflect.DeepEqual(ids, expected) {
		t.Errorf("Expected %v, got %v", expected, ids)
	}
	if *sleeps != 2 {
		t.Errorf("Expected 2 pauses, got %d", *sleeps)
	}
}

func TestByPeriodRetriesVenueLookup(t *testing.T) {
	venues := &fakeVenueSource{
		byStart: map[string][]int64{"2024-03-01": {9}},
		failures: map[string][]error{
			"2024-03-01": {apperrors.Upstream("easily", 503, "", nil)},
		},
	}
	f, _ := testFetcher(&fakeDocumentStore{}, venues, 150)

	docs, _, err := f.ByPeriod(context.Background(), day("2024-03-01"), day("2024-03-02"))
	if err != nil {
		t.Fatalf("Expected retry to succeed, got %v", err)
	}
	if len(venues.calls) != 2 || len(docs) != 1 {
		t.Errorf("Expected 2 lookups and 1 document, got %d and %d", len(venues.calls), len(docs))
	}
}

func TestByPeriodCancelledDuringPause(t *testing.T) {
	venues := &fakeVenueSource{byStart: map[string][]int64{}}
	f, _ := testFetcher(&fakeDocumentStore{}, venues, 150)
	ctx, cancel := context.WithCancel(context.Background())
	f.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, _, err := f.ByPeriod(ctx, day("2024-01-01"), day("2024-03-31"))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected cancellation, got %v", err)
	}
}

func TestDedupKeys(t *testing.T) {
	sent := types.NewTimestamp(time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC))
	docs := []Document{
		{DocumentID: "A", RecipientID: "r1"},
		{DocumentID: "A", RecipientID: "r2"},
		{DocumentID: "A", RecipientID: "r1", Channel: "later"},
		{StayNumber: 5, SentAt: sent},
		{StayNumber: 5, SentAt: sent, Channel: "dup"},
		{DocumentID: "B"},
	}

	kept, dropped := Dedup(docs)
	if dropped != 2 || len(kept) != 4 {
		t.Fatalf("Expected 4 kept and 2 dropped, got %d and %d", len(kept), dropped)
	}
	if kept[0].Channel != "" || kept[2].Channel != "" {
		t.Error("Expected first occurrences to win")
	}
	if got := kept[2].DedupKey(); got != "5_2024-01-02T10:00:00" {
		t.Errorf("Unexpected fallback key %s", got)
	}
}

func TestBatchQuery(t *testing.T) {
	query, args := batchQuery([]int64{10, 20}, 3000)
	if !reflect.DeepEqual(args, []any{int64(10), int64(20), LetterType, 3000}) {
		t.Errorf("Unexpected args %v", args)
	}
	for _, want := range []string{"NUM_SEJ IN (:1, :2)", "TYPE_DOC = :3", "ORDER BY DATE_ENVOI DESC", "FETCH FIRST :4 ROWS ONLY"} {
		if !strings.Contains(query, want) {
			t.Errorf("Expected query to contain %q", want)
		}
	}
	// Oracle applies ROWNUM before ORDER BY; the cap must follow the ordering.
	if strings.Contains(query, "ROWNUM") {
		t.Error("Expected no ROWNUM cap in the query")
	}
	if strings.Index(query, "ORDER BY") > strings.Index(query, "FETCH FIRST") {
		t.Error("Expected the row cap after ORDER BY")
	}
}
