package task

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreListWithFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().Add(-2 * time.Minute)

	tasks := []*Task{
		{ID: "t1", Goal: "g1", Status: StatusPending, MaxRetries: 3},
		{ID: "t2", Goal: "g2", Status: StatusFailed, MaxRetries: 3},
		{ID: "t3", Goal: "g3", Status: StatusSucceeded, MaxRetries: 3},
	}

	for _, task := range tasks {
		if err := store.Create(ctx, task); err != nil {
			t.Fatalf("create task %s: %v", task.ID, err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := store.MarkFailed(ctx, "t2", CodeTaskProcessing, "boom", true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "t3", ExecutionResult{FinalResult: "ok"}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	store.mu.Lock()
	store.tasks["t1"].UpdatedAt = base.Unix()
	store.tasks["t2"].UpdatedAt = base.Add(30 * time.Second).Unix()
	store.tasks["t3"].UpdatedAt = base.Add(60 * time.Second).Unix()
	store.mu.Unlock()

	all, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(all))
	}
	if all[0].ID != "t3" {
		t.Fatalf("expected newest task first, got %s", all[0].ID)
	}

	failed, err := store.List(ctx, newListOptions(WithStatuses(StatusFailed)))
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != "t2" {
		t.Fatalf("unexpected failed list: %+v", failed)
	}

	succeeded, err := store.List(ctx, newListOptions(WithResultPresence(true)))
	if err != nil {
		t.Fatalf("list with result: %v", err)
	}
	if len(succeeded) != 1 || succeeded[0].ID != "t3" {
		t.Fatalf("unexpected result list: %+v", succeeded)
	}

	since := base.Add(15 * time.Second)
	recent, err := store.List(ctx, newListOptions(WithUpdatedSince(since)))
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 tasks to match since filter, got %d", len(recent))
	}

	paged, err := store.List(ctx, newListOptions(WithOffset(1), WithLimit(1)))
	if err != nil {
		t.Fatalf("list paged: %v", err)
	}
	if len(paged) != 1 || paged[0].ID != "t2" {
		t.Fatalf("unexpected paged list: %+v", paged)
	}

	oldest, err := store.List(ctx, newListOptions(WithAscending()))
	if err != nil {
		t.Fatalf("list ascending: %v", err)
	}
	if oldest[0].ID != "t1" {
		t.Fatalf("expected oldest task first, got %s", oldest[0].ID)
	}

	matched, err := store.List(ctx, newListOptions(WithQuery("OK")))
	if err != nil {
		t.Fatalf("list query: %v", err)
	}
	if len(matched) != 1 || matched[0].ID != "t3" {
		t.Fatalf("unexpected query list: %+v", matched)
	}
}

func TestMemoryStoreStats(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().Add(-3 * time.Minute)
	tasks := []*Task{
		{ID: "a", Goal: "g1", Status: StatusPending, MaxRetries: 3},
		{ID: "b", Goal: "g2", Status: StatusPending, MaxRetries: 3},
		{ID: "c", Goal: "g3", Status: StatusPending, MaxRetries: 3},
	}

	for _, task := range tasks {
		if err := store.Create(ctx, task); err != nil {
			t.Fatalf("create task %s: %v", task.ID, err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	if err := store.MarkFailed(ctx, "b", CodeTaskProcessing, "boom", true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "c", ExecutionResult{FinalResult: "ok"}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	store.mu.Lock()
	store.tasks["a"].UpdatedAt = base.Unix()
	store.tasks["b"].UpdatedAt = base.Add(30 * time.Second).Unix()
	store.tasks["c"].UpdatedAt = base.Add(2 * time.Minute).Unix()
	store.mu.Unlock()

	stats, err := store.Stats(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 || stats.Pending != 1 || stats.Failed != 1 || stats.Succeeded != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.NewestUpdatedAt != base.Add(2*time.Minute).Unix() {
		t.Fatalf("unexpected newest timestamp: %d", stats.NewestUpdatedAt)
	}
	if stats.OldestUpdatedAt != base.Unix() {
		t.Fatalf("unexpected oldest timestamp: %d", stats.OldestUpdatedAt)
	}

	withResults, err := store.Stats(ctx, newListOptions(WithResultPresence(true)))
	if err != nil {
		t.Fatalf("stats with result: %v", err)
	}
	if withResults.Total != 1 || withResults.Succeeded != 1 {
		t.Fatalf("unexpected stats with result: %+v", withResults)
	}

	withoutResults, err := store.Stats(ctx, newListOptions(WithResultPresence(false)))
	if err != nil {
		t.Fatalf("stats without result: %v", err)
	}
	if withoutResults.Total != 2 || withoutResults.Pending != 1 || withoutResults.Failed != 1 {
		t.Fatalf("unexpected stats without result: %+v", withoutResults)
	}

	failedOnly, err := store.Stats(ctx, newListOptions(WithStatuses(StatusFailed)))
	if err != nil {
		t.Fatalf("stats failed only: %v", err)
	}
	if failedOnly.Total != 1 || failedOnly.Failed != 1 {
		t.Fatalf("unexpected failed stats: %+v", failedOnly)
	}
}

func TestMemoryStoreClaimLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, &Task{ID: "x", Goal: "g", Status: StatusPending, MaxRetries: 2}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, &Task{ID: "x", Goal: "g"}); !IsTaskError(err, CodeTaskConflict) {
		t.Fatalf("expected conflict on duplicate id, got %v", err)
	}

	claimed, err := store.Claim(ctx, "x")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Status != StatusRunning || claimed.Attempts != 1 {
		t.Fatalf("unexpected claimed task: %+v", claimed)
	}
	if _, err := store.Claim(ctx, "x"); !IsTaskError(err, CodeTaskConflict) {
		t.Fatalf("expected conflict while running, got %v", err)
	}

	if err := store.MarkFailed(ctx, "x", CodeTaskProcessing, "retry me", false); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	pending, _ := store.Get(ctx, "x")
	if pending.Status != StatusPending || pending.LastError != "retry me" {
		t.Fatalf("non-terminal failure should leave task pending: %+v", pending)
	}

	if _, err := store.Claim(ctx, "x"); err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if err := store.MarkFailed(ctx, "x", CodeTaskProcessing, "again", false); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if _, err := store.Claim(ctx, "x"); !IsTaskError(err, CodeTaskExhausted) {
		t.Fatalf("expected exhausted after max retries, got %v", err)
	}
}

func TestMemoryStoreMarkCancelled(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, id := range []string{"live", "done"} {
		if err := store.Create(ctx, &Task{ID: id, Goal: "g", Status: StatusPending, MaxRetries: 1}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	if err := store.MarkSucceeded(ctx, "done", ExecutionResult{FinalResult: "ok"}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	partial := &ExecutionResult{StepResults: []string{"first"}, StepsExecuted: 1, Cancelled: true}
	if err := store.MarkCancelled(ctx, "live", partial); err != nil {
		t.Fatalf("mark cancelled: %v", err)
	}
	partial.StepResults[0] = "mutated"

	got, _ := store.Get(ctx, "live")
	if got.Status != StatusCancelled || got.Result == nil || got.Result.StepResults[0] != "first" {
		t.Fatalf("unexpected cancelled task: %+v", got)
	}
	if _, err := store.Claim(ctx, "live"); !IsTaskError(err, CodeTaskCancelled) {
		t.Fatalf("expected cancelled claim error, got %v", err)
	}
	if err := store.MarkCancelled(ctx, "done", nil); !IsTaskError(err, CodeTaskCompleted) {
		t.Fatalf("expected completed error, got %v", err)
	}

	stats, _ := store.Stats(ctx, ListOptions{})
	if stats.Cancelled != 1 || stats.Succeeded != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
