package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"regprobe/internal/shared/types"
)

func TestMemoryStore_IncrProgress(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	task := &types.DetectionTask{ID: 1, TotalCount: 3, Status: types.TaskRunning}
	if err := st.SaveTask(ctx, task); err != nil {
		t.Fatal(err)
	}

	updated, err := st.IncrProgress(ctx, 1, true)
	if err != nil {
		t.Fatalf("IncrProgress() returned an error: %v", err)
	}
	if updated.CompletedCount != 1 || updated.SuccessCount != 1 || updated.FailCount != 0 {
		t.Errorf("Unexpected counters after first increment: %+v", updated)
	}
	if updated.Status != types.TaskRunning {
		t.Errorf("Expected task still running at 1/3, got status %d", updated.Status)
	}

	st.IncrProgress(ctx, 1, false)
	updated, _ = st.IncrProgress(ctx, 1, true)
	if updated.CompletedCount != 3 || updated.SuccessCount != 2 || updated.FailCount != 1 {
		t.Errorf("Unexpected final counters: %+v", updated)
	}
	if updated.Status != types.TaskCompleted {
		t.Errorf("Expected task completed at 3/3, got status %d", updated.Status)
	}
}

func TestMemoryStore_IncrProgressConcurrent(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	const total = 100
	if err := st.SaveTask(ctx, &types.DetectionTask{ID: 1, TotalCount: total, Status: types.TaskRunning}); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func(success bool) {
			defer wg.Done()
			if _, err := st.IncrProgress(ctx, 1, success); err != nil {
				t.Errorf("IncrProgress() returned an error: %v", err)
			}
		}(i%2 == 0)
	}
	wg.Wait()

	task, err := st.GetTask(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if task.CompletedCount != total {
		t.Errorf("Expected %d completions, got %d", total, task.CompletedCount)
	}
	if task.SuccessCount+task.FailCount != total {
		t.Errorf("Expected outcome tallies to sum to %d, got %d+%d", total, task.SuccessCount, task.FailCount)
	}
	if task.Status != types.TaskCompleted {
		t.Errorf("Expected task completed, got status %d", task.Status)
	}
}

func TestMemoryStore_IncrProgressUnknownTask(t *testing.T) {
	st := NewMemoryStore()
	if _, err := st.IncrProgress(context.Background(), 99, true); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_NotFound(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	if _, err := st.GetTemplate(ctx, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetTemplate: expected ErrNotFound, got %v", err)
	}
	if _, err := st.GetTask(ctx, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetTask: expected ErrNotFound, got %v", err)
	}
	if err := st.SetTaskStatus(ctx, 1, types.TaskStopped); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetTaskStatus: expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_CallersCannotMutateStoredState(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	tpl := &types.ProbeTemplate{ID: 1, Name: "original"}
	if err := st.SaveTemplate(ctx, tpl); err != nil {
		t.Fatal(err)
	}
	tpl.Name = "mutated after save"

	got, err := st.GetTemplate(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "original" {
		t.Errorf("Stored template aliased the caller's pointer: %q", got.Name)
	}

	got.Name = "mutated after get"
	again, _ := st.GetTemplate(ctx, 1)
	if again.Name != "original" {
		t.Errorf("Returned template aliased internal state: %q", again.Name)
	}
}

func TestMemoryStore_ResultsAppendOnly(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	for i, status := range []types.DetectStatus{types.StatusRegistered, types.StatusUnregistered} {
		err := st.SaveResult(ctx, &types.DetectionResult{ID: string(rune('a' + i)), TaskID: 5, DetectStatus: status})
		if err != nil {
			t.Fatal(err)
		}
	}

	results, err := st.ResultsByTask(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	if results[0].DetectStatus != types.StatusRegistered || results[1].DetectStatus != types.StatusUnregistered {
		t.Errorf("Expected results in insertion order, got %+v", results)
	}

	if other, _ := st.ResultsByTask(ctx, 6); len(other) != 0 {
		t.Errorf("Expected no results for another task, got %d", len(other))
	}
}

func TestMemoryStore_Servers(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	st.SaveServer(ctx, &types.Server{ID: 2, Name: "worker-2", Host: "10.0.0.2", Port: 22})
	st.SaveServer(ctx, &types.Server{ID: 1, Name: "worker-1", Host: "10.0.0.1", Port: 22})

	servers, err := st.ListServers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(servers) != 2 || servers[0].ID != 1 || servers[1].ID != 2 {
		t.Errorf("Expected servers sorted by id, got %+v", servers)
	}
}
