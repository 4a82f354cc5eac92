package heartbeat

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sea-turtle/sea-turtle/internal/workspace"
)

func newWorkspaceWithTask(t *testing.T, taskContent string) *workspace.Workspace {
	t.Helper()
	dir := t.TempDir()
	if taskContent != "" {
		if err := os.WriteFile(filepath.Join(dir, "task.md"), []byte(taskContent), 0o644); err != nil {
			t.Fatalf("write task.md: %v", err)
		}
	}
	return workspace.New(dir)
}

func TestRun_InvokesCallbackWhenTasksPending(t *testing.T) {
	ws := newWorkspaceWithTask(t, "- [ ] do the thing\n- [x] done already\n")

	var mu sync.Mutex
	var gotAgent string
	var gotTasks []string
	done := make(chan struct{}, 1)

	h := New("default", ws, 20*time.Millisecond, func(agentID string, tasks []string) {
		mu.Lock()
		defer mu.Unlock()
		gotAgent = agentID
		gotTasks = tasks
		select {
		case done <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for heartbeat callback")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotAgent != "default" {
		t.Errorf("expected agent_id 'default', got %q", gotAgent)
	}
	if len(gotTasks) != 1 {
		t.Errorf("expected 1 pending task, got %d: %v", len(gotTasks), gotTasks)
	}
}

func TestRun_NoCallbackWhenNoTasks(t *testing.T) {
	ws := newWorkspaceWithTask(t, "- [x] all done\n")

	called := false
	h := New("default", ws, 20*time.Millisecond, func(agentID string, tasks []string) {
		called = true
	})

	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	time.Sleep(80 * time.Millisecond)
	cancel()
	time.Sleep(20 * time.Millisecond)

	if called {
		t.Error("expected no callback invocation when no tasks are pending")
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	ws := newWorkspaceWithTask(t, "")
	h := New("default", ws, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()

	cancel()
	select {
	case <-stopped:
	case <-time.After(1 * time.Second):
		t.Fatal("expected Run to return promptly after ctx cancel")
	}
}

func TestNew_DefaultsInterval(t *testing.T) {
	ws := newWorkspaceWithTask(t, "")
	h := New("default", ws, 0, nil)
	if h.interval != 5*time.Minute {
		t.Errorf("expected default interval of 5m, got %v", h.interval)
	}
}
