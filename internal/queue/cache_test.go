package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestTarget_Names(t *testing.T) {
	target := Target{ApplicationID: "app1", Surface: SurfaceApplicationEvent}
	if got := target.QueueName(""); got != "run_module_application_event-app1" {
		t.Errorf("QueueName = %q", got)
	}
	if got := target.QueueName("staging-"); got != "staging-run_module_application_event-app1" {
		t.Errorf("QueueName(prefix) = %q", got)
	}
	if got := DeadLetterQueueName("staging-"); got != "staging-FAILED_EVENTS" {
		t.Errorf("DeadLetterQueueName = %q", got)
	}
}

func TestProvisionCache_Idempotent(t *testing.T) {
	var calls atomic.Int32
	c := NewProvisionCache(func(_ context.Context, target Target) (Handle, error) {
		calls.Add(1)
		return Handle{Backend: "test", Name: target.QueueName(""), Ref: "ref-" + target.ApplicationID}, nil
	})

	target := Target{ApplicationID: "app", Surface: SurfaceApplicationEvent}
	h1, err := c.Get(context.Background(), target)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	h2, err := c.Get(context.Background(), target)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if h1 != h2 {
		t.Errorf("handles differ: %+v vs %+v", h1, h2)
	}
	if calls.Load() != 1 {
		t.Errorf("provision calls = %d, want 1", calls.Load())
	}

	if _, err := c.Get(context.Background(), Target{ApplicationID: "other", Surface: SurfaceApplicationEvent}); err != nil {
		t.Fatalf("Get other: %v", err)
	}
	if calls.Load() != 2 || c.Len() != 2 {
		t.Errorf("calls = %d, len = %d, want 2/2", calls.Load(), c.Len())
	}
}

func TestProvisionCache_ConcurrentFirstUse(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	c := NewProvisionCache(func(_ context.Context, target Target) (Handle, error) {
		calls.Add(1)
		<-release
		return Handle{Name: target.ApplicationID}, nil
	})

	target := Target{ApplicationID: "app", Surface: SurfaceApplicationEvent}
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Get(context.Background(), target); err != nil {
				t.Errorf("Get: %v", err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("provision calls = %d, want 1", calls.Load())
	}
}

func TestProvisionCache_FailureNotCached(t *testing.T) {
	fail := true
	c := NewProvisionCache(func(context.Context, Target) (Handle, error) {
		if fail {
			return Handle{}, errors.New("access denied")
		}
		return Handle{Name: "q"}, nil
	})

	target := Target{ApplicationID: "app", Surface: SurfaceApplicationEvent}
	if _, err := c.Get(context.Background(), target); err == nil {
		t.Fatal("expected error")
	}
	fail = false
	h, err := c.Get(context.Background(), target)
	if err != nil || h.Name != "q" {
		t.Fatalf("Get after recovery = %+v, %v", h, err)
	}
}
