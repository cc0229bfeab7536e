//go:build !integration

package clock

import (
	"context"
	"testing"
	"time"
)

func TestFake(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("should fire timers only once their deadline passes", func(t *testing.T) {
		c := NewFake(start)
		ch := c.After(10 * time.Second)

		c.Advance(9 * time.Second)
		select {
		case <-ch:
			t.Fatal("timer fired early")
		default:
		}

		c.Advance(time.Second)
		select {
		case got := <-ch:
			if !got.Equal(start.Add(10 * time.Second)) {
				t.Errorf("unexpected fire time %s", got)
			}
		default:
			t.Fatal("timer did not fire")
		}
		if c.Waiters() != 0 {
			t.Errorf("expected no pending timers, got %d", c.Waiters())
		}
	})

	t.Run("should fire a non-positive duration immediately", func(t *testing.T) {
		c := NewFake(start)
		select {
		case <-c.After(0):
		default:
			t.Fatal("expected immediate fire")
		}
	})

	t.Run("should release Sleep on cancellation", func(t *testing.T) {
		c := NewFake(start)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := c.Sleep(ctx, time.Hour); err == nil {
			t.Fatal("expected context error")
		}
	})

	t.Run("should jump with Set", func(t *testing.T) {
		c := NewFake(start)
		ch := c.After(time.Minute)
		c.Set(start.Add(2 * time.Minute))
		select {
		case <-ch:
		default:
			t.Fatal("timer did not fire after Set")
		}
		if !c.Now().Equal(start.Add(2 * time.Minute)) {
			t.Errorf("unexpected now %s", c.Now())
		}
	})
}

func TestFakeTicker(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("should tick every period with a single pending timer", func(t *testing.T) {
		c := NewFake(start)
		tk := c.NewTicker(time.Second)
		defer tk.Stop()

		for i := 1; i <= 3; i++ {
			c.Advance(time.Second)
			select {
			case got := <-tk.C():
				if !got.Equal(start.Add(time.Duration(i) * time.Second)) {
					t.Errorf("tick %d at %s", i, got)
				}
			default:
				t.Fatalf("tick %d did not fire", i)
			}
			if c.Waiters() != 1 {
				t.Fatalf("expected one pending timer, got %d", c.Waiters())
			}
		}
	})

	t.Run("should drop ticks for a slow receiver", func(t *testing.T) {
		c := NewFake(start)
		tk := c.NewTicker(time.Second)
		defer tk.Stop()

		c.Advance(time.Second)
		c.Advance(time.Second)
		<-tk.C()
		select {
		case <-tk.C():
			t.Fatal("expected the second tick to be dropped")
		default:
		}
	})

	t.Run("should stop ticking after Stop", func(t *testing.T) {
		c := NewFake(start)
		tk := c.NewTicker(time.Second)
		tk.Stop()
		if c.Waiters() != 0 {
			t.Fatalf("expected no pending timers, got %d", c.Waiters())
		}
		c.Advance(5 * time.Second)
		select {
		case <-tk.C():
			t.Fatal("stopped ticker fired")
		default:
		}
	})

	t.Run("should tick on the real clock", func(t *testing.T) {
		tk := Real{}.NewTicker(time.Millisecond)
		defer tk.Stop()
		select {
		case <-tk.C():
		case <-time.After(time.Second):
			t.Fatal("real ticker did not fire")
		}
	})
}
