package rotation

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

func TestRegistryAddAndNames(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"me-wires", "articles"} {
		opts := testOptions(titled("a", "b"))
		opts.Name = name
		if err := reg.Add(New(staticSource(nil), opts)); err != nil {
			t.Fatalf("Add(%s) failed: %v", name, err)
		}
	}

	dup := testOptions(nil)
	dup.Name = "articles"
	if err := reg.Add(New(staticSource(nil), dup)); err == nil {
		t.Error("expected error for duplicate name")
	}

	if got := reg.Names(); !reflect.DeepEqual(got, []string{"articles", "me-wires"}) {
		t.Errorf("Names() = %v", got)
	}
	if _, ok := reg.Get("weather"); ok {
		t.Error("Get of unknown rotator should fail")
	}
}

func TestRegistryVisibility(t *testing.T) {
	opts := testOptions(titled("a", "b"))
	opts.Clock = clockwork.NewFakeClock()
	opts.Gate = NewGate(nil, 0, opts.Clock, zerolog.Nop())
	c := New(staticSource(nil), opts)

	reg := NewRegistry()
	if err := reg.Add(c); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- reg.Run(ctx) }()

	h := &harness{t: t, c: c}
	h.snaps, _ = c.Subscribe(64)
	h.await("started", func(s Snapshot) bool { return s.Seq >= 2 })

	visible := func(want bool) func(Snapshot) bool {
		return func(s Snapshot) bool { return s.Visible == want }
	}

	reg.ReportVisibility("test", "viewer-1", false)
	h.await("sole viewer hidden", visible(false))

	reg.ReportVisibility("test", "viewer-2", true)
	h.await("second viewer visible", visible(true))

	reg.Leave("test", "viewer-2")
	h.await("visible viewer left", visible(false))

	reg.Leave("test", "viewer-1")
	h.await("no viewers left", visible(true))

	reg.ReportVisibility("unknown", "viewer-1", false)

	cancel()
	select {
	case err := <-runErr:
		if err != nil {
			t.Errorf("Run returned %v, want nil on cancellation", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestRegistryConcurrentVisibility(t *testing.T) {
	opts := testOptions(titled("a", "b"))
	opts.Clock = clockwork.NewFakeClock()
	opts.Gate = NewGate(nil, 0, opts.Clock, zerolog.Nop())
	c := New(staticSource(nil), opts)

	reg := NewRegistry()
	if err := reg.Add(c); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reg.Run(ctx)

	const viewers, rounds = 8, 200
	var wg sync.WaitGroup
	for v := 0; v < viewers; v++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			id := fmt.Sprintf("viewer-%d", v)
			for i := 0; i < rounds; i++ {
				reg.ReportVisibility("test", id, i%2 == 0)
			}
			// Only viewer-0 ends up watching.
			reg.ReportVisibility("test", id, v == 0)
		}(v)
	}
	wg.Wait()

	deadline := time.Now().Add(2 * time.Second)
	settled := 0
	for settled < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("rotator did not settle visible, last snapshot visible=%v", c.Snapshot().Visible)
		}
		if len(c.cmds) == 0 && c.Snapshot().Visible {
			settled++
		} else {
			settled = 0
		}
		time.Sleep(10 * time.Millisecond)
	}
}
