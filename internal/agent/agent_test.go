package agent

import (
	"context"
	"errors"
	"testing"
)

func TestEmit_CancelledContextDoesNotBlock(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ch := make(chan Event) // unbuffered, nobody reading
	if Emit(ctx, ch, Chunk("late")) {
		t.Error("Emit reported success on a cancelled context")
	}
}

func TestEmit_Sends(t *testing.T) {
	ch := make(chan Event, 1)
	if !Emit(context.Background(), ch, Completed(true, "done")) {
		t.Fatal("Emit failed")
	}
	ev := <-ch
	if ev.Kind != EventCompleted || !ev.Success || ev.Text != "done" {
		t.Errorf("event = %+v", ev)
	}
}

func TestRuns(t *testing.T) {
	var r Runs
	stopped := 0
	r.Add("s1", func() error { stopped++; return nil })

	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}
	if err := r.Stop("s1"); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if stopped != 1 {
		t.Errorf("stop called %d times, want 1", stopped)
	}
	if err := r.Stop("s1"); !errors.Is(err, ErrNoRunningProcess) {
		t.Errorf("second Stop = %v, want ErrNoRunningProcess", err)
	}

	r.Add("s2", func() error { return nil })
	r.Remove("s2")
	if r.Len() != 0 {
		t.Errorf("Len after Remove = %d", r.Len())
	}
}
