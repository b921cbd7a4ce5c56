package sample

import (
	"context"
	"errors"
	"testing"
	"time"

	"omrun/internal/acl"
	"omrun/internal/acl/sim"
)

func TestSession_Infer(t *testing.T) {
	rt := newSim(acl.RunModeHost)
	s, err := OpenSession(rt, acl.RunModeHost, "sim", Options{Model: testModel, TopK: 3, NewID: seqIDs()})
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	if !s.Ready() {
		t.Fatalf("session not ready")
	}

	if _, err := s.Infer(context.Background(), []byte{1, 2, 3}, 0); !acl.IsBind(err) {
		t.Fatalf("short input err = %v, want bind error", err)
	}

	data := make([]byte, inputSize)
	data[7] = 200
	rep, err := s.Infer(context.Background(), data, 1)
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if len(rep.Outputs) != 2 || len(rep.Outputs[0].Top) != 1 || rep.Outputs[0].Top[0].Index != 7 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if rep, err = s.Infer(context.Background(), data, 0); err != nil || len(rep.Outputs[0].Top) != 3 {
		t.Fatalf("default top-k: %+v, %v", rep, err)
	}

	st := s.Status()
	if st.State != "ready" || st.Backend != "sim" || st.RunMode != "host" || st.InferencesTotal != 2 {
		t.Fatalf("unexpected status: %+v", st)
	}
	if st.LastError == "" || st.WorkBytes != 1<<20 || len(st.Outputs) != 2 {
		t.Fatalf("unexpected status: %+v", st)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := s.Infer(context.Background(), data, 0); !errors.Is(err, ErrClosed) {
		t.Fatalf("Infer after Close err = %v", err)
	}
	if s.Ready() {
		t.Fatalf("closed session reports ready")
	}
	if l := rt.Leaks(); !l.Clean() {
		t.Fatalf("leaks: %+v", l)
	}
}

func TestSession_WaitHonorsContext(t *testing.T) {
	rt := newSim(acl.RunModeDevice)
	s, err := OpenSession(rt, acl.RunModeDevice, "sim", Options{Model: testModel})
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	defer s.Close()

	s.sem <- struct{}{} // hold the model
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s.Infer(ctx, make([]byte, inputSize), 0); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Infer err = %v, want deadline exceeded", err)
	}
	<-s.sem
}

func TestOpenSession_LoadFailure(t *testing.T) {
	rt := newSim(acl.RunModeHost)
	if _, err := OpenSession(rt, acl.RunModeHost, "sim", Options{Model: "other.om"}); !acl.IsSizeQuery(err) {
		t.Fatalf("OpenSession err = %v, want size query error", err)
	}
	if l := rt.Leaks(); !l.Clean() {
		t.Fatalf("leaks: %+v", l)
	}
}

func TestSession_ReadyAndStatusDoNotWaitForInference(t *testing.T) {
	entered := make(chan struct{})
	gate := make(chan struct{})
	kernel := func(in, out [][]byte) error {
		close(entered)
		<-gate
		return sim.DefaultKernel(in, out)
	}
	rt := sim.New(sim.WithRunMode(acl.RunModeHost), sim.WithKernel(kernel), sim.WithModel(testModel, sim.Manifest{
		WorkSize: 1 << 20, WeightSize: 4 << 20, Inputs: []uint64{inputSize}, Outputs: []uint64{4000, 40},
	}))
	s, err := OpenSession(rt, acl.RunModeHost, "sim", Options{Model: testModel})
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	defer s.Close()

	done := make(chan error, 1)
	go func() {
		_, err := s.Infer(context.Background(), make([]byte, inputSize), 0)
		done <- err
	}()
	<-entered

	polled := make(chan struct{})
	var ready bool
	var state string
	go func() {
		ready = s.Ready()
		state = s.Status().State
		close(polled)
	}()
	select {
	case <-polled:
	case <-time.After(2 * time.Second):
		close(gate)
		t.Fatal("Ready/Status blocked behind a running inference")
	}
	if !ready || state != "executing" {
		t.Fatalf("during inference: ready=%t state=%q, want true/executing", ready, state)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if st := s.Status(); st.State != "ready" || st.InferencesTotal != 1 {
		t.Fatalf("status after inference = %+v", st)
	}
}
