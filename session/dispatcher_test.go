package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// gatedDispatcher returns a dispatcher whose adapter blocks in Generate until
// release is called.
func gatedDispatcher(t *testing.T, policy Policy) (*Dispatcher, *fakePipeline, func()) {
	t.Helper()
	fp := newFakePipeline()
	fp.gate = make(chan struct{})
	fp.entered = make(chan struct{}, 8)

	d := NewDispatcher(NewController(fp), WithPolicy(policy))
	var once sync.Once
	release := func() { once.Do(func() { close(fp.gate) }) }
	t.Cleanup(func() {
		release()
		d.Close(context.Background())
	})
	return d, fp, release
}

func waitResult(t *testing.T, tk *Ticket) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := tk.Wait(ctx)
	if err != nil {
		t.Fatalf("ticket %s did not resolve: %v", tk.ID, err)
	}
	return res
}

func waitEntered(t *testing.T, fp *fakePipeline) {
	t.Helper()
	select {
	case <-fp.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("adapter was never entered")
	}
}

func TestDispatcher_TriggerReturnsImmediately(t *testing.T) {
	d, fp, release := gatedDispatcher(t, PolicyReject)

	start := time.Now()
	tk := d.Trigger(standardSettings())
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Trigger() blocked for %v", elapsed)
	}
	if tk.ID == "" {
		t.Error("ticket has empty ID")
	}

	waitEntered(t, fp)
	select {
	case <-tk.Done():
		t.Fatal("ticket resolved while adapter is blocked")
	default:
	}

	release()
	res := waitResult(t, tk)
	if !res.OK() {
		t.Fatalf("result failed: %v", res.Err)
	}
	if res.RequestID != tk.ID {
		t.Errorf("RequestID = %q, want %q", res.RequestID, tk.ID)
	}
}

func TestDispatcher_RejectPolicyReturnsBusy(t *testing.T) {
	d, fp, release := gatedDispatcher(t, PolicyReject)

	first := d.Trigger(standardSettings())
	waitEntered(t, fp)

	if !d.Busy() {
		t.Error("Busy() = false while a request is running")
	}

	second := d.Trigger(standardSettings())
	res := waitResult(t, second)
	if res.OK() || !errors.Is(res.Err, ErrBusy) {
		t.Fatalf("second result = %v, want ErrBusy", res.Err)
	}
	if !res.Err.Kind.Retryable() {
		t.Error("busy should be retryable")
	}

	release()
	if res := waitResult(t, first); !res.OK() {
		t.Errorf("first result failed: %v", res.Err)
	}
	if got := fp.callCount(); got != 1 {
		t.Errorf("adapter called %d times, want 1", got)
	}
}

func TestDispatcher_LatestWinsSupersedesPending(t *testing.T) {
	d, fp, release := gatedDispatcher(t, PolicyLatestWins)

	running := d.Trigger(standardSettings())
	waitEntered(t, fp)

	queued := d.Trigger(standardSettings())
	latest := acceleratedSettings()
	newest := d.Trigger(latest)

	res := waitResult(t, queued)
	if res.OK() || !errors.Is(res.Err, ErrSuperseded) {
		t.Fatalf("queued result = %v, want ErrSuperseded", res.Err)
	}

	release()

	if res := waitResult(t, running); !res.OK() {
		t.Errorf("running result failed: %v", res.Err)
	}
	res = waitResult(t, newest)
	if !res.OK() {
		t.Fatalf("newest result failed: %v", res.Err)
	}
	if res.Settings.BackendMode != BackendAccelerated {
		t.Error("newest result was produced from the wrong settings")
	}
	if got := fp.callCount(); got != 2 {
		t.Errorf("adapter called %d times, want 2", got)
	}
}

func TestDispatcher_InvalidSettingsResolvedImmediately(t *testing.T) {
	d, fp, _ := gatedDispatcher(t, PolicyReject)

	s := standardSettings()
	s.InferenceSteps = 26
	res := waitResult(t, d.Trigger(s))
	if res.OK() || res.Err.Kind != KindInvalidSettings {
		t.Fatalf("result = %v, want InvalidSettings", res.Err)
	}
	if d.Busy() {
		t.Error("invalid request occupied the dispatcher")
	}
	if fp.initCount() != 0 {
		t.Error("adapter initialized for invalid settings")
	}
}

func TestDispatcher_ExactlyOneResultPerTrigger(t *testing.T) {
	fp := newFakePipeline()
	fp.delay = 2 * time.Millisecond
	obs := &recordingObserver{}
	d := NewDispatcher(NewController(fp, WithObserver(obs)), WithPolicy(PolicyLatestWins))
	defer d.Close(context.Background())

	const n = 50
	tickets := make([]*Ticket, n)
	for i := range tickets {
		tickets[i] = d.Trigger(standardSettings())
	}

	ok, dropped := 0, 0
	for _, tk := range tickets {
		res := waitResult(t, tk)
		switch {
		case res.OK():
			ok++
		case errors.Is(res.Err, ErrSuperseded):
			dropped++
		default:
			t.Errorf("unexpected failure: %v", res.Err)
		}
		if again := waitResult(t, tk); again.RequestID != res.RequestID {
			t.Error("ticket produced a second, different result")
		}
	}

	if ok+dropped != n {
		t.Errorf("ok=%d dropped=%d, want total %d", ok, dropped, n)
	}
	if ok < 1 {
		t.Error("no request ran")
	}
	if fp.wasReentered() {
		t.Error("adapter entered concurrently")
	}
	if obs.rejectionCount() != dropped {
		t.Errorf("observer saw %d rejections, want %d", obs.rejectionCount(), dropped)
	}
}

func TestDispatcher_BackToBackNeverConcurrent(t *testing.T) {
	fp := newFakePipeline()
	fp.delay = time.Millisecond
	d := NewDispatcher(NewController(fp), WithPolicy(PolicyReject))
	defer d.Close(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := d.Trigger(standardSettings()).Wait(ctx); err != nil {
				t.Errorf("ticket did not resolve: %v", err)
			}
		}()
	}
	wg.Wait()

	if fp.wasReentered() {
		t.Fatal("adapter entered concurrently")
	}
}

func TestDispatcher_CloseWaitsForInFlight(t *testing.T) {
	fp := newFakePipeline()
	fp.gate = make(chan struct{})
	fp.entered = make(chan struct{}, 1)
	d := NewDispatcher(NewController(fp), WithPolicy(PolicyLatestWins))

	running := d.Trigger(standardSettings())
	waitEntered(t, fp)
	pending := d.Trigger(standardSettings())

	closed := make(chan error, 1)
	go func() { closed <- d.Close(context.Background()) }()

	res := waitResult(t, pending)
	if !errors.Is(res.Err, ErrClosed) {
		t.Errorf("pending result = %v, want ErrClosed", res.Err)
	}

	select {
	case <-closed:
		t.Fatal("Close() returned before the in-flight request finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(fp.gate)
	if err := <-closed; err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if res := waitResult(t, running); !res.OK() {
		t.Errorf("in-flight request failed: %v", res.Err)
	}

	after := waitResult(t, d.Trigger(standardSettings()))
	if !errors.Is(after.Err, ErrClosed) {
		t.Errorf("trigger after close = %v, want ErrClosed", after.Err)
	}
}

func TestDispatcher_CloseTimeout(t *testing.T) {
	fp := newFakePipeline()
	fp.gate = make(chan struct{})
	fp.entered = make(chan struct{}, 1)
	d := NewDispatcher(NewController(fp))
	defer close(fp.gate)

	d.Trigger(standardSettings())
	waitEntered(t, fp)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := d.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Close() error = %v, want deadline exceeded", err)
	}
}

func TestController_CloseDoesNotRaceInFlightGenerate(t *testing.T) {
	fp := newFakePipeline()
	fp.gate = make(chan struct{})
	fp.entered = make(chan struct{}, 1)
	c := NewController(fp)
	d := NewDispatcher(c)

	tk := d.Trigger(standardSettings())
	waitEntered(t, fp)

	// Both closers give up before the generation finishes.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := d.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Dispatcher.Close() error = %v, want deadline exceeded", err)
	}
	if err := c.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Controller.Close() error = %v, want deadline exceeded", err)
	}
	if n := fp.closeCount(); n != 0 {
		t.Fatalf("adapter released %d times during generation", n)
	}

	close(fp.gate)
	if res := waitResult(t, tk); !res.OK() {
		t.Errorf("in-flight request failed: %v", res.Err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	if err := c.Close(waitCtx); err != nil {
		t.Fatalf("Controller.Close() error = %v", err)
	}
	if n := fp.closeCount(); n != 1 {
		t.Errorf("adapter released %d times, want 1", n)
	}
	if fp.wasReentered() {
		t.Error("adapter entered concurrently")
	}
	if c.State().Loaded {
		t.Error("controller still loaded after Close")
	}

	res := c.Generate(context.Background(), standardSettings())
	if !errors.Is(res.Err, ErrClosed) {
		t.Errorf("Generate after Close = %v, want ErrClosed", res.Err)
	}
	if _, err := c.EnsurePipelineReady(context.Background(), standardSettings()); !errors.Is(err, ErrClosed) {
		t.Errorf("EnsurePipelineReady after Close = %v, want ErrClosed", err)
	}
}

func TestTicket_DoneThenWait(t *testing.T) {
	d := NewDispatcher(NewController(newFakePipeline()))
	defer d.Close(context.Background())

	tk := d.Trigger(standardSettings())
	select {
	case <-tk.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("ticket never resolved")
	}
	<-tk.Done()

	first := tk.Result()
	if !first.OK() {
		t.Fatalf("result failed: %v", first.Err)
	}
	for i := 0; i < 3; i++ {
		if res := waitResult(t, tk); res.RequestID != first.RequestID {
			t.Errorf("Wait #%d returned request %q, want %q", i, res.RequestID, first.RequestID)
		}
	}
}

func TestTicket_ResultBeforeResolve(t *testing.T) {
	d, fp, release := gatedDispatcher(t, PolicyReject)
	tk := d.Trigger(standardSettings())
	waitEntered(t, fp)

	if res := tk.Result(); res.RequestID != "" {
		t.Errorf("Result() before resolve = %+v, want zero", res)
	}
	release()
	waitResult(t, tk)
}

func TestTicketWait_TimeoutMeansUnknown(t *testing.T) {
	d, fp, release := gatedDispatcher(t, PolicyReject)

	tk := d.Trigger(standardSettings())
	waitEntered(t, fp)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := tk.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() error = %v, want deadline exceeded", err)
	}
	if !d.Busy() {
		t.Error("dispatcher not busy after caller timeout")
	}

	release()
	if res := waitResult(t, tk); !res.OK() {
		t.Errorf("result after timeout failed: %v", res.Err)
	}
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{in: "", want: PolicyReject},
		{in: "reject", want: PolicyReject},
		{in: "latest-wins", want: PolicyLatestWins},
		{in: "queue", want: PolicyLatestWins},
		{in: "fifo", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePolicy(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePolicy(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParsePolicy(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
