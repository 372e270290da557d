package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// fakePipeline records every adapter call and fails loudly if it is entered
// concurrently.
type fakePipeline struct {
	mu sync.Mutex

	inits    []InitOptions
	calls    []fakeCall
	initErr  error
	genErr   error
	images   [][]byte
	delay    time.Duration
	panicMsg string

	// gate, when set, blocks Generate until a value is received.
	gate chan struct{}
	// entered is signalled each time Generate starts.
	entered chan struct{}

	inFlight  int32
	reentered int32
	closes    int32
}

type fakeCall struct {
	Settings GenerationSettings
	Reshape  bool
}

func newFakePipeline() *fakePipeline {
	return &fakePipeline{images: [][]byte{[]byte("png")}}
}

func (f *fakePipeline) enter() {
	if atomic.AddInt32(&f.inFlight, 1) > 1 {
		atomic.StoreInt32(&f.reentered, 1)
		panic("fakePipeline: re-entered concurrently")
	}
}

func (f *fakePipeline) leave() {
	atomic.AddInt32(&f.inFlight, -1)
}

func (f *fakePipeline) Initialize(ctx context.Context, opts InitOptions) error {
	f.enter()
	defer f.leave()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inits = append(f.inits, opts)
	return f.initErr
}

func (f *fakePipeline) Generate(ctx context.Context, s GenerationSettings, reshape bool) ([][]byte, error) {
	f.enter()
	defer f.leave()

	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fakeCall{Settings: s, Reshape: reshape})
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.genErr != nil {
		return nil, f.genErr
	}
	return f.images, nil
}

// Close counts releases and shares the re-entry check with Generate.
func (f *fakePipeline) Close() error {
	f.enter()
	defer f.leave()
	atomic.AddInt32(&f.closes, 1)
	return nil
}

func (f *fakePipeline) closeCount() int {
	return int(atomic.LoadInt32(&f.closes))
}

func (f *fakePipeline) setInitErr(err error) {
	f.mu.Lock()
	f.initErr = err
	f.mu.Unlock()
}

func (f *fakePipeline) setGenErr(err error) {
	f.mu.Lock()
	f.genErr = err
	f.mu.Unlock()
}

func (f *fakePipeline) initCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inits)
}

func (f *fakePipeline) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakePipeline) lastCall() fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return fakeCall{}
	}
	return f.calls[len(f.calls)-1]
}

func (f *fakePipeline) wasReentered() bool {
	return atomic.LoadInt32(&f.reentered) == 1
}

var errFakeInit = errors.New("model not found")

// recordingObserver captures observer callbacks.
type recordingObserver struct {
	mu          sync.Mutex
	inits       int
	initErrs    int
	generations []Result
	rejections  []ErrorKind
}

func (o *recordingObserver) ObserveInit(opts InitOptions, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.inits++
	if err != nil {
		o.initErrs++
	}
}

func (o *recordingObserver) ObserveGeneration(s GenerationSettings, res Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.generations = append(o.generations, res)
}

func (o *recordingObserver) ObserveRejection(kind ErrorKind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rejections = append(o.rejections, kind)
}

func (o *recordingObserver) rejectionCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.rejections)
}

func standardSettings() GenerationSettings {
	s := DefaultSettings()
	s.ModelID = "lcm-std"
	s.Prompt = "a fantasy landscape"
	return s
}

func acceleratedSettings() GenerationSettings {
	s := standardSettings()
	s.BackendMode = BackendAccelerated
	return s
}
