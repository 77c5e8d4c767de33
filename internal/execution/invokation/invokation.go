// Package invokation ties one trigger to at most one live execution attempt
// and the output rendered for it.
package invokation

import (
	"context"
	"errors"
	"sync"
	"time"

	"coderunner/internal/execution/backend"
	"coderunner/internal/execution/language"
	"coderunner/internal/execution/render"
	"coderunner/internal/execution/sink"
	appErr "coderunner/pkg/errors"
	"coderunner/pkg/utils/contextkey"
	"coderunner/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var errSuperseded = errors.New("invokation superseded")

// Stream names a part of a result whose visibility can be toggled.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
	StreamInfo   Stream = "info"
)

// ParseStream validates a stream name.
func ParseStream(s string) (Stream, error) {
	switch Stream(s) {
	case StreamStdout, StreamStderr, StreamInfo:
		return Stream(s), nil
	}
	return "", appErr.New(appErr.UnknownStream).WithDetail("stream", s)
}

// Invokation is the lifecycle of one trigger event. Its fields after the
// first block are written by its own task, and by supersede and toggle
// under mu.
type Invokation struct {
	ID        string
	TriggerID string
	Language  language.Language
	Compact   bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// out serializes writes to the sink.
	out sync.Mutex

	mu           sync.Mutex
	attempt      backend.Attempt
	state        State
	superseded   bool
	result       *backend.Result
	handle       sink.Handle
	visibility   render.Visibility
	presentation render.Presentation
	finishedAt   time.Time
}

// Snapshot is a read-only view of an invokation.
type Snapshot struct {
	InvokationID string               `json:"invokation_id"`
	TriggerID    string               `json:"trigger_id"`
	Language     string               `json:"language"`
	State        State                `json:"state"`
	Status       backend.Status       `json:"status,omitempty"`
	Info         string               `json:"info,omitempty"`
	Handle       sink.Handle          `json:"handle,omitempty"`
	Visibility   render.Visibility    `json:"visibility"`
	Presentation *render.Presentation `json:"presentation,omitempty"`
	StartedAt    time.Time            `json:"started_at"`
	FinishedAt   time.Time            `json:"finished_at"`
}

// runtime carries the service settings a task needs.
type runtime struct {
	sink           sink.Sink
	indicatorDelay time.Duration
	sinkTimeout    time.Duration
}

func newInvokation(parent context.Context, t Trigger, lang language.Language) *Invokation {
	id := uuid.NewString()
	ctx := context.WithValue(parent, contextkey.TriggerID, t.ID)
	ctx = context.WithValue(ctx, contextkey.InvokationID, id)
	ctx, cancel := context.WithCancel(ctx)
	return &Invokation{
		ID:        id,
		TriggerID: t.ID,
		Language:  lang,
		Compact:   t.Compact,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		attempt: backend.Attempt{
			ID:       uuid.NewString(),
			Language: lang.ID,
			Code:     t.Code,
			Stdin:    t.Stdin,
			Options:  t.Options,
			Args:     t.Args,
		},
		state: StateCreated,
	}
}

// Done is closed once the task has torn down.
func (inv *Invokation) Done() <-chan struct{} {
	return inv.done
}

// State returns the current lifecycle state.
func (inv *Invokation) State() State {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.state
}

// Handle returns the sink handle of the current output, if any.
func (inv *Invokation) Handle() sink.Handle {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.handle
}

// Result returns the stored result once the attempt has settled.
func (inv *Invokation) Result() (backend.Result, bool) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.result == nil {
		return backend.Result{}, false
	}
	return *inv.result, true
}

func (inv *Invokation) Snapshot() Snapshot {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	s := Snapshot{
		InvokationID: inv.ID,
		TriggerID:    inv.TriggerID,
		Language:     inv.Language.ID,
		State:        inv.state,
		Handle:       inv.handle,
		Visibility:   inv.visibility,
		StartedAt:    inv.attempt.StartedAt,
		FinishedAt:   inv.finishedAt,
	}
	if inv.result != nil {
		s.Status = inv.result.Status
		s.Info = inv.result.Info
	}
	if inv.handle != "" {
		p := inv.presentation
		s.Presentation = &p
	}
	return s
}

// supersede marks inv as displaced and cancels its attempt. The task observes
// the flag and discards anything the attempt still produces.
func (inv *Invokation) supersede() {
	inv.mu.Lock()
	inv.superseded = true
	inv.mu.Unlock()
	inv.cancel()
}

// run is the task of inv. prev is the invokation it displaced, if any.
func (inv *Invokation) run(prev *Invokation, rt runtime) {
	defer close(inv.done)
	defer func() {
		inv.mu.Lock()
		inv.finishedAt = time.Now()
		inv.mu.Unlock()
	}()
	defer inv.cancel()

	if prev != nil {
		<-prev.Done()
		inv.inherit(prev.Handle())
	}
	if !inv.begin() {
		logger.Info(inv.ctx, "invokation superseded before start")
		return
	}

	logger.Info(inv.ctx, "attempt started",
		zap.String("language", inv.Language.ID),
		zap.String("runner", inv.Language.Runner),
	)
	stop := inv.startIndicator(rt)
	res := inv.Language.Backend.Execute(inv.ctx, inv.attempt)
	stop()

	if !inv.commit(res) {
		logger.Info(inv.ctx, "discard result of superseded attempt", zap.String("status", string(res.Status)))
		return
	}
	logger.Info(inv.ctx, "attempt finished",
		zap.String("status", string(res.Status)),
		zap.Duration("elapsed", time.Since(inv.attempt.StartedAt)),
	)

	if _, err := inv.publish(rt); err != nil && !errors.Is(err, errSuperseded) {
		logger.Error(inv.ctx, "render output failed", zap.Error(err))
	}
}

// inherit adopts the output of the displaced invokation so it gets edited
// instead of duplicated.
func (inv *Invokation) inherit(h sink.Handle) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.handle == "" {
		inv.handle = h
	}
}

func (inv *Invokation) begin() bool {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.superseded {
		inv.state = StateSuperseded
		return false
	}
	inv.state = StateRunning
	inv.attempt.StartedAt = time.Now()
	return true
}

// commit stores res unless inv was superseded meanwhile.
func (inv *Invokation) commit(res backend.Result) bool {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.superseded {
		inv.state = StateSuperseded
		return false
	}
	if res.Status == backend.StatusTimeout {
		res.Stdout = nil
		res.Stderr = nil
	}
	inv.result = &res
	inv.state = terminalState(res.Status)
	inv.visibility = render.DefaultVisibility(res, inv.Compact)
	return true
}

func (inv *Invokation) toggle(stream Stream) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.result == nil {
		return appErr.New(appErr.NotRendered)
	}
	switch stream {
	case StreamStdout:
		inv.visibility.Stdout = !inv.visibility.Stdout
	case StreamStderr:
		inv.visibility.Stderr = !inv.visibility.Stderr
	case StreamInfo:
		inv.visibility.Info = !inv.visibility.Info
	default:
		return appErr.New(appErr.UnknownStream).WithDetail("stream", string(stream))
	}
	return nil
}

func (inv *Invokation) renderLocked() render.Presentation {
	return render.Render(render.Input{
		Stdout:     inv.result.Stdout,
		Stderr:     inv.result.Stderr,
		Status:     inv.result.Status,
		Info:       inv.result.Info,
		Stdin:      inv.attempt.Stdin,
		Options:    inv.attempt.Options,
		Args:       inv.attempt.Args,
		Visibility: inv.visibility,
	})
}

// publish renders the stored result and hands it to the sink. An empty
// presentation removes the existing output.
func (inv *Invokation) publish(rt runtime) (render.Presentation, error) {
	inv.out.Lock()
	defer inv.out.Unlock()

	inv.mu.Lock()
	if inv.superseded {
		inv.mu.Unlock()
		return render.Presentation{}, errSuperseded
	}
	if inv.result == nil {
		inv.mu.Unlock()
		return render.Presentation{}, appErr.New(appErr.NotRendered)
	}
	p := inv.renderLocked()
	h := inv.handle
	inv.mu.Unlock()

	ctx, cancel := inv.sinkContext(rt.sinkTimeout)
	defer cancel()

	var err error
	switch {
	case p.IsEmpty():
		if h != "" {
			err = rt.sink.Delete(ctx, h)
			h = ""
		}
	case h != "":
		err = rt.sink.Edit(ctx, h, p)
	default:
		h, err = rt.sink.Send(ctx, inv.TriggerID, p)
	}
	if err != nil {
		return render.Presentation{}, err
	}

	inv.mu.Lock()
	inv.handle = h
	inv.presentation = p
	inv.state = StateRendered
	inv.mu.Unlock()
	return p, nil
}

// startIndicator shows a running notice if the attempt is still going after
// the indicator delay. The returned stop cancels it and waits for it.
func (inv *Invokation) startIndicator(rt runtime) (stop func()) {
	if rt.indicatorDelay <= 0 {
		return func() {}
	}
	stopCh := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		timer := time.NewTimer(rt.indicatorDelay)
		defer timer.Stop()
		select {
		case <-stopCh:
			return
		case <-inv.ctx.Done():
			return
		case <-timer.C:
		}
		inv.showRunning(rt, stopCh)
	}()
	return func() {
		close(stopCh)
		<-finished
	}
}

func (inv *Invokation) showRunning(rt runtime, stopCh <-chan struct{}) {
	inv.out.Lock()
	defer inv.out.Unlock()
	select {
	case <-stopCh:
		return
	default:
	}

	inv.mu.Lock()
	if inv.superseded {
		inv.mu.Unlock()
		return
	}
	h := inv.handle
	inv.mu.Unlock()

	ctx, cancel := inv.sinkContext(rt.sinkTimeout)
	defer cancel()

	p := render.Running(h != "")
	var err error
	if h != "" {
		err = rt.sink.Edit(ctx, h, p)
	} else {
		h, err = rt.sink.Send(ctx, inv.TriggerID, p)
	}
	if err != nil {
		logger.Warn(inv.ctx, "show running indicator failed", zap.Error(err))
		return
	}

	inv.mu.Lock()
	inv.handle = h
	inv.presentation = p
	inv.mu.Unlock()
}

// sinkContext outlives cancellation of inv so a displaced invokation can
// still hand over a consistent output.
func (inv *Invokation) sinkContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(inv.ctx), timeout)
}

func (inv *Invokation) takeHandle() sink.Handle {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	h := inv.handle
	inv.handle = ""
	inv.presentation = render.Presentation{}
	return h
}

func (inv *Invokation) finishedBefore(cutoff time.Time) bool {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.state.Settled() && !inv.finishedAt.IsZero() && inv.finishedAt.Before(cutoff)
}
