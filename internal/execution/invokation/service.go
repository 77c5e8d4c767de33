package invokation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"coderunner/internal/execution/language"
	"coderunner/internal/execution/render"
	"coderunner/internal/execution/sink"
	appErr "coderunner/pkg/errors"
	"coderunner/pkg/utils/contextkey"
	"coderunner/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultIndicatorDelay = 2 * time.Second
	defaultSinkTimeout    = 10 * time.Second
	defaultMaxCodeBytes   = 1 << 20
)

// Resolver looks up languages by id or alias.
type Resolver interface {
	Resolve(id string) (language.Language, bool)
}

// Config holds service dependencies and settings.
type Config struct {
	Languages Resolver
	Sink      sink.Sink

	// IndicatorDelay is how long an attempt runs before a running notice is shown.
	IndicatorDelay time.Duration
	SinkTimeout    time.Duration
	MaxCodeBytes   int
}

// Service runs invokations. One task goroutine runs per invokation.
type Service struct {
	languages    Resolver
	sink         sink.Sink
	registry     *Registry
	rt           runtime
	maxCodeBytes int

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewService creates a new invokation service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Languages == nil {
		return nil, fmt.Errorf("language resolver is required")
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("output sink is required")
	}
	if cfg.IndicatorDelay == 0 {
		cfg.IndicatorDelay = defaultIndicatorDelay
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.MaxCodeBytes <= 0 {
		cfg.MaxCodeBytes = defaultMaxCodeBytes
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		languages: cfg.Languages,
		sink:      cfg.Sink,
		registry:  NewRegistry(),
		rt: runtime{
			sink:           cfg.Sink,
			indicatorDelay: cfg.IndicatorDelay,
			sinkTimeout:    cfg.SinkTimeout,
		},
		maxCodeBytes: cfg.MaxCodeBytes,
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Submit starts an invokation for t, superseding the one currently running
// for the same trigger. It returns without waiting for the attempt.
func (s *Service) Submit(ctx context.Context, t Trigger) (*Invokation, error) {
	if strings.TrimSpace(t.ID) == "" {
		return nil, appErr.New(appErr.RequiredFieldEmpty).WithMessage("trigger id is required")
	}
	if len(t.Code) > s.maxCodeBytes {
		return nil, appErr.Newf(appErr.CodeTooLarge, "Code is too large (%d bytes, limit %d).", len(t.Code), s.maxCodeBytes)
	}
	lang, ok := s.languages.Resolve(t.Language)
	if !ok {
		return nil, appErr.New(appErr.LanguageNotSupported).WithDetail("language", t.Language)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, appErr.New(appErr.ServiceUnavailable)
	}

	parent := s.ctx
	if traceID := ctx.Value(contextkey.TraceID); traceID != nil {
		parent = context.WithValue(parent, contextkey.TraceID, traceID)
	}
	inv := newInvokation(parent, t, lang)
	prev := s.registry.Replace(inv)
	if prev != nil {
		logger.Info(inv.ctx, "trigger resubmitted", zap.String("superseded", prev.ID))
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		inv.run(prev, s.rt)
	}()
	return inv, nil
}

// Get returns the current invokation of triggerID.
func (s *Service) Get(triggerID string) (*Invokation, error) {
	inv, ok := s.registry.Get(triggerID)
	if !ok {
		return nil, appErr.New(appErr.TriggerNotFound).WithDetail("trigger_id", triggerID)
	}
	return inv, nil
}

// Snapshot returns the state of the current invokation of triggerID.
func (s *Service) Snapshot(triggerID string) (Snapshot, error) {
	inv, err := s.Get(triggerID)
	if err != nil {
		return Snapshot{}, err
	}
	return inv.Snapshot(), nil
}

// Wait blocks until the latest invokation of triggerID has torn down.
func (s *Service) Wait(ctx context.Context, triggerID string) (Snapshot, error) {
	for {
		inv, err := s.Get(triggerID)
		if err != nil {
			return Snapshot{}, err
		}
		select {
		case <-inv.Done():
		case <-ctx.Done():
			return inv.Snapshot(), appErr.Wrapf(ctx.Err(), appErr.Timeout, "wait for trigger %s", triggerID)
		}
		if cur, ok := s.registry.Get(triggerID); ok && cur != inv {
			continue
		}
		return inv.Snapshot(), nil
	}
}

// Toggle flips one visibility flag of a rendered invokation and re-renders
// the output from the stored result.
func (s *Service) Toggle(ctx context.Context, triggerID string, stream string) (render.Presentation, error) {
	st, err := ParseStream(stream)
	if err != nil {
		return render.Presentation{}, err
	}
	inv, err := s.Get(triggerID)
	if err != nil {
		return render.Presentation{}, err
	}
	if err := inv.toggle(st); err != nil {
		return render.Presentation{}, err
	}
	p, err := inv.publish(s.rt)
	if errors.Is(err, errSuperseded) {
		return render.Presentation{}, appErr.New(appErr.TriggerNotFound).WithDetail("trigger_id", triggerID)
	}
	if err != nil {
		return render.Presentation{}, appErr.Wrapf(err, appErr.SinkError, "re-render output failed")
	}
	logger.Info(inv.ctx, "visibility toggled", zap.String("stream", string(st)))
	return p, nil
}

// Delete cancels the invokation of triggerID, waits for it to tear down and
// removes its output.
func (s *Service) Delete(ctx context.Context, triggerID string) error {
	inv, ok := s.registry.Remove(triggerID)
	if !ok {
		return appErr.New(appErr.TriggerNotFound).WithDetail("trigger_id", triggerID)
	}
	<-inv.Done()

	h := inv.takeHandle()
	if h == "" {
		return nil
	}
	sctx, cancel := context.WithTimeout(ctx, s.rt.sinkTimeout)
	defer cancel()
	if err := s.sink.Delete(sctx, h); err != nil {
		return appErr.Wrapf(err, appErr.SinkError, "delete output failed")
	}
	logger.Info(inv.ctx, "trigger deleted")
	return nil
}

// Prune forgets settled invokations older than maxAge.
func (s *Service) Prune(maxAge time.Duration) int {
	return s.registry.Prune(time.Now().Add(-maxAge))
}

// Shutdown rejects new triggers, cancels running attempts and waits for
// every task to finish.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
