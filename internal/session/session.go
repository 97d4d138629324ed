// Package session runs density map builds for one viewer.
//
// A Session owns a single loop goroutine that serialises build requests: a
// new request cancels the build in flight, and hierarchy invalidation events
// schedule a debounced rebuild of the current spec. Only the result of the
// latest request is ever published; superseded builds are discarded.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/ironsheep/density-tools-mcp/internal/densitymap"
	"github.com/ironsheep/density-tools-mcp/internal/objects"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// DefaultDebounce is the delay between the last hierarchy event and the
// rebuild it triggers.
const DefaultDebounce = 250 * time.Millisecond

var (
	// ErrSuperseded is returned by Await for a build replaced by a newer one.
	ErrSuperseded = errors.New("density map build superseded")
	// ErrClosed is returned once the session has been closed.
	ErrClosed = errors.New("session closed")
)

// Builder builds a raster for a spec.
type Builder interface {
	Build(ctx context.Context, data densitymap.ImageData, spec densitymap.Spec) (*densitymap.Raster, error)
}

// Result is the outcome of one build generation.
type Result struct {
	Generation uint64
	Spec       densitymap.Spec
	Raster     *densitymap.Raster
	Err        error
}

type request struct {
	gen  uint64
	spec densitymap.Spec
}

// Option configures a Session.
type Option func(*Session)

// WithDebounce sets the rebuild delay after hierarchy events.
func WithDebounce(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.debounce = d
		}
	}
}

// WithEvents subscribes the session to hierarchy events. Every event
// schedules a rebuild of the current spec.
func WithEvents(events <-chan objects.Event) Option {
	return func(s *Session) { s.events = events }
}

// Session is a latest-request-wins build executor.
type Session struct {
	log      zerolog.Logger
	builder  Builder
	data     densitymap.ImageData
	debounce time.Duration
	events   <-chan objects.Event

	requests chan request
	finished chan Result
	results  chan Result
	done     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once

	mu      sync.Mutex
	latest  uint64
	last    *Result
	current *densitymap.Raster
	spec    *densitymap.Spec
	waiters map[uint64][]chan Result
}

// New starts a session building for data.
func New(log zerolog.Logger, builder Builder, data densitymap.ImageData, opts ...Option) *Session {
	s := &Session{
		log:      log.With().Str("component", "session").Logger(),
		builder:  builder,
		data:     data,
		debounce: DefaultDebounce,
		requests: make(chan request),
		finished: make(chan Result),
		results:  make(chan Result, 1),
		done:     make(chan struct{}),
		waiters:  make(map[uint64][]chan Result),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.wg.Add(1)
	go s.loop()
	return s
}

// Request starts a build for spec, cancelling the one in flight, and
// returns its generation. It returns 0 after Close.
func (s *Session) Request(spec densitymap.Spec) uint64 {
	s.mu.Lock()
	select {
	case <-s.done:
		s.mu.Unlock()
		return 0
	default:
	}
	gen := s.nextGenLocked(spec)
	s.mu.Unlock()

	select {
	case s.requests <- request{gen: gen, spec: spec}:
	case <-s.done:
	}
	return gen
}

// Await blocks until generation gen completes and returns its raster. It
// returns ErrSuperseded when a newer generation replaced gen, and the
// build error when the build failed.
func (s *Session) Await(ctx context.Context, gen uint64) (*densitymap.Raster, error) {
	s.mu.Lock()
	if s.last != nil && s.last.Generation == gen {
		res := *s.last
		s.mu.Unlock()
		return res.Raster, res.Err
	}
	if gen == 0 || gen > s.latest {
		s.mu.Unlock()
		return nil, errors.Errorf("unknown build generation %d", gen)
	}
	if gen < s.latest {
		s.mu.Unlock()
		return nil, ErrSuperseded
	}
	ch := make(chan Result, 1)
	s.waiters[gen] = append(s.waiters[gen], ch)
	s.mu.Unlock()

	select {
	case res := <-ch:
		return res.Raster, res.Err
	case <-ctx.Done():
		return nil, densitymap.Cancelled(ctx.Err())
	case <-s.done:
		return nil, ErrClosed
	}
}

// Build requests spec and waits for its result.
func (s *Session) Build(ctx context.Context, spec densitymap.Spec) (*densitymap.Raster, error) {
	gen := s.Request(spec)
	if gen == 0 {
		return nil, ErrClosed
	}
	return s.Await(ctx, gen)
}

// Current returns the last successfully built raster, or nil.
func (s *Session) Current() *densitymap.Raster {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Spec returns the spec of the latest request.
func (s *Session) Spec() (densitymap.Spec, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.spec == nil {
		return densitymap.Spec{}, false
	}
	return *s.spec, true
}

// Data returns the image the session builds for.
func (s *Session) Data() densitymap.ImageData { return s.data }

// Results delivers completed builds. Only the latest result is buffered;
// a slow reader skips intermediate ones.
func (s *Session) Results() <-chan Result { return s.results }

// Close cancels any build in flight and stops the loop. Pending Await calls
// return ErrClosed.
func (s *Session) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		close(s.done)
		s.mu.Unlock()
		s.wg.Wait()
	})
}

func (s *Session) nextGenLocked(spec densitymap.Spec) uint64 {
	s.latest++
	gen := s.latest
	s.spec = &spec
	for g, chs := range s.waiters {
		if g >= gen {
			continue
		}
		for _, ch := range chs {
			ch <- Result{Generation: g, Spec: spec, Err: ErrSuperseded}
		}
		delete(s.waiters, g)
	}
	return gen
}

func (s *Session) loop() {
	defer s.wg.Done()

	var (
		cancel  context.CancelFunc
		spec    densitymap.Spec
		hasSpec bool
		seen    uint64
		timer   *time.Timer
		timerC  <-chan time.Time
	)
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
		timerC = nil
	}
	start := func(gen uint64) {
		if cancel != nil {
			cancel()
		}
		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		go s.run(ctx, gen, spec)
	}
	defer func() {
		stopTimer()
		if cancel != nil {
			cancel()
		}
	}()

	for {
		select {
		case <-s.done:
			return

		case req := <-s.requests:
			if req.gen < seen {
				continue
			}
			seen, spec, hasSpec = req.gen, req.spec, true
			stopTimer()
			start(req.gen)

		case _, ok := <-s.events:
			if !ok {
				s.events = nil
				continue
			}
			if !hasSpec {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(s.debounce)
			} else {
				timer.Stop()
				timer.Reset(s.debounce)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			s.mu.Lock()
			if s.latest != seen {
				// A Request holds a newer generation but has not reached the
				// loop yet. Its build starts after this event and sees the change.
				s.mu.Unlock()
				continue
			}
			gen := s.nextGenLocked(spec)
			s.mu.Unlock()
			seen = gen
			s.log.Debug().Uint64("generation", gen).Msg("rebuilding after hierarchy change")
			start(gen)

		case res := <-s.finished:
			s.complete(res)
		}
	}
}

func (s *Session) run(ctx context.Context, gen uint64, spec densitymap.Spec) {
	raster, err := s.builder.Build(ctx, s.data, spec)
	select {
	case s.finished <- Result{Generation: gen, Spec: spec, Raster: raster, Err: err}:
	case <-s.done:
	}
}

func (s *Session) complete(res Result) {
	s.mu.Lock()
	if res.Generation != s.latest {
		s.mu.Unlock()
		s.log.Debug().Uint64("generation", res.Generation).Msg("discarding superseded build")
		return
	}
	s.last = &res
	if res.Err == nil {
		s.current = res.Raster
	}
	for _, ch := range s.waiters[res.Generation] {
		ch <- res
	}
	delete(s.waiters, res.Generation)
	s.mu.Unlock()

	if res.Err != nil {
		s.log.Warn().Err(res.Err).Uint64("generation", res.Generation).Msg("density map build failed")
	} else {
		s.log.Debug().
			Uint64("generation", res.Generation).
			Str("raster", res.Raster.ID().String()).
			Int("failed_tiles", res.Raster.FailedTiles()).
			Msg("density map ready")
	}

	// Keep only the newest result in the buffer.
	select {
	case <-s.results:
	default:
	}
	select {
	case s.results <- res:
	default:
	}
}
