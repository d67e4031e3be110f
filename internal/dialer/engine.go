package dialer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"aridialer/internal/logging"
	"aridialer/internal/metrics"
)

var ErrTooManyHops = errors.New("too many goto_ivr hops")

// Options tunes the engine
type Options struct {
	AppName              string
	AgentDialTimeout     int // seconds
	QueueContext         string
	SoundsPrefix         string
	RecordingMaxDuration time.Duration
	MaxIVRHops           int
	ProcessInterval      time.Duration
	StaleGrace           time.Duration
	IOTimeout            time.Duration
}

func (o *Options) applyDefaults() {
	if o.AppName == "" {
		o.AppName = "dialer"
	}
	if o.AgentDialTimeout == 0 {
		o.AgentDialTimeout = 30
	}
	if o.QueueContext == "" {
		o.QueueContext = "from-internal"
	}
	if o.SoundsPrefix == "" {
		o.SoundsPrefix = "sound:dialer/"
	}
	if o.RecordingMaxDuration == 0 {
		o.RecordingMaxDuration = time.Hour
	}
	if o.MaxIVRHops == 0 {
		o.MaxIVRHops = 8
	}
	if o.ProcessInterval == 0 {
		o.ProcessInterval = 100 * time.Millisecond
	}
	if o.StaleGrace == 0 {
		o.StaleGrace = 30 * time.Second
	}
	if o.IOTimeout == 0 {
		o.IOTimeout = 15 * time.Second
	}
}

// Deps are the engine's collaborators
type Deps struct {
	Control   Control
	Campaigns CampaignStore
	CDR       CDRWriter
	IVR       IVRStore
	Observer  Observer
	Clock     Clock
}

// Engine owns every call session. Events are dispatched from a single
// goroutine; the network and storage work each event implies runs on
// tracked worker goroutines so one slow call never stalls the others.
type Engine struct {
	opts      Options
	control   Control
	campaigns CampaignStore
	cdr       CDRWriter
	ivr       IVRStore
	observer  Observer
	clock     Clock

	sessions   *SessionTable
	registry   *Registry
	recordings *RecordingStore

	log *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
	work   sync.WaitGroup // async I/O
	loops  sync.WaitGroup // per-campaign dial loops
}

func NewEngine(deps Deps, opts Options) *Engine {
	opts.applyDefaults()
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.Clock == nil {
		deps.Clock = realClock{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		opts:       opts,
		control:    deps.Control,
		campaigns:  deps.Campaigns,
		cdr:        deps.CDR,
		ivr:        deps.IVR,
		observer:   deps.Observer,
		clock:      deps.Clock,
		sessions:   NewSessionTable(),
		registry:   NewRegistry(),
		recordings: NewRecordingStore(),
		log:        logging.Component("dialer"),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (e *Engine) Sessions() *SessionTable { return e.sessions }
func (e *Engine) Registry() *Registry     { return e.registry }

// Run consumes events until ctx is done or the stream closes
func (e *Engine) Run(ctx context.Context, events <-chan Event) error {
	e.log.Info("Event dispatcher started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				e.log.Warn("Event stream closed")
				return nil
			}
			e.Dispatch(ev)
		}
	}
}

// Dispatch routes one event. It never blocks on network or storage I/O.
func (e *Engine) Dispatch(ev Event) {
	metrics.RecordEvent(ev.Kind())
	switch ev := ev.(type) {
	case StasisStart:
		e.onStasisStart(ev)
	case StasisEnd:
		e.onStasisEnd(ev)
	case ChannelDestroyed:
		e.onChannelDestroyed(ev)
	case ChannelLeftBridge:
		e.onChannelLeftBridge(ev)
	case DTMFReceived:
		e.onDTMF(ev)
	case PlaybackFinished:
		e.onPlaybackFinished(ev)
	default:
		e.log.Debugf("Ignoring event %s", ev.Kind())
	}
}

// async runs fn on a tracked worker goroutine. A panic in one session's
// work is logged and contained.
func (e *Engine) async(fn func(ctx context.Context)) {
	e.work.Add(1)
	go func() {
		defer e.work.Done()
		defer func() {
			if r := recover(); r != nil {
				e.log.Errorf("Recovered panic in call handler: %v", r)
			}
		}()
		fn(e.ctx)
	}()
}

// io bounds a single protocol or storage call
func (e *Engine) io(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.opts.IOTimeout)
}

// Wait blocks until all in-flight worker goroutines finish
func (e *Engine) Wait() {
	e.work.Wait()
}

// Shutdown stops every dial loop, leaving calls up as a pause would, and
// waits for pending work.
func (e *Engine) Shutdown(ctx context.Context) error {
	ids := e.registry.Close()
	e.log.Infof("Stopping %d campaign loops", len(ids))
	e.loops.Wait()

	done := make(chan struct{})
	go func() {
		e.work.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		e.cancel()
		return fmt.Errorf("waiting for call handlers: %w", ctx.Err())
	}
	e.cancel()
	return nil
}

// Snapshot lists live sessions ordered by start time
func (e *Engine) Snapshot() []SessionInfo {
	list := e.sessions.List()
	out := make([]SessionInfo, 0, len(list))
	for _, s := range list {
		out = append(out, s.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

func (e *Engine) publish(s *Session, typ, disposition string) {
	e.observer.Publish(SessionEvent{
		Type:        typ,
		ChannelID:   s.ChannelID,
		CampaignID:  s.Campaign.ID,
		Phone:       s.Phone,
		State:       s.State().String(),
		Disposition: disposition,
		Time:        e.clock.Now(),
	})
}
