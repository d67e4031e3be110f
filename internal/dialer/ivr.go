package dialer

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"aridialer/internal/database"
	"aridialer/internal/disposition"
	"aridialer/internal/metrics"
)

// Reserved IVR digits
const (
	DigitTimeout = "t"
	DigitInvalid = "i"
)

// IVR action types
const (
	ActionExten   = "exten"
	ActionQueue   = "queue"
	ActionHangup  = "hangup"
	ActionGotoIVR = "goto_ivr"
)

const defaultMenuTimeout = 3 * time.Second

// ivrRun is one invocation of a menu on a session. Digits and the timeout
// only act while the run is open; executing an action closes it.
type ivrRun struct {
	menu       database.IVRMenu
	actions    map[string]database.IVRAction
	playbackID string
	hops       int

	mu        sync.Mutex
	closed    bool
	digitSeen bool
	timer     Timer
}

func newIVRRun(menu database.IVRMenu, actions []database.IVRAction, hops int) *ivrRun {
	run := &ivrRun{
		menu:       menu,
		actions:    make(map[string]database.IVRAction, len(actions)),
		playbackID: "ivr-" + uuid.NewString(),
		hops:       hops,
	}
	for _, a := range actions {
		run.actions[a.Digit] = a
	}
	return run
}

func (r *ivrRun) timeout() time.Duration {
	if r.menu.Timeout <= 0 {
		return defaultMenuTimeout
	}
	return secs(r.menu.Timeout)
}

// digit handles a DTMF press. The timeout is cancelled on any digit; the
// matching action, or the invalid-input action, is returned and closes the run.
func (r *ivrRun) digit(d string) (database.IVRAction, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return database.IVRAction{}, false
	}
	r.digitSeen = true
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	action, ok := r.actions[d]
	if !ok {
		action, ok = r.actions[DigitInvalid]
	}
	if ok {
		r.closed = true
	}
	return action, ok
}

// expire consumes the timeout. It reports false if a digit won the race or
// the run is already closed.
func (r *ivrRun) expire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.digitSeen {
		return false
	}
	r.closed = true
	r.timer = nil
	return true
}

func (r *ivrRun) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// startIVR loads the menu and plays its prompt. hops counts goto_ivr
// transitions taken so far on this session.
func (e *Engine) startIVR(ctx context.Context, s *Session, menuID int64, hops int) {
	log := s.logger().WithField("menu", menuID)
	if hops > e.opts.MaxIVRHops {
		log.WithError(ErrTooManyHops).Errorf("Giving up after %d menu transitions", hops)
		e.terminate(s, disposition.Failed)
		return
	}

	ioCtx, cancel := e.io(ctx)
	menu, err := e.ivr.GetMenu(ioCtx, menuID)
	var actions []database.IVRAction
	if err == nil {
		actions, err = e.ivr.GetActions(ioCtx, menuID)
	}
	cancel()
	if err != nil {
		if errors.Is(err, database.ErrMenuNotFound) {
			log.Error("IVR menu not found")
		} else {
			log.WithError(err).Error("Could not load IVR menu")
		}
		e.terminate(s, disposition.Failed)
		return
	}

	run := newIVRRun(*menu, actions, hops)
	if !s.setIVR(run) {
		return
	}
	log.Infof("Running IVR menu %q", menu.Name)
	e.publish(s, "ivr", "")

	media := PromptMedia(e.opts.SoundsPrefix, menu.AudioFile)
	ioCtx, cancel = e.io(ctx)
	err = e.control.Play(ioCtx, s.ChannelID, run.playbackID, media)
	cancel()
	if err != nil {
		// No PlaybackFinished will come, so start listening now.
		log.WithError(err).Warnf("Could not play %s", media)
		e.armMenuTimeout(s, run)
	}
}

// armMenuTimeout starts the DTMF timeout once the prompt is done
func (e *Engine) armMenuTimeout(s *Session, run *ivrRun) {
	run.mu.Lock()
	defer run.mu.Unlock()
	if run.closed || run.digitSeen || run.timer != nil {
		return
	}
	run.timer = e.clock.AfterFunc(run.timeout(), func() {
		if !run.expire() {
			return
		}
		action, ok := run.actions[DigitTimeout]
		if !ok {
			s.logger().Warnf("No timeout action for IVR menu %d", run.menu.ID)
			e.terminate(s, disposition.Answered)
			return
		}
		s.logger().Info("IVR timeout")
		e.async(func(ctx context.Context) { e.executeAction(ctx, s, run, action) })
	})
}

// executeAction stops the prompt, then performs the action
func (e *Engine) executeAction(ctx context.Context, s *Session, run *ivrRun, action database.IVRAction) {
	if s.cleaning() {
		return
	}
	metrics.RecordIVRAction(action.ActionType)

	ioCtx, cancel := e.io(ctx)
	if err := e.control.StopPlayback(ioCtx, run.playbackID); err != nil {
		s.logger().WithError(err).Debug("Prompt already finished")
	}
	cancel()

	switch action.ActionType {
	case ActionExten:
		e.bridgeToAgent(ctx, s, action.ActionValue)
	case ActionQueue:
		e.bridgeToAgent(ctx, s, QueueEndpoint(action.ActionValue, e.opts.QueueContext))
	case ActionHangup:
		e.terminate(s, disposition.Answered)
	case ActionGotoIVR:
		next, err := strconv.ParseInt(action.ActionValue, 10, 64)
		if err != nil {
			s.logger().Errorf("Invalid goto_ivr target %q", action.ActionValue)
			e.terminate(s, disposition.Failed)
			return
		}
		e.startIVR(ctx, s, next, run.hops+1)
	default:
		s.logger().Warnf("Unknown IVR action type %q", action.ActionType)
	}
}

func secs(n int) time.Duration {
	return time.Duration(n) * time.Second
}
