package dialer

import (
	"context"

	"aridialer/internal/database"
	"aridialer/internal/disposition"
)

func (e *Engine) onStasisStart(ev StasisStart) {
	if housekeeping(ev.ChannelID, ev.ChannelName) {
		return
	}

	args := ParseArgs(ev.Args)
	if args["type"] == "agent" {
		e.onAgentEnter(ev, args["call"])
		return
	}

	s, ok := e.sessions.Get(ev.ChannelID)
	if !ok {
		e.log.WithField("channel", ev.ChannelID).Debug("Ignoring unknown channel")
		return
	}
	now := e.clock.Now()
	if !s.markAnswered(now) {
		return
	}
	s.logger().Info("Customer answered")
	e.publish(s, "answered", "")

	e.async(func(ctx context.Context) {
		ioCtx, cancel := e.io(ctx)
		err := e.control.Answer(ioCtx, s.ChannelID)
		cancel()
		if err != nil {
			s.logger().WithError(err).Error("Answer failed")
			e.terminate(s, disposition.Failed)
			return
		}

		ioCtx, cancel = e.io(ctx)
		if err := e.cdr.UpdateAnswer(ioCtx, s.ChannelID, now); err != nil {
			s.logger().WithError(err).Warn("Could not store answer time")
		}
		if err := e.campaigns.MarkNumberStatus(ioCtx, s.NumberID, database.NumberAnswered); err != nil {
			s.logger().WithError(err).Warn("Could not mark number answered")
		}
		cancel()

		e.armCallTimer(s)
		e.route(ctx, s)
	})
}

// onAgentEnter handles the agent leg entering the app. The leg was tracked
// at origination; here it joins the customer's bridge.
func (e *Engine) onAgentEnter(ev StasisStart, customerID string) {
	s, ok := e.sessions.Get(customerID)
	if !ok || s.cleaning() || s.AgentChannel() != ev.ChannelID || s.BridgeID() == "" {
		e.log.WithField("channel", ev.ChannelID).Info("Agent leg has no live call, hanging up")
		e.async(func(ctx context.Context) {
			ioCtx, cancel := e.io(ctx)
			defer cancel()
			_ = e.control.Hangup(ioCtx, ev.ChannelID)
		})
		return
	}

	bridgeID := s.BridgeID()
	s.setState(StateConnected)
	e.publish(s, "connected", "")

	e.async(func(ctx context.Context) {
		ioCtx, cancel := e.io(ctx)
		defer cancel()
		if err := e.control.AddChannel(ioCtx, bridgeID, ev.ChannelID); err != nil {
			s.logger().WithError(err).WithField("agent", ev.ChannelID).Error("Could not add agent to bridge")
		}
		agent := ev.ChannelName
		if agent == "" {
			agent = ev.ChannelID
		}
		if err := e.cdr.UpdateAgent(ioCtx, s.ChannelID, agent); err != nil {
			s.logger().WithError(err).Warn("Could not store agent")
		}
	})
}

func (e *Engine) onChannelDestroyed(ev ChannelDestroyed) {
	if s, ok := e.sessions.Get(ev.ChannelID); ok {
		_, answered := s.answered()
		d, known := disposition.FromCause(ev.Cause, answered)
		if !known {
			s.logger().Warnf("Unmapped hangup cause %d (%s), using failed", ev.Cause, ev.CauseText)
		}
		e.finish(s, d, legCustomer)
		return
	}
	if s, ok := e.sessions.FindByAgent(ev.ChannelID); ok {
		e.finish(s, disposition.Answered, legAgent)
	}
}

// onChannelLeftBridge tears the call down from whichever leg left. When the
// agent leaves, the customer must be hung up.
func (e *Engine) onChannelLeftBridge(ev ChannelLeftBridge) {
	if s, ok := e.sessions.Get(ev.ChannelID); ok {
		e.finish(s, disposition.Answered, legCustomer)
		return
	}
	if s, ok := e.sessions.FindByAgent(ev.ChannelID); ok {
		e.finish(s, disposition.Answered, legAgent)
	}
}

// onStasisEnd cleans up the customer leg if nothing else has. Agent legs
// leaving the app are handled by the bridge and destroy events.
func (e *Engine) onStasisEnd(ev StasisEnd) {
	s, ok := e.sessions.Get(ev.ChannelID)
	if !ok {
		return
	}
	d := disposition.NoAnswer
	if _, answered := s.answered(); answered {
		d = disposition.Answered
	}
	e.finish(s, d, legCustomer)
}

func (e *Engine) onDTMF(ev DTMFReceived) {
	s, ok := e.sessions.Get(ev.ChannelID)
	if !ok {
		return
	}
	run := s.currentIVR()
	if run == nil {
		return
	}
	if action, ok := run.digit(ev.Digit); ok {
		s.logger().Infof("DTMF %s selects %s", ev.Digit, action.ActionType)
		e.async(func(ctx context.Context) { e.executeAction(ctx, s, run, action) })
	}
}

func (e *Engine) onPlaybackFinished(ev PlaybackFinished) {
	s, ok := e.sessions.Get(ev.ChannelID)
	if !ok {
		return
	}
	if run := s.currentIVR(); run != nil && run.playbackID == ev.PlaybackID {
		e.armMenuTimeout(s, run)
	}
}

// armCallTimer bounds the answered call to the campaign's call_timeout
func (e *Engine) armCallTimer(s *Session) {
	if s.Campaign.CallTimeout <= 0 {
		return
	}
	d := secs(s.Campaign.CallTimeout)
	t := e.clock.AfterFunc(d, func() {
		s.logger().Infof("Call timeout after %s", d)
		e.terminate(s, disposition.Answered)
	})
	if !s.setCallTimer(t) {
		t.Stop()
	}
}
