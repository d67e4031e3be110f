package dialer

import (
	"context"

	"aridialer/internal/disposition"
	"aridialer/internal/metrics"
)

// leg says which side triggered teardown, so cleanup knows what to hang up
type leg int

const (
	legCustomer leg = iota // customer is gone, hang up the agent
	legAgent               // agent is gone, hang up the customer
	legEngine              // engine decided, hang up both
)

// terminate ends a call on the engine's own initiative
func (e *Engine) terminate(s *Session, d disposition.Disposition) {
	e.finish(s, d, legEngine)
}

// finish runs the cleanup procedure exactly once per session. Every other
// caller is a no-op.
func (e *Engine) finish(s *Session, d disposition.Disposition, origin leg) {
	if !s.beginCleanup() {
		metrics.DuplicateCleanup()
		s.logger().Debug("Cleanup already in progress")
		return
	}
	td := s.end()
	s.logger().WithField("disposition", d).Info("Ending call")

	e.async(func(ctx context.Context) {
		e.cleanup(ctx, s, d, origin, td)
	})
}

func (e *Engine) cleanup(ctx context.Context, s *Session, d disposition.Disposition, origin leg, td teardown) {
	log := s.logger()

	if td.agentChannel != "" && origin != legAgent {
		e.hangup(ctx, s, td.agentChannel)
	}
	if origin != legCustomer {
		e.hangup(ctx, s, s.ChannelID)
	}

	if td.bridgeID != "" {
		e.stopRecordings(ctx, s, td.bridgeID)
		e.destroyBridge(ctx, s, td.bridgeID)
	}

	now := e.clock.Now()
	var duration, billsec int
	if !td.answerTime.IsZero() {
		duration = int(now.Sub(s.StartTime).Seconds())
		billsec = int(now.Sub(td.answerTime).Seconds())
	}

	ioCtx, cancel := e.io(ctx)
	if err := e.cdr.UpdateEnd(ioCtx, s.ChannelID, now, duration, billsec, string(d)); err != nil {
		log.WithError(err).Error("Could not close CDR")
	}
	cancel()

	e.applyRetryPolicy(ctx, s, d)

	e.sessions.Remove(s.ChannelID)
	e.registry.Release(s.Campaign.ID)
	metrics.SessionEnded(s.campaignLabel(), string(d), now.Sub(s.StartTime))
	e.publish(s, "ended", string(d))
	log.WithField("duration", duration).Info("Call cleaned up")
}

func (e *Engine) hangup(ctx context.Context, s *Session, channelID string) {
	ioCtx, cancel := e.io(ctx)
	defer cancel()
	if err := e.control.Hangup(ioCtx, channelID); err != nil {
		s.logger().WithError(err).WithField("target", channelID).Debug("Hangup failed")
	}
}

// applyRetryPolicy sends the number back to pending or gives it its final status
func (e *Engine) applyRetryPolicy(ctx context.Context, s *Session, d disposition.Disposition) {
	ioCtx, cancel := e.io(ctx)
	defer cancel()

	attempts, err := e.campaigns.GetNumberAttempts(ioCtx, s.NumberID)
	if err != nil {
		s.logger().WithError(err).Error("Could not read attempts, closing number")
		attempts = s.Campaign.RetryTimes
	}

	dec := disposition.Decide(d, attempts, s.Campaign.RetryTimes)
	if dec.Retry {
		err = e.campaigns.ScheduleRetry(ioCtx, s.NumberID, secs(s.Campaign.RetryDelay))
		s.logger().Infof("Number scheduled for retry (attempt %d/%d)", attempts, s.Campaign.RetryTimes)
	} else {
		err = e.campaigns.MarkNumberStatus(ioCtx, s.NumberID, dec.Status)
	}
	if err != nil {
		s.logger().WithError(err).Error("Could not update number status")
	}
}
