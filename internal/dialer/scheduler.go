package dialer

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"aridialer/internal/database"
	"aridialer/internal/disposition"
	"aridialer/internal/metrics"
)

// Reload syncs the registry with the campaigns marked running in storage.
// New campaigns get a dial loop, settings of known ones are refreshed, and
// campaigns no longer running are stopped.
func (e *Engine) Reload(ctx context.Context) error {
	campaigns, err := e.campaigns.ListRunningCampaigns(ctx)
	if err != nil {
		return fmt.Errorf("loading running campaigns: %w", err)
	}

	running := make(map[int64]bool, len(campaigns))
	for _, c := range campaigns {
		running[c.ID] = true
	}
	for _, id := range e.registry.IDs() {
		if !running[id] {
			e.stopCampaign(ctx, id)
		}
	}

	for _, c := range campaigns {
		stop, added := e.registry.Upsert(c)
		if added {
			e.log.WithField("campaign", c.ID).Infof("Starting campaign %q", c.Name)
			e.startLoop(c.ID, stop)
		}
	}
	e.log.Debugf("Loaded %d running campaigns", len(campaigns))
	return nil
}

func (e *Engine) startLoop(id int64, stop <-chan struct{}) {
	e.loops.Add(1)
	go func() {
		defer e.loops.Done()
		ticker := time.NewTicker(e.opts.ProcessInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-e.ctx.Done():
				return
			case <-ticker.C:
				e.Tick(e.ctx, id)
			}
		}
	}()
}

// stopCampaign stops dialing. A fully stopped campaign also loses its
// in-flight calls; a paused one keeps them.
func (e *Engine) stopCampaign(ctx context.Context, id int64) {
	if !e.registry.Remove(id) {
		return
	}
	metrics.ForgetCampaign(fmt.Sprint(id))
	log := e.log.WithField("campaign", id)

	status, err := e.campaigns.GetCampaignStatus(ctx, id)
	if err != nil {
		log.WithError(err).Warn("Could not read campaign status, leaving calls up")
		return
	}
	if status != database.CampaignStopped {
		log.Infof("Campaign %s, keeping active calls", status)
		return
	}

	sessions := e.sessions.ForCampaign(id)
	log.Infof("Campaign stopped, hanging up %d calls", len(sessions))
	for _, s := range sessions {
		d := disposition.Cancel
		if _, answered := s.answered(); answered {
			d = disposition.Answered
		}
		e.terminate(s, d)
	}
}

// Tick dials as many pending numbers as the campaign has free slots. Each
// slot is reserved and the number marked calling before the originate
// request goes out, so a slow originate never lets the next tick over-dial.
func (e *Engine) Tick(ctx context.Context, id int64) {
	campaign, slots, ok := e.registry.Available(id)
	if !ok || slots <= 0 {
		return
	}
	log := e.log.WithField("campaign", id)

	numbers, err := e.campaigns.ListPendingNumbers(ctx, id, slots)
	if err != nil {
		log.WithError(err).Error("Could not fetch pending numbers")
		return
	}
	if len(numbers) == 0 {
		e.checkCompletion(ctx, id)
		return
	}

	for _, n := range numbers {
		if !e.registry.Reserve(id) {
			break
		}
		e.dial(ctx, campaign, n)
	}
}

func (e *Engine) dial(ctx context.Context, c database.Campaign, n database.CampaignNumber) {
	now := e.clock.Now()
	channelID := fmt.Sprintf("dialer-%d-%d-%d", c.ID, n.ID, now.UnixMilli())
	log := e.log.WithFields(logrus.Fields{"campaign": c.ID, "channel": channelID})

	if err := e.campaigns.MarkNumberCalling(ctx, n.ID); err != nil {
		log.WithError(err).Error("Could not mark number calling")
		e.registry.Release(c.ID)
		return
	}

	s := newSession(e.log, channelID, c, n, now)
	if err := e.sessions.Add(s); err != nil {
		log.WithError(err).Error("Could not track call")
		e.registry.Release(c.ID)
		_ = e.campaigns.MarkNumberStatus(ctx, n.ID, database.NumberPending)
		return
	}
	metrics.SessionStarted()
	e.publish(s, "dialing", "")

	req := OriginateRequest{
		Endpoint:  TrunkEndpoint(c, n.PhoneNumber),
		App:       e.opts.AppName,
		AppArgs:   fmt.Sprintf("campaign=%d,number=%d", c.ID, n.ID),
		CallerID:  c.CallerID,
		ChannelID: channelID,
		Timeout:   c.DialTimeout,
	}

	e.async(func(ctx context.Context) {
		ioCtx, cancel := e.io(ctx)
		defer cancel()
		if err := e.cdr.CreateRecord(ioCtx, c.ID, n.ID, channelID, c.CallerID, n.PhoneNumber, now); err != nil {
			log.WithError(err).Warn("Could not create CDR")
		}

		if s.cleaning() {
			log.Info("Call ended before it was dialed")
			return
		}
		err := e.control.Originate(ioCtx, req)
		metrics.RecordOrigination(s.campaignLabel(), err)
		if err != nil {
			log.WithError(err).Errorf("Originate to %s failed", req.Endpoint)
			e.originateFailed(ioCtx, s)
			return
		}
		// Cleanup may have run while the request was in flight. Its hangup
		// went out before the channel existed, so the new channel is ours.
		if s.cleaning() {
			log.Warn("Call ended while dialing, hanging up new channel")
			if err := e.control.Hangup(ioCtx, channelID); err != nil {
				log.WithError(err).Warn("Hangup of late channel failed")
			}
			return
		}
		log.Infof("Dialing %s", req.Endpoint)
	})
}

// originateFailed undoes a dial the platform rejected: no session survives,
// the slot is given back and the number is failed.
func (e *Engine) originateFailed(ctx context.Context, s *Session) {
	if !s.beginCleanup() {
		return
	}
	s.end()
	e.sessions.Remove(s.ChannelID)
	e.registry.Release(s.Campaign.ID)

	if err := e.campaigns.MarkNumberStatus(ctx, s.NumberID, database.NumberFailed); err != nil {
		s.logger().WithError(err).Error("Could not mark number failed")
	}
	if err := e.cdr.UpdateEnd(ctx, s.ChannelID, e.clock.Now(), 0, 0, string(disposition.Failed)); err != nil {
		s.logger().WithError(err).Warn("Could not close CDR")
	}
	metrics.SessionEnded(s.campaignLabel(), string(disposition.Failed), 0)
	e.publish(s, "ended", string(disposition.Failed))
}

// checkCompletion marks a campaign completed once nothing is left to dial
// or in flight, and stops its loop.
func (e *Engine) checkCompletion(ctx context.Context, id int64) {
	if e.registry.Current(id) > 0 {
		return
	}
	open, err := e.campaigns.CountOpenNumbers(ctx, id)
	if err != nil || open > 0 {
		return
	}
	if err := e.campaigns.MarkCampaignCompleted(ctx, id); err != nil {
		e.log.WithError(err).WithField("campaign", id).Error("Could not complete campaign")
		return
	}
	e.log.WithField("campaign", id).Info("Campaign completed")
	e.registry.Remove(id)
	metrics.ForgetCampaign(fmt.Sprint(id))
}
