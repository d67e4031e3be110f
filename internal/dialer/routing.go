package dialer

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"aridialer/internal/disposition"
)

// route sends an answered customer to the campaign's destination
func (e *Engine) route(ctx context.Context, s *Session) {
	if s.cleaning() {
		return
	}
	value := s.Campaign.AgentDestValue
	switch s.Campaign.AgentDestType {
	case DestExten, DestCustom:
		e.bridgeToAgent(ctx, s, value)
	case DestQueue:
		e.bridgeToAgent(ctx, s, QueueEndpoint(value, e.opts.QueueContext))
	case DestIVR:
		menuID, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			s.logger().Errorf("Invalid IVR menu id %q", value)
			e.terminate(s, disposition.Failed)
			return
		}
		e.startIVR(ctx, s, menuID, 0)
	default:
		s.logger().Errorf("Unknown destination type %q", s.Campaign.AgentDestType)
		e.terminate(s, disposition.Failed)
	}
}

// bridgeToAgent puts the customer in a new mixing bridge and originates the
// agent leg toward endpoint. Bridge and agent channel are tracked on the
// session before the agent is dialed so any hangup path can tear them down.
func (e *Engine) bridgeToAgent(ctx context.Context, s *Session, endpoint string) {
	log := s.logger().WithField("endpoint", endpoint)
	bridgeID := "bridge-" + uuid.NewString()

	ioCtx, cancel := e.io(ctx)
	err := e.control.CreateBridge(ioCtx, bridgeID)
	cancel()
	if err != nil {
		log.WithError(err).Error("Could not create bridge")
		e.terminate(s, disposition.Failed)
		return
	}

	if !s.attachBridge(bridgeID) {
		// Cleanup already ran or a bridge exists; this one is ours to discard.
		e.destroyBridge(ctx, s, bridgeID)
		return
	}
	log = log.WithField("bridge", bridgeID)

	ioCtx, cancel = e.io(ctx)
	err = e.control.AddChannel(ioCtx, bridgeID, s.ChannelID)
	cancel()
	if err != nil {
		log.WithError(err).Error("Could not add customer to bridge")
		e.terminate(s, disposition.Failed)
		return
	}

	if s.Campaign.RecordCalls {
		e.startRecording(ctx, s, bridgeID)
	}

	agentID := "agent-" + uuid.NewString()
	if !s.attachAgent(agentID) {
		return
	}
	e.sessions.LinkAgent(agentID, s.ChannelID)

	ioCtx, cancel = e.io(ctx)
	err = e.control.Originate(ioCtx, OriginateRequest{
		Endpoint:  endpoint,
		App:       e.opts.AppName,
		AppArgs:   fmt.Sprintf("type=agent,call=%s", s.ChannelID),
		CallerID:  CustomerCallerID(s.Phone),
		ChannelID: agentID,
		Timeout:   e.opts.AgentDialTimeout,
	})
	cancel()
	if err != nil {
		log.WithError(err).Error("Could not originate agent leg")
		e.terminate(s, disposition.Failed)
		return
	}
	log.WithField("agent", agentID).Info("Agent leg originated")
	e.publish(s, "bridging", "")
}

func (e *Engine) destroyBridge(ctx context.Context, s *Session, bridgeID string) {
	ioCtx, cancel := e.io(ctx)
	defer cancel()
	if err := e.control.DestroyBridge(ioCtx, bridgeID); err != nil {
		s.logger().WithError(err).WithField("bridge", bridgeID).Debug("Destroy bridge failed")
	}
}
