package ariclient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/CyCoreSystems/ari/v5"
	"github.com/CyCoreSystems/ari/v5/client/native"
	"github.com/sirupsen/logrus"

	"aridialer/internal/config"
	"aridialer/internal/dialer"
	"aridialer/internal/logging"
)

// eventTypes are the Stasis events the engine consumes
var eventTypes = []string{
	"StasisStart",
	"StasisEnd",
	"ChannelDestroyed",
	"ChannelLeftBridge",
	"ChannelDtmfReceived",
	"PlaybackFinished",
}

// Client adapts an ARI connection to the engine's Control interface and
// event stream. The underlying library is not context aware, so contexts
// are only checked before a request goes out.
type Client struct {
	cl  ari.Client
	app string
	log *logrus.Entry
}

// Connect opens the REST and websocket connection for the Stasis application
func Connect(cfg config.ARIConfig) (*Client, error) {
	cl, err := native.Connect(&native.Options{
		Application:  cfg.Application,
		Username:     cfg.Username,
		Password:     cfg.Password,
		URL:          cfg.URL(),
		WebsocketURL: cfg.WebsocketURL(),
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to ARI at %s: %w", cfg.URL(), err)
	}
	return New(cl, cfg.Application), nil
}

// New wraps an existing ARI client
func New(cl ari.Client, app string) *Client {
	return &Client{cl: cl, app: app, log: logging.Component("ari")}
}

func (c *Client) Close() {
	c.cl.Close()
}

// Events streams translated Stasis events until ctx is done. The returned
// channel is closed when the stream ends.
func (c *Client) Events(ctx context.Context) <-chan dialer.Event {
	sub := c.cl.Bus().Subscribe(nil, eventTypes...)
	out := make(chan dialer.Event, 256)

	go func() {
		defer close(out)
		defer sub.Cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-sub.Events():
				if !ok {
					c.log.Warn("ARI event stream closed")
					return
				}
				ev, ok := Translate(raw)
				if !ok {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	c.log.Infof("Subscribed to Stasis events for %s", c.app)
	return out
}

// Translate maps an ARI event onto the engine's event types
func Translate(raw ari.Event) (dialer.Event, bool) {
	switch e := raw.(type) {
	case *ari.StasisStart:
		return dialer.StasisStart{ChannelID: e.Channel.ID, ChannelName: e.Channel.Name, Args: e.Args}, true
	case *ari.StasisEnd:
		return dialer.StasisEnd{ChannelID: e.Channel.ID}, true
	case *ari.ChannelDestroyed:
		return dialer.ChannelDestroyed{ChannelID: e.Channel.ID, Cause: e.Cause, CauseText: e.CauseTxt}, true
	case *ari.ChannelLeftBridge:
		return dialer.ChannelLeftBridge{ChannelID: e.Channel.ID, BridgeID: e.Bridge.ID}, true
	case *ari.ChannelDtmfReceived:
		return dialer.DTMFReceived{ChannelID: e.Channel.ID, Digit: e.Digit}, true
	case *ari.PlaybackFinished:
		channelID, ok := targetChannel(e.Playback.TargetURI)
		if !ok {
			return nil, false
		}
		return dialer.PlaybackFinished{PlaybackID: e.Playback.ID, ChannelID: channelID}, true
	}
	return nil, false
}

// targetChannel extracts the channel id from a playback target such as
// "channel:1699.42". Bridge playbacks are not ours.
func targetChannel(uri string) (string, bool) {
	id, ok := strings.CutPrefix(uri, "channel:")
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

func channelKey(id string) *ari.Key  { return ari.NewKey(ari.ChannelKey, id) }
func bridgeKey(id string) *ari.Key   { return ari.NewKey(ari.BridgeKey, id) }
func playbackKey(id string) *ari.Key { return ari.NewKey(ari.PlaybackKey, id) }

func (c *Client) Originate(ctx context.Context, req dialer.OriginateRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.cl.Channel().Originate(channelKey(req.ChannelID), ari.OriginateRequest{
		Endpoint:  req.Endpoint,
		App:       req.App,
		AppArgs:   req.AppArgs,
		CallerID:  req.CallerID,
		ChannelID: req.ChannelID,
		Timeout:   req.Timeout,
	})
	if err != nil {
		return fmt.Errorf("originate %s: %w", req.Endpoint, err)
	}
	return nil
}

func (c *Client) Answer(ctx context.Context, channelID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.cl.Channel().Answer(channelKey(channelID))
}

func (c *Client) Hangup(ctx context.Context, channelID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.cl.Channel().Hangup(channelKey(channelID), "normal")
}

func (c *Client) Play(ctx context.Context, channelID, playbackID, media string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.cl.Channel().Play(channelKey(channelID), playbackID, media)
	return err
}

func (c *Client) StopPlayback(ctx context.Context, playbackID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.cl.Playback().Stop(playbackKey(playbackID))
}

func (c *Client) CreateBridge(ctx context.Context, bridgeID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.cl.Bridge().Create(bridgeKey(bridgeID), "mixing", bridgeID)
	return err
}

func (c *Client) AddChannel(ctx context.Context, bridgeID, channelID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.cl.Bridge().AddChannel(bridgeKey(bridgeID), channelID)
}

func (c *Client) DestroyBridge(ctx context.Context, bridgeID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.cl.Bridge().Delete(bridgeKey(bridgeID))
}

func (c *Client) RecordBridge(ctx context.Context, bridgeID string, req dialer.RecordRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.cl.Bridge().Record(bridgeKey(bridgeID), req.Name, &ari.RecordingOptions{
		Format:      req.Format,
		MaxDuration: req.MaxDuration,
		MaxSilence:  req.MaxSilence,
		Exists:      req.IfExists,
		Beep:        req.Beep,
		Terminate:   "none",
	})
	return err
}

func (c *Client) StopRecording(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.cl.LiveRecording().Stop(ari.NewKey(ari.LiveRecordingKey, name))
}

// compile-time check
var _ dialer.Control = (*Client)(nil)

// Reconnect retries Connect until it succeeds or ctx is done
func Reconnect(ctx context.Context, cfg config.ARIConfig) (*Client, error) {
	interval := time.Duration(cfg.ReconnectInterval) * time.Second
	log := logging.Component("ari")
	for {
		c, err := Connect(cfg)
		if err == nil {
			return c, nil
		}
		log.WithError(err).Warnf("ARI unavailable, retrying in %s", interval)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}
