package dialer

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"aridialer/internal/metrics"
)

// Recording is a live bridge recording handle
type Recording struct {
	Name     string
	FileName string
}

// RecordingStore keeps the recordings started on each bridge, in order
type RecordingStore struct {
	mu       sync.Mutex
	byBridge map[string][]Recording
}

func NewRecordingStore() *RecordingStore {
	return &RecordingStore{byBridge: make(map[string][]Recording)}
}

func (r *RecordingStore) Add(bridgeID string, rec Recording) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byBridge[bridgeID] = append(r.byBridge[bridgeID], rec)
}

// Take returns and clears the recordings of a bridge
func (r *RecordingStore) Take(bridgeID string) []Recording {
	r.mu.Lock()
	defer r.mu.Unlock()
	recs := r.byBridge[bridgeID]
	delete(r.byBridge, bridgeID)
	return recs
}

var (
	unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]+`)
	recSeq     atomic.Uint64
)

// recordingName builds YYYY/MM/DD/<campaign>-<millis>-<seq>-<phone>. The
// sequence keeps two recordings started in the same millisecond apart.
func recordingName(campaign, phone string, at time.Time) string {
	clean := unsafeName.ReplaceAllString(campaign, "_")
	return fmt.Sprintf("%s/%s-%d-%d-%s",
		at.Format("2006/01/02"), clean, at.UnixMilli(), recSeq.Add(1), unsafeName.ReplaceAllString(phone, ""))
}

// startRecording is best effort: a failure is logged and the call goes on.
func (e *Engine) startRecording(ctx context.Context, s *Session, bridgeID string) {
	if s.cleaning() {
		return
	}
	name := recordingName(s.Campaign.Name, s.Phone, e.clock.Now())
	req := RecordRequest{
		Name:        name,
		Format:      "wav",
		MaxDuration: e.opts.RecordingMaxDuration,
		MaxSilence:  0,
		IfExists:    "overwrite",
		Beep:        false,
	}

	ioCtx, cancel := e.io(ctx)
	err := e.control.RecordBridge(ioCtx, bridgeID, req)
	cancel()
	metrics.RecordRecording("start", err)
	if err != nil {
		s.logger().WithError(err).WithField("bridge", bridgeID).Warn("Could not start bridge recording")
		return
	}

	rec := Recording{Name: name, FileName: name + ".wav"}
	e.recordings.Add(bridgeID, rec)
	s.addRecording(rec)
	if s.cleaning() {
		// cleanup may have taken the bridge's recordings before this one was added
		e.stopRecordings(ctx, s, bridgeID)
		return
	}
	s.logger().WithField("recording", rec.FileName).Info("Bridge recording started")

	ioCtx, cancel = e.io(ctx)
	defer cancel()
	if err := e.cdr.UpdateRecording(ioCtx, s.ChannelID, rec.FileName); err != nil {
		s.logger().WithError(err).Warn("Could not store recording path")
	}
}

// stopRecordings stops everything tracked for the bridge. The platform may
// have ended a recording already when the bridge went away, so stop errors
// are only logged.
func (e *Engine) stopRecordings(ctx context.Context, s *Session, bridgeID string) {
	for _, rec := range e.recordings.Take(bridgeID) {
		ioCtx, cancel := e.io(ctx)
		err := e.control.StopRecording(ioCtx, rec.Name)
		cancel()
		metrics.RecordRecording("stop", err)
		if err != nil {
			s.logger().WithError(err).WithField("recording", rec.Name).Debug("Stop recording failed")
		}
	}
}
