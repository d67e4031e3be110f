package dialer

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"aridialer/internal/database"
)

var errFake = errors.New("fake failure")

// fakeClock fires timers only when Advance is called
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// Advance moves time forward and runs every timer that came due
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type fakeControl struct {
	mu sync.Mutex

	originates     []OriginateRequest
	answered       []string
	hangups        []string
	plays          []string // playback ids
	playMedia      []string
	stopPlaybacks  []string
	bridges        []string
	added          map[string][]string
	destroyed      []string
	records        []RecordRequest
	stopRecordings []string

	originateErr    func(OriginateRequest) error
	beforeOriginate func(OriginateRequest) // runs unlocked, may block
	beforeRecord    func(RecordRequest)
	playErr         error
	createBridgeErr error
	addChannelErr   error
}

func newFakeControl() *fakeControl {
	return &fakeControl{added: make(map[string][]string)}
}

func (f *fakeControl) Originate(_ context.Context, req OriginateRequest) error {
	if f.beforeOriginate != nil {
		f.beforeOriginate(req)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.originateErr != nil {
		if err := f.originateErr(req); err != nil {
			return err
		}
	}
	f.originates = append(f.originates, req)
	return nil
}

func (f *fakeControl) Answer(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answered = append(f.answered, id)
	return nil
}

func (f *fakeControl) Hangup(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hangups = append(f.hangups, id)
	return nil
}

func (f *fakeControl) Play(_ context.Context, _, playbackID, media string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plays = append(f.plays, playbackID)
	f.playMedia = append(f.playMedia, media)
	return f.playErr
}

func (f *fakeControl) StopPlayback(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopPlaybacks = append(f.stopPlaybacks, id)
	return errFake // a finished playback cannot be stopped
}

func (f *fakeControl) CreateBridge(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createBridgeErr != nil {
		return f.createBridgeErr
	}
	f.bridges = append(f.bridges, id)
	return nil
}

func (f *fakeControl) AddChannel(_ context.Context, bridgeID, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addChannelErr != nil {
		return f.addChannelErr
	}
	f.added[bridgeID] = append(f.added[bridgeID], channelID)
	return nil
}

func (f *fakeControl) DestroyBridge(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = append(f.destroyed, id)
	return nil
}

func (f *fakeControl) RecordBridge(_ context.Context, _ string, req RecordRequest) error {
	if f.beforeRecord != nil {
		f.beforeRecord(req)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, req)
	return nil
}

func (f *fakeControl) StopRecording(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopRecordings = append(f.stopRecordings, name)
	return nil
}

func (f *fakeControl) count(list *[]string, id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, v := range *list {
		if v == id {
			n++
		}
	}
	return n
}

func (f *fakeControl) originated() []OriginateRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]OriginateRequest(nil), f.originates...)
}

// fakeStore implements CampaignStore, CDRWriter and IVRStore in memory
type fakeStore struct {
	mu        sync.Mutex
	campaigns map[int64]database.Campaign
	numbers   map[int64]*database.CampaignNumber
	cdrs      map[string]*database.CDR
	ends      map[string]int
	retries   map[int64]time.Duration
	menus     map[int64]database.IVRMenu
	actions   map[int64][]database.IVRAction
	completed []int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		campaigns: make(map[int64]database.Campaign),
		numbers:   make(map[int64]*database.CampaignNumber),
		cdrs:      make(map[string]*database.CDR),
		ends:      make(map[string]int),
		retries:   make(map[int64]time.Duration),
		menus:     make(map[int64]database.IVRMenu),
		actions:   make(map[int64][]database.IVRAction),
	}
}

func (s *fakeStore) addNumbers(campaignID int64, firstID int64, phones ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range phones {
		id := firstID + int64(i)
		s.numbers[id] = &database.CampaignNumber{ID: id, CampaignID: campaignID, PhoneNumber: p, Status: database.NumberPending}
	}
}

func (s *fakeStore) status(id int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.numbers[id].Status
}

func (s *fakeStore) countStatus(status string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, num := range s.numbers {
		if num.Status == status {
			n++
		}
	}
	return n
}

func (s *fakeStore) cdr(channelID string) database.CDR {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.cdrs[channelID]; ok {
		return *c
	}
	return database.CDR{}
}

func (s *fakeStore) endCount(channelID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ends[channelID]
}

func (s *fakeStore) setStatus(campaignID int64, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.campaigns[campaignID]
	c.Status = status
	s.campaigns[campaignID] = c
}

func (s *fakeStore) ListRunningCampaigns(context.Context) ([]database.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []database.Campaign
	for _, c := range s.campaigns {
		if c.Status == database.CampaignRunning {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeStore) GetCampaignStatus(_ context.Context, id int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return "", database.ErrCampaignNotFound
	}
	return c.Status, nil
}

func (s *fakeStore) ListPendingNumbers(_ context.Context, campaignID int64, limit int) ([]database.CampaignNumber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []database.CampaignNumber
	for _, n := range s.numbers {
		if n.CampaignID == campaignID && n.Status == database.NumberPending {
			out = append(out, *n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) MarkNumberCalling(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.numbers[id].Status = database.NumberCalling
	s.numbers[id].Attempts++
	return nil
}

func (s *fakeStore) MarkNumberStatus(_ context.Context, id int64, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.numbers[id].Status = status
	return nil
}

func (s *fakeStore) ScheduleRetry(_ context.Context, id int64, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.numbers[id].Status = database.NumberPending
	s.retries[id] = delay
	return nil
}

func (s *fakeStore) GetNumberAttempts(_ context.Context, id int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.numbers[id].Attempts, nil
}

func (s *fakeStore) CountOpenNumbers(_ context.Context, campaignID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, num := range s.numbers {
		if num.CampaignID == campaignID && (num.Status == database.NumberPending || num.Status == database.NumberCalling) {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) MarkCampaignCompleted(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, id)
	c := s.campaigns[id]
	c.Status = database.CampaignCompleted
	s.campaigns[id] = c
	return nil
}

func (s *fakeStore) CreateRecord(_ context.Context, campaignID, numberID int64, channelID, callerID, destination string, start time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cdrs[channelID] = &database.CDR{
		CampaignID: campaignID, CampaignNumberID: numberID, ChannelID: channelID,
		CallerID: callerID, Destination: destination, StartTime: start, Disposition: "calling",
	}
	return nil
}

func (s *fakeStore) withCDR(channelID string, fn func(*database.CDR)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cdrs[channelID]
	if !ok {
		return errFake
	}
	fn(c)
	return nil
}

func (s *fakeStore) UpdateAnswer(_ context.Context, channelID string, at time.Time) error {
	return s.withCDR(channelID, func(c *database.CDR) { c.AnswerTime = &at; c.Disposition = "answered" })
}

func (s *fakeStore) UpdateAgent(_ context.Context, channelID, agent string) error {
	return s.withCDR(channelID, func(c *database.CDR) { c.Agent = &agent })
}

func (s *fakeStore) UpdateRecording(_ context.Context, channelID, path string) error {
	return s.withCDR(channelID, func(c *database.CDR) { c.RecordingFile = &path })
}

func (s *fakeStore) UpdateEnd(_ context.Context, channelID string, end time.Time, duration, billsec int, disposition string) error {
	s.mu.Lock()
	s.ends[channelID]++
	s.mu.Unlock()
	return s.withCDR(channelID, func(c *database.CDR) {
		c.EndTime = &end
		c.Duration = duration
		c.Billsec = billsec
		c.Disposition = disposition
	})
}

func (s *fakeStore) GetMenu(_ context.Context, id int64) (*database.IVRMenu, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.menus[id]
	if !ok {
		return nil, database.ErrMenuNotFound
	}
	return &m, nil
}

func (s *fakeStore) GetActions(_ context.Context, menuID int64) ([]database.IVRAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.actions[menuID], nil
}

type recordingObserver struct {
	mu     sync.Mutex
	events []SessionEvent
}

func (o *recordingObserver) Publish(ev SessionEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, ev)
}

func (o *recordingObserver) types(channelID string) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []string
	for _, ev := range o.events {
		if ev.ChannelID == channelID {
			out = append(out, ev.Type)
		}
	}
	return out
}
