package dialer

import (
	"sort"
	"strconv"
	"sync"

	"aridialer/internal/database"
	"aridialer/internal/metrics"
)

type campaignEntry struct {
	campaign database.Campaign
	stop     chan struct{}
}

// Registry mirrors running campaigns and owns the per-campaign slot counters.
// Counters outlive the campaign entry so that calls still in flight after a
// pause are released against the right campaign if it resumes.
type Registry struct {
	mu      sync.Mutex
	entries map[int64]*campaignEntry
	current map[int64]int
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[int64]*campaignEntry),
		current: make(map[int64]int),
	}
}

// Upsert tracks c or refreshes its settings. It returns the stop channel
// and true when the campaign was not tracked before.
func (r *Registry) Upsert(c database.Campaign) (<-chan struct{}, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[c.ID]; ok {
		e.campaign = c
		return e.stop, false
	}
	e := &campaignEntry{campaign: c, stop: make(chan struct{})}
	r.entries[c.ID] = e
	return e.stop, true
}

// Remove stops tracking a campaign and closes its stop channel
func (r *Registry) Remove(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	close(e.stop)
	delete(r.entries, id)
	return true
}

func (r *Registry) Get(id int64) (database.Campaign, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return database.Campaign{}, false
	}
	return e.campaign, true
}

// IDs returns tracked campaign ids in ascending order
func (r *Registry) IDs() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int64, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Available returns the campaign snapshot and its free slots
func (r *Registry) Available(id int64) (database.Campaign, int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return database.Campaign{}, 0, false
	}
	return e.campaign, e.campaign.ConcurrentCalls - r.current[id], true
}

// Reserve takes one slot if the campaign has room. The check and the
// increment happen under one lock so a slot is never handed out twice.
func (r *Registry) Reserve(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || r.current[id] >= e.campaign.ConcurrentCalls {
		return false
	}
	r.current[id]++
	metrics.SetCampaignCalls(strconv.FormatInt(id, 10), r.current[id])
	return true
}

// Release frees one slot. The counter never goes below zero.
func (r *Registry) Release(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.current[id] - 1
	if n <= 0 {
		delete(r.current, id)
		n = 0
	} else {
		r.current[id] = n
	}
	metrics.SetCampaignCalls(strconv.FormatInt(id, 10), n)
}

// Current returns slots in use
func (r *Registry) Current(id int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current[id]
}

// Close stops every tracked campaign without touching counters
func (r *Registry) Close() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []int64
	for id, e := range r.entries {
		close(e.stop)
		ids = append(ids, id)
	}
	r.entries = make(map[int64]*campaignEntry)
	return ids
}
