package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	BatchSize     = 500
	FlushInterval = 500 * time.Millisecond
	BufferSize    = 5000
)

// CDRUpdate es una actualización pendiente de un CDR. Solo lleva columnas
// que el cierre del CDR no escribe, así el orden respecto a UpdateEnd no importa.
type CDRUpdate struct {
	ChannelID     string
	Agent         *string
	RecordingFile *string
}

// CDRBatcher agrupa actualizaciones de CDR y las escribe en un solo UPDATE
type CDRBatcher struct {
	db        *sql.DB
	updates   chan CDRUpdate
	wg        sync.WaitGroup
	mu        sync.RWMutex
	isRunning bool
	log       *logrus.Entry
}

// NewCDRBatcher crea un batcher sobre db
func NewCDRBatcher(db *sql.DB) *CDRBatcher {
	return &CDRBatcher{
		db:      db,
		updates: make(chan CDRUpdate, BufferSize),
		log:     logrus.WithField("component", "cdr-batcher"),
	}
}

// Start inicia el worker en segundo plano
func (b *CDRBatcher) Start() {
	b.mu.Lock()
	if b.isRunning {
		b.mu.Unlock()
		return
	}
	b.isRunning = true
	b.wg.Add(1)
	b.mu.Unlock()

	go b.worker()
	b.log.Info("Worker started")
}

// Stop escribe lo pendiente y detiene el worker. No se puede reiniciar.
func (b *CDRBatcher) Stop() {
	b.mu.Lock()
	if !b.isRunning {
		b.mu.Unlock()
		return
	}
	b.isRunning = false
	b.mu.Unlock()

	close(b.updates)
	b.wg.Wait()
	b.log.Info("Worker stopped")
}

// Queue encola u sin bloquear. Devuelve false si el batcher no corre o el
// buffer está lleno; el llamador debe escribir la actualización directamente.
func (b *CDRBatcher) Queue(u CDRUpdate) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.isRunning {
		return false
	}
	select {
	case b.updates <- u:
		return true
	default:
		b.log.WithField("channel", u.ChannelID).Warn("Buffer full, writing update directly")
		return false
	}
}

func (b *CDRBatcher) worker() {
	defer b.wg.Done()

	buffer := make([]CDRUpdate, 0, BatchSize)
	ticker := time.NewTicker(FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case u, ok := <-b.updates:
			if !ok {
				b.flush(buffer)
				return
			}
			buffer = append(buffer, u)
			if len(buffer) >= BatchSize {
				b.flush(buffer)
				buffer = buffer[:0]
			}
		case <-ticker.C:
			b.flush(buffer)
			buffer = buffer[:0]
		}
	}
}

// mergeUpdates junta las actualizaciones por canal en orden de llegada;
// el último valor de cada columna gana.
func mergeUpdates(updates []CDRUpdate) []CDRUpdate {
	index := make(map[string]int, len(updates))
	merged := make([]CDRUpdate, 0, len(updates))
	for _, u := range updates {
		i, ok := index[u.ChannelID]
		if !ok {
			index[u.ChannelID] = len(merged)
			merged = append(merged, u)
			continue
		}
		if u.Agent != nil {
			merged[i].Agent = u.Agent
		}
		if u.RecordingFile != nil {
			merged[i].RecordingFile = u.RecordingFile
		}
	}
	return merged
}

// buildBatchUpdate arma un UPDATE con CASE por columna:
//
//	UPDATE cdr SET agent = CASE channel_id WHEN ? THEN ? ELSE agent END, ...
//	WHERE channel_id IN (?, ?)
func buildBatchUpdate(updates []CDRUpdate) (string, []interface{}) {
	var agentCases, recordingCases []string
	var agentArgs, recordingArgs, idArgs []interface{}
	ids := make([]string, 0, len(updates))

	for _, u := range updates {
		ids = append(ids, "?")
		idArgs = append(idArgs, u.ChannelID)
		if u.Agent != nil {
			agentCases = append(agentCases, "WHEN ? THEN ?")
			agentArgs = append(agentArgs, u.ChannelID, *u.Agent)
		}
		if u.RecordingFile != nil {
			recordingCases = append(recordingCases, "WHEN ? THEN ?")
			recordingArgs = append(recordingArgs, u.ChannelID, *u.RecordingFile)
		}
	}

	var sets []string
	if len(agentCases) > 0 {
		sets = append(sets, fmt.Sprintf("agent = CASE channel_id %s ELSE agent END", strings.Join(agentCases, " ")))
	}
	if len(recordingCases) > 0 {
		sets = append(sets, fmt.Sprintf("recording_file = CASE channel_id %s ELSE recording_file END", strings.Join(recordingCases, " ")))
	}
	if len(sets) == 0 {
		return "", nil
	}

	query := fmt.Sprintf("UPDATE cdr SET %s WHERE channel_id IN (%s)", strings.Join(sets, ", "), strings.Join(ids, ","))
	args := make([]interface{}, 0, len(agentArgs)+len(recordingArgs)+len(idArgs))
	args = append(args, agentArgs...)
	args = append(args, recordingArgs...)
	args = append(args, idArgs...)
	return query, args
}

func (b *CDRBatcher) flush(updates []CDRUpdate) {
	if len(updates) == 0 {
		return
	}
	start := time.Now()
	merged := mergeUpdates(updates)
	query, args := buildBatchUpdate(merged)
	if query == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := b.db.ExecContext(ctx, query, args...); err != nil {
		b.log.WithError(err).Errorf("Flushing batch of %d updates failed", len(merged))
		return
	}
	b.log.Debugf("Flushed %d updates in %v", len(merged), time.Since(start))
}
