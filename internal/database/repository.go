package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	ErrCampaignNotFound = errors.New("campaign not found")
	ErrMenuNotFound     = errors.New("ivr menu not found")
)

// Repository maneja las operaciones de base de datos del dialer
type Repository struct {
	conn    *Connection
	batcher *CDRBatcher
}

// NewRepository crea un nuevo repositorio
func NewRepository(conn *Connection) *Repository {
	return &Repository{conn: conn}
}

// UseBatcher envía las actualizaciones de agente y grabación a b
func (r *Repository) UseBatcher(b *CDRBatcher) {
	r.batcher = b
}

// GetDB returns the underlying sql.DB
func (r *Repository) GetDB() *sql.DB {
	return r.conn.DB
}

const campaignColumns = `
	id, name, status, trunk_type, trunk_value, COALESCE(callerid, ''),
	agent_dest_type, agent_dest_value, concurrent_calls, dial_timeout,
	call_timeout, record_calls, retry_times, retry_delay, created_at`

func scanCampaign(sc interface{ Scan(...any) error }) (Campaign, error) {
	var c Campaign
	err := sc.Scan(
		&c.ID, &c.Name, &c.Status, &c.TrunkType, &c.TrunkValue, &c.CallerID,
		&c.AgentDestType, &c.AgentDestValue, &c.ConcurrentCalls, &c.DialTimeout,
		&c.CallTimeout, &c.RecordCalls, &c.RetryTimes, &c.RetryDelay, &c.CreatedAt,
	)
	return c, err
}

// ListRunningCampaigns obtiene las campañas en estado running
func (r *Repository) ListRunningCampaigns(ctx context.Context) ([]Campaign, error) {
	return r.listCampaigns(ctx, `SELECT`+campaignColumns+` FROM campaigns WHERE status = ? ORDER BY id`, CampaignRunning)
}

// ListCampaigns lista todas las campañas
func (r *Repository) ListCampaigns(ctx context.Context) ([]Campaign, error) {
	return r.listCampaigns(ctx, `SELECT`+campaignColumns+` FROM campaigns ORDER BY id`)
}

func (r *Repository) listCampaigns(ctx context.Context, query string, args ...any) ([]Campaign, error) {
	rows, err := r.conn.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error listando campañas: %w", err)
	}
	defer rows.Close()

	var campaigns []Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("error escaneando campaña: %w", err)
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

// GetCampaignStatus devuelve el estado actual de una campaña
func (r *Repository) GetCampaignStatus(ctx context.Context, id int64) (string, error) {
	var status string
	err := r.conn.DB.QueryRowContext(ctx, `SELECT status FROM campaigns WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("campaign %d: %w", id, ErrCampaignNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("error consultando estado de campaña: %w", err)
	}
	return status, nil
}

// MarkCampaignCompleted marca la campaña como completada
func (r *Repository) MarkCampaignCompleted(ctx context.Context, id int64) error {
	_, err := r.conn.DB.ExecContext(ctx,
		`UPDATE campaigns SET status = ? WHERE id = ? AND status = ?`,
		CampaignCompleted, id, CampaignRunning)
	if err != nil {
		return fmt.Errorf("error completando campaña: %w", err)
	}
	return nil
}

// ListPendingNumbers obtiene hasta limit números pendientes cuyo reintento ya venció
func (r *Repository) ListPendingNumbers(ctx context.Context, campaignID int64, limit int) ([]CampaignNumber, error) {
	query := `
		SELECT id, campaign_id, phone_number, status, attempts, last_attempt, next_attempt_at
		FROM campaign_numbers
		WHERE campaign_id = ? AND status = ?
		  AND (next_attempt_at IS NULL OR next_attempt_at <= NOW())
		ORDER BY id ASC
		LIMIT ?
	`
	rows, err := r.conn.DB.QueryContext(ctx, query, campaignID, NumberPending, limit)
	if err != nil {
		return nil, fmt.Errorf("error listando números pendientes: %w", err)
	}
	defer rows.Close()

	var numbers []CampaignNumber
	for rows.Next() {
		var n CampaignNumber
		if err := rows.Scan(&n.ID, &n.CampaignID, &n.PhoneNumber, &n.Status,
			&n.Attempts, &n.LastAttempt, &n.NextAttemptAt); err != nil {
			return nil, fmt.Errorf("error escaneando número: %w", err)
		}
		numbers = append(numbers, n)
	}
	return numbers, rows.Err()
}

// MarkNumberCalling pasa el número a calling y cuenta el intento
func (r *Repository) MarkNumberCalling(ctx context.Context, id int64) error {
	_, err := r.conn.DB.ExecContext(ctx,
		`UPDATE campaign_numbers SET status = ?, last_attempt = NOW(), attempts = attempts + 1 WHERE id = ?`,
		NumberCalling, id)
	if err != nil {
		return fmt.Errorf("error marcando número %d: %w", id, err)
	}
	return nil
}

// MarkNumberStatus actualiza el estado de un número
func (r *Repository) MarkNumberStatus(ctx context.Context, id int64, status string) error {
	_, err := r.conn.DB.ExecContext(ctx,
		`UPDATE campaign_numbers SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("error actualizando número %d: %w", id, err)
	}
	return nil
}

// ScheduleRetry devuelve el número a pending con el próximo intento diferido
func (r *Repository) ScheduleRetry(ctx context.Context, id int64, delay time.Duration) error {
	_, err := r.conn.DB.ExecContext(ctx,
		`UPDATE campaign_numbers SET status = ?, next_attempt_at = NOW() + INTERVAL ? SECOND WHERE id = ?`,
		NumberPending, int(delay/time.Second), id)
	if err != nil {
		return fmt.Errorf("error programando reintento de %d: %w", id, err)
	}
	return nil
}

// GetNumberAttempts devuelve cuántas veces se ha marcado un número
func (r *Repository) GetNumberAttempts(ctx context.Context, id int64) (int, error) {
	var attempts int
	err := r.conn.DB.QueryRowContext(ctx, `SELECT attempts FROM campaign_numbers WHERE id = ?`, id).Scan(&attempts)
	if err != nil {
		return 0, fmt.Errorf("error consultando intentos de %d: %w", id, err)
	}
	return attempts, nil
}

// CountOpenNumbers cuenta los números pendientes o en curso de una campaña
func (r *Repository) CountOpenNumbers(ctx context.Context, campaignID int64) (int, error) {
	var n int
	err := r.conn.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM campaign_numbers WHERE campaign_id = ? AND status IN (?, ?)`,
		campaignID, NumberPending, NumberCalling).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("error contando números abiertos: %w", err)
	}
	return n, nil
}

// CreateRecord inserta el CDR de una llamada recién originada
func (r *Repository) CreateRecord(ctx context.Context, campaignID, numberID int64, channelID, callerID, destination string, start time.Time) error {
	_, err := r.conn.DB.ExecContext(ctx, `
		INSERT INTO cdr (campaign_id, campaign_number_id, channel_id, callerid, destination, start_time, disposition)
		VALUES (?, ?, ?, ?, ?, ?, 'calling')`,
		campaignID, numberID, channelID, callerID, destination, start)
	if err != nil {
		return fmt.Errorf("error creando CDR: %w", err)
	}
	return nil
}

// UpdateAnswer registra la hora de respuesta
func (r *Repository) UpdateAnswer(ctx context.Context, channelID string, at time.Time) error {
	_, err := r.conn.DB.ExecContext(ctx,
		`UPDATE cdr SET answer_time = ?, disposition = 'answered' WHERE channel_id = ?`, at, channelID)
	if err != nil {
		return fmt.Errorf("error actualizando respuesta CDR: %w", err)
	}
	return nil
}

// UpdateAgent registra el canal del agente
func (r *Repository) UpdateAgent(ctx context.Context, channelID, agent string) error {
	if r.batcher != nil && r.batcher.Queue(CDRUpdate{ChannelID: channelID, Agent: &agent}) {
		return nil
	}
	_, err := r.conn.DB.ExecContext(ctx, `UPDATE cdr SET agent = ? WHERE channel_id = ?`, agent, channelID)
	if err != nil {
		return fmt.Errorf("error actualizando agente CDR: %w", err)
	}
	return nil
}

// UpdateRecording registra la ruta de la grabación
func (r *Repository) UpdateRecording(ctx context.Context, channelID, path string) error {
	if r.batcher != nil && r.batcher.Queue(CDRUpdate{ChannelID: channelID, RecordingFile: &path}) {
		return nil
	}
	_, err := r.conn.DB.ExecContext(ctx, `UPDATE cdr SET recording_file = ? WHERE channel_id = ?`, path, channelID)
	if err != nil {
		return fmt.Errorf("error actualizando grabación CDR: %w", err)
	}
	return nil
}

// UpdateEnd cierra el CDR con duración y disposición
func (r *Repository) UpdateEnd(ctx context.Context, channelID string, end time.Time, duration, billsec int, disposition string) error {
	_, err := r.conn.DB.ExecContext(ctx, `
		UPDATE cdr SET end_time = ?, duration = ?, billsec = ?, disposition = ?
		WHERE channel_id = ?`,
		end, duration, billsec, disposition, channelID)
	if err != nil {
		return fmt.Errorf("error cerrando CDR: %w", err)
	}
	return nil
}

// GetMenu obtiene un menú IVR por ID
func (r *Repository) GetMenu(ctx context.Context, id int64) (*IVRMenu, error) {
	var m IVRMenu
	err := r.conn.DB.QueryRowContext(ctx,
		`SELECT id, name, audio_file, timeout FROM ivr_menus WHERE id = ? LIMIT 1`, id,
	).Scan(&m.ID, &m.Name, &m.AudioFile, &m.Timeout)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("menu %d: %w", id, ErrMenuNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("error consultando menú IVR: %w", err)
	}
	return &m, nil
}

// GetActions obtiene las acciones de un menú IVR
func (r *Repository) GetActions(ctx context.Context, menuID int64) ([]IVRAction, error) {
	rows, err := r.conn.DB.QueryContext(ctx,
		`SELECT id, ivr_menu_id, dtmf_digit, action_type, action_value FROM ivr_actions WHERE ivr_menu_id = ?`, menuID)
	if err != nil {
		return nil, fmt.Errorf("error listando acciones IVR: %w", err)
	}
	defer rows.Close()

	var actions []IVRAction
	for rows.Next() {
		var a IVRAction
		if err := rows.Scan(&a.ID, &a.MenuID, &a.Digit, &a.ActionType, &a.ActionValue); err != nil {
			return nil, fmt.Errorf("error escaneando acción IVR: %w", err)
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}
