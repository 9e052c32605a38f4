package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Schedule kicks off a crew with fixed parameters on a cron, interval or
// one-shot schedule.
type Schedule struct {
	ID         string            `json:"id"`
	Crew       string            `json:"crew"`
	Name       string            `json:"name"`
	Schedule   string            `json:"schedule"`
	Params     map[string]string `json:"params,omitempty"`
	Mode       string            `json:"mode,omitempty"`
	Status     string            `json:"status"`
	NextRunAt  *time.Time        `json:"next_run_at,omitempty"`
	LastRunAt  *time.Time        `json:"last_run_at,omitempty"`
	LastStatus string            `json:"last_status,omitempty"`
	LastError  string            `json:"last_error,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

const scheduleColumns = `id, crew, name, schedule, params, mode, status,
	next_run_at, last_run_at, last_status, last_error, created_at`

func scanSchedule(scanner interface {
	Scan(dest ...any) error
}) (*Schedule, error) {
	sc := &Schedule{}
	var params string
	var lastStatus, lastError *string
	err := scanner.Scan(&sc.ID, &sc.Crew, &sc.Name, &sc.Schedule, &params, &sc.Mode, &sc.Status,
		&sc.NextRunAt, &sc.LastRunAt, &lastStatus, &lastError, &sc.CreatedAt)
	if err != nil {
		return nil, err
	}
	if params != "" {
		if err := json.Unmarshal([]byte(params), &sc.Params); err != nil {
			return nil, fmt.Errorf("decode params: %w", err)
		}
	}
	if lastStatus != nil {
		sc.LastStatus = *lastStatus
	}
	if lastError != nil {
		sc.LastError = *lastError
	}
	return sc, nil
}

func (s *Store) SaveSchedule(sc *Schedule) error {
	params, err := json.Marshal(sc.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	if sc.Status == "" {
		sc.Status = "active"
	}
	_, err = s.db.Exec(`
		INSERT INTO schedules (id, crew, name, schedule, params, mode, status, next_run_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			crew = excluded.crew,
			name = excluded.name,
			schedule = excluded.schedule,
			params = excluded.params,
			mode = excluded.mode,
			status = excluded.status,
			next_run_at = excluded.next_run_at`,
		sc.ID, sc.Crew, sc.Name, sc.Schedule, string(params), sc.Mode, sc.Status, utc(sc.NextRunAt))
	if err != nil {
		return fmt.Errorf("save schedule: %w", err)
	}
	return nil
}

func (s *Store) GetSchedule(id string) (*Schedule, error) {
	row := s.db.QueryRow(`SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id)
	sc, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return sc, nil
}

func (s *Store) ListSchedules() ([]Schedule, error) {
	return s.querySchedules(`SELECT ` + scheduleColumns + ` FROM schedules ORDER BY created_at`)
}

// GetDueSchedules returns active schedules whose next run is not after now.
func (s *Store) GetDueSchedules(now time.Time) ([]Schedule, error) {
	return s.querySchedules(`SELECT `+scheduleColumns+` FROM schedules
		WHERE status = 'active' AND next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY next_run_at`, now.UTC())
}

func (s *Store) querySchedules(query string, args ...any) ([]Schedule, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var out []Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		out = append(out, *sc)
	}
	return out, rows.Err()
}

// UpdateScheduleRun records the outcome of a run and the next due time. A
// nil nextRunAt completes the schedule.
func (s *Store) UpdateScheduleRun(id, lastStatus, lastError string, nextRunAt *time.Time) error {
	status := "active"
	if nextRunAt == nil {
		status = "completed"
	}
	_, err := s.db.Exec(`
		UPDATE schedules
		SET last_run_at = ?, last_status = ?, last_error = ?, next_run_at = ?, status = ?
		WHERE id = ?`, time.Now().UTC(), lastStatus, lastError, utc(nextRunAt), status, id)
	if err != nil {
		return fmt.Errorf("update schedule run: %w", err)
	}
	return nil
}

func (s *Store) UpdateScheduleStatus(id, status string) error {
	_, err := s.db.Exec(`UPDATE schedules SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("update schedule status: %w", err)
	}
	return nil
}

func (s *Store) DeleteSchedule(id string) error {
	_, err := s.db.Exec(`DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	return nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
