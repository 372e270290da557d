package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"fastsd/session"
)

// Record statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Record is one row of the generations table.
type Record struct {
	ID           int64     `json:"id"`
	RequestID    string    `json:"request_id"`
	Prompt       string    `json:"prompt"`
	ModelID      string    `json:"model_id"`
	Backend      string    `json:"backend"`
	Width        int       `json:"width"`
	Height       int       `json:"height"`
	Steps        int       `json:"steps"`
	Guidance     float64   `json:"guidance"`
	Seed         int64     `json:"seed"`
	Status       string    `json:"status"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	ElapsedMS    int64     `json:"elapsed_ms"`
	ImagePaths   []string  `json:"image_paths"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewRecord converts a result and the paths its images were saved to.
func NewRecord(r session.Result, paths []string) Record {
	s := r.Settings
	rec := Record{
		RequestID:  r.RequestID,
		Prompt:     s.Prompt,
		ModelID:    s.ModelID,
		Backend:    s.BackendMode.String(),
		Width:      s.ImageWidth,
		Height:     s.ImageHeight,
		Steps:      s.InferenceSteps,
		Guidance:   s.GuidanceScale,
		Seed:       r.Seed,
		Status:     StatusSuccess,
		ElapsedMS:  r.Elapsed.Milliseconds(),
		ImagePaths: paths,
		CreatedAt:  r.FinishedAt,
	}
	if rec.ImagePaths == nil {
		rec.ImagePaths = []string{}
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if !r.OK() {
		rec.Status = StatusError
		rec.ErrorKind = r.Err.Kind.String()
		rec.ErrorMessage = r.Err.Message
	}
	return rec
}

// Stats summarizes the whole table.
type Stats struct {
	Total        int64   `json:"total"`
	Succeeded    int64   `json:"succeeded"`
	Failed       int64   `json:"failed"`
	AvgElapsedMS float64 `json:"avg_elapsed_ms"`
}

// Repository reads and writes generation records.
type Repository struct {
	db     *Database
	writer *AsyncWriter[Record]
	logger *zap.Logger
}

// NewRepository returns a repository over db. Writes are synchronous until
// StartAsync is called.
func NewRepository(db *Database, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{db: db, logger: logger.Named("history")}
}

// StartAsync routes RecordGeneration through a background writer with the
// given buffer capacity.
func (r *Repository) StartAsync(capacity int) {
	if r.writer != nil {
		return
	}
	r.writer = NewAsyncWriter(capacity,
		func(rec Record) error { return r.Insert(context.Background(), rec) },
		func(rec Record, err error) {
			r.logger.Warn("Async history write failed",
				zap.String("request_id", rec.RequestID),
				zap.Error(err))
		})
	r.writer.Start()
}

// StopAsync drains the background writer. Later writes are synchronous.
func (r *Repository) StopAsync(timeout time.Duration) bool {
	if r.writer == nil {
		return true
	}
	ok := r.writer.Stop(timeout)
	if !ok {
		r.logger.Warn("History writer drain timed out", zap.Int("pending", r.writer.Pending()))
	}
	return ok
}

// RecordGeneration stores a finished result. It queues the write when the
// async writer is running and falls back to a synchronous insert otherwise.
func (r *Repository) RecordGeneration(ctx context.Context, res session.Result, paths []string) error {
	rec := NewRecord(res, paths)
	if r.writer != nil && r.writer.Write(rec) {
		return nil
	}
	return r.Insert(ctx, rec)
}

// Insert writes rec synchronously.
func (r *Repository) Insert(ctx context.Context, rec Record) error {
	paths, err := json.Marshal(rec.ImagePaths)
	if err != nil {
		return fmt.Errorf("history: encoding image paths: %w", err)
	}

	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	conn, err := r.db.conn()
	if err != nil {
		return err
	}

	_, err = conn.ExecContext(ctx, `
		INSERT INTO generations (
			request_id, prompt, model_id, backend, width, height, steps,
			guidance, seed, status, error_kind, error_message, elapsed_ms,
			image_paths, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.Prompt, rec.ModelID, rec.Backend, rec.Width, rec.Height, rec.Steps,
		rec.Guidance, rec.Seed, rec.Status, nullString(rec.ErrorKind), nullString(rec.ErrorMessage),
		rec.ElapsedMS, string(paths), rec.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("history: inserting generation: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first. A non-positive limit
// defaults to 20.
func (r *Repository) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}

	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	conn, err := r.db.conn()
	if err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx, `
		SELECT id, request_id, prompt, model_id, backend, width, height, steps,
		       guidance, seed, status, COALESCE(error_kind, ''), COALESCE(error_message, ''),
		       elapsed_ms, image_paths, created_at
		FROM generations
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: querying generations: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var rec Record
		var paths string
		var created int64
		if err := rows.Scan(
			&rec.ID, &rec.RequestID, &rec.Prompt, &rec.ModelID, &rec.Backend,
			&rec.Width, &rec.Height, &rec.Steps, &rec.Guidance, &rec.Seed,
			&rec.Status, &rec.ErrorKind, &rec.ErrorMessage, &rec.ElapsedMS,
			&paths, &created,
		); err != nil {
			return nil, fmt.Errorf("history: scanning generation row: %w", err)
		}
		if err := json.Unmarshal([]byte(paths), &rec.ImagePaths); err != nil {
			return nil, fmt.Errorf("history: decoding image paths for %s: %w", rec.RequestID, err)
		}
		rec.CreatedAt = time.UnixMilli(created)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterating generation rows: %w", err)
	}
	return records, nil
}

// Stats returns totals over every record.
func (r *Repository) Stats(ctx context.Context) (Stats, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	conn, err := r.db.conn()
	if err != nil {
		return Stats{}, err
	}

	var st Stats
	var avg sql.NullFloat64
	err = conn.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
		       AVG(CASE WHEN status = ? THEN elapsed_ms END)
		FROM generations`, StatusSuccess, StatusSuccess).Scan(&st.Total, &st.Succeeded, &avg)
	if err != nil {
		return Stats{}, fmt.Errorf("history: querying stats: %w", err)
	}
	st.Failed = st.Total - st.Succeeded
	st.AvgElapsedMS = avg.Float64
	return st, nil
}

// Prune deletes records older than retention and returns how many were
// removed.
func (r *Repository) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, errors.New("history: retention must be positive")
	}

	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	conn, err := r.db.conn()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-retention).UnixMilli()
	res, err := conn.ExecContext(ctx, `DELETE FROM generations WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("history: pruning generations: %w", err)
	}
	return res.RowsAffected()
}

func nullString(s string) any {
	if s == "" {
		return sql.NullString{}
	}
	return s
}
