package upload

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

var ErrNotFound = errors.New("upload not found")

// Item is one file waiting for, or finished with, upload.
type Item struct {
	ID           int64     `json:"id"`
	Path         string    `json:"path"`
	TaskName     string    `json:"task_name"`
	Destination  string    `json:"destination,omitempty"`
	Status       Status    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

const itemColumns = "id, path, task_name, destination, status, error_message, created_at, updated_at"

func scanItem(scanner interface{ Scan(dest ...any) error }) (Item, error) {
	var (
		item       Item
		status     string
		createdRaw string
		updatedRaw string
	)
	if err := scanner.Scan(
		&item.ID,
		&item.Path,
		&item.TaskName,
		&item.Destination,
		&status,
		&item.ErrorMessage,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return Item{}, err
	}
	item.Status = Status(status)
	item.CreatedAt = parseTime(createdRaw)
	item.UpdatedAt = parseTime(updatedRaw)
	return item, nil
}

// List returns items oldest first, optionally limited to the given statuses.
// limit <= 0 means no limit.
func (q *Queue) List(ctx context.Context, limit int, statuses ...Status) ([]Item, error) {
	query := `SELECT ` + itemColumns + ` FROM uploads`
	args := make([]any, 0, len(statuses)+1)
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, string(status))
		}
	}
	query += ` ORDER BY id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := q.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (q *Queue) Get(ctx context.Context, id int64) (Item, error) {
	row := q.store.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM uploads WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return Item{}, fmt.Errorf("get upload: %w", err)
	}
	return item, nil
}

func (q *Queue) MarkDone(ctx context.Context, id int64) error {
	return q.setStatus(ctx, id, StatusDone, "")
}

func (q *Queue) MarkFailed(ctx context.Context, id int64, reason string) error {
	return q.setStatus(ctx, id, StatusFailed, reason)
}

func (q *Queue) setStatus(ctx context.Context, id int64, status Status, reason string) error {
	var affected int64
	err := retryOnBusy(ctx, func() error {
		res, err := q.store.db.ExecContext(ctx,
			`UPDATE uploads SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
			string(status), reason, formatTime(time.Now()), id,
		)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("update upload %d: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return nil
}

// Stats counts items per status.
func (q *Queue) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := q.store.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM uploads GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("upload stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[Status(status)] = count
	}
	return stats, rows.Err()
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2-1)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
