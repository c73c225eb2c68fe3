package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/soundrise/notify/template"
)

// TemplateStorage is the durable implementation of template.Storage.
type TemplateStorage struct {
	pool *pgxpool.Pool
}

// NewTemplateStorage creates a template storage backed by the pool.
func NewTemplateStorage(pool *pgxpool.Pool) *TemplateStorage {
	return &TemplateStorage{pool: pool}
}

func (s *TemplateStorage) Create(ctx context.Context, t template.Template) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}

	channels, err := json.Marshal(t.Channels)
	if err != nil {
		return fmt.Errorf("failed to marshal channels: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO notification_templates
			(id, name, type, category, priority, channels, title, message, summary, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, type = EXCLUDED.type, category = EXCLUDED.category,
			priority = EXCLUDED.priority, channels = EXCLUDED.channels,
			title = EXCLUDED.title, message = EXCLUDED.message, summary = EXCLUDED.summary`,
		t.ID, t.Name, t.Type, t.Category, t.Priority, channels,
		t.Title, t.Message, t.Summary, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store template: %w", err)
	}
	return nil
}

func (s *TemplateStorage) Get(ctx context.Context, id string) (template.Template, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, type, category, priority, channels, title, message, summary, created_at
		FROM notification_templates WHERE id = $1`, id)

	t, err := scanTemplate(row)
	if err != nil {
		if isNotFound(err) {
			return template.Template{}, template.ErrNotFound
		}
		return template.Template{}, fmt.Errorf("failed to get template: %w", err)
	}
	return t, nil
}

func (s *TemplateStorage) List(ctx context.Context) ([]template.Template, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, type, category, priority, channels, title, message, summary, created_at
		FROM notification_templates ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var out []template.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTemplate(row pgx.Row) (template.Template, error) {
	var (
		t        template.Template
		channels []byte
	)
	err := row.Scan(&t.ID, &t.Name, &t.Type, &t.Category, &t.Priority,
		&channels, &t.Title, &t.Message, &t.Summary, &t.CreatedAt)
	if err != nil {
		return template.Template{}, err
	}
	if err := json.Unmarshal(channels, &t.Channels); err != nil {
		return template.Template{}, fmt.Errorf("failed to unmarshal channels: %w", err)
	}
	return t, nil
}
