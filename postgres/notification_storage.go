package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/soundrise/notify/notification"
)

// NotificationStorage is the durable implementation of notification.Storage.
// Channel sets, delivery records and error lists live in JSONB columns; the
// flags and timestamps the queries filter on are first-class columns.
type NotificationStorage struct {
	pool *pgxpool.Pool
}

// NewNotificationStorage creates a notification storage backed by the pool.
func NewNotificationStorage(pool *pgxpool.Pool) *NotificationStorage {
	return &NotificationStorage{pool: pool}
}

const notificationColumns = `id, user_id, type, category, priority,
	title, message, summary, channels, deliveries,
	read, seen, dismissed, archived, included_in_digest,
	scheduled_at, expires_at, created_at, sent_at, read_at, dismissed_at,
	delivery_attempts, delivery_errors`

func (s *NotificationStorage) Create(ctx context.Context, n notification.Notification) error {
	if n.ID == "" {
		return notification.ErrMissingID
	}
	if n.UserID == "" {
		return notification.ErrMissingUserID
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	channels, deliveries, deliveryErrors, err := marshalJSONColumns(n)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`,
		n.ID, n.UserID, n.Type, n.Category, n.Priority,
		n.Title, n.Message, n.Summary, channels, deliveries,
		n.Read, n.Seen, n.Dismissed, n.Archived, n.IncludedInDigest,
		n.ScheduledAt, n.ExpiresAt, n.CreatedAt, n.SentAt, n.ReadAt, n.DismissedAt,
		n.DeliveryAttempts, deliveryErrors,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return notification.ErrDuplicateID
		}
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

func (s *NotificationStorage) Get(ctx context.Context, id string) (*notification.Notification, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id)

	n, err := scanNotification(row)
	if err != nil {
		if isNotFound(err) {
			return nil, notification.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	return n, nil
}

func (s *NotificationStorage) Update(ctx context.Context, n notification.Notification) error {
	if n.ID == "" {
		return notification.ErrMissingID
	}

	channels, deliveries, deliveryErrors, err := marshalJSONColumns(n)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE notifications SET
			type = $2, category = $3, priority = $4,
			title = $5, message = $6, summary = $7,
			channels = $8, deliveries = $9,
			read = $10, seen = $11, dismissed = $12, archived = $13, included_in_digest = $14,
			scheduled_at = $15, expires_at = $16,
			sent_at = $17, read_at = $18, dismissed_at = $19,
			delivery_attempts = $20, delivery_errors = $21
		WHERE id = $1`,
		n.ID, n.Type, n.Category, n.Priority,
		n.Title, n.Message, n.Summary,
		channels, deliveries,
		n.Read, n.Seen, n.Dismissed, n.Archived, n.IncludedInDigest,
		n.ScheduledAt, n.ExpiresAt,
		n.SentAt, n.ReadAt, n.DismissedAt,
		n.DeliveryAttempts, deliveryErrors,
	)
	if err != nil {
		return fmt.Errorf("failed to update notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notification.ErrNotFound
	}
	return nil
}

func (s *NotificationStorage) List(ctx context.Context, userID string, opts notification.ListOptions) ([]notification.Notification, error) {
	var (
		where = []string{"user_id = $1", "(expires_at IS NULL OR expires_at > now())"}
		args  = []any{userID}
	)

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if opts.OnlyUnread {
		where = append(where, "NOT read")
	}
	if opts.Category != "" {
		where = append(where, "category = "+arg(opts.Category))
	}
	if opts.Type != "" {
		where = append(where, "type = "+arg(opts.Type))
	}
	if opts.Since != nil {
		where = append(where, "created_at >= "+arg(*opts.Since))
	}
	if opts.DigestCandidates {
		where = append(where, "NOT archived", "NOT included_in_digest")
	}

	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY created_at DESC`
	if opts.Limit > 0 {
		query += " LIMIT " + arg(opts.Limit)
	}
	if opts.Offset > 0 {
		query += " OFFSET " + arg(opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var out []notification.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

func (s *NotificationStorage) CountUnread(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM notifications
		WHERE user_id = $1 AND NOT read AND (expires_at IS NULL OR expires_at > now())`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}

func (s *NotificationStorage) MarkIncludedInDigest(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE notifications SET included_in_digest = TRUE WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("failed to stamp digested notifications: %w", err)
	}
	return nil
}

func (s *NotificationStorage) Delete(ctx context.Context, userID string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`DELETE FROM notifications WHERE user_id = $1 AND id = ANY($2)`, userID, ids)
	if err != nil {
		return fmt.Errorf("failed to delete notifications: %w", err)
	}
	return nil
}

// DeleteExpired removes notifications past their expiry. Meant for a periodic
// housekeeping job; the read paths already filter expired rows out.
func (s *NotificationStorage) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM notifications WHERE expires_at IS NOT NULL AND expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired notifications: %w", err)
	}
	return tag.RowsAffected(), nil
}

func marshalJSONColumns(n notification.Notification) (channels, deliveries, deliveryErrors []byte, err error) {
	if channels, err = json.Marshal(n.Channels); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal channels: %w", err)
	}
	if n.Deliveries == nil {
		n.Deliveries = []notification.ChannelDelivery{}
	}
	if deliveries, err = json.Marshal(n.Deliveries); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal deliveries: %w", err)
	}
	if n.DeliveryErrors == nil {
		n.DeliveryErrors = []string{}
	}
	if deliveryErrors, err = json.Marshal(n.DeliveryErrors); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal delivery errors: %w", err)
	}
	return channels, deliveries, deliveryErrors, nil
}

func scanNotification(row pgx.Row) (*notification.Notification, error) {
	var (
		n              notification.Notification
		channels       []byte
		deliveries     []byte
		deliveryErrors []byte
	)
	err := row.Scan(
		&n.ID, &n.UserID, &n.Type, &n.Category, &n.Priority,
		&n.Title, &n.Message, &n.Summary, &channels, &deliveries,
		&n.Read, &n.Seen, &n.Dismissed, &n.Archived, &n.IncludedInDigest,
		&n.ScheduledAt, &n.ExpiresAt, &n.CreatedAt, &n.SentAt, &n.ReadAt, &n.DismissedAt,
		&n.DeliveryAttempts, &deliveryErrors,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(channels, &n.Channels); err != nil {
		return nil, fmt.Errorf("failed to unmarshal channels: %w", err)
	}
	if err := json.Unmarshal(deliveries, &n.Deliveries); err != nil {
		return nil, fmt.Errorf("failed to unmarshal deliveries: %w", err)
	}
	if err := json.Unmarshal(deliveryErrors, &n.DeliveryErrors); err != nil {
		return nil, fmt.Errorf("failed to unmarshal delivery errors: %w", err)
	}
	return &n, nil
}
