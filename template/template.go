package template

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/soundrise/notify/notification"
)

// placeholderRe matches {{name}} placeholders in template bodies.
var placeholderRe = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// Template is a reusable notification blueprint. Title, Message and Summary
// may contain {{variable}} placeholders substituted at send time.
type Template struct {
	ID       string                 `json:"id" yaml:"id"`
	Name     string                 `json:"name" yaml:"name"`
	Type     string                 `json:"type" yaml:"type"`
	Category notification.Category  `json:"category" yaml:"category"`
	Priority notification.Priority  `json:"priority" yaml:"priority"`
	Channels []notification.Channel `json:"channels" yaml:"channels"`

	Title   string `json:"title" yaml:"title"`
	Message string `json:"message" yaml:"message"`
	Summary string `json:"summary,omitempty" yaml:"summary,omitempty"`

	CreatedAt time.Time `json:"created_at" yaml:"-"`
}

// Validate rejects malformed templates before they are persisted.
func (t Template) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidTemplate)
	}
	if t.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidTemplate)
	}
	if t.Message == "" {
		return fmt.Errorf("%w: message is required", ErrInvalidTemplate)
	}
	if t.Category != "" && !t.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidTemplate, t.Category)
	}
	return nil
}

// Render substitutes variables into the template and returns a notification
// skeleton (no recipient). Unknown placeholders are left verbatim rather than
// failing the send; the caller gets the list of missing variables back so it
// can log a warning.
func (t Template) Render(vars map[string]string) (notification.Notification, []string) {
	var missing []string
	sub := func(s string) string {
		return placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
			key := strings.Trim(m, "{} \t")
			if v, ok := vars[key]; ok {
				return v
			}
			missing = append(missing, key)
			return m
		})
	}

	return notification.Notification{
		Type:     t.Type,
		Category: t.Category,
		Priority: t.Priority,
		Title:    sub(t.Title),
		Message:  sub(t.Message),
		Summary:  sub(t.Summary),
		Channels: append([]notification.Channel(nil), t.Channels...),
	}, missing
}

// RenderFor renders the template for one recipient, logging a warning when
// placeholders are missing instead of failing the send.
func (t Template) RenderFor(userID string, vars map[string]string, logger *slog.Logger) notification.Notification {
	n, missing := t.Render(vars)
	n.UserID = userID
	if len(missing) > 0 && logger != nil {
		logger.LogAttrs(context.Background(), slog.LevelWarn, "template rendered with missing variables",
			slog.String("template_id", t.ID),
			slog.String("user_id", userID),
			slog.Any("missing", missing),
		)
	}
	return n
}
