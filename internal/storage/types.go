package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

var ErrNotFound = errors.New("not found")

// Config configures storage.
//
// Driver values:
//   - "sqlite" (default): single database file via modernc.org/sqlite
//   - "postgres": server database via pgx
type Config struct {
	Driver      string
	Path        string        // sqlite
	DSN         string        // postgres
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Account is a bot user onboarded for delivery. SessionString is the
// long-lived MTProto credential; empty means the owner cannot deliver.
type Account struct {
	TelegramID    int64
	SessionString string
	Phone         string
	Role          string
	CreatedAt     time.Time
}

// Entity is one rich-text formatting span, stored alongside a template in
// the Bot API naming ("bold", "text_link", ...). Offsets are UTF-16 code
// units, as both wire formats count them.
type Entity struct {
	Kind          string `json:"type"`
	Offset        int    `json:"offset"`
	Length        int    `json:"length"`
	URL           string `json:"url,omitempty"`
	Language      string `json:"language,omitempty"`
	CustomEmojiID int64  `json:"custom_emoji_id,omitempty,string"`
}

// Template is a stored reusable message payload. Content is either the text
// body (kind "text") or an opaque Bot API file id for media kinds.
type Template struct {
	ID        int64
	OwnerID   int64
	Name      string
	Content   string
	MediaKind string
	Caption   string
	Entities  []Entity
	CreatedAt time.Time
}

// Task is a persisted recurring broadcast job. Destinations holds the raw
// wire forms ("-100123", "-100123:77"); parsing happens in the mailing layer.
type Task struct {
	ID              int64
	OwnerID         int64
	TemplateID      int64
	Destinations    []string
	StartTime       string
	EndTime         string
	IntervalSeconds int
	LastRun         *time.Time
	Active          bool
	CreatedAt       time.Time
}

// encodeDestinations serializes a destination list for a TEXT column.
func encodeDestinations(dests []string) (string, error) {
	if dests == nil {
		dests = []string{}
	}
	b, err := json.Marshal(dests)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// decodeDestinations accepts both historical wire forms inside the JSON
// array: plain numbers and strings (possibly "chat:topic").
func decodeDestinations(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var vals []any
	if err := json.Unmarshal([]byte(raw), &vals); err != nil {
		return nil, fmt.Errorf("destinations: %w", err)
	}
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		switch x := v.(type) {
		case string:
			out = append(out, x)
		case float64:
			out = append(out, strconv.FormatInt(int64(x), 10))
		case json.Number:
			out = append(out, x.String())
		default:
			return nil, fmt.Errorf("destinations: unsupported entry %T", v)
		}
	}
	return out, nil
}

func encodeEntities(ents []Entity) (string, error) {
	if len(ents) == 0 {
		return "", nil
	}
	b, err := json.Marshal(ents)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeEntities(raw string) ([]Entity, error) {
	if raw == "" {
		return nil, nil
	}
	var ents []Entity
	if err := json.Unmarshal([]byte(raw), &ents); err != nil {
		return nil, fmt.Errorf("entities: %w", err)
	}
	return ents, nil
}
