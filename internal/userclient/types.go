package userclient

import (
	"context"
	"fmt"

	"relaybot/internal/storage"
)

// MediaKind mirrors the template media_kind column.
type MediaKind string

const (
	KindText      MediaKind = "text"
	KindPhoto     MediaKind = "photo"
	KindVideo     MediaKind = "video"
	KindAnimation MediaKind = "animation"
	KindAudio     MediaKind = "audio"
	KindVoice     MediaKind = "voice"
	KindDocument  MediaKind = "document"
	KindVideoNote MediaKind = "video_note"
)

func ParseKind(s string) (MediaKind, error) {
	k := MediaKind(s)
	switch k {
	case KindText, KindPhoto, KindVideo, KindAnimation, KindAudio, KindVoice, KindDocument, KindVideoNote:
		return k, nil
	}
	return "", fmt.Errorf("unknown media kind %q", s)
}

// Ext is the fallback file extension used when the file source does not
// supply one while materializing media.
func (k MediaKind) Ext() string {
	switch k {
	case KindPhoto:
		return ".jpg"
	case KindVideo, KindAnimation, KindVideoNote:
		return ".mp4"
	case KindAudio:
		return ".mp3"
	case KindVoice:
		return ".ogg"
	case KindDocument:
		return ".bin"
	default:
		return ""
	}
}

// Identity is the delivering account itself.
type Identity struct {
	ID       int64
	Username string
}

// HistoryMessage is the slice of a chat message the skip heuristic needs.
type HistoryMessage struct {
	ID        int
	ReplyToID int
	TopicID   int
	SenderID  int64
	FromSelf  bool
	Service   bool
}

// RemoteMedia is an opaque server-side handle for media already uploaded in
// this delivery run. The concrete type belongs to the implementation.
type RemoteMedia any

// Media describes one outgoing media payload. Exactly one of Path (local
// file to upload) or Remote (handle cached from an earlier send) is used.
type Media struct {
	Kind     MediaKind
	Path     string
	Remote   RemoteMedia
	Caption  string
	Entities []storage.Entity
}

// Sent reports a successful send. Remote is non-nil for media sends and can
// be fed back through Media.Remote to avoid re-uploading.
type Sent struct {
	MessageID int
	Remote    RemoteMedia
}

// Dialog is a group or channel the delivering account participates in.
type Dialog struct {
	ChatID  int64
	Title   string
	Kind    string // "group", "supergroup" or "channel"
	IsForum bool
}

// ForumTopic is one open sub-thread of a forum chat.
type ForumTopic struct {
	ID    int
	Title string
}

// ChatInfo describes a single chat the account can see, in Bot API id form.
type ChatInfo struct {
	ChatID  int64
	Title   string
	Kind    string // "group", "supergroup" or "channel"
	IsForum bool
}

// Client is one live authenticated delivery session. Implementations are not
// assumed safe for concurrent sends; callers serialize per owner.
type Client interface {
	Connected() bool
	Close(ctx context.Context) error
	Self() Identity

	// Resolve reports whether chatID is reachable for this account.
	Resolve(ctx context.Context, chatID int64) error

	History(ctx context.Context, chatID int64, limit int) ([]HistoryMessage, error)
	SendAction(ctx context.Context, chatID int64, topicID int, kind MediaKind) error
	SendText(ctx context.Context, chatID int64, topicID int, text string, entities []storage.Entity) (*Sent, error)
	SendMedia(ctx context.Context, chatID int64, topicID int, m Media) (*Sent, error)

	Dialogs(ctx context.Context) ([]Dialog, error)
	ForumTopics(ctx context.Context, chatID int64) ([]ForumTopic, error)
	ChatInfo(ctx context.Context, chatID int64) (*ChatInfo, error)
}

// Dialer builds a connected, authorized Client from a stored session string.
type Dialer func(ctx context.Context, ownerID int64, sessionString string) (Client, error)
