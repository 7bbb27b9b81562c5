package mailing

import (
	"fmt"
	"strconv"
	"strings"
)

// Destination addresses a chat, or one forum topic inside a chat. Topic is
// zero for plain chats. A chat and a topic within the same chat are distinct
// destinations.
type Destination struct {
	Chat  int64
	Topic int
}

func (d Destination) String() string {
	if d.Topic != 0 {
		return strconv.FormatInt(d.Chat, 10) + ":" + strconv.Itoa(d.Topic)
	}
	return strconv.FormatInt(d.Chat, 10)
}

// ParseDestination accepts the two persisted wire forms: a bare chat id
// ("-1001234") or "<chat_id>:<topic_id>" for a forum topic.
func ParseDestination(raw string) (Destination, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Destination{}, fmt.Errorf("empty destination")
	}
	if chat, topic, ok := strings.Cut(raw, ":"); ok {
		chatID, err := strconv.ParseInt(strings.TrimSpace(chat), 10, 64)
		if err != nil {
			return Destination{}, fmt.Errorf("destination %q: bad chat id", raw)
		}
		topicID, err := strconv.Atoi(strings.TrimSpace(topic))
		if err != nil || topicID <= 0 {
			return Destination{}, fmt.Errorf("destination %q: bad topic id", raw)
		}
		return Destination{Chat: chatID, Topic: topicID}, nil
	}
	chatID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return Destination{}, fmt.Errorf("destination %q: bad chat id", raw)
	}
	return Destination{Chat: chatID}, nil
}

// ParseDestinations parses the raw list, dropping entries that do not parse.
// The returned slice preserves input order.
func ParseDestinations(raw []string) ([]Destination, []string) {
	out := make([]Destination, 0, len(raw))
	var dropped []string
	for _, r := range raw {
		d, err := ParseDestination(r)
		if err != nil {
			dropped = append(dropped, r)
			continue
		}
		out = append(out, d)
	}
	return out, dropped
}
