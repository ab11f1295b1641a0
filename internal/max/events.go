package max

import (
	"encoding/json"
	"fmt"
	"strings"

	"maxrelay/internal/domain"
)

type notifMessage struct {
	ChatID  flexInt64   `json:"chatId"`
	Message wireMessage `json:"message"`
}

type wireMessage struct {
	ID       flexInt64    `json:"id"`
	Sender   flexInt64    `json:"sender"`
	Text     string       `json:"text"`
	Time     int64        `json:"time"`
	Attaches []wireAttach `json:"attaches"`
}

type wireAttach struct {
	Type    string    `json:"_type"`
	BaseURL string    `json:"baseUrl"`
	URL     string    `json:"url"`
	VideoID flexInt64 `json:"videoId"`
	FileID  flexInt64 `json:"fileId"`
}

func (a wireAttach) toDomain() domain.Attachment {
	switch strings.ToUpper(a.Type) {
	case "PHOTO":
		url := a.BaseURL
		if url == "" {
			url = a.URL
		}
		return domain.Photo{URL: url}
	case "VIDEO":
		return domain.Video{VideoID: int64(a.VideoID)}
	case "FILE":
		return domain.File{FileID: int64(a.FileID)}
	default:
		name := a.Type
		if name == "" {
			name = "UNKNOWN"
		}
		return domain.Unsupported{TypeName: name}
	}
}

// parseNotification decodes a NOTIF_MESSAGE payload.
func parseNotification(payload json.RawMessage) (domain.InboundMessage, error) {
	var n notifMessage
	if err := json.Unmarshal(payload, &n); err != nil {
		return domain.InboundMessage{}, fmt.Errorf("decode message notification: %w", err)
	}
	msg := domain.InboundMessage{
		SenderID:  int64(n.Message.Sender),
		ChatID:    int64(n.ChatID),
		MessageID: int64(n.Message.ID),
		Text:      n.Message.Text,
	}
	if len(n.Message.Attaches) > 0 {
		msg.Attachments = make([]domain.Attachment, 0, len(n.Message.Attaches))
		for _, a := range n.Message.Attaches {
			msg.Attachments = append(msg.Attachments, a.toDomain())
		}
	}
	return msg, nil
}
