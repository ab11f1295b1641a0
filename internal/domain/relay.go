package domain

import "context"

// Recipient is the Telegram chat that receives every relayed message.
type Recipient int64

// Directory is the part of the MAX client the relay needs: profile lookups
// and media URL resolution.
type Directory interface {
	// GetUser returns nil, nil when the user does not exist.
	GetUser(ctx context.Context, userID int64) (*User, error)
	VideoURL(ctx context.Context, chatID, messageID, videoID int64) (string, error)
	FileURL(ctx context.Context, chatID, messageID, fileID int64) (string, error)
}

// Sink delivers to Telegram. Implementations do not retry.
type Sink interface {
	SendText(ctx context.Context, to Recipient, body string) error
	SendPhoto(ctx context.Context, to Recipient, p Payload, caption string) error
	SendVideo(ctx context.Context, to Recipient, p Payload, caption string) error
	SendDocument(ctx context.Context, to Recipient, p Payload, caption string) error
}
