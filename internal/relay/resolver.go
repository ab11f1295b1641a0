package relay

import (
	"context"
	"fmt"
	"log/slog"

	"maxrelay/internal/domain"
)

// UnknownSender replaces the display name when MAX has none for a sender.
const UnknownSender = "Unknown"

// Resolver builds sender labels of the form "<name> [chat_id=<chat>]".
// Labels are not cached; profile names can change between messages.
type Resolver struct {
	dir    domain.Directory
	logger *slog.Logger
}

func NewResolver(dir domain.Directory, logger *slog.Logger) *Resolver {
	return &Resolver{dir: dir, logger: logger}
}

// Resolve never fails. A lookup error degrades to UnknownSender.
func (r *Resolver) Resolve(ctx context.Context, senderID, chatID int64) string {
	name := UnknownSender
	user, err := r.dir.GetUser(ctx, senderID)
	switch {
	case err != nil:
		r.logger.Warn("sender lookup failed", "sender_id", senderID, "err", err)
	case user.DisplayName() != "":
		name = user.DisplayName()
	}
	return fmt.Sprintf("%s [chat_id=%d]", name, chatID)
}
