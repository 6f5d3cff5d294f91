package stream

import (
	"context"
	"fmt"
	"log/slog"
)

// Gate resolves a user's stream assignment into a sealed handle.
type Gate struct {
	log      *slog.Logger
	dir      Directory
	envelope *Envelope
}

func NewGate(log *slog.Logger, dir Directory, envelope *Envelope) *Gate {
	if log == nil {
		log = slog.Default()
	}
	return &Gate{log: log, dir: dir, envelope: envelope}
}

// Resolve looks up the user's active assignment and seals its reference.
// The returned handle is opaque to the client and bound to the user.
func (g *Gate) Resolve(ctx context.Context, userID string) (string, error) {
	a, err := g.dir.FindActiveByUser(ctx, userID)
	if err != nil {
		return "", err
	}
	h, err := g.envelope.Seal(userID, a.URL)
	if err != nil {
		return "", fmt.Errorf("stream: resolve: %w", err)
	}
	g.log.LogAttrs(ctx, slog.LevelInfo, "stream.handle.issued",
		slog.String("user_id", userID),
		slog.String("assignment_id", a.ID),
	)
	return h, nil
}

// Open unwraps a handle previously issued to the user.
func (g *Gate) Open(userID, handle string) (string, error) {
	return g.envelope.Open(userID, handle)
}
