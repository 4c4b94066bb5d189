package engine

import (
	"context"
	"log/slog"

	"go.klb.dev/clipsync/internal/message"
)

// PreviewLen is how much of a clipboard value DEBUG logs show.
const PreviewLen = 50

// logText logs a clipboard event at INFO (length only) and, at DEBUG, a
// preview of the text.
func logText(log *slog.Logger, event, text string) {
	log.Info(event, "len", len(text))

	if !log.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	log.Debug("clipboard text", "preview", message.Preview(text, PreviewLen))
}
