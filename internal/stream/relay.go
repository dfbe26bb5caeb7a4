package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/reviewrelay/reviewrelay/internal/domain"
)

// CompletionFunc receives the reconstructed response once the upstream
// stream has been fully forwarded. It is never invoked when the client
// disconnected before the stream completed.
type CompletionFunc func(text string, usage *domain.Usage)

// Relay copies a wire-format stream from upstream to the client verbatim
// while reconstructing the response text and usage on the side.
type Relay struct {
	logger     *slog.Logger
	onComplete CompletionFunc
}

// NewRelay creates a relay. onComplete may be nil.
func NewRelay(logger *slog.Logger, onComplete CompletionFunc) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{logger: logger, onComplete: onComplete}
}

// Copy forwards upstream to w chunk by chunk, flushing after every write so
// the client sees deltas as they arrive. Bytes reach the client unmodified;
// parsing happens on a copy. The completion callback fires exactly once,
// after the final chunk has been forwarded, unless ctx was canceled first.
func (r *Relay) Copy(ctx context.Context, w io.Writer, upstream io.Reader) error {
	parser := NewParser()
	buf := make([]byte, 32*1024)
	completed := false

	for {
		if err := ctx.Err(); err != nil {
			r.logger.DebugContext(ctx, "client disconnected mid-stream")
			return err
		}

		n, readErr := upstream.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			parser.Feed(chunk)
			if _, werr := w.Write(chunk); werr != nil {
				// Client gone; stop reading upstream and skip completion.
				r.logger.DebugContext(ctx, "client write failed mid-stream", "error", werr)
				return werr
			}
			if f, ok := w.(flusher); ok {
				f.Flush()
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				completed = true
				break
			}
			r.logger.WarnContext(ctx, "upstream read failed mid-stream", "error", readErr)
			return readErr
		}
	}

	parser.Flush()
	if completed && ctx.Err() == nil && r.onComplete != nil {
		r.onComplete(parser.Text(), parser.Usage())
	}
	return nil
}
