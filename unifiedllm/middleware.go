package unifiedllm

import (
	"context"
	"log/slog"
	"time"
)

// LoggingStreamMiddleware logs every streamed request at debug level and its
// outcome once the stream closes.
func LoggingStreamMiddleware(logger *slog.Logger) StreamMiddleware {
	return func(ctx context.Context, req Request, next StreamFunc) (<-chan StreamEvent, error) {
		start := time.Now()
		logger.Debug("model request",
			"provider", req.Provider,
			"model", req.Model,
			"messages", len(req.Messages),
			"tools", len(req.ToolDefs),
		)

		in, err := next(ctx, req)
		if err != nil {
			logger.Warn("model request failed", "model", req.Model, "error", err, "retryable", IsRetryable(err))
			return nil, err
		}

		out := make(chan StreamEvent, cap(in))
		go func() {
			defer close(out)
			for ev := range in {
				switch ev.Type {
				case StreamFinish:
					attrs := []any{"model", req.Model, "duration_ms", time.Since(start).Milliseconds()}
					if ev.FinishReason != nil {
						attrs = append(attrs, "finish_reason", ev.FinishReason.Reason)
					}
					if ev.Usage != nil {
						attrs = append(attrs, "input_tokens", ev.Usage.InputTokens, "output_tokens", ev.Usage.OutputTokens)
					}
					logger.Debug("model response", attrs...)
				case StreamError:
					logger.Warn("model stream error", "model", req.Model, "error", ev.Error)
				}
				if !send(ctx, out, ev) {
					// Drain so the producer can exit.
					for range in {
					}
					return
				}
			}
		}()
		return out, nil
	}
}
