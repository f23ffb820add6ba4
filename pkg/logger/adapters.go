package logger

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
)

// WhatsAppLoggerInterface is the logging contract whatsmeow expects from
// its host application (waLog.Logger shape).
type WhatsAppLoggerInterface interface {
	Errorf(string, ...any)
	Warnf(string, ...any)
	Infof(string, ...any)
	Debugf(string, ...any)
	Sub(string) WhatsAppLoggerInterface
}

// WhatsAppLoggerAdapter bridges our Logger into whatsmeow's logger
// interface. NewWhatsAppLoggerAdapter builds it at Warn, whatever the
// global level, so per-message protocol chatter never reaches Debug in the
// fleet log.
type WhatsAppLoggerAdapter struct {
	logger Logger
}

func NewWhatsAppLoggerAdapter(logger Logger) WhatsAppLoggerInterface {
	warnOnly := logger.GetZerolog().Level(zerolog.WarnLevel)
	return &WhatsAppLoggerAdapter{logger: NewZerologLogger(&warnOnly)}
}

func (w *WhatsAppLoggerAdapter) Errorf(msg string, args ...any) {
	if len(args) == 0 {
		w.logger.Error().Msg(msg)
	} else {
		w.logger.Error().Msgf(msg, args...)
	}
}

func (w *WhatsAppLoggerAdapter) Warnf(msg string, args ...any) {
	if len(args) == 0 {
		w.logger.Warn().Msg(msg)
	} else {
		w.logger.Warn().Msgf(msg, args...)
	}
}

func (w *WhatsAppLoggerAdapter) Infof(msg string, args ...any) {
	if len(args) == 0 {
		w.logger.Info().Msg(msg)
	} else {
		w.logger.Info().Msgf(msg, args...)
	}
}

func (w *WhatsAppLoggerAdapter) Debugf(msg string, args ...any) {
	if len(args) == 0 {
		w.logger.Debug().Msg(msg)
	} else {
		w.logger.Debug().Msgf(msg, args...)
	}
}

func (w *WhatsAppLoggerAdapter) Sub(module string) WhatsAppLoggerInterface {
	if module == "" {
		return w
	}
	return &WhatsAppLoggerAdapter{logger: w.logger.WithComponent(module)}
}

// BunQueryHook logs bun ORM query execution, keeping the fleet's own
// high-frequency status/QR/last-connected-at touches out of the way of
// genuine slow queries and failures.
type BunQueryHook struct {
	logger Logger
}

func NewBunQueryHook(logger Logger) bun.QueryHook {
	return &BunQueryHook{
		logger: logger.WithComponent("database"),
	}
}

func (h *BunQueryHook) BeforeQuery(ctx context.Context, event *bun.QueryEvent) context.Context {
	return ctx
}

func (h *BunQueryHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	duration := time.Since(event.StartTime)
	durationMs := duration.Milliseconds()

	if event.Err != nil {
		h.logger.Error().
			Err(event.Err).
			Str("query", h.sanitizeQuery(event.Query)).
			Dur("duration", duration).
			Int64("duration_ms", durationMs).
			Str("operation", h.getQueryOperation(event.Query)).
			Str("table", h.getQueryTable(event.Query)).
			Msg("database query failed")
		return
	}

	h.logSuccessfulQuery(event.Query, duration, durationMs)
}

func (h *BunQueryHook) logSuccessfulQuery(query string, duration time.Duration, durationMs int64) {
	operation := h.getQueryOperation(query)
	table := h.getQueryTable(query)

	if durationMs < 10 && h.isRoutineQuery(query) {
		h.logger.Trace().
			Str("operation", operation).
			Str("table", table).
			Int64("duration_ms", durationMs).
			Msg("fast db operation")
		return
	}

	if durationMs > 100 {
		h.logger.Warn().
			Str("operation", operation).
			Str("table", table).
			Str("query", h.sanitizeQuery(query)).
			Int64("duration_ms", durationMs).
			Msg("slow database query")
		return
	}

	h.logger.Debug().
		Str("operation", operation).
		Str("table", table).
		Int64("duration_ms", durationMs).
		Msg("db operation completed")
}

// isRoutineQuery recognizes the fleet's own high-frequency status/QR/
// last-connected-at touches so disconnect storms don't flood debug logs.
func (h *BunQueryHook) isRoutineQuery(query string) bool {
	routinePatterns := []string{
		`set "connection_status"`,
		`set "last_connected_at"`,
		`set "qr_code"`,
		`set "updated_at"`,
	}

	queryLower := strings.ToLower(query)
	for _, pattern := range routinePatterns {
		if strings.Contains(queryLower, pattern) {
			return true
		}
	}
	return false
}

func (h *BunQueryHook) getQueryOperation(query string) string {
	query = strings.TrimSpace(strings.ToUpper(query))

	switch {
	case strings.HasPrefix(query, "SELECT"):
		return "SELECT"
	case strings.HasPrefix(query, "INSERT"):
		return "INSERT"
	case strings.HasPrefix(query, "UPDATE"):
		return "UPDATE"
	case strings.HasPrefix(query, "DELETE"):
		return "DELETE"
	case strings.HasPrefix(query, "CREATE"):
		return "CREATE"
	case strings.HasPrefix(query, "ALTER"):
		return "ALTER"
	case strings.HasPrefix(query, "DROP"):
		return "DROP"
	}
	return "UNKNOWN"
}

func (h *BunQueryHook) getQueryTable(query string) string {
	queryUpper := strings.ToUpper(query)

	operations := []struct {
		name    string
		keyword string
	}{
		{"UPDATE", "UPDATE"},
		{"INSERT", "INTO"},
		{"DELETE", "FROM"},
		{"SELECT", "FROM"},
		{"CREATE", "TABLE"},
	}

	for _, op := range operations {
		if strings.Contains(queryUpper, op.name) {
			return h.extractTableName(queryUpper, op.keyword)
		}
	}

	return "unknown"
}

func (h *BunQueryHook) extractTableName(query, keyword string) string {
	keywordPos := strings.Index(query, keyword)
	if keywordPos == -1 {
		return "unknown"
	}

	afterKeyword := strings.TrimSpace(query[keywordPos+len(keyword):])
	afterKeyword = strings.TrimPrefix(afterKeyword, "IF NOT EXISTS")
	afterKeyword = strings.TrimSpace(afterKeyword)

	parts := strings.Fields(afterKeyword)
	if len(parts) == 0 {
		return "unknown"
	}

	return strings.ToLower(strings.Trim(parts[0], `"`))
}

func (h *BunQueryHook) sanitizeQuery(query string) string {
	if query == "" {
		return ""
	}

	const maxLength = 200
	if len(query) > maxLength {
		query = query[:maxLength] + "..."
	}

	var builder strings.Builder
	builder.Grow(len(query))

	lastWasSpace := false
	for _, r := range query {
		switch r {
		case '\n', '\t', '\r', ' ':
			if !lastWasSpace {
				builder.WriteByte(' ')
				lastWasSpace = true
			}
		default:
			builder.WriteRune(r)
			lastWasSpace = false
		}
	}

	return strings.TrimSpace(builder.String())
}
