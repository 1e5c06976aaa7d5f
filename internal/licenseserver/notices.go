package licenseserver

import (
	"context"
	"log/slog"
	"sync"

	"licmgr/internal/infrastructure"
)

// NoticeLevel classifies a user-visible notice
type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notices is the message sink for user-visible licensing notices. Remote
// failures queue a human-readable message here instead of raising errors.
type Notices interface {
	Add(ctx context.Context, level NoticeLevel, message string)
}

// SlogNotices forwards notices to a structured logger.
type SlogNotices struct {
	logger *slog.Logger
}

// NewSlogNotices creates a logger-backed notice sink.
func NewSlogNotices(logger *slog.Logger) *SlogNotices {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogNotices{logger: infrastructure.WithComponent(logger, "license_notices")}
}

// Add implements Notices.
func (n *SlogNotices) Add(ctx context.Context, level NoticeLevel, message string) {
	switch level {
	case NoticeError:
		n.logger.ErrorContext(ctx, message, slog.String("notice", string(level)))
	case NoticeWarning:
		n.logger.WarnContext(ctx, message, slog.String("notice", string(level)))
	default:
		n.logger.InfoContext(ctx, message, slog.String("notice", string(level)))
	}
}

// Notice is a queued user-visible message.
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
}

// MemoryNotices records notices in memory. Useful for surfacing queued
// messages to an admin UI and for tests.
type MemoryNotices struct {
	mu      sync.Mutex
	notices []Notice
}

// NewMemoryNotices creates an in-memory notice sink.
func NewMemoryNotices() *MemoryNotices {
	return &MemoryNotices{}
}

// Add implements Notices.
func (n *MemoryNotices) Add(_ context.Context, level NoticeLevel, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, Notice{Level: level, Message: message})
}

// Drain returns and clears the queued notices.
func (n *MemoryNotices) Drain() []Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := n.notices
	n.notices = nil
	return out
}
