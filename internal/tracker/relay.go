package tracker

import (
	"context"
	"log/slog"
	"time"

	"wa-gateway/internal/automation"
	"wa-gateway/internal/wa"
)

// handleMessage runs the relay steps for one message. Every failure is logged
// and absorbed.
func (t *Tracker) handleMessage(ctx context.Context, sessionID string, msg wa.InboundMessage) {
	logger := t.logger.With("session", sessionID, "message_id", msg.ID, "chat", msg.Chat.String())

	if msg.FromMe {
		t.countMessage("self")
		return
	}

	if err := t.messenger.MarkRead(ctx, sessionID, msg); err != nil {
		logger.Warn("mark read failed", "error", err)
	}

	if msg.Text == "" {
		t.countMessage("no_text")
		logger.Debug("ignoring message without text")
		return
	}

	if !t.typing(ctx, sessionID, msg) {
		return
	}

	reply, err := t.forwarder.Forward(ctx, automation.Request{
		Text:              msg.Text,
		SenderID:          msg.Sender.String(),
		SenderDisplayName: msg.PushName,
	})
	if err != nil {
		logger.Error("automation webhook failed", "error", err)
		t.metrics.Error("automation")
		t.countMessage("fallback")
		t.send(ctx, sessionID, msg, t.cfg.FallbackReply, logger)
		return
	}

	if !reply.HasOutput {
		t.countMessage("no_reply")
		t.send(ctx, sessionID, msg, t.cfg.NoReply, logger)
		return
	}
	t.countMessage("replied")
	t.send(ctx, sessionID, msg, reply.Output, logger)
}

// typing shows the composing indicator for the configured duration. It
// reports false when ctx ended while waiting.
func (t *Tracker) typing(ctx context.Context, sessionID string, msg wa.InboundMessage) bool {
	if err := t.messenger.SetTyping(ctx, sessionID, msg.Chat, true); err != nil {
		t.logger.Warn("typing indicator failed", "session", sessionID, "error", err)
	}
	if t.cfg.TypingDuration > 0 {
		timer := time.NewTimer(t.cfg.TypingDuration)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return false
		}
	}
	if err := t.messenger.SetTyping(ctx, sessionID, msg.Chat, false); err != nil {
		t.logger.Warn("typing indicator failed", "session", sessionID, "error", err)
	}
	return true
}

func (t *Tracker) send(ctx context.Context, sessionID string, msg wa.InboundMessage, text string, logger *slog.Logger) {
	if err := t.messenger.SendText(ctx, sessionID, msg.Chat, text); err != nil {
		logger.Error("send reply failed", "error", err)
		t.metrics.Error("wa")
	}
}
