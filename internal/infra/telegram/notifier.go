package telegram

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ivankudzin/voxclip-safety/internal/domain/model"
)

type TextSender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// AssignmentNotifier tells an admin in Telegram that a moderation item was assigned to them.
// Admins without a configured chat are skipped silently.
type AssignmentNotifier struct {
	sender TextSender
	chats  map[uuid.UUID]int64
	logger *zap.Logger
}

func NewAssignmentNotifier(sender TextSender, adminChats map[string]int64, logger *zap.Logger) *AssignmentNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}

	chats := make(map[uuid.UUID]int64, len(adminChats))
	for rawID, chatID := range adminChats {
		adminID, err := uuid.Parse(strings.TrimSpace(rawID))
		if err != nil || chatID == 0 {
			logger.Warn("skip invalid admin chat mapping", zap.String("admin_id", rawID))
			continue
		}
		chats[adminID] = chatID
	}

	return &AssignmentNotifier{
		sender: sender,
		chats:  chats,
		logger: logger,
	}
}

func (n *AssignmentNotifier) NotifyAssigned(ctx context.Context, adminID uuid.UUID, item model.ModerationItem) error {
	if n == nil || n.sender == nil {
		return nil
	}
	chatID, ok := n.chats[adminID]
	if !ok {
		return nil
	}

	if err := n.sender.SendText(ctx, chatID, assignmentText(item)); err != nil {
		return fmt.Errorf("notify assigned admin: %w", err)
	}
	return nil
}

func assignmentText(item model.ModerationItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "New %s assigned to you\n", item.Kind)
	fmt.Fprintf(&b, "ID: %s\n", item.ID)
	fmt.Fprintf(&b, "Resource: %s\n", item.SubjectResourceID)
	fmt.Fprintf(&b, "Risk: %d, priority: %d", item.RiskScore, item.Priority)
	if item.EscalationLevel > 0 {
		fmt.Fprintf(&b, ", escalation: %d", item.EscalationLevel)
	}
	if len(item.Reasons) > 0 {
		fmt.Fprintf(&b, "\nReasons: %s", strings.Join(item.Reasons, ", "))
	}
	return b.String()
}
