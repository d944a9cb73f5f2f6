package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/ivankudzin/voxclip-safety/internal/domain/enums"
	"github.com/ivankudzin/voxclip-safety/internal/domain/model"
)

type fakeSender struct {
	chatID int64
	text   string
	calls  int
	err    error
}

func (f *fakeSender) SendText(_ context.Context, chatID int64, text string) error {
	f.calls++
	f.chatID = chatID
	f.text = text
	return f.err
}

func TestNotifyAssignedSendsToMappedChat(t *testing.T) {
	adminID := uuid.New()
	sender := &fakeSender{}
	notifier := NewAssignmentNotifier(sender, map[string]int64{adminID.String(): 4242}, nil)

	item := model.ModerationItem{
		ID:                uuid.New(),
		Kind:              enums.ItemKindReport,
		SubjectResourceID: "clip-17",
		Reasons:           []string{"spam", "abuse"},
		RiskScore:         80,
		Priority:          3,
	}
	if err := notifier.NotifyAssigned(context.Background(), adminID, item); err != nil {
		t.Fatalf("notify: %v", err)
	}

	if sender.calls != 1 || sender.chatID != 4242 {
		t.Fatalf("unexpected send: calls=%d chat=%d", sender.calls, sender.chatID)
	}
	if !strings.Contains(sender.text, "clip-17") || !strings.Contains(sender.text, "spam, abuse") {
		t.Fatalf("unexpected text: %q", sender.text)
	}
}

func TestNotifyAssignedSkipsUnknownAdmin(t *testing.T) {
	sender := &fakeSender{}
	notifier := NewAssignmentNotifier(sender, map[string]int64{"not-a-uuid": 1}, nil)

	if err := notifier.NotifyAssigned(context.Background(), uuid.New(), model.ModerationItem{}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if sender.calls != 0 {
		t.Fatalf("expected no send, got %d", sender.calls)
	}
}

func TestNotifyAssignedWrapsSendError(t *testing.T) {
	adminID := uuid.New()
	sendErr := errors.New("telegram down")
	notifier := NewAssignmentNotifier(&fakeSender{err: sendErr}, map[string]int64{adminID.String(): 7}, nil)

	err := notifier.NotifyAssigned(context.Background(), adminID, model.ModerationItem{})
	if !errors.Is(err, sendErr) {
		t.Fatalf("expected wrapped send error, got %v", err)
	}
}
