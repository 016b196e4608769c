package telegram

import (
	"fmt"
	"strconv"
	"strings"

	"groupcast/internal/delivery"
)

// Target is a parsed group id: a chat and an optional forum thread.
type Target struct {
	ChatID   int64
	ThreadID int
}

func (t Target) String() string {
	if t.ThreadID == 0 {
		return strconv.FormatInt(t.ChatID, 10)
	}
	return strconv.FormatInt(t.ChatID, 10) + ":" + strconv.Itoa(t.ThreadID)
}

// ParseTarget accepts "<chat_id>" or "<chat_id>:<thread_id>". Malformed ids
// are fatal: retrying cannot fix them.
func ParseTarget(groupID string) (Target, error) {
	s := strings.TrimSpace(groupID)
	chatPart, threadPart, hasThread := strings.Cut(s, ":")
	chat, err := strconv.ParseInt(chatPart, 10, 64)
	if err != nil || chat == 0 {
		return Target{}, delivery.Fatal(fmt.Errorf("telegram: invalid chat id %q", groupID))
	}
	t := Target{ChatID: chat}
	if hasThread {
		thread, err := strconv.Atoi(threadPart)
		if err != nil || thread <= 0 {
			return Target{}, delivery.Fatal(fmt.Errorf("telegram: invalid thread id in %q", groupID))
		}
		t.ThreadID = thread
	}
	return t, nil
}
