package storage

import (
	"cmp"
	"slices"
	"time"

	"messenger/internal/model"
)

type keyedMessage struct {
	msg    model.Message
	at     time.Time
	parsed bool
}

// SortMessages orders messages by SentAt ascending with ties broken by
// insertion order. Unparseable SentAt values go last.
func SortMessages(msgs []model.Message) {
	keyed := make([]keyedMessage, len(msgs))
	for i, m := range msgs {
		at, ok := m.SentAt.Time()
		keyed[i] = keyedMessage{msg: m, at: at, parsed: ok}
	}
	slices.SortFunc(keyed, compareKeyed)
	for i := range keyed {
		msgs[i] = keyed[i].msg
	}
}

func compareKeyed(a, b keyedMessage) int {
	switch {
	case a.parsed && b.parsed:
		if c := a.at.Compare(b.at); c != 0 {
			return c
		}
	case a.parsed:
		return -1
	case b.parsed:
		return 1
	}
	return cmp.Compare(a.msg.Seq, b.msg.Seq)
}
