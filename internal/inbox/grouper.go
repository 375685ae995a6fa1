package inbox

import (
	"sort"
	"strings"
	"time"
)

// GroupConversations folds processed messages into one summary per contact
// phone. The latest record id of each phone decides lastMessage, its time and
// the contact name. The result is ordered newest first and is never nil.
func GroupConversations(msgs []ProcessedMessage) []ConversationSummary {
	sorted := make([]ProcessedMessage, len(msgs))
	copy(sorted, msgs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].RecordID < sorted[j].RecordID
	})

	groups := make(map[string]*ConversationSummary)
	order := make([]string, 0)
	for _, msg := range sorted {
		g, found := groups[msg.ContactPhone]
		if !found {
			g = &ConversationSummary{ID: msg.ContactPhone, ContactPhone: msg.ContactPhone}
			groups[msg.ContactPhone] = g
			order = append(order, msg.ContactPhone)
		}
		g.MessageCount++
		if !found || msg.RecordID >= g.LastRecordID {
			g.LastRecordID = msg.RecordID
			g.LastMessage = msg.Content
			g.LastMessageTime = msg.Timestamp
			g.ContactName = msg.ContactName
		}
	}

	out := make([]ConversationSummary, 0, len(order))
	for _, key := range order {
		s := *groups[key]
		s.Status = StatusUnread
		if strings.TrimSpace(s.LastMessage) == "" {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return newerThan(out[i], out[j])
	})
	return out
}

func newerThan(a, b ConversationSummary) bool {
	ta, errA := parseTimestamp(a.LastMessageTime)
	tb, errB := parseTimestamp(b.LastMessageTime)
	switch {
	case errA == nil && errB == nil:
		if !ta.Equal(tb) {
			return ta.After(tb)
		}
	case errA == nil:
		return true
	case errB == nil:
		return false
	default:
		if a.LastMessageTime != b.LastMessageTime {
			return a.LastMessageTime > b.LastMessageTime
		}
	}
	return a.LastRecordID > b.LastRecordID
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

func parseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, value)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
