// Package conversations derives per-viewer inboxes from the flat message
// history and keeps them live.
package conversations

import (
	"sort"
	"strings"

	"atelier/internal/models"
	"atelier/internal/profiles"
)

// Build groups messages by counterpart and returns one conversation per
// counterpart, newest first. Messages the viewer sent to themself are skipped.
func Build(viewer string, messages []models.Message, found map[string]models.Profile) []models.Conversation {
	groups := make(map[string][]models.Message)
	for _, m := range messages {
		if !counts(viewer, m) {
			continue
		}
		cp := m.Counterpart(viewer)
		groups[cp] = append(groups[cp], m)
	}

	out := make([]models.Conversation, 0, len(groups))
	for cp, msgs := range groups {
		conv, _ := summarize(viewer, cp, msgs, nil)
		conv.Profile = profiles.Resolve(found, cp)
		out = append(out, conv)
	}
	Sort(out)
	return out
}

// Counterparts returns the distinct counterparts of viewer in messages.
func Counterparts(viewer string, messages []models.Message) []string {
	ids := make([]string, 0, len(messages))
	for _, m := range messages {
		if counts(viewer, m) {
			ids = append(ids, m.Counterpart(viewer))
		}
	}
	return profiles.UniqueIDs(ids)
}

func counts(viewer string, m models.Message) bool {
	return m.Involves(viewer) && m.SenderID != m.ReceiverID
}

// summarize folds one counterpart's confirmed messages and optimistic records
// into a conversation. ok is false when there is nothing to show.
func summarize(viewer, counterpart string, confirmed []models.Message, optimistic []models.ThreadMessage) (conv models.Conversation, ok bool) {
	conv.CounterpartID = counterpart
	var last models.Message
	for _, m := range confirmed {
		if !ok || m.Newer(last) {
			last = m
			ok = true
		}
		if m.UnreadBy(viewer) {
			conv.UnreadCount++
		}
	}
	for _, rec := range optimistic {
		switch rec.Delivery {
		case models.DeliveryPending:
			conv.Pending++
		case models.DeliveryFailed:
			conv.Failed++
		}
		if !ok || !last.CreatedAt.After(rec.CreatedAt) {
			last = rec.Message
			ok = true
		}
	}
	conv.LastMessageID = last.ID
	conv.LastMessage = last.Content
	conv.LastMessageAt = last.CreatedAt
	return conv, ok
}

// Sort orders conversations by last message time, newest first, breaking
// ties by counterpart id.
func Sort(list []models.Conversation) {
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.LastMessageAt.Equal(b.LastMessageAt) {
			return a.CounterpartID < b.CounterpartID
		}
		return a.LastMessageAt.After(b.LastMessageAt)
	})
}

// Filter keeps conversations whose counterpart name contains term,
// case-insensitively. An empty term keeps everything.
func Filter(list []models.Conversation, term string) []models.Conversation {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return list
	}
	out := make([]models.Conversation, 0, len(list))
	for _, c := range list {
		if strings.Contains(strings.ToLower(c.Profile.Name), term) {
			out = append(out, c)
		}
	}
	return out
}
