package messaging

import (
	"fmt"
	"sort"

	"coachapp/models"
)

const placeholderPrefixLen = 8

// ComputePartnerID возвращает собеседника currentUserID в сообщении m
func ComputePartnerID(m models.Message, currentUserID string) string {
	if m.SenderID == currentUserID {
		return m.ReceiverID
	}
	return m.SenderID
}

// BelongsToConversation - сообщение между current и partner в любом направлении
func BelongsToConversation(m models.Message, currentUserID, partnerID string) bool {
	return (m.SenderID == currentUserID && m.ReceiverID == partnerID) ||
		(m.SenderID == partnerID && m.ReceiverID == currentUserID)
}

// MergeMessageIntoThread вставляет incoming в упорядоченную по SentAt переписку.
// Если сообщение чужое или уже есть в переписке (по ID), возвращается исходный
// срез и false. Исходный срез не изменяется.
func MergeMessageIntoThread(thread []models.Message, incoming models.Message, currentUserID, partnerID string) ([]models.Message, bool) {
	if !BelongsToConversation(incoming, currentUserID, partnerID) {
		return thread, false
	}
	for i := range thread {
		if thread[i].ID == incoming.ID {
			return thread, false
		}
	}

	// обычно это хвост; при равных SentAt сохраняем порядок прихода
	pos := sort.Search(len(thread), func(i int) bool {
		return thread[i].SentAt.After(incoming.SentAt)
	})

	merged := make([]models.Message, 0, len(thread)+1)
	merged = append(merged, thread[:pos]...)
	merged = append(merged, incoming)
	merged = append(merged, thread[pos:]...)
	return merged, true
}

// ComputeUnreadCount считает непрочитанные сообщения от partner к current
func ComputeUnreadCount(messages []models.Message, currentUserID, partnerID string) int {
	count := 0
	for _, m := range messages {
		if !m.IsRead && m.ReceiverID == currentUserID && m.SenderID == partnerID {
			count++
		}
	}
	return count
}

// BuildPartners группирует сообщения по собеседникам. DisplayName не заполняется.
func BuildPartners(messages []models.Message, currentUserID string) []models.ConversationPartner {
	byID := make(map[string]*models.ConversationPartner)
	order := make([]string, 0)

	for _, m := range messages {
		partnerID := ComputePartnerID(m, currentUserID)
		if partnerID == "" || partnerID == currentUserID {
			continue
		}

		p, ok := byID[partnerID]
		if !ok {
			p = &models.ConversationPartner{ID: partnerID, LastMessage: m}
			byID[partnerID] = p
			order = append(order, partnerID)
		} else if m.SentAt.After(p.LastMessage.SentAt) {
			p.LastMessage = m
		}

		if !m.IsRead && m.ReceiverID == currentUserID {
			p.UnreadCount++
		}
	}

	partners := make([]models.ConversationPartner, 0, len(order))
	for _, id := range order {
		partners = append(partners, *byID[id])
	}
	SortPartners(partners)
	return partners
}

// SortPartners - свежие диалоги первыми
func SortPartners(partners []models.ConversationPartner) {
	sort.SliceStable(partners, func(i, j int) bool {
		a, b := partners[i].LastMessage.SentAt, partners[j].LastMessage.SentAt
		if !a.Equal(b) {
			return a.After(b)
		}
		return partners[i].ID < partners[j].ID
	})
}

// PlaceholderName - имя собеседника, у которого нет профиля
func PlaceholderName(userID string) string {
	prefix := userID
	if len(prefix) > placeholderPrefixLen {
		prefix = prefix[:placeholderPrefixLen]
	}
	return fmt.Sprintf("User %s", prefix)
}
