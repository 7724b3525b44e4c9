package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"coachapp/models"

	"github.com/fatih/color"
)

var (
	nameStyle   = color.New(color.FgHiMagenta, color.Bold)
	ownStyle    = color.New(color.FgHiCyan)
	unreadStyle = color.New(color.FgYellow, color.Bold)
	idStyle     = color.New(color.Faint)
	errorStyle  = color.New(color.FgRed)
)

const previewLength = 60

func printConversations(w io.Writer, partners []models.ConversationPartner) {
	if len(partners) == 0 {
		fmt.Fprintln(w, "No conversations yet")
		return
	}
	for _, p := range partners {
		unread := ""
		if p.UnreadCount > 0 {
			unread = " " + unreadStyle.Sprintf("[%d unread]", p.UnreadCount)
		}
		fmt.Fprintf(w, "● %s %s%s\n", nameStyle.Sprint(p.DisplayName), idStyle.Sprint(p.ID), unread)
		fmt.Fprintf(w, "    %s · %s\n", preview(p.LastMessage.Content), formatTime(p.LastMessage.SentAt))
	}
}

// printMessage печатает строку переписки; свои сообщения подписаны "you"
func printMessage(w io.Writer, m models.Message, selfID, partnerName string) {
	author := nameStyle.Sprint(partnerName)
	if m.SenderID == selfID {
		author = ownStyle.Sprint("you")
	}
	related := ""
	if m.RelatedEntityType != nil && m.RelatedEntityID != nil {
		related = " " + idStyle.Sprintf("(%s %s)", *m.RelatedEntityType, *m.RelatedEntityID)
	}
	fmt.Fprintf(w, "[%s] %s: %s%s\n", formatTime(m.SentAt), author, m.Content, related)
}

func printThread(w io.Writer, messages []models.Message, selfID, partnerName string) {
	if len(messages) == 0 {
		fmt.Fprintln(w, "No messages yet")
		return
	}
	for _, m := range messages {
		printMessage(w, m, selfID, partnerName)
	}
}

func preview(content string) string {
	content = strings.Join(strings.Fields(content), " ")
	runes := []rune(content)
	if len(runes) <= previewLength {
		return content
	}
	return string(runes[:previewLength-1]) + "…"
}

func formatTime(t time.Time) string {
	t = t.Local()
	if y, m, d := t.Date(); y == time.Now().Year() && m == time.Now().Month() && d == time.Now().Day() {
		return t.Format("15:04")
	}
	return t.Format("02 Jan 15:04")
}
