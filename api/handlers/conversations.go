package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"coachapp/api/middleware"
	"coachapp/messaging"
	"coachapp/models"

	"github.com/gin-gonic/gin"
)

type SendMessageRequest struct {
	Content           string `json:"content"`
	RelatedEntityType string `json:"related_entity_type"`
	RelatedEntityID   string `json:"related_entity_id"`
}

func (a *API) GetProfile(c *gin.Context) {
	if _, ok := currentUser(c); !ok {
		return
	}
	profile, err := a.users.GetProfile(c.Request.Context(), c.Param("id"))
	if errors.Is(err, messaging.ErrProfileNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Profile not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, profile)
}

// ListConversations - список собеседников текущего пользователя
func (a *API) ListConversations(c *gin.Context) {
	auth, ok := currentUser(c)
	if !ok {
		return
	}

	start := time.Now()
	index := messaging.NewConversationIndex(auth, a.store, a.users, a.feed, a.opts)
	defer index.Close()
	partners, err := index.Load(c.Request.Context())
	middleware.RecordMessagingOperation("conversations_load", ServiceName, time.Since(start), err)
	if err != nil {
		respondError(c, err)
		return
	}
	if partners == nil {
		partners = []models.ConversationPartner{}
	}
	c.JSON(http.StatusOK, gin.H{"conversations": partners})
}

// GetMessages открывает переписку: сообщения по возрастанию времени,
// входящие помечаются прочитанными в фоне
func (a *API) GetMessages(c *gin.Context) {
	auth, ok := currentUser(c)
	if !ok {
		return
	}

	start := time.Now()
	session := messaging.NewConversationSession(auth, c.Param("partner_id"), a.store, a.feed, a.opts)
	defer session.Close()
	thread, err := session.Load(c.Request.Context())
	middleware.RecordMessagingOperation("conversation_load", ServiceName, time.Since(start), err)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"partner_id": session.PartnerID(), "messages": thread})
}

func (a *API) SendMessage(c *gin.Context) {
	auth, ok := currentUser(c)
	if !ok {
		return
	}
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	start := time.Now()
	session := messaging.NewConversationSession(auth, c.Param("partner_id"), a.store, a.feed, a.opts)
	defer session.Close()
	msg, err := a.send(c.Request.Context(), session, req)
	middleware.RecordMessagingOperation("conversation_send", ServiceName, time.Since(start), err)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// send: пустое сообщение отклоняется до загрузки переписки
func (a *API) send(ctx context.Context, session *messaging.ConversationSession, req SendMessageRequest) (*models.Message, error) {
	if _, err := messaging.NormalizeContent(req.Content); err != nil {
		return nil, err
	}
	if _, err := session.Load(ctx); err != nil {
		return nil, err
	}
	return session.Send(ctx, req.Content, messaging.WithRelatedEntity(req.RelatedEntityType, req.RelatedEntityID))
}

// MarkRead - явная пометка входящих от собеседника прочитанными
func (a *API) MarkRead(c *gin.Context) {
	auth, ok := currentUser(c)
	if !ok {
		return
	}
	partnerID := c.Param("partner_id")

	start := time.Now()
	ctx, cancel := context.WithTimeout(c.Request.Context(), a.opts.MarkReadTimeout)
	defer cancel()
	updated, err := a.store.MarkAsRead(ctx, auth.UserID, partnerID)
	if err != nil {
		err = &messaging.Error{Kind: messaging.KindMarkRead, Op: "conversation.mark_read", Err: err}
	}
	middleware.RecordMessagingOperation("conversation_mark_read", ServiceName, time.Since(start), err)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}
