package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"

	"coachapp/api/middleware"
	"coachapp/messaging"
	"coachapp/services"

	"github.com/gin-gonic/gin"
)

const ServiceName = "coachapp"

// API - обработчики HTTP и WebSocket. Каждый запрос получает свой
// индекс диалогов или сессию переписки поверх общих хранилища и ленты.
type API struct {
	users *services.UserService
	store messaging.MessageStore
	feed  messaging.Feed
	opts  messaging.Options
	conns *services.WSConnManager
}

func New(users *services.UserService, store messaging.MessageStore, feed messaging.Feed, opts messaging.Options, conns *services.WSConnManager) *API {
	if conns == nil {
		conns = services.GlobalWSConnManager
	}
	return &API{users: users, store: store, feed: feed, opts: opts.WithDefaults(), conns: conns}
}

func currentUser(c *gin.Context) (messaging.AuthContext, bool) {
	auth, ok := middleware.AuthFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
	}
	return auth, ok
}

// respondError переводит ошибки индекса и сессии в HTTP статус
func respondError(c *gin.Context, err error) {
	kind := messaging.KindOf(err)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, messaging.ErrEmptyContent), errors.Is(err, messaging.ErrNoPartner):
		status = http.StatusBadRequest
	case kind == messaging.KindAuth:
		status = http.StatusUnauthorized
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}

	if status >= http.StatusInternalServerError {
		log.Printf("ERROR: %s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, gin.H{"error": errorMessage(err), "kind": kind})
}

func errorMessage(err error) string {
	var e *messaging.Error
	if errors.As(err, &e) {
		return e.Err.Error()
	}
	return err.Error()
}
