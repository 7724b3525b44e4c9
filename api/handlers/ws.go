package handlers

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"coachapp/messaging"
	"coachapp/models"
	"coachapp/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// wsFlushTimeout - сколько ждать записи последних кадров при закрытии
const wsFlushTimeout = time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSEvent - кадр, который сервер отправляет клиенту
type WSEvent struct {
	Event         string                       `json:"event"`
	Conversations []models.ConversationPartner `json:"conversations,omitempty"`
	Messages      []models.Message             `json:"messages,omitempty"`
	Message       *models.Message              `json:"message,omitempty"`
	Kind          messaging.ErrorKind          `json:"kind,omitempty"`
	Error         string                       `json:"error,omitempty"`
}

func errorEvent(err error) WSEvent {
	return WSEvent{Event: "error", Kind: messaging.KindOf(err), Error: errorMessage(err)}
}

// upgrade переводит запрос в WebSocket и регистрирует соединение
func (a *API) upgrade(c *gin.Context, userID string) (*services.WSPeer, func(), bool) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Println("WebSocket upgrade error:", err)
		return nil, nil, false
	}
	peer := services.NewWSPeer(userID, conn)
	a.conns.Add(peer)
	return peer, func() {
		a.conns.Remove(peer)
		peer.Finish(wsFlushTimeout)
	}, true
}

// WSConversations - живой список собеседников: полный список при подключении
// и после каждого входящего сообщения
func (a *API) WSConversations(c *gin.Context) {
	auth, ok := currentUser(c)
	if !ok {
		return
	}
	peer, release, ok := a.upgrade(c, auth.UserID)
	if !ok {
		return
	}
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	index := messaging.NewConversationIndex(auth, a.store, a.users, a.feed, a.opts)
	defer index.Close()

	// отправляется последний примененный список: результат устаревшей загрузки
	// не перекроет более свежий. Send не блокирует ленту: клиент, который
	// не читает, отключается.
	push := func(_ []models.ConversationPartner, err error) {
		event := WSEvent{Event: "conversations", Conversations: index.Partners()}
		if err != nil {
			event = errorEvent(err)
		}
		peer.Send(event)
	}

	// подписка до загрузки: сообщение, пришедшее между ними, вызовет перезагрузку
	if err := index.Subscribe(ctx, push); err != nil {
		peer.Send(errorEvent(err))
		return
	}
	push(index.Load(ctx))

	for {
		if _, _, err := peer.ReadMessage(); err != nil {
			return
		}
	}
}

// WSConversation - живая переписка с собеседником. Входящие кадры
// {"content": ...} отправляются как сообщения.
func (a *API) WSConversation(c *gin.Context) {
	auth, ok := currentUser(c)
	if !ok {
		return
	}
	peer, release, ok := a.upgrade(c, auth.UserID)
	if !ok {
		return
	}
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session := messaging.NewConversationSession(auth, c.Param("partner_id"), a.store, a.feed, a.opts)
	defer session.Close()

	// сообщения из ленты идут клиенту только после кадра с перепиской
	var mu sync.Mutex
	var backlog []models.Message
	threadSent := false
	session.OnMessage(func(m models.Message) {
		mu.Lock()
		if !threadSent {
			backlog = append(backlog, m)
			mu.Unlock()
			return
		}
		mu.Unlock()
		peer.Send(WSEvent{Event: "message", Message: &m})
	})

	thread, err := session.Load(ctx)
	if err != nil {
		peer.Send(errorEvent(err))
		return
	}

	mu.Lock()
	peer.Send(WSEvent{Event: "thread", Messages: thread})
	for i := range backlog {
		peer.Send(WSEvent{Event: "message", Message: &backlog[i]})
	}
	backlog = nil
	threadSent = true
	mu.Unlock()

	for {
		var req SendMessageRequest
		if err := peer.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Println("WebSocket read error:", err)
			}
			return
		}
		_, err := session.Send(ctx, req.Content, messaging.WithRelatedEntity(req.RelatedEntityType, req.RelatedEntityID))
		if err != nil {
			peer.Send(errorEvent(err))
		}
	}
}
