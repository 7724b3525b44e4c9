package services

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsOutboxSize   = 64
)

var wsConnections = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "ws_connections",
	Help: "Open websocket connections to conversation views",
})

var wsDroppedPeers = promauto.NewCounter(prometheus.CounterOpts{
	Name: "ws_dropped_peers_total",
	Help: "Websocket connections closed because the client stopped reading",
})

// WSPeer - websocket соединение пользователя. Кадры из ленты идут через
// очередь и отдельную горутину записи: медленный клиент не держит ленту.
type WSPeer struct {
	UserID string
	conn   *websocket.Conn
	mu     sync.Mutex

	outbox chan interface{}
	done   chan struct{}
	once   sync.Once
}

func NewWSPeer(userID string, conn *websocket.Conn) *WSPeer {
	p := &WSPeer{
		UserID: userID,
		conn:   conn,
		outbox: make(chan interface{}, wsOutboxSize),
		done:   make(chan struct{}),
	}
	go p.writeLoop()
	return p
}

// Send ставит кадр в очередь не блокируясь. Переполненная очередь значит,
// что клиент не читает: соединение закрывается, возвращается false.
func (p *WSPeer) Send(v interface{}) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.outbox <- v:
		return true
	case <-p.done:
		return false
	default:
		log.Printf("WARN: websocket client %s is not reading, closing connection", p.UserID)
		wsDroppedPeers.Inc()
		p.shutdown()
		return false
	}
}

func (p *WSPeer) writeLoop() {
	for {
		select {
		case <-p.done:
			return
		case v := <-p.outbox:
			if flushed, ok := v.(chan struct{}); ok {
				close(flushed)
				continue
			}
			if err := p.WriteJSON(v); err != nil {
				log.Printf("WARN: websocket write to %s failed: %v", p.UserID, err)
				p.shutdown()
				return
			}
		}
	}
}

// WriteJSON пишет кадр сразу, минуя очередь
func (p *WSPeer) WriteJSON(v interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return p.conn.WriteJSON(v)
}

// ReadJSON и ReadMessage вызываются только из горутины обработчика соединения
func (p *WSPeer) ReadJSON(v interface{}) error {
	return p.conn.ReadJSON(v)
}

func (p *WSPeer) ReadMessage() (int, []byte, error) {
	return p.conn.ReadMessage()
}

// Done закрывается, когда соединение закрыто
func (p *WSPeer) Done() <-chan struct{} {
	return p.done
}

// Close отправляет close frame и закрывает соединение
func (p *WSPeer) Close() error {
	_ = p.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
		time.Now().Add(time.Second))
	p.shutdown()
	return nil
}

// Finish дожидается записи уже поставленных кадров, но не дольше timeout,
// и закрывает соединение
func (p *WSPeer) Finish(timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	flushed := make(chan struct{})
	select {
	case p.outbox <- flushed:
		select {
		case <-flushed:
		case <-p.done:
		case <-timer.C:
		}
	case <-p.done:
	case <-timer.C:
	}
	p.shutdown()
}

// shutdown останавливает запись; закрытый conn прерывает чтение в обработчике
func (p *WSPeer) shutdown() {
	p.once.Do(func() {
		close(p.done)
		_ = p.conn.Close()
	})
}

type WSConnManager struct {
	mu    sync.RWMutex
	users map[string][]*WSPeer
}

func NewWSConnManager() *WSConnManager {
	return &WSConnManager{
		users: make(map[string][]*WSPeer),
	}
}

func (m *WSConnManager) Add(peer *WSPeer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[peer.UserID] = append(m.users[peer.UserID], peer)
	wsConnections.Inc()
}

func (m *WSConnManager) Remove(peer *WSPeer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	peers := m.users[peer.UserID]
	for i, p := range peers {
		if p == peer {
			m.users[peer.UserID] = append(peers[:i], peers[i+1:]...)
			wsConnections.Dec()
			break
		}
	}
	if len(m.users[peer.UserID]) == 0 {
		delete(m.users, peer.UserID)
	}
}

// Count - число открытых соединений пользователя
func (m *WSConnManager) Count(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users[userID])
}

// CloseAll закрывает все соединения; обработчики сами удалят их через Remove
func (m *WSConnManager) CloseAll() {
	m.mu.RLock()
	peers := make([]*WSPeer, 0)
	for _, userPeers := range m.users {
		peers = append(peers, userPeers...)
	}
	m.mu.RUnlock()

	for _, p := range peers {
		_ = p.Close()
	}
}

var GlobalWSConnManager = NewWSConnManager()
