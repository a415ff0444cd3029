package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"lms-realtime/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

var (
	ErrNotConnected = errors.New("realtime: not connected")
	ErrBufferFull   = errors.New("realtime: send buffer full")
	ErrNoSession    = errors.New("realtime: no session")
)

// PersonalChannel is the synthetic room a user joins when the current view
// has no room of its own. Joining any room is what puts a user in the
// server's online registry.
func PersonalChannel(userID models.ID) string {
	return "user-" + userID.String()
}

type Options struct {
	URL     string
	Backoff Backoff
	Dialer  *websocket.Dialer
	// Unauthorized is called when the server rejects the handshake. The
	// manager stops reconnecting afterwards.
	Unauthorized func()
}

// Manager owns the single push connection of a session. It reconnects on
// drops; nothing sent or pushed while disconnected is replayed.
type Manager struct {
	opts Options

	mu         sync.Mutex
	session    *models.Session
	conn       *websocket.Conn
	send       chan []byte
	cancel     context.CancelFunc
	done       chan struct{}
	rooms      []string
	joined     map[string]bool
	onMessage  []func(models.Message)
	onPresence []func([]models.PresenceEntry)
	onNotify   []func(models.Notification)
	onStatus   []func(bool)
}

func NewManager(opts Options) *Manager {
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		}
	}
	if opts.Backoff.Base <= 0 {
		opts.Backoff.Base = 500 * time.Millisecond
	}
	if opts.Backoff.Max <= 0 {
		opts.Backoff.Max = 30 * time.Second
	}
	return &Manager{opts: opts, joined: make(map[string]bool)}
}

// Open starts the connection for sess. Calling it again for the same
// session is a no-op; a different session replaces the current one.
func (m *Manager) Open(sess *models.Session) error {
	if !sess.Valid() {
		return ErrNoSession
	}

	m.mu.Lock()
	if m.session != nil {
		if m.session.Token == sess.Token && m.session.User.ID == sess.User.ID {
			m.mu.Unlock()
			return nil
		}
		m.mu.Unlock()
		m.Close()
		m.mu.Lock()
	}

	copied := *sess
	ctx, cancel := context.WithCancel(context.Background())
	m.session = &copied
	m.cancel = cancel
	m.done = make(chan struct{})
	m.rooms = nil
	m.joined = make(map[string]bool)
	done := m.done
	m.mu.Unlock()

	log.Printf("[WS] Opening push connection for user %s", copied.User.ID)
	go m.run(ctx, &copied, done)
	return nil
}

// Close tears the connection down and stops reconnecting. It returns once
// the connection goroutines have exited.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return
	}
	m.cancel()
	if m.conn != nil {
		_ = m.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		m.conn.Close()
	}
	userID := m.session.User.ID
	done := m.done
	m.session = nil
	m.mu.Unlock()

	<-done
	log.Printf("[WS] Push connection closed for user %s", userID)
}

// Connected reports whether a socket is currently up.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.send != nil
}

func (m *Manager) OnMessage(fn func(models.Message)) {
	m.mu.Lock()
	m.onMessage = append(m.onMessage, fn)
	m.mu.Unlock()
}

func (m *Manager) OnPresenceUpdate(fn func([]models.PresenceEntry)) {
	m.mu.Lock()
	m.onPresence = append(m.onPresence, fn)
	m.mu.Unlock()
}

func (m *Manager) OnNotification(fn func(models.Notification)) {
	m.mu.Lock()
	m.onNotify = append(m.onNotify, fn)
	m.mu.Unlock()
}

// OnStatus is called with true after every successful (re)connect and with
// false after every drop.
func (m *Manager) OnStatus(fn func(connected bool)) {
	m.mu.Lock()
	m.onStatus = append(m.onStatus, fn)
	m.mu.Unlock()
}

// AnnouncePresence joins channelID. The join is remembered and replayed
// after reconnects; if the socket is not up yet it is sent on connect.
func (m *Manager) AnnouncePresence(channelID string) error {
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return ErrNoSession
	}
	if !m.joined[channelID] {
		m.joined[channelID] = true
		m.rooms = append(m.rooms, channelID)
	}
	connected := m.send != nil
	payload := m.joinPayload(channelID)
	m.mu.Unlock()

	if !connected {
		return nil
	}
	// a drop in between is fine: the join is replayed on reconnect
	if err := m.Send(models.WSTypeJoinRoom, payload); err != nil && err != ErrNotConnected {
		return err
	}
	return nil
}

func (m *Manager) joinPayload(channelID string) models.JoinRoomPayload {
	return models.JoinRoomPayload{
		RoomID:   channelID,
		UserID:   m.session.User.ID,
		UserType: m.session.User.Role,
		UserName: m.session.User.Name,
	}
}

// Send queues an event for the server. Delivery is best effort.
func (m *Manager) Send(event string, payload interface{}) error {
	data, err := json.Marshal(models.WSMessage{Type: event, Payload: payload})
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.send == nil {
		return ErrNotConnected
	}
	select {
	case m.send <- data:
		return nil
	default:
		log.Printf("[WS] ⚠️ Send buffer full, dropping '%s'", event)
		return ErrBufferFull
	}
}

func (m *Manager) dialURL(token string) (string, error) {
	u, err := url.Parse(m.opts.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (m *Manager) run(ctx context.Context, sess *models.Session, done chan struct{}) {
	defer close(done)

	target, err := m.dialURL(sess.Token)
	if err != nil {
		log.Printf("[WS] ❌ Invalid socket URL %q: %v", m.opts.URL, err)
		return
	}

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		conn, resp, err := m.opts.Dialer.DialContext(ctx, target, nil)
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusUnauthorized {
				log.Printf("[WS] ❌ Handshake rejected for user %s, not retrying", sess.User.ID)
				if m.opts.Unauthorized != nil {
					go m.opts.Unauthorized()
				}
				return
			}
			attempt++
			delay := m.opts.Backoff.Delay(attempt)
			log.Printf("[WS] Dial failed (attempt %d), retrying in %v: %v", attempt, delay, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		if !m.attach(ctx, conn) {
			conn.Close()
			return
		}
		attempt = 0
		m.readPump(conn)
		m.detach(conn)

		if ctx.Err() != nil {
			return
		}
		attempt++
		delay := m.opts.Backoff.Delay(attempt)
		log.Printf("[WS] Connection lost, reconnecting in %v", delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// attach installs conn as the live socket and replays room joins.
func (m *Manager) attach(ctx context.Context, conn *websocket.Conn) bool {
	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		return false
	}
	send := make(chan []byte, sendBuffer)
	m.conn = conn
	m.send = send
	for _, room := range m.rooms {
		data, err := json.Marshal(models.WSMessage{Type: models.WSTypeJoinRoom, Payload: m.joinPayload(room)})
		if err == nil {
			send <- data
		}
	}
	rooms := len(m.rooms)
	status := append([]func(bool){}, m.onStatus...)
	m.mu.Unlock()

	log.Printf("[WS] ✅ Connected, re-announced %d room(s)", rooms)
	go m.writePump(conn, send)
	for _, fn := range status {
		fn(true)
	}
	return true
}

func (m *Manager) detach(conn *websocket.Conn) {
	m.mu.Lock()
	if m.conn == conn {
		close(m.send)
		m.send = nil
		m.conn = nil
	}
	status := append([]func(bool){}, m.onStatus...)
	m.mu.Unlock()

	conn.Close()
	for _, fn := range status {
		fn(false)
	}
}

func (m *Manager) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))

	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if err != nil {
			log.Printf("[WS] ❌ Failed to send PONG: %v", err)
		}
		return err
	})
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[WS] ❌ Unexpected close: %v", err)
			} else {
				log.Printf("[WS] Connection closed: %v", err)
			}
			return
		}
		m.dispatch(data)
	}
}

type inbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (m *Manager) dispatch(data []byte) {
	var frame inbound
	if err := json.Unmarshal(data, &frame); err != nil {
		log.Printf("[WS] Failed to unmarshal frame: %v", err)
		return
	}

	switch frame.Type {
	case models.WSTypeChatMessage:
		var msg models.Message
		if err := json.Unmarshal(frame.Payload, &msg); err != nil {
			log.Printf("[WS] Bad '%s' payload: %v", frame.Type, err)
			return
		}
		m.mu.Lock()
		handlers := append([]func(models.Message){}, m.onMessage...)
		m.mu.Unlock()
		for _, fn := range handlers {
			fn(msg)
		}

	case models.WSTypeOnlineUsersUpdate:
		var entries []models.PresenceEntry
		if err := json.Unmarshal(frame.Payload, &entries); err != nil {
			log.Printf("[WS] Bad '%s' payload: %v", frame.Type, err)
			return
		}
		m.mu.Lock()
		handlers := append([]func([]models.PresenceEntry){}, m.onPresence...)
		m.mu.Unlock()
		for _, fn := range handlers {
			fn(entries)
		}

	case models.WSTypeNewNotification:
		var n models.Notification
		if err := json.Unmarshal(frame.Payload, &n); err != nil {
			log.Printf("[WS] Bad '%s' payload: %v", frame.Type, err)
			return
		}
		m.mu.Lock()
		handlers := append([]func(models.Notification){}, m.onNotify...)
		m.mu.Unlock()
		for _, fn := range handlers {
			fn(n)
		}

	default:
		log.Printf("[WS] Ignoring frame type '%s'", frame.Type)
	}
}

func (m *Manager) writePump(conn *websocket.Conn, send <-chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case data, ok := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Printf("[WS] ❌ Write error: %v", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Printf("[WS] ❌ Ping failed: %v", err)
				return
			}
		}
	}
}
