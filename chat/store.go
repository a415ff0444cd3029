// Package chat keeps the client's view of group chat: the known channels,
// which one is active, per-channel unread counters, the active channel's
// message list and the online users.
//
// Messages sent by the user show up immediately under a temporary id and are
// reconciled with the server's answer; pushes from the socket are merged by
// id so each message appears once.
package chat

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"lms-realtime/models"
	"lms-realtime/store"
)

var (
	ErrEmptyMessage = errors.New("message cannot be empty")
	ErrNoSession    = errors.New("not logged in")
	ErrNoChannels   = errors.New("no channels known")
)

// API is the subset of the REST client the chat store needs.
type API interface {
	ListRooms(ctx context.Context) ([]models.Channel, error)
	RoomMessages(ctx context.Context, roomID string) ([]models.Message, error)
	PostMessage(ctx context.Context, roomID, body string) (*models.Message, error)
	MarkRoomRead(ctx context.Context, roomID string) error
}

type Presence interface {
	AnnouncePresence(channelID string) error
}

type Identity interface {
	Current() *models.Session
}

// State is a copy of the store's contents at one point in time.
type State struct {
	Channels []models.Channel
	Active   string
	Messages []models.Message
	Online   []models.PresenceEntry
	Draft    string
}

func (s State) Channel(id string) (models.Channel, bool) {
	for _, ch := range s.Channels {
		if ch.ID == id {
			return ch, true
		}
	}
	return models.Channel{}, false
}

type Store struct {
	api      API
	presence Presence
	identity Identity
	kv       store.KV

	mu        sync.Mutex
	channels  []models.Channel
	active    string
	gen       uint64
	lists     map[string][]models.Message
	online    []models.PresenceEntry
	draft     string
	listeners map[int]func(State)
	nextID    int
}

// NewStore wires the chat state to its collaborators. kv may be nil; when set
// the active channel is remembered across restarts.
func NewStore(api API, presence Presence, identity Identity, kv store.KV) *Store {
	return &Store{
		api:       api,
		presence:  presence,
		identity:  identity,
		kv:        kv,
		lists:     make(map[string][]models.Message),
		listeners: make(map[int]func(State)),
	}
}

// LoadChannels fetches the channel list and activates preferred, the
// remembered channel, or the first one, in that order.
func (s *Store) LoadChannels(ctx context.Context, preferred string) (string, error) {
	rooms, err := s.api.ListRooms(ctx)
	if err != nil {
		log.Printf("[CHAT] Failed to load rooms, using defaults: %v", err)
		rooms = nil
	}
	if len(rooms) == 0 {
		rooms = models.DefaultChannels()
	}

	s.mu.Lock()
	s.channels = append([]models.Channel(nil), rooms...)
	s.mu.Unlock()
	s.notify()

	if preferred == "" && s.kv != nil {
		if remembered, err := s.kv.Get(store.KeyActiveRoom); err == nil {
			preferred = remembered
		}
	}
	return s.SwitchActiveChannel(ctx, preferred)
}

// SwitchActiveChannel makes id the active channel and returns the channel
// that was actually activated. Unknown ids fall back to the first known
// channel. The returned error only reports a failed history fetch; the
// switch itself has already happened.
func (s *Store) SwitchActiveChannel(ctx context.Context, id string) (string, error) {
	s.mu.Lock()
	if len(s.channels) == 0 {
		s.mu.Unlock()
		return "", ErrNoChannels
	}
	target := s.channels[0].ID
	for _, ch := range s.channels {
		if ch.ID == id {
			target = id
			break
		}
	}
	if id != "" && target != id {
		log.Printf("[CHAT] Unknown room %q, falling back to %q", id, target)
	}
	prev := s.active
	s.active = target
	s.gen++
	gen := s.gen
	s.mu.Unlock()
	s.notify()

	if prev != target {
		log.Printf("[CHAT] Active room %q -> %q", prev, target)
	}
	if s.kv != nil {
		if err := s.kv.Set(store.KeyActiveRoom, target); err != nil {
			log.Printf("[CHAT] Failed to remember active room: %v", err)
		}
	}
	if s.presence != nil {
		if err := s.presence.AnnouncePresence(target); err != nil {
			log.Printf("[CHAT] Failed to announce presence in %q: %v", target, err)
		}
	}

	fetchErr := s.loadHistory(ctx, target, gen)
	s.MarkRead(ctx, target)
	return target, fetchErr
}

func (s *Store) loadHistory(ctx context.Context, channelID string, gen uint64) error {
	fetched, err := s.api.RoomMessages(ctx, channelID)
	if err != nil {
		log.Printf("[CHAT] Failed to load messages for %q: %v", channelID, err)
		return err
	}

	s.mu.Lock()
	if s.active != channelID || s.gen != gen {
		s.mu.Unlock()
		log.Printf("[CHAT] Discarding stale history for %q", channelID)
		return nil
	}
	s.lists[channelID] = mergeHistory(fetched, s.lists[channelID])
	s.mu.Unlock()
	s.notify()
	return nil
}

// mergeHistory takes the fetched list as the base and keeps local entries it
// does not contain yet: pending optimistic messages and pushes that raced
// the fetch.
func mergeHistory(fetched, local []models.Message) []models.Message {
	seen := make(map[models.ID]bool, len(fetched))
	out := make([]models.Message, 0, len(fetched)+len(local))
	for _, m := range fetched {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		out = append(out, m)
	}
	for _, m := range local {
		if !seen[m.ID] {
			seen[m.ID] = true
			out = append(out, m)
		}
	}
	return out
}

// MarkRead clears the local unread counter and tells the server. A failed
// acknowledgement is logged only.
func (s *Store) MarkRead(ctx context.Context, channelID string) error {
	s.mu.Lock()
	changed := false
	for i := range s.channels {
		if s.channels[i].ID == channelID && s.channels[i].UnreadCount != 0 {
			s.channels[i].UnreadCount = 0
			changed = true
		}
	}
	s.mu.Unlock()
	if changed {
		s.notify()
	}

	if err := s.api.MarkRoomRead(ctx, channelID); err != nil {
		log.Printf("[CHAT] Failed to mark %q read: %v", channelID, err)
		return err
	}
	return nil
}

// SendMessage posts body to channelID. The message is listed under a
// temporary id before the request is made; on success it is replaced by the
// server's copy, on failure it is removed and body becomes the draft again.
func (s *Store) SendMessage(ctx context.Context, channelID, body string) error {
	text := strings.TrimSpace(body)
	if text == "" {
		return ErrEmptyMessage
	}
	sess := s.identity.Current()
	if !sess.Valid() {
		return ErrNoSession
	}

	temp := models.Message{
		ID:         models.ID(models.TempIDPrefix + uuid.New().String()),
		RoomID:     channelID,
		UserID:     sess.User.ID,
		UserName:   sess.User.Name,
		UserAvatar: sess.User.Avatar,
		Body:       text,
		CreatedAt:  time.Now(),
	}

	s.mu.Lock()
	s.lists[channelID] = append(s.lists[channelID], temp)
	s.draft = ""
	s.mu.Unlock()
	s.notify()

	confirmed, err := s.api.PostMessage(ctx, channelID, text)

	s.mu.Lock()
	list := s.lists[channelID]
	idx := indexOf(list, temp.ID)
	if err != nil {
		if idx >= 0 {
			list = append(list[:idx:idx], list[idx+1:]...)
		}
		s.lists[channelID] = list
		s.draft = body
		s.mu.Unlock()
		s.notify()
		log.Printf("[CHAT] Send to %q failed, rolled back: %v", channelID, err)
		return err
	}

	if confirmed.RoomID == "" {
		confirmed.RoomID = channelID
	}
	switch {
	case indexOf(list, confirmed.ID) >= 0:
		// already listed (history fetch won the race): just drop the placeholder
		if idx >= 0 {
			list = append(list[:idx:idx], list[idx+1:]...)
		}
	case idx >= 0:
		list[idx] = *confirmed
	default:
		list = append(list, *confirmed)
	}
	s.lists[channelID] = list
	s.mu.Unlock()
	s.notify()
	return nil
}

func indexOf(list []models.Message, id models.ID) int {
	for i, m := range list {
		if m.ID == id {
			return i
		}
	}
	return -1
}

// HandlePush applies a chat-message event. Only the active channel's list
// grows; other channels just count unread messages. The user's own messages
// come back through SendMessage, so their echoes are skipped.
func (s *Store) HandlePush(msg models.Message) {
	var self models.ID
	if sess := s.identity.Current(); sess != nil {
		self = sess.User.ID
	}

	s.mu.Lock()
	if self != "" && msg.UserID == self {
		s.mu.Unlock()
		return
	}

	changed := false
	if msg.RoomID == s.active {
		list := s.lists[msg.RoomID]
		if indexOf(list, msg.ID) < 0 {
			s.lists[msg.RoomID] = append(list, msg)
			changed = true
		}
	} else {
		for i := range s.channels {
			if s.channels[i].ID == msg.RoomID {
				s.channels[i].UnreadCount++
				changed = true
				break
			}
		}
	}
	s.mu.Unlock()

	if changed {
		s.notify()
	}
}

// HandlePresence replaces the online list with the server's broadcast.
func (s *Store) HandlePresence(entries []models.PresenceEntry) {
	online := models.DedupePresence(entries)
	if len(online) == 0 {
		online = s.fallbackPresence()
	}
	s.mu.Lock()
	s.online = online
	s.mu.Unlock()
	s.notify()
}

func (s *Store) fallbackPresence() []models.PresenceEntry {
	sess := s.identity.Current()
	if sess == nil {
		return nil
	}
	return []models.PresenceEntry{{
		UserID:   sess.User.ID,
		UserName: sess.User.Name,
		Status:   models.StatusOnline,
		Avatar:   sess.User.Avatar,
	}}
}

func (s *Store) SetDraft(text string) {
	s.mu.Lock()
	s.draft = text
	s.mu.Unlock()
	s.notify()
}

func (s *Store) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

func (s *Store) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Reset drops everything, as after logout.
func (s *Store) Reset() {
	s.mu.Lock()
	s.channels = nil
	s.active = ""
	s.gen++
	s.lists = make(map[string][]models.Message)
	s.online = nil
	s.draft = ""
	s.mu.Unlock()
	s.notify()
}

func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() State {
	return State{
		Channels: append([]models.Channel(nil), s.channels...),
		Active:   s.active,
		Messages: append([]models.Message(nil), s.lists[s.active]...),
		Online:   append([]models.PresenceEntry(nil), s.online...),
		Draft:    s.draft,
	}
}

// Subscribe calls fn with a fresh snapshot after every change.
func (s *Store) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Store) notify() {
	s.mu.Lock()
	if len(s.listeners) == 0 {
		s.mu.Unlock()
		return
	}
	state := s.snapshotLocked()
	fns := make([]func(State), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}
