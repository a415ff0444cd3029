package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lms-realtime/models"
	"lms-realtime/store"
)

type fakeAPI struct {
	mu        sync.Mutex
	rooms     []models.Channel
	roomsErr  error
	history   map[string][]models.Message
	onHistory func(roomID string)
	post      func(roomID, body string) (*models.Message, error)
	posts     int
	reads     []string
}

func (f *fakeAPI) ListRooms(context.Context) ([]models.Channel, error) {
	return f.rooms, f.roomsErr
}

func (f *fakeAPI) RoomMessages(_ context.Context, roomID string) ([]models.Message, error) {
	if f.onHistory != nil {
		f.onHistory(roomID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Message(nil), f.history[roomID]...), nil
}

func (f *fakeAPI) PostMessage(_ context.Context, roomID, body string) (*models.Message, error) {
	f.mu.Lock()
	f.posts++
	f.mu.Unlock()
	return f.post(roomID, body)
}

func (f *fakeAPI) MarkRoomRead(_ context.Context, roomID string) error {
	f.mu.Lock()
	f.reads = append(f.reads, roomID)
	f.mu.Unlock()
	return nil
}

type fakePresence struct {
	mu    sync.Mutex
	joins []string
}

func (p *fakePresence) AnnouncePresence(id string) error {
	p.mu.Lock()
	p.joins = append(p.joins, id)
	p.mu.Unlock()
	return nil
}

type fixedIdentity struct{ sess *models.Session }

func (f fixedIdentity) Current() *models.Session { return f.sess }

var me = &models.Session{Token: "t", User: models.User{ID: "1", Name: "Ada", Role: models.RoleStudent}}

func setup(t *testing.T, api *fakeAPI) (*Store, *fakePresence) {
	if api.rooms == nil && api.roomsErr == nil {
		api.rooms = []models.Channel{{ID: "general", Name: "General"}, {ID: "help", Name: "Help"}}
	}
	if api.history == nil {
		api.history = map[string][]models.Message{}
	}
	p := &fakePresence{}
	s := NewStore(api, p, fixedIdentity{me}, nil)
	active, err := s.LoadChannels(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, api.rooms[0].ID, active)
	return s, p
}

func serverMessage(id, room string, user models.ID, body string) models.Message {
	return models.Message{ID: models.ID(id), RoomID: room, UserID: user, Body: body, CreatedAt: time.Now()}
}

func TestSendMessageOptimisticThenConfirmed(t *testing.T) {
	api := &fakeAPI{}
	s, _ := setup(t, api)

	var during State
	api.post = func(roomID, body string) (*models.Message, error) {
		during = s.Snapshot()
		m := serverMessage("m1", roomID, me.User.ID, body)
		return &m, nil
	}

	require.NoError(t, s.SendMessage(context.Background(), "general", "  hello  "))

	require.Len(t, during.Messages, 1, "optimistic entry must be listed before the request completes")
	assert.True(t, during.Messages[0].Optimistic())
	assert.Equal(t, "hello", during.Messages[0].Body)
	assert.Equal(t, me.User.ID, during.Messages[0].UserID)

	after := s.Snapshot()
	require.Len(t, after.Messages, 1)
	assert.Equal(t, models.ID("m1"), after.Messages[0].ID)
	assert.False(t, after.Messages[0].Optimistic())
}

func TestSendMessageFailureRollsBack(t *testing.T) {
	api := &fakeAPI{}
	s, _ := setup(t, api)

	var lengths []int
	s.Subscribe(func(st State) { lengths = append(lengths, len(st.Messages)) })

	var during State
	api.post = func(string, string) (*models.Message, error) {
		during = s.Snapshot()
		return nil, errors.New("boom")
	}

	err := s.SendMessage(context.Background(), "general", "hi")
	require.Error(t, err)

	assert.Len(t, during.Messages, 1)
	assert.Empty(t, during.Draft, "input is cleared while the send is in flight")
	assert.Empty(t, s.Snapshot().Messages)
	assert.Equal(t, "hi", s.Draft())
	assert.Equal(t, []int{1, 0}, lengths)
}

func TestSendMessageRejectsBlankBody(t *testing.T) {
	api := &fakeAPI{}
	s, _ := setup(t, api)
	api.post = func(string, string) (*models.Message, error) {
		t.Fatal("no request expected")
		return nil, nil
	}

	for _, body := range []string{"", "   ", "\n\t"} {
		assert.ErrorIs(t, s.SendMessage(context.Background(), "general", body), ErrEmptyMessage)
	}
	assert.Zero(t, api.posts)
	assert.Empty(t, s.Snapshot().Messages)
}

func TestSendMessageRequiresSession(t *testing.T) {
	s := NewStore(&fakeAPI{}, nil, fixedIdentity{nil}, nil)
	assert.ErrorIs(t, s.SendMessage(context.Background(), "general", "hi"), ErrNoSession)
}

func TestConfirmationAfterHistoryAlreadyListedIt(t *testing.T) {
	api := &fakeAPI{}
	s, _ := setup(t, api)

	api.post = func(roomID, body string) (*models.Message, error) {
		m := serverMessage("m1", roomID, me.User.ID, body)
		// the history refresh sees the persisted message before the POST returns
		api.mu.Lock()
		api.history["general"] = []models.Message{m}
		api.mu.Unlock()
		_, err := s.SwitchActiveChannel(context.Background(), "general")
		require.NoError(t, err)
		return &m, nil
	}

	require.NoError(t, s.SendMessage(context.Background(), "general", "hi"))
	msgs := s.Snapshot().Messages
	require.Len(t, msgs, 1)
	assert.Equal(t, models.ID("m1"), msgs[0].ID)
}

func TestSendSequenceKeepsIDsUnique(t *testing.T) {
	api := &fakeAPI{}
	s, _ := setup(t, api)

	n := 0
	api.post = func(roomID, body string) (*models.Message, error) {
		n++
		if n%3 == 0 {
			return nil, errors.New("flaky")
		}
		m := serverMessage(fmt.Sprintf("m%d", n), roomID, me.User.ID, body)
		return &m, nil
	}

	for i := 0; i < 10; i++ {
		_ = s.SendMessage(context.Background(), "general", fmt.Sprintf("msg %d", i))
	}

	seen := map[models.ID]bool{}
	for _, m := range s.Snapshot().Messages {
		assert.False(t, m.Optimistic(), "temporary id %s left behind", m.ID)
		assert.False(t, seen[m.ID], "duplicate id %s", m.ID)
		seen[m.ID] = true
	}
	assert.Len(t, seen, 7)
}

func TestPushForInactiveChannelCountsUnread(t *testing.T) {
	api := &fakeAPI{history: map[string][]models.Message{
		"general": {serverMessage("g1", "general", "7", "welcome")},
	}}
	s, _ := setup(t, api)
	before := s.Snapshot()

	s.HandlePush(serverMessage("h1", "help", "99", "anyone?"))

	after := s.Snapshot()
	help, ok := after.Channel("help")
	require.True(t, ok)
	assert.Equal(t, 1, help.UnreadCount)
	assert.Equal(t, before.Messages, after.Messages)

	s.HandlePush(serverMessage("h2", "help", "99", "hello?"))
	help, _ = s.Snapshot().Channel("help")
	assert.Equal(t, 2, help.UnreadCount)

	general, _ := s.Snapshot().Channel("general")
	assert.Zero(t, general.UnreadCount)
}

func TestPushForActiveChannel(t *testing.T) {
	tests := []struct {
		name    string
		pushes  []models.Message
		wantIDs []models.ID
	}{
		{
			name:    "other user appended",
			pushes:  []models.Message{serverMessage("p1", "general", "99", "hey")},
			wantIDs: []models.ID{"p1"},
		},
		{
			name:   "own echo ignored",
			pushes: []models.Message{serverMessage("p1", "general", me.User.ID, "hey")},
		},
		{
			name: "duplicate id ignored",
			pushes: []models.Message{
				serverMessage("p1", "general", "99", "hey"),
				serverMessage("p1", "general", "99", "hey"),
			},
			wantIDs: []models.ID{"p1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := setup(t, &fakeAPI{})
			for _, p := range tt.pushes {
				s.HandlePush(p)
			}
			var ids []models.ID
			for _, m := range s.Snapshot().Messages {
				ids = append(ids, m.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestOwnEchoDoesNotDuplicateOptimisticEntry(t *testing.T) {
	api := &fakeAPI{}
	s, _ := setup(t, api)
	api.post = func(roomID, body string) (*models.Message, error) {
		m := serverMessage("m1", roomID, me.User.ID, body)
		s.HandlePush(m) // echo arrives before the POST response
		return &m, nil
	}

	require.NoError(t, s.SendMessage(context.Background(), "general", "hi"))
	assert.Len(t, s.Snapshot().Messages, 1)
}

func TestSwitchActiveChannel(t *testing.T) {
	api := &fakeAPI{history: map[string][]models.Message{
		"help": {serverMessage("h1", "help", "99", "q")},
	}}
	s, p := setup(t, api)
	s.HandlePush(serverMessage("h2", "help", "99", "q2"))

	active, err := s.SwitchActiveChannel(context.Background(), "help")
	require.NoError(t, err)
	assert.Equal(t, "help", active)

	st := s.Snapshot()
	assert.Equal(t, "help", st.Active)
	require.Len(t, st.Messages, 1)
	assert.Equal(t, models.ID("h1"), st.Messages[0].ID)
	help, _ := st.Channel("help")
	assert.Zero(t, help.UnreadCount, "switching marks the channel read")
	assert.Contains(t, api.reads, "help")
	assert.Equal(t, []string{"general", "help"}, p.joins)

	// pushes for the previous channel no longer land in the list
	s.HandlePush(serverMessage("g9", "general", "99", "late"))
	assert.Len(t, s.Snapshot().Messages, 1)
	general, _ := s.Snapshot().Channel("general")
	assert.Equal(t, 1, general.UnreadCount)
}

func TestSwitchToUnknownChannelFallsBack(t *testing.T) {
	s, _ := setup(t, &fakeAPI{})
	_, err := s.SwitchActiveChannel(context.Background(), "help")
	require.NoError(t, err)

	active, err := s.SwitchActiveChannel(context.Background(), "bookmarked-but-gone")
	require.NoError(t, err)
	assert.Equal(t, "general", active)
	assert.Equal(t, "general", s.Active())
}

func TestSwitchWithoutChannels(t *testing.T) {
	s := NewStore(&fakeAPI{}, nil, fixedIdentity{me}, nil)
	_, err := s.SwitchActiveChannel(context.Background(), "general")
	assert.ErrorIs(t, err, ErrNoChannels)
}

func TestStaleHistoryIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	api := &fakeAPI{history: map[string][]models.Message{
		"general": {serverMessage("g1", "general", "7", "old")},
		"help":    {serverMessage("h1", "help", "7", "new")},
	}}
	s, _ := setup(t, api)

	var once sync.Once
	api.onHistory = func(roomID string) {
		if roomID == "general" {
			once.Do(func() { close(started) })
			<-release
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.SwitchActiveChannel(context.Background(), "general")
	}()
	<-started

	_, err := s.SwitchActiveChannel(context.Background(), "help")
	require.NoError(t, err)
	close(release)
	<-done

	st := s.Snapshot()
	assert.Equal(t, "help", st.Active)
	require.Len(t, st.Messages, 1)
	assert.Equal(t, models.ID("h1"), st.Messages[0].ID)
}

func TestLoadChannelsFallsBackToDefaults(t *testing.T) {
	tests := []struct {
		name string
		api  *fakeAPI
	}{
		{name: "fetch error", api: &fakeAPI{roomsErr: errors.New("offline")}},
		{name: "empty list", api: &fakeAPI{rooms: []models.Channel{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.api.history = map[string][]models.Message{}
			s := NewStore(tt.api, nil, fixedIdentity{me}, nil)
			active, err := s.LoadChannels(context.Background(), "")
			require.NoError(t, err)

			st := s.Snapshot()
			require.Len(t, st.Channels, 3)
			assert.Equal(t, models.DefaultChannels(), st.Channels)
			assert.Equal(t, "general", active)
		})
	}
}

func TestLoadChannelsPrefersRequestedThenRemembered(t *testing.T) {
	kv := store.NewMemory()
	api := &fakeAPI{
		rooms:   []models.Channel{{ID: "general"}, {ID: "help"}, {ID: "study"}},
		history: map[string][]models.Message{},
	}

	s := NewStore(api, nil, fixedIdentity{me}, kv)
	active, err := s.LoadChannels(context.Background(), "study")
	require.NoError(t, err)
	assert.Equal(t, "study", active)

	// a fresh store restores the remembered room
	s = NewStore(api, nil, fixedIdentity{me}, kv)
	active, err = s.LoadChannels(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "study", active)

	// an explicit request wins over the remembered one
	active, err = s.LoadChannels(context.Background(), "help")
	require.NoError(t, err)
	assert.Equal(t, "help", active)
}

func TestHandlePresence(t *testing.T) {
	s, _ := setup(t, &fakeAPI{})

	s.HandlePresence([]models.PresenceEntry{
		{UserID: "2", UserName: "Bob"},
		{UserID: "3", UserName: "Cy", Status: models.StatusAway},
		{UserID: "2", UserName: "Bob again"},
	})
	online := s.Snapshot().Online
	require.Len(t, online, 2)
	assert.Equal(t, "Bob", online[0].UserName)
	assert.Equal(t, models.StatusOnline, online[0].Status)
	assert.Equal(t, models.StatusAway, online[1].Status)

	// an empty broadcast falls back to just the current user
	s.HandlePresence(nil)
	online = s.Snapshot().Online
	require.Len(t, online, 1)
	assert.Equal(t, me.User.ID, online[0].UserID)
}

func TestResetDiscardsState(t *testing.T) {
	s, _ := setup(t, &fakeAPI{})
	s.HandlePush(serverMessage("p1", "general", "99", "x"))
	s.SetDraft("draft")

	s.Reset()
	st := s.Snapshot()
	assert.Empty(t, st.Channels)
	assert.Empty(t, st.Active)
	assert.Empty(t, st.Messages)
	assert.Empty(t, st.Draft)
}

func TestMergeHistory(t *testing.T) {
	fetched := []models.Message{serverMessage("1", "g", "9", "a"), serverMessage("2", "g", "9", "b")}
	local := []models.Message{
		serverMessage("2", "g", "9", "b"),
		{ID: models.ID(models.TempIDPrefix + "x"), RoomID: "g", Body: "pending"},
		serverMessage("3", "g", "9", "raced"),
	}
	var ids []string
	for _, m := range mergeHistory(fetched, local) {
		ids = append(ids, m.ID.String())
	}
	assert.Equal(t, "1,2,temp-x,3", strings.Join(ids, ","))
}
