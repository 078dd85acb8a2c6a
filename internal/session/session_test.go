package session

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"chatdeck/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStorage struct {
	*MemoryStorage
	sets int
}

func (f *failingStorage) SetItem(key, value string) error {
	f.sets++
	return errors.New("quota exceeded")
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestCreate_EmptyNewChat(t *testing.T) {
	s := NewStore(NewMemoryStorage())

	sess := s.Create()
	assert.Empty(t, sess.Messages)
	assert.Equal(t, "New Chat", sess.Title)
	assert.Equal(t, sess.ID, s.CurrentID())

	second := s.Create()
	sessions := s.Sessions()
	require.Len(t, sessions, 2)
	assert.Equal(t, second.ID, sessions[0].ID, "newest first")
	assert.Equal(t, second.ID, s.CurrentID())
}

func TestCreate_SameMillisecondIDsAreUnique(t *testing.T) {
	s := NewStore(NewMemoryStorage())
	s.now = fixedClock(time.UnixMilli(1700000000000))

	a := s.Create()
	b := s.Create()
	c := s.Create()
	assert.Equal(t, "1700000000000", a.ID)
	assert.Equal(t, "1700000000001", b.ID)
	assert.Equal(t, "1700000000002", c.ID)
}

func TestUpdate_TitleFromFirstUserMessage(t *testing.T) {
	s := NewStore(NewMemoryStorage())
	sess := s.Create()

	long := "Hello world, this is a long question exceeding thirty chars"
	s.Update(sess.ID, []Message{NewBotMessage("welcome"), NewUserMessage(long), NewUserMessage("second")})

	got, ok := s.Get(sess.ID)
	require.True(t, ok)
	assert.Equal(t, long[:30]+"...", got.Title)
	assert.Len(t, got.Messages, 3)

	s.Update(sess.ID, []Message{NewUserMessage("short")})
	got, _ = s.Get(sess.ID)
	assert.Equal(t, "short", got.Title)

	s.Update(sess.ID, []Message{NewBotMessage("only bot")})
	got, _ = s.Get(sess.ID)
	assert.Equal(t, "New Chat", got.Title)
}

func TestTitle_CountsCharactersNotBytes(t *testing.T) {
	msg := strings.Repeat("你", 31)
	assert.Equal(t, strings.Repeat("你", 30)+"...", Title([]Message{{Content: msg, IsUser: true}}))
	assert.Equal(t, strings.Repeat("a", 30), Title([]Message{{Content: strings.Repeat("a", 30), IsUser: true}}))
}

func TestUpdate_UnknownIDIsNoop(t *testing.T) {
	s := NewStore(NewMemoryStorage())
	sess := s.Create()

	s.Update("nope", []Message{NewUserMessage("hi")})
	got, _ := s.Get(sess.ID)
	assert.Empty(t, got.Messages)
}

func TestDelete_OnlySessionLeavesFreshCurrent(t *testing.T) {
	s := NewStore(NewMemoryStorage())
	s.now = fixedClock(time.UnixMilli(1000))
	only := s.Create()
	s.Update(only.ID, []Message{NewUserMessage("hi")})

	s.Delete(only.ID)

	sessions := s.Sessions()
	require.Len(t, sessions, 1)
	assert.NotEqual(t, only.ID, sessions[0].ID)
	assert.Empty(t, sessions[0].Messages)
	assert.Equal(t, sessions[0].ID, s.CurrentID())
}

func TestDelete_CurrentSelectsFirstRemaining(t *testing.T) {
	s := NewStore(NewMemoryStorage())
	older := s.Create()
	newer := s.Create()

	s.Delete(newer.ID)
	assert.Equal(t, older.ID, s.CurrentID())

	third := s.Create()
	s.Delete(older.ID)
	assert.Equal(t, third.ID, s.CurrentID(), "deleting a non-current session keeps the selection")
}

func TestGet_ReturnsCopy(t *testing.T) {
	s := NewStore(NewMemoryStorage())
	sess := s.Create()
	s.Update(sess.ID, []Message{NewUserMessage("hi")})

	got, _ := s.Get(sess.ID)
	got.Messages[0].Content = "changed"

	again, _ := s.Get(sess.ID)
	assert.Equal(t, "hi", again.Messages[0].Content)

	_, ok := s.Get("missing")
	assert.False(t, ok)
}

func TestSetCurrent(t *testing.T) {
	s := NewStore(NewMemoryStorage())
	a := s.Create()
	s.Create()

	require.NoError(t, s.SetCurrent(a.ID))
	cur, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, a.ID, cur.ID)

	err := s.SetCurrent("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestLoad_RoundTripThroughStorage(t *testing.T) {
	storage := NewMemoryStorage()
	s := NewStore(storage)
	a := s.Create()
	s.Update(a.ID, []Message{NewUserMessage("first question"), NewBotMessage("answer")})
	b := s.Create()
	require.NoError(t, s.SetCurrent(a.ID))

	raw, ok, _ := storage.GetItem(SessionsKey)
	require.True(t, ok)
	assert.Contains(t, raw, `"isUser":true`)

	reloaded := NewStore(storage)
	require.NoError(t, reloaded.Load())

	sessions := reloaded.Sessions()
	require.Len(t, sessions, 2)
	assert.Equal(t, b.ID, sessions[0].ID)
	assert.Equal(t, a.ID, reloaded.CurrentID())
	assert.Equal(t, "first question", sessions[1].Title)
	assert.False(t, sessions[1].Messages[0].Timestamp.IsZero())
}

func TestLoad_ParseErrorLeavesStoreEmpty(t *testing.T) {
	storage := NewMemoryStorage()
	require.NoError(t, storage.SetItem(SessionsKey, "{not json"))
	require.NoError(t, storage.SetItem(CurrentIDKey, "123"))

	s := NewStore(storage)
	assert.Error(t, s.Load())
	assert.Empty(t, s.Sessions())
	assert.Empty(t, s.CurrentID())
}

func TestLoad_DanglingCurrentIDIgnored(t *testing.T) {
	storage := NewMemoryStorage()
	require.NoError(t, storage.SetItem(SessionsKey, "[]"))
	require.NoError(t, storage.SetItem(CurrentIDKey, "gone"))

	s := NewStore(storage)
	require.NoError(t, s.Load())
	assert.Empty(t, s.CurrentID())
}

func TestPersistFailureDoesNotBreakMutations(t *testing.T) {
	storage := &failingStorage{MemoryStorage: NewMemoryStorage()}
	s := NewStore(storage)

	sess := s.Create()
	s.Update(sess.ID, []Message{NewUserMessage("still works")})

	got, ok := s.Get(sess.ID)
	require.True(t, ok)
	assert.Equal(t, "still works", got.Title)
	assert.Positive(t, storage.sets)
}

func TestFileStorage_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")

	fs, err := NewFileStorage(path)
	require.NoError(t, err)
	require.NoError(t, fs.SetItem("k", "v"))

	reopened, err := NewFileStorage(path)
	require.NoError(t, err)
	v, ok, err := reopened.GetItem("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	_, ok, _ = reopened.GetItem("missing")
	assert.False(t, ok)
}

func TestSQLiteStorage_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.db")

	db, err := NewSQLiteStorage(path)
	require.NoError(t, err)
	require.NoError(t, db.SetItem("k", "v1"))
	require.NoError(t, db.SetItem("k", "v2"))
	require.NoError(t, db.Close())

	reopened, err := NewSQLiteStorage(path)
	require.NoError(t, err)
	defer reopened.Close()

	v, ok, err := reopened.GetItem("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v2", v)

	_, ok, err = reopened.GetItem("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreOverSQLite(t *testing.T) {
	db, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()

	s := NewStore(db)
	sess := s.Create()
	s.Update(sess.ID, []Message{NewUserMessage("persisted in sqlite")})

	reloaded := NewStore(db)
	require.NoError(t, reloaded.Load())
	got, ok := reloaded.Current()
	require.True(t, ok)
	assert.Equal(t, "persisted in sqlite", got.Title)
}

func TestNewStorage(t *testing.T) {
	_, err := NewStorage(configFor("bogus", ""))
	assert.Error(t, err)

	st, err := NewStorage(configFor("memory", ""))
	require.NoError(t, err)
	assert.IsType(t, &MemoryStorage{}, st)
}

func configFor(typ, path string) config.ClientStorageConfig {
	return config.ClientStorageConfig{Type: typ, Path: path}
}
