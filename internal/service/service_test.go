package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mhjmaas/famly-sub002/internal/db"
	"github.com/mhjmaas/famly-sub002/internal/ids"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	// sqlite 内存库在多连接写入时会锁冲突，测试中串行化
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.Migrate(gdb))
	return gdb
}

func TestMessageService_CreateOrGet_Idempotent(t *testing.T) {
	gdb := newTestDB(t)
	ctx := context.Background()
	chats := NewChatService(gdb)
	msgs := NewMessageService(gdb)

	alice := ids.New()
	chatID, err := chats.Create(ctx, "family", alice)
	require.NoError(t, err)

	in := NewMessage{ChatID: chatID, SenderID: alice, ClientID: "c-1", Body: "hello"}
	first, created, err := msgs.CreateOrGet(ctx, in)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := msgs.CreateOrGet(ctx, in)
	require.NoError(t, err)
	assert.False(t, created, "second call with the same clientId must be an idempotent hit")
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "hello", second.Body)

	list, err := msgs.ListByChat(ctx, chatID, 50, "")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestMessageService_CreateOrGet_KeyScopedToChat(t *testing.T) {
	gdb := newTestDB(t)
	ctx := context.Background()
	chats := NewChatService(gdb)
	msgs := NewMessageService(gdb)

	alice := ids.New()
	c1, err := chats.Create(ctx, "one", alice)
	require.NoError(t, err)
	c2, err := chats.Create(ctx, "two", alice)
	require.NoError(t, err)

	m1, created1, err := msgs.CreateOrGet(ctx, NewMessage{ChatID: c1, SenderID: alice, ClientID: "same", Body: "a"})
	require.NoError(t, err)
	m2, created2, err := msgs.CreateOrGet(ctx, NewMessage{ChatID: c2, SenderID: alice, ClientID: "same", Body: "b"})
	require.NoError(t, err)

	assert.True(t, created1)
	assert.True(t, created2)
	assert.NotEqual(t, m1.ID, m2.ID)
}

func TestMessageService_CreateOrGet_Concurrent(t *testing.T) {
	gdb := newTestDB(t)
	ctx := context.Background()
	chats := NewChatService(gdb)
	msgs := NewMessageService(gdb)

	alice := ids.New()
	chatID, err := chats.Create(ctx, "family", alice)
	require.NoError(t, err)

	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		seen    = make(map[string]struct{})
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, isNew, err := msgs.CreateOrGet(ctx, NewMessage{ChatID: chatID, SenderID: alice, ClientID: "retry", Body: "x"})
			if err != nil {
				t.Errorf("CreateOrGet() error = %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if isNew {
				created++
			}
			seen[m.ID.String()] = struct{}{}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Len(t, seen, 1)
}

func TestMessageService_ListByChat_Pagination(t *testing.T) {
	gdb := newTestDB(t)
	ctx := context.Background()
	chats := NewChatService(gdb)
	msgs := NewMessageService(gdb)

	alice := ids.New()
	chatID, err := chats.Create(ctx, "family", alice)
	require.NoError(t, err)

	var created []ids.ID
	for i := 0; i < 5; i++ {
		m, _, err := msgs.CreateOrGet(ctx, NewMessage{ChatID: chatID, SenderID: alice, ClientID: fmt.Sprintf("c-%d", i), Body: fmt.Sprintf("m%d", i)})
		require.NoError(t, err)
		created = append(created, ids.FromUUID(m.ID))
		time.Sleep(2 * time.Millisecond)
	}

	latest, err := msgs.ListByChat(ctx, chatID, 2, "")
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "m3", latest[0].Body)
	assert.Equal(t, "m4", latest[1].Body)

	older, err := msgs.ListByChat(ctx, chatID, 10, created[3])
	require.NoError(t, err)
	require.Len(t, older, 3)
	assert.Equal(t, "m0", older[0].Body)

	_, err = msgs.ListByChat(ctx, chatID, 10, ids.New())
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestChatService_Membership(t *testing.T) {
	gdb := newTestDB(t)
	ctx := context.Background()
	chats := NewChatService(gdb)

	alice, bob, carol, dave := ids.New(), ids.New(), ids.New(), ids.New()
	c1, err := chats.Create(ctx, "parents", alice, bob)
	require.NoError(t, err)
	_, err = chats.Create(ctx, "kids", alice, carol)
	require.NoError(t, err)
	_, err = chats.Create(ctx, "other", dave)
	require.NoError(t, err)

	ok, err := chats.IsMember(ctx, bob, c1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = chats.IsMember(ctx, carol, c1)
	require.NoError(t, err)
	assert.False(t, ok)

	members, err := chats.ListMemberIDs(ctx, c1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []ids.ID{alice, bob}, members)

	contacts, err := chats.ListContactIDs(ctx, alice)
	require.NoError(t, err)
	assert.ElementsMatch(t, []ids.ID{bob, carol}, contacts)

	require.NoError(t, chats.AddMember(ctx, c1, carol))
	require.NoError(t, chats.AddMember(ctx, c1, carol))
	members, err = chats.ListMemberIDs(ctx, c1)
	require.NoError(t, err)
	assert.Len(t, members, 3)
}

func TestChatService_UpdateReadCursor(t *testing.T) {
	gdb := newTestDB(t)
	ctx := context.Background()
	chats := NewChatService(gdb)
	msgs := NewMessageService(gdb)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	chats.now = func() time.Time { return fixed }

	alice, outsider := ids.New(), ids.New()
	chatID, err := chats.Create(ctx, "family", alice)
	require.NoError(t, err)
	otherChat, err := chats.Create(ctx, "elsewhere", outsider)
	require.NoError(t, err)
	m, _, err := msgs.CreateOrGet(ctx, NewMessage{ChatID: chatID, SenderID: alice, ClientID: "c", Body: "hi"})
	require.NoError(t, err)
	foreign, _, err := msgs.CreateOrGet(ctx, NewMessage{ChatID: otherChat, SenderID: outsider, ClientID: "c", Body: "hi"})
	require.NoError(t, err)

	readAt, err := chats.UpdateReadCursor(ctx, chatID, alice, ids.FromUUID(m.ID))
	require.NoError(t, err)
	assert.Equal(t, fixed, readAt)

	tests := []struct {
		name    string
		chat    ids.ID
		user    ids.ID
		message ids.ID
		want    error
	}{
		{"unknown chat", ids.New(), alice, ids.FromUUID(m.ID), ErrChatNotFound},
		{"not a member", chatID, outsider, ids.FromUUID(m.ID), ErrNotMember},
		{"unknown message", chatID, alice, ids.New(), ErrMessageNotFound},
		{"message from another chat", chatID, alice, ids.FromUUID(foreign.ID), ErrMessageNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := chats.UpdateReadCursor(ctx, tt.chat, tt.user, tt.message)
			if !errors.Is(err, tt.want) {
				t.Errorf("UpdateReadCursor() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSessionService_Lookup(t *testing.T) {
	gdb := newTestDB(t)
	ctx := context.Background()
	sessions := NewSessionService(gdb)

	alice := ids.New()
	token, err := sessions.Create(ctx, alice, time.Hour)
	require.NoError(t, err)
	assert.Len(t, token, 64)
	assert.NotContains(t, token, ".")

	got, err := sessions.LookupSession(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, alice, got)

	_, err = sessions.LookupSession(ctx, "unknown")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	expired, err := sessions.Create(ctx, alice, -time.Minute)
	require.NoError(t, err)
	_, err = sessions.LookupSession(ctx, expired)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, sessions.Revoke(ctx, token))
	_, err = sessions.LookupSession(ctx, token)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
