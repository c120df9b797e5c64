package session

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryRepo is an in-memory Repository for tests.
type memoryRepo struct {
	sessions map[string]*Session
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{sessions: make(map[string]*Session)}
}

func (m *memoryRepo) Get(_ context.Context, id string) (*Session, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	cp.History = append([]Message(nil), s.History...)
	return &cp, nil
}

func (m *memoryRepo) Put(_ context.Context, session *Session) error {
	cp := *session
	cp.History = append([]Message(nil), session.History...)
	m.sessions[session.ID] = &cp
	return nil
}

func (m *memoryRepo) Delete(_ context.Context, id string) error {
	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

func (m *memoryRepo) ListByOwner(_ context.Context, owner string) ([]*Session, error) {
	var out []*Session
	for _, s := range m.sessions {
		if s.Owner == owner {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func newTestManager(t *testing.T) (*Manager, *memoryRepo) {
	t.Helper()
	repo := newMemoryRepo()
	mgr, err := NewManager(repo, Config{}, nil)
	require.NoError(t, err)
	return mgr, repo
}

func TestManagerCreateAndGet(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	created, err := mgr.Create(ctx, "alice")
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "alice", created.Owner)
	assert.Empty(t, created.History)

	got, err := mgr.Get(ctx, created.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
}

func TestManagerGetNotFound(t *testing.T) {
	mgr, _ := newTestManager(t)

	_, err := mgr.Get(context.Background(), "missing", "alice")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManagerOwnershipEnforced(t *testing.T) {
	mgr, repo := newTestManager(t)
	ctx := context.Background()

	created, err := mgr.Create(ctx, "alice")
	require.NoError(t, err)

	_, err = mgr.Get(ctx, created.ID, "bob")
	assert.ErrorIs(t, err, ErrPermissionDenied)

	_, err = mgr.Append(ctx, created.ID, "bob", Message{Role: RoleUser, Content: "hi"})
	assert.ErrorIs(t, err, ErrPermissionDenied)

	err = mgr.Clear(ctx, created.ID, "bob")
	assert.ErrorIs(t, err, ErrPermissionDenied)

	err = mgr.Delete(ctx, created.ID, "bob")
	assert.ErrorIs(t, err, ErrPermissionDenied)

	// Session is untouched after the denied attempts.
	stored := repo.sessions[created.ID]
	require.NotNil(t, stored)
	assert.Empty(t, stored.History)
}

func TestManagerAppendTruncatesHistory(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	created, err := mgr.Create(ctx, "alice")
	require.NoError(t, err)

	// 6 user/assistant pairs = 12 turns, two over the limit.
	for i := 0; i < 6; i++ {
		_, err := mgr.Append(ctx, created.ID, "alice",
			Message{Role: RoleUser, Content: fmt.Sprintf("question %d", i)},
			Message{Role: RoleAssistant, Content: fmt.Sprintf("answer %d", i)},
		)
		require.NoError(t, err)
	}

	got, err := mgr.Get(ctx, created.ID, "alice")
	require.NoError(t, err)
	require.Len(t, got.History, DefaultHistoryLimit)

	// The oldest pair fell off; history starts at question 1.
	assert.Equal(t, "question 1", got.History[0].Content)
	assert.Equal(t, "answer 5", got.History[len(got.History)-1].Content)
}

func TestManagerAppendOversizedBatch(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	created, err := mgr.Create(ctx, "alice")
	require.NoError(t, err)

	turns := make([]Message, 15)
	for i := range turns {
		turns[i] = Message{Role: RoleUser, Content: fmt.Sprintf("turn %d", i)}
	}

	got, err := mgr.Append(ctx, created.ID, "alice", turns...)
	require.NoError(t, err)
	require.Len(t, got.History, DefaultHistoryLimit)
	assert.Equal(t, "turn 5", got.History[0].Content)
	assert.Equal(t, "turn 14", got.History[len(got.History)-1].Content)
}

func TestManagerClear(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	created, err := mgr.Create(ctx, "alice")
	require.NoError(t, err)

	_, err = mgr.Append(ctx, created.ID, "alice", Message{Role: RoleUser, Content: "hi"})
	require.NoError(t, err)

	require.NoError(t, mgr.Clear(ctx, created.ID, "alice"))

	got, err := mgr.Get(ctx, created.ID, "alice")
	require.NoError(t, err)
	assert.Empty(t, got.History)
}

func TestManagerDelete(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	created, err := mgr.Create(ctx, "alice")
	require.NoError(t, err)

	require.NoError(t, mgr.Delete(ctx, created.ID, "alice"))

	_, err = mgr.Get(ctx, created.ID, "alice")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManagerList(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := mgr.Create(ctx, "alice")
		require.NoError(t, err)
	}
	_, err := mgr.Create(ctx, "bob")
	require.NoError(t, err)

	sessions, err := mgr.List(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, sessions, 3)
	for _, s := range sessions {
		assert.Equal(t, "alice", s.Owner)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{HistoryLimit: -1}
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = Config{}
	cfg.ApplyDefaults()
	assert.Equal(t, DefaultHistoryLimit, cfg.HistoryLimit)
	require.NoError(t, cfg.Validate())
}
