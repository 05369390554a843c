package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tempRoot struct{ dir string }

func (r tempRoot) Root() string { return r.dir }

func TestManager_CreateAndGet(t *testing.T) {
	m := NewManager(nil)

	s := m.Create("1.0", "C1", "U1", "alice", RoleAdmin, SourceMention)
	assert.Equal(t, "1.0", s.ThreadTS)
	assert.Equal(t, RoleAdmin, s.Role)
	assert.Equal(t, 0, s.MessageCount)

	got, err := m.Get("1.0")
	require.NoError(t, err)
	assert.Equal(t, "C1", got.ChannelID)

	_, err = m.Get("missing")
	assert.Error(t, err)

	t.Run("create is idempotent per thread", func(t *testing.T) {
		again := m.Create("1.0", "C2", "U2", "bob", RoleViewer, SourceHybrid)
		assert.Equal(t, "C1", again.ChannelID, "existing session wins")
	})
}

func TestManager_SessionIDNeverClears(t *testing.T) {
	m := NewManager(nil)
	m.Create("1.0", "C1", "U1", "alice", RoleAdmin, SourceMention)

	m.UpdateSessionID("1.0", "sess-a")
	m.UpdateSessionID("1.0", "")
	s, err := m.Get("1.0")
	require.NoError(t, err)
	assert.Equal(t, "sess-a", s.SessionID)

	m.UpdateSessionID("1.0", "sess-b")
	s, err = m.Get("1.0")
	require.NoError(t, err)
	assert.Equal(t, "sess-b", s.SessionID, "post-compact id replaces prior")
}

func TestManager_RunningCount(t *testing.T) {
	m := NewManager(nil)
	assert.Equal(t, 0, m.RunningCount())

	m.MarkRunning("1.0")
	m.MarkRunning("2.0")
	m.MarkRunning("1.0")
	assert.Equal(t, 2, m.RunningCount())

	m.MarkStopped("1.0")
	assert.Equal(t, 1, m.RunningCount())
	m.MarkStopped("2.0")
	assert.Equal(t, 0, m.RunningCount())
}

func TestThreadLock_ReentrantForOwner(t *testing.T) {
	m := NewManager(nil)
	l := m.Lock("1.0")
	h := NewLockHandle()

	require.True(t, l.TryAcquire(h))
	require.True(t, l.TryAcquire(h), "same handle re-enters")

	other := NewLockHandle()
	assert.False(t, l.TryAcquire(other), "other handle is excluded")

	l.Release(h)
	assert.False(t, l.TryAcquire(other), "still held at depth 1")
	l.Release(h)
	assert.True(t, l.TryAcquire(other), "freed after full release")
	l.Release(other)
}

func TestThreadLock_AcquireBlocksUntilReleased(t *testing.T) {
	m := NewManager(nil)
	l := m.Lock("1.0")
	h1, h2 := NewLockHandle(), NewLockHandle()

	require.True(t, l.TryAcquire(h1))

	acquired := make(chan struct{})
	go func() {
		l.Acquire(h2)
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second handle acquired while lock held")
	case <-time.After(50 * time.Millisecond):
	}

	l.Release(h1)
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never woke up")
	}
	l.Release(h2)
}

func TestManager_LockIsPerThread(t *testing.T) {
	m := NewManager(nil)
	assert.Same(t, m.Lock("1.0"), m.Lock("1.0"))
	assert.NotSame(t, m.Lock("1.0"), m.Lock("2.0"))
}

func TestManager_FlushAndRestore(t *testing.T) {
	root := tempRoot{dir: t.TempDir()}

	m := NewManager(root)
	m.Create("1.0", "C1", "U1", "alice", RoleAdmin, SourceMention)
	m.UpdateSessionID("1.0", "sess-a")
	m.IncrementMessageCount("1.0")
	m.Flush()

	restored := NewManager(root)
	s, err := restored.Get("1.0")
	require.NoError(t, err)
	assert.Equal(t, "sess-a", s.SessionID)
	assert.Equal(t, 1, s.MessageCount)
}

func TestManager_ConcurrentCreates(t *testing.T) {
	m := NewManager(nil)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Create("1.0", "C1", "U1", "alice", RoleAdmin, SourceMention)
			m.IncrementMessageCount("1.0")
		}()
	}
	wg.Wait()
	s, err := m.Get("1.0")
	require.NoError(t, err)
	assert.Equal(t, 16, s.MessageCount)
}
