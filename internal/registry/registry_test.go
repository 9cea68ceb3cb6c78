package registry

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	id          string
	cleanups    *int32
	unregisterF func()
}

func (f *fakeSession) ID() string { return f.id }
func (f *fakeSession) Cleanup() {
	atomic.AddInt32(f.cleanups, 1)
	if f.unregisterF != nil {
		f.unregisterF()
	}
}

func TestRegisterAndGet(t *testing.T) {
	r := New()
	var n int32
	s := &fakeSession{id: "a", cleanups: &n}
	require.NoError(t, r.Register("a", s))

	got, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, s, got)
}

func TestRegisterDuplicateIDFails(t *testing.T) {
	r := New()
	var n int32
	require.NoError(t, r.Register("a", &fakeSession{id: "a", cleanups: &n}))
	err := r.Register("a", &fakeSession{id: "a", cleanups: &n})
	assert.Error(t, err)
}

func TestUnregisterRemovesSession(t *testing.T) {
	r := New()
	var n int32
	require.NoError(t, r.Register("a", &fakeSession{id: "a", cleanups: &n}))
	r.Unregister("a")

	_, ok := r.Get("a")
	assert.False(t, ok)
}

func TestShutdownAllCleansUpEverySession(t *testing.T) {
	r := New()
	var n int32
	for _, id := range []string{"a", "b", "c"} {
		id := id
		s := &fakeSession{id: id, cleanups: &n}
		s.unregisterF = func() { r.Unregister(id) }
		require.NoError(t, r.Register(id, s))
	}

	r.ShutdownAll()
	assert.Equal(t, int32(3), atomic.LoadInt32(&n))
	assert.Equal(t, 0, r.Len())
}

func TestShutdownAllSurvivesPanickingCleanup(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("panicky", panicSession{}))
	var n int32
	require.NoError(t, r.Register("ok", &fakeSession{id: "ok", cleanups: &n}))

	r.ShutdownAll()
	assert.Equal(t, int32(1), atomic.LoadInt32(&n))
}

type panicSession struct{}

func (panicSession) ID() string { return "panicky" }
func (panicSession) Cleanup()   { panic("boom") }

func TestConcurrentRegisterUnregister(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var n int32
			id := "s"
			_ = r.Register(id, &fakeSession{id: id, cleanups: &n})
			r.Unregister(id)
		}(i)
	}
	wg.Wait()
}
