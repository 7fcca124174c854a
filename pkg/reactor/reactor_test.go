package reactor

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReactorGoRunsSerialized(t *testing.T) {
	r := New()
	r.Start()
	defer r.Stop()

	var counter int64
	const n = 200
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		r.Go(func() {
			counter++ // safe: only ever touched on the reactor goroutine
			done <- struct{}{}
		})
	}
	for i := 0; i < n; i++ {
		<-done
	}
	require.Equal(t, int64(n), counter)
}

func TestReactorCallReturnsResult(t *testing.T) {
	r := New()
	r.Start()
	defer r.Stop()

	v, err := r.Call(func() (any, error) { return 42, nil })
	require.NoError(t, err)
	require.Equal(t, 42, v)
}

func TestReactorTimerFires(t *testing.T) {
	r := New()
	r.Start()
	defer r.Stop()

	fired := make(chan struct{})
	r.AddTimer(20*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestReactorCancelTimer(t *testing.T) {
	r := New()
	r.Start()
	defer r.Stop()

	var fired int32
	id := r.AddTimer(30*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	r.CancelTimer(id)

	time.Sleep(80 * time.Millisecond)
	require.Equal(t, int32(0), atomic.LoadInt32(&fired))
}
