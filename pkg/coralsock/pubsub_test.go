package coralsock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func waitForSubscriberCount(t *testing.T, p *PubSocket, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p.SubscriberCount() == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d subscribers, have %d", n, p.SubscriberCount())
}

func TestPubSubFiltersByPrefix(t *testing.T) {
	pub, err := NewPubSocket("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pub.Close()

	sub, err := DialSub("tcp", pub.Addr().String(), time.Second)
	require.NoError(t, err)
	defer sub.Close()
	sub.Subscribe([]byte("wanted"))

	waitForSubscriberCount(t, pub, 1)

	pub.Publish([][]byte{[]byte("ignored"), []byte("1")})
	pub.Publish([][]byte{[]byte("wanted-variable"), []byte("2")})

	require.NoError(t, sub.SetReadDeadline(time.Now().Add(2*time.Second)))
	got, err := sub.Receive()
	require.NoError(t, err)
	require.Equal(t, []byte("wanted-variable"), got[0])
	require.Equal(t, []byte("2"), got[1])
}

func TestPubSubUnsubscribe(t *testing.T) {
	pub, err := NewPubSocket("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pub.Close()

	sub, err := DialSub("tcp", pub.Addr().String(), time.Second)
	require.NoError(t, err)
	defer sub.Close()

	prefix := []byte("topic")
	sub.Subscribe(prefix)
	sub.Unsubscribe(prefix)

	waitForSubscriberCount(t, pub, 1)
	pub.Publish([][]byte{[]byte("topic-x"), []byte("v")})

	require.NoError(t, sub.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, err = sub.Receive()
	require.Error(t, err)
}
