package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coral-sim/coral/pkg/model"
)

func TestPublishAndBarrierResolvesCoupling(t *testing.T) {
	pub, err := NewPublisher("127.0.0.1:0")
	require.NoError(t, err)
	defer pub.Close()

	sub := NewSubscriber(time.Second)
	defer sub.Close()
	require.NoError(t, sub.Connect(1, pub.Addr()))
	sub.AddConnection(1, 7, 42)

	waitForSubscribers(t, pub, 1)

	pub.PublishValue(3, 1, 7, model.RealValue(9.5))

	result, err := sub.Update(3, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, model.RealValue(9.5), result[42])
}

func TestBarrierTimesOutWithoutSample(t *testing.T) {
	sub := NewSubscriber(time.Second)
	defer sub.Close()
	sub.AddConnection(1, 7, 42)

	_, err := sub.Update(1, 50*time.Millisecond)
	require.Error(t, err)
}

func TestBarrierBuffersFutureStep(t *testing.T) {
	pub, err := NewPublisher("127.0.0.1:0")
	require.NoError(t, err)
	defer pub.Close()

	sub := NewSubscriber(time.Second)
	defer sub.Close()
	require.NoError(t, sub.Connect(1, pub.Addr()))
	sub.AddConnection(1, 7, 42)
	waitForSubscribers(t, pub, 1)

	// Publish for the next step before the caller asks the barrier
	// about the current one.
	pub.PublishValue(5, 1, 7, model.RealValue(1.0))
	time.Sleep(50 * time.Millisecond)

	_, err = sub.Update(4, 50*time.Millisecond)
	require.Error(t, err) // nothing for step 4 yet; step 5 sample buffered

	result, err := sub.Update(5, time.Second)
	require.NoError(t, err)
	require.Equal(t, model.RealValue(1.0), result[42])
}

func waitForSubscribers(t *testing.T, pub *Publisher, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if pub.SubscriberCount() == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d subscribers", n)
}
