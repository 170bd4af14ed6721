package e2e

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/CefBoud/monpubsub/coord"
	"github.com/CefBoud/monpubsub/logging"
	"github.com/CefBoud/monpubsub/publisher"
	"github.com/CefBoud/monpubsub/subscriber"
	"github.com/CefBoud/monpubsub/test/cluster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var wait = coord.WaitOptions{InitialInterval: 10 * time.Millisecond, MaxInterval: 50 * time.Millisecond, Timeout: 2 * time.Second}

func TestMain(m *testing.M) {
	logging.SetLogLevel(logging.INFO)
	os.Exit(m.Run())
}

func pubOptions(host string, history uint32) publisher.Options {
	opts := publisher.DefaultOptions()
	opts.Host = host
	opts.HistoryLength = history
	opts.RequestTimeout = 2 * time.Second
	opts.Wait = wait
	return opts
}

func subOptions(history uint32) subscriber.Options {
	opts := subscriber.DefaultOptions()
	opts.Host = "127.0.0.1"
	opts.HistoryLength = history
	opts.PollInterval = 50 * time.Millisecond
	opts.RequestTimeout = 2 * time.Second
	opts.Wait = wait
	return opts
}

// collect receives n messages or fails
func collect(t *testing.T, s subscriber.Subscriber, n int) []subscriber.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	var got []subscriber.Message
	for len(got) < n {
		m, err := s.Receive(ctx)
		require.NoError(t, err)
		got = append(got, m)
	}
	return got
}

func TestDirectTopicsStayApart(t *testing.T) {
	c := cluster.New(t, 1)
	pub, err := publisher.NewDirect(c.Client(), []string{"AAPL", "AAPLX"}, pubOptions("127.0.0.1", 5))
	require.NoError(t, err)
	defer pub.Close()

	sub, err := subscriber.NewDirect(context.Background(), c.Client(), []string{"AAPL"}, subOptions(5))
	require.NoError(t, err)
	defer sub.Close()
	require.Eventually(t, func() bool { return pub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, pub.Publish("AAPLX", "ignored"))
	require.NoError(t, pub.Publish("AAPL", "1"))
	require.NoError(t, pub.Publish("AAPL", "2"))

	got := collect(t, sub, 2)
	assert.Equal(t, "1", got[0].Value)
	assert.Equal(t, "2", got[1].Value)
	assert.Equal(t, []string{"1", "2"}, pub.History().Values("AAPL"))
}

func TestBrokerFanOut(t *testing.T) {
	c := cluster.New(t, 2)
	var subs []*subscriber.ViaBroker
	for i := 0; i < 3; i++ {
		s, err := subscriber.NewViaBroker(context.Background(), c.Client(), []string{"news"}, subOptions(2))
		require.NoError(t, err)
		defer s.Close()
		subs = append(subs, s)
	}
	out := c.Nodes[0].Out
	require.Eventually(t, func() bool { return out.Subscribers() == 3 }, 2*time.Second, 10*time.Millisecond)

	pub, err := publisher.NewViaBroker(context.Background(), c.Client(), []string{"news", "weather"}, pubOptions("10.2.0.1", 2))
	require.NoError(t, err)
	defer pub.Close()
	require.NoError(t, pub.Publish("weather", "rain"))
	require.NoError(t, pub.Publish("news", "headline"))

	for _, s := range subs {
		m := collect(t, s, 1)[0]
		assert.Equal(t, subscriber.Message{Topic: "news", Publisher: "tcp://10.2.0.1:None", HistoryLength: 2, Value: "headline"}, m)
	}
}

func TestSecondPublisherTakesOverAfterOwnerLeaves(t *testing.T) {
	c := cluster.New(t, 1)
	first, err := publisher.NewViaBroker(context.Background(), c.Client(), []string{"T"}, pubOptions("10.3.0.1", 1))
	require.NoError(t, err)
	second, err := publisher.NewViaBroker(context.Background(), c.Client(), []string{"T"}, pubOptions("10.3.0.2", 1))
	require.NoError(t, err)
	defer second.Close()

	sub, err := subscriber.NewViaBroker(context.Background(), c.Client(), []string{"T"}, subOptions(1))
	require.NoError(t, err)
	defer sub.Close()
	out := c.Nodes[0].Out
	require.Eventually(t, func() bool { return out.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, second.Publish("T", "early"), publisher.ErrNotOwner)
	require.NoError(t, first.Publish("T", "one"))
	assert.Equal(t, "tcp://10.3.0.1:None", collect(t, sub, 1)[0].Publisher)

	require.NoError(t, first.Close())
	require.NoError(t, second.Publish("T", "two"))
	m := collect(t, sub, 1)[0]
	assert.Equal(t, "tcp://10.3.0.2:None", m.Publisher)
	assert.Equal(t, "two", m.Value)
}
