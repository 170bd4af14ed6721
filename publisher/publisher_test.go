package publisher

import (
	"context"
	"testing"
	"time"

	"github.com/CefBoud/monpubsub/broadcast"
	"github.com/CefBoud/monpubsub/coord"
	"github.com/CefBoud/monpubsub/coord/memory"
	"github.com/CefBoud/monpubsub/registry"
	"github.com/CefBoud/monpubsub/test/cluster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions(host string, history uint32) Options {
	opts := DefaultOptions()
	opts.Host = host
	opts.HistoryLength = history
	opts.RequestTimeout = 2 * time.Second
	opts.Wait = coord.WaitOptions{InitialInterval: 10 * time.Millisecond, MaxInterval: 50 * time.Millisecond, Timeout: 2 * time.Second}
	return opts
}

func nextLine(t *testing.T, sub *broadcast.Subscription) string {
	t.Helper()
	select {
	case line, ok := <-sub.Lines():
		require.True(t, ok, "subscription closed")
		return line
	case <-time.After(2 * time.Second):
		t.Fatal("no line received")
		return ""
	}
}

func TestHistoryIsBounded(t *testing.T) {
	h := NewHistory(2)
	h.Add("t", "a")
	h.Add("t", "b")
	h.Add("t", "c")
	h.Add("u", "x")
	assert.Equal(t, []string{"b", "c"}, h.Values("t"))
	assert.Equal(t, []string{"x"}, h.Values("u"))
	assert.Empty(t, h.Values("v"))

	none := NewHistory(0)
	none.Add("t", "a")
	assert.Empty(t, none.Values("t"))
}

func TestDedupKeepsOrder(t *testing.T) {
	assert.Equal(t, []string{"b", "a", "c"}, dedup([]string{"b", "a", "b", "c", "a"}))
}

func TestDirectClaimsAndBroadcasts(t *testing.T) {
	store := memory.New()
	p, err := NewDirect(store.Session(), []string{"AAPL", "AAPL"}, testOptions("127.0.0.1", 5))
	require.NoError(t, err)
	defer p.Close()

	observer := store.Session()
	data, _, err := observer.Get("/AAPL/127.0.0.1")
	require.NoError(t, err)
	port, hist, err := registry.ParseAdvert(string(data))
	require.NoError(t, err)
	assert.Equal(t, uint32(5), hist)

	sub, err := broadcast.Dial(context.Background(), "127.0.0.1:"+port, "AAPL ")
	require.NoError(t, err)
	defer sub.Close()
	require.Eventually(t, func() bool {
		return p.out.Subscribers() == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, p.Publish("AAPL", "101.5"))
	assert.Equal(t, "AAPL 101.5", nextLine(t, sub))
	assert.Equal(t, []string{"101.5"}, p.History().Values("AAPL"))
}

func TestDirectOnlyOldestClaimPublishes(t *testing.T) {
	store := memory.New()
	first, err := NewDirect(store.Session(), []string{"T"}, testOptions("127.0.0.1", 1))
	require.NoError(t, err)
	second, err := NewDirect(store.Session(), []string{"T"}, testOptions("127.0.0.2", 1))
	require.NoError(t, err)
	defer second.Close()

	require.NoError(t, first.Publish("T", "v"))
	assert.ErrorIs(t, second.Publish("T", "v"), ErrNotOwner)

	// ownership moves once the older claim is gone
	require.NoError(t, first.Close())
	assert.NoError(t, second.Publish("T", "v"))
}

func TestDirectUnclaimedTopic(t *testing.T) {
	store := memory.New()
	p, err := NewDirect(store.Session(), []string{"T"}, testOptions("127.0.0.1", 1))
	require.NoError(t, err)
	defer p.Close()
	assert.ErrorIs(t, p.Publish("OTHER", "v"), ErrNotOwner)
}

func TestDirectRegistersWithBroker(t *testing.T) {
	c := cluster.New(t, 1)
	p, err := NewDirect(c.Client(), []string{"T"}, testOptions("127.0.0.1", 1))
	require.NoError(t, err)
	defer p.Close()
	require.NotNil(t, p.broker)
	assert.Equal(t, c.CurrentBroker(), p.broker.Addr())

	load, err := p.broker.GetLoad()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), load.RequestCount)
}

func TestViaBrokerPublishes(t *testing.T) {
	c := cluster.New(t, 1)
	node := c.Nodes[0]
	sub, err := broadcast.Dial(context.Background(), node.Out.Addr().String(), "T ")
	require.NoError(t, err)
	defer sub.Close()
	require.Eventually(t, func() bool { return node.Out.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	client := c.Client()
	p, err := NewViaBroker(context.Background(), client, []string{"T", "T"}, testOptions("10.1.0.1", 3))
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, node.Broker.Address(), p.Replica())

	data, _, err := client.Get("/T/10.1.0.1")
	require.NoError(t, err)
	assert.Equal(t, ":3", string(data))

	require.NoError(t, p.Publish("T", "hello"))
	assert.Equal(t, "T tcp://10.1.0.1:None 3 hello", nextLine(t, sub))
	assert.Equal(t, []string{"hello"}, p.History().Values("T"))
}

func TestViaBrokerNotOwner(t *testing.T) {
	c := cluster.New(t, 1)
	first, err := NewViaBroker(context.Background(), c.Client(), []string{"T"}, testOptions("10.1.0.1", 1))
	require.NoError(t, err)
	defer first.Close()
	second, err := NewViaBroker(context.Background(), c.Client(), []string{"T"}, testOptions("10.1.0.2", 1))
	require.NoError(t, err)
	defer second.Close()

	assert.NoError(t, first.Publish("T", "a"))
	assert.ErrorIs(t, second.Publish("T", "b"), ErrNotOwner)
	assert.Empty(t, second.History().Values("T"))
}

func TestViaBrokerWithoutBrokerTimesOut(t *testing.T) {
	store := memory.New()
	opts := testOptions("10.1.0.1", 1)
	opts.Wait.Timeout = 100 * time.Millisecond
	_, err := NewViaBroker(context.Background(), store.Session(), []string{"T"}, opts)
	assert.ErrorIs(t, err, coord.ErrNotYetAvailable)

	// the claim is released on failure
	exists, _, err := store.Session().Exists("/T/10.1.0.1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestViaBrokerFollowsLeaderChange(t *testing.T) {
	c := cluster.New(t, 2)
	p, err := NewViaBroker(context.Background(), c.Client(), []string{"T"}, testOptions("10.1.0.1", 1))
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, c.Nodes[0].Broker.Address(), p.Replica())

	c.Nodes[0].Stop()
	survivor := c.Nodes[1].Broker.Address()
	require.Eventually(t, func() bool { return c.CurrentBroker() == survivor }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, p.Publish("T", "after failover"))
	assert.Equal(t, survivor, p.Replica())
}
