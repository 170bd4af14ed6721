package broker

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/CefBoud/monpubsub/compress"
	"github.com/CefBoud/monpubsub/coord"
	"github.com/CefBoud/monpubsub/coord/memory"
	"github.com/CefBoud/monpubsub/protocol"
	"github.com/CefBoud/monpubsub/registry"
	"github.com/CefBoud/monpubsub/serde"
	"github.com/CefBoud/monpubsub/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, conn net.Conn, msg protocol.Message, corrID uint32) types.Response {
	t.Helper()
	frame, err := protocol.EncodeRequest(msg, corrID, "test-client", compress.SNAPPY)
	require.NoError(t, err)
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	_, err = conn.Write(frame)
	require.NoError(t, err)
	buf, err := serde.ReadFrame(conn)
	require.NoError(t, err)
	resp, err := serde.ParseResponseHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, corrID, resp.CorrelationID)
	return resp
}

func TestRunServesRequests(t *testing.T) {
	store := memory.New()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	cfg := types.DefaultConfiguration()
	cfg.PollInterval = 20 * time.Millisecond
	b, err := NewBroker(cfg, store.Session(), &recorder{})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- b.Run(context.Background(), ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	resp := roundTrip(t, conn, protocol.RegistrationMessage{
		Role: types.Subscriber, Topics: []string{"t1"}, EndpointID: "tcp://127.0.0.1:None", HistoryLength: 1,
	}, 1)
	require.Equal(t, int16(0), resp.ErrorCode)
	a, err := protocol.DecodeAssignment(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, []string{b.Address()}, a.Addresses)

	resp = roundTrip(t, conn, protocol.ControlCommand{Command: protocol.LoadCommand}, 2)
	snap, err := protocol.DecodeLoad(resp.Body)
	require.NoError(t, err)
	assert.True(t, snap.Leader)
	assert.Equal(t, uint32(1), snap.PoolSize)

	// undecodable body answers with an error code and keeps the connection
	bad := serde.NewEncoder()
	bad.PutInt16(protocol.RegisterKey)
	bad.PutInt16(protocol.Version)
	bad.PutInt32(3)
	bad.PutString("test-client")
	bad.PutInt8(0)
	bad.PutBytes([]byte{1})
	_, err = conn.Write(bad.FinishAndReturn())
	require.NoError(t, err)
	buf, err := serde.ReadFrame(conn)
	require.NoError(t, err)
	r, err := serde.ParseResponseHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, protocol.ErrCorruptMessage, protocol.ErrorFromCode(r.ErrorCode))

	resp = roundTrip(t, conn, protocol.ControlCommand{Command: protocol.PubPortCommand}, 4)
	port, err := protocol.DecodeString(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "5556", port)

	b.Shutdown()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Shutdown")
	}
}

func TestRunFollowsPoolChanges(t *testing.T) {
	store := memory.New()
	cfg := types.DefaultConfiguration()
	cfg.PollInterval = 20 * time.Millisecond

	first := store.Session()
	lnA, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	cfg.BrokerHost = "10.9.0.1"
	a, err := NewBroker(cfg, first, &recorder{})
	require.NoError(t, err)

	lnB, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	cfg.BrokerHost = "10.9.0.2"
	b, err := NewBroker(cfg, store.Session(), &recorder{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx, lnA)
	observer := store.Session()
	require.Eventually(t, func() bool {
		kids, _ := coord.ChildrenOrEmpty(observer, registry.BrokerPath)
		return len(kids) == 1
	}, 2*time.Second, 10*time.Millisecond)
	go b.Run(ctx, lnB)

	conn, err := net.Dial("tcp", lnB.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	isLeader := func() bool {
		resp := roundTrip(t, conn, protocol.ControlCommand{Command: protocol.LoadCommand}, 1)
		snap, err := protocol.DecodeLoad(resp.Body)
		require.NoError(t, err)
		return snap.Leader
	}
	assert.False(t, isLeader())

	require.NoError(t, first.Close())
	assert.Eventually(t, isLeader, 5*time.Second, 20*time.Millisecond)
}
