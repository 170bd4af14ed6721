package memory

import (
	"testing"
	"time"

	"github.com/CefBoud/monpubsub/coord"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, ch <-chan coord.Event) coord.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("watch did not fire")
		return coord.Event{}
	}
}

func TestCreateMakesParents(t *testing.T) {
	c := New().Session()
	p, err := c.Create("/a/b/c", []byte("v"), coord.Persistent)
	require.NoError(t, err)
	assert.Equal(t, "/a/b/c", p)

	ok, _, err := c.Exists("/a/b")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = c.Create("/a/b/c", nil, coord.Persistent)
	assert.ErrorIs(t, err, coord.ErrNodeExists)
}

func TestSequentialNamesStrictlyIncrease(t *testing.T) {
	s := New()
	a, b := s.Session(), s.Session()
	var names []string
	for i := 0; i < 3; i++ {
		p, err := a.Create("/BROKER/r1_", nil, coord.EphemeralSequential)
		require.NoError(t, err)
		names = append(names, p)
		p, err = b.Create("/BROKER/r2_", nil, coord.EphemeralSequential)
		require.NoError(t, err)
		names = append(names, p)
	}
	assert.Equal(t, "/BROKER/r1_0000000000", names[0])
	assert.Equal(t, "/BROKER/r2_0000000005", names[5])

	// deleted sequence numbers are not handed out again
	require.NoError(t, a.Close())
	p, err := b.Create("/BROKER/r3_", nil, coord.EphemeralSequential)
	require.NoError(t, err)
	assert.Equal(t, "/BROKER/r3_0000000006", p)
}

func TestCreateIDOrder(t *testing.T) {
	c := New().Session()
	_, err := c.Create("/t/10.0.0.2", nil, coord.Ephemeral)
	require.NoError(t, err)
	_, err = c.Create("/t/10.0.0.1", nil, coord.Ephemeral)
	require.NoError(t, err)

	_, s2, err := c.Get("/t/10.0.0.2")
	require.NoError(t, err)
	_, s1, err := c.Get("/t/10.0.0.1")
	require.NoError(t, err)
	assert.Less(t, s2.CreateID, s1.CreateID)
	assert.True(t, s1.Ephemeral)
}

func TestCloseRemovesEphemerals(t *testing.T) {
	s := New()
	owner, other := s.Session(), s.Session()
	_, err := owner.Create("/t/ip", []byte("5556:3"), coord.Ephemeral)
	require.NoError(t, err)
	_, err = owner.Create("/keep", nil, coord.Persistent)
	require.NoError(t, err)

	_, ch, err := other.ChildrenW("/t")
	require.NoError(t, err)
	require.NoError(t, owner.Close())

	ev := recv(t, ch)
	assert.Equal(t, coord.EventChildrenChanged, ev.Type)
	children, err := other.Children("/t")
	require.NoError(t, err)
	assert.Empty(t, children)
	ok, _, err := other.Exists("/keep")
	require.NoError(t, err)
	assert.True(t, ok)

	_, _, err = owner.Get("/keep")
	assert.ErrorIs(t, err, coord.ErrClosed)
}

func TestWatchesAreOneShot(t *testing.T) {
	c := New().Session()
	require.NoError(t, coord.SetValue(c, "/BROKER", "a"))

	_, _, ch, err := c.ExistsW("/BROKER")
	require.NoError(t, err)
	_, err = c.Set("/BROKER", []byte("b"), coord.AnyVersion)
	require.NoError(t, err)
	assert.Equal(t, coord.EventDataChanged, recv(t, ch).Type)

	// second write is not delivered on the same channel
	_, err = c.Set("/BROKER", []byte("c"), coord.AnyVersion)
	require.NoError(t, err)
	_, open := <-ch
	assert.False(t, open)
}

func TestExistsWatchOnMissingNode(t *testing.T) {
	c := New().Session()
	ok, _, ch, err := c.ExistsW("/BALANCER")
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = c.Create("/BALANCER", []byte("r1_0000000000"), coord.Persistent)
	require.NoError(t, err)
	assert.Equal(t, coord.EventCreated, recv(t, ch).Type)
}

func TestVersionedSet(t *testing.T) {
	c := New().Session()
	_, err := c.Create("/BALANCER", []byte("a"), coord.Persistent)
	require.NoError(t, err)
	_, st, err := c.Get("/BALANCER")
	require.NoError(t, err)

	_, err = c.Set("/BALANCER", []byte("a-b"), st.Version)
	require.NoError(t, err)
	_, err = c.Set("/BALANCER", []byte("a-c"), st.Version)
	assert.ErrorIs(t, err, coord.ErrBadVersion)

	v, err := coord.GetValue(c, "/BALANCER")
	require.NoError(t, err)
	assert.Equal(t, "a-b", v)
}

func TestDeleteRules(t *testing.T) {
	c := New().Session()
	_, err := c.Create("/t/a", nil, coord.Persistent)
	require.NoError(t, err)
	assert.ErrorIs(t, c.Delete("/t", coord.AnyVersion), coord.ErrNotEmpty)
	assert.ErrorIs(t, c.Delete("/missing", coord.AnyVersion), coord.ErrNoNode)
	require.NoError(t, c.Delete("/t/a", coord.AnyVersion))
	require.NoError(t, c.Delete("/t", coord.AnyVersion))
}

func TestEphemeralCannotHaveChildren(t *testing.T) {
	c := New().Session()
	_, err := c.Create("/e", nil, coord.Ephemeral)
	require.NoError(t, err)
	_, err = c.Create("/e/child", nil, coord.Persistent)
	assert.Error(t, err)
}
