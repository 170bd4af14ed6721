package registry

import (
	"testing"

	"github.com/CefBoud/monpubsub/coord"
	"github.com/CefBoud/monpubsub/coord/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePoolEntry(t *testing.T) {
	e, err := ParsePoolEntry("10.0.0.1_0000000007")
	require.NoError(t, err)
	assert.Equal(t, PoolEntry{Name: "10.0.0.1_0000000007", Replica: "10.0.0.1", Sequence: 7}, e)

	e, err = ParsePoolEntry("my_replica_0000000012")
	require.NoError(t, err)
	assert.Equal(t, "my_replica", e.Replica)
	assert.Equal(t, uint64(12), e.Sequence)

	for _, bad := range []string{"", "noseq", "_0001", "r1_", "r1_abc"} {
		_, err := ParsePoolEntry(bad)
		assert.Error(t, err, bad)
	}
}

func TestLeaderIsLowestSequence(t *testing.T) {
	_, ok := Leader(nil)
	assert.False(t, ok)

	l, ok := Leader([]PoolEntry{{Name: "b_9", Sequence: 9}, {Name: "a_3", Sequence: 3}, {Name: "c_5", Sequence: 5}})
	require.True(t, ok)
	assert.Equal(t, "a_3", l.Name)
}

func TestPoolJoinAndEntries(t *testing.T) {
	store := memory.New()
	s1, s2 := store.Session(), store.Session()
	p1, err := NewPool(s1, 4)
	require.NoError(t, err)
	p2, err := NewPool(s2, 4)
	require.NoError(t, err)

	e1, err := p1.Join("10.0.0.1", "10.0.0.1:5555")
	require.NoError(t, err)
	e2, err := p2.Join("10.0.0.2", "10.0.0.2:5555")
	require.NoError(t, err)
	assert.Less(t, e1.Sequence, e2.Sequence)

	entries, err := p2.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, e1, entries[0])

	addr, err := p2.Address(e1.Name)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:5555", addr)

	require.NoError(t, s1.Close())
	entries, err = p2.Entries()
	require.NoError(t, err)
	assert.Equal(t, []PoolEntry{e2}, entries)
	// the cached address went with the entry
	_, err = p2.Address(e1.Name)
	assert.ErrorIs(t, err, coord.ErrNoNode)

	_, err = p2.Join("bad-name", "x")
	assert.Error(t, err)
}

func TestPoolWatchFiresOnJoin(t *testing.T) {
	store := memory.New()
	p, err := NewPool(store.Session(), 0)
	require.NoError(t, err)

	entries, ch, err := p.Watch()
	require.NoError(t, err)
	assert.Empty(t, entries)

	other, err := NewPool(store.Session(), 0)
	require.NoError(t, err)
	_, err = other.Join("r1", "127.0.0.1:1")
	require.NoError(t, err)
	<-ch

	entries, _, err = p.Watch()
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestCurrentBroker(t *testing.T) {
	store := memory.New()
	p, err := NewPool(store.Session(), 0)
	require.NoError(t, err)

	v, err := p.CurrentBroker()
	require.NoError(t, err)
	assert.Empty(t, v)

	_, err = p.Join("r1", "127.0.0.1:5555")
	require.NoError(t, err)
	_, ch, err := p.WatchCurrentBroker()
	require.NoError(t, err)
	require.NoError(t, p.SetCurrentBroker("127.0.0.1:5555"))
	<-ch

	v, err = p.CurrentBroker()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:5555", v)
}

func TestRosterEncoding(t *testing.T) {
	assert.Nil(t, ParseRoster(""))
	r := ParseRoster("10.0.0.1_0000000000-10.0.0.2_0000000001")
	assert.Equal(t, Roster{"10.0.0.1_0000000000", "10.0.0.2_0000000001"}, r)
	assert.Equal(t, "10.0.0.1_0000000000-10.0.0.2_0000000001", r.String())
	assert.True(t, r.Contains("10.0.0.2_0000000001"))
	assert.False(t, r.Contains("10.0.0.3_0000000002"))
	assert.True(t, r.Equal(Roster{"10.0.0.1_0000000000", "10.0.0.2_0000000001"}))
	assert.False(t, r.Equal(Roster{"10.0.0.1_0000000000"}))
}

func TestBalancerVersionedWrite(t *testing.T) {
	store := memory.New()
	a, b := NewBalancer(store.Session()), NewBalancer(store.Session())

	r, v, err := a.Read()
	require.NoError(t, err)
	assert.Nil(t, r)
	assert.Equal(t, NoRoster, v)

	require.NoError(t, a.Write(Roster{"r1_0"}, v))
	// b raced on creation and lost
	assert.ErrorIs(t, b.Write(Roster{"r2_1"}, NoRoster), coord.ErrBadVersion)

	r, v, err = b.Read()
	require.NoError(t, err)
	require.NoError(t, b.Write(append(r, "r2_1"), v))
	assert.ErrorIs(t, a.Write(Roster{"r1_0"}, v), coord.ErrBadVersion)

	require.NoError(t, a.Reset(Roster{"r1_0"}))
	r, _, err = b.Read()
	require.NoError(t, err)
	assert.Equal(t, Roster{"r1_0"}, r)
}

func TestAdvertEncoding(t *testing.T) {
	assert.Equal(t, "5556:3", FormatAdvert("5556", 3))
	assert.Equal(t, ":3", FormatAdvert("", 3))

	port, h, err := ParseAdvert("5556:3")
	require.NoError(t, err)
	assert.Equal(t, "5556", port)
	assert.Equal(t, uint32(3), h)

	port, _, err = ParseAdvert(":4")
	require.NoError(t, err)
	assert.Empty(t, port)

	_, _, err = ParseAdvert("5556")
	assert.Error(t, err)
}

func TestOwnerIsOldestClaim(t *testing.T) {
	store := memory.New()
	p1, p2 := NewTopics(store.Session()), NewTopics(store.Session())

	require.NoError(t, p1.Claim("AAPL", "10.0.0.1", "5556", 3))
	require.NoError(t, p2.Claim("AAPL", "10.0.0.2", "5556", 7))

	owner, ok, err := p2.Owner("AAPL")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1", owner.Publisher)
	assert.Equal(t, uint32(3), owner.HistoryLength)

	yes, err := p2.IsOwner("AAPL", "tcp://10.0.0.1:5556")
	require.NoError(t, err)
	assert.True(t, yes)
	yes, err = p2.IsOwner("AAPL", "10.0.0.2")
	require.NoError(t, err)
	assert.False(t, yes)

	// a re-claim goes to the back of the line
	require.NoError(t, p1.Claim("AAPL", "10.0.0.1", "5556", 3))
	owner, _, err = p1.Owner("AAPL")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", owner.Publisher)

	require.NoError(t, p2.Release("AAPL", "10.0.0.2"))
	require.NoError(t, p2.Release("AAPL", "10.0.0.2"))
	owner, _, err = p1.Owner("AAPL")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", owner.Publisher)
}

func TestNoOwnerForUnknownTopic(t *testing.T) {
	topics := NewTopics(memory.New().Session())
	_, ok, err := topics.Owner("MSFT")
	require.NoError(t, err)
	assert.False(t, ok)
	yes, err := topics.IsOwner("MSFT", "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, yes)

	_, err = TopicPath("BROKER")
	assert.Error(t, err)
	_, err = TopicPath("a/b")
	assert.Error(t, err)
}

func TestWatchAdverts(t *testing.T) {
	store := memory.New()
	sub := NewTopics(store.Session())
	pub := NewTopics(store.Session())

	adverts, ch, err := sub.WatchAdverts("IBM")
	require.NoError(t, err)
	assert.Empty(t, adverts)

	require.NoError(t, pub.Claim("IBM", "10.0.0.9", "6000", 5))
	<-ch
	adverts, _, err = sub.WatchAdverts("IBM")
	require.NoError(t, err)
	require.Len(t, adverts, 1)
	assert.Equal(t, "10.0.0.9:6000", adverts[0].Address().String())
}
