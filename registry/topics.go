package registry

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/CefBoud/monpubsub/coord"
	"github.com/CefBoud/monpubsub/types"
)

// Advert is a topic ownership node: the publisher's ip is the node name, its
// value is "<port>:<history_length>". Port is empty for broker-mediated
// publishers, which do not listen.
type Advert struct {
	Publisher     string
	Port          string
	HistoryLength uint32
	CreateID      int64
}

// Address is where a direct subscriber connects to the advertising publisher
func (a Advert) Address() types.Address {
	return types.Address{Host: a.Publisher, Port: a.Port}
}

// FormatAdvert encodes an ownership node value
func FormatAdvert(port string, historyLength uint32) string {
	return fmt.Sprintf("%s:%d", port, historyLength)
}

// ParseAdvert decodes an ownership node value
func ParseAdvert(value string) (port string, historyLength uint32, err error) {
	i := strings.LastIndex(value, ":")
	if i < 0 {
		return "", 0, fmt.Errorf("malformed advert %q", value)
	}
	h, err := strconv.ParseUint(value[i+1:], 10, 32)
	if err != nil {
		return "", 0, fmt.Errorf("malformed history length in advert %q", value)
	}
	return value[:i], uint32(h), nil
}

// TopicPath is the parent of a topic's ownership nodes
func TopicPath(topic string) (string, error) {
	if topic == "" || strings.Contains(topic, "/") || topic == BrokerPath[1:] || topic == BalancerPath[1:] {
		return "", fmt.Errorf("invalid topic %q", topic)
	}
	return coord.Join(topic), nil
}

// Topics is the topic ownership registry
type Topics struct {
	client coord.Client
}

// NewTopics returns a Topics over c
func NewTopics(c coord.Client) *Topics {
	return &Topics{client: c}
}

// Claim creates the ephemeral ownership node /<topic>/<publisher>. A node left
// under the same name is replaced, so the claim takes a fresh creation ID.
func (t *Topics) Claim(topic, publisher, port string, historyLength uint32) error {
	parent, err := TopicPath(topic)
	if err != nil {
		return err
	}
	p := coord.Join(parent, publisher)
	if err := t.client.Delete(p, coord.AnyVersion); err != nil && !errors.Is(err, coord.ErrNoNode) {
		return fmt.Errorf("replacing claim on %s: %w", p, err)
	}
	if _, err := t.client.Create(p, []byte(FormatAdvert(port, historyLength)), coord.Ephemeral); err != nil {
		return fmt.Errorf("claiming %s: %w", p, err)
	}
	return nil
}

// Release deletes a publisher's ownership node
func (t *Topics) Release(topic, publisher string) error {
	parent, err := TopicPath(topic)
	if err != nil {
		return err
	}
	err = t.client.Delete(coord.Join(parent, publisher), coord.AnyVersion)
	if errors.Is(err, coord.ErrNoNode) {
		return nil
	}
	return err
}

func (t *Topics) read(parent string, names []string) []Advert {
	adverts := make([]Advert, 0, len(names))
	for _, name := range names {
		data, stat, err := t.client.Get(coord.Join(parent, name))
		if err != nil {
			// gone between listing and reading
			continue
		}
		port, hist, err := ParseAdvert(string(data))
		if err != nil {
			continue
		}
		adverts = append(adverts, Advert{Publisher: name, Port: port, HistoryLength: hist, CreateID: stat.CreateID})
	}
	sort.Slice(adverts, func(i, j int) bool { return adverts[i].CreateID < adverts[j].CreateID })
	return adverts
}

// Adverts lists a topic's ownership nodes, oldest claim first
func (t *Topics) Adverts(topic string) ([]Advert, error) {
	parent, err := TopicPath(topic)
	if err != nil {
		return nil, err
	}
	names, err := coord.ChildrenOrEmpty(t.client, parent)
	if err != nil {
		return nil, err
	}
	return t.read(parent, names), nil
}

// WatchAdverts lists a topic's ownership nodes and arms a one-shot watch on the set
func (t *Topics) WatchAdverts(topic string) ([]Advert, <-chan coord.Event, error) {
	parent, err := TopicPath(topic)
	if err != nil {
		return nil, nil, err
	}
	names, ch, err := t.client.ChildrenW(parent)
	if errors.Is(err, coord.ErrNoNode) {
		_, _, ch, err = t.client.ExistsW(parent)
		return nil, ch, err
	}
	if err != nil {
		return nil, nil, err
	}
	return t.read(parent, names), ch, nil
}

// Owner returns the advert with the lowest creation ID
func (t *Topics) Owner(topic string) (Advert, bool, error) {
	adverts, err := t.Adverts(topic)
	if err != nil || len(adverts) == 0 {
		return Advert{}, false, err
	}
	return adverts[0], true, nil
}

// IsOwner reports whether publisherAddress ("ip", "ip:port" or an endpoint id)
// names the host holding the oldest claim on topic
func (t *Topics) IsOwner(topic, publisherAddress string) (bool, error) {
	owner, ok, err := t.Owner(topic)
	if err != nil || !ok {
		return false, err
	}
	addr, err := types.ParseEndpointID(publisherAddress)
	if err != nil {
		return false, nil
	}
	return addr.Host == owner.Publisher, nil
}
