package publisher

// History keeps the last Capacity values published on each topic
type History struct {
	capacity int
	values   map[string][]string
}

// NewHistory returns a History bounded to capacity values per topic
func NewHistory(capacity int) *History {
	if capacity < 0 {
		capacity = 0
	}
	return &History{capacity: capacity, values: map[string][]string{}}
}

// Capacity is the per-topic bound
func (h *History) Capacity() int { return h.capacity }

// Add appends value to topic's history, evicting the oldest value when full
func (h *History) Add(topic, value string) {
	if h.capacity == 0 {
		return
	}
	vs := append(h.values[topic], value)
	if len(vs) > h.capacity {
		vs = append(vs[:0:0], vs[len(vs)-h.capacity:]...)
	}
	h.values[topic] = vs
}

// Values returns topic's history, oldest first
func (h *History) Values(topic string) []string {
	return append([]string(nil), h.values[topic]...)
}
