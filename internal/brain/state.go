package brain

// MaxNodes is the number of addressable state slots and node map entries.
const MaxNodes = 256

// NodeMap translates a gate's raw node reference into a state slot.
type NodeMap [MaxNodes]uint8

// ZeroNodeMap returns a node map with every entry pointing at slot 0.
func ZeroNodeMap() NodeMap {
	return NodeMap{}
}

// IdentityNodeMap returns a node map that sends every index to itself.
func IdentityNodeMap() NodeMap {
	var m NodeMap
	for i := range m {
		m[i] = uint8(i)
	}
	return m
}

// Slot resolves a raw node index to the state slot it addresses.
func (m *NodeMap) Slot(raw int) int {
	return int(m[wrapNode(raw)])
}

// Modify adds value to entries [base, base+length) with every index and sum
// reduced mod MaxNodes.
func (m *NodeMap) Modify(base, length, value int) {
	for j := 0; j < length; j++ {
		idx := wrapNode(base + j)
		m[idx] = uint8((int(m[idx]) + value) % MaxNodes)
	}
}

// States is the double-buffered state vector a network runs over.
type States struct {
	Current [MaxNodes]uint8
	Next    [MaxNodes]uint8
}

// Swap publishes the next buffer as current and clears the next buffer.
func (s *States) Swap() {
	s.Current = s.Next
	s.Next = [MaxNodes]uint8{}
}

// Reset zeroes both buffers.
func (s *States) Reset() {
	s.Current = [MaxNodes]uint8{}
	s.Next = [MaxNodes]uint8{}
}

// Set writes value into the current buffer at slot, wrapped to MaxNodes.
func (s *States) Set(slot int, value uint8) {
	s.Current[wrapNode(slot)] = value
}

// Get reads slot from the current buffer, wrapped to MaxNodes.
func (s *States) Get(slot int) uint8 {
	return s.Current[wrapNode(slot)]
}

func wrapNode(idx int) int {
	idx %= MaxNodes
	if idx < 0 {
		idx += MaxNodes
	}
	return idx
}
