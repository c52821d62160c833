// Package bus is the coupler board's control bus: a topic-trie
// publish/subscribe fabric carrying the boot-time traffic that never
// touches the kernel's signal space — retained board declarations from
// boardcfg and textual debug lines from debugpub. Topics are token
// slices ("boardcfg"/"device"/"eeprom", "debug"/"info") with MQTT-style
// single- and multi-level wildcards; retained messages replay to late
// subscribers so a service started after boardcfg still sees the board
// declaration.
package bus

import "sync"

// defaultQueueLen is the per-subscription buffer used when NewBus is
// handed a non-positive length.
var defaultQueueLen = 3

// Token is one topic path element. String or integer keys both work;
// the board's own topics are all strings.
type Token any

// Topic is an ordered token path, e.g. T("boardcfg", "device", "eeprom").
type Topic []Token

// T builds a Topic, panicking early on a non-comparable token rather
// than at first trie insertion.
func T(tokens ...Token) Topic {
	for _, tok := range tokens {
		switch tok.(type) {
		case string, int, int32, int64, uint, uint32, uint64, uintptr:
		default:
			_ = map[Token]struct{}{tok: {}}
		}
	}
	return Topic(tokens)
}

// Message is one published item. A retained message with a nil payload
// clears the retained slot at its topic.
type Message struct {
	Topic    Topic
	Payload  any
	Retained bool
}

// Subscription is one subscriber's buffered view of a topic pattern.
type Subscription struct {
	topic Topic
	ch    chan *Message
	bus   *Bus
	conn  *Connection
}

func (s *Subscription) Topic() Topic             { return s.topic }
func (s *Subscription) Channel() <-chan *Message { return s.ch }
func (s *Subscription) Unsubscribe()             { s.conn.Unsubscribe(s) }

// node is one trie level, shared by subscriber lists and the retained
// store so a topic's subscribers and its retained message prune
// together.
type node struct {
	children map[Token]*node
	subs     []*Subscription
	retained *Message
}

func ensureChild(n *node, t Token) *node {
	if n.children == nil {
		n.children = make(map[Token]*node)
	}
	if n.children[t] == nil {
		n.children[t] = &node{}
	}
	return n.children[t]
}

// Options configures a Bus. The wildcard tokens default to the MQTT
// conventions ("+" one level, "#" any remainder).
type Options struct {
	QueueLen     int
	OneLevelWild Token
	RestWild     Token
}

// Bus is the trie root plus the delivery configuration shared by every
// connection.
type Bus struct {
	mu       sync.Mutex
	root     *node
	queueLen int
	oneWild  Token
	restWild Token
}

// NewBus builds a bus with the default wildcard tokens and the given
// per-subscription queue length.
func NewBus(queueLen int) *Bus {
	return NewBusWithOptions(Options{QueueLen: queueLen, OneLevelWild: "+", RestWild: "#"})
}

func NewBusWithOptions(o Options) *Bus {
	if o.QueueLen <= 0 {
		o.QueueLen = defaultQueueLen
	}
	if o.OneLevelWild == nil {
		o.OneLevelWild = "+"
	}
	if o.RestWild == nil {
		o.RestWild = "#"
	}
	return &Bus{
		root:     &node{},
		queueLen: o.QueueLen,
		oneWild:  o.OneLevelWild,
		restWild: o.RestWild,
	}
}

func (b *Bus) addSubscription(topic Topic, sub *Subscription) {
	b.mu.Lock()
	n := b.root
	for _, t := range topic {
		n = ensureChild(n, t)
	}
	n.subs = append(n.subs, sub)

	// Replay retained messages matching the pattern, outside the lock.
	var retained []*Message
	b.collectRetainedLocked(b.root, topic, 0, &retained)
	b.mu.Unlock()

	for _, rm := range retained {
		b.deliver(sub, rm)
	}
}

// Publish fans msg out to every matching subscription and updates the
// retained store when msg.Retained is set.
func (b *Bus) Publish(msg *Message) {
	b.mu.Lock()
	var subs []*Subscription
	b.collectSubscribersLocked(b.root, msg.Topic, 0, &subs)

	if msg.Retained {
		if msg.Payload == nil {
			b.retainDeleteLocked(msg.Topic)
		} else {
			b.retainSetLocked(msg)
		}
	}
	b.mu.Unlock()

	for _, sub := range subs {
		b.deliver(sub, msg)
	}
}

func trySend(ch chan *Message, m *Message) bool {
	select {
	case ch <- m:
		return true
	default:
		return false
	}
}

func dropOldest(ch chan *Message) {
	select {
	case <-ch:
	default:
	}
}

// deliver is non-blocking: a full subscription sheds its oldest queued
// message to make room for the new one, so a stalled debug sink can
// lose stale lines but never wedge a publisher.
func (b *Bus) deliver(sub *Subscription, msg *Message) {
	defer func() { _ = recover() }() // channel may have closed under us
	if trySend(sub.ch, msg) {
		return
	}
	dropOldest(sub.ch)
	_ = trySend(sub.ch, msg)
}

func (b *Bus) unsubscribe(topic Topic, sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.root
	var stack []*node
	for _, t := range topic {
		if n.children == nil {
			return
		}
		child := n.children[t]
		if child == nil {
			return
		}
		stack = append(stack, n)
		n = child
	}

	for i, s := range n.subs {
		if s == sub {
			n.subs = append(n.subs[:i], n.subs[i+1:]...)
			break
		}
	}
	b.pruneEmptyLocked(stack, topic)
}

func (b *Bus) pruneEmptyLocked(stack []*node, path []Token) {
	for i := len(path) - 1; i >= 0; i-- {
		parent := stack[i]
		key := path[i]
		child := parent.children[key]
		if child != nil && len(child.subs) == 0 && len(child.children) == 0 && child.retained == nil {
			delete(parent.children, key)
		} else {
			break
		}
	}
}

// collectSubscribersLocked matches a concrete publish topic against
// subscription patterns stored in the trie.
func (b *Bus) collectSubscribersLocked(n *node, topic Topic, depth int, out *[]*Subscription) {
	if n == nil {
		return
	}
	if depth == len(topic) {
		*out = append(*out, n.subs...)
		if n.children != nil {
			if rw := n.children[b.restWild]; rw != nil {
				*out = append(*out, rw.subs...) // "#" matches zero further levels
			}
		}
		return
	}
	tok := topic[depth]
	if n.children != nil {
		if child := n.children[tok]; child != nil {
			b.collectSubscribersLocked(child, topic, depth+1, out)
		}
		if ow := n.children[b.oneWild]; ow != nil {
			b.collectSubscribersLocked(ow, topic, depth+1, out)
		}
		if rw := n.children[b.restWild]; rw != nil {
			*out = append(*out, rw.subs...) // "#" matches the whole remainder
		}
	}
}

func (b *Bus) retainSetLocked(msg *Message) {
	n := b.root
	for _, t := range msg.Topic {
		n = ensureChild(n, t)
	}
	n.retained = msg
}

func (b *Bus) retainDeleteLocked(topic Topic) {
	n := b.root
	var stack []*node
	for _, t := range topic {
		if n.children == nil {
			return
		}
		child := n.children[t]
		if child == nil {
			return
		}
		stack = append(stack, n)
		n = child
	}
	n.retained = nil
	b.pruneEmptyLocked(stack, topic)
}

// collectRetainedLocked matches stored concrete topics against a
// subscription pattern, the mirror image of subscriber collection.
func (b *Bus) collectRetainedLocked(n *node, pattern Topic, depth int, out *[]*Message) {
	if n == nil {
		return
	}
	if depth == len(pattern) {
		if n.retained != nil {
			*out = append(*out, n.retained)
		}
		return
	}
	ptok := pattern[depth]
	switch ptok {
	case b.restWild:
		b.collectAllRetainedLocked(n, out) // "#" consumes the rest, including zero levels
	case b.oneWild:
		for _, child := range n.children {
			b.collectRetainedLocked(child, pattern, depth+1, out)
		}
	default:
		if child := n.children[ptok]; child != nil {
			b.collectRetainedLocked(child, pattern, depth+1, out)
		}
	}
}

func (b *Bus) collectAllRetainedLocked(n *node, out *[]*Message) {
	if n == nil {
		return
	}
	if n.retained != nil {
		*out = append(*out, n.retained)
	}
	for _, child := range n.children {
		b.collectAllRetainedLocked(child, out)
	}
}

// Connection is one service's endpoint on the bus (boardcfg, debugpub,
// the console sink). It tracks its own subscriptions so Disconnect can
// tear them all down at once.
type Connection struct {
	bus  *Bus
	subs []*Subscription
	mu   sync.Mutex
	id   string
}

// NewConnection attaches a named endpoint. The id only labels the
// connection for debugging; it carries no routing meaning.
func (b *Bus) NewConnection(id string) *Connection {
	return &Connection{bus: b, id: id}
}

func (c *Connection) Publish(msg *Message) { c.bus.Publish(msg) }

// Subscribe registers a pattern and immediately replays any matching
// retained messages into the returned subscription.
func (c *Connection) Subscribe(topic Topic) *Subscription {
	sub := &Subscription{topic: topic, ch: make(chan *Message, c.bus.queueLen), bus: c.bus, conn: c}
	c.bus.addSubscription(topic, sub)
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	return sub
}

func (c *Connection) Unsubscribe(sub *Subscription) {
	c.bus.unsubscribe(sub.topic, sub)
	c.mu.Lock()
	c.subs = removeSub(c.subs, sub)
	c.mu.Unlock()
	close(sub.ch)
}

// Disconnect removes every subscription this connection holds.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, sub := range subs {
		c.bus.unsubscribe(sub.topic, sub)
		close(sub.ch)
	}
}

func removeSub(list []*Subscription, target *Subscription) []*Subscription {
	for i, s := range list {
		if s == target {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
