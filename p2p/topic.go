package p2p

import (
	"encoding/binary"
	"errors"
	"sort"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/atomic"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// packet types of the topic protocol
const (
	// PacketTopicSeq carries the uint32 topic seq of the sender
	PacketTopicSeq uint16 = 1
	// PacketRequestTopics asks for the topic list, answered with topicsMessage in JSON
	PacketRequestTopics uint16 = 2
)

const maxTopicLength = 1<<16 - 1

var errTopicTooLong = errors.New("topic longer than 65535 bytes")
var errShortTopicPayload = errors.New("topic payload too short")

type TopicStatus string

const (
	TopicVerified  TopicStatus = "verified"
	TopicVerifying TopicStatus = "verifying"
	TopicFailed    TopicStatus = "failed"
)

type TopicItem struct {
	Topic  string      `json:"topic"`
	Status TopicStatus `json:"status"`
}

type topicsMessage struct {
	TopicSeq uint32      `json:"topicSeq"`
	Topics   []TopicItem `json:"topics"`
}

// encodeTopicPayload build the AMOP payload: uint16 topic length | topic | data
func encodeTopicPayload(topic string, data []byte) ([]byte, error) {
	if len(topic) > maxTopicLength {
		return nil, errTopicTooLong
	}

	buf := make([]byte, 2+len(topic)+len(data))
	binary.BigEndian.PutUint16(buf, uint16(len(topic)))
	copy(buf[2:], topic)
	copy(buf[2+len(topic):], data)

	return buf, nil
}

func decodeTopicPayload(payload []byte) (topic string, data []byte, err error) {
	if len(payload) < 2 {
		return "", nil, errShortTopicPayload
	}

	n := int(binary.BigEndian.Uint16(payload))
	if len(payload) < 2+n {
		return "", nil, errShortTopicPayload
	}

	return string(payload[2 : 2+n]), payload[2+n:], nil
}

func encodeTopicSeq(seq uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, seq)
	return buf
}

func decodeTopicSeq(payload []byte) (uint32, bool) {
	if len(payload) < 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(payload), true
}

// topicTable is a topic list with a seq bumped on every change
type topicTable struct {
	mu     sync.RWMutex
	topics map[string]TopicStatus
	seq    atomic.Uint32
}

func newTopicTable() *topicTable {
	t := &topicTable{
		topics: make(map[string]TopicStatus),
	}
	// peers start from 0, so the first exchange always asks for our list
	t.seq.Store(1)
	return t
}

func (t *topicTable) Seq() uint32 {
	return t.seq.Load()
}

// Set replace the list and the seq, used for the lists peers report
func (t *topicTable) Set(seq uint32, items []TopicItem) {
	topics := make(map[string]TopicStatus, len(items))
	for _, item := range items {
		topics[item.Topic] = item.Status
	}

	t.mu.Lock()
	t.topics = topics
	t.seq.Store(seq)
	t.mu.Unlock()
}

// Replace the list and bump the seq
func (t *topicTable) Replace(items []TopicItem) {
	topics := make(map[string]TopicStatus, len(items))
	for _, item := range items {
		topics[item.Topic] = item.Status
	}

	t.mu.Lock()
	t.topics = topics
	t.seq.Inc()
	t.mu.Unlock()
}

// Put add or update topic, return false if nothing changed
func (t *topicTable) Put(topic string, status TopicStatus) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.topics[topic]; ok && old == status {
		return false
	}

	t.topics[topic] = status
	t.seq.Inc()
	return true
}

func (t *topicTable) Remove(topic string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.topics[topic]; !ok {
		return false
	}

	delete(t.topics, topic)
	t.seq.Inc()
	return true
}

// Verified return true if topic is in the list with status verified
func (t *topicTable) Verified(topic string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.topics[topic] == TopicVerified
}

// Items return the list sorted by topic
func (t *topicTable) Items() []TopicItem {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.items()
}

// items must be called with mu held
func (t *topicTable) items() []TopicItem {
	items := make([]TopicItem, 0, len(t.topics))
	for topic, status := range t.topics {
		items = append(items, TopicItem{Topic: topic, Status: status})
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].Topic < items[j].Topic
	})

	return items
}

// message snapshot the seq and the list together
func (t *topicTable) message() topicsMessage {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return topicsMessage{
		TopicSeq: t.seq.Load(),
		Topics:   t.items(),
	}
}

// PeerSession is what the service knows about a connected peer
type PeerSession struct {
	session *Session
	topics  *topicTable
}

func newPeerSession(s *Session) *PeerSession {
	ps := &PeerSession{
		session: s,
		topics:  newTopicTable(),
	}
	ps.topics.seq.Store(0)
	return ps
}

func (ps *PeerSession) Session() *Session {
	return ps.session
}

func (ps *PeerSession) Identity() Identity {
	return ps.session.Identity()
}

// TopicSeq is the seq of the topic list we hold for the peer
func (ps *PeerSession) TopicSeq() uint32 {
	return ps.topics.Seq()
}

func (ps *PeerSession) Topics() []TopicItem {
	return ps.topics.Items()
}

func (ps *PeerSession) Subscribed(topic string) bool {
	return ps.topics.Verified(topic)
}
