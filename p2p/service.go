package p2p

import (
	"math/rand"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set"
	"github.com/inconshreveable/log15"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/bcosnet/go-bcosnet/p2p/vnode"
)

var errReservedProtocol = errors.New("protocol id is reserved")
var errInvalidProtocol = errors.New("protocol id must be positive")

// Options of a send
type Options struct {
	// Timeout of the response, 0 waits until the session drops
	Timeout time.Duration
}

// SessionHandler is told when the service gains or loses a peer
type SessionHandler func(id Identity, s *Session)

// SessionInfo is a snapshot of one connected peer
type SessionInfo struct {
	Identity       Identity
	Endpoint       vnode.EndPoint
	Topics         []TopicItem
	WriteQueueSize int
}

// Service routes messages of every session by protocol ID or topic, and sends them by NodeID or topic
type Service struct {
	host   *Host
	cfg    *Config
	exec   Executor
	seq    atomic.Uint32
	limit  *bandwidthLimiter
	topics *topicTable

	hmu              sync.RWMutex
	protocolHandlers map[int32]MessageHandler
	topicHandlers    map[string]MessageHandler
	onNewSession     []SessionHandler
	onDeleteSession  []SessionHandler

	pmu   sync.RWMutex
	peers map[vnode.NodeID]*PeerSession

	running atomic.Bool
	hbMu    sync.Mutex
	hbTimer *time.Timer

	rmu sync.Mutex
	rnd *rand.Rand

	log log15.Logger
}

// New load the credentials named by cfg and create a service on a new host
func New(cfg *Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	creds, err := LoadCredentials(cfg.CACert, cfg.NodeCert, cfg.NodeKey)
	if err != nil {
		return nil, err
	}

	host, err := NewHost(cfg, creds, nil)
	if err != nil {
		return nil, err
	}

	return NewService(host), nil
}

// NewService take over the connect and message handlers of host
func NewService(host *Host) *Service {
	cfg := host.Config()

	s := &Service{
		host:             host,
		cfg:              cfg,
		exec:             host.Executor(),
		limit:            newBandwidthLimiter(cfg.BandwidthLimit, cfg.BandwidthBurst),
		topics:           newTopicTable(),
		protocolHandlers: make(map[int32]MessageHandler),
		topicHandlers:    make(map[string]MessageHandler),
		peers:            make(map[vnode.NodeID]*PeerSession),
		rnd:              rand.New(rand.NewSource(time.Now().UnixNano())),
		log:              log15.New("module", "p2p/service"),
	}

	host.SetConnectHandler(s.onConnect)
	host.SetMessageHandler(s.onMessage)

	return s
}

func (s *Service) Host() *Host {
	return s.host
}

func (s *Service) NodeID() vnode.NodeID {
	return s.host.NodeID()
}

// Start the host and the heartbeat
func (s *Service) Start() error {
	if err := s.host.Start(); err != nil {
		return err
	}

	s.running.Store(true)
	s.scheduleHeartBeat()

	s.log.Info("p2p service started", "node", s.host.NodeID().Brief())
	return nil
}

// Stop the heartbeat and the host, it can be called without Start
func (s *Service) Stop() {
	s.running.Store(false)

	s.hbMu.Lock()
	if s.hbTimer != nil {
		s.hbTimer.Stop()
	}
	s.hbMu.Unlock()

	s.host.Stop()
}

func (s *Service) nextSeq() uint32 {
	for {
		if seq := s.seq.Inc(); seq != 0 {
			return seq
		}
	}
}

func (s *Service) fail(cb ResponseCallback, err error) {
	if cb == nil {
		return
	}

	post(s.exec, func() {
		cb(err, nil)
	})
}

// RegisterHandlerByProtocolID set the handler of id, a later call replaces it
func (s *Service) RegisterHandlerByProtocolID(id int32, h MessageHandler) error {
	if id <= 0 {
		return errInvalidProtocol
	}
	if id == s.cfg.AMOPProtocolID || id == s.cfg.TopicProtocolID {
		return errors.Wrapf(errReservedProtocol, "%d", id)
	}

	s.hmu.Lock()
	s.protocolHandlers[id] = h
	s.hmu.Unlock()

	return nil
}

func (s *Service) RemoveHandlerByProtocolID(id int32) {
	s.hmu.Lock()
	delete(s.protocolHandlers, id)
	s.hmu.Unlock()
}

// RegisterHandlerByTopic subscribe topic. The handler receives messages with the topic stripped from the payload.
func (s *Service) RegisterHandlerByTopic(topic string, h MessageHandler) error {
	if len(topic) > maxTopicLength {
		return errTopicTooLong
	}

	s.hmu.Lock()
	s.topicHandlers[topic] = h
	s.hmu.Unlock()

	s.AddTopic(topic)
	return nil
}

// RemoveHandlerByTopic unsubscribe topic
func (s *Service) RemoveHandlerByTopic(topic string) {
	s.hmu.Lock()
	delete(s.topicHandlers, topic)
	s.hmu.Unlock()

	s.RemoveTopic(topic)
}

// OnNewSession register fn to be told about every new peer
func (s *Service) OnNewSession(fn SessionHandler) {
	s.hmu.Lock()
	s.onNewSession = append(s.onNewSession, fn)
	s.hmu.Unlock()
}

// OnDeleteSession register fn to be told about every lost peer
func (s *Service) OnDeleteSession(fn SessionHandler) {
	s.hmu.Lock()
	s.onDeleteSession = append(s.onDeleteSession, fn)
	s.hmu.Unlock()
}

func (s *Service) sessionHandlers(added bool) []SessionHandler {
	s.hmu.RLock()
	defer s.hmu.RUnlock()

	if added {
		return s.onNewSession
	}
	return s.onDeleteSession
}

// AddTopic advertise topic as verified
func (s *Service) AddTopic(topic string) {
	if s.topics.Put(topic, TopicVerified) {
		s.broadcastTopicSeq()
	}
}

func (s *Service) RemoveTopic(topic string) {
	if s.topics.Remove(topic) {
		s.broadcastTopicSeq()
	}
}

// SetTopics replace the advertised topics
func (s *Service) SetTopics(items []TopicItem) {
	s.topics.Replace(items)
	s.broadcastTopicSeq()
}

// Topics return the topics we advertise
func (s *Service) Topics() []TopicItem {
	return s.topics.Items()
}

// TopicSeq is bumped on every change of our topics
func (s *Service) TopicSeq() uint32 {
	return s.topics.Seq()
}

// UpdateWhitelist replace the whitelist and drop connected peers it no longer allows
func (s *Service) UpdateWhitelist(enable bool, ids []vnode.NodeID) {
	s.host.access.Whitelist.Update(enable, ids)
	s.checkAccess()
}

// UpdateBlacklist replace the blacklist and drop connected peers it names
func (s *Service) UpdateBlacklist(enable bool, ids []vnode.NodeID) {
	s.host.access.Blacklist.Update(enable, ids)
	s.checkAccess()
}

func (s *Service) checkAccess() {
	for _, session := range s.host.Sessions() {
		id := session.Identity().NodeID
		if err := s.host.Verifier().Check(id); err != nil {
			s.log.Warn("peer is not allowed any more", "peer", id.Brief(), "err", err)
			session.Drop(DiscUnexpectedIdentity)
		}
	}
}

func (s *Service) onConnect(err error, session *Session) {
	if err != nil {
		return
	}

	id := session.Identity()
	ps := newPeerSession(session)

	s.pmu.Lock()
	// a replaced session may be reported after its successor
	if !session.Active() {
		s.pmu.Unlock()
		return
	}
	s.peers[id.NodeID] = ps
	s.pmu.Unlock()

	// the drop may have been handled before us
	if !session.Active() {
		s.removePeer(session)
		return
	}

	for _, fn := range s.sessionHandlers(true) {
		fn(id, session)
	}

	// the peer's seq may have arrived before the peer was known, so ask right away
	s.requestTopics(ps)
	s.sendTopicSeq(session)
}

func (s *Service) removePeer(session *Session) bool {
	id := session.Identity().NodeID

	s.pmu.Lock()
	defer s.pmu.Unlock()

	if ps, ok := s.peers[id]; ok && ps.session == session {
		delete(s.peers, id)
		return true
	}

	return false
}

func (s *Service) onDisconnect(err error, session *Session) {
	if !s.removePeer(session) {
		return
	}

	s.log.Info("peer disconnected", "peer", session.Identity().NodeID.Brief(), "err", err)

	id := session.Identity()
	for _, fn := range s.sessionHandlers(false) {
		fn(id, session)
	}
}

func (s *Service) onMessage(err error, session *Session, msg *Msg) {
	if err != nil {
		s.onDisconnect(err, session)
		return
	}

	switch msg.ProtocolID {
	case s.cfg.TopicProtocolID:
		s.handleTopicMessage(session, msg)
	case s.cfg.AMOPProtocolID:
		s.handleAMOPMessage(session, msg)
	default:
		if msg.IsResponse() {
			s.log.Debug("response without request", "msg", msg)
			return
		}

		s.hmu.RLock()
		h := s.protocolHandlers[msg.ProtocolID]
		s.hmu.RUnlock()

		if h == nil {
			s.log.Debug("no handler for protocol", "msg", msg)
			return
		}
		h(nil, session, msg)
	}
}

func (s *Service) handleAMOPMessage(session *Session, msg *Msg) {
	topic, data, err := decodeTopicPayload(msg.Payload)
	if err != nil {
		s.log.Warn("bad AMOP message", "msg", msg, "err", err)
		return
	}

	s.hmu.RLock()
	h := s.topicHandlers[topic]
	s.hmu.RUnlock()

	if h == nil {
		s.log.Debug("no handler for topic", "topic", topic)
		return
	}

	m := msg.Copy()
	m.Payload = data
	h(nil, session, m)
}

func (s *Service) handleTopicMessage(session *Session, msg *Msg) {
	switch msg.PacketType {
	case PacketTopicSeq:
		seq, ok := decodeTopicSeq(msg.Payload)
		if !ok {
			s.log.Warn("bad topic seq", "msg", msg)
			return
		}

		ps := s.Peer(session.Identity().NodeID)
		if ps == nil || ps.session != session || ps.TopicSeq() == seq {
			return
		}
		s.requestTopics(ps)

	case PacketRequestTopics:
		buf, err := json.Marshal(s.topics.message())
		if err != nil {
			s.log.Error("marshal topics failed", "err", err)
			return
		}
		s.SendResponse(session, msg, buf)

	default:
		s.log.Debug("unknown topic packet", "msg", msg)
	}
}

func (s *Service) requestTopics(ps *PeerSession) {
	req := NewMsg(s.cfg.TopicProtocolID, PacketRequestTopics, nil)
	req.Seq = s.nextSeq()

	ps.session.AsyncSendMessage(req, func(err error, resp *Msg) {
		if err != nil {
			s.log.Debug("request topics failed", "peer", ps.Identity().NodeID.Brief(), "err", err)
			return
		}

		var tm topicsMessage
		if err = json.Unmarshal(resp.Payload, &tm); err != nil {
			s.log.Warn("bad topics response", "peer", ps.Identity().NodeID.Brief(), "err", err)
			return
		}

		ps.topics.Set(tm.TopicSeq, tm.Topics)
		s.log.Debug("peer topics updated", "peer", ps.Identity().NodeID.Brief(), "seq", tm.TopicSeq, "topics", len(tm.Topics))
	}, s.cfg.RequestTimeout)
}

func (s *Service) sendTopicSeq(session *Session) {
	msg := NewMsg(s.cfg.TopicProtocolID, PacketTopicSeq, encodeTopicSeq(s.topics.Seq()))
	msg.Seq = s.nextSeq()
	session.AsyncSendMessage(msg, nil, 0)
}

func (s *Service) broadcastTopicSeq() {
	for _, session := range s.host.Sessions() {
		s.sendTopicSeq(session)
	}
}

// Peer return the metadata of a connected peer, nil if not connected
func (s *Service) Peer(id vnode.NodeID) *PeerSession {
	s.pmu.RLock()
	defer s.pmu.RUnlock()

	return s.peers[id]
}

// SessionInfos return a snapshot of the connected peers
func (s *Service) SessionInfos() []SessionInfo {
	s.pmu.RLock()
	defer s.pmu.RUnlock()

	infos := make([]SessionInfo, 0, len(s.peers))
	for _, ps := range s.peers {
		if !ps.session.Active() {
			continue
		}
		infos = append(infos, SessionInfo{
			Identity:       ps.Identity(),
			Endpoint:       ps.session.Socket().NodeIPEndpoint(),
			Topics:         ps.Topics(),
			WriteQueueSize: ps.session.WriteQueueSize(),
		})
	}

	return infos
}

// PeersByTopic return the connected peers subscribing topic with status verified
func (s *Service) PeersByTopic(topic string) []vnode.NodeID {
	s.pmu.RLock()
	defer s.pmu.RUnlock()

	var ids []vnode.NodeID
	for id, ps := range s.peers {
		if ps.session.Active() && ps.Subscribed(topic) {
			ids = append(ids, id)
		}
	}

	return ids
}

func (s *Service) IsConnected(id vnode.NodeID) bool {
	return s.host.IsConnected(id)
}

// AsyncSendMessageByNodeID send msg to id. A zero msg.Seq is replaced with a fresh one.
// If the peer is not connected, cb gets NodeInactive on the executor.
func (s *Service) AsyncSendMessageByNodeID(id vnode.NodeID, msg *Msg, cb ResponseCallback, opts Options) {
	session, ok := s.host.SessionByNodeID(id)
	if !ok || !session.Active() {
		s.fail(cb, newNetworkError(NodeInactive, "%s", id.Brief()))
		return
	}

	if msg.Seq == 0 {
		msg.Seq = s.nextSeq()
	}

	session.AsyncSendMessage(msg, cb, opts.Timeout)
}

// SendMessageByNodeID block until the response arrives, 0 timeout means RequestTimeout
func (s *Service) SendMessageByNodeID(id vnode.NodeID, msg *Msg, opts Options) (*Msg, error) {
	return s.wait(opts, func(opts Options, cb ResponseCallback) {
		s.AsyncSendMessageByNodeID(id, msg, cb, opts)
	})
}

// AsyncSendMessageByEndpoint send msg over the session dialed to or accepted from e
func (s *Service) AsyncSendMessageByEndpoint(e vnode.EndPoint, msg *Msg, cb ResponseCallback, opts Options) {
	for _, session := range s.host.Sessions() {
		if session.Active() && session.Socket().NodeIPEndpoint() == e {
			s.AsyncSendMessageByNodeID(session.Identity().NodeID, msg, cb, opts)
			return
		}
	}

	s.fail(cb, newNetworkError(NodeInactive, "no session to %s", e))
}

type sendResult struct {
	msg *Msg
	err error
}

func (s *Service) wait(opts Options, send func(opts Options, cb ResponseCallback)) (*Msg, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = s.cfg.RequestTimeout
	}

	ch := make(chan sendResult, 1)
	send(opts, func(err error, msg *Msg) {
		ch <- sendResult{msg, err}
	})

	r := <-ch
	return r.msg, r.err
}

// topicRequest send one message to the subscribers of a topic until one answers
type topicRequest struct {
	s       *Service
	msg     *Msg
	opts    Options
	cb      ResponseCallback
	remain  mapset.Set
	lastErr error
}

func (r *topicRequest) next() {
	id, ok := r.s.pick(r.remain)
	if !ok {
		r.cb(r.lastErr, nil)
		return
	}
	r.remain.Remove(id)

	m := r.msg.Copy()
	m.Seq = r.s.nextSeq()
	r.s.AsyncSendMessageByNodeID(id, m, func(err error, resp *Msg) {
		if err == nil && (resp == nil || len(resp.Payload) == 0) {
			err = newNetworkError(EmptyResponse, "%s", id.Brief())
		}
		if err == nil {
			r.cb(nil, resp)
			return
		}

		r.s.log.Debug("send by topic failed, try next", "peer", id.Brief(), "err", err)
		r.lastErr = err
		r.next()
	}, r.opts)
}

// pick a random NodeID of set
func (s *Service) pick(set mapset.Set) (id vnode.NodeID, ok bool) {
	items := set.ToSlice()
	if len(items) == 0 {
		return
	}

	s.rmu.Lock()
	i := s.rnd.Intn(len(items))
	s.rmu.Unlock()

	return items[i].(vnode.NodeID), true
}

func (s *Service) amopMessage(topic string, msg *Msg) (*Msg, error) {
	payload, err := encodeTopicPayload(topic, msg.Payload)
	if err != nil {
		return nil, err
	}

	return &Msg{
		Version:    MsgVersion,
		ProtocolID: s.cfg.AMOPProtocolID,
		PacketType: msg.PacketType,
		Seq:        msg.Seq,
		Payload:    payload,
	}, nil
}

// AsyncSendMessageByTopic send msg to one random subscriber of topic, and to the next one
// if it fails or answers with an empty payload. When every subscriber failed cb gets the last error.
func (s *Service) AsyncSendMessageByTopic(topic string, msg *Msg, cb ResponseCallback, opts Options) {
	if cb == nil {
		cb = func(error, *Msg) {}
	}

	ids := s.PeersByTopic(topic)
	if len(ids) == 0 {
		s.fail(cb, newNetworkError(TopicNotFound, "%s", topic))
		return
	}

	amop, err := s.amopMessage(topic, msg)
	if err != nil {
		s.fail(cb, newNetworkError(ProtocolError, "%v", err))
		return
	}

	remain := mapset.NewSet()
	for _, id := range ids {
		remain.Add(id)
	}

	r := &topicRequest{
		s:       s,
		msg:     amop,
		opts:    opts,
		cb:      cb,
		remain:  remain,
		lastErr: newNetworkError(TopicNotFound, "%s", topic),
	}
	r.next()
}

// SendMessageByTopic block until a subscriber answers, 0 timeout means RequestTimeout for each try
func (s *Service) SendMessageByTopic(topic string, msg *Msg, opts Options) (*Msg, error) {
	return s.wait(opts, func(opts Options, cb ResponseCallback) {
		s.AsyncSendMessageByTopic(topic, msg, cb, opts)
	})
}

// multicast send msg to every id without waiting for responses, the whole batch is refused
// if it does not fit in the bandwidth budget
func (s *Service) multicast(ids []vnode.NodeID, msg *Msg) error {
	cost := msg.Length() * len(ids)
	if !s.limit.Allow(cost) {
		s.log.Warn("multicast rejected for bandwidth", "targets", len(ids), "bytes", cost)
		return newNetworkError(BandwidthExceeded, "%d bytes to %d peers", cost, len(ids))
	}

	for _, id := range ids {
		m := msg.Copy()
		if m.Seq == 0 {
			m.Seq = s.nextSeq()
		}
		s.AsyncSendMessageByNodeID(id, m, nil, Options{})
	}

	return nil
}

// AsyncMulticastMessageByTopic send msg to every verified subscriber of topic
func (s *Service) AsyncMulticastMessageByTopic(topic string, msg *Msg) error {
	ids := s.PeersByTopic(topic)
	if len(ids) == 0 {
		return newNetworkError(TopicNotFound, "%s", topic)
	}

	amop, err := s.amopMessage(topic, msg)
	if err != nil {
		return newNetworkError(ProtocolError, "%v", err)
	}

	return s.multicast(ids, amop)
}

// AsyncMulticastMessageByNodeIDList send msg to every id, unreachable ones are skipped
func (s *Service) AsyncMulticastMessageByNodeIDList(ids []vnode.NodeID, msg *Msg) error {
	return s.multicast(ids, msg)
}

// AsyncBroadcastMessage send msg to every connected peer
func (s *Service) AsyncBroadcastMessage(msg *Msg) error {
	sessions := s.host.Sessions()
	ids := make([]vnode.NodeID, 0, len(sessions))
	for _, session := range sessions {
		ids = append(ids, session.Identity().NodeID)
	}

	return s.multicast(ids, msg)
}

// SendResponse answer req on the session it came from
func (s *Service) SendResponse(session *Session, req *Msg, payload []byte) {
	session.AsyncSendMessage(req.Response(payload), nil, 0)
}

func (s *Service) scheduleHeartBeat() {
	s.hbMu.Lock()
	defer s.hbMu.Unlock()

	if s.running.Load() {
		s.hbTimer = time.AfterFunc(s.cfg.HeartbeatInterval, s.heartBeat)
	}
}

func (s *Service) heartBeat() {
	if !s.running.Load() {
		return
	}

	s.checkAccess()
	s.host.ReconnectAllNodes()

	for _, session := range s.host.Sessions() {
		s.sendTopicSeq(session)
		s.log.Debug("session status", "peer", session.Identity().NodeID.Brief(), "writeQueue", session.WriteQueueSize(), "pending", session.PendingCount())
	}
	s.log.Debug("executor status", "waiting", s.host.exec.Pending())

	s.scheduleHeartBeat()
}
