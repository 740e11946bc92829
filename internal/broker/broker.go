// Package broker is the topic-indexed pub/sub fan-out layer (C6). It
// knows nothing about chat semantics: it delivers envelopes to whoever is
// subscribed to a topic, with per-topic fine-grained locking so publish
// never holds a single global lock. Fan-out for a given topic runs on a
// single dedicated worker so publishes are delivered in the order they
// were submitted — spec §5's per-session ordering guarantee depends on
// this — while a slow or stuck topic never stalls delivery on any other
// topic. A connection's own outbound buffer and write pump (see
// gateway.Conn) are what keep a slow socket from blocking that worker.
package broker

import (
	"log/slog"
	"sync"

	"github.com/alitto/pond"
)

// Conn is anything the broker can deliver an envelope to. The gateway
// package implements this over a live duplex connection; the broker never
// needs to know the transport.
type Conn interface {
	ID() string
	Deliver(Envelope)
}

// topicState holds one topic's subscribers plus the single-worker pool
// that serializes delivery to them. One worker per topic, never more:
// more would let two envelopes published back-to-back race each other to
// the subscriber and arrive out of order.
type topicState struct {
	mu    sync.RWMutex
	conns map[string]Conn
	pool  *pond.WorkerPool
}

// Broker is the process-wide pub/sub hub.
type Broker struct {
	topics sync.Map // topic name -> *topicState

	connMu     sync.Mutex
	connTopics map[string]map[string]struct{} // conn id -> set of topics

	queueCapacity int
}

// New creates a Broker. queueCapacity bounds how many envelopes a single
// topic may have queued for delivery before Publish blocks the caller.
func New(queueCapacity int) *Broker {
	return &Broker{
		connTopics:    make(map[string]map[string]struct{}),
		queueCapacity: queueCapacity,
	}
}

func (b *Broker) topicFor(name string) *topicState {
	v, _ := b.topics.LoadOrStore(name, &topicState{
		conns: make(map[string]Conn),
		pool:  pond.New(1, b.queueCapacity, pond.MinWorkers(1)),
	})
	return v.(*topicState)
}

// Subscribe adds conn to topic. Idempotent.
func (b *Broker) Subscribe(conn Conn, topic string) {
	ts := b.topicFor(topic)
	ts.mu.Lock()
	ts.conns[conn.ID()] = conn
	ts.mu.Unlock()

	b.connMu.Lock()
	topics, ok := b.connTopics[conn.ID()]
	if !ok {
		topics = make(map[string]struct{})
		b.connTopics[conn.ID()] = topics
	}
	topics[topic] = struct{}{}
	b.connMu.Unlock()
}

// Unsubscribe removes conn from topic. Idempotent.
func (b *Broker) Unsubscribe(conn Conn, topic string) {
	if v, ok := b.topics.Load(topic); ok {
		ts := v.(*topicState)
		ts.mu.Lock()
		delete(ts.conns, conn.ID())
		ts.mu.Unlock()
	}

	b.connMu.Lock()
	if topics, ok := b.connTopics[conn.ID()]; ok {
		delete(topics, topic)
		if len(topics) == 0 {
			delete(b.connTopics, conn.ID())
		}
	}
	b.connMu.Unlock()
}

// UnsubscribeAll removes conn from every topic it was subscribed to.
// Mandatory on disconnect, per spec §4.6.
func (b *Broker) UnsubscribeAll(conn Conn) {
	b.connMu.Lock()
	topics := b.connTopics[conn.ID()]
	delete(b.connTopics, conn.ID())
	b.connMu.Unlock()

	for topic := range topics {
		if v, ok := b.topics.Load(topic); ok {
			ts := v.(*topicState)
			ts.mu.Lock()
			delete(ts.conns, conn.ID())
			ts.mu.Unlock()
		}
	}
}

// Publish fans env out to every connection currently subscribed to topic.
// The actual delivery runs on topic's single worker, queued behind
// whatever this topic already has in flight, so two Publish calls to the
// same topic are always delivered in the order Publish was called —
// regardless of which goroutine called it. A slow or blocked subscriber
// only ever backs up its own topic, never any other.
func (b *Broker) Publish(topic string, env Envelope) {
	v, ok := b.topics.Load(topic)
	if !ok {
		return
	}
	ts := v.(*topicState)

	ts.mu.RLock()
	targets := make([]Conn, 0, len(ts.conns))
	for _, c := range ts.conns {
		targets = append(targets, c)
	}
	ts.mu.RUnlock()

	ts.pool.Submit(func() {
		for _, conn := range targets {
			deliverSafely(conn, env)
		}
	})
}

func deliverSafely(conn Conn, env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("broker: panic delivering envelope", "conn_id", conn.ID(), "panic", r)
		}
	}()
	conn.Deliver(env)
}

// SubscriberCount reports how many connections are subscribed to topic,
// for admin-stats reporting.
func (b *Broker) SubscriberCount(topic string) int {
	v, ok := b.topics.Load(topic)
	if !ok {
		return 0
	}
	ts := v.(*topicState)
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return len(ts.conns)
}

// Shutdown drains every topic's worker pool, waiting for in-flight
// deliveries to complete.
func (b *Broker) Shutdown() {
	b.topics.Range(func(_, v any) bool {
		v.(*topicState).pool.StopAndWait()
		return true
	})
}
