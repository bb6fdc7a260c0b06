// SPDX-License-Identifier: Apache-2.0

package pubsub

import "sync"

// Change describes one create/modify/delete event delivered to a
// Subscription, keyed the way the teacher keys pubsub topics (a string
// key per instance of the topic type, e.g. a zone ID or a singleton
// "global" key).
type Change[T any] struct {
	Key    string
	Value  T
	Old    T
	HasOld bool
	Delete bool
}

// SubscriptionOptions mirrors the teacher's pubsub.SubscriptionOptions
// call-site shape (cmd/ledmanager/ledmanager.go): a handler per verb, fed
// off a channel the owner drains from its own select loop so every
// mutation happens on a single goroutine.
type SubscriptionOptions[T any] struct {
	CreateHandler func(key string, value T)
	ModifyHandler func(key string, value T, old T)
	DeleteHandler func(key string, value T)
}

// Subscription delivers typed Change events over a channel.
type Subscription[T any] struct {
	opts   SubscriptionOptions[T]
	ch     chan Change[T]
	active bool
	mu     sync.Mutex
}

// Publication is the write side of a typed topic: Publish/Unpublish feed
// any Subscriptions created via NewSubscription.
type Publication[T any] struct {
	mu   sync.Mutex
	subs []*Subscription[T]
	last map[string]T
}

// NewPublication creates an empty, unbuffered typed topic.
func NewPublication[T any]() *Publication[T] {
	return &Publication[T]{last: map[string]T{}}
}

// NewSubscription registers a new Subscription against p, matching the
// teacher's ps.NewSubscription(opts) call shape save for the vestigial
// AgentName/TopicImpl fields, which have no meaning once topics are
// generic Go types rather than IPC-serialized structs.
func (p *Publication[T]) NewSubscription(opts SubscriptionOptions[T]) *Subscription[T] {
	sub := &Subscription[T]{opts: opts, ch: make(chan Change[T], 16)}
	p.mu.Lock()
	p.subs = append(p.subs, sub)
	p.mu.Unlock()
	return sub
}

// Activate marks the subscription live; Publish calls made before
// Activate are not replayed, matching the teacher's
// Activate-after-construction two-step.
func (s *Subscription[T]) Activate() {
	s.mu.Lock()
	s.active = true
	s.mu.Unlock()
}

// MsgChan exposes the channel to select on, per the teacher's
// `case change := <-sub.MsgChan():` idiom.
func (s *Subscription[T]) MsgChan() <-chan Change[T] {
	return s.ch
}

// ProcessChange dispatches one already-received Change to the registered
// handler, matching `sub.ProcessChange(change)`.
func (s *Subscription[T]) ProcessChange(c Change[T]) {
	switch {
	case c.Delete:
		if s.opts.DeleteHandler != nil {
			s.opts.DeleteHandler(c.Key, c.Value)
		}
	case c.HasOld:
		if s.opts.ModifyHandler != nil {
			s.opts.ModifyHandler(c.Key, c.Value, c.Old)
		}
	default:
		if s.opts.CreateHandler != nil {
			s.opts.CreateHandler(c.Key, c.Value)
		}
	}
}

// Publish installs value under key and enqueues a Change on every active
// subscription (create if key is new, modify otherwise).
func (p *Publication[T]) Publish(key string, value T) {
	p.mu.Lock()
	old, hadOld := p.last[key]
	p.last[key] = value
	subs := append([]*Subscription[T]{}, p.subs...)
	p.mu.Unlock()

	for _, s := range subs {
		s.mu.Lock()
		active := s.active
		s.mu.Unlock()
		if !active {
			continue
		}
		s.ch <- Change[T]{Key: key, Value: value, Old: old, HasOld: hadOld}
	}
}

// Unpublish removes key and enqueues a delete Change on every active
// subscription.
func (p *Publication[T]) Unpublish(key string) {
	p.mu.Lock()
	value, existed := p.last[key]
	delete(p.last, key)
	subs := append([]*Subscription[T]{}, p.subs...)
	p.mu.Unlock()
	if !existed {
		return
	}
	for _, s := range subs {
		s.mu.Lock()
		active := s.active
		s.mu.Unlock()
		if !active {
			continue
		}
		s.ch <- Change[T]{Key: key, Value: value, Delete: true}
	}
}
