// Package relay implements a stateless fan-out server: a
// process-wide registry of connected participants per document, occupancy
// counting, and operation broadcast with per-sender ordering.
package relay

import (
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lyolishe/collaborative-text-editor/transport"
)

// document holds every participant currently connected to one document.
type document struct {
	mu           sync.RWMutex
	participants map[string]*participant
}

// Registry is the process-wide table of documents and their participants.
// It never parses or retains operation content — only enough of the
// envelope to route it, staying stateless with respect to document
// content.
type Registry struct {
	mu        sync.RWMutex
	docs      map[string]*document
	maxPerDoc int
	logger    *zap.SugaredLogger
}

// NewRegistry creates an empty Registry. maxPerDoc <= 0 means unbounded.
func NewRegistry(maxPerDoc int, logger *zap.SugaredLogger) *Registry {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Registry{docs: make(map[string]*document), maxPerDoc: maxPerDoc, logger: logger}
}

// join registers p under docID and returns the new occupancy count. It
// returns ok=false if the document is already at capacity.
func (r *Registry) join(p *participant) (count int, ok bool) {
	r.mu.Lock()
	doc, exists := r.docs[p.docID]
	if !exists {
		doc = &document{participants: make(map[string]*participant)}
		r.docs[p.docID] = doc
	}
	r.mu.Unlock()

	doc.mu.Lock()
	defer doc.mu.Unlock()
	if r.maxPerDoc > 0 && len(doc.participants) >= r.maxPerDoc {
		return len(doc.participants), false
	}
	doc.participants[p.id] = p
	return len(doc.participants), true
}

// leave deregisters p and returns the remaining occupancy count.
func (r *Registry) leave(p *participant) int {
	r.mu.RLock()
	doc, exists := r.docs[p.docID]
	r.mu.RUnlock()
	if !exists {
		return 0
	}

	doc.mu.Lock()
	delete(doc.participants, p.id)
	count := len(doc.participants)
	doc.mu.Unlock()

	if count == 0 {
		r.mu.Lock()
		if d, ok := r.docs[p.docID]; ok && len(d.participants) == 0 {
			delete(r.docs, p.docID)
		}
		r.mu.Unlock()
	}
	return count
}

// Occupancy returns the number of participants currently joined to docID.
func (r *Registry) Occupancy(docID string) int {
	r.mu.RLock()
	doc, exists := r.docs[docID]
	r.mu.RUnlock()
	if !exists {
		return 0
	}
	doc.mu.RLock()
	defer doc.mu.RUnlock()
	return len(doc.participants)
}

// broadcastUsersUpdate sends {type: users_update, count} to every
// participant of docID.
func (r *Registry) broadcastUsersUpdate(docID string, count int) {
	r.mu.RLock()
	doc, exists := r.docs[docID]
	r.mu.RUnlock()
	if !exists {
		return
	}

	doc.mu.RLock()
	targets := make([]*participant, 0, len(doc.participants))
	for _, p := range doc.participants {
		targets = append(targets, p)
	}
	doc.mu.RUnlock()

	n := count
	var g errgroup.Group
	for _, p := range targets {
		p := p
		g.Go(func() error {
			return p.send(transport.Envelope{Type: "users_update", Count: &n})
		})
	}
	if err := g.Wait(); err != nil {
		r.logger.Debugw("users_update broadcast partially failed", "doc", docID, "error", err)
	}
}

// broadcastOperation fans {type: operation, operation} out to every
// participant of docID other than sender. It uses an errgroup so slow
// peers don't serialize the fan-out.
func (r *Registry) broadcastOperation(docID, senderID string, env transport.Envelope) error {
	r.mu.RLock()
	doc, exists := r.docs[docID]
	r.mu.RUnlock()
	if !exists {
		return nil
	}

	doc.mu.RLock()
	targets := make([]*participant, 0, len(doc.participants))
	for id, p := range doc.participants {
		if id == senderID {
			continue
		}
		targets = append(targets, p)
	}
	doc.mu.RUnlock()

	var g errgroup.Group
	for _, p := range targets {
		p := p
		g.Go(func() error {
			return p.send(env)
		})
	}
	return g.Wait()
}
