package output

import (
	"context"
	"strconv"
	"sync"

	"github.com/JakeFAU/showtimes-crawler/internal/crawlctx"
	"github.com/JakeFAU/showtimes-crawler/internal/metrics"
	"github.com/JakeFAU/showtimes-crawler/internal/model"
)

// Memory keeps saved documents in memory. It backs dry runs and the status
// API's result listing.
type Memory struct {
	mu       sync.RWMutex
	docs     []Document
	Filename FilenameBuilder
}

// NewMemory returns an empty Memory writer.
func NewMemory() *Memory {
	return &Memory{}
}

// Save implements Writer.
func (m *Memory) Save(_ context.Context, result *model.Result, _ *crawlctx.Context) (string, error) {
	doc, err := Encode(result, m.Filename)
	if err != nil {
		metrics.ObserveDocument("memory", "error")
		return "", err
	}
	m.mu.Lock()
	m.docs = append(m.docs, doc)
	m.mu.Unlock()
	metrics.ObserveDocument("memory", "ok")
	return "memory://" + doc.Name, nil
}

// Documents returns the saved documents in save order.
func (m *Memory) Documents() []Document {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Document, len(m.docs))
	copy(out, m.docs)
	return out
}

// MemoryPublisher records published payloads for inspection.
type MemoryPublisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
}

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	Topic   string
	Payload any
}

// NewMemoryPublisher returns an empty MemoryPublisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// Publish records the message and returns a pseudo ID.
func (p *MemoryPublisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, PublishedMessage{Topic: topic, Payload: payload})
	return "memory-" + strconv.Itoa(len(p.messages)), nil
}

// Messages returns the recorded publishes.
func (p *MemoryPublisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}
