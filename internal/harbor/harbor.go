// Package harbor routes messages between nodes. Outbound remote messages are
// published to the destination node's topic; global names ride their own
// topics so the owning node picks them up wherever it lives. Registration
// announcements feed a route cache that lets repeated name sends go straight
// to the owner's node topic.
package harbor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	wmmessage "github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sony/gobreaker"

	"github.com/rushrushgogogo/skynet/internal/message"
)

const (
	nodeTopicPrefix = "harbor.node."
	nameTopicPrefix = "harbor.name."
	namesTopic      = "harbor.names"

	routeCacheSize = 1024
)

// Sink is the local delivery path inbound messages are pushed through.
type Sink interface {
	PushMessage(destination message.Handle, m message.Message) error
}

// wireMessage is the JSON envelope a remote message travels in.
type wireMessage struct {
	Destination uint32 `json:"destination,omitempty"`
	Name        string `json:"name,omitempty"`
	Source      uint32 `json:"source"`
	Session     int32  `json:"session"`
	Payload     []byte `json:"payload,omitempty"`
}

// wireName announces a global name binding to the cluster.
type wireName struct {
	Name   string `json:"name"`
	Handle uint32 `json:"handle"`
}

// Harbor is one node's port to the rest of the cluster.
type Harbor struct {
	nodeID uint32
	logger *slog.Logger

	publisher  wmmessage.Publisher
	subscriber wmmessage.Subscriber
	breaker    *gobreaker.CircuitBreaker

	// routes caches name announcements from the cluster so name-addressed
	// sends can skip the name topic.
	routes *lru.Cache[string, message.Handle]

	mu    sync.Mutex
	sink  Sink
	names map[string]message.Handle

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a harbor for nodeID on the given pubsub pair.
func New(nodeID uint32, pub wmmessage.Publisher, sub wmmessage.Subscriber, logger *slog.Logger) (*Harbor, error) {
	routes, err := lru.New[string, message.Handle](routeCacheSize)
	if err != nil {
		return nil, fmt.Errorf("harbor route cache: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Harbor{
		nodeID:     nodeID,
		logger:     logger.With("component", "harbor", "node", nodeID),
		publisher:  pub,
		subscriber: sub,
		routes:     routes,
		names:      make(map[string]message.Handle),
		ctx:        ctx,
		cancel:     cancel,
	}
	h.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: fmt.Sprintf("harbor-%d", nodeID),
		OnStateChange: func(name string, from, to gobreaker.State) {
			h.logger.Warn("harbor breaker state change", "from", from.String(), "to", to.String())
		},
	})
	return h, nil
}

// NodeID returns the local harbor id.
func (h *Harbor) NodeID() uint32 { return h.nodeID }

// SetSink wires the local delivery path; must happen before Start.
func (h *Harbor) SetSink(sink Sink) {
	h.mu.Lock()
	h.sink = sink
	h.mu.Unlock()
}

// IsRemote reports whether handle lives on another node.
func (h *Harbor) IsRemote(handle message.Handle) bool {
	return handle.Harbor() != h.nodeID
}

func (h *Harbor) publish(topic string, payload []byte) error {
	_, err := h.breaker.Execute(func() (any, error) {
		msg := wmmessage.NewMessage(uuid.NewString(), payload)
		return nil, h.publisher.Publish(topic, msg)
	})
	if err != nil {
		return fmt.Errorf("harbor publish %s: %w", topic, err)
	}
	return nil
}

// Send hands a remote message to the cluster. The harbor owns the payload
// from this call on; an error means the message was dropped and the caller's
// drop accounting applies.
func (h *Harbor) Send(rmsg *message.Remote) error {
	wire := wireMessage{
		Source:  uint32(rmsg.Source),
		Session: rmsg.Session,
		Payload: rmsg.Message,
	}

	topic := ""
	switch {
	case rmsg.Destination != 0:
		wire.Destination = uint32(rmsg.Destination)
		topic = fmt.Sprintf("%s%d", nodeTopicPrefix, rmsg.Destination.Harbor())
	default:
		// Name-addressed: a cached route targets the owner's node directly,
		// otherwise the name topic finds it.
		if cached, ok := h.routes.Get(rmsg.Name); ok {
			wire.Destination = uint32(cached)
			topic = fmt.Sprintf("%s%d", nodeTopicPrefix, cached.Harbor())
		} else {
			wire.Name = rmsg.Name
			topic = nameTopicPrefix + rmsg.Name
		}
	}

	payload, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("harbor marshal: %w", err)
	}
	return h.publish(topic, payload)
}

// Register publishes a global name binding for a local handle. Ownership of
// the record transfers to the harbor; the name topic is subscribed so
// name-addressed traffic reaches the handle, and the binding is announced
// for route caching.
func (h *Harbor) Register(rname message.RemoteName) error {
	h.mu.Lock()
	_, known := h.names[rname.Name]
	h.names[rname.Name] = rname.Handle
	h.mu.Unlock()

	if !known {
		ch, err := h.subscriber.Subscribe(h.ctx, nameTopicPrefix+rname.Name)
		if err != nil {
			return fmt.Errorf("harbor subscribe name %s: %w", rname.Name, err)
		}
		h.consume(ch)
	}

	payload, err := json.Marshal(wireName{Name: rname.Name, Handle: uint32(rname.Handle)})
	if err != nil {
		return fmt.Errorf("harbor marshal name: %w", err)
	}
	return h.publish(namesTopic, payload)
}

// Start subscribes the node topic and the name announcement feed.
func (h *Harbor) Start() error {
	inbound, err := h.subscriber.Subscribe(h.ctx, fmt.Sprintf("%s%d", nodeTopicPrefix, h.nodeID))
	if err != nil {
		return fmt.Errorf("harbor subscribe node: %w", err)
	}
	h.consume(inbound)

	names, err := h.subscriber.Subscribe(h.ctx, namesTopic)
	if err != nil {
		return fmt.Errorf("harbor subscribe names: %w", err)
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for msg := range names {
			h.onName(msg)
			msg.Ack()
		}
	}()
	return nil
}

// Stop cancels the subscriptions and waits for the consumers to drain.
func (h *Harbor) Stop() {
	h.cancel()
	h.wg.Wait()
}

func (h *Harbor) consume(ch <-chan *wmmessage.Message) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for msg := range ch {
			h.onMessage(msg)
			msg.Ack()
		}
	}()
}

func (h *Harbor) onMessage(msg *wmmessage.Message) {
	var wire wireMessage
	if err := json.Unmarshal(msg.Payload, &wire); err != nil {
		h.logger.Error("drop undecodable harbor message", "err", err)
		return
	}

	destination := message.Handle(wire.Destination)
	if destination == 0 {
		h.mu.Lock()
		destination = h.names[wire.Name]
		h.mu.Unlock()
		if destination == 0 {
			h.logger.Error("drop harbor message for unknown name", "name", wire.Name)
			return
		}
	}

	h.mu.Lock()
	sink := h.sink
	h.mu.Unlock()
	if sink == nil {
		h.logger.Error("drop harbor message before sink wired", "to", destination)
		return
	}

	m := message.Message{
		Source:  message.Handle(wire.Source),
		Session: wire.Session,
		Data:    wire.Payload,
	}
	if err := sink.PushMessage(destination, m); err != nil {
		h.logger.Error("drop inbound harbor message",
			"from", m.Source, "to", destination, "size", len(wire.Payload))
	}
}

func (h *Harbor) onName(msg *wmmessage.Message) {
	var wire wireName
	if err := json.Unmarshal(msg.Payload, &wire); err != nil {
		h.logger.Error("drop undecodable name announcement", "err", err)
		return
	}
	h.routes.Add(wire.Name, message.Handle(wire.Handle))
}
