package rtc

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// ChannelState is the observable data-channel lifecycle.
type ChannelState string

const (
	ChannelConnecting ChannelState = "connecting"
	ChannelOpen       ChannelState = "open"
	ChannelClosing    ChannelState = "closing"
	ChannelClosed     ChannelState = "closed"
)

// ErrChannelNotOpen is returned when sending on a channel that is not open.
var ErrChannelNotOpen = errors.New("data channel is not open")

// DataLink is the application-message surface of the data channel.
type DataLink interface {
	Subscribe(fn func(json.RawMessage)) (dispose func())
	OnState(fn func(ChannelState)) (dispose func())
	State() ChannelState
	SendJSON(v any) error
}

type dataHandlerEntry struct {
	id int
	fn func(json.RawMessage)
}

type channelStateEntry struct {
	id int
	fn func(ChannelState)
}

// DataChannel wraps the negotiated ordered, reliable channel and fans parsed
// JSON messages out to subscribers. Parse failures are dropped without
// affecting channel state.
type DataChannel struct {
	mu       sync.Mutex
	dc       *webrtc.DataChannel
	log      *zap.Logger
	state    ChannelState
	nextID   int
	handlers []dataHandlerEntry
	stateSub []channelStateEntry
}

func newDataChannel(dc *webrtc.DataChannel, log *zap.Logger) *DataChannel {
	if log == nil {
		log = zap.NewNop()
	}
	c := &DataChannel{dc: dc, log: log, state: ChannelConnecting}

	dc.OnOpen(func() {
		c.setState(ChannelOpen)
	})
	dc.OnClose(func() {
		c.setState(ChannelClosed)
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if !json.Valid(msg.Data) {
			c.log.Warn("dropping malformed data-channel message", zap.String("label", dc.Label()))
			return
		}
		c.mu.Lock()
		handlers := make([]func(json.RawMessage), 0, len(c.handlers))
		for _, entry := range c.handlers {
			handlers = append(handlers, entry.fn)
		}
		c.mu.Unlock()
		for _, fn := range handlers {
			fn(json.RawMessage(msg.Data))
		}
	})
	return c
}

// Label returns the negotiated channel label.
func (c *DataChannel) Label() string {
	return c.dc.Label()
}

// State returns the current channel lifecycle state.
func (c *DataChannel) State() ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers a message handler and returns its disposer. Handlers
// receive every valid JSON message in arrival order.
func (c *DataChannel) Subscribe(fn func(json.RawMessage)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.handlers = append(c.handlers, dataHandlerEntry{id: id, fn: fn})
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, entry := range c.handlers {
			if entry.id == id {
				c.handlers = append(c.handlers[:i], c.handlers[i+1:]...)
				return
			}
		}
	}
}

// OnState registers a lifecycle handler and returns its disposer. The session
// layer gates control affordances (e.g. recalibrate) on the open state.
func (c *DataChannel) OnState(fn func(ChannelState)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.stateSub = append(c.stateSub, channelStateEntry{id: id, fn: fn})
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, entry := range c.stateSub {
			if entry.id == id {
				c.stateSub = append(c.stateSub[:i], c.stateSub[i+1:]...)
				return
			}
		}
	}
}

// SendJSON serializes and transmits one application message.
func (c *DataChannel) SendJSON(v any) error {
	c.mu.Lock()
	open := c.state == ChannelOpen
	c.mu.Unlock()
	if !open {
		return ErrChannelNotOpen
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode data-channel message: %w", err)
	}
	if err := c.dc.Send(data); err != nil {
		return fmt.Errorf("send data-channel message: %w", err)
	}
	return nil
}

func (c *DataChannel) close() {
	c.setState(ChannelClosing)
	_ = c.dc.Close()
}

func (c *DataChannel) setState(state ChannelState) {
	c.mu.Lock()
	if c.state == state || c.state == ChannelClosed {
		c.mu.Unlock()
		return
	}
	c.state = state
	subs := make([]func(ChannelState), 0, len(c.stateSub))
	for _, entry := range c.stateSub {
		subs = append(subs, entry.fn)
	}
	c.mu.Unlock()
	for _, fn := range subs {
		fn(state)
	}
}
