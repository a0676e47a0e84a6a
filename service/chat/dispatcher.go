package chat

import (
	errs "RTChat/tools/errs"
)

// Handler 处理一类入站事件。
type Handler interface {
	Event() string
	Handle(*ChatContext, *EventFrame, *Client) error
}

type ChatContext struct {
	S *Server
}

type Dispatcher struct {
	handlers map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

func (d *Dispatcher) Register(h Handler) { d.handlers[h.Event()] = h }

func (d *Dispatcher) Dispatch(ctx *ChatContext, f *EventFrame, c *Client) error {
	h := d.GetHandler(f.Event)
	if h == nil {
		return errs.ErrArgs.WrapMsg("no handler for event", "event", f.Event)
	}
	return h.Handle(ctx, f, c)
}

func (d *Dispatcher) GetHandler(event string) Handler {
	return d.handlers[event]
}
