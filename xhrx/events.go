package xhrx

// Event names a lifecycle notification emitted by a Request.
type Event string

const (
	EventReadyStateChange Event = "readystatechange"
	EventLoadStart        Event = "loadstart"
	EventLoad             Event = "load"
	EventLoadEnd          Event = "loadend"
	EventError            Event = "error"
	EventAbort            Event = "abort"
)

// Listener is a handle for a callback registered with AddEventListener.
// RemoveEventListener matches on the handle's identity, so the same
// function may be registered any number of times and each registration
// removed independently.
type Listener struct {
	fn func(*Request)
}

// AddEventListener registers fn for ev and returns its handle.
// Listeners run after the event's single-slot On* handler, in
// registration order. A nil fn is ignored.
func (r *Request) AddEventListener(ev Event, fn func(*Request)) *Listener {
	if fn == nil {
		return nil
	}
	l := &Listener{fn: fn}
	r.mu.Lock()
	if r.listeners == nil {
		r.listeners = make(map[Event][]*Listener)
	}
	r.listeners[ev] = append(r.listeners[ev], l)
	r.mu.Unlock()
	return l
}

// RemoveEventListener unregisters the listener previously returned by
// AddEventListener for ev. It reports whether a registration was removed.
func (r *Request) RemoveEventListener(ev Event, l *Listener) bool {
	if l == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ls := r.listeners[ev]
	for i, x := range ls {
		if x == l {
			r.listeners[ev] = append(ls[:i:i], ls[i+1:]...)
			return true
		}
	}
	return false
}

// DispatchEvent invokes the single-slot On* handler for ev, if set,
// then every listener registered for ev in registration order. Handlers
// run outside the request's internal lock and may call back into it.
// Panics from handlers are not recovered.
func (r *Request) DispatchEvent(ev Event) {
	r.mu.Lock()
	ls := append([]*Listener(nil), r.listeners[ev]...)
	r.mu.Unlock()
	if slot := r.handlerSlot(ev); slot != nil {
		slot(r)
	}
	for _, l := range ls {
		l.fn(r)
	}
}

func (r *Request) handlerSlot(ev Event) func(*Request) {
	switch ev {
	case EventReadyStateChange:
		return r.OnReadyStateChange
	case EventLoadStart:
		return r.OnLoadStart
	case EventLoad:
		return r.OnLoad
	case EventLoadEnd:
		return r.OnLoadEnd
	case EventError:
		return r.OnError
	case EventAbort:
		return r.OnAbort
	}
	return nil
}

func (r *Request) fire(evs ...Event) {
	for _, ev := range evs {
		r.DispatchEvent(ev)
	}
}
