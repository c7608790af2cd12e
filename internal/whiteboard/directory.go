package whiteboard

import (
	"sort"
	"sync"

	"schedkit/internal/eventbus"
	logx "schedkit/pkg/logx"
)

// Reference identifies one registration in a Directory.
type Reference struct {
	// ServiceID is unique per registration and never reused.
	ServiceID int64 `json:"service_id"`
	// PID is the component's stable identity across re-registrations.
	PID        string     `json:"pid,omitempty"`
	Properties Properties `json:"properties"`
}

// Listener observes components coming and going. Deliveries are serialized.
type Listener interface {
	Added(ref Reference)
	Modified(ref Reference)
	Removed(ref Reference)
}

// Directory is an in-memory registry of live components.
type Directory struct {
	log logx.Logger
	bus eventbus.Bus

	mu      sync.Mutex
	seq     int64
	entries map[int64]*entry

	// notifyMu serializes listener deliveries; listeners may call Locate.
	notifyMu  sync.Mutex
	listeners []Listener
}

type entry struct {
	ref Reference
	svc any
}

func NewDirectory(log logx.Logger, bus eventbus.Bus) *Directory {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	return &Directory{log: log, bus: bus, entries: map[int64]*entry{}}
}

// Registration is the handle returned to a registering component.
type Registration struct {
	d  *Directory
	id int64
}

// Register publishes svc under props and notifies listeners.
func (d *Directory) Register(pid string, svc any, props Properties) *Registration {
	d.mu.Lock()
	d.seq++
	ref := Reference{ServiceID: d.seq, PID: pid, Properties: props.clone()}
	d.entries[ref.ServiceID] = &entry{ref: ref, svc: svc}
	d.mu.Unlock()

	d.log.Debug("component registered", logx.Int64("service_id", ref.ServiceID), logx.String("pid", pid))
	d.notify(eventbus.ComponentAppeared, ref, Listener.Added)
	return &Registration{d: d, id: ref.ServiceID}
}

// Reference returns the current reference, or false once unregistered.
func (r *Registration) Reference() (Reference, bool) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	e, ok := r.d.entries[r.id]
	if !ok {
		return Reference{}, false
	}
	return e.ref, true
}

// SetProperties replaces the registration's properties and notifies listeners.
func (r *Registration) SetProperties(props Properties) {
	r.d.mu.Lock()
	e, ok := r.d.entries[r.id]
	if !ok {
		r.d.mu.Unlock()
		return
	}
	e.ref.Properties = props.clone()
	ref := e.ref
	r.d.mu.Unlock()

	r.d.notify(eventbus.ComponentModified, ref, Listener.Modified)
}

// Unregister withdraws the component. Safe to call more than once.
func (r *Registration) Unregister() {
	r.d.mu.Lock()
	e, ok := r.d.entries[r.id]
	delete(r.d.entries, r.id)
	r.d.mu.Unlock()
	if !ok {
		return
	}
	r.d.log.Debug("component unregistered", logx.Int64("service_id", r.id))
	r.d.notify(eventbus.ComponentDisappeared, e.ref, Listener.Removed)
}

// Locate resolves ref to the live service, or false if it is gone.
func (d *Directory) Locate(ref Reference) (any, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[ref.ServiceID]
	if !ok {
		return nil, false
	}
	return e.svc, true
}

// References lists live components ordered by service id.
func (d *Directory) References() []Reference {
	d.mu.Lock()
	out := make([]Reference, 0, len(d.entries))
	for _, e := range d.entries {
		out = append(out, e.ref)
	}
	d.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ServiceID < out[j].ServiceID })
	return out
}

// Track adds l and delivers Added for every component already present.
func (d *Directory) Track(l Listener) (untrack func()) {
	d.notifyMu.Lock()
	d.listeners = append(d.listeners, l)
	for _, ref := range d.References() {
		l.Added(ref)
	}
	d.notifyMu.Unlock()

	return func() {
		d.notifyMu.Lock()
		defer d.notifyMu.Unlock()
		for i, cur := range d.listeners {
			if cur == l {
				d.listeners = append(d.listeners[:i], d.listeners[i+1:]...)
				return
			}
		}
	}
}

func (d *Directory) notify(typ string, ref Reference, deliver func(Listener, Reference)) {
	d.notifyMu.Lock()
	for _, l := range d.listeners {
		deliver(l, ref)
	}
	d.notifyMu.Unlock()
	d.bus.Publish(eventbus.Event{Type: typ, Data: ref})
}
