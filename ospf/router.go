package ospf

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/davidbalbert/ospfsync/chatterd/common"
	"github.com/davidbalbert/ospfsync/events"
	"github.com/davidbalbert/ospfsync/sched"
	"github.com/davidbalbert/ospfsync/sync"
)

// Router is one OSPF speaker. Everything except the notifier accessors
// must be used from the goroutine that runs the router's scheduler.
type Router struct {
	ID common.RouterID

	sched   sched.Scheduler
	log     *slog.Logger
	metrics *Metrics
	sender  events.Sender

	areas      map[common.AreaID]*Area
	agingTimer *sched.Timer
	started    bool

	events    *sync.QueuedNotifier[events.Event]
	neighbors *sync.Notifier[[]NeighborStatus]
}

type Option func(*Router)

func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		r.log = l
	}
}

func WithMetrics(m *Metrics) Option {
	return func(r *Router) {
		r.metrics = m
	}
}

// WithEventSender forwards every published event to s in addition to the
// router's own subscribers.
func WithEventSender(s events.Sender) Option {
	return func(r *Router) {
		r.sender = s
	}
}

func NewRouter(id common.RouterID, s sched.Scheduler, opts ...Option) *Router {
	r := &Router{
		ID:        id,
		sched:     s,
		log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		areas:     make(map[common.AreaID]*Area),
		events:    sync.NewQueuedNotifier[events.Event](),
		neighbors: sync.NewNotifier[[]NeighborStatus](nil),
	}

	for _, opt := range opts {
		opt(r)
	}

	r.log = r.log.With("router", id)
	r.agingTimer = sched.NewTimer(id.String()+" aging", r.ageDatabases)

	return r
}

// Area returns the area with the given ID, creating it if needed.
func (r *Router) Area(id common.AreaID) *Area {
	a, ok := r.areas[id]
	if !ok {
		a = newArea(r, id)
		r.areas[id] = a
	}
	return a
}

func (r *Router) Areas() []*Area {
	areas := make([]*Area, 0, len(r.areas))
	for _, a := range r.areas {
		areas = append(areas, a)
	}
	slices.SortFunc(areas, func(a, b *Area) int {
		if a.ID < b.ID {
			return -1
		} else if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return areas
}

func (r *Router) allInterfaces() []*Interface {
	var ifaces []*Interface
	for _, a := range r.Areas() {
		ifaces = append(ifaces, a.interfaces...)
	}
	return ifaces
}

// Start brings every interface up, originates the router LSAs and starts
// the aging tick.
func (r *Router) Start() {
	if r.started {
		return
	}
	r.started = true

	r.log.Info("starting", "areas", len(r.areas))

	for _, a := range r.Areas() {
		for _, iface := range a.interfaces {
			iface.Up()
		}
		a.OriginateRouterLSA()
	}

	r.sched.Arm(r.agingTimer, time.Second)
}

func (r *Router) Stop() {
	if !r.started {
		return
	}

	for _, iface := range r.allInterfaces() {
		iface.Down()
	}
	r.sched.Cancel(r.agingTimer)
	r.started = false

	r.log.Info("stopped")
}

func (r *Router) ageDatabases() {
	for _, a := range r.Areas() {
		a.age()
	}
	r.sched.Arm(r.agingTimer, time.Second)
}

// ddSequenceSeed picks the first DD sequence number of an adjacency.
func (r *Router) ddSequenceSeed() uint32 {
	return uint32(r.sched.Now()/time.Millisecond) + uint32(r.ID)
}

// NeighborStatuses reports every neighbor of the router.
func (r *Router) NeighborStatuses() []NeighborStatus {
	var statuses []NeighborStatus
	for _, iface := range r.allInterfaces() {
		for _, n := range iface.sortedNeighbors() {
			statuses = append(statuses, n.Status())
		}
	}
	return statuses
}

func (r *Router) neighborChanged(n *Neighbor, from, to neighborState) {
	r.publish(events.NeighborStateChanged, events.NeighborChange{
		Router:    r.ID,
		Interface: n.iface.Name,
		Neighbor:  n.ID,
		From:      from.String(),
		To:        to.String(),
	})
	r.neighbors.NotifyChange(r.NeighborStatuses())
}

func (r *Router) publish(t events.EventType, data any) {
	e := events.Event{
		Type: t,
		At:   r.sched.Now(),
		Data: data,
	}

	r.events.NotifyChange(e)
	if r.sender != nil {
		r.sender.SendEvent(e)
	}
}

// Subscribe registers for every event published after the call. Safe to
// use from any goroutine.
func (r *Router) Subscribe() sync.Token {
	return r.events.Register()
}

func (r *Router) Unsubscribe(t sync.Token) {
	r.events.Unregister(t)
}

// NextEvent blocks until the next event for t or until ctx is done.
func (r *Router) NextEvent(ctx context.Context, t sync.Token) (events.Event, bool) {
	return r.events.AwaitChange(ctx, t)
}

// Neighbors returns the neighbor table as of the last state change. Safe
// to use from any goroutine.
func (r *Router) Neighbors() ([]NeighborStatus, int64) {
	return r.neighbors.LastChange()
}

func (r *Router) AwaitNeighbors(ctx context.Context, seq int64) ([]NeighborStatus, int64) {
	return r.neighbors.AwaitChange(ctx, seq)
}
