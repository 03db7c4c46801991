// ABOUTME: Hub owns one presence service instance: registry, coordinator, topics and delivery
// ABOUTME: Opens and closes connections and dispatches their inbound requests

package hub

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/wallboard-gateway/internal/dashboard"
	"github.com/2389/wallboard-gateway/internal/fanout"
	"github.com/2389/wallboard-gateway/internal/messaging"
	"github.com/2389/wallboard-gateway/internal/metrics"
	"github.com/2389/wallboard-gateway/internal/presence"
	"github.com/2389/wallboard-gateway/internal/statusupdate"
	"github.com/2389/wallboard-gateway/internal/store"
)

// Error codes carried in error frames.
const (
	CodeNotOnline      = "NOT_ONLINE"
	CodeInvalidStatus  = "INVALID_STATUS"
	CodeForbidden      = "FORBIDDEN"
	CodeInvalidTopic   = "INVALID_TOPIC"
	CodeInvalidMessage = "INVALID_MESSAGE"
	CodeNotFound       = "NOT_FOUND"
	CodeInternal       = "INTERNAL"
)

// Config tunes a Hub.
type Config struct {
	ResumeStatusOnReconnect bool
	RequestDedupeTTL        time.Duration
	MaxMessageLength        int
	RetryCapacity           int
	// SaveDashboardHistory persists every periodic dashboard snapshot.
	SaveDashboardHistory bool
}

// Hub is the coordinating service instance. Everything it owns is scoped to
// it, so several hubs can run side by side in one process.
type Hub struct {
	store      store.Store
	registry   *presence.Registry
	writer     *presence.DurableWriter
	coord      *presence.Coordinator
	router     *fanout.Router
	bus        *fanout.Bus
	updater    *statusupdate.Updater
	aggregator *dashboard.Aggregator
	relay      *messaging.Relay
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// New wires a Hub around st. m may be nil.
func New(st store.Store, m *metrics.Metrics, cfg Config, logger *slog.Logger) *Hub {
	registry := presence.NewRegistry(logger)
	router := fanout.NewRouter(registry, logger)
	bus := fanout.NewBus(router, logger)
	if m != nil {
		bus.SetObserver(m)
	}

	writer := presence.NewDurableWriter(st, cfg.RetryCapacity, logger)
	writer.OnFailure = m.PersistenceFailed

	notifiers := []presence.Notifier{fanout.NewDispatcher(bus, logger)}
	if m != nil {
		notifiers = append(notifiers, m)
	}
	coord := presence.NewCoordinator(st, writer, logger, presence.Options{
		ResumeStatusOnReconnect: cfg.ResumeStatusOnReconnect,
		Notifiers:               notifiers,
	})

	opts := dashboard.Options{OnPush: m.DashboardPushed}
	if cfg.SaveDashboardHistory {
		opts.History = st
	}
	aggregator := dashboard.NewAggregator(coord, bus, logger, opts)
	coord.AddNotifier(aggregator)

	m.WatchBacklog(writer.Backlog)
	m.WatchOnline(coord.Snapshot)

	return &Hub{
		store:      st,
		registry:   registry,
		writer:     writer,
		coord:      coord,
		router:     router,
		bus:        bus,
		updater:    statusupdate.NewUpdater(coord, cfg.RequestDedupeTTL, logger),
		aggregator: aggregator,
		relay:      messaging.NewRelay(st, bus, cfg.MaxMessageLength, logger),
		metrics:    m,
		logger:     logger.With("component", "hub"),
	}
}

// Start reconciles persisted presence and starts the background loops.
func (h *Hub) Start(ctx context.Context, pushInterval time.Duration) error {
	h.writer.Start(ctx)
	n, err := h.coord.Reconcile(ctx)
	if err != nil {
		return err
	}
	h.aggregator.StartPeriodicPush(ctx, pushInterval)
	h.logger.Info("hub started", "reconciled", n, "push_interval", pushInterval)
	return nil
}

// Stop closes every live connection and stops the background loops.
func (h *Hub) Stop(ctx context.Context) {
	for _, conn := range h.registry.List() {
		h.Disconnect(ctx, conn.ID)
	}
	h.aggregator.Close()
	h.updater.Close()
	h.writer.Close()
	h.logger.Info("hub stopped")
}

// Open admits a verified principal on a new connection whose outbound
// frames go to sink. The connection is subscribed to its own agent topic,
// its team topic, and the dashboard when its role can monitor.
func (h *Hub) Open(ctx context.Context, sink fanout.Sink, p presence.Principal) (presence.ConnectionID, error) {
	connID := presence.ConnectionID(uuid.New().String())
	if _, err := h.registry.Register(connID, p); err != nil {
		return "", err
	}
	h.bus.Attach(connID, sink)

	topics := []fanout.Topic{fanout.AgentTopic(p.Identity)}
	if p.Team != "" {
		topics = append(topics, fanout.TeamTopic(p.Team))
	}
	if p.Role.CanMonitor() {
		topics = append(topics, fanout.Dashboard)
	}
	for _, topic := range topics {
		if err := h.router.Join(connID, topic, false); err != nil {
			h.release(connID)
			return "", err
		}
	}

	res, err := h.coord.Connect(ctx, p, connID)
	if err != nil {
		h.release(connID)
		return "", err
	}
	h.metrics.ConnectionOpened()

	_ = h.bus.SendTo(connID, fanout.Envelope{
		Type: fanout.TypeConnectionSuccess,
		Payload: fanout.ConnectionSuccessPayload{
			ConnectionID: connID,
			Record:       res.Record,
			Topics:       topics,
		},
	})
	if p.Role.CanMonitor() {
		_ = h.bus.SendTo(connID, dashboard.Envelope(h.aggregator.Snapshot()))
	}

	if res.Superseded != "" {
		_ = h.bus.SendTo(res.Superseded, fanout.Envelope{
			Type: fanout.TypeSessionSuperseded,
			Payload: fanout.SupersededPayload{
				Identity:     p.Identity,
				ConnectionID: res.Superseded,
				Timestamp:    res.Event.At,
			},
		})
		h.Disconnect(ctx, res.Superseded)
	}

	h.logger.Info("connection opened",
		"connection_id", connID,
		"identity", p.Identity,
		"role", p.Role,
		"team", p.Team,
		"superseded", res.Superseded,
	)
	return connID, nil
}

// Disconnect tears down connID: it leaves every topic and the registry
// before the coordinator sees the disconnect, then its sink is closed.
// Unknown or already closed connections are ignored.
func (h *Hub) Disconnect(ctx context.Context, connID presence.ConnectionID) {
	h.router.LeaveAll(connID)
	sink, _ := h.bus.Detach(connID)
	conn, err := h.registry.Unregister(connID)
	if err != nil {
		return
	}
	h.metrics.ConnectionClosed()

	_, applied := h.coord.Disconnect(ctx, conn.Identity, connID)
	if sink != nil {
		sink.Close()
	}
	h.logger.Info("connection closed",
		"connection_id", connID,
		"identity", conn.Identity,
		"went_offline", applied,
	)
}

func (h *Hub) release(connID presence.ConnectionID) {
	h.router.LeaveAll(connID)
	h.bus.Detach(connID)
	_, _ = h.registry.Unregister(connID)
}

// Handle runs one inbound request from connID. Replies, including errors,
// go back on the same connection.
func (h *Hub) Handle(ctx context.Context, connID presence.ConnectionID, in Inbound) {
	conn, err := h.registry.Lookup(connID)
	if err != nil {
		h.logger.Debug("request from unknown connection", "connection_id", connID)
		return
	}

	var reply fanout.Envelope
	switch req := in.(type) {
	case StatusChange:
		reply, err = h.handleStatus(ctx, conn, req)
	case Join:
		reply, err = h.handleJoin(conn, req)
	case Leave:
		reply, err = h.handleLeave(conn, req)
	case Heartbeat:
		err = h.registry.Touch(conn.ID)
		reply = fanout.Envelope{Type: fanout.TypePong}
	case Logout:
		h.Disconnect(ctx, conn.ID)
		return
	case SendMessage:
		reply, err = h.handleMessage(ctx, conn, req)
	default:
		h.logger.Warn("unhandled inbound request", "connection_id", connID)
		return
	}

	if err != nil {
		reply = fanout.ErrorEnvelope(in.requestID(), ErrorCode(err), err.Error())
	}
	reply.RequestID = in.requestID()
	if err := h.bus.SendTo(conn.ID, reply); err != nil {
		h.logger.Debug("reply not delivered", "connection_id", conn.ID, "type", reply.Type, "error", err)
	}
}

func (h *Hub) handleStatus(ctx context.Context, conn presence.Connection, req StatusChange) (fanout.Envelope, error) {
	res, err := h.ApplyStatusChange(ctx, statusupdate.Request{
		Identity:  conn.Identity,
		Status:    req.Status,
		Channel:   presence.ChannelSocket,
		RequestID: req.RequestID,
	})
	if err != nil {
		return fanout.Envelope{}, err
	}
	return StatusUpdated(res.Event), nil
}

func (h *Hub) handleJoin(conn presence.Connection, req Join) (fanout.Envelope, error) {
	topic, err := fanout.ParseTopic(req.Topic)
	if err != nil {
		return fanout.Envelope{}, err
	}
	if err := h.router.Join(conn.ID, topic, req.Monitor); err != nil {
		if errors.Is(err, fanout.ErrForbidden) {
			h.metrics.JoinRefused()
		}
		return fanout.Envelope{}, err
	}
	if topic == fanout.Dashboard {
		_ = h.bus.SendTo(conn.ID, dashboard.Envelope(h.aggregator.Snapshot()))
	}
	return fanout.Envelope{Type: fanout.TypeJoined, Payload: fanout.TopicPayload{Topic: topic}}, nil
}

func (h *Hub) handleLeave(conn presence.Connection, req Leave) (fanout.Envelope, error) {
	topic, err := fanout.ParseTopic(req.Topic)
	if err != nil {
		return fanout.Envelope{}, err
	}
	h.router.Leave(conn.ID, topic)
	return fanout.Envelope{Type: fanout.TypeLeft, Payload: fanout.TopicPayload{Topic: topic}}, nil
}

func (h *Hub) handleMessage(ctx context.Context, conn presence.Connection, req SendMessage) (fanout.Envelope, error) {
	sender := presence.Principal{Identity: conn.Identity, Role: conn.Role, Team: conn.Team}
	msg, delivered, err := h.SendMessage(ctx, sender, req.Message)
	if err != nil {
		return fanout.Envelope{}, err
	}
	return fanout.Envelope{
		Type:    fanout.TypeMessageSent,
		Payload: messaging.SentPayload{ID: msg.ID, Delivered: delivered},
	}, nil
}

// ApplyStatusChange applies a status request from either channel.
func (h *Hub) ApplyStatusChange(ctx context.Context, req statusupdate.Request) (statusupdate.Result, error) {
	res, err := h.updater.ApplyStatusChange(ctx, req)
	switch {
	case err != nil:
		h.metrics.StatusRequest(req.Channel, ErrorCode(err))
	case res.Duplicate:
		h.metrics.DuplicateRequest(req.Channel)
		h.metrics.StatusRequest(req.Channel, "duplicate")
	default:
		h.metrics.StatusRequest(req.Channel, "ok")
	}
	return res, err
}

// SendMessage relays a supervisor message.
func (h *Hub) SendMessage(ctx context.Context, sender presence.Principal, req messaging.Request) (*store.Message, int, error) {
	msg, delivered, err := h.relay.Send(ctx, sender, req)
	if err != nil {
		return nil, 0, err
	}
	h.metrics.MessageSent(msg.Kind)
	return msg, delivered, nil
}

// SweepStale closes every connection whose last heartbeat is before cutoff.
// Each goes through the ordinary abrupt-disconnect path.
func (h *Hub) SweepStale(ctx context.Context, cutoff time.Time) int {
	stale := h.registry.Stale(cutoff)
	for _, conn := range stale {
		h.logger.Warn("closing stale connection",
			"connection_id", conn.ID,
			"identity", conn.Identity,
			"last_heartbeat", conn.LastHeartbeat,
		)
		h.Disconnect(ctx, conn.ID)
	}
	h.metrics.StaleClosed(len(stale))
	return len(stale)
}

// Touch records a transport-level heartbeat for connID.
func (h *Hub) Touch(connID presence.ConnectionID) {
	_ = h.registry.Touch(connID)
}

// Healthy reports whether the registry and coordinator accept operations
// and the persistence retry backlog has room.
func (h *Hub) Healthy() bool {
	return h.registry.Probe() && h.coord.Probe()
}

// Presence returns the current record for identity.
func (h *Hub) Presence(identity presence.Identity) (presence.Record, error) {
	return h.coord.Get(identity)
}

// PresenceAll returns every known record, sorted by identity.
func (h *Hub) PresenceAll() []presence.Record {
	return h.coord.Snapshot()
}

// Dashboard computes the current dashboard snapshot.
func (h *Hub) Dashboard() dashboard.Snapshot {
	return h.aggregator.Snapshot()
}

// Messages lists messages visible to identity.
func (h *Hub) Messages(ctx context.Context, identity presence.Identity, team string, limit int) ([]*store.Message, error) {
	return h.relay.List(ctx, identity, team, limit)
}

// History lists persisted status transitions for identity, newest first.
func (h *Hub) History(ctx context.Context, identity presence.Identity, limit int) ([]*store.StatusHistoryEntry, error) {
	return h.store.ListStatusHistory(ctx, identity, limit)
}

// Connections returns the number of live connections.
func (h *Hub) Connections() int {
	return h.registry.Len()
}

// StatusUpdated builds the acknowledgement for an applied status change.
func StatusUpdated(ev presence.Event) fanout.Envelope {
	return fanout.Envelope{
		Type: fanout.TypeStatusUpdated,
		Payload: fanout.StatusUpdatedPayload{
			Identity:  ev.Identity,
			Status:    ev.Status,
			Version:   ev.Version,
			Timestamp: ev.At,
		},
	}
}

// ErrorCode maps an error to the code carried in error frames.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, presence.ErrNotOnline):
		return CodeNotOnline
	case errors.Is(err, presence.ErrInvalidStatus):
		return CodeInvalidStatus
	case errors.Is(err, fanout.ErrForbidden):
		return CodeForbidden
	case errors.Is(err, fanout.ErrInvalidTopic):
		return CodeInvalidTopic
	case errors.Is(err, messaging.ErrInvalidMessage):
		return CodeInvalidMessage
	case errors.Is(err, presence.ErrNotFound):
		return CodeNotFound
	default:
		return CodeInternal
	}
}
