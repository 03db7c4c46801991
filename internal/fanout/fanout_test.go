// ABOUTME: Tests for topics, the subscription router and the event bus
// ABOUTME: Covers join policy, delivery scoping, union delivery and failed sinks

package fanout

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/wallboard-gateway/internal/presence"
)

// recordingSink captures every envelope it is sent.
type recordingSink struct {
	mu     sync.Mutex
	frames []Envelope
	fail   bool
	closed bool
}

func (s *recordingSink) Send(env Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail || s.closed {
		return ErrSubscriberGone
	}
	s.frames = append(s.frames, env)
	return nil
}

func (s *recordingSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *recordingSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, f := range s.frames {
		out = append(out, f.Type)
	}
	return out
}

type fixture struct {
	registry *presence.Registry
	router   *Router
	bus      *Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := presence.NewRegistry(slog.Default())
	router := NewRouter(reg, slog.Default())
	return &fixture{registry: reg, router: router, bus: NewBus(router, slog.Default())}
}

func (f *fixture) connect(t *testing.T, id presence.ConnectionID, code string, role presence.Role, team string) *recordingSink {
	t.Helper()
	_, err := f.registry.Register(id, presence.Principal{Identity: presence.Identity(code), Role: role, Team: team})
	require.NoError(t, err)
	sink := &recordingSink{}
	f.bus.Attach(id, sink)
	return sink
}

func TestParseTopic(t *testing.T) {
	tests := []struct {
		raw     string
		want    Topic
		wantErr bool
	}{
		{raw: "dashboard", want: Dashboard},
		{raw: "agent:ag001", want: "agent:AG001"},
		{raw: "team:T1", want: "team:T1"},
		{raw: "agent:", wantErr: true},
		{raw: "room:x", wantErr: true},
		{raw: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseTopic(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTopic)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, KindAgent, AgentTopic("AG001").Kind())
	assert.Equal(t, "AG001", AgentTopic("AG001").Subject())
	assert.Equal(t, "", Dashboard.Subject())
}

func TestRouterJoinPolicy(t *testing.T) {
	f := newFixture(t)
	f.connect(t, "agent", "AG001", presence.RoleAgent, "T1")
	f.connect(t, "sup", "SUP01", presence.RoleSupervisor, "")
	f.connect(t, "admin", "ADM01", presence.RoleAdmin, "")

	tests := []struct {
		name    string
		conn    presence.ConnectionID
		topic   Topic
		monitor bool
		wantErr error
	}{
		{"agent joins own topic", "agent", AgentTopic("AG001"), false, nil},
		{"agent joins other agent", "agent", AgentTopic("AG002"), true, ErrForbidden},
		{"agent joins dashboard", "agent", Dashboard, false, ErrForbidden},
		{"agent joins own team", "agent", TeamTopic("T1"), false, nil},
		{"agent joins other team", "agent", TeamTopic("T2"), false, ErrForbidden},
		{"supervisor joins dashboard", "sup", Dashboard, false, nil},
		{"supervisor monitors agent", "sup", AgentTopic("AG001"), true, nil},
		{"supervisor without monitor flag", "sup", AgentTopic("AG001"), false, ErrForbidden},
		{"admin joins dashboard", "admin", Dashboard, false, nil},
		{"admin joins any team", "admin", TeamTopic("T9"), false, nil},
		{"unknown connection", "ghost", Dashboard, false, presence.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.router.Join(tt.conn, tt.topic, tt.monitor)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestRouterLeaveAll(t *testing.T) {
	f := newFixture(t)
	f.connect(t, "sup", "SUP01", presence.RoleSupervisor, "")

	require.NoError(t, f.router.Join("sup", Dashboard, false))
	require.NoError(t, f.router.Join("sup", AgentTopic("AG001"), true))
	require.NoError(t, f.router.Join("sup", TeamTopic("T1"), false))

	f.router.Leave("sup", TeamTopic("T1"))
	assert.Equal(t, []Topic{AgentTopic("AG001"), Dashboard}, f.router.TopicsOf("sup"))

	left := f.router.LeaveAll("sup")
	assert.Len(t, left, 2)
	assert.Empty(t, f.router.SubscribersOf(Dashboard))
	assert.Empty(t, f.router.TopicsOf("sup"))
}

func TestBusDeliveryScoping(t *testing.T) {
	f := newFixture(t)
	agent := f.connect(t, "agent", "AG001", presence.RoleAgent, "")
	sup := f.connect(t, "sup", "SUP01", presence.RoleSupervisor, "")
	require.NoError(t, f.router.Join("agent", AgentTopic("AG001"), false))
	require.NoError(t, f.router.Join("sup", Dashboard, false))
	require.NoError(t, f.router.Join("sup", TeamTopic("T1"), false))

	assert.Equal(t, 1, f.bus.Publish(TeamTopic("T1"), Envelope{Type: "team-only"}))
	assert.Equal(t, 1, f.bus.Publish(Dashboard, Envelope{Type: "dashboard-only"}))
	assert.Equal(t, 1, f.bus.Publish(AgentTopic("AG001"), Envelope{Type: "agent-only"}))

	assert.Equal(t, []string{"agent-only"}, agent.types())
	assert.Equal(t, []string{"team-only", "dashboard-only"}, sup.types())
}

func TestBusPublishManyDeliversOncePerConnection(t *testing.T) {
	f := newFixture(t)
	sup := f.connect(t, "sup", "SUP01", presence.RoleSupervisor, "")
	require.NoError(t, f.router.Join("sup", Dashboard, false))
	require.NoError(t, f.router.Join("sup", AgentTopic("AG001"), true))
	require.NoError(t, f.router.Join("sup", TeamTopic("T1"), false))

	n := f.bus.PublishMany([]Topic{Dashboard, AgentTopic("AG001"), TeamTopic("T1")}, Envelope{Type: "x"})
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"x"}, sup.types())
}

func TestBusFailedSinkReducesCount(t *testing.T) {
	f := newFixture(t)
	ok := f.connect(t, "s1", "SUP01", presence.RoleSupervisor, "")
	gone := f.connect(t, "s2", "SUP02", presence.RoleSupervisor, "")
	gone.fail = true
	require.NoError(t, f.router.Join("s1", Dashboard, false))
	require.NoError(t, f.router.Join("s2", Dashboard, false))

	obs := &countingObserver{}
	f.bus.SetObserver(obs)

	assert.Equal(t, 1, f.bus.Publish(Dashboard, Envelope{Type: "x"}))
	assert.Len(t, ok.types(), 1)
	assert.Equal(t, 1, obs.delivered)
	assert.Equal(t, 1, obs.dropped)

	// Detached but still subscribed: not counted as delivered.
	f.bus.Detach("s1")
	assert.Equal(t, 0, f.bus.Publish(Dashboard, Envelope{Type: "x"}))
}

func TestBusNoReplayForLateSubscriber(t *testing.T) {
	f := newFixture(t)
	sup := f.connect(t, "sup", "SUP01", presence.RoleSupervisor, "")

	assert.Equal(t, 0, f.bus.Publish(Dashboard, Envelope{Type: "early"}))
	require.NoError(t, f.router.Join("sup", Dashboard, false))
	assert.Empty(t, sup.types())
}

func TestBusSendTo(t *testing.T) {
	f := newFixture(t)
	sink := f.connect(t, "c1", "AG001", presence.RoleAgent, "")

	require.NoError(t, f.bus.SendTo("c1", Envelope{Type: TypePong}))
	assert.Equal(t, []string{TypePong}, sink.types())
	assert.ErrorIs(t, f.bus.SendTo("missing", Envelope{Type: TypePong}), ErrSubscriberGone)
}

func TestBusPublishKind(t *testing.T) {
	f := newFixture(t)
	a1 := f.connect(t, "a1", "AG001", presence.RoleAgent, "")
	a2 := f.connect(t, "a2", "AG002", presence.RoleAgent, "")
	sup := f.connect(t, "sup", "SUP01", presence.RoleSupervisor, "")
	require.NoError(t, f.router.Join("a1", AgentTopic("AG001"), false))
	require.NoError(t, f.router.Join("a2", AgentTopic("AG002"), false))
	require.NoError(t, f.router.Join("sup", Dashboard, false))

	assert.Equal(t, 2, f.bus.PublishKind(KindAgent, Envelope{Type: "broadcast"}))
	assert.Len(t, a1.types(), 1)
	assert.Len(t, a2.types(), 1)
	assert.Empty(t, sup.types())
}

func TestDispatcherRoutesPresenceEvents(t *testing.T) {
	f := newFixture(t)
	agent := f.connect(t, "agent", "AG001", presence.RoleAgent, "T1")
	other := f.connect(t, "other", "AG002", presence.RoleAgent, "T2")
	sup := f.connect(t, "sup", "SUP01", presence.RoleSupervisor, "")
	require.NoError(t, f.router.Join("agent", AgentTopic("AG001"), false))
	require.NoError(t, f.router.Join("other", AgentTopic("AG002"), false))
	require.NoError(t, f.router.Join("sup", Dashboard, false))

	d := NewDispatcher(f.bus, slog.Default())
	d.Notify(t.Context(), presence.Event{
		Kind:     presence.EventOffline,
		Identity: "AG001",
		Team:     "T1",
		Previous: presence.StatusBusy,
		Status:   presence.StatusOffline,
		Version:  4,
		At:       time.Now(),
	})

	assert.Equal(t, []string{TypeAgentOffline}, agent.types())
	assert.Equal(t, []string{TypeAgentOffline}, sup.types())
	assert.Empty(t, other.types())
}

func TestEventEnvelope(t *testing.T) {
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	env := EventEnvelope(presence.Event{Kind: presence.EventStatus, Identity: "AG001", Previous: presence.StatusAvailable, Status: presence.StatusBusy, Version: 2, At: at, Channel: presence.ChannelHTTP})
	require.Equal(t, TypeStatusChanged, env.Type)
	p := env.Payload.(StatusChangedPayload)
	assert.Equal(t, presence.StatusAvailable, p.PreviousStatus)
	assert.Equal(t, presence.StatusBusy, p.NewStatus)
	assert.Equal(t, uint64(2), p.Version)

	env = EventEnvelope(presence.Event{Kind: presence.EventOnline, Identity: "AG001", Status: presence.StatusAvailable, Superseded: "old", At: at})
	require.Equal(t, TypeAgentOnline, env.Type)
	assert.True(t, env.Payload.(PresencePayload).Superseded)

	assert.Equal(t, []Topic{Dashboard, AgentTopic("AG001")}, EventTopics(presence.Event{Identity: "AG001"}))
}

type countingObserver struct {
	delivered, dropped int
}

func (o *countingObserver) Delivered(_ string, n int) { o.delivered += n }
func (o *countingObserver) Dropped(_ string, n int)   { o.dropped += n }
