package signaling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chat-relay/internal/calls"
	"chat-relay/internal/messages"
	"chat-relay/internal/registry"
)

type fakeConn struct {
	mu      sync.Mutex
	userID  string
	alive   bool
	sent    []any
	sendErr error
}

func newFakeConn(userID string) *fakeConn {
	return &fakeConn{userID: userID, alive: true}
}

func (c *fakeConn) UserID() string { return c.userID }
func (c *fakeConn) Alive() bool    { return true }
func (c *fakeConn) SetAlive(bool)  {}
func (c *fakeConn) Ping() error    { return nil }
func (c *fakeConn) Close() error   { return nil }

func (c *fakeConn) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, v)
	return nil
}

func (c *fakeConn) Sent() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]any, len(c.sent))
	copy(out, c.sent)
	return out
}

type fakeDirectory struct {
	names map[string]string
	err   error
}

func (d *fakeDirectory) DisplayName(ctx context.Context, userID string) (string, error) {
	if d.err != nil {
		return "", d.err
	}
	if name, ok := d.names[userID]; ok {
		return name, nil
	}
	return "", errors.New("no such user")
}

type routerFixture struct {
	reg     *registry.Registry
	tracker *CallTracker
	msgs    *messages.MemoryStore
	logs    *calls.MemoryStore
	dir     *fakeDirectory
	router  *Router
	now     time.Time
}

func newFixture(t *testing.T) *routerFixture {
	t.Helper()
	f := &routerFixture{
		reg:     registry.New(),
		tracker: NewCallTracker(),
		msgs:    messages.NewMemoryStore(),
		logs:    calls.NewMemoryStore(),
		dir:     &fakeDirectory{names: map[string]string{"u1": "Alice", "u2": "Bob"}},
		now:     time.Unix(1700000000, 0).UTC(),
	}
	f.router = NewRouter(f.reg, f.tracker, f.msgs, f.logs, f.msgs, f.dir, nil)
	f.router.now = func() time.Time { return f.now }
	return f
}

func (f *routerFixture) connect(userID string) *fakeConn {
	c := newFakeConn(userID)
	f.reg.Register(c)
	return c
}

func (f *routerFixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func (f *routerFixture) handle(from, frame string) {
	f.router.HandleFrame(context.Background(), from, []byte(frame))
}

/* ===================== CHAT ===================== */

func TestChatSend_PersistsAcksAndTargetsParticipants(t *testing.T) {
	f := newFixture(t)
	u1 := f.connect("u1")
	u2 := f.connect("u2")
	u3 := f.connect("u3")
	u4 := f.connect("u4") // registered, but not in the conversation
	f.msgs.SetParticipants("c1", "u1", "u2", "u3")

	f.handle("u1", `{"type":"message:send","conversationId":"c1","body":"hi","tempId":"t-9"}`)

	stored := f.msgs.Messages()
	if len(stored) != 1 {
		t.Fatalf("expected exactly one persisted message, got %d", len(stored))
	}
	if stored[0].SenderID != "u1" || stored[0].Body != "hi" || !stored[0].SentAt.Equal(f.now) {
		t.Fatalf("unexpected stored message: %+v", stored[0])
	}

	sent := u1.Sent()
	if len(sent) != 1 {
		t.Fatalf("sender should receive only the ack, got %d events", len(sent))
	}
	ack, ok := sent[0].(MessageSentAck)
	if !ok {
		t.Fatalf("expected ack, got %T", sent[0])
	}
	if ack.Type != EventMessageSent || ack.TempID != "t-9" || ack.Message.ID != stored[0].ID {
		t.Fatalf("unexpected ack: %+v", ack)
	}

	for _, peer := range []*fakeConn{u2, u3} {
		got := peer.Sent()
		if len(got) != 1 {
			t.Fatalf("expected one notification for %s, got %d", peer.userID, len(got))
		}
		note, ok := got[0].(MessageNew)
		if !ok || note.Type != EventMessageNew || note.Message.Body != "hi" {
			t.Fatalf("unexpected notification for %s: %+v", peer.userID, got[0])
		}
	}

	if len(u4.Sent()) != 0 {
		t.Fatalf("non-participant must not receive the message")
	}
}

func TestChatSend_BroadcastsWhenMembershipUnresolvable(t *testing.T) {
	f := newFixture(t)
	u1 := f.connect("u1")
	u2 := f.connect("u2")
	u3 := f.connect("u3")
	// No participants recorded for c1: lookup returns ErrNotFound.

	f.handle("u1", `{"type":"message:send","conversationId":"c1","body":"hi"}`)

	if len(u2.Sent()) != 1 || len(u3.Sent()) != 1 {
		t.Fatalf("expected degraded broadcast to every other connection")
	}
	// Sender still gets only the ack.
	if len(u1.Sent()) != 1 {
		t.Fatalf("sender must not receive its own broadcast")
	}
}

func TestChatSend_PersistFailureGivesNoAckAndNoFanout(t *testing.T) {
	f := newFixture(t)
	u1 := f.connect("u1")
	u2 := f.connect("u2")
	f.msgs.SetParticipants("c1", "u1", "u2")
	f.msgs.CreateErr = errors.New("store down")

	f.handle("u1", `{"type":"message:send","conversationId":"c1","body":"hi","tempId":"t-1"}`)

	if len(u1.Sent()) != 0 {
		t.Fatalf("no ack on persistence failure")
	}
	if len(u2.Sent()) != 0 {
		t.Fatalf("no fan-out on persistence failure")
	}
}

func TestMessageRead_IsRecognizedNoop(t *testing.T) {
	f := newFixture(t)
	u1 := f.connect("u1")
	u2 := f.connect("u2")

	f.handle("u1", `{"type":"message:read","conversationId":"c1"}`)

	if len(u1.Sent()) != 0 || len(u2.Sent()) != 0 {
		t.Fatalf("message:read must be harmlessly ignored")
	}
}

/* ===================== CALLS ===================== */

func TestCallInvite_ForwardsIncomingWithCallerName(t *testing.T) {
	f := newFixture(t)
	f.connect("u1")
	u2 := f.connect("u2")

	f.handle("u1", `{"type":"call:invite","toUserId":"u2","callType":"video"}`)

	got := u2.Sent()
	if len(got) != 1 {
		t.Fatalf("expected one incoming event, got %d", len(got))
	}
	payload, ok := got[0].(map[string]any)
	if !ok {
		t.Fatalf("expected forwarded payload map, got %T", got[0])
	}
	if payload["type"] != EventCallIncoming {
		t.Fatalf("invite must be rewritten to call:incoming, got %v", payload["type"])
	}
	if payload["fromUserId"] != "u1" || payload["callerName"] != "Alice" {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if payload["callType"] != "video" {
		t.Fatalf("client fields must survive forwarding")
	}

	rec, ok := f.tracker.Get("u1")
	if !ok || rec.PeerID != "u2" || !rec.StartedAt.Equal(f.now) {
		t.Fatalf("expected active call keyed by inviter, got %+v ok=%v", rec, ok)
	}
}

func TestCallInvite_DirectoryFailureUsesPlaceholder(t *testing.T) {
	f := newFixture(t)
	f.dir.err = errors.New("directory down")
	f.connect("u1")
	u2 := f.connect("u2")

	f.handle("u1", `{"type":"call:invite","toUserId":"u2"}`)

	payload := u2.Sent()[0].(map[string]any)
	if payload["callerName"] != callerNamePlaceholder {
		t.Fatalf("expected placeholder name, got %v", payload["callerName"])
	}
}

func TestCallInvite_OfflineTargetGetsErrorAndNoRecord(t *testing.T) {
	f := newFixture(t)
	u1 := f.connect("u1")

	f.handle("u1", `{"type":"call:invite","toUserId":"u2"}`)

	got := u1.Sent()
	if len(got) != 1 {
		t.Fatalf("expected offline error, got %d events", len(got))
	}
	ce, ok := got[0].(CallError)
	if !ok || ce.Type != EventCallError || ce.Message != offlineMessage {
		t.Fatalf("unexpected event: %+v", got[0])
	}
	if f.tracker.Len() != 0 {
		t.Fatalf("no active call may be recorded for an unreachable target")
	}
	if len(f.logs.Logs()) != 0 {
		t.Fatalf("no call log for a never-started call")
	}
}

func TestCallEnded_After5SecondsIsCompleted(t *testing.T) {
	f := newFixture(t)
	f.connect("u1")
	u2 := f.connect("u2")

	f.handle("u1", `{"type":"call:invite","toUserId":"u2"}`)
	f.advance(5 * time.Second)
	f.handle("u1", `{"type":"call:ended","toUserId":"u2"}`)

	logs := f.logs.Logs()
	if len(logs) != 1 {
		t.Fatalf("expected one call log, got %d", len(logs))
	}
	l := logs[0]
	if l.Status != calls.StatusCompleted {
		t.Fatalf("expected completed, got %s", l.Status)
	}
	if l.DurationSeconds == nil || *l.DurationSeconds != 5 {
		t.Fatalf("expected duration 5, got %v", l.DurationSeconds)
	}
	if l.CallerID != "u1" || l.ReceiverID != "u2" {
		t.Fatalf("unexpected roles: %+v", l)
	}
	if f.tracker.Len() != 0 {
		t.Fatalf("active call must be consumed")
	}

	// Peer still gets the raw ended event.
	last := u2.Sent()[len(u2.Sent())-1].(map[string]any)
	if last["type"] != EventCallEnded || last["fromUserId"] != "u1" {
		t.Fatalf("expected forwarded ended event, got %v", last)
	}
}

func TestCallEnded_After2SecondsIsMissed(t *testing.T) {
	f := newFixture(t)
	f.connect("u1")
	f.connect("u2")

	f.handle("u1", `{"type":"call:invite","toUserId":"u2"}`)
	f.advance(2 * time.Second)
	f.handle("u1", `{"type":"call:ended","toUserId":"u2"}`)

	logs := f.logs.Logs()
	if len(logs) != 1 {
		t.Fatalf("expected one call log, got %d", len(logs))
	}
	if logs[0].Status != calls.StatusMissed {
		t.Fatalf("expected missed, got %s", logs[0].Status)
	}
	if logs[0].DurationSeconds != nil {
		t.Fatalf("missed calls carry no duration, got %v", *logs[0].DurationSeconds)
	}
}

func TestCallEnded_ByReceiverResolvesRolesFromRecord(t *testing.T) {
	f := newFixture(t)
	f.connect("u1")
	f.connect("u2")

	f.handle("u1", `{"type":"call:invite","toUserId":"u2"}`)
	f.advance(10 * time.Second)
	// The callee hangs up; the record is keyed by the inviter u1.
	f.handle("u2", `{"type":"call:ended","toUserId":"u1"}`)

	logs := f.logs.Logs()
	if len(logs) != 1 {
		t.Fatalf("expected one call log, got %d", len(logs))
	}
	if logs[0].CallerID != "u1" || logs[0].ReceiverID != "u2" {
		t.Fatalf("roles must come from the active record, got %+v", logs[0])
	}
	if f.tracker.Len() != 0 {
		t.Fatalf("active call must be consumed")
	}
}

func TestCallDeclined_RecordsDeclineWithInviteStartTime(t *testing.T) {
	f := newFixture(t)
	f.connect("u1")
	f.connect("u2")

	inviteAt := f.now
	f.handle("u1", `{"type":"call:invite","toUserId":"u2"}`)
	f.advance(4 * time.Second)
	f.handle("u2", `{"type":"call:declined","toUserId":"u1"}`)

	logs := f.logs.Logs()
	if len(logs) != 1 {
		t.Fatalf("expected one call log, got %d", len(logs))
	}
	l := logs[0]
	if l.Status != calls.StatusDeclined {
		t.Fatalf("expected declined, got %s", l.Status)
	}
	if l.CallerID != "u1" || l.ReceiverID != "u2" {
		t.Fatalf("unexpected roles: %+v", l)
	}
	if !l.StartedAt.Equal(inviteAt) {
		t.Fatalf("start must be the invite time, got %s", l.StartedAt)
	}
	if l.DurationSeconds != nil {
		t.Fatalf("declined calls carry no duration")
	}
	if f.tracker.Len() != 0 {
		t.Fatalf("active call must be consumed")
	}
}

func TestTerminalWithoutRecord_ProducesNoLogAndNoError(t *testing.T) {
	f := newFixture(t)
	u1 := f.connect("u1")
	f.connect("u2")

	f.handle("u1", `{"type":"call:ended","toUserId":"u2"}`)
	f.handle("u1", `{"type":"call:declined","toUserId":"u2"}`)

	if len(f.logs.Logs()) != 0 {
		t.Fatalf("no call log without a matching active record")
	}
	if len(u1.Sent()) != 0 {
		t.Fatalf("terminal events never surface errors to the sender")
	}
}

func TestCallEnded_OfflinePeerFailsSilently(t *testing.T) {
	f := newFixture(t)
	f.connect("u1")
	u2 := f.connect("u2")

	f.handle("u1", `{"type":"call:invite","toUserId":"u2"}`)
	f.reg.Remove("u2", u2)
	f.advance(6 * time.Second)
	f.handle("u1", `{"type":"call:ended","toUserId":"u2"}`)

	// The log is still written; no offline error goes back.
	if len(f.logs.Logs()) != 1 {
		t.Fatalf("expected call log despite offline peer")
	}
	sender, _ := f.reg.Lookup("u1")
	if got := sender.(*fakeConn).Sent(); len(got) != 0 {
		t.Fatalf("expected silence for terminal event to offline peer, got %v", got)
	}
}

func TestOpaqueCallEvent_ForwardedVerbatim(t *testing.T) {
	f := newFixture(t)
	u1 := f.connect("u1")
	u2 := f.connect("u2")

	f.handle("u1", `{"type":"call:offer","toUserId":"u2","sdp":"v=0"}`)

	got := u2.Sent()
	if len(got) != 1 {
		t.Fatalf("expected forwarded offer, got %d events", len(got))
	}
	payload := got[0].(map[string]any)
	if payload["type"] != "call:offer" || payload["sdp"] != "v=0" || payload["fromUserId"] != "u1" {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if f.tracker.Len() != 0 || len(f.logs.Logs()) != 0 {
		t.Fatalf("opaque call events must not mutate state")
	}
	if len(u1.Sent()) != 0 {
		t.Fatalf("no echo to the sender")
	}
}

func TestOpaqueCallEvent_OfflineTargetGetsError(t *testing.T) {
	f := newFixture(t)
	u1 := f.connect("u1")

	f.handle("u1", `{"type":"call:candidate","toUserId":"u2","candidate":"..."}`)

	got := u1.Sent()
	if len(got) != 1 {
		t.Fatalf("expected offline error, got %d", len(got))
	}
	if ce := got[0].(CallError); ce.Message != offlineMessage {
		t.Fatalf("unexpected error: %+v", ce)
	}
}

func TestHandleFrame_DropsMalformedAndUnknown(t *testing.T) {
	f := newFixture(t)
	u1 := f.connect("u1")
	u2 := f.connect("u2")

	f.handle("u1", `{broken`)
	f.handle("u1", `{"type":"presence:update","status":"away"}`)
	f.handle("u1", `{"type":"call:offer"}`) // missing toUserId

	if len(u1.Sent()) != 0 || len(u2.Sent()) != 0 {
		t.Fatalf("malformed and unknown frames must be dropped silently")
	}
	if len(f.msgs.Messages()) != 0 || len(f.logs.Logs()) != 0 {
		t.Fatalf("no state may change")
	}
}
