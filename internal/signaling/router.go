package signaling

import (
	"context"
	"log/slog"
	"math"
	"time"

	"chat-relay/internal/calls"
	"chat-relay/internal/messages"
	"chat-relay/internal/registry"
)

// completedThreshold separates answered calls from ones torn down
// before anyone picked up. The relay never sees an explicit "answered"
// signal (those pass through opaquely), so duration is the heuristic:
// longer than this and the call counts as completed, otherwise missed.
const completedThreshold = 3 * time.Second

// callerNamePlaceholder is substituted when the directory lookup fails.
const callerNamePlaceholder = "Unknown"

const offlineMessage = "User is offline"

// MessageStore persists chat messages.
type MessageStore interface {
	Create(ctx context.Context, conversationID, senderID, body string, at time.Time) (messages.Message, error)
}

// CallLogStore persists terminated-call records.
type CallLogStore interface {
	Create(ctx context.Context, l calls.Log) (calls.Log, error)
}

// Directory resolves a subject identifier to a display name.
type Directory interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

// Router classifies inbound events and dispatches them: chat messages
// are persisted, acknowledged and fanned out; call-control events drive
// the in-memory call lifecycle and are relayed to the addressed peer.
// It is the single component mutating the call tracker and writing the
// chat and call-log stores.
//
// Handlers for different connections run concurrently; the registry and
// tracker serialize their own state. Events from one connection arrive
// here in the order they were read.
type Router struct {
	reg         *registry.Registry
	tracker     *CallTracker
	msgs        MessageStore
	callLogs    CallLogStore
	memberships messages.Memberships
	directory   Directory
	log         *slog.Logger

	// now is injectable so duration-dependent outcomes are testable.
	now func() time.Time
}

func NewRouter(
	reg *registry.Registry,
	tracker *CallTracker,
	msgs MessageStore,
	callLogs CallLogStore,
	memberships messages.Memberships,
	directory Directory,
	log *slog.Logger,
) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		reg:         reg,
		tracker:     tracker,
		msgs:        msgs,
		callLogs:    callLogs,
		memberships: memberships,
		directory:   directory,
		log:         log,
		now:         time.Now,
	}
}

// HandleFrame processes one inbound frame from the given user. Nothing
// here is fatal: malformed frames are dropped with a log line, unknown
// types are ignored, and failures are scoped to the one event.
func (r *Router) HandleFrame(ctx context.Context, fromUserID string, data []byte) {
	ev, err := ParseEvent(data)
	if err != nil {
		r.log.Warn("dropping malformed frame", "user_id", fromUserID, "err", err)
		return
	}

	switch {
	case ev.Type == EventMessageSend:
		r.handleMessageSend(ctx, fromUserID, ev)
	case ev.Type == EventMessageRead:
		// Recognized but not relayed yet: read-receipt propagation is a
		// planned follow-up once receipts are persisted.
	case ev.IsCall():
		r.handleCallSignal(ctx, fromUserID, ev)
	default:
		// Unrecognized types are dropped without surfacing an error.
	}
}

/* ===================== CHAT ===================== */

func (r *Router) handleMessageSend(ctx context.Context, fromUserID string, ev Event) {
	if ev.ConversationID == "" {
		r.log.Warn("message:send missing conversationId", "user_id", fromUserID)
		return
	}

	msg, err := r.msgs.Create(ctx, ev.ConversationID, fromUserID, ev.Body, r.now())
	if err != nil {
		// The sender gets no acknowledgment on persistence failure, so it
		// cannot tell "lost in transit" from "server error". Known gap.
		r.log.Error("message persist failed", "user_id", fromUserID, "conversation_id", ev.ConversationID, "err", err)
		return
	}

	if sender, ok := r.reg.Lookup(fromUserID); ok {
		if err := sender.Send(MessageSentAck{Type: EventMessageSent, Message: msg, TempID: ev.TempID}); err != nil {
			r.log.Warn("ack send failed", "user_id", fromUserID, "err", err)
		}
	}

	r.fanOut(ctx, fromUserID, msg)
}

// fanOut delivers a persisted message to the other conversation
// participants. If membership cannot be resolved it degrades to
// notifying every other registered connection, which over-delivers but
// never silently under-delivers.
func (r *Router) fanOut(ctx context.Context, fromUserID string, msg messages.Message) {
	note := MessageNew{Type: EventMessageNew, Message: msg}

	participants, err := r.memberships.Participants(ctx, msg.ConversationID)
	if err != nil {
		r.log.Warn("membership lookup failed, broadcasting to all connections",
			"conversation_id", msg.ConversationID, "err", err)
		for _, c := range r.reg.Snapshot() {
			if c.UserID() == fromUserID {
				continue
			}
			if err := c.Send(note); err != nil {
				r.log.Warn("message delivery failed", "user_id", c.UserID(), "err", err)
			}
		}
		return
	}

	for _, userID := range participants {
		if userID == fromUserID {
			continue
		}
		c, ok := r.reg.Lookup(userID)
		if !ok {
			continue
		}
		if err := c.Send(note); err != nil {
			r.log.Warn("message delivery failed", "user_id", userID, "err", err)
		}
	}
}

/* ===================== CALLS ===================== */

func (r *Router) handleCallSignal(ctx context.Context, fromUserID string, ev Event) {
	if ev.ToUserID == "" {
		r.log.Warn("call event missing toUserId", "user_id", fromUserID, "type", ev.Type)
		return
	}

	target, online := r.reg.Lookup(ev.ToUserID)

	if ev.Type == EventCallInvite || ev.Type == EventCallIncoming {
		if !online {
			// No active-call entry is created for an unreachable target;
			// there would be nothing to terminate it later.
			r.sendCallError(fromUserID, offlineMessage)
			return
		}

		callerName, err := r.directory.DisplayName(ctx, fromUserID)
		if err != nil || callerName == "" {
			callerName = callerNamePlaceholder
		}

		r.tracker.Begin(fromUserID, ev.ToUserID, r.now())

		payload := ev.forwardPayload(fromUserID, map[string]any{
			"type":       EventCallIncoming,
			"callerName": callerName,
		})
		if err := target.Send(payload); err != nil {
			r.log.Warn("invite delivery failed", "user_id", ev.ToUserID, "err", err)
		}
		return
	}

	switch ev.Type {
	case EventCallEnded:
		r.finishCall(ctx, fromUserID, ev.ToUserID)
	case EventCallDeclined:
		r.declineCall(ctx, fromUserID, ev.ToUserID)
	}

	// Terminal events and opaque call events (offer/answer/candidates)
	// are relayed as-is with the sender attached. Only non-terminal
	// events report an unreachable peer; a teardown has nothing useful
	// to say to a sender whose peer is already gone.
	if online {
		if err := target.Send(ev.forwardPayload(fromUserID, nil)); err != nil {
			r.log.Warn("call event delivery failed", "user_id", ev.ToUserID, "type", ev.Type, "err", err)
		}
	} else if ev.Type != EventCallEnded && ev.Type != EventCallDeclined {
		r.sendCallError(fromUserID, offlineMessage)
	}
}

// finishCall derives the durable outcome of a call either side hung up.
// The active record is keyed by the inviter, so it is looked up under
// the sender first and the peer second. Without a matching record the
// event carries no state to record and is forwarded only.
func (r *Router) finishCall(ctx context.Context, fromUserID, toUserID string) {
	foundKey := fromUserID
	rec, ok := r.tracker.Get(fromUserID)
	if !ok {
		foundKey = toUserID
		rec, ok = r.tracker.Get(toUserID)
	}
	if !ok {
		return
	}

	endedAt := r.now()
	duration := int(math.Round(endedAt.Sub(rec.StartedAt).Seconds()))

	// The record's owner is the caller; its peer field names the callee.
	callerID := foundKey
	receiverID := rec.PeerID

	entry := calls.Log{
		CallerID:   callerID,
		ReceiverID: receiverID,
		StartedAt:  rec.StartedAt,
		EndedAt:    &endedAt,
	}
	if duration > int(completedThreshold/time.Second) {
		entry.Status = calls.StatusCompleted
		entry.DurationSeconds = &duration
	} else {
		entry.Status = calls.StatusMissed
	}

	if _, err := r.callLogs.Create(ctx, entry); err != nil {
		r.log.Error("call log persist failed", "caller_id", callerID, "receiver_id", receiverID, "err", err)
	}

	r.tracker.Delete(fromUserID, toUserID)
}

// declineCall records an explicit pre-answer rejection. The decliner
// addresses the inviter, so the active record lives under toUserId.
func (r *Router) declineCall(ctx context.Context, fromUserID, toUserID string) {
	rec, ok := r.tracker.Get(toUserID)
	if !ok {
		return
	}

	endedAt := r.now()
	entry := calls.Log{
		CallerID:   toUserID,
		ReceiverID: fromUserID,
		Status:     calls.StatusDeclined,
		StartedAt:  rec.StartedAt,
		EndedAt:    &endedAt,
	}
	if _, err := r.callLogs.Create(ctx, entry); err != nil {
		r.log.Error("call log persist failed", "caller_id", toUserID, "receiver_id", fromUserID, "err", err)
	}

	r.tracker.Delete(toUserID)
}

func (r *Router) sendCallError(userID, message string) {
	c, ok := r.reg.Lookup(userID)
	if !ok {
		return
	}
	if err := c.Send(CallError{Type: EventCallError, Message: message}); err != nil {
		r.log.Warn("call error delivery failed", "user_id", userID, "err", err)
	}
}
