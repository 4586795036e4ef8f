package ws

import (
	"context"
	"fmt"
	"log/slog"

	"telecare/internal/domain"
	"telecare/internal/presence"
	"telecare/internal/protocol"
	"telecare/internal/service"
)

// Dispatcher routes decoded requests to the services. The request set is
// closed, so the switch in handle covers every variant.
type Dispatcher struct {
	messages *service.MessageService
	calls    *service.CallService
	status   *service.StatusService
	log      *slog.Logger
}

func NewDispatcher(messages *service.MessageService, calls *service.CallService, status *service.StatusService, log *slog.Logger) *Dispatcher {
	return &Dispatcher{messages: messages, calls: calls, status: status, log: log}
}

// Dispatch runs one request for session s and pushes its reply or error back.
func (d *Dispatcher) Dispatch(ctx context.Context, s presence.Session, req protocol.Request) {
	reply, err := d.handle(ctx, s.Peer(), req)
	if err != nil {
		d.log.Debug("ws: request rejected", "participant", s.Peer().ID, "event", req.Event(), "err", err)
		_ = s.Push(protocol.NewError(req.Event(), err))
		return
	}
	if reply != nil {
		_ = s.Push(reply)
	}
}

func (d *Dispatcher) handle(ctx context.Context, me domain.Peer, req protocol.Request) (protocol.Push, error) {
	switch r := req.(type) {
	case *protocol.SendMessage:
		if err := sameParticipant(me, r.SenderID); err != nil {
			return nil, err
		}
		senderRole, err := domain.ParseRole(r.SenderType)
		if err != nil {
			return nil, err
		}
		if senderRole != me.Role {
			return nil, fmt.Errorf("%w: session role is %s", domain.ErrUnauthorized, me.Role)
		}
		receiverRole, err := domain.ParseRole(r.ReceiverType)
		if err != nil {
			return nil, err
		}
		_, err = d.messages.Send(ctx, service.SendInput{
			SenderID:     me.ID,
			SenderRole:   me.Role,
			ReceiverID:   r.ReceiverID,
			ReceiverRole: receiverRole,
			Text:         r.Text,
		})
		return nil, err

	case *protocol.GetConversations:
		if err := sameParticipant(me, r.UserID); err != nil {
			return nil, err
		}
		convs, err := d.messages.Conversations(ctx, me.ID)
		if err != nil {
			return nil, err
		}
		return &protocol.UserConversations{Conversations: convs}, nil

	case *protocol.GetChatHistory:
		msgs, err := d.messages.History(ctx, r.ConversationID, me.ID)
		if err != nil {
			return nil, err
		}
		return &protocol.ChatHistory{ConversationID: r.ConversationID, Messages: msgs}, nil

	case *protocol.MarkMessagesRead:
		if err := sameParticipant(me, r.UserID); err != nil {
			return nil, err
		}
		_, err := d.messages.MarkRead(ctx, r.ConversationID, me.ID)
		return nil, err

	case *protocol.SendInvitation:
		if err := sameParticipant(me, r.CallerID); err != nil {
			return nil, err
		}
		_, err := d.calls.Invite(ctx, me, r.CalleeID)
		return nil, err

	case *protocol.AcceptCall:
		_, err := d.calls.Accept(ctx, me.ID, r.InvitationID)
		return nil, err

	case *protocol.RejectCall:
		_, err := d.calls.Reject(ctx, me.ID, r.InvitationID)
		return nil, err

	case *protocol.CancelCall:
		_, err := d.calls.Cancel(ctx, me.ID, r.InvitationID)
		return nil, err

	case *protocol.GetUserStatus:
		p, err := d.status.Status(ctx, r.UserID)
		if err != nil {
			return nil, err
		}
		reply := &protocol.UserStatus{UserID: p.ID, Role: p.Role, IsOnline: p.IsOnline}
		if !p.LastActive.IsZero() {
			reply.LastActive = &p.LastActive
		}
		return reply, nil
	}
	return nil, fmt.Errorf("%w: unhandled event %q", domain.ErrValidation, req.Event())
}

// sameParticipant rejects payloads that claim another identity. An empty
// claim means the session owner.
func sameParticipant(me domain.Peer, claimed string) error {
	if claimed != "" && claimed != me.ID {
		return fmt.Errorf("%w: acting as %s from a session of %s", domain.ErrUnauthorized, claimed, me.ID)
	}
	return nil
}
