package ws

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vedran77/orderchat/internal/domain"
)

// HubNotifier implements service.Notifier by broadcasting into order rooms.
type HubNotifier struct {
	rooms  *Rooms
	logger zerolog.Logger
}

func NewHubNotifier(rooms *Rooms, logger zerolog.Logger) *HubNotifier {
	return &HubNotifier{rooms: rooms, logger: logger}
}

func (n *HubNotifier) NotifyNewMessage(msg *domain.Message, excludeConn uuid.UUID) {
	orderID := msg.OrderID
	data, err := encodeEvent(EventTypeMessageReceived, &orderID, "", MessagePayload{Message: *msg})
	if err != nil {
		n.logger.Error().Err(err).Msg("ws notifier: marshal error")
		return
	}
	n.rooms.Broadcast(orderID, outbound{data: data, seq: msg.Seq}, excludeConn)
}

func (n *HubNotifier) NotifyRead(receipt domain.ReadReceipt) {
	orderID := receipt.OrderID
	data, err := encodeEvent(EventTypeMessageReadAck, &orderID, "", ReadAckPayload{ReadReceipt: receipt})
	if err != nil {
		n.logger.Error().Err(err).Msg("ws notifier: marshal error")
		return
	}
	n.rooms.Broadcast(orderID, outbound{data: data}, uuid.Nil)
}

func (n *HubNotifier) NotifyTyping(orderID, participantID uuid.UUID, isTyping bool) {
	data, err := encodeEvent(EventTypeTypingChanged, &orderID, "", TypingChangedPayload{
		OrderID:       orderID,
		ParticipantID: participantID,
		IsTyping:      isTyping,
	})
	if err != nil {
		n.logger.Error().Err(err).Msg("ws notifier: marshal error")
		return
	}
	n.rooms.Broadcast(orderID, outbound{data: data}, uuid.Nil)
}

func (n *HubNotifier) SyncParticipants(p domain.Participants) {
	n.rooms.Prune(p)
}
