package remote

import "github.com/hyperengineering/studiosync/internal/types"

// Remote protocol messages exchanged over the WebSocket.
//
// Client to server:
//
//	subscribe   start streaming a collection (sub_id, collection)
//	unsubscribe stop a subscription (sub_id)
//	write       replace a record if base_version matches (req_id)
//	delete      remove a record if base_version matches (req_id)
//
// Server to client:
//
//	event   one change of a subscribed collection
//	synced  the initial replay of a subscription is complete
//	ack     a write or delete was applied at version
//	nack    a write or delete was refused (code)
//	error   a subscription ended on the server (sub_id)

// MsgType identifies the protocol message kind.
type MsgType string

const (
	MsgSubscribe   MsgType = "subscribe"
	MsgUnsubscribe MsgType = "unsubscribe"
	MsgWrite       MsgType = "write"
	MsgDelete      MsgType = "delete"

	MsgEvent  MsgType = "event"
	MsgSynced MsgType = "synced"
	MsgAck    MsgType = "ack"
	MsgNack   MsgType = "nack"
	MsgError  MsgType = "error"
)

// Nack codes.
const (
	CodeRejected    = "rejected"
	CodeStale       = "stale"
	CodeUnavailable = "unavailable"
)

// Msg is the envelope for all protocol messages.
type Msg struct {
	Type MsgType `json:"type"`

	ReqID string `json:"req_id,omitempty"`
	SubID string `json:"sub_id,omitempty"`

	Collection  types.Collection `json:"collection,omitempty"`
	RecordID    string           `json:"record_id,omitempty"`
	Payload     types.Payload    `json:"payload,omitempty"`
	BaseVersion int64            `json:"base_version,omitempty"`
	Version     int64            `json:"version,omitempty"`
	Kind        types.EventKind  `json:"kind,omitempty"`

	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func eventMsg(subID string, ev types.ChangeEvent) Msg {
	return Msg{
		Type:       MsgEvent,
		SubID:      subID,
		Collection: ev.Collection,
		RecordID:   ev.RecordID,
		Payload:    ev.Payload,
		Version:    ev.RemoteVersion,
		Kind:       ev.Kind,
	}
}

func (m Msg) event() types.ChangeEvent {
	return types.ChangeEvent{
		Collection:    m.Collection,
		RecordID:      m.RecordID,
		Payload:       m.Payload,
		RemoteVersion: m.Version,
		Kind:          m.Kind,
	}
}
