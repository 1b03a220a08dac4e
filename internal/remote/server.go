package remote

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/hyperengineering/studiosync/internal/types"
)

// ServeConn speaks the remote protocol with one client until the connection
// fails or ctx is canceled. The caller owns conn and closes it afterwards;
// closing it is also how a blocked read is interrupted.
func (h *Hub) ServeConn(ctx context.Context, conn Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	subs := make(map[string]context.CancelFunc)
	for {
		var m Msg
		if err := conn.ReadJSON(&m); err != nil {
			return errors.Wrap(err, "read message")
		}

		switch m.Type {
		case MsgSubscribe:
			if stop, ok := subs[m.SubID]; ok {
				stop()
			}
			subCtx, stop := context.WithCancel(ctx)
			subs[m.SubID] = stop
			wg.Add(1)
			go func(m Msg) {
				defer wg.Done()
				h.serveSubscription(subCtx, conn, m.SubID, m.Collection)
			}(m)

		case MsgUnsubscribe:
			if stop, ok := subs[m.SubID]; ok {
				stop()
				delete(subs, m.SubID)
			}

		case MsgWrite:
			v, err := h.WriteRecord(ctx, m.Collection, m.RecordID, m.Payload, m.BaseVersion)
			if err := conn.WriteJSON(reply(m.ReqID, v, err)); err != nil {
				return errors.Wrap(err, "write reply")
			}

		case MsgDelete:
			v, err := h.DeleteRecord(ctx, m.Collection, m.RecordID, m.BaseVersion)
			if err := conn.WriteJSON(reply(m.ReqID, v, err)); err != nil {
				return errors.Wrap(err, "write reply")
			}

		default:
			h.logger.Warn("unknown message type", "type", m.Type)
			if err := conn.WriteJSON(Msg{Type: MsgError, ReqID: m.ReqID, SubID: m.SubID,
				Code: CodeRejected, Message: "unknown message type " + string(m.Type)}); err != nil {
				return errors.Wrap(err, "write reply")
			}
		}
	}
}

func (h *Hub) serveSubscription(ctx context.Context, conn Conn, subID string, c types.Collection) {
	snapshot, q, cancel, err := h.watch(c)
	if err != nil {
		if werr := conn.WriteJSON(Msg{Type: MsgError, SubID: subID, Code: CodeRejected, Message: err.Error()}); werr != nil {
			h.logger.Debug("subscription error write failed", "sub_id", subID, "error", werr)
		}
		return
	}
	defer cancel()

	for _, ev := range snapshot {
		if err := conn.WriteJSON(eventMsg(subID, ev)); err != nil {
			h.logger.Debug("subscription write failed", "sub_id", subID, "error", err)
			return
		}
	}
	if err := conn.WriteJSON(Msg{Type: MsgSynced, SubID: subID, Collection: c}); err != nil {
		h.logger.Debug("subscription write failed", "sub_id", subID, "error", err)
		return
	}

	for {
		ev, err := q.next(ctx)
		if err != nil {
			return
		}
		if err := conn.WriteJSON(eventMsg(subID, ev)); err != nil {
			h.logger.Debug("subscription write failed", "sub_id", subID, "error", err)
			return
		}
	}
}

func reply(reqID string, version int64, err error) Msg {
	if err == nil {
		return Msg{Type: MsgAck, ReqID: reqID, Version: version}
	}
	code := CodeUnavailable
	switch KindOf(err) {
	case KindRejected:
		code = CodeRejected
	case KindStale:
		code = CodeStale
	}
	return Msg{Type: MsgNack, ReqID: reqID, Code: code, Message: messageOf(err)}
}

func messageOf(err error) string {
	var we *WriteError
	if errors.As(err, &we) && we.Message != "" {
		return we.Message
	}
	return err.Error()
}

func nackError(m Msg) error {
	switch m.Code {
	case CodeRejected:
		return Rejected(m.Message)
	case CodeStale:
		return Stale(m.Message)
	}
	return Transient(errors.New(m.Message))
}
