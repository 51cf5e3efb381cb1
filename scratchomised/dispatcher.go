package scratchomised

import "encoding/json"

// Dispatcher decodes inbound frames and routes them by action. Replies go
// through the reply func; the dispatcher never writes to a socket itself.
type Dispatcher struct {
	store  *ObjectStore
	clicks *ClickLedger
	logger Logger

	reply     func(action string)
	onObjects func(ObjectsEvent)
	onClick   func(ClickEvent)
	onError   func(error)
}

func NewDispatcher(store *ObjectStore, clicks *ClickLedger, logger Logger) *Dispatcher {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Dispatcher{store: store, clicks: clicks, logger: logger}
}

func (d *Dispatcher) SetReply(fn func(action string))    { d.reply = fn }
func (d *Dispatcher) SetOnObjects(fn func(ObjectsEvent)) { d.onObjects = fn }
func (d *Dispatcher) SetOnClick(fn func(ClickEvent))     { d.onClick = fn }
func (d *Dispatcher) SetOnError(fn func(error))          { d.onError = fn }

// Dispatch handles one frame. Bad frames are dropped and reported through
// the error callback; nothing here tears the connection down.
func (d *Dispatcher) Dispatch(frame []byte) {
	env, err := Decode(frame)
	if err != nil {
		d.logger.Warn("dropping unparsable frame", map[string]any{"size": len(frame), "error": err.Error()})
		d.fireError(err)
		return
	}
	if env.Action == "" {
		d.logger.Warn("dropping frame without action", nil)
		d.fireError(NewError(ErrorInvalidMessage, "message has no action"))
		return
	}
	d.logger.Debug("frame received", map[string]any{"action": env.Action, "size": len(frame)})

	switch env.Action {
	case ActionTest:
		if raw, ok := env.Arg("message"); ok {
			d.logger.Info("test message from peer", map[string]any{"message": string(raw)})
		}
		d.send(ActionTestAck)
	case ActionWelcome:
		d.logger.Info("welcome from peer", nil)
		d.send(ActionWelcomeAck)
	case ActionUpdateObjects:
		d.updateObjects(env)
	case ActionObjectClicked:
		d.objectClicked(env)
	default:
		d.logger.Warn("unknown action", map[string]any{"action": env.Action})
	}
}

func (d *Dispatcher) updateObjects(env Envelope) {
	raw, ok := env.Arg("objects")
	if !ok {
		d.fireError(NewError(ErrorMissingArgument, "update_objects without objects"))
		return
	}
	var records []json.RawMessage
	if err := json.Unmarshal(raw, &records); err != nil {
		d.logger.Error("rejecting update_objects", map[string]any{"error": err.Error()})
		d.fireError(WrapError(ErrorSerialization, "objects is not a list", err))
		return
	}
	n := d.store.ReplaceRaw(records)
	ev := ObjectsEvent{Revision: d.store.Revision(), Count: n, Received: len(records)}
	d.logger.Info("objects updated", map[string]any{"count": n, "received": len(records), "revision": ev.Revision})
	if d.onObjects != nil {
		d.onObjects(ev)
	}
}

func (d *Dispatcher) objectClicked(env Envelope) {
	var id string
	if raw, ok := env.Arg("object_id"); ok {
		if err := json.Unmarshal(raw, &id); err != nil {
			d.fireError(WrapError(ErrorSerialization, "object_id is not a string", err))
			return
		}
	}
	if id == "" {
		d.fireError(NewError(ErrorMissingArgument, "object_clicked without object_id"))
		return
	}
	d.clicks.Record(id)
	d.logger.Debug("object clicked", map[string]any{"object": id})
	if d.onClick != nil {
		d.onClick(ClickEvent{ObjectID: id})
	}
}

func (d *Dispatcher) send(action string) {
	if d.reply != nil {
		d.reply(action)
	}
}

func (d *Dispatcher) fireError(err error) {
	if d.onError != nil && err != nil {
		d.onError(err)
	}
}
