package scratchomised

import "encoding/json"

const (
	// client -> peer
	ActionClientReady    = "client_ready"
	ActionTestAck        = "test_ack"
	ActionWelcomeAck     = "welcome_ack"
	ActionDefineProperty = "define_property"

	// peer -> client
	ActionTest          = "test"
	ActionWelcome       = "welcome"
	ActionUpdateObjects = "update_objects"
	ActionObjectClicked = "object_clicked"
)

// NullValue clears a property when sent as a define_property value.
const NullValue = "null"

// Envelope is the single frame shape in both directions.
type Envelope struct {
	Action string                     `json:"action"`
	Args   map[string]json.RawMessage `json:"args,omitempty"`
}

// outbound mirrors Envelope with arbitrary args for encoding.
type outbound struct {
	Action string `json:"action"`
	Args   any    `json:"args"`
}

// DefinePropertyArgs sets one property of one object on the peer.
type DefinePropertyArgs struct {
	Object   string `json:"object"`
	Property string `json:"property"`
	Value    string `json:"value"`
}

// Encode builds a text frame. Nil args encode as {}.
func Encode(action string, args any) ([]byte, error) {
	if args == nil {
		args = struct{}{}
	}
	b, err := json.Marshal(outbound{Action: action, Args: args})
	if err != nil {
		return nil, WrapError(ErrorSerialization, "encode "+action, err)
	}
	return b, nil
}

// Decode parses a text frame. It does not check the action.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, WrapError(ErrorSerialization, "unable to parse frame", err)
	}
	return env, nil
}

// Arg reports whether the named argument is present and not null.
func (e Envelope) Arg(name string) (json.RawMessage, bool) {
	raw, ok := e.Args[name]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return nil, false
	}
	return raw, true
}
