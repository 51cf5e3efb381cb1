package rest

import "time"

// Object is one scene object as the peer publishes it: an id, usually a
// name, the class list under the reserved classes key, and free-form
// properties.
type Object map[string]any

// ID returns the object's id when it is a string.
func (o Object) ID() string {
	id, _ := o["id"].(string)
	return id
}

// Object control

// PropertyRequest is the request body for setting one property.
// Value uses define_property rules: "null" or "" clears it.
type PropertyRequest struct {
	Value string `json:"value"`
}

// Client control

// ClientInfo describes one websocket client connected to the simulator.
type ClientInfo struct {
	ID          string    `json:"id"`
	Remote      string    `json:"remote"`
	Ready       bool      `json:"ready"` // sent client_ready
	ConnectedAt time.Time `json:"connected_at"`
}

// TestRequest is the request body for sending a test frame.
type TestRequest struct {
	Message string `json:"message"`
}

// CloseRequest is the request body for closing every client.
type CloseRequest struct {
	Code   int    `json:"code"` // defaults to 1000
	Reason string `json:"reason,omitempty"`
}

// CountResponse reports how many clients an operation reached.
type CountResponse struct {
	Count int `json:"count"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
