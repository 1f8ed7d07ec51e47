package yeelight

import (
	"encoding/json"
	"math/rand"
)

// Req is a single JSON-RPC request sent to a bulb's command socket. ID is a
// correlation token: the bulb echoes it back in its reply so callers can
// match replies amid interleaved unsolicited notifications.
type Req struct {
	ID     uint16 `json:"id"`
	Method string `json:"method"`
	Params []any  `json:"params"`
}

// NewReq builds a Req with a fresh random correlation id.
func NewReq(method string, params []any) Req {
	return Req{ID: uint16(rand.Intn(1 << 16)), Method: method, Params: params}
}

// NewReqWithID builds a Req with a caller-supplied id, primarily useful for
// tests that need to assert on a known id.
func NewReqWithID(id uint16, method string, params []any) Req {
	return Req{ID: id, Method: method, Params: params}
}

// MarshalLine serializes the request to a single-line JSON object with no
// trailing newline; the session layer is responsible for line framing.
func (r Req) MarshalLine() ([]byte, error) {
	return json.Marshal(r)
}
