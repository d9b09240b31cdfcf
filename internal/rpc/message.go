package rpc

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

type (
	// Request asks the peer to run a method. Requests without an ID expect
	// no response
	Request struct {
		Type   string          `json:"type"`
		ID     string          `json:"id,omitempty"`
		Method string          `json:"method"`
		Args   json.RawMessage `json:"args,omitempty"`
	}

	// Response answers the Request with the same ID with either a result or
	// an error message
	Response struct {
		Type   string          `json:"type"`
		ID     string          `json:"id"`
		Result json.RawMessage `json:"result,omitempty"`
		Error  string          `json:"error,omitempty"`
	}
)

const (
	TypeRequest  = "rpc_request"
	TypeResponse = "rpc_response"
)

func parseRequest(msg gjson.Result) *Request {
	return &Request{
		Type:   TypeRequest,
		ID:     msg.Get("id").String(),
		Method: msg.Get("method").String(),
		Args:   rawField(msg, "args"),
	}
}

func parseResponse(msg gjson.Result) *Response {
	res := &Response{
		Type:   TypeResponse,
		ID:     msg.Get("id").String(),
		Result: rawField(msg, "result"),
	}
	if e := msg.Get("error"); e.Exists() && e.Type != gjson.Null {
		if e.Type == gjson.String {
			res.Error = e.String()
		} else {
			res.Error = e.Raw
		}
	}
	return res
}

func rawField(msg gjson.Result, key string) json.RawMessage {
	v := msg.Get(key)
	if !v.Exists() {
		return nil
	}
	return json.RawMessage(v.Raw)
}
