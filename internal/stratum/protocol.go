// Copyright (c) 2025 The chainweb-mining-client-go developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package stratum

import "encoding/json"

// Message is the JSON-RPC 1.0-style envelope used for every line on the
// wire: requests carry id+method+params, responses carry id+result/error,
// notifications carry a null id with method+params.
type Message struct {
	ID     interface{}     `json:"id"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result interface{}     `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

func newNotification(method string, params interface{}) Message {
	raw, _ := json.Marshal(params)
	return Message{ID: nil, Method: method, Params: raw}
}

func newResult(id interface{}, result interface{}) Message {
	return Message{ID: id, Result: result}
}

func newError(id interface{}, err *RPCError) Message {
	return Message{ID: id, Error: err}
}
