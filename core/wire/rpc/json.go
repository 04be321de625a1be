// SPDX-FileCopyrightText: Copyright (C) 2026  The Cipherlane Authors
// SPDX-License-Identifier: AGPL-3.0-only

package rpc

import (
	"reflect"

	"github.com/ugorji/go/codec"
)

// Version is the JSON-RPC version tag of every request.
const Version = "2.0"

var jsonHandle codec.JsonHandle

func init() {
	jsonHandle.MapType = reflect.TypeOf(map[string]interface{}(nil))
	jsonHandle.SignedInteger = true
}

// Request is a JSON-RPC request.
type Request struct {
	JSONRPC string      `codec:"jsonrpc"`
	ID      uint64      `codec:"id"`
	Method  string      `codec:"method"`
	Params  interface{} `codec:"params"`
}

// ResponseError is the error member of a failed response.
type ResponseError struct {
	Code    int64       `codec:"code"`
	Message string      `codec:"message"`
	Data    interface{} `codec:"data,omitempty"`
}

// Response is a JSON-RPC response.
type Response struct {
	ID     uint64         `codec:"id"`
	Result interface{}    `codec:"result,omitempty"`
	Error  *ResponseError `codec:"error,omitempty"`
}

// EncodeJSON serializes v.
func EncodeJSON(v interface{}) ([]byte, error) {
	var b []byte
	enc := codec.NewEncoderBytes(&b, &jsonHandle)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return b, nil
}

// DecodeJSON deserializes b into v.
func DecodeJSON(b []byte, v interface{}) error {
	dec := codec.NewDecoderBytes(b, &jsonHandle)
	return dec.Decode(v)
}
