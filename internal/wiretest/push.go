// SPDX-FileCopyrightText: Copyright (C) 2026  The Cipherlane Authors
// SPDX-License-Identifier: AGPL-3.0-only

package wiretest

import (
	"encoding/hex"
	"fmt"

	"github.com/cipherlane/transport/core/wire/rpc"
)

// Notification is the cleartext of a push.
type Notification struct {
	Type string      `codec:"type"`
	Data interface{} `codec:"data"`
}

func param(params interface{}, name string) (interface{}, error) {
	m, ok := params.(map[string]interface{})
	if !ok {
		return nil, &Error{Code: -32602, Message: "Invalid params"}
	}
	v, ok := m[name]
	if !ok {
		return nil, &Error{Code: -32602, Message: fmt.Sprintf("Missing %s", name)}
	}
	return v, nil
}

func asUint64(v interface{}) (uint64, bool) {
	switch n := v.(type) {
	case int64:
		return uint64(n), n >= 0
	case uint64:
		return n, true
	case float64:
		return uint64(n), n >= 0
	default:
		return 0, false
	}
}

// authorizeWebSocket runs with the Server locked.
func (s *Server) authorizeWebSocket(params interface{}) (interface{}, error) {
	v, err := param(params, "key")
	if err != nil {
		return nil, err
	}
	str, _ := v.(string)
	key, err := hex.DecodeString(str)
	if err != nil || len(key) != 32 {
		return nil, &Error{Code: -32602, Message: "Invalid key"}
	}
	s.nextCh++
	s.pushes[s.nextCh] = key
	return map[string]interface{}{"wsChannelId": s.nextCh}, nil
}

// unauthorizeWebSocket runs with the Server locked.
func (s *Server) unauthorizeWebSocket(params interface{}) (interface{}, error) {
	v, err := param(params, "wsChannelId")
	if err != nil {
		return nil, err
	}
	id, ok := asUint64(v)
	if !ok {
		return nil, &Error{Code: -32602, Message: "Invalid wsChannelId"}
	}
	delete(s.pushes, id)
	return true, nil
}

// PushChannels returns the ids of the authorized push channels.
func (s *Server) PushChannels() []uint64 {
	s.Lock()
	defer s.Unlock()
	ids := make([]uint64, 0, len(s.pushes))
	for id := range s.pushes {
		ids = append(ids, id)
	}
	return ids
}

// Notification seals a push for channelID.
func (s *Server) Notification(channelID uint64, typ string, data interface{}) ([]byte, error) {
	s.Lock()
	key, ok := s.pushes[channelID]
	s.Unlock()
	if !ok {
		return nil, fmt.Errorf("wiretest: channel %d is not authorized", channelID)
	}
	b, err := rpc.EncodeJSON(&Notification{Type: typ, Data: data})
	if err != nil {
		return nil, err
	}
	return s.provider.AEADSeal(key, b, nil)
}
