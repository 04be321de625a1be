// SPDX-FileCopyrightText: Copyright (C) 2026  The Cipherlane Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package wiretest implements the server half of the protocol, in process,
// for use by tests.
package wiretest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/cipherlane/transport/core/crypto/provider"
	"github.com/cipherlane/transport/core/crypto/srp"
	"github.com/cipherlane/transport/core/utils"
	"github.com/cipherlane/transport/core/wire/handshake"
	"github.com/cipherlane/transport/core/wire/record"
	"github.com/cipherlane/transport/core/wire/rpc"
	"github.com/cipherlane/transport/core/wire/ticket"
)

// InvalidTicket is the alert body sent for an unknown ticket.
const InvalidTicket = "Invalid ticket"

// DefaultTicketCount is the number of tickets pushed after a session
// restore.
const DefaultTicketCount = 10

// Method is an RPC method implementation.
type Method func(params interface{}) (interface{}, error)

// Error is returned by a Method to produce a JSON-RPC error.
type Error struct {
	Code    int64
	Message string
	Data    interface{}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

type srpUser struct {
	salt     []byte
	verifier *big.Int
}

type restorable struct {
	key      *provider.PublicKey
	username string
}

type pendingSRP struct {
	grp       *srp.Group
	username  string
	sessionID string
	b         *big.Int
	B         *big.Int
	v         *big.Int
}

type pendingKey struct {
	key       *provider.PublicKey
	username  string
	sessionID string
	challenge []byte
}

// Stats counts what the Server saw.
type Stats struct {
	Exchanges        int
	TicketHandshakes int
	TicketRequests   int
	Logins           int
	Calls            int
}

// Server is the server side of one client.  Every Exchange is one request
// batch; state carried between batches is limited to the multi leg login
// material, the issued tickets and the restorable sessions.
type Server struct {
	sync.Mutex

	provider  provider.Provider
	serverKey *provider.PrivateKey
	group     *srp.Group

	users    map[string]*srpUser
	keyUsers map[string]string
	tickets  map[string][]byte
	sessions map[string]*restorable
	methods  map[string]Method

	premaster []byte
	srp       *pendingSRP
	key       *pendingKey

	ticketTTL time.Duration
	stats     Stats

	// Pushes are the notification channels registered by authorizeWebSocket.
	pushes map[uint64][]byte
	nextCh uint64
}

// NewServer creates a Server that answers "ping" with "pong".
func NewServer() *Server {
	p := provider.Default()
	k, err := p.GenerateKey()
	if err != nil {
		panic(err)
	}
	s := &Server{
		provider:  p,
		serverKey: k,
		group:     srp.RFC5054Group1024,
		users:     make(map[string]*srpUser),
		keyUsers:  make(map[string]string),
		tickets:   make(map[string][]byte),
		sessions:  make(map[string]*restorable),
		methods:   make(map[string]Method),
		pushes:    make(map[uint64][]byte),
		ticketTTL: time.Hour,
	}
	s.Handle("ping", func(interface{}) (interface{}, error) { return "pong", nil })
	s.Handle("authorizeWebSocket", s.authorizeWebSocket)
	s.Handle("unauthorizeWebSocket", s.unauthorizeWebSocket)
	return s
}

// Handle registers a method.
func (s *Server) Handle(name string, fn Method) {
	s.Lock()
	defer s.Unlock()
	s.methods[name] = fn
}

// AddUser registers an SRP user.
func (s *Server) AddUser(username, password string) {
	s.Lock()
	defer s.Unlock()

	salt, err := s.provider.RandomBytes(16)
	if err != nil {
		panic(err)
	}
	s.users[username] = &srpUser{
		salt:     salt,
		verifier: s.group.GetV(s.group.GetX(salt, username, password)),
	}
}

// AddKeyUser registers a key for key challenge logins.
func (s *Server) AddKeyUser(username string, key *provider.PublicKey) {
	s.Lock()
	defer s.Unlock()
	s.keyUsers[hex.EncodeToString(key.Bytes())] = username
}

// SetTicketTTL sets the ttl of newly issued tickets.
func (s *Server) SetTicketTTL(ttl time.Duration) {
	s.Lock()
	defer s.Unlock()
	s.ticketTTL = ttl
}

// ForgetTickets drops every issued ticket, as a server restart would.
func (s *Server) ForgetTickets() {
	s.Lock()
	defer s.Unlock()
	s.tickets = make(map[string][]byte)
}

// Stats returns a snapshot of the counters.
func (s *Server) Stats() Stats {
	s.Lock()
	defer s.Unlock()
	return s.stats
}

// Exchange processes one request batch and returns the reply batch.
func (s *Server) Exchange(req []byte) ([]byte, error) {
	s.Lock()
	defer s.Unlock()

	s.stats.Exchanges++
	x := &exchange{s: s}
	x.layer = record.New(s.provider, record.Server, x)
	if s.premaster != nil {
		x.layer.SetPreMasterSecret(s.premaster, nil, nil)
		utils.ExplicitBzero(s.premaster)
		s.premaster = nil
		x.armed = true
	}

	if err := x.layer.Process(req); err != nil {
		var alert *alertError
		if !errors.As(err, &alert) {
			return nil, err
		}
		if err = x.layer.SendAlert(alert.msg); err != nil {
			return nil, err
		}
	}
	return x.layer.TakeOutput(), nil
}

type alertError struct {
	msg string
}

func (e *alertError) Error() string {
	return e.msg
}

func alertf(format string, args ...interface{}) error {
	return &alertError{msg: fmt.Sprintf(format, args...)}
}

// exchange is the state of one batch.
type exchange struct {
	s     *Server
	layer *record.Layer

	// armed is set once pending states exist, switched once the server
	// sent its own ChangeCipherSpec.
	armed    bool
	switched bool
}

func (x *exchange) send(p *handshake.Packet) error {
	b, err := p.Marshal()
	if err != nil {
		return err
	}
	return x.layer.Send(b, record.Handshake, false)
}

func (x *exchange) secure() error {
	if x.armed && !x.switched {
		x.switched = true
		return x.layer.ChangeCipherSpec()
	}
	return nil
}

func (x *exchange) sendSecure(b []byte, ct record.ContentType) error {
	if err := x.secure(); err != nil {
		return err
	}
	return x.layer.Send(b, ct, false)
}

func (x *exchange) ticketResponse(count int) error {
	if count <= 0 {
		count = DefaultTicketCount
	}
	master := x.layer.MasterSecret()
	ids := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		id, err := x.s.provider.RandomBytes(16)
		if err != nil {
			return err
		}
		x.s.tickets[string(id)] = ticket.DeriveSecret(x.s.provider, master, id)
		ids = append(ids, id)
	}
	b, err := (&handshake.Packet{
		Type:    handshake.TypeTicketResponse,
		Tickets: ids,
		TTL:     int64(x.s.ticketTTL / time.Second),
	}).Marshal()
	if err != nil {
		return err
	}
	return x.sendSecure(b, record.Handshake)
}

func (x *exchange) ephemeral(peer []byte) (*provider.PrivateKey, []byte, error) {
	pub, err := provider.ParsePublicKey(peer)
	if err != nil {
		return nil, nil, alertf("bad key")
	}
	eph, err := x.s.provider.GenerateKey()
	if err != nil {
		return nil, nil, err
	}
	premaster, err := x.s.provider.ECDH(eph, pub)
	if err != nil {
		return nil, nil, err
	}
	return eph, premaster, nil
}

func (x *exchange) verifyChallenge(key []byte, p *handshake.Packet) (*provider.PublicKey, error) {
	pub, err := provider.ParsePublicKey(key)
	if err != nil {
		return nil, alertf("bad key")
	}
	if !x.s.provider.Verify(pub, handshake.ChallengeMessage(p.Nonce, p.Timestamp), p.Signature) {
		return nil, alertf("Invalid signature")
	}
	return pub, nil
}

func (x *exchange) newSessionID() (string, error) {
	raw, err := x.s.provider.RandomBytes(16)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

func (x *exchange) saveSession(sessionID string, key []byte, username string) error {
	if len(key) == 0 {
		return nil
	}
	pub, err := provider.ParsePublicKey(key)
	if err != nil {
		return alertf("bad session key")
	}
	x.s.sessions[sessionID] = &restorable{key: pub, username: username}
	return nil
}

// OnHandshake implements record.Handler.
func (x *exchange) OnHandshake(data []byte) error {
	p, err := handshake.UnmarshalPacket(data)
	if err != nil {
		return alertf("malformed packet")
	}
	s := x.s

	switch p.Type {
	case handshake.TypeTicket:
		secret, ok := s.tickets[string(p.TicketID)]
		if !ok {
			return alertf(InvalidTicket)
		}
		delete(s.tickets, string(p.TicketID))
		x.layer.RestoreState(p.TicketID, secret, p.ClientRandom)
		x.armed = true
		s.stats.TicketHandshakes++
		return nil

	case handshake.TypeTicketRequest:
		s.stats.TicketRequests++
		return x.ticketResponse(p.Count)

	case handshake.TypeEcdhe:
		eph, premaster, err := x.ephemeral(p.Key)
		if err != nil {
			return err
		}
		s.premaster = premaster
		s.stats.Logins++
		return x.send(&handshake.Packet{Type: handshake.TypeEcdhe, Key: eph.PublicKey().Bytes()})

	case handshake.TypeEcdhex:
		pub, err := x.verifyChallenge(p.Key, p)
		if err != nil {
			return err
		}
		eph, premaster, err := x.ephemeral(pub.Bytes())
		if err != nil {
			return err
		}
		s.premaster = premaster
		s.stats.Logins++
		return x.send(&handshake.Packet{Type: handshake.TypeEcdhex, Key: eph.PublicKey().Bytes(), Host: "resolved." + p.Host})

	case handshake.TypeSrpInit:
		return x.onSrpInit(p)

	case handshake.TypeSrpExchange:
		return x.onSrpExchange(p)

	case handshake.TypeKeyInit:
		username, ok := s.keyUsers[hex.EncodeToString(p.Pub)]
		if !ok {
			return alertf("Unknown key")
		}
		pub, err := provider.ParsePublicKey(p.Pub)
		if err != nil {
			return alertf("bad key")
		}
		challenge, err := s.provider.RandomBytes(32)
		if err != nil {
			return err
		}
		sessionID, err := x.newSessionID()
		if err != nil {
			return err
		}
		s.key = &pendingKey{key: pub, username: username, sessionID: sessionID, challenge: challenge}
		return x.send(&handshake.Packet{
			Type:      handshake.TypeKeyInit,
			SessionID: sessionID,
			Key:       s.serverKey.PublicKey().Bytes(),
			Challenge: challenge,
		})

	case handshake.TypeKeyExchange:
		pk := s.key
		s.key = nil
		if pk == nil || pk.sessionID != p.SessionID {
			return alertf("Unexpected key_exchange")
		}
		if !s.provider.Verify(pk.key, handshake.KeyChallengeMessage(pk.challenge, p.K), p.Signature) {
			return alertf("Invalid signature")
		}
		K, err := s.provider.ECIESDecrypt(s.serverKey, p.K)
		if err != nil {
			return alertf("Invalid key")
		}
		if err = x.saveSession(pk.sessionID, p.SessionKey, pk.username); err != nil {
			return err
		}
		x.layer.SetPreMasterSecret(K, nil, nil)
		x.armed = true
		s.stats.Logins++
		return x.send(&handshake.Packet{Type: handshake.TypeKeyExchange, Username: pk.username})

	case handshake.TypeSession:
		sess, ok := s.sessions[p.SessionID]
		if !ok {
			return alertf("Unknown session")
		}
		pub, err := x.verifyChallenge(p.SessionKey, p)
		if err != nil {
			return err
		}
		if !pub.Equal(sess.key) {
			return alertf("Invalid session key")
		}
		eph, premaster, err := x.ephemeral(pub.Bytes())
		if err != nil {
			return err
		}
		if err = x.send(&handshake.Packet{Type: handshake.TypeSession, Key: eph.PublicKey().Bytes(), Username: sess.username}); err != nil {
			return err
		}
		x.layer.SetPreMasterSecret(premaster, nil, nil)
		x.armed = true
		s.stats.Logins++
		return x.ticketResponse(DefaultTicketCount)

	default:
		return alertf("Unexpected packet %q", p.Type)
	}
}

func (x *exchange) onSrpInit(p *handshake.Packet) error {
	s := x.s
	u, ok := s.users[p.Identity]
	if !ok {
		return alertf("Unknown user")
	}
	raw, err := s.provider.RandomBytes(32)
	if err != nil {
		return err
	}
	sessionID, err := x.newSessionID()
	if err != nil {
		return err
	}
	b := new(big.Int).SetBytes(raw)
	B := s.group.GetB(b, u.verifier)
	s.srp = &pendingSRP{
		grp:       s.group.WithHash(sha256.New),
		username:  p.Identity,
		sessionID: sessionID,
		b:         b,
		B:         B,
		v:         u.verifier,
	}
	return x.send(&handshake.Packet{
		Type:      handshake.TypeSrpInit,
		SessionID: sessionID,
		N:         s.group.N.Bytes(),
		G:         s.group.G.Bytes(),
		Salt:      u.salt,
		B:         s.group.Pad(B),
	})
}

func (x *exchange) onSrpExchange(p *handshake.Packet) error {
	s := x.s
	ps := s.srp
	s.srp = nil
	if ps == nil || ps.sessionID != p.SessionID {
		return alertf("Unexpected srp_exchange")
	}
	A := new(big.Int).SetBytes(p.A)
	u := ps.grp.GetU(A, ps.B)
	S, err := ps.grp.GetServerS(A, ps.v, u, ps.b)
	if err != nil {
		return alertf("Invalid A")
	}
	M1 := ps.grp.GetM1(A, ps.B, S)
	if !utils.CtEqual(M1, p.M1) {
		return alertf("Invalid credentials")
	}
	if err = x.saveSession(ps.sessionID, p.SessionKey, ps.username); err != nil {
		return err
	}
	x.layer.SetPreMasterSecret(utils.LeftPad(ps.grp.GetKey(S), 32), nil, nil)
	x.armed = true
	s.stats.Logins++
	return x.send(&handshake.Packet{Type: handshake.TypeSrpExchange, M2: ps.grp.GetM2(A, M1, S)})
}

// OnApplicationData implements record.Handler.
func (x *exchange) OnApplicationData(data []byte) error {
	var req rpc.Request
	if err := rpc.DecodeJSON(data, &req); err != nil {
		return alertf("malformed request")
	}
	x.s.stats.Calls++

	resp := &rpc.Response{ID: req.ID}
	if fn, ok := x.s.methods[req.Method]; !ok {
		resp.Error = &rpc.ResponseError{Code: -32601, Message: "Method not found"}
	} else if res, err := fn(req.Params); err != nil {
		var rerr *Error
		if errors.As(err, &rerr) {
			resp.Error = &rpc.ResponseError{Code: rerr.Code, Message: rerr.Message, Data: rerr.Data}
		} else {
			resp.Error = &rpc.ResponseError{Code: -32000, Message: err.Error()}
		}
	} else {
		resp.Result = res
	}

	b, err := rpc.EncodeJSON(resp)
	if err != nil {
		return err
	}
	return x.sendSecure(b, record.ApplicationData)
}
