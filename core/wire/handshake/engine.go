// SPDX-FileCopyrightText: Copyright (C) 2026  The Cipherlane Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package handshake implements the handshake state machine that negotiates
// the record layer keys under one of the supported authentication modes,
// and the ticket handshake used to resume a session cheaply.
package handshake

import (
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"sync"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/cipherlane/transport/core/crypto/provider"
	"github.com/cipherlane/transport/core/crypto/srp"
	"github.com/cipherlane/transport/core/failure"
	"github.com/cipherlane/transport/core/log"
	"github.com/cipherlane/transport/core/utils"
	"github.com/cipherlane/transport/core/wire/record"
	"github.com/cipherlane/transport/core/wire/ticket"
	"github.com/cipherlane/transport/internal/instrument"
)

const (
	// DefaultTicketRequestCount is the number of tickets requested after a
	// login.
	DefaultTicketRequestCount = 20

	premasterSize    = 32
	clientRandomSize = 32
	nonceSize        = 16
	srpSecretSize    = 64
)

type stage int

const (
	stageInit stage = iota
	stagePremaster
	stageConfirmed
)

// login is the material of an in-progress login.
type login struct {
	kind  Mode
	stage stage

	ecdheKey    *provider.PrivateKey
	identityKey *provider.PrivateKey
	sessionKey  *provider.PrivateKey
	solution    string

	username string
	host     string
	password string
	props    map[string]interface{}

	expectedM2     []byte
	sessionID      string
	resolvedHost   string
	serverUsername string
	additional     map[string]interface{}
}

func (l *login) zero() {
	l.ecdheKey.Zero()
	l.identityKey.Zero()
	l.sessionKey.Zero()
	utils.ExplicitBzero(l.expectedM2)
	l.password = ""
}

// Config is the Engine configuration.
type Config struct {
	Provider provider.Provider
	Layer    *record.Layer
	Pool     *ticket.Pool

	// Log is optional.
	Log *logging.Logger

	// Host is the host the client believes it is talking to.
	Host string

	// Agent defaults to DefaultAgent().
	Agent string

	// TicketRequestCount defaults to DefaultTicketRequestCount.
	TicketRequestCount int

	// RestorableSession mints a session key during SRP and Key logins so
	// that the session can later be restored with Session.
	RestorableSession bool
}

// Engine drives one login at a time over a record.Layer.  Outbound packets
// are written to the Layer; inbound packets are fed to ProcessPacket by the
// Layer's handler.
type Engine struct {
	sync.Mutex

	log      *logging.Logger
	provider provider.Provider
	layer    *record.Layer
	pool     *ticket.Pool

	host        string
	agent       string
	ticketCount int
	restorable  bool

	login            *login
	result           *Result
	err              error
	done             bool
	expectedUsername string

	onTickets func()
	now       func() time.Time
}

// New creates an Engine.
func New(cfg *Config) (*Engine, error) {
	if cfg.Provider == nil || cfg.Layer == nil || cfg.Pool == nil {
		return nil, failure.InvalidParams.WithMessage("handshake: missing provider, layer or pool")
	}
	e := &Engine{
		log:         cfg.Log,
		provider:    cfg.Provider,
		layer:       cfg.Layer,
		pool:        cfg.Pool,
		host:        cfg.Host,
		agent:       cfg.Agent,
		ticketCount: cfg.TicketRequestCount,
		restorable:  cfg.RestorableSession,
		now:         time.Now,
	}
	if e.log == nil {
		e.log = log.NewDiscard().GetLogger("handshake")
	}
	if e.agent == "" {
		e.agent = DefaultAgent()
	}
	if e.ticketCount <= 0 {
		e.ticketCount = DefaultTicketRequestCount
	}
	return e, nil
}

// OnTicketResponse registers fn to be called, without the Engine lock
// held, after every ticket_response.
func (e *Engine) OnTicketResponse(fn func()) {
	e.Lock()
	defer e.Unlock()
	e.onTickets = fn
}

// SetExpectedUsername makes every following login fail with
// CannotReloginUserMismatch unless it authenticates as username.  An empty
// username disables the check.
func (e *Engine) SetExpectedUsername(username string) {
	e.Lock()
	defer e.Unlock()
	e.expectedUsername = username
}

// Done returns true once the current login completed or failed.
func (e *Engine) Done() bool {
	e.Lock()
	defer e.Unlock()
	return e.done
}

// Result returns the result of the last successful login.
func (e *Engine) Result() *Result {
	e.Lock()
	defer e.Unlock()
	return e.result
}

// Err returns the error that failed the last login.
func (e *Engine) Err() error {
	e.Lock()
	defer e.Unlock()
	return e.err
}

// InProgress returns true iff a login is waiting for the peer.
func (e *Engine) InProgress() bool {
	e.Lock()
	defer e.Unlock()
	return e.login != nil
}

// Reset clears the record layer cipher state.  Unless keepSession is set
// the material of an in-progress login is discarded as well.
func (e *Engine) Reset(keepSession bool) {
	e.Lock()
	defer e.Unlock()

	e.layer.Reset()
	if !keepSession {
		e.clearLogin()
	}
}

func (e *Engine) clearLogin() {
	if e.login != nil {
		e.login.zero()
		e.login = nil
	}
}

func (e *Engine) begin(l *login) {
	e.clearLogin()
	e.layer.Reset()
	e.login = l
	e.result = nil
	e.err = nil
	e.done = false
	e.log.Debugf("Starting %s handshake.", l.kind)
}

func (e *Engine) fail(err error) error {
	if l := e.login; l != nil {
		instrument.Handshake(string(l.kind), false)
		e.log.Warningf("%s handshake failed: %v", l.kind, err)
	}
	e.clearLogin()
	e.err = err
	e.done = true
	return err
}

func (e *Engine) send(p *Packet) error {
	b, err := p.Marshal()
	if err != nil {
		return err
	}
	return e.layer.Send(b, record.Handshake, false)
}

func (e *Engine) signedChallenge(key *provider.PrivateKey) (string, int64, []byte, error) {
	raw, err := e.provider.RandomBytes(nonceSize)
	if err != nil {
		return "", 0, nil, err
	}
	nonce := hex.EncodeToString(raw)
	ts := e.now().UnixMilli()
	sig, err := e.provider.Sign(key, ChallengeMessage(nonce, ts))
	if err != nil {
		return "", 0, nil, err
	}
	return nonce, ts, sig, nil
}

// ECDHE starts an anonymous login.  A nil key selects a fresh ephemeral key.
func (e *Engine) ECDHE(key *provider.PrivateKey, solution string) error {
	e.Lock()
	defer e.Unlock()

	var err error
	if key == nil {
		if key, err = e.provider.GenerateKey(); err != nil {
			return err
		}
	} else {
		key = key.Clone()
	}
	e.begin(&login{kind: ModeECDHE, ecdheKey: key, solution: solution})
	return e.send(&Packet{
		Type:     TypeEcdhe,
		Key:      key.PublicKey().Bytes(),
		Agent:    e.agent,
		Solution: solution,
	})
}

// ECDHEX starts a login bound to the long term key.
func (e *Engine) ECDHEX(key *provider.PrivateKey, solution string) error {
	e.Lock()
	defer e.Unlock()

	if key == nil {
		return failure.InvalidParams.WithMessage("ecdhex: missing key")
	}
	key = key.Clone()
	e.begin(&login{kind: ModeECDHEX, identityKey: key, solution: solution})
	nonce, ts, sig, err := e.signedChallenge(key)
	if err != nil {
		return e.fail(err)
	}
	return e.send(&Packet{
		Type:      TypeEcdhex,
		Key:       key.PublicKey().Bytes(),
		Host:      e.host,
		Nonce:     nonce,
		Timestamp: ts,
		Signature: sig,
		Solution:  solution,
	})
}

// SRP starts a password login.
func (e *Engine) SRP(username, host, password string, props map[string]interface{}) error {
	e.Lock()
	defer e.Unlock()

	if username == "" {
		return failure.InvalidParams.WithMessage("srp: missing username")
	}
	if e.expectedUsername != "" && e.expectedUsername != username {
		return failure.CannotReloginUserMismatch.WithMessage("%q is not %q", username, e.expectedUsername)
	}
	if host == "" {
		host = e.host
	}
	e.begin(&login{
		kind:     ModeSRP,
		username: username,
		host:     host,
		password: password,
		props:    props,
	})
	return e.send(&Packet{
		Type:       TypeSrpInit,
		Identity:   username,
		Host:       host,
		Agent:      e.agent,
		Properties: props,
	})
}

// Key starts a key challenge login.
func (e *Engine) Key(key *provider.PrivateKey, props map[string]interface{}) error {
	e.Lock()
	defer e.Unlock()

	if key == nil {
		return failure.InvalidParams.WithMessage("key: missing key")
	}
	key = key.Clone()
	e.begin(&login{kind: ModeKey, identityKey: key, props: props})
	return e.send(&Packet{
		Type:       TypeKeyInit,
		Pub:        key.PublicKey().Bytes(),
		Agent:      e.agent,
		Properties: props,
	})
}

// Session starts the restore of a session issued by an earlier restorable
// login.
func (e *Engine) Session(sessionID string, sessionKey *provider.PrivateKey) error {
	e.Lock()
	defer e.Unlock()

	if sessionID == "" || sessionKey == nil {
		return failure.InvalidParams.WithMessage("session: missing id or key")
	}
	sessionKey = sessionKey.Clone()
	e.begin(&login{kind: ModeSession, sessionKey: sessionKey, sessionID: sessionID})
	nonce, ts, sig, err := e.signedChallenge(sessionKey)
	if err != nil {
		return e.fail(err)
	}
	return e.send(&Packet{
		Type:       TypeSession,
		SessionID:  sessionID,
		SessionKey: sessionKey.PublicKey().Bytes(),
		Nonce:      nonce,
		Timestamp:  ts,
		Signature:  sig,
	})
}

// TicketHandshake consumes a ticket, announces it to the peer and activates
// the cipher state restored from it.
func (e *Engine) TicketHandshake() error {
	e.Lock()
	defer e.Unlock()

	t, err := e.pool.UseTicket()
	if err != nil {
		return err
	}
	defer utils.ExplicitBzero(t.Secret)

	clientRandom, err := e.provider.RandomBytes(clientRandomSize)
	if err != nil {
		return failure.TicketHandshakeFailed.Wrap(err)
	}
	if err = e.send(&Packet{Type: TypeTicket, TicketID: t.ID, ClientRandom: clientRandom}); err != nil {
		return failure.TicketHandshakeFailed.Wrap(err)
	}
	e.layer.RestoreState(t.ID, t.Secret, clientRandom)
	if err = e.layer.ChangeCipherSpec(); err != nil {
		return failure.TicketHandshakeFailed.Wrap(err)
	}
	return nil
}

// TicketRequest asks the peer for n tickets.
func (e *Engine) TicketRequest(n int) error {
	e.Lock()
	defer e.Unlock()
	return e.ticketRequest(n)
}

func (e *Engine) ticketRequest(n int) error {
	if n <= 0 {
		n = e.ticketCount
	}
	return e.send(&Packet{Type: TypeTicketRequest, Count: n})
}

// ProcessPacket handles one inbound handshake packet.
func (e *Engine) ProcessPacket(data []byte) error {
	p, err := UnmarshalPacket(data)
	if err != nil {
		return failure.MalformedPacket.Wrap(err)
	}

	e.Lock()
	notify, err := e.process(p)
	e.Unlock()

	if notify != nil {
		notify()
	}
	return err
}

func (e *Engine) process(p *Packet) (func(), error) {
	var err error
	switch p.Type {
	case TypeEcdhe:
		err = e.onEcdhe(p)
	case TypeEcdhex:
		err = e.onEcdhex(p)
	case TypeSrpInit:
		err = e.onSrpInit(p)
	case TypeSrpExchange:
		err = e.onSrpExchange(p)
	case TypeKeyInit:
		err = e.onKeyInit(p)
	case TypeKeyExchange:
		err = e.onKeyExchange(p)
	case TypeSession:
		err = e.onSession(p)
	case TypeTicketResponse:
		return e.onTicketResponse(p)
	default:
		err = failure.UnexpectedPacket.WithMessage("%q", p.Type)
	}
	return nil, err
}

func (e *Engine) expect(kind Mode, st stage) (*login, error) {
	l := e.login
	if l == nil || l.kind != kind || l.stage != st {
		return nil, failure.UnexpectedPacket
	}
	return l, nil
}

// setPremaster arms the pending states, switches the write side and
// requests tickets.
func (e *Engine) setPremaster(premaster []byte) error {
	e.layer.SetPreMasterSecret(premaster, nil, nil)
	utils.ExplicitBzero(premaster)
	if err := e.layer.ChangeCipherSpec(); err != nil {
		return err
	}
	return e.ticketRequest(e.ticketCount)
}

func (e *Engine) onEcdhe(p *Packet) error {
	l := e.login
	if l == nil || l.kind != ModeECDHE || l.ecdheKey == nil {
		return failure.UnexpectedEcdhePacket
	}
	peer, err := provider.ParsePublicKey(p.Key)
	if err != nil {
		return e.fail(failure.MalformedPacket.Wrap(err))
	}
	premaster, err := e.provider.ECDH(l.ecdheKey, peer)
	if err != nil {
		return e.fail(err)
	}
	l.ecdheKey.Zero()
	l.ecdheKey = nil
	l.stage = stageConfirmed
	if err = e.setPremaster(premaster); err != nil {
		return e.fail(err)
	}
	return nil
}

func (e *Engine) onEcdhex(p *Packet) error {
	l := e.login
	if l == nil || l.kind != ModeECDHEX || l.identityKey == nil || l.stage != stageInit {
		return failure.UnexpectedEcdhexPacket
	}
	peer, err := provider.ParsePublicKey(p.Key)
	if err != nil {
		return e.fail(failure.MalformedPacket.Wrap(err))
	}
	premaster, err := e.provider.ECDH(l.identityKey, peer)
	if err != nil {
		return e.fail(err)
	}
	l.resolvedHost = p.Host
	l.stage = stageConfirmed
	if err = e.setPremaster(premaster); err != nil {
		return e.fail(err)
	}
	return nil
}

func (e *Engine) mintSessionKey(l *login) ([]byte, error) {
	if !e.restorable {
		return nil, nil
	}
	k, err := e.provider.GenerateKey()
	if err != nil {
		return nil, err
	}
	l.sessionKey = k
	return k.PublicKey().Bytes(), nil
}

func (e *Engine) onSrpInit(p *Packet) error {
	l, err := e.expect(ModeSRP, stageInit)
	if err != nil {
		return err
	}
	grp, err := srp.NewGroup(p.N, p.G, sha256.New)
	if err != nil {
		return e.fail(failure.MalformedPacket.Wrap(err))
	}
	B := new(big.Int).SetBytes(p.B)
	if !grp.IsValidPublic(B) {
		return e.fail(failure.MalformedPacket.WithMessage("srp: invalid B"))
	}

	raw, err := e.provider.RandomBytes(srpSecretSize)
	if err != nil {
		return e.fail(err)
	}
	a := new(big.Int).SetBytes(raw)
	utils.ExplicitBzero(raw)
	A := grp.GetA(a)
	u := grp.GetU(A, B)
	if u.Sign() == 0 {
		return e.fail(failure.MalformedPacket.WithMessage("srp: u == 0"))
	}
	x := grp.GetX(p.Salt, l.username, l.password)
	l.password = ""
	S, err := grp.GetClientS(B, x, a, u)
	if err != nil {
		return e.fail(failure.MalformedPacket.Wrap(err))
	}
	M1 := grp.GetM1(A, B, S)
	l.expectedM2 = grp.GetM2(A, M1, S)
	K := grp.GetKey(S)
	l.sessionID = p.SessionID

	pkt := &Packet{
		Type:      TypeSrpExchange,
		SessionID: p.SessionID,
		A:         grp.Pad(A),
		M1:        M1,
	}
	if pkt.SessionKey, err = e.mintSessionKey(l); err != nil {
		return e.fail(err)
	}
	if err = e.send(pkt); err != nil {
		return e.fail(err)
	}
	l.stage = stagePremaster
	if err = e.setPremaster(utils.LeftPad(K, premasterSize)); err != nil {
		return e.fail(err)
	}
	return nil
}

func (e *Engine) onSrpExchange(p *Packet) error {
	l, err := e.expect(ModeSRP, stagePremaster)
	if err != nil {
		return err
	}
	if !utils.CtEqual(p.M2, l.expectedM2) {
		return e.fail(failure.InvalidServerProof)
	}
	l.additional = p.AdditionalLoginStep
	l.stage = stageConfirmed
	return nil
}

func (e *Engine) onKeyInit(p *Packet) error {
	l, err := e.expect(ModeKey, stageInit)
	if err != nil {
		return err
	}
	serverKey, err := provider.ParsePublicKey(p.Key)
	if err != nil {
		return e.fail(failure.MalformedPacket.Wrap(err))
	}
	K, err := e.provider.RandomBytes(premasterSize)
	if err != nil {
		return e.fail(err)
	}
	encK, err := e.provider.ECIESEncrypt(serverKey, K)
	if err != nil {
		return e.fail(err)
	}
	sig, err := e.provider.Sign(l.identityKey, KeyChallengeMessage(p.Challenge, encK))
	if err != nil {
		return e.fail(err)
	}
	l.sessionID = p.SessionID

	pkt := &Packet{
		Type:      TypeKeyExchange,
		SessionID: p.SessionID,
		K:         encK,
		Signature: sig,
	}
	if pkt.SessionKey, err = e.mintSessionKey(l); err != nil {
		return e.fail(err)
	}
	if err = e.send(pkt); err != nil {
		return e.fail(err)
	}
	l.stage = stagePremaster
	if err = e.setPremaster(K); err != nil {
		return e.fail(err)
	}
	return nil
}

func (e *Engine) onKeyExchange(p *Packet) error {
	l, err := e.expect(ModeKey, stagePremaster)
	if err != nil {
		return err
	}
	l.serverUsername = p.Username
	l.additional = p.AdditionalLoginStep
	l.stage = stageConfirmed
	return nil
}

func (e *Engine) onSession(p *Packet) error {
	l, err := e.expect(ModeSession, stageInit)
	if err != nil {
		return err
	}
	serverKey, err := provider.ParsePublicKey(p.Key)
	if err != nil {
		return e.fail(failure.MalformedPacket.Wrap(err))
	}
	if e.expectedUsername != "" && p.Username != e.expectedUsername {
		return e.fail(failure.CannotReloginUserMismatch.WithMessage("%q is not %q", p.Username, e.expectedUsername))
	}
	premaster, err := e.provider.ECDH(l.sessionKey, serverKey)
	if err != nil {
		return e.fail(err)
	}
	l.serverUsername = p.Username

	// The peer follows up with its tickets unprompted.
	e.layer.SetPreMasterSecret(premaster, nil, nil)
	utils.ExplicitBzero(premaster)
	l.stage = stageConfirmed
	return nil
}

func (e *Engine) onTicketResponse(p *Packet) (func(), error) {
	notify := e.onTickets

	master := e.layer.MasterSecret()
	if len(master) == 0 {
		return notify, failure.InvalidHandshakeState.WithMessage("ticket_response without master secret")
	}
	e.pool.SaveTickets(p.Tickets, time.Duration(p.TTL)*time.Second, master)
	utils.ExplicitBzero(master)
	e.log.Debugf("Received %d tickets.", len(p.Tickets))

	l := e.login
	if l == nil {
		return notify, nil
	}
	if l.stage != stageConfirmed {
		return notify, e.fail(failure.InvalidHandshakeState.WithMessage("%s: tickets before confirmation", l.kind))
	}
	return notify, e.finish(l)
}

func (e *Engine) finish(l *login) error {
	r := &Result{
		Mode:                l.kind,
		SessionID:           l.sessionID,
		AdditionalLoginStep: l.additional,
	}
	switch l.kind {
	case ModeECDHE:
		r.Info = &EcdheInfo{Solution: l.solution}
	case ModeECDHEX:
		r.Info = &EcdhexInfo{PublicKey: l.identityKey.PublicKey(), Host: l.resolvedHost}
	case ModeSRP:
		r.Username = l.username
		r.Info = &SrpInfo{Username: l.username, Host: l.host, SessionID: l.sessionID}
	case ModeKey:
		r.Username = l.serverUsername
		r.Info = &KeyInfo{PublicKey: l.identityKey.PublicKey(), Username: l.serverUsername, SessionID: l.sessionID}
	case ModeSession:
		r.Username = l.serverUsername
		r.Info = &SessionInfo{SessionID: l.sessionID, Username: l.serverUsername}
	}
	if e.expectedUsername != "" && r.Username != e.expectedUsername {
		return e.fail(failure.CannotReloginUserMismatch.WithMessage("%q is not %q", r.Username, e.expectedUsername))
	}

	// The restorable session key outlives the login.
	if l.kind != ModeSession && l.sessionKey != nil {
		r.SessionKey = l.sessionKey
		l.sessionKey = nil
	}
	e.clearLogin()
	e.result = r
	e.done = true
	instrument.Handshake(string(l.kind), true)
	e.log.Infof("%s handshake complete.", l.kind)
	return nil
}
