package net

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/google/uuid"

	"skoll/internal/common"
)

var (
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrMessageTooShort    = errors.New("message too short")
	ErrBadPairID          = errors.New("bad pair id")
)

type MessageType int

const (
	Heartbeat MessageType = iota
	CreatePair
	SubmitBid
	SubmitAsk
)

type ReportMessageType int

const (
	PairCreatedReport ReportMessageType = iota
	ExecutionReport
	ErrorReport
)

type Message interface {
	GetType() MessageType
}

// Message format constants
const (
	BaseMessageHeaderLen       = 2
	CreatePairMessageHeaderLen = 4 + 4 + 1
	SubmitMessageHeaderLen     = 16 + 8 + 8 + 1
	assetCodeLen               = 4
)

// Generic message type.
type BaseMessage struct {
	TypeOf MessageType // 2 bytes
}

func (m BaseMessage) GetType() MessageType {
	return m.TypeOf
}

func parseMessage(msg []byte) (Message, error) {
	if len(msg) < BaseMessageHeaderLen {
		return BaseMessage{}, ErrMessageTooShort
	}

	typeOf := MessageType(binary.BigEndian.Uint16(msg[0:2]))
	msg = msg[2:]
	switch typeOf {
	case CreatePair:
		return parseCreatePair(msg)
	case SubmitBid, SubmitAsk:
		return parseSubmit(typeOf, msg)
	default:
		return BaseMessage{}, ErrInvalidMessageType
	}
}

// readMessage reads exactly one frame off the stream, so back-to-back
// messages coalesced into a single TCP segment still parse cleanly. The
// two-byte type prefix selects the fixed header, whose trailing
// account-length byte sizes the variable tail.
func readMessage(r io.Reader) (Message, error) {
	var prefix [BaseMessageHeaderLen]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return BaseMessage{}, err
	}

	var headerLen int
	switch MessageType(binary.BigEndian.Uint16(prefix[:])) {
	case CreatePair:
		headerLen = CreatePairMessageHeaderLen
	case SubmitBid, SubmitAsk:
		headerLen = SubmitMessageHeaderLen
	default:
		return BaseMessage{}, ErrInvalidMessageType
	}

	frame := make([]byte, BaseMessageHeaderLen+headerLen)
	copy(frame, prefix[:])
	if _, err := io.ReadFull(r, frame[BaseMessageHeaderLen:]); err != nil {
		return BaseMessage{}, err
	}

	accountLen := int(frame[len(frame)-1])
	frame = append(frame, make([]byte, accountLen)...)
	if _, err := io.ReadFull(r, frame[len(frame)-accountLen:]); err != nil {
		return BaseMessage{}, err
	}
	return parseMessage(frame)
}

// CreatePairMessage asks the engine to mint a pair for two asset codes. The
// created pair's handle comes back in a PairCreatedReport.
type CreatePairMessage struct {
	BaseMessage
	Base       common.Asset // 4 bytes
	Quote      common.Asset // 4 bytes
	AccountLen uint8        // 1 byte
	Account    common.AccountID
}

func (m CreatePairMessage) Serialize() []byte {
	buf := make([]byte, BaseMessageHeaderLen+CreatePairMessageHeaderLen+len(m.Account))
	binary.BigEndian.PutUint16(buf[0:2], uint16(CreatePair))
	copy(buf[2:6], padAsset(m.Base))
	copy(buf[6:10], padAsset(m.Quote))
	buf[10] = uint8(len(m.Account))
	copy(buf[11:], m.Account)
	return buf
}

func parseCreatePair(msg []byte) (CreatePairMessage, error) {
	if len(msg) < CreatePairMessageHeaderLen {
		return CreatePairMessage{}, ErrMessageTooShort
	}

	m := CreatePairMessage{BaseMessage: BaseMessage{TypeOf: CreatePair}}
	m.Base = common.Asset(msg[0:4])
	m.Quote = common.Asset(msg[4:8])
	m.AccountLen = msg[8]

	if len(msg) < CreatePairMessageHeaderLen+int(m.AccountLen) {
		return CreatePairMessage{}, ErrMessageTooShort
	}
	m.Account = common.AccountID(msg[9 : 9+int(m.AccountLen)])
	return m, nil
}

// SubmitMessage carries one bid or ask (the header type distinguishes them)
// against the pair handle it names.
type SubmitMessage struct {
	BaseMessage
	PairID     uuid.UUID // 16 bytes
	Price      uint64    // 8 bytes
	Quantity   uint64    // 8 bytes
	AccountLen uint8     // 1 byte
	Account    common.AccountID
}

func (m SubmitMessage) Side() common.Side {
	if m.TypeOf == SubmitAsk {
		return common.Ask
	}
	return common.Bid
}

func (m SubmitMessage) Serialize() []byte {
	buf := make([]byte, BaseMessageHeaderLen+SubmitMessageHeaderLen+len(m.Account))
	binary.BigEndian.PutUint16(buf[0:2], uint16(m.TypeOf))
	copy(buf[2:18], m.PairID[:])
	binary.BigEndian.PutUint64(buf[18:26], m.Price)
	binary.BigEndian.PutUint64(buf[26:34], m.Quantity)
	buf[34] = uint8(len(m.Account))
	copy(buf[35:], m.Account)
	return buf
}

func parseSubmit(typeOf MessageType, msg []byte) (SubmitMessage, error) {
	if len(msg) < SubmitMessageHeaderLen {
		return SubmitMessage{}, ErrMessageTooShort
	}

	m := SubmitMessage{BaseMessage: BaseMessage{TypeOf: typeOf}}
	pairID, err := uuid.FromBytes(msg[0:16])
	if err != nil {
		return SubmitMessage{}, ErrBadPairID
	}
	m.PairID = pairID
	m.Price = binary.BigEndian.Uint64(msg[16:24])
	m.Quantity = binary.BigEndian.Uint64(msg[24:32])
	m.AccountLen = msg[32]

	if len(msg) < SubmitMessageHeaderLen+int(m.AccountLen) {
		return SubmitMessage{}, ErrMessageTooShort
	}
	m.Account = common.AccountID(msg[33 : 33+int(m.AccountLen)])
	return m, nil
}

// Report is the single server-to-client frame. PairCreatedReport carries a
// fresh pair handle, ExecutionReport a settled fill addressed to one party,
// ErrorReport a rejection string.
type Report struct {
	MessageType     ReportMessageType // 1 byte
	Side            common.Side       // 1 byte
	Price           uint64            // 8 bytes
	BaseQty         uint64            // 8 bytes
	QuoteQty        uint64            // 8 bytes
	Timestamp       uint64            // 8 bytes
	CounterpartyLen uint16            // 2 bytes
	ErrStrLen       uint32            // 4 bytes
	PairID          uuid.UUID         // 16 bytes
	Err             string            // n bytes
	Counterparty    string            // n bytes
}

const ReportFixedHeaderLen = 1 + 1 + 8 + 8 + 8 + 8 + 2 + 4 + 16

// Serialize converts the report to be sent on the wire. The length fields
// are derived from the variable strings, never trusted from the struct.
func (r *Report) Serialize() []byte {
	totalSize := ReportFixedHeaderLen + len(r.Err) + len(r.Counterparty)

	buf := make([]byte, totalSize)
	buf[0] = byte(r.MessageType)
	buf[1] = byte(r.Side)
	binary.BigEndian.PutUint64(buf[2:10], r.Price)
	binary.BigEndian.PutUint64(buf[10:18], r.BaseQty)
	binary.BigEndian.PutUint64(buf[18:26], r.QuoteQty)
	binary.BigEndian.PutUint64(buf[26:34], r.Timestamp)
	binary.BigEndian.PutUint16(buf[34:36], uint16(len(r.Counterparty)))
	binary.BigEndian.PutUint32(buf[36:40], uint32(len(r.Err)))
	copy(buf[40:56], r.PairID[:])

	offset := ReportFixedHeaderLen
	copy(buf[offset:], r.Err)
	offset += len(r.Err)
	copy(buf[offset:], r.Counterparty)
	return buf
}

// ParseReportHeader decodes the fixed portion of a report frame. The caller
// reads ErrStrLen+CounterpartyLen further bytes and hands them to
// FinishReport.
func ParseReportHeader(buf []byte) (Report, error) {
	if len(buf) < ReportFixedHeaderLen {
		return Report{}, ErrMessageTooShort
	}

	r := Report{
		MessageType: ReportMessageType(buf[0]),
		Side:        common.Side(buf[1]),
		Price:       binary.BigEndian.Uint64(buf[2:10]),
		BaseQty:     binary.BigEndian.Uint64(buf[10:18]),
		QuoteQty:    binary.BigEndian.Uint64(buf[18:26]),
		Timestamp:   binary.BigEndian.Uint64(buf[26:34]),
	}
	r.CounterpartyLen = binary.BigEndian.Uint16(buf[34:36])
	r.ErrStrLen = binary.BigEndian.Uint32(buf[36:40])
	copy(r.PairID[:], buf[40:56])
	return r, nil
}

// FinishReport attaches the variable-length tail read after the header.
func (r *Report) FinishReport(tail []byte) error {
	if len(tail) < int(r.ErrStrLen)+int(r.CounterpartyLen) {
		return ErrMessageTooShort
	}
	r.Err = string(tail[:int(r.ErrStrLen)])
	r.Counterparty = string(tail[int(r.ErrStrLen) : int(r.ErrStrLen)+int(r.CounterpartyLen)])
	return nil
}

// padAsset fixes an asset code at four bytes, truncating or space padding.
func padAsset(asset common.Asset) []byte {
	code := []byte("    ")
	copy(code, asset)
	return code[:assetCodeLen]
}
