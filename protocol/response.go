package protocol

import (
	"github.com/CefBoud/monpubsub/serde"
	"github.com/CefBoud/monpubsub/types"
)

// EncodeResponse frames a response body with its correlation id and error code
func EncodeResponse(correlationID uint32, errCode Error, body []byte) []byte {
	e := serde.NewEncoder()
	e.PutInt32(correlationID)
	e.PutInt16(uint16(errCode.Code))
	e.PutBytes(body)
	return e.FinishAndReturn()
}

// EncodeAssignment is the body of a Register response
func EncodeAssignment(a types.Assignment) []byte {
	e := serde.NewEncoder()
	e.PutStringArray(a.Addresses)
	return e.Bytes()
}

// DecodeAssignment decodes a Register response body
func DecodeAssignment(body []byte) (types.Assignment, error) {
	d := serde.NewDecoder(body)
	addrs := d.StringArray()
	return types.Assignment{Addresses: addrs}, d.Err()
}

// EncodeString is the body of Disseminate (the ack) and PubPort responses
func EncodeString(s string) []byte {
	e := serde.NewEncoder()
	e.PutString(s)
	return e.Bytes()
}

// DecodeString decodes a Disseminate or PubPort response body
func DecodeString(body []byte) (string, error) {
	d := serde.NewDecoder(body)
	s := d.String()
	return s, d.Err()
}

// EncodeLoad is the body of a Load response
func EncodeLoad(l types.LoadSnapshot) []byte {
	e := serde.NewEncoder()
	e.PutInt32(l.RequestCount)
	e.PutInt64(l.WindowStartMs)
	e.PutBool(l.Leader)
	e.PutInt32(l.RosterSize)
	e.PutInt32(l.PoolSize)
	return e.Bytes()
}

// DecodeLoad decodes a Load response body
func DecodeLoad(body []byte) (types.LoadSnapshot, error) {
	d := serde.NewDecoder(body)
	l := types.LoadSnapshot{
		RequestCount:  d.UInt32(),
		WindowStartMs: d.UInt64(),
		Leader:        d.Bool(),
		RosterSize:    d.UInt32(),
		PoolSize:      d.UInt32(),
	}
	return l, d.Err()
}
