package protocol

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/CefBoud/monpubsub/compress"
	"github.com/CefBoud/monpubsub/serde"
	"github.com/CefBoud/monpubsub/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, msg Message, codec compress.CompressionType) Message {
	t.Helper()
	frame, err := EncodeRequest(msg, 42, "client-1", codec)
	require.NoError(t, err)

	read, err := serde.ReadFrame(bytes.NewReader(frame))
	require.NoError(t, err)
	req, err := serde.ParseHeader(read, "127.0.0.1:40000")
	require.NoError(t, err)
	assert.Equal(t, msg.APIKey(), req.RequestAPIKey)
	assert.Equal(t, uint32(42), req.CorrelationID)
	assert.Equal(t, "client-1", req.ClientID)
	assert.Equal(t, codec, compress.FromAttributes(req.Attributes))

	decoded, code := DecodeRequest(req)
	require.Equal(t, ErrNone, code)
	return decoded
}

func TestRegistrationRequest(t *testing.T) {
	msg := RegistrationMessage{
		Role:          types.Publisher,
		Topics:        []string{"t1", "t2"},
		EndpointID:    "tcp://10.0.0.1:None",
		HistoryLength: 3,
	}
	for _, codec := range []compress.CompressionType{compress.NONE, compress.GZIP, compress.ZSTD} {
		assert.Equal(t, msg, roundTrip(t, msg, codec))
	}
}

func TestDisseminationRequest(t *testing.T) {
	msg := DisseminationMessage{Topic: "AAPL", PublisherAddress: "10.0.0.1", HistoryLength: 5, Value: "172.31"}
	assert.Equal(t, msg, roundTrip(t, msg, compress.LZ4))
}

func TestDisseminationCarriesLongValue(t *testing.T) {
	value := strings.Repeat("v", 70000)
	msg := DisseminationMessage{Topic: "AAPL", PublisherAddress: "tcp://10.0.0.1:None", HistoryLength: 5, Value: value}
	got := roundTrip(t, msg, compress.NONE).(DisseminationMessage)
	assert.Len(t, got.Value, len(value))
	assert.Equal(t, msg, got)
}

func TestEncodeRequestRejectsOversizedFields(t *testing.T) {
	long := strings.Repeat("t", math.MaxUint16+1)
	_, err := EncodeRequest(DisseminationMessage{Topic: long, HistoryLength: 1}, 1, "c", compress.NONE)
	assert.ErrorIs(t, err, serde.ErrStringTooLong)

	_, err = EncodeRequest(RegistrationMessage{Role: types.Subscriber, Topics: []string{long}, EndpointID: "tcp://10.0.0.1:None"}, 1, "c", compress.NONE)
	assert.ErrorIs(t, err, serde.ErrStringTooLong)

	_, err = EncodeRequest(ControlCommand{Command: LoadCommand}, 1, long, compress.NONE)
	assert.ErrorIs(t, err, serde.ErrStringTooLong)

	_, err = EncodeRequest(DisseminationMessage{Topic: "t", Value: strings.Repeat("v", serde.MaxFrameSize)}, 1, "c", compress.NONE)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestControlCommands(t *testing.T) {
	load, err := ParseControlCommand("load")
	require.NoError(t, err)
	assert.Equal(t, LoadKey, load.APIKey())
	assert.Equal(t, load, roundTrip(t, load, compress.NONE))

	port, err := ParseControlCommand("pub_port")
	require.NoError(t, err)
	assert.Equal(t, PubPortKey, port.APIKey())

	_, err = ParseControlCommand("reboot")
	assert.Error(t, err)
}

func TestDecodeRequestErrors(t *testing.T) {
	_, code := DecodeRequest(types.Request{RequestAPIKey: 99})
	assert.Equal(t, ErrUnknownAPIKey, code)

	_, code = DecodeRequest(types.Request{RequestAPIKey: RegisterKey, RequestAPIVersion: 7})
	assert.Equal(t, ErrUnsupportedVersion, code)

	_, code = DecodeRequest(types.Request{RequestAPIKey: RegisterKey, Body: []byte{1, 0}})
	assert.Equal(t, ErrCorruptMessage, code)

	// unknown role
	e := serde.NewEncoder()
	e.PutInt8(9)
	e.PutStringArray(nil)
	e.PutString("tcp://x:1")
	e.PutInt32(0)
	_, code = DecodeRequest(types.Request{RequestAPIKey: RegisterKey, Body: e.Bytes()})
	assert.Equal(t, ErrCorruptMessage, code)

	_, code = DecodeRequest(types.Request{RequestAPIKey: DisseminateKey, Attributes: 0x07, Body: []byte("x")})
	assert.Equal(t, ErrUnsupportedCodec, code)
}

func TestLine(t *testing.T) {
	m := DisseminationMessage{Topic: "AAPL", PublisherAddress: "10.0.0.1", HistoryLength: 5}
	assert.Equal(t, "AAPL 10.0.0.1 5", m.Line())
	m.Value = "172.31"
	assert.Equal(t, "AAPL 10.0.0.1 5 172.31", m.Line())
}

func TestResponses(t *testing.T) {
	frame := EncodeResponse(7, ErrNone, EncodeAssignment(types.Assignment{Addresses: []string{"a:1", "b:2"}}))
	resp, err := serde.ParseResponseHeader(frame)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), resp.CorrelationID)
	assert.Equal(t, int16(0), resp.ErrorCode)
	a, err := DecodeAssignment(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, []string{"a:1", "b:2"}, a.Addresses)

	frame = EncodeResponse(8, ErrCorruptMessage, nil)
	resp, err = serde.ParseResponseHeader(frame)
	require.NoError(t, err)
	assert.Equal(t, ErrCorruptMessage, ErrorFromCode(resp.ErrorCode))
	assert.Equal(t, ErrUnknownServerError, ErrorFromCode(12345))

	s, err := DecodeString(EncodeString(AckDropped))
	require.NoError(t, err)
	assert.Equal(t, AckDropped, s)

	snap := types.LoadSnapshot{RequestCount: 11, WindowStartMs: 1700000000000, Leader: true, RosterSize: 2, PoolSize: 3}
	l, err := DecodeLoad(EncodeLoad(snap))
	require.NoError(t, err)
	assert.Equal(t, snap, l)

	_, err = DecodeLoad([]byte{0, 1})
	assert.Error(t, err)
}
