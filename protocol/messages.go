package protocol

import (
	"fmt"

	"github.com/CefBoud/monpubsub/serde"
	"github.com/CefBoud/monpubsub/types"
)

// Message is one of RegistrationMessage, DisseminationMessage or ControlCommand
type Message interface {
	APIKey() uint16
	encode(e *serde.Encoder)
}

// RegistrationMessage announces a publisher or subscriber to a broker
type RegistrationMessage struct {
	Role          types.Role
	Topics        []string
	EndpointID    string // "tcp://<ip>:<port>", port may be "None"
	HistoryLength uint32
}

// APIKey implements Message
func (m RegistrationMessage) APIKey() uint16 { return RegisterKey }

func (m RegistrationMessage) encode(e *serde.Encoder) {
	e.PutInt8(uint8(m.Role))
	e.PutStringArray(m.Topics)
	e.PutString(m.EndpointID)
	e.PutInt32(m.HistoryLength)
}

// DisseminationMessage is one broker-mediated publication
type DisseminationMessage struct {
	Topic            string
	PublisherAddress string
	HistoryLength    uint32
	Value            string
}

// APIKey implements Message
func (m DisseminationMessage) APIKey() uint16 { return DisseminateKey }

func (m DisseminationMessage) encode(e *serde.Encoder) {
	e.PutString(m.Topic)
	e.PutString(m.PublisherAddress)
	e.PutInt32(m.HistoryLength)
	e.PutLongString(m.Value)
}

// Line is the broadcast form "<topic> <publisher_address> <history_length>",
// followed by " <value>" when the publication carries one
func (m DisseminationMessage) Line() string {
	line := fmt.Sprintf("%s %s %d", m.Topic, m.PublisherAddress, m.HistoryLength)
	if m.Value != "" {
		line += " " + m.Value
	}
	return line
}

// ControlCommand is a bodiless query: PubPortCommand or LoadCommand
type ControlCommand struct {
	Command string
}

// APIKey implements Message
func (m ControlCommand) APIKey() uint16 {
	if m.Command == LoadCommand {
		return LoadKey
	}
	return PubPortKey
}

func (m ControlCommand) encode(e *serde.Encoder) {}

func decodeRegistration(body []byte) (RegistrationMessage, error) {
	d := serde.NewDecoder(body)
	m := RegistrationMessage{
		Role:          types.Role(d.UInt8()),
		Topics:        d.StringArray(),
		EndpointID:    d.String(),
		HistoryLength: d.UInt32(),
	}
	if err := d.Err(); err != nil {
		return RegistrationMessage{}, err
	}
	if m.Role != types.Publisher && m.Role != types.Subscriber {
		return RegistrationMessage{}, fmt.Errorf("unknown role %v", m.Role)
	}
	return m, nil
}

func decodeDissemination(body []byte) (DisseminationMessage, error) {
	d := serde.NewDecoder(body)
	m := DisseminationMessage{
		Topic:            d.String(),
		PublisherAddress: d.String(),
		HistoryLength:    d.UInt32(),
		Value:            d.LongString(),
	}
	if err := d.Err(); err != nil {
		return DisseminationMessage{}, err
	}
	return m, nil
}
