// Package protocol is the broker RPC wire format. A request frame is
//
//	uint32 length | uint16 api_key | uint16 api_version | uint32 correlation_id |
//	string client_id | uint8 attributes | body
//
// and a response frame is
//
//	uint32 length | uint32 correlation_id | int16 error_code | body
//
// The low 3 bits of attributes name the codec the body is compressed with.
package protocol

// API keys
const (
	RegisterKey    = uint16(0)
	DisseminateKey = uint16(1)
	PubPortKey     = uint16(2)
	LoadKey        = uint16(3)
)

// Version is the only api version spoken so far
const Version = uint16(0)

// Control command names, as sent by clients
const (
	PubPortCommand = "pub_port"
	LoadCommand    = "load"
)

// Dissemination acks
const (
	AckDisseminated = "disseminated"
	AckDropped      = "dropped"
)

var apiNames = map[uint16]string{
	RegisterKey:    "Register",
	DisseminateKey: "Disseminate",
	PubPortKey:     "PubPort",
	LoadKey:        "Load",
}

// APIName names an api key for logs
func APIName(key uint16) string {
	if name, ok := apiNames[key]; ok {
		return name
	}
	return "Unknown"
}
