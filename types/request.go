package types

// Request is a framed RPC request received by a broker
type Request struct {
	Length            uint32
	RequestAPIKey     uint16
	RequestAPIVersion uint16
	CorrelationID     uint32
	ClientID          string
	Attributes        uint8 // low 3 bits: body compression codec
	ConnectionAddress string
	Body              []byte
}

// Response is a framed RPC response received by a broker client
type Response struct {
	Length        uint32
	CorrelationID uint32
	ErrorCode     int16
	Body          []byte
}
