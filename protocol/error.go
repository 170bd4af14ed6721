package protocol

import "fmt"

// Error is a struct to hold the code, message, and retriability status
type Error struct {
	Code        int16
	Message     string
	IsRetriable bool
}

func (e Error) Error() string {
	return fmt.Sprintf("broker error %d: %s", e.Code, e.Message)
}

// Define each error as a variable of type Error
var (
	ErrUnknownServerError  = Error{Code: -1, Message: "The server experienced an unexpected error when processing the request.", IsRetriable: false}
	ErrNone                = Error{Code: 0, Message: "", IsRetriable: false}
	ErrCorruptMessage      = Error{Code: 2, Message: "The request body could not be decoded.", IsRetriable: false}
	ErrInvalidTopic        = Error{Code: 3, Message: "The request named an invalid topic.", IsRetriable: false}
	ErrRequestTimedOut     = Error{Code: 7, Message: "The request timed out.", IsRetriable: true}
	ErrBrokerNotAvailable  = Error{Code: 8, Message: "The broker is not available.", IsRetriable: true}
	ErrUnsupportedVersion  = Error{Code: 35, Message: "The version of API is not supported.", IsRetriable: false}
	ErrUnsupportedCodec    = Error{Code: 76, Message: "The request body uses a compression codec the broker does not support.", IsRetriable: false}
	ErrInvalidRequest      = Error{Code: 42, Message: "This most likely occurs because of a request being malformed by the client library or the message was sent to an incompatible broker.", IsRetriable: false}
	ErrUnknownAPIKey       = Error{Code: 100, Message: "The api key is not known to the broker.", IsRetriable: false}
	ErrCoordUnavailable    = Error{Code: 101, Message: "The coordination store could not be reached.", IsRetriable: true}
)

// ErrorMap associates error codes with corresponding Error structs
var ErrorMap = map[int16]Error{
	-1:  ErrUnknownServerError,
	0:   ErrNone,
	2:   ErrCorruptMessage,
	3:   ErrInvalidTopic,
	7:   ErrRequestTimedOut,
	8:   ErrBrokerNotAvailable,
	35:  ErrUnsupportedVersion,
	42:  ErrInvalidRequest,
	76:  ErrUnsupportedCodec,
	100: ErrUnknownAPIKey,
	101: ErrCoordUnavailable,
}

// ErrorFromCode returns the Error for a response code, ErrUnknownServerError if unknown
func ErrorFromCode(code int16) Error {
	if e, ok := ErrorMap[code]; ok {
		return e
	}
	return ErrUnknownServerError
}
