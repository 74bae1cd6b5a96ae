package mqttbridge

import "errors"

var (
	// ErrCommandRejected means the adapter acknowledged the command
	// negatively. Rejections are final; the dispatcher does not retry them.
	ErrCommandRejected = errors.New("mqttbridge: command rejected by adapter")

	// ErrBadPayload means an inbound message could not be decoded.
	ErrBadPayload = errors.New("mqttbridge: malformed payload")

	// ErrBadTopic means an inbound topic did not match the expected shape.
	ErrBadTopic = errors.New("mqttbridge: malformed topic")
)
