package mqtt

import "errors"

var (
	ErrConnectionFailed = errors.New("mqtt: connect failed")
	ErrNotConnected     = errors.New("mqtt: not connected")
	ErrPublishFailed    = errors.New("mqtt: publish failed")

	// ErrInvalidQoS rejects levels above 2.
	ErrInvalidQoS   = errors.New("mqtt: qos must be 0, 1 or 2")
	ErrInvalidTopic = errors.New("mqtt: empty topic")
)
