package notify

import "errors"

var (
	// ErrChannelDisabled is returned by Send on a disabled channel.
	ErrChannelDisabled = errors.New("channel is disabled")

	// ErrInvalidNotice is returned for a notice without provider or model.
	ErrInvalidNotice = errors.New("invalid notice: provider and model are required")
)
