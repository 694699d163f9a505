package protocol

import "errors"

var (
	ErrTruncated           = errors.New("protocol: truncated data")
	ErrUnknownResponseType = errors.New("protocol: unknown response type")
)
