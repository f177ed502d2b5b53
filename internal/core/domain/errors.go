package domain

import "errors"

var (
	ErrMediaAccessDenied  = errors.New("media access denied")
	ErrChannelUnavailable = errors.New("signaling channel unavailable")
	ErrSessionClosed      = errors.New("session closed")
	ErrPeerNotFound       = errors.New("peer not found")
	ErrViewerNotFound     = errors.New("viewer not found")
	ErrAlreadyLive        = errors.New("broadcast already running")
	ErrConnectionFailed   = errors.New("connection failed")
	ErrInvalidSignal      = errors.New("invalid signaling message")
)
