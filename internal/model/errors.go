package model

import "errors"

// ErrNoClient is returned when a send is attempted without a live remote session.
var ErrNoClient = errors.New("no client")
