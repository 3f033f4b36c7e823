package ratelimit

import "errors"

var errUnavailable = errors.New("rate budget would not reset before caller deadline")
