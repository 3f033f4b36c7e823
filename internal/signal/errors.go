package signal

import "errors"

var (
	errNotStrictlyIncreasing = errors.New("signal: levels must be strictly increasing for LONG (sl < entry < tp1 < tp2 < tp3)")
	errNotStrictlyDecreasing = errors.New("signal: levels must be strictly decreasing for SHORT (sl > entry > tp1 > tp2 > tp3)")
)
