package portfolio

import "math"

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

func appendFloat64LE(buf []byte, v float64) []byte {
	return appendInt64LE(buf, int64(math.Float64bits(v)))
}
