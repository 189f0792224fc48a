package motorlink

// Sum7 is the classic-dialect check: the byte sum masked to 7 bits.
func Sum7(b []byte) byte {
	var s byte
	for _, v := range b {
		s += v
	}
	return s & 0x7F
}

// CRC16 is the modern-dialect check: CRC-16 with polynomial 0x1021 and a
// zero initial value, each byte XORed into the high half of the register.
func CRC16(b []byte) uint16 {
	var crc uint16
	for _, v := range b {
		crc ^= uint16(v) << 8
		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// framing is the per-dialect dispatch pair selected once the dialect is known.
type framing struct {
	check       func(frame []byte) []byte
	checkLen    int
	ackExpected bool
}

var classicFraming = framing{
	check:    func(frame []byte) []byte { return []byte{Sum7(frame)} },
	checkLen: 1,
}

var modernFraming = framing{
	check: func(frame []byte) []byte {
		crc := CRC16(frame)
		return []byte{byte(crc >> 8), byte(crc)}
	},
	checkLen:    2,
	ackExpected: true,
}

// Seal appends the check for dialect d to frame. Unknown dialects return the
// frame unchanged. Simulated devices use it to build replies.
func Seal(d Dialect, frame []byte) []byte {
	fr, ok := framingFor(d)
	if !ok {
		return frame
	}
	return append(frame, fr.check(frame)...)
}

func framingFor(d Dialect) (framing, bool) {
	switch d {
	case DialectClassic:
		return classicFraming, true
	case DialectModern:
		return modernFraming, true
	}
	return framing{}, false
}
