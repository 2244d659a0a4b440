package codec

// FrameBytes is one 20 ms frame of 8 kHz mono μ-law: one byte per sample.
const FrameBytes = 160

// MuLawIdleByte is the μ-law encoding of silence (the channel idle tone).
const MuLawIdleByte = 0xFF

// idleFastPathRatio is the fraction of a frame that must equal the idle byte
// for the fast-path silence check to declare the frame silent without
// decoding it.
const idleFastPathRatio = 0.95

// Chunk splits data into exact frameBytes-sized frames, returning any
// trailing short remainder separately so callers can decide whether to pad,
// carry it to the next call, or drop it.
func Chunk(data []byte, frameBytes int) (frames [][]byte, remainder []byte) {
	if frameBytes <= 0 {
		return nil, data
	}
	n := len(data) / frameBytes
	frames = make([][]byte, n)
	for i := 0; i < n; i++ {
		frames[i] = data[i*frameBytes : (i+1)*frameBytes]
	}
	remainder = data[n*frameBytes:]
	return frames, remainder
}

// IsIdleFrame is the fast-path silence check: true when at least 95% of the
// frame's bytes equal the μ-law idle byte, avoiding a full PCM decode for
// the overwhelmingly common case of dead air between utterances.
func IsIdleFrame(frame []byte) bool {
	if len(frame) == 0 {
		return true
	}
	idle := 0
	for _, b := range frame {
		if b == MuLawIdleByte {
			idle++
		}
	}
	return float64(idle)/float64(len(frame)) >= idleFastPathRatio
}
