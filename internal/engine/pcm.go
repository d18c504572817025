package engine

// DecodeS16LE decodes little-endian signed 16-bit PCM from buf into dst and
// returns the number of samples written. A trailing odd byte is ignored.
func DecodeS16LE(dst []int16, buf []byte) int {
	n := min(len(buf)/2, len(dst))
	for i := 0; i < n; i++ {
		dst[i] = int16(uint16(buf[2*i]) | uint16(buf[2*i+1])<<8)
	}
	return n
}

// pcmToFloat32 converts samples to float32 normalized to [-1, 1).
// Divides by 32768 (not 32767) so that the full int16 range maps to
// [-1.0, ~0.99997].
func pcmToFloat32(dst []float32, frame []int16) {
	for i, s := range frame {
		dst[i] = float32(s) / 32768.0
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
