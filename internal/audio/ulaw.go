package audio

import "math"

// ITU-T G.711 µ-law, the narrow-band codec both transports negotiate. The
// relay itself never transcodes; these helpers exist for tooling that has to
// synthesize caller audio (cmd/callprobe) and for tests.

const (
	// SampleRate is the telephony narrow-band rate in Hz.
	SampleRate = 8000
	// ulawSilence is the µ-law code for a zero sample.
	ulawSilence = 0xFF

	ulawBias = 0x84
	ulawClip = 32635
)

// EncodeULawSample converts one 16-bit linear PCM sample to µ-law.
func EncodeULawSample(sample int16) byte {
	sign := byte(0)
	s := int32(sample)
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > ulawClip {
		s = ulawClip
	}
	s += ulawBias

	exponent := byte(7)
	for mask := int32(0x4000); exponent > 0 && s&mask == 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte((s >> (exponent + 3)) & 0x0F)
	return ^(sign | (exponent << 4) | mantissa)
}

// EncodeULaw converts 16-bit little-endian mono PCM to µ-law. A trailing odd
// byte is ignored.
func EncodeULaw(pcm16le []byte) []byte {
	out := make([]byte, 0, len(pcm16le)/2)
	for i := 0; i+1 < len(pcm16le); i += 2 {
		sample := int16(uint16(pcm16le[i]) | uint16(pcm16le[i+1])<<8)
		out = append(out, EncodeULawSample(sample))
	}
	return out
}

// Silence returns d-many milliseconds of µ-law silence at the telephony rate.
func Silence(ms int) []byte {
	n := SampleRate * ms / 1000
	out := make([]byte, n)
	for i := range out {
		out[i] = ulawSilence
	}
	return out
}

// Tone synthesizes a µ-law sine tone of the given frequency and duration,
// scaled by amplitude in [0,1].
func Tone(freqHz float64, ms int, amplitude float64) []byte {
	if amplitude < 0 {
		amplitude = 0
	}
	if amplitude > 1 {
		amplitude = 1
	}
	n := SampleRate * ms / 1000
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		v := amplitude * math.Sin(2*math.Pi*freqHz*float64(i)/SampleRate)
		out[i] = EncodeULawSample(int16(v * math.MaxInt16))
	}
	return out
}
