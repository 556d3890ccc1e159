package audio

import "testing"

func TestEncodeULawSampleKnownValues(t *testing.T) {
	cases := []struct {
		sample int16
		want   byte
	}{
		{0, 0xFF},
		{-1, 0x7F},
		{32767, 0x80},
		{-32768, 0x00},
	}
	for _, tc := range cases {
		got := EncodeULawSample(tc.sample)
		if got != tc.want {
			t.Fatalf("EncodeULawSample(%d) = %#x, want %#x", tc.sample, got, tc.want)
		}
	}
}

func TestEncodeULawSignSymmetry(t *testing.T) {
	for _, s := range []int16{1, 100, 1000, 8000, 20000, 32000} {
		pos := EncodeULawSample(s)
		neg := EncodeULawSample(-s)
		if pos&0x80 == 0 {
			t.Fatalf("positive sample %d lost sign bit: %#x", s, pos)
		}
		if neg&0x80 != 0 {
			t.Fatalf("negative sample %d has wrong sign bit: %#x", -s, neg)
		}
		if pos&0x7F != neg&0x7F {
			t.Fatalf("magnitude mismatch for ±%d: %#x vs %#x", s, pos, neg)
		}
	}
}

func TestEncodeULawHalvesLength(t *testing.T) {
	pcm := []byte{0x00, 0x00, 0x10, 0x00, 0xF0, 0xFF, 0x01}
	out := EncodeULaw(pcm)
	if len(out) != 3 {
		t.Fatalf("len = %d, want 3 (odd trailing byte ignored)", len(out))
	}
}

func TestSilenceDuration(t *testing.T) {
	s := Silence(20)
	if len(s) != 160 {
		t.Fatalf("20ms at 8kHz = %d samples, want 160", len(s))
	}
	for i, b := range s {
		if b != 0xFF {
			t.Fatalf("sample %d = %#x, want µ-law silence 0xFF", i, b)
		}
	}
}

func TestToneDurationAndEnergy(t *testing.T) {
	tone := Tone(440, 100, 0.5)
	if len(tone) != 800 {
		t.Fatalf("100ms at 8kHz = %d samples, want 800", len(tone))
	}
	nonSilent := 0
	for _, b := range tone {
		if b != 0xFF && b != 0x7F {
			nonSilent++
		}
	}
	if nonSilent < len(tone)/2 {
		t.Fatalf("tone mostly silent: %d of %d samples carry energy", nonSilent, len(tone))
	}
}
