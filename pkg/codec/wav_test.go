package codec

import "bytes"
import "encoding/binary"
import "testing"

func TestNewWavBuffer(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	sampleRate := 16000
	wav := NewWavBuffer(pcm, sampleRate)

	if !bytes.HasPrefix(wav, []byte("RIFF")) {
		t.Errorf("expected RIFF prefix")
	}
	if !bytes.Contains(wav, []byte("WAVE")) {
		t.Errorf("expected WAVE format identifier")
	}

	expectedLen := 44 + len(pcm)
	if len(wav) != expectedLen {
		t.Errorf("expected length %d, got %d", expectedLen, len(wav))
	}
}

func TestNewWavBufferFromMuLaw(t *testing.T) {
	mulaw := make([]byte, FrameBytes)
	for i := range mulaw {
		mulaw[i] = MuLawIdleByte
	}
	pcm := DecodeToPCMBytes(mulaw)
	wav := NewWavBuffer(pcm, 8000)
	if len(wav) != 44+len(pcm) {
		t.Errorf("expected %d bytes, got %d", 44+len(pcm), len(wav))
	}
}

func TestReadWavPCM16RoundTripsNewWavBuffer(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
	wav := NewWavBuffer(pcm, 16000)

	got, info, err := ReadWavPCM16(wav)
	if err != nil {
		t.Fatalf("ReadWavPCM16: %v", err)
	}
	if !bytes.Equal(got, pcm) {
		t.Errorf("expected pcm %v, got %v", pcm, got)
	}
	if info.SampleRate != 16000 || info.Channels != 1 || info.BitsPerSample != 16 {
		t.Errorf("unexpected WavInfo: %+v", info)
	}
}

func TestReadWavPCM16SkipsExtraChunksBeforeData(t *testing.T) {
	pcm := []byte{0x0A, 0x0B, 0x0C, 0x0D}
	buf := new(bytes.Buffer)
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(0)) // size patched loosely; unused by the parser
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint32(8000))
	binary.Write(buf, binary.LittleEndian, uint32(16000))
	binary.Write(buf, binary.LittleEndian, uint16(2))
	binary.Write(buf, binary.LittleEndian, uint16(16))
	buf.WriteString("LIST")
	binary.Write(buf, binary.LittleEndian, uint32(4))
	buf.Write([]byte{'I', 'N', 'F', 'O'})
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	got, info, err := ReadWavPCM16(buf.Bytes())
	if err != nil {
		t.Fatalf("ReadWavPCM16: %v", err)
	}
	if !bytes.Equal(got, pcm) {
		t.Errorf("expected pcm %v, got %v", pcm, got)
	}
	if info.SampleRate != 8000 {
		t.Errorf("expected sample rate 8000, got %d", info.SampleRate)
	}
}

func TestReadWavPCM16RejectsNonWav(t *testing.T) {
	if _, _, err := ReadWavPCM16([]byte("not a wav file at all")); err != ErrNotWav {
		t.Errorf("expected ErrNotWav, got %v", err)
	}
}

func TestPCM16BytesToInt16DownmixesStereo(t *testing.T) {
	// two stereo frames: (100, 200) and (-100, -200)
	pcm := make([]byte, 8)
	binary.LittleEndian.PutUint16(pcm[0:2], uint16(int16(100)))
	binary.LittleEndian.PutUint16(pcm[2:4], uint16(int16(200)))
	neg100, neg200 := int16(-100), int16(-200)
	binary.LittleEndian.PutUint16(pcm[4:6], uint16(neg100))
	binary.LittleEndian.PutUint16(pcm[6:8], uint16(neg200))

	got := PCM16BytesToInt16(pcm, 2)
	want := []int16{150, -150}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("expected %v, got %v", want, got)
	}
}
