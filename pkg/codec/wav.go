package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrNotWav is returned by ReadWavPCM16 when the input lacks a RIFF/WAVE
// header.
var ErrNotWav = errors.New("codec: not a RIFF/WAVE file")

// NewWavBuffer wraps mono 16-bit linear PCM in a minimal canonical WAV
// header at the given sample rate. Used to wrap a decoded 8 kHz caller
// segment as a WAV file for the external cleanup transcoder that runs
// ahead of STT.
func NewWavBuffer(pcm []byte, sampleRate int) []byte {
	buf := new(bytes.Buffer)

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*2))
	binary.Write(buf, binary.LittleEndian, uint16(2))
	binary.Write(buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// WavInfo describes the format of a parsed WAV file.
type WavInfo struct {
	SampleRate int
	Channels   int
	BitsPerSample int
}

// ReadWavPCM16 parses a canonical PCM WAV file (the format NewWavBuffer
// writes, and the format most audio tools export to), returning the raw
// interleaved 16-bit samples and the file's format. It walks chunks rather
// than assuming "fmt " immediately precedes "data", since real-world WAV
// files commonly carry extra chunks (LIST, fact) between them.
func ReadWavPCM16(data []byte) ([]byte, WavInfo, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, WavInfo{}, ErrNotWav
	}

	var info WavInfo
	var pcm []byte
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if body+size > len(data) {
			size = len(data) - body
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, WavInfo{}, fmt.Errorf("codec: fmt chunk too small (%d bytes)", size)
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			if format != 1 && format != 0xFFFE {
				return nil, WavInfo{}, fmt.Errorf("codec: unsupported WAV format tag %d (PCM only)", format)
			}
			info.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
		case "data":
			pcm = data[body : body+size]
		}

		pos = body + size
		if size%2 == 1 {
			pos++ // chunks are word-aligned
		}
	}

	if info.SampleRate == 0 {
		return nil, WavInfo{}, errors.New("codec: missing fmt chunk")
	}
	if pcm == nil {
		return nil, WavInfo{}, errors.New("codec: missing data chunk")
	}
	if info.BitsPerSample != 16 {
		return nil, WavInfo{}, fmt.Errorf("codec: unsupported bit depth %d (16-bit PCM only)", info.BitsPerSample)
	}

	return pcm, info, nil
}

// PCM16BytesToInt16 reinterprets little-endian interleaved PCM16 bytes as a
// sample slice; down-mixes to mono by averaging channels if channels > 1.
func PCM16BytesToInt16(pcm []byte, channels int) []int16 {
	if channels < 1 {
		channels = 1
	}
	frameBytes := 2 * channels
	n := len(pcm) / frameBytes
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		var sum int32
		for c := 0; c < channels; c++ {
			off := i*frameBytes + c*2
			sum += int32(int16(binary.LittleEndian.Uint16(pcm[off : off+2])))
		}
		out[i] = int16(sum / int32(channels))
	}
	return out
}
