package capture

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	bytesPerSample = 2 // PCM16
	bitsPerSample  = 16
	wavHeaderSize  = 44
	pcmFormatTag   = 1
)

// wavHeader is the canonical 44-byte RIFF/WAVE header for PCM data.
type wavHeader struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

// EncodeWAV wraps PCM16 frames into a WAV container. A trailing partial
// frame is dropped.
func EncodeWAV(pcm []byte, f Format) ([]byte, error) {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return nil, fmt.Errorf("invalid audio format: %d Hz, %d channels", f.SampleRate, f.Channels)
	}
	frame := bytesPerSample * f.Channels
	pcm = pcm[:len(pcm)/frame*frame]
	if len(pcm) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio")
	}

	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + len(pcm)),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   pcmFormatTag,
		NumChannels:   uint16(f.Channels),
		SampleRate:    uint32(f.SampleRate),
		ByteRate:      uint32(f.BytesPerSecond()),
		BlockAlign:    uint16(frame),
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(len(pcm)),
	}

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("write WAV header: %w", err)
	}
	buf.Write(pcm)
	return buf.Bytes(), nil
}

// DecodeWAV validates a WAV produced by EncodeWAV and returns its PCM payload.
func DecodeWAV(data []byte) ([]byte, Format, error) {
	if len(data) < wavHeaderSize {
		return nil, Format{}, fmt.Errorf("WAV data too short: need at least %d bytes, got %d", wavHeaderSize, len(data))
	}

	var h wavHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &h); err != nil {
		return nil, Format{}, fmt.Errorf("read WAV header: %w", err)
	}
	switch {
	case string(h.ChunkID[:]) != "RIFF":
		return nil, Format{}, fmt.Errorf("invalid WAV file: missing RIFF header")
	case string(h.Format[:]) != "WAVE":
		return nil, Format{}, fmt.Errorf("invalid WAV file: missing WAVE format")
	case string(h.Subchunk2ID[:]) != "data":
		return nil, Format{}, fmt.Errorf("invalid WAV file: missing data chunk")
	case h.AudioFormat != pcmFormatTag || h.BitsPerSample != bitsPerSample:
		return nil, Format{}, fmt.Errorf("unsupported WAV encoding: format %d, %d bits", h.AudioFormat, h.BitsPerSample)
	}

	end := wavHeaderSize + int(h.Subchunk2Size)
	if end > len(data) {
		return nil, Format{}, fmt.Errorf("WAV data truncated: header claims %d bytes, have %d", h.Subchunk2Size, len(data)-wavHeaderSize)
	}
	f := Format{SampleRate: int(h.SampleRate), Channels: int(h.NumChannels)}
	return data[wavHeaderSize:end], f, nil
}

// PCMDuration returns the playback length of n PCM bytes in seconds.
func PCMDuration(n int, f Format) float64 {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return float64(n) / float64(bps)
}
