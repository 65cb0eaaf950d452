// Package testaudio builds small, valid audio payloads for tests.
package testaudio

import (
	"bytes"
	"encoding/binary"
)

const SampleRate = 16000

// WAV returns a mono 16-bit PCM WAV with the given number of samples. seed
// changes the sample values so callers can build distinct payloads.
func WAV(samples int, seed byte) []byte {
	dataLen := samples * 2
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(SampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(SampleRate*2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(dataLen))
	for i := 0; i < samples; i++ {
		_ = binary.Write(&buf, binary.LittleEndian, int16(int(seed)*31+i%97))
	}
	return buf.Bytes()
}

// MP3Header returns bytes that sniff as MP3 (an ID3v2 tag) but carry no frames.
func MP3Header(seed byte) []byte {
	out := []byte{'I', 'D', '3', 0x04, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	return append(out, bytes.Repeat([]byte{seed}, 64)...)
}
