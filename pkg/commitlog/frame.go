package commitlog

import (
	"encoding/binary"
	"hash/crc32"
)

// encodeFrame renders a commit as length(u32 LE) || crc(u32 LE) || payload.
// crc is computed over length||payload, per spec.md §4.7.
func encodeFrame(payload []byte) []byte {
	frame := make([]byte, commitHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(frame[0:4], uint32(len(payload)))
	copy(frame[commitHeaderSize:], payload)
	crc := crc32.ChecksumIEEE(frame[0:4])
	crc = crc32.Update(crc, crc32.IEEETable, payload)
	binary.LittleEndian.PutUint32(frame[4:8], crc)
	return frame
}

// decodeFrameHeader parses the length+crc header preceding a commit's
// payload.
func decodeFrameHeader(buf []byte) (length uint32, crc uint32) {
	length = binary.LittleEndian.Uint32(buf[0:4])
	crc = binary.LittleEndian.Uint32(buf[4:8])
	return length, crc
}

// verifyCRC recomputes crc32(length||payload) and compares it to want.
func verifyCRC(length uint32, payload []byte, want uint32) bool {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], length)
	got := crc32.ChecksumIEEE(lenBuf[:])
	got = crc32.Update(got, crc32.IEEETable, payload)
	return got == want
}
