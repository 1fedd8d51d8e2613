package lang

import (
	"encoding/binary"
	"fmt"
)

const (
	containerMagic   = "OAKSCODE"
	headerSize       = 20
	currentFormatVersion uint32 = 1
)

// Program is the in-memory form of a compiled bytecode container: the
// code section and the deduplicated string-data section, as produced by
// the Emitter and consumed by the VM.
type Program struct {
	Version uint32
	Code    []byte
	Data    [][]byte
}

// EncodeContainer serializes a Program to the 20-byte header + code +
// data layout specified in spec.md §4.3, little-endian throughout.
func EncodeContainer(p *Program) []byte {
	var dataBuf []byte
	for _, rec := range p.Data {
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(rec)))
		dataBuf = append(dataBuf, lenBuf[:]...)
		dataBuf = append(dataBuf, rec...)
	}

	version := p.Version
	if version == 0 {
		version = currentFormatVersion
	}

	out := make([]byte, headerSize, headerSize+len(p.Code)+len(dataBuf))
	copy(out[0:8], containerMagic)
	binary.LittleEndian.PutUint32(out[8:12], version)
	binary.LittleEndian.PutUint32(out[12:16], uint32(len(p.Code)))
	binary.LittleEndian.PutUint32(out[16:20], uint32(len(dataBuf)))
	out = append(out, p.Code...)
	out = append(out, dataBuf...)
	return out
}

// DecodeContainer validates and parses a container byte sequence. It
// rejects a bad magic, an unsupported version, declared section sizes
// that don't fit the file, and string records that would overrun the
// data section — no mutation of the header can cause an out-of-bounds
// read, per spec.md §8's container-robustness property.
func DecodeContainer(raw []byte) (*Program, error) {
	if len(raw) < headerSize {
		return nil, &ContainerError{Message: fmt.Sprintf("file too short for header: %d bytes", len(raw))}
	}
	if string(raw[0:8]) != containerMagic {
		return nil, &ContainerError{Message: "bad magic"}
	}
	version := binary.LittleEndian.Uint32(raw[8:12])
	if version == 0 || version > currentFormatVersion {
		return nil, &ContainerError{Message: fmt.Sprintf("unsupported format version %d", version)}
	}
	codeSize := binary.LittleEndian.Uint32(raw[12:16])
	dataSize := binary.LittleEndian.Uint32(raw[16:20])

	bodyStart := int64(headerSize)
	codeEnd := bodyStart + int64(codeSize)
	dataEnd := codeEnd + int64(dataSize)
	if codeEnd > int64(len(raw)) || dataEnd > int64(len(raw)) {
		return nil, &ContainerError{Message: "declared section sizes exceed file length"}
	}

	code := raw[bodyStart:codeEnd]
	dataSection := raw[codeEnd:dataEnd]

	var records [][]byte
	pos := 0
	for pos < len(dataSection) {
		if pos+4 > len(dataSection) {
			return nil, &ContainerError{Message: "truncated data record length"}
		}
		recLen := binary.LittleEndian.Uint32(dataSection[pos : pos+4])
		pos += 4
		if int64(pos)+int64(recLen) > int64(len(dataSection)) {
			return nil, &ContainerError{Message: "data record overruns section"}
		}
		records = append(records, dataSection[pos:pos+int(recLen)])
		pos += int(recLen)
	}

	// Anything past the declared sections is tolerated only as zero
	// padding; any nonzero trailing byte rejects the container.
	trailing := raw[dataEnd:]
	for _, b := range trailing {
		if b != 0 {
			return nil, &ContainerError{Message: "nonzero trailing bytes after declared sections"}
		}
	}

	return &Program{Version: version, Code: code, Data: records}, nil
}
