// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"errors"
	"fmt"
	"unicode/utf16"
)

// ErrHeapOffsetOutOfRange is returned when a string, blob or GUID index
// points past the end of its heap.
var ErrHeapOffsetOutOfRange = errors.New("metadata heap offset out of range")

// stringFromHeap resolves an index into the "#Strings" heap to the
// null-terminated UTF-8 string stored there. A zero offset is the empty
// string, per §II.24.2.3.
func (pe *File) stringFromHeap(offset uint32) (string, error) {
	if offset == 0 {
		return "", nil
	}
	heap, ok := pe.CLR.MetadataStreams["#Strings"]
	if !ok || int(offset) >= len(heap) {
		return "", ErrHeapOffsetOutOfRange
	}
	end := int(offset)
	for end < len(heap) && heap[end] != 0 {
		end++
	}
	return string(heap[offset:end]), nil
}

// readCompressedUint decodes an ECMA-335 §II.23.2 compressed unsigned
// integer starting at pos in data, returning the value and the position
// immediately following it.
func readCompressedUint(data []byte, pos int) (uint32, int, error) {
	if pos >= len(data) {
		return 0, pos, ErrHeapOffsetOutOfRange
	}
	b0 := data[pos]
	switch {
	case b0&0x80 == 0:
		return uint32(b0), pos + 1, nil
	case b0&0xC0 == 0x80:
		if pos+1 >= len(data) {
			return 0, pos, ErrHeapOffsetOutOfRange
		}
		v := (uint32(b0&0x3F) << 8) | uint32(data[pos+1])
		return v, pos + 2, nil
	case b0&0xE0 == 0xC0:
		if pos+3 >= len(data) {
			return 0, pos, ErrHeapOffsetOutOfRange
		}
		v := (uint32(b0&0x1F) << 24) | (uint32(data[pos+1]) << 16) |
			(uint32(data[pos+2]) << 8) | uint32(data[pos+3])
		return v, pos + 4, nil
	default:
		return 0, pos, errors.New("invalid compressed integer prefix")
	}
}

// blobAtOffset resolves an index into the "#Blob" heap to the byte slice it
// addresses, stripping the compressed length prefix described in §II.24.2.4.
// A zero offset is the empty blob.
func (pe *File) blobAtOffset(offset uint32) ([]byte, error) {
	if offset == 0 {
		return nil, nil
	}
	heap, ok := pe.CLR.MetadataStreams["#Blob"]
	if !ok || int(offset) >= len(heap) {
		return nil, ErrHeapOffsetOutOfRange
	}
	length, dataStart, err := readCompressedUint(heap, int(offset))
	if err != nil {
		return nil, err
	}
	end := dataStart + int(length)
	if end > len(heap) {
		return nil, ErrHeapOffsetOutOfRange
	}
	return heap[dataStart:end], nil
}

// loadUserStrings decodes the entire "#US" heap into a map keyed by each
// entry's starting byte offset, per §II.24.2.4: a compressed length
// prefix (the encoded byte count, including the trailing flag byte),
// then that many bytes: the UTF-16LE text followed by the one trailing
// flag byte this lowering pipeline has no use for and drops.
func (pe *File) loadUserStrings() (map[uint32]string, error) {
	heap, ok := pe.CLR.MetadataStreams["#US"]
	if !ok || len(heap) == 0 {
		return nil, nil
	}
	out := make(map[uint32]string)
	pos := 1 // offset 0 is a reserved empty entry, §II.24.2.4
	for pos < len(heap) {
		start := pos
		length, dataStart, err := readCompressedUint(heap, pos)
		if err != nil {
			return nil, fmt.Errorf("user string at %#x: %w", start, err)
		}
		if length == 0 {
			pos = dataStart
			continue
		}
		end := dataStart + int(length)
		if end > len(heap) {
			return nil, ErrHeapOffsetOutOfRange
		}
		text := decodeUTF16LE(heap[dataStart : end-1])
		out[uint32(start)] = text
		pos = end
	}
	return out, nil
}

// decodeUTF16LE decodes a UTF-16LE byte slice into a Go string,
// replacing any unpaired surrogate with the Unicode replacement
// character rather than failing the whole string.
func decodeUTF16LE(b []byte) string {
	u16 := make([]uint16, len(b)/2)
	for i := range u16 {
		u16[i] = uint16(b[2*i]) | uint16(b[2*i+1])<<8
	}
	return string(utf16.Decode(u16))
}

// guidAtOffset resolves a one-based index into the "#GUID" heap to the
// 16-byte GUID it addresses. Index zero means "no GUID".
func (pe *File) guidAtOffset(index uint32) ([16]byte, error) {
	var g [16]byte
	if index == 0 {
		return g, nil
	}
	heap, ok := pe.CLR.MetadataStreams["#GUID"]
	if !ok {
		return g, ErrHeapOffsetOutOfRange
	}
	start := int(index-1) * 16
	if start+16 > len(heap) {
		return g, ErrHeapOffsetOutOfRange
	}
	copy(g[:], heap[start:start+16])
	return g, nil
}
