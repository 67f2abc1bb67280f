/*
 * Copyright (c) 2014, Yawning Angel <yawning at torproject dot org>
 * All rights reserved.
 *
 * Redistribution and use in source and binary forms, with or without
 * modification, are permitted provided that the following conditions are met:
 *
 *  * Redistributions of source code must retain the above copyright notice,
 *    this list of conditions and the following disclaimer.
 *
 *  * Redistributions in binary form must reproduce the above copyright notice,
 *    this list of conditions and the following disclaimer in the documentation
 *    and/or other materials provided with the distribution.
 *
 * THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS"
 * AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE
 * IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE
 * ARE DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE
 * LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR
 * CONSEQUENTIAL DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF
 * SUBSTITUTE GOODS OR SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS
 * INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN
 * CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE)
 * ARISING IN ANY WAY OUT OF THE USE OF THIS SOFTWARE, EVEN IF ADVISED OF THE
 * POSSIBILITY OF SUCH DAMAGE.
 */

// Package framing implements the EncroCrypt on-disk packet envelope:
// magic token, type byte, big-endian 32-bit length, and payload. It also
// implements the magic-token resynchronisation scan used to recover from
// corruption or truncation mid-stream.
//
// The packet format is:
//
//	uint8_t[13] magic    "__EncroCrypt2"
//	uint8_t     type      PacketKey (0x01) or PacketData (0x02)
//	uint32_t    length    big endian, payload length in bytes
//	uint8_t[]   payload   length bytes
package framing

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Magic is the fixed byte sequence that precedes every packet and anchors
// resynchronisation after corruption.
var Magic = []byte("__EncroCrypt2")

// PacketType identifies the kind of payload a packet carries.
type PacketType byte

const (
	// PacketKey marks a payload carrying an OpenPGP-wrapped symmetric key.
	PacketKey PacketType = 0x01
	// PacketData marks a payload carrying an AEAD-sealed data chunk.
	PacketData PacketType = 0x02
)

const (
	lengthLength = 4

	// MaxPacketLength is the largest payload length this codec will ever
	// frame or accept. A declared length above this is treated as
	// corruption rather than an oversized but legitimate packet.
	MaxPacketLength = 10 * 1024 * 1024

	// resyncWindowFactor bounds the resynchroniser's sliding window to
	// resyncWindowFactor * len(Magic) bytes.
	resyncWindowFactor = 50
)

// Sentinel errors for Parse, one per distinct framing failure mode.
var (
	ErrExpectedMagic  = errors.New("framing: leading bytes are not the magic token")
	ErrTruncated      = errors.New("framing: short read, stream truncated")
	ErrLengthTooLarge = errors.New("framing: declared length exceeds PACKET_MAXLENGTH")
	ErrZeroLength     = errors.New("framing: declared length is zero")
	ErrEmbeddedMagic  = errors.New("framing: magic token found inside payload")

	// ErrUnknownType is for callers dispatching on PacketType; Parse itself
	// does not interpret the type byte.
	ErrUnknownType = errors.New("framing: unrecognised packet type")

	// ErrEndOfStream is returned by Resync when no further magic token is
	// found before the input is exhausted.
	ErrEndOfStream = errors.New("framing: end of stream during resynchronisation")
)

// ParseError wraps one of the sentinel errors above with the byte offset
// (relative to the Source it was observed on) at which it occurred, for the
// reader's diagnostic side channel.
type ParseError struct {
	Err    error
	Offset int64
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("framing: %s (offset %d)", e.Err, e.Offset)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Pack serialises a single packet: magic || type || big_endian_u32(len(payload)) || payload.
// It does not interpret payload and does not enforce MaxPacketLength — callers
// that accept arbitrary-sized input are expected to have already chunked it
// (session.Writer does).
func Pack(typ PacketType, payload []byte) []byte {
	out := make([]byte, 0, len(Magic)+1+lengthLength+len(payload))
	out = append(out, Magic...)
	out = append(out, byte(typ))
	var lenBuf [lengthLength]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	out = append(out, lenBuf[:]...)
	out = append(out, payload...)
	return out
}

// Source is a push-back wrapper around a caller-supplied io.Reader. Parse
// uses it to return over-read bytes to the logical stream — e.g. after
// detecting an embedded magic token inside a payload, or after reading a
// field that is not the magic token. Resync itself reads byte by byte and
// pushes nothing back; callers that want to re-parse from the recovered
// token Unread it themselves.
//
// Source never closes the underlying reader; ownership stays with the
// caller.
type Source struct {
	r      io.Reader
	pushed []byte
	offset int64
}

// NewSource wraps r for push-back reads.
func NewSource(r io.Reader) *Source {
	return &Source{r: r}
}

// Offset returns the number of bytes logically consumed from the Source so
// far (pushed-back bytes are not counted as consumed again).
func (s *Source) Offset() int64 { return s.offset }

// Unread pushes buf back onto the front of the logical stream.
func (s *Source) Unread(buf []byte) {
	if len(buf) == 0 {
		return
	}
	s.pushed = append(append([]byte{}, buf...), s.pushed...)
}

// readFull reads exactly len(buf) bytes, or returns the short count and the
// io.ReadFull-style error.
func (s *Source) readFull(buf []byte) (int, error) {
	n := 0
	if len(s.pushed) > 0 {
		n = copy(buf, s.pushed)
		s.pushed = s.pushed[n:]
	}
	if n < len(buf) {
		m, err := io.ReadFull(s.r, buf[n:])
		n += m
		s.offset += int64(m)
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// Parse reads one packet from s: len(Magic) bytes, 1 type byte, 4 length
// bytes, then length payload bytes, in that order.
//
// A zero-byte read on the very first field (no pushed-back data, reader at
// clean EOF) returns io.EOF so callers can distinguish "stream ended
// cleanly" from "stream ended mid-packet".
func Parse(s *Source) (PacketType, []byte, error) {
	magicBuf := make([]byte, len(Magic))
	n, err := s.readFull(magicBuf)
	if n == 0 && errors.Is(err, io.EOF) {
		return 0, nil, io.EOF
	}
	if err != nil {
		return 0, nil, &ParseError{Err: ErrTruncated, Offset: s.Offset()}
	}
	if !bytes.Equal(magicBuf, Magic) {
		// Push back everything but the first byte: the caller's resync
		// loop re-scans byte by byte and must not skip any of them.
		s.Unread(magicBuf[1:])
		return 0, nil, &ParseError{Err: ErrExpectedMagic, Offset: s.Offset()}
	}

	var typeBuf [1]byte
	if _, err := s.readFull(typeBuf[:]); err != nil {
		return 0, nil, &ParseError{Err: ErrTruncated, Offset: s.Offset()}
	}
	typ := PacketType(typeBuf[0])

	var lenBuf [lengthLength]byte
	if _, err := s.readFull(lenBuf[:]); err != nil {
		return 0, nil, &ParseError{Err: ErrTruncated, Offset: s.Offset()}
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > MaxPacketLength {
		return 0, nil, &ParseError{Err: ErrLengthTooLarge, Offset: s.Offset()}
	}
	if length == 0 {
		return 0, nil, &ParseError{Err: ErrZeroLength, Offset: s.Offset()}
	}

	payload := make([]byte, length)
	if _, err := s.readFull(payload); err != nil {
		return 0, nil, &ParseError{Err: ErrTruncated, Offset: s.Offset()}
	}

	if idx := bytes.Index(payload, Magic); idx >= 0 {
		s.Unread(payload[idx:])
		return 0, nil, &ParseError{Err: ErrEmbeddedMagic, Offset: s.Offset()}
	}

	return typ, payload, nil
}

// Resync scans s one byte at a time until the most recently read bytes end
// with Magic, leaving s positioned immediately after the recovered token.
// It returns ErrEndOfStream if the input is exhausted first.
func Resync(s *Source) error {
	maxWindow := resyncWindowFactor * len(Magic)
	window := make([]byte, 0, maxWindow)
	var b [1]byte
	for {
		n, err := s.readFull(b[:])
		if n == 0 {
			return ErrEndOfStream
		}
		_ = err
		window = append(window, b[0])
		if len(window) >= len(Magic) && bytes.Equal(window[len(window)-len(Magic):], Magic) {
			return nil
		}
		if len(window) > maxWindow {
			window = window[len(window)-len(Magic):]
		}
	}
}

/* vim :set ts=4 sw=4 sts=4 noet : */
