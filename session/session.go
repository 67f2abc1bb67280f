// Package session implements the EncroCrypt codec state machine: the
// Writer and Reader drivers that own a session's current symmetric key,
// its AEAD invocation counter, and — on the reader side — the
// AwaitingKey/Keyed/Terminated packet state machine.
package session

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/x41sec/encrocrypt/aead"
	"github.com/x41sec/encrocrypt/csrand"
	"github.com/x41sec/encrocrypt/framing"
	"github.com/x41sec/encrocrypt/keyenvelope"
	"github.com/x41sec/encrocrypt/metrics"
)

// dataFixedOverhead is timestamp(4) + nonce(16) + tag(16), the non-ciphertext
// portion of a DATA packet's payload.
const dataFixedOverhead = 4 + aead.NonceLength + aead.TagLength

// maxChunkPayload is the largest plaintext slice a single DATA packet can
// carry: the packet payload budget minus dataFixedOverhead.
const maxChunkPayload = framing.MaxPacketLength - dataFixedOverhead

// maxGCMInvocations bounds AEAD invocations under one key, per NIST SP
// 800-38D. Rotation triggers on ">=" rather than ">" so a key is never used
// one invocation past the bound.
const maxGCMInvocations = uint64(1) << 32

// ErrUnrecoverableTruncation is returned by Reader.Decrypt when the
// resynchroniser exhausts the input, or when a packet field is cut off
// mid-read with no further recovery possible.
var ErrUnrecoverableTruncation = errors.New("session: unrecoverable truncation")

// Config holds the parameters a Writer or Reader session is constructed
// with. There is no package-level or process-global configuration; every
// session is explicit.
type Config struct {
	// SigningFingerprint is the pinned identity every KEY packet must be
	// signed by. Required for both Writer and Reader.
	SigningFingerprint keyenvelope.Fingerprint
	// EncryptFingerprint is the recipient identity the writer encrypts KEY
	// packets to. Required for Writer, ignored for Reader.
	EncryptFingerprint keyenvelope.Fingerprint
	// KeystorePath is the OpenPGP keyring file backing both wrap and
	// unwrap operations.
	KeystorePath string
	// Logger receives diagnostic side-channel messages. If nil,
	// logrus.StandardLogger() is used.
	Logger *logrus.Logger
	// Metrics is optional; a nil Metrics is a valid no-op.
	Metrics *metrics.Recorder
}

func (c Config) logger() *logrus.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return logrus.StandardLogger()
}

// State is the Reader's packet state machine position.
type State int

const (
	// AwaitingKey is the initial reader state: no KEY packet has been
	// accepted yet, so DATA packets are discarded.
	AwaitingKey State = iota
	// Keyed means at least one KEY packet has been accepted.
	Keyed
	// Terminated means the reader has reached end of input or an
	// unrecoverable error.
	Terminated
)

// Writer drives the encrypt side of a session: it owns the current
// symmetric key and invocation counter, lazily wraps a fresh key on first
// use, rotates on invocation exhaustion, and never buffers plaintext
// across calls. Not safe for concurrent use.
type Writer struct {
	cfg         Config
	currentKey  []byte
	invocations uint64
	log         *logrus.Entry
}

// NewWriter constructs a Writer. It does not wrap a key yet — that happens
// lazily on the first Encrypt call.
func NewWriter(cfg Config) (*Writer, error) {
	if cfg.SigningFingerprint == "" {
		return nil, fmt.Errorf("session: signing fingerprint is required")
	}
	if cfg.EncryptFingerprint == "" {
		return nil, fmt.Errorf("session: encrypt fingerprint is required for a writer")
	}
	return &Writer{
		cfg: cfg,
		log: cfg.logger().WithField("component", "encrocrypt-writer"),
	}, nil
}

// Encrypt frames and encrypts chunk, returning the bytes to append to
// output. It may prepend one or more KEY packets ahead of the DATA packets
// it emits for chunk. Any failure to wrap a key or seal a chunk aborts the
// call with no partial output returned.
func (w *Writer) Encrypt(chunk []byte) ([]byte, error) {
	var out []byte

	if w.currentKey == nil {
		pkt, err := w.rotateKey()
		if err != nil {
			return nil, err
		}
		out = append(out, pkt...)
	}

	for len(chunk) > 0 {
		if w.invocations >= maxGCMInvocations {
			pkt, err := w.rotateKey()
			if err != nil {
				return nil, err
			}
			out = append(out, pkt...)
		}

		n := len(chunk)
		if n > maxChunkPayload {
			n = maxChunkPayload
		}
		slice := chunk[:n]
		chunk = chunk[n:]

		var tsBuf [4]byte
		binary.BigEndian.PutUint32(tsBuf[:], uint32(time.Now().Unix()/60))

		nonce, err := csrand.Key(aead.NonceLength)
		if err != nil {
			return nil, fmt.Errorf("session: failed to sample nonce: %w", err)
		}

		ciphertext, tag, err := aead.SealChunk(w.currentKey, nonce, slice)
		if err != nil {
			return nil, fmt.Errorf("session: AEAD seal failed: %w", err)
		}

		payload := make([]byte, 0, len(tsBuf)+len(nonce)+len(ciphertext)+len(tag))
		payload = append(payload, tsBuf[:]...)
		payload = append(payload, nonce...)
		payload = append(payload, ciphertext...)
		payload = append(payload, tag...)

		out = append(out, framing.Pack(framing.PacketData, payload)...)
		w.invocations++
		w.cfg.Metrics.SetInvocations(w.invocations)
		w.cfg.Metrics.EmitPacket("data")
	}

	return out, nil
}

func (w *Writer) rotateKey() ([]byte, error) {
	key, err := csrand.Key(aead.KeyLength)
	if err != nil {
		return nil, fmt.Errorf("session: failed to sample key: %w", err)
	}
	wrapped, err := keyenvelope.Wrap(key, w.cfg.EncryptFingerprint, w.cfg.SigningFingerprint, w.cfg.KeystorePath)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	w.currentKey = key
	w.invocations = 0
	w.cfg.Metrics.KeyRotation()
	w.cfg.Metrics.EmitPacket("key")
	w.log.Debug("rotated symmetric key")

	return framing.Pack(framing.PacketKey, wrapped), nil
}

// Reader drives the decrypt side of a session: it owns the current
// symmetric key, dispatches packets by type, resynchronises after framing
// corruption, and writes verified plaintext only. Not safe for concurrent
// use.
type Reader struct {
	cfg                 Config
	currentKey          []byte
	state               State
	warnedDataBeforeKey bool
	log                 *logrus.Entry
}

// NewReader constructs a Reader in the AwaitingKey state.
func NewReader(cfg Config) (*Reader, error) {
	if cfg.SigningFingerprint == "" {
		return nil, fmt.Errorf("session: signing fingerprint is required")
	}
	return &Reader{
		cfg:   cfg,
		state: AwaitingKey,
		log:   cfg.logger().WithField("component", "encrocrypt-reader"),
	}, nil
}

// State returns the reader's current packet state machine position.
func (r *Reader) State() State { return r.state }

// Decrypt consumes framed packets from input and writes verified plaintext
// to output, until input is exhausted or an unrecoverable error occurs. If
// seekUntil is non-nil, DATA packets whose stored minute-granularity
// timestamp (interpreted as seconds) is earlier than seekUntil are skipped
// without decryption.
//
// Decrypt never returns a partial packet's plaintext: everything written
// to output has passed AEAD verification.
func (r *Reader) Decrypt(input io.Reader, output io.Writer, seekUntil *time.Time) error {
	src := framing.NewSource(input)

	for {
		typ, payload, err := framing.Parse(src)
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.state = Terminated
				return nil
			}

			var perr *framing.ParseError
			if !errors.As(err, &perr) {
				r.state = Terminated
				return err
			}

			switch {
			case errors.Is(perr.Err, framing.ErrExpectedMagic):
				r.log.WithField("offset", perr.Offset).Warn("bad magic token, resynchronising")
				if rerr := framing.Resync(src); rerr != nil {
					r.log.WithField("offset", src.Offset()).Error("end of stream while resynchronising")
					r.state = Terminated
					return ErrUnrecoverableTruncation
				}
				// Resync consumes the magic token itself; push it back so
				// the next Parse sees a full packet starting at the magic.
				src.Unread(framing.Magic)
				r.cfg.Metrics.ResyncEvent()
				continue

			case errors.Is(perr.Err, framing.ErrTruncated):
				r.log.WithField("offset", perr.Offset).Error("stream truncated mid-packet")
				r.state = Terminated
				return ErrUnrecoverableTruncation

			case errors.Is(perr.Err, framing.ErrLengthTooLarge):
				r.log.WithField("offset", perr.Offset).Warn("declared packet length impossibly large, treating as noise")
				continue

			case errors.Is(perr.Err, framing.ErrZeroLength):
				r.log.WithField("offset", perr.Offset).Warn("zero-length packet")
				continue

			case errors.Is(perr.Err, framing.ErrEmbeddedMagic):
				r.log.WithField("offset", perr.Offset).Warn("magic token embedded in payload, discarding partial packet")
				continue

			default:
				r.state = Terminated
				return err
			}
		}

		switch typ {
		case framing.PacketKey:
			r.handleKey(payload, src.Offset())

		case framing.PacketData:
			if derr := r.handleData(payload, output, seekUntil, src.Offset()); derr != nil {
				r.state = Terminated
				return derr
			}

		default:
			r.log.WithField("offset", src.Offset()).Warnf("unrecognised packet type %d, treating as corruption", typ)
		}
	}
}

func (r *Reader) handleKey(payload []byte, offset int64) {
	key, signer, err := keyenvelope.Unwrap(payload, r.cfg.SigningFingerprint, r.cfg.KeystorePath)
	if err != nil {
		r.log.WithField("offset", offset).WithError(err).Warn("rejected key packet")
		return
	}

	r.currentKey = key
	r.state = Keyed
	r.cfg.Metrics.ConsumePacket("key")
	r.log.WithFields(logrus.Fields{"offset": offset, "signer": signer}).Debug("adopted new symmetric key")
}

func (r *Reader) handleData(payload []byte, output io.Writer, seekUntil *time.Time, offset int64) error {
	if len(payload) < dataFixedOverhead {
		r.log.WithField("offset", offset).Warn("data packet shorter than fixed overhead, treating as corruption")
		return nil
	}

	storedMinutes := binary.BigEndian.Uint32(payload[:4])
	storedSeconds := int64(storedMinutes) * 60
	nonce := payload[4 : 4+aead.NonceLength]
	ciphertext := payload[4+aead.NonceLength : len(payload)-aead.TagLength]
	tag := payload[len(payload)-aead.TagLength:]

	if r.currentKey == nil {
		if !r.warnedDataBeforeKey {
			r.log.WithField("offset", offset).Warn("data packet seen before any key packet, discarding")
			r.warnedDataBeforeKey = true
		}
		return nil
	}

	if seekUntil != nil && storedSeconds < seekUntil.Unix() {
		r.log.WithFields(logrus.Fields{
			"stored_seconds": storedSeconds,
			"seek_until":     seekUntil.Unix(),
		}).Info("seeking, skipping packet without decryption")
		return nil
	}

	plaintext, err := aead.OpenChunk(r.currentKey, nonce, ciphertext, tag)
	if err != nil {
		r.log.WithField("offset", offset).Warn("MAC validation failed: bit rot, or the stream has been tampered with")
		r.cfg.Metrics.MacFailure()
		return nil
	}

	if _, werr := output.Write(plaintext); werr != nil {
		return fmt.Errorf("session: failed to write plaintext: %w", werr)
	}
	r.warnedDataBeforeKey = false
	r.cfg.Metrics.ConsumePacket("data")
	return nil
}
