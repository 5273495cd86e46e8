package audit

import (
	"bufio"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"sync"

	jsonitor "github.com/json-iterator/go"
)

var json = jsonitor.ConfigCompatibleWithStandardLibrary

// trailEntry is one line of the tamper-evident trail. Each entry hashes
// over the previous entry's hash, so removing or altering any record
// breaks the chain, and each entry carries an Ed25519 signature so the
// trail cannot be rebuilt without the signing key.
type trailEntry struct {
	Event     Event  `json:"event"`
	PrevHash  string `json:"prevHash"`
	Hash      string `json:"hash"`
	Signature string `json:"signature"`
}

// HashSink appends audit events to a hash-chained, signed trail file.
// Entries are buffered and flushed every flushInterval writes.
type HashSink struct {
	file          *os.File
	path          string
	flushInterval int
	mu            sync.Mutex
	buffer        []trailEntry
	prevHash      string
	privKey       ed25519.PrivateKey
	closed        bool
}

// NewHashSink opens (or creates) the trail file at path. The private key
// must be a full Ed25519 private key.
func NewHashSink(path string, flushInterval int, privKey ed25519.PrivateKey) (*HashSink, error) {
	if len(privKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key: must be %d bytes, got %d", ed25519.PrivateKeySize, len(privKey))
	}
	if flushInterval < 1 {
		flushInterval = 1
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &HashSink{
		file:          f,
		path:          path,
		flushInterval: flushInterval,
		buffer:        make([]trailEntry, 0, flushInterval),
		privKey:       privKey,
	}, nil
}

// Write implements Sink. It extends the hash chain with the event and
// buffers the signed entry for writing.
func (s *HashSink) Write(event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("audit trail %s is closed", s.path)
	}

	entry := trailEntry{
		Event:    event,
		PrevHash: s.prevHash,
	}

	dataToHash, err := json.Marshal(struct {
		Event    Event  `json:"event"`
		PrevHash string `json:"prevHash"`
	}{
		Event:    entry.Event,
		PrevHash: entry.PrevHash,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}
	hash := sha256.Sum256(dataToHash)
	entry.Hash = fmt.Sprintf("%x", hash[:])
	s.prevHash = entry.Hash

	signInput, err := json.Marshal(struct {
		Event    Event  `json:"event"`
		PrevHash string `json:"prevHash"`
		Hash     string `json:"hash"`
	}{
		Event:    entry.Event,
		PrevHash: entry.PrevHash,
		Hash:     entry.Hash,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal sign input: %w", err)
	}
	signature := ed25519.Sign(s.privKey, signInput)
	entry.Signature = base64.StdEncoding.EncodeToString(signature)

	s.buffer = append(s.buffer, entry)
	if len(s.buffer) >= s.flushInterval {
		return s.flushLocked()
	}
	return nil
}

// flushLocked writes buffered entries to the trail file.
// Must be called with the mutex locked.
func (s *HashSink) flushLocked() error {
	for _, entry := range s.buffer {
		b, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to marshal entry: %w", err)
		}
		if _, err := s.file.Write(append(b, '\n')); err != nil {
			return fmt.Errorf("failed to write entry: %w", err)
		}
	}
	s.buffer = s.buffer[:0]
	return nil
}

// Flush writes all buffered entries to the trail file.
func (s *HashSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

// Close flushes remaining entries and closes the trail file.
func (s *HashSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	if err := s.flushLocked(); err != nil {
		return err
	}

	err := s.file.Close()
	s.closed = true
	return err
}

// VerifyTrail checks every entry in the trail: the hash over the entry
// content, the chain back to the first entry, and the Ed25519 signature.
// Returns an error naming the first line that fails.
func VerifyTrail(r io.Reader, pubKey ed25519.PublicKey) error {
	if len(pubKey) != ed25519.PublicKeySize {
		return fmt.Errorf("invalid ed25519 public key size: got %d", len(pubKey))
	}

	scanner := bufio.NewScanner(r)
	const maxScanTokenSize = 1024 * 1024
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, maxScanTokenSize)

	lineNum := 0
	expectedPrevHash := ""

	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()

		var entry trailEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return fmt.Errorf("line %d: invalid JSON: %w", lineNum, err)
		}

		hashData, err := json.Marshal(struct {
			Event    Event  `json:"event"`
			PrevHash string `json:"prevHash"`
		}{
			Event:    entry.Event,
			PrevHash: entry.PrevHash,
		})
		if err != nil {
			return fmt.Errorf("line %d: failed to marshal hash input: %w", lineNum, err)
		}
		computedHash := fmt.Sprintf("%x", sha256.Sum256(hashData))
		if entry.Hash != computedHash {
			return fmt.Errorf("line %d: hash mismatch", lineNum)
		}

		if entry.PrevHash != expectedPrevHash {
			return fmt.Errorf("line %d: prevHash mismatch", lineNum)
		}

		signData, err := json.Marshal(struct {
			Event    Event  `json:"event"`
			PrevHash string `json:"prevHash"`
			Hash     string `json:"hash"`
		}{
			Event:    entry.Event,
			PrevHash: entry.PrevHash,
			Hash:     entry.Hash,
		})
		if err != nil {
			return fmt.Errorf("line %d: failed to marshal signature input: %w", lineNum, err)
		}
		signature, err := base64.StdEncoding.DecodeString(entry.Signature)
		if err != nil {
			return fmt.Errorf("line %d: invalid base64 signature: %w", lineNum, err)
		}
		if !ed25519.Verify(pubKey, signData, signature) {
			return fmt.Errorf("line %d: signature verification failed", lineNum)
		}

		expectedPrevHash = entry.Hash
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read trail: %w", err)
	}

	return nil
}
