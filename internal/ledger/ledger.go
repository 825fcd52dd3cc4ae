package ledger

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"bosonci/internal/security"
)

// Ledger is an append-only, hash-chained list of signed blocks persisted
// as JSON lines (one JSON block per line).
type Ledger struct {
	mu     sync.Mutex
	blocks []*Block
	path   string
}

// Open loads an existing ledger file or creates an empty one.
func Open(path string) (*Ledger, error) {
	l := &Ledger{path: path}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		return l, f.Close()
	}
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var blk Block
		if err := dec.Decode(&blk); err != nil {
			return nil, fmt.Errorf("failed to decode ledger entry %d: %w", len(l.blocks), err)
		}
		l.blocks = append(l.blocks, &blk)
	}
	return l, nil
}

// Path returns the backing file.
func (l *Ledger) Path() string {
	return l.path
}

// Append chains e onto the ledger: it builds the next block, signs its
// hash with priv, persists it and keeps it in memory.
func (l *Ledger) Append(e Entry, priv ed25519.PrivateKey, pub ed25519.PublicKey) (*Block, error) {
	if len(priv) == 0 {
		return nil, errors.New("private key is empty, cannot sign block")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	prev := ""
	if n := len(l.blocks); n > 0 {
		prev = l.blocks[n-1].Hash
	}
	b, err := NewBlock(len(l.blocks), e, prev)
	if err != nil {
		return nil, err
	}
	b.Signature = security.SignData(priv, []byte(b.Hash))
	b.PubKey = hex.EncodeToString(pub)

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open ledger file: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(b); err != nil {
		return nil, fmt.Errorf("write ledger file: %w", err)
	}

	l.blocks = append(l.blocks, b)
	return b, nil
}

// Blocks returns a snapshot of the chain.
func (l *Ledger) Blocks() []Block {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Block, len(l.blocks))
	for i, b := range l.blocks {
		out[i] = *b
	}
	return out
}

// Len returns the number of blocks.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.blocks)
}

// LastHash returns the last block hash (or empty if none)
func (l *Ledger) LastHash() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.blocks) == 0 {
		return ""
	}
	return l.blocks[len(l.blocks)-1].Hash
}
