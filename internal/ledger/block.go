package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Entry is what gets recorded about one executed step.
type Entry struct {
	RunID      string
	Job        string
	Stage      int
	Image      string
	Step       int // flattened step index
	Command    string
	ExitCode   int
	OutputHash string
}

// Block is a tamper-evident record for one executed step
type Block struct {
	Index      int    `json:"index"`
	Timestamp  string `json:"timestamp"`
	RunID      string `json:"runId"`
	Job        string `json:"job"`
	Stage      int    `json:"stage"`
	Image      string `json:"image"`
	Step       int    `json:"step"`
	Command    string `json:"command"`
	ExitCode   int    `json:"exitCode"`
	OutputHash string `json:"outputHash"`
	PrevHash   string `json:"prevHash"`
	Hash       string `json:"hash"`
	Signature  string `json:"signature"`
	PubKey     string `json:"pubKey"`
}

// canonicalData returns the JSON bytes used to compute the block hash.
// It excludes Hash, Signature and PubKey.
func (b *Block) canonicalData() ([]byte, error) {
	view := struct {
		Index      int    `json:"index"`
		Timestamp  string `json:"timestamp"`
		RunID      string `json:"runId"`
		Job        string `json:"job"`
		Stage      int    `json:"stage"`
		Image      string `json:"image"`
		Step       int    `json:"step"`
		Command    string `json:"command"`
		ExitCode   int    `json:"exitCode"`
		OutputHash string `json:"outputHash"`
		PrevHash   string `json:"prevHash"`
	}{
		Index:      b.Index,
		Timestamp:  b.Timestamp,
		RunID:      b.RunID,
		Job:        b.Job,
		Stage:      b.Stage,
		Image:      b.Image,
		Step:       b.Step,
		Command:    b.Command,
		ExitCode:   b.ExitCode,
		OutputHash: b.OutputHash,
		PrevHash:   b.PrevHash,
	}
	return json.Marshal(view)
}

// ComputeHash calculates SHA256 over canonicalData
func (b *Block) ComputeHash() (string, error) {
	data, err := b.canonicalData()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// NewBlock constructs a block and computes its hash (no signature yet)
func NewBlock(index int, e Entry, prevHash string) (*Block, error) {
	blk := &Block{
		Index:      index,
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		RunID:      e.RunID,
		Job:        e.Job,
		Stage:      e.Stage,
		Image:      e.Image,
		Step:       e.Step,
		Command:    e.Command,
		ExitCode:   e.ExitCode,
		OutputHash: e.OutputHash,
		PrevHash:   prevHash,
	}

	h, err := blk.ComputeHash()
	if err != nil {
		return nil, fmt.Errorf("compute block hash: %w", err)
	}
	blk.Hash = h
	return blk, nil
}
