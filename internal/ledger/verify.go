package ledger

import (
	"fmt"

	"bosonci/internal/security"
)

// VerifyChain re-computes each block hash, link and signature to detect
// tampering.
func (l *Ledger) VerifyChain() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return verifyBlocks(l.blocks)
}

func verifyBlocks(blocks []*Block) error {
	for i, b := range blocks {
		if b.Index != i {
			return fmt.Errorf("index mismatch: expected %d got %d", i, b.Index)
		}

		h, err := b.ComputeHash()
		if err != nil {
			return fmt.Errorf("compute hash for index %d: %w", b.Index, err)
		}
		if h != b.Hash {
			return fmt.Errorf("hash mismatch at index %d", b.Index)
		}

		if i > 0 && b.PrevHash != blocks[i-1].Hash {
			return fmt.Errorf("prev hash mismatch at index %d", b.Index)
		}
		if i == 0 && b.PrevHash != "" {
			return fmt.Errorf("genesis block has prev hash %q", b.PrevHash)
		}

		ok, err := security.VerifySignatureFromHex(b.PubKey, []byte(b.Hash), b.Signature)
		if err != nil {
			return fmt.Errorf("signature at index %d: %w", b.Index, err)
		}
		if !ok {
			return fmt.Errorf("bad signature at index %d", b.Index)
		}
	}
	return nil
}
