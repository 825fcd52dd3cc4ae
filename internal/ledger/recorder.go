package ledger

import (
	"context"
	"crypto/ed25519"
	"log/slog"

	"bosonci/internal/core"
	"bosonci/pkg/utils"
)

// Recorder appends one signed block per executed step. Ledger failures
// are logged and never affect the run.
type Recorder struct {
	core.NopObserver

	ledger *Ledger
	pub    ed25519.PublicKey
	priv   ed25519.PrivateKey
	logger *slog.Logger
}

func NewRecorder(l *Ledger, pub ed25519.PublicKey, priv ed25519.PrivateKey, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{ledger: l, pub: pub, priv: priv, logger: logger}
}

// StepFinished implements core.Observer.
func (r *Recorder) StepFinished(_ context.Context, ev core.StepEvent) {
	blk, err := r.ledger.Append(Entry{
		RunID:      ev.RunID,
		Job:        ev.Job,
		Stage:      ev.Stage,
		Image:      ev.Image,
		Step:       ev.Step.Index,
		Command:    ev.Step.Command,
		ExitCode:   ev.Step.ExitCode,
		OutputHash: utils.HashString(ev.Step.Output),
	}, r.priv, r.pub)
	if err != nil {
		r.logger.Warn("cannot append ledger block", "run_id", ev.RunID, "step", ev.Step.Index, "error", err)
		return
	}
	r.logger.Debug("ledger block appended", "index", blk.Index, "hash", blk.Hash[:16])
}
