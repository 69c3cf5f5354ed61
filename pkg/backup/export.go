package backup

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/entrhq/recall/pkg/store"
	"github.com/entrhq/recall/pkg/types"
)

// ExportResult reports what one export wrote.
type ExportResult struct {
	Path         string
	Claimed      int64
	Sessions     int
	Batches      int
	Observations int
	Events       int
}

// Export writes every row recorded on this machine to <machine-id>.jsonl in
// dir. Rows recorded before machine identity existed are claimed first, so
// the file accounts for the machine's full history. Records are emitted in
// a stable order: sessions by start time, batches by session and prompt
// number, observations and events by creation time.
func Export(ctx context.Context, st *store.Store, dir string) (*ExportResult, error) {
	machineID := st.MachineID()
	if machineID == "" {
		return nil, fmt.Errorf("backup: export requires a machine identity")
	}

	claimed, err := st.ClaimUnownedRows(ctx)
	if err != nil {
		return nil, err
	}

	sessions, err := st.ListOwnSessions(ctx)
	if err != nil {
		return nil, err
	}

	// Batch hashes are collected while exporting so observation lines can
	// name their owning batch without a per-row lookup.
	batchHashes := make(map[int64]string)
	var batches []*types.PromptBatch
	for _, sess := range sessions {
		sb, err := st.ListSessionBatches(ctx, sess.ID)
		if err != nil {
			return nil, err
		}
		for _, b := range sb {
			batchHashes[b.ID] = b.ContentHash
		}
		batches = append(batches, sb...)
	}

	observations, err := st.ListOwnObservations(ctx)
	if err != nil {
		return nil, err
	}

	events, err := st.ListOwnResolutionEvents(ctx)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("backup: create export directory: %w", err)
	}
	path := filepath.Join(dir, machineID+".jsonl")

	// Write to a temp file and rename, so a crash mid-export never
	// corrupts the previous good backup.
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("backup: create export file: %w", err)
	}
	defer os.Remove(tmp)

	w := bufio.NewWriter(f)
	writeLine := func(v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("backup: encode record: %w", err)
		}
		data = append(data, '\n')
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("backup: write record: %w", err)
		}
		return nil
	}

	err = func() error {
		if err := writeLine(&fileHeader{
			Kind:       kindHeader,
			MachineID:  machineID,
			ExportedAt: time.Now().UTC(),
			Version:    FormatVersion,
		}); err != nil {
			return err
		}

		for _, sess := range sessions {
			if err := writeLine(&sessionLine{Kind: kindSession, Session: sess}); err != nil {
				return err
			}
		}
		for _, b := range batches {
			if err := writeLine(&batchLine{Kind: kindBatch, PromptBatch: b}); err != nil {
				return err
			}
		}
		for _, o := range observations {
			hash, err := resolveBatchHash(ctx, st, batchHashes, o.PromptBatchID)
			if err != nil {
				return err
			}
			if err := writeLine(&observationLine{Kind: kindObservation, Observation: o, BatchHash: hash}); err != nil {
				return err
			}
		}
		for _, e := range events {
			if err := writeLine(&eventLine{Kind: kindEvent, ResolutionEvent: e}); err != nil {
				return err
			}
		}
		return w.Flush()
	}()
	if err != nil {
		f.Close()
		return nil, err
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return nil, fmt.Errorf("backup: sync export file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("backup: close export file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return nil, fmt.Errorf("backup: finalize export file: %w", err)
	}

	return &ExportResult{
		Path:         path,
		Claimed:      claimed,
		Sessions:     len(sessions),
		Batches:      len(batches),
		Observations: len(observations),
		Events:       len(events),
	}, nil
}

// resolveBatchHash finds the content hash of the batch an observation
// belongs to. Observations extracted locally from an imported batch point
// at a batch outside this machine's own sessions, so misses fall back to a
// direct lookup; a batch that no longer exists exports with no link.
func resolveBatchHash(ctx context.Context, st *store.Store, cache map[int64]string, batchID *int64) (string, error) {
	if batchID == nil {
		return "", nil
	}
	if hash, ok := cache[*batchID]; ok {
		return hash, nil
	}

	b, err := st.GetPromptBatch(ctx, *batchID)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	cache[*batchID] = b.ContentHash
	return b.ContentHash, nil
}
