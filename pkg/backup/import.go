package backup

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/entrhq/recall/pkg/store"
	"github.com/entrhq/recall/pkg/types"
)

// importChunkSize bounds the rows merged per transaction, so a large import
// never holds the write lock for its whole duration.
const importChunkSize = 100

// maxLineSize bounds a single backup record. Plan content is the largest
// field a record can carry.
const maxLineSize = 16 * 1024 * 1024

// ImportOptions control how a backup file is merged.
type ImportOptions struct {
	// ReplaceMachineID, when set, deletes every row previously attributed
	// to that machine before merging. It must match the file header; the
	// check keeps a mistyped path from wiping a different machine's rows.
	ReplaceMachineID string
}

// ImportResult reports what one import did.
type ImportResult struct {
	MachineID string
	Deleted   int64
	Imported  int
	Skipped   int
	Replayed  int
}

// Import merges a backup file into the store. The merge is pure: rows
// already present, keyed by UUID or content hash, are skipped, so importing
// the same file twice is a no-op. Records are applied in file order in
// chunks of importChunkSize rows per transaction.
func Import(ctx context.Context, st *store.Store, path string, opts ImportOptions) (*ImportResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("backup: open import file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 256*1024), maxLineSize)

	header, err := readHeader(scanner)
	if err != nil {
		return nil, err
	}

	res := &ImportResult{MachineID: header.MachineID}

	if opts.ReplaceMachineID != "" {
		if opts.ReplaceMachineID != header.MachineID {
			return nil, fmt.Errorf("backup: replace machine %s does not match file machine %s",
				opts.ReplaceMachineID, header.MachineID)
		}
		deleted, err := st.DeleteMachineRows(ctx, header.MachineID)
		if err != nil {
			return nil, err
		}
		res.Deleted = deleted
	}

	c := &chunker{st: st, res: res}
	lineNo := 1
	for scanner.Scan() {
		lineNo++
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}

		var probe struct {
			Kind string `json:"kind"`
		}
		if err := json.Unmarshal(data, &probe); err != nil {
			return nil, fmt.Errorf("backup: line %d: malformed record: %w", lineNo, err)
		}
		if err := c.add(ctx, probe.Kind, data); err != nil {
			return nil, fmt.Errorf("backup: line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("backup: read import file: %w", err)
	}
	if err := c.flush(ctx); err != nil {
		return nil, err
	}
	return res, nil
}

func readHeader(scanner *bufio.Scanner) (*fileHeader, error) {
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("backup: read header: %w", err)
		}
		return nil, fmt.Errorf("backup: file is empty")
	}

	var header fileHeader
	if err := json.Unmarshal(scanner.Bytes(), &header); err != nil {
		return nil, fmt.Errorf("backup: parse header: %w", err)
	}
	if header.Kind != kindHeader {
		return nil, fmt.Errorf("backup: not a backup file: first record is %q", header.Kind)
	}
	if header.Version > FormatVersion {
		return nil, fmt.Errorf("backup: file format v%d is newer than supported v%d",
			header.Version, FormatVersion)
	}
	if header.MachineID == "" {
		return nil, fmt.Errorf("backup: header names no machine")
	}
	return &header, nil
}

// chunker accumulates records per kind and flushes them through the store's
// chunked merge methods. Flushing on every kind change preserves the file's
// dependency order: sessions land before their batches, batches before
// their observations, observations before the events that resolve them.
type chunker struct {
	st  *store.Store
	res *ImportResult

	current      string
	sessions     []*types.Session
	batches      []*types.PromptBatch
	observations []store.ImportObservation
	events       []*types.ResolutionEvent
}

func (c *chunker) add(ctx context.Context, kind string, data []byte) error {
	if kind != c.current {
		if err := c.flush(ctx); err != nil {
			return err
		}
		c.current = kind
	}

	switch kind {
	case kindSession:
		var line sessionLine
		if err := json.Unmarshal(data, &line); err != nil {
			return fmt.Errorf("decode session: %w", err)
		}
		if line.Session == nil || line.Session.ID == "" {
			return fmt.Errorf("session record missing id")
		}
		c.sessions = append(c.sessions, line.Session)
		if len(c.sessions) >= importChunkSize {
			return c.flush(ctx)
		}

	case kindBatch:
		var line batchLine
		if err := json.Unmarshal(data, &line); err != nil {
			return fmt.Errorf("decode batch: %w", err)
		}
		if line.PromptBatch == nil || line.PromptBatch.SessionID == "" {
			return fmt.Errorf("batch record missing session")
		}
		c.batches = append(c.batches, line.PromptBatch)
		if len(c.batches) >= importChunkSize {
			return c.flush(ctx)
		}

	case kindObservation:
		var line observationLine
		if err := json.Unmarshal(data, &line); err != nil {
			return fmt.Errorf("decode observation: %w", err)
		}
		if line.Observation == nil || line.Observation.ID == "" {
			return fmt.Errorf("observation record missing id")
		}
		c.observations = append(c.observations, store.ImportObservation{
			Observation: line.Observation,
			BatchHash:   line.BatchHash,
		})
		if len(c.observations) >= importChunkSize {
			return c.flush(ctx)
		}

	case kindEvent:
		var line eventLine
		if err := json.Unmarshal(data, &line); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if line.ResolutionEvent == nil || line.ResolutionEvent.ObservationHash == "" {
			return fmt.Errorf("event record missing observation hash")
		}
		c.events = append(c.events, line.ResolutionEvent)
		if len(c.events) >= importChunkSize {
			return c.flush(ctx)
		}

	case kindHeader:
		return fmt.Errorf("unexpected second header")

	default:
		return fmt.Errorf("unknown record kind %q", kind)
	}
	return nil
}

func (c *chunker) flush(ctx context.Context) error {
	if len(c.sessions) > 0 {
		imported, skipped, err := c.st.ImportSessionChunk(ctx, c.sessions)
		if err != nil {
			return err
		}
		c.res.Imported += imported
		c.res.Skipped += skipped
		c.sessions = c.sessions[:0]
	}
	if len(c.batches) > 0 {
		imported, skipped, err := c.st.ImportBatchChunk(ctx, c.batches)
		if err != nil {
			return err
		}
		c.res.Imported += imported
		c.res.Skipped += skipped
		c.batches = c.batches[:0]
	}
	if len(c.observations) > 0 {
		imported, skipped, err := c.st.ImportObservationChunk(ctx, c.observations)
		if err != nil {
			return err
		}
		c.res.Imported += imported
		c.res.Skipped += skipped
		c.observations = c.observations[:0]
	}
	if len(c.events) > 0 {
		replayed, skipped, err := c.st.ReplayResolutionChunk(ctx, c.events)
		if err != nil {
			return err
		}
		c.res.Replayed += replayed
		c.res.Skipped += skipped
		c.events = c.events[:0]
	}
	return nil
}
