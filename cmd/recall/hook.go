package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/entrhq/recall/pkg/config"
	"github.com/entrhq/recall/pkg/store"
	"github.com/entrhq/recall/pkg/types"
)

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Record one assistant lifecycle event from stdin",
	Long: `Reads a single JSON hook event from stdin and records it.

Wire this command into the assistant's hook configuration so every session
start, user prompt, tool call, and stop notification lands in the database.
Events can be delivered more than once and out of order; the command
tolerates both.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		ev, err := types.ParseHookEvent(data)
		if err != nil {
			return err
		}

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		return applyHookEvent(cmd.Context(), st, ev)
	},
}

func init() {
	rootCmd.AddCommand(hookCmd)
}

// applyHookEvent routes one event to the store. Every branch tolerates a
// missing or already-finished counterpart: the sender retries on failure,
// so the same event can arrive twice, and a slow hook can overtake a fast
// one.
func applyHookEvent(ctx context.Context, st *store.Store, ev *types.HookEvent) error {
	switch ev.Type {
	case types.HookSessionStart:
		return startSession(ctx, st, ev)

	case types.HookUserPrompt:
		if err := ensureSession(ctx, st, ev); err != nil {
			return err
		}
		batch, err := st.CreatePromptBatch(ctx, ev.SessionID, ev.Prompt, ev.SourceType())
		if err != nil {
			return err
		}
		if ev.PlanContent != "" {
			return st.SetBatchPlan(ctx, batch.ID, ev.PlanFilePath, ev.PlanContent)
		}
		return nil

	case types.HookPostToolUse:
		return recordToolUse(ctx, st, ev)

	case types.HookStop:
		batch, err := st.GetActivePromptBatch(ctx, ev.SessionID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return st.EndPromptBatch(ctx, batch.ID, time.Now().UTC(), ev.ResponseSummary)

	case types.HookSessionEnd:
		err := st.EndSession(ctx, ev.SessionID, time.Now().UTC())
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	return nil
}

// startSession creates the session row. A repeat for an active session is a
// no-op; a repeat for a completed one means the assistant resumed it, so the
// session reopens.
func startSession(ctx context.Context, st *store.Store, ev *types.HookEvent) error {
	existing, err := st.GetSession(ctx, ev.SessionID)
	if err == nil {
		if existing.Status == types.SessionCompleted {
			return st.ReactivateSession(ctx, ev.SessionID)
		}
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	sess := types.NewSession(ev.SessionID, ev.Agent, ev.Project)
	sess.TranscriptPath = ev.TranscriptPath
	if err := st.CreateSession(ctx, sess); err != nil {
		return err
	}

	// Best effort: a continuation link is nice to have, the session row is
	// not allowed to depend on it.
	proc := config.GetProcessing()
	if proc == nil {
		proc = config.NewProcessingSection()
	}
	if _, err := st.LinkParentSession(ctx, ev.SessionID, proc.ParentGapImmediate(), proc.ParentGapFallback()); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not link parent session: %v\n", err)
	}
	return nil
}

// ensureSession guarantees the session row exists before a dependent event
// touches it. A prompt or tool event can beat session_start, or land after
// session_end; both are normal.
func ensureSession(ctx context.Context, st *store.Store, ev *types.HookEvent) error {
	sess, err := st.GetSession(ctx, ev.SessionID)
	if errors.Is(err, store.ErrNotFound) {
		created := types.NewSession(ev.SessionID, ev.Agent, ev.Project)
		created.TranscriptPath = ev.TranscriptPath
		return st.CreateSession(ctx, created)
	}
	if err != nil {
		return err
	}
	if sess.Status == types.SessionCompleted {
		return st.ReactivateSession(ctx, ev.SessionID)
	}
	return nil
}

// recordToolUse stores one activity, bound to the session's active batch
// when there is one. A late activity whose batch already closed reopens the
// batch, provided the pipeline has not consumed it yet; otherwise the row
// stays orphaned until the recovery pass adopts it.
func recordToolUse(ctx context.Context, st *store.Store, ev *types.HookEvent) error {
	if err := ensureSession(ctx, st, ev); err != nil {
		return err
	}

	a := ev.Activity()
	batch, err := st.GetActivePromptBatch(ctx, ev.SessionID)
	switch {
	case err == nil:
		a.PromptBatchID = &batch.ID
	case errors.Is(err, store.ErrNotFound):
		if id, ok := reopenableBatch(ctx, st, ev.SessionID); ok {
			if err := st.ReactivatePromptBatch(ctx, id); err != nil {
				return err
			}
			a.PromptBatchID = &id
		}
	default:
		return err
	}

	// One-shot process: insert directly, the buffered path would lose the
	// row on exit.
	_, err = st.AddActivity(ctx, a)
	return err
}

// reopenableBatch finds the session's newest batch if it completed but has
// not been processed. A processed batch stays closed; reopening it would
// extract twice.
func reopenableBatch(ctx context.Context, st *store.Store, sessionID string) (int64, bool) {
	batches, err := st.ListSessionBatches(ctx, sessionID)
	if err != nil || len(batches) == 0 {
		return 0, false
	}
	last := batches[len(batches)-1]
	if last.Status == types.BatchCompleted && !last.Processed {
		return last.ID, true
	}
	return 0, false
}
