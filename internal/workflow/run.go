package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"sifter/internal/analyzer"
	"sifter/internal/config"
	"sifter/internal/events"
	"sifter/internal/logging"
	"sifter/internal/results"
	"sifter/internal/services"
	"sifter/internal/session"
	"sifter/internal/source"
	"sifter/internal/textutil"
)

const sampleReasonLimit = 160

type chunkRange struct{ start, end int }

// run is the state of one Run call. It is owned by a single goroutine.
type run struct {
	engine *Engine
	sess   *session.Session
	out    chan events.Event
	runID  string
	logger *slog.Logger

	table        *source.Table
	chunkSize    int
	instructions string

	cursor        int
	totalAccepted int
	failedChunks  int
	ledger        map[chunkRange]results.LedgerEntry
}

// Run starts or resumes a session and returns its event stream. The channel
// closes after one terminal event. A completed session yields its summary
// without processing; a failed session is rejected. Concurrent runs of one
// session fail with services.ErrConflict.
func (e *Engine) Run(ctx context.Context, ref string) (<-chan events.Event, error) {
	sess, err := e.GetSession(ctx, ref)
	if err != nil {
		return nil, err
	}
	if sess.Status == session.StatusFailed {
		return nil, failedSessionError(sess)
	}

	release, err := e.locks.acquire(sess.ID)
	if err != nil {
		return nil, err
	}
	// re-read under the lock so the checkpoint is current
	fresh, err := e.store.GetByID(ctx, sess.ID)
	if err != nil {
		release()
		return nil, err
	}
	if fresh != nil {
		sess = fresh
	}
	if sess.Status == session.StatusFailed {
		release()
		return nil, failedSessionError(sess)
	}

	out := make(chan events.Event, e.eventBuffer)
	r := &run{engine: e, sess: sess, out: out, runID: uuid.NewString()}
	go func() {
		defer close(out)
		defer release()
		r.execute(ctx)
	}()
	return out, nil
}

func failedSessionError(sess *session.Session) error {
	msg := fmt.Sprintf("session %s failed and cannot be rerun", sess.ID)
	if sess.ErrorMessage != "" {
		msg += ": " + sess.ErrorMessage
	}
	return services.Wrap(services.ErrValidation, stageName, "run", msg, nil)
}

func (r *run) execute(parent context.Context) {
	e := r.engine
	ctx := withRunContext(parent, r.sess.ID, "run", r.runID)
	r.logger = e.loggerFor(ctx)

	if r.sess.Status == session.StatusCompleted {
		summary := e.summarize(r.sess)
		r.emit(ctx, events.Event{Type: events.TypeCompleted, Message: "session already completed", Summary: &summary})
		return
	}

	if err := r.prepare(ctx); err != nil {
		r.stop(ctx, err)
		return
	}

	for !r.table.Exhausted(r.cursor) {
		if ctx.Err() != nil {
			r.cancel(ctx)
			return
		}
		chunk, err := r.table.NextChunk(r.cursor, r.chunkSize)
		if err != nil {
			r.fail(ctx, err)
			return
		}
		if err := r.processChunk(ctx, chunk); err != nil {
			r.stop(ctx, err)
			return
		}
	}
	r.finish(ctx)
}

// prepare opens the source, loads the ledger and moves the session to
// processing before the started event.
func (r *run) prepare(ctx context.Context) error {
	e := r.engine
	r.chunkSize = e.chunkSize(r.sess.ChunkSize)
	r.instructions = e.instructions(ctx)

	table, err := e.reader.Open(r.sess.SourceLocator)
	if err != nil {
		return err
	}
	r.table = table
	r.cursor = min(max(r.sess.NextCursor, 0), table.TotalRows())
	r.totalAccepted = r.sess.TotalAccepted
	r.failedChunks = r.sess.FailedChunks

	var artifact results.Artifact
	if err := e.persistWithRetry(ctx, r.logger, "load results", func() error {
		var loadErr error
		artifact, loadErr = e.accumulator.Load(r.sess.ID)
		return loadErr
	}); err != nil {
		return err
	}
	r.ledger = make(map[chunkRange]results.LedgerEntry, len(artifact.Ledger))
	for _, entry := range artifact.Ledger {
		r.ledger[chunkRange{entry.Start, entry.End}] = entry
	}

	wctx := context.WithoutCancel(ctx)
	if err := e.persistWithRetry(wctx, r.logger, "mark processing", func() error {
		updated, updErr := e.store.UpdateStatus(wctx, r.sess.ID, session.StatusProcessing)
		if updErr == nil {
			r.sess = updated
		}
		return updErr
	}); err != nil {
		return err
	}
	if err := r.checkpoint(ctx); err != nil {
		return err
	}

	resumed := r.cursor > 0
	r.logger.Info("run started",
		logging.String(logging.FieldEventType, "run_started"),
		logging.String("source", r.sess.SourceLocator),
		logging.String("sheet", table.Sheet),
		logging.Int("total_rows", table.TotalRows()),
		logging.Int("chunk_size", r.chunkSize),
		logging.Int("estimated_chunks", table.EstimatedChunks(r.chunkSize)),
		logging.Bool("resumed", resumed),
		logging.Int("resume_from", r.cursor),
	)
	message := fmt.Sprintf("processing %d rows in chunks of %d", table.TotalRows(), r.chunkSize)
	if resumed {
		message = fmt.Sprintf("resuming at row %d of %d", r.cursor+1, table.TotalRows())
	}
	r.emit(ctx, events.Event{
		Type:    events.TypeStarted,
		Message: message,
		Start: &events.StartInfo{
			SourceLocator:   r.sess.SourceLocator,
			Sheet:           table.Sheet,
			Topic:           r.sess.Topic,
			Columns:         table.Headers,
			TotalRows:       table.TotalRows(),
			ChunkSize:       r.chunkSize,
			EstimatedChunks: table.EstimatedChunks(r.chunkSize),
			ResumeFrom:      r.cursor,
		},
	})
	return nil
}

func (r *run) processChunk(ctx context.Context, chunk source.Chunk) error {
	e := r.engine
	index := chunk.Start/r.chunkSize + 1
	chunkCtx := services.WithChunk(ctx, index)
	logger := e.loggerFor(chunkCtx)
	key := chunkRange{chunk.Start, chunk.NextCursor}

	if chunk.Empty() {
		if err := r.advance(ctx, chunk.NextCursor); err != nil {
			return err
		}
		logger.Info("chunk skipped",
			logging.String(logging.FieldEventType, "chunk_skipped"),
			logging.Int("row_start", chunk.Start+1),
			logging.Int("row_end", chunk.NextCursor),
		)
		r.emit(ctx, events.Event{
			Type:     events.TypeChunkSkipped,
			Chunk:    index,
			Message:  fmt.Sprintf("rows %d-%d have no usable keywords", chunk.Start+1, chunk.NextCursor),
			Progress: r.progress(chunk),
		})
		return nil
	}

	if entry, ok := r.ledger[key]; ok {
		r.totalAccepted += entry.Accepted
		if err := r.advance(ctx, chunk.NextCursor); err != nil {
			return err
		}
		logger.Info("chunk already merged",
			logging.String(logging.FieldEventType, "chunk_replayed"),
			logging.Int("accepted", entry.Accepted),
		)
		progress := r.progress(chunk)
		progress.ChunkAccepted = entry.Accepted
		progress.Replayed = true
		r.emit(ctx, events.Event{
			Type:     events.TypeChunkCompleted,
			Chunk:    index,
			Message:  fmt.Sprintf("rows %d-%d were already merged", chunk.Start+1, chunk.NextCursor),
			Progress: progress,
		})
		return nil
	}

	items := make([]analyzer.Item, 0, len(chunk.Rows))
	terms := make([]string, 0, len(chunk.Rows))
	for _, row := range chunk.Rows {
		items = append(items, analyzer.Item{Term: row.Term, Category: row.Category})
		terms = append(terms, row.Term)
	}
	started := r.progress(chunk)
	started.Submitted = len(items)
	started.Terms = terms
	logger.Info("chunk started",
		logging.String(logging.FieldEventType, "chunk_started"),
		logging.Int("row_start", chunk.Start+1),
		logging.Int("row_end", chunk.NextCursor),
		logging.Int("submitted", len(items)),
	)
	r.emit(ctx, events.Event{
		Type:     events.TypeChunkStarted,
		Chunk:    index,
		Message:  fmt.Sprintf("analyzing rows %d-%d (%d keywords)", chunk.Start+1, chunk.NextCursor, len(items)),
		Progress: started,
	})

	result, err := r.evaluate(chunkCtx, logger, analyzer.Request{
		Topic:        r.sess.Topic,
		Instructions: r.instructions,
		Items:        items,
		FirstRow:     chunk.Start + 1,
		LastRow:      chunk.NextCursor,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return r.chunkFailed(ctx, logger, index, chunk, err)
	}

	rows := make([]results.Row, 0, len(result.Accepted))
	for _, accepted := range result.Accepted {
		rows = append(rows, results.Row{Term: accepted.Term, Justification: accepted.Justification})
	}
	batch := results.Batch{Start: chunk.Start, End: chunk.NextCursor, Rows: rows}
	var merge results.MergeResult
	if err := e.persistWithRetry(ctx, logger, "merge results", func() error {
		var mergeErr error
		merge, mergeErr = e.accumulator.Merge(r.sess.ID, batch)
		return mergeErr
	}); err != nil {
		return err
	}
	r.ledger[key] = results.LedgerEntry{Start: chunk.Start, End: chunk.NextCursor, Accepted: len(rows)}
	r.totalAccepted += len(rows)
	if err := r.advance(ctx, chunk.NextCursor); err != nil {
		return err
	}

	progress := r.progress(chunk)
	progress.Submitted = len(items)
	progress.ChunkAccepted = len(rows)
	for i, row := range rows {
		if i < maxAcceptedInEvent {
			progress.AcceptedTerms = append(progress.AcceptedTerms, row.Term)
		}
		if i < maxSampleReasons {
			progress.SampleReasons = append(progress.SampleReasons, events.Sample{
				Term:   row.Term,
				Reason: textutil.Truncate(row.Justification, sampleReasonLimit),
			})
		}
	}
	logger.Info("chunk completed",
		logging.String(logging.FieldEventType, "chunk_completed"),
		logging.Int("submitted", len(items)),
		logging.Int("accepted", len(rows)),
		logging.Int("total_accepted", r.totalAccepted),
		logging.Int("artifact_rows", merge.Total),
		logging.Float64("percent", progress.Percent),
	)
	r.emit(ctx, events.Event{
		Type:     events.TypeChunkCompleted,
		Chunk:    index,
		Message:  fmt.Sprintf("kept %d of %d keywords from rows %d-%d", len(rows), len(items), chunk.Start+1, chunk.NextCursor),
		Progress: progress,
	})
	return nil
}

// evaluate calls the analyzer, retrying the whole chunk up to the configured
// number of extra attempts. Every failure is reported as services.ErrAnalyzer.
func (r *run) evaluate(ctx context.Context, logger *slog.Logger, req analyzer.Request) (analyzer.Result, error) {
	attempts := max(r.engine.cfg.Workflow.ChunkRetryAttempts, 0) + 1
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		var result analyzer.Result
		result, err = r.engine.analyzer.Evaluate(ctx, req)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			break
		}
		if attempt < attempts {
			logging.WarnWithContext(logger, "chunk evaluation failed; retrying", "chunk_retry",
				logging.Int("attempt", attempt),
				logging.Int("max_attempts", attempts),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, hintFor(err)),
				logging.String(logging.FieldImpact, "chunk is resubmitted to the analyzer"),
			)
		}
	}
	if !errors.Is(err, services.ErrAnalyzer) {
		err = services.Wrap(services.ErrAnalyzer, stageName, "evaluate chunk", "", err)
	}
	return analyzer.Result{}, err
}

// chunkFailed applies the failure policy. Under isolate the chunk is counted
// and skipped; under abort the error is returned and fails the session.
func (r *run) chunkFailed(ctx context.Context, logger *slog.Logger, index int, chunk source.Chunk, err error) error {
	r.failedChunks++
	abort := r.engine.cfg.Workflow.ChunkFailurePolicy == config.PolicyAbort
	impact := "chunk skipped; its keywords are missing from the results"
	if abort {
		impact = "session will be marked failed"
	}
	attrs := append(failureAttrs(err, hintFor(err)),
		logging.Int("row_start", chunk.Start+1),
		logging.Int("row_end", chunk.NextCursor),
		logging.Int("failed_chunks", r.failedChunks),
		logging.String(logging.FieldImpact, impact),
		logging.Alert("chunk_failed"),
	)
	logging.WarnWithContext(logger, "chunk failed", "chunk_failed", attrs...)

	if !abort {
		if advErr := r.advance(ctx, chunk.NextCursor); advErr != nil {
			return advErr
		}
	}
	r.emit(ctx, events.Event{
		Type:      events.TypeChunkFailed,
		Chunk:     index,
		Message:   fmt.Sprintf("rows %d-%d could not be analyzed", chunk.Start+1, chunk.NextCursor),
		Progress:  r.progress(chunk),
		Error:     err.Error(),
		ErrorKind: services.Kind(err),
	})
	if abort {
		return err
	}
	return nil
}

// advance moves the cursor and checkpoints it.
func (r *run) advance(ctx context.Context, next int) error {
	r.cursor = next
	return r.checkpoint(ctx)
}

func (r *run) checkpoint(ctx context.Context) error {
	wctx := context.WithoutCancel(ctx)
	return r.engine.persistWithRetry(wctx, r.logger, "save checkpoint", func() error {
		return r.engine.store.SaveCheckpoint(wctx, r.sess.ID, session.Checkpoint{
			NextCursor:    r.cursor,
			TotalAccepted: r.totalAccepted,
			FailedChunks:  r.failedChunks,
			TotalRows:     r.table.TotalRows(),
		})
	})
}

func (r *run) progress(chunk source.Chunk) *events.Progress {
	total := r.table.TotalRows()
	percent := 100.0
	if total > 0 {
		percent = float64(chunk.NextCursor) * 100 / float64(total)
	}
	remaining := 0
	if chunk.NextCursor < total {
		remaining = (total - chunk.NextCursor + r.chunkSize - 1) / r.chunkSize
	}
	return &events.Progress{
		RowStart:        chunk.Start + 1,
		RowEnd:          chunk.NextCursor,
		Position:        chunk.NextCursor,
		TotalRows:       total,
		Percent:         percent,
		RemainingChunks: remaining,
		TotalAccepted:   r.totalAccepted,
	}
}

// stop ends the run with cancelled when the caller's context is done and with
// failed otherwise.
func (r *run) stop(ctx context.Context, err error) {
	if ctx.Err() != nil {
		r.cancel(ctx)
		return
	}
	r.fail(ctx, err)
}

func (r *run) cancel(ctx context.Context) {
	r.logger.Info("run cancelled",
		logging.String(logging.FieldEventType, "run_cancelled"),
		logging.Int("next_cursor", r.cursor),
		logging.Int("total_accepted", r.totalAccepted),
	)
	r.emit(ctx, events.Event{
		Type:    events.TypeCancelled,
		Message: fmt.Sprintf("run cancelled; %d rows processed, run again to resume", r.cursor),
	})
}

func (r *run) fail(ctx context.Context, cause error) {
	e := r.engine
	wctx := context.WithoutCancel(ctx)
	message := cause.Error()

	attrs := append(failureAttrs(cause, hintFor(cause)),
		logging.Int("next_cursor", r.cursor),
		logging.Int("total_accepted", r.totalAccepted),
		logging.Alert("run_failed"),
	)
	logging.ErrorWithContext(r.logger, "run failed", "run_failed", attrs...)

	status := string(session.StatusFailed)
	if err := e.persistWithRetry(wctx, r.logger, "mark failed", func() error {
		updated, updErr := e.store.UpdateStatus(wctx, r.sess.ID, session.StatusFailed,
			session.WithErrorMessage(message),
			session.WithTotalAccepted(r.totalAccepted),
		)
		if updErr == nil {
			r.sess = updated
		}
		return updErr
	}); err != nil {
		status = string(r.sess.Status)
		logging.ErrorWithContext(r.logger, "could not record session failure", "run_failed_unrecorded",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "run 'sifter session recover' once the database is reachable"),
		)
	}

	summary := e.summarize(r.sess)
	summary.Status = status
	summary.TotalAccepted = r.totalAccepted
	summary.FailedChunks = r.failedChunks
	r.emit(ctx, events.Event{
		Type:      events.TypeFailed,
		Message:   "session failed",
		Summary:   &summary,
		Error:     message,
		ErrorKind: services.Kind(cause),
	})
	if err := e.notifier.NotifySessionFailed(wctx, r.sess.Name, cause); err != nil {
		logging.WarnWithContext(r.logger, "failure notification not sent", "notify_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
			logging.String(logging.FieldImpact, "no push notification for this failure"),
		)
	}
}

func (r *run) finish(ctx context.Context) {
	e := r.engine
	wctx := context.WithoutCancel(ctx)
	updated, err := e.complete(wctx, r.logger, r.sess.ID, r.totalAccepted)
	if err != nil {
		r.fail(ctx, err)
		return
	}
	r.sess = updated
	summary := e.summarize(updated)

	r.logger.Info("run completed",
		logging.String(logging.FieldEventType, "run_completed"),
		logging.Int("total_rows", summary.TotalRows),
		logging.Int("total_accepted", summary.TotalAccepted),
		logging.Int("failed_chunks", summary.FailedChunks),
		logging.String("result", summary.ResultLocator),
	)
	r.emit(ctx, events.Event{
		Type:    events.TypeCompleted,
		Message: fmt.Sprintf("kept %d keywords from %d rows", summary.TotalAccepted, summary.TotalRows),
		Summary: &summary,
	})
	if err := e.notifier.NotifySessionCompleted(wctx, updated.Name, summary.TotalAccepted, summary.TotalRows, summary.FailedChunks); err != nil {
		logging.WarnWithContext(r.logger, "completion notification not sent", "notify_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
			logging.String(logging.FieldImpact, "no push notification for this session"),
		)
	}
}

// emit stamps the event through the hub and hands it to the consumer. Once
// ctx is done only buffered delivery is attempted so an abandoned stream
// cannot block the run.
func (r *run) emit(ctx context.Context, evt events.Event) {
	evt.SessionID = r.sess.ID
	evt.RunID = r.runID
	if r.engine.hub != nil {
		evt = r.engine.hub.Publish(evt)
	} else if evt.Timestamp.IsZero() {
		evt.Timestamp = r.engine.now().UTC()
	}
	if ctx.Err() != nil {
		select {
		case r.out <- evt:
		default:
		}
		return
	}
	select {
	case r.out <- evt:
	case <-ctx.Done():
		select {
		case r.out <- evt:
		default:
		}
	}
}
