package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/kimhsiao/homeinventory/internal/errors"
	"github.com/kimhsiao/homeinventory/internal/logging"
	"github.com/kimhsiao/homeinventory/internal/models"
	"github.com/kimhsiao/homeinventory/internal/remote"
)

// State is the engine's drain state.
type State int32

const (
	StateIdle State = iota
	StateDraining
)

func (s State) String() string {
	if s == StateDraining {
		return "draining"
	}
	return "idle"
}

// DefaultMaxRetries is how many transient failures an entry may accumulate
// before it is poisoned.
const DefaultMaxRetries = 3

var (
	// ErrDrainInProgress is returned by Drain when another cycle holds the latch.
	ErrDrainInProgress = apperrors.New(apperrors.ErrSyncInProgress, "drain cycle already in progress")
	// ErrOffline is returned by Drain when connectivity reports offline.
	ErrOffline = apperrors.New(apperrors.ErrOffline, "remote service is offline")
)

// DrainResult summarizes one drain cycle.
type DrainResult struct {
	StartTime      time.Time     `json:"start_time"`
	EndTime        time.Time     `json:"end_time"`
	Duration       time.Duration `json:"duration"`
	Synced         int           `json:"synced"`
	Poisoned       int           `json:"poisoned"`
	ImagesUploaded int           `json:"images_uploaded"`
	ImageFailures  int           `json:"image_failures"`
	Halted         bool          `json:"halted"`
	HaltReason     string        `json:"halt_reason,omitempty"`
	Remaining      int           `json:"remaining"`
}

// Config tunes the engine.
type Config struct {
	MaxRetries int
}

// Engine drains the mutation queue in sequence order, one entry at a time.
// At most one cycle runs at once; the latch is an atomic state switched by
// compare-and-swap.
type Engine struct {
	store      Store
	remote     RemoteService
	images     ImageService // nil disables photo upload
	conn       Connectivity // nil means always online
	maxRetries int
	log        *logging.Logger

	state atomic.Int32
	rerun atomic.Bool
	bg    sync.WaitGroup

	mu           sync.RWMutex
	handler      SyncEventHandler
	lastResult   *DrainResult
	lastErr      error
	errorHistory []SyncErrorEntry
}

// NewEngine creates an Engine. images and conn may be nil.
func NewEngine(store Store, remoteSvc RemoteService, images ImageService, conn Connectivity, cfg *Config) *Engine {
	maxRetries := DefaultMaxRetries
	if cfg != nil && cfg.MaxRetries > 0 {
		maxRetries = cfg.MaxRetries
	}
	return &Engine{
		store:      store,
		remote:     remoteSvc,
		images:     images,
		conn:       conn,
		maxRetries: maxRetries,
		log:        logging.Get().Component("sync"),
	}
}

// SetEventHandler sets the event handler for sync notifications.
func (e *Engine) SetEventHandler(handler SyncEventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = handler
}

// State returns the current drain state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// IsDraining reports whether a cycle is running.
func (e *Engine) IsDraining() bool {
	return e.State() == StateDraining
}

// LastResult returns the result of the most recent cycle.
func (e *Engine) LastResult() *DrainResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastResult
}

// LastError returns the error that ended the most recent cycle.
func (e *Engine) LastError() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastErr
}

// GetErrorHistory returns a copy of recent entry and image failures, oldest first.
func (e *Engine) GetErrorHistory() []SyncErrorEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	history := make([]SyncErrorEntry, len(e.errorHistory))
	copy(history, e.errorHistory)
	return history
}

// Drain runs one cycle on the calling goroutine.
func (e *Engine) Drain(ctx context.Context) (*DrainResult, error) {
	if !e.online() {
		return nil, ErrOffline
	}
	if !e.acquire() {
		return nil, ErrDrainInProgress
	}
	return e.run(ctx)
}

// Trigger starts a cycle on a new goroutine. A trigger that finds a cycle
// running asks it to re-read the queue once more before going idle.
// ctx bounds the background cycle, so it should outlive the caller's request.
func (e *Engine) Trigger(ctx context.Context) bool {
	if !e.online() {
		return false
	}
	if !e.acquire() {
		e.rerun.Store(true)
		return false
	}
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		if _, err := e.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			e.log.Error("drain cycle failed", err)
		}
	}()
	return true
}

// Wait blocks until cycles started by Trigger have returned.
func (e *Engine) Wait() {
	e.bg.Wait()
}

func (e *Engine) acquire() bool {
	return e.state.CompareAndSwap(int32(StateIdle), int32(StateDraining))
}

func (e *Engine) release() {
	e.state.Store(int32(StateIdle))
}

func (e *Engine) online() bool {
	return e.conn == nil || e.conn.IsOnline()
}

// run executes a cycle while holding the latch and releases it before returning.
func (e *Engine) run(ctx context.Context) (*DrainResult, error) {
	result := &DrainResult{StartTime: time.Now()}
	attempted := make(map[string]bool)
	held := true
	var err error

	e.emitEvent(SyncEvent{Type: SyncEventStarted})

	for {
		e.rerun.Store(false)

		err = e.drainQueue(ctx, result, attempted)
		if err == nil && !result.Halted {
			err = e.sweepImages(ctx, result, attempted)
		}
		if err != nil || result.Halted {
			break
		}
		if e.rerun.Load() {
			continue
		}

		e.release()
		held = false
		// A trigger landing between the check above and the release saw
		// Draining and only set rerun.
		if e.rerun.Load() && e.acquire() {
			held = true
			continue
		}
		break
	}
	if held {
		e.release()
	}

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	if n, cerr := e.store.CountPending(); cerr == nil {
		result.Remaining = n
	}

	e.mu.Lock()
	e.lastResult = result
	e.lastErr = err
	e.mu.Unlock()

	fields := map[string]interface{}{
		"synced":          result.Synced,
		"poisoned":        result.Poisoned,
		"images_uploaded": result.ImagesUploaded,
		"remaining":       result.Remaining,
		"duration_ms":     result.Duration.Milliseconds(),
	}
	switch {
	case err != nil:
		e.emitEvent(SyncEvent{Type: SyncEventHalted, Message: err.Error()})
		return result, err
	case result.Halted:
		fields["reason"] = result.HaltReason
		e.log.Warn("drain cycle halted", fields)
		e.emitEvent(SyncEvent{Type: SyncEventHalted, Message: result.HaltReason})
	default:
		if result.Synced > 0 || result.Poisoned > 0 || result.ImagesUploaded > 0 {
			e.log.Info("drain cycle completed", fields)
		}
		e.emitEvent(SyncEvent{Type: SyncEventCompleted})
	}
	return result, nil
}

// drainQueue processes entries head first until the queue is empty, a
// transient failure halts the cycle, or ctx ends.
func (e *Engine) drainQueue(ctx context.Context, result *DrainResult, attempted map[string]bool) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		entry, err := e.store.NextPending()
		if err != nil {
			return err
		}
		if entry == nil {
			return nil
		}

		remoteID, callErr := e.apply(ctx, entry)
		if callErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			halt, err := e.handleFailure(entry, callErr, result)
			if err != nil {
				return err
			}
			if halt {
				return nil
			}
			continue
		}

		if err := e.store.CompleteEntry(entry, remoteID); err != nil {
			return err
		}
		result.Synced++
		e.emitEvent(SyncEvent{
			Type:     SyncEventEntrySynced,
			Table:    entry.Table,
			EntityID: entry.EntityID,
			EntryID:  entry.ID,
			Action:   entry.Action,
		})

		if entry.Action == models.ActionCreate && entry.Table == models.TableItems {
			if err := e.uploadImageFor(ctx, entry.EntityID, result, attempted); err != nil {
				return err
			}
		}
	}
}

func (e *Engine) apply(ctx context.Context, entry *models.PendingSyncEntry) (string, error) {
	ctx = remote.WithIdempotencyKey(ctx, entry.ID)
	switch entry.Action {
	case models.ActionCreate:
		return e.remote.Create(ctx, entry.Table, entry.EntityID, entry.Payload)
	case models.ActionUpdate:
		return "", e.remote.Update(ctx, entry.Table, entry.EntityID, entry.Payload)
	case models.ActionDelete:
		return "", e.remote.Delete(ctx, entry.Table, entry.EntityID)
	default:
		return "", &remote.Error{
			Op:        string(entry.Action),
			Table:     entry.Table,
			EntityID:  entry.EntityID,
			Message:   "unknown action",
			Permanent: true,
		}
	}
}

// handleFailure applies the retry budget. It reports whether the cycle must halt.
func (e *Engine) handleFailure(entry *models.PendingSyncEntry, callErr error, result *DrainResult) (bool, error) {
	e.recordError(entry.Table, entry.EntityID, string(entry.Action), callErr)

	if remote.IsPermanent(callErr) {
		return false, e.poison(entry, callErr, true, result)
	}

	retries, err := e.store.BumpRetry(entry.ID, callErr.Error())
	if err != nil {
		return false, err
	}
	entry.Retries = retries

	if retries < e.maxRetries {
		result.Halted = true
		result.HaltReason = callErr.Error()
		e.emitEvent(SyncEvent{
			Type:     SyncEventEntryFailed,
			Table:    entry.Table,
			EntityID: entry.EntityID,
			EntryID:  entry.ID,
			Action:   entry.Action,
			Retries:  retries,
			Message:  callErr.Error(),
		})
		return true, nil
	}
	return false, e.poison(entry, callErr, false, result)
}

func (e *Engine) poison(entry *models.PendingSyncEntry, callErr error, permanent bool, result *DrainResult) error {
	if err := e.store.PoisonEntry(entry, callErr.Error(), permanent); err != nil {
		return err
	}
	result.Poisoned++

	e.log.ErrorWithCode("queue entry poisoned", string(poisonCode(permanent)), callErr, map[string]interface{}{
		"entry_id":  entry.ID,
		"table":     entry.Table.String(),
		"entity_id": entry.EntityID,
		"action":    string(entry.Action),
		"retries":   entry.Retries,
	})
	e.emitEvent(SyncEvent{
		Type:     SyncEventEntryPoisoned,
		Table:    entry.Table,
		EntityID: entry.EntityID,
		EntryID:  entry.ID,
		Action:   entry.Action,
		Retries:  entry.Retries,
		Message:  callErr.Error(),
	})
	return nil
}

func poisonCode(permanent bool) apperrors.ErrorCode {
	if permanent {
		return apperrors.ErrSyncPermanent
	}
	return apperrors.ErrSyncTransient
}

// sweepImages retries photo uploads for items whose create is confirmed but
// that still hold a local buffer.
func (e *Engine) sweepImages(ctx context.Context, result *DrainResult, attempted map[string]bool) error {
	if e.images == nil {
		return nil
	}
	items, err := e.store.ItemsAwaitingImageUpload()
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if attempted[item.ID] {
			continue
		}
		if err := e.uploadImage(ctx, item, result, attempted); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) uploadImageFor(ctx context.Context, id string, result *DrainResult, attempted map[string]bool) error {
	if e.images == nil {
		return nil
	}
	item, err := e.store.GetItem(id)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		// deleted locally after the create was queued
		return nil
	}
	if err != nil {
		return err
	}
	if !item.HasImageBuffer() || item.RemoteID == "" {
		return nil
	}
	return e.uploadImage(ctx, item, result, attempted)
}

// uploadImage uploads the buffer, points the remote record at it, then
// swaps the local buffer for the reference. Failures leave the buffer for
// the next cycle and do not halt the queue. Only store errors are returned.
func (e *Engine) uploadImage(ctx context.Context, item *models.Item, result *DrainResult, attempted map[string]bool) error {
	attempted[item.ID] = true

	fail := func(step string, err error) {
		result.ImageFailures++
		e.recordError(models.TableItems, item.ID, step, err)
		e.log.Warn("image upload failed", map[string]interface{}{
			"entity_id": item.ID,
			"step":      step,
			"error":     err.Error(),
		})
		e.emitEvent(SyncEvent{
			Type:     SyncEventImageFailed,
			Table:    models.TableItems,
			EntityID: item.ID,
			Message:  err.Error(),
		})
	}

	ref, err := e.images.Upload(ctx, item.ImageBlob, item.ImageMIME, item.ID)
	if err != nil {
		fail("image_upload", err)
		return nil
	}

	link, err := json.Marshal(imageLink{ImageURL: ref.URL, ThumbnailURL: ref.ThumbnailURL})
	if err != nil {
		fail("image_link", err)
		return nil
	}
	linkCtx := remote.WithIdempotencyKey(ctx, fmt.Sprintf("image:%s:%s", item.ID, ref.URL))
	if err := e.remote.Update(linkCtx, models.TableItems, item.ID, link); err != nil {
		fail("image_link", err)
		return nil
	}

	attached, err := e.store.AttachRemoteImage(item.ID, item.ImageBlob, ref)
	if err != nil {
		return err
	}
	if !attached {
		// replaced while uploading; the newer photo goes out on the next sweep
		return nil
	}

	result.ImagesUploaded++
	e.emitEvent(SyncEvent{
		Type:     SyncEventImageUploaded,
		Table:    models.TableItems,
		EntityID: item.ID,
		Message:  ref.URL,
	})
	return nil
}

type imageLink struct {
	ImageURL     string `json:"image_url"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

// emitEvent stamps event and hands it to the handler, if any.
func (e *Engine) emitEvent(event SyncEvent) {
	e.mu.RLock()
	handler := e.handler
	e.mu.RUnlock()

	if handler == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	handler.OnSyncEvent(event)
}

func (e *Engine) recordError(table models.Table, entityID, operation string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.errorHistory = append(e.errorHistory, SyncErrorEntry{
		Table:     table,
		EntityID:  entityID,
		Operation: operation,
		Error:     err.Error(),
		Timestamp: time.Now(),
	})
	if len(e.errorHistory) > maxErrorHistory {
		e.errorHistory = e.errorHistory[len(e.errorHistory)-maxErrorHistory:]
	}
}

var _ SyncEngineInterface = (*Engine)(nil)
