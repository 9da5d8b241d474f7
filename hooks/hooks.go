// Package hooks provides a generic priority-ordered event bus that the
// index engine uses to let hosts observe its lifecycle operations without
// coupling the core to any specific host. Trigger returns a Pre-event
// listener's error to its caller; MBRIndex and queryreader.Reader discard
// that error, so a listener cannot abort their operations.
package hooks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nexustsdb/simsearch/core"
)

// EventType identifies a hook event. Names beginning with "Pre" fire
// synchronously before the guarded operation, and Trigger stops at and
// returns the first error a Pre listener reports; names beginning with
// "Post" fire after and may run asynchronously.
type EventType string

const (
	EventPreBuildNext  EventType = "PreBuildNext"
	EventPostBuildNext EventType = "PostBuildNext"

	EventPreFlush  EventType = "PreFlush"
	EventPostFlush EventType = "PostFlush"

	EventPreClear  EventType = "PreClear"
	EventPostClear EventType = "PostClear"

	EventPreQuery  EventType = "PreQuery"
	EventPostQuery EventType = "PostQuery"

	// EventOnTransientChunkError fires when the query reader skips a chunk
	// after a ChunkUnpackError (spec.md §7 Transient handling).
	EventOnTransientChunkError EventType = "OnTransientChunkError"

	// EventOnSubFlush names a completed memory-pressure sub-flush
	// (flush(); clear() within one logical flush task, spec.md §5). No
	// component in this module triggers it.
	EventOnSubFlush EventType = "OnSubFlush"
)

// HookManager is the interface the index engine depends on; hosts register
// listeners against a concrete implementation (DefaultHookManager) and pass
// it in wherever a component accepts one.
type HookManager interface {
	Register(eventType EventType, listener HookListener)
	Trigger(ctx context.Context, event HookEvent) error
	Stop()
}

// HookEvent is a fired occurrence carrying its type and payload.
type HookEvent interface {
	Type() EventType
	Payload() interface{}
}

// BaseEvent is the concrete HookEvent implementation used by every
// constructor in this package.
type BaseEvent struct {
	eventType EventType
	payload   interface{}
}

func (e *BaseEvent) Type() EventType      { return e.eventType }
func (e *BaseEvent) Payload() interface{} { return e.payload }

// HookListener observes events of one or more types.
type HookListener interface {
	OnEvent(ctx context.Context, event HookEvent) error
	// Priority orders listeners for the same event; lower runs first.
	Priority() int
	// IsAsync reports whether a Post-hook listener may run in a goroutine.
	// Pre-hook listeners are always synchronous regardless of this value.
	IsAsync() bool
}

// PreBuildNextPayload carries the working feature buffers about to be
// inserted into the R-tree; MBRIndex.BuildNext fires it after extracting
// the window's feature and before the insert.
type PreBuildNextPayload struct {
	Path    string
	Corners []float64
	Ranges  []float64
}

func NewPreBuildNextEvent(payload PreBuildNextPayload) HookEvent {
	return &BaseEvent{eventType: EventPreBuildNext, payload: payload}
}

// PostBuildNextPayload reports the outcome of one BuildNext call.
type PostBuildNextPayload struct {
	Path     string
	SliceNum int
	Accepted bool
	Error    error
}

func NewPostBuildNextEvent(payload PostBuildNextPayload) HookEvent {
	return &BaseEvent{eventType: EventPostBuildNext, payload: payload}
}

// PreFlushPayload fires before MBRIndex.Flush serializes the R-tree.
type PreFlushPayload struct {
	Path       string
	WindowSize int
}

func NewPreFlushEvent(payload PreFlushPayload) HookEvent {
	return &BaseEvent{eventType: EventPreFlush, payload: payload}
}

// PostFlushPayload reports the outcome of a flush that built a chunk.
// Chunk is the emitted chunk, set also when persisting it failed (Error
// non-nil). No PostFlush event fires when the preprocessor had nothing to
// flush or when serialization or compression failed.
type PostFlushPayload struct {
	Path     string
	Chunk    *core.IndexFlushChunk
	Duration time.Duration
	Error    error
}

func NewPostFlushEvent(payload PostFlushPayload) HookEvent {
	return &BaseEvent{eventType: EventPostFlush, payload: payload}
}

// PreClearPayload fires before MBRIndex.Clear discards buffered state.
type PreClearPayload struct {
	Path string
}

func NewPreClearEvent(payload PreClearPayload) HookEvent {
	return &BaseEvent{eventType: EventPreClear, payload: payload}
}

// PostClearPayload reports the amortized byte count freed by a clear.
type PostClearPayload struct {
	Path       string
	FreedBytes int64
}

func NewPostClearEvent(payload PostClearPayload) HookEvent {
	return &BaseEvent{eventType: EventPostClear, payload: payload}
}

// PreQueryPayload fires at the end of MBRIndex.InitQuery, after the aligned
// pattern and threshold are stored. Pattern points at the stored pattern to
// allow a listener to rewrite it (e.g. normalization).
type PreQueryPayload struct {
	Path    string
	Pattern *[]float64
}

func NewPreQueryEvent(payload PreQueryPayload) HookEvent {
	return &BaseEvent{eventType: EventPreQuery, payload: payload}
}

// PostQueryPayload reports the outcome of a full query lifecycle.
type PostQueryPayload struct {
	Path       string
	Candidates int
	Duration   time.Duration
	Error      error
}

func NewPostQueryEvent(payload PostQueryPayload) HookEvent {
	return &BaseEvent{eventType: EventPostQuery, payload: payload}
}

// TransientChunkErrorPayload carries the skipped chunk's identity and the
// underlying I/O error.
type TransientChunkErrorPayload struct {
	Path  string
	Start int64
	End   int64
	Err   error
}

func NewTransientChunkErrorEvent(payload TransientChunkErrorPayload) HookEvent {
	return &BaseEvent{eventType: EventOnTransientChunkError, payload: payload}
}

// SubFlushPayload reports a completed memory-pressure-triggered sub-flush.
type SubFlushPayload struct {
	Path      string
	ChunkSize int
}

func NewSubFlushEvent(payload SubFlushPayload) HookEvent {
	return &BaseEvent{eventType: EventOnSubFlush, payload: payload}
}

// listenerWithPriority wraps a listener with its priority for ordered insertion.
type listenerWithPriority struct {
	listener HookListener
	priority int
}

// DefaultHookManager is a concrete, priority-ordered implementation of HookManager.
type DefaultHookManager struct {
	listeners map[EventType][]*listenerWithPriority
	mu        sync.RWMutex
	wg        sync.WaitGroup
	logger    *slog.Logger
}

// NewHookManager creates a new DefaultHookManager. A nil logger discards output.
func NewHookManager(logger *slog.Logger) HookManager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &DefaultHookManager{
		listeners: make(map[EventType][]*listenerWithPriority),
		logger:    logger,
	}
}

// Register adds a listener for a specific event type, maintaining priority order.
func (m *DefaultHookManager) Register(eventType EventType, listener HookListener) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item := &listenerWithPriority{
		listener: listener,
		priority: listener.Priority(),
	}

	l := m.listeners[eventType]
	idx := sort.Search(len(l), func(i int) bool {
		return l[i].priority >= item.priority
	})
	l = append(l, nil)
	copy(l[idx+1:], l[idx:])
	l[idx] = item

	m.listeners[eventType] = l
}

// Trigger fires all registered listeners for a given event in priority order.
func (m *DefaultHookManager) Trigger(ctx context.Context, event HookEvent) error {
	m.mu.RLock()
	listeners, ok := m.listeners[event.Type()]
	m.mu.RUnlock()

	if !ok || len(listeners) == 0 {
		return nil
	}

	isPreHook := strings.HasPrefix(string(event.Type()), "Pre")

	for _, item := range listeners {
		isListenerAsync := item.listener.IsAsync()

		if isPreHook || !isListenerAsync {
			if isPreHook && isListenerAsync {
				m.logger.Warn("listener for Pre-hook requested async execution, Pre-hooks are always synchronous", "event", event.Type(), "priority", item.priority)
			}

			if err := item.listener.OnEvent(ctx, event); err != nil {
				if isPreHook {
					return fmt.Errorf("pre-hook for event %s (priority %d) failed: %w", event.Type(), item.priority, err)
				}
				m.logger.Error("error from synchronous post-hook listener", "event", event.Type(), "priority", item.priority, "error", err)
			}
		} else {
			m.wg.Add(1)
			go func(currentItem *listenerWithPriority) {
				defer m.wg.Done()
				if err := currentItem.listener.OnEvent(ctx, event); err != nil {
					m.logger.Error("error from asynchronous post-hook listener", "event", event.Type(), "priority", currentItem.priority, "error", err)
				}
			}(item)
		}
	}
	return nil
}

// Stop waits for all asynchronous listeners to complete.
func (m *DefaultHookManager) Stop() {
	m.wg.Wait()
}
