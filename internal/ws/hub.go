package ws

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"board-relay/internal/board"
	"board-relay/internal/models"
)

const inspectTimeout = 2 * time.Second

var (
	ErrHubClosed     = errors.New("hub closed")
	ErrBoardNotFound = errors.New("board not found")
)

type HubOptions struct {
	HistoryLimit int
	Publisher    board.Publisher

	// BoardIdleTTL > 0 evicts boards that have had no participants and no
	// activity for that long. Zero keeps boards for the process lifetime.
	BoardIdleTTL    time.Duration
	JanitorInterval time.Duration
}

// BoardStats summarises one live board.
type BoardStats struct {
	BoardId      string `json:"boardId"`
	Participants int    `json:"participants"`
	Messages     int    `json:"messages"`
}

// Hub maps board ids to their board actors, creating them on first use.
type Hub struct {
	mu     sync.RWMutex
	boards map[string]*board.Board
	closed bool
	opts   HubOptions
	now    func() time.Time
}

func NewHub(opts HubOptions) *Hub {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = board.DefaultHistoryLimit
	}
	if opts.JanitorInterval <= 0 {
		opts.JanitorInterval = time.Minute
	}
	return &Hub{
		boards: make(map[string]*board.Board),
		opts:   opts,
		now:    time.Now,
	}
}

// Run evicts idle boards until ctx is done, then stops every board.
func (h *Hub) Run(ctx context.Context) {
	slog.Info("[HUB] Starting hub", "idleTTL", h.opts.BoardIdleTTL, "historyLimit", h.opts.HistoryLimit)
	defer h.shutdown()

	if h.opts.BoardIdleTTL <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(h.opts.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.EvictIdle(ctx)
		}
	}
}

// Connect joins a participant to boardId, creating the board if needed.
// The hub lock only guards the registry; the join itself runs unlocked so a
// busy board never holds up the others.
func (h *Hub) Connect(ctx context.Context, boardId string, p models.Participant, sub board.Subscriber) error {
	for {
		b, err := h.boardFor(boardId)
		if err != nil {
			return err
		}

		err = b.Join(ctx, p, sub)
		if !errors.Is(err, board.ErrStopped) {
			return err
		}

		// Evicted between lookup and join: drop it and join a fresh board.
		slog.Debug("[HUB] Board stopped during join, retrying", "board", boardId, "conn", p.ConnectionId)
		h.forget(boardId, b)
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (h *Hub) boardFor(boardId string) (*board.Board, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}

	b, ok := h.boards[boardId]
	if !ok {
		slog.Info("[HUB] Creating new board", "board", boardId)
		b = board.New(boardId, board.Options{
			HistoryLimit: h.opts.HistoryLimit,
			Publisher:    h.opts.Publisher,
		})
		h.boards[boardId] = b
	}
	return b, nil
}

func (h *Hub) lookup(boardId string) (*board.Board, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	b, ok := h.boards[boardId]
	return b, ok
}

// forget removes b from the registry if it is still registered under boardId.
func (h *Hub) forget(boardId string, b *board.Board) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.boards[boardId] != b {
		return false
	}
	delete(h.boards, boardId)
	return true
}

// Disconnect removes the participant for connID from boardId.
func (h *Hub) Disconnect(ctx context.Context, boardId, connID string) error {
	b, ok := h.lookup(boardId)
	if !ok {
		slog.Warn("[HUB] Disconnect from non-existent board", "board", boardId, "conn", connID)
		return ErrBoardNotFound
	}
	return b.Leave(ctx, connID)
}

// Send relays msg on boardId on behalf of sender.
func (h *Hub) Send(ctx context.Context, boardId string, sender board.Subscriber, msg *models.ChatMessage) error {
	b, ok := h.lookup(boardId)
	if !ok {
		return ErrBoardNotFound
	}
	return b.Send(ctx, sender, msg)
}

// Inspect returns the current state of boardId.
func (h *Hub) Inspect(ctx context.Context, boardId string) (board.Snapshot, error) {
	b, ok := h.lookup(boardId)
	if !ok {
		return board.Snapshot{}, ErrBoardNotFound
	}
	return b.Inspect(ctx)
}

// Stats reports every live board sorted by id.
func (h *Hub) Stats(ctx context.Context) []BoardStats {
	h.mu.RLock()
	boards := make([]*board.Board, 0, len(h.boards))
	for _, b := range h.boards {
		boards = append(boards, b)
	}
	h.mu.RUnlock()

	stats := make([]BoardStats, 0, len(boards))
	for _, b := range boards {
		snap, err := b.Inspect(ctx)
		if err != nil {
			continue
		}
		stats = append(stats, BoardStats{
			BoardId:      b.ID(),
			Participants: len(snap.Roster),
			Messages:     len(snap.History),
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].BoardId < stats[j].BoardId })
	return stats
}

// EvictIdle stops and forgets boards with an empty roster whose last
// activity is older than BoardIdleTTL. It returns the number evicted.
func (h *Hub) EvictIdle(ctx context.Context) int {
	if h.opts.BoardIdleTTL <= 0 {
		return 0
	}

	h.mu.RLock()
	boards := make(map[string]*board.Board, len(h.boards))
	for id, b := range h.boards {
		boards[id] = b
	}
	h.mu.RUnlock()

	// Each board decides for itself, so a join racing the eviction is either
	// applied first (board stays) or sees ErrStopped and Connect retries.
	cutoff := h.now().Add(-h.opts.BoardIdleTTL)
	evicted := 0
	for id, b := range boards {
		sctx, cancel := context.WithTimeout(ctx, inspectTimeout)
		stopped, err := b.StopIfIdle(sctx, cutoff)
		cancel()
		if err != nil {
			if !errors.Is(err, board.ErrStopped) {
				slog.Warn("[HUB] Failed to check idle board", "board", id, "error", err)
			}
			continue
		}
		if !stopped {
			continue
		}
		h.forget(id, b)
		evicted++
		slog.Info("[HUB] Evicted idle board", "board", id)
	}
	return evicted
}

func (h *Hub) BoardCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.boards)
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	h.closed = true
	boards := h.boards
	h.boards = make(map[string]*board.Board)
	h.mu.Unlock()

	for _, b := range boards {
		b.Stop()
	}
	slog.Info("[HUB] Hub stopped", "boards", len(boards))
}
