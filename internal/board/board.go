package board

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"board-relay/internal/models"
)

const (
	mailboxSize    = 64
	publishTimeout = 2 * time.Second
)

var (
	// ErrStopped is returned when a command is sent to a board that has shut down.
	ErrStopped = errors.New("board stopped")

	// ErrInvalidMessage is reported when a chat message fails validation.
	ErrInvalidMessage = errors.New("invalid chat message")
)

// Subscriber receives encoded frames for one connection. Deliver must not
// block; returning false means the frame was dropped.
type Subscriber interface {
	Deliver(frame []byte) bool
}

// Publisher mirrors board activity to an external feed.
type Publisher interface {
	PublishMessageCreated(ctx context.Context, boardId string, msg models.ChatMessage) error
	PublishPresenceJoin(ctx context.Context, boardId string, p models.Participant) error
	PublishPresenceLeave(ctx context.Context, boardId string, p models.Participant) error
}

// Snapshot is a point-in-time copy of a board's state.
type Snapshot struct {
	Roster     []models.RosterEntry
	History    []models.ChatMessage
	LastActive time.Time
}

type Options struct {
	HistoryLimit int
	Publisher    Publisher
}

// command is the closed set of operations a board processes.
type command interface{ isCommand() }

type joinCmd struct {
	participant models.Participant
	sub         Subscriber
	applied     chan struct{}
}

type leaveCmd struct {
	connID string
}

type sendCmd struct {
	sender Subscriber
	msg    *models.ChatMessage
}

type inspectCmd struct {
	reply chan Snapshot
}

// stopIfIdleCmd stops the board when nobody is connected, nothing is queued
// and the last activity is older than cutoff.
type stopIfIdleCmd struct {
	cutoff time.Time
	reply  chan bool
}

func (joinCmd) isCommand() {}
func (leaveCmd) isCommand() {}
func (sendCmd) isCommand() {}
func (inspectCmd) isCommand() {}
func (stopIfIdleCmd) isCommand() {}

// Board owns the roster and history of one board channel. All state is
// mutated by a single goroutine draining the mailbox, so events for a board
// are applied and broadcast strictly in arrival order.
type Board struct {
	id        string
	mailbox   chan command
	quit      chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
	publisher Publisher

	history    *History
	roster     *Roster
	subs       map[string]Subscriber
	lastActive time.Time
}

// New creates a board and starts its run loop.
func New(id string, opts Options) *Board {
	b := &Board{
		id:         id,
		mailbox:    make(chan command, mailboxSize),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		publisher:  opts.Publisher,
		history:    NewHistory(opts.HistoryLimit),
		roster:     NewRoster(),
		subs:       make(map[string]Subscriber),
		lastActive: time.Now(),
	}
	go b.run()
	return b
}

func (b *Board) ID() string { return b.id }

// Join registers p and subscribes sub to the board's broadcasts. It returns
// once the board has applied the join, or ErrStopped if the board shut down
// before reaching it.
func (b *Board) Join(ctx context.Context, p models.Participant, sub Subscriber) error {
	applied := make(chan struct{})
	if err := b.enqueue(ctx, joinCmd{participant: p, sub: sub, applied: applied}); err != nil {
		return err
	}
	select {
	case <-applied:
		return nil
	case <-b.done:
		select {
		case <-applied:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Leave removes the participant registered under connID.
func (b *Board) Leave(ctx context.Context, connID string) error {
	return b.enqueue(ctx, leaveCmd{connID: connID})
}

// Send appends msg to the history and broadcasts it. Failures are reported
// to sender only.
func (b *Board) Send(ctx context.Context, sender Subscriber, msg *models.ChatMessage) error {
	return b.enqueue(ctx, sendCmd{sender: sender, msg: msg})
}

// Inspect returns a copy of the board state once every command queued
// before it has been applied.
func (b *Board) Inspect(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if err := b.enqueue(ctx, inspectCmd{reply: reply}); err != nil {
		return Snapshot{}, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-b.done:
		return Snapshot{}, ErrStopped
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// StopIfIdle stops the board if it has no participants, no queued commands
// and no activity since cutoff. It reports whether the board stopped.
func (b *Board) StopIfIdle(ctx context.Context, cutoff time.Time) (bool, error) {
	reply := make(chan bool, 1)
	if err := b.enqueue(ctx, stopIfIdleCmd{cutoff: cutoff, reply: reply}); err != nil {
		return false, err
	}
	select {
	case stopped := <-reply:
		return stopped, nil
	case <-b.done:
		// The board may have stopped because of this very command.
		select {
		case stopped := <-reply:
			return stopped, nil
		default:
			return false, ErrStopped
		}
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Stop terminates the run loop and waits for it to exit. Commands still in
// the mailbox are discarded.
func (b *Board) Stop() {
	b.stopOnce.Do(func() { close(b.quit) })
	<-b.done
}

func (b *Board) enqueue(ctx context.Context, cmd command) error {
	select {
	case <-b.quit:
		return ErrStopped
	default:
	}

	select {
	case b.mailbox <- cmd:
		return nil
	case <-b.quit:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Board) run() {
	defer close(b.done)
	for {
		select {
		case <-b.quit:
			slog.Debug("[BOARD] Run loop stopped", "board", b.id)
			return
		case cmd := <-b.mailbox:
			if stop := b.dispatch(cmd); stop {
				b.stopOnce.Do(func() { close(b.quit) })
				slog.Info("[BOARD] Stopped idle board", "board", b.id, "messages", b.history.Len())
				return
			}
		}
	}
}

func (b *Board) dispatch(cmd command) (stop bool) {
	switch c := cmd.(type) {
	case joinCmd:
		b.handleJoin(c)
	case leaveCmd:
		b.handleLeave(c)
	case sendCmd:
		b.handleSend(c)
	case inspectCmd:
		c.reply <- Snapshot{
			Roster:     b.roster.Entries(),
			History:    b.history.Snapshot(),
			LastActive: b.lastActive,
		}
	case stopIfIdleCmd:
		stop = b.roster.Len() == 0 && len(b.mailbox) == 0 && b.lastActive.Before(c.cutoff)
		c.reply <- stop
	default:
		slog.Warn("[BOARD] Unknown command", "board", b.id, "command", fmt.Sprintf("%T", cmd))
	}
	return stop
}

func (b *Board) handleJoin(c joinCmd) {
	p := c.participant
	b.roster.Add(p)
	b.subs[p.ConnectionId] = c.sub
	b.lastActive = time.Now()

	slog.Info("[BOARD] Participant joined", "board", b.id, "user", p.UserId, "conn", p.ConnectionId, "online", b.roster.Len())

	b.broadcastRoster()

	frame, err := models.EncodeEvent(models.EventPreviousMessages, b.id, b.history.Snapshot())
	if err != nil {
		slog.Error("[BOARD] Failed to encode history snapshot", "board", b.id, "error", err)
	} else if !c.sub.Deliver(frame) {
		slog.Warn("[BOARD] History snapshot dropped", "board", b.id, "conn", p.ConnectionId)
	}
	close(c.applied)

	b.publish(func(ctx context.Context) error {
		return b.publisher.PublishPresenceJoin(ctx, b.id, p)
	})
}

func (b *Board) handleLeave(c leaveCmd) {
	p, ok := b.roster.Remove(c.connID)
	delete(b.subs, c.connID)
	if !ok {
		slog.Debug("[BOARD] Leave for unknown connection", "board", b.id, "conn", c.connID)
		return
	}
	b.lastActive = time.Now()

	slog.Info("[BOARD] Participant left", "board", b.id, "user", p.UserId, "conn", c.connID, "online", b.roster.Len())

	b.broadcastRoster()

	b.publish(func(ctx context.Context) error {
		return b.publisher.PublishPresenceLeave(ctx, b.id, p)
	})
}

func (b *Board) handleSend(c sendCmd) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("[BOARD] Panic while handling message", "board", b.id, "panic", r)
			b.reportError(c.sender)
		}
	}()

	if err := ValidateMessage(c.msg); err != nil {
		slog.Warn("[BOARD] Rejected message", "board", b.id, "error", err)
		b.reportError(c.sender)
		return
	}

	frame, err := models.EncodeEvent(models.EventMessage, b.id, c.msg)
	if err != nil {
		slog.Error("[BOARD] Failed to encode message", "board", b.id, "error", err)
		b.reportError(c.sender)
		return
	}

	msg := *c.msg
	b.history.Append(msg)
	b.lastActive = time.Now()
	b.broadcast(frame)

	b.publish(func(ctx context.Context) error {
		return b.publisher.PublishMessageCreated(ctx, b.id, msg)
	})
}

func (b *Board) broadcastRoster() {
	frame, err := models.EncodeEvent(models.EventOnlineUsers, b.id, b.roster.Entries())
	if err != nil {
		slog.Error("[BOARD] Failed to encode roster", "board", b.id, "error", err)
		return
	}
	b.broadcast(frame)
}

func (b *Board) broadcast(frame []byte) {
	sent, dropped := 0, 0
	for connID, sub := range b.subs {
		if sub.Deliver(frame) {
			sent++
			continue
		}
		dropped++
		slog.Warn("[BOARD] Frame dropped", "board", b.id, "conn", connID)
	}
	slog.Debug("[BOARD] Broadcast complete", "board", b.id, "sent", sent, "dropped", dropped)
}

func (b *Board) reportError(sub Subscriber) {
	if sub == nil {
		return
	}
	frame, err := models.EncodeEvent(models.EventError, b.id, models.ProcessingError)
	if err != nil {
		return
	}
	sub.Deliver(frame)
}

func (b *Board) publish(fn func(ctx context.Context) error) {
	if b.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		slog.Error("[BOARD] Failed to publish activity", "board", b.id, "error", err)
	}
}

// ValidateMessage checks the fields a relayed chat message must carry.
func ValidateMessage(msg *models.ChatMessage) error {
	if msg == nil {
		return fmt.Errorf("%w: missing message", ErrInvalidMessage)
	}
	if msg.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidMessage)
	}
	if strings.TrimSpace(msg.Content) == "" {
		return fmt.Errorf("%w: empty content", ErrInvalidMessage)
	}
	return nil
}
