// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 gpgbridge Authors

// Package keyedit drives the engine's interactive key-editing menu: a
// prompt-response loop where a FIFO queue of composable commands answers
// prompts one at a time, and the key listing is re-parsed after every
// structural change so commands always act on what the engine currently
// believes about the key.
package keyedit

import (
	"errors"
	"fmt"
	"io"

	"github.com/gpgbridge/gpgbridge/keylist"
	"github.com/gpgbridge/gpgbridge/session"
	"github.com/gpgbridge/gpgbridge/statusfd"
)

// ErrProtocolViolation is returned when the engine asks something no
// queued command anticipated. The session is killed before it surfaces;
// a stuck interactive child is pointless and slow to tear down.
var ErrProtocolViolation = errors.New("edit protocol violation")

// menuPrompt is the top-level menu prompt identifier.
const menuPrompt = "keyedit.prompt"

// Result is a command's verdict on one transition.
type Result int

const (
	// Continue keeps the same command active for the next prompt.
	Continue Result = iota
	// Done consumes the command; the prompt was answered.
	Done
	// Next consumes the command without answering the prompt, which is
	// re-offered to the next command or the base handler.
	Next
)

// Command is one composable edit step. At most one command is active at a
// time; the queue is strictly FIFO. A command needing follow-up behavior
// enqueues new commands through the Context instead of mutating itself.
type Command interface {
	// Prompt reacts to an input request from the engine.
	Prompt(ctx *Context, promptID string, inputType statusfd.InputType) (Result, error)
}

// LineHandler is implemented by commands that must parse plain output
// lines, e.g. to correlate a signature listing with the signature the
// caller wants removed.
type LineHandler interface {
	HandleLine(ctx *Context, line string) error
}

// listingSensitive is implemented by commands that must see a listing
// taken after any preceding mutation before they can act.
type listingSensitive interface {
	NeedsFreshListing() bool
}

// hiddenHandler is implemented by commands that answer hidden prompts
// themselves instead of the standard password resolution, e.g. a
// passphrase change that must distinguish the old secret from the new.
type hiddenHandler interface {
	HandlesHidden() bool
}

// repeating is implemented by commands whose dialogue legitimately asks
// the same question once per item, e.g. a per-signature walk.
type repeating interface {
	RepeatsPrompt(promptID string) bool
}

// mutating is implemented by commands whose effect changes the key
// structure, staling the current listing for whoever runs next.
type mutating interface {
	MutatesListing() bool
}

// Context is what a command sees on each transition: the session, the
// queue, and the two listing snapshots.
type Context struct {
	// Original is the listing as of session start; Current the most
	// recent one. Commands that must reason about what was true before
	// any edits (e.g. which user-id was already primary) use Original.
	Original *keylist.Key
	Current  *keylist.Key

	State *session.State

	sess  *session.Session
	queue []Command
}

// Send writes one menu answer to the engine.
func (ctx *Context) Send(text string) error {
	return ctx.sess.SendLine(text)
}

// SendSecret writes a secret answer, zeroing the transmit buffer.
func (ctx *Context) SendSecret(secret []byte) error {
	return ctx.sess.SendPassword(secret)
}

// AnswerHidden runs the base passphrase handling for the current hidden
// prompt (operation password, session default, interactive callback).
func (ctx *Context) AnswerHidden() {
	ctx.sess.AnswerHidden()
}

// Enqueue inserts follow-up commands directly after the active one, ahead
// of everything queued later.
func (ctx *Context) Enqueue(cmds ...Command) {
	// queue[0] is the active command.
	tail := make([]Command, 0, len(ctx.queue)-1+len(cmds))
	tail = append(tail, cmds...)
	tail = append(tail, ctx.queue[1:]...)
	ctx.queue = append(ctx.queue[:1], tail...)
}

// Options configures an edit session.
type Options struct {
	// DefaultPassword is bound to the whole session and tried for every
	// passphrase request after any command-specific secret. The session
	// takes ownership and zeroes it on teardown.
	DefaultPassword []byte
}

// Run edits the key identified by target (fingerprint, key ID or user-id
// pattern), driving the menu with the given command queue. An empty or
// exhausted queue saves and quits.
func Run(e *session.Engine, target string, opts Options, cmds ...Command) error {
	st := session.NewState(opts.DefaultPassword)
	s, err := e.StartInteractive(st,
		"--with-colons", "--fixed-list-mode", "--edit-key", target)
	if err != nil {
		return err
	}
	defer s.Dispose()

	loop := &editLoop{
		ctx:  &Context{State: st, sess: s, queue: cmds},
		sess: s,
	}

	if err := loop.run(); err != nil {
		// Leaving an interactive child attached to a half-answered menu
		// risks an indefinite hang on teardown.
		s.Kill()
		return err
	}

	if err := s.Result(); err != nil {
		return err
	}
	e.InvalidateKeyCache()
	return nil
}

// editLoop holds the per-session loop state outside the Context so
// commands cannot touch it.
type editLoop struct {
	ctx  *Context
	sess *session.Session

	parser       *keylist.Parser // non-nil while a listing is being read
	freshListing bool            // a listing arrived since the head changed

	lastPromptID string
	relisting    bool // a "list" directive is in flight
}

func (l *editLoop) run() error {
	for {
		line, ev, err := l.sess.ReadLine()
		if err == io.EOF {
			l.finishListing()
			return l.queueExhausted()
		}
		if err != nil {
			return err
		}

		if ev == nil {
			l.handleLine(line)
			continue
		}

		req, ok := ev.(*statusfd.InputRequest)
		if !ok {
			// Ordinary status traffic (passphrase bookkeeping, GOT_IT,
			// key-considered noise) is already folded into the state.
			continue
		}

		// A prompt marks the end of whatever listing preceded it.
		l.finishListing()

		if err := l.handlePrompt(req); err != nil {
			return err
		}
	}
}

// handleLine consumes one plain output line: listing records accumulate
// into the pending snapshot, and every line is offered to the active
// command's line handler. Signature walks need the sig records the engine
// re-prints before each confirmation, so listing lines go to both.
func (l *editLoop) handleLine(line string) {
	if line == "" {
		l.finishListing()
		return
	}
	if keylist.IsListingLine(line) {
		if l.parser == nil {
			l.parser = keylist.NewParser()
		}
		l.parser.Feed(line)
		l.offerLine(line)
		return
	}
	l.finishListing()
	l.offerLine(line)
}

func (l *editLoop) offerLine(line string) {
	if len(l.ctx.queue) == 0 {
		return
	}
	if lh, ok := l.ctx.queue[0].(LineHandler); ok {
		if err := lh.HandleLine(l.ctx, line); err != nil {
			session.Logger.Debug("edit line handler failed", "error", err)
		}
	}
}

// queueExhausted checks that the engine did not end the session early: at
// end of stream only a quit command that already issued its directive may
// remain.
func (l *editLoop) queueExhausted() error {
	q := l.ctx.queue
	if len(q) == 0 {
		return nil
	}
	if qc, ok := q[0].(*QuitCommand); ok && qc.sent && len(q) == 1 {
		return nil
	}
	return fmt.Errorf("%w: engine ended the session with %d commands unfinished",
		ErrProtocolViolation, len(q))
}

// finishListing freezes the pending listing, if any, into the snapshots.
func (l *editLoop) finishListing() {
	if l.parser == nil {
		return
	}
	keys := l.parser.Keys()
	l.parser = nil
	if len(keys) == 0 {
		return
	}
	l.ctx.Current = keys[0]
	if l.ctx.Original == nil {
		l.ctx.Original = keys[0]
	}
	l.freshListing = true
}

func (l *editLoop) handlePrompt(req *statusfd.InputRequest) error {
	// The same confirming question, asked again immediately, means the
	// engine rejected the previous answer. Hidden prompts are exempt (a
	// wrong passphrase legitimately re-prompts), as are questions the
	// active command expects once per item.
	if req.PromptID == l.lastPromptID &&
		req.PromptID != menuPrompt && req.Type != statusfd.InputHidden &&
		!l.headRepeats(req.PromptID) {
		return fmt.Errorf("%w: engine re-asked %q, answer was rejected",
			ErrProtocolViolation, req.PromptID)
	}
	l.lastPromptID = req.PromptID

	// Passphrase prompts follow the password rules unless the active
	// command claims them; they never consume a command.
	if req.Type == statusfd.InputHidden {
		if len(l.ctx.queue) > 0 {
			if h, ok := l.ctx.queue[0].(hiddenHandler); ok && h.HandlesHidden() {
				_, err := l.ctx.queue[0].Prompt(l.ctx, req.PromptID, req.Type)
				return err
			}
		}
		l.sess.AnswerHidden()
		return nil
	}

	if req.PromptID == menuPrompt && len(l.ctx.queue) == 0 {
		l.ctx.queue = append(l.ctx.queue, &QuitCommand{Save: true})
		l.freshListing = true // the startup listing serves the quit
	}

	// Offer the prompt along the queue until someone answers it. Every
	// command that becomes active at the menu, including mid-prompt after
	// a predecessor was consumed, must not act on a listing staled by an
	// earlier mutation; ask the engine to re-emit it and retry the prompt.
	for len(l.ctx.queue) > 0 {
		head := l.ctx.queue[0]
		if req.PromptID == menuPrompt {
			if ls, ok := head.(listingSensitive); ok &&
				ls.NeedsFreshListing() && !l.freshListing {
				if l.relisting {
					return fmt.Errorf("%w: listing was not re-emitted after list directive",
						ErrProtocolViolation)
				}
				l.relisting = true
				return l.ctx.Send("list")
			}
			l.relisting = false
		}
		res, err := head.Prompt(l.ctx, req.PromptID, req.Type)
		if err != nil {
			return err
		}
		switch res {
		case Continue:
			return nil
		case Done:
			l.pop(head)
			return nil
		case Next:
			l.pop(head)
		}
	}
	return l.baseAnswer(req)
}

// headRepeats reports whether the active command declares the prompt as
// one it expects repeatedly.
func (l *editLoop) headRepeats(promptID string) bool {
	if len(l.ctx.queue) == 0 {
		return false
	}
	r, ok := l.ctx.queue[0].(repeating)
	return ok && r.RepeatsPrompt(promptID)
}

// pop removes the consumed head command and updates the listing
// bookkeeping for its successor.
func (l *editLoop) pop(head Command) {
	l.ctx.queue = l.ctx.queue[1:]
	if m, ok := head.(mutating); ok && m.MutatesListing() {
		l.freshListing = false
	}
}

// baseAnswer handles prompts no command claimed. An empty queue at the
// menu re-enters handlePrompt with a quit command; anything else means
// the engine asked something no command anticipated.
func (l *editLoop) baseAnswer(req *statusfd.InputRequest) error {
	if req.PromptID == menuPrompt {
		l.ctx.queue = append(l.ctx.queue, &QuitCommand{Save: true})
		return l.handlePrompt(req)
	}
	return fmt.Errorf("%w: unanticipated prompt %q", ErrProtocolViolation, req.PromptID)
}
