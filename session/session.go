// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 gpgbridge Authors

// Package session owns the child process of a GnuPG-compatible engine: its
// three pipes plus the dedicated status/command channel, the background
// readers draining them, per-invocation failure-state accumulation, and
// the operation surface built on top (encrypt, decrypt, sign, verify,
// import, export, key generation, keyserver operations).
package session

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/gpgbridge/gpgbridge/internal/passcmd"
	"github.com/gpgbridge/gpgbridge/internal/secmem"
	"github.com/gpgbridge/gpgbridge/keylist"
	"github.com/gpgbridge/gpgbridge/statusfd"
)

// Engine is the caller-facing entry point. One Engine may run any number
// of sequential operations; each operation spawns its own child process
// and shares nothing with concurrent sessions.
type Engine struct {
	cfg Config

	// Password supplies passphrases interactively. Assign before running
	// operations; nil means passphrase requests beyond the supplied and
	// default passwords are declined.
	Password PasswordCallback

	// OnBadPassword is invoked when the engine rejects a passphrase,
	// unless the session was already cancelled by the user.
	OnBadPassword func(keyID string)

	// OnDiagnostic receives the child's stderr lines as they arrive.
	OnDiagnostic func(line string)

	mu         sync.Mutex
	cachedKeys []*keylist.Key
	watcher    *keyringWatcher
}

// New builds an Engine from cfg. When the configuration names a passphrase
// command, it becomes the Password callback; when memory protection is
// required, construction fails if the process cannot be hardened.
func New(cfg Config) (*Engine, error) {
	if cfg.Binary == "" {
		cfg.Binary = DefaultConfig().Binary
	}

	if cfg.RequireMemoryProtection {
		if err := secmem.LockMemory(); err != nil {
			return nil, err
		}
		if err := secmem.DisableCoreDumps(); err != nil {
			return nil, err
		}
	}

	e := &Engine{cfg: cfg}

	if len(cfg.PassphraseCommandArgv) > 0 {
		pc := &passcmd.Config{Argv: cfg.PassphraseCommandArgv, Env: cfg.PassphraseCommandEnv}
		if err := passcmd.Validate(pc); err != nil {
			return nil, err
		}
		e.Password = PassphraseCommandCallback(cfg.PassphraseCommandArgv, cfg.PassphraseCommandEnv)
	}

	if cfg.WatchKeyring {
		w, err := newKeyringWatcher(e)
		if err != nil {
			return nil, err
		}
		e.watcher = w
	}

	return e, nil
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Close releases engine-level resources (the keyring watcher).
func (e *Engine) Close() error {
	if e.watcher != nil {
		return e.watcher.close()
	}
	return nil
}

// Child descriptor numbers for the dedicated channels. ExtraFiles places
// its first entry at descriptor 3.
const (
	statusChildFD  = 3
	commandChildFD = 4
)

// Session is one running child process. Exactly one operation uses a
// Session; it is disposed when the operation finishes, on every path.
type Session struct {
	cmd   *exec.Cmd
	state *State

	stdin  io.WriteCloser
	stdout io.ReadCloser

	// Dedicated channels; nil in interactive mode, where status is mixed
	// into stdout and commands go to stdin.
	statusR  *os.File
	commandW *os.File

	framer      *statusfd.Framer // interactive: wraps stdout
	interactive bool

	// onEvent sees every decoded status event (dedicated mode only).
	// onInput overrides the default prompt handling. Both are fixed at
	// spawn time; the status reader starts with them already in place.
	onEvent func(statusfd.Event)
	onInput func(*Session, *statusfd.InputRequest) bool

	// supplied is the operation-provided passphrase, tried first.
	supplied []byte

	password      PasswordCallback
	onBadPassword func(keyID string)

	readers  sync.WaitGroup
	waitOnce sync.Once
	exitCode int
	waitErr  error

	disposeOnce sync.Once
}

// Handlers are the per-session callbacks and the operation-supplied
// passphrase. They are bound before the child starts, so the status
// reader cannot observe an event ahead of their registration.
type Handlers struct {
	// OnEvent sees every decoded status event (dedicated mode only).
	OnEvent func(statusfd.Event)
	// OnInput may answer a prompt itself; returning false falls through
	// to the default handling.
	OnInput func(s *Session, req *statusfd.InputRequest) bool
	// Password is the operation-provided passphrase, tried before the
	// session default and the interactive callback.
	Password []byte
}

// Start spawns the engine with the always-on channel flags plus args, in
// dedicated-channel mode: status on its own descriptor with a background
// reader, commands on a second one. Callers must Dispose the session.
func (e *Engine) Start(state *State, h Handlers, args ...string) (*Session, error) {
	return e.spawn(state, false, h, args)
}

// StartInteractive spawns the engine with status multiplexed onto stdout
// and commands on stdin, for the prompt-response operations (keyserver
// search, key editing). The caller drives the session with ReadLine.
func (e *Engine) StartInteractive(state *State, args ...string) (*Session, error) {
	return e.spawn(state, true, Handlers{}, args)
}

func (e *Engine) spawn(state *State, interactive bool, h Handlers, args []string) (*Session, error) {
	if state == nil {
		state = NewState(nil)
	}

	argv := []string{"--no-tty"}
	if e.cfg.HomeDir != "" {
		argv = append(argv, "--homedir", e.cfg.HomeDir)
	}
	if interactive {
		argv = append(argv, "--status-fd", "1", "--command-fd", "0")
	} else {
		argv = append(argv,
			"--status-fd", fmt.Sprint(statusChildFD),
			"--command-fd", fmt.Sprint(commandChildFD))
	}
	argv = append(argv, e.cfg.ExtraArgs...)
	argv = append(argv, args...)

	cmd := exec.Command(e.cfg.Binary, argv...)
	Logger.Debug("spawning engine", "binary", e.cfg.Binary, "args", argv)

	s := &Session{
		cmd:           cmd,
		state:         state,
		interactive:   interactive,
		onEvent:       h.OnEvent,
		onInput:       h.OnInput,
		supplied:      h.Password,
		password:      e.Password,
		onBadPassword: e.OnBadPassword,
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	s.stdin = stdin

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	s.stdout = stdout

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	// The write end of the status pipe and the read end of the command
	// pipe are handed to the child; the parent closes its copies after
	// Start so the readers see EOF when the child exits.
	var childFiles []*os.File
	if !interactive {
		statusR, statusW, err := os.Pipe()
		if err != nil {
			return nil, fmt.Errorf("failed to create status pipe: %w", err)
		}
		commandR, commandW, err := os.Pipe()
		if err != nil {
			statusR.Close()
			statusW.Close()
			return nil, fmt.Errorf("failed to create command pipe: %w", err)
		}
		s.statusR = statusR
		s.commandW = commandW
		childFiles = []*os.File{statusW, commandR}
		cmd.ExtraFiles = childFiles
	}

	if err := cmd.Start(); err != nil {
		s.closePipes()
		for _, f := range childFiles {
			f.Close()
		}
		return nil, fmt.Errorf("failed to start engine: %w", err)
	}
	for _, f := range childFiles {
		f.Close()
	}

	s.readers.Add(1)
	go s.drainDiagnostics(stderr, e.OnDiagnostic)

	if interactive {
		s.framer = statusfd.NewFramer(stdout, statusfd.Mixed)
	} else {
		s.readers.Add(1)
		go s.drainStatus()
	}

	return s, nil
}

// State returns the session's failure-state accumulator.
func (s *Session) State() *State { return s.state }

// Stdin returns the child's standard input for payload bytes.
func (s *Session) Stdin() io.WriteCloser { return s.stdin }

// Stdout returns the child's standard output for payload bytes.
// Dedicated mode only; interactive sessions read through ReadLine.
func (s *Session) Stdout() io.Reader { return s.stdout }

// drainDiagnostics reads stderr line by line for the process lifetime.
// It never propagates errors into the caller's goroutine.
func (s *Session) drainDiagnostics(stderr io.Reader, handler func(string)) {
	defer s.readers.Done()
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), 64*1024)
	for scanner.Scan() {
		line := scanner.Text()
		Logger.Debug("engine diagnostic", "line", line)
		s.state.classifyDiagnostic(line)
		if handler != nil {
			handler(line)
		}
	}
}

// drainStatus reads the dedicated status channel for the process lifetime,
// folding events into the state and dispatching them.
func (s *Session) drainStatus() {
	defer s.readers.Done()
	framer := statusfd.NewFramer(s.statusR, statusfd.StatusOnly)
	defer framer.ZeroBuffers()
	for {
		_, ev, err := framer.ReadLine()
		if err != nil {
			if err != io.EOF {
				Logger.Debug("status channel read failed", "error", err)
			}
			return
		}
		if ev == nil {
			continue
		}
		s.dispatch(ev)
	}
}

// dispatch routes one status event: state accumulation, the bad-passphrase
// callback, the special-cased input requests, then the generic handler.
func (s *Session) dispatch(ev statusfd.Event) {
	s.state.Observe(ev)

	switch e := ev.(type) {
	case *statusfd.BadPassphrase:
		// Re-arm the attempt order so the next prompt can try again with
		// fresh input. The recorded failure flag stays.
		s.state.retryPassword()
		if s.onBadPassword != nil && !s.state.Cancelled() {
			s.onBadPassword(e.KeyID)
		}
	case *statusfd.InputRequest:
		// Responding needs synchronous knowledge of what was asked; the
		// child produces nothing further until the answer is written.
		if s.onInput != nil && s.onInput(s, e) {
			return
		}
		s.answerInput(e)
		return
	}

	if s.onEvent != nil {
		s.onEvent(ev)
	}
}

// answerInput is the base prompt handler: passphrase prompts follow the
// password attempt order, anything else gets an empty answer so the child
// can fail specifically instead of hanging.
func (s *Session) answerInput(req *statusfd.InputRequest) {
	if req.Type == statusfd.InputHidden {
		s.answerHidden()
		return
	}
	Logger.Debug("unanswered prompt", "prompt", req.PromptID, "type", req.Type.String())
	if err := s.SendLine(""); err != nil {
		Logger.Debug("prompt answer failed", "error", err)
	}
}

// answerHidden resolves and submits a passphrase. A declined request sends
// an empty response and marks the session cancelled; the child may still
// report a clean, specific failure afterwards.
func (s *Session) answerHidden() {
	pw, ok := s.state.nextPassword(s.supplied, s.password)
	if !ok {
		s.state.Cancel()
		if err := s.SendPassword(nil); err != nil {
			Logger.Debug("empty passphrase answer failed", "error", err)
		}
		return
	}
	if err := s.SendPassword(pw); err != nil {
		Logger.Debug("passphrase answer failed", "error", err)
	}
	secmem.Zero(pw)
}

// AnswerHidden runs the base passphrase handling for a hidden prompt.
// Exposed for interactive drivers that own the prompt loop.
func (s *Session) AnswerHidden() { s.answerHidden() }

// ReadLine returns the next plain line or status event from an interactive
// session. Events are already folded into the session state.
func (s *Session) ReadLine() (text string, ev statusfd.Event, err error) {
	if !s.interactive {
		return "", nil, errors.New("session is not interactive")
	}
	text, ev, err = s.framer.ReadLine()
	if err != nil {
		return "", nil, err
	}
	if ev != nil {
		s.state.Observe(ev)
		if bp, ok := ev.(*statusfd.BadPassphrase); ok {
			s.state.retryPassword()
			if s.onBadPassword != nil && !s.state.Cancelled() {
				s.onBadPassword(bp.KeyID)
			}
		}
	} else {
		Logger.Debug("engine line", "line", text)
	}
	return text, ev, nil
}

// commandWriter is wherever prompt answers go: the dedicated command
// channel, or stdin in interactive mode.
func (s *Session) commandWriter() io.Writer {
	if s.interactive || s.commandW == nil {
		return s.stdin
	}
	return s.commandW
}

// SendLine writes one line to the command channel.
func (s *Session) SendLine(text string) error {
	_, err := io.WriteString(s.commandWriter(), text+"\n")
	if err != nil {
		return fmt.Errorf("failed to write command: %w", err)
	}
	return nil
}

// SendPassword writes a secret followed by a newline, zeroing the combined
// buffer afterwards. A nil secret sends an empty line.
func (s *Session) SendPassword(secret []byte) error {
	buf := make([]byte, 0, len(secret)+1)
	buf = append(buf, secret...)
	buf = append(buf, '\n')
	_, err := s.commandWriter().Write(buf)
	secmem.Zero(buf)
	if err != nil {
		return fmt.Errorf("failed to write passphrase: %w", err)
	}
	return nil
}

// CloseInput closes the child's stdin so it can finish and flush output.
func (s *Session) CloseInput() error {
	return s.stdin.Close()
}

// Kill terminates the child immediately. Killing an already-exited child
// is not an error.
func (s *Session) Kill() {
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
}

// WaitForExit blocks until the child has exited and every background
// reader has observed end-of-stream, then returns the exit code.
func (s *Session) WaitForExit() (int, error) {
	s.waitOnce.Do(func() {
		s.readers.Wait()
		err := s.cmd.Wait()
		if err == nil {
			s.exitCode = 0
			return
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			s.exitCode = exitErr.ExitCode()
			return
		}
		s.waitErr = err
	})
	return s.exitCode, s.waitErr
}

// Result waits for the child and folds the exit code together with the
// accumulated failure flags. Exit code 0 is success and 1 is
// success-with-warnings; anything else is a classified OperationError.
func (s *Session) Result() error {
	code, err := s.WaitForExit()
	if err != nil {
		return fmt.Errorf("engine wait failed: %w", err)
	}
	if code == 0 || code == 1 {
		return nil
	}
	return &OperationError{ExitCode: code, Reasons: s.state.Reasons()}
}

// Dispose kills the child if still running, closes every pipe, and zeroes
// all buffers that may have held secret material. Safe to call more than
// once and on any path, including after a clean WaitForExit.
func (s *Session) Dispose() {
	s.disposeOnce.Do(func() {
		s.Kill()
		s.closePipes()
		_, _ = s.WaitForExit()
		if s.framer != nil {
			s.framer.ZeroBuffers()
		}
		s.state.Dispose()
		secmem.Zero(s.supplied)
	})
}

func (s *Session) closePipes() {
	if s.stdin != nil {
		_ = s.stdin.Close()
	}
	if s.commandW != nil {
		_ = s.commandW.Close()
	}
	if s.statusR != nil {
		_ = s.statusR.Close()
	}
}
