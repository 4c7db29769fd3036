package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

// ErrNoPlayer is returned when no audio player could be found.
var ErrNoPlayer = errors.New("no audio player found")

// players are tried in order when no command is configured.
var players = []string{"paplay", "aplay", "afplay", "ffplay"}

const playTimeout = 10 * time.Second

// Sound plays a notification sound through an external player. Playback runs
// in the background; failures are logged and never returned.
type Sound struct {
	file   string
	cmd    string
	args   []string
	logger *slog.Logger

	run func(ctx context.Context, name string, args ...string) error
}

type SoundOption func(*Sound)

// WithPlayer overrides player discovery. The sound file is appended to args.
func WithPlayer(name string, args ...string) SoundOption {
	return func(s *Sound) {
		s.cmd = name
		s.args = args
	}
}

func NewSound(file string, logger *slog.Logger, opts ...SoundOption) *Sound {
	s := &Sound{
		file:   file,
		logger: logger.With("component", "sound"),
		run:    runCommand,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func runCommand(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, out)
	}
	return nil
}

func (s *Sound) player() (string, []string, error) {
	if s.cmd != "" {
		return s.cmd, s.args, nil
	}
	for _, p := range players {
		if _, err := exec.LookPath(p); err == nil {
			if p == "ffplay" {
				return p, []string{"-nodisp", "-autoexit", "-loglevel", "quiet"}, nil
			}
			return p, nil, nil
		}
	}
	return "", nil, ErrNoPlayer
}

func (s *Sound) Alert(_ context.Context, n Notice) error {
	if s.file == "" {
		return nil
	}
	name, args, err := s.player()
	if err != nil {
		s.logger.Warn("play notification sound", "error", err)
		return nil
	}
	args = append(append([]string(nil), args...), s.file)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), playTimeout)
		defer cancel()
		if err := s.run(ctx, name, args...); err != nil {
			s.logger.Warn("play notification sound", "source", n.Source, "error", err)
		}
	}()
	return nil
}
