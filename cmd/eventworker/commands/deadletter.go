package commands

import (
	"context"
	"fmt"
	"time"

	"git.home.luguber.info/inful/eventworker/internal/backend"
	"git.home.luguber.info/inful/eventworker/internal/deadletter"
	"git.home.luguber.info/inful/eventworker/internal/foundation/errors"
)

// DeadLetterCmd groups dead-letter maintenance commands.
type DeadLetterCmd struct {
	Replay ReplayCmd `cmd:"" help:"Forward spooled bodies whose dead-letter forward failed"`
}

// ReplayCmd implements 'deadletter replay'.
type ReplayCmd struct {
	Timeout time.Duration `help:"Give up after this long" default:"5m"`
}

func (r *ReplayCmd) Run(g *Global, root *CLI) error {
	cfg, err := g.loadConfig(root.Config)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.Timeout)
	defer cancel()

	set, err := backend.Open(ctx, cfg, backend.ClientName("replay"))
	if err != nil {
		return fmt.Errorf("open backends: %w", err)
	}
	defer func() { _ = set.Close() }()

	if set.Journal == nil {
		return errors.ConfigError("replay needs journal.path to be configured").Build()
	}
	if set.DeadLetter == nil {
		return errors.ConfigError("replay needs queue.dead_letter_subject to be configured").Build()
	}

	n, err := deadletter.Replay(ctx, set.Journal, set.DeadLetter, nil)
	fmt.Printf("replayed %d spooled message(s)\n", n)
	return err
}
