package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"git.home.luguber.info/inful/eventworker/internal/backend"
	"git.home.luguber.info/inful/eventworker/internal/foundation/errors"
	"git.home.luguber.info/inful/eventworker/internal/journal"
)

// StatusCmd implements the 'status' command.
type StatusCmd struct {
	EventID string `arg:"" name:"event-id" help:"Event id returned at submission"`
	History bool   `help:"Also print the lifecycle journal for the event"`
}

type statusOutput struct {
	Record  any             `json:"record"`
	History []journal.Entry `json:"history,omitempty"`
}

func (s *StatusCmd) Run(g *Global, root *CLI) error {
	cfg, err := g.loadConfig(root.Config)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	set, err := backend.Open(ctx, cfg, backend.ClientName("status"))
	if err != nil {
		return fmt.Errorf("open backends: %w", err)
	}
	defer func() { _ = set.Close() }()

	rec, err := set.Status.Get(ctx, s.EventID)
	if err != nil {
		return err
	}
	out := statusOutput{Record: rec}
	if s.History {
		if set.Journal == nil {
			return errors.ConfigError("--history needs journal.path to be configured").Build()
		}
		if out.History, err = set.Journal.ByEvent(ctx, s.EventID); err != nil {
			return err
		}
	}
	return writeJSON(os.Stdout, out)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
