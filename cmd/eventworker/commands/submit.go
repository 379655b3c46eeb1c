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
	"git.home.luguber.info/inful/eventworker/internal/ingest"
)

// SubmitCmd implements the 'submit' command.
type SubmitCmd struct {
	Type     string        `arg:"" name:"event-type" help:"Event type, e.g. data_transformation"`
	Payload  string        `arg:"" optional:"" help:"JSON object payload; '-' reads stdin" default:"{}"`
	Priority *int          `short:"p" help:"Priority (default 5)"`
	Timeout  time.Duration `help:"Give up after this long" default:"30s"`
}

func (s *SubmitCmd) Run(g *Global, root *CLI) error {
	cfg, err := g.loadConfig(root.Config)
	if err != nil {
		return err
	}

	payload := []byte(s.Payload)
	if s.Payload == "-" {
		if payload, err = io.ReadAll(os.Stdin); err != nil {
			return errors.WrapError(err, errors.CategoryValidation, "read payload from stdin").Build()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
	defer cancel()

	set, err := backend.Open(ctx, cfg, backend.ClientName("submit"))
	if err != nil {
		return fmt.Errorf("open backends: %w", err)
	}
	defer func() { _ = set.Close() }()

	ev, err := ingest.New(set.Queue, set.Status).Submit(ctx, ingest.Request{
		EventType: s.Type,
		Payload:   json.RawMessage(payload),
		Priority:  s.Priority,
	})
	if err != nil {
		return err
	}
	fmt.Println(ev.ID)
	return nil
}
