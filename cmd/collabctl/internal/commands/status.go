package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"github.com/Laffyyy/collabo-tool-sub001/internal/models"
)

type StatusCmd struct {
	Get  StatusGetCmd  `cmd:"" help:"Show the effective status of a user (default: yourself)"`
	Set  StatusSetCmd  `cmd:"" help:"Set your status (online, away, idle, offline)"`
	List StatusListCmd `cmd:"" help:"List the presence directory"`
}

type StatusGetCmd struct {
	UserID string `arg:"" optional:"" help:"User ID"`
}

func (s *StatusGetCmd) Run(ctx context.Context, globals *Globals) error {
	globals.setupLogger()

	c, save, err := globals.authedClient()
	if err != nil {
		return err
	}
	defer save()

	var p *models.UserPresence
	if s.UserID == "" {
		p, err = c.MyPresence(ctx)
	} else {
		id, perr := uuid.Parse(s.UserID)
		if perr != nil {
			return fmt.Errorf("invalid user id %q: %w", s.UserID, perr)
		}
		p, err = c.Presence(ctx, id)
	}
	if err != nil {
		return err
	}

	printPresence(os.Stdout, time.Now(), []models.UserPresence{*p})
	return nil
}

type StatusSetCmd struct {
	Status string `arg:"" enum:"online,away,idle,offline" help:"New status"`
}

func (s *StatusSetCmd) Run(ctx context.Context, globals *Globals) error {
	globals.setupLogger()

	c, save, err := globals.authedClient()
	if err != nil {
		return err
	}
	defer save()

	p, err := c.SetStatus(ctx, s.Status)
	if err != nil {
		return err
	}
	printPresence(os.Stdout, time.Now(), []models.UserPresence{*p})
	return nil
}

type StatusListCmd struct{}

func (s *StatusListCmd) Run(ctx context.Context, globals *Globals) error {
	globals.setupLogger()

	c, save, err := globals.authedClient()
	if err != nil {
		return err
	}
	defer save()

	users, err := c.ListPresence(ctx)
	if err != nil {
		return err
	}
	printPresence(os.Stdout, time.Now(), users)
	return nil
}

func printPresence(out io.Writer, now time.Time, users []models.UserPresence) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "USER ID\tUSERNAME\tSTATUS\tLAST ACTIVE")
	for _, u := range users {
		last := "never"
		if u.LastActivityAt != nil {
			last = now.Sub(*u.LastActivityAt).Round(time.Second).String() + " ago"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", u.UserID, u.Username, u.Status, last)
	}
	w.Flush()
}
