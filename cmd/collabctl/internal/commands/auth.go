package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/Laffyyy/collabo-tool-sub001/internal/client"
)

type LoginCmd struct {
	Identifier string `arg:"" help:"Username or email"`
	Password   string `help:"Account password" env:"COLLAB_PASSWORD" required:""`
}

func (l *LoginCmd) Run(ctx context.Context, globals *Globals) error {
	globals.setupLogger()

	store, err := globals.store()
	if err != nil {
		return err
	}

	tokens, err := client.New(globals.Server).Login(ctx, l.Identifier, l.Password)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	if err := store.Save(*tokens); err != nil {
		return err
	}

	log.Info().Str("session_id", tokens.SessionID.String()).Str("file", store.Path()).Msg("logged in")
	fmt.Printf("access_token:  %s\n", tokens.AccessToken)
	fmt.Printf("refresh_token: %s\n", tokens.RefreshToken)
	fmt.Printf("expires_in:    %ds\n", tokens.ExpiresIn)
	return nil
}

type LogoutCmd struct{}

func (l *LogoutCmd) Run(ctx context.Context, globals *Globals) error {
	globals.setupLogger()

	c, save, err := globals.authedClient()
	if err != nil {
		return err
	}
	defer save()

	if err := c.Logout(ctx); err != nil {
		return fmt.Errorf("logout failed: %w", err)
	}
	log.Info().Msg("logged out")
	return nil
}

type SessionCmd struct {
	Extend bool `help:"Extend the session before printing it"`
}

func (s *SessionCmd) Run(ctx context.Context, globals *Globals) error {
	globals.setupLogger()

	c, save, err := globals.authedClient()
	if err != nil {
		return err
	}
	defer save()

	if s.Extend {
		if _, err := c.RefreshSession(ctx); err != nil {
			return fmt.Errorf("failed to extend session: %w", err)
		}
	}

	info, err := c.GetSessionInfo(ctx)
	if err != nil {
		return fmt.Errorf("failed to read session: %w", err)
	}
	fmt.Printf("active:    %t\n", info.IsActive)
	fmt.Printf("expires:   %s\n", info.ExpiresAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Printf("remaining: %s\n", formatRemaining(info.TimeRemaining))
	return nil
}
