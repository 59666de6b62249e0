package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Laffyyy/collabo-tool-sub001/internal/client"
)

type Globals struct {
	Server      string
	Credentials string
	Debug       bool
	Version     string
}

func (g *Globals) setupLogger() {
	level := zerolog.InfoLevel
	if g.Debug {
		level = zerolog.DebugLevel
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).With().Timestamp().Logger()
}

func (g *Globals) store() (*TokenStore, error) {
	return NewTokenStore(g.Credentials)
}

// authedClient builds a client from the stored tokens. The returned save
// function persists tokens the client refreshed along the way.
func (g *Globals) authedClient() (*client.Client, func(), error) {
	store, err := g.store()
	if err != nil {
		return nil, nil, err
	}
	tokens, err := store.Load()
	if err != nil {
		return nil, nil, err
	}

	c := client.New(g.Server, client.WithTokens(*tokens))
	save := func() {
		current := c.Tokens()
		if current == *tokens {
			return
		}
		var err error
		if current.AccessToken == "" {
			err = store.Clear()
		} else {
			err = store.Save(current)
		}
		if err != nil {
			log.Warn().Err(err).Msg("failed to persist tokens")
		}
	}
	return c, save, nil
}

func formatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}
