package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/arloliu/go-cashio/config"
	"github.com/arloliu/go-cashio/engine"
	"github.com/arloliu/go-cashio/internal/simulator"
	"github.com/arloliu/go-cashio/journal"
	"github.com/arloliu/go-cashio/link"
	"github.com/arloliu/go-cashio/logger"
	"github.com/arloliu/go-cashio/profile"
)

var errNoPort = errors.New("cashctl: no port given, use --port or the config file")

// session is a connected engine with its journal and simulated device.
type session struct {
	engine  *engine.Engine
	journal *journal.StreamWriter
	device  *simulator.Device
}

// openSession creates and connects the engine described by cfg. sim, when
// set, gives the simulated device that answers in place of the port.
func openSession(ctx context.Context, cfg *config.Config, sim func(*profile.Profile) simulator.Handler) (*session, error) {
	p, err := cfg.LookupProfile()
	if err != nil {
		return nil, err
	}

	s := &session{}
	opts := append(cfg.EngineOptions(p), engine.WithLogger(logger.GetLogger()))

	if cfg.Journal != "" {
		if s.journal, err = journal.OpenFile(cfg.Journal); err != nil {
			return nil, err
		}
		opts = append(opts, engine.WithJournal(s.journal))
	}

	address := cfg.Port
	if sim != nil {
		host, dev := simulator.Pipe()
		s.device = simulator.NewDevice(dev, &p.Format, sim(p))
		s.device.Start()

		address = "simulator"
		opts = append(opts, engine.WithPortOpener(func(string, link.SerialConfig) (link.Port, error) {
			return host, nil
		}))
	}

	if s.engine, err = engine.New(p, opts...); err != nil {
		s.close()
		return nil, err
	}

	if err := s.engine.Connect(ctx, address); err != nil {
		s.close()
		return nil, err
	}

	fmt.Printf("connected %s on %s, state %s\n", p.Name, address, s.engine.State())

	return s, nil
}

func (s *session) close() {
	if s.engine != nil {
		_ = s.engine.Close()
	}
	if s.device != nil {
		s.device.Stop()
	}
	if s.journal != nil {
		_ = s.journal.Close()
	}
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
