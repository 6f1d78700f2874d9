package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/arloliu/go-cashio/denom"
	"github.com/arloliu/go-cashio/device"
	"github.com/arloliu/go-cashio/internal/simulator"
	"github.com/arloliu/go-cashio/internal/simulator/model"
	"github.com/arloliu/go-cashio/logger"
	"github.com/arloliu/go-cashio/profile"
)

var (
	autoStack   bool
	insertEvery time.Duration
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Enable a bill validator and print its events",
	Long: `Connect to a bill validator, enable it and print every event until
interrupted. With --auto-stack each bill in escrow is stacked; otherwise it
is returned.`,
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().BoolVar(&autoStack, "auto-stack", false, "stack every bill held in escrow")
	monitorCmd.Flags().DurationVar(&insertEvery, "insert-every", 3*time.Second, "bill insert period of the simulated validator")
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	var demo *model.Validator
	var sim func(*profile.Profile) simulator.Handler
	if simulate {
		sim = func(p *profile.Profile) simulator.Handler {
			demo = model.NewValidator(p, demoTable(p))
			return demo.Handle
		}
	}

	s, err := openSession(ctx, cfg, sim)
	if err != nil {
		return err
	}
	defer s.close()

	if s.engine.Profile().Role != profile.RoleValidator {
		return fmt.Errorf("cashctl: %s is not a bill validator", cfg.Profile)
	}

	var denoms []denom.Denomination
	if t := s.engine.Denominations(); t != nil {
		denoms = t.All()
	}
	for _, d := range denoms {
		fmt.Printf("denomination %d: %s\n", d.Code, d)
	}

	if err := s.engine.Enable(ctx); err != nil {
		return err
	}

	if demo != nil {
		go insertBills(ctx, demo, denoms)
	}

	log := logger.GetLogger()
	for {
		select {
		case <-ctx.Done():
			dctx, dcancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := s.engine.Disable(dctx); err != nil {
				log.Warn("cashctl: disable failed", "error", err)
			}
			dcancel()

			return nil

		case ev, ok := <-s.engine.Events():
			if !ok {
				return nil
			}
			fmt.Printf("%s %s\n", ev.Time.Format(time.RFC3339Nano), ev)

			switch ev.Kind {
			case device.EventBillRead:
				settle(ctx, s)
			case device.EventDisconnected:
				return errors.New("cashctl: validator disconnected")
			default:
			}
		}
	}
}

// settle stacks or returns the bill in escrow.
func settle(ctx context.Context, s *session) {
	var err error
	if autoStack {
		err = s.engine.Stack(ctx)
	} else {
		err = s.engine.Reject(ctx)
	}

	if err != nil {
		logger.GetLogger().Warn("cashctl: escrow command failed", "stack", autoStack, "error", err)
	}
}

func insertBills(ctx context.Context, v *model.Validator, denoms []denom.Denomination) {
	if len(denoms) == 0 {
		return
	}

	t := time.NewTicker(insertEvery)
	defer t.Stop()

	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			v.Insert(byte(denoms[i%len(denoms)].Code)) //nolint:gosec // codes fit a byte
		}
	}
}
