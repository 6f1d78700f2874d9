package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/arloliu/go-cashio/device"
	"github.com/arloliu/go-cashio/internal/simulator"
	"github.com/arloliu/go-cashio/internal/simulator/model"
	"github.com/arloliu/go-cashio/profile"
)

var dispenseCmd = &cobra.Command{
	Use:   "dispense COUNT...",
	Short: "Pay out notes from a bill dispenser",
	Long: `Connect to a bill dispenser and pay out COUNT notes from each cassette,
in cassette order. For example "cashctl dispense 2 0 1" takes two notes from
the first cassette and one from the third.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDispense,
}

func init() {
	rootCmd.AddCommand(dispenseCmd)
}

func runDispense(cmd *cobra.Command, args []string) error {
	counts := make([]int, len(args))
	for i, a := range args {
		n, err := strconv.Atoi(a)
		if err != nil {
			return fmt.Errorf("cashctl: invalid count %q: %w", a, err)
		}
		counts[i] = n
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	var sim func(*profile.Profile) simulator.Handler
	if simulate {
		sim = func(p *profile.Profile) simulator.Handler {
			return model.NewDispenser(p).Handle
		}
	}

	s, err := openSession(ctx, cfg, sim)
	if err != nil {
		return err
	}
	defer s.close()

	slots, err := s.engine.Dispense(ctx, counts)
	for _, r := range slots {
		fmt.Println(r)
	}

	if fault := (*device.DeviceFault)(nil); errors.As(err, &fault) {
		return fmt.Errorf("cashctl: dispense incomplete: %w", fault)
	}

	return err
}
