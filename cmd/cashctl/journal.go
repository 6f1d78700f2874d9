package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/arloliu/go-cashio/device"
	"github.com/arloliu/go-cashio/journal"
)

var (
	journalConn   string
	journalFamily string
	journalKinds  []string
	journalSince  string
	journalUntil  string
)

var journalCmd = &cobra.Command{
	Use:   "journal FILE",
	Short: "Print the records of an event journal",
	Long: `Read a CBOR event journal and print the records that match the
filters. --since and --until take RFC 3339 times; --until is exclusive.`,
	Args: cobra.ExactArgs(1),
	RunE: runJournal,
}

func init() {
	journalCmd.Flags().StringVar(&journalConn, "conn", "", "only records of this connection id")
	journalCmd.Flags().StringVar(&journalFamily, "family", "", "only records of this peripheral family")
	journalCmd.Flags().StringSliceVar(&journalKinds, "kind", nil, "only records of these event kinds")
	journalCmd.Flags().StringVar(&journalSince, "since", "", "only records at or after this time")
	journalCmd.Flags().StringVar(&journalUntil, "until", "", "only records before this time")
	rootCmd.AddCommand(journalCmd)
}

func runJournal(cmd *cobra.Command, args []string) error {
	filter, err := journalFilter()
	if err != nil {
		return err
	}

	r, err := journal.Open(args[0], filter)
	if err != nil {
		return err
	}
	defer r.Close()

	out := cmd.OutOrStdout()
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		fmt.Fprintln(out, rec)
	}
}

func journalFilter() (journal.Filter, error) {
	f := journal.Filter{
		ConnectionID: journalConn,
		Family:       journalFamily,
	}

	for _, k := range journalKinds {
		if _, err := device.ParseEventKind(k); err != nil {
			return f, err
		}
		f.Kinds = append(f.Kinds, k)
	}

	var err error
	if f.TimeStart, err = parseTime("since", journalSince); err != nil {
		return f, err
	}
	if f.TimeEnd, err = parseTime("until", journalUntil); err != nil {
		return f, err
	}

	return f, nil
}

func parseTime(flag, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil //nolint:nilnil // unset bound
	}

	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("cashctl: invalid --%s: %w", flag, err)
	}

	return &t, nil
}
