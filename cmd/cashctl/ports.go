package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arloliu/go-cashio/link"
	"github.com/arloliu/go-cashio/profile"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List the serial ports of this host",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ports, err := link.ListPorts()
		if err != nil {
			return err
		}

		for _, p := range ports {
			fmt.Fprintln(cmd.OutOrStdout(), p)
		}

		return nil
	},
}

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List the supported peripheral profiles",
	RunE: func(cmd *cobra.Command, _ []string) error {
		for _, name := range profile.Names() {
			p, err := profile.Lookup(name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-8s %-10s %s\n", name, p.Role, p.Serial)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(portsCmd)
	rootCmd.AddCommand(profilesCmd)
}
