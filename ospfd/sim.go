package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/davidbalbert/ospfsync/config"
	"github.com/davidbalbert/ospfsync/ospf"
	"github.com/davidbalbert/ospfsync/sched"
)

var (
	simDuration time.Duration
	simTrace    bool
)

var errNotSynchronized = errors.New("databases did not synchronize")

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "Run the topology in simulated time and print the neighbor table",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := config.Load(configPath)
		if err != nil {
			return err
		}

		if simDuration > 0 {
			conf.Duration = simDuration
		}

		log, closeLog, err := newLogger(conf.LogLevel, conf.LogFile, true)
		if err != nil {
			return err
		}
		defer closeLog()

		return simulate(cmd.OutOrStdout(), conf, log, simTrace)
	},
}

func init() {
	simCmd.Flags().DurationVarP(&simDuration, "duration", "d", 0, "how much simulated time to run for (overrides the topology file)")
	simCmd.Flags().BoolVarP(&simTrace, "trace", "t", false, "log every neighbor and database event")
	rootCmd.AddCommand(simCmd)
}

// simulate runs every router on one simulated clock until the network is
// synchronized or conf.Duration passes.
func simulate(w io.Writer, conf *config.Config, log *slog.Logger, trace bool) error {
	s := sched.NewSim()

	var opts []ospf.Option
	if trace {
		opts = append(opts, ospf.WithEventSender(&eventLogger{log}))
	}

	n, err := buildNetwork(conf, func(string) sched.Scheduler { return s }, log, opts...)
	if err != nil {
		return err
	}

	n.start()
	ok := s.RunUntil(n.synchronized, conf.Duration)

	if ok {
		fmt.Fprintf(w, "synchronized after %v\n\n", s.Now())
	} else {
		fmt.Fprintf(w, "not synchronized after %v\n\n", s.Now())
	}

	printNeighbors(w, n)
	fmt.Fprintln(w)
	printDatabases(w, n)

	stats := n.net.Stats()
	fmt.Fprintf(w, "\npackets: %d sent, %d delivered, %d dropped\n", stats.Sent, stats.Delivered, stats.Dropped)

	if !ok {
		return errNotSynchronized
	}

	return nil
}

func printNeighbors(w io.Writer, n *network) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ROUTER\tINTERFACE\tNEIGHBOR\tADDRESS\tSTATE\tROLE\tREQ\tRXMT")

	for _, name := range n.conf.RouterNames() {
		for _, st := range n.routers[name].NeighborStatuses() {
			fmt.Fprintf(tw, "%s\t%s\t%v\t%v\t%s\t%s\t%d\t%d\n", name, st.Interface, st.ID, st.Addr, st.State, st.Role, st.RequestList, st.RetransmissionList)
		}
	}

	tw.Flush()
}

func printDatabases(w io.Writer, n *network) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ROUTER\tAREA\tTYPE\tID\tADV ROUTER\tSEQ\tAGE")

	for _, name := range n.conf.RouterNames() {
		for _, a := range n.routers[name].Areas() {
			for _, h := range a.Headers() {
				fmt.Fprintf(tw, "%s\t%v\t%v\t%v\t%v\t0x%08x\t%d\n", name, a.ID, h.Type, h.ID, h.AdvertisingRouter, uint32(h.SequenceNumber), h.Age)
			}
		}
	}

	tw.Flush()
}
