// scquery asks a running engine for its status, version or node tree.
//
//	scquery [flags] [--log-format console|json|yaml] [-v] status|version|sync|tree [group]
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"syscall"

	"github.com/outofforest/logger"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/chabad360/go-supercollider/osc"
	"github.com/chabad360/go-supercollider/supercollider"
)

func main() {
	log := logger.New(logger.ConfigureWithCLI(logger.DefaultConfig))
	ctx, cancel := signal.NotifyContext(logger.WithLogger(context.Background(), log), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		log.Error("scquery failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	flags := pflag.NewFlagSet("scquery", pflag.ContinueOnError)
	configPath := flags.String("config", "", "YAML file with session settings")
	host := flags.String("host", "", "engine host")
	port := flags.Int("port", 0, "engine port")
	transport := flags.String("transport", "", "udp or tcp")
	framing := flags.String("framing", "", "length or slip, tcp only")
	timeout := flags.Duration("timeout", 0, "reply timeout")
	controls := flags.Bool("controls", false, "include synth controls in tree output")
	// Accepted here, applied by the logger in main.
	logger.AddFlags(logger.DefaultConfig, flags)
	if err := flags.Parse(args); err != nil {
		return errors.WithStack(err)
	}

	config := supercollider.DefaultConfig()
	if *configPath != "" {
		var err error
		if config, err = supercollider.LoadConfig(*configPath); err != nil {
			return err
		}
	}
	if *host != "" {
		config.Host = *host
	}
	if *port != 0 {
		config.Port = *port
	}
	if *transport != "" {
		config.Transport = *transport
	}
	if *framing != "" {
		config.Framing = osc.Framing(*framing)
	}
	if *timeout != 0 {
		config.Timeout = *timeout
	}

	cmd := flags.Args()
	if len(cmd) == 0 {
		return errors.New("missing command, one of status, version, sync, tree")
	}

	s, err := supercollider.Dial(ctx, config)
	if err != nil {
		return err
	}
	defer s.Close()

	switch cmd[0] {
	case "status":
		st, err := s.Status(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "ugens %d\nsynths %d\ngroups %d\nsynthdefs %d\ncpu %.2f%% avg %.2f%% peak\nsample rate %.2f (%.0f nominal)\n",
			st.UGens, st.Synths, st.Groups, st.SynthDefs, st.CPUAverage, st.CPUPeak,
			st.SampleRateActual, st.SampleRateNominal)
	case "version":
		v, err := s.Version(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s (%s %s)\n", v, v.Branch, v.CommitHash)
	case "sync":
		if err := s.Sync(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "synced")
	case "tree":
		var group int64
		if len(cmd) > 1 {
			if group, err = strconv.ParseInt(cmd[1], 10, 32); err != nil {
				return errors.Wrapf(err, "invalid group %q", cmd[1])
			}
		}
		tree, err := s.QueryTree(ctx, supercollider.NodeByID(int32(group)), *controls)
		if err != nil {
			return err
		}
		printTree(out, tree, 0)
	default:
		return errors.Errorf("unknown command %q", cmd[0])
	}
	return nil
}

func printTree(out io.Writer, n *supercollider.TreeNode, depth int) {
	indent := strings.Repeat("   ", depth)
	if n.Group {
		fmt.Fprintf(out, "%s%d group\n", indent, n.ID)
		for _, c := range n.Children {
			printTree(out, c, depth+1)
		}
		return
	}

	fmt.Fprintf(out, "%s%d %s\n", indent, n.ID, n.SynthDef)
	names := make([]string, 0, len(n.Controls))
	for name := range n.Controls {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		fmt.Fprintf(out, "%s   %s: %v\n", indent, name, n.Controls[name])
	}
}
