package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/davecgh/go-spew/spew"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/iley/flint/internal/catchsync"
	"github.com/iley/flint/internal/flow"
	"github.com/iley/flint/internal/opt"
	"github.com/iley/flint/internal/textir"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "flint",
	Short: "Flow-graph redundancy elimination toolkit",
	Long: "Flint runs the redundancy-elimination pipeline (escape analysis, load/store\n" +
		"forwarding, handler-entry synchronization minimization) over flow graphs in\n" +
		"their textual form.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			log.SetLevel(log.DebugLevel)
		}
	},
}

var optCmd = &cobra.Command{
	Use:   "opt <file.flow>",
	Short: "Optimize a flow graph and print the result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := loadGraph(args[0])
		if err != nil {
			return err
		}
		if err := opt.Run(g); err != nil {
			return err
		}
		fmt.Print(textir.Print(g))
		return nil
	},
}

var dumpCmd = &cobra.Command{
	Use:   "dump <file.flow>",
	Short: "Print a flow graph with its dominator tree and analysis results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := loadGraph(args[0])
		if err != nil {
			return err
		}
		flow.BuildDomTree(g)
		if err := verifyGraph(g); err != nil {
			return err
		}

		fmt.Print(textir.Print(g))
		fmt.Println()
		for _, b := range g.Blocks {
			if idom := b.Idom(); idom != nil {
				fmt.Printf("idom(%s) = %s\n", b, idom)
			}
		}
		for _, entry := range g.CatchEntries() {
			names := catchsync.Synchronized(g, entry)
			fmt.Printf("synchronized(%s) = %s\n", entry, strings.Join(names, ", "))
		}
		if verbose {
			spew.Fdump(os.Stderr, g.Blocks)
		}
		return nil
	},
}

// verifyGraph turns a verifier abort into a returned error so a bad input
// file cannot take the process down.
func verifyGraph(g *flow.Graph) (err error) {
	defer func() {
		if r := recover(); r != nil {
			fatal, ok := r.(*flow.FatalError)
			if !ok {
				panic(r)
			}
			err = fatal
		}
	}()
	flow.Verify(g)
	return nil
}

func loadGraph(path string) (*flow.Graph, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	g, err := textir.Parse(string(src))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(optCmd)
	rootCmd.AddCommand(dumpCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
