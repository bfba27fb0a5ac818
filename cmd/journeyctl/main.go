// Command journeyctl checks journey definition files before they are
// published to AppConfig or activated through the API.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"

	"journey-engine/internal/config"
	"journey-engine/internal/graph"
)

func main() {
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 2 {
		usage()
		os.Exit(2)
	}
	if err := run(os.Stdout, flag.Arg(0), flag.Arg(1)); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s validate|describe <journey.yaml>\n", os.Args[0])
	flag.PrintDefaults()
}

func run(w io.Writer, command, path string) error {
	def, err := config.LoadJourneyFile(path)
	if err != nil {
		return err
	}

	g, buildErr := def.Build(0)

	switch command {
	case "validate":
		if buildErr != nil {
			printViolations(w, buildErr)
			return fmt.Errorf("journey %q is invalid", def.Journey.ID)
		}
		color.New(color.FgGreen).Fprintf(w, "journey %q is valid (%d nodes, %d edges)\n", def.Journey.ID, len(g.Nodes()), len(g.Edges()))
		return nil
	case "describe":
		if buildErr != nil {
			printViolations(w, buildErr)
			return fmt.Errorf("journey %q is invalid", def.Journey.ID)
		}
		describe(w, def, g)
		return nil
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

// printViolations lists each joined error on its own line.
func printViolations(w io.Writer, err error) {
	red := color.New(color.FgRed)
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		for _, e := range joined.Unwrap() {
			red.Fprintf(w, "  - %v\n", e)
		}
		return
	}
	red.Fprintf(w, "  - %v\n", err)
}

func describe(w io.Writer, def *config.JourneyDefinition, g *graph.Graph) {
	cyan := color.New(color.FgCyan)
	cyan.Fprintf(w, "Journey: %s\n", def.Journey.ID)
	if def.Journey.Name != "" {
		fmt.Fprintf(w, "Name: %s\n", def.Journey.Name)
	}
	if def.Journey.Description != "" {
		fmt.Fprintf(w, "Description: %s\n", def.Journey.Description)
	}
	fmt.Fprintf(w, "Entry: %s\n\n", g.EntryNode())

	edges := make(map[string][]graph.Edge)
	for _, e := range g.Edges() {
		edges[e.Source] = append(edges[e.Source], e)
	}

	bold := color.New(color.Bold)
	for _, n := range g.Nodes() {
		bold.Fprintf(w, "%s", n.ID)
		fmt.Fprintf(w, " [%s]\n", n.Kind())
		for _, e := range edges[n.ID] {
			if e.BranchID != "" {
				fmt.Fprintf(w, "  --%s--> %s\n", e.BranchID, e.Target)
			} else {
				fmt.Fprintf(w, "  --> %s\n", e.Target)
			}
		}
	}
}
