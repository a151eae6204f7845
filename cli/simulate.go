package cli

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/waveline-labs/chatflow/loader"
	"github.com/waveline-labs/chatflow/sim"
)

// NewSimulateCmd creates the "simulate" subcommand.
func NewSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate <file>",
		Short: "Run a flow as an interactive simulated conversation",
		Args:  cobra.ExactArgs(1),
		RunE:  runSimulate,
	}

	cmd.Flags().StringP("trigger", "t", "", "Trigger text that starts the conversation")
	cmd.Flags().Bool("manual", false, "Start at the first start node, ignoring triggers")
	cmd.Flags().Bool("transcript", false, "Print the full session transcript as JSON on completion")
	cmd.Flags().Int("max-hops", 0, "Override the node hop limit (0 = default)")

	return cmd
}

func runSimulate(cmd *cobra.Command, args []string) error {
	filePath := args[0]
	trigger, _ := cmd.Flags().GetString("trigger")
	manual, _ := cmd.Flags().GetBool("manual")
	transcript, _ := cmd.Flags().GetBool("transcript")
	maxHops, _ := cmd.Flags().GetInt("max-hops")
	out := cmd.OutOrStdout()

	f, err := loader.LoadFlow(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return exitError(exitFileNotFound, "file not found: %s", filePath)
		}
		return exitError(exitInputParse, "%v", err)
	}

	mode := sim.TriggerMatch
	if manual {
		mode = sim.TriggerManual
	}
	simulator := sim.New(sim.Config{
		Nodes:   f.Nodes,
		Edges:   f.Edges,
		Mode:    mode,
		MaxHops: maxHops,
	})

	res, err := simulator.Start(trigger)
	if err != nil {
		var valErr *sim.ValidationError
		if errors.As(err, &valErr) {
			printDiagnosticsText(cmd.ErrOrStderr(), valErr.Diagnostics)
			return exitError(exitValidation, "validation failed")
		}
		return exitError(exitRuntime, "starting simulation: %v", err)
	}

	if res.IsComplete && len(res.Messages) == 0 {
		fmt.Fprintf(out, "No start node matched trigger %q.\n", trigger)
		return nil
	}

	printBubbles(out, res.Messages)

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for res.IsWaitingForInput {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out, "\nInput closed; ending simulation.")
			break
		}
		res = simulator.HandleUserInput(scanner.Text(), inputKindFor(simulator.Session().Awaiting))
		printBubbles(out, res.Messages)
	}
	if err := scanner.Err(); err != nil {
		return exitError(exitRuntime, "reading input: %v", err)
	}

	if res.IsComplete {
		fmt.Fprintln(out, "Conversation complete.")
	}

	if transcript {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(simulator.Session()); err != nil {
			return exitError(exitRuntime, "encoding transcript: %v", err)
		}
	}
	return nil
}

// inputKindFor maps what the simulator is waiting on to the input kind a
// typed line represents.
func inputKindFor(awaiting sim.AwaitKind) sim.InputKind {
	switch awaiting {
	case sim.AwaitButton:
		return sim.InputButton
	case sim.AwaitListItem:
		return sim.InputListItem
	default:
		return sim.InputText
	}
}

// printBubbles renders bot messages the way the builder's preview pane
// would: body text plus any header, footer, media, buttons, and list rows.
func printBubbles(w io.Writer, messages []sim.Message) {
	for _, m := range messages {
		if m.Header != "" {
			fmt.Fprintf(w, "[%s]\n", m.Header)
		}
		if m.MediaURL != "" {
			fmt.Fprintf(w, "(%s: %s)\n", m.MediaType, m.MediaURL)
		}
		if m.Text != "" {
			fmt.Fprintln(w, m.Text)
		}
		if m.Footer != "" {
			fmt.Fprintln(w, m.Footer)
		}
		for i, b := range m.Buttons {
			fmt.Fprintf(w, "  [%d] %s\n", i+1, b.Text)
		}
		for i, item := range m.Items {
			if item.Description != "" {
				fmt.Fprintf(w, "  %d. %s - %s\n", i+1, item.Title, item.Description)
			} else {
				fmt.Fprintf(w, "  %d. %s\n", i+1, item.Title)
			}
		}
	}
}
