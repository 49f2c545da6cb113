package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/braidhq/braid/internal/conflict"
	"github.com/braidhq/braid/internal/connector"
	"github.com/braidhq/braid/internal/daemon"
	"github.com/braidhq/braid/internal/repo"
)

var flagSuggest bool

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve pending sync conflicts interactively",
	Long: `Walk through conflicts where a task changed both locally and in an
external service since the last sync. For each one, keep the local
version, keep the remote version, or enter a merge.

With --suggest and an ANTHROPIC_API_KEY, a merged version is proposed
for review before you decide.`,
	Run: func(cmd *cobra.Command, args []string) {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			fatal(fmt.Errorf("resolve needs an interactive terminal; see 'braid sync' output for pending conflicts"))
		}
		lipgloss.SetColorProfile(termenv.EnvColorProfile())

		ctx := context.Background()
		rt, closeRt, err := openRuntime(ctx)
		if err != nil {
			fatal(err)
		}
		defer closeRt()

		pending, err := rt.Resolver.Pending(ctx)
		if err != nil {
			fatal(err)
		}
		if len(pending) == 0 {
			fmt.Println("No pending conflicts.")
			return
		}

		var suggester *conflict.Suggester
		if flagSuggest {
			if suggester, err = conflict.NewSuggester("", rt.Cfg.Claude.Model); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: suggestions unavailable: %v\n", err)
			}
		}

		for i, rec := range pending {
			fmt.Printf("\n%s\n", styleName.Render(
				fmt.Sprintf("Conflict %d of %d: %s/%s", i+1, len(pending), rec.ConnectorID, rec.ExternalID)))
			if err := resolveOne(ctx, rt, rec, suggester); err != nil {
				fatal(err)
			}
		}
	},
}

// resolveOne shows one conflict and applies the chosen decision.
func resolveOne(ctx context.Context, rt *daemon.Runtime, rec *repo.ConflictRecord, suggester *conflict.Suggester) error {
	var local, remote connector.Item
	if err := json.Unmarshal([]byte(rec.Local), &local); err != nil {
		return fmt.Errorf("corrupt local content: %w", err)
	}
	if err := json.Unmarshal([]byte(rec.Remote), &remote); err != nil {
		return fmt.Errorf("corrupt remote content: %w", err)
	}

	fmt.Printf("  local:  %s\n", describeItem(local))
	fmt.Printf("  remote: %s\n", describeItem(remote))

	var suggestion *connector.Item
	if suggester != nil {
		s, err := suggester.SuggestMerge(ctx, local, remote)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: suggestion failed: %v\n", err)
		} else {
			suggestion = s
			fmt.Printf("  %s %s\n", styleDim.Render("suggested merge:"), describeItem(*s))
		}
	}

	options := []huh.Option[conflict.Resolution]{
		huh.NewOption("Keep local version", conflict.KeepLocal),
		huh.NewOption("Keep remote version", conflict.KeepRemote),
		huh.NewOption("Merge by hand", conflict.Merge),
	}

	var choice conflict.Resolution
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[conflict.Resolution]().
			Title("How should this conflict resolve?").
			Options(options...).
			Value(&choice),
	))
	if err := form.Run(); err != nil {
		return err
	}

	dec := conflict.Decision{Resolution: choice}
	if choice == conflict.Merge {
		merged, err := editMerge(local, remote, suggestion)
		if err != nil {
			return err
		}
		dec.Merged = merged
	}

	conn, err := rt.Manager.Connector(rec.ConnectorID)
	if err != nil {
		return err
	}
	return rt.Resolver.Resolve(ctx, rec.ID, dec, conn.Push)
}

// editMerge collects the merged item through a form, prefilled from the
// suggestion when one exists, otherwise from the local side.
func editMerge(local, remote connector.Item, suggestion *connector.Item) (*connector.Item, error) {
	seed := local
	if suggestion != nil {
		seed = *suggestion
	}

	name := seed.Name
	description := seed.Description
	completion := strconv.FormatFloat(seed.EffectiveCompletion(), 'f', -1, 64)

	form := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("Name").
			Description(fmt.Sprintf("local %q, remote %q", local.Name, remote.Name)).
			Value(&name),
		huh.NewInput().
			Title("Description").
			Value(&description),
		huh.NewInput().
			Title("Completion (0-1)").
			Value(&completion).
			Validate(func(s string) error {
				f, err := strconv.ParseFloat(s, 64)
				if err != nil || f < 0 || f > 1 {
					return fmt.Errorf("enter a number between 0 and 1")
				}
				return nil
			}),
	))
	if err := form.Run(); err != nil {
		return nil, err
	}

	ratio, _ := strconv.ParseFloat(completion, 64)
	merged := connector.Item{
		Name:        name,
		Description: description,
		Completion:  ratio,
		Done:        ratio >= 1,
	}
	// Deadlines rarely conflict; keep whichever side has one.
	merged.DueAt = local.DueAt
	if merged.DueAt == nil {
		merged.DueAt = remote.DueAt
	}
	return &merged, nil
}

func describeItem(it connector.Item) string {
	s := fmt.Sprintf("%q %.0f%%", it.Name, it.EffectiveCompletion()*100)
	if it.DueAt != nil {
		s += " due " + it.DueAt.Format(time.RFC1123)
	}
	return s
}

func init() {
	resolveCmd.Flags().BoolVar(&flagSuggest, "suggest", false,
		"propose a merged version via the Claude API")
	rootCmd.AddCommand(resolveCmd)
}
