// Package report renders seeding runs for people and for machines.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/joshsymonds/convseed/internal/circuit"
	"github.com/joshsymonds/convseed/internal/ledger"
	"github.com/joshsymonds/convseed/internal/seed"
)

const topicDisplayLimit = 28

// PrintHuman writes a readable run summary to w, or stdout when w is nil.
func PrintHuman(rep seed.Report, w io.Writer) error {
	if w == nil {
		w = os.Stdout
	}
	var b strings.Builder
	mode := "run"
	if rep.DryRun {
		mode = "dry run"
	}
	fmt.Fprintf(&b, "convseed %s %s: %s\n", mode, rep.RunID, rep.Duration.Round(time.Millisecond))
	if rep.Admin != "" {
		fmt.Fprintf(&b, "  admin          %s\n", rep.Admin)
	}
	fmt.Fprintf(&b, "  users          %d\n", rep.Users)
	fmt.Fprintf(&b, "  attachments    %d (%s)\n", rep.Files, humanize.Bytes(uint64(max(rep.FileBytes, 0))))
	if !rep.DryRun {
		fmt.Fprintf(&b, "  conversations  %d open, %d group\n", rep.OpenConversations, rep.GroupConversations)
		fmt.Fprintf(&b, "  messages       %s posts, %s replies\n", humanize.Comma(int64(rep.Posts)), humanize.Comma(int64(rep.Replies)))
		fmt.Fprintf(&b, "  reactions      %d likes, %d flags\n", rep.Likes, rep.Flags)
		fmt.Fprintf(&b, "  events seen    %d\n", rep.EventsObserved)
	}

	if rep.DryRun && len(rep.UserPool) > 0 {
		b.WriteString("\nUser pool:\n")
		for _, email := range rep.UserPool {
			fmt.Fprintf(&b, "  %s\n", email)
		}
	}
	if len(rep.Conversations) > 0 {
		b.WriteString("\nConversations:\n")
		for _, c := range rep.Conversations {
			fmt.Fprintf(&b, "  %-5s %-36s %-28s %3d users %3d posts %3d messages\n",
				c.Kind, c.ID, truncate(c.Topic, topicDisplayLimit), c.Participants, c.Posts, c.Messages)
		}
	}
	if len(rep.Phases) > 0 {
		b.WriteString("\nPhases:\n")
		for _, ph := range rep.Phases {
			fmt.Fprintf(&b, "  %-14s %s\n", ph.Name, ph.Duration.Round(time.Millisecond))
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// PrintRuns lists ledger runs, newest first, as a table.
func PrintRuns(runs []ledger.RunSummary, now time.Time, w io.Writer) error {
	if w == nil {
		w = os.Stdout
	}
	var b strings.Builder
	if len(runs) == 0 {
		b.WriteString("no runs recorded\n")
	}
	for _, r := range runs {
		fmt.Fprintf(&b, "%-36s %-10s %-16s %3d convs %5d posts %5d replies %4d likes %4d flags\n",
			r.ID, r.Status, humanize.RelTime(r.StartedAt, now, "ago", "from now"),
			r.Conversations, r.Posts, r.Replies, r.Likes, r.Flags)
		if r.Error != "" {
			fmt.Fprintf(&b, "    error: %s\n", r.Error)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// PrintUsers writes one tenant user per line.
func PrintUsers(users []circuit.User, w io.Writer) error {
	if w == nil {
		w = os.Stdout
	}
	var b strings.Builder
	for _, u := range users {
		fmt.Fprintf(&b, "%-36s %-40s %s\n", u.ID, u.Email, u.DisplayName)
	}
	fmt.Fprintf(&b, "%d user(s)\n", len(users))
	_, err := io.WriteString(w, b.String())
	return err
}

// WriteJSON serializes v to a path relative to the working directory.
func WriteJSON(v any, path string) error {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return fmt.Errorf("path must not be empty")
	}
	clean = filepath.Clean(clean)
	if filepath.IsAbs(clean) {
		return fmt.Errorf("output path must be relative, got %s", clean)
	}
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path %s escapes working directory", clean)
	}
	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("determine working directory: %w", err)
	}
	abs := filepath.Join(wd, clean)
	f, err := os.OpenFile(abs, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) // #nosec G304
	if err != nil {
		return fmt.Errorf("create %s: %w", abs, err)
	}
	defer func() { _ = f.Close() }()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + "…"
}
