package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/packet-tracer-i18n/tskit/batch"
	"github.com/packet-tracer-i18n/tskit/config"
	"github.com/spf13/cobra"
)

// selectionFlagCmd registers the selection flags the way export and
// apply do, then parses args.
func selectionFlagCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().Int("start-index", 1, "")
	cmd.Flags().Bool("deduplicate", false, "")
	cmd.Flags().Bool("include-finished", false, "")
	cmd.Flags().Int("max-entries", 0, "")
	cmd.Flags().String("context-mode", "compact", "")
	cmd.Flags().Int("max-locations", 3, "")
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatalf("ParseFlags(%v) error: %v", args, err)
	}
	return cmd
}

func TestSelectionOptionsFlagPrecedence(t *testing.T) {
	cfg := &config.File{
		StartIndex:  100,
		Deduplicate: true,
		MaxEntries:  50,
	}

	t.Run("config wins when flags untouched", func(t *testing.T) {
		cmd := selectionFlagCmd(t)
		opts := selectionOptions(cmd, cfg, 1, 0, false, false)
		want := batch.Options{StartIndex: 100, Deduplicate: true, MaxEntries: 50}
		if opts != want {
			t.Fatalf("selectionOptions() = %+v, want %+v", opts, want)
		}
	})

	t.Run("explicit flag wins over config", func(t *testing.T) {
		cmd := selectionFlagCmd(t, "--start-index", "5", "--deduplicate=false")
		opts := selectionOptions(cmd, cfg, 5, 0, false, false)
		want := batch.Options{StartIndex: 5, Deduplicate: false, MaxEntries: 50}
		if opts != want {
			t.Fatalf("selectionOptions() = %+v, want %+v", opts, want)
		}
	})
}

func TestPromptOptionsFlagPrecedence(t *testing.T) {
	seven := 7
	cfg := &config.File{ContextMode: "minimal", MaxLocations: &seven}

	t.Run("config wins when flags untouched", func(t *testing.T) {
		cmd := selectionFlagCmd(t)
		popts := promptOptions(cmd, cfg, "compact", 3)
		if popts.Mode != batch.ContextMinimal || popts.MaxLocations != 7 {
			t.Fatalf("promptOptions() = %+v, want minimal/7", popts)
		}
	})

	t.Run("explicit flag wins over config", func(t *testing.T) {
		cmd := selectionFlagCmd(t, "--context-mode", "full", "--max-locations", "1")
		popts := promptOptions(cmd, cfg, "full", 1)
		if popts.Mode != batch.ContextFull || popts.MaxLocations != 1 {
			t.Fatalf("promptOptions() = %+v, want full/1", popts)
		}
	})
}

func TestOutputPath(t *testing.T) {
	tests := []struct {
		name        string
		flagVal     string
		flagChanged bool
		positional  string
		fallback    string
		want        string
	}{
		{"flag wins over positional", "flag.jsonl", true, "pos.jsonl", "def.jsonl", "flag.jsonl"},
		{"positional wins over fallback", "", false, "pos.jsonl", "def.jsonl", "pos.jsonl"},
		{"fallback when nothing given", "", false, "", "def.jsonl", "def.jsonl"},
		{"empty fallback means in place", "", false, "", "", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := outputPath(tc.flagVal, tc.flagChanged, tc.positional, tc.fallback)
			if got != tc.want {
				t.Fatalf("outputPath() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(filePath, []byte("ok"), 0644); err != nil {
		t.Fatalf("os.WriteFile() error: %v", err)
	}

	if !fileExists(filePath) {
		t.Fatalf("fileExists(file) = false, want true")
	}
	if fileExists(dir) {
		t.Fatalf("fileExists(directory) = true, want false")
	}
	if fileExists(filepath.Join(dir, "missing.txt")) {
		t.Fatalf("fileExists(missing) = true, want false")
	}
}
