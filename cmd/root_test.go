package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// resetForTest clears viper and every flag so runs do not leak into each other
func resetForTest(t *testing.T) string {
	t.Helper()
	viper.Reset()

	for _, c := range []*cobra.Command{rootCmd, detectCmd, captureCmd, windowCmd} {
		reset := func(f *pflag.Flag) {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		}
		c.Flags().VisitAll(reset)
		c.PersistentFlags().VisitAll(reset)
	}

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", "")
	return home
}

// writeConfig installs content as the user config file
func writeConfig(t *testing.T, home, content string) {
	t.Helper()
	configDir := filepath.Join(home, ".config", "carrierdetect")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
}

func executeCommand(args ...string) (string, error) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestRootCmd_HasExpectedFlags(t *testing.T) {
	flags := rootCmd.PersistentFlags()

	tests := []struct {
		name         string
		shorthand    string
		defaultValue string
	}{
		{"config", "c", ""},
		{"log-level", "", "info"},
		{"debug", "D", "false"},
		{"output", "o", "table"},
		{"metrics-addr", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag := flags.Lookup(tt.name)
			if flag == nil {
				t.Fatalf("flag %q not found", tt.name)
			}
			if flag.Shorthand != tt.shorthand {
				t.Errorf("flag %q shorthand = %q, want %q", tt.name, flag.Shorthand, tt.shorthand)
			}
			if flag.DefValue != tt.defaultValue {
				t.Errorf("flag %q default = %q, want %q", tt.name, flag.DefValue, tt.defaultValue)
			}
			if flag.Usage == "" {
				t.Errorf("flag %q has no description", tt.name)
			}
		})
	}
}

func TestDetectionFlags(t *testing.T) {
	tests := []struct {
		name      string
		shorthand string
	}{
		{"sample-rate", "s"},
		{"freq", "f"},
		{"block-size", "b"},
		{"history", ""},
		{"threshold", "t"},
		{"window", "w"},
		{"peak-filter", ""},
	}

	for _, c := range []*cobra.Command{detectCmd, captureCmd, windowCmd} {
		for _, tt := range tests {
			t.Run(c.Name()+"/"+tt.name, func(t *testing.T) {
				flag := c.Flags().Lookup(tt.name)
				if flag == nil {
					t.Fatalf("flag %q not found", tt.name)
				}
				if flag.Shorthand != tt.shorthand {
					t.Errorf("flag %q shorthand = %q, want %q", tt.name, flag.Shorthand, tt.shorthand)
				}
				if _, ok := flagKeys[tt.name]; !ok {
					t.Errorf("flag %q is not bound to a config key", tt.name)
				}
			})
		}
	}
}

func TestRootCmd_Properties(t *testing.T) {
	if rootCmd.Use != "carrierdetect" {
		t.Errorf("rootCmd.Use = %q, want %q", rootCmd.Use, "carrierdetect")
	}
	if rootCmd.Short == "" {
		t.Error("rootCmd.Short is empty")
	}
	if rootCmd.Long == "" {
		t.Error("rootCmd.Long is empty")
	}

	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"detect", "capture", "window"} {
		if !names[want] {
			t.Errorf("subcommand %q not registered", want)
		}
	}
}

func TestRootCmd_HelpOutput(t *testing.T) {
	resetForTest(t)

	output, err := executeCommand("--help")
	if err != nil {
		t.Fatalf("Execute() with --help error = %v", err)
	}
	for _, want := range []string{"carrierdetect", "detect", "capture", "window", "--config"} {
		if !strings.Contains(output, want) {
			t.Errorf("help output should contain %q", want)
		}
	}
}

func TestSetup_CreatesDefaultConfig(t *testing.T) {
	home := resetForTest(t)

	if _, err := executeCommand("window", "--log-level", "error"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	configPath := filepath.Join(home, ".config", "carrierdetect", "config.yaml")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Errorf("setup did not create config file at %s", configPath)
	}
	if app.settings == nil || app.logger == nil {
		t.Fatal("setup did not populate settings and logger")
	}
	if app.settings.Block.Size != 8192 {
		t.Errorf("settings.Block.Size = %d, want 8192", app.settings.Block.Size)
	}
}

func TestSetup_FlagsOverrideConfig(t *testing.T) {
	home := resetForTest(t)
	writeConfig(t, home, "workers: 2\nblock:\n  size: 4096\n  history: 100\n")

	_, err := executeCommand("window", "--log-level", "error", "-b", "1024", "--sample-rate", "48k", "-D")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	s := app.settings
	if s.Block.Size != 1024 {
		t.Errorf("settings.Block.Size = %d, want 1024 (flag)", s.Block.Size)
	}
	if s.Block.History != 100 {
		t.Errorf("settings.Block.History = %d, want 100 (config)", s.Block.History)
	}
	if s.SampleRate != 48000 {
		t.Errorf("settings.SampleRate = %v, want 48000 (flag)", s.SampleRate)
	}
	if s.EffectiveLogLevel() != "debug" {
		t.Errorf("EffectiveLogLevel() = %q, want debug", s.EffectiveLogLevel())
	}
}

func TestSetup_ExplicitConfigFlag(t *testing.T) {
	resetForTest(t)

	path := filepath.Join(t.TempDir(), "site.yaml")
	if err := os.WriteFile(path, []byte("tuner:\n  freq: 868M\n"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	if _, err := executeCommand("window", "--log-level", "error", "-c", path); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if app.settings.Tuner.Freq != 868e6 {
		t.Errorf("settings.Tuner.Freq = %v, want 868e6", app.settings.Tuner.Freq)
	}
}

func TestSetup_InvalidConfig(t *testing.T) {
	home := resetForTest(t)
	writeConfig(t, home, "block:\n  size: 1000\n")

	_, err := executeCommand("window")
	if err == nil {
		t.Fatal("expected error for invalid config, got nil")
	}
	if !strings.Contains(err.Error(), "config") {
		t.Errorf("expected config error, got: %v", err)
	}
}

func TestSetup_InvalidThresholdFlag(t *testing.T) {
	resetForTest(t)

	_, err := executeCommand("window", "--threshold", "1,2")
	if err == nil || !strings.Contains(err.Error(), "carrier.threshold") {
		t.Errorf("expected carrier.threshold error, got: %v", err)
	}
}
