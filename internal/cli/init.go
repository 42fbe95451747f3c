package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/openagents/gym/internal/config"
	"github.com/openagents/gym/internal/workspace"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Interactive onboarding: workspace, provider keys, default config",
	Long: `Init creates the .openagents workspace, collects provider API keys
into .env (hidden input), writes a default gym.yaml, and checks the FM
bridge. Existing files are kept; rerunning only fills gaps.`,
	RunE: runInit,
}

// providerKeys lists the env vars init offers to collect.
var providerKeys = []struct {
	env   string
	label string
}{
	{"OPENROUTER_API_KEY", "OpenRouter (meta-reasoner, free-tier models)"},
	{"OPENAI_API_KEY", "OpenAI"},
	{"ANTHROPIC_API_KEY", "Anthropic"},
}

func runInit(_ *cobra.Command, _ []string) error {
	printHeader("OpenAgents Gym Setup")

	// Workspace
	wsPath := flagWorkspace
	if wsPath == "" {
		wsPath = promptLine(fmt.Sprintf("Workspace directory [%s]: ", workspace.DirName), workspace.DirName)
	}
	w, err := workspace.Resolve(wsPath)
	if err != nil {
		return err
	}
	if err := w.EnsureLayout(); err != nil {
		return err
	}
	printSuccess(fmt.Sprintf("workspace ready at %s", w.Root))

	// Provider keys -> .env
	for _, pk := range providerKeys {
		if os.Getenv(pk.env) != "" {
			printInfo(fmt.Sprintf("%s already set", pk.env))
			continue
		}
		key := promptSecret(fmt.Sprintf("%s API key (Enter to skip): ", pk.label))
		if key == "" {
			continue
		}
		if err := writeEnvKey(".env", pk.env, key); err != nil {
			printWarn(fmt.Sprintf("could not persist %s: %v", pk.env, err))
			continue
		}
		_ = os.Setenv(pk.env, key)
		printSuccess(fmt.Sprintf("%s saved to .env", pk.env))
	}

	// Default config -> gym.yaml
	if _, err := os.Stat("gym.yaml"); os.IsNotExist(err) {
		data, err := yaml.Marshal(config.Default())
		if err != nil {
			return err
		}
		if err := os.WriteFile("gym.yaml", data, 0644); err != nil {
			return err
		}
		printSuccess("default config written to gym.yaml")
	} else {
		printInfo("gym.yaml already exists, keeping it")
	}

	// FM bridge check
	fm := newFMClient()
	if h, err := fm.Health(context.Background()); err == nil && h.Ready() {
		printSuccess(fmt.Sprintf("fm bridge healthy (version %s)", h.Version))
	} else {
		printWarn("fm bridge not reachable; set FM_BRIDGE_PATH or start it before training")
	}

	fmt.Println()
	printInfo("run 'gym health' to verify, then 'gym train' to start")
	return nil
}

// promptLine reads one line, returning def when the answer is empty.
func promptLine(prompt, def string) string {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return def
	}
	return input
}

// promptSecret reads a line with echo off. Falls back to plain input when
// stdin is not a terminal (piped setup scripts).
func promptSecret(prompt string) string {
	fmt.Print(prompt)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		secret, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err == nil {
			return strings.TrimSpace(string(secret))
		}
	}
	reader := bufio.NewReader(os.Stdin)
	input, _ := reader.ReadString('\n')
	return strings.TrimSpace(input)
}

// writeEnvKey appends or updates key=value in an .env file, keeping other
// lines untouched.
func writeEnvKey(envPath, key, value string) error {
	if dir := filepath.Dir(envPath); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return err
		}
	}

	var lines []string
	found := false
	if data, err := os.ReadFile(envPath); err == nil {
		for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				found = true
				continue
			}
			lines = append(lines, line)
		}
	}
	if !found {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	return os.WriteFile(envPath, []byte(strings.Join(lines, "\n")+"\n"), 0600)
}

func printHeader(title string) {
	fmt.Printf("\033[1m\033[0;36m========================================\033[0m\n")
	fmt.Printf("\033[1m\033[0;36m  %s\033[0m\n", title)
	fmt.Printf("\033[1m\033[0;36m========================================\033[0m\n")
	fmt.Println()
}

func printSuccess(msg string) { fmt.Printf("\033[0;32m[OK]\033[0m %s\n", msg) }
func printInfo(msg string)    { fmt.Printf("\033[0;34m[INFO]\033[0m %s\n", msg) }
func printWarn(msg string)    { fmt.Printf("\033[1;33m[WARN]\033[0m %s\n", msg) }
