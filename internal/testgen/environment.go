package testgen

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"

	"github.com/openagents/gym/internal/sandbox"
)

// EnvironmentInfo describes the environment a task runs in: what the
// generator may assume exists and what the solution is forbidden to touch.
// Field names follow the generator's wire shape.
type EnvironmentInfo struct {
	Platform  string                  `json:"platform"`
	Languages map[string]LanguageInfo `json:"languages"`
	Tools     ToolsInfo               `json:"tools"`
	Files     FilesInfo               `json:"files"`
	Resources ResourcesInfo           `json:"resources"`
	Env       []string                `json:"env,omitempty"`
}

// LanguageInfo is one detected language runtime.
type LanguageInfo struct {
	Version  string   `json:"version"`
	Packages []string `json:"packages,omitempty"`
}

// ProhibitedTool is a binary the solution must not invoke, with the reason
// and whether it is actually present in the environment.
type ProhibitedTool struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
	Found  bool   `json:"found"`
}

// ToolsInfo lists usable and forbidden binaries.
type ToolsInfo struct {
	Available       []string         `json:"available"`
	Prohibited      []ProhibitedTool `json:"prohibited,omitempty"`
	ProhibitedCheck string           `json:"prohibitedCheck,omitempty"`
}

// FileStructure is a flat scan of a source file: top-level names only, no
// AST. It is advisory context for the generator, not a compiler.
type FileStructure struct {
	Variables  []string `json:"variables,omitempty"`
	Functions  []string `json:"functions,omitempty"`
	Parameters []string `json:"parameters,omitempty"`
}

// TaskFile describes one file the task ships with.
type TaskFile struct {
	Path         string         `json:"path"`
	Extension    string         `json:"extension"`
	LineCount    int            `json:"lineCount"`
	Preview      string         `json:"preview"`
	DetectedType string         `json:"detectedType"`
	Structure    *FileStructure `json:"structure,omitempty"`
}

// FilesInfo is the task workdir inventory.
type FilesInfo struct {
	Workdir   string     `json:"workdir"`
	Listing   []string   `json:"listing"`
	TaskFiles []TaskFile `json:"taskFiles,omitempty"`
}

// ResourcesInfo reports compute limits visible from inside the sandbox.
type ResourcesInfo struct {
	CPUs     int   `json:"cpus,omitempty"`
	MemoryMB int64 `json:"memoryMb,omitempty"`
}

const (
	probeTimeout = 10 * time.Second

	maxListing    = 200
	maxTaskFiles  = 10
	previewLines  = 50
	maxParseBytes = 256 << 10
	maxEnvNames   = 50
)

// Prober gathers EnvironmentInfo through a sandbox executor, so the report
// reflects the environment tasks actually run in rather than the host the
// harness happens to be on.
type Prober struct {
	exec   sandbox.Executor
	logger zerolog.Logger
}

// NewProber wires a prober over the given executor.
func NewProber(exec sandbox.Executor, logger zerolog.Logger) *Prober {
	return &Prober{exec: exec, logger: logger.With().Str("component", "testgen-prober").Logger()}
}

// languageProbes are version probes per runtime. java and R print their
// version to stderr, hence the redirects.
var languageProbes = []struct{ name, script string }{
	{"python", "python3 --version 2>&1"},
	{"node", "node --version 2>&1"},
	{"rust", "rustc --version 2>&1"},
	{"go", "go version 2>&1"},
	{"r", "R --version 2>&1"},
	{"ruby", "ruby --version 2>&1"},
	{"java", "java -version 2>&1"},
}

// commonTools are the binaries benchmark checks lean on.
var commonTools = []string{
	"sh", "grep", "sed", "awk", "sort", "tr", "curl", "git", "jq", "make", "tar", "python3",
}

var versionPattern = regexp.MustCompile(`\d+(\.\d+)+`)

// Gather probes the sandbox and inspects the task workdir. Individual probe
// failures degrade to missing entries; only an unreadable workdir is an
// error, because the file inventory is what the generator grounds tests on.
func (p *Prober) Gather(ctx context.Context, workdir, description string) (*EnvironmentInfo, error) {
	info := &EnvironmentInfo{Languages: make(map[string]LanguageInfo)}
	info.Platform = p.probeLine(ctx, workdir, "uname -sm")

	for _, lp := range languageProbes {
		out := p.probeLine(ctx, workdir, lp.script)
		if v := versionPattern.FindString(out); v != "" {
			info.Languages[lp.name] = LanguageInfo{Version: v}
		}
	}

	for _, tool := range commonTools {
		if p.toolFound(ctx, workdir, tool) {
			info.Tools.Available = append(info.Tools.Available, tool)
		}
	}
	if prohibited := InferProhibited(description); len(prohibited) > 0 {
		for i := range prohibited {
			prohibited[i].Found = p.toolFound(ctx, workdir, prohibited[i].Name)
		}
		info.Tools.Prohibited = prohibited
		info.Tools.ProhibitedCheck = "command -v"
	}

	files, err := gatherFiles(workdir)
	if err != nil {
		return nil, err
	}
	info.Files = files

	if n, err := strconv.Atoi(p.probeLine(ctx, workdir, "nproc")); err == nil {
		info.Resources.CPUs = n
	}
	if kb, err := strconv.ParseInt(p.probeLine(ctx, workdir, "awk '/MemTotal/ {print $2}' /proc/meminfo"), 10, 64); err == nil {
		info.Resources.MemoryMB = kb / 1024
	}

	info.Env = p.envNames(ctx, workdir)
	return info, nil
}

// probeLine runs a short script and returns the first line of its output, or
// "" when the probe fails.
func (p *Prober) probeLine(ctx context.Context, workdir, script string) string {
	res, err := p.exec.Execute(ctx, sandbox.Spec{Script: script, Workdir: workdir, Timeout: probeTimeout})
	if err != nil {
		p.logger.Debug().Err(err).Str("script", script).Msg("probe failed")
		return ""
	}
	if res.ExitCode != 0 {
		return ""
	}
	out := strings.TrimSpace(res.Stdout)
	if i := strings.IndexByte(out, '\n'); i >= 0 {
		out = out[:i]
	}
	return out
}

func (p *Prober) toolFound(ctx context.Context, workdir, name string) bool {
	res, err := p.exec.Execute(ctx, sandbox.Spec{
		Script:  "command -v " + name + " >/dev/null 2>&1",
		Workdir: workdir,
		Timeout: probeTimeout,
	})
	return err == nil && res.ExitCode == 0
}

// envNames returns the sandbox's environment variable names, values elided.
// Names are enough for the generator to know what is configurable, and
// values may hold credentials.
func (p *Prober) envNames(ctx context.Context, workdir string) []string {
	res, err := p.exec.Execute(ctx, sandbox.Spec{Script: "env", Workdir: workdir, Timeout: probeTimeout})
	if err != nil || res.ExitCode != 0 {
		return nil
	}
	var names []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		name, _, ok := strings.Cut(line, "=")
		if ok && name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if len(names) > maxEnvNames {
		names = names[:maxEnvNames]
	}
	return names
}

// languageBinaries maps a language named in a task description to the
// binaries that betray its use.
var languageBinaries = map[string][]string{
	"r":          {"R", "Rscript"},
	"python":     {"python", "python3"},
	"node":       {"node"},
	"javascript": {"node"},
	"ruby":       {"ruby"},
	"java":       {"java"},
	"perl":       {"perl"},
	"go":         {"go"},
	"golang":     {"go"},
	"rust":       {"rustc", "cargo"},
	"php":        {"php"},
	"bash":       {"bash"},
}

var (
	convertClause = regexp.MustCompile(`(?i)\b(?:convert|port|rewrite|translate|migrate)\b[^.!?]*`)
	languageWord  = regexp.MustCompile(`(?i)\b(r|python|node|javascript|ruby|java|perl|golang|go|rust|php|bash)\b`)
)

// InferProhibited scans a task description for conversion phrasing. A task
// that converts away from a language prohibits that language's binaries:
// invoking them would let the solution run the original code instead of
// porting it.
func InferProhibited(description string) []ProhibitedTool {
	clause := convertClause.FindString(description)
	if clause == "" {
		return nil
	}
	lower := strings.ToLower(clause)
	sep := strings.Index(lower, " to ")
	if sep < 0 {
		sep = strings.Index(lower, " into ")
	}
	if sep < 0 {
		return nil
	}
	source := strings.ToLower(languageWord.FindString(clause[:sep]))
	target := strings.ToLower(languageWord.FindString(clause[sep:]))
	if source == "golang" {
		source = "go"
	}
	if source == "" || source == target {
		return nil
	}
	reason := fmt.Sprintf("the task converts %s code to another language; running %s would bypass the conversion", source, source)
	var out []ProhibitedTool
	for _, bin := range languageBinaries[source] {
		out = append(out, ProhibitedTool{Name: bin, Reason: reason})
	}
	return out
}

// detectedTypes maps file extensions to the generator's type labels.
var detectedTypes = map[string]string{
	".py":   "python",
	".js":   "javascript",
	".go":   "go",
	".rs":   "rust",
	".rb":   "ruby",
	".java": "java",
	".r":    "r",
	".sh":   "shell",
	".json": "json",
	".yaml": "yaml",
	".yml":  "yaml",
	".csv":  "csv",
	".tsv":  "csv",
	".txt":  "text",
	".md":   "markdown",
}

// gatherFiles inventories the task workdir on the host side. The sandbox
// mounts the same directory, so the listing matches what commands see.
func gatherFiles(workdir string) (FilesInfo, error) {
	info := FilesInfo{Workdir: workdir}
	matches, err := doublestar.FilepathGlob(filepath.Join(workdir, "**/*"))
	if err != nil {
		return info, fmt.Errorf("listing %s: %w", workdir, err)
	}
	for _, m := range matches {
		fi, err := os.Stat(m)
		if err != nil || fi.IsDir() {
			continue
		}
		rel, err := filepath.Rel(workdir, m)
		if err != nil {
			continue
		}
		info.Listing = append(info.Listing, filepath.ToSlash(rel))
	}
	sort.Strings(info.Listing)
	if len(info.Listing) > maxListing {
		info.Listing = info.Listing[:maxListing]
	}

	for _, rel := range info.Listing {
		if len(info.TaskFiles) >= maxTaskFiles {
			break
		}
		ext := strings.ToLower(filepath.Ext(rel))
		kind, ok := detectedTypes[ext]
		if !ok {
			continue
		}
		tf, err := describeFile(workdir, rel, ext, kind)
		if err != nil {
			continue
		}
		info.TaskFiles = append(info.TaskFiles, tf)
	}
	return info, nil
}

func describeFile(workdir, rel, ext, kind string) (TaskFile, error) {
	data, err := os.ReadFile(filepath.Join(workdir, rel))
	if err != nil {
		return TaskFile{}, err
	}
	if len(data) > maxParseBytes {
		data = data[:maxParseBytes]
	}
	lines := strings.Split(string(data), "\n")
	count := len(lines)
	if count > 0 && lines[count-1] == "" {
		count--
	}
	preview := lines
	if len(preview) > previewLines {
		preview = preview[:previewLines]
	}
	tf := TaskFile{
		Path:         rel,
		Extension:    ext,
		LineCount:    count,
		Preview:      strings.Join(preview, "\n"),
		DetectedType: kind,
	}
	if kind == "python" {
		tf.Structure = pythonStructure(lines)
	}
	return tf, nil
}

var (
	pyFunc = regexp.MustCompile(`^def\s+(\w+)\s*\(([^)]*)\)`)
	pyVar  = regexp.MustCompile(`^(\w+)\s*=[^=]`)
)

func pythonStructure(lines []string) *FileStructure {
	s := &FileStructure{}
	for _, line := range lines {
		if m := pyFunc.FindStringSubmatch(line); m != nil {
			s.Functions = appendUnique(s.Functions, m[1])
			for _, param := range strings.Split(m[2], ",") {
				param = strings.TrimSpace(param)
				if i := strings.IndexAny(param, ":="); i >= 0 {
					param = strings.TrimSpace(param[:i])
				}
				if param != "" && param != "self" {
					s.Parameters = appendUnique(s.Parameters, param)
				}
			}
			continue
		}
		if m := pyVar.FindStringSubmatch(line); m != nil {
			s.Variables = appendUnique(s.Variables, m[1])
		}
	}
	if len(s.Functions) == 0 && len(s.Variables) == 0 {
		return nil
	}
	return s
}

func appendUnique(list []string, v string) []string {
	for _, have := range list {
		if have == v {
			return list
		}
	}
	return append(list, v)
}
