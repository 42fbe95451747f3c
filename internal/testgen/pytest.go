package testgen

import (
	"fmt"
	"regexp"
	"strings"
)

// ToPytest renders a generated suite as a runnable pytest module. Regex
// tasks assert re.findall matches against the pattern the solution wrote to
// regex.txt; command tasks shell out and compare stripped stdout. A test
// with a nil expected output asserts absence: zero matches, or a clean run
// with no output.
func ToPytest(tests []Test, taskID, kind string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Verification tests for %s. Generated; do not edit.\n", taskID)
	if kind == KindRegex {
		b.WriteString("import re\n\n")
		b.WriteString("with open('regex.txt') as _f:\n    PATTERN = _f.read().strip()\n\n")
	} else {
		b.WriteString("import subprocess\n\n")
	}

	used := make(map[string]bool)
	for i, t := range tests {
		name := testFuncName(t, i, used)
		input := StripQuotes(t.Input)
		var expected *string
		if t.ExpectedOutput != nil {
			s := StripQuotes(*t.ExpectedOutput)
			expected = &s
		}
		if kind == KindRegex {
			writeRegexTest(&b, name, input, expected)
		} else {
			writeCommandTest(&b, name, input, expected)
		}
	}
	return b.String()
}

func writeRegexTest(b *strings.Builder, name, input string, expected *string) {
	fmt.Fprintf(b, "def %s():\n", name)
	fmt.Fprintf(b, "    matches = re.findall(PATTERN, %s, re.MULTILINE)\n", pyLiteral(input))
	if expected == nil {
		b.WriteString("    assert matches == []\n\n")
		return
	}
	fmt.Fprintf(b, "    assert %s in matches\n\n", pyLiteral(*expected))
}

func writeCommandTest(b *strings.Builder, name, input string, expected *string) {
	fmt.Fprintf(b, "def %s():\n", name)
	fmt.Fprintf(b, "    proc = subprocess.run(%s, shell=True, capture_output=True, text=True)\n", pyLiteral(input))
	if expected == nil {
		b.WriteString("    assert proc.returncode == 0\n")
		b.WriteString("    assert proc.stdout.strip() == ''\n\n")
		return
	}
	fmt.Fprintf(b, "    assert proc.stdout.strip() == %s\n\n", pyLiteral(*expected))
}

// StripQuotes aggressively removes wrapping quotes from model-produced text:
// triple quotes first, then matched pairs, repeating while the text keeps
// shrinking so nested wrapping like "'x'" unwraps fully.
func StripQuotes(s string) string {
	for {
		t := strings.TrimSpace(s)
		for _, q := range []string{`"""`, "'''", `"`, "'", "`"} {
			if len(t) >= 2*len(q) && strings.HasPrefix(t, q) && strings.HasSuffix(t, q) {
				t = t[len(q) : len(t)-len(q)]
				break
			}
		}
		if t == s {
			return t
		}
		s = t
	}
}

// pyLiteral renders s as a single-line Python string literal. Quote style
// follows the content: single quotes unless the text contains one, then
// double, then triple-double with embedded quotes escaped. Newlines are
// escaped so one test stays one line.
func pyLiteral(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	s = strings.ReplaceAll(s, "\r", `\r`)
	s = strings.ReplaceAll(s, "\t", `\t`)
	switch {
	case !strings.Contains(s, "'"):
		return "'" + s + "'"
	case !strings.Contains(s, `"`):
		return `"` + s + `"`
	default:
		return `"""` + strings.ReplaceAll(s, `"`, `\"`) + `"""`
	}
}

var nameSanitizer = regexp.MustCompile(`[^a-z0-9_]+`)

// testFuncName derives a unique pytest function name from the test's ID,
// falling back to category and position.
func testFuncName(t Test, i int, used map[string]bool) string {
	base := strings.Trim(nameSanitizer.ReplaceAllString(strings.ToLower(t.ID), "_"), "_")
	if base == "" {
		base = fmt.Sprintf("%s_%d", t.Category, i+1)
	}
	name := "test_" + base
	for n := 2; used[name]; n++ {
		name = fmt.Sprintf("test_%s_%d", base, n)
	}
	used[name] = true
	return name
}
