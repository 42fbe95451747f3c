package decompose

import "fmt"

// Benchmark subset labels, in progression order.
const (
	SubsetTB10 = "TB_10"
	SubsetTB30 = "TB_30"
	SubsetTB89 = "TB_89"
)

// SuiteVersion names this catalog revision in recorded episodes, so results
// stay comparable after catalog edits.
const SuiteVersion = "tb-89.1"

// TaskInfo describes one benchmark task: the instruction handed to the agent,
// a setup script that seeds fixtures in the task workdir, and a check script
// whose zero exit marks the task passed. Scripts run with the task workdir as
// the current directory and refer to files by relative path; descriptions use
// /app, the canonical workdir inside the sandbox image.
type TaskInfo struct {
	ID          string
	Description string
	MaxTurns    int
	Setup       string // sh fragment run before the agent starts; empty = no fixtures
	Check       string // sh fragment; exit 0 = passed
}

var subsetSizes = map[string]int{
	SubsetTB10: 10,
	SubsetTB30: 30,
	SubsetTB89: 89,
}

// Subsets returns the subset labels in progression order.
func Subsets() []string {
	return []string{SubsetTB10, SubsetTB30, SubsetTB89}
}

// NextSubset returns the subset after cur in progression order, or false when
// cur is the last (or unknown).
func NextSubset(cur string) (string, bool) {
	order := Subsets()
	for i, s := range order[:len(order)-1] {
		if s == cur {
			return order[i+1], true
		}
	}
	return "", false
}

// Subset returns the ordered task IDs in a subset. Subsets nest: TB_10 is a
// prefix of TB_30, which is a prefix of TB_89.
func Subset(name string) ([]string, error) {
	n, ok := subsetSizes[name]
	if !ok {
		return nil, fmt.Errorf("unknown subset %q", name)
	}
	if n > len(catalog) {
		n = len(catalog)
	}
	ids := make([]string, n)
	for i, t := range catalog[:n] {
		ids[i] = t.ID
	}
	return ids, nil
}

// Task returns the catalog entry for a task ID.
func Task(id string) (TaskInfo, bool) {
	t, ok := taskByID[id]
	return t, ok
}

// Tasks returns the full catalog in benchmark order.
func Tasks() []TaskInfo {
	out := make([]TaskInfo, len(catalog))
	copy(out, catalog)
	return out
}

var taskByID = func() map[string]TaskInfo {
	m := make(map[string]TaskInfo, len(catalog))
	for _, t := range catalog {
		m[t.ID] = t
	}
	return m
}()

// The benchmark catalog. Order matters: the first 10 entries form TB_10, the
// first 30 form TB_30, all 89 form TB_89.
var catalog = []TaskInfo{
	// --- file basics ---
	{
		ID:          "hello-world",
		Description: "Create the file /app/hello.txt containing exactly the text: Hello, world!",
		MaxTurns:    8,
		Check:       `test "$(cat hello.txt)" = "Hello, world!"`,
	},
	{
		ID:          "word-count",
		Description: "Count the words in /app/input.txt and write the number to /app/count.txt.",
		MaxTurns:    10,
		Setup:       `printf 'alpha beta gamma\ndelta epsilon\n' > input.txt`,
		Check:       `test "$(tr -d '[:space:]' < count.txt)" = "5"`,
	},
	{
		ID:          "regex-log",
		Description: "Write a POSIX extended regex that matches dates in YYYY-MM-DD format to /app/regex.txt.",
		MaxTurns:    12,
		Check:       `r="$(cat regex.txt)" && printf '2024-01-15' | grep -qE "$r" && ! printf 'not-a-date' | grep -qE "$r"`,
	},
	{
		ID:          "csv-sum",
		Description: "Sum the value column of /app/data.csv and write the total to /app/sum.txt.",
		MaxTurns:    12,
		Setup:       `printf 'name,value\na,10\nb,32\nc,58\n' > data.csv`,
		Check:       `test "$(tr -d '[:space:]' < sum.txt)" = "100"`,
	},
	{
		ID:          "json-extract",
		Description: "Extract every users[].name from /app/data.json and write them to /app/names.txt, one per line, in order.",
		MaxTurns:    12,
		Setup:       `printf '{"users":[{"name":"ada"},{"name":"linus"},{"name":"grace"}]}' > data.json`,
		Check:       `test "$(cat names.txt)" = "$(printf 'ada\nlinus\ngrace')"`,
	},
	{
		ID:          "fix-syntax",
		Description: "Fix the syntax error in /app/broken.py so that 'python3 broken.py' prints: ok",
		MaxTurns:    12,
		Setup:       `printf 'def main():\n    print("ok"\n\nmain()\n' > broken.py`,
		Check:       `test "$(python3 broken.py)" = "ok"`,
	},
	{
		ID:          "env-var-config",
		Description: "Write /app/app.py that prints the PORT environment variable, defaulting to 8080 when unset.",
		MaxTurns:    14,
		Check:       `test "$(python3 app.py)" = "8080" && test "$(PORT=9000 python3 app.py)" = "9000"`,
	},
	{
		ID:          "reverse-lines",
		Description: "Write the lines of /app/input.txt in reverse order to /app/reversed.txt.",
		MaxTurns:    10,
		Setup:       `printf 'one\ntwo\nthree\n' > input.txt`,
		Check:       `test "$(cat reversed.txt)" = "$(printf 'three\ntwo\none')"`,
	},
	{
		ID:          "dedupe-list",
		Description: "Remove duplicate lines from /app/items.txt, keeping the first occurrence of each, and write the result to /app/unique.txt.",
		MaxTurns:    10,
		Setup:       `printf 'b\na\nb\nc\na\n' > items.txt`,
		Check:       `test "$(cat unique.txt)" = "$(printf 'b\na\nc')"`,
	},
	{
		ID:          "uppercase-names",
		Description: "Uppercase every line of /app/names.txt and write the result to /app/upper.txt.",
		MaxTurns:    8,
		Setup:       `printf 'ada\nlinus\n' > names.txt`,
		Check:       `test "$(cat upper.txt)" = "$(printf 'ADA\nLINUS')"`,
	},

	// --- text processing ---
	{
		ID:          "line-numbers",
		Description: "Prefix each line of /app/input.txt with its 1-based number and a colon ('1: alpha') and write to /app/numbered.txt.",
		MaxTurns:    10,
		Setup:       `printf 'alpha\nbeta\n' > input.txt`,
		Check:       `test "$(cat numbered.txt)" = "$(printf '1: alpha\n2: beta')"`,
	},
	{
		ID:          "trim-whitespace",
		Description: "Strip leading and trailing whitespace from every line of /app/input.txt and write to /app/trimmed.txt.",
		MaxTurns:    10,
		Setup:       `printf '  hello  \n\tworld \n' > input.txt`,
		Check:       `test "$(cat trimmed.txt)" = "$(printf 'hello\nworld')"`,
	},
	{
		ID:          "replace-tabs",
		Description: "Replace every tab in /app/input.txt with four spaces and write to /app/spaces.txt.",
		MaxTurns:    8,
		Setup:       `printf 'a\tb\n' > input.txt`,
		Check:       `test "$(cat spaces.txt)" = "a    b"`,
	},
	{
		ID:          "extract-emails",
		Description: "Extract every email address from /app/mail.txt and write them to /app/emails.txt, one per line, in order of appearance.",
		MaxTurns:    12,
		Setup:       `printf 'write ada@example.com or bob@test.org today\n' > mail.txt`,
		Check:       `test "$(cat emails.txt)" = "$(printf 'ada@example.com\nbob@test.org')"`,
	},
	{
		ID:          "count-vowels",
		Description: "Count the vowels (aeiou) in /app/text.txt and write the number to /app/vowels.txt.",
		MaxTurns:    8,
		Setup:       `printf 'hello world\n' > text.txt`,
		Check:       `test "$(tr -d '[:space:]' < vowels.txt)" = "3"`,
	},
	{
		ID:          "longest-line",
		Description: "Write the longest line of /app/poem.txt to /app/longest.txt.",
		MaxTurns:    8,
		Setup:       `printf 'hi\na much longer line\nmid one\n' > poem.txt`,
		Check:       `test "$(cat longest.txt)" = "a much longer line"`,
	},
	{
		ID:          "sort-numbers",
		Description: "Sort the integers in /app/numbers.txt numerically, one per line, into /app/sorted.txt.",
		MaxTurns:    8,
		Setup:       `printf '10\n2\n33\n4\n' > numbers.txt`,
		Check:       `test "$(cat sorted.txt)" = "$(printf '2\n4\n10\n33')"`,
	},
	{
		ID:          "merge-files",
		Description: "Concatenate /app/a.txt then /app/b.txt into /app/merged.txt.",
		MaxTurns:    8,
		Setup:       `printf 'first\n' > a.txt && printf 'second\n' > b.txt`,
		Check:       `test "$(cat merged.txt)" = "$(printf 'first\nsecond')"`,
	},
	{
		ID:          "split-csv",
		Description: "Split /app/data.csv into /app/header.csv (the header line) and /app/rows.csv (everything else).",
		MaxTurns:    10,
		Setup:       `printf 'h1,h2\n1,2\n3,4\n' > data.csv`,
		Check:       `test "$(cat header.csv)" = "h1,h2" && test "$(cat rows.csv)" = "$(printf '1,2\n3,4')"`,
	},
	{
		ID:          "wrap-text",
		Description: "Wrap the text of /app/text.txt at 20 columns, breaking on spaces, and write to /app/wrapped.txt.",
		MaxTurns:    12,
		Setup:       `printf 'the quick brown fox jumps over the lazy dog\n' > text.txt`,
		Check:       `awk 'length > 20 { exit 1 }' wrapped.txt && test "$(tr -s ' \n' ' ' < wrapped.txt | sed 's/ *$//')" = "the quick brown fox jumps over the lazy dog"`,
	},

	// --- regex authoring ---
	{
		ID:          "regex-phone",
		Description: "Write a POSIX extended regex matching US phone numbers like 555-123-4567 to /app/regex.txt.",
		MaxTurns:    10,
		Check:       `r="$(cat regex.txt)" && printf '555-123-4567' | grep -qE "$r" && ! printf '55-1234' | grep -qE "$r"`,
	},
	{
		ID:          "regex-ipv4",
		Description: "Write a POSIX extended regex matching dotted-quad IPv4 addresses like 192.168.0.1 to /app/regex.txt.",
		MaxTurns:    12,
		Check:       `r="$(cat regex.txt)" && printf '192.168.0.1' | grep -qE "$r" && printf '10.0.0.1' | grep -qE "$r" && ! printf 'v10.0' | grep -qE "$r"`,
	},
	{
		ID:          "regex-hex-color",
		Description: "Write a POSIX extended regex matching six-digit hex colors like #1a2b3c to /app/regex.txt.",
		MaxTurns:    10,
		Check:       `r="$(cat regex.txt)" && printf '#1a2b3c' | grep -qE "$r" && ! printf '#1a2' | grep -qE "$r"`,
	},
	{
		ID:          "regex-url",
		Description: "Write a POSIX extended regex matching http and https URLs to /app/regex.txt.",
		MaxTurns:    12,
		Check:       `r="$(cat regex.txt)" && printf 'https://example.com/docs' | grep -qE "$r" && ! printf 'example dot com' | grep -qE "$r"`,
	},
	{
		ID:          "regex-semver",
		Description: "Write a POSIX extended regex matching semantic versions like 1.2.3 to /app/regex.txt.",
		MaxTurns:    10,
		Check:       `r="$(cat regex.txt)" && printf '1.2.3' | grep -qE "$r" && ! printf 'v1.2' | grep -qE "$r"`,
	},
	{
		ID:          "regex-time24",
		Description: "Write a POSIX extended regex matching valid 24-hour HH:MM times to /app/regex.txt.",
		MaxTurns:    12,
		Check:       `r="$(cat regex.txt)" && printf '23:59' | grep -qE "$r" && printf '09:30' | grep -qE "$r" && ! printf '24:00' | grep -qE "$r"`,
	},
	{
		ID:          "regex-uuid",
		Description: "Write a POSIX extended regex matching canonical lowercase UUIDs to /app/regex.txt.",
		MaxTurns:    12,
		Check:       `r="$(cat regex.txt)" && printf '123e4567-e89b-12d3-a456-426614174000' | grep -qE "$r" && ! printf '123e4567' | grep -qE "$r"`,
	},
	{
		ID:          "regex-float",
		Description: "Write a POSIX extended regex matching signed decimal numbers like -3.14 to /app/regex.txt.",
		MaxTurns:    10,
		Check:       `r="$(cat regex.txt)" && printf -- '-3.14' | grep -qE "$r" && printf '2.5' | grep -qE "$r" && ! printf 'abc' | grep -qE "$r"`,
	},
	{
		ID:          "regex-md-link",
		Description: "Write a POSIX extended regex matching markdown links like [text](url) to /app/regex.txt.",
		MaxTurns:    12,
		Check:       `r="$(cat regex.txt)" && printf '[docs](https://x.io)' | grep -qE "$r" && ! printf 'docs at https://x.io' | grep -qE "$r"`,
	},
	{
		ID:          "regex-quoted",
		Description: "Write a POSIX extended regex matching double-quoted strings to /app/regex.txt.",
		MaxTurns:    10,
		Check:       `r="$(cat regex.txt)" && printf 'say "hi there" now' | grep -qE "$r" && ! printf 'no quotes at all' | grep -qE "$r"`,
	},

	// --- small programs ---
	{
		ID:          "fizzbuzz",
		Description: "Write /app/fizzbuzz.py printing 1..15, one per line, replacing multiples of 3 with Fizz, 5 with Buzz, both with FizzBuzz.",
		MaxTurns:    14,
		Check:       `test "$(python3 fizzbuzz.py | tr '\n' ' ' | sed 's/ $//')" = "1 2 Fizz 4 Buzz Fizz 7 8 Fizz Buzz 11 Fizz 13 14 FizzBuzz"`,
	},
	{
		ID:          "prime-sieve",
		Description: "Write /app/primes.py printing the primes up to 30, comma-separated on one line.",
		MaxTurns:    14,
		Check:       `test "$(python3 primes.py)" = "2,3,5,7,11,13,17,19,23,29"`,
	},
	{
		ID:          "fibonacci-file",
		Description: "Write the first 10 Fibonacci numbers (starting 0, 1) to /app/fib.txt, one per line.",
		MaxTurns:    10,
		Check:       `test "$(cat fib.txt)" = "$(printf '0\n1\n1\n2\n3\n5\n8\n13\n21\n34')"`,
	},
	{
		ID:          "temp-convert",
		Description: "Write /app/convert.py that takes a Celsius value as its argument and prints the Fahrenheit equivalent with one decimal.",
		MaxTurns:    12,
		Check:       `test "$(python3 convert.py 100)" = "212.0" && test "$(python3 convert.py 0)" = "32.0"`,
	},
	{
		ID:          "roman-numerals",
		Description: "Write /app/roman.py that converts its integer argument to a Roman numeral and prints it.",
		MaxTurns:    14,
		Check:       `test "$(python3 roman.py 1994)" = "MCMXCIV" && test "$(python3 roman.py 9)" = "IX"`,
	},
	{
		ID:          "caesar-cipher",
		Description: "Write /app/caesar.py that takes a lowercase word and a shift and prints the Caesar-shifted word.",
		MaxTurns:    12,
		Check:       `test "$(python3 caesar.py hello 3)" = "khoor"`,
	},
	{
		ID:          "palindrome-filter",
		Description: "Copy only the palindromes from /app/words.txt to /app/palindromes.txt, preserving order.",
		MaxTurns:    10,
		Setup:       `printf 'level\nworld\nnoon\nkayak\npop\n' > words.txt`,
		Check:       `test "$(cat palindromes.txt)" = "$(printf 'level\nnoon\nkayak\npop')"`,
	},
	{
		ID:          "anagram-groups",
		Description: "Group the anagrams in /app/words.txt: one group per line in /app/groups.txt, words in input order, groups ordered by first appearance.",
		MaxTurns:    16,
		Setup:       `printf 'eat\ntea\ntan\nate\nnat\nbat\n' > words.txt`,
		Check:       `test "$(cat groups.txt)" = "$(printf 'eat tea ate\ntan nat\nbat')"`,
	},
	{
		ID:          "binary-to-dec",
		Description: "Convert each binary number in /app/bits.txt to decimal and write the results to /app/dec.txt, one per line.",
		MaxTurns:    10,
		Setup:       `printf '101\n1111\n1\n' > bits.txt`,
		Check:       `test "$(cat dec.txt)" = "$(printf '5\n15\n1')"`,
	},
	{
		ID:          "leap-years",
		Description: "Write every leap year from 1900 to 1920 inclusive to /app/leap.txt, one per line.",
		MaxTurns:    10,
		Check:       `test "$(cat leap.txt)" = "$(printf '1904\n1908\n1912\n1916\n1920')"`,
	},

	// --- data formats ---
	{
		ID:          "json-to-csv",
		Description: "Convert the array of {name, age} records in /app/records.json to /app/records.csv with a name,age header.",
		MaxTurns:    14,
		Setup:       `printf '[{"name":"ada","age":36},{"name":"bob","age":41}]' > records.json`,
		Check:       `test "$(cat records.csv)" = "$(printf 'name,age\nada,36\nbob,41')"`,
	},
	{
		ID:          "csv-to-json",
		Description: "Convert /app/people.csv (header row) to a JSON array of objects in /app/people.json.",
		MaxTurns:    14,
		Setup:       `printf 'name,age\nada,36\n' > people.csv`,
		Check:       `python3 -c "import json;d=json.load(open('people.json'));assert d in ([{'name':'ada','age':'36'}],[{'name':'ada','age':36}])"`,
	},
	{
		ID:          "yaml-read",
		Description: "Read the server.port value from /app/config.yaml and write it to /app/port.txt.",
		MaxTurns:    12,
		Setup:       `printf 'server:\n  port: 8443\n  host: local\n' > config.yaml`,
		Check:       `test "$(tr -d '[:space:]' < port.txt)" = "8443"`,
	},
	{
		ID:          "ini-parse",
		Description: "Read the host value from the [database] section of /app/settings.ini and write it to /app/dbhost.txt.",
		MaxTurns:    12,
		Setup:       `printf '[server]\nhost = web1\n[database]\nhost = db7\nport = 5432\n' > settings.ini`,
		Check:       `test "$(tr -d '[:space:]' < dbhost.txt)" = "db7"`,
	},
	{
		ID:          "tsv-columns",
		Description: "Swap the first two columns of the tab-separated /app/data.tsv and write to /app/swapped.tsv.",
		MaxTurns:    10,
		Setup:       `printf 'a\t1\nb\t2\n' > data.tsv`,
		Check:       `test "$(cat swapped.tsv)" = "$(printf '1\ta\n2\tb')"`,
	},
	{
		ID:          "json-merge",
		Description: "Merge /app/a.json and /app/b.json into /app/merged.json; keys from b.json win on conflict.",
		MaxTurns:    12,
		Setup:       `printf '{"x":1,"y":2}' > a.json && printf '{"y":9,"z":3}' > b.json`,
		Check:       `python3 -c "import json;assert json.load(open('merged.json'))=={'x':1,'y':9,'z':3}"`,
	},
	{
		ID:          "json-sort-keys",
		Description: "Rewrite /app/data.json to /app/sorted.json pretty-printed with two-space indent and keys sorted at every level.",
		MaxTurns:    12,
		Setup:       `printf '{"b":1,"a":{"d":2,"c":3}}' > data.json`,
		Check:       `python3 -c "import json;s=open('sorted.json').read();assert s.strip()==json.dumps(json.load(open('data.json')),indent=2,sort_keys=True)"`,
	},
	{
		ID:          "csv-filter-rows",
		Description: "Keep the header and the rows of /app/data.csv whose value column exceeds 50; write to /app/filtered.csv.",
		MaxTurns:    12,
		Setup:       `printf 'name,value\na,10\nb,70\nc,51\n' > data.csv`,
		Check:       `test "$(cat filtered.csv)" = "$(printf 'name,value\nb,70\nc,51')"`,
	},
	{
		ID:          "markdown-toc",
		Description: "Extract the level-2 heading titles from /app/doc.md and write them to /app/toc.txt, one per line.",
		MaxTurns:    12,
		Setup:       `printf '# Title\nintro\n## Setup\ntext\n## Usage\nmore\n' > doc.md`,
		Check:       `test "$(cat toc.txt)" = "$(printf 'Setup\nUsage')"`,
	},
	{
		ID:          "html-extract-title",
		Description: "Extract the <title> text from /app/page.html and write it to /app/title.txt.",
		MaxTurns:    10,
		Setup:       `printf '<html><head><title>Gym Docs</title></head><body></body></html>' > page.html`,
		Check:       `test "$(cat title.txt)" = "Gym Docs"`,
	},

	// --- debugging ---
	{
		ID:          "fix-off-by-one",
		Description: "Fix /app/count.py so it prints 1 through 5 inclusive, one per line.",
		MaxTurns:    10,
		Setup:       `printf 'for i in range(1, 5):\n    print(i)\n' > count.py`,
		Check:       `test "$(python3 count.py | tr '\n' ' ' | sed 's/ $//')" = "1 2 3 4 5"`,
	},
	{
		ID:          "fix-none-check",
		Description: "Fix /app/size.py so it prints 0 instead of crashing when the list is None.",
		MaxTurns:    10,
		Setup:       `printf 'def size(items):\n    return len(items)\n\nprint(size(None))\n' > size.py`,
		Check:       `test "$(python3 size.py)" = "0"`,
	},
	{
		ID:          "fix-import",
		Description: "Fix /app/root.py so 'python3 root.py' prints 7 (it uses sqrt without importing it).",
		MaxTurns:    8,
		Setup:       `printf 'print(int(sqrt(49)))\n' > root.py`,
		Check:       `test "$(python3 root.py)" = "7"`,
	},
	{
		ID:          "fix-indent",
		Description: "Fix the indentation error in /app/app.py so it prints: ready",
		MaxTurns:    8,
		Setup:       `printf 'def main():\nprint("ready")\n\nmain()\n' > app.py`,
		Check:       `test "$(python3 app.py)" = "ready"`,
	},
	{
		ID:          "fix-typo-var",
		Description: "Fix the misspelled variable in /app/sum.py so it prints 42.",
		MaxTurns:    8,
		Setup:       `printf 'total = 40\nprint(totl + 2)\n' > sum.py`,
		Check:       `test "$(python3 sum.py)" = "42"`,
	},
	{
		ID:          "fix-division",
		Description: "Fix /app/ratio.py so it prints 0 instead of crashing when the denominator is zero.",
		MaxTurns:    10,
		Setup:       `printf 'def ratio(a, b):\n    return a / b\n\nprint(ratio(10, 0))\n' > ratio.py`,
		Check:       `test "$(python3 ratio.py)" = "0"`,
	},
	{
		ID:          "fix-key-error",
		Description: "Fix /app/cfg.py so a missing 'port' key falls back to 8080 instead of raising KeyError.",
		MaxTurns:    8,
		Setup:       `printf 'cfg = {"host": "web1"}\nprint(cfg["port"])\n' > cfg.py`,
		Check:       `test "$(python3 cfg.py)" = "8080"`,
	},
	{
		ID:          "fix-regex-escape",
		Description: "Fix /app/dots.py so it counts only literal 'a.b' occurrences and prints 1.",
		MaxTurns:    10,
		Setup:       `printf 'import re\nprint(len(re.findall("a.b", "a.b axb aqb")))\n' > dots.py`,
		Check:       `test "$(python3 dots.py)" = "1"`,
	},
	{
		ID:          "fix-loop-bound",
		Description: "Fix /app/sum10.py so it sums 1 through 10 inclusive and prints 55.",
		MaxTurns:    8,
		Setup:       `printf 'total = 0\nfor i in range(10):\n    total += i\nprint(total)\n' > sum10.py`,
		Check:       `test "$(python3 sum10.py)" = "55"`,
	},
	{
		ID:          "fix-return",
		Description: "Fix /app/double.py so the function returns its result and the script prints 42.",
		MaxTurns:    8,
		Setup:       `printf 'def double(x):\n    x * 2\n\nprint(double(21))\n' > double.py`,
		Check:       `test "$(python3 double.py)" = "42"`,
	},

	// --- shell and files ---
	{
		ID:          "make-executable",
		Description: "Write an executable shell script /app/greet.sh (with shebang) that prints exactly: hello from sh",
		MaxTurns:    10,
		Check:       `test -x greet.sh && test "$(./greet.sh)" = "hello from sh"`,
	},
	{
		ID:          "glob-count",
		Description: "Count the .log files anywhere under /app/logs/ and write the number to /app/logcount.txt.",
		MaxTurns:    10,
		Setup:       `mkdir -p logs/a && touch logs/x.log logs/y.log logs/a/z.log logs/readme.txt`,
		Check:       `test "$(tr -d '[:space:]' < logcount.txt)" = "3"`,
	},
	{
		ID:          "file-sizes",
		Description: "Write the size in bytes of /app/data.bin to /app/size.txt.",
		MaxTurns:    8,
		Setup:       `head -c 512 /dev/zero > data.bin`,
		Check:       `test "$(tr -d '[:space:]' < size.txt)" = "512"`,
	},
	{
		ID:          "newest-file",
		Description: "Find the most recently modified snap-*.txt file in /app and write its file name to /app/newest.txt.",
		MaxTurns:    10,
		Setup:       `touch -d '2020-01-01' snap-a.txt && touch -d '2021-01-01' snap-b.txt && touch -d '2019-06-01' snap-c.txt`,
		Check:       `test "$(cat newest.txt)" = "snap-b.txt"`,
	},
	{
		ID:          "env-expand",
		Description: "Expand the ${NAME} placeholder in /app/template.txt using NAME=gym and write the result to /app/out.txt.",
		MaxTurns:    10,
		Setup:       `printf 'welcome to ${NAME}!\n' > template.txt`,
		Check:       `test "$(cat out.txt)" = "welcome to gym!"`,
	},
	{
		ID:          "exit-code",
		Description: "Write /app/check.sh that exits 3 when its argument is 'bad' and 0 otherwise.",
		MaxTurns:    10,
		Check:       `sh check.sh good || exit 1; sh check.sh bad; test $? -eq 3`,
	},
	{
		ID:          "stdin-echo",
		Description: "Write /app/upper.py that reads stdin and prints it uppercased.",
		MaxTurns:    8,
		Check:       `test "$(printf 'abc' | python3 upper.py)" = "ABC"`,
	},
	{
		ID:          "args-reverse",
		Description: "Write /app/rev.py that prints its arguments in reverse order, space-separated.",
		MaxTurns:    8,
		Check:       `test "$(python3 rev.py one two three)" = "three two one"`,
	},
	{
		ID:          "which-python",
		Description: "Write the installed python3 major.minor version (like 3.11) to /app/pyver.txt.",
		MaxTurns:    8,
		Check:       `test "$(cat pyver.txt)" = "$(python3 -c 'import sys;print(f"{sys.version_info[0]}.{sys.version_info[1]}")')"`,
	},
	{
		ID:          "symlink-read",
		Description: "Create a symlink /app/current.cfg pointing at /app/versions/v2.cfg.",
		MaxTurns:    10,
		Setup:       `mkdir -p versions && printf 'v2 settings\n' > versions/v2.cfg`,
		Check:       `test -L current.cfg && test "$(cat current.cfg)" = "v2 settings"`,
	},

	// --- algorithms ---
	{
		ID:          "two-sum",
		Description: "Find the two numbers in /app/nums.txt that sum to 40 and write their zero-based indices comma-separated to /app/pair.txt.",
		MaxTurns:    12,
		Setup:       `printf '2 7 11 33\n' > nums.txt`,
		Check:       `test "$(tr -d '[:space:]' < pair.txt)" = "1,3"`,
	},
	{
		ID:          "run-length",
		Description: "Run-length encode the string in /app/input.txt (aaab -> a3b1) and write the result to /app/rle.txt.",
		MaxTurns:    12,
		Setup:       `printf 'aaabccdddd' > input.txt`,
		Check:       `test "$(cat rle.txt)" = "a3b1c2d4"`,
	},
	{
		ID:          "matrix-transpose",
		Description: "Transpose the space-separated matrix in /app/matrix.txt and write it to /app/transposed.txt.",
		MaxTurns:    12,
		Setup:       `printf '1 2 3\n4 5 6\n' > matrix.txt`,
		Check:       `test "$(cat transposed.txt)" = "$(printf '1 4\n2 5\n3 6')"`,
	},
	{
		ID:          "gcd-lcm",
		Description: "Compute the gcd and lcm of 18 and 24 and write 'gcd=6 lcm=72' style output to /app/gcdlcm.txt.",
		MaxTurns:    10,
		Check:       `test "$(cat gcdlcm.txt)" = "gcd=6 lcm=72"`,
	},
	{
		ID:          "histogram",
		Description: "For each 'label count' line in /app/scores.txt write 'label' followed by count stars to /app/histogram.txt.",
		MaxTurns:    12,
		Setup:       `printf 'apples 3\npears 5\n' > scores.txt`,
		Check:       `test "$(cat histogram.txt)" = "$(printf 'apples ***\npears *****')"`,
	},
	{
		ID:          "moving-average",
		Description: "Compute the window-3 moving averages of the numbers in /app/series.txt (one decimal) and write them to /app/avg.txt.",
		MaxTurns:    12,
		Setup:       `printf '1\n2\n3\n4\n5\n' > series.txt`,
		Check:       `test "$(cat avg.txt)" = "$(printf '2.0\n3.0\n4.0')"`,
	},
	{
		ID:          "top-k-words",
		Description: "Write the two most frequent words of /app/prose.txt as 'word count' lines to /app/top.txt, most frequent first.",
		MaxTurns:    12,
		Setup:       `printf 'the cat and the dog and the bird\n' > prose.txt`,
		Check:       `test "$(cat top.txt)" = "$(printf 'the 3\nand 2')"`,
	},
	{
		ID:          "balanced-brackets",
		Description: "For each line of /app/exprs.txt write OK if its brackets balance or BAD otherwise to /app/balanced.txt.",
		MaxTurns:    14,
		Setup:       `printf '([]{})\n([)]\n(()\n' > exprs.txt`,
		Check:       `test "$(cat balanced.txt)" = "$(printf 'OK\nBAD\nBAD')"`,
	},
	{
		ID:          "date-diff",
		Description: "Compute the number of days between 2024-01-01 and 2024-03-01 and write it to /app/days.txt.",
		MaxTurns:    10,
		Check:       `test "$(tr -d '[:space:]' < days.txt)" = "60"`,
	},
	{
		ID:          "int-ranges",
		Description: "Compress the sorted integers in /app/ints.txt into range notation (1-3,7,9-10) and write it to /app/ranges.txt.",
		MaxTurns:    14,
		Setup:       `printf '1 2 3 7 9 10\n' > ints.txt`,
		Check:       `test "$(cat ranges.txt)" = "1-3,7,9-10"`,
	},

	// --- integration ---
	{
		ID:          "log-pipeline",
		Description: "Count the ERROR lines per day in /app/server.log and write 'YYYY-MM-DD count' lines, dates ascending, to /app/report.txt.",
		MaxTurns:    16,
		Setup:       `printf '2024-01-01 ERROR boom\n2024-01-01 INFO ok\n2024-01-02 ERROR x\n2024-01-01 ERROR y\n' > server.log`,
		Check:       `test "$(cat report.txt)" = "$(printf '2024-01-01 2\n2024-01-02 1')"`,
	},
	{
		ID:          "csv-report",
		Description: "Group /app/sales.csv by region, sum the amounts, and write /app/report.csv with a region,total header, regions sorted.",
		MaxTurns:    16,
		Setup:       `printf 'region,amount\nwest,10\neast,5\nwest,7\n' > sales.csv`,
		Check:       `test "$(cat report.csv)" = "$(printf 'region,total\neast,5\nwest,17')"`,
	},
	{
		ID:          "todo-cli",
		Description: "Write /app/todo.py supporting 'add <text>' and 'list' subcommands; items persist in /app/todo.json and list prints '1. text' lines.",
		MaxTurns:    20,
		Check:       `python3 todo.py add "write tests" && python3 todo.py add "ship" && test "$(python3 todo.py list)" = "$(printf '1. write tests\n2. ship')"`,
	},
	{
		ID:          "config-merge",
		Description: "Merge /app/defaults.json with /app/override.json (override wins) into /app/effective.json.",
		MaxTurns:    14,
		Setup:       `printf '{"retries":3,"host":"web1"}' > defaults.json && printf '{"host":"db7"}' > override.json`,
		Check:       `python3 -c "import json;assert json.load(open('effective.json'))=={'retries':3,'host':'db7'}"`,
	},
	{
		ID:          "backup-rotate",
		Description: "Keep only the three newest backup-*.tar files in /app and delete the rest.",
		MaxTurns:    14,
		Setup:       `for i in 1 2 3 4 5; do touch -d "2024-01-0$i" "backup-$i.tar"; done`,
		Check:       `test "$(ls backup-*.tar | wc -l | tr -d ' ')" = "3" && test -f backup-3.tar && test -f backup-4.tar && test -f backup-5.tar`,
	},
	{
		ID:          "checksum-verify",
		Description: "Verify each md5 entry in /app/sums.txt and write '<file> OK' or '<file> MISMATCH' lines, in order, to /app/verify.txt.",
		MaxTurns:    16,
		Setup:       `printf 'hello\n' > a.txt && printf 'world\n' > b.txt && md5sum a.txt > sums.txt && printf '00000000000000000000000000000000  b.txt\n' >> sums.txt`,
		Check:       `test "$(cat verify.txt)" = "$(printf 'a.txt OK\nb.txt MISMATCH')"`,
	},
	{
		ID:          "template-render",
		Description: "Render /app/template.html by replacing {{title}} and {{body}} with the values from /app/data.json; write /app/index.html.",
		MaxTurns:    14,
		Setup:       `printf '<h1>{{title}}</h1><p>{{body}}</p>' > template.html && printf '{"title":"Gym","body":"ready"}' > data.json`,
		Check:       `test "$(cat index.html)" = "<h1>Gym</h1><p>ready</p>"`,
	},
	{
		ID:          "dir-tree",
		Description: "Create src/main.py, src/util/helpers.py, and docs/readme.md under /app, then write all file paths sorted to /app/manifest.txt.",
		MaxTurns:    14,
		Check:       `test -f src/main.py && test -f src/util/helpers.py && test -f docs/readme.md && test "$(cat manifest.txt)" = "$(printf 'docs/readme.md\nsrc/main.py\nsrc/util/helpers.py')"`,
	},
	{
		ID:          "word-freq-report",
		Description: "Analyze /app/essay.txt and write /app/stats.json with the unique word count and the most frequent word: {\"unique\": N, \"top\": \"word\"}.",
		MaxTurns:    16,
		Setup:       `printf 'go go build test go build\n' > essay.txt`,
		Check:       `python3 -c "import json;d=json.load(open('stats.json'));assert d=={'unique':3,'top':'go'}"`,
	},
}
