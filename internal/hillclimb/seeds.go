package hillclimb

// seedHints are the starting hints for tasks the climber knows cold starts
// struggle with. Operators extend or override this table via
// hillclimb.seed_hints in gym.yaml.
var seedHints = map[string]string{
	"regex-log":      "Write the regex directly to /app/regex.txt. The regex should match dates in YYYY-MM-DD format.",
	"hello-world":    "Use write_file once to create /app/hello.txt with the exact greeting text.",
	"word-count":     "Read the input file first, then write only the number to /app/count.txt.",
	"csv-sum":        "Sum the second column of /app/data.csv; write the total as a plain integer to /app/sum.txt.",
	"json-extract":   "Parse /app/input.json and write the requested field value, nothing else, to /app/out.txt.",
	"fix-syntax":     "Run the script first to see the syntax error, fix only that line with edit_file.",
	"env-var-config": "Read the variable with run_command (echo $NAME) instead of guessing its value.",
}

// SeedHint returns the built-in seed hint for a task, or "".
func SeedHint(taskID string) string {
	return seedHints[taskID]
}
