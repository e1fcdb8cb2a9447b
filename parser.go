package dartle

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// Options holds the parsed command-line flags (§6 External interfaces).
type Options struct {
	Parallel        bool
	Force           bool
	ShowTasks       bool
	ShowTaskGraph   bool
	LogLevel        string
	NoColor         bool
	NoColorfulLog   bool
	DisableCache    bool
	Help            bool
}

// DefaultOptions returns the engine's default flag values: tasks run in
// parallel groups unless --no-parallel-tasks is given.
func DefaultOptions() Options {
	return Options{LogLevel: "info", Parallel: true}
}

var validLogLevels = map[string]bool{"fine": true, "debug": true, "info": true, "warn": true, "error": true}

// knownFlags maps every recognized long/short flag spelling to a
// canonical name, used both to parse argv and to suggest near-miss
// corrections for typos.
var knownFlags = map[string]string{
	"-p": "parallel-tasks", "--parallel-tasks": "parallel-tasks",
	"--no-parallel-tasks": "no-parallel-tasks",
	"-f":                  "force", "--force": "force",
	"-s": "show-tasks", "--show-tasks": "show-tasks",
	"-g": "show-task-graph", "--show-task-graph": "show-task-graph",
	"-l": "log-level", "--log-level": "log-level",
	"--no-color":         "no-color",
	"--no-colorful-log":  "no-colorful-log",
	"--disable-cache":    "disable-cache",
	"-h": "help", "--help": "help",
}

// ParseResult is the outcome of parsing argv: the selected invocations and
// options, or a joint error describing every problem found.
type ParseResult struct {
	Invocations []TaskInvocation
	Options     Options
}

// ParseArgs parses argv (without the program name) into task invocations
// and options. Errors are collected and reported jointly.
func ParseArgs(argv []string, graph *TaskGraph) (*ParseResult, error) {
	opts := DefaultOptions()
	var errs *multierror.Error
	var invocations []TaskInvocation
	haveCurrentTask := false

	i := 0
	for i < len(argv) {
		tok := argv[i]

		if strings.HasPrefix(tok, ":") {
			if !haveCurrentTask {
				errs = multierror.Append(errs, fmt.Errorf("Argument should follow a task: '%s'", tok))
				i++
				continue
			}
			invocations[len(invocations)-1].Args = append(invocations[len(invocations)-1].Args, strings.TrimPrefix(tok, ":"))
			i++
			continue
		}

		if strings.HasPrefix(tok, "-") {
			consumed, err := parseOption(tok, argv, i, &opts)
			if err != nil {
				errs = multierror.Append(errs, err)
			}
			i += consumed
			continue
		}

		// A bare token is a task name.
		if _, ok := graph.Get(tok); !ok {
			suggestion := suggestName(tok, graph.Names())
			msg := fmt.Sprintf("Task '%s' does not exist", tok)
			if suggestion != "" {
				msg = fmt.Sprintf("%s (did you mean '%s'?)", msg, suggestion)
			}
			errs = multierror.Append(errs, fmt.Errorf("%s", msg))
			i++
			continue
		}
		invocations = append(invocations, TaskInvocation{Name: tok})
		haveCurrentTask = true
		i++
	}

	if len(invocations) == 0 && errs.ErrorOrNil() == nil {
		for _, name := range graph.DefaultTasks() {
			invocations = append(invocations, TaskInvocation{Name: name})
		}
	}

	// Validate arguments against each task's validator.
	for _, inv := range invocations {
		task, ok := graph.Get(inv.Name)
		if !ok {
			continue
		}
		if err := task.Validator().Validate(inv.Args); err != nil {
			errs = multierror.Append(errs, fmt.Errorf(
				"Invalid arguments for task '%s': %s - %s", inv.Name, formatArgs(inv.Args), err.Error()))
		}
	}

	if err := errs.ErrorOrNil(); err != nil {
		if len(errs.Errors) == 1 {
			if optErr, ok := errs.Errors[0].(*OptionError); ok {
				return nil, optErr
			}
		}
		return nil, &InvocationError{joint: err}
	}

	return &ParseResult{Invocations: invocations, Options: opts}, nil
}

func formatArgs(args []string) string {
	return "[" + strings.Join(args, ", ") + "]"
}

// parseOption parses the option token at argv[i], returning how many
// tokens it consumed (at least 1).
func parseOption(tok string, argv []string, i int, opts *Options) (int, error) {
	name := tok
	var inlineValue string
	hasInline := false
	if idx := strings.IndexByte(tok, '='); idx >= 0 {
		name = tok[:idx]
		inlineValue = tok[idx+1:]
		hasInline = true
	}

	canonical, ok := knownFlags[name]
	if !ok {
		suggestion := suggestName(strings.TrimLeft(name, "-"), canonicalFlagNames())
		msg := fmt.Sprintf("unknown option '%s'", tok)
		if suggestion != "" {
			msg = fmt.Sprintf("%s (did you mean '--%s'?)", msg, suggestion)
		}
		return 1, &OptionError{msg: msg}
	}

	switch canonical {
	case "parallel-tasks":
		opts.Parallel = true
		return 1, nil
	case "no-parallel-tasks":
		opts.Parallel = false
		return 1, nil
	case "force":
		opts.Force = true
		return 1, nil
	case "show-tasks":
		opts.ShowTasks = true
		return 1, nil
	case "show-task-graph":
		opts.ShowTaskGraph = true
		return 1, nil
	case "no-color":
		opts.NoColor = true
		return 1, nil
	case "no-colorful-log":
		opts.NoColorfulLog = true
		return 1, nil
	case "disable-cache":
		opts.DisableCache = true
		return 1, nil
	case "help":
		opts.Help = true
		return 1, nil
	case "log-level":
		var value string
		consumed := 1
		if hasInline {
			value = inlineValue
		} else if i+1 < len(argv) {
			value = argv[i+1]
			consumed = 2
		} else {
			return 1, &OptionError{msg: "--log-level requires a value"}
		}
		if !validLogLevels[value] {
			return consumed, &OptionError{msg: fmt.Sprintf(
				"invalid --log-level value '%s': expected one of fine, debug, info, warn, error", value)}
		}
		opts.LogLevel = value
		return consumed, nil
	}
	return 1, nil
}

func canonicalFlagNames() []string {
	seen := map[string]bool{}
	var out []string
	for _, v := range knownFlags {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// suggestName finds the closest candidate to name by camelCase
// word-prefix matching: both strings are tokenized into words (splitting
// on case transitions, '-', '_' and ':'), and each candidate scores one
// point per position where its word and name's word are prefixes of one
// another. The first highest-scoring candidate wins; returns "" if no
// candidate scores any point.
func suggestName(name string, candidates []string) string {
	nameWords := wordTokens(name)
	best := ""
	bestScore := 0
	for _, c := range candidates {
		cWords := wordTokens(c)
		score := wordPrefixScore(nameWords, cWords)
		if score > bestScore {
			bestScore = score
			best = c
		}
	}
	if bestScore == 0 {
		return ""
	}
	return best
}

func wordTokens(s string) []string {
	var words []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			words = append(words, strings.ToLower(current.String()))
			current.Reset()
		}
	}
	runes := []rune(s)
	for i, r := range runes {
		if r == '-' || r == '_' || r == ':' {
			flush()
			continue
		}
		if i > 0 && isUpper(r) && !isUpper(runes[i-1]) {
			flush()
		}
		current.WriteRune(r)
	}
	flush()
	return words
}

func isUpper(r rune) bool { return r >= 'A' && r <= 'Z' }

func wordPrefixScore(a, b []string) int {
	n := a
	m := b
	if len(m) < len(n) {
		n, m = m, n
	}
	score := 0
	for i := range n {
		if strings.HasPrefix(m[i], n[i]) || strings.HasPrefix(n[i], m[i]) {
			score++
		}
	}
	return score
}
