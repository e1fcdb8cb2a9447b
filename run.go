package dartle

import "fmt"

// Run is the library entrypoint: it builds the task graph, parses argv
// (task selection plus flags, in dartle's own grammar), plans which tasks
// must run, executes them, and returns an error describing the outcome
// (nil on success). The cobra-based CLI (completions, --help formatting)
// lives in the internal/cli package, which only code inside this module,
// such as the cmd/dartle example, can import; Run is for embedding dartle
// directly.
func Run(tasks []Task, argv []string) error {
	graph, err := NewGraph(tasks, nil)
	if err != nil {
		return fmt.Errorf("building task graph: %w", err)
	}

	result, err := ParseArgs(argv, graph)
	if err != nil {
		return err
	}

	if result.Options.ShowTasks || result.Options.ShowTaskGraph || result.Options.Help {
		return nil
	}

	plan, err := PlanExecution(graph, result.Invocations, result.Options)
	if err != nil {
		return fmt.Errorf("planning execution: %w", err)
	}

	return Execute(graph, plan, nil)
}
