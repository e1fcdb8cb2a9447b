// Package cli wires dartle's flags and subcommand-free invocation onto
// cobra, and implements the -s/--show-tasks and -g/--show-task-graph
// diagnostic views.
package cli

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/renatoathaydes/dartle"
	"github.com/renatoathaydes/dartle/internal/ui"
	"github.com/spf13/cobra"
)

// Run builds and executes the root command for argv (conventionally
// os.Args[1:]), running the given tasks. It returns the process exit code.
func Run(tasks []dartle.Task, argv []string) int {
	root := newRootCmd(tasks)
	root.SetArgs(argv)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return dartle.ExitCodeFor(err)
	}
	return exitCode
}

// exitCode is set by runE right before returning, since cobra's Execute
// only surfaces the error, not a process exit code.
var exitCode int

func newRootCmd(tasks []dartle.Task) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "dartle [tasks...]",
		Short:         "A programmable, task-based build engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var (
		parallel      bool
		noParallel    bool
		force         bool
		showTasks     bool
		showTaskGraph bool
		logLevel      string
		noColor       bool
		noColorfulLog bool
		disableCache  bool
	)

	flags := cmd.Flags()
	flags.BoolVarP(&parallel, "parallel-tasks", "p", true, "run independent tasks in parallel")
	flags.BoolVar(&noParallel, "no-parallel-tasks", false, "run every task serially")
	flags.BoolVarP(&force, "force", "f", false, "run selected tasks even if they are up-to-date")
	flags.BoolVarP(&showTasks, "show-tasks", "s", false, "print every task and exit")
	flags.BoolVarP(&showTaskGraph, "show-task-graph", "g", false, "print the dependency graph and exit")
	flags.StringVarP(&logLevel, "log-level", "l", "info", "fine, debug, info, warn or error")
	flags.BoolVar(&noColor, "no-color", false, "disable ANSI colors")
	flags.BoolVar(&noColorfulLog, "no-colorful-log", false, "disable colorized log lines")
	flags.BoolVar(&disableCache, "disable-cache", false, "recorded in Options.DisableCache; the caches of the tasks' run conditions are still read and updated")
	flags.SetInterspersed(true)

	cmd.RunE = func(c *cobra.Command, rawArgs []string) error {
		opts := dartle.DefaultOptions()
		opts.Parallel = parallel && !noParallel
		opts.Force = force
		opts.ShowTasks = showTasks
		opts.ShowTaskGraph = showTaskGraph
		opts.LogLevel = logLevel
		opts.NoColor = noColor
		opts.NoColorfulLog = noColorfulLog
		opts.DisableCache = disableCache

		graph, err := dartle.NewGraph(tasks, nil)
		if err != nil {
			exitCode = dartle.ExitEngineFailure
			return err
		}

		out := ui.New(ui.Options{Level: logLevel, NoColor: noColor, NoColorfulLog: noColorfulLog})

		if showTasks {
			printTaskList(out, graph, opts)
			exitCode = dartle.ExitSuccess
			return nil
		}
		if showTaskGraph {
			printTaskGraph(out, graph)
			exitCode = dartle.ExitSuccess
			return nil
		}

		result, err := dartle.ParseArgs(rawArgs, graph)
		if err != nil {
			exitCode = dartle.ExitCodeFor(err)
			return err
		}
		result.Options = opts

		plan, err := dartle.PlanExecution(graph, result.Invocations, result.Options)
		if err != nil {
			exitCode = dartle.ExitEngineFailure
			return err
		}
		out.Println(plan.Header)

		sink := dartle.EventSink(func(e dartle.ExecutionEvent) {
			switch e.Kind {
			case "task-start":
				out.TaskStart(string(e.Actor), e.TaskName)
			case "task-end":
				if e.Result != nil {
					out.TaskDone(string(e.Actor), e.TaskName, e.Result.Succeeded())
				}
			}
		})

		if err := dartle.Execute(graph, plan, sink); err != nil {
			exitCode = dartle.ExitCodeFor(err)
			return err
		}
		exitCode = dartle.ExitSuccess
		return nil
	}

	return cmd
}

// printTaskList renders every task grouped by phase (ascending priority),
// then the order the default tasks would actually run in, per §6.
func printTaskList(out *ui.UI, graph *dartle.TaskGraph, opts dartle.Options) {
	defaults := map[string]bool{}
	for _, n := range graph.DefaultTasks() {
		defaults[n] = true
	}

	byPhase := map[string][]string{}
	var phaseOrder []struct {
		priority int
		name     string
	}
	seenPhase := map[string]bool{}
	for _, name := range graph.Names() {
		t, _ := graph.Get(name)
		phase := t.Phase()
		byPhase[phase.Name] = append(byPhase[phase.Name], name)
		if !seenPhase[phase.Name] {
			seenPhase[phase.Name] = true
			phaseOrder = append(phaseOrder, struct {
				priority int
				name     string
			}{phase.Priority, phase.Name})
		}
	}
	sort.Slice(phaseOrder, func(i, j int) bool { return phaseOrder[i].priority < phaseOrder[j].priority })

	for _, p := range phaseOrder {
		out.Println(fmt.Sprintf("%s:", p.name))
		names := byPhase[p.name]
		sort.Strings(names)
		for _, name := range names {
			t, _ := graph.Get(name)
			tags := []string{}
			if defaults[name] {
				tags = append(tags, "default")
			}
			if _, ok := t.RunCondition().(dartle.AlwaysRun); ok {
				tags = append(tags, "always-runs")
			}
			suffix := ""
			if len(tags) > 0 {
				suffix = fmt.Sprintf(" [%s]", strings.Join(tags, ", "))
			}
			desc := t.Description
			if desc == "" {
				desc = "(no description)"
			}
			out.Println(fmt.Sprintf("  %s%s - %s", name, suffix, desc))
		}
	}

	out.Println("")
	out.Println("Planned execution order (default tasks):")
	printPlannedGroups(out, graph, opts, graph.DefaultTasks())
}

// printPlannedGroups renders the parallel-safe group order PlanExecution
// would run names in, without actually running anything.
func printPlannedGroups(out *ui.UI, graph *dartle.TaskGraph, opts dartle.Options, names []string) {
	if len(names) == 0 {
		out.Println("  (no default tasks)")
		return
	}
	invocations := make([]dartle.TaskInvocation, len(names))
	for i, n := range names {
		invocations[i] = dartle.TaskInvocation{Name: n}
	}
	plan, err := dartle.PlanExecution(graph, invocations, opts)
	if err != nil {
		out.Println(fmt.Sprintf("  (could not compute plan: %s)", err))
		return
	}
	for i, group := range plan.Groups {
		names := make([]string, len(group))
		for j, inv := range group {
			names[j] = inv.Name
		}
		out.Println(fmt.Sprintf("  %d: %s", i+1, strings.Join(names, ", ")))
	}
}

func printTaskGraph(out *ui.UI, graph *dartle.TaskGraph) {
	names := graph.Names()
	sort.Strings(names)
	for _, name := range names {
		t, _ := graph.Get(name)
		out.Println(name)
		deps := append([]string{}, t.DependsOn...)
		sort.Strings(deps)
		for _, d := range deps {
			out.Println("  " + d)
		}
	}
}
