// Command dartle is a minimal example build script, demonstrating how a
// project embeds the dartle engine: define tasks, then hand them to the
// bundled cobra-based CLI.
package main

import (
	"fmt"
	"os"

	"github.com/renatoathaydes/dartle"
	"github.com/renatoathaydes/dartle/cache"
	"github.com/renatoathaydes/dartle/internal/cli"
)

func main() {
	buildCache := cache.New(".dartle_tool")
	if err := buildCache.Init(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(dartle.ExitEngineFailure)
	}

	sources := dartle.Dir("src", dartle.DirOptions{Recurse: true, Extensions: []string{"go"}})
	output := dartle.File("out/app")

	tasks := []dartle.Task{
		{
			Name:        "compile",
			Description: "compiles the project",
			RunCondition: dartle.RunOnChanges{
				Inputs:  sources,
				Outputs: output,
				Cache:   buildCache,
				Key:     "compile",
			},
			Handler: func(args dartle.TaskArgs) error {
				fmt.Println("compiling...")
				return nil
			},
		},
		{
			Name:        "test",
			Description: "runs the test suite",
			DependsOn:   []string{"compile"},
			Handler: func(args dartle.TaskArgs) error {
				fmt.Println("testing...")
				return nil
			},
			IsDefault: true,
		},
		{
			Name:         "clean",
			Description:  "removes build output",
			RunCondition: dartle.RunToDelete{Targets: output},
			Phase:        dartle.Setup,
			Handler: func(args dartle.TaskArgs) error {
				return os.RemoveAll("out")
			},
		},
	}

	os.Exit(cli.Run(tasks, os.Args[1:]))
}
