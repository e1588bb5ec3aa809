// Command edsl runs surveys against language models across a cohort of
// agents, scenarios and models.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		if msg := err.Error(); msg != "" {
			fmt.Fprintln(os.Stderr, "error:", msg)
		}
		os.Exit(exitCodeForError(err))
	}
}
