package main

import (
	"context"
	"fmt"
	"os"

	"videobroker/internal/store"
)

// RunCLI handles subcommand execution. Returns true if a subcommand was
// handled (and the caller should not start the server).
func RunCLI(args []string, dbPath string) bool {
	if len(args) == 0 {
		return false
	}

	switch args[0] {
	case "list-workouts":
		return cliListWorkouts(args[1:], dbPath)
	default:
		return false
	}
}

// cliListWorkouts prints persisted workout documents, optionally filtered
// to one user. Read-only: it performs no mutation the server itself
// wouldn't already perform.
func cliListWorkouts(args []string, dbPath string) bool {
	var userID string
	if len(args) > 0 {
		userID = args[0]
	}

	st, err := store.Open(dbPath, os.Getenv("PROJECT_ID"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	rows, err := st.ListWorkouts(context.Background(), userID, 100)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error listing workouts: %v\n", err)
		os.Exit(1)
	}
	if len(rows) == 0 {
		fmt.Println("No workouts found.")
		return true
	}

	for _, r := range rows {
		videoID := "(none)"
		if r.VideoID != nil {
			videoID = *r.VideoID
		}
		fmt.Printf("%s  user=%s  type=%s  date=%s  video=%s\n",
			r.ID, r.UserID, r.Type, r.Date.Format("2006-01-02T15:04:05Z"), videoID)
	}
	return true
}
