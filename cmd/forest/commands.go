package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"forest/internal/config"
	"forest/internal/selector"
	"forest/internal/types"
)

var (
	projectID string
	pathName  string

	focusAreas    []string
	energyLevel   int
	timeAvailable string
	recentContext string
	outcomeNote   string
	decomposeLvl  string
)

var buildCmd = &cobra.Command{
	Use:   "build [goal]",
	Short: "Build a task tree from a goal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		o, closer, err := buildOrchestrator()
		if err != nil {
			return err
		}
		defer closer()

		ctx, cancel := cmdContext(cmd)
		defer cancel()

		tree, err := o.BuildTree(ctx, projectID, pathName, args[0], focusAreas)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(tree)
		}

		fmt.Printf("Built tree for %q (complexity %d/10)\n\n", tree.Goal, tree.Complexity)
		for _, b := range tree.StrategicBranches {
			fmt.Printf("  %d. %s - %s\n", b.Priority, b.Name, b.Description)
		}
		fmt.Printf("\n%d tasks ready. Run `forest next` to get started.\n", len(tree.FrontierNodes))
		return nil
	},
}

var nextCmd = &cobra.Command{
	Use:   "next",
	Short: "Pick the next task for your current energy and time",
	RunE: func(cmd *cobra.Command, args []string) error {
		o, closer, err := buildOrchestrator()
		if err != nil {
			return err
		}
		defer closer()

		ctx, cancel := cmdContext(cmd)
		defer cancel()

		sel, err := o.GetNextTask(ctx, projectID, pathName, selector.Constraints{
			EnergyLevel:   energyLevel,
			TimeAvailable: timeAvailable,
			RecentContext: recentContext,
		})
		if err != nil {
			return err
		}
		if sel == nil {
			fmt.Println("Nothing workable right now. Complete prerequisites, free up time, or build a tree first.")
			return nil
		}
		if asJSON {
			return printJSON(sel)
		}

		task := sel.Task
		fmt.Printf("Next up: %s\n", task.Title)
		if task.Description != "" {
			fmt.Printf("  %s\n", task.Description)
		}
		fmt.Printf("  id: %s  branch: %s  difficulty: %d/5", task.ID, task.Branch, task.Difficulty)
		if task.Duration != "" {
			fmt.Printf("  duration: %s", task.Duration)
		}
		fmt.Printf("\n  (selected via %s)\n", sel.Method)
		return nil
	},
}

var completeCmd = &cobra.Command{
	Use:   "complete [task-id]",
	Short: "Mark a task as completed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		o, closer, err := buildOrchestrator()
		if err != nil {
			return err
		}
		defer closer()

		ctx, cancel := cmdContext(cmd)
		defer cancel()

		tree, err := o.CompleteTask(ctx, projectID, pathName, args[0], outcomeNote)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(tree)
		}

		fmt.Printf("Completed %s (%d/%d tasks done)\n",
			args[0], tree.HierarchyMetadata.CompletedTasks, tree.HierarchyMetadata.TotalTasks)
		return nil
	},
}

var decomposeCmd = &cobra.Command{
	Use:   "decompose [task-id]",
	Short: "Expand a task into finer-grained steps",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		o, closer, err := buildOrchestrator()
		if err != nil {
			return err
		}
		defer closer()

		ctx, cancel := cmdContext(cmd)
		defer cancel()

		payload, err := o.Decompose(ctx, projectID, pathName, args[0], decomposeLvl)
		if err != nil {
			return err
		}
		return printJSON(payload)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show tree progress",
	RunE: func(cmd *cobra.Command, args []string) error {
		o, closer, err := buildOrchestrator()
		if err != nil {
			return err
		}
		defer closer()

		st, err := o.Status(projectID, pathName)
		if err != nil {
			var nfe *types.TreeNotFoundError
			if errors.As(err, &nfe) {
				fmt.Printf("No tree for %s/%s yet. Run `forest build \"your goal\"`.\n", projectID, pathName)
				return nil
			}
			return err
		}
		if asJSON {
			return printJSON(st)
		}

		fmt.Printf("%s (complexity %d/10)\n", st.Goal, st.Complexity)
		fmt.Printf("Progress: %d/%d tasks, %d workable now\n\n", st.CompletedTasks, st.TotalTasks, st.EligibleTasks)
		for _, b := range st.Branches {
			fmt.Printf("  %-28s %d/%d\n", b.Name, b.Completed, b.Total)
		}
		return nil
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("config already exists at %s", configPath)
		}
		if err := config.Default(workspace).Save(configPath); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", configPath)
		return nil
	},
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	for _, cmd := range []*cobra.Command{buildCmd, nextCmd, completeCmd, decomposeCmd, statusCmd} {
		cmd.Flags().StringVarP(&projectID, "project", "p", "default", "project id")
		cmd.Flags().StringVar(&pathName, "path", "", "path name within the project")
	}

	buildCmd.Flags().StringSliceVar(&focusAreas, "focus", nil, "focus areas weighting complexity analysis")

	nextCmd.Flags().IntVarP(&energyLevel, "energy", "e", 3, "current energy level (1-5)")
	nextCmd.Flags().StringVarP(&timeAvailable, "time", "t", "", "time available, e.g. \"30 minutes\"")
	nextCmd.Flags().StringVar(&recentContext, "context", "", "what you are doing or thinking about right now")

	completeCmd.Flags().StringVar(&outcomeNote, "note", "", "outcome note recorded with the completion")

	decomposeCmd.Flags().StringVar(&decomposeLvl, "level", "micro_particles",
		"decomposition level: micro_particles, nano_actions or context_adaptive_primitives")
}
