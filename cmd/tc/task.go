package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/basket/taskcopilot/internal/persistence"
)

func newTaskCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Create, claim and track tasks",
	}
	cmd.AddCommand(
		newTaskCreateCmd(a),
		newTaskListCmd(a),
		newTaskGetCmd(a),
		newTaskUpdateCmd(a),
		newTaskClaimCmd(a),
		newTaskReleaseCmd(a),
		newTaskNextCmd(a),
		newTaskBlockersCmd(a),
		newTaskDepsCmd(a),
	)
	return cmd
}

func newTaskCreateCmd(a *app) *cobra.Command {
	var (
		in          persistence.CreateTaskInput
		prd, parent int64
		stream      string
		priority    int
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a pending task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.open(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			in.PRDID = optionalID(cmd, "prd", prd)
			in.ParentTaskID = optionalID(cmd, "parent", parent)
			if in.StreamID, err = a.streamRef(cmd, stream); err != nil {
				return err
			}
			if cmd.Flags().Changed("priority") {
				in.Priority = &priority
			}
			task, err := store.CreateTask(ctx, in)
			if err != nil {
				return err
			}
			return a.printer.Result(task, func() {
				a.printer.Success("Created task #%d: %s", task.ID, task.Title)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.Title, "title", "", "task title")
	f.StringVar(&in.Description, "description", "", "task description")
	f.Int64Var(&prd, "prd", 0, "associated PRD id")
	f.StringVar(&stream, "stream", "", "associated stream id or name")
	f.Int64Var(&parent, "parent", 0, "parent task id")
	f.StringVar(&in.Agent, "agent", "", "assigned agent")
	f.IntVar(&priority, "priority", persistence.DefaultPriority, "priority 0-3, 0 is most urgent")
	f.StringVar(&in.Metadata, "metadata", "", "JSON metadata")
	return cmd
}

func newTaskListCmd(a *app) *cobra.Command {
	var (
		status, agent, stream string
		prd                   int64
		limit                 int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks by priority",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.open(cmd)
			if err != nil {
				return err
			}
			f := persistence.TaskFilter{Agent: agent, PRDID: optionalID(cmd, "prd", prd), Limit: limit}
			if status != "" {
				if f.Status, err = persistence.ParseTaskStatus(status); err != nil {
					return err
				}
			}
			if f.StreamID, err = a.streamRef(cmd, stream); err != nil {
				return err
			}
			tasks, err := store.ListTasks(cmd.Context(), f)
			if err != nil {
				return err
			}
			if tasks == nil {
				tasks = []persistence.Task{}
			}
			return a.printer.Result(tasks, func() { a.printTasks(tasks) })
		},
	}
	f := cmd.Flags()
	f.StringVar(&status, "status", "", "filter by status")
	f.StringVar(&agent, "agent", "", "filter by assigned agent")
	f.StringVar(&stream, "stream", "", "filter by stream id or name")
	f.Int64Var(&prd, "prd", 0, "filter by PRD id")
	f.IntVar(&limit, "limit", 0, "maximum tasks to list")
	return cmd
}

func newTaskGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one task with its dependencies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("task", args[0])
			if err != nil {
				return err
			}
			store, err := a.open(cmd)
			if err != nil {
				return err
			}
			task, err := store.GetTask(cmd.Context(), id)
			if err != nil {
				return err
			}
			return a.printer.Result(task, func() { a.printTask(task) })
		},
	}
}

func newTaskUpdateCmd(a *app) *cobra.Command {
	var (
		status, agent, description string
		priority                   int
	)
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change status, assignment, description or priority",
		Long: `Change a task's status, assigned agent, description or priority.
Ownership is not changed here: use claim and release for that.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("task", args[0])
			if err != nil {
				return err
			}
			var in persistence.UpdateTaskInput
			if cmd.Flags().Changed("status") {
				st, err := persistence.ParseTaskStatus(status)
				if err != nil {
					return err
				}
				in.Status = &st
			}
			if cmd.Flags().Changed("agent") {
				in.Agent = &agent
			}
			if cmd.Flags().Changed("description") {
				in.Description = &description
			}
			if cmd.Flags().Changed("priority") {
				in.Priority = &priority
			}
			store, err := a.open(cmd)
			if err != nil {
				return err
			}
			task, err := store.UpdateTask(cmd.Context(), id, in)
			if err != nil {
				return err
			}
			return a.printer.Result(task, func() {
				if in.Empty() {
					a.printer.Info("Nothing to update.\n")
					return
				}
				a.printer.Success("Updated task #%d: %s [%s]", task.ID, task.Title, task.Status)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&status, "status", "", "new status")
	f.StringVar(&agent, "agent", "", "new assigned agent (empty clears)")
	f.StringVar(&description, "description", "", "new description")
	f.IntVar(&priority, "priority", 0, "new priority 0-3")
	return cmd
}

func newTaskClaimCmd(a *app) *cobra.Command {
	var agent string
	cmd := &cobra.Command{
		Use:   "claim <id>",
		Short: "Take exclusive ownership of a pending task",
		Long: `Claim a pending task for an agent. Exactly one of any number of
concurrent claimants succeeds; the others exit with code 3.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("task", args[0])
			if err != nil {
				return err
			}
			store, err := a.open(cmd)
			if err != nil {
				return err
			}
			who, err := a.agent(agent)
			if err != nil {
				return err
			}
			task, err := store.Claim(cmd.Context(), id, who)
			if err != nil {
				return err
			}
			return a.printer.Result(task, func() {
				a.printer.Success("Task #%d claimed by %s", task.ID, who)
			})
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "claiming agent (default TC_AGENT)")
	return cmd
}

func newTaskReleaseCmd(a *app) *cobra.Command {
	var agent string
	cmd := &cobra.Command{
		Use:   "release <id>",
		Short: "Give a claimed task back to the pending pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("task", args[0])
			if err != nil {
				return err
			}
			store, err := a.open(cmd)
			if err != nil {
				return err
			}
			who, err := a.agent(agent)
			if err != nil {
				return err
			}
			task, err := store.Release(cmd.Context(), id, who)
			if err != nil {
				return err
			}
			return a.printer.Result(task, func() {
				a.printer.Success("Task #%d released by %s", task.ID, who)
			})
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "releasing agent (default TC_AGENT)")
	return cmd
}

// maxNextClaimAttempts bounds `task next --claim` when other agents keep
// winning the race for the selected task.
const maxNextClaimAttempts = 5

func newTaskNextCmd(a *app) *cobra.Command {
	var (
		stream, agent string
		claim         bool
	)
	cmd := &cobra.Command{
		Use:   "next",
		Short: "Show the most urgent task whose dependencies are all completed",
		Long: `Show the pending task to work on next: every dependency completed,
lowest priority value first, oldest first on ties. The answer is only a
hint; use --claim to select and claim in one step.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.open(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			f := persistence.NextFilter{Agent: agent}
			if f.StreamID, err = a.streamRef(cmd, stream); err != nil {
				return err
			}
			if f.Agent == "" {
				f.Agent = a.cfg.Agent
			}
			var who string
			if claim {
				if who, err = a.agent(agent); err != nil {
					return err
				}
			}

			var task *persistence.Task
			for attempt := 0; ; attempt++ {
				task, err = store.Next(ctx, f)
				if err != nil || task == nil || !claim {
					break
				}
				task, err = store.Claim(ctx, task.ID, who)
				if !errors.Is(err, persistence.ErrConflict) || attempt+1 >= maxNextClaimAttempts {
					break
				}
			}
			if err != nil {
				return err
			}
			return a.printer.Result(task, func() {
				if task == nil {
					a.printer.Info("No eligible tasks.\n")
					return
				}
				if claim {
					a.printer.Success("Task #%d claimed by %s", task.ID, who)
				}
				a.printTask(task)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&stream, "stream", "", "only tasks in this stream (id or name)")
	f.StringVar(&agent, "agent", "", "only tasks assigned to this agent or to nobody")
	f.BoolVar(&claim, "claim", false, "claim the selected task")
	return cmd
}

func newTaskBlockersCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "blockers <id>",
		Short: "List the dependencies that are not yet completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("task", args[0])
			if err != nil {
				return err
			}
			store, err := a.open(cmd)
			if err != nil {
				return err
			}
			deps, err := store.IncompleteDependencies(cmd.Context(), id)
			if err != nil {
				return err
			}
			if deps == nil {
				deps = []persistence.Dependency{}
			}
			return a.printer.Result(deps, func() {
				if len(deps) == 0 {
					a.printer.Success("Task #%d is not blocked", id)
					return
				}
				rows := make([][]string, 0, len(deps))
				for _, d := range deps {
					rows = append(rows, []string{fmt.Sprint(d.DependsOn), d.Title, a.printer.Status(string(d.Status))})
				}
				a.printer.Table([]string{"ID", "TITLE", "STATUS"}, rows)
			})
		},
	}
}

func newTaskDepsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deps",
		Short: "Manage task dependencies",
	}
	edge := func(use, short string, apply func(s *persistence.Store, cmd *cobra.Command, id, on int64) error, done string) *cobra.Command {
		var dependsOn int64
		c := &cobra.Command{
			Use:   use + " <id>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID("task", args[0])
				if err != nil {
					return err
				}
				if !cmd.Flags().Changed("depends-on") {
					return fmt.Errorf("%w: --depends-on is required", persistence.ErrValidation)
				}
				store, err := a.open(cmd)
				if err != nil {
					return err
				}
				if err := apply(store, cmd, id, dependsOn); err != nil {
					return err
				}
				return a.printer.Result(map[string]int64{"task_id": id, "depends_on": dependsOn}, func() {
					a.printer.Success(done, id, dependsOn)
				})
			},
		}
		c.Flags().Int64Var(&dependsOn, "depends-on", 0, "dependency task id")
		return c
	}
	cmd.AddCommand(
		edge("add", "Make a task wait for another",
			func(s *persistence.Store, cmd *cobra.Command, id, on int64) error {
				return s.AddDependency(cmd.Context(), id, on)
			}, "Task #%d now depends on task #%d"),
		edge("remove", "Drop a dependency",
			func(s *persistence.Store, cmd *cobra.Command, id, on int64) error {
				return s.RemoveDependency(cmd.Context(), id, on)
			}, "Task #%d no longer depends on task #%d"),
	)
	return cmd
}
