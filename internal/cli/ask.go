package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/spf13/cobra"

	"github.com/malbeclabs/chartbot/internal/dataset"
	"github.com/malbeclabs/chartbot/internal/feedback"
	"github.com/malbeclabs/chartbot/internal/pipeline"
	"github.com/malbeclabs/chartbot/internal/sandbox"
	"github.com/malbeclabs/chartbot/internal/synth"
)

// AskCmd runs one request through the pipeline without Slack.
type AskCmd struct {
	// Overrides used by tests.
	llm     synth.LLMClient
	runner  sandbox.Runner
	harness []byte
}

func NewAskCmd() *AskCmd {
	return &AskCmd{}
}

func (c *AskCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Generate, run and explain an analysis for a question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := globalFlags(cmd)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			contextPath, err := flags.GetString("context-path")
			if err != nil {
				return fmt.Errorf("failed to get context-path flag: %w", err)
			}
			chartPath, err := flags.GetString("chart-path")
			if err != nil {
				return fmt.Errorf("failed to get chart-path flag: %w", err)
			}
			budget, err := flags.GetDuration("budget")
			if err != nil {
				return fmt.Errorf("failed to get budget flag: %w", err)
			}
			sandboxStr, err := flags.GetString("sandbox")
			if err != nil {
				return fmt.Errorf("failed to get sandbox flag: %w", err)
			}
			python, err := flags.GetString("python")
			if err != nil {
				return fmt.Errorf("failed to get python flag: %w", err)
			}
			image, err := flags.GetString("image")
			if err != nil {
				return fmt.Errorf("failed to get image flag: %w", err)
			}
			memoryStr, err := flags.GetString("memory")
			if err != nil {
				return fmt.Errorf("failed to get memory flag: %w", err)
			}
			memory, err := sandbox.ParseMemory(memoryStr)
			if err != nil {
				return err
			}
			cpuSeconds, err := flags.GetUint64("cpu-seconds")
			if err != nil {
				return fmt.Errorf("failed to get cpu-seconds flag: %w", err)
			}
			model, err := flags.GetString("model")
			if err != nil {
				return fmt.Errorf("failed to get model flag: %w", err)
			}
			vote, err := flags.GetString("vote")
			if err != nil {
				return fmt.Errorf("failed to get vote flag: %w", err)
			}

			var verdict feedback.Verdict
			if vote != "" {
				if verdict, err = feedback.ParseVerdict(vote); err != nil {
					return err
				}
			}

			ctx, cancel := signal.NotifyContext(cmdContext(cmd), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			store, err := dataset.Open(ctx, g.dataset)
			if err != nil {
				return fmt.Errorf("dataset is not ready, run 'chartbot-cli load' first: %w", err)
			}
			_ = store.Close()

			llm := c.llm
			if llm == nil {
				apiKey := os.Getenv("ANTHROPIC_API_KEY")
				if apiKey == "" {
					return errors.New("ANTHROPIC_API_KEY is required")
				}
				llm = synth.NewAnthropicLLMClient(g.log, apiKey, anthropic.Model(model), 0)
			}
			runner := c.runner
			if runner == nil {
				kind, err := sandbox.ParseKind(sandboxStr)
				if err != nil {
					return err
				}
				if runner, err = sandbox.NewRunner(g.log, sandbox.RunnerConfig{
					Kind:        kind,
					Interpreter: python,
					Image:       image,
					MemoryBytes: memory,
					CPUSeconds:  cpuSeconds,
				}); err != nil {
					return err
				}
			}

			stack, err := pipeline.NewStack(pipeline.StackConfig{
				Logger:        g.log,
				LLM:           llm,
				Runner:        runner,
				DatasetPath:   g.dataset.Path,
				DatasetEngine: g.dataset.Engine,
				ContextPath:   contextPath,
				FeedbackPath:  g.feedbackPath,
				ChartPath:     chartPath,
				Budget:        budget,
				Harness:       c.harness,
			})
			if err != nil {
				return err
			}

			req := stack.Pipeline.NewRequest(strings.Join(args, " "), "", "", os.Getenv("USER"))
			res, err := stack.Pipeline.Run(ctx, req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Request: %s\n", req.ID)
			if res.Explanation != "" {
				fmt.Fprintf(out, "\n%s\n", res.Explanation)
			}
			if res.Outcome.Stdout != "" {
				fmt.Fprintf(out, "\n--- output ---\n%s", res.Outcome.Stdout)
				if !strings.HasSuffix(res.Outcome.Stdout, "\n") {
					fmt.Fprintln(out)
				}
			}

			if !res.Outcome.Succeeded() {
				if res.Outcome.Stderr != "" {
					fmt.Fprintf(cmd.ErrOrStderr(), "--- stderr ---\n%s\n", strings.TrimRight(res.Outcome.Stderr, "\n"))
				}
				return fmt.Errorf("execution %s after %s: %w", res.Outcome.Status, res.Outcome.Duration.Round(time.Millisecond), res.Outcome.Err)
			}
			fmt.Fprintf(out, "\nChart written to %s\n", res.Outcome.ChartPath)

			if verdict != "" {
				if err := stack.Pipeline.RecordFeedback(ctx, req.ID, os.Getenv("USER"), verdict); err != nil {
					return fmt.Errorf("failed to record feedback: %w", err)
				}
				fmt.Fprintf(out, "Feedback %q recorded in %s\n", verdict, stack.Feedback.Path())
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.String("context-path", os.Getenv("CHARTBOT_CONTEXT_PATH"), "document describing the tables, replaces the generated schema")
	flags.String("chart-path", envOr("CHARTBOT_CHART_PATH", sandbox.DefaultChartPath), "where the chart is written")
	flags.Duration("budget", sandbox.DefaultBudget, "wall-clock limit for running the program")
	flags.String("sandbox", envOr("CHARTBOT_SANDBOX", string(sandbox.KindProcess)), "isolation for the program (process, docker)")
	flags.String("python", envOr("CHARTBOT_PYTHON", sandbox.DefaultInterpreter), "python interpreter for the process sandbox")
	flags.String("image", envOr("CHARTBOT_SANDBOX_IMAGE", sandbox.DefaultDockerImage), "image for the docker sandbox")
	flags.String("memory", os.Getenv("CHARTBOT_SANDBOX_MEMORY"), "memory limit for the program, e.g. 2g (default 4g for process, 1g for docker)")
	flags.Uint64("cpu-seconds", 0, "CPU time limit for the process sandbox (default 120)")
	flags.String("model", envOr("CHARTBOT_MODEL", string(synth.DefaultModel)), "language model")
	flags.String("vote", "", "record feedback for a successful run (yes, no, dont_know)")
	return cmd
}
