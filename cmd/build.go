package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/audience-cli/internal/model"
	"github.com/sells-group/audience-cli/internal/wizard"
)

// buildPlan is a scripted run through the audience wizard.
type buildPlan struct {
	Source        string        `yaml:"source"`
	SizeMethod    string        `yaml:"size_method"`
	Name          string        `yaml:"name"`
	SelectionSize int           `yaml:"selection_size"`
	Toggle        []string      `yaml:"toggle"`
	Reorder       []reorderStep `yaml:"reorder"`
	Watch         bool          `yaml:"watch"`
}

type reorderStep struct {
	From int `yaml:"from"`
	To   int `yaml:"to"`
}

var (
	buildPlanPath   string
	buildSource     string
	buildSizeMethod string
	buildName       string
	buildSelection  int
	buildToggle     []string
	buildWatch      bool
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build and submit a lookalike audience without the UI",
	Long:  "Runs the audience wizard from flags or a YAML plan: selects the source and size, calculates feature importance, applies toggles and reorders, then submits the job.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		plan, err := resolvePlan(cmd)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "build")
		if err != nil {
			return err
		}
		defer env.Close()

		selection := plan.SelectionSize
		if selection <= 0 {
			selection = cfg.Wizard.SelectionSize
		}
		wz := wizard.New(env.Gateway, env.Sources,
			wizard.WithSizeMethods(env.SizeMethods),
			wizard.WithSelectionSize(selection),
		)

		job, err := runPlan(ctx, wz, plan)
		if err != nil {
			return err
		}

		if a, ok := wz.State().Audience(); ok {
			if _, err := env.Store.CreateAudience(ctx, a); err != nil {
				zap.L().Error("failed to record audience", zap.String("job_id", job.JobID), zap.Error(err))
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created job %s\n", job.JobID) //nolint:errcheck

		if !plan.Watch {
			return nil
		}
		return watchJobs(ctx, env.Store, env.Progress, cmd.OutOrStdout(), []string{job.JobID},
			map[string]model.ProgressSample{job.JobID: job.InitialProgress})
	},
}

func init() {
	f := buildCmd.Flags()
	f.StringVar(&buildPlanPath, "plan", "", "path to a YAML build plan")
	f.StringVar(&buildSource, "source", "", "seed source id")
	f.StringVar(&buildSizeMethod, "size-method", "", "size and method id")
	f.StringVar(&buildName, "name", "", "audience name")
	f.IntVar(&buildSelection, "selection-size", 0, "number of top features selected initially (default from config)")
	f.StringSliceVar(&buildToggle, "toggle", nil, "feature keys to toggle after calculation")
	f.BoolVar(&buildWatch, "watch", false, "follow the created job until it finishes")
	rootCmd.AddCommand(buildCmd)
}

// resolvePlan loads --plan when given and lets explicit flags override it.
func resolvePlan(cmd *cobra.Command) (buildPlan, error) {
	var plan buildPlan
	if buildPlanPath != "" {
		p, err := loadPlan(buildPlanPath)
		if err != nil {
			return buildPlan{}, err
		}
		plan = p
	}

	flags := cmd.Flags()
	if flags.Changed("source") {
		plan.Source = buildSource
	}
	if flags.Changed("size-method") {
		plan.SizeMethod = buildSizeMethod
	}
	if flags.Changed("name") {
		plan.Name = buildName
	}
	if flags.Changed("selection-size") {
		plan.SelectionSize = buildSelection
	}
	if flags.Changed("toggle") {
		plan.Toggle = buildToggle
	}
	if flags.Changed("watch") {
		plan.Watch = buildWatch
	}
	return plan, plan.validate()
}

func loadPlan(path string) (buildPlan, error) {
	f, err := os.Open(path)
	if err != nil {
		return buildPlan{}, eris.Wrapf(err, "open plan %s", path)
	}
	defer f.Close() //nolint:errcheck

	var plan buildPlan
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&plan); err != nil {
		return buildPlan{}, eris.Wrapf(err, "parse plan %s", path)
	}
	return plan, nil
}

func (p buildPlan) validate() error {
	var missing []string
	if strings.TrimSpace(p.Source) == "" {
		missing = append(missing, "source")
	}
	if strings.TrimSpace(p.SizeMethod) == "" {
		missing = append(missing, "size_method")
	}
	if strings.TrimSpace(p.Name) == "" {
		missing = append(missing, "name")
	}
	if len(missing) > 0 {
		return eris.Errorf("build plan is missing %s", strings.Join(missing, ", "))
	}
	if p.SelectionSize < 0 {
		return eris.New("build plan selection_size must be >= 0")
	}
	return nil
}

// runPlan walks wz through every step of plan and submits the audience.
func runPlan(ctx context.Context, wz *wizard.Wizard, plan buildPlan) (*model.JobDescriptor, error) {
	steps := []struct {
		name string
		fn   func() error
	}{
		{"select source", func() error { return wz.SelectSource(ctx, plan.Source) }},
		{"advance", wz.Next},
		{"select size method", func() error { return wz.SelectSizeMethod(plan.SizeMethod) }},
		{"advance", wz.Next},
		{"calculate", func() error { return wz.Calculate(ctx) }},
		{"advance", wz.Next},
		{"toggle features", func() error {
			for _, key := range plan.Toggle {
				if err := wz.ToggleFeature(key); err != nil {
					return err
				}
			}
			return nil
		}},
		{"advance", wz.Next},
		{"reorder features", func() error {
			for _, r := range plan.Reorder {
				if err := wz.ReorderFeature(r.From, r.To); err != nil {
					return err
				}
			}
			return nil
		}},
		{"advance", wz.Next},
		{"set name", func() error { return wz.SetName(plan.Name) }},
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			return nil, eris.Wrapf(err, "build: %s", s.name)
		}
	}

	job, err := wz.Submit(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "build: submit")
	}
	return job, nil
}
