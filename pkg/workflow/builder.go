// Package workflow implements the execution engine: the definition builder
// that compiles step graphs into staged plans, and the orchestrator that
// drives transactions through them with persistence, async suspension and
// compensation.
package workflow

import (
	"fmt"
	"time"

	"github.com/mercato/mercato/pkg/models"
	"github.com/mercato/mercato/pkg/registry"
)

// Builder records a workflow's step-invocation graph and compiles it once
// into an immutable staged execution plan. It replaces implicit composition
// through shared mutable state with an explicit data structure.
type Builder struct {
	name          string
	version       string
	retentionTime time.Duration
	inputSchema   map[string]any

	order []string
	steps map[string]*models.StepRef
}

type BuilderOption func(*Builder)

// WithVersion tags the definition with a version label.
func WithVersion(version string) BuilderOption {
	return func(b *Builder) { b.version = version }
}

// WithRetentionTime sets how long completed execution records are kept.
func WithRetentionTime(d time.Duration) BuilderOption {
	return func(b *Builder) { b.retentionTime = d }
}

// WithInputSchema attaches a JSON schema the input payload must satisfy.
func WithInputSchema(schema map[string]any) BuilderOption {
	return func(b *Builder) { b.inputSchema = schema }
}

func NewBuilder(name string, opts ...BuilderOption) *Builder {
	b := &Builder{
		name:    name,
		version: "1",
		steps:   make(map[string]*models.StepRef),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// AddStep wires a step into the workflow. dependsOn names the upstream steps
// whose outputs feed this step's input; a step without dependencies reads
// only the original payload.
func (b *Builder) AddStep(step *models.StepDefinition, dependsOn ...string) error {
	if step == nil || step.Name == "" {
		return fmt.Errorf("%w: step name is required", ErrUnknownStep)
	}

	if _, exists := b.steps[step.Name]; exists {
		return fmt.Errorf("%w: %s in workflow %s", ErrDuplicateStepName, step.Name, b.name)
	}

	b.steps[step.Name] = &models.StepRef{Step: step, DependsOn: dependsOn}
	b.order = append(b.order, step.Name)

	return nil
}

// Build validates the wiring and compiles the staged plan. Steps land in the
// earliest stage where all of their dependencies are already satisfied.
func (b *Builder) Build() (*models.WorkflowDefinition, error) {
	for name, ref := range b.steps {
		for _, dep := range ref.DependsOn {
			if _, ok := b.steps[dep]; !ok {
				return nil, fmt.Errorf("%w: step %s depends on %s", ErrUnknownStep, name, dep)
			}
		}
	}

	stages, err := b.compileStages()
	if err != nil {
		return nil, err
	}

	return &models.WorkflowDefinition{
		Name:          b.name,
		Version:       b.version,
		RetentionTime: b.retentionTime,
		InputSchema:   b.inputSchema,
		Steps:         b.steps,
		Stages:        stages,
	}, nil
}

// BuildAndRegister compiles the definition and registers it in one go.
func (b *Builder) BuildAndRegister(reg *registry.Registry) (*models.WorkflowDefinition, error) {
	def, err := b.Build()
	if err != nil {
		return nil, err
	}

	err = reg.Register(def)
	if err != nil {
		return nil, err
	}

	return def, nil
}

// compileStages partitions the graph into dependency-ordered stages (Kahn's
// algorithm by levels). Step declaration order is preserved within a stage so
// plans are deterministic.
func (b *Builder) compileStages() ([][]string, error) {
	indegree := make(map[string]int, len(b.steps))
	for name, ref := range b.steps {
		indegree[name] = len(ref.DependsOn)
	}

	dependents := make(map[string][]string)

	for _, name := range b.order {
		for _, dep := range b.steps[name].DependsOn {
			dependents[dep] = append(dependents[dep], name)
		}
	}

	placed := make(map[string]bool, len(b.steps))

	var stages [][]string

	for len(placed) < len(b.steps) {
		var stage []string

		for _, name := range b.order {
			if !placed[name] && indegree[name] == 0 {
				stage = append(stage, name)
			}
		}

		if len(stage) == 0 {
			return nil, fmt.Errorf("%w: workflow %s", ErrCyclicDependency, b.name)
		}

		for _, name := range stage {
			placed[name] = true

			for _, dependent := range dependents[name] {
				indegree[dependent]--
			}
		}

		stages = append(stages, stage)
	}

	return stages, nil
}
