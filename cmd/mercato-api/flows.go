package main

import (
	"context"
	"time"

	"github.com/mercato/mercato/pkg/models"
	"github.com/mercato/mercato/pkg/registry"
	"github.com/mercato/mercato/pkg/workflow"
)

// registerWorkflows wires the built-in demo flow. Embedders replace this with
// their own definitions.
func registerWorkflows(reg *registry.Registry) error {
	builder := workflow.NewBuilder("order-fulfillment",
		workflow.WithVersion("1"),
		workflow.WithRetentionTime(24*time.Hour),
	)

	err := builder.AddStep(&models.StepDefinition{
		Name: "reserve-inventory",
		Invoke: func(ctx context.Context, input models.StepInput) (*models.StepResponse, error) {
			return models.NewStepResponse(map[string]any{"reserved": true}), nil
		},
		Compensate: func(ctx context.Context, input models.CompensateInput) error {
			return nil
		},
	})
	if err != nil {
		return err
	}

	err = builder.AddStep(&models.StepDefinition{
		Name: "capture-payment",
		Invoke: func(ctx context.Context, input models.StepInput) (*models.StepResponse, error) {
			return models.NewStepResponse(map[string]any{"captured": true}), nil
		},
		Compensate: func(ctx context.Context, input models.CompensateInput) error {
			return nil
		},
	}, "reserve-inventory")
	if err != nil {
		return err
	}

	// Fulfillment is confirmed out of band through the steps/success endpoint.
	err = builder.AddStep(&models.StepDefinition{
		Name:  "await-shipment",
		Async: true,
		Invoke: func(ctx context.Context, input models.StepInput) (*models.StepResponse, error) {
			return nil, nil
		},
	}, "capture-payment")
	if err != nil {
		return err
	}

	_, err = builder.BuildAndRegister(reg)

	return err
}
