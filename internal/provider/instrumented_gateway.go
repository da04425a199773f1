package provider

import (
	"context"

	"github.com/soundhoard/soundhoard/internal/telemetry"
)

// InstrumentedGateway wraps a SearchGateway with telemetry.
type InstrumentedGateway struct {
	gateway      SearchGateway
	telemetry    *telemetry.Telemetry
	providerName string
}

// NewInstrumentedGateway creates a new instrumented search gateway.
func NewInstrumentedGateway(gateway SearchGateway, tel *telemetry.Telemetry, providerName string) *InstrumentedGateway {
	return &InstrumentedGateway{
		gateway:      gateway,
		telemetry:    tel,
		providerName: providerName,
	}
}

// Search runs a search with telemetry.
func (g *InstrumentedGateway) Search(ctx context.Context, query Query) ([]Candidate, error) {
	var result []Candidate

	var err error

	instrumentedErr := g.telemetry.InstrumentProviderOperation(ctx, g.providerName, "search", func(ctx context.Context) error {
		result, err = g.gateway.Search(ctx, query)

		return err
	})
	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

// StartTransfer starts a transfer with telemetry.
func (g *InstrumentedGateway) StartTransfer(ctx context.Context, candidate Candidate) (TransferHandle, error) {
	var result TransferHandle

	var err error

	instrumentedErr := g.telemetry.InstrumentProviderOperation(ctx, g.providerName, "start_transfer", func(ctx context.Context) error {
		result, err = g.gateway.StartTransfer(ctx, candidate)

		return err
	})
	if instrumentedErr != nil {
		return TransferHandle{}, instrumentedErr
	}

	return result, nil
}

// PollTransfer polls a transfer with telemetry.
func (g *InstrumentedGateway) PollTransfer(ctx context.Context, handle TransferHandle) (TransferStatus, error) {
	var result TransferStatus

	var err error

	instrumentedErr := g.telemetry.InstrumentProviderOperation(ctx, g.providerName, "poll_transfer", func(ctx context.Context) error {
		result, err = g.gateway.PollTransfer(ctx, handle)

		return err
	})
	if instrumentedErr != nil {
		return TransferStatus{}, instrumentedErr
	}

	return result, nil
}

// CancelTransfer cancels a transfer with telemetry.
func (g *InstrumentedGateway) CancelTransfer(ctx context.Context, handle TransferHandle) error {
	return g.telemetry.InstrumentProviderOperation(ctx, g.providerName, "cancel_transfer", func(ctx context.Context) error {
		return g.gateway.CancelTransfer(ctx, handle)
	})
}
