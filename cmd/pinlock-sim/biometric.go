package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/MrEthical07/goPin/biometric"
)

// scriptedBiometric stands in for the platform sensor and always answers
// with the configured result.
type scriptedBiometric struct {
	result biometric.Result
}

func (p *scriptedBiometric) IsAvailable(context.Context) bool {
	return p.result != biometric.ResultUnavailable
}

func (p *scriptedBiometric) NewHandle(context.Context) (*biometric.Handle, error) {
	return biometric.NewHandle(uuid.NewString()), nil
}

func (p *scriptedBiometric) Authenticate(ctx context.Context, _ *biometric.Handle) (biometric.Result, error) {
	if err := ctx.Err(); err != nil {
		return biometric.ResultCancelled, err
	}
	return p.result, nil
}

func parseBiometricResult(s string) (biometric.Result, error) {
	for _, r := range []biometric.Result{
		biometric.ResultSuccess,
		biometric.ResultFailed,
		biometric.ResultUnavailable,
		biometric.ResultCancelled,
	} {
		if r.String() == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown GOPIN_BIOMETRIC_RESULT %q", s)
}
