package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithdrawalCanTransitionTo(t *testing.T) {
	assert.True(t, WithdrawalCanTransitionTo(WithdrawalStatusPending, WithdrawalStatusCompleted))
	assert.True(t, WithdrawalCanTransitionTo(WithdrawalStatusPending, WithdrawalStatusFailed))

	// Terminal states are final in both directions.
	assert.False(t, WithdrawalCanTransitionTo(WithdrawalStatusCompleted, WithdrawalStatusFailed))
	assert.False(t, WithdrawalCanTransitionTo(WithdrawalStatusCompleted, WithdrawalStatusPending))
	assert.False(t, WithdrawalCanTransitionTo(WithdrawalStatusFailed, WithdrawalStatusCompleted))
	assert.False(t, WithdrawalCanTransitionTo(WithdrawalStatusFailed, WithdrawalStatusPending))
}
