package domain_test

import (
	"testing"

	"github.com/boddenberg/mining-ledger/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckTransition(t *testing.T) {
	tests := []struct {
		from, to domain.RequestStatus
		ok       bool
	}{
		{domain.RequestPending, domain.RequestApproved, true},
		{domain.RequestPending, domain.RequestRejected, true},
		{domain.RequestApproved, domain.RequestPending, true},
		{domain.RequestApproved, domain.RequestRejected, false},
		{domain.RequestRejected, domain.RequestApproved, false},
		{domain.RequestRejected, domain.RequestPending, false},
		{domain.RequestPending, domain.RequestPending, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := domain.CheckTransition(tt.from, tt.to)
			assert.Equal(t, tt.ok, tt.from.CanTransitionTo(tt.to))
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			var ve *domain.ErrValidation
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, "status", ve.Field)
		})
	}
}
