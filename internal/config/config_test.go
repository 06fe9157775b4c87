package config

import (
	"testing"

	"github.com/mansoorceksport/paywall/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("FIREBASE_PROJECT_ID", "paywall-test")
	t.Setenv("FIREBASE_PRIVATE_KEY", "a2V5")
	t.Setenv("FIREBASE_CLIENT_EMAIL", "svc@paywall-test.iam.gserviceaccount.com")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.True(t, cfg.Billing.SimulatorEnabled)

	monthly, err := cfg.PriceTable().Lookup(domain.PlanMonthly)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanPricing{Original: 999, Discounted: 699}, monthly)

	annual, err := cfg.PriceTable().Lookup(domain.PlanAnnual)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanPricing{Original: 9999, Discounted: 6999}, annual)
}

func TestLoad_PricingOverride(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PRICE_MONTHLY", "12.50")
	t.Setenv("PRICE_MONTHLY_DISCOUNTED", "8.75")

	cfg, err := Load()
	require.NoError(t, err)

	monthly, err := cfg.PriceTable().Lookup(domain.PlanMonthly)
	require.NoError(t, err)
	assert.Equal(t, domain.Money(1250), monthly.Original)
	assert.Equal(t, domain.Money(875), monthly.Discounted)
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "missing firebase project",
			env:     map[string]string{"FIREBASE_PROJECT_ID": ""},
			wantErr: "FIREBASE_PROJECT_ID",
		},
		{
			name:    "paddle without api key",
			env:     map[string]string{"BILLING_SIMULATOR_ENABLED": "false"},
			wantErr: "PADDLE_API_KEY",
		},
		{
			name: "paddle without price ids",
			env: map[string]string{
				"BILLING_SIMULATOR_ENABLED": "false",
				"PADDLE_API_KEY":            "key",
				"PADDLE_WEBHOOK_SECRET":     "secret",
			},
			wantErr: "PADDLE_PRICE_ID_MONTHLY",
		},
		{
			name:    "discount not lower than original",
			env:     map[string]string{"PRICE_ANNUAL_DISCOUNTED": "120"},
			wantErr: "invalid pricing",
		},
		{
			name:    "postmark without sender",
			env:     map[string]string{"POSTMARK_SERVER_TOKEN": "token"},
			wantErr: "EMAIL_FROM",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseHeaders(t *testing.T) {
	headers := parseHeaders("Authorization=Basic abc, X-Scope = tenant ,broken")
	assert.Equal(t, map[string]string{
		"Authorization": "Basic abc",
		"X-Scope":       "tenant",
	}, headers)
}
