package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flui/internal/app"
	"flui/internal/config"
	"flui/internal/db"
)

var cliNow = time.Date(2026, 5, 10, 14, 0, 0, 0, time.UTC)

type harness struct {
	store *db.MemoryStore
	ssm   *fakeSSM
}

func newHarness() *harness {
	return &harness{store: db.NewMemoryStore(), ssm: &fakeSSM{params: map[string]string{}}}
}

// run executes ledgerctl with args against the harness store.
func (h *harness) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cfg := &config.Config{
		Environment: "local",
		Database:    config.DatabaseConfig{Driver: config.DriverMemory},
		Entitlement: config.EntitlementConfig{
			UnknownFeaturePolicy: "deny",
			Locale:               "pt-BR",
			HighUsageThreshold:   0.8,
			RolloverBatchSize:    100,
			RolloverConcurrency:  2,
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	root := NewRootCmd(Options{
		Version: "test",
		In:      strings.NewReader(stdin),
		Out:     &out,
		Open: func(ctx context.Context) (*app.App, error) {
			return app.New(ctx, cfg, logger, app.WithStore(h.store), app.WithClock(func() time.Time { return cliNow }))
		},
		SSM: func(context.Context) (SSMClient, error) { return h.ssm, nil },
		Now: func() time.Time { return cliNow },
	})
	root.SetArgs(args)
	root.SetErr(io.Discard)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

type fakeSSM struct {
	params map[string]string
	types  map[string]ssmtypes.ParameterType
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	v, ok := f.params[aws.ToString(in.Name)]
	if !ok {
		return nil, &ssmtypes.ParameterNotFound{}
	}
	return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{Name: in.Name, Value: aws.String(v)}}, nil
}

func (f *fakeSSM) PutParameter(_ context.Context, in *ssm.PutParameterInput, _ ...func(*ssm.Options)) (*ssm.PutParameterOutput, error) {
	name := aws.ToString(in.Name)
	if _, ok := f.params[name]; ok && !aws.ToBool(in.Overwrite) {
		return nil, &ssmtypes.ParameterAlreadyExists{}
	}
	f.params[name] = aws.ToString(in.Value)
	if f.types == nil {
		f.types = map[string]ssmtypes.ParameterType{}
	}
	f.types[name] = in.Type
	return &ssm.PutParameterOutput{}, nil
}

func TestPlansAndPackages(t *testing.T) {
	h := newHarness()

	out, err := h.run(t, "", "plans")
	require.NoError(t, err)
	assert.Contains(t, out, "FREE")
	assert.Contains(t, out, "GROWTH")
	assert.Regexp(t, `PRO\s+100\s+5000\s+50`, out)

	out, err = h.run(t, "", "packages")
	require.NoError(t, err)
	assert.Regexp(t, `pack_m\s+Creator Pack\s+500\s+199 BRL`, out)
}

func TestProvisionShowConsume(t *testing.T) {
	h := newHarness()

	out, err := h.run(t, "", "provision", "acct_cli", "--tier", "growth")
	require.NoError(t, err)
	assert.Contains(t, out, "Provisioned acct_cli on GROWTH")

	_, err = h.run(t, "", "provision", "acct_cli")
	assert.Error(t, err, "second provision must conflict")

	out, err = h.run(t, "", "check", "acct_cli", "--action", "diagnosis")
	require.NoError(t, err)
	assert.Regexp(t, `Status:\s+GRANTED_MONTHLY`, out)
	assert.Regexp(t, `Committed:\s+false`, out)

	out, err = h.run(t, "", "consume", "acct_cli", "--cost", "900")
	require.NoError(t, err)
	assert.Regexp(t, `Monthly:\s+900/1000`, out)

	out, err = h.run(t, "", "show", "acct_cli")
	require.NoError(t, err)
	assert.Contains(t, out, "900/1000 used")
	assert.Contains(t, out, "high credit usage")

	out, err = h.run(t, "", "show", "acct_cli", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"used": 900`)
}

func TestConsumeDeniedShowsGate(t *testing.T) {
	h := newHarness()
	_, err := h.run(t, "", "provision", "acct_free")
	require.NoError(t, err)

	out, err := h.run(t, "", "consume", "acct_free", "--cost", "251")
	require.NoError(t, err)
	assert.Regexp(t, `Status:\s+DENIED_LIMIT`, out)
	assert.Contains(t, out, "Gate:")
}

func TestGrantIsIdempotent(t *testing.T) {
	h := newHarness()
	_, err := h.run(t, "", "provision", "acct_g", "--tier", "PRO")
	require.NoError(t, err)

	out, err := h.run(t, "", "grant", "acct_g", "--package", "pack_s", "--ref", "ticket-42")
	require.NoError(t, err)
	assert.Contains(t, out, "extra balance 100")

	out, err = h.run(t, "", "grant", "acct_g", "--package", "pack_s", "--ref", "ticket-42")
	require.NoError(t, err)
	assert.Contains(t, out, "already applied, extra balance 100")

	_, err = h.run(t, "", "grant", "acct_g", "--package", "pack_s")
	assert.Error(t, err, "--ref is required")
}

func TestTier(t *testing.T) {
	h := newHarness()
	_, err := h.run(t, "", "provision", "acct_t")
	require.NoError(t, err)

	out, err := h.run(t, "", "tier", "acct_t", "pro")
	require.NoError(t, err)
	assert.Contains(t, out, "acct_t is now on PRO (monthly limit 5000)")

	_, err = h.run(t, "", "tier", "acct_t", "enterprise")
	assert.Error(t, err)
}

func TestRollover(t *testing.T) {
	h := newHarness()
	_, err := h.run(t, "", "provision", "acct_r")
	require.NoError(t, err)
	_, err = h.run(t, "", "consume", "acct_r", "--cost", "40")
	require.NoError(t, err)

	out, err := h.run(t, "", "rollover")
	require.NoError(t, err)
	assert.Contains(t, out, "Rolled 0")

	out, err = h.run(t, "", "rollover", "--at", "2026-07-01T00:05:00Z")
	require.NoError(t, err)
	assert.Contains(t, out, "Rolled 1")

	acct, err := h.store.Get(context.Background(), "acct_r")
	require.NoError(t, err)
	assert.Zero(t, acct.Ledger.MonthlyUsageCount)

	_, err = h.run(t, "", "rollover", "--at", "yesterday")
	assert.Error(t, err)
}

func TestSecretsPut(t *testing.T) {
	h := newHarness()

	out, err := h.run(t, "sk_live_abc\n", "secrets", "put", "stripe-secret-key", "--env", "prod")
	require.NoError(t, err)
	assert.Contains(t, out, "STRIPE_SECRET_KEY_SSM_PARAM=/prod/flui/billing/stripe_secret_key")
	assert.NotContains(t, out, "sk_live_abc")
	assert.Equal(t, "sk_live_abc", h.ssm.params["/prod/flui/billing/stripe_secret_key"])
	assert.Equal(t, ssmtypes.ParameterTypeSecureString, h.ssm.types["/prod/flui/billing/stripe_secret_key"])

	_, err = h.run(t, "sk_live_def\n", "secrets", "put", "stripe-secret-key", "--env", "prod")
	assert.ErrorContains(t, err, "already exists")

	_, err = h.run(t, "sk_live_def\n", "secrets", "put", "stripe-secret-key", "--env", "prod", "--overwrite")
	require.NoError(t, err)
	assert.Equal(t, "sk_live_def", h.ssm.params["/prod/flui/billing/stripe_secret_key"])
}

func TestSecretsGenerate(t *testing.T) {
	h := newHarness()

	_, err := h.run(t, "", "secrets", "put", "service-api-key", "--env", "dev", "--generate")
	require.NoError(t, err)
	assert.Len(t, h.ssm.params["/dev/flui/security/service_api_key"], 2*tokenByteLength)

	_, err = h.run(t, "", "secrets", "put", "stripe-secret-key", "--env", "dev", "--generate")
	assert.ErrorContains(t, err, "cannot be generated")

	out, err := h.run(t, "", "secrets", "generate")
	require.NoError(t, err)
	assert.Len(t, strings.TrimSpace(out), 2*tokenByteLength)
}

func TestSecretsStatus(t *testing.T) {
	h := newHarness()
	h.ssm.params["/staging/flui/database/url"] = "postgres://..."

	out, err := h.run(t, "", "secrets", "status", "--env", "staging")
	require.NoError(t, err)
	assert.Regexp(t, `database-url\s+/staging/flui/database/url\s+present`, out)
	assert.Regexp(t, `service-api-key\s+/staging/flui/security/service_api_key\s+missing`, out)
}

func TestSecretsValidation(t *testing.T) {
	h := newHarness()

	_, err := h.run(t, "x\n", "secrets", "put", "stripe-secret-key", "--env", "")
	assert.ErrorContains(t, err, "--env is required")

	_, err = h.run(t, "x\n", "secrets", "put", "stripe-secret-key", "--env", "local")
	assert.ErrorContains(t, err, "invalid environment")

	_, err = h.run(t, "x\n", "secrets", "put", "session-key", "--env", "dev")
	assert.ErrorContains(t, err, "unknown secret")

	_, err = h.run(t, "\n", "secrets", "put", "database-url", "--env", "dev")
	assert.ErrorContains(t, err, "empty value")
}
