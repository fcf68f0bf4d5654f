package main

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genrelay/internal/catalog"
	"genrelay/internal/domain"
	"genrelay/internal/infra/config"
)

func testDoctorEnv(t *testing.T, env map[string]string) *doctorEnv {
	t.Helper()
	table, err := catalog.New(1, []domain.ProviderDescriptor{
		{Provider: "alpha", Model: "a1", Kind: domain.KindCompatible, CredentialEnv: "ALPHA_KEY", BaseURL: "http://127.0.0.1:1"},
		{Provider: "beta", Model: "b1", Kind: domain.KindCompatible, CredentialEnv: "BETA_KEY", BaseURL: "http://127.0.0.1:1"},
	})
	require.NoError(t, err)

	cfg := config.Defaults()
	cfg.Dispatch.Primary = "alpha/a1"
	cfg.Notify.Log = true
	return &doctorEnv{
		cfgPath: filepath.Join(t.TempDir(), "missing.yaml"),
		cfg:     cfg,
		table:   table,
		lookupEnv: func(k string) (string, bool) {
			v, ok := env[k]
			return v, ok
		},
	}
}

func TestCheckConfigFile(t *testing.T) {
	env := testDoctorEnv(t, nil)
	result := checkConfigFile(env)
	assert.Equal(t, StatusWarn, result.Status)
	assert.NotEmpty(t, result.Fix)

	env.cfgErr = &config.ValidationError{Errors: []string{"bad"}}
	assert.Equal(t, StatusFail, checkConfigFile(env).Status)
}

func TestCheckDescriptorTable(t *testing.T) {
	env := testDoctorEnv(t, nil)
	result := checkDescriptorTable(env)
	assert.Equal(t, StatusPass, result.Status)
	assert.Equal(t, "2 descriptors (version 1)", result.Message)

	env.tableErr = errors.New("descriptor table x.yaml: broken")
	assert.Equal(t, StatusFail, checkDescriptorTable(env).Status)

	env.cfg = nil
	assert.Equal(t, StatusFail, checkDescriptorTable(env).Status)
}

func TestCheckCredentials(t *testing.T) {
	t.Run("none set", func(t *testing.T) {
		result := checkCredentials(testDoctorEnv(t, nil))
		assert.Equal(t, StatusFail, result.Status)
		assert.Contains(t, result.Fix, "ALPHA_KEY")
		assert.Contains(t, result.Fix, "BETA_KEY")
	})
	t.Run("some set", func(t *testing.T) {
		result := checkCredentials(testDoctorEnv(t, map[string]string{"BETA_KEY": "b"}))
		assert.Equal(t, StatusWarn, result.Status)
		assert.Equal(t, "1 of 2 descriptors usable", result.Message)
		assert.Equal(t, "Unset: ALPHA_KEY", result.Fix)
	})
	t.Run("all set", func(t *testing.T) {
		result := checkCredentials(testDoctorEnv(t, map[string]string{"ALPHA_KEY": "a", "BETA_KEY": "b"}))
		assert.Equal(t, StatusPass, result.Status)
	})
}

func TestCheckChain(t *testing.T) {
	t.Run("primary available", func(t *testing.T) {
		result := checkChain(testDoctorEnv(t, map[string]string{"ALPHA_KEY": "a", "BETA_KEY": "b"}))
		assert.Equal(t, StatusPass, result.Status)
		assert.Equal(t, "alpha/a1 -> beta/b1", result.Message)
	})
	t.Run("primary unavailable", func(t *testing.T) {
		result := checkChain(testDoctorEnv(t, map[string]string{"BETA_KEY": "b"}))
		assert.Equal(t, StatusWarn, result.Status)
		assert.Contains(t, result.Message, "chain starts at beta/b1")
	})
	t.Run("nothing usable", func(t *testing.T) {
		result := checkChain(testDoctorEnv(t, nil))
		assert.Equal(t, StatusFail, result.Status)
	})
}

func TestCheckLibraries(t *testing.T) {
	env := testDoctorEnv(t, nil)
	assert.Equal(t, StatusPass, checkLibraries(env).Status)

	table, err := catalog.New(1, []domain.ProviderDescriptor{
		{Provider: "openai", Model: "gpt", Kind: domain.KindOpenAI, RequiresLibrary: "openai-sdk"},
	})
	require.NoError(t, err)
	env.table = table
	env.cfg.Catalog.DisableLibraries = []string{"openai-sdk"}

	result := checkLibraries(env)
	assert.Equal(t, StatusWarn, result.Status)
	assert.Contains(t, result.Message, "not available: openai-sdk")
}

func TestCheckNotify(t *testing.T) {
	env := testDoctorEnv(t, nil)
	result := checkNotify(env)
	assert.Equal(t, StatusPass, result.Status)
	assert.Equal(t, "active: log", result.Message)

	env.cfg.Notify.Webhook = &config.WebhookNotifyConfig{URL: "https://hooks.example.com/x"}
	assert.Equal(t, "active: log, webhook", checkNotify(env).Message)
}

func TestCheckGatewayAuth(t *testing.T) {
	env := testDoctorEnv(t, nil)
	assert.Equal(t, StatusPass, checkGatewayAuth(env).Status)

	env.cfg.Server.Addr = "0.0.0.0:8088"
	assert.Equal(t, StatusWarn, checkGatewayAuth(env).Status)

	env.cfg.Server.AuthTokens = []string{"0123456789abcdef"}
	assert.Equal(t, StatusPass, checkGatewayAuth(env).Status)
}

func TestIsLoopback(t *testing.T) {
	assert.True(t, isLoopback("127.0.0.1:80"))
	assert.True(t, isLoopback("[::1]:80"))
	assert.True(t, isLoopback("localhost:80"))
	assert.False(t, isLoopback(":80"))
	assert.False(t, isLoopback("10.0.0.1:80"))
	assert.False(t, isLoopback("garbage"))
}

func TestRunDoctor(t *testing.T) {
	var buf bytes.Buffer
	err := runDoctor(&buf, testDoctorEnv(t, map[string]string{"ALPHA_KEY": "a", "BETA_KEY": "b"}))
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "genrelay doctor")
	assert.Contains(t, out, "[PASS] Credentials: all 2 descriptors usable")
	assert.Contains(t, out, "[WARN] Config file")
	assert.Contains(t, out, "0 failed")

	buf.Reset()
	err = runDoctor(&buf, testDoctorEnv(t, nil))
	require.Error(t, err)
	assert.Contains(t, buf.String(), "[FAIL] Credentials")
}

func TestStatusIcon(t *testing.T) {
	assert.Equal(t, "[PASS]", statusIcon(StatusPass))
	assert.Equal(t, "[WARN]", statusIcon(StatusWarn))
	assert.Equal(t, "[FAIL]", statusIcon(StatusFail))
	assert.Equal(t, "[????]", statusIcon("other"))
}
