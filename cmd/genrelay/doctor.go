package main

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"genrelay/internal/adapter/llm"
	"genrelay/internal/adapter/notify"
	"genrelay/internal/catalog"
	"genrelay/internal/domain"
	"genrelay/internal/infra/config"
	"genrelay/internal/infra/logger"
	"genrelay/internal/usecase/dispatch"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(env *doctorEnv) CheckResult
}

// doctorEnv is what the checks inspect. Later checks see the results of
// earlier loading steps, which may have failed.
type doctorEnv struct {
	cfgPath   string
	cfg       *config.Config
	cfgErr    error
	table     catalog.Table
	tableErr  error
	lookupEnv func(string) (string, bool)
}

func (e *doctorEnv) factory() *llm.Factory {
	return llm.NewFactory(logger.Discard(),
		llm.WithLookupEnv(e.lookupEnv),
		llm.WithProviders(e.cfg.Providers),
		llm.WithDisabledLibraries(e.cfg.Catalog.DisableLibraries),
	)
}

func newDoctorCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check config, descriptor table, credentials and linked libraries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			env := &doctorEnv{cfgPath: g.resolveConfigPath(), lookupEnv: os.LookupEnv}
			env.cfg, env.cfgErr = loadConfig(g)
			if env.cfg != nil {
				env.table, env.tableErr = loadTable(env.cfg.Catalog)
			}
			return runDoctor(cmd.OutOrStdout(), env)
		},
	}
}

func doctorChecks() []Check {
	return []Check{
		{Name: "Config file", Fn: checkConfigFile},
		{Name: "Descriptor table", Fn: checkDescriptorTable},
		{Name: "Client libraries", Fn: checkLibraries},
		{Name: "Credentials", Fn: checkCredentials},
		{Name: "Preference chain", Fn: checkChain},
		{Name: "Notify sinks", Fn: checkNotify},
		{Name: "Gateway auth", Fn: checkGatewayAuth},
	}
}

// runDoctor executes all health checks and reports results.
func runDoctor(w io.Writer, env *doctorEnv) error {
	fmt.Fprintln(w, "genrelay doctor")
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintln(w)

	var pass, warn, fail int
	for _, check := range doctorChecks() {
		result := check.Fn(env)
		result.Name = check.Name

		fmt.Fprintf(w, "  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Fprintf(w, "      Fix: %s\n", result.Fix)
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("-", 50))
	fmt.Fprintf(w, "Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

func checkConfigFile(env *doctorEnv) CheckResult {
	if env.cfgErr != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: env.cfgErr.Error(),
			Fix:     "Check the YAML syntax and the values named above",
		}
	}
	if _, err := os.Stat(env.cfgPath); errors.Is(err, os.ErrNotExist) {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("%s not found, using defaults and GENRELAY_* variables", env.cfgPath),
			Fix:     "Create the file or pass --config",
		}
	}
	return CheckResult{Status: StatusPass, Message: "loaded " + env.cfgPath}
}

func checkDescriptorTable(env *doctorEnv) CheckResult {
	if env.cfg == nil {
		return CheckResult{Status: StatusFail, Message: "skipped, config did not load"}
	}
	if env.tableErr != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: env.tableErr.Error(),
			Fix:     "Fix catalog.path or set catalog.include_defaults: true",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%d descriptors (version %d)", env.table.Len(), env.table.Version()),
	}
}

func checkLibraries(env *doctorEnv) CheckResult {
	if env.cfg == nil || env.tableErr != nil {
		return CheckResult{Status: StatusFail, Message: "skipped, descriptor table did not load"}
	}
	usable := env.factory().Libraries()

	var missing []string
	for _, d := range env.table.Descriptors() {
		if d.RequiresLibrary != "" && !slices.Contains(usable, d.RequiresLibrary) && !slices.Contains(missing, d.RequiresLibrary) {
			missing = append(missing, d.RequiresLibrary)
		}
	}
	msg := "usable: " + strings.Join(usable, ", ")
	if len(missing) > 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("%s; not available: %s", msg, strings.Join(missing, ", ")),
			Fix:     "Rebuild with the matching build tag (e.g. -tags bedrock) or drop it from catalog.disable_libraries",
		}
	}
	return CheckResult{Status: StatusPass, Message: msg}
}

func checkCredentials(env *doctorEnv) CheckResult {
	if env.cfg == nil || env.tableErr != nil {
		return CheckResult{Status: StatusFail, Message: "skipped, descriptor table did not load"}
	}

	var available int
	var unset []string
	for _, av := range env.factory().Survey(env.table.Descriptors()) {
		switch {
		case av.Err == nil:
			available++
		case errors.Is(av.Err, domain.ErrUnavailable):
			if v := av.Descriptor.CredentialEnv; v != "" && !slices.Contains(unset, v) {
				if val, ok := env.lookupEnv(v); !ok || val == "" {
					unset = append(unset, v)
				}
			}
		}
	}

	total := env.table.Len()
	switch {
	case available == 0:
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("none of %d descriptors is usable", total),
			Fix:     "Export at least one of: " + strings.Join(unset, ", "),
		}
	case available < total:
		res := CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("%d of %d descriptors usable", available, total),
		}
		if len(unset) > 0 {
			res.Fix = "Unset: " + strings.Join(unset, ", ")
		}
		return res
	default:
		return CheckResult{Status: StatusPass, Message: fmt.Sprintf("all %d descriptors usable", total)}
	}
}

func checkChain(env *doctorEnv) CheckResult {
	if env.cfg == nil || env.tableErr != nil {
		return CheckResult{Status: StatusFail, Message: "skipped, descriptor table did not load"}
	}
	chain, err := dispatch.BuildChain(env.table, env.factory(), chainConfig(env.cfg.Dispatch), logger.Discard())
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: err.Error(),
			Fix:     "Check dispatch.primary and dispatch.fallbacks against the descriptor table",
		}
	}

	keys := chain.Keys()
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.String()
	}
	msg := strings.Join(names, " -> ")

	if primary := env.cfg.Dispatch.Primary; primary != "" && keys[0].String() != primary {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("primary %s is unavailable; chain starts at %s", primary, msg),
			Fix:     "Set the primary's credential variable",
		}
	}
	return CheckResult{Status: StatusPass, Message: msg}
}

func checkNotify(env *doctorEnv) CheckResult {
	if env.cfg == nil {
		return CheckResult{Status: StatusFail, Message: "skipped, config did not load"}
	}
	n := env.cfg.Notify
	linked := notify.LinkedSinks()

	var unlinked []string
	if n.Slack != nil && n.Slack.Token != "" && !slices.Contains(linked, "slack") {
		unlinked = append(unlinked, "slack")
	}
	if n.Discord != nil && n.Discord.Token != "" && !slices.Contains(linked, "discord") {
		unlinked = append(unlinked, "discord")
	}

	sinks, err := notify.Sinks(n, logger.Discard())
	if err != nil {
		return CheckResult{Status: StatusFail, Message: err.Error()}
	}
	names := make([]string, len(sinks))
	for i, s := range sinks {
		names[i] = s.Name
	}
	msg := "none"
	if len(names) > 0 {
		msg = strings.Join(names, ", ")
	}

	if len(unlinked) > 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("active: %s; configured but not compiled in: %s", msg, strings.Join(unlinked, ", ")),
			Fix:     "Rebuild with -tags " + strings.Join(unlinked, ","),
		}
	}
	return CheckResult{Status: StatusPass, Message: "active: " + msg}
}

func checkGatewayAuth(env *doctorEnv) CheckResult {
	if env.cfg == nil {
		return CheckResult{Status: StatusFail, Message: "skipped, config did not load"}
	}
	if n := len(env.cfg.Server.AuthTokens); n > 0 {
		return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%d token(s) configured", n)}
	}
	if isLoopback(env.cfg.Server.Addr) {
		return CheckResult{Status: StatusPass, Message: "no tokens, listening on loopback only"}
	}
	return CheckResult{
		Status:  StatusWarn,
		Message: fmt.Sprintf("no tokens and server.addr %s is reachable from other hosts", env.cfg.Server.Addr),
		Fix:     "Set server.auth_tokens or bind to 127.0.0.1",
	}
}

func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
