// Package app wires configuration, chain access, venue strategies and
// the command surface together.
package app

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/outcome-labs/oswap/internal/config"
	oerr "github.com/outcome-labs/oswap/internal/errors"
	"github.com/outcome-labs/oswap/internal/model"
	"github.com/outcome-labs/oswap/internal/orchestrator"
	"github.com/outcome-labs/oswap/internal/out"
	"github.com/outcome-labs/oswap/internal/prefs"
	"github.com/outcome-labs/oswap/internal/schema"
	"github.com/outcome-labs/oswap/internal/version"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{stdout: stdout, stderr: stderr, now: time.Now}
}

type runtimeState struct {
	runner      *Runner
	flags       config.GlobalFlags
	settings    config.Settings
	prefsStore  *prefs.Store
	journal     *orchestrator.Journal
	root        *cobra.Command
	lastCommand string
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r}
	root := state.newRootCommand()
	state.root = root
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.Execute()
	err = normalizeRunError(err)
	state.closeStores()
	if err == nil {
		return 0
	}
	state.renderError("", err)
	return oerr.ExitCode(err)
}

func (s *runtimeState) closeStores() {
	if s.prefsStore != nil {
		_ = s.prefsStore.Close()
	}
	if s.journal != nil {
		_ = s.journal.Close()
	}
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Outcome token swap orchestrator",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return oerr.Wrap(oerr.CodeUsage, "load configuration", err)
			}
			s.settings = settings
			s.lastCommand = trimRootPath(cmd.CommandPath())
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return oerr.Wrap(oerr.CodeUsage, "parse flags", err)
	})

	cmd.PersistentFlags().BoolVar(&s.flags.JSON, "json", false, "Output JSON (default)")
	cmd.PersistentFlags().BoolVar(&s.flags.Plain, "plain", false, "Output plain text")
	cmd.PersistentFlags().StringVar(&s.flags.ConfigPath, "config", "", "Path to config file")
	cmd.PersistentFlags().Int64Var(&s.flags.ChainID, "chain", 0, "Chain id (100 or 137)")
	cmd.PersistentFlags().StringVar(&s.flags.RPCURL, "rpc-url", "", "JSON-RPC endpoint override")
	cmd.PersistentFlags().StringVar(&s.flags.Timeout, "timeout", "", "Network request timeout")
	cmd.PersistentFlags().IntVar(&s.flags.Retries, "retries", -1, "Retries per network request")
	cmd.PersistentFlags().Int64Var(&s.flags.SlippageBps, "slippage-bps", -1, "Slippage tolerance in basis points")
	cmd.PersistentFlags().BoolVar(&s.flags.Unlimited, "unlimited-approvals", false, "Grant unlimited token allowances")
	cmd.PersistentFlags().BoolVar(&s.flags.Multisig, "multisig", false, "Treat the connected wallet as a smart contract wallet")
	cmd.PersistentFlags().BoolVar(&s.flags.NoWait, "no-wait", false, "Do not wait for multisig confirmations")

	cmd.AddCommand(s.newSchemaCommand())
	cmd.AddCommand(s.newQuoteCommand())
	cmd.AddCommand(s.newSwapCommand())
	cmd.AddCommand(s.newApproveCommand())
	cmd.AddCommand(s.newRedeemCommand())
	cmd.AddCommand(s.newStatusCommand())
	cmd.AddCommand(s.newVenuesCommand())
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func (s *runtimeState) newSchemaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema [command path]",
		Short: "Print machine-readable command schema",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := strings.Join(args, " ")
			data, err := schema.Build(s.root, path)
			if err != nil {
				return oerr.Wrap(oerr.CodeUsage, "build schema", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data)
		},
	}
	return cmd
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

func (s *runtimeState) emitSuccess(commandPath string, data any) error {
	env := model.Envelope{
		Version: "1",
		Success: true,
		Data:    data,
		Meta: model.Meta{
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			ChainID:   s.settings.ChainID,
		},
	}
	return out.Render(s.runner.stdout, env, s.settings)
}

func (s *runtimeState) renderError(commandPath string, err error) {
	if strings.TrimSpace(commandPath) == "" {
		commandPath = s.lastCommand
		if commandPath == "" {
			commandPath = version.CLIName
		}
	}
	code := oerr.ExitCode(err)
	typ := "internal_error"
	message := err.Error()
	if cErr, ok := oerr.As(err); ok {
		message = cErr.Message
		if cErr.Cause != nil {
			message = fmt.Sprintf("%s: %v", cErr.Message, cErr.Cause)
		}
		typ = errorType(cErr.Code)
	}
	env := model.Envelope{
		Version: "1",
		Success: false,
		Error:   &model.ErrorBody{Code: code, Type: typ, Message: message},
		Meta: model.Meta{
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			ChainID:   s.settings.ChainID,
		},
	}
	_ = out.Render(s.runner.stderr, env, s.settings)
}

func errorType(code oerr.Code) string {
	switch code {
	case oerr.CodeUsage:
		return "usage_error"
	case oerr.CodeUserRejected:
		return "user_rejected"
	case oerr.CodeInsufficientBalance:
		return "insufficient_balance"
	case oerr.CodeInsufficientAllowance:
		return "insufficient_allowance"
	case oerr.CodeSlippageExceeded:
		return "slippage_exceeded"
	case oerr.CodeContractReverted:
		return "contract_reverted"
	case oerr.CodeNetworkTimeout:
		return "network_timeout"
	case oerr.CodeOrderNotFound:
		return "order_not_found"
	case oerr.CodeMaxRetriesExceeded:
		return "max_retries_exceeded"
	case oerr.CodeAdapterUnavailable:
		return "adapter_unavailable"
	case oerr.CodeAuth:
		return "auth_error"
	case oerr.CodeRateLimited:
		return "rate_limited"
	case oerr.CodeUnavailable:
		return "service_unavailable"
	case oerr.CodeUnsupported:
		return "unsupported"
	default:
		return "internal_error"
	}
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return path
	}
	return strings.Join(parts[1:], " ")
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := oerr.As(err); ok {
		return err
	}
	if isLikelyUsageError(err) {
		return oerr.Wrap(oerr.CodeUsage, "invalid command input", err)
	}
	return oerr.Wrap(oerr.CodeInternal, "execute command", err)
}

func isLikelyUsageError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range []string{"unknown command", "unknown flag", "required flag", "invalid argument", "accepts "} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
