package approvals

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/outcome-labs/oswap/internal/chain"
	oerr "github.com/outcome-labs/oswap/internal/errors"
	"github.com/outcome-labs/oswap/internal/registry"
)

// MaxUint256 is the unlimited approval amount.
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// maxUint160 caps registry grants, whose amount field is uint160.
var maxUint160 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 160), big.NewInt(1))

// unlimitedThreshold: an existing allowance above half the maximum is
// treated as already unlimited and not re-approved.
var unlimitedThreshold = new(big.Int).Rsh(MaxUint256, 1)

// registryGrantTTL bounds the second-hop grant; the registry grant always
// carries a finite expiration even when the token-level grant is unlimited
// in amount.
const registryGrantTTL = 30 * 24 * time.Hour

// Record is the allowance state read immediately before acting. It is
// derived, never cached: allowance is externally mutable.
type Record struct {
	Token     common.Address
	Owner     common.Address
	Spender   common.Address
	Required  *big.Int
	Current   *big.Int
	Unlimited bool
}

func (r Record) Covers() bool {
	if r.Unlimited {
		return r.Current.Cmp(unlimitedThreshold) > 0
	}
	return r.Current.Cmp(r.Required) >= 0
}

// Result reports what EnsureAllowance did.
type Result struct {
	Approved bool
	TxSent   bool
	// Deferred is set on the multisig fire-and-forget path: the
	// authorization was submitted but its outcome is only knowable via the
	// external multisig service.
	Deferred bool
}

// Manager serializes authorization mutations per (token, spender) pair and
// re-reads allowance around every mutation.
type Manager struct {
	handle chain.Handle
	// FireAndForget skips confirmation waits for smart-contract wallets.
	FireAndForget bool

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewManager(handle chain.Handle) *Manager {
	return &Manager{handle: handle, inflight: make(map[string]struct{})}
}

// EnsureAllowance makes the spender's token allowance cover required,
// approving MaxUint256 when unlimited is requested. It submits at most one
// transaction and re-reads the allowance afterwards to defend against RPC
// nodes serving stale state. Submission errors surface raw; retry is the
// caller's decision.
func (m *Manager) EnsureAllowance(ctx context.Context, token, spender common.Address, required *big.Int, unlimited bool) (Result, error) {
	record, err := m.readAllowance(ctx, token, spender, required, unlimited)
	if err != nil {
		return Result{}, err
	}
	if record.Covers() {
		return Result{Approved: true}, nil
	}

	release, err := m.acquire(token, spender)
	if err != nil {
		return Result{}, err
	}
	defer release()

	amount := required
	if unlimited {
		amount = MaxUint256
	}
	data, err := registry.ERC20.Pack("approve", spender, amount)
	if err != nil {
		return Result{}, oerr.Wrap(oerr.CodeInternal, "pack approve calldata", err)
	}
	deferred, err := m.submit(ctx, token, data)
	if err != nil {
		return Result{}, err
	}
	if deferred {
		return Result{Approved: true, TxSent: true, Deferred: true}, nil
	}

	confirmed, err := m.readAllowance(ctx, token, spender, required, false)
	if err != nil {
		return Result{}, err
	}
	if !confirmed.Covers() {
		return Result{TxSent: true}, oerr.New(oerr.CodeInsufficientAllowance, "allowance still below required amount after approval")
	}
	return Result{Approved: true, TxSent: true}, nil
}

// EnsureRegistryAllowance performs the second hop of a two-hop
// authorization: the allowance registry re-grants the final spender with a
// finite expiration.
func (m *Manager) EnsureRegistryAllowance(ctx context.Context, registryAddr, token, spender common.Address, required *big.Int) (Result, error) {
	current, expiration, err := m.readRegistryAllowance(ctx, registryAddr, token, spender)
	if err != nil {
		return Result{}, err
	}
	now := time.Now().Unix()
	if current.Cmp(required) >= 0 && expiration > now {
		return Result{Approved: true}, nil
	}

	release, err := m.acquire(token, spender)
	if err != nil {
		return Result{}, err
	}
	defer release()

	expiry := big.NewInt(time.Now().Add(registryGrantTTL).Unix())
	data, err := registry.AllowanceRegistry.Pack("approve", token, spender, maxUint160, expiry)
	if err != nil {
		return Result{}, oerr.Wrap(oerr.CodeInternal, "pack registry approve calldata", err)
	}
	deferred, err := m.submit(ctx, registryAddr, data)
	if err != nil {
		return Result{}, err
	}
	if deferred {
		return Result{Approved: true, TxSent: true, Deferred: true}, nil
	}

	current, expiration, err = m.readRegistryAllowance(ctx, registryAddr, token, spender)
	if err != nil {
		return Result{}, err
	}
	if current.Cmp(required) < 0 || expiration <= now {
		return Result{TxSent: true}, oerr.New(oerr.CodeInsufficientAllowance, "registry allowance still below required amount after approval")
	}
	return Result{Approved: true, TxSent: true}, nil
}

func (m *Manager) submit(ctx context.Context, to common.Address, data []byte) (deferred bool, err error) {
	target := to
	pending, err := m.handle.SendTransaction(ctx, chain.TxRequest{To: &target, Data: data})
	if err != nil {
		return false, err
	}
	if m.FireAndForget {
		return true, nil
	}
	receipt, err := pending.Wait(ctx)
	if err != nil {
		return false, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return false, oerr.New(oerr.CodeContractReverted, "approval transaction reverted")
	}
	return false, nil
}

func (m *Manager) readAllowance(ctx context.Context, token, spender common.Address, required *big.Int, unlimited bool) (Record, error) {
	owner := m.handle.Address()
	data, err := registry.ERC20.Pack("allowance", owner, spender)
	if err != nil {
		return Record{}, oerr.Wrap(oerr.CodeInternal, "pack allowance calldata", err)
	}
	raw, err := m.handle.ReadCall(ctx, ethereum.CallMsg{To: &token, Data: data})
	if err != nil {
		return Record{}, oerr.Wrap(oerr.CodeUnavailable, "read allowance", err)
	}
	values, err := registry.ERC20.Unpack("allowance", raw)
	if err != nil {
		return Record{}, oerr.Wrap(oerr.CodeUnavailable, "decode allowance", err)
	}
	current, ok := values[0].(*big.Int)
	if !ok {
		return Record{}, oerr.New(oerr.CodeUnavailable, "allowance is not uint256")
	}
	return Record{
		Token:     token,
		Owner:     owner,
		Spender:   spender,
		Required:  required,
		Current:   current,
		Unlimited: unlimited,
	}, nil
}

func (m *Manager) readRegistryAllowance(ctx context.Context, registryAddr, token, spender common.Address) (*big.Int, int64, error) {
	owner := m.handle.Address()
	data, err := registry.AllowanceRegistry.Pack("allowance", owner, token, spender)
	if err != nil {
		return nil, 0, oerr.Wrap(oerr.CodeInternal, "pack registry allowance calldata", err)
	}
	raw, err := m.handle.ReadCall(ctx, ethereum.CallMsg{To: &registryAddr, Data: data})
	if err != nil {
		return nil, 0, oerr.Wrap(oerr.CodeUnavailable, "read registry allowance", err)
	}
	values, err := registry.AllowanceRegistry.Unpack("allowance", raw)
	if err != nil {
		return nil, 0, oerr.Wrap(oerr.CodeUnavailable, "decode registry allowance", err)
	}
	amount, ok := values[0].(*big.Int)
	if !ok {
		return nil, 0, oerr.New(oerr.CodeUnavailable, "registry allowance amount is not numeric")
	}
	expiration, ok := values[1].(*big.Int)
	if !ok {
		return nil, 0, oerr.New(oerr.CodeUnavailable, "registry allowance expiration is not numeric")
	}
	return amount, expiration.Int64(), nil
}

// acquire enforces at most one in-flight mutation per (token, spender).
func (m *Manager) acquire(token, spender common.Address) (func(), error) {
	key := fmt.Sprintf("%s|%s", token.Hex(), spender.Hex())
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.inflight[key]; busy {
		return nil, oerr.New(oerr.CodeInternal, "authorization already in flight for this token and spender")
	}
	m.inflight[key] = struct{}{}
	return func() {
		m.mu.Lock()
		delete(m.inflight, key)
		m.mu.Unlock()
	}, nil
}
