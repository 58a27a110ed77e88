package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"os"

	"github.com/relves/trustledger/pkg/asset"
	"github.com/relves/trustledger/pkg/capabilities"
	"github.com/relves/trustledger/pkg/dao"
	"github.com/relves/trustledger/pkg/runtime"
	"github.com/relves/trustledger/pkg/types"
)

// Script is an ordered list of operations. Each step runs as one call.
type Script struct {
	Steps []Step `json:"steps"`
}

// Step invokes Op as Caller. Expect names the failure reason the step must
// produce; empty means it must succeed. Advance moves the clock before the
// step runs.
type Step struct {
	Op      string          `json:"op"`
	Caller  string          `json:"caller"`
	Args    json.RawMessage `json:"args"`
	Expect  string          `json:"expect"`
	Advance uint64          `json:"advance"`
}

type stepResult struct {
	Step   int    `json:"step"`
	Op     string `json:"op,omitempty"`
	Tick   uint64 `json:"tick"`
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`
	Result any    `json:"result,omitempty"`
}

func loadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	var s Script
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	return &s, nil
}

type handler func(ctx context.Context, svc *dao.Service, caller types.Account, args json.RawMessage) (any, error)

var handlers = map[string]handler{
	"bootstrap":           opBootstrap,
	"createPoll":          opCreatePoll,
	"vote":                opVote,
	"freeze":              opFreeze,
	"unfreeze":            opUnfreeze,
	"launchAsset":         opLaunchAsset,
	"addBalance":          opBalance(true),
	"subBalance":          opBalance(false),
	"assignGroups":        opAssignGroups,
	"delegatePermission":  opPermission(true),
	"revokePermission":    opPermission(false),
	"burnAsset":           opRefereeAction(true),
	"approveDistribution": opRefereeAction(false),
	"redeemAssets":        opRedeem,
	"addVest":             opAddVest,
	"withdrawVest":        opWithdrawVest,
	"airdrop":             opAirdrop,
	"burn":                opBurn,
	"transfer":            opTransfer,
	"burnAndMint":         opBurnAndMint,
}

// runScript applies every step and reports one JSON line per step. It fails
// when a step's outcome differs from its expectation.
func runScript(ctx context.Context, svc *dao.Service, clock *runtime.Counter, s *Script, out io.Writer) error {
	enc := json.NewEncoder(out)
	mismatches := 0
	for i, step := range s.Steps {
		if step.Advance > 0 {
			clock.Advance(step.Advance)
		}
		if step.Op == "" {
			continue
		}
		res := stepResult{Step: i, Op: step.Op, Tick: uint64(clock.Now())}

		result, err := runStep(ctx, svc, step)
		res.Result = result
		if err != nil {
			res.Reason = capabilities.NameOf(err)
			res.Error = err.Error()
		}
		res.OK = (err == nil && step.Expect == "") || (err != nil && res.Reason == step.Expect)
		if !res.OK {
			mismatches++
		}
		if err := enc.Encode(res); err != nil {
			return err
		}
	}
	if mismatches > 0 {
		return fmt.Errorf("%d of %d steps did not match expectations", mismatches, len(s.Steps))
	}
	return nil
}

func runStep(ctx context.Context, svc *dao.Service, step Step) (any, error) {
	h, ok := handlers[step.Op]
	if !ok {
		return nil, fmt.Errorf("unknown op %q", step.Op)
	}
	caller, err := types.ParseAccount(step.Caller)
	if err != nil {
		return nil, err
	}
	return h(ctx, svc, caller, step.Args)
}

func decode(args json.RawMessage, v any) error {
	if len(args) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("decode args: %w", err)
	}
	return nil
}

func parseAccounts(raw []string) ([]types.Account, error) {
	out := make([]types.Account, len(raw))
	for i, s := range raw {
		a, err := types.ParseAccount(s)
		if err != nil {
			return nil, err
		}
		out[i] = a
	}
	return out, nil
}

func parseAmounts(raw []string) ([]*big.Int, error) {
	out := make([]*big.Int, len(raw))
	for i, s := range raw {
		v, err := types.ParseAmount(s)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// optionalAccount parses s, mapping "" to the null account.
func optionalAccount(s string) (types.Account, error) {
	if s == "" {
		return types.NullAccount, nil
	}
	return types.ParseAccount(s)
}

func groupsOf(raw []uint64) []types.Group {
	out := make([]types.Group, len(raw))
	for i, g := range raw {
		out[i] = types.Group(g)
	}
	return out
}

func opBootstrap(ctx context.Context, svc *dao.Service, caller types.Account, args json.RawMessage) (any, error) {
	var a struct {
		Trustees   []string `json:"trustees"`
		Name       string   `json:"name"`
		Symbol     string   `json:"symbol"`
		Decimals   uint8    `json:"decimals"`
		Supply     string   `json:"supply"`
		BadgeURI   string   `json:"badgeUri"`
		BadgeID    uint64   `json:"badgeId"`
		BadgeRatio string   `json:"badgeRatio"`
	}
	if err := decode(args, &a); err != nil {
		return nil, err
	}
	trustees, err := parseAccounts(a.Trustees)
	if err != nil {
		return nil, err
	}
	supply, err := types.ParseAmount(a.Supply)
	if err != nil {
		return nil, err
	}
	p := dao.BootstrapParams{
		Creator:      caller,
		Trustees:     trustees,
		Hybrid:       asset.Metadata{Name: a.Name, Symbol: a.Symbol, Decimals: a.Decimals},
		HybridSupply: supply,
		BadgeURI:     a.BadgeURI,
		BadgeID:      a.BadgeID,
	}
	if a.BadgeRatio != "" {
		if p.BadgeRatio, err = types.ParseAmount(a.BadgeRatio); err != nil {
			return nil, err
		}
	}
	return nil, svc.Bootstrap(ctx, p)
}

func opCreatePoll(ctx context.Context, svc *dao.Service, caller types.Account, args json.RawMessage) (any, error) {
	var a struct {
		Type   string `json:"type"`
		Target string `json:"target"`
	}
	if err := decode(args, &a); err != nil {
		return nil, err
	}
	typ, err := types.ParsePollType(a.Type)
	if err != nil {
		return nil, err
	}
	target, err := optionalAccount(a.Target)
	if err != nil {
		return nil, err
	}
	index, err := svc.Governance.CreatePoll(ctx, caller, typ, target)
	if err != nil {
		return nil, err
	}
	return map[string]uint64{"poll": index}, nil
}

func opVote(ctx context.Context, svc *dao.Service, caller types.Account, args json.RawMessage) (any, error) {
	var a struct {
		Poll     uint64 `json:"poll"`
		Decision string `json:"decision"`
	}
	if err := decode(args, &a); err != nil {
		return nil, err
	}
	d, err := types.ParseDecision(a.Decision)
	if err != nil {
		return nil, err
	}
	return nil, svc.Governance.Vote(ctx, caller, a.Poll, d)
}

func opFreeze(ctx context.Context, svc *dao.Service, caller types.Account, _ json.RawMessage) (any, error) {
	return nil, svc.Access.Freeze(ctx, caller)
}

func opUnfreeze(ctx context.Context, svc *dao.Service, caller types.Account, _ json.RawMessage) (any, error) {
	return nil, svc.Access.Unfreeze(ctx, caller)
}

func opLaunchAsset(ctx context.Context, svc *dao.Service, caller types.Account, args json.RawMessage) (any, error) {
	var a struct {
		Name     string `json:"name"`
		Symbol   string `json:"symbol"`
		Decimals uint8  `json:"decimals"`
		Supply   string `json:"supply"`
	}
	if err := decode(args, &a); err != nil {
		return nil, err
	}
	supply, err := types.ParseAmount(a.Supply)
	if err != nil {
		return nil, err
	}
	tok, err := svc.LaunchAsset(ctx, caller, asset.Metadata{Name: a.Name, Symbol: a.Symbol, Decimals: a.Decimals}, supply)
	if err != nil {
		return nil, err
	}
	return map[string]string{"asset": tok.ID().String()}, nil
}

func opBalance(add bool) handler {
	return func(ctx context.Context, svc *dao.Service, caller types.Account, args json.RawMessage) (any, error) {
		var a struct {
			Asset   string `json:"asset"`
			Account string `json:"account"`
			Amount  string `json:"amount"`
		}
		if err := decode(args, &a); err != nil {
			return nil, err
		}
		account, err := types.ParseAccount(a.Account)
		if err != nil {
			return nil, err
		}
		amount, err := types.ParseAmount(a.Amount)
		if err != nil {
			return nil, err
		}
		id := svc.Token(a.Asset).ID()
		if add {
			return nil, svc.Ledger.AddBalance(ctx, caller, id, account, amount)
		}
		return nil, svc.Ledger.SubBalance(ctx, caller, id, account, amount)
	}
}

func opAssignGroups(ctx context.Context, svc *dao.Service, caller types.Account, args json.RawMessage) (any, error) {
	var a struct {
		Accounts []string `json:"accounts"`
		Groups   []uint64 `json:"groups"`
	}
	if err := decode(args, &a); err != nil {
		return nil, err
	}
	accounts, err := parseAccounts(a.Accounts)
	if err != nil {
		return nil, err
	}
	return nil, svc.Ledger.AssignGroups(ctx, caller, accounts, groupsOf(a.Groups))
}

func opPermission(enable bool) handler {
	return func(ctx context.Context, svc *dao.Service, caller types.Account, args json.RawMessage) (any, error) {
		var a struct {
			Ops    []string `json:"ops"`
			Groups []uint64 `json:"groups"`
		}
		if err := decode(args, &a); err != nil {
			return nil, err
		}
		ops := make([]capabilities.Operation, len(a.Ops))
		for i, op := range a.Ops {
			ops[i] = capabilities.Operation(op)
		}
		if enable {
			return nil, svc.Ledger.DelegatePermission(ctx, caller, ops, groupsOf(a.Groups))
		}
		return nil, svc.Ledger.RevokePermission(ctx, caller, ops, groupsOf(a.Groups))
	}
}

func opRefereeAction(burn bool) handler {
	return func(ctx context.Context, svc *dao.Service, caller types.Account, args json.RawMessage) (any, error) {
		var a struct {
			Asset  string `json:"asset"`
			Amount string `json:"amount"`
		}
		if err := decode(args, &a); err != nil {
			return nil, err
		}
		amount, err := types.ParseAmount(a.Amount)
		if err != nil {
			return nil, err
		}
		id := types.NullAccount
		if a.Asset != "" {
			id = svc.Token(a.Asset).ID()
		}
		if burn {
			return nil, svc.Ledger.BurnAsset(ctx, caller, id, amount)
		}
		return nil, svc.Ledger.ApproveDistribution(ctx, caller, id, amount)
	}
}

func opRedeem(ctx context.Context, svc *dao.Service, caller types.Account, args json.RawMessage) (any, error) {
	var a struct {
		Assets []string `json:"assets"`
	}
	if err := decode(args, &a); err != nil {
		return nil, err
	}
	ids := make([]types.Account, len(a.Assets))
	for i, symbol := range a.Assets {
		ids[i] = svc.Token(symbol).ID()
	}
	return nil, svc.Ledger.RedeemAssets(ctx, caller, ids)
}

func opAddVest(ctx context.Context, svc *dao.Service, caller types.Account, args json.RawMessage) (any, error) {
	var a struct {
		Beneficiary string `json:"beneficiary"`
		Amount      string `json:"amount"`
		Duration    uint64 `json:"duration"`
	}
	if err := decode(args, &a); err != nil {
		return nil, err
	}
	beneficiary, err := optionalAccount(a.Beneficiary)
	if err != nil {
		return nil, err
	}
	amount, err := types.ParseAmount(a.Amount)
	if err != nil {
		return nil, err
	}
	return nil, svc.Vesting.AddVest(ctx, caller, beneficiary, amount, a.Duration)
}

func opWithdrawVest(ctx context.Context, svc *dao.Service, caller types.Account, _ json.RawMessage) (any, error) {
	return nil, svc.Vesting.WithdrawVest(ctx, caller)
}

func opAirdrop(ctx context.Context, svc *dao.Service, caller types.Account, args json.RawMessage) (any, error) {
	var a struct {
		Accounts []string `json:"accounts"`
		Amounts  []string `json:"amounts"`
		Decimals uint8    `json:"decimals"`
	}
	if err := decode(args, &a); err != nil {
		return nil, err
	}
	accounts, err := parseAccounts(a.Accounts)
	if err != nil {
		return nil, err
	}
	amounts, err := parseAmounts(a.Amounts)
	if err != nil {
		return nil, err
	}
	return nil, svc.Vesting.Airdrop(ctx, caller, accounts, amounts, a.Decimals)
}

func opBurn(ctx context.Context, svc *dao.Service, caller types.Account, args json.RawMessage) (any, error) {
	amount, err := amountArg(args)
	if err != nil {
		return nil, err
	}
	return nil, svc.Vesting.Burn(ctx, caller, amount)
}

func opTransfer(ctx context.Context, svc *dao.Service, caller types.Account, args json.RawMessage) (any, error) {
	var a struct {
		To     string `json:"to"`
		Amount string `json:"amount"`
	}
	if err := decode(args, &a); err != nil {
		return nil, err
	}
	to, err := types.ParseAccount(a.To)
	if err != nil {
		return nil, err
	}
	amount, err := types.ParseAmount(a.Amount)
	if err != nil {
		return nil, err
	}
	return nil, svc.Vesting.Transfer(ctx, caller, to, amount)
}

func opBurnAndMint(ctx context.Context, svc *dao.Service, caller types.Account, args json.RawMessage) (any, error) {
	amount, err := amountArg(args)
	if err != nil {
		return nil, err
	}
	return nil, svc.Vesting.BurnAndMint(ctx, caller, amount)
}

func amountArg(args json.RawMessage) (*big.Int, error) {
	var a struct {
		Amount string `json:"amount"`
	}
	if err := decode(args, &a); err != nil {
		return nil, err
	}
	return types.ParseAmount(a.Amount)
}
