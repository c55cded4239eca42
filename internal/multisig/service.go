package multisig

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/SpaceUY/safe-agentathon/internal/config"
	xerrors "github.com/SpaceUY/safe-agentathon/internal/errors"
)

const (
	defaultTimeout   = 30 * time.Second
	pendingPageLimit = 20
)

// execTransactionABI is the single Safe entry point the executor needs.
const execTransactionABI = `[{"type":"function","name":"execTransaction","inputs":[` +
	`{"name":"to","type":"address"},` +
	`{"name":"value","type":"uint256"},` +
	`{"name":"data","type":"bytes"},` +
	`{"name":"operation","type":"uint8"},` +
	`{"name":"safeTxGas","type":"uint256"},` +
	`{"name":"baseGas","type":"uint256"},` +
	`{"name":"gasPrice","type":"uint256"},` +
	`{"name":"gasToken","type":"address"},` +
	`{"name":"refundReceiver","type":"address"},` +
	`{"name":"signatures","type":"bytes"}],` +
	`"outputs":[{"name":"success","type":"bool"}]}]`

// ServiceClient queries the Safe Transaction Service for pending proposals
// and drives confirmation and execution of a multisig transaction.
type ServiceClient struct {
	httpClient *http.Client
	safeABI    abi.ABI
}

// Option configures a ServiceClient.
type Option func(*ServiceClient)

// WithHTTPClient overrides the HTTP client used against the transaction service.
func WithHTTPClient(client *http.Client) Option {
	return func(s *ServiceClient) {
		if client != nil {
			s.httpClient = client
		}
	}
}

// NewServiceClient builds a ready-to-use client.
func NewServiceClient(opts ...Option) (*ServiceClient, error) {
	parsed, err := abi.JSON(strings.NewReader(execTransactionABI))
	if err != nil {
		return nil, fmt.Errorf("parse safe ABI: %w", err)
	}
	s := &ServiceClient{
		httpClient: &http.Client{Timeout: defaultTimeout},
		safeABI:    parsed,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// LatestPendingProposal returns the wallet's most recently submitted pending
// transaction, or nil when nothing is pending. When the service reports
// several pending transactions the newest submission wins; equal timestamps
// keep the service order.
func (s *ServiceClient) LatestPendingProposal(ctx context.Context, wallet config.Wallet) (*Transaction, error) {
	endpoint := fmt.Sprintf("%s/api/v1/safes/%s/multisig-transactions/?executed=false&limit=%d",
		strings.TrimRight(wallet.ServiceURL, "/"), wallet.Address, pendingPageLimit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeProposalFetchFailure, err, "build proposal request")
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeProposalFetchFailure, err, "query transaction service")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, xerrors.New(xerrors.CodeProposalFetchFailure,
			fmt.Sprintf("transaction service status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var decoded struct {
		Results []Transaction `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeProposalFetchFailure, err, "decode transaction service response")
	}

	var latest *Transaction
	for i := range decoded.Results {
		tx := &decoded.Results[i]
		if tx.IsExecuted {
			continue
		}
		if latest == nil || tx.SubmittedAt.After(latest.SubmittedAt) {
			latest = tx
		}
	}
	return latest, nil
}

// Confirm signs the safe transaction hash with the agent key and posts the
// signature to the transaction service.
func (s *ServiceClient) Confirm(ctx context.Context, wallet config.Wallet, tx *Transaction, key *ecdsa.PrivateKey) error {
	if tx == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "no transaction to confirm")
	}
	if key == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "no signing key")
	}

	sig, err := crypto.Sign(tx.SafeTxHash.Bytes(), key)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeExecutionFailure, err, "sign safe tx hash")
	}
	// The service expects the legacy recovery id encoding.
	sig[64] += 27

	payload, err := json.Marshal(map[string]string{
		"signature": "0x" + common.Bytes2Hex(sig),
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeExecutionFailure, err, "encode confirmation")
	}

	endpoint := fmt.Sprintf("%s/api/v1/multisig-transactions/%s/confirmations/",
		strings.TrimRight(wallet.ServiceURL, "/"), tx.SafeTxHash.Hex())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeExecutionFailure, err, "build confirmation request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeExecutionFailure, err, "post confirmation")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return xerrors.New(xerrors.CodeExecutionFailure,
			fmt.Sprintf("confirmation rejected with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}
	return nil
}

// Execute broadcasts the multisig transaction on-chain by calling the Safe's
// execTransaction with the collected owner signatures.
func (s *ServiceClient) Execute(ctx context.Context, wallet config.Wallet, tx *Transaction, key *ecdsa.PrivateKey) (common.Hash, error) {
	if tx == nil {
		return common.Hash{}, xerrors.New(xerrors.CodeInvalidArgument, "no transaction to execute")
	}
	if key == nil {
		return common.Hash{}, xerrors.New(xerrors.CodeInvalidArgument, "no signing key")
	}
	if !tx.ThresholdMet() {
		return common.Hash{}, xerrors.New(xerrors.CodeExecutionFailure, "confirmation threshold not met")
	}

	chainID, ok := new(big.Int).SetString(wallet.ChainID, 10)
	if !ok {
		return common.Hash{}, xerrors.New(xerrors.CodeConfigInvalid,
			fmt.Sprintf("invalid chain id %q", wallet.ChainID))
	}

	calldata, err := s.safeABI.Pack("execTransaction",
		tx.To,
		tx.ValueBig(),
		common.FromHex(tx.Data),
		tx.Operation,
		big.NewInt(tx.SafeTxGas),
		big.NewInt(tx.BaseGas),
		gasPriceBig(tx.GasPrice),
		tx.GasToken,
		tx.RefundReceiver,
		tx.PackedSignatures(),
	)
	if err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeExecutionFailure, err, "pack execTransaction")
	}

	client, err := ethclient.DialContext(ctx, wallet.RPCURL)
	if err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeExecutionFailure, err, "dial rpc endpoint")
	}
	defer client.Close()

	from := crypto.PubkeyToAddress(key.PublicKey)
	safeAddr := common.HexToAddress(wallet.Address)

	nonce, err := client.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeExecutionFailure, err, "fetch account nonce")
	}
	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeExecutionFailure, err, "fetch gas price")
	}
	gasLimit, err := client.EstimateGas(ctx, gethcore.CallMsg{
		From: from,
		To:   &safeAddr,
		Data: calldata,
	})
	if err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeExecutionFailure, err, "estimate gas")
	}

	signed, err := coretypes.SignNewTx(key, coretypes.LatestSignerForChainID(chainID), &coretypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &safeAddr,
		Value:    new(big.Int),
		Data:     calldata,
	})
	if err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeExecutionFailure, err, "sign execution transaction")
	}
	if err := client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeExecutionFailure, err, "broadcast execution transaction")
	}
	return signed.Hash(), nil
}

func gasPriceBig(value string) *big.Int {
	if value == "" {
		return new(big.Int)
	}
	if v, ok := new(big.Int).SetString(value, 10); ok {
		return v
	}
	return new(big.Int)
}
