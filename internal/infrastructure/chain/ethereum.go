package chain

import (
	"context"
	"crypto/ecdsa"
	"math/big"

	"custodian/internal/config"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const transferGasLimit = 21000

// EthereumClient implements Client against an EVM JSON-RPC endpoint. A nil
// private key disables SubmitTransfer but leaves the read paths working, so
// deposits keep reconciling even when the signing key is not deployed.
type EthereumClient struct {
	client  *ethclient.Client
	chainID *big.Int
	key     *ecdsa.PrivateKey
	from    common.Address
	blocks  int // depth of the inbound scan window
}

func NewEthereumClient(cfg *config.ChainConfig) (*EthereumClient, error) {
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, errors.Wrap(err, "dial rpc")
	}

	ec := &EthereumClient{
		client:  client,
		chainID: big.NewInt(cfg.ChainID),
		from:    common.HexToAddress(cfg.WalletAddress),
		blocks:  cfg.InboundBlocks,
	}

	if cfg.PrivateKey != "" {
		key, err := crypto.HexToECDSA(cfg.PrivateKey)
		if err != nil {
			return nil, errors.Wrap(err, "parse private key")
		}
		ec.key = key
	}

	return ec, nil
}

func (c *EthereumClient) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	wei, err := c.client.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return decimal.Decimal{}, errors.Wrap(err, "balance at")
	}
	return weiToAsset(wei), nil
}

// GetRecentInbound walks the most recent blocks and collects plain value
// transfers addressed to the custodial wallet. Contract-internal transfers
// are out of scope; deposit instructions tell users to send a direct
// transfer.
func (c *EthereumClient) GetRecentInbound(ctx context.Context, address string, limit int) ([]InboundTransfer, error) {
	head, err := c.client.BlockNumber(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "block number")
	}

	target := common.HexToAddress(address)
	transfers := make([]InboundTransfer, 0, limit)

	for i := 0; i < c.blocks && uint64(i) <= head; i++ {
		num := new(big.Int).SetUint64(head - uint64(i))
		block, err := c.client.BlockByNumber(ctx, num)
		if err != nil {
			return nil, errors.Wrapf(err, "block %s", num)
		}

		blockTime := block.Time()
		for _, tx := range block.Transactions() {
			if tx.To() == nil || *tx.To() != target {
				continue
			}
			if tx.Value().Sign() <= 0 {
				continue
			}
			transfers = append(transfers, InboundTransfer{
				Ref:    tx.Hash().Hex(),
				Amount: weiToAsset(tx.Value()),
				Time:   timeFromUnix(blockTime),
			})
			if len(transfers) >= limit {
				return transfers, nil
			}
		}
	}

	return transfers, nil
}

func (c *EthereumClient) SubmitTransfer(ctx context.Context, to string, amount decimal.Decimal) (string, error) {
	if c.key == nil {
		return "", errors.New("signing key not configured")
	}

	nonce, err := c.client.PendingNonceAt(ctx, c.from)
	if err != nil {
		return "", errors.Wrap(err, "pending nonce")
	}

	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", errors.Wrap(err, "suggest gas price")
	}

	tx := types.NewTransaction(nonce, common.HexToAddress(to), assetToWei(amount), transferGasLimit, gasPrice, nil)
	signed, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), c.key)
	if err != nil {
		return "", errors.Wrap(err, "sign tx")
	}

	if err := c.client.SendTransaction(ctx, signed); err != nil {
		return "", errors.Wrap(err, "send tx")
	}

	return signed.Hash().Hex(), nil
}

func (c *EthereumClient) GetTransactionStatus(ctx context.Context, ref string) (TxStatus, error) {
	receipt, err := c.client.TransactionReceipt(ctx, common.HexToHash(ref))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return TxStatusPending, nil
		}
		return TxStatusUnknown, errors.Wrap(err, "transaction receipt")
	}

	if receipt.Status == types.ReceiptStatusSuccessful {
		return TxStatusConfirmed, nil
	}
	return TxStatusFailed, nil
}

func (c *EthereumClient) ValidateAddress(address string) bool {
	return common.IsHexAddress(address)
}

var weiPerAsset = decimal.New(1, 18)

func weiToAsset(wei *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(wei, 0).Div(weiPerAsset)
}

func assetToWei(amount decimal.Decimal) *big.Int {
	return amount.Mul(weiPerAsset).Truncate(0).BigInt()
}
