package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/vladmeeros/polymarket-arbitrage-bot/internal/domain"
)

const (
	// PolygonChainID is Polygon mainnet.
	PolygonChainID = 137
	// DefaultExchangeAddress is the CTF Exchange contract on Polygon.
	DefaultExchangeAddress = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"

	exchangeDomainName = "Polymarket CTF Exchange"
	authDomainName     = "ClobAuthDomain"
	domainVersion      = "1"

	// AuthMessage is the fixed attestation string of the ClobAuth payload.
	AuthMessage = "This message attests that I control the given wallet"
)

// Signature types understood by the exchange.
const (
	SignatureTypeEOA        = 0
	SignatureTypePolyProxy  = 1
	SignatureTypeGnosisSafe = 2
)

var (
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	eip712DomainContractTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"),
	)

	clobAuthTypeHash = ethcrypto.Keccak256(
		[]byte("ClobAuth(address address,string timestamp,uint256 nonce,string message)"),
	)

	orderTypeHash = ethcrypto.Keccak256(
		[]byte("Order(uint256 salt,address maker,address signer,address taker,uint256 tokenId,uint256 makerAmount,uint256 takerAmount,uint256 expiration,uint256 nonce,uint256 feeRateBps,uint8 side,uint8 signatureType)"),
	)

	zeroAddress = common.Address{}
)

// SignedOrder is an order in the venue's wire format: numeric fields as
// decimal strings, side as BUY/SELL and the signature attached.
type SignedOrder struct {
	Salt          string `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          string `json:"side"`
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature"`
}

// Signer provides EIP-712 signing for the Polymarket CLOB API. It owns the
// trading key; nothing else in the process holds it.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    int64
	exchange   common.Address
	authSep    []byte // ClobAuth domain separator
	orderSep   []byte // CTF Exchange domain separator
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key. An
// empty exchange address selects DefaultExchangeAddress.
func NewSigner(privateKeyHex string, chainID int64, exchangeAddress string) (*Signer, error) {
	key, err := VerifyPrivateKey(privateKeyHex)
	if err != nil {
		return nil, err
	}
	pk, err := ethcrypto.HexToECDSA(key[2:])
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	if exchangeAddress == "" {
		exchangeAddress = DefaultExchangeAddress
	}
	if !common.IsHexAddress(exchangeAddress) {
		return nil, fmt.Errorf("crypto/signer: invalid exchange address %q", exchangeAddress)
	}

	s := &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    chainID,
		exchange:   common.HexToAddress(exchangeAddress),
	}
	s.authSep = ethcrypto.Keccak256(concatBytes(
		eip712DomainTypeHash,
		ethcrypto.Keccak256([]byte(authDomainName)),
		ethcrypto.Keccak256([]byte(domainVersion)),
		uint256(big.NewInt(chainID)),
	))
	s.orderSep = ethcrypto.Keccak256(concatBytes(
		eip712DomainContractTypeHash,
		ethcrypto.Keccak256([]byte(exchangeDomainName)),
		ethcrypto.Keccak256([]byte(domainVersion)),
		uint256(big.NewInt(chainID)),
		common.LeftPadBytes(s.exchange.Bytes(), 32),
	))
	return s, nil
}

// Address returns the Ethereum address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignAuth signs the ClobAuth message used to create or derive API
// credentials.
func (s *Signer) SignAuth(timestamp string, nonce int64) (string, error) {
	return s.signDigest(s.authDigest(timestamp, nonce))
}

func (s *Signer) authDigest(timestamp string, nonce int64) []byte {
	structHash := ethcrypto.Keccak256(concatBytes(
		clobAuthTypeHash,
		common.LeftPadBytes(s.address.Bytes(), 32),
		ethcrypto.Keccak256([]byte(timestamp)),
		uint256(big.NewInt(nonce)),
		ethcrypto.Keccak256([]byte(AuthMessage)),
	))
	return eip712Hash(s.authSep, structHash)
}

// SignOrder signs order for the CTF Exchange. funder is the maker (the
// proxy or safe holding funds); when empty the signer itself is the maker.
func (s *Signer) SignOrder(order domain.OrderRequest, signatureType int, funder string) (SignedOrder, error) {
	maker := s.address
	if funder != "" {
		if !common.IsHexAddress(funder) {
			return SignedOrder{}, fmt.Errorf("crypto/signer: %w: invalid maker %q", domain.ErrInvalidOrder, funder)
		}
		maker = common.HexToAddress(funder)
	} else if order.Maker != "" && common.IsHexAddress(order.Maker) {
		maker = common.HexToAddress(order.Maker)
	}

	tokenID, ok := new(big.Int).SetString(order.TokenID, 10)
	if !ok {
		return SignedOrder{}, fmt.Errorf("crypto/signer: %w: tokenId %q", domain.ErrInvalidOrder, order.TokenID)
	}

	payload := SignedOrder{
		Salt:          strconv.FormatInt(time.Now().Unix(), 10),
		Maker:         maker.Hex(),
		Signer:        s.address.Hex(),
		Taker:         zeroAddress.Hex(),
		TokenID:       tokenID.String(),
		MakerAmount:   strconv.FormatInt(order.MakerAmount(), 10),
		TakerAmount:   strconv.FormatInt(order.TakerAmount(), 10),
		Expiration:    "0",
		Nonce:         strconv.FormatInt(order.Nonce, 10),
		FeeRateBps:    strconv.FormatInt(order.FeeRateBps, 10),
		Side:          string(order.Side),
		SignatureType: signatureType,
	}

	digest, err := s.orderDigest(payload)
	if err != nil {
		return SignedOrder{}, err
	}
	sig, err := s.signDigest(digest)
	if err != nil {
		return SignedOrder{}, err
	}
	payload.Signature = sig
	return payload, nil
}

func (s *Signer) orderDigest(o SignedOrder) ([]byte, error) {
	nums := make([]*big.Int, 0, 7)
	for _, f := range []struct{ name, v string }{
		{"salt", o.Salt},
		{"tokenId", o.TokenID},
		{"makerAmount", o.MakerAmount},
		{"takerAmount", o.TakerAmount},
		{"expiration", o.Expiration},
		{"nonce", o.Nonce},
		{"feeRateBps", o.FeeRateBps},
	} {
		n, ok := new(big.Int).SetString(f.v, 10)
		if !ok {
			return nil, fmt.Errorf("crypto/signer: invalid %s %q", f.name, f.v)
		}
		nums = append(nums, n)
	}
	side, err := domain.ParseOrderSide(o.Side)
	if err != nil {
		return nil, err
	}

	structHash := ethcrypto.Keccak256(concatBytes(
		orderTypeHash,
		uint256(nums[0]),
		common.LeftPadBytes(common.HexToAddress(o.Maker).Bytes(), 32),
		common.LeftPadBytes(common.HexToAddress(o.Signer).Bytes(), 32),
		common.LeftPadBytes(common.HexToAddress(o.Taker).Bytes(), 32),
		uint256(nums[1]),
		uint256(nums[2]),
		uint256(nums[3]),
		uint256(nums[4]),
		uint256(nums[5]),
		uint256(nums[6]),
		uint256(big.NewInt(int64(side.Code()))),
		uint256(big.NewInt(int64(o.SignatureType))),
	))
	return eip712Hash(s.orderSep, structHash), nil
}

// eip712Hash computes keccak256("\x19\x01" || domainSeparator || structHash).
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(concatBytes([]byte{0x19, 0x01}, domainSep, structHash))
}

// signDigest signs a 32-byte digest and returns the 65-byte r||s||v
// signature as 0x-prefixed hex.
func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: %w: %v", domain.ErrSigningFailed, err)
	}
	// go-ethereum returns v in {0,1}; EIP-712 expects v in {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// uint256 returns the 32-byte big-endian ABI encoding of a non-negative n.
func uint256(n *big.Int) []byte {
	return common.LeftPadBytes(n.Bytes(), 32)
}

func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
