// Package auth proves caller identity for swap requests.
//
// Authentication model:
//   - Reads (swap lookup, listings, secrets helper): no auth required
//   - Mutations (propose, claim, refund, webhooks): the caller signs
//     "PodSwap|<METHOD>|<PATH>|<unix-ts>|<keccak256(body)>" with their
//     Ethereum key (EIP-191) and sends address, timestamp and signature
//     as headers
//   - Signatures must be low-s; each one is accepted once
package auth

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrMissingHeaders   = errors.New("signed request headers required")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrSignerMismatch   = errors.New("signature does not match address")
	ErrStaleTimestamp   = errors.New("request timestamp outside the accepted window")
	ErrReplayed         = errors.New("signature already used")
)

// Message builds the string a caller signs for one request. A nil body
// hashes the same as an empty one.
func Message(method, path string, timestamp int64, body []byte) string {
	return "PodSwap|" + strings.ToUpper(method) + "|" + path + "|" +
		strconv.FormatInt(timestamp, 10) + "|" + hexutil.Encode(crypto.Keccak256(body))
}

// HashMessage applies the EIP-191 personal-sign prefix and hashes the result.
func HashMessage(message string) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(message))
	return crypto.Keccak256([]byte(prefix + message))
}

// Sign produces a 65-byte hex signature with v in {27, 28}.
func Sign(key *ecdsa.PrivateKey, message string) (string, error) {
	sig, err := crypto.Sign(HashMessage(message), key)
	if err != nil {
		return "", err
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// parseSignature decodes a 65-byte signature and returns it with v
// normalised to 0/1. High-s signatures are rejected so that each signed
// message has exactly one accepted encoding.
func parseSignature(signatureHex string) ([]byte, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(signatureHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if len(sig) != crypto.SignatureLength {
		return nil, fmt.Errorf("%w: must be 65 bytes, got %d", ErrInvalidSignature, len(sig))
	}
	// Wallets emit v = 27/28; Ecrecover expects 0/1.
	switch sig[64] {
	case 27, 28:
		sig[64] -= 27
	case 0, 1:
	default:
		return nil, fmt.Errorf("%w: bad recovery id %d", ErrInvalidSignature, sig[64])
	}
	r, s := new(big.Int).SetBytes(sig[:32]), new(big.Int).SetBytes(sig[32:64])
	if !crypto.ValidateSignatureValues(sig[64], r, s, true) {
		return nil, fmt.Errorf("%w: malleable or out of range", ErrInvalidSignature)
	}
	return sig, nil
}

// RecoverAddress returns the signer of message.
func RecoverAddress(message, signatureHex string) (common.Address, error) {
	sig, err := parseSignature(signatureHex)
	if err != nil {
		return common.Address{}, err
	}
	return recoverSigner(message, sig)
}

func recoverSigner(message string, sig []byte) (common.Address, error) {
	pub, err := crypto.SigToPub(HashMessage(message), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifySignature checks that expected signed message.
func VerifySignature(message, signatureHex string, expected common.Address) error {
	got, err := RecoverAddress(message, signatureHex)
	if err != nil {
		return err
	}
	if got != expected {
		return fmt.Errorf("%w: expected %s, got %s", ErrSignerMismatch, expected.Hex(), got.Hex())
	}
	return nil
}

// SignRequest adds signed identity headers for key to req. The body is
// read and put back so the request can still be sent.
func SignRequest(req *http.Request, key *ecdsa.PrivateKey, now time.Time) error {
	var body []byte
	if req.Body != nil && req.Body != http.NoBody {
		b, err := io.ReadAll(req.Body)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		_ = req.Body.Close()
		body = b
		req.Body = io.NopCloser(bytes.NewReader(b))
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(b)), nil
		}
	}

	ts := now.Unix()
	sig, err := Sign(key, Message(req.Method, req.URL.Path, ts, body))
	if err != nil {
		return err
	}
	req.Header.Set(HeaderAddress, crypto.PubkeyToAddress(key.PublicKey).Hex())
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderSignature, sig)
	return nil
}
