package swap

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// AddressToPubKeyHash decodes a P2PKH address for params and returns its
// 20-byte hash. Any other address type fails with ErrInvalidAddress.
func AddressToPubKeyHash(address string, params *chaincfg.Params) ([]byte, error) {
	addr, err := btcutil.DecodeAddress(address, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidAddress, address, err)
	}
	pkh, ok := addr.(*btcutil.AddressPubKeyHash)
	if !ok || !pkh.IsForNet(params) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAddress, address)
	}
	return pkh.ScriptAddress(), nil
}

// ScriptToAddress returns the P2SH address committing to script.
func ScriptToAddress(script []byte, params *chaincfg.Params) (string, error) {
	addr, err := btcutil.NewAddressScriptHash(script, params)
	if err != nil {
		return "", fmt.Errorf("failed to create P2SH address: %w", err)
	}
	return addr.EncodeAddress(), nil
}

// PubKeyHashToAddress returns the P2PKH address for a 20-byte key hash.
func PubKeyHashToAddress(pkh []byte, params *chaincfg.Params) (string, error) {
	addr, err := btcutil.NewAddressPubKeyHash(pkh, params)
	if err != nil {
		return "", fmt.Errorf("failed to create P2PKH address: %w", err)
	}
	return addr.EncodeAddress(), nil
}

// PubKeyToAddress returns the P2PKH address of a serialized public key.
func PubKeyToAddress(pubKey []byte, params *chaincfg.Params) (string, error) {
	return PubKeyHashToAddress(btcutil.Hash160(pubKey), params)
}

// PayToAddrScript returns the output script paying address.
func PayToAddrScript(address string, params *chaincfg.Params) ([]byte, error) {
	addr, err := btcutil.DecodeAddress(address, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidAddress, address, err)
	}
	if !addr.IsForNet(params) {
		return nil, fmt.Errorf("%w: %s is for another network", ErrInvalidAddress, address)
	}
	return txscript.PayToAddrScript(addr)
}

// CreateSwapScript builds the redeem script for p.
func CreateSwapScript(p *Params, params *chaincfg.Params) ([]byte, error) {
	return BuildSwapScript(p.RecipientAddress, p.RefundAddress, p.SecretHash, p.Expiration, params)
}

// DepositAddress returns the P2SH address a swap is funded to.
func DepositAddress(p *Params, params *chaincfg.Params) (string, error) {
	script, err := CreateSwapScript(p, params)
	if err != nil {
		return "", err
	}
	return ScriptToAddress(script, params)
}

// depositPkScript returns the output script of the deposit address along
// with the redeem script it commits to.
func depositPkScript(p *Params, params *chaincfg.Params) (pkScript, redeemScript []byte, err error) {
	redeemScript, err = CreateSwapScript(p, params)
	if err != nil {
		return nil, nil, err
	}
	addr, err := btcutil.NewAddressScriptHash(redeemScript, params)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create P2SH address: %w", err)
	}
	pkScript, err = txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, nil, err
	}
	return pkScript, redeemScript, nil
}
