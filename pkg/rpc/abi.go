package rpc

import (
	"bytes"
	"embed"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

//go:embed abis/*.json
var abiFS embed.FS

// Contract method names used by the adapters.
const (
	methodDepositCounter  = "depositCounter"
	methodGetDeposit      = "getDeposit"
	methodPaymentMethods  = "getDepositPaymentMethods"
	methodBalanceOf       = "balanceOf"
	methodDecimals        = "decimals"
	depositNotFoundError  = "DepositNotFound()"
	depositNotFoundMarker = "DepositNotFound"
)

// EscrowABI loads the escrow ABI from path, or the bundled one when path is empty.
func EscrowABI(path string) (abi.ABI, error) {
	var (
		bz  []byte
		err error
	)
	if path == "" {
		bz, err = abiFS.ReadFile("abis/escrow.json")
	} else {
		bz, err = os.ReadFile(path)
	}
	if err != nil {
		return abi.ABI{}, fmt.Errorf("read escrow abi: %w", err)
	}
	parsed, err := abi.JSON(bytes.NewReader(bz))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse escrow abi: %w", err)
	}
	for _, m := range []string{methodDepositCounter, methodGetDeposit, methodPaymentMethods} {
		if _, ok := parsed.Methods[m]; !ok {
			return abi.ABI{}, fmt.Errorf("escrow abi is missing method %s", m)
		}
	}
	return parsed, nil
}

func erc20ABI() (abi.ABI, error) {
	bz, err := abiFS.ReadFile("abis/erc20.json")
	if err != nil {
		return abi.ABI{}, err
	}
	return abi.JSON(bytes.NewReader(bz))
}
