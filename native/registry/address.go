package registry

import (
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// EscrowCodeTemplate identifies the escrow program version that deterministic
// addresses commit to. Bumping it moves every predicted address.
const EscrowCodeTemplate = "filamint.escrow.v1"

var escrowCodeHash = ethcrypto.Keccak256([]byte(EscrowCodeTemplate))

// DeriveRegistryAddress is the identity of the registry deployed by owner.
func DeriveRegistryAddress(owner [20]byte) [20]byte {
	return ethcrypto.CreateAddress(common.Address(owner), 0)
}

// PredictAddress returns the identity a deterministic order with salt will
// receive from registry. It is a pure function of its inputs.
func PredictAddress(registry [20]byte, salt [32]byte) [20]byte {
	return ethcrypto.CreateAddress2(common.Address(registry), salt, escrowCodeHash)
}

func sequentialAddress(registry [20]byte, nonce uint64) [20]byte {
	return ethcrypto.CreateAddress(common.Address(registry), nonce)
}
