package rulecache

import (
	"fmt"

	"github.com/Mindburn-Labs/dccvalidate/pkg/cose"
	"github.com/Mindburn-Labs/dccvalidate/pkg/hcert"
)

// EncodePackage produces the wire form of a package,
// zlib(COSE_Sign1(CBOR(v))). Publishers and test fixtures use it.
func EncodePackage(v any, signer cose.Signer) ([]byte, error) {
	payload, err := cose.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode package payload: %w", err)
	}
	signed, err := cose.Sign(payload, signer)
	if err != nil {
		return nil, err
	}
	return hcert.Deflate(signed)
}
