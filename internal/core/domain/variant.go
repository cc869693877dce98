package domain

import "fmt"

// Variant selects one of the six padding-oracle strategies. They share the
// framing, MAC chain and handshake logic and differ only in rnd_data_len.
type Variant int

const (
	VariantA Variant = iota
	VariantB
	VariantC
	VariantD
	VariantE
	VariantF
)

// Salt returns the per-variant salt mixed into the handshake's AES key
// material, matching the "auth_chain_a".."auth_chain_f" method names.
func (v Variant) Salt() []byte {
	return []byte(v.String())
}

func (v Variant) String() string {
	switch v {
	case VariantA:
		return "auth_chain_a"
	case VariantB:
		return "auth_chain_b"
	case VariantC:
		return "auth_chain_c"
	case VariantD:
		return "auth_chain_d"
	case VariantE:
		return "auth_chain_e"
	case VariantF:
		return "auth_chain_f"
	default:
		return fmt.Sprintf("auth_chain_variant(%d)", int(v))
	}
}

// ParseVariant maps a method name such as "auth_chain_c" back to a Variant.
func ParseVariant(name string) (Variant, error) {
	for v := VariantA; v <= VariantF; v++ {
		if v.String() == name {
			return v, nil
		}
	}
	return 0, fmt.Errorf("authchain: unknown variant %q", name)
}
