package swap

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestSecretHash_MatchesPackedKeccak(t *testing.T) {
	secret := common.HexToHash("0x01")
	w := common.HexToAddress("0x00000000000000000000000000000000000000b2")

	// keccak256(abi.encodePacked(bytes32(1), address(0xb2)))
	want := common.HexToHash("0x0e68066aa01f72dc2c678c698cc9c805573c6c9c9bdb7ac48efba4e5d2fa928d")
	if got := SecretHash(secret, w); got != want {
		t.Fatalf("SecretHash = %s, want %s", got.Hex(), want.Hex())
	}
}

func TestSecretHash_BindsWithdrawer(t *testing.T) {
	secret := common.HexToHash("0x1234")
	a := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	b := common.HexToAddress("0x00000000000000000000000000000000000000bb")

	if SecretHash(secret, a) == SecretHash(secret, b) {
		t.Fatal("Expected different hashes for different withdrawers")
	}
}

func TestNewSecret_Random(t *testing.T) {
	s1, err := NewSecret()
	if err != nil {
		t.Fatalf("NewSecret failed: %v", err)
	}
	s2, _ := NewSecret()
	if s1 == s2 || s1 == (common.Hash{}) {
		t.Fatal("Expected distinct non-zero secrets")
	}
}

func TestParseUint256(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"100", "100", false},
		{"0x64", "100", false},
		{"0", "0", false},
		{"115792089237316195423570985008687907853269984665640564039457584007913129639935", "115792089237316195423570985008687907853269984665640564039457584007913129639935", false},
		{"115792089237316195423570985008687907853269984665640564039457584007913129639936", "", true},
		{"-1", "", true},
		{"1.5", "", true},
		{"0x", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseUint256(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseUint256(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseUint256(%q) error: %v", tt.in, err)
			continue
		}
		if got.String() != tt.want {
			t.Errorf("ParseUint256(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
