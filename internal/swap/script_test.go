package swap

import (
	"bytes"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

func TestBuildSwapScriptLayout(t *testing.T) {
	net := testNet(t)
	recipient := newParty(t, 1)
	refund := newParty(t, 2)
	secretHash := make([]byte, 32)

	script, err := BuildSwapScript(recipient.address, refund.address, secretHash, 500000, net)
	if err != nil {
		t.Fatalf("BuildSwapScript() error = %v", err)
	}

	rPKH := btcutil.Hash160(recipient.key.PubKey().SerializeCompressed())
	fPKH := btcutil.Hash160(refund.key.PubKey().SerializeCompressed())

	var want []byte
	want = append(want, 0x63, 0xa8, 0x20)
	want = append(want, secretHash...)
	want = append(want, 0x88, 0x76, 0xa9, 0x14)
	want = append(want, rPKH...)
	want = append(want, 0x67, 0x03, 0x20, 0xa1, 0x07, 0xb1, 0x75, 0x76, 0xa9, 0x14)
	want = append(want, fPKH...)
	want = append(want, 0x68, 0x88, 0xac)

	if !bytes.Equal(script, want) {
		t.Fatalf("script = %x\nwant     %x", script, want)
	}

	scriptHex := hex.EncodeToString(script)
	if !strings.HasPrefix(scriptHex, "63") {
		t.Error("script should start with OP_IF")
	}
	if !strings.Contains(scriptHex, "a8") {
		t.Error("script should contain OP_SHA256")
	}
	if !strings.Contains(scriptHex, "20"+strings.Repeat("00", 32)) {
		t.Error("script should push the zero secret hash")
	}
	if len(script) != 92 {
		t.Errorf("len(script) = %d, want 92", len(script))
	}
}

func TestBuildSwapScriptExpirationPush(t *testing.T) {
	net := testNet(t)
	recipient := newParty(t, 1)
	refund := newParty(t, 2)
	secretHash := HashSecret([]byte("secret"))

	tests := []struct {
		name       string
		expiration int64
		want       []byte
	}{
		{"small integer keeps length byte", 5, []byte{0x67, 0x01, 0x05, 0xb1}},
		{"sixteen", 16, []byte{0x67, 0x01, 0x10, 0xb1}},
		{"sign byte", 128, []byte{0x67, 0x02, 0x80, 0x00, 0xb1}},
		{"block height", 500000, []byte{0x67, 0x03, 0x20, 0xa1, 0x07, 0xb1}},
		{"max lock time", 0xffffffff, []byte{0x67, 0x05, 0xff, 0xff, 0xff, 0xff, 0x00, 0xb1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			script, err := BuildSwapScript(recipient.address, refund.address, secretHash, tt.expiration, net)
			if err != nil {
				t.Fatalf("BuildSwapScript() error = %v", err)
			}
			if !bytes.Contains(script, tt.want) {
				t.Errorf("script %x does not contain %x", script, tt.want)
			}
		})
	}
}

func TestBuildSwapScriptDeterministic(t *testing.T) {
	p, _, _ := testParams(t)
	net := testNet(t)

	first, err := CreateSwapScript(p, net)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		again, err := CreateSwapScript(p, net)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("run %d produced a different script", i)
		}
	}
}

func TestBuildSwapScriptErrors(t *testing.T) {
	net := testNet(t)
	recipient := newParty(t, 1)
	refund := newParty(t, 2)
	secretHash := HashSecret([]byte("secret"))

	mainnetAddr, err := PubKeyToAddress(recipient.key.PubKey().SerializeCompressed(), &chaincfg.MainNetParams)
	if err != nil {
		t.Fatal(err)
	}
	p2sh, err := ScriptToAddress([]byte{0x51}, net)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		recipient  string
		refund     string
		secretHash []byte
		expiration int64
		wantErr    error
	}{
		{"garbage recipient", "not-an-address", refund.address, secretHash, 100, ErrInvalidAddress},
		{"garbage refund", recipient.address, "", secretHash, 100, ErrInvalidAddress},
		{"recipient on other network", mainnetAddr, refund.address, secretHash, 100, ErrInvalidAddress},
		{"P2SH recipient", p2sh, refund.address, secretHash, 100, ErrInvalidAddress},
		{"short hash", recipient.address, refund.address, secretHash[:20], 100, ErrInvalidSecretHash},
		{"missing hash", recipient.address, refund.address, nil, 100, ErrInvalidSecretHash},
		{"zero expiration", recipient.address, refund.address, secretHash, 0, ErrInvalidExpiration},
		{"expiration past lock time", recipient.address, refund.address, secretHash, 1 << 32, ErrInvalidExpiration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildSwapScript(tt.recipient, tt.refund, tt.secretHash, tt.expiration, net)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("BuildSwapScript() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestScriptNumBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, ""},
		{1, "01"},
		{16, "10"},
		{127, "7f"},
		{128, "8000"},
		{255, "ff00"},
		{256, "0001"},
		{500000, "20a107"},
		{0x7fffffff, "ffffff7f"},
		{0xffffffff, "ffffffff00"},
		{-1, "81"},
		{-127, "ff"},
		{-128, "8080"},
		{-256, "0081"},
	}

	for _, tt := range tests {
		got := hex.EncodeToString(ScriptNumBytes(tt.n))
		if got != tt.want {
			t.Errorf("ScriptNumBytes(%d) = %s, want %s", tt.n, got, tt.want)
		}
		if back := parseScriptNum(ScriptNumBytes(tt.n)); back != tt.n {
			t.Errorf("parseScriptNum(ScriptNumBytes(%d)) = %d", tt.n, back)
		}
	}
}

func TestParseSwapScript(t *testing.T) {
	p, recipient, refund := testParams(t)
	net := testNet(t)

	script, err := CreateSwapScript(p, net)
	if err != nil {
		t.Fatal(err)
	}

	pushes, err := ParseSwapScript(script)
	if err != nil {
		t.Fatalf("ParseSwapScript() error = %v", err)
	}
	if !bytes.Equal(pushes.SecretHash, p.SecretHash) {
		t.Errorf("SecretHash = %x, want %x", pushes.SecretHash, p.SecretHash)
	}
	if pushes.Expiration != p.Expiration {
		t.Errorf("Expiration = %d, want %d", pushes.Expiration, p.Expiration)
	}

	gotRecipient, gotRefund, err := pushes.Addresses(net)
	if err != nil {
		t.Fatal(err)
	}
	if gotRecipient != recipient.address || gotRefund != refund.address {
		t.Errorf("Addresses() = %s, %s, want %s, %s", gotRecipient, gotRefund, recipient.address, refund.address)
	}
}

func TestParseSwapScriptMalformed(t *testing.T) {
	p, _, _ := testParams(t)
	script, err := CreateSwapScript(p, testNet(t))
	if err != nil {
		t.Fatal(err)
	}

	smallInt := bytes.Replace(script, []byte{0x67, 0x03, 0x20, 0xa1, 0x07}, []byte{0x67, 0x55}, 1)

	tests := []struct {
		name   string
		script []byte
	}{
		{"empty", nil},
		{"truncated", script[:len(script)-1]},
		{"trailing data", append(append([]byte{}, script...), 0x51)},
		{"wrong first op", append([]byte{0x64}, script[1:]...)},
		{"small-integer expiration", smallInt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseSwapScript(tt.script); !errors.Is(err, ErrMalformedScript) {
				t.Errorf("ParseSwapScript() error = %v, want ErrMalformedScript", err)
			}
		})
	}
}

func TestDepositAddressDistinct(t *testing.T) {
	net := testNet(t)
	base, _, _ := testParams(t)
	other := newParty(t, 3)

	baseAddr, err := DepositAddress(base, net)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(baseAddr, "2") {
		t.Errorf("testnet deposit address %s should start with 2", baseAddr)
	}

	tests := []struct {
		name   string
		mutate func(p *Params)
	}{
		{"secret hash", func(p *Params) { p.SecretHash = HashSecret([]byte("other")) }},
		{"expiration", func(p *Params) { p.Expiration++ }},
		{"recipient", func(p *Params) { p.RecipientAddress = other.address }},
		{"refund", func(p *Params) { p.RefundAddress = other.address }},
		{"swapped parties", func(p *Params) {
			p.RecipientAddress, p.RefundAddress = p.RefundAddress, p.RecipientAddress
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := *base
			tt.mutate(&p)
			addr, err := DepositAddress(&p, net)
			if err != nil {
				t.Fatal(err)
			}
			if addr == baseAddr {
				t.Errorf("changing %s kept deposit address %s", tt.name, addr)
			}
		})
	}
}
