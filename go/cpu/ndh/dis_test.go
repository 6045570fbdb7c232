package ndh

import (
	"encoding/hex"
	"testing"
)

// strlen of "Hello World !\n" followed by write(1, str, len) and end
var asmHex = "1b00000402003880040201000004020200000402050000040a02001702020a050a0011f2ff0401000404010101040202388004000305301c48656c6c6f20576f726c6420210a00"

func TestNdhDis(t *testing.T) {
	code, err := hex.DecodeString(asmHex)
	if err != nil {
		t.Fatal(err)
	}
	out, err := (&Dis{}).Dis(code, 0x8000)
	if err != nil {
		t.Fatal(err)
	}
	for _, ins := range out {
		t.Log(ins)
	}
	if len(out) != 16 {
		t.Fatalf("decoded %d instructions, expected 16", len(out))
	}
	expect := map[int]string{
		0:  "jmpl 0x0",
		1:  "mov r0, 0x8038",
		5:  "mov r2, [r0]",
		6:  "test r2, r2",
		9:  "jnz 0xfff2",
		14: "syscall",
		15: "end",
	}
	for i, s := range expect {
		if got := out[i].(*ins).String(); got != s {
			t.Errorf("instruction %d: got %q, expected %q", i, got, s)
		}
	}
	if out[9].Addr() != 0x8022 || !out[9].Branch() || out[6].Branch() {
		t.Errorf("bad jnz decode: %#x branch=%v", out[9].Addr(), out[9].Branch())
	}
}

func TestDecodeErrors(t *testing.T) {
	cases := map[string]string{
		"unknown op":   "ff",
		"truncated":    "0402",
		"bad flag":     "04ff0000",
		"bad register": "0a20",
		"empty":        "",
	}
	for name, h := range cases {
		code, _ := hex.DecodeString(h)
		if _, err := Decode(code, 0x1000); err == nil {
			t.Errorf("%s: decode succeeded", name)
		}
	}
}
