package main

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

func parseAddr(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	if v > 0x7F {
		return 0, fmt.Errorf("address %#x is not a 7-bit address", v)
	}
	return uint16(v), nil
}

func parseUint(s string, max uint64) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", s, err)
	}
	if v > max {
		return 0, fmt.Errorf("%d out of range (max %d)", v, max)
	}
	return v, nil
}

// parseHex accepts "01ff23", "0x01 0xff 0x23", "01:ff:23" and mixes of them.
func parseHex(args ...string) ([]byte, error) {
	var b strings.Builder
	for _, a := range args {
		for _, f := range strings.FieldsFunc(a, func(r rune) bool { return r == ' ' || r == ':' || r == ',' }) {
			f = strings.TrimPrefix(strings.TrimPrefix(f, "0x"), "0X")
			if len(f)%2 != 0 {
				f = "0" + f
			}
			b.WriteString(f)
		}
	}
	data, err := hex.DecodeString(b.String())
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}
	return data, nil
}
