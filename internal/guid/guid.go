// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package guid implements the 16-byte GUID identity used throughout
// the content graph (§3.1, §3.4 of the content model): objects,
// namespaces and ParamValue payloads are all keyed by this type.
package guid

import (
	"encoding"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/xvwyh/GW2Viewer-sub000/internal/fmtutil"
)

// GUID is a 16-byte globally-unique identifier.
type GUID [16]byte

var (
	_ fmt.Stringer             = GUID{}
	_ fmt.Formatter            = GUID{}
	_ encoding.TextMarshaler   = GUID{}
	_ encoding.TextUnmarshaler = (*GUID)(nil)
)

// Zero is the all-zero GUID, used as a sentinel for "no GUID present".
var Zero GUID

func (g GUID) IsZero() bool {
	return g == Zero
}

func (g GUID) String() string {
	str := hex.EncodeToString(g[:])
	return strings.Join([]string{
		str[:8],
		str[8:12],
		str[12:16],
		str[16:20],
		str[20:32],
	}, "-")
}

func (g GUID) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}

func (g *GUID) UnmarshalText(text []byte) error {
	var err error
	*g, err = Parse(string(text))
	return err
}

func (g GUID) Format(f fmt.State, verb rune) {
	fmtutil.FormatByteArrayStringer(g, g[:], f, verb)
}

// Compare gives GUID a total order, used by the content graph's
// by-GUID index and by test fixtures that want deterministic
// iteration order.
func (a GUID) Compare(b GUID) int {
	for i := range a {
		if d := int(a[i]) - int(b[i]); d != 0 {
			return d
		}
	}
	return 0
}

// Parse parses the canonical hyphenated hex form of a GUID
// ("xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx"), tolerating any
// placement of hyphens (none are required to be in any particular
// place; they're just skipped).
//
//nolint:gomnd // This is all magic numbers.
func Parse(str string) (GUID, error) {
	var ret GUID
	j := 0
	for i := 0; i < len(str); i++ {
		if j >= len(ret)*2 {
			return GUID{}, fmt.Errorf("too long to be a GUID: %q|%q", str[:i], str[i:])
		}
		c := str[i]
		var v byte
		switch {
		case '0' <= c && c <= '9':
			v = c - '0'
		case 'a' <= c && c <= 'f':
			v = c - 'a' + 10
		case 'A' <= c && c <= 'F':
			v = c - 'A' + 10
		case c == '-':
			continue
		default:
			return GUID{}, fmt.Errorf("illegal byte in GUID: %q|%q|%q", str[:i], str[i:i+1], str[i+1:])
		}
		if j%2 == 0 {
			ret[j/2] = v << 4
		} else {
			ret[j/2] = (ret[j/2] & 0xf0) | (v & 0x0f)
		}
		j++
	}
	return ret, nil
}

func MustParse(str string) GUID {
	ret, err := Parse(str)
	if err != nil {
		panic(err)
	}
	return ret
}

// FromBytes reads a GUID out of a 16-byte-or-longer slice, as found
// inline in a content object's payload at its type's guid_offset.
func FromBytes(b []byte) (GUID, error) {
	var ret GUID
	if len(b) < len(ret) {
		return ret, fmt.Errorf("guid.FromBytes: need %d bytes, got %d", len(ret), len(b))
	}
	copy(ret[:], b[:len(ret)])
	return ret, nil
}
