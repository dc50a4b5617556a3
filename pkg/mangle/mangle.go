// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package mangle implements the NameMangler (C6, §4.4): deterministic
// mangling of a display name into its 5-character on-disk form, and a
// dictionary-attack demangler that inverts it by brute force.
package mangle

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

// utf16LE is the shared encoder for step 1 of the mangling algorithm
// (§4.4: "Interpret the name as a UTF-16 code-unit sequence").
var utf16LE = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

const (
	fnvOffset = 0xCBF29CE484222325
	fnvPrime  = 0x100000001B3
)

// fold reduces a 32-byte SHA-256 digest to a 64-bit value by FNV-1a
// mixing each byte of each of the digest's 8 32-bit little-endian
// words (§4.4 step 3).
func fold(digest [32]byte) uint64 {
	acc := uint64(fnvOffset)
	for w := 0; w < 8; w++ {
		word := digest[w*4 : w*4+4] // already little-endian order in the digest bytes
		for _, b := range word {
			acc ^= uint64(b)
			acc *= fnvPrime
		}
	}
	return acc
}

// Mangle5 computes the 5-character mangled form of one name segment
// (§4.4 steps 1-4).
func Mangle5(name string) string {
	utf16Bytes, err := utf16LE.NewEncoder().String(name)
	if err != nil {
		// Encoding failure only occurs for unpaired surrogates,
		// which can't appear in a valid Go string; fall back to the
		// raw bytes rather than panicking, so mangling never errors.
		utf16Bytes = name
	}
	digest := sha256.Sum256([]byte(utf16Bytes))
	folded := fold(digest)

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], folded)
	encoded := base64.RawURLEncoding.EncodeToString(buf[:])
	if len(encoded) < 5 {
		return encoded
	}
	return encoded[:5]
}

// MangleFullName mangles a dotted display name into its fixed-length
// on-disk form (§4.4 step 5, §6.5), matching Content::MangleFullName
// (original_source/Content.cpp): the name is split on its *last* dot
// only, the entire parent path up to that point (dots and all) is
// mangled as a single unit, and the trailing leaf segment is mangled
// separately — it is not split recursively through every dot. A
// single segment yields 5 characters; "a.b" yields the 11-character
// sequence mangle5(a)+"."+mangle5(b); "a.b.c" yields
// mangle5("a.b")+"."+mangle5("c"), not mangle5(a)+"."+mangle5(b)+"."+mangle5(c).
func MangleFullName(name string) string {
	if name == "" {
		return Mangle5("")
	}
	pos := strings.LastIndexByte(name, '.')
	if pos < 0 {
		return Mangle5(name)
	}
	return Mangle5(name[:pos]) + "." + Mangle5(name[pos+1:])
}
