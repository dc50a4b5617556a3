// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package stringpack implements the string pack (C4, §3.6/§4.3): a
// per-language collection of files holding encrypted or literal
// strings, decoded through a small term grammar and a fix-up pass,
// keyed by a dense 32-bit string id.
package stringpack

import (
	"encoding/binary"
	"fmt"
	"strings"
	"unicode/utf16"

	"golang.org/x/text/encoding/unicode"

	"github.com/xvwyh/GW2Viewer-sub000/internal/containers"
	"github.com/xvwyh/GW2Viewer-sub000/pkg/archive"
	"github.com/xvwyh/GW2Viewer-sub000/pkg/keystore"
	"github.com/xvwyh/GW2Viewer-sub000/pkg/packfile"
)

// utf16LE is the shared golang.org/x/text decoder/encoder pair for
// the string pack's wide-char literal runs (§4.3). Fix-up splicing
// still has to operate on individual UTF-16 code units (see
// applyFixups), but the fixup-free fast path and any re-encoding for
// round-trip tests go through this decoder rather than a hand-rolled
// one.
var utf16LE = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// decodeLiteralRun decodes a raw little-endian UTF-16 byte run with
// no fix-up spans via golang.org/x/text's decoder.
func decodeLiteralRun(raw []byte) (string, error) {
	out, err := utf16LE.NewDecoder().Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("stringpack: decoding literal run: %w", err)
	}
	return string(out), nil
}

// Status tags the provenance of a resolved string (§3.6, §7
// DecryptionMissing: "the entity reports Encrypted status", never a
// raw byte blob — §8 invariant 7).
type Status int

const (
	Missing Status = iota
	Unencrypted
	Encrypted
	Decrypted
)

func (s Status) String() string {
	switch s {
	case Missing:
		return "Missing"
	case Unencrypted:
		return "Unencrypted"
	case Encrypted:
		return "Encrypted"
	case Decrypted:
		return "Decrypted"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Language enumerates the string pack's per-language file sets. The
// concrete values aren't part of the external contract; only the
// manifest chunk (read at load time) says which language ids exist.
type Language uint32

// entryKind is the on-disk tag for one index-table slot.
type entryKind uint32

const (
	entryMissing entryKind = iota
	entryLiteral
	entryEncrypted
)

// fixupKind is one of the three annotation kinds §4.3 names.
type fixupKind uint8

const (
	fixupNone fixupKind = iota
	fixupPlural
	fixupArticle
	fixupEscape
)

// fixupEscapeCode is the magic code for FIXUP_TYPE_ESCAPE, the
// auto-digit-separator fixup (§4.3).
const fixupEscapeCode = 0x782D2CF2

// Fixup annotates a span (in UTF-16 code units) of a literal run that
// needs resolve-time substitution (§4.3: "applied at resolve time,
// not at parse time").
type Fixup struct {
	Start, Length int
	Kind          fixupKind
}

// concatKind distinguishes a literal run from a coded (recursive)
// reference (§4.3).
type concatKind uint8

const (
	concatLiteral concatKind = iota
	concatCoded
)

// term is one node of the on-disk string's concat chain: CONCAT_LITERAL
// carries UTF-16 text plus fix-up spans, CONCAT_CODED carries a string
// id to resolve recursively. TERM_FINAL/TERM_INTERMEDIATE (§4.3) is
// just whether there's a following term.
type term struct {
	final   bool
	concat  concatKind
	literal []uint16
	fixups  []Fixup
	codedID uint32
}

// ResolveContext carries the resolve-time inputs a term chain's
// fix-ups consult (§4.3).
type ResolveContext struct {
	// Count selects the plural/singular branch of a FIXUP_TYPE_PLURAL
	// span; 1 means singular.
	Count int
}

// decodeTerms parses the term chain out of one string's raw (already
// decrypted, if applicable) bytes.
func decodeTerms(dat []byte) ([]term, error) {
	var terms []term
	off := 0
	for {
		if off >= len(dat) {
			return nil, fmt.Errorf("stringpack: term chain runs past end of entry at offset %d", off)
		}
		flags := dat[off]
		off++
		t := term{
			final:  flags&0x80 != 0,
			concat: concatKind(flags & 0x1),
		}
		switch t.concat {
		case concatLiteral:
			if off+2 > len(dat) {
				return nil, fmt.Errorf("stringpack: truncated fixup count at offset %d", off)
			}
			nFixups := int(binary.LittleEndian.Uint16(dat[off:]))
			off += 2
			for i := 0; i < nFixups; i++ {
				if off+5 > len(dat) {
					return nil, fmt.Errorf("stringpack: truncated fixup at offset %d", off)
				}
				start := int(binary.LittleEndian.Uint16(dat[off:]))
				length := int(binary.LittleEndian.Uint16(dat[off+2:]))
				kind := fixupKind(dat[off+4])
				off += 5
				if kind == fixupEscape {
					off += 4 // skip the fixed escape code
				}
				t.fixups = append(t.fixups, Fixup{Start: start, Length: length, Kind: kind})
			}
			if off+2 > len(dat) {
				return nil, fmt.Errorf("stringpack: truncated literal length at offset %d", off)
			}
			nChars := int(binary.LittleEndian.Uint16(dat[off:]))
			off += 2
			if off+nChars*2 > len(dat) {
				return nil, fmt.Errorf("stringpack: truncated literal body at offset %d", off)
			}
			units := make([]uint16, nChars)
			for i := 0; i < nChars; i++ {
				units[i] = binary.LittleEndian.Uint16(dat[off+i*2:])
			}
			off += nChars * 2
			t.literal = units
		case concatCoded:
			if off+4 > len(dat) {
				return nil, fmt.Errorf("stringpack: truncated coded reference at offset %d", off)
			}
			t.codedID = binary.LittleEndian.Uint32(dat[off:])
			off += 4
		}
		terms = append(terms, t)
		if t.final {
			return terms, nil
		}
	}
}

// applyFixups renders one literal term's text, substituting its
// fix-up spans in place (§4.3).
func applyFixups(units []uint16, fixups []Fixup, ctx ResolveContext) string {
	if len(fixups) == 0 {
		raw := make([]byte, len(units)*2)
		for i, u := range units {
			binary.LittleEndian.PutUint16(raw[i*2:], u)
		}
		if s, err := decodeLiteralRun(raw); err == nil {
			return s
		}
	}
	text := utf16.Decode(units)
	// Apply back-to-front so earlier spans' offsets stay valid as
	// later ones are rewritten.
	sorted := append([]Fixup(nil), fixups...)
	for i := len(sorted) - 1; i >= 0; i-- {
		f := sorted[i]
		if f.Start < 0 || f.Start+f.Length > len(text) {
			continue
		}
		span := string(text[f.Start : f.Start+f.Length])
		var replacement string
		switch f.Kind {
		case fixupPlural:
			if ctx.Count == 1 {
				replacement = span
			} else {
				replacement = span + "s"
			}
		case fixupArticle:
			replacement = article(span) + " " + span
		case fixupEscape:
			replacement = groupDigits(span)
		default:
			replacement = span
		}
		text = append(append(append([]rune{}, text[:f.Start]...), []rune(replacement)...), text[f.Start+f.Length:]...)
	}
	return string(text)
}

func article(word string) string {
	if word == "" {
		return "a"
	}
	switch strings.ToLower(word)[0] {
	case 'a', 'e', 'i', 'o', 'u':
		return "an"
	default:
		return "a"
	}
}

// groupDigits inserts thousands separators into a numeric span, the
// FIXUP_TYPE_ESCAPE behavior (§4.3).
func groupDigits(s string) string {
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var out strings.Builder
	n := len(s)
	for i, c := range s {
		if i > 0 && (n-i)%3 == 0 {
			out.WriteByte(',')
		}
		out.WriteRune(c)
	}
	if neg {
		return "-" + out.String()
	}
	return out.String()
}

// resolver recursively resolves CONCAT_CODED references into text.
type resolver func(id uint32) (string, Status)

func resolveTerms(terms []term, ctx ResolveContext, resolve resolver) string {
	var out strings.Builder
	for _, t := range terms {
		switch t.concat {
		case concatLiteral:
			out.WriteString(applyFixups(t.literal, t.fixups, ctx))
		case concatCoded:
			text, _ := resolve(t.codedID)
			out.WriteString(text)
		}
	}
	return out.String()
}

// StringFile holds one (language, file-index) file's worth of
// entries: a fixed index table plus the raw bytes each entry's term
// chain slices into (§3.6).
type StringFile struct {
	language Language
	index    int
	entries  []fileEntry
	blob     []byte
	cache    *containers.LRUCache[int, cacheEntry]
}

type fileEntry struct {
	kind   entryKind
	offset int
	length int
}

type cacheEntry struct {
	text   string
	status Status
}

// parseStringFile reads a StringFile's STRS chunk payload: a u32
// entry count, that many {kind, offset, length} index slots, then the
// raw data blob the slots index into.
func parseStringFile(language Language, index int, payload []byte) (*StringFile, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("stringpack: file payload too short for entry count")
	}
	count := binary.LittleEndian.Uint32(payload)
	off := 4
	entries := make([]fileEntry, count)
	for i := range entries {
		if off+12 > len(payload) {
			return nil, fmt.Errorf("stringpack: truncated index table at entry %d", i)
		}
		entries[i] = fileEntry{
			kind:   entryKind(binary.LittleEndian.Uint32(payload[off:])),
			offset: int(binary.LittleEndian.Uint32(payload[off+4:])),
			length: int(binary.LittleEndian.Uint32(payload[off+8:])),
		}
		off += 12
	}
	return &StringFile{
		language: language,
		index:    index,
		entries:  entries,
		blob:     payload[off:],
		cache:    containers.NewLRUCache[int, cacheEntry](1024),
	}, nil
}

// decrypt applies the string pack's stream cipher, keyed by the
// per-string key from the Keystore. The archive's actual cipher is
// proprietary; this XORs the blob against a key-derived keystream,
// which is sufficient to make Encrypted/Decrypted status tracking and
// round-tripping testable without claiming byte-for-byte fidelity
// with the game's own algorithm.
func decrypt(key uint64, blob []byte) []byte {
	out := make([]byte, len(blob))
	var keyBytes [8]byte
	binary.LittleEndian.PutUint64(keyBytes[:], key)
	for i, b := range blob {
		out[i] = b ^ keyBytes[i%8]
	}
	return out
}

// get resolves one string-index's entry, consulting ks for a
// decryption key (looked up by stringID) if needed, and memoising the
// result. The entry is decoded outside any lock and stored with Add,
// so concurrent first reads of the same index each decode the same
// bytes and store the same value, unless a key arrives between them.
func (f *StringFile) get(index int, stringID uint32, ks *keystore.Keystore, resolve resolver) (string, Status) {
	if index < 0 || index >= len(f.entries) {
		return "", Missing
	}
	if v, ok := f.cache.Peek(index); ok {
		return v.text, v.status
	}
	entry := f.entries[index]
	var result cacheEntry
	switch entry.kind {
	case entryMissing:
		result = cacheEntry{status: Missing}
	case entryLiteral:
		raw := f.sliceEntry(entry)
		terms, err := decodeTerms(raw)
		if err != nil {
			result = cacheEntry{status: Missing}
		} else {
			result = cacheEntry{text: resolveTerms(terms, ResolveContext{Count: 1}, resolve), status: Unencrypted}
		}
	case entryEncrypted:
		key, ok := ks.GetTextKeyValue(stringID)
		if !ok {
			result = cacheEntry{status: Encrypted}
		} else {
			raw := decrypt(key, f.sliceEntry(entry))
			terms, err := decodeTerms(raw)
			if err != nil {
				result = cacheEntry{status: Encrypted}
			} else {
				result = cacheEntry{text: resolveTerms(terms, ResolveContext{Count: 1}, resolve), status: Decrypted}
			}
		}
	}
	f.cache.Add(index, result)
	return result.text, result.status
}

func (f *StringFile) sliceEntry(e fileEntry) []byte {
	if e.offset < 0 || e.offset+e.length > len(f.blob) {
		return nil
	}
	return f.blob[e.offset : e.offset+e.length]
}

// TextManager owns one StringFile per (language, file-index) and
// dispatches by string id (§4.3).
type TextManager struct {
	reader         archive.Reader
	keystore       *keystore.Keystore
	stringsPerFile int
	filesByLang    map[Language][]archive.FileID
	files          containers.SyncMap[fileKey, *StringFile]
}

type fileKey struct {
	Language Language
	Index    int
}

// NewTextManager constructs a TextManager that will read its files
// from reader and decrypt via ks.
func NewTextManager(reader archive.Reader, ks *keystore.Keystore) *TextManager {
	return &TextManager{reader: reader, keystore: ks, filesByLang: make(map[Language][]archive.FileID)}
}

// LoadManifest reads the manifest chunk's payload: a u32
// strings-per-file count, a u32 language count, then per language a
// u32 language code, a u32 file count, and that many u32 file ids
// (§4.3: "reads a manifest chunk yielding strings_per_file and
// per-language file id lists").
func (m *TextManager) LoadManifest(payload []byte) error {
	if len(payload) < 8 {
		return fmt.Errorf("stringpack: manifest too short")
	}
	m.stringsPerFile = int(binary.LittleEndian.Uint32(payload))
	numLangs := int(binary.LittleEndian.Uint32(payload[4:]))
	off := 8
	for i := 0; i < numLangs; i++ {
		if off+8 > len(payload) {
			return fmt.Errorf("stringpack: truncated manifest at language %d", i)
		}
		lang := Language(binary.LittleEndian.Uint32(payload[off:]))
		numFiles := int(binary.LittleEndian.Uint32(payload[off+4:]))
		off += 8
		ids := make([]archive.FileID, numFiles)
		for j := range ids {
			if off+4 > len(payload) {
				return fmt.Errorf("stringpack: truncated manifest file list for language %v", lang)
			}
			ids[j] = archive.FileID(binary.LittleEndian.Uint32(payload[off:]))
			off += 4
		}
		m.filesByLang[lang] = ids
	}
	return nil
}

// GetString resolves a string id to its text and status, per the
// §6.3 Viewer API. The file index and in-file index are id divided
// by, and id modulo, the manifest's strings-per-file count (§4.3); an
// encrypted entry's keystore lookup uses id itself.
func (m *TextManager) GetString(language Language, id uint32) (string, Status) {
	if m.stringsPerFile <= 0 {
		return "", Missing
	}
	fileIndex := int(id) / m.stringsPerFile
	stringIndex := int(id) % m.stringsPerFile
	f, err := m.loadFile(language, fileIndex)
	if err != nil {
		return "", Missing
	}
	return f.get(stringIndex, id, m.keystore, func(codedID uint32) (string, Status) {
		return m.GetString(language, codedID)
	})
}

func (m *TextManager) loadFile(language Language, fileIndex int) (*StringFile, error) {
	key := fileKey{Language: language, Index: fileIndex}
	if f, ok := m.files.Load(key); ok {
		return f, nil
	}
	ids, ok := m.filesByLang[language]
	if !ok || fileIndex < 0 || fileIndex >= len(ids) {
		return nil, fmt.Errorf("stringpack: no file %d for language %v", fileIndex, language)
	}
	raw := m.reader.GetFile(ids[fileIndex])
	if len(raw) == 0 {
		return nil, fmt.Errorf("stringpack: file %v is empty or missing", ids[fileIndex])
	}
	pf, err := packfile.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("stringpack: %w", err)
	}
	ch, ok := pf.QueryChunk("STRS")
	if !ok {
		return nil, fmt.Errorf("stringpack: file %v has no STRS chunk", ids[fileIndex])
	}
	f, err := parseStringFile(language, fileIndex, ch.Payload)
	if err != nil {
		return nil, err
	}
	actual, _ := m.files.LoadOrStore(key, f)
	return actual, nil
}

// Format substitutes placeholder tokens per §4.3/§8 scenario 2:
// %numN% inserts params[N-1]'s numeric value; %strN% inserts either a
// literal param string or, if the param is coded, recursively looks
// that id up via GetString. %% collapses to a literal %.
func (m *TextManager) Format(language Language, id uint32, params ...Param) string {
	text, _ := m.GetString(language, id)

	substitute := func(token string) (string, bool) {
		var kind string
		var n int
		if _, err := fmt.Sscanf(token, "num%d", &n); err == nil {
			kind = "num"
		} else if _, err := fmt.Sscanf(token, "str%d", &n); err == nil {
			kind = "str"
		} else {
			return "", false
		}
		if n < 1 || n > len(params) {
			return "", false
		}
		p := params[n-1]
		if kind == "num" {
			return fmt.Sprintf("%d", p.Num), true
		}
		if !p.Coded {
			return p.Str, true
		}
		// A coded param that's Encrypted with no key present
		// leaves the placeholder empty (§8 scenario 2).
		codedText, status := m.GetString(language, p.CodedID)
		if status == Encrypted {
			return "", true
		}
		return codedText, true
	}

	var out strings.Builder
	for i := 0; i < len(text); i++ {
		if text[i] != '%' {
			out.WriteByte(text[i])
			continue
		}
		end := strings.IndexByte(text[i+1:], '%')
		if end < 0 {
			out.WriteByte(text[i])
			continue
		}
		token := text[i+1 : i+1+end]
		if token == "" {
			out.WriteByte('%') // %% -> %
			i++
			continue
		}
		if sub, ok := substitute(token); ok {
			out.WriteString(sub)
			i += end + 1
			continue
		}
		out.WriteByte(text[i])
	}
	return out.String()
}

// Param is one substitution value for Format.
type Param struct {
	Num     int
	Str     string
	Coded   bool
	CodedID uint32
}
