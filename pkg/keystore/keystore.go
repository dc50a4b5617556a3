// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package keystore implements the Keystore (C5, §3.7): a concurrent
// map from decryption-key lookups to the keys themselves, fed either
// directly by callers or by polling an externally-populated SQLite
// database (§6.2) of observed keys.
package keystore

import (
	"time"

	"github.com/xvwyh/GW2Viewer-sub000/internal/containers"
)

// TextKeyRecord is one observed decryption key for a string-pack
// entry, plus the telemetry the capture tool recorded alongside it
// (§3.7).
type TextKeyRecord struct {
	Key                 uint64
	Time                time.Time
	Session             uint32
	Map                 uint32
	Position            [4]float32 // x, y, z, facing
	InsertionOrderIndex uint32
}

// AssetKeyID names one (asset kind, asset id) pair, the key space for
// AssetKey (§3.7).
type AssetKeyID struct {
	Kind uint32
	ID   uint32
}

// Keystore holds every decryption key observed so far. Per §3.7 and
// §5, keys are append-only at runtime — nothing is ever evicted — so
// containers.SyncMap (a typed wrapper over sync.Map) lets readers
// (filter jobs and string decryption) and writers (the SQLite poller,
// or a caller ingesting a flat-text key dump) coexist without a single
// coarse mutex serializing bulk reads behind point writes.
type Keystore struct {
	textKeys  containers.SyncMap[uint32, TextKeyRecord]
	assetKeys containers.SyncMap[AssetKeyID, uint64]
}

func New() *Keystore {
	return &Keystore{}
}

// AddTextKey records the decryption key for stringID. Per §8's
// round-trip law, writing the same key twice (identical or not) is
// observationally idempotent: the latest write wins.
func (k *Keystore) AddTextKey(stringID uint32, rec TextKeyRecord) {
	k.textKeys.Store(stringID, rec)
}

// GetTextKey returns the full observed record for stringID, per the
// §6.3 Viewer API `get_text_key`.
func (k *Keystore) GetTextKey(stringID uint32) (TextKeyRecord, bool) {
	return k.textKeys.Load(stringID)
}

// GetTextKeyValue is the narrower accessor StringFile decryption
// needs: just the key scalar, not the full telemetry record.
func (k *Keystore) GetTextKeyValue(stringID uint32) (uint64, bool) {
	rec, ok := k.textKeys.Load(stringID)
	if !ok {
		return 0, false
	}
	return rec.Key, true
}

// AddAssetKey records the decryption key for (kind, id).
func (k *Keystore) AddAssetKey(kind, id uint32, key uint64) {
	k.assetKeys.Store(AssetKeyID{Kind: kind, ID: id}, key)
}

// GetAssetKey returns the decryption key for (kind, id), per the
// §6.3 Viewer API `get_asset_key`.
func (k *Keystore) GetAssetKey(kind, id uint32) (uint64, bool) {
	return k.assetKeys.Load(AssetKeyID{Kind: kind, ID: id})
}
