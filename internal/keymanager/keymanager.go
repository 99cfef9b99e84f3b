// Copyright © 2024 Kaleido, Inc.
//
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package keymanager

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-signer/pkg/secp256k1"
	"github.com/suweicong/obligation-cordapp/internal/components"
	"github.com/suweicong/obligation-cordapp/internal/msgs"
	"github.com/suweicong/obligation-cordapp/pkg/confutil"
	"github.com/suweicong/obligation-cordapp/pkg/log"
	"github.com/suweicong/obligation-cordapp/pkg/obconf"
	"github.com/suweicong/obligation-cordapp/pkg/obtypes"
	"github.com/suweicong/obligation-cordapp/pkg/persistence"
	"github.com/tyler-smith/go-bip39"
	"gorm.io/gorm/clause"
)

const (
	// account 0 holds the well-known key, account 1 the confidential keys
	wellKnownAccount    = 0
	confidentialAccount = 1
	keyPathsLock        = "key_paths"
)

type keySeed struct {
	ID      int               `gorm:"column:id;primaryKey"`
	Seed    string            `gorm:"column:seed"`
	Created obtypes.Timestamp `gorm:"column:created"`
}

func (keySeed) TableName() string {
	return "key_seed"
}

type keyPath struct {
	Key     string            `gorm:"column:key;primaryKey"`
	Path    string            `gorm:"column:path"`
	Index   int64             `gorm:"column:idx"`
	Created obtypes.Timestamp `gorm:"column:created"`
}

func (keyPath) TableName() string {
	return "key_paths"
}

type keyManager struct {
	bgCtx       context.Context
	conf        *obconf.KeyManagerConfig
	p           persistence.Persistence
	bip44Prefix string

	master    *hdkeychain.ExtendedKey
	wellKnown *secp256k1.KeyPair

	lock sync.RWMutex
	keys map[string]*secp256k1.KeyPair
}

type KeyManager interface {
	components.KeyManager
	components.ManagerLifecycle
}

func NewKeyManager(bgCtx context.Context, conf *obconf.KeyManagerConfig, p persistence.Persistence) KeyManager {
	return &keyManager{
		bgCtx:       log.WithComponent(bgCtx, "keymanager"),
		conf:        conf,
		p:           p,
		bip44Prefix: strings.ReplaceAll(confutil.StringNotEmpty(conf.BIP44Prefix, *obconf.KeyManagerDefaults.BIP44Prefix), " ", ""),
		keys:        make(map[string]*secp256k1.KeyPair),
	}
}

// Start loads the seed and derives the well-known key. Nothing else can sign until this has run.
func (km *keyManager) Start() (err error) {
	ctx := km.bgCtx
	seed, err := km.loadSeed(ctx)
	if err == nil {
		km.master, err = hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	}
	if err == nil {
		km.wellKnown, err = km.derive(ctx, km.path(wellKnownAccount, 0))
	}
	if err != nil {
		return i18n.WrapError(ctx, err, msgs.MsgKeysLoadFailed)
	}
	km.keys[km.wellKnown.Address.String()] = km.wellKnown
	log.L(ctx).Infof("Well-known key %s", km.wellKnown.Address)
	return nil
}

func (km *keyManager) Stop() {}

func (km *keyManager) loadSeed(ctx context.Context) ([]byte, error) {
	var seedStr string
	switch {
	case km.conf.Seed != nil && *km.conf.Seed != "":
		seedStr = *km.conf.Seed
	case km.conf.SeedFile != nil && *km.conf.SeedFile != "":
		b, err := os.ReadFile(*km.conf.SeedFile)
		if err != nil {
			return nil, i18n.WrapError(ctx, err, msgs.MsgKeysSeedFileReadFailed, *km.conf.SeedFile)
		}
		seedStr = strings.TrimSpace(string(b))
	default:
		var err error
		if seedStr, err = km.loadOrCreateDBSeed(ctx); err != nil {
			return nil, err
		}
	}
	if b, err := hex.DecodeString(strings.TrimPrefix(seedStr, "0x")); err == nil && len(b) == 32 {
		return b, nil
	}
	seed, err := bip39.NewSeedWithErrorChecking(seedStr, "")
	if err != nil {
		return nil, i18n.NewError(ctx, msgs.MsgKeysSeedInvalid)
	}
	return seed, nil
}

// loadOrCreateDBSeed generates a random seed on first start, so a node with no key config keeps its identity across restarts
func (km *keyManager) loadOrCreateDBSeed(ctx context.Context) (seed string, err error) {
	err = km.p.Transaction(ctx, func(ctx context.Context, dbTX persistence.DBTX) error {
		var rows []*keySeed
		if err := dbTX.DB().WithContext(ctx).Where("id = ?", 0).Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) > 0 {
			seed = rows[0].Seed
			return nil
		}
		buff := make([]byte, 32)
		if _, err := rand.Read(buff); err != nil {
			return err
		}
		seed = hex.EncodeToString(buff)
		log.L(ctx).Infof("Generated new key seed")
		return dbTX.DB().WithContext(ctx).Create(&keySeed{ID: 0, Seed: seed, Created: obtypes.TimestampNow()}).Error
	})
	return seed, err
}

func (km *keyManager) path(account, index int64) string {
	return fmt.Sprintf("%s/%d'/0/%d", km.bip44Prefix, account, index)
}

func (km *keyManager) derive(ctx context.Context, path string) (*secp256k1.KeyPair, error) {
	segments := strings.Split(path, "/")
	if len(segments) < 2 || segments[0] != "m" {
		return nil, i18n.NewError(ctx, msgs.MsgKeysDerivationInvalid, path)
	}
	pos := km.master
	for _, s := range segments[1:] {
		number, hardened := strings.CutSuffix(s, "'")
		idx, err := strconv.ParseUint(number, 10, 64)
		if err != nil {
			return nil, i18n.WrapError(ctx, err, msgs.MsgKeysDerivationInvalid, path)
		}
		if idx >= hdkeychain.HardenedKeyStart {
			return nil, i18n.NewError(ctx, msgs.MsgKeysDerivationTooLarge, idx)
		}
		if hardened {
			idx += hdkeychain.HardenedKeyStart
		}
		if pos, err = pos.Derive(uint32(idx)); err != nil {
			return nil, i18n.WrapError(ctx, err, msgs.MsgKeysDerivationInvalid, path)
		}
	}
	ecPrivKey, err := pos.ECPrivKey()
	if err != nil {
		return nil, err
	}
	pk := ecPrivKey.Key.Bytes()
	return secp256k1.KeyPairFromBytes(pk[:]), nil
}

func (km *keyManager) WellKnownKey() string {
	return km.wellKnown.Address.String()
}

func (km *keyManager) IsLocalKey(ctx context.Context, key string) bool {
	kp, err := km.keyPair(ctx, key)
	return err == nil && kp != nil
}

// keyPair finds the key in memory, or re-derives it from its stored path
func (km *keyManager) keyPair(ctx context.Context, key string) (*secp256k1.KeyPair, error) {
	km.lock.RLock()
	kp := km.keys[key]
	km.lock.RUnlock()
	if kp != nil {
		return kp, nil
	}
	var rows []*keyPath
	if err := km.p.DB().WithContext(ctx).Where(`"key" = ?`, key).Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, components.NewError(ctx, components.ErrAuthorization, msgs.MsgKeysNotLocal, key)
	}
	kp, err := km.derive(ctx, rows[0].Path)
	if err != nil {
		return nil, err
	}
	km.lock.Lock()
	km.keys[key] = kp
	km.lock.Unlock()
	return kp, nil
}

func (km *keyManager) Sign(ctx context.Context, key string, payload []byte) (*obtypes.Signature, error) {
	kp, err := km.keyPair(ctx, key)
	if err != nil {
		return nil, err
	}
	sig, err := kp.SignDirect(payload)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgKeysSignFailed, key)
	}
	return &obtypes.Signature{Key: key, Signature: sig.CompactRSV()}, nil
}

// NewConfidentialKey allocates the next index under the confidential account. The named
// lock serializes allocation across processes sharing one database.
func (km *keyManager) NewConfidentialKey(ctx context.Context) (key string, err error) {
	var kp *secp256k1.KeyPair
	err = km.p.Transaction(ctx, func(ctx context.Context, dbTX persistence.DBTX) error {
		if err := km.p.TakeNamedLock(ctx, dbTX, keyPathsLock); err != nil {
			return err
		}
		var last []*keyPath
		if err := dbTX.DB().WithContext(ctx).Order("idx DESC").Limit(1).Find(&last).Error; err != nil {
			return err
		}
		var idx int64
		if len(last) > 0 {
			idx = last[0].Index + 1
		}
		path := km.path(confidentialAccount, idx)
		if kp, err = km.derive(ctx, path); err != nil {
			return err
		}
		key = kp.Address.String()
		return dbTX.DB().WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&keyPath{Key: key, Path: path, Index: idx, Created: obtypes.TimestampNow()}).Error
	})
	if err != nil {
		return "", err
	}
	km.lock.Lock()
	km.keys[key] = kp
	km.lock.Unlock()
	log.L(ctx).Debugf("Derived confidential key %s", key)
	return key, nil
}
