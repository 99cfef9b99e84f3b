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

package node

import (
	"context"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/suweicong/obligation-cordapp/internal/components"
	"github.com/suweicong/obligation-cordapp/internal/contracts"
	"github.com/suweicong/obligation-cordapp/internal/finality"
	"github.com/suweicong/obligation-cordapp/internal/identityresolver"
	"github.com/suweicong/obligation-cordapp/internal/keymanager"
	"github.com/suweicong/obligation-cordapp/internal/metrics"
	"github.com/suweicong/obligation-cordapp/internal/msgs"
	"github.com/suweicong/obligation-cordapp/internal/negotiation"
	"github.com/suweicong/obligation-cordapp/internal/notary"
	"github.com/suweicong/obligation-cordapp/internal/obrpc"
	"github.com/suweicong/obligation-cordapp/internal/queryservice"
	"github.com/suweicong/obligation-cordapp/internal/registry"
	"github.com/suweicong/obligation-cordapp/internal/rpcserver"
	"github.com/suweicong/obligation-cordapp/internal/statestore"
	"github.com/suweicong/obligation-cordapp/internal/transportmgr"
	"github.com/suweicong/obligation-cordapp/internal/treasury"
	"github.com/suweicong/obligation-cordapp/pkg/confutil"
	"github.com/suweicong/obligation-cordapp/pkg/log"
	"github.com/suweicong/obligation-cordapp/pkg/obconf"
	"github.com/suweicong/obligation-cordapp/pkg/persistence"
)

// Node owns every component of one party's node, and their lifecycle
type Node interface {
	Init() error
	Start() error
	Stop()

	Name() string
	Registry() components.Registry
	KeyManager() components.KeyManager
	Treasury() components.Treasury
	NegotiationManager() components.NegotiationManager
	QueryService() components.LedgerQueryService
	RPCServer() rpcserver.RPCServer
	MetricsManager() metrics.Metrics
}

type node struct {
	bgCtx context.Context
	conf  *obconf.NodeConfig

	persistence      persistence.Persistence
	keyManager       keymanager.KeyManager
	registry         components.Registry
	identityResolver components.IdentityResolver
	stateStore       components.StateStore
	verifier         components.ContractVerifier
	transportManager components.TransportManager
	notaryService    *notary.Service
	notaryClient     *notary.Client
	finality         *finality.Finality
	treasury         components.Treasury
	negotiation      components.NegotiationManager
	queryService     components.LedgerQueryService
	metricsManager   metrics.Metrics
	rpcServer        rpcserver.RPCServer
	metricsServer    metrics.MetricsServer

	// everything started, in order, so Stop can unwind in reverse
	started []*startedComponent
}

type stoppable interface {
	Stop()
}

type startedComponent struct {
	name string
	stop func()
}

func NewNode(bgCtx context.Context, conf *obconf.NodeConfig) Node {
	log.InitConfig(&conf.Log)
	return &node{
		bgCtx: log.WithLogField(bgCtx, "node", conf.NodeName),
		conf:  conf,
	}
}

// Init opens the database, derives the keys and constructs every component. Nothing listens until Start.
func (n *node) Init() (err error) {
	if n.conf.NodeName == "" {
		return i18n.NewError(n.bgCtx, msgs.MsgConfigNodeNameMissing)
	}

	n.persistence, err = persistence.NewPersistence(n.bgCtx, &n.conf.DB)
	if err == nil {
		n.addStarted("database", n.persistence.Close)
	}
	err = n.wrapIfErr(err, msgs.MsgComponentInitError, "database")

	if err == nil {
		n.keyManager = keymanager.NewKeyManager(n.bgCtx, &n.conf.KeyManager, n.persistence)
		err = n.keyManager.Start()
		err = n.addIfStarted("key_manager", n.keyManager, err, msgs.MsgComponentStartError)
	}

	if err == nil {
		n.registry, err = registry.NewRegistry(n.bgCtx, n.conf.NodeName, &n.conf.Registry)
		err = n.wrapIfErr(err, msgs.MsgComponentInitError, "registry")
	}
	if err == nil {
		err = n.checkLocalKey()
	}

	if err == nil {
		n.transportManager, err = transportmgr.NewTransportManager(n.bgCtx, &n.conf.Transport, n.registry, nil)
		err = n.wrapIfErr(err, msgs.MsgComponentInitError, "transport_manager")
	}

	if err == nil {
		n.metricsManager = metrics.NewMetricsManager()
		n.verifier = contracts.NewVerifier()
		n.stateStore = statestore.NewStateStore(n.persistence)
		n.identityResolver = identityresolver.NewIdentityResolver(&n.conf.IdentityResolver, n.persistence, n.registry, n.keyManager)
		if confutil.Bool(n.conf.Notary.Enabled, *obconf.NotaryDefaults.Enabled) {
			n.notaryService = notary.NewService(n.bgCtx, &n.conf.Notary, n.persistence, n.keyManager, n.verifier, n.transportManager)
		}
		n.notaryClient = notary.NewClient(n.registry, n.transportManager)
		n.finality = finality.NewFinality(n.bgCtx, &n.conf.Finality, n.persistence, n.registry, n.identityResolver,
			n.keyManager, n.stateStore, n.transportManager, n.notaryClient)
		n.treasury = treasury.NewTreasury(n.registry, n.keyManager, n.stateStore, n.verifier, n.finality)
		n.negotiation = negotiation.NewNegotiationManager(n.bgCtx, &n.conf.Negotiation, &negotiation.Dependencies{
			Persistence:      n.persistence,
			Registry:         n.registry,
			IdentityResolver: n.identityResolver,
			KeyManager:       n.keyManager,
			StateStore:       n.stateStore,
			Verifier:         n.verifier,
			Treasury:         n.treasury,
			Transport:        n.transportManager,
			Finality:         n.finality,
			Metrics:          n.metricsManager.Registry(),
		})
		n.queryService = queryservice.NewQueryService(&n.conf.Negotiation, n.stateStore)
	}

	if err == nil {
		n.rpcServer, err = rpcserver.NewRPCServer(n.bgCtx, &n.conf.RPCServer)
		err = n.wrapIfErr(err, msgs.MsgComponentInitError, "rpc_server")
	}
	if err == nil {
		n.metricsServer, err = metrics.NewMetricsServer(n.bgCtx, n.metricsManager.Registry(), &n.conf.MetricsServer)
		err = n.wrapIfErr(err, msgs.MsgComponentInitError, "metrics_server")
	}
	return err
}

// the registry entry for this node must be the key the seed derives, or no peer could verify our signatures
func (n *node) checkLocalKey() error {
	registered := n.registry.LocalParty().Key
	if derived := n.keyManager.WellKnownKey(); registered != derived {
		return i18n.NewError(n.bgCtx, msgs.MsgConfigLocalKeyMismatch, registered, n.conf.NodeName, derived)
	}
	return nil
}

// Start brings up the transport first, so resumed negotiations can reach their peers,
// and the RPC server last, so no request arrives before the node can serve it
func (n *node) Start() (err error) {
	if n.negotiation == nil {
		return i18n.NewError(n.bgCtx, msgs.MsgComponentNodeNotStarted)
	}

	err = n.transportManager.Start()
	err = n.addIfStarted("transport_manager", n.transportManager, err, msgs.MsgComponentStartError)

	if err == nil {
		// notary client and finality only hold registrations and waiters, so stopping is their only lifecycle step
		n.addStarted("notary_client", n.notaryClient.Stop)
		n.addStarted("finality", n.finality.Stop)
		err = n.negotiation.Start()
		err = n.addIfStarted("negotiation_manager", n.negotiation, err, msgs.MsgComponentStartError)
	}

	if err == nil {
		n.rpcServer.Register(obrpc.NewRPCModule(&obrpc.Dependencies{
			Registry:    n.registry,
			Negotiation: n.negotiation,
			Query:       n.queryService,
			Treasury:    n.treasury,
		}))
		err = n.rpcServer.Start()
		err = n.addIfStarted("rpc_server", n.rpcServer, err, msgs.MsgComponentStartError)
	}
	if err == nil {
		httpEndpoint, wsEndpoint := "disabled", "disabled"
		if n.rpcServer.HTTPAddr() != nil {
			httpEndpoint = n.rpcServer.HTTPAddr().String()
		}
		if n.rpcServer.WSAddr() != nil {
			wsEndpoint = n.rpcServer.WSAddr().String()
		}
		log.L(n.bgCtx).Infof("RPC endpoints http=%s ws=%s", httpEndpoint, wsEndpoint)
	}

	if err == nil {
		err = n.metricsServer.Start()
		err = n.addIfStarted("metrics_server", n.metricsServer, err, msgs.MsgComponentStartError)
	}

	if err == nil {
		log.L(n.bgCtx).Infof("Node %s started (key=%s notary=%t)", n.conf.NodeName, n.keyManager.WellKnownKey(), n.notaryService != nil)
	}
	return err
}

func (n *node) wrapIfErr(err error, failMsg i18n.ErrorMessageKey, inserts ...any) error {
	if err != nil {
		return i18n.WrapError(n.bgCtx, err, failMsg, inserts...)
	}
	return nil
}

func (n *node) addIfStarted(desc string, c stoppable, err error, failMsg i18n.ErrorMessageKey) error {
	if err != nil {
		return i18n.WrapError(n.bgCtx, err, failMsg, desc)
	}
	n.addStarted(desc, c.Stop)
	return nil
}

func (n *node) addStarted(desc string, stop func()) {
	n.started = append(n.started, &startedComponent{name: desc, stop: stop})
}

// Stop can be called after a failed Init or Start, and unwinds whatever did start
func (n *node) Stop() {
	log.L(n.bgCtx).Info("Stopping")
	for i := len(n.started) - 1; i >= 0; i-- {
		c := n.started[i]
		log.L(n.bgCtx).Infof("Stopping %s", c.name)
		c.stop()
		log.L(n.bgCtx).Debugf("Stopped %s", c.name)
	}
	n.started = nil
	log.L(n.bgCtx).Debug("Stopped")
}

func (n *node) Name() string {
	return n.conf.NodeName
}

func (n *node) Registry() components.Registry {
	return n.registry
}

func (n *node) KeyManager() components.KeyManager {
	return n.keyManager
}

func (n *node) Treasury() components.Treasury {
	return n.treasury
}

func (n *node) NegotiationManager() components.NegotiationManager {
	return n.negotiation
}

func (n *node) QueryService() components.LedgerQueryService {
	return n.queryService
}

func (n *node) RPCServer() rpcserver.RPCServer {
	return n.rpcServer
}

func (n *node) MetricsManager() metrics.Metrics {
	return n.metricsManager
}
