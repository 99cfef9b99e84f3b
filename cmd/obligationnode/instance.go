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

package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"

	"github.com/suweicong/obligation-cordapp/internal/node"
	"github.com/suweicong/obligation-cordapp/pkg/log"
	"github.com/suweicong/obligation-cordapp/pkg/obconf"
)

var nodeFactory = node.NewNode

type instance struct {
	configFile string

	ctx       context.Context
	cancelCtx context.CancelFunc
	signals   chan os.Signal
	stopped   atomic.Bool
	started   chan struct{}
	done      chan struct{}
}

func newInstance(configFile string) *instance {
	i := &instance{
		configFile: configFile,
		signals:    make(chan os.Signal, 1),
		started:    make(chan struct{}),
		done:       make(chan struct{}),
	}
	i.ctx, i.cancelCtx = context.WithCancel(log.WithLogField(context.Background(), "pid", strconv.Itoa(os.Getpid())))
	return i
}

func (i *instance) signalHandler() {
	signal.Notify(i.signals, os.Interrupt, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	sig := <-i.signals
	if sig != nil {
		log.L(i.ctx).Infof("Stopping due to signal %s", sig)
		i.stop()
	}
}

func (i *instance) run() error {
	defer close(i.done)
	go i.signalHandler()

	var conf obconf.NodeConfig
	if err := obconf.ReadAndParseYAMLFile(i.ctx, i.configFile, &conf); err != nil {
		log.L(i.ctx).Error(err.Error())
		return err
	}

	n := nodeFactory(i.ctx, &conf)
	// From here the node must be stopped whatever happens
	defer n.Stop()

	err := n.Init()
	if err == nil {
		err = n.Start()
	}
	if err != nil {
		log.L(i.ctx).Error(err.Error())
		return err
	}
	close(i.started)

	<-i.ctx.Done()
	return nil
}

// stop is called from the signal handler, which is itself unblocked by closing the channel
func (i *instance) stop() {
	if i.stopped.CompareAndSwap(false, true) {
		i.cancelCtx()
		signal.Stop(i.signals)
		close(i.signals)
		<-i.done
	}
}
