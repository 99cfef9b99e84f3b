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
	"math"
	"sort"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/suweicong/obligation-cordapp/internal/obrpc"
	"github.com/suweicong/obligation-cordapp/pkg/log"
	"github.com/suweicong/obligation-cordapp/pkg/obtypes"
	"golang.org/x/time/rate"
)

type benchConfig struct {
	Lender  string
	Amount  obtypes.Amount
	Count   int
	Workers int
	// 0 is unlimited
	MaxPerSecond int
}

type benchResult struct {
	Submitted int     `json:"submitted"`
	Succeeded int     `json:"succeeded"`
	Failed    int     `json:"failed"`
	Seconds   float64 `json:"seconds"`
	PerSecond float64 `json:"perSecond"`
	P50Millis int64   `json:"p50Millis"`
	P99Millis int64   `json:"p99Millis"`
	LastError string  `json:"lastError,omitempty"`
}

func (c *cli) benchCommand() *cobra.Command {
	var amount string
	conf := &benchConfig{}
	cmd := &cobra.Command{
		Use:   "bench <lender>",
		Short: "Issue many obligations to the lender concurrently, and report throughput",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = c.run(func(ctx context.Context, client obrpc.Client) (any, error) {
		a, err := parseAmountArg(ctx, "amount", amount)
		if err != nil {
			return nil, err
		}
		conf.Lender, conf.Amount = cmd.Flags().Arg(0), *a
		return runBench(ctx, client, conf)
	})
	cmd.Flags().StringVar(&amount, "amount", "1 GBP", "amount of each obligation")
	cmd.Flags().IntVar(&conf.Count, "count", 100, "obligations to issue")
	cmd.Flags().IntVar(&conf.Workers, "workers", 4, "concurrent requests")
	cmd.Flags().IntVar(&conf.MaxPerSecond, "rate", 0, "maximum submissions per second, 0 for unlimited")
	return cmd
}

func runBench(ctx context.Context, client obrpc.Client, conf *benchConfig) (*benchResult, error) {
	limiter := rate.NewLimiter(rate.Limit(math.MaxFloat64), math.MaxInt)
	if conf.MaxPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(conf.MaxPerSecond), conf.MaxPerSecond)
	}
	log.L(ctx).Infof("Sending rate: %f per second with %d burst", limiter.Limit(), limiter.Burst())

	work := make(chan int)
	var lock sync.Mutex
	var wg sync.WaitGroup
	res := &benchResult{}
	latencies := make([]time.Duration, 0, conf.Count)
	start := time.Now()
	for w := 0; w < max(conf.Workers, 1); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range work {
				amount := conf.Amount
				sent := time.Now()
				_, err := client.IssueObligation(ctx, &obtypes.IssueObligationRequest{Amount: &amount, Lender: conf.Lender})
				took := time.Since(sent)
				lock.Lock()
				if err != nil {
					res.Failed++
					res.LastError = err.Error()
				} else {
					res.Succeeded++
					latencies = append(latencies, took)
				}
				lock.Unlock()
			}
		}()
	}

	var err error
	for i := 0; i < conf.Count; i++ {
		if err = limiter.Wait(ctx); err != nil {
			break
		}
		work <- i
		res.Submitted++
	}
	close(work)
	wg.Wait()

	elapsed := time.Since(start)
	res.Seconds = elapsed.Seconds()
	if res.Seconds > 0 {
		res.PerSecond = float64(res.Succeeded) / res.Seconds
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	res.P50Millis = percentile(latencies, 50).Milliseconds()
	res.P99Millis = percentile(latencies, 99).Milliseconds()
	return res, err
}

func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	return sorted[(len(sorted)-1)*p/100]
}
