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

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/spf13/cobra"
	"github.com/suweicong/obligation-cordapp/internal/msgs"
	"github.com/suweicong/obligation-cordapp/internal/obrpc"
	"github.com/suweicong/obligation-cordapp/pkg/obtypes"
)

// run resolves the client, then prints whatever the call returns as JSON
func (c *cli) run(fn func(ctx context.Context, client obrpc.Client) (any, error)) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		client, err := c.client(ctx)
		if err != nil {
			return err
		}
		res, err := fn(ctx, client)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	}
}

func parseAmountArg(ctx context.Context, name, s string) (*obtypes.Amount, error) {
	a, err := obtypes.ParseAmount(ctx, s)
	if err != nil {
		return nil, i18n.NewError(ctx, msgs.MsgCLIInvalidArgument, name, err)
	}
	return &a, nil
}

func (c *cli) issueCommand() *cobra.Command {
	var remark string
	var anonymous bool
	cmd := &cobra.Command{
		Use:   "issue <amount> <lender>",
		Short: "Issue an obligation owed by this node to the lender, such as: issue \"1000 GBP\" nodeB",
		Args:  cobra.ExactArgs(2),
	}
	cmd.RunE = c.run(func(ctx context.Context, client obrpc.Client) (any, error) {
		args := cmd.Flags().Args()
		amount, err := parseAmountArg(ctx, "amount", args[0])
		if err != nil {
			return nil, err
		}
		req := &obtypes.IssueObligationRequest{Amount: amount, Lender: args[1], Anonymous: anonymous}
		if cmd.Flags().Changed("remark") {
			req.Remark = &remark
		}
		return client.IssueObligation(ctx, req)
	})
	cmd.Flags().StringVar(&remark, "remark", "", "remark recorded on the obligation")
	cmd.Flags().BoolVar(&anonymous, "anonymous", false, "use confidential identities")
	return cmd
}

func (c *cli) batchCommand() *cobra.Command {
	var newLender string
	cmd := &cobra.Command{
		Use:   "batch <linearId>...",
		Short: "Re-emit the current version of each obligation in one transaction",
		Args:  cobra.MinimumNArgs(1),
	}
	cmd.RunE = c.run(func(ctx context.Context, client obrpc.Client) (any, error) {
		return client.BatchAction(ctx, &obtypes.BatchActionRequest{
			LinearIDs: cmd.Flags().Args(),
			NewLender: newLender,
		})
	})
	cmd.Flags().StringVar(&newLender, "new-lender", "", "transfer every obligation to this lender")
	return cmd
}

func (c *cli) redeemCommand() *cobra.Command {
	var secret, secretHex, amount string
	var anonymous bool
	cmd := &cobra.Command{
		Use:   "redeem <linearId>",
		Short: "As the lender, reveal the secret and receive payment from the borrower",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = c.run(func(ctx context.Context, client obrpc.Client) (any, error) {
		req := &obtypes.RedeemObligationRequest{
			LinearID:  cmd.Flags().Arg(0),
			Secret:    obtypes.HexBytes(secret),
			Anonymous: anonymous,
		}
		if secretHex != "" {
			b, err := obtypes.ParseHexBytes(ctx, secretHex)
			if err != nil {
				return nil, i18n.NewError(ctx, msgs.MsgCLIInvalidArgument, "secret-hex", err)
			}
			req.Secret = b
		}
		if amount != "" {
			a, err := parseAmountArg(ctx, "amount", amount)
			if err != nil {
				return nil, err
			}
			req.Amount = a
		}
		return client.RedeemObligation(ctx, req)
	})
	cmd.Flags().StringVar(&secret, "secret", "", "secret revealed to the borrower")
	cmd.Flags().StringVar(&secretHex, "secret-hex", "", "secret as hex, instead of --secret")
	cmd.Flags().StringVar(&amount, "amount", "", "partial amount to redeem, defaults to everything outstanding")
	cmd.Flags().BoolVar(&anonymous, "anonymous", false, "pay to a confidential identity of the lender")
	return cmd
}

func (c *cli) queryCommand() *cobra.Command {
	var refs []string
	var page, size int
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Page through every version of the obligations known to the node, smallest amount first",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = c.run(func(ctx context.Context, client obrpc.Client) (any, error) {
		req := &obtypes.QueryObligationsRequest{PageNumber: page, PageSize: size}
		for _, r := range refs {
			ref, err := obtypes.ParseStateRef(ctx, r)
			if err != nil {
				return nil, i18n.NewError(ctx, msgs.MsgCLIInvalidArgument, "ref", err)
			}
			req.Refs = append(req.Refs, ref)
		}
		return client.QueryObligations(ctx, req)
	})
	cmd.Flags().StringSliceVar(&refs, "ref", nil, "state refs as txId:index, repeatable")
	cmd.Flags().IntVar(&page, "page", 1, "page number, from 1")
	cmd.Flags().IntVar(&size, "size", 10, "page size")
	return cmd
}

func (c *cli) getCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <linearId>",
		Short: "Show the current version of an obligation",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = c.run(func(ctx context.Context, client obrpc.Client) (any, error) {
		return client.GetObligation(ctx, cmd.Flags().Arg(0))
	})
	return cmd
}

func (c *cli) cashCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cash",
		Short: "Issue and inspect the cash this node holds",
	}
	issue := &cobra.Command{
		Use:   "issue <amount>",
		Short: "Self-issue cash to this node",
		Args:  cobra.ExactArgs(1),
	}
	issue.RunE = c.run(func(ctx context.Context, client obrpc.Client) (any, error) {
		amount, err := parseAmountArg(ctx, "amount", issue.Flags().Arg(0))
		if err != nil {
			return nil, err
		}
		return client.IssueCash(ctx, *amount)
	})
	balance := &cobra.Command{
		Use:   "balance <currency>",
		Short: "Total unspent cash in one currency",
		Args:  cobra.ExactArgs(1),
	}
	balance.RunE = c.run(func(ctx context.Context, client obrpc.Client) (any, error) {
		return client.CashBalance(ctx, balance.Flags().Arg(0))
	})
	cmd.AddCommand(issue, balance)
	return cmd
}

func (c *cli) infoCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show the identity of the node",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = c.run(func(ctx context.Context, client obrpc.Client) (any, error) {
		return client.NodeInfo(ctx)
	})
	return cmd
}

func (c *cli) negotiationsCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "negotiations [id]",
		Short: "List recent negotiations, or show one by id",
		Args:  cobra.MaximumNArgs(1),
	}
	cmd.RunE = c.run(func(ctx context.Context, client obrpc.Client) (any, error) {
		if id := cmd.Flags().Arg(0); id != "" {
			return client.GetNegotiation(ctx, id)
		}
		return client.ListNegotiations(ctx, limit)
	})
	cmd.Flags().IntVar(&limit, "limit", 25, "maximum negotiations to list")
	return cmd
}
