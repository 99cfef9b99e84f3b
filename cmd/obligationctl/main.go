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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/suweicong/obligation-cordapp/internal/obrpc"
	"github.com/suweicong/obligation-cordapp/internal/rpcclient"
	"github.com/suweicong/obligation-cordapp/pkg/confutil"
	"github.com/suweicong/obligation-cordapp/pkg/log"
	"github.com/suweicong/obligation-cordapp/pkg/obconf"
)

const envPrefix = "OBCTL"

var clientFactory = func(ctx context.Context, conf *obconf.HTTPClientConfig) (obrpc.Client, error) {
	c, err := rpcclient.NewHTTPClient(ctx, conf)
	if err != nil {
		return nil, err
	}
	return obrpc.NewClient(c), nil
}

// newRootCommand builds a fresh command tree, with its own viper instance, on every call
func newRootCommand() *cobra.Command {
	v := viper.New()
	root := &cobra.Command{
		Use:           "obligationctl",
		Short:         "Issues, acts on, redeems and queries obligations through a node's JSON/RPC API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(v)
		},
	}
	flags := root.PersistentFlags()
	flags.String("config", "", "optional YAML or JSON file holding any of the flags below")
	flags.String("url", fmt.Sprintf("http://127.0.0.1:%d", obconf.DefaultHTTPPort), "JSON/RPC URL of the node")
	flags.String("username", "", "basic auth username")
	flags.String("password", "", "basic auth password")
	flags.String("timeout", *obconf.DefaultHTTPConfig.RequestTimeout, "request timeout")
	flags.String("log-level", "warn", "log level")
	_ = v.BindPFlags(flags)

	c := &cli{v: v}
	root.AddCommand(
		c.issueCommand(),
		c.batchCommand(),
		c.redeemCommand(),
		c.queryCommand(),
		c.getCommand(),
		c.cashCommand(),
		c.infoCommand(),
		c.negotiationsCommand(),
		c.benchCommand(),
	)
	return root
}

func loadConfig(v *viper.Viper) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if f := v.GetString("config"); f != "" {
		v.SetConfigFile(f)
		if err := v.ReadInConfig(); err != nil {
			return err
		}
	}
	log.SetLevel(v.GetString("log-level"))
	return nil
}

type cli struct {
	v *viper.Viper
}

func (c *cli) client(ctx context.Context) (obrpc.Client, error) {
	return clientFactory(ctx, &obconf.HTTPClientConfig{
		URL: c.v.GetString("url"),
		Auth: obconf.HTTPBasicAuthConfig{
			Username: c.v.GetString("username"),
			Password: c.v.GetString("password"),
		},
		RequestTimeout:    confutil.P(c.v.GetString("timeout")),
		ConnectionTimeout: obconf.DefaultHTTPConfig.ConnectionTimeout,
	})
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
