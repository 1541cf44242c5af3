package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/textileio/auctionhouse/auction"
	"github.com/textileio/auctionhouse/cmd/auctionhoused/client"
	"github.com/textileio/auctionhouse/cmd/common"
)

var (
	cliName           = "auctionctl"
	defaultConfigPath = filepath.Join(os.Getenv("HOME"), "."+cliName)
	v                 = viper.New()
)

func init() {
	flags := []common.Flag{
		{Name: "addr", DefValue: "127.0.0.1:8888", Description: "auctionhoused HTTP API address"},
		{Name: "token", DefValue: "", Description: "Bearer token identifying the caller"},
		{Name: "party", DefValue: "", Description: "Caller party id, for daemons running without authentication"},
		{Name: "timeout", DefValue: time.Second * 30, Description: "Request timeout"},
	}

	cobra.OnInitialize(func() {
		v.SetConfigType("json")
		v.SetConfigName("config")
		v.AddConfigPath(os.Getenv("AUCTIONCTL_PATH"))
		v.AddConfigPath(defaultConfigPath)
		_ = v.ReadInConfig()
	})

	common.ConfigureCLI(v, "AUCTIONCTL", flags, rootCmd.PersistentFlags())
	addCommands(rootCmd)
}

var rootCmd = &cobra.Command{
	Use:   cliName,
	Short: "auctionctl is a command-line client for auctionhoused",
	Long: `auctionctl is a command-line client for auctionhoused.

Callers are identified by a bearer token (--token) or, when the daemon runs
without authentication, by their party id (--party). Amounts are integers in
the ledger's smallest currency unit.`,
	PersistentPreRun: func(c *cobra.Command, args []string) {
		common.ExpandEnvVars(v, v.AllSettings())
	},
	SilenceUsage: true,
}

func newClient() *client.Client {
	var opts []client.Option
	if token := v.GetString("token"); token != "" {
		opts = append(opts, client.WithToken(token))
	}
	if party := v.GetString("party"); party != "" {
		p, err := auction.ParsePartyID(party)
		common.CheckErrf("parsing party: %v", err)
		opts = append(opts, client.WithParty(p))
	}
	c, err := client.New(v.GetString("addr"), opts...)
	common.CheckErrf("creating client: %v", err)
	return c
}

func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), v.GetDuration("timeout"))
}

func printJSON(val interface{}) {
	data, err := json.MarshalIndent(val, "", "  ")
	common.CheckErrf("marshaling output: %v", err)
	fmt.Println(string(data))
}

func main() {
	common.CheckErr(rootCmd.Execute())
}
