package main

import (
	"encoding/json"
	"errors"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/textileio/auctionhouse/auction"
	"github.com/textileio/auctionhouse/cmd/auctionhoused/house"
	"github.com/textileio/auctionhouse/cmd/auctionhoused/service"
	"github.com/textileio/auctionhouse/cmd/common"
	"github.com/textileio/auctionhouse/finalizer"
	mbroker "github.com/textileio/auctionhouse/msgbroker"
	"github.com/textileio/auctionhouse/msgbroker/gpubsub"
	"github.com/textileio/auctionhouse/msgbroker/localbroker"
	golog "github.com/textileio/go-log/v2"
)

var (
	daemonName        = "auctionhoused"
	defaultConfigPath = filepath.Join(os.Getenv("HOME"), "."+daemonName)
	log               = golog.Logger(daemonName)
	v                 = viper.New()
)

func init() {
	limits := auction.DefaultLimits()
	flags := []common.Flag{
		{Name: "http-addr", DefValue: ":8888", Description: "HTTP API listen address"},
		{Name: "repo", DefValue: filepath.Join(defaultConfigPath, "store"), Description: "LevelDB repo path"},
		{Name: "in-memory", DefValue: false, Description: "Keep state in memory only"},
		{Name: "auth-secret", DefValue: "", Description: "HMAC secret for bearer tokens; empty trusts the X-Party-ID header"},
		{Name: "commitment-hash", DefValue: "sha256", Description: "Commitment hash of new sealed auctions (sha256 or keccak256)"},
		{Name: "title-max-len", DefValue: limits.MaxTitleLen, Description: "Max auction title length in characters"},
		{Name: "max-bidder-cap", DefValue: limits.MaxBidderCap, Description: "Max bidder cap an auction can be created with"},
		{Name: "deadline-poll-interval", DefValue: time.Second * 10, Description: "How often auction phase changes are announced"},
		{Name: "audit-events", DefValue: false, Description: "Log every published auction event"},
		{Name: "gpubsub-project-id", DefValue: "", Description: "Google PubSub project id; empty uses an in-process broker"},
		{Name: "gpubsub-api-key", DefValue: "", Description: "Google PubSub API key"},
		{Name: "msgbroker-topic-prefix", DefValue: "", Description: "Topic prefix to use for msg broker topics"},
		{Name: "metrics-addr", DefValue: ":9090", Description: "Prometheus listen address"},
		{Name: "log-debug", DefValue: false, Description: "Enable debug level logging"},
		{Name: "log-json", DefValue: false, Description: "Enable structured logging"},
	}

	cobra.OnInitialize(func() {
		v.SetConfigType("json")
		v.SetConfigName("config")
		v.AddConfigPath(os.Getenv("AUCTIONHOUSE_PATH"))
		v.AddConfigPath(defaultConfigPath)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				common.CheckErrf("reading configuration: %s", err)
			}
		}
	})

	common.ConfigureCLI(v, "AUCTIONHOUSE", flags, rootCmd.Flags())
}

var rootCmd = &cobra.Command{
	Use:   daemonName,
	Short: "auctionhoused runs open and sealed-bid auctions with escrowed settlement",
	Long:  "auctionhoused runs open and sealed-bid auctions with escrowed settlement",
	PersistentPreRun: func(c *cobra.Command, args []string) {
		common.ExpandEnvVars(v, v.AllSettings())
		err := common.ConfigureLogging(v, []string{
			daemonName,
			"auctionhouse/house",
			"auctionhouse/store",
			"auctionhouse/ledger",
			"auctionhouse/httpapi",
			"auctionhouse/service",
			"mbroker/gpubsub",
			"mbroker/local",
		})
		common.CheckErrf("setting log levels: %v", err)
	},
	Run: func(c *cobra.Command, args []string) {
		settings, err := json.MarshalIndent(redacted(v.AllSettings()), "", "  ")
		common.CheckErr(err)
		log.Infof("loaded config: %s", string(settings))

		err = common.SetupInstrumentation(v.GetString("metrics-addr"))
		common.CheckErrf("booting instrumentation: %v", err)

		fin := finalizer.NewFinalizer()

		var mb mbroker.MsgBroker
		if projectID := v.GetString("gpubsub-project-id"); projectID != "" {
			apiKey := v.GetString("gpubsub-api-key")
			topicPrefix := v.GetString("msgbroker-topic-prefix")
			gmb, err := gpubsub.New(projectID, apiKey, topicPrefix, daemonName)
			common.CheckErrf("creating google pubsub client: %s", err)
			fin.Add(gmb)
			mb = gmb
		} else {
			mb = localbroker.New()
		}

		houseConf := house.DefaultConfig()
		houseConf.Limits.MaxTitleLen = v.GetInt("title-max-len")
		houseConf.Limits.MaxBidderCap = v.GetInt("max-bidder-cap")
		houseConf.CommitmentHash = v.GetString("commitment-hash")
		houseConf.DeadlinePollInterval = v.GetDuration("deadline-poll-interval")

		repo := v.GetString("repo")
		if !v.GetBool("in-memory") {
			err = os.MkdirAll(repo, os.ModePerm)
			common.CheckErrf("creating repo: %v", err)
		}

		serv, err := service.New(mb, auction.SystemClock, service.Config{
			HTTPAddr:    v.GetString("http-addr"),
			RepoPath:    repo,
			InMemory:    v.GetBool("in-memory"),
			AuthSecret:  v.GetString("auth-secret"),
			AuditEvents: v.GetBool("audit-events"),
			House:       houseConf,
		})
		common.CheckErrf("starting service: %v", err)
		fin.Add(serv)

		common.HandleInterrupt(func() {
			common.CheckErr(fin.Cleanupf("closing service: %v", nil))
		})
	},
}

func redacted(settings map[string]interface{}) map[string]interface{} {
	for _, k := range []string{"auth-secret", "gpubsub-api-key"} {
		if s, ok := settings[k].(string); ok && s != "" {
			settings[k] = "***"
		}
	}
	return settings
}

func main() {
	common.CheckErr(rootCmd.Execute())
}
