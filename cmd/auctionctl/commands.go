package main

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/textileio/auctionhouse/auction"
	"github.com/textileio/auctionhouse/auction/commitment"
	"github.com/textileio/auctionhouse/cmd/auctionhoused/client"
	"github.com/textileio/auctionhouse/cmd/auctionhoused/httpapi"
	"github.com/textileio/auctionhouse/cmd/common"
)

func addCommands(root *cobra.Command) {
	root.AddCommand(
		newPartyCmd(),
		tokenCmd(),
		depositCmd(),
		depositItemCmd(),
		accountCmd(),
		createCmd("open"),
		createCmd("sealed"),
		listCmd(),
		getCmd(),
		escrowCmd(),
		bidCmd(),
		commitCmd(),
		revealCmd(),
	)
	for _, op := range []struct {
		use, short string
		f          func(c *client.Client) opFunc
	}{
		{"cancel", "Cancel an auction you own", func(c *client.Client) opFunc { return c.CancelAuction }},
		{"reclaim-bid", "Take back your escrowed bid", func(c *client.Client) opFunc { return c.ReclaimBid }},
		{"withdraw-item", "Take the item of an auction you won", func(c *client.Client) opFunc { return c.WithdrawItem }},
		{"withdraw-winning-bid", "Collect the winning bid of an auction you own",
			func(c *client.Client) opFunc { return c.WithdrawWinningBid }},
		{"reclaim-item", "Take back the item of an unsold auction you own",
			func(c *client.Client) opFunc { return c.ReclaimItem }},
	} {
		root.AddCommand(simpleOpCmd(op.use, op.short, op.f))
	}
}

func parseUint(s, name string) uint64 {
	n, err := strconv.ParseUint(s, 10, 64)
	common.CheckErrf(fmt.Sprintf("parsing %s: %%v", name), err)
	return n
}

func parseParty(s string) auction.PartyID {
	p, err := auction.ParsePartyID(s)
	common.CheckErrf("parsing party: %v", err)
	return p
}

func newPartyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new-party",
		Short: "Generate a random party id",
		Args:  cobra.NoArgs,
		Run: func(c *cobra.Command, args []string) {
			var p auction.PartyID
			_, err := rand.Read(p[:])
			common.CheckErrf("reading randomness: %v", err)
			fmt.Println(p)
		},
	}
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token <party> <secret>",
		Short: "Issue a bearer token for a party",
		Args:  cobra.ExactArgs(2),
		Run: func(c *cobra.Command, args []string) {
			ttl, err := c.Flags().GetDuration("ttl")
			common.CheckErr(err)
			token, err := httpapi.NewToken(args[1], parseParty(args[0]), ttl)
			common.CheckErr(err)
			fmt.Println(token)
		},
	}
	cmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime; zero never expires")
	return cmd
}

func depositCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deposit <party> <amount>",
		Short: "Credit currency to an account",
		Args:  cobra.ExactArgs(2),
		Run: func(c *cobra.Command, args []string) {
			ctx, cancel := requestContext()
			defer cancel()
			acc, err := newClient().Deposit(ctx, parseParty(args[0]), parseUint(args[1], "amount"))
			common.CheckErr(err)
			printJSON(acc)
		},
	}
}

func depositItemCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deposit-item <party> <item-ref> <qty>",
		Short: "Credit items to an account",
		Args:  cobra.ExactArgs(3),
		Run: func(c *cobra.Command, args []string) {
			ctx, cancel := requestContext()
			defer cancel()
			acc, err := newClient().DepositItem(ctx, parseParty(args[0]), args[1], parseUint(args[2], "qty"))
			common.CheckErr(err)
			printJSON(acc)
		},
	}
}

func accountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "account <party>",
		Short: "Show account balances",
		Args:  cobra.ExactArgs(1),
		Run: func(c *cobra.Command, args []string) {
			ctx, cancel := requestContext()
			defer cancel()
			acc, err := newClient().Account(ctx, parseParty(args[0]))
			common.CheckErr(err)
			printJSON(acc)
		},
	}
}

func createCmd(kind string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create-" + kind + " <item-ref> <qty> <bid-floor>",
		Short: "Create a " + kind + " auction",
		Args:  cobra.ExactArgs(3),
		Run: func(c *cobra.Command, args []string) {
			f := c.Flags()
			title, _ := f.GetString("title")
			duration, _ := f.GetDuration("duration")
			bidderCap, _ := f.GetInt("bidder-cap")
			end := time.Now().Add(duration)
			req := httpapi.CreateAuctionRequest{
				Title:     title,
				ItemRef:   args[0],
				ItemQty:   parseUint(args[1], "qty"),
				BidFloor:  parseUint(args[2], "bid floor"),
				EndTime:   end,
				BidderCap: bidderCap,
			}

			ctx, cancel := requestContext()
			defer cancel()
			var (
				a   httpapi.Auction
				err error
			)
			if kind == "open" {
				req.MinBidIncrement, _ = f.GetUint64("min-bid-increment")
				a, err = newClient().CreateOpenAuction(ctx, req)
			} else {
				reveal, _ := f.GetDuration("reveal-duration")
				req.RevealDeadline = end.Add(reveal)
				req.FirstPrice, _ = f.GetBool("first-price")
				req.Hash, _ = f.GetString("hash")
				a, err = newClient().CreateSealedAuction(ctx, req)
			}
			common.CheckErr(err)
			printJSON(a)
		},
	}
	f := cmd.Flags()
	f.String("title", "", "Auction title")
	f.Duration("duration", time.Hour, "Bidding duration from now")
	f.Int("bidder-cap", 100, "Max number of bidders")
	if kind == "open" {
		f.Uint64("min-bid-increment", 1, "Minimum amount a bid must beat the highest bid by")
	} else {
		f.Duration("reveal-duration", time.Hour, "Reveal period after bidding ends")
		f.Bool("first-price", false, "Winner pays its own bid instead of the second-highest")
		f.String("hash", "", "Commitment hash (sha256 or keccak256); empty uses the daemon default")
	}
	return cmd
}

func listCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List auctions",
		Args:  cobra.NoArgs,
		Run: func(c *cobra.Command, args []string) {
			f := c.Flags()
			var q client.ListQuery
			q.Offset, _ = f.GetString("offset")
			q.Limit, _ = f.GetInt("limit")
			q.Ascending, _ = f.GetBool("asc")
			q.Kind, _ = f.GetString("kind")
			ctx, cancel := requestContext()
			defer cancel()
			as, err := newClient().ListAuctions(ctx, q)
			common.CheckErr(err)
			printJSON(as)
		},
	}
	f := cmd.Flags()
	f.String("offset", "", "Id of the last auction of the previous page")
	f.Int("limit", 0, "Page size")
	f.Bool("asc", false, "Oldest first")
	f.String("kind", "", "Only list open or sealed auctions")
	return cmd
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <auction-id>",
		Short: "Show an auction",
		Args:  cobra.ExactArgs(1),
		Run: func(c *cobra.Command, args []string) {
			ctx, cancel := requestContext()
			defer cancel()
			a, err := newClient().GetAuction(ctx, auction.ID(args[0]))
			common.CheckErr(err)
			printJSON(a)
		},
	}
}

func escrowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "escrow <auction-id>",
		Short: "Show what an auction holds in escrow",
		Args:  cobra.ExactArgs(1),
		Run: func(c *cobra.Command, args []string) {
			ctx, cancel := requestContext()
			defer cancel()
			e, err := newClient().Escrow(ctx, auction.ID(args[0]))
			common.CheckErr(err)
			printJSON(e)
		},
	}
}

func bidCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bid <auction-id> <amount>",
		Short: "Add amount to your bid in an open auction",
		Args:  cobra.ExactArgs(2),
		Run: func(c *cobra.Command, args []string) {
			ctx, cancel := requestContext()
			defer cancel()
			a, err := newClient().Bid(ctx, auction.ID(args[0]), parseUint(args[1], "amount"))
			common.CheckErr(err)
			printJSON(a)
		},
	}
}

func commitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "commit <auction-id> <value> <cover>",
		Short: "Place a sealed bid",
		Long: `Place a sealed bid of value, escrowing cover. The commitment is computed
locally; keep the printed nonce, it's needed to reveal the bid.`,
		Args: cobra.ExactArgs(3),
		Run: func(c *cobra.Command, args []string) {
			id := auction.ID(args[0])
			value := parseUint(args[1], "value")
			cover := parseUint(args[2], "cover")
			nonce, _ := c.Flags().GetUint64("nonce")
			if nonce == 0 {
				var b [8]byte
				_, err := rand.Read(b[:])
				common.CheckErrf("reading randomness: %v", err)
				nonce = binary.LittleEndian.Uint64(b[:])
			}

			cl := newClient()
			ctx, cancel := requestContext()
			defer cancel()
			a, err := cl.GetAuction(ctx, id)
			common.CheckErr(err)
			hasher, err := commitment.HasherByName(a.Hash)
			common.CheckErr(err)
			digest := commitment.Commit(hasher, value, nonce)
			_, err = cl.CommitBid(ctx, id, digest, cover)
			common.CheckErr(err)
			printJSON(struct {
				AuctionID  auction.ID        `json:"auction_id"`
				Value      uint64            `json:"value"`
				Nonce      uint64            `json:"nonce"`
				Commitment commitment.Digest `json:"commitment"`
			}{id, value, nonce, digest})
		},
	}
	cmd.Flags().Uint64("nonce", 0, "Commitment nonce; zero picks a random one")
	return cmd
}

func revealCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reveal <auction-id> <value> <nonce>",
		Short: "Reveal a sealed bid",
		Args:  cobra.ExactArgs(3),
		Run: func(c *cobra.Command, args []string) {
			ctx, cancel := requestContext()
			defer cancel()
			a, err := newClient().RevealBid(ctx, auction.ID(args[0]), parseUint(args[1], "value"), parseUint(args[2], "nonce"))
			common.CheckErr(err)
			printJSON(a)
		},
	}
}

type opFunc func(ctx context.Context, id auction.ID) (httpapi.Auction, error)

func simpleOpCmd(use, short string, f func(c *client.Client) opFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <auction-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		Run: func(c *cobra.Command, args []string) {
			ctx, cancel := requestContext()
			defer cancel()
			a, err := f(newClient())(ctx, auction.ID(args[0]))
			common.CheckErr(err)
			printJSON(a)
		},
	}
}
