// Command aedile is a small console client for exercising the library
// against live relays: publish a text note, run a one-shot query, or ping a
// NIP-46 remote signer.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	nostr "github.com/buttercat1791/aedile-go"
	"github.com/buttercat1791/aedile-go/service"
	"github.com/buttercat1791/aedile-go/signer"
	"github.com/buttercat1791/aedile-go/transport"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "aedile",
		Short:         "console client for the aedile nostr library",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringSlice("relay", nil, "relay to connect to (repeatable)")
	root.PersistentFlags().String("key", "", "hex secret key used for signing")
	root.PersistentFlags().String("config", "", "config file (default $HOME/.aedile.yaml)")
	root.PersistentFlags().Bool("verbose", false, "log what the library is doing")

	viper.BindPFlag("relays", root.PersistentFlags().Lookup("relay"))
	viper.BindPFlag("key", root.PersistentFlags().Lookup("key"))

	cobra.OnInitialize(func() {
		if cfg, _ := root.PersistentFlags().GetString("config"); cfg != "" {
			viper.SetConfigFile(cfg)
		} else {
			home, err := os.UserHomeDir()
			if err == nil {
				viper.AddConfigPath(home)
				viper.SetConfigName(".aedile")
				viper.SetConfigType("yaml")
			}
		}
		viper.SetEnvPrefix("AEDILE")
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()
	})

	root.AddCommand(publishCmd(), queryCmd(), pingCmd())
	return root
}

func buildService(cmd *cobra.Command, withSigner bool) (*service.Service, []string, error) {
	relays := viper.GetStringSlice("relays")
	if len(relays) == 0 {
		return nil, nil, fmt.Errorf("no relays configured; pass --relay or set relays in the config file")
	}

	opts := []service.Option{
		service.WithDefaultRelays(relays),
		service.WithQueryTimeout(15 * time.Second),
		service.WithPublishTimeout(10 * time.Second),
	}

	var logger *zap.Logger
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		logger, _ = zap.NewDevelopment()
		opts = append(opts, service.WithLogger(logger))
	}

	if withSigner {
		key := viper.GetString("key")
		if key == "" {
			return nil, nil, fmt.Errorf("no signing key configured; pass --key or set key in the config file")
		}
		local, err := signer.NewLocalSigner(key)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, service.WithSigner(local))
	}

	tpOpts := []transport.ClientOption{}
	if logger != nil {
		tpOpts = append(tpOpts, transport.WithLogger(logger))
	}

	svc := service.New(transport.NewClient(tpOpts...), opts...)
	if err := svc.Start(); err != nil {
		return nil, nil, err
	}
	return svc, relays, nil
}

func publishCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish <content>",
		Short: "sign a text note and publish it to the configured relays",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, relays, err := buildService(cmd, true)
			if err != nil {
				return err
			}
			defer svc.Stop()

			ctx := cmd.Context()
			if active := svc.OpenRelayConnections(ctx); len(active) == 0 {
				return fmt.Errorf("could not connect to any of %v", relays)
			}

			evt := &nostr.Event{Kind: nostr.KindTextNote, Content: args[0]}
			ok, failed, err := svc.PublishEvent(ctx, evt)
			if err != nil {
				return err
			}

			fmt.Printf("event %s\n", evt.ID)
			for _, uri := range ok {
				fmt.Printf("  accepted by %s\n", uri)
			}
			for _, uri := range failed {
				fmt.Printf("  failed on %s\n", uri)
			}
			return nil
		},
	}
	return cmd
}

func queryCmd() *cobra.Command {
	var (
		authors []string
		kinds   []int
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "query",
		Short: "run a one-shot query against the configured relays",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, relays, err := buildService(cmd, false)
			if err != nil {
				return err
			}
			defer svc.Stop()

			ctx := cmd.Context()
			if active := svc.OpenRelayConnections(ctx); len(active) == 0 {
				return fmt.Errorf("could not connect to any of %v", relays)
			}

			filter := nostr.Filter{Authors: authors, Kinds: kinds, Limit: limit}
			events, err := svc.QuerySync(ctx, filter)
			if err != nil {
				return err
			}

			for _, evt := range events {
				fmt.Println(evt.String())
			}
			fmt.Fprintf(os.Stderr, "%d events\n", len(events))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&authors, "author", nil, "author pubkey to filter on (repeatable)")
	cmd.Flags().IntSliceVar(&kinds, "kind", []int{nostr.KindTextNote}, "event kind to filter on (repeatable)")
	cmd.Flags().IntVar(&limit, "limit", 16, "maximum events per relay")
	return cmd
}

func pingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ping <bunker-token>",
		Short: "check that a NIP-46 remote signer is reachable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := buildService(cmd, false)
			if err != nil {
				return err
			}
			defer svc.Stop()

			remote, err := signer.NewRemoteSigner(svc, signer.WithRPCTimeout(15*time.Second))
			if err != nil {
				return err
			}
			defer remote.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			if err := remote.ReceiveConnection(ctx, args[0]); err != nil {
				return err
			}
			if !remote.Ping(ctx) {
				return fmt.Errorf("remote signer did not answer")
			}
			fmt.Println("pong")
			return nil
		},
	}
	return cmd
}
