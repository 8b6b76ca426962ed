// Command tenantctl reads and edits tenant configuration documents in
// the shared Redis store, per spec.md §6's dot-path CLI contract.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/wavebridge/voicebridge/internal/tenantcfg"
	"github.com/wavebridge/voicebridge/internal/tenantcfg/cli"
)

var (
	redisAddr     string
	redisPassword string
	redisDB       int
	tenantCfgPrefix string
	dryRun        bool
)

func main() {
	root := &cobra.Command{
		Use:   "tenantctl",
		Short: "Inspect and edit tenant configuration documents",
	}
	root.PersistentFlags().StringVar(&redisAddr, "redis-addr", "localhost:6379", "shared store address")
	root.PersistentFlags().StringVar(&redisPassword, "redis-password", "", "shared store password")
	root.PersistentFlags().IntVar(&redisDB, "redis-db", 0, "shared store database index")
	root.PersistentFlags().StringVar(&tenantCfgPrefix, "tenantcfg-prefix", "tenantcfg", "key prefix for tenant documents")

	root.AddCommand(getCmd(), setCmd(), unsetCmd(), mergeCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func storeAndCtx() (*tenantcfg.Store, context.Context) {
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr, Password: redisPassword, DB: redisDB})
	return tenantcfg.NewStore(rdb, tenantCfgPrefix), context.Background()
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <tenantId> [path]",
		Short: "Read a tenant config document, or a single dot-path within it",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, ctx := storeAndCtx()
			raw, err := store.GetRaw(ctx, args[0])
			if err != nil {
				return fmt.Errorf("get %s: %w", args[0], err)
			}
			if len(args) == 1 {
				fmt.Println(cli.Pretty(raw))
				return nil
			}
			out, err := cli.Get(raw, args[1])
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}
}

func setCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <tenantId> <path> <value>",
		Short: "Set a single dot-path to a type-inferred value",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return editAndWrite(args[0], func(raw []byte) ([]byte, error) {
				return cli.Set(raw, args[1], args[2])
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the resulting document without writing it")
	return cmd
}

func unsetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unset <tenantId> <path>",
		Short: "Remove the value at a dot-path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return editAndWrite(args[0], func(raw []byte) ([]byte, error) {
				return cli.Unset(raw, args[1])
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the resulting document without writing it")
	return cmd
}

func mergeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merge <tenantId> <patchFile>",
		Short: "Deep-merge a JSON patch file into a tenant config document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("read patch file: %w", err)
			}
			return editAndWrite(args[0], func(raw []byte) ([]byte, error) {
				return cli.Merge(raw, patch)
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the resulting document without writing it")
	return cmd
}

// editAndWrite reads tenantId's raw document, applies edit, validates
// the result against the schema, and either prints it (dry-run) or
// writes it back.
func editAndWrite(tenantId string, edit func(raw []byte) ([]byte, error)) error {
	store, ctx := storeAndCtx()

	raw, err := store.GetRaw(ctx, tenantId)
	if err != nil {
		raw = []byte(fmt.Sprintf(`{"contractVersion":"v1","tenantId":%q}`, tenantId))
	}

	out, err := edit(raw)
	if err != nil {
		return err
	}

	if err := store.Validate(out); err != nil {
		return fmt.Errorf("resulting document is invalid: %w", err)
	}

	if dryRun {
		fmt.Println(cli.Pretty(out))
		return nil
	}

	if err := store.PutRaw(ctx, tenantId, out); err != nil {
		return fmt.Errorf("write tenant config: %w", err)
	}
	fmt.Printf("tenant %s updated\n", tenantId)
	return nil
}
