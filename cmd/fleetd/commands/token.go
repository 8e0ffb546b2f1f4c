package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/skylinesignage/fleetd/internal/config"
	"github.com/skylinesignage/fleetd/internal/errors"
	"github.com/skylinesignage/fleetd/internal/model"
	"github.com/skylinesignage/fleetd/internal/repository/sqlite"
	"github.com/skylinesignage/fleetd/internal/token"
)

// TokenCmd administers registration tokens.
var TokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage client registration tokens",
}

var (
	tokenMaxUses   int
	tokenTTL       time.Duration
	tokenGroup     string
	tokenLocation  string
	tokenMac       string
)

var tokenCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Generate a new registration token",
	Long:  "Generate a new registration token and print the raw value once. Only its fingerprint is ever persisted.",
	RunE:  runTokenCreate,
}

var tokenListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known registration tokens by fingerprint",
	RunE:  runTokenList,
}

var tokenRevokeCmd = &cobra.Command{
	Use:   "revoke <fingerprint>",
	Short: "Revoke a registration token by fingerprint",
	Args:  cobra.ExactArgs(1),
	RunE:  runTokenRevoke,
}

func init() {
	tokenCreateCmd.Flags().IntVar(&tokenMaxUses, "max-uses", 1, "number of registrations this token may authorize")
	tokenCreateCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "how long the token remains valid")
	tokenCreateCmd.Flags().StringVar(&tokenGroup, "group", "", "restrict this token to a client group")
	tokenCreateCmd.Flags().StringVar(&tokenLocation, "location", "", "restrict this token to a client location")
	tokenCreateCmd.Flags().StringVar(&tokenMac, "mac", "", "restrict this token to a single MAC address")

	TokenCmd.AddCommand(tokenCreateCmd, tokenListCmd, tokenRevokeCmd)
}

func openRepo(cmd *cobra.Command) (*sqlite.Repository, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, errors.Wrap(err, "loading configuration")
	}
	return sqlite.New(cfg.ConnectionString)
}

func runTokenCreate(cmd *cobra.Command, args []string) error {
	repo, err := openRepo(cmd)
	if err != nil {
		return err
	}
	defer repo.Close()

	raw, fingerprint, err := token.Generate()
	if err != nil {
		return errors.Wrap(err, "generating token")
	}

	t := &model.RegistrationToken{
		Fingerprint:       fingerprint,
		ExpiresAt:         time.Now().Add(tokenTTL),
		MaxUses:           tokenMaxUses,
		RestrictedToGroup:    tokenGroup,
		RestrictedToLocation: tokenLocation,
		RestrictedToMac:      tokenMac,
		IsActive:             true,
	}

	ctx := context.Background()
	if err := repo.Tokens().Create(ctx, t); err != nil {
		return errors.Wrap(err, "persisting token")
	}

	fmt.Printf("token:       %s\n", raw)
	fmt.Printf("fingerprint: %s\n", fingerprint)
	fmt.Printf("expires:     %s\n", t.ExpiresAt.Format(time.RFC3339))
	fmt.Printf("max uses:    %d\n", t.MaxUses)
	fmt.Println("\nRecord the token value now; it is not recoverable from storage.")
	return nil
}

func runTokenList(cmd *cobra.Command, args []string) error {
	repo, err := openRepo(cmd)
	if err != nil {
		return err
	}
	defer repo.Close()

	tokens, err := repo.Tokens().List(context.Background())
	if err != nil {
		return errors.Wrap(err, "listing tokens")
	}
	if len(tokens) == 0 {
		fmt.Println("no registration tokens")
		return nil
	}
	for _, t := range tokens {
		fmt.Printf("%s  uses=%d/%d  expires=%s  active=%t\n",
			t.Fingerprint, t.UsedCount, t.MaxUses, t.ExpiresAt.Format(time.RFC3339), t.IsActive)
	}
	return nil
}

func runTokenRevoke(cmd *cobra.Command, args []string) error {
	repo, err := openRepo(cmd)
	if err != nil {
		return err
	}
	defer repo.Close()

	if err := repo.Tokens().Delete(context.Background(), args[0]); err != nil {
		return errors.Wrap(err, "revoking token")
	}
	fmt.Printf("revoked %s\n", args[0])
	return nil
}
