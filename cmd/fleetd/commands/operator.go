package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/skylinesignage/fleetd/internal/errors"
	"github.com/skylinesignage/fleetd/internal/model"
	"github.com/skylinesignage/fleetd/internal/token"
)

// OperatorCmd administers operator app registrations.
var OperatorCmd = &cobra.Command{
	Use:   "operator",
	Short: "Manage operator app registrations",
}

var (
	operatorDeviceID   string
	operatorPermission []string
)

var operatorRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Pre-register an operator app and print its pairing token",
	Long:  "Create a Pending OperatorRegistration and print the raw pairing token once. Approve it with 'operator approve' before it can authenticate.",
	RunE:  runOperatorRegister,
}

var operatorListCmd = &cobra.Command{
	Use:   "list",
	Short: "List operator app registrations",
	RunE:  runOperatorList,
}

var operatorApproveCmd = &cobra.Command{
	Use:   "approve <operator-id>",
	Short: "Approve a pending operator app",
	Args:  cobra.ExactArgs(1),
	RunE:  runOperatorSetStatus(model.OperatorApproved),
}

var operatorDenyCmd = &cobra.Command{
	Use:   "deny <operator-id>",
	Short: "Deny a pending operator app",
	Args:  cobra.ExactArgs(1),
	RunE:  runOperatorSetStatus(model.OperatorDenied),
}

var operatorRevokeCmd = &cobra.Command{
	Use:   "revoke <operator-id>",
	Short: "Revoke a previously approved operator app",
	Args:  cobra.ExactArgs(1),
	RunE:  runOperatorSetStatus(model.OperatorRevoked),
}

func init() {
	operatorRegisterCmd.Flags().StringVar(&operatorDeviceID, "device", "", "human-readable identifier for the operator app")
	operatorRegisterCmd.Flags().StringSliceVar(&operatorPermission, "permission", []string{"View"}, "permissions to grant: View, Control, Manage")

	OperatorCmd.AddCommand(operatorRegisterCmd, operatorListCmd, operatorApproveCmd, operatorDenyCmd, operatorRevokeCmd)
}

func runOperatorRegister(cmd *cobra.Command, args []string) error {
	repo, err := openRepo(cmd)
	if err != nil {
		return err
	}
	defer repo.Close()

	raw, fingerprint, err := token.Generate()
	if err != nil {
		return errors.Wrap(err, "generating pairing token")
	}

	perms := make(map[model.Permission]bool, len(operatorPermission))
	for _, p := range operatorPermission {
		perms[model.Permission(p)] = true
	}

	reg := &model.OperatorRegistration{
		ID:               uuid.NewString(),
		DeviceIdentifier: operatorDeviceID,
		Status:           model.OperatorPending,
		TokenFingerprint: fingerprint,
		Permissions:      perms,
		RegisteredAt:     time.Now(),
	}
	if err := repo.Operators().Create(context.Background(), reg); err != nil {
		return errors.Wrap(err, "persisting operator registration")
	}

	fmt.Printf("operator id: %s\n", reg.ID)
	fmt.Printf("token:       %s\n", raw)
	fmt.Println("\nStatus is Pending; run 'fleetd operator approve' before this app can authenticate.")
	return nil
}

func runOperatorList(cmd *cobra.Command, args []string) error {
	repo, err := openRepo(cmd)
	if err != nil {
		return err
	}
	defer repo.Close()

	regs, err := repo.Operators().List(context.Background())
	if err != nil {
		return errors.Wrap(err, "listing operator registrations")
	}
	if len(regs) == 0 {
		fmt.Println("no operator registrations")
		return nil
	}
	for _, r := range regs {
		fmt.Printf("%s  device=%q  status=%s  registered=%s\n",
			r.ID, r.DeviceIdentifier, r.Status, r.RegisteredAt.Format(time.RFC3339))
	}
	return nil
}

func runOperatorSetStatus(status model.OperatorStatus) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		repo, err := openRepo(cmd)
		if err != nil {
			return err
		}
		defer repo.Close()

		var approvedAt *time.Time
		if status == model.OperatorApproved {
			now := time.Now()
			approvedAt = &now
		}
		if err := repo.Operators().UpdateStatus(context.Background(), args[0], status, approvedAt); err != nil {
			return errors.Wrap(err, "updating operator status")
		}
		fmt.Printf("%s -> %s\n", args[0], status)
		return nil
	}
}
