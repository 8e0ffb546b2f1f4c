package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/skylinesignage/fleetd/internal/discovery"
	"github.com/skylinesignage/fleetd/internal/errors"
)

// DiscoverCmd runs a one-shot LAN scan for operator debugging.
var DiscoverCmd = &cobra.Command{
	Use:   "discover <cidr>",
	Short: "Scan a subnet for reachable hosts",
	Long:  "Probe every address in a CIDR range and print reachable hosts. Intended for operator debugging, not for ongoing monitoring; 'serve' does not run scans.",
	Args:  cobra.ExactArgs(1),
	RunE:  runDiscover,
}

var discoverDeep bool
var discoverTimeout time.Duration

func init() {
	DiscoverCmd.Flags().BoolVar(&discoverDeep, "deep", false, "also attempt TCP connects to common management ports")
	DiscoverCmd.Flags().DurationVar(&discoverTimeout, "timeout", 10*time.Second, "overall scan timeout")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), discoverTimeout)
	defer cancel()

	scanner := discovery.NewScanner()
	if err := scanner.ScanSubnet(ctx, args[0], discoverDeep); err != nil {
		return errors.Wrap(err, "scanning subnet")
	}

	hosts := scanner.Hosts()
	if len(hosts) == 0 {
		fmt.Println("no reachable hosts found")
		return nil
	}
	for _, h := range hosts {
		fmt.Printf("%s  method=%s  candidate=%t\n", h.IPAddress, h.DiscoveryMethod, h.IsLikelyCandidate)
	}
	return nil
}
