package engine

import (
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/bitset"
	cfgpkg "github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/config"
	pebblestore "github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/storage/pebble"
)

// ListSegments reports persisted segment occupancy per owner. A non-empty
// owner restricts the listing to that owner name.
func ListSegments(db *pebblestore.DB, segmentSize int, owner string) ([]bitset.OwnerStats, error) {
	stats, err := bitset.NewPebbleFactory(db, uint64(segmentSize)).Owners()
	if err != nil {
		return nil, err
	}
	if owner != "" {
		id := bitset.OwnerID(owner)
		stats = slices.DeleteFunc(stats, func(s bitset.OwnerStats) bool { return s.Owner != id })
	}
	slices.SortFunc(stats, func(a, b bitset.OwnerStats) int { return b.Bits - a.Bits })
	return stats, nil
}

func printSegments(w io.Writer, stats []bitset.OwnerStats) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OWNER\tSEGMENTS\tIDS")
	for _, s := range stats {
		fmt.Fprintf(tw, "%016x\t%d\t%d\n", s.Owner, s.Segments, s.Bits)
	}
	return tw.Flush()
}

// NewSegmentsCommand constructs the `segments` command.
func NewSegmentsCommand() *cobra.Command {
	segCmd := &cobra.Command{
		Use:   "segments",
		Short: "List persisted segment owners and their occupancy",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			dataDir, _ := cmd.Flags().GetString("data-dir")
			owner, _ := cmd.Flags().GetString("owner")
			if dataDir == "" {
				dataDir = cfg.Store.DataDir
			}
			if dataDir == "" {
				dataDir = cfgpkg.DefaultDataDir()
			}
			db, err := pebblestore.Open(pebblestore.Options{DataDir: filepath.Join(dataDir, "store")})
			if err != nil {
				return err
			}
			defer db.Close()
			stats, err := ListSegments(db, cfg.Delivery.SegmentSize, owner)
			if err != nil {
				return err
			}
			if len(stats) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no persisted segments")
				return nil
			}
			return printSegments(cmd.OutOrStdout(), stats)
		},
	}
	segCmd.Flags().String("config", "", "Config file (.json, .yaml or .yml)")
	segCmd.Flags().String("data-dir", "", "Data directory the node runs with")
	segCmd.Flags().String("owner", "", "Only show this owner, as stored, e.g. \"sub_<id>#r4\"")
	return segCmd
}
