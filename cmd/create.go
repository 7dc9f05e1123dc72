package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marcus/navsync/internal/db"
	"github.com/marcus/navsync/internal/models"
	"github.com/marcus/navsync/internal/output"
)

var createCmd = &cobra.Command{
	Use:     "create",
	Aliases: []string{"add", "new"},
	Short:   "Create a zone, area, cell or beacon",
	GroupID: "core",
}

// newIdentity uses the --id flag when given, otherwise a fresh identity.
func newIdentity(cmd *cobra.Command, k models.Kind) (models.Identity, error) {
	raw, _ := cmd.Flags().GetString("id")
	if raw == "" {
		return models.NewIdentity(k), nil
	}
	id := models.Identity(raw)
	if err := id.Validate(); err != nil {
		return "", err
	}
	if id.Kind() != k {
		return "", fmt.Errorf("identity %s is not a %s", id, k)
	}
	return id, nil
}

// saveNew stores a freshly built entity as a user edit and reports it.
func saveNew(ctx context.Context, e models.Entity) error {
	database, err := db.Open(getBaseDir())
	if err != nil {
		output.Error("%v", err)
		return err
	}
	defer database.Close()

	if existing, err := database.Get(ctx, e.Identity()); err != nil {
		return err
	} else if existing != nil && !existing.IsPlaceholder() {
		err := fmt.Errorf("%s already exists", e.Identity())
		output.Error("%v", err)
		return err
	}
	if err := database.Save(ctx, e); err != nil {
		output.Error("create %s: %v", e.Kind(), err)
		return err
	}
	fmt.Printf("CREATED %s\n", e.Identity())
	return nil
}

func readImage(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return data, nil
}

var createZoneCmd = &cobra.Command{
	Use:   "zone",
	Short: "Create a zone (a floor)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := newIdentity(cmd, models.KindZone)
		if err != nil {
			return err
		}
		level, _ := cmd.Flags().GetInt("level")
		imagePath, _ := cmd.Flags().GetString("image")
		image, err := readImage(imagePath)
		if err != nil {
			return err
		}
		return saveNew(cmd.Context(), &models.Zone{Base: models.Base{ID: id}, Level: level, Image: image})
	},
}

var createAreaCmd = &cobra.Command{
	Use:   "area",
	Short: "Create an area (a room) in a zone",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := newIdentity(cmd, models.KindArea)
		if err != nil {
			return err
		}
		zone, _ := cmd.Flags().GetString("zone")
		name, _ := cmd.Flags().GetString("name")
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("--name is required")
		}
		return saveNew(cmd.Context(), &models.Area{
			Base:   models.Base{ID: id},
			ZoneID: models.Identity(zone),
			Name:   strings.TrimSpace(name),
		})
	},
}

var createCellCmd = &cobra.Command{
	Use:   "cell",
	Short: "Create a grid cell in a zone",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := newIdentity(cmd, models.KindCell)
		if err != nil {
			return err
		}
		zone, _ := cmd.Flags().GetString("zone")
		area, _ := cmd.Flags().GetString("area")
		row, _ := cmd.Flags().GetInt("row")
		col, _ := cmd.Flags().GetInt("col")
		kindStr, _ := cmd.Flags().GetString("kind")
		kind, err := models.ParseCellKind(kindStr)
		if err != nil {
			return err
		}
		if row < 0 || col < 0 {
			return fmt.Errorf("row and col must not be negative")
		}
		return saveNew(cmd.Context(), &models.Cell{
			Base:   models.Base{ID: id},
			ZoneID: models.Identity(zone),
			AreaID: models.Identity(area),
			Row:    row,
			Col:    col,
			Type:   kind,
		})
	},
}

var createBeaconCmd = &cobra.Command{
	Use:   "beacon",
	Short: "Record a beacon reading on a cell",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := newIdentity(cmd, models.KindBeacon)
		if err != nil {
			return err
		}
		cell, _ := cmd.Flags().GetString("cell")
		mac, _ := cmd.Flags().GetString("mac")
		signal, _ := cmd.Flags().GetInt("signal")
		if strings.TrimSpace(mac) == "" {
			return fmt.Errorf("--mac is required")
		}
		return saveNew(cmd.Context(), &models.Beacon{
			Base:           models.Base{ID: id},
			CellID:         models.Identity(cell),
			MACAddress:     strings.ToLower(strings.TrimSpace(mac)),
			SignalStrength: signal,
		})
	},
}

func init() {
	rootCmd.AddCommand(createCmd)
	createCmd.AddCommand(createZoneCmd, createAreaCmd, createCellCmd, createBeaconCmd)

	for _, c := range createCmd.Commands() {
		c.Flags().String("id", "", "use this identity instead of generating one")
	}

	createZoneCmd.Flags().Int("level", 0, "floor level")
	createZoneCmd.Flags().String("image", "", "floor plan image file")

	createAreaCmd.Flags().String("zone", "", "owning zone identity")
	createAreaCmd.Flags().String("name", "", "area name")
	createAreaCmd.MarkFlagRequired("zone")

	createCellCmd.Flags().String("zone", "", "owning zone identity")
	createCellCmd.Flags().String("area", "", "area identity (optional)")
	createCellCmd.Flags().Int("row", 0, "grid row")
	createCellCmd.Flags().Int("col", 0, "grid column")
	createCellCmd.Flags().String("kind", "space", "cell kind (sample, space, wall, door, navigation)")
	createCellCmd.MarkFlagRequired("zone")

	createBeaconCmd.Flags().String("cell", "", "cell the reading was taken on")
	createBeaconCmd.Flags().String("mac", "", "access point MAC address")
	createBeaconCmd.Flags().Int("signal", 0, "signal strength in dBm")
	createBeaconCmd.MarkFlagRequired("cell")
}
