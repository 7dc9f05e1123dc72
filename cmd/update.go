package cmd

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/marcus/navsync/internal/db"
	"github.com/marcus/navsync/internal/models"
	"github.com/marcus/navsync/internal/output"
)

var updateCmd = &cobra.Command{
	Use:   "update <identity>",
	Short: "Change attributes of an entity",
	Long: `Updates only the attributes whose flags are given. Flags that do not apply
to the entity's kind are rejected.`,
	Example: `  navsync update Area.6f1c... --name "Reception"
  navsync update Cell.91aa... --kind wall --area ""`,
	GroupID: "core",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id := models.Identity(args[0])
		if err := id.Validate(); err != nil {
			return err
		}

		database, err := db.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		e, err := database.Get(ctx, id)
		if err != nil {
			return err
		}
		if e == nil {
			err := fmt.Errorf("%w: %s", db.ErrNotFound, id)
			output.Error("%v", err)
			return err
		}
		if e.IsPlaceholder() {
			return fmt.Errorf("%s is a placeholder; sync before editing it", id)
		}

		changed, err := applyUpdateFlags(cmd.Flags(), e)
		if err != nil {
			return err
		}
		if !changed {
			output.Warning("nothing to update")
			return nil
		}
		if err := database.Save(ctx, e); err != nil {
			output.Error("update %s: %v", id, err)
			return err
		}
		fmt.Printf("UPDATED %s\n", id)
		return nil
	},
}

// attributeFlags are the update flags that map onto entity attributes.
var attributeFlags = []string{"level", "image", "name", "zone", "area", "row", "col", "kind", "cell", "mac", "signal"}

// applyUpdateFlags copies the flags the user set onto e. It reports whether
// anything changed.
func applyUpdateFlags(fs *pflag.FlagSet, e models.Entity) (bool, error) {
	allowed := map[models.Kind][]string{
		models.KindZone:   {"level", "image"},
		models.KindArea:   {"name", "zone"},
		models.KindCell:   {"zone", "area", "row", "col", "kind"},
		models.KindBeacon: {"cell", "mac", "signal"},
	}[e.Kind()]

	var changed, bad []string
	fs.Visit(func(f *pflag.Flag) {
		switch {
		case !slices.Contains(attributeFlags, f.Name):
		case slices.Contains(allowed, f.Name):
			changed = append(changed, f.Name)
		default:
			bad = append(bad, "--"+f.Name)
		}
	})
	if len(bad) > 0 {
		return false, fmt.Errorf("%s does not apply to a %s", strings.Join(bad, ", "), e.Kind())
	}

	str := func(name string) string { v, _ := fs.GetString(name); return v }
	num := func(name string) int { v, _ := fs.GetInt(name); return v }

	for _, name := range changed {
		switch v := e.(type) {
		case *models.Zone:
			switch name {
			case "level":
				v.Level = num(name)
			case "image":
				img, err := readImage(str(name))
				if err != nil {
					return false, err
				}
				v.Image = img
			}
		case *models.Area:
			switch name {
			case "name":
				if strings.TrimSpace(str(name)) == "" {
					return false, fmt.Errorf("name must not be empty")
				}
				v.Name = strings.TrimSpace(str(name))
			case "zone":
				v.ZoneID = models.Identity(str(name))
			}
		case *models.Cell:
			switch name {
			case "zone":
				v.ZoneID = models.Identity(str(name))
			case "area":
				v.AreaID = models.Identity(str(name))
			case "row":
				v.Row = num(name)
			case "col":
				v.Col = num(name)
			case "kind":
				k, err := models.ParseCellKind(str(name))
				if err != nil {
					return false, err
				}
				v.Type = k
			}
			if v.Row < 0 || v.Col < 0 {
				return false, fmt.Errorf("row and col must not be negative")
			}
		case *models.Beacon:
			switch name {
			case "cell":
				v.CellID = models.Identity(str(name))
			case "mac":
				if strings.TrimSpace(str(name)) == "" {
					return false, fmt.Errorf("mac must not be empty")
				}
				v.MACAddress = strings.ToLower(strings.TrimSpace(str(name)))
			case "signal":
				v.SignalStrength = num(name)
			}
		}
	}
	return len(changed) > 0, nil
}

func init() {
	rootCmd.AddCommand(updateCmd)

	f := updateCmd.Flags()
	f.Int("level", 0, "zone floor level")
	f.String("image", "", "zone floor plan image file")
	f.String("name", "", "area name")
	f.String("zone", "", "owning zone (area, cell)")
	f.String("area", "", "cell area; empty detaches the cell")
	f.Int("row", 0, "cell row")
	f.Int("col", 0, "cell column")
	f.String("kind", "", "cell kind")
	f.String("cell", "", "beacon cell")
	f.String("mac", "", "beacon MAC address")
	f.Int("signal", 0, "beacon signal strength in dBm")
}
