package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"grimm.is/boxwatch/internal/config"
	"grimm.is/boxwatch/internal/msp"
)

// RunCheck validates the configuration file. With verbose set it also
// probes the portal with the configured credentials and lists the boxes
// the token can see.
func RunCheck(configFile string, verbose bool) error {
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	fmt.Println("Configuration valid!")

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Portal:\t%s\n", cfg.MSP.Domain)
	fmt.Fprintf(w, "Box GID:\t%s\n", cfg.MSP.BoxGID)
	fmt.Fprintf(w, "Poll interval:\t%s\n", cfg.Poll.PollInterval())
	fmt.Fprintf(w, "API listen:\t%s\n", cfg.API.ListenAddr())
	fmt.Fprintf(w, "Include filters:\t%d\n", len(cfg.Filters.IncludeFilters()))
	fmt.Fprintf(w, "Exclude filters:\t%d\n", len(cfg.Filters.ExcludeFilters()))
	fmt.Fprintf(w, "Journal:\t%s (%d days)\n", cfg.History.JournalPath(), cfg.History.Retention())
	w.Flush()

	if !verbose {
		return nil
	}

	fmt.Println("\nProbing portal...")

	client, err := msp.New(cfg.MSP.Domain, cfg.MSP.AccessToken, msp.WithBoxGID(cfg.MSP.BoxGID))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	boxes, err := client.GetBoxes(ctx)
	if err != nil {
		if msp.IsAuth(err) {
			return fmt.Errorf("portal rejected access token: %w", err)
		}
		return fmt.Errorf("portal probe failed: %w", err)
	}

	fmt.Printf("Token accepted, %d box(es) visible:\n", len(boxes))
	found := false
	for _, box := range boxes {
		marker := " "
		if box.GID == cfg.MSP.BoxGID {
			marker = "*"
			found = true
		}
		fmt.Printf("  %s %s  %s (%s)\n", marker, box.GID, box.Name, box.Model)
	}
	if !found {
		fmt.Printf("\nWarning: configured box_gid %s not among visible boxes\n", cfg.MSP.BoxGID)
	}
	return nil
}
