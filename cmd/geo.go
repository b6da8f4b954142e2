package main

import (
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-engine/internal/geoindex"
)

var geoCmd = &cobra.Command{
	Use:   "geo",
	Short: "Manage the postal demographics index",
}

var geoLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Download Census ZCTA shapes and load the demographics index",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("geo"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		httpClient := &http.Client{Timeout: 10 * time.Minute}
		n, err := geoindex.ImportZCTA(ctx, st, httpClient, cfg.Geo.TempDir, cfg.Geo.GazetteerPath)
		if err != nil {
			return err
		}
		fmt.Printf("Loaded %d postal codes\n", n)
		return nil
	},
}

func init() {
	geoCmd.AddCommand(geoLoadCmd)
	rootCmd.AddCommand(geoCmd)
}
